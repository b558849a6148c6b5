package bidlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal bidline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	// ActorID is sent as X-Actor-Id when no credential is set; servers
	// accept it only when legacy actor headers are enabled.
	ActorID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Project is the API project model.
type Project struct {
	ID             string  `json:"id"`
	Owner          string  `json:"owner"`
	DescriptorURL  string  `json:"descriptor_url"`
	Price          uint64  `json:"price"`
	State          string  `json:"state"`
	Assignee       *string `json:"assignee,omitempty"`
	EscrowedAmount *uint64 `json:"escrowed_amount,omitempty"`
	SolutionURL    *string `json:"solution_url,omitempty"`
	CreatedAt      string  `json:"created_at"`
	UpdatedAt      string  `json:"updated_at"`
}

// Offer is a bid on a project.
type Offer struct {
	ProjectID string `json:"project_id"`
	Offerer   string `json:"offerer"`
	OfferURL  string `json:"offer_url"`
	Price     uint64 `json:"price"`
	CreatedAt string `json:"created_at"`
}

// Event represents a log entry.
type Event struct {
	ID        int64          `json:"id"`
	TS        string         `json:"ts"`
	Type      string         `json:"type"`
	ProjectID string         `json:"project_id"`
	ActorID   string         `json:"actor_id"`
	Payload   map[string]any `json:"payload"`
}

// Account is a ledger balance plus the allowance granted to custody.
type Account struct {
	Account          string `json:"account"`
	Balance          uint64 `json:"balance"`
	CustodyAllowance uint64 `json:"custody_allowance"`
}

// APIError wraps non-2xx responses. Code is the envelope's error code when
// the body carried one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// ErrorCode returns the envelope code of an *APIError, or "".
func ErrorCode(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// PostProject posts a project owned by the caller.
func (c *Client) PostProject(ctx context.Context, descriptorURL string, price uint64) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodPost, "v0/projects", map[string]any{"url": descriptorURL, "price": price}, &resp)
	return resp, err
}

// GetProject fetches a project by id.
func (c *Client) GetProject(ctx context.Context, id string) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodGet, c.projectPath(id, ""), nil, &resp)
	return resp, err
}

// PlaceOffer bids on a project as the caller.
func (c *Client) PlaceOffer(ctx context.Context, projectID, offerURL string, price uint64) (Offer, error) {
	var resp Offer
	err := c.do(ctx, http.MethodPost, c.projectPath(projectID, "offers"), map[string]any{"url": offerURL, "price": price}, &resp)
	return resp, err
}

// Offers lists a project's offers in placement order.
func (c *Client) Offers(ctx context.Context, projectID string) ([]Offer, error) {
	var resp []Offer
	err := c.do(ctx, http.MethodGet, c.projectPath(projectID, "offers"), nil, &resp)
	return resp, err
}

// Assign escrows offerer's price and assigns the project.
func (c *Client) Assign(ctx context.Context, projectID, offerer string) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodPost, c.projectPath(projectID, "assign"), map[string]any{"offerer": offerer}, &resp)
	return resp, err
}

// SubmitSolution attaches the assignee's solution.
func (c *Client) SubmitSolution(ctx context.Context, projectID, solutionURL string) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodPost, c.projectPath(projectID, "solution"), map[string]any{"url": solutionURL}, &resp)
	return resp, err
}

// AcceptSolution completes the project and releases escrow.
func (c *Client) AcceptSolution(ctx context.Context, projectID string) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodPost, c.projectPath(projectID, "accept"), nil, &resp)
	return resp, err
}

// RejectSolution refunds escrow and reopens the project.
func (c *Client) RejectSolution(ctx context.Context, projectID, remarks string) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodPost, c.projectPath(projectID, "reject"), map[string]any{"remarks": remarks}, &resp)
	return resp, err
}

// Approve sets the caller's custody allowance.
func (c *Client) Approve(ctx context.Context, amount uint64) (Account, error) {
	var resp Account
	err := c.do(ctx, http.MethodPost, "v0/ledger/approve", map[string]any{"amount": amount}, &resp)
	return resp, err
}

// Account returns an account's balance and custody allowance.
func (c *Client) Account(ctx context.Context, account string) (Account, error) {
	var resp Account
	err := c.do(ctx, http.MethodGet, "v0/ledger/accounts/"+url.PathEscape(account), nil, &resp)
	return resp, err
}

// Events returns recent events across all projects.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, "", limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing, scoped to a project when
// projectID is set.
func (c *Client) EventsPage(ctx context.Context, projectID string, limit int, cursor string) (PaginatedEvents, error) {
	endpoint := "v0/events"
	if projectID != "" {
		endpoint = c.projectPath(projectID, "events")
	}
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) projectPath(id, p string) string {
	endpoint := "v0/projects/" + url.PathEscape(id)
	if p != "" {
		endpoint += "/" + strings.TrimLeft(p, "/")
	}
	return endpoint
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
