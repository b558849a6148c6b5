package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"bidline/internal/config"
	"bidline/internal/db"
	"bidline/internal/domain"
	"bidline/internal/engine"
	"bidline/internal/ledger"
	"bidline/internal/migrate"
	"bidline/internal/repo"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func (s *testServer) mint(t *testing.T, account string, amount uint64) {
	t.Helper()
	if err := s.Engine.Ledger.(ledger.Minter).Mint(context.Background(), account, amount); err != nil {
		t.Fatalf("mint: %v", err)
	}
}

func newTestServer(t *testing.T, opts ...func(*Config)) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(context.Background(), conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, ledger.NewSQL(conn), config.Default(), nil)
	cfg := Config{
		Engine:   e,
		BasePath: "/v0",
		Auth: AuthConfig{
			JWTSecret:              testSecret,
			AllowLegacyActorHeader: true,
		},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	handler, err := New(cfg)
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func as(actor string) map[string]string {
	return map[string]string{"X-Actor-Id": actor}
}

func expectStatus(t *testing.T, res *http.Response, data []byte, want int) {
	t.Helper()
	if res.StatusCode != want {
		t.Fatalf("status %d, want %d: %s", res.StatusCode, want, string(data))
	}
}

func decodeError(t *testing.T, data []byte) apiErrorBody {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	return env.Error
}

func postProject(t *testing.T, srv *testServer, owner, url string, price uint64) ProjectResponse {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/projects", map[string]any{
		"url":   url,
		"price": price,
	}, as(owner))
	expectStatus(t, res, data, http.StatusCreated)
	var p ProjectResponse
	if err := json.Unmarshal(data, &p); err != nil {
		t.Fatalf("unmarshal project: %v", err)
	}
	return p
}

func placeOffer(t *testing.T, srv *testServer, projectID, offerer string, price uint64) {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/projects/"+projectID+"/offers", map[string]any{
		"url":   "http://example.com/" + offerer + ".pdf",
		"price": price,
	}, as(offerer))
	expectStatus(t, res, data, http.StatusCreated)
}

func TestAcceptFlowOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	srv.mint(t, "alice", 1000)

	p := postProject(t, srv, "alice", "http://example.com/project.pdf", 100)
	if p.State != domain.StateOpen || p.Owner != "alice" {
		t.Fatalf("unexpected project %+v", p)
	}
	placeOffer(t, srv, p.ID, "bob", 90)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/ledger/approve", map[string]any{"amount": 90}, as("alice"))
	expectStatus(t, res, data, http.StatusOK)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/"+p.ID+"/assign", map[string]any{"offerer": "bob"}, as("alice"))
	expectStatus(t, res, data, http.StatusOK)
	var assigned ProjectResponse
	if err := json.Unmarshal(data, &assigned); err != nil {
		t.Fatal(err)
	}
	if assigned.State != domain.StateAssigned || assigned.Assignee == nil || *assigned.Assignee != "bob" {
		t.Fatalf("unexpected assigned project %+v", assigned)
	}
	if assigned.EscrowedAmount == nil || *assigned.EscrowedAmount != 90 {
		t.Fatalf("escrowed amount = %v", assigned.EscrowedAmount)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/"+p.ID+"/solution", map[string]any{"url": "http://example.com/solution.rar"}, as("bob"))
	expectStatus(t, res, data, http.StatusOK)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/"+p.ID+"/accept", nil, as("alice"))
	expectStatus(t, res, data, http.StatusOK)
	var done ProjectResponse
	if err := json.Unmarshal(data, &done); err != nil {
		t.Fatal(err)
	}
	if done.State != domain.StateCompleted || done.Assignee != nil {
		t.Fatalf("unexpected completed project %+v", done)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/ledger/accounts/bob", nil, as("bob"))
	expectStatus(t, res, data, http.StatusOK)
	var acct AccountResponse
	if err := json.Unmarshal(data, &acct); err != nil {
		t.Fatal(err)
	}
	if acct.Balance != 90 {
		t.Fatalf("bob balance = %d, want 90", acct.Balance)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/"+p.ID+"/events", nil, as("alice"))
	expectStatus(t, res, data, http.StatusOK)
	var evts paginatedEvents
	if err := json.Unmarshal(data, &evts); err != nil {
		t.Fatal(err)
	}
	want := []string{
		domain.EventSolutionAccepted,
		domain.EventSolutionSubmitted,
		domain.EventProjectAssigned,
		domain.EventOfferPlaced,
		domain.EventProjectPosted,
	}
	if len(evts.Items) != len(want) {
		t.Fatalf("events = %+v", evts.Items)
	}
	for i, typ := range want {
		if evts.Items[i].Type != typ {
			t.Fatalf("event %d = %s, want %s", i, evts.Items[i].Type, typ)
		}
	}
}

func TestRejectFlowOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	srv.mint(t, "alice", 500)

	p := postProject(t, srv, "alice", "http://example.com/project.pdf", 100)
	placeOffer(t, srv, p.ID, "bob", 120)
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/ledger/approve", map[string]any{"amount": 120}, as("alice"))
	expectStatus(t, res, data, http.StatusOK)
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/"+p.ID+"/assign", map[string]any{"offerer": "bob"}, as("alice"))
	expectStatus(t, res, data, http.StatusOK)
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/"+p.ID+"/solution", map[string]any{"url": "http://example.com/s.rar"}, as("bob"))
	expectStatus(t, res, data, http.StatusOK)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/"+p.ID+"/reject", map[string]any{"remarks": "incomplete"}, as("alice"))
	expectStatus(t, res, data, http.StatusOK)
	var reopened ProjectResponse
	if err := json.Unmarshal(data, &reopened); err != nil {
		t.Fatal(err)
	}
	if reopened.State != domain.StateOpen || reopened.EscrowedAmount != nil {
		t.Fatalf("unexpected reopened project %+v", reopened)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/ledger/accounts/alice", nil, as("alice"))
	expectStatus(t, res, data, http.StatusOK)
	var acct AccountResponse
	if err := json.Unmarshal(data, &acct); err != nil {
		t.Fatal(err)
	}
	if acct.Balance != 500 {
		t.Fatalf("alice balance = %d, want refunded 500", acct.Balance)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/"+p.ID+"/offers", nil, as("alice"))
	expectStatus(t, res, data, http.StatusOK)
	var offers []OfferResponse
	if err := json.Unmarshal(data, &offers); err != nil {
		t.Fatal(err)
	}
	if len(offers) != 1 || offers[0].Offerer != "bob" {
		t.Fatalf("offers = %+v", offers)
	}
}

func TestErrorMapping(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	srv.mint(t, "alice", 1000)
	p := postProject(t, srv, "alice", "http://example.com/project.pdf", 100)
	placeOffer(t, srv, p.ID, "bob", 80)

	cases := []struct {
		name   string
		method string
		path   string
		body   any
		actor  string
		status int
		code   string
	}{
		{"no credentials", http.MethodGet, "/v0/projects", nil, "", http.StatusUnauthorized, "unauthorized"},
		{"unknown project", http.MethodGet, "/v0/projects/missing", nil, "alice", http.StatusNotFound, "not_found"},
		{"duplicate project", http.MethodPost, "/v0/projects", map[string]any{"url": "http://example.com/project.pdf", "price": 5}, "alice", http.StatusConflict, "duplicate_project"},
		{"duplicate offer", http.MethodPost, "/v0/projects/" + p.ID + "/offers", map[string]any{"url": "http://example.com/again.pdf", "price": 70}, "bob", http.StatusConflict, "duplicate_offer"},
		{"assign by non owner", http.MethodPost, "/v0/projects/" + p.ID + "/assign", map[string]any{"offerer": "bob"}, "mallory", http.StatusForbidden, "unauthorized_role"},
		{"assign unknown offer", http.MethodPost, "/v0/projects/" + p.ID + "/assign", map[string]any{"offerer": "carol"}, "alice", http.StatusNotFound, "not_found"},
		{"assign without allowance", http.MethodPost, "/v0/projects/" + p.ID + "/assign", map[string]any{"offerer": "bob"}, "alice", http.StatusUnprocessableEntity, "insufficient_allowance"},
		{"accept open project", http.MethodPost, "/v0/projects/" + p.ID + "/accept", nil, "alice", http.StatusConflict, "invalid_state"},
		{"empty url", http.MethodPost, "/v0/projects", map[string]any{"url": "", "price": 5}, "alice", http.StatusBadRequest, "bad_request"},
		{"unknown event type", http.MethodGet, "/v0/events?type=Bogus", nil, "alice", http.StatusBadRequest, "bad_request"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var headers map[string]string
			if tc.actor != "" {
				headers = as(tc.actor)
			}
			res, data := doJSON(t, client, tc.method, srv.URL+tc.path, tc.body, headers)
			expectStatus(t, res, data, tc.status)
			if got := decodeError(t, data); got.Code != tc.code {
				t.Fatalf("code = %s, want %s (%s)", got.Code, tc.code, string(data))
			}
		})
	}

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/"+p.ID+"/assign", map[string]any{"offerer": "bob"}, as("mallory"))
	expectStatus(t, res, data, http.StatusForbidden)
	if role := decodeError(t, data).Details["role"]; role != "owner" {
		t.Fatalf("role detail = %v", role)
	}
}

func TestJWTAndAPIKeyAuth(t *testing.T) {
	srv, cleanup := newTestServer(t, func(c *Config) {
		c.Auth.AllowLegacyActorHeader = false
		c.Auth.EnableDevLogin = true
	})
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, as("alice"))
	expectStatus(t, res, data, http.StatusUnauthorized)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{"actor_id": "alice"}, nil)
	expectStatus(t, res, data, http.StatusOK)
	var login DevLoginResponse
	if err := json.Unmarshal(data, &login); err != nil {
		t.Fatal(err)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"Authorization": "Bearer " + login.Token})
	expectStatus(t, res, data, http.StatusOK)
	var me WhoAmIResponse
	if err := json.Unmarshal(data, &me); err != nil {
		t.Fatal(err)
	}
	if me.ActorID != "alice" || me.Source != "jwt" {
		t.Fatalf("me = %+v", me)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"Authorization": "Bearer not-a-token"})
	expectStatus(t, res, data, http.StatusUnauthorized)
	if code := decodeError(t, data).Code; code != "invalid_credentials" {
		t.Fatalf("code = %s", code)
	}

	if err := srv.Engine.Repo.InsertAPIKey(context.Background(), domain.APIKey{
		ID:        "key-1",
		ActorID:   "bob",
		Name:      "ci",
		KeyHash:   repo.HashAPIKey("bl_secret"),
		CreatedAt: "2024-01-01T00:00:00Z",
	}); err != nil {
		t.Fatalf("insert api key: %v", err)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"X-Api-Key": "bl_secret"})
	expectStatus(t, res, data, http.StatusOK)
	if err := json.Unmarshal(data, &me); err != nil {
		t.Fatal(err)
	}
	if me.ActorID != "bob" || me.Source != "api_key" {
		t.Fatalf("me = %+v", me)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	expectStatus(t, res, data, http.StatusOK)
}

func TestRateLimitPerActor(t *testing.T) {
	srv, cleanup := newTestServer(t, func(c *Config) {
		c.RateLimit = RateLimitConfig{RequestsPerSecond: 0.001, Burst: 2}
	})
	defer cleanup()
	client := srv.Client()
	for i := 0; i < 2; i++ {
		res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, as("alice"))
		expectStatus(t, res, data, http.StatusOK)
	}
	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, as("alice"))
	expectStatus(t, res, data, http.StatusTooManyRequests)
	if code := decodeError(t, data).Code; code != "rate_limited" {
		t.Fatalf("code = %s", code)
	}
	// separate bucket per actor
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, as("bob"))
	expectStatus(t, res, data, http.StatusOK)
}

func TestRateLimiterEvictsIdleKeys(t *testing.T) {
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := newRateLimiter(1, 1)
	rl.now = func() time.Time { return clock }

	for _, ip := range []string{"ip:10.0.0.1", "ip:10.0.0.2", "ip:10.0.0.3"} {
		rl.limiterFor(ip)
	}
	if len(rl.limiters) != 3 {
		t.Fatalf("limiters = %d, want 3", len(rl.limiters))
	}
	clock = clock.Add(limiterIdleTTL / 2)
	rl.limiterFor("ip:10.0.0.1")
	clock = clock.Add(limiterIdleTTL / 2)
	rl.limiterFor("actor:alice")
	if len(rl.limiters) != 2 {
		t.Fatalf("limiters = %d, want active caller plus new one", len(rl.limiters))
	}
	if _, ok := rl.limiters["ip:10.0.0.1"]; !ok {
		t.Fatalf("recently seen limiter evicted")
	}
}

func TestEventsPagination(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	for _, url := range []string{"http://example.com/a", "http://example.com/b", "http://example.com/c"} {
		postProject(t, srv, "alice", url, 10)
	}

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?limit=2", nil, as("alice"))
	expectStatus(t, res, data, http.StatusOK)
	var page paginatedEvents
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatal(err)
	}
	if len(page.Items) != 2 || page.NextCursor == "" {
		t.Fatalf("first page = %+v", page)
	}
	if page.Items[0].Payload["project_url"] != "http://example.com/c" {
		t.Fatalf("newest event payload = %+v", page.Items[0].Payload)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?limit=2&cursor="+page.NextCursor, nil, as("alice"))
	expectStatus(t, res, data, http.StatusOK)
	var next paginatedEvents
	if err := json.Unmarshal(data, &next); err != nil {
		t.Fatal(err)
	}
	if len(next.Items) != 1 || next.NextCursor != "" {
		t.Fatalf("second page = %+v", next)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects?owner=alice&limit=2", nil, as("alice"))
	expectStatus(t, res, data, http.StatusOK)
	var projects paginatedProjects
	if err := json.Unmarshal(data, &projects); err != nil {
		t.Fatal(err)
	}
	if len(projects.Items) != 2 || projects.NextCursor == "" {
		t.Fatalf("projects page = %+v", projects)
	}
}

func TestWebhookDelivery(t *testing.T) {
	var (
		mu       sync.Mutex
		received []webhookEvent
		headers  []http.Header
	)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var evt webhookEvent
		if err := json.NewDecoder(r.Body).Decode(&evt); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mu.Lock()
		received = append(received, evt)
		headers = append(headers, r.Header.Clone())
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hook.Close()

	srv, cleanup := newTestServer(t)
	defer cleanup()
	srv.Engine.Config.Webhooks = []config.WebhookConfig{{
		URL:    hook.URL,
		Events: []string{domain.EventOfferPlaced},
		Secret: "s3cret",
	}}
	d := NewWebhookDispatcher(srv.Engine, nil)
	if d == nil {
		t.Fatalf("dispatcher not created")
	}
	ctx := context.Background()
	d.DispatchOnce(ctx)

	p := postProject(t, srv, "alice", "http://example.com/project.pdf", 100)
	placeOffer(t, srv, p.ID, "bob", 90)
	d.DispatchOnce(ctx)

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Fatalf("received %d deliveries, want 1", len(received))
	}
	if received[0].Type != domain.EventOfferPlaced || received[0].ProjectID != p.ID {
		t.Fatalf("delivery = %+v", received[0])
	}
	if headers[0].Get("X-Bidline-Event") != domain.EventOfferPlaced || headers[0].Get("X-Bidline-Secret") != "s3cret" {
		t.Fatalf("headers = %v", headers[0])
	}
	var payload map[string]any
	if err := json.Unmarshal(received[0].Payload, &payload); err != nil {
		t.Fatal(err)
	}
	if payload["offerer"] != "bob" {
		t.Fatalf("payload = %+v", payload)
	}
}
