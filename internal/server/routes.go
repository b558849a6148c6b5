package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"bidline/internal/engine"
	"bidline/internal/repo"
)

type projectPath struct {
	ProjectID string `path:"project_id"`
}

type projectOutput struct {
	Body ProjectResponse `json:"body"`
}

func registerHealth(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body HealthResponse `json:"body"`
	}, error) {
		counts, err := e.Summary(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body HealthResponse `json:"body"`
		}{Body: HealthResponse{Status: "ok", Custody: e.Custody(), Projects: counts}}, nil
	})
}

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "post-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Post a project as the calling owner",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		Body PostProjectRequest `json:"body"`
	}) (*projectOutput, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.PostProject(ctx, actorID, strings.TrimSpace(input.Body.URL), input.Body.Price)
		if err != nil {
			return nil, handleError(err)
		}
		return &projectOutput{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Owner    string `query:"owner"`
		State    string `query:"state" enum:"open,assigned,solution_submitted,completed"`
		Assignee string `query:"assignee"`
		Limit    int    `query:"limit" default:"50"`
		Cursor   string `query:"cursor"`
	}) (*struct {
		Body paginatedProjects `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		cursorTS, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		items, err := e.ListProjects(ctx, repo.ProjectFilters{
			Owner:           input.Owner,
			State:           input.State,
			Assignee:        input.Assignee,
			Limit:           limit + 1,
			CursorCreatedAt: cursorTS,
			CursorID:        cursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedProjects{Items: []ProjectResponse{}}
		if len(items) > limit {
			last := items[limit-1]
			resp.NextCursor = composeCursor(last.CreatedAt, last.ID)
			items = items[:limit]
		}
		resp.Items = append(resp.Items, mapProjects(items)...)
		return &struct {
			Body paginatedProjects `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*projectOutput, error) {
		p, err := e.Project(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &projectOutput{Body: projectResponse(p)}, nil
	})
}

func registerOffers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-offers",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/offers",
		Summary:     "List offers in placement order",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body []OfferResponse `json:"body"`
	}, error) {
		items, err := e.ListOffers(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []OfferResponse `json:"body"`
		}{Body: mapOffers(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "place-offer",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/offers",
		Summary:       "Place an offer as the calling offerer",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string            `path:"project_id"`
		Body      PlaceOfferRequest `json:"body"`
	}) (*struct {
		Body OfferResponse `json:"body"`
	}, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		o, err := e.PlaceOffer(ctx, input.ProjectID, actorID, strings.TrimSpace(input.Body.URL), input.Body.Price)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body OfferResponse `json:"body"`
		}{Body: offerResponse(o)}, nil
	})
}

var lifecycleErrors = []int{
	http.StatusBadRequest,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusUnprocessableEntity,
}

func registerLifecycle(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "assign-project",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/assign",
		Summary:     "Escrow the selected offer and assign the project (owner only)",
		Errors:      lifecycleErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string        `path:"project_id"`
		Body      AssignRequest `json:"body"`
	}) (*projectOutput, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.AssignProject(ctx, input.ProjectID, actorID, strings.TrimSpace(input.Body.Offerer))
		if err != nil {
			return nil, handleError(err)
		}
		return &projectOutput{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "submit-solution",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/solution",
		Summary:     "Submit the solution (assignee only)",
		Errors:      lifecycleErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string                `path:"project_id"`
		Body      SubmitSolutionRequest `json:"body"`
	}) (*projectOutput, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.SubmitSolution(ctx, input.ProjectID, actorID, strings.TrimSpace(input.Body.URL))
		if err != nil {
			return nil, handleError(err)
		}
		return &projectOutput{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "accept-solution",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/accept",
		Summary:     "Accept the solution and release escrow (owner only)",
		Errors:      lifecycleErrors,
	}, func(ctx context.Context, input *projectPath) (*projectOutput, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.AcceptSolution(ctx, input.ProjectID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &projectOutput{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reject-solution",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/reject",
		Summary:     "Reject the solution, refund escrow and reopen (owner only)",
		Errors:      lifecycleErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string                 `path:"project_id"`
		Body      *RejectSolutionRequest `json:"body,omitempty" required:"false"`
	}) (*projectOutput, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		remarks := ""
		if input.Body != nil {
			remarks = input.Body.Remarks
		}
		p, err := e.RejectSolution(ctx, input.ProjectID, actorID, remarks)
		if err != nil {
			return nil, handleError(err)
		}
		return &projectOutput{Body: projectResponse(p)}, nil
	})
}

type eventsQuery struct {
	Type   string `query:"type"`
	Limit  int    `query:"limit" default:"50"`
	Cursor string `query:"cursor"`
}

func registerEvents(api huma.API, e engine.Engine) {
	list := func(ctx context.Context, projectID string, q eventsQuery) (paginatedEvents, error) {
		limit := normalizeLimit(q.Limit)
		var cursorID int64
		if q.Cursor != "" {
			parsed, err := strconv.ParseInt(q.Cursor, 10, 64)
			if err != nil {
				return paginatedEvents{}, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": q.Cursor})
			}
			cursorID = parsed
		}
		items, err := e.Events(ctx, engine.EventFilter{ProjectID: projectID, Type: q.Type, Limit: limit + 1, Cursor: cursorID})
		if err != nil {
			return paginatedEvents{}, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			resp.NextCursor = fmt.Sprintf("%d", items[limit-1].ID)
			items = items[:limit]
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return resp, nil
	}

	huma.Register(api, huma.Operation{
		OperationID: "list-project-events",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/events",
		Summary:     "List a project's events, newest first",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Type      string `query:"type"`
		Limit     int    `query:"limit" default:"50"`
		Cursor    string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		if _, err := e.Project(ctx, input.ProjectID); err != nil {
			return nil, handleError(err)
		}
		resp, err := list(ctx, input.ProjectID, eventsQuery{Type: input.Type, Limit: input.Limit, Cursor: input.Cursor})
		if err != nil {
			return nil, err
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List all registry events, newest first",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *eventsQuery) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		resp, err := list(ctx, "", *input)
		if err != nil {
			return nil, err
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func registerLedger(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-account",
		Method:      http.MethodGet,
		Path:        "/ledger/accounts/{account}",
		Summary:     "Balance and custody allowance of an account",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Account string `path:"account"`
	}) (*struct {
		Body AccountResponse `json:"body"`
	}, error) {
		acct, err := e.Account(ctx, input.Account)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AccountResponse `json:"body"`
		}{Body: AccountResponse(acct)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "approve-custody",
		Method:      http.MethodPost,
		Path:        "/ledger/approve",
		Summary:     "Set the amount the registry may escrow from the caller",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body ApproveRequest `json:"body"`
	}) (*struct {
		Body AccountResponse `json:"body"`
	}, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		acct, err := e.ApproveCustody(ctx, actorID, input.Body.Amount)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AccountResponse `json:"body"`
		}{Body: AccountResponse(acct)}, nil
	})
}

func registerMe(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		principal, ok := principalFromContext(ctx)
		if !ok || principal.ActorID == "" {
			return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: WhoAmIResponse{ActorID: principal.ActorID, Source: principal.Source}}, nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actor := strings.TrimSpace(input.Body.ActorID)
		if actor == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		token, err := signDevToken(authCfg.JWTSecret, actor, authCfg.tokenTTL())
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}
