package server

import (
	"encoding/json"

	"bidline/internal/domain"
	"bidline/internal/engine"
)

// Request payloads

type PostProjectRequest struct {
	URL   string `json:"url" minLength:"1" doc:"Project descriptor URL"`
	Price uint64 `json:"price" minimum:"1" doc:"Asking price in ledger tokens"`
}

type PlaceOfferRequest struct {
	URL   string `json:"url" minLength:"1" doc:"Offer descriptor URL"`
	Price uint64 `json:"price" minimum:"1" doc:"Offered price in ledger tokens"`
}

type AssignRequest struct {
	Offerer string `json:"offerer" minLength:"1" doc:"Account whose offer is selected"`
}

type SubmitSolutionRequest struct {
	URL string `json:"url" minLength:"1"`
}

type RejectSolutionRequest struct {
	Remarks string `json:"remarks,omitempty"`
}

type ApproveRequest struct {
	Amount uint64 `json:"amount" doc:"New custody allowance; replaces the previous one"`
}

type DevLoginRequest struct {
	ActorID string `json:"actor_id"`
}

// Response payloads

type ProjectResponse domain.ProjectSnapshot

type OfferResponse struct {
	ProjectID string `json:"project_id"`
	Offerer   string `json:"offerer"`
	OfferURL  string `json:"offer_url"`
	Price     uint64 `json:"price"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type EventResponse struct {
	ID        int64          `json:"id"`
	TS        string         `json:"ts" format:"date-time"`
	Type      string         `json:"type"`
	ProjectID string         `json:"project_id,omitempty"`
	ActorID   string         `json:"actor_id"`
	Payload   map[string]any `json:"payload,omitempty"`
}

type AccountResponse engine.Account

type HealthResponse struct {
	Status   string         `json:"status"`
	Custody  string         `json:"custody_account"`
	Projects map[string]int `json:"projects"`
}

type WhoAmIResponse struct {
	ActorID string `json:"actor_id"`
	Source  string `json:"source"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

type paginatedProjects struct {
	Items      []ProjectResponse `json:"items"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Conversion helpers

func projectResponse(p domain.Project) ProjectResponse {
	return ProjectResponse(p.Snapshot())
}

func mapProjects(items []domain.Project) []ProjectResponse {
	out := make([]ProjectResponse, 0, len(items))
	for _, p := range items {
		out = append(out, projectResponse(p))
	}
	return out
}

func offerResponse(o domain.Offer) OfferResponse {
	return OfferResponse(o)
}

func mapOffers(items []domain.Offer) []OfferResponse {
	out := make([]OfferResponse, 0, len(items))
	for _, o := range items {
		out = append(out, offerResponse(o))
	}
	return out
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:        e.ID,
		TS:        e.TS,
		Type:      e.Type,
		ProjectID: e.ProjectID,
		ActorID:   e.ActorID,
		Payload:   decodeJSONMap(e.Payload),
	}
}

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return map[string]any{"_raw": raw}
	}
	return out
}
