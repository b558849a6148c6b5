package engine

import (
	"context"
	"errors"
	"fmt"

	"bidline/internal/domain"
	"bidline/internal/repo"
)

// Project returns a committed snapshot of one project.
func (e Engine) Project(ctx context.Context, id string) (domain.Project, error) {
	p, err := e.Repo.GetProject(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Project{}, domain.ErrProjectNotFound
	}
	return p, err
}

func (e Engine) ListProjects(ctx context.Context, f repo.ProjectFilters) ([]domain.Project, error) {
	if f.State != "" && !domain.State(f.State).Valid() {
		return nil, fmt.Errorf("%w: unknown state %q", domain.ErrInvalidInput, f.State)
	}
	return e.Repo.ListProjects(ctx, f)
}

// ListOffers returns the offers on a project in the order they were placed.
func (e Engine) ListOffers(ctx context.Context, projectID string) ([]domain.Offer, error) {
	if _, err := e.Project(ctx, projectID); err != nil {
		return nil, err
	}
	return e.offers().List(ctx, projectID)
}

type EventFilter struct {
	ProjectID string
	Type      string
	Limit     int
	// Cursor returns events older than this ID when set.
	Cursor int64
}

// Events lists committed events newest first.
func (e Engine) Events(ctx context.Context, f EventFilter) ([]domain.Event, error) {
	if f.Type != "" && !domain.IsEventType(f.Type) {
		return nil, fmt.Errorf("%w: unknown event type %q", domain.ErrInvalidInput, f.Type)
	}
	return e.Repo.LatestEventsFrom(ctx, f.Limit, f.Cursor, f.ProjectID, f.Type)
}

// Summary counts projects per state.
func (e Engine) Summary(ctx context.Context) (map[string]int, error) {
	counts, err := e.Repo.CountProjectsByState(ctx)
	if err != nil {
		return nil, err
	}
	for _, s := range []domain.State{domain.StateOpen, domain.StateAssigned, domain.StateSolutionSubmitted, domain.StateCompleted} {
		if _, ok := counts[string(s)]; !ok {
			counts[string(s)] = 0
		}
	}
	return counts, nil
}

// Account is a ledger view of one account from the registry's perspective.
type Account struct {
	Account          string `json:"account"`
	Balance          uint64 `json:"balance"`
	CustodyAllowance uint64 `json:"custody_allowance"`
}

func (e Engine) Account(ctx context.Context, account string) (Account, error) {
	if err := required("account", account); err != nil {
		return Account{}, err
	}
	bal, err := e.Ledger.BalanceOf(ctx, account)
	if err != nil {
		return Account{}, err
	}
	allowed, err := e.Ledger.Allowance(ctx, account, e.Custody())
	if err != nil {
		return Account{}, err
	}
	return Account{Account: account, Balance: bal, CustodyAllowance: allowed}, nil
}

// ApproveCustody sets how much the registry may pull from owner when it
// assigns one of owner's projects.
func (e Engine) ApproveCustody(ctx context.Context, owner string, amount uint64) (Account, error) {
	if err := required("owner", owner); err != nil {
		return Account{}, err
	}
	if err := e.Ledger.Approve(ctx, owner, e.Custody(), amount); err != nil {
		return Account{}, err
	}
	e.log().Info("custody allowance approved", "owner", owner, "amount", amount)
	return e.Account(ctx, owner)
}
