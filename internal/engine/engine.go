package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"bidline/internal/config"
	"bidline/internal/domain"
	"bidline/internal/engine/auth"
	"bidline/internal/engine/escrow"
	"bidline/internal/engine/offers"
	"bidline/internal/events"
	"bidline/internal/ledger"
	"bidline/internal/metrics"
	"bidline/internal/repo"
)

// Engine is the project registry. It owns project records and is the only
// component that changes them; every mutation runs under one lock and one SQL
// transaction and appends exactly one event.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Ledger ledger.Ledger
	Guard  auth.Guard
	Escrow escrow.Controller
	Config *config.Config
	Logger *slog.Logger
	Now    func() time.Time

	mu *sync.Mutex
}

func New(db *sql.DB, l ledger.Ledger, cfg *config.Config, logger *slog.Logger) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Ledger: l,
		Escrow: escrow.Controller{Custody: cfg.Escrow.CustodyAccount},
		Config: cfg,
		Logger: logger,
		Now:    time.Now,
		mu:     &sync.Mutex{},
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) log() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e Engine) offers() offers.Book {
	return offers.Book{Repo: e.Repo, Now: e.Now}
}

func (e Engine) events() events.Writer {
	return events.Writer{Now: e.Now}
}

// Custody returns the account that holds escrowed funds.
func (e Engine) Custody() string {
	return e.Escrow.Custody
}

var projectNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("bidline:projects"))

// ProjectID derives the identifier of the project owner posts at url. The same
// pair always maps to the same ID. The owner is length-prefixed so no two
// distinct pairs share a name.
func ProjectID(owner, url string) string {
	name := fmt.Sprintf("%d:%s%s", len(owner), owner, url)
	return uuid.NewSHA1(projectNamespace, []byte(name)).String()
}

type ledgerCallKey struct{}

// mutation is the per-operation state handed to a registry mutation.
type mutation struct {
	tx *sql.Tx
	// ledgerCtx marks calls into the ledger so the registry can refuse re-entry.
	ledgerCtx context.Context
	ledger    ledger.Ledger
	atomic    bool
	moved     []escrow.Movement
}

func (m *mutation) record(mv escrow.Movement) {
	m.moved = append(m.moved, mv)
}

func (e Engine) mutate(ctx context.Context, op auth.Operation, fn func(m *mutation) error) (err error) {
	if ctx.Value(ledgerCallKey{}) != nil {
		return domain.ErrReentrantCall
	}
	if e.mu == nil {
		return errors.New("engine not initialised; use engine.New")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	defer func() {
		metrics.OperationsTotal.WithLabelValues(string(op), ErrorCode(err)).Inc()
	}()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	l, atomic := ledger.Bind(e.Ledger, e.DB, tx)
	m := &mutation{
		tx:        tx,
		ledgerCtx: context.WithValue(ctx, ledgerCallKey{}, op),
		ledger:    l,
		atomic:    atomic,
	}
	if err := fn(m); err != nil {
		e.compensate(m, op, err)
		return err
	}
	if err := tx.Commit(); err != nil {
		e.compensate(m, op, err)
		return err
	}
	for _, mv := range m.moved {
		metrics.FundsMoved.WithLabelValues(string(mv.Direction)).Add(float64(mv.Amount))
	}
	return nil
}

// compensate reverses transfers made on a ledger outside the registry
// transaction once that transaction is known not to commit.
func (e Engine) compensate(m *mutation, op auth.Operation, cause error) {
	if m.atomic || len(m.moved) == 0 {
		return
	}
	ctx := context.WithoutCancel(m.ledgerCtx)
	for i := len(m.moved) - 1; i >= 0; i-- {
		mv := m.moved[i]
		if err := e.Escrow.Reverse(ctx, m.ledger, mv); err != nil {
			e.log().Error("compensating transfer failed",
				"operation", op, "direction", mv.Direction, "from", mv.From, "to", mv.To,
				"amount", mv.Amount, "cause", cause, "err", err)
			continue
		}
		metrics.FundsMoved.WithLabelValues("compensation").Add(float64(mv.Amount))
		e.log().Warn("reversed transfer after failed commit",
			"operation", op, "direction", mv.Direction, "amount", mv.Amount, "cause", cause)
	}
}

func (e Engine) loadProject(ctx context.Context, tx *sql.Tx, id string) (domain.Project, error) {
	p, err := e.Repo.GetProjectTx(ctx, tx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Project{}, domain.ErrProjectNotFound
	}
	return p, err
}

func (e Engine) setPhase(ctx context.Context, tx *sql.Tx, p *domain.Project, ph domain.Phase) error {
	now := e.timestamp()
	if err := e.Repo.UpdateProjectPhase(ctx, tx, p.ID, ph, now); err != nil {
		return fmt.Errorf("update project %s: %w", p.ID, err)
	}
	p.Phase = ph
	p.UpdatedAt = now
	return nil
}

func required(field, v string) error {
	if strings.TrimSpace(v) == "" {
		return fmt.Errorf("%w: %s required", domain.ErrInvalidInput, field)
	}
	return nil
}

// notCustody refuses the custody account as a project party; custody cannot
// pay into itself.
func (e Engine) notCustody(role, actor string) error {
	if actor == e.Custody() {
		return fmt.Errorf("%w: custody account cannot act as %s", domain.ErrInvalidInput, role)
	}
	return nil
}

// PostProject creates an open project for owner. Posting the same descriptor
// twice from the same owner fails with ErrDuplicateProject.
func (e Engine) PostProject(ctx context.Context, owner, descriptorURL string, price uint64) (domain.Project, error) {
	if err := required("owner", owner); err != nil {
		return domain.Project{}, err
	}
	if err := required("project url", descriptorURL); err != nil {
		return domain.Project{}, err
	}
	if err := e.notCustody("owner", owner); err != nil {
		return domain.Project{}, err
	}
	if price > ledger.MaxAmount {
		return domain.Project{}, fmt.Errorf("%w: project price %d", ledger.ErrAmountOverflow, price)
	}
	var p domain.Project
	err := e.mutate(ctx, auth.OpPostProject, func(m *mutation) error {
		id := ProjectID(owner, descriptorURL)
		if _, err := e.Repo.GetProjectTx(ctx, m.tx, id); err == nil {
			return domain.ErrDuplicateProject
		} else if !errors.Is(err, repo.ErrNotFound) {
			return err
		}
		now := e.timestamp()
		p = domain.Project{
			ID:            id,
			Owner:         owner,
			DescriptorURL: descriptorURL,
			Price:         price,
			Phase:         domain.Open{},
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := e.Repo.InsertProject(ctx, m.tx, p); err != nil {
			return err
		}
		_, err := e.events().Append(ctx, m.tx, domain.EventProjectPosted, p.ID, owner, events.Payload{
			"project_id":  p.ID,
			"project_url": descriptorURL,
			"owner":       owner,
		})
		return err
	})
	if err != nil {
		return domain.Project{}, err
	}
	e.log().Info("project posted", "project_id", p.ID, "owner", owner, "price", price)
	return p, nil
}

// PlaceOffer records offerer's bid on an open project.
func (e Engine) PlaceOffer(ctx context.Context, projectID, offerer, offerURL string, price uint64) (domain.Offer, error) {
	if err := e.notCustody("offerer", offerer); err != nil {
		return domain.Offer{}, err
	}
	var o domain.Offer
	err := e.mutate(ctx, auth.OpPlaceOffer, func(m *mutation) error {
		p, err := e.loadProject(ctx, m.tx, projectID)
		if err != nil {
			return err
		}
		if err := e.Guard.Check(auth.OpPlaceOffer, offerer, p); err != nil {
			return err
		}
		o, err = e.offers().Place(ctx, m.tx, p, offerer, offerURL, price)
		if err != nil {
			return err
		}
		_, err = e.events().Append(ctx, m.tx, domain.EventOfferPlaced, p.ID, offerer, events.Payload{
			"project_id": p.ID,
			"offer_url":  offerURL,
			"offerer":    offerer,
		})
		return err
	})
	if err != nil {
		return domain.Offer{}, err
	}
	e.log().Info("offer placed", "project_id", projectID, "offerer", offerer, "price", price)
	return o, nil
}

// AssignProject escrows the selected offer's price from the owner and hands
// the project to the offerer. The owner must have approved the custody
// account for at least that price.
func (e Engine) AssignProject(ctx context.Context, projectID, actor, offerer string) (domain.Project, error) {
	var p domain.Project
	err := e.mutate(ctx, auth.OpAssignProject, func(m *mutation) error {
		var err error
		p, err = e.loadProject(ctx, m.tx, projectID)
		if err != nil {
			return err
		}
		if err := e.Guard.Check(auth.OpAssignProject, actor, p); err != nil {
			return err
		}
		switch p.Phase.(type) {
		case domain.Open:
		case domain.Completed:
			return domain.InvalidStateError{State: p.State(), Reason: domain.ReasonCompleted}
		default:
			return domain.InvalidStateError{State: p.State(), Reason: domain.ReasonAlreadyAssigned}
		}
		offer, err := e.offers().Select(ctx, m.tx, p.ID, offerer)
		if err != nil {
			return err
		}
		before := p
		if err := e.setPhase(ctx, m.tx, &p, domain.Assigned{Assignee: offer.Offerer, Escrowed: offer.Price}); err != nil {
			return err
		}
		if _, err := e.events().Append(ctx, m.tx, domain.EventProjectAssigned, p.ID, actor, events.Payload{
			"project_id": p.ID,
			"assignee":   offer.Offerer,
			"amount":     offer.Price,
		}); err != nil {
			return err
		}
		mv, err := e.Escrow.Escrow(m.ledgerCtx, m.ledger, before, offer)
		if err != nil {
			return err
		}
		m.record(mv)
		return nil
	})
	if err != nil {
		return domain.Project{}, err
	}
	amount, _ := p.EscrowedAmount()
	e.log().Info("project assigned", "project_id", p.ID, "assignee", offerer, "escrowed", amount)
	return p, nil
}

// SubmitSolution attaches the assignee's solution. A solution can be
// submitted once per assignment.
func (e Engine) SubmitSolution(ctx context.Context, projectID, actor, solutionURL string) (domain.Project, error) {
	if err := required("solution url", solutionURL); err != nil {
		return domain.Project{}, err
	}
	var p domain.Project
	err := e.mutate(ctx, auth.OpSubmitSolution, func(m *mutation) error {
		var err error
		p, err = e.loadProject(ctx, m.tx, projectID)
		if err != nil {
			return err
		}
		if err := e.Guard.Check(auth.OpSubmitSolution, actor, p); err != nil {
			return err
		}
		var assigned domain.Assigned
		switch ph := p.Phase.(type) {
		case domain.Assigned:
			assigned = ph
		case domain.SolutionSubmitted:
			return domain.InvalidStateError{State: p.State(), Reason: domain.ReasonAlreadySubmitted}
		case domain.Completed:
			return domain.InvalidStateError{State: p.State(), Reason: domain.ReasonCompleted}
		default:
			return domain.InvalidStateError{State: p.State(), Reason: domain.ReasonNotSubmitted}
		}
		next := domain.SolutionSubmitted{Assignee: assigned.Assignee, Escrowed: assigned.Escrowed, SolutionURL: solutionURL}
		if err := e.setPhase(ctx, m.tx, &p, next); err != nil {
			return err
		}
		_, err = e.events().Append(ctx, m.tx, domain.EventSolutionSubmitted, p.ID, actor, events.Payload{
			"project_id":   p.ID,
			"solution_url": solutionURL,
			"submitter":    actor,
		})
		return err
	})
	if err != nil {
		return domain.Project{}, err
	}
	e.log().Info("solution submitted", "project_id", p.ID, "submitter", actor)
	return p, nil
}

// submitted enforces the state shared by accept and reject.
func submitted(p domain.Project) (domain.SolutionSubmitted, error) {
	switch ph := p.Phase.(type) {
	case domain.SolutionSubmitted:
		return ph, nil
	case domain.Completed:
		return domain.SolutionSubmitted{}, domain.InvalidStateError{State: p.State(), Reason: domain.ReasonCompleted}
	}
	return domain.SolutionSubmitted{}, domain.InvalidStateError{State: p.State(), Reason: domain.ReasonNotSubmitted}
}

// AcceptSolution releases escrow to the assignee and completes the project.
func (e Engine) AcceptSolution(ctx context.Context, projectID, actor string) (domain.Project, error) {
	var p domain.Project
	err := e.mutate(ctx, auth.OpAcceptSolution, func(m *mutation) error {
		var err error
		p, err = e.loadProject(ctx, m.tx, projectID)
		if err != nil {
			return err
		}
		if err := e.Guard.Check(auth.OpAcceptSolution, actor, p); err != nil {
			return err
		}
		sol, err := submitted(p)
		if err != nil {
			return err
		}
		before := p
		if err := e.setPhase(ctx, m.tx, &p, domain.Completed{}); err != nil {
			return err
		}
		if _, err := e.events().Append(ctx, m.tx, domain.EventSolutionAccepted, p.ID, actor, events.Payload{
			"project_id":   p.ID,
			"solution_url": sol.SolutionURL,
			"submitter":    sol.Assignee,
		}); err != nil {
			return err
		}
		mv, err := e.Escrow.Release(m.ledgerCtx, m.ledger, before)
		if err != nil {
			return err
		}
		m.record(mv)
		return nil
	})
	if err != nil {
		return domain.Project{}, err
	}
	e.log().Info("solution accepted", "project_id", p.ID)
	return p, nil
}

// RejectSolution refunds escrow to the owner and reopens the project. Offers
// placed before the assignment stay on the book.
func (e Engine) RejectSolution(ctx context.Context, projectID, actor, remarks string) (domain.Project, error) {
	var p domain.Project
	err := e.mutate(ctx, auth.OpRejectSolution, func(m *mutation) error {
		var err error
		p, err = e.loadProject(ctx, m.tx, projectID)
		if err != nil {
			return err
		}
		if err := e.Guard.Check(auth.OpRejectSolution, actor, p); err != nil {
			return err
		}
		sol, err := submitted(p)
		if err != nil {
			return err
		}
		before := p
		if err := e.setPhase(ctx, m.tx, &p, domain.Open{}); err != nil {
			return err
		}
		if _, err := e.events().Append(ctx, m.tx, domain.EventSolutionRejected, p.ID, actor, events.Payload{
			"project_id":   p.ID,
			"solution_url": sol.SolutionURL,
			"submitter":    sol.Assignee,
			"remarks":      remarks,
		}); err != nil {
			return err
		}
		mv, err := e.Escrow.Refund(m.ledgerCtx, m.ledger, before)
		if err != nil {
			return err
		}
		m.record(mv)
		return nil
	})
	if err != nil {
		return domain.Project{}, err
	}
	e.log().Info("solution rejected", "project_id", p.ID, "remarks", remarks)
	return p, nil
}
