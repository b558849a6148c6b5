package domain

import (
	"encoding/json"
	"fmt"
)

// State names the lifecycle phase of a project.
type State string

const (
	StateOpen              State = "open"
	StateAssigned          State = "assigned"
	StateSolutionSubmitted State = "solution_submitted"
	StateCompleted         State = "completed"
)

func (s State) Valid() bool {
	switch s {
	case StateOpen, StateAssigned, StateSolutionSubmitted, StateCompleted:
		return true
	}
	return false
}

// Phase is the state-specific part of a project. Only the fields legal for a
// state exist on its phase type.
type Phase interface {
	State() State
	isPhase()
}

type Open struct{}

type Assigned struct {
	Assignee string
	Escrowed uint64
}

type SolutionSubmitted struct {
	Assignee    string
	Escrowed    uint64
	SolutionURL string
}

type Completed struct{}

func (Open) State() State              { return StateOpen }
func (Assigned) State() State          { return StateAssigned }
func (SolutionSubmitted) State() State { return StateSolutionSubmitted }
func (Completed) State() State         { return StateCompleted }

func (Open) isPhase()              {}
func (Assigned) isPhase()          {}
func (SolutionSubmitted) isPhase() {}
func (Completed) isPhase()         {}

// PhaseFromColumns rebuilds a phase from its flattened storage form and rejects
// combinations that break the lifecycle invariants.
func PhaseFromColumns(state State, assignee *string, escrowed *uint64, solutionURL *string) (Phase, error) {
	switch state {
	case StateOpen, StateCompleted:
		if assignee != nil || escrowed != nil || solutionURL != nil {
			return nil, fmt.Errorf("%s project carries assignment data", state)
		}
		if state == StateOpen {
			return Open{}, nil
		}
		return Completed{}, nil
	case StateAssigned:
		if assignee == nil || escrowed == nil {
			return nil, fmt.Errorf("assigned project missing assignee or escrow")
		}
		if solutionURL != nil {
			return nil, fmt.Errorf("assigned project carries a solution")
		}
		return Assigned{Assignee: *assignee, Escrowed: *escrowed}, nil
	case StateSolutionSubmitted:
		if assignee == nil || escrowed == nil || solutionURL == nil {
			return nil, fmt.Errorf("submitted project missing assignee, escrow or solution")
		}
		return SolutionSubmitted{Assignee: *assignee, Escrowed: *escrowed, SolutionURL: *solutionURL}, nil
	}
	return nil, fmt.Errorf("unknown project state %q", state)
}

type Project struct {
	ID            string
	Owner         string
	DescriptorURL string
	Price         uint64
	Phase         Phase
	CreatedAt     string
	UpdatedAt     string
}

func (p Project) State() State {
	if p.Phase == nil {
		return StateOpen
	}
	return p.Phase.State()
}

func (p Project) Assignee() (string, bool) {
	switch ph := p.Phase.(type) {
	case Assigned:
		return ph.Assignee, true
	case SolutionSubmitted:
		return ph.Assignee, true
	}
	return "", false
}

func (p Project) EscrowedAmount() (uint64, bool) {
	switch ph := p.Phase.(type) {
	case Assigned:
		return ph.Escrowed, true
	case SolutionSubmitted:
		return ph.Escrowed, true
	}
	return 0, false
}

func (p Project) SolutionURL() (string, bool) {
	if ph, ok := p.Phase.(SolutionSubmitted); ok {
		return ph.SolutionURL, true
	}
	return "", false
}

// ProjectSnapshot is the flattened read model of a project.
type ProjectSnapshot struct {
	ID             string  `json:"id"`
	Owner          string  `json:"owner"`
	DescriptorURL  string  `json:"descriptor_url"`
	Price          uint64  `json:"price"`
	State          State   `json:"state" enum:"open,assigned,solution_submitted,completed"`
	Assignee       *string `json:"assignee,omitempty"`
	EscrowedAmount *uint64 `json:"escrowed_amount,omitempty"`
	SolutionURL    *string `json:"solution_url,omitempty"`
	CreatedAt      string  `json:"created_at" format:"date-time"`
	UpdatedAt      string  `json:"updated_at" format:"date-time"`
}

func (p Project) Snapshot() ProjectSnapshot {
	s := ProjectSnapshot{
		ID:            p.ID,
		Owner:         p.Owner,
		DescriptorURL: p.DescriptorURL,
		Price:         p.Price,
		State:         p.State(),
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
	if a, ok := p.Assignee(); ok {
		s.Assignee = &a
	}
	if amt, ok := p.EscrowedAmount(); ok {
		s.EscrowedAmount = &amt
	}
	if u, ok := p.SolutionURL(); ok {
		s.SolutionURL = &u
	}
	return s
}

func (p Project) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Snapshot())
}

type Offer struct {
	ProjectID string `json:"project_id"`
	Offerer   string `json:"offerer"`
	OfferURL  string `json:"offer_url"`
	Price     uint64 `json:"price"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID        int64  `json:"id"`
	TS        string `json:"ts" format:"date-time"`
	Type      string `json:"type"`
	ProjectID string `json:"project_id,omitempty"`
	ActorID   string `json:"actor_id"`
	Payload   string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// LedgerEntry is one row of the reference ledger's transfer journal.
type LedgerEntry struct {
	ID      int64  `json:"id"`
	TS      string `json:"ts" format:"date-time"`
	Kind    string `json:"kind" enum:"mint,transfer,transfer_from"`
	Spender string `json:"spender,omitempty"`
	From    string `json:"from,omitempty"`
	To      string `json:"to"`
	Amount  uint64 `json:"amount"`
}
