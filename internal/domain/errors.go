package domain

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateProject      = errors.New("project already exists")
	ErrDuplicateOffer        = errors.New("offer already exists")
	ErrOfferNotFound         = errors.New("offer not found")
	ErrProjectNotFound       = errors.New("project not found")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrInvalidInput          = errors.New("invalid input")
	ErrReentrantCall         = errors.New("reentrant call into project registry")
)

// Reasons reported by InvalidStateError.
const (
	ReasonCompleted        = "project marked completed"
	ReasonAlreadySubmitted = "solution already submitted"
	ReasonNotSubmitted     = "solution isn't submitted"
	ReasonAlreadyAssigned  = "project already assigned"
	ReasonOffersClosed     = "project not accepting offers"
)

// InvalidStateError reports an operation attempted in a state that does not
// allow it.
type InvalidStateError struct {
	State  State
	Reason string
}

func (e InvalidStateError) Error() string {
	return fmt.Sprintf("invalid state transition from %s: %s", e.State, e.Reason)
}
