package engine

import (
	"context"
	"errors"

	"bidline/internal/domain"
	"bidline/internal/engine/auth"
	"bidline/internal/ledger"
)

// ErrorCode classifies an operation error into a stable machine-readable code
// shared by metrics labels and the HTTP error envelope.
func ErrorCode(err error) string {
	var stateErr domain.InvalidStateError
	var unauthorized auth.UnauthorizedError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrProjectNotFound):
		return "project_not_found"
	case errors.Is(err, domain.ErrOfferNotFound):
		return "offer_not_found"
	case errors.Is(err, domain.ErrDuplicateProject):
		return "duplicate_project"
	case errors.Is(err, domain.ErrDuplicateOffer):
		return "duplicate_offer"
	case errors.As(err, &stateErr):
		return "invalid_state"
	case errors.As(err, &unauthorized):
		return "unauthorized"
	case errors.Is(err, domain.ErrInsufficientAllowance):
		return "insufficient_allowance"
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ledger.ErrAmountOverflow):
		return "amount_overflow"
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, ledger.ErrInvalidAccount):
		return "invalid_input"
	case errors.Is(err, domain.ErrReentrantCall):
		return "reentrant_call"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	}
	return "internal"
}
