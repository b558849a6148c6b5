package escrow

import (
	"context"
	"errors"
	"fmt"

	"bidline/internal/domain"
	"bidline/internal/ledger"
)

type Direction string

const (
	DirectionEscrow  Direction = "escrow"
	DirectionRelease Direction = "release"
	DirectionRefund  Direction = "refund"
)

// Movement describes one completed custody transfer, enough to reverse it.
type Movement struct {
	Direction Direction
	From      string
	To        string
	Amount    uint64
}

// Controller moves funds between project parties and the custody account.
type Controller struct {
	Custody string
}

// Escrow pulls the offer price from the owner into custody. The owner must have
// approved the custody account for at least that amount beforehand.
func (c Controller) Escrow(ctx context.Context, l ledger.Ledger, p domain.Project, o domain.Offer) (Movement, error) {
	if p.Owner == c.Custody {
		return Movement{}, fmt.Errorf("%w: custody account cannot fund escrow", domain.ErrInvalidInput)
	}
	allowed, err := l.Allowance(ctx, p.Owner, c.Custody)
	if err != nil {
		return Movement{}, fmt.Errorf("read allowance: %w", err)
	}
	if allowed < o.Price {
		return Movement{}, fmt.Errorf("%w: approved %d, offer requires %d", domain.ErrInsufficientAllowance, allowed, o.Price)
	}
	if err := l.TransferFrom(ctx, c.Custody, p.Owner, c.Custody, o.Price); err != nil {
		if errors.Is(err, ledger.ErrInsufficientAllowance) {
			return Movement{}, fmt.Errorf("%w: %v", domain.ErrInsufficientAllowance, err)
		}
		return Movement{}, err
	}
	return Movement{Direction: DirectionEscrow, From: p.Owner, To: c.Custody, Amount: o.Price}, nil
}

// Release pays the escrowed amount to the assignee.
func (c Controller) Release(ctx context.Context, l ledger.Ledger, p domain.Project) (Movement, error) {
	assignee, ok := p.Assignee()
	amount, held := p.EscrowedAmount()
	if !ok || !held {
		return Movement{}, fmt.Errorf("project %s holds no escrow", p.ID)
	}
	if err := l.Transfer(ctx, c.Custody, assignee, amount); err != nil {
		return Movement{}, err
	}
	return Movement{Direction: DirectionRelease, From: c.Custody, To: assignee, Amount: amount}, nil
}

// Refund returns the escrowed amount to the owner.
func (c Controller) Refund(ctx context.Context, l ledger.Ledger, p domain.Project) (Movement, error) {
	amount, held := p.EscrowedAmount()
	if !held {
		return Movement{}, fmt.Errorf("project %s holds no escrow", p.ID)
	}
	if err := l.Transfer(ctx, c.Custody, p.Owner, amount); err != nil {
		return Movement{}, err
	}
	return Movement{Direction: DirectionRefund, From: c.Custody, To: p.Owner, Amount: amount}, nil
}

// Reverse undoes m on a ledger that could not share the registry transaction.
// An escrow reversal also restores the owner's consumed allowance.
func (c Controller) Reverse(ctx context.Context, l ledger.Ledger, m Movement) error {
	if err := l.Transfer(ctx, m.To, m.From, m.Amount); err != nil {
		return fmt.Errorf("reverse %s of %d: %w", m.Direction, m.Amount, err)
	}
	if m.Direction != DirectionEscrow {
		return nil
	}
	allowed, err := l.Allowance(ctx, m.From, c.Custody)
	if err != nil {
		return err
	}
	restored := allowed + m.Amount
	if restored > ledger.MaxAmount || restored < allowed {
		restored = ledger.MaxAmount
	}
	return l.Approve(ctx, m.From, c.Custody, restored)
}
