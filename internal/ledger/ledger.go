// Package ledger defines the token ledger the project registry moves escrowed
// funds through, together with a SQLite-backed and an in-memory implementation.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"strings"
)

var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("transfer amount exceeds allowance")
	ErrAmountOverflow        = errors.New("amount exceeds ledger capacity")
	ErrInvalidAccount        = errors.New("account required")
)

// Ledger is a fungible token store with delegated pull transfers.
type Ledger interface {
	BalanceOf(ctx context.Context, account string) (uint64, error)
	Allowance(ctx context.Context, owner, spender string) (uint64, error)
	// Approve sets (not adds to) the amount spender may pull from owner.
	Approve(ctx context.Context, owner, spender string, amount uint64) error
	// TransferFrom moves amount from -> to on behalf of spender, consuming allowance.
	TransferFrom(ctx context.Context, spender, from, to string, amount uint64) error
	Transfer(ctx context.Context, from, to string, amount uint64) error
}

// Minter is implemented by ledgers that can create supply (dev bootstrap only).
type Minter interface {
	Mint(ctx context.Context, to string, amount uint64) error
}

// TxBinder is implemented by ledgers able to join an open SQL transaction on
// db, so a transfer commits or rolls back together with the caller's writes.
// BindTx reports false when the ledger lives in a different database.
type TxBinder interface {
	BindTx(db *sql.DB, tx *sql.Tx) (Ledger, bool)
}

// Bind returns l joined to tx when l supports it. The boolean reports whether
// the returned ledger is transactional with tx.
func Bind(l Ledger, db *sql.DB, tx *sql.Tx) (Ledger, bool) {
	if b, ok := l.(TxBinder); ok && tx != nil {
		return b.BindTx(db, tx)
	}
	return l, false
}

// MaxAmount is the largest balance or transfer the ledgers accept; balances are
// stored as signed 64-bit integers.
const MaxAmount = uint64(math.MaxInt64)

func checkAmount(amount uint64) error {
	if amount > MaxAmount {
		return ErrAmountOverflow
	}
	return nil
}

func addChecked(a, b uint64) (uint64, error) {
	if b > MaxAmount-a {
		return 0, ErrAmountOverflow
	}
	return a + b, nil
}

func checkAccounts(accounts ...string) error {
	for _, a := range accounts {
		if strings.TrimSpace(a) == "" {
			return ErrInvalidAccount
		}
	}
	return nil
}
