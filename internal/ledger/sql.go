package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"bidline/internal/domain"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQL is the reference ledger stored in the registry's SQLite database.
type SQL struct {
	DB  *sql.DB
	Now func() time.Time
	tx  *sql.Tx
}

func NewSQL(db *sql.DB) SQL {
	return SQL{DB: db, Now: time.Now}
}

func (l SQL) BindTx(db *sql.DB, tx *sql.Tx) (Ledger, bool) {
	if db != l.DB {
		return l, false
	}
	l.tx = tx
	return l, true
}

func (l SQL) now() string {
	if l.Now == nil {
		return time.Now().UTC().Format(time.RFC3339)
	}
	return l.Now().UTC().Format(time.RFC3339)
}

func (l SQL) q() querier {
	if l.tx != nil {
		return l.tx
	}
	return l.DB
}

// write runs fn in the bound transaction, or in a fresh one when unbound.
func (l SQL) write(ctx context.Context, fn func(q querier) error) error {
	if l.tx != nil {
		return fn(l.tx)
	}
	tx, err := l.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func balance(ctx context.Context, q querier, account string) (uint64, error) {
	var b uint64
	err := q.QueryRowContext(ctx, `SELECT balance FROM ledger_balances WHERE account=?`, account).Scan(&b)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return b, err
}

func allowance(ctx context.Context, q querier, owner, spender string) (uint64, error) {
	var a uint64
	err := q.QueryRowContext(ctx, `SELECT amount FROM ledger_allowances WHERE owner=? AND spender=?`, owner, spender).Scan(&a)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return a, err
}

func setBalance(ctx context.Context, q querier, account string, amount uint64) error {
	_, err := q.ExecContext(ctx, `INSERT INTO ledger_balances(account,balance) VALUES (?,?)
ON CONFLICT(account) DO UPDATE SET balance=excluded.balance`, account, int64(amount))
	return err
}

func setAllowance(ctx context.Context, q querier, owner, spender string, amount uint64) error {
	_, err := q.ExecContext(ctx, `INSERT INTO ledger_allowances(owner,spender,amount) VALUES (?,?,?)
ON CONFLICT(owner,spender) DO UPDATE SET amount=excluded.amount`, owner, spender, int64(amount))
	return err
}

func (l SQL) journal(ctx context.Context, q querier, kind, spender, from, to string, amount uint64) error {
	_, err := q.ExecContext(ctx, `INSERT INTO ledger_journal(ts,kind,spender,from_account,to_account,amount) VALUES (?,?,?,?,?,?)`,
		l.now(), kind, nullable(spender), nullable(from), to, int64(amount))
	return err
}

func move(ctx context.Context, q querier, from, to string, amount uint64) error {
	fromBal, err := balance(ctx, q, from)
	if err != nil {
		return err
	}
	if fromBal < amount {
		return fmt.Errorf("%w: %s holds %d, needs %d", ErrInsufficientBalance, from, fromBal, amount)
	}
	if from == to {
		return nil
	}
	toBal, err := balance(ctx, q, to)
	if err != nil {
		return err
	}
	credited, err := addChecked(toBal, amount)
	if err != nil {
		return err
	}
	if err := setBalance(ctx, q, from, fromBal-amount); err != nil {
		return err
	}
	return setBalance(ctx, q, to, credited)
}

func (l SQL) BalanceOf(ctx context.Context, account string) (uint64, error) {
	return balance(ctx, l.q(), account)
}

func (l SQL) Allowance(ctx context.Context, owner, spender string) (uint64, error) {
	return allowance(ctx, l.q(), owner, spender)
}

func (l SQL) Approve(ctx context.Context, owner, spender string, amount uint64) error {
	if err := checkAccounts(owner, spender); err != nil {
		return err
	}
	if err := checkAmount(amount); err != nil {
		return err
	}
	return l.write(ctx, func(q querier) error {
		return setAllowance(ctx, q, owner, spender, amount)
	})
}

func (l SQL) TransferFrom(ctx context.Context, spender, from, to string, amount uint64) error {
	if err := checkAccounts(spender, from, to); err != nil {
		return err
	}
	if err := checkAmount(amount); err != nil {
		return err
	}
	return l.write(ctx, func(q querier) error {
		allowed, err := allowance(ctx, q, from, spender)
		if err != nil {
			return err
		}
		if allowed < amount {
			return fmt.Errorf("%w: %s allows %s %d, needs %d", ErrInsufficientAllowance, from, spender, allowed, amount)
		}
		if err := move(ctx, q, from, to, amount); err != nil {
			return err
		}
		if err := setAllowance(ctx, q, from, spender, allowed-amount); err != nil {
			return err
		}
		return l.journal(ctx, q, "transfer_from", spender, from, to, amount)
	})
}

func (l SQL) Transfer(ctx context.Context, from, to string, amount uint64) error {
	if err := checkAccounts(from, to); err != nil {
		return err
	}
	if err := checkAmount(amount); err != nil {
		return err
	}
	return l.write(ctx, func(q querier) error {
		if err := move(ctx, q, from, to, amount); err != nil {
			return err
		}
		return l.journal(ctx, q, "transfer", "", from, to, amount)
	})
}

func (l SQL) Mint(ctx context.Context, to string, amount uint64) error {
	if err := checkAccounts(to); err != nil {
		return err
	}
	if err := checkAmount(amount); err != nil {
		return err
	}
	return l.write(ctx, func(q querier) error {
		bal, err := balance(ctx, q, to)
		if err != nil {
			return err
		}
		next, err := addChecked(bal, amount)
		if err != nil {
			return err
		}
		if err := setBalance(ctx, q, to, next); err != nil {
			return err
		}
		return l.journal(ctx, q, "mint", "", "", to, amount)
	})
}

// Journal lists the most recent entries touching account (all entries when
// account is empty), newest first.
func (l SQL) Journal(ctx context.Context, account string, limit int) ([]domain.LedgerEntry, error) {
	query := `SELECT id,ts,kind,COALESCE(spender,''),COALESCE(from_account,''),to_account,amount FROM ledger_journal`
	var args []any
	if account != "" {
		query += ` WHERE from_account=? OR to_account=?`
		args = append(args, account, account)
	}
	query += ` ORDER BY id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := l.q().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		if err := rows.Scan(&e.ID, &e.TS, &e.Kind, &e.Spender, &e.From, &e.To, &e.Amount); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
