package ledger_test

import (
	"context"
	"errors"
	"testing"

	"bidline/internal/db"
	"bidline/internal/ledger"
	"bidline/internal/migrate"
)

type testLedger interface {
	ledger.Ledger
	ledger.Minter
}

func newSQLLedger(t *testing.T) ledger.SQL {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(context.Background(), conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return ledger.NewSQL(conn)
}

func implementations(t *testing.T) map[string]testLedger {
	return map[string]testLedger{
		"sql":    newSQLLedger(t),
		"memory": ledger.NewMemory(),
	}
}

func TestLedgerTransfers(t *testing.T) {
	ctx := context.Background()
	for name, l := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			if err := l.Mint(ctx, "alice", 100); err != nil {
				t.Fatalf("mint: %v", err)
			}
			if err := l.Transfer(ctx, "alice", "bob", 40); err != nil {
				t.Fatalf("transfer: %v", err)
			}
			if err := l.Transfer(ctx, "alice", "bob", 61); !errors.Is(err, ledger.ErrInsufficientBalance) {
				t.Fatalf("expected insufficient balance, got %v", err)
			}
			assertBalance(t, l, "alice", 60)
			assertBalance(t, l, "bob", 40)
			assertBalance(t, l, "nobody", 0)
			if err := l.Transfer(ctx, "", "bob", 1); !errors.Is(err, ledger.ErrInvalidAccount) {
				t.Fatalf("expected invalid account, got %v", err)
			}
		})
	}
}

func TestLedgerAllowance(t *testing.T) {
	ctx := context.Background()
	for name, l := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			if err := l.Mint(ctx, "owner", 500); err != nil {
				t.Fatal(err)
			}
			if err := l.TransferFrom(ctx, "custody", "owner", "custody", 10); !errors.Is(err, ledger.ErrInsufficientAllowance) {
				t.Fatalf("expected allowance error, got %v", err)
			}
			if err := l.Approve(ctx, "owner", "custody", 150); err != nil {
				t.Fatal(err)
			}
			// approve replaces rather than accumulates
			if err := l.Approve(ctx, "owner", "custody", 120); err != nil {
				t.Fatal(err)
			}
			if a, _ := l.Allowance(ctx, "owner", "custody"); a != 120 {
				t.Fatalf("allowance = %d, want 120", a)
			}
			if err := l.TransferFrom(ctx, "custody", "owner", "custody", 100); err != nil {
				t.Fatalf("transfer from: %v", err)
			}
			if a, _ := l.Allowance(ctx, "owner", "custody"); a != 20 {
				t.Fatalf("allowance = %d, want 20", a)
			}
			assertBalance(t, l, "owner", 400)
			assertBalance(t, l, "custody", 100)
		})
	}
}

func TestLedgerAllowanceWithoutFunds(t *testing.T) {
	ctx := context.Background()
	for name, l := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			if err := l.Approve(ctx, "owner", "custody", 50); err != nil {
				t.Fatal(err)
			}
			if err := l.TransferFrom(ctx, "custody", "owner", "custody", 50); !errors.Is(err, ledger.ErrInsufficientBalance) {
				t.Fatalf("expected insufficient balance, got %v", err)
			}
			if a, _ := l.Allowance(ctx, "owner", "custody"); a != 50 {
				t.Fatalf("failed pull consumed allowance: %d", a)
			}
		})
	}
}

func TestLedgerOverflow(t *testing.T) {
	ctx := context.Background()
	for name, l := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			if err := l.Mint(ctx, "whale", ledger.MaxAmount); err != nil {
				t.Fatalf("mint max: %v", err)
			}
			if err := l.Mint(ctx, "whale", 1); !errors.Is(err, ledger.ErrAmountOverflow) {
				t.Fatalf("expected overflow, got %v", err)
			}
			if err := l.Approve(ctx, "whale", "custody", ledger.MaxAmount+1); !errors.Is(err, ledger.ErrAmountOverflow) {
				t.Fatalf("expected overflow on approve, got %v", err)
			}
		})
	}
}

func TestSQLLedgerJoinsTransaction(t *testing.T) {
	ctx := context.Background()
	l := newSQLLedger(t)
	if err := l.Mint(ctx, "alice", 10); err != nil {
		t.Fatal(err)
	}
	tx, err := l.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	bound, ok := ledger.Bind(l, l.DB, tx)
	if !ok {
		t.Fatalf("sql ledger did not bind to its own database")
	}
	if err := bound.Transfer(ctx, "alice", "bob", 10); err != nil {
		t.Fatal(err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatal(err)
	}
	assertBalance(t, l, "alice", 10)
	assertBalance(t, l, "bob", 0)

	entries, err := l.Journal(ctx, "alice", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Kind != "mint" {
		t.Fatalf("journal = %+v", entries)
	}

	other := newSQLLedger(t)
	if _, ok := ledger.Bind(l, other.DB, nil); ok {
		t.Fatalf("bound without a transaction")
	}
	if _, ok := ledger.Bind(ledger.NewMemory(), l.DB, nil); ok {
		t.Fatalf("memory ledger cannot bind")
	}
}

func assertBalance(t *testing.T, l ledger.Ledger, account string, want uint64) {
	t.Helper()
	got, err := l.BalanceOf(context.Background(), account)
	if err != nil {
		t.Fatalf("balance %s: %v", account, err)
	}
	if got != want {
		t.Fatalf("balance %s = %d, want %d", account, got, want)
	}
}
