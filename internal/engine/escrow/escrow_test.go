package escrow

import (
	"context"
	"errors"
	"testing"

	"bidline/internal/domain"
	"bidline/internal/ledger"
)

func TestEscrowRequiresAllowance(t *testing.T) {
	ctx := context.Background()
	l := ledger.NewMemory()
	c := Controller{Custody: "custody"}
	if err := l.Mint(ctx, "owner", 100); err != nil {
		t.Fatal(err)
	}
	p := domain.Project{ID: "p1", Owner: "owner", Phase: domain.Open{}}
	o := domain.Offer{ProjectID: "p1", Offerer: "bob", Price: 80}
	if _, err := c.Escrow(ctx, l, p, o); !errors.Is(err, domain.ErrInsufficientAllowance) {
		t.Fatalf("expected insufficient allowance, got %v", err)
	}
	if err := l.Approve(ctx, "owner", "custody", 80); err != nil {
		t.Fatal(err)
	}
	mv, err := c.Escrow(ctx, l, p, o)
	if err != nil {
		t.Fatalf("escrow: %v", err)
	}
	if mv.Amount != 80 || mv.From != "owner" || mv.To != "custody" {
		t.Fatalf("movement = %+v", mv)
	}
	if b, _ := l.BalanceOf(ctx, "custody"); b != 80 {
		t.Fatalf("custody = %d", b)
	}
}

func TestReleaseRefundAndReverse(t *testing.T) {
	ctx := context.Background()
	l := ledger.NewMemory()
	c := Controller{Custody: "custody"}
	if err := l.Mint(ctx, "custody", 50); err != nil {
		t.Fatal(err)
	}
	held := domain.Project{ID: "p1", Owner: "owner", Phase: domain.SolutionSubmitted{Assignee: "bob", Escrowed: 50, SolutionURL: "u"}}

	mv, err := c.Release(ctx, l, held)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if b, _ := l.BalanceOf(ctx, "bob"); b != 50 {
		t.Fatalf("bob = %d", b)
	}
	if err := c.Reverse(ctx, l, mv); err != nil {
		t.Fatalf("reverse: %v", err)
	}
	if b, _ := l.BalanceOf(ctx, "custody"); b != 50 {
		t.Fatalf("custody after reverse = %d", b)
	}

	if _, err := c.Refund(ctx, l, held); err != nil {
		t.Fatalf("refund: %v", err)
	}
	if b, _ := l.BalanceOf(ctx, "owner"); b != 50 {
		t.Fatalf("owner = %d", b)
	}

	open := domain.Project{ID: "p2", Owner: "owner", Phase: domain.Open{}}
	if _, err := c.Refund(ctx, l, open); err == nil {
		t.Fatalf("refund of open project should fail")
	}
}

func TestReverseEscrowRestoresAllowance(t *testing.T) {
	ctx := context.Background()
	l := ledger.NewMemory()
	c := Controller{Custody: "custody"}
	if err := l.Mint(ctx, "owner", 100); err != nil {
		t.Fatal(err)
	}
	if err := l.Approve(ctx, "owner", "custody", 60); err != nil {
		t.Fatal(err)
	}
	p := domain.Project{ID: "p1", Owner: "owner", Phase: domain.Open{}}
	mv, err := c.Escrow(ctx, l, p, domain.Offer{Offerer: "bob", Price: 60})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Reverse(ctx, l, mv); err != nil {
		t.Fatal(err)
	}
	if a, _ := l.Allowance(ctx, "owner", "custody"); a != 60 {
		t.Fatalf("allowance = %d, want 60", a)
	}
	if b, _ := l.BalanceOf(ctx, "owner"); b != 100 {
		t.Fatalf("owner = %d, want 100", b)
	}
}

func TestEscrowRefusesCustodyAsOwner(t *testing.T) {
	ctx := context.Background()
	l := ledger.NewMemory()
	c := Controller{Custody: "custody"}
	if err := l.Mint(ctx, "custody", 100); err != nil {
		t.Fatal(err)
	}
	if err := l.Approve(ctx, "custody", "custody", 100); err != nil {
		t.Fatal(err)
	}
	p := domain.Project{ID: "p1", Owner: "custody", Phase: domain.Open{}}
	o := domain.Offer{ProjectID: "p1", Offerer: "bob", Price: 100}
	if _, err := c.Escrow(ctx, l, p, o); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if a, _ := l.Allowance(ctx, "custody", "custody"); a != 100 {
		t.Fatalf("allowance consumed: %d", a)
	}
}
