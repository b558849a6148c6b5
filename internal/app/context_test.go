package app

import (
	"context"
	"os"
	"testing"

	"bidline/internal/config"
	"bidline/internal/repo"
)

func TestOpenUsesWorkspaceConfig(t *testing.T) {
	dir := t.TempDir()
	yml := "escrow:\n  custody_account: vault\n"
	if err := os.WriteFile(config.Path(dir), []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	ws, err := Open(context.Background(), dir, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer ws.Close()
	if got := ws.Engine.Custody(); got != "vault" {
		t.Fatalf("custody = %s, want vault", got)
	}
}

func TestOpenDefaultsWithoutConfig(t *testing.T) {
	ws, err := Open(context.Background(), t.TempDir(), nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer ws.Close()
	if got := ws.Engine.Custody(); got != config.Default().Escrow.CustodyAccount {
		t.Fatalf("custody = %s", got)
	}
}

func TestCreateAPIKey(t *testing.T) {
	ctx := context.Background()
	ws, err := Open(ctx, t.TempDir(), nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer ws.Close()
	plain, key, err := CreateAPIKey(ctx, ws.Engine.Repo, "alice", "laptop")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if plain == "" || key.KeyHash == plain {
		t.Fatalf("plaintext leaked into storage: %+v", key)
	}
	got, err := ws.Engine.Repo.GetAPIKeyByHash(ctx, repo.HashAPIKey(plain))
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got.ActorID != "alice" || got.ID != key.ID {
		t.Fatalf("stored key = %+v", got)
	}
	if _, _, err := CreateAPIKey(ctx, ws.Engine.Repo, " ", "x"); err == nil {
		t.Fatalf("expected error for empty actor")
	}
}
