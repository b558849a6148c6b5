package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"bidline/internal/config"
	"bidline/internal/db"
	"bidline/internal/domain"
	"bidline/internal/engine"
	"bidline/internal/ledger"
	"bidline/internal/migrate"
	"bidline/internal/repo"
)

// Workspace is an opened bidline workspace: its config, migrated database
// and a registry engine bound to the workspace's SQL ledger.
type Workspace struct {
	Dir    string
	Config *config.Config
	DB     *sql.DB
	Engine engine.Engine
}

// Open loads bidline.yml (falling back to defaults when absent), opens and
// migrates the database and builds the engine.
func Open(ctx context.Context, dir string, logger *slog.Logger) (*Workspace, error) {
	cfg, err := config.LoadOptional(dir)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Workspace{
		Dir:    dir,
		Config: cfg,
		DB:     conn,
		Engine: engine.New(conn, ledger.NewSQL(conn), cfg, logger),
	}, nil
}

func (w *Workspace) Close() error {
	return w.DB.Close()
}

// Ledger returns the workspace's SQL ledger, which also mints and keeps a
// journal.
func (w *Workspace) Ledger() ledger.SQL {
	return ledger.NewSQL(w.DB)
}

// CreateAPIKey stores a new key for actorID and returns its plaintext once;
// only the hash is persisted.
func CreateAPIKey(ctx context.Context, r repo.Repo, actorID, name string) (string, domain.APIKey, error) {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return "", domain.APIKey{}, fmt.Errorf("%w: actor is required", domain.ErrInvalidInput)
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", domain.APIKey{}, err
	}
	plain := "bl_" + hex.EncodeToString(buf)
	key := domain.APIKey{
		ID:        uuid.NewString(),
		ActorID:   actorID,
		Name:      strings.TrimSpace(name),
		KeyHash:   repo.HashAPIKey(plain),
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if err := r.InsertAPIKey(ctx, key); err != nil {
		return "", domain.APIKey{}, err
	}
	return plain, key, nil
}
