package bidlinesdk

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"bidline/internal/config"
	"bidline/internal/db"
	"bidline/internal/engine"
	"bidline/internal/ledger"
	"bidline/internal/migrate"
	"bidline/internal/server"
)

func newTestAPI(t *testing.T) (*httptest.Server, ledger.SQL) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(context.Background(), conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	l := ledger.NewSQL(conn)
	handler, err := server.New(server.Config{
		Engine:   engine.New(conn, l, config.Default(), nil),
		BasePath: "/v0",
		Auth:     server.AuthConfig{JWTSecret: "sdk-secret", AllowLegacyActorHeader: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv, l
}

func clientAs(base, actor string) *Client {
	c := New(base)
	c.ActorID = actor
	return c
}

func TestClientAcceptScenario(t *testing.T) {
	srv, l := newTestAPI(t)
	ctx := context.Background()
	if err := l.Mint(ctx, "alice", 300); err != nil {
		t.Fatal(err)
	}
	alice := clientAs(srv.URL, "alice")
	bob := clientAs(srv.URL, "bob")

	p, err := alice.PostProject(ctx, "http://example.com/brief.pdf", 250)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if _, err := bob.PlaceOffer(ctx, p.ID, "http://example.com/bob.pdf", 200); err != nil {
		t.Fatalf("offer: %v", err)
	}
	if _, err := alice.Approve(ctx, 200); err != nil {
		t.Fatalf("approve: %v", err)
	}
	assigned, err := alice.Assign(ctx, p.ID, "bob")
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if assigned.State != "assigned" || assigned.EscrowedAmount == nil || *assigned.EscrowedAmount != 200 {
		t.Fatalf("assigned = %+v", assigned)
	}
	if _, err := bob.SubmitSolution(ctx, p.ID, "http://example.com/bob.rar"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	done, err := alice.AcceptSolution(ctx, p.ID)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if done.State != "completed" {
		t.Fatalf("state = %s", done.State)
	}
	acct, err := bob.Account(ctx, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if acct.Balance != 200 {
		t.Fatalf("bob balance = %d", acct.Balance)
	}

	page, err := alice.EventsPage(ctx, p.ID, 2, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Items) != 2 || page.Items[0].Type != "SolutionAccepted" || page.NextCursor == "" {
		t.Fatalf("events page = %+v", page)
	}
}

func TestClientErrors(t *testing.T) {
	srv, _ := newTestAPI(t)
	ctx := context.Background()
	alice := clientAs(srv.URL, "alice")
	bob := clientAs(srv.URL, "bob")

	p, err := alice.PostProject(ctx, "http://example.com/brief.pdf", 100)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := bob.PlaceOffer(ctx, p.ID, "http://example.com/bob.pdf", 10); err != nil {
		t.Fatal(err)
	}
	if _, err := bob.PlaceOffer(ctx, p.ID, "http://example.com/bob2.pdf", 20); ErrorCode(err) != "duplicate_offer" {
		t.Fatalf("second offer: %v", err)
	}
	if _, err := bob.Assign(ctx, p.ID, "bob"); ErrorCode(err) != "unauthorized_role" {
		t.Fatalf("non owner assign: %v", err)
	}
	_, err = alice.GetProject(ctx, "nope")
	apiErr, ok := err.(*APIError)
	if !ok || apiErr.StatusCode != http.StatusNotFound || apiErr.Code != "not_found" {
		t.Fatalf("missing project: %v", err)
	}
	anon := New(srv.URL)
	if _, err := anon.Events(ctx, 10); ErrorCode(err) != "unauthorized" {
		t.Fatalf("anonymous request: %v", err)
	}
}
