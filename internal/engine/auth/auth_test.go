package auth

import (
	"errors"
	"testing"

	"bidline/internal/domain"
)

func TestGuardOwnerOperations(t *testing.T) {
	p := domain.Project{ID: "p1", Owner: "alice", Phase: domain.Open{}}
	for _, op := range []Operation{OpAssignProject, OpAcceptSolution, OpRejectSolution} {
		if err := (Guard{}).Check(op, "alice", p); err != nil {
			t.Fatalf("%s by owner: %v", op, err)
		}
		err := (Guard{}).Check(op, "mallory", p)
		var ue UnauthorizedError
		if !errors.As(err, &ue) || ue.Role != RoleOwner {
			t.Fatalf("%s by stranger: expected owner unauthorized, got %v", op, err)
		}
		if err.Error() != "owner unauthorized" {
			t.Fatalf("unexpected message %q", err.Error())
		}
	}
}

func TestGuardSubmitRequiresAssignee(t *testing.T) {
	assigned := domain.Project{ID: "p1", Owner: "alice", Phase: domain.Assigned{Assignee: "bob", Escrowed: 10}}
	if err := (Guard{}).Check(OpSubmitSolution, "bob", assigned); err != nil {
		t.Fatalf("assignee submit: %v", err)
	}
	for _, actor := range []string{"alice", "carol"} {
		err := (Guard{}).Check(OpSubmitSolution, actor, assigned)
		if err == nil || err.Error() != "assignee unauthorized" {
			t.Fatalf("expected assignee unauthorized for %s, got %v", actor, err)
		}
	}
	open := domain.Project{ID: "p2", Owner: "alice", Phase: domain.Open{}}
	if err := (Guard{}).Check(OpSubmitSolution, "", open); err == nil {
		t.Fatalf("expected unassigned project to reject submit")
	}
}

func TestGuardUnrestrictedOperations(t *testing.T) {
	p := domain.Project{ID: "p1", Owner: "alice", Phase: domain.Completed{}}
	for _, op := range []Operation{OpPostProject, OpPlaceOffer} {
		if err := (Guard{}).Check(op, "anyone", p); err != nil {
			t.Fatalf("%s: %v", op, err)
		}
		if RequiredRole(op) != "" {
			t.Fatalf("%s should not require a role", op)
		}
	}
}

func TestGuardRejectsUnknownOperation(t *testing.T) {
	p := domain.Project{ID: "p1", Owner: "alice", Phase: domain.Open{}}
	err := (Guard{}).Check(Operation("withdraw"), "alice", p)
	var ue UnauthorizedError
	if err == nil || errors.As(err, &ue) {
		t.Fatalf("expected unknown operation error, got %v", err)
	}
	if RequiredRole(OpSubmitSolution) != RoleAssignee || RequiredRole(OpAcceptSolution) != RoleOwner {
		t.Fatalf("unexpected role table")
	}
}
