package auth

import (
	"fmt"

	"bidline/internal/domain"
)

// Operation names a registry mutation subject to authorization.
type Operation string

const (
	OpPostProject    Operation = "post_project"
	OpPlaceOffer     Operation = "place_offer"
	OpAssignProject  Operation = "assign_project"
	OpSubmitSolution Operation = "submit_solution"
	OpAcceptSolution Operation = "accept_solution"
	OpRejectSolution Operation = "reject_solution"
)

type Role string

const (
	RoleOwner    Role = "owner"
	RoleAssignee Role = "assignee"
)

// UnauthorizedError reports a caller that does not hold the role an
// operation requires on a project.
type UnauthorizedError struct {
	Role  Role
	Actor string
}

func (e UnauthorizedError) Error() string {
	return fmt.Sprintf("%s unauthorized", e.Role)
}

// Guard decides whether an actor may perform an operation. It is stateless:
// the project record carries everything it needs.
type Guard struct{}

func (Guard) Check(op Operation, actor string, p domain.Project) error {
	switch op {
	case OpPostProject, OpPlaceOffer, OpAssignProject, OpSubmitSolution, OpAcceptSolution, OpRejectSolution:
	default:
		return fmt.Errorf("unknown operation %s", op)
	}
	switch RequiredRole(op) {
	case RoleOwner:
		if actor != p.Owner {
			return UnauthorizedError{Role: RoleOwner, Actor: actor}
		}
	case RoleAssignee:
		assignee, ok := p.Assignee()
		if !ok || actor != assignee {
			return UnauthorizedError{Role: RoleAssignee, Actor: actor}
		}
	}
	return nil
}

// RequiredRole returns the role op demands, or "" when anyone may call it.
func RequiredRole(op Operation) Role {
	switch op {
	case OpAssignProject, OpAcceptSolution, OpRejectSolution:
		return RoleOwner
	case OpSubmitSolution:
		return RoleAssignee
	}
	return ""
}
