// README: Roles, actors and per-role operation gating.
package trip

import (
	"fmt"
	"strings"

	"ryde/internal/types"
)

// Role is the acting user's kind. The zero value is not a valid role.
type Role int

const (
	RolePassenger Role = iota + 1
	RoleDriver
	RoleAdmin
)

func (r Role) String() string {
	switch r {
	case RolePassenger:
		return "passenger"
	case RoleDriver:
		return "driver"
	case RoleAdmin:
		return "admin"
	}
	return fmt.Sprintf("role(%d)", int(r))
}

// ParseRole maps the session's role claim. An empty claim is a passenger,
// which is what a freshly signed-up account carries.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "passenger":
		return RolePassenger, nil
	case "driver":
		return RoleDriver, nil
	case "admin":
		return RoleAdmin, nil
	}
	return 0, fmt.Errorf("%w: unknown role %q", ErrNotAuthorized, s)
}

// Actor is the authenticated caller. Name is a display value carried onto the
// trip (passenger name at request, driver name at accept).
type Actor struct {
	ID   types.ID
	Role Role
	Name string
}

type Operation string

const (
	OpRequest       Operation = "request"
	OpEstimate      Operation = "estimate"
	OpAccept        Operation = "accept"
	OpStart         Operation = "start"
	OpComplete      Operation = "complete"
	OpCancel        Operation = "cancel"
	OpListAvailable Operation = "list_available"
	OpList          Operation = "list"
	OpGet           Operation = "get"
	OpSubscribe     Operation = "subscribe"
)

// Permits reports whether the role is offered the operation at all. Identity
// checks (own trip, assigned driver) happen in the service.
func (r Role) Permits(op Operation) bool {
	switch r {
	case RolePassenger:
		switch op {
		case OpRequest, OpEstimate, OpCancel, OpList, OpGet, OpSubscribe:
			return true
		}
	case RoleDriver:
		switch op {
		case OpAccept, OpStart, OpComplete, OpCancel, OpListAvailable, OpList, OpGet, OpSubscribe:
			return true
		}
	case RoleAdmin:
		switch op {
		case OpEstimate, OpList, OpGet, OpSubscribe:
			return true
		}
	}
	return false
}

func (a Actor) authorize(op Operation) error {
	if a.ID == "" || !a.Role.Permits(op) {
		return fmt.Errorf("%w: %s may not %s", ErrNotAuthorized, a.Role, op)
	}
	return nil
}
