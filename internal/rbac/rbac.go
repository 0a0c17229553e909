// Package rbac gates user-initiated writes on a space or account.
package rbac

type Role string
type Action string

const (
	RoleViewer Role = "viewer"
	RoleMember Role = "member"
	RoleEditor Role = "editor"
	RoleAdmin  Role = "admin"
)

const (
	ActionRead  Action = "read"
	ActionReact Action = "react"
	ActionWrite Action = "write"
	ActionMount Action = "mount"
	ActionAdmin Action = "admin"
)

// Actor is the caller a session acts for.
type Actor struct {
	ID   string
	Role Role
}

func (a Actor) Can(action Action) bool {
	return a.ID != "" && Can(a.Role, action)
}

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleEditor:
		return action == ActionRead || action == ActionReact || action == ActionWrite || action == ActionMount
	case RoleMember:
		return action == ActionRead || action == ActionReact
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleMember, RoleEditor, RoleAdmin:
		return Role(role)
	default:
		return RoleViewer
	}
}
