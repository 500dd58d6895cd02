package rbac

import (
	"strings"

	"formsmith/api/internal/form"
)

type Role string
type Action string

const (
	RoleNone   Role = "none"
	RoleViewer Role = "viewer"
	RoleEditor Role = "editor"
	RoleOwner  Role = "owner"
)

const (
	ActionRead    Action = "read"
	ActionComment Action = "comment"
	ActionWrite   Action = "write"
	ActionPublish Action = "publish"
	ActionAdmin   Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleOwner:
		return true
	case RoleEditor:
		return action == ActionRead || action == ActionComment || action == ActionWrite
	case RoleViewer:
		return action == ActionRead || action == ActionComment
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleNone, RoleViewer, RoleEditor, RoleOwner:
		return Role(role)
	default:
		return RoleNone
	}
}

// Identity is the acting user as supplied by the identity provider. A zero
// Identity is anonymous.
type Identity struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
}

func (i Identity) Anonymous() bool {
	return strings.TrimSpace(i.Email) == ""
}

// Resolve derives the effective role of identity on a form owned by
// ownerEmail. Emails compare case-insensitively.
func Resolve(identity Identity, ownerEmail string, collaborators []form.Collaborator) Role {
	if identity.Anonymous() {
		return RoleNone
	}
	if sameEmail(identity.Email, ownerEmail) {
		return RoleOwner
	}
	for _, c := range collaborators {
		if !sameEmail(identity.Email, c.Email) {
			continue
		}
		switch c.Role {
		case form.CollaboratorEditor:
			return RoleEditor
		case form.CollaboratorViewer:
			return RoleViewer
		}
	}
	return RoleNone
}

// Access is the capability view of a resolved role.
type Access struct {
	Role Role `json:"role"`
}

func ResolveAccess(identity Identity, ownerEmail string, collaborators []form.Collaborator) Access {
	return Access{Role: Resolve(identity, ownerEmail, collaborators)}
}

func (a Access) CanView() bool    { return Can(a.Role, ActionRead) }
func (a Access) CanComment() bool { return Can(a.Role, ActionComment) }
func (a Access) CanEdit() bool    { return Can(a.Role, ActionWrite) }

// CanPublish is owner-only: collaborators never change the public lifecycle.
func (a Access) CanPublish() bool { return Can(a.Role, ActionPublish) }

func (a Access) CanManageCollaborators() bool { return Can(a.Role, ActionAdmin) }

func sameEmail(a, b string) bool {
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)
	return a != "" && strings.EqualFold(a, b)
}
