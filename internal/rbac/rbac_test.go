package rbac

import (
	"testing"

	"formsmith/api/internal/form"
)

func TestCan(t *testing.T) {
	cases := []struct {
		name   string
		role   Role
		action Action
		allow  bool
	}{
		{name: "viewer read", role: RoleViewer, action: ActionRead, allow: true},
		{name: "viewer write", role: RoleViewer, action: ActionWrite, allow: false},
		{name: "viewer comment", role: RoleViewer, action: ActionComment, allow: true},
		{name: "editor write", role: RoleEditor, action: ActionWrite, allow: true},
		{name: "editor publish", role: RoleEditor, action: ActionPublish, allow: false},
		{name: "editor admin", role: RoleEditor, action: ActionAdmin, allow: false},
		{name: "owner publish", role: RoleOwner, action: ActionPublish, allow: true},
		{name: "owner admin", role: RoleOwner, action: ActionAdmin, allow: true},
		{name: "none read", role: RoleNone, action: ActionRead, allow: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Can(tc.role, tc.action); got != tc.allow {
				t.Fatalf("Can(%q, %q) = %v, want %v", tc.role, tc.action, got, tc.allow)
			}
		})
	}
}

func TestResolve(t *testing.T) {
	collaborators := []form.Collaborator{
		{Email: "b@x.com", Role: form.CollaboratorViewer},
		{Email: "Ed@X.com", Role: form.CollaboratorEditor},
	}

	cases := []struct {
		name     string
		identity Identity
		want     Role
	}{
		{name: "owner", identity: Identity{Email: "a@x.com"}, want: RoleOwner},
		{name: "owner case-insensitive", identity: Identity{Email: "A@X.COM"}, want: RoleOwner},
		{name: "viewer case-insensitive", identity: Identity{Email: "B@X.com"}, want: RoleViewer},
		{name: "editor", identity: Identity{Email: "ed@x.com"}, want: RoleEditor},
		{name: "stranger", identity: Identity{Email: "z@x.com"}, want: RoleNone},
		{name: "anonymous", identity: Identity{}, want: RoleNone},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Resolve(tc.identity, "a@x.com", collaborators); got != tc.want {
				t.Fatalf("Resolve(%q) = %q, want %q", tc.identity.Email, got, tc.want)
			}
		})
	}
}

func TestViewerCapabilities(t *testing.T) {
	access := ResolveAccess(Identity{Email: "B@X.com"}, "a@x.com", []form.Collaborator{
		{Email: "b@x.com", Role: form.CollaboratorViewer},
	})
	if access.Role != RoleViewer {
		t.Fatalf("role = %q, want viewer", access.Role)
	}
	if access.CanEdit() {
		t.Fatal("viewer must not edit")
	}
	if access.CanPublish() {
		t.Fatal("viewer must not publish")
	}
	if !access.CanComment() {
		t.Fatal("viewer should comment")
	}
}

func TestEditorCannotPublish(t *testing.T) {
	access := Access{Role: RoleEditor}
	if !access.CanEdit() {
		t.Fatal("editor should edit")
	}
	if access.CanPublish() || access.CanManageCollaborators() {
		t.Fatal("editor must not publish or manage collaborators")
	}
}

func TestAnonymousNeverMatchesEmptyOwner(t *testing.T) {
	if got := Resolve(Identity{}, "", nil); got != RoleNone {
		t.Fatalf("Resolve(anonymous, empty owner) = %q, want none", got)
	}
}

func TestNormalize(t *testing.T) {
	if Normalize("editor") != RoleEditor {
		t.Fatal("editor should normalize to itself")
	}
	if Normalize("admin") != RoleNone {
		t.Fatal("unknown roles normalize to none")
	}
}
