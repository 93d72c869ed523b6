package rbac

import "testing"

func TestCanEdit(t *testing.T) {
	cases := []struct {
		name    string
		isOwner bool
		role    Role
		allow   bool
	}{
		{name: "owner without membership", isOwner: true, role: RoleNone, allow: true},
		{name: "owner listed as viewer", isOwner: true, role: RoleViewer, allow: true},
		{name: "owner role", role: RoleOwner, allow: true},
		{name: "editor", role: RoleEditor, allow: true},
		{name: "viewer", role: RoleViewer, allow: false},
		{name: "no membership", role: RoleNone, allow: false},
		{name: "unknown role", role: Role("ADMIN"), allow: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CanEdit(tc.isOwner, tc.role); got != tc.allow {
				t.Fatalf("CanEdit(%v, %q) = %v, want %v", tc.isOwner, tc.role, got, tc.allow)
			}
		})
	}
}

func TestShareLinkCanEdit(t *testing.T) {
	if !ShareLinkCanEdit(true) {
		t.Fatal("expected editable share link to grant edit")
	}
	if ShareLinkCanEdit(false) {
		t.Fatal("expected read-only share link to deny edit")
	}
}

func TestNormalize(t *testing.T) {
	cases := map[string]Role{
		"OWNER":    RoleOwner,
		"editor":   RoleEditor,
		" Viewer ": RoleViewer,
		"":         RoleNone,
		"admin":    RoleNone,
	}
	for input, want := range cases {
		if got := Normalize(input); got != want {
			t.Fatalf("Normalize(%q) = %q, want %q", input, got, want)
		}
	}
}
