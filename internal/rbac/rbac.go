package rbac

import "strings"

type Role string

const (
	RoleNone   Role = ""
	RoleOwner  Role = "OWNER"
	RoleEditor Role = "EDITOR"
	RoleViewer Role = "VIEWER"
)

// CanEdit reports whether an identity may mutate a board. Owners always can;
// otherwise the membership role decides.
func CanEdit(isOwner bool, role Role) bool {
	if isOwner {
		return true
	}
	switch role {
	case RoleOwner, RoleEditor:
		return true
	default:
		return false
	}
}

// ShareLinkCanEdit is the capability granted through a share link. Membership
// plays no part in it.
func ShareLinkCanEdit(linkCanEdit bool) bool {
	return linkCanEdit
}

func Normalize(role string) Role {
	switch Role(strings.ToUpper(strings.TrimSpace(role))) {
	case RoleOwner:
		return RoleOwner
	case RoleEditor:
		return RoleEditor
	case RoleViewer:
		return RoleViewer
	default:
		return RoleNone
	}
}
