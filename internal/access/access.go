// Package access holds the pure role checks consulted before every mutation.
// Nothing here touches storage.
package access

import "roomchat/internal/models"

// Action is something a user may attempt.
type Action int

const (
	ReadRooms Action = iota
	PostMessage
	UploadFile
	ManageRooms
	ManageUsers
	ViewDashboard
	ChangeOwnPassword
)

func (a Action) String() string {
	switch a {
	case ReadRooms:
		return "read_rooms"
	case PostMessage:
		return "post_message"
	case UploadFile:
		return "upload_file"
	case ManageRooms:
		return "manage_rooms"
	case ManageUsers:
		return "manage_users"
	case ViewDashboard:
		return "view_dashboard"
	case ChangeOwnPassword:
		return "change_own_password"
	default:
		return "unknown"
	}
}

func IsAdmin(u models.User) bool { return u.Role == models.RoleAdmin }

func IsModerator(u models.User) bool { return u.Role == models.RoleModerator }

// HasRole reports whether u holds any of roles.
func HasRole(u models.User, roles ...models.Role) bool {
	for _, r := range roles {
		if u.Role == r {
			return true
		}
	}
	return false
}

// IsActiveMember reports whether u is active and holds a known role.
func IsActiveMember(u models.User) bool {
	return u.Active && HasRole(u, models.RoleAdmin, models.RoleModerator, models.RoleMember)
}

// Allow decides whether u may perform a. Inactive accounts may do nothing.
func Allow(u models.User, a Action) bool {
	if !IsActiveMember(u) {
		return false
	}
	switch u.Role {
	case models.RoleAdmin:
		return true
	case models.RoleModerator, models.RoleMember:
		switch a {
		case ReadRooms, PostMessage, UploadFile:
			return true
		case ManageRooms, ManageUsers, ViewDashboard, ChangeOwnPassword:
			return false
		}
		return false
	default:
		return false
	}
}
