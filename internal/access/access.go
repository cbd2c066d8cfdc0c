// Package access decides what a user may do with a guide and mints share
// tokens. It is pure policy: no storage, no HTTP.
//
// ROLES, strongest first:
//
//	Owner    read, edit content, change is_public and the shared-email list,
//	         issue or revoke share tokens, delete
//	Grantee  email listed in the guide's access grants: read and edit content
//	Reader   the guide is public: read only
//	None     nothing; the guide should look like it does not exist
package access

import (
	"slices"

	"github.com/sakif/stepguide/internal/model"
)

// Role is what a user is with respect to one guide.
type Role int

const (
	RoleNone Role = iota
	RoleReader
	RoleGrantee
	RoleOwner
)

func (r Role) String() string {
	switch r {
	case RoleOwner:
		return "owner"
	case RoleGrantee:
		return "grantee"
	case RoleReader:
		return "reader"
	default:
		return "none"
	}
}

// RoleOf resolves the strongest role user holds on guide. Emails compare
// exactly. A nil user has no role, not even on public guides: every read in
// this system is authenticated.
func RoleOf(guide *model.Guide, user *model.User) Role {
	if guide == nil || user == nil {
		return RoleNone
	}
	switch {
	case guide.OwnerID == user.ID:
		return RoleOwner
	case user.Email != "" && slices.Contains(guide.SharedWith, user.Email):
		return RoleGrantee
	case guide.IsPublic:
		return RoleReader
	default:
		return RoleNone
	}
}

// CanView reports read access.
func CanView(guide *model.Guide, user *model.User) bool {
	return RoleOf(guide, user) >= RoleReader
}

// CanEdit reports permission to change name, shortcut, description and steps.
func CanEdit(guide *model.Guide, user *model.User) bool {
	return RoleOf(guide, user) >= RoleGrantee
}

// CanManageSharing reports permission to change is_public, the shared-email
// list and the share token, and to delete the guide.
func CanManageSharing(guide *model.Guide, user *model.User) bool {
	return RoleOf(guide, user) == RoleOwner
}

// NeedsGrant reports whether claiming access would add anything: owners and
// existing grantees already have at least what a grant gives.
func NeedsGrant(guide *model.Guide, user *model.User) bool {
	return RoleOf(guide, user) < RoleGrantee
}
