package access

import (
	"testing"

	"github.com/sakif/stepguide/internal/model"
)

func TestRoleOf(t *testing.T) {
	owner := &model.User{ID: "u-owner", Email: "owner@example.com"}
	grantee := &model.User{ID: "u-grantee", Email: "friend@example.com"}
	stranger := &model.User{ID: "u-stranger", Email: "stranger@example.com"}
	shouty := &model.User{ID: "u-shouty", Email: "FRIEND@example.com"}

	private := &model.Guide{OwnerID: owner.ID, SharedWith: []string{"friend@example.com"}}
	public := &model.Guide{OwnerID: owner.ID, IsPublic: true, SharedWith: []string{"friend@example.com"}}

	tests := []struct {
		name  string
		guide *model.Guide
		user  *model.User
		want  Role
	}{
		{"owner of private guide", private, owner, RoleOwner},
		{"grantee of private guide", private, grantee, RoleGrantee},
		{"stranger on private guide", private, stranger, RoleNone},
		{"email match is case-sensitive", private, shouty, RoleNone},
		{"stranger on public guide", public, stranger, RoleReader},
		{"grantee on public guide keeps edit rights", public, grantee, RoleGrantee},
		{"owner on public guide", public, owner, RoleOwner},
		{"nil user", public, nil, RoleNone},
		{"nil guide", nil, owner, RoleNone},
		{"empty email never matches", &model.Guide{OwnerID: "x", SharedWith: []string{""}}, &model.User{ID: "y"}, RoleNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RoleOf(tt.guide, tt.user); got != tt.want {
				t.Errorf("RoleOf() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPermissions(t *testing.T) {
	owner := &model.User{ID: "o", Email: "o@example.com"}
	grantee := &model.User{ID: "g", Email: "g@example.com"}
	reader := &model.User{ID: "r", Email: "r@example.com"}
	guide := &model.Guide{OwnerID: "o", IsPublic: true, SharedWith: []string{"g@example.com"}}

	tests := []struct {
		user       *model.User
		view       bool
		edit       bool
		manage     bool
		needsGrant bool
	}{
		{owner, true, true, true, false},
		{grantee, true, true, false, false},
		{reader, true, false, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.user.ID, func(t *testing.T) {
			if got := CanView(guide, tt.user); got != tt.view {
				t.Errorf("CanView() = %v, want %v", got, tt.view)
			}
			if got := CanEdit(guide, tt.user); got != tt.edit {
				t.Errorf("CanEdit() = %v, want %v", got, tt.edit)
			}
			if got := CanManageSharing(guide, tt.user); got != tt.manage {
				t.Errorf("CanManageSharing() = %v, want %v", got, tt.manage)
			}
			if got := NeedsGrant(guide, tt.user); got != tt.needsGrant {
				t.Errorf("NeedsGrant() = %v, want %v", got, tt.needsGrant)
			}
		})
	}
}

func TestRoleString(t *testing.T) {
	for role, want := range map[Role]string{
		RoleOwner: "owner", RoleGrantee: "grantee", RoleReader: "reader", RoleNone: "none",
	} {
		if got := role.String(); got != want {
			t.Errorf("Role(%d).String() = %q, want %q", role, got, want)
		}
	}
}
