// Package repository declares the storage interfaces the services depend on.
//
// WHY INTERFACES HERE?
// Services only know these method sets, never *sql.DB. The sqlite package is
// one implementation; tests can swap in fakes, and nothing above this layer
// imports a database driver.
package repository

import (
	"context"

	"github.com/sakif/stepguide/internal/model"
)

// ListOptions controls pagination for list queries. Zero values mean defaults.
type ListOptions struct {
	Limit  int
	Offset int
}

// GuideRepository persists guides, their steps and their access grants.
//
// Reads return guides with Steps (ordered by step number) and SharedWith
// populated. Callers decide what to redact.
type GuideRepository interface {
	CreateGuide(ctx context.Context, guide *model.Guide) error
	GetGuide(ctx context.Context, id string) (*model.Guide, error)
	GetGuideByShortcut(ctx context.Context, shortcut string) (*model.Guide, error)
	GetGuideByShareToken(ctx context.Context, token string) (*model.Guide, error)
	// UpdateGuide writes the scalar columns (name, shortcut, description,
	// is_public) and bumps updated_at.
	UpdateGuide(ctx context.Context, guide *model.Guide) error
	DeleteGuide(ctx context.Context, id string) error

	// ShortcutTaken reports whether any guide other than excludeID uses shortcut.
	ShortcutTaken(ctx context.Context, shortcut, excludeID string) (bool, error)
	// ShareTokenTaken reports whether any guide holds token.
	ShareTokenTaken(ctx context.Context, token string) (bool, error)
	// SetShareToken stores token for the guide; "" clears it.
	SetShareToken(ctx context.Context, guideID, token string) error

	ListGuidesForUser(ctx context.Context, userID, email string, opts ListOptions) ([]model.Guide, error)
	SearchPublicGuides(ctx context.Context, query string, opts ListOptions) ([]model.Guide, error)

	// ReplaceSteps deletes every step of the guide and inserts steps in order.
	ReplaceSteps(ctx context.Context, guideID string, steps []model.Step) error

	// ReplaceGrants makes emails the complete grant list for the guide.
	ReplaceGrants(ctx context.Context, guideID string, emails []string) error
	// AddGrant inserts a grant; an existing grant for the same email is kept.
	AddGrant(ctx context.Context, guideID, email string) error

	// WithinTx runs fn inside one transaction. fn must use the repository it is
	// given, not the outer one. Returning an error rolls everything back.
	WithinTx(ctx context.Context, fn func(repo GuideRepository) error) error
}

// UserRepository persists accounts for the identity provider.
type UserRepository interface {
	CreateUser(ctx context.Context, user *model.User) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	// UpsertGitHubUser finds the user by GitHub id, or links the id to an
	// existing account with the same email, or creates a new account.
	UpsertGitHubUser(ctx context.Context, user *model.User) error
}
