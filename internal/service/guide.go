// Package service contains the business logic layer of the application.
//
// THE THREE-LAYER ARCHITECTURE:
//
//	Handler (HTTP layer)     → parses requests, writes responses
//	Service (Business layer) → validates, authorizes, orchestrates
//	Repository (Data layer)  → reads/writes the database
//
// GuideService additionally drives the content store (screenshots and the
// rich-metadata document), so it is the one place that keeps the relational
// rows and the per-guide directory in step with each other.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"slices"

	"github.com/sakif/stepguide/internal/access"
	"github.com/sakif/stepguide/internal/apperror"
	"github.com/sakif/stepguide/internal/content"
	"github.com/sakif/stepguide/internal/model"
	"github.com/sakif/stepguide/internal/repository"
)

// GuideService runs the guide lifecycle: create, read, update, delete, list,
// sharing.
//
// ORDERING RULES:
//   - Create and Update do all relational writes in one transaction; the
//     screenshot pipeline runs inside it, so a failure rolls the rows back.
//   - Update, Delete and share-token changes hold the guide's lock
//     (content.Store.Lock) from a re-read under the lock to the last file
//     write. The lock is only taken for guides that exist. Two updates of one guide therefore
//     cannot interleave a commit with another's sidecar write.
//   - Delete removes the directory only after the row delete committed.
//   - Every guide handed out has been merged with its rich metadata and, for
//     anyone but the owner, redacted.
type GuideService struct {
	repo    repository.GuideRepository
	content *content.Store
	tokens  *access.Issuer
	logger  *slog.Logger
	workers int
}

// NewGuideService wires the service. Screenshot processing uses up to
// GOMAXPROCS goroutines per request.
func NewGuideService(repo repository.GuideRepository, store *content.Store, logger *slog.Logger) *GuideService {
	return &GuideService{
		repo:    repo,
		content: store,
		tokens:  access.NewIssuer(repo),
		logger:  logger,
		workers: max(1, runtime.GOMAXPROCS(0)),
	}
}

// =============================================================================
// Create
// =============================================================================

// Create validates in, stores the guide owned by user and returns it.
func (s *GuideService) Create(ctx context.Context, user *model.User, in model.GuideInput) (*model.Guide, error) {
	v, err := validateGuideInput(&in)
	if err != nil {
		return nil, err
	}

	taken, err := s.repo.ShortcutTaken(ctx, v.shortcut, "")
	if err != nil {
		return nil, fmt.Errorf("creating guide: %w", err)
	}
	if taken {
		return nil, shortcutInUse(v.shortcut)
	}

	guide := &model.Guide{
		Name:        v.name,
		Shortcut:    v.shortcut,
		Description: v.description,
		IsPublic:    in.IsPublic,
		OwnerID:     user.ID,
	}

	dirCreated := false
	err = s.repo.WithinTx(ctx, func(repo repository.GuideRepository) error {
		if err := repo.CreateGuide(ctx, guide); err != nil {
			return err
		}
		if err := s.content.Ensure(guide.ID); err != nil {
			return err
		}
		dirCreated = true

		steps, err := s.buildSteps(ctx, guide.ID, in.Steps)
		if err != nil {
			return err
		}
		if err := repo.ReplaceSteps(ctx, guide.ID, steps); err != nil {
			return err
		}
		s.writeRichMetadata(guide.ID, steps)

		if err := repo.ReplaceGrants(ctx, guide.ID, v.emails); err != nil {
			return err
		}

		guide.Steps = steps
		guide.SharedWith = v.emails
		return nil
	})
	if err != nil {
		if dirCreated {
			s.destroyDir(guide.ID)
		}
		if isDomainError(err) {
			return nil, err
		}
		s.logger.Error("failed to create guide",
			slog.String("shortcut", v.shortcut),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("creating guide: %w", err)
	}

	s.logger.Info("guide created",
		slog.String("id", guide.ID),
		slog.String("ownerID", user.ID),
		slog.Int("steps", len(guide.Steps)),
	)
	if len(guide.SharedWith) == 0 {
		guide.SharedWith = nil
	}
	return guide, nil
}

// =============================================================================
// Read
// =============================================================================

// Get returns a guide the user may view. Guides they cannot see are NotFound.
func (s *GuideService) Get(ctx context.Context, user *model.User, id string) (*model.Guide, error) {
	guide, err := s.loadVisible(ctx, user, id)
	if err != nil {
		return nil, err
	}
	return s.present(guide, user), nil
}

// FindByShortcut resolves a shortcut with the same visibility rule as Get.
func (s *GuideService) FindByShortcut(ctx context.Context, user *model.User, shortcut string) (*model.Guide, error) {
	guide, err := s.repo.GetGuideByShortcut(ctx, shortcut)
	if err != nil {
		return nil, err
	}
	if !access.CanView(guide, user) {
		return nil, apperror.NotFound("guide", shortcut)
	}
	return s.present(guide, user), nil
}

// ListMine returns guides the user owns or was granted, each at most once.
func (s *GuideService) ListMine(ctx context.Context, user *model.User, opts repository.ListOptions) ([]model.Guide, error) {
	guides, err := s.repo.ListGuidesForUser(ctx, user.ID, user.Email, opts)
	if err != nil {
		return nil, fmt.Errorf("listing guides: %w", err)
	}
	return s.presentAll(guides, user), nil
}

// SearchPublic returns public guides whose name or description contains query
// (case-insensitive). An empty query lists all public guides.
func (s *GuideService) SearchPublic(ctx context.Context, user *model.User, query string, opts repository.ListOptions) ([]model.Guide, error) {
	guides, err := s.repo.SearchPublicGuides(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("searching guides: %w", err)
	}
	return s.presentAll(guides, user), nil
}

// Screenshot returns the absolute path of a step's screenshot for a guide the
// user may view. The path is checked to be a readable file.
func (s *GuideService) Screenshot(ctx context.Context, user *model.User, guideID string, stepNumber int) (string, error) {
	guide, err := s.loadVisible(ctx, user, guideID)
	if err != nil {
		return "", err
	}

	idx := slices.IndexFunc(guide.Steps, func(st model.Step) bool { return st.StepNumber == stepNumber })
	if idx < 0 || guide.Steps[idx].ScreenshotPath == "" {
		return "", apperror.NotFound("screenshot", fmt.Sprintf("%s/%d", guideID, stepNumber))
	}

	path, err := s.content.Resolve(guide.Steps[idx].ScreenshotPath)
	if err != nil {
		s.logger.Warn("stored screenshot is not readable",
			slog.String("guideID", guideID),
			slog.Int("step", stepNumber),
			slog.String("error", err.Error()),
		)
		return "", apperror.NotFound("screenshot", fmt.Sprintf("%s/%d", guideID, stepNumber))
	}
	return path, nil
}

// =============================================================================
// Update
// =============================================================================

// Update applies the non-nil fields of upd.
//
// Owners and grantees may change name, shortcut, description and steps.
// Changing is_public or the shared-email list is owner-only; sending the
// current value back is not a change. A non-nil Steps replaces every step and
// every screenshot.
func (s *GuideService) Update(ctx context.Context, user *model.User, id string, upd model.GuideUpdate) (*model.Guide, error) {
	guide, unlock, err := s.lockVisible(ctx, user, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if !access.CanEdit(guide, user) {
		return nil, apperror.Forbidden("you do not have permission to edit this guide")
	}

	if err := s.applyScalars(guide, upd); err != nil {
		return nil, err
	}

	var emails []string
	grantsChanged := false
	if upd.SharedWith != nil {
		if emails, err = validateEmails(*upd.SharedWith); err != nil {
			return nil, err
		}
		grantsChanged = !sameSet(emails, guide.SharedWith)
	}
	publicChanged := upd.IsPublic != nil && *upd.IsPublic != guide.IsPublic
	if (grantsChanged || publicChanged) && !access.CanManageSharing(guide, user) {
		return nil, apperror.Forbidden("only the owner can change visibility or sharing")
	}
	if upd.IsPublic != nil {
		guide.IsPublic = *upd.IsPublic
	}

	if upd.Steps != nil {
		if len(*upd.Steps) == 0 {
			return nil, apperror.ValidationFailed("steps", "a guide needs at least one step")
		}
		if err := validateSteps(*upd.Steps); err != nil {
			return nil, err
		}
	}

	taken, err := s.repo.ShortcutTaken(ctx, guide.Shortcut, guide.ID)
	if err != nil {
		return nil, fmt.Errorf("updating guide %s: %w", id, err)
	}
	if taken {
		return nil, shortcutInUse(guide.Shortcut)
	}

	err = s.repo.WithinTx(ctx, func(repo repository.GuideRepository) error {
		if err := repo.UpdateGuide(ctx, guide); err != nil {
			return err
		}
		if grantsChanged {
			if err := repo.ReplaceGrants(ctx, guide.ID, emails); err != nil {
				return err
			}
		}
		if upd.Steps == nil {
			return nil
		}

		if err := s.content.Replace(guide.ID); err != nil {
			return err
		}
		steps, err := s.buildSteps(ctx, guide.ID, *upd.Steps)
		if err != nil {
			return err
		}
		if err := repo.ReplaceSteps(ctx, guide.ID, steps); err != nil {
			return err
		}
		s.writeRichMetadata(guide.ID, steps)
		return nil
	})
	if err != nil {
		if isDomainError(err) {
			return nil, err
		}
		s.logger.Error("failed to update guide",
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("updating guide %s: %w", id, err)
	}

	s.logger.Info("guide updated",
		slog.String("id", id),
		slog.String("userID", user.ID),
		slog.Bool("stepsReplaced", upd.Steps != nil),
	)

	updated, err := s.repo.GetGuide(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reloading guide %s: %w", id, err)
	}
	return s.present(updated, user), nil
}

func (s *GuideService) applyScalars(guide *model.Guide, upd model.GuideUpdate) error {
	if upd.Name != nil {
		name, err := validateName(*upd.Name)
		if err != nil {
			return err
		}
		guide.Name = name
	}
	if upd.Shortcut != nil {
		shortcut, err := validateShortcut(*upd.Shortcut)
		if err != nil {
			return err
		}
		guide.Shortcut = shortcut
	}
	if upd.Description != nil {
		description, err := validateDescription(*upd.Description)
		if err != nil {
			return err
		}
		guide.Description = description
	}
	return nil
}

// =============================================================================
// Delete
// =============================================================================

// Delete removes a guide. Owner only.
func (s *GuideService) Delete(ctx context.Context, user *model.User, id string) error {
	guide, unlock, err := s.lockVisible(ctx, user, id)
	if err != nil {
		return err
	}
	defer unlock()

	if !access.CanManageSharing(guide, user) {
		return apperror.Forbidden("only the owner can delete this guide")
	}

	if err := s.repo.DeleteGuide(ctx, id); err != nil {
		if isDomainError(err) {
			return err
		}
		s.logger.Error("failed to delete guide",
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("deleting guide %s: %w", id, err)
	}

	// The rows are gone; a leftover directory is harmless garbage.
	s.destroyDir(id)

	s.logger.Info("guide deleted", slog.String("id", id), slog.String("ownerID", user.ID))
	return nil
}

// =============================================================================
// Sharing
// =============================================================================

// IssueShareToken mints a new token for the guide, replacing any previous one.
// Owner only.
func (s *GuideService) IssueShareToken(ctx context.Context, user *model.User, id string) (string, error) {
	guide, unlock, err := s.lockVisible(ctx, user, id)
	if err != nil {
		return "", err
	}
	defer unlock()

	if !access.CanManageSharing(guide, user) {
		return "", apperror.Forbidden("only the owner can share this guide")
	}

	token, err := s.tokens.Issue(ctx)
	if err != nil {
		return "", fmt.Errorf("issuing share token for %s: %w", id, err)
	}
	if err := s.repo.SetShareToken(ctx, id, token); err != nil {
		return "", fmt.Errorf("issuing share token for %s: %w", id, err)
	}

	s.logger.Info("share token issued", slog.String("guideID", id))
	return token, nil
}

// RevokeShareToken clears the guide's token. Owner only.
func (s *GuideService) RevokeShareToken(ctx context.Context, user *model.User, id string) error {
	guide, unlock, err := s.lockVisible(ctx, user, id)
	if err != nil {
		return err
	}
	defer unlock()

	if !access.CanManageSharing(guide, user) {
		return apperror.Forbidden("only the owner can change sharing")
	}
	if err := s.repo.SetShareToken(ctx, id, ""); err != nil {
		return fmt.Errorf("revoking share token for %s: %w", id, err)
	}

	s.logger.Info("share token revoked", slog.String("guideID", id))
	return nil
}

// ClaimAccess turns possession of a share token into a standing grant for the
// user's email. Owners and existing grantees get the guide back unchanged, so
// claiming twice is harmless.
func (s *GuideService) ClaimAccess(ctx context.Context, user *model.User, token string) (*model.Guide, error) {
	if user.Email == "" {
		return nil, apperror.ValidationFailed("email", "an email address is required to claim access")
	}

	guide, err := s.repo.GetGuideByShareToken(ctx, token)
	if err != nil {
		return nil, err
	}

	if access.NeedsGrant(guide, user) {
		if err := s.repo.AddGrant(ctx, guide.ID, user.Email); err != nil {
			return nil, fmt.Errorf("claiming access to %s: %w", guide.ID, err)
		}
		guide.SharedWith = append(guide.SharedWith, user.Email)
		s.logger.Info("access claimed",
			slog.String("guideID", guide.ID),
			slog.String("userID", user.ID),
		)
	}
	return s.present(guide, user), nil
}

// =============================================================================
// helpers
// =============================================================================

// lockVisible takes the guide's lock and returns the guide as read under it.
// The guide must exist and be visible before the lock is taken, so unknown ids
// never leave a lock file behind. If the guide was deleted while waiting, the
// lock file is removed again.
func (s *GuideService) lockVisible(ctx context.Context, user *model.User, id string) (*model.Guide, func(), error) {
	if _, err := s.loadVisible(ctx, user, id); err != nil {
		return nil, nil, err
	}

	unlock, err := s.lock(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	guide, err := s.repo.GetGuide(ctx, id)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			s.content.RemoveLock(id)
		}
		unlock()
		return nil, nil, err
	}
	if !access.CanView(guide, user) {
		unlock()
		return nil, nil, apperror.NotFound("guide", id)
	}
	return guide, unlock, nil
}

// lock maps a malformed id to NotFound, like any other unknown guide.
func (s *GuideService) lock(ctx context.Context, id string) (func(), error) {
	unlock, err := s.content.Lock(ctx, id)
	if err != nil {
		if errors.Is(err, content.ErrInvalidPath) {
			return nil, apperror.NotFound("guide", id)
		}
		return nil, fmt.Errorf("locking guide %s: %w", id, err)
	}
	return unlock, nil
}

func (s *GuideService) loadVisible(ctx context.Context, user *model.User, id string) (*model.Guide, error) {
	guide, err := s.repo.GetGuide(ctx, id)
	if err != nil {
		return nil, err
	}
	if !access.CanView(guide, user) {
		return nil, apperror.NotFound("guide", id)
	}
	return guide, nil
}

// present merges rich metadata and redacts owner-only fields for everyone
// else.
func (s *GuideService) present(guide *model.Guide, user *model.User) *model.Guide {
	s.content.Hydrate(guide)
	if access.RoleOf(guide, user) != access.RoleOwner {
		redacted := guide.Redacted()
		return &redacted
	}
	return guide
}

func (s *GuideService) presentAll(guides []model.Guide, user *model.User) []model.Guide {
	for i := range guides {
		guides[i] = *s.present(&guides[i], user)
	}
	return guides
}

func (s *GuideService) destroyDir(id string) {
	if err := s.content.Destroy(id); err != nil {
		s.logger.Error("failed to remove guide directory",
			slog.String("guideID", id),
			slog.String("error", err.Error()),
		)
	}
}

func shortcutInUse(shortcut string) error {
	return apperror.ValidationFailed("shortcut", fmt.Sprintf("shortcut %q is already in use", shortcut))
}

// isDomainError reports errors that already carry a caller-facing message.
func isDomainError(err error) bool {
	var appErr *apperror.AppError
	return errors.As(err, &appErr)
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for _, x := range a {
		if !slices.Contains(b, x) {
			return false
		}
	}
	return true
}
