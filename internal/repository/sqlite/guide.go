package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/stepguide/internal/apperror"
	"github.com/sakif/stepguide/internal/model"
	"github.com/sakif/stepguide/internal/repository"
)

const guideColumns = `g.id, g.name, g.shortcut, g.description, g.is_public, g.share_token,
	g.owner_id, g.created_at, g.updated_at`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanGuide(s rowScanner) (*model.Guide, error) {
	var (
		g     model.Guide
		token sql.NullString
	)
	err := s.Scan(
		&g.ID, &g.Name, &g.Shortcut, &g.Description, &g.IsPublic, &token,
		&g.OwnerID, &g.CreatedAt, &g.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	g.ShareToken = token.String
	return &g, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// CreateGuide inserts the guide row. Steps and grants are written separately
// with ReplaceSteps and ReplaceGrants.
func (db *DB) CreateGuide(ctx context.Context, guide *model.Guide) error {
	guide.ID = xid.New().String()
	now := time.Now().UTC()
	guide.CreatedAt = now
	guide.UpdatedAt = now

	_, err := db.q.ExecContext(ctx,
		`INSERT INTO guides (id, name, shortcut, description, is_public, share_token, owner_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		guide.ID,
		guide.Name,
		guide.Shortcut,
		guide.Description,
		guide.IsPublic,
		nullString(guide.ShareToken),
		guide.OwnerID,
		guide.CreatedAt,
		guide.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "guides.shortcut") {
			return apperror.ValidationFailed("shortcut", fmt.Sprintf("shortcut %q is already in use", guide.Shortcut))
		}
		return fmt.Errorf("sqlite: creating guide: %w", err)
	}
	return nil
}

// GetGuide returns the guide with its steps and grants.
func (db *DB) GetGuide(ctx context.Context, id string) (*model.Guide, error) {
	return db.getGuideWhere(ctx, "g.id = ?", id, "guide", id)
}

func (db *DB) GetGuideByShortcut(ctx context.Context, shortcut string) (*model.Guide, error) {
	return db.getGuideWhere(ctx, "g.shortcut = ?", shortcut, "guide", shortcut)
}

// GetGuideByShareToken never echoes the token in its NotFound error.
func (db *DB) GetGuideByShareToken(ctx context.Context, token string) (*model.Guide, error) {
	if token == "" {
		return nil, apperror.NotFound("share token", "(empty)")
	}
	return db.getGuideWhere(ctx, "g.share_token = ?", token, "share token", "(redacted)")
}

func (db *DB) getGuideWhere(ctx context.Context, where string, arg any, resource, id string) (*model.Guide, error) {
	g, err := scanGuide(db.q.QueryRowContext(ctx,
		`SELECT `+guideColumns+` FROM guides g WHERE `+where, arg))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound(resource, id)
		}
		return nil, fmt.Errorf("sqlite: getting guide by %s: %w", resource, err)
	}
	if err := db.loadChildren(ctx, g); err != nil {
		return nil, err
	}
	return g, nil
}

// UpdateGuide writes the scalar columns. The share token has its own setter.
func (db *DB) UpdateGuide(ctx context.Context, guide *model.Guide) error {
	guide.UpdatedAt = time.Now().UTC()

	result, err := db.q.ExecContext(ctx,
		`UPDATE guides
		 SET name = ?, shortcut = ?, description = ?, is_public = ?, updated_at = ?
		 WHERE id = ?`,
		guide.Name,
		guide.Shortcut,
		guide.Description,
		guide.IsPublic,
		guide.UpdatedAt,
		guide.ID,
	)
	if err != nil {
		if isUniqueViolation(err, "guides.shortcut") {
			return apperror.ValidationFailed("shortcut", fmt.Sprintf("shortcut %q is already in use", guide.Shortcut))
		}
		return fmt.Errorf("sqlite: updating guide %s: %w", guide.ID, err)
	}
	return expectOneRow(result, "guide", guide.ID)
}

// DeleteGuide removes the guide; steps and grants go with it (ON DELETE CASCADE).
func (db *DB) DeleteGuide(ctx context.Context, id string) error {
	result, err := db.q.ExecContext(ctx, `DELETE FROM guides WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: deleting guide %s: %w", id, err)
	}
	return expectOneRow(result, "guide", id)
}

func (db *DB) ShortcutTaken(ctx context.Context, shortcut, excludeID string) (bool, error) {
	var n int
	err := db.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM guides WHERE shortcut = ? AND id <> ?`,
		shortcut, excludeID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("sqlite: checking shortcut: %w", err)
	}
	return n > 0, nil
}

func (db *DB) ShareTokenTaken(ctx context.Context, token string) (bool, error) {
	var n int
	err := db.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM guides WHERE share_token = ?`, token,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("sqlite: checking share token: %w", err)
	}
	return n > 0, nil
}

// SetShareToken stores token (NULL when empty). A token already held by
// another guide is a conflict.
func (db *DB) SetShareToken(ctx context.Context, guideID, token string) error {
	result, err := db.q.ExecContext(ctx,
		`UPDATE guides SET share_token = ?, updated_at = ? WHERE id = ?`,
		nullString(token), time.Now().UTC(), guideID,
	)
	if err != nil {
		if isUniqueViolation(err, "guides.share_token") {
			return apperror.Conflict("share token", guideID)
		}
		return fmt.Errorf("sqlite: setting share token for %s: %w", guideID, err)
	}
	return expectOneRow(result, "guide", guideID)
}

// ListGuidesForUser returns guides the user owns or holds a grant for,
// newest first. The join is on (guide, email), the grants primary key, so each
// guide appears at most once.
func (db *DB) ListGuidesForUser(ctx context.Context, userID, email string, opts repository.ListOptions) ([]model.Guide, error) {
	limit, offset := normalizeListOptions(opts)
	return db.listGuides(ctx,
		`SELECT DISTINCT `+guideColumns+`
		 FROM guides g
		 LEFT JOIN access_grants a ON a.guide_id = g.id AND a.email = ?
		 WHERE g.owner_id = ? OR a.email IS NOT NULL
		 ORDER BY g.created_at DESC, g.id DESC
		 LIMIT ? OFFSET ?`,
		email, userID, limit, offset,
	)
}

// SearchPublicGuides matches query case-insensitively against name and
// description. An empty query lists every public guide.
func (db *DB) SearchPublicGuides(ctx context.Context, query string, opts repository.ListOptions) ([]model.Guide, error) {
	limit, offset := normalizeListOptions(opts)
	query = strings.TrimSpace(query)
	pattern := "%" + escapeLike(strings.ToLower(query)) + "%"

	return db.listGuides(ctx,
		`SELECT `+guideColumns+`
		 FROM guides g
		 WHERE g.is_public = 1
		   AND (? = '' OR `+unicodeLower+`(g.name) LIKE ? ESCAPE '\' OR `+unicodeLower+`(g.description) LIKE ? ESCAPE '\')
		 ORDER BY g.created_at DESC, g.id DESC
		 LIMIT ? OFFSET ?`,
		query, pattern, pattern, limit, offset,
	)
}

// listGuides scans all guide rows first and only then loads children: with a
// single-connection pool the second query would block behind open rows.
func (db *DB) listGuides(ctx context.Context, query string, args ...any) ([]model.Guide, error) {
	rows, err := db.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing guides: %w", err)
	}

	guides := make([]model.Guide, 0)
	for rows.Next() {
		g, err := scanGuide(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("sqlite: scanning guide row: %w", err)
		}
		guides = append(guides, *g)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("sqlite: iterating guides: %w", err)
	}
	rows.Close()

	for i := range guides {
		if err := db.loadChildren(ctx, &guides[i]); err != nil {
			return nil, err
		}
	}
	return guides, nil
}

func (db *DB) loadChildren(ctx context.Context, g *model.Guide) error {
	steps, err := db.listSteps(ctx, g.ID)
	if err != nil {
		return err
	}
	grants, err := db.listGrants(ctx, g.ID)
	if err != nil {
		return err
	}
	g.Steps = steps
	g.SharedWith = grants
	return nil
}

// =============================================================================
// Steps
// =============================================================================

// ReplaceSteps assigns fresh ids to steps and stores them in order.
func (db *DB) ReplaceSteps(ctx context.Context, guideID string, steps []model.Step) error {
	if _, err := db.q.ExecContext(ctx, `DELETE FROM steps WHERE guide_id = ?`, guideID); err != nil {
		return fmt.Errorf("sqlite: clearing steps of %s: %w", guideID, err)
	}

	for i := range steps {
		s := &steps[i]
		s.ID = xid.New().String()
		s.GuideID = guideID

		var hx, hy, hw, hh sql.NullFloat64
		if h := s.Highlight; h != nil {
			hx = sql.NullFloat64{Float64: h.X, Valid: true}
			hy = sql.NullFloat64{Float64: h.Y, Valid: true}
			hw = sql.NullFloat64{Float64: h.Width, Valid: true}
			hh = sql.NullFloat64{Float64: h.Height, Valid: true}
		}

		_, err := db.q.ExecContext(ctx,
			`INSERT INTO steps (id, guide_id, step_number, selector, instruction, screenshot_path,
			                    highlight_x, highlight_y, highlight_width, highlight_height)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			s.ID, guideID, s.StepNumber, s.Selector, s.Instruction, nullString(s.ScreenshotPath),
			hx, hy, hw, hh,
		)
		if err != nil {
			return fmt.Errorf("sqlite: inserting step %d of %s: %w", s.StepNumber, guideID, err)
		}
	}
	return nil
}

func (db *DB) listSteps(ctx context.Context, guideID string) ([]model.Step, error) {
	rows, err := db.q.QueryContext(ctx,
		`SELECT id, guide_id, step_number, selector, instruction, screenshot_path,
		        highlight_x, highlight_y, highlight_width, highlight_height
		 FROM steps WHERE guide_id = ?
		 ORDER BY step_number`,
		guideID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing steps of %s: %w", guideID, err)
	}
	defer rows.Close()

	steps := make([]model.Step, 0)
	for rows.Next() {
		var (
			s              model.Step
			path           sql.NullString
			hx, hy, hw, hh sql.NullFloat64
		)
		if err := rows.Scan(
			&s.ID, &s.GuideID, &s.StepNumber, &s.Selector, &s.Instruction, &path,
			&hx, &hy, &hw, &hh,
		); err != nil {
			return nil, fmt.Errorf("sqlite: scanning step row: %w", err)
		}
		s.ScreenshotPath = path.String
		if hx.Valid && hy.Valid && hw.Valid && hh.Valid {
			s.Highlight = &model.Highlight{X: hx.Float64, Y: hy.Float64, Width: hw.Float64, Height: hh.Float64}
		}
		steps = append(steps, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating steps: %w", err)
	}
	return steps, nil
}

// =============================================================================
// Access grants
// =============================================================================

func (db *DB) ReplaceGrants(ctx context.Context, guideID string, emails []string) error {
	if _, err := db.q.ExecContext(ctx, `DELETE FROM access_grants WHERE guide_id = ?`, guideID); err != nil {
		return fmt.Errorf("sqlite: clearing grants of %s: %w", guideID, err)
	}
	for _, email := range emails {
		if err := db.AddGrant(ctx, guideID, email); err != nil {
			return err
		}
	}
	return nil
}

// AddGrant is idempotent: the (guide_id, email) primary key absorbs repeats.
func (db *DB) AddGrant(ctx context.Context, guideID, email string) error {
	_, err := db.q.ExecContext(ctx,
		`INSERT INTO access_grants (guide_id, email, created_at) VALUES (?, ?, ?)
		 ON CONFLICT (guide_id, email) DO NOTHING`,
		guideID, email, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: granting %s access: %w", guideID, err)
	}
	return nil
}

func (db *DB) listGrants(ctx context.Context, guideID string) ([]string, error) {
	rows, err := db.q.QueryContext(ctx,
		`SELECT email FROM access_grants WHERE guide_id = ? ORDER BY created_at, email`, guideID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing grants of %s: %w", guideID, err)
	}
	defer rows.Close()

	var emails []string
	for rows.Next() {
		var e string
		if err := rows.Scan(&e); err != nil {
			return nil, fmt.Errorf("sqlite: scanning grant row: %w", err)
		}
		emails = append(emails, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating grants: %w", err)
	}
	return emails, nil
}

// =============================================================================
// helpers
// =============================================================================

func expectOneRow(result sql.Result, resource, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound(resource, id)
	}
	return nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
