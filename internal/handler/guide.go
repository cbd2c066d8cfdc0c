// Package handler contains the HTTP handlers of the guide API.
//
// HANDLER RESPONSIBILITIES:
//  1. Parse the incoming request (path values, query, JSON body)
//  2. Call the service with the authenticated user
//  3. Write the response (status, JSON body or file)
//
// Handlers hold no business rules: who may see or change a guide is decided
// in the service, and handlers only translate its errors to status codes.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/sakif/stepguide/internal/apperror"
	"github.com/sakif/stepguide/internal/auth"
	"github.com/sakif/stepguide/internal/model"
	"github.com/sakif/stepguide/internal/repository"
)

// GuideService is the part of service.GuideService the handlers use.
type GuideService interface {
	Create(ctx context.Context, user *model.User, in model.GuideInput) (*model.Guide, error)
	Get(ctx context.Context, user *model.User, id string) (*model.Guide, error)
	FindByShortcut(ctx context.Context, user *model.User, shortcut string) (*model.Guide, error)
	ListMine(ctx context.Context, user *model.User, opts repository.ListOptions) ([]model.Guide, error)
	SearchPublic(ctx context.Context, user *model.User, query string, opts repository.ListOptions) ([]model.Guide, error)
	Update(ctx context.Context, user *model.User, id string, upd model.GuideUpdate) (*model.Guide, error)
	Delete(ctx context.Context, user *model.User, id string) error
	IssueShareToken(ctx context.Context, user *model.User, id string) (string, error)
	RevokeShareToken(ctx context.Context, user *model.User, id string) error
	ClaimAccess(ctx context.Context, user *model.User, token string) (*model.Guide, error)
	Screenshot(ctx context.Context, user *model.User, guideID string, stepNumber int) (string, error)
}

// GuideHandler serves /api/guides. Every route sits behind auth.RequireAuth.
type GuideHandler struct {
	guides GuideService
	logger *slog.Logger
}

func NewGuideHandler(guides GuideService, logger *slog.Logger) *GuideHandler {
	return &GuideHandler{guides: guides, logger: logger}
}

// ShareTokenResponse is returned when a token is issued.
type ShareTokenResponse struct {
	ShareToken string `json:"shareToken"`
}

// ClaimRequest is the body of POST /api/guides/claim.
type ClaimRequest struct {
	Token string `json:"token"`
}

// currentUser returns the user RequireAuth stored. A missing user means the
// route was mounted without the middleware; answer 401 rather than panic.
func currentUser(w http.ResponseWriter, r *http.Request) (*model.User, bool) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, apperror.Unauthorized("valid authentication required"))
		return nil, false
	}
	return user, true
}

// HandleListMine returns the guides the caller owns or was granted.
//
// HTTP: GET /api/guides?limit=&offset=
func (h *GuideHandler) HandleListMine(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	guides, err := h.guides.ListMine(r.Context(), user, listOptions(r))
	if err != nil {
		h.logger.Error("failed to list guides", slog.String("error", err.Error()))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(guides))
}

// HandleSearchPublic searches public guides by name and description.
//
// HTTP: GET /api/guides/public?search=&limit=&offset=
func (h *GuideHandler) HandleSearchPublic(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	guides, err := h.guides.SearchPublic(r.Context(), user, r.URL.Query().Get("search"), listOptions(r))
	if err != nil {
		h.logger.Error("failed to search guides", slog.String("error", err.Error()))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(guides))
}

// HandleGetByShortcut resolves a shortcut.
//
// HTTP: GET /api/guides/by-shortcut/{shortcut}
func (h *GuideHandler) HandleGetByShortcut(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	guide, err := h.guides.FindByShortcut(r.Context(), user, r.PathValue("shortcut"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, guide)
}

// HandleCreate creates a guide owned by the caller.
//
// HTTP: POST /api/guides
// REQUEST BODY: model.GuideInput
func (h *GuideHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	var in model.GuideInput
	if !decodeJSON(w, r, &in) {
		return
	}

	guide, err := h.guides.Create(r.Context(), user, in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, guide)
}

// HandleGet returns one guide.
//
// HTTP: GET /api/guides/{id}
func (h *GuideHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	guide, err := h.guides.Get(r.Context(), user, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, guide)
}

// HandleUpdate applies a partial update; fields left out of the body are
// unchanged, and a "steps" array replaces every step.
//
// HTTP: PUT /api/guides/{id}
// REQUEST BODY: model.GuideUpdate
func (h *GuideHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	var upd model.GuideUpdate
	if !decodeJSON(w, r, &upd) {
		return
	}

	guide, err := h.guides.Update(r.Context(), user, r.PathValue("id"), upd)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, guide)
}

// HandleDelete removes a guide with its steps, grants and screenshots.
//
// HTTP: DELETE /api/guides/{id}
func (h *GuideHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	if err := h.guides.Delete(r.Context(), user, r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleIssueShareToken mints a new share token, invalidating the old one.
//
// HTTP: POST /api/guides/{id}/share-token
func (h *GuideHandler) HandleIssueShareToken(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	token, err := h.guides.IssueShareToken(r.Context(), user, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ShareTokenResponse{ShareToken: token})
}

// HandleRevokeShareToken clears the share token.
//
// HTTP: DELETE /api/guides/{id}/share-token
func (h *GuideHandler) HandleRevokeShareToken(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	if err := h.guides.RevokeShareToken(r.Context(), user, r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleClaim exchanges a share token for a standing grant.
//
// HTTP: POST /api/guides/claim
// REQUEST BODY: {"token": "..."}
func (h *GuideHandler) HandleClaim(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req ClaimRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Token == "" {
		writeError(w, apperror.ValidationFailed("token", "token is required"))
		return
	}

	guide, err := h.guides.ClaimAccess(r.Context(), user, req.Token)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, guide)
}

// HandleScreenshot streams a step's PNG.
//
// HTTP: GET /api/guides/{id}/steps/{n}/screenshot
func (h *GuideHandler) HandleScreenshot(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	n, err := strconv.Atoi(r.PathValue("n"))
	if err != nil || n < 1 {
		writeError(w, apperror.ValidationFailed("n", "step number must be a positive integer"))
		return
	}

	path, err := h.guides.Screenshot(r.Context(), user, r.PathValue("id"), n)
	if err != nil {
		writeError(w, err)
		return
	}

	// Private guides must not end up in shared caches.
	w.Header().Set("Cache-Control", "private, max-age=300")
	w.Header().Set("Content-Type", "image/png")
	http.ServeFile(w, r, path)
}

func nonNil(guides []model.Guide) []model.Guide {
	if guides == nil {
		return []model.Guide{}
	}
	return guides
}
