package handler_test

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/require"

	"github.com/sakif/stepguide/internal/auth"
	"github.com/sakif/stepguide/internal/content"
	"github.com/sakif/stepguide/internal/handler"
	"github.com/sakif/stepguide/internal/repository/sqlite"
	"github.com/sakif/stepguide/internal/service"
)

const testMaxBody = 1 << 20

// testAPI is the real stack (in-memory sqlite, temp content root) behind a
// chi router laid out like the production one.
type testAPI struct {
	router http.Handler
	tokens *auth.TokenService
}

func newTestAPI(t *testing.T, github handler.GitHubLogin) *testAPI {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := content.NewStore(t.TempDir(), logger)
	require.NoError(t, err)

	tokens, err := auth.NewTokenService("handler-test-secret-0123456789", time.Hour)
	require.NoError(t, err)

	authSvc := service.NewAuthService(db, tokens, auth.NewPasswordServiceForTest(), logger)
	guideSvc := service.NewGuideService(db, store, logger)

	ah := handler.NewAuthHandler(authSvc, github, handler.CookieSettings{MaxAge: time.Hour}, logger)
	gh := handler.NewGuideHandler(guideSvc, logger)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestSize(testMaxBody))
	r.Get("/auth/github/login", ah.HandleGitHubLogin)
	r.Get("/auth/github/callback", ah.HandleGitHubCallback)
	r.Post("/api/auth/register", ah.HandleRegister)
	r.Post("/api/auth/token", ah.HandleToken)
	r.Post("/api/auth/logout", ah.HandleLogout)
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(authSvc))
		r.Get("/api/me", ah.HandleMe)
		r.Get("/api/guides", gh.HandleListMine)
		r.Post("/api/guides", gh.HandleCreate)
		r.Get("/api/guides/public", gh.HandleSearchPublic)
		r.Post("/api/guides/claim", gh.HandleClaim)
		r.Get("/api/guides/by-shortcut/{shortcut}", gh.HandleGetByShortcut)
		r.Get("/api/guides/{id}", gh.HandleGet)
		r.Put("/api/guides/{id}", gh.HandleUpdate)
		r.Delete("/api/guides/{id}", gh.HandleDelete)
		r.Post("/api/guides/{id}/share-token", gh.HandleIssueShareToken)
		r.Delete("/api/guides/{id}/share-token", gh.HandleRevokeShareToken)
		r.Get("/api/guides/{id}/steps/{n}/screenshot", gh.HandleScreenshot)
	})

	return &testAPI{router: r, tokens: tokens}
}

// do sends a JSON request. body may be nil, a string (sent as is) or any
// value (JSON-encoded).
func (a *testAPI) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	a.router.ServeHTTP(rr, req)
	return rr
}

// register creates an account and returns its bearer token.
func (a *testAPI) register(t *testing.T, email string) string {
	t.Helper()
	rr := a.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"email":    email,
		"password": "password-123",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var res handler.TokenResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&res))
	require.NotEmpty(t, res.AccessToken)
	return res.AccessToken
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&v), rr.Body.String())
	return v
}

func pngBase64(t *testing.T, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.White)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}
