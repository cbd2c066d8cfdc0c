package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/sakif/stepguide/internal/middleware"
	"github.com/sakif/stepguide/internal/model"
)

// CookieName is the HttpOnly cookie the login handlers set.
const CookieName = "token"

// contextKey is unexported so only this package can read or write the user.
type contextKey string

const userKey contextKey = "user"

// Authenticator turns a raw credential into a user. The service layer
// implements it; this package never looks past the interface.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*model.User, error)
}

// RequireAuth rejects requests without a valid credential with 401 and stores
// the user in the context for the rest.
//
// CREDENTIAL SOURCES, first match wins:
//  1. Authorization: Bearer <jwt>   (API clients, browser extension)
//  2. Cookie: token=<jwt>           (browser sessions after GitHub login)
func RequireAuth(a Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := TokenFromRequest(r)
			if token == "" {
				unauthorized(w)
				return
			}

			user, err := a.Authenticate(r.Context(), token)
			if err != nil || user == nil {
				unauthorized(w)
				return
			}

			middleware.SetUserID(r.Context(), user.ID)
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"unauthorized","message":"valid authentication required"}`))
}

// TokenFromRequest extracts the raw credential, or "" when there is none.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if c, err := r.Cookie(CookieName); err == nil {
		return c.Value
	}
	return ""
}

// WithUser returns a context carrying user. Handler tests use it to skip the
// middleware.
func WithUser(ctx context.Context, user *model.User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// UserFromContext returns the authenticated user, or (nil, false) outside
// RequireAuth.
func UserFromContext(ctx context.Context) (*model.User, bool) {
	u, ok := ctx.Value(userKey).(*model.User)
	return u, ok && u != nil
}
