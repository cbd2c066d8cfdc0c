package handler_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/stepguide/internal/auth"
	"github.com/sakif/stepguide/internal/handler"
	"github.com/sakif/stepguide/internal/model"
)

// fakeGitHub stands in for the OAuth provider.
type fakeGitHub struct {
	user        *auth.GitHubUser
	err         error
	gotCode     string
	gotAuthURLs []string
}

func (f *fakeGitHub) AuthURL(state string) string {
	u := "https://github.example/login?state=" + url.QueryEscape(state)
	f.gotAuthURLs = append(f.gotAuthURLs, u)
	return u
}

func (f *fakeGitHub) Exchange(ctx context.Context, code string) (*auth.GitHubUser, error) {
	f.gotCode = code
	return f.user, f.err
}

func findCookie(rr *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rr.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestRegisterAndLogin(t *testing.T) {
	api := newTestAPI(t, nil)

	t.Run("register sets the session cookie", func(t *testing.T) {
		rr := api.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
			"email": "ann@example.com", "password": "password-123",
		})
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

		cookie := findCookie(rr, auth.CookieName)
		require.NotNil(t, cookie)
		assert.True(t, cookie.HttpOnly)
		assert.Equal(t, 3600, cookie.MaxAge)

		res := decode[handler.TokenResponse](t, rr)
		assert.Equal(t, "bearer", res.TokenType)
		assert.Equal(t, cookie.Value, res.AccessToken)
		assert.Equal(t, "ann@example.com", res.User.Email)
		assert.NotContains(t, rr.Body.String(), "password")
	})

	t.Run("duplicate email is a conflict", func(t *testing.T) {
		rr := api.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
			"email": "ann@example.com", "password": "password-456",
		})
		assert.Equal(t, http.StatusConflict, rr.Code)
		assert.Equal(t, "email", decode[handler.ErrorResponse](t, rr).Field)
	})

	t.Run("short password", func(t *testing.T) {
		rr := api.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
			"email": "bo@example.com", "password": "short",
		})
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("json login", func(t *testing.T) {
		rr := api.do(t, http.MethodPost, "/api/auth/token", "", map[string]string{
			"email": "ann@example.com", "password": "password-123",
		})
		require.Equal(t, http.StatusOK, rr.Code)
		assert.NotEmpty(t, decode[handler.TokenResponse](t, rr).AccessToken)
	})

	t.Run("form login", func(t *testing.T) {
		form := url.Values{"username": {"ann@example.com"}, "password": {"password-123"}}
		req := httptest.NewRequest(http.MethodPost, "/api/auth/token", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rr := httptest.NewRecorder()
		api.router.ServeHTTP(rr, req)

		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		assert.NotEmpty(t, decode[handler.TokenResponse](t, rr).AccessToken)
	})

	t.Run("wrong password", func(t *testing.T) {
		rr := api.do(t, http.MethodPost, "/api/auth/token", "", map[string]string{
			"email": "ann@example.com", "password": "wrong-password",
		})
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Equal(t, "Bearer", rr.Header().Get("WWW-Authenticate"))
		assert.Nil(t, findCookie(rr, auth.CookieName))
	})
}

func TestMeWithCookie(t *testing.T) {
	api := newTestAPI(t, nil)
	token := api.register(t, "cat@example.com")

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.AddCookie(&http.Cookie{Name: auth.CookieName, Value: token})
	rr := httptest.NewRecorder()
	api.router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "cat@example.com", decode[model.User](t, rr).Email)
}

func TestLogoutClearsCookie(t *testing.T) {
	api := newTestAPI(t, nil)

	rr := api.do(t, http.MethodPost, "/api/auth/logout", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	cookie := findCookie(rr, auth.CookieName)
	require.NotNil(t, cookie)
	assert.Empty(t, cookie.Value)
	assert.Less(t, cookie.MaxAge, 0)
}

func TestGitHubLoginFlow(t *testing.T) {
	gh := &fakeGitHub{user: &auth.GitHubUser{ID: 77, Login: "octo", Email: "octo@example.com"}}
	api := newTestAPI(t, gh)

	// --- login: redirect plus state cookie ---
	rr := api.do(t, http.MethodGet, "/auth/github/login", "", nil)
	require.Equal(t, http.StatusTemporaryRedirect, rr.Code)
	state := findCookie(rr, "oauth_state")
	require.NotNil(t, state)
	assert.Contains(t, rr.Header().Get("Location"), url.QueryEscape(state.Value))

	callback := func(query string, cookie *http.Cookie) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/auth/github/callback?"+query, nil)
		if cookie != nil {
			req.AddCookie(cookie)
		}
		rr := httptest.NewRecorder()
		api.router.ServeHTTP(rr, req)
		return rr
	}

	t.Run("missing state cookie", func(t *testing.T) {
		rr := callback("code=abc&state="+state.Value, nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("state mismatch", func(t *testing.T) {
		rr := callback("code=abc&state=forged", state)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("missing code", func(t *testing.T) {
		rr := callback("state="+state.Value, state)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("user denied", func(t *testing.T) {
		rr := callback("error=access_denied&state="+state.Value, state)
		assert.Equal(t, http.StatusSeeOther, rr.Code)
		assert.Equal(t, "/?auth=denied", rr.Header().Get("Location"))
	})

	t.Run("success", func(t *testing.T) {
		rr := callback("code=abc&state="+state.Value, state)
		require.Equal(t, http.StatusSeeOther, rr.Code)
		assert.Equal(t, "abc", gh.gotCode)

		session := findCookie(rr, auth.CookieName)
		require.NotNil(t, session)

		me := api.do(t, http.MethodGet, "/api/me", session.Value, nil)
		require.Equal(t, http.StatusOK, me.Code)
		user := decode[model.User](t, me)
		assert.Equal(t, "octo@example.com", user.Email)
		assert.Equal(t, int64(77), user.GitHubID)
	})

	t.Run("exchange failure", func(t *testing.T) {
		gh.err = errors.New("github is down")
		defer func() { gh.err = nil }()

		rr := callback("code=abc&state="+state.Value, state)
		assert.Equal(t, http.StatusBadGateway, rr.Code)
		assert.Nil(t, findCookie(rr, auth.CookieName))
	})
}
