package http

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/webmclip/internal/adapter/http/ratelimit"
	"github.com/bnema/webmclip/internal/service"
)

type fakeAuthService struct {
	enabled bool
	token   string
	session string
}

func (f *fakeAuthService) Enabled() bool { return f.enabled }

func (f *fakeAuthService) Verify(token string) error {
	if !f.enabled || token == f.token {
		return nil
	}
	return service.ErrInvalidToken
}

func (f *fakeAuthService) IssueSession() string { return f.session }

func (f *fakeAuthService) ValidateSession(v string) error {
	if !f.enabled || v == f.session {
		return nil
	}
	return service.ErrInvalidToken
}

func newTestAuth(enabled bool) *Auth {
	svc := &fakeAuthService{enabled: enabled, token: "s3cret-token-value", session: "signed-session"}
	return NewAuth(svc, ratelimit.NewFailureLimiter(3, time.Minute, time.Minute), false)
}

func okHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func TestAuthMiddleware_Disabled(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestAuth(false).Middleware(okHandler)(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthMiddleware(t *testing.T) {
	tests := []struct {
		name     string
		prepare  func(r *http.Request)
		wantCode int
		wantLoc  string
	}{
		{"bearer ok", func(r *http.Request) { r.Header.Set("Authorization", "Bearer s3cret-token-value") }, http.StatusOK, ""},
		{"bearer scheme is case-insensitive", func(r *http.Request) { r.Header.Set("Authorization", "bearer s3cret-token-value") }, http.StatusOK, ""},
		{"bearer wrong", func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") }, http.StatusUnauthorized, ""},
		{"cookie ok", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: CookieName, Value: "signed-session"}) }, http.StatusOK, ""},
		{"cookie wrong", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: CookieName, Value: "forged"}) }, http.StatusUnauthorized, ""},
		{"nothing, api client", func(*http.Request) {}, http.StatusUnauthorized, ""},
		{"nothing, browser", func(r *http.Request) { r.Header.Set("Accept", "text/html,application/xhtml+xml") }, http.StatusSeeOther, "/login"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/status", nil)
			tt.prepare(req)
			rec := httptest.NewRecorder()
			newTestAuth(true).Middleware(okHandler)(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantLoc != "" {
				assert.Equal(t, tt.wantLoc, rec.Header().Get("Location"))
			}
			if tt.wantCode == http.StatusUnauthorized {
				assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Bearer")
			}
		})
	}
}

func TestAuthMiddleware_LocksOutRepeatedFailures(t *testing.T) {
	auth := newTestAuth(true)
	bad := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/status", nil)
		req.Header.Set("Authorization", "Bearer wrong")
		rec := httptest.NewRecorder()
		auth.Middleware(okHandler)(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusUnauthorized, bad().Code)
	assert.Equal(t, http.StatusUnauthorized, bad().Code)
	assert.Equal(t, http.StatusUnauthorized, bad().Code)

	rec := bad()
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// Even the right token is refused while locked out.
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Authorization", "Bearer s3cret-token-value")
	rec = httptest.NewRecorder()
	auth.Middleware(okHandler)(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func loginRequest(token string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(url.Values{"token": {token}}.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func TestLogin(t *testing.T) {
	t.Run("success sets cookie", func(t *testing.T) {
		rec := httptest.NewRecorder()
		newTestAuth(true).Login()(rec, loginRequest("s3cret-token-value"))

		assert.Equal(t, http.StatusSeeOther, rec.Code)
		assert.Equal(t, "/", rec.Header().Get("Location"))
		cookies := rec.Result().Cookies()
		require.Len(t, cookies, 1)
		assert.Equal(t, CookieName, cookies[0].Name)
		assert.Equal(t, "signed-session", cookies[0].Value)
		assert.True(t, cookies[0].HttpOnly)
		assert.Equal(t, http.SameSiteStrictMode, cookies[0].SameSite)
		assert.False(t, cookies[0].Secure, "plain http request")
	})

	t.Run("failure re-renders form", func(t *testing.T) {
		rec := httptest.NewRecorder()
		newTestAuth(true).Login()(rec, loginRequest("wrong"))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "Invalid token")
		assert.Empty(t, rec.Result().Cookies())
	})

	t.Run("lockout", func(t *testing.T) {
		auth := newTestAuth(true)
		for range 3 {
			auth.Login()(httptest.NewRecorder(), loginRequest("wrong"))
		}
		rec := httptest.NewRecorder()
		auth.Login()(rec, loginRequest("wrong"))
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	})

	t.Run("form page", func(t *testing.T) {
		rec := httptest.NewRecorder()
		newTestAuth(true).Login()(rec, httptest.NewRequest(http.MethodGet, "/login", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `name="token"`)
	})

	t.Run("form page when auth disabled", func(t *testing.T) {
		rec := httptest.NewRecorder()
		newTestAuth(false).Login()(rec, httptest.NewRequest(http.MethodGet, "/login", nil))
		assert.Equal(t, http.StatusSeeOther, rec.Code)
	})
}

func TestLogout(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/logout", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	rec := httptest.NewRecorder()
	NewAuth(&fakeAuthService{}, ratelimit.NewFailureLimiter(3, time.Minute, time.Minute), true).Logout()(rec, req)

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, -1, cookies[0].MaxAge)
	assert.True(t, cookies[0].Secure)
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name        string
		remote      string
		headers     map[string]string
		behindProxy bool
		want        string
	}{
		{"remote addr", "198.51.100.7:4242", nil, false, "198.51.100.7"},
		{"ignores xff when direct", "198.51.100.7:4242", map[string]string{"X-Forwarded-For": "203.0.113.1"}, false, "198.51.100.7"},
		{"first xff hop", "10.0.0.1:80", map[string]string{"X-Forwarded-For": "203.0.113.1, 10.0.0.2"}, true, "203.0.113.1"},
		{"x-real-ip", "10.0.0.1:80", map[string]string{"X-Real-IP": "203.0.113.9"}, true, "203.0.113.9"},
		{"proxy without headers", "10.0.0.1:80", nil, true, "10.0.0.1"},
		{"unparseable remote", "pipe", nil, false, "pipe"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, clientIP(req, tt.behindProxy))
		})
	}
}
