package http

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/bnema/webmclip/internal/adapter/http/ratelimit"
	"github.com/bnema/webmclip/internal/adapter/http/templates"
	"github.com/bnema/webmclip/internal/infrastructure/logger"
	"github.com/bnema/webmclip/internal/service"
)

const (
	CookieName     = "auth_token"
	CookieMaxAge   = int(service.SessionTTL / time.Second)
	CookiePath     = "/"
	CookieSameSite = http.SameSiteStrictMode
)

type AuthService interface {
	Enabled() bool
	Verify(token string) error
	IssueSession() string
	ValidateSession(value string) error
}

// Auth guards the control surface. API clients send
// "Authorization: Bearer <token>"; browsers sign in once and carry a signed
// session cookie. Clients that keep failing are locked out for a while.
type Auth struct {
	svc         AuthService
	failures    *ratelimit.FailureLimiter
	behindProxy bool
	log         zerolog.Logger
}

func NewAuth(svc AuthService, failures *ratelimit.FailureLimiter, behindProxy bool) *Auth {
	return &Auth{
		svc:         svc,
		failures:    failures,
		behindProxy: behindProxy,
		log:         logger.WithComponent("auth"),
	}
}

func (a *Auth) Middleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !a.svc.Enabled() {
			next(w, r)
			return
		}

		client := clientIP(r, a.behindProxy)
		if blocked, retry := a.failures.Blocked(client); blocked {
			tooManyAttempts(w, retry)
			return
		}

		if token, ok := bearerToken(r); ok {
			if err := a.svc.Verify(token); err != nil {
				a.recordFailure(w, client)
				return
			}
			a.failures.Reset(client)
			next(w, r)
			return
		}

		if cookie, err := r.Cookie(CookieName); err == nil {
			if a.svc.ValidateSession(cookie.Value) == nil {
				next(w, r)
				return
			}
		}

		if wantsHTML(r) {
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}
		w.Header().Set("WWW-Authenticate", `Bearer realm="webmclip"`)
		writeError(w, http.StatusUnauthorized, "authentication required")
	}
}

func (a *Auth) recordFailure(w http.ResponseWriter, client string) {
	if blocked, retry := a.failures.RecordFailure(client); blocked {
		a.log.Warn().Str("client", logger.SanitizeForLog(client)).Dur("retry_after", retry).Msg("client locked out after repeated auth failures")
		tooManyAttempts(w, retry)
		return
	}
	w.Header().Set("WWW-Authenticate", `Bearer realm="webmclip", error="invalid_token"`)
	writeError(w, http.StatusUnauthorized, "invalid token")
}

func (a *Auth) Login() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			if !a.svc.Enabled() {
				http.Redirect(w, r, "/", http.StatusSeeOther)
				return
			}
			renderHTML(w, r, http.StatusOK, templates.Login(false))
			return
		}

		client := clientIP(r, a.behindProxy)
		if blocked, retry := a.failures.Blocked(client); blocked {
			tooManyAttempts(w, retry)
			return
		}

		if err := a.svc.Verify(r.FormValue("token")); err != nil {
			if blocked, retry := a.failures.RecordFailure(client); blocked {
				a.log.Warn().Str("client", logger.SanitizeForLog(client)).Msg("login locked out")
				tooManyAttempts(w, retry)
				return
			}
			renderHTML(w, r, http.StatusUnauthorized, templates.Login(true))
			return
		}
		a.failures.Reset(client)

		http.SetCookie(w, &http.Cookie{
			Name:     CookieName,
			Value:    a.svc.IssueSession(),
			MaxAge:   CookieMaxAge,
			Path:     CookiePath,
			Secure:   isSecure(r, a.behindProxy),
			HttpOnly: true,
			SameSite: CookieSameSite,
		})
		http.Redirect(w, r, "/", http.StatusSeeOther)
	}
}

func (a *Auth) Logout() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{
			Name:     CookieName,
			Value:    "",
			MaxAge:   -1,
			Path:     CookiePath,
			Secure:   isSecure(r, a.behindProxy),
			HttpOnly: true,
			SameSite: CookieSameSite,
		})
		http.Redirect(w, r, "/login", http.StatusSeeOther)
	}
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	return strings.TrimSpace(token), true
}

func wantsHTML(r *http.Request) bool {
	return r.Method == http.MethodGet && r.Header.Get("HX-Request") == "" &&
		strings.Contains(r.Header.Get("Accept"), "text/html")
}

// clientIP trusts forwarding headers only when running behind a proxy.
func clientIP(r *http.Request, behindProxy bool) string {
	if behindProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func isSecure(r *http.Request, behindProxy bool) bool {
	return r.TLS != nil || (behindProxy && r.Header.Get("X-Forwarded-Proto") == "https")
}

func tooManyAttempts(w http.ResponseWriter, retry time.Duration) {
	secs := int(retry.Round(time.Second) / time.Second)
	w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
	writeError(w, http.StatusTooManyRequests, "too many failed attempts")
}
