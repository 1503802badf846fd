package http

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bnema/webmclip/internal/adapter/http/middleware"
	"github.com/bnema/webmclip/internal/adapter/http/ratelimit"
	"github.com/bnema/webmclip/internal/service"
)

type ServerConfig struct {
	Auth        AuthService
	Controller  SessionController
	EventBus    *service.EventBus
	Handlers    HandlerOptions
	BehindProxy bool
	// MutationsPerMinute caps state-changing requests per client.
	MutationsPerMinute int
}

type Server struct {
	mux      *http.ServeMux
	handler  http.Handler
	handlers *Handlers
	sse      *SSEHandler
	auth     *Auth
	limit    func(http.Handler) http.Handler
}

func NewServer(cfg ServerConfig) *Server {
	if cfg.MutationsPerMinute <= 0 {
		cfg.MutationsPerMinute = 30
	}

	failures := ratelimit.NewFailureLimiter(5, 15*time.Minute, 30*time.Minute)
	behindProxy := cfg.BehindProxy

	s := &Server{
		mux:      http.NewServeMux(),
		handlers: NewHandlers(cfg.Controller, cfg.Handlers),
		sse:      NewSSEHandler(cfg.EventBus, cfg.Controller),
		auth:     NewAuth(cfg.Auth, failures, behindProxy),
		limit: httprate.Limit(
			cfg.MutationsPerMinute,
			time.Minute,
			httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
				return clientIP(r, behindProxy), nil
			}),
			httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			}),
		),
	}

	s.registerRoutes()

	// Bearer clients send no Origin or Sec-Fetch-Site headers and pass
	// through; cross-site browser posts are refused.
	s.handler = middleware.SecurityHeaders(http.NewCrossOriginProtection().Handler(s.mux))
	return s
}

func (s *Server) registerRoutes() {
	guard := s.auth.Middleware
	mutating := func(h http.HandlerFunc) http.Handler {
		return s.limit(guard(h))
	}

	login := s.auth.Login()
	s.mux.HandleFunc("GET /login", login)
	s.mux.Handle("POST /login", s.limit(login))
	s.mux.HandleFunc("POST /logout", s.auth.Logout())

	s.mux.HandleFunc("GET /{$}", guard(s.handlers.Dashboard()))

	s.mux.Handle("POST /sessions", mutating(s.handlers.StartSession()))
	s.mux.Handle("DELETE /sessions/current", mutating(s.handlers.CancelSession()))
	s.mux.HandleFunc("GET /sessions/{id}", guard(s.handlers.GetSession()))
	s.mux.HandleFunc("GET /sessions/{id}/output", guard(s.handlers.SessionOutput()))
	s.mux.HandleFunc("GET /status", guard(s.handlers.Status()))
	s.mux.HandleFunc("GET /events", guard(s.sse.Events()))

	s.mux.Handle("POST /queue", mutating(s.handlers.Enqueue()))
	s.mux.HandleFunc("GET /queue", guard(s.handlers.ListQueue()))
	s.mux.HandleFunc("GET /history", guard(s.handlers.History()))

	s.mux.HandleFunc("GET /healthz", s.handlers.Healthz())
	s.mux.Handle("GET /metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}
