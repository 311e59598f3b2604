package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/tenancy/pkg/httputil"
	"github.com/platinummonkey/tenancy/pkg/observability"
)

// DefaultMaxBodyBytes caps JSON request bodies
const DefaultMaxBodyBytes = 1 << 20

// Config wires the API server. Orgs is required; the rest is optional.
type Config struct {
	Orgs   OrgService
	Users  UserService
	Health *observability.HealthChecker
	// Metrics instruments matched routes when set
	Metrics *observability.Metrics
	Logger  *observability.Logger
	// Identity resolves the acting user, typically middleware.HeaderIdentity
	// or middleware.OIDCIdentity
	Identity func(http.Handler) http.Handler
	// RateLimit runs after Identity so limits can key on the user
	RateLimit    func(http.Handler) http.Handler
	CORSOrigins  []string
	MaxBodyBytes int64
}

// Server is the tenancy HTTP API
type Server struct {
	router  *mux.Router
	handler http.Handler
}

// NewServer creates a new API server
func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}

	s := &Server{router: mux.NewRouter()}
	s.setupRoutes(cfg)

	if cfg.Metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(cfg.Metrics))
	}
	if cfg.Identity != nil {
		s.router.Use(cfg.Identity)
	}
	if cfg.RateLimit != nil {
		s.router.Use(cfg.RateLimit)
	}

	outer := []func(http.Handler) http.Handler{
		httputil.CorrelationIDMiddleware,
		httputil.LoggingMiddleware(cfg.Logger),
		httputil.RecoveryMiddleware(cfg.Logger),
	}
	if len(cfg.CORSOrigins) > 0 {
		outer = append(outer, httputil.CORSMiddleware(cfg.CORSOrigins))
	}
	outer = append(outer, httputil.MaxBytesMiddleware(cfg.MaxBodyBytes))

	s.handler = httputil.Chain(outer...)(s.router)
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes(cfg Config) {
	NewOrgHandlers(cfg.Orgs).RegisterRoutes(s.router)
	if cfg.Users != nil {
		NewUserHandlers(cfg.Users).RegisterRoutes(s.router)
	}
	if cfg.Health != nil {
		s.router.HandleFunc("/health", cfg.Health.Readiness).Methods("GET")
		s.router.HandleFunc("/health/live", cfg.Health.Liveness).Methods("GET")
		s.router.HandleFunc("/health/ready", cfg.Health.Readiness).Methods("GET")
	}

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteNotFoundError(w, "route not found")
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteErrorMessage(w, http.StatusMethodNotAllowed, "method not allowed")
	})
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Router exposes the underlying router for additional routes
func (s *Server) Router() *mux.Router {
	return s.router
}
