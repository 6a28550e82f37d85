// Package api exposes the co-creation workflow over HTTP.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/Mindburn-Labs/roseglass/pkg/auth"
	"github.com/Mindburn-Labs/roseglass/pkg/cocreate"
	"github.com/Mindburn-Labs/roseglass/pkg/limiter"
	"github.com/Mindburn-Labs/roseglass/pkg/observability"
)

// DefaultMaxUploadBytes bounds an analysis upload.
const DefaultMaxUploadBytes = 32 << 20

// Pinger reports backing store health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options configures a Server. Service is required.
type Options struct {
	Service   *cocreate.Service
	Database  Pinger
	Validator *auth.JWTValidator
	Telemetry *observability.Provider

	Environment   string
	LLMConfigured bool
	AllowDevUser  bool
	CORSOrigins   []string

	// IPRate and IPBurst throttle unauthenticated traffic per client IP.
	// A zero IPRate disables the limiter.
	IPRate  float64
	IPBurst int

	UserLimiter limiter.Store
	UserPolicy  limiter.Policy

	// Idempotency replays paid POSTs carrying an Idempotency-Key.
	Idempotency *IdempotencyCache

	StripeWebhookSecret string
	WebhookTolerance    time.Duration
	MaxUploadBytes      int64
}

// Server routes requests to the workflow service.
type Server struct {
	opts      Options
	svc       *cocreate.Service
	bodies    *bodyValidator
	ipLimiter *IPRateLimiter
	handler   http.Handler
	now       func() time.Time
	logger    *slog.Logger
}

func NewServer(opts Options) (*Server, error) {
	if opts.Service == nil {
		return nil, errors.New("api: service is required")
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if opts.WebhookTolerance <= 0 {
		opts.WebhookTolerance = DefaultWebhookTolerance
	}
	bodies, err := newBodyValidator()
	if err != nil {
		return nil, err
	}

	s := &Server{
		opts:   opts,
		svc:    opts.Service,
		bodies: bodies,
		now:    time.Now,
		logger: slog.Default().With("component", "api"),
	}
	if opts.IPRate > 0 {
		s.ipLimiter = NewIPRateLimiter(opts.IPRate, opts.IPBurst)
	}

	mux := http.NewServeMux()
	s.routes(mux)

	var h http.Handler = mux
	h = opts.Idempotency.Middleware(h)
	if opts.UserLimiter != nil {
		h = auth.RateLimitMiddleware(opts.UserLimiter, opts.UserPolicy)(h)
	}
	h = auth.NewMiddleware(opts.Validator, s.svc, auth.Options{AllowDevUser: opts.AllowDevUser})(h)
	h = opts.Telemetry.Middleware(h)
	h = s.ipLimiter.Middleware(h)
	h = auth.CORSMiddleware(opts.CORSOrigins)(h)
	h = auth.RequestIDMiddleware(h)
	s.handler = h
	return s, nil
}

func (s *Server) routes(mux *http.ServeMux) {
	s.handle(mux, "GET /health", s.handleHealth)
	s.handle(mux, "POST /api/analyze", s.handleAnalyze)
	s.handle(mux, "GET /api/analyze/history", s.handleHistory)
	s.handle(mux, "GET /api/analyze/credits", s.handleCredits)
	s.handle(mux, "GET /api/gates/{id}", s.handleGetGate)
	s.handle(mux, "POST /api/gates/{id}/reflection", s.handleReflect)
	s.handle(mux, "POST /api/co-create", s.handleCoCreate)
	s.handle(mux, "POST /api/webhooks/stripe", s.handleStripeWebhook)
}

// handle registers h and names the route for telemetry.
func (s *Server) handle(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		observability.SetRoute(r.Context(), pattern)
		h(w, r)
	})
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Close releases background resources.
func (s *Server) Close() {
	if s.ipLimiter != nil {
		s.ipLimiter.Close()
	}
}
