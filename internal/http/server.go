// Package http exposes the ledger as a JSON API. Every /api route is scoped
// to the user authenticated by HTTP Basic credentials on that request.
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"haushalt/internal/core"
	"haushalt/internal/ledger"
	"haushalt/internal/log"
	"haushalt/internal/middleware/ratelimit"
	"haushalt/internal/middleware/security"
	"haushalt/internal/middleware/trace"
)

// LedgerWriter performs the mutations. Implemented by services.LedgerService.
type LedgerWriter interface {
	CreateLine(ctx context.Context, userID string, in core.LineInput) (core.Line, error)
	UpdateLine(ctx context.Context, userID, lineID string, patch core.LinePatch) (core.Line, error)
	DeleteLine(ctx context.Context, userID, lineID string) error
	AddSubitem(ctx context.Context, userID, lineID, label string, amount decimal.Decimal) (core.Subitem, error)
	RemoveSubitem(ctx context.Context, userID, lineID, subitemID string) error
	RenameCategory(ctx context.Context, userID, oldName, newName string) (int, error)
	DeleteCategory(ctx context.Context, userID, name, target string) (int, error)
}

// LedgerReader answers line and category queries. Implemented by
// ledger.Repository.
type LedgerReader interface {
	GetLine(ctx context.Context, userID, lineID string) (core.Line, error)
	ListLines(ctx context.Context, userID string, order ledger.Order) ([]core.Line, error)
	ListCategories(ctx context.Context, userID string) ([]string, error)
}

// Views computes the aggregates. Implemented by aggregate.Engine.
type Views interface {
	Summary(ctx context.Context, userID string) (core.Summary, error)
	Groups(ctx context.Context, userID string) ([]core.TypeGroup, error)
	FixedVariable(ctx context.Context, userID string) (core.FixedVariable, error)
	Dashboard(ctx context.Context, userID string) (core.Dashboard, error)
}

// Authenticator registers users and checks credentials. Implemented by
// auth.PasswordAuthenticator.
type Authenticator interface {
	Register(ctx context.Context, username, password string) (core.User, error)
	Authenticate(ctx context.Context, username, password string) (core.User, error)
}

// RequestObserver records per-route request metrics.
type RequestObserver interface {
	ObserveRequest(method, route string, status int, d time.Duration)
}

// Options wires the server to its collaborators. Limiter, Observer,
// MetricsHandler and Ready are optional.
type Options struct {
	Addr   string
	Ledger LedgerWriter
	Reader LedgerReader
	Views  Views
	Auth   Authenticator
	Logger *log.Logger

	Limiter        *ratelimit.Limiter
	Observer       RequestObserver
	MetricsHandler http.Handler
	Ready          func(ctx context.Context) error
}

type Server struct {
	http.Server
	ledger   LedgerWriter
	reader   LedgerReader
	views    Views
	auth     Authenticator
	observer RequestObserver
	ready    func(ctx context.Context) error
	logger   *log.Logger
}

// NewServer configures routes and middleware, returning a ready-to-run
// http.Server.
func NewServer(opts Options) *Server {
	mux := http.NewServeMux()

	s := &Server{
		Server: http.Server{
			Addr:              opts.Addr,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		ledger:   opts.Ledger,
		reader:   opts.Reader,
		views:    opts.Views,
		auth:     opts.Auth,
		observer: opts.Observer,
		ready:    opts.Ready,
		logger:   opts.Logger.WithComponent(log.ComponentHTTP),
	}

	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	if opts.MetricsHandler != nil {
		mux.Handle("GET /metrics", opts.MetricsHandler)
	}

	s.handle(mux, "POST /auth/register", s.handleRegister)
	s.handle(mux, "GET /me", s.requireUser(s.handleMe))

	s.handle(mux, "GET /api/lines", s.requireUser(s.handleListLines))
	s.handle(mux, "POST /api/lines", s.requireUser(s.handleCreateLine))
	s.handle(mux, "GET /api/lines/{id}", s.requireUser(s.handleGetLine))
	s.handle(mux, "PUT /api/lines/{id}", s.requireUser(s.handleUpdateLine))
	s.handle(mux, "PATCH /api/lines/{id}", s.requireUser(s.handleUpdateLine))
	s.handle(mux, "DELETE /api/lines/{id}", s.requireUser(s.handleDeleteLine))
	s.handle(mux, "POST /api/lines/{id}/subitems", s.requireUser(s.handleAddSubitem))
	s.handle(mux, "DELETE /api/lines/{id}/subitems/{subID}", s.requireUser(s.handleRemoveSubitem))

	s.handle(mux, "GET /api/categories", s.requireUser(s.handleListCategories))
	s.handle(mux, "POST /api/categories/rename", s.requireUser(s.handleRenameCategory))
	s.handle(mux, "DELETE /api/categories/{name}", s.requireUser(s.handleDeleteCategory))

	s.handle(mux, "GET /api/summary", s.requireUser(s.handleSummary))
	s.handle(mux, "GET /api/groups", s.requireUser(s.handleGroups))
	s.handle(mux, "GET /api/fixed-variable", s.requireUser(s.handleFixedVariable))
	s.handle(mux, "GET /api/dashboard", s.requireUser(s.handleDashboard))

	var handler http.Handler = mux
	if opts.Limiter != nil {
		mutating := []string{http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete}
		handler = opts.Limiter.Middleware(security.ClientIP, mutating, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate limit exceeded, try again later"})
		})(handler)
	}
	handler = security.Headers(security.DefaultHeadersConfig())(handler)
	handler = trace.Middleware(s.logger, security.ClientIP)(handler)
	s.Handler = handler

	return s
}

// handle registers h under pattern and reports its outcome under the
// pattern as route label, so ids in paths never reach metric labels.
func (s *Server) handle(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	if s.observer == nil {
		mux.HandleFunc(pattern, h)
		return
	}
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)
		s.observer.ObserveRequest(r.Method, pattern, rec.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			log.FromContext(r.Context()).WarnContext(r.Context(), "Readiness check failed", log.FieldError, err)
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
