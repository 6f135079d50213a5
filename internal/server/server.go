// Package server exposes mapping, analysis and repository operations over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tmscan/api/schemas"
	"github.com/xkilldash9x/tmscan/internal/config"
	"github.com/xkilldash9x/tmscan/internal/observability"
	"github.com/xkilldash9x/tmscan/internal/store"
	"github.com/xkilldash9x/tmscan/internal/vcs"
)

// DiagramMapper turns an editor export into a threat model.
type DiagramMapper interface {
	Map(data []byte) (*schemas.DiagramRequest, *schemas.Project, []schemas.Diagnostic, error)
}

// Analyzer runs the rule catalog plus any custom rules against a model.
type Analyzer interface {
	Analyze(ctx context.Context, project *schemas.Project, customRules []schemas.RuleDefinition) *schemas.AnalysisReport
}

// Repository reads and writes files in source control.
type Repository interface {
	FetchFile(ctx context.Context, repo, path, token string) (string, error)
	PushFile(ctx context.Context, repo, path, content, message, token string) (*vcs.PushResult, error)
	SaveOTM(ctx context.Context, filename, content, message string) (*vcs.PushResult, error)
}

// ReportStore persists analysis reports.
type ReportStore interface {
	SaveAnalysis(ctx context.Context, project *schemas.Project, report *schemas.AnalysisReport) (string, error)
	GetReport(ctx context.Context, reportID string) (*schemas.AnalysisReport, error)
	ListReports(ctx context.Context, projectID string, limit int) ([]store.ReportRecord, error)
}

// Deps are the collaborators the HTTP layer delegates to. Repository and
// Store are optional; their endpoints answer 503 when absent.
type Deps struct {
	Mapper     DiagramMapper
	Analyzer   Analyzer
	Repository Repository
	Store      ReportStore
	Metrics    *observability.Metrics
}

// Server hosts the HTTP API.
type Server struct {
	cfg     config.ServerConfig
	logger  *zap.Logger
	deps    Deps
	handler http.Handler
}

// New wires the router. Mapper and Analyzer are required.
func New(cfg config.ServerConfig, deps Deps, logger *zap.Logger) (*Server, error) {
	if deps.Mapper == nil || deps.Analyzer == nil {
		return nil, errors.New("server requires a mapper and an analyzer")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = observability.NewMetrics()
	}
	s := &Server{cfg: cfg, logger: logger.Named("server"), deps: deps}

	auth, err := newAuthenticator(cfg.Auth)
	if err != nil {
		return nil, err
	}
	s.handler = s.routes(auth, newClientLimiter(cfg.RateLimit, cfg.Burst))
	return s, nil
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes(auth *authenticator, limiter *clientLimiter) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.metricsMiddleware)
	r.Use(s.requestLogger)
	r.Use(corsMiddleware)

	h := &handlers{log: s.logger.Named("handlers"), deps: s.deps}

	r.Get("/health", h.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.deps.Metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(limiter.middleware)
		r.Use(auth.middleware)
		r.Use(maxBodyMiddleware(s.cfg.MaxBodyBytes))

		r.Route("/diagrams", func(r chi.Router) {
			r.Post("/parse", h.handleParse)
			r.Post("/analyze", h.handleAnalyze)
			r.Post("/save-to-github", h.handleSaveToGitHub)
			r.Post("/github/fetch-file", h.handleFetchFile)
			r.Post("/github/push-file", h.handlePushFile)
		})
		r.Get("/reports/{reportID}", h.handleGetReport)
		r.Get("/projects/{projectID}/reports", h.handleListReports)
	})
	return r
}

// Run listens on the configured address until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln and shuts down gracefully once ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.handler,
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		ErrorLog:          zap.NewStdLog(s.logger),
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server starting", zap.String("address", ln.Addr().String()))
		errCh <- httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down HTTP server gracefully")
	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	<-errCh
	s.logger.Info("HTTP server stopped")
	return nil
}
