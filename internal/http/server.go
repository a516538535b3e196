// Package http serves the reviewer API: pending breakpoints, their
// resolution, run status and Prometheus metrics.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/assessd/internal/breakpoint"
	"github.com/fyrsmithlabs/assessd/internal/logging"
	"github.com/fyrsmithlabs/assessd/internal/orchestrator"
	"github.com/fyrsmithlabs/assessd/internal/secrets"
	"github.com/fyrsmithlabs/assessd/internal/telemetry"
)

// Breakpoints is the controller surface the API needs.
type Breakpoints interface {
	Pending() []*breakpoint.Breakpoint
	Get(id string) (*breakpoint.Breakpoint, error)
	Resolve(id string, d breakpoint.Decision) error
}

// Runs exposes the run in progress.
type Runs interface {
	Current() *orchestrator.Run
}

// Archive exposes finished runs.
type Archive interface {
	List() []orchestrator.Summary
	Get(id string) (orchestrator.Summary, error)
}

// Health reports the state of the telemetry export pipeline.
type Health interface {
	Health() telemetry.HealthStatus
}

// Server provides HTTP endpoints for reviewers.
type Server struct {
	echo        *echo.Echo
	breakpoints Breakpoints
	runs        Runs
	archive     Archive
	health      Health
	scrubber    secrets.Scrubber
	gatherer    prometheus.Gatherer
	metrics     *HTTPMetrics
	logger      *logging.Logger
	config      *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// Option configures a Server.
type Option func(*Server)

// WithRuns enables the current run endpoint.
func WithRuns(r Runs) Option {
	return func(s *Server) { s.runs = r }
}

// WithArchive enables the finished run endpoints.
func WithArchive(a Archive) Option {
	return func(s *Server) { s.archive = a }
}

// WithHealth adds telemetry status to /health.
func WithHealth(h Health) Option {
	return func(s *Server) { s.health = h }
}

// WithScrubber scrubs reviewer comments before they reach the audit trail.
func WithScrubber(sc secrets.Scrubber) Option {
	return func(s *Server) { s.scrubber = sc }
}

// WithGatherer serves g on /metrics instead of the default registry.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithHTTPMetrics records request metrics.
func WithHTTPMetrics(m *HTTPMetrics) Option {
	return func(s *Server) { s.metrics = m }
}

// NewServer creates a new HTTP server.
func NewServer(bps Breakpoints, logger *zap.Logger, cfg *Config, opts ...Option) (*Server, error) {
	if bps == nil {
		return nil, fmt.Errorf("breakpoints cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 9090,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:        e,
		breakpoints: bps,
		scrubber:    secrets.NoopScrubber{},
		gatherer:    prometheus.DefaultGatherer,
		logger:      logging.FromZap(logger),
		config:      cfg,
	}
	for _, opt := range opts {
		opt(s)
	}

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		RequestIDHandler: func(c echo.Context, id string) {
			c.SetRequest(c.Request().WithContext(logging.WithRequestID(c.Request().Context(), id)))
		},
	}))
	if s.metrics != nil {
		e.Use(s.metrics.MetricsMiddleware())
	}
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			s.logger.Info(c.Request().Context(), "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", responseStatus(c, err)),
				zap.Duration("duration", duration),
			)

			return err
		}
	})

	s.registerRoutes()

	return s, nil
}

// Handler returns the server's http.Handler.
func (s *Server) Handler() http.Handler { return s.echo }

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/breakpoints", s.handleListBreakpoints)
	v1.GET("/breakpoints/:id", s.handleGetBreakpoint)
	v1.POST("/breakpoints/:id/resolve", s.handleResolve)

	v1.GET("/runs/current", s.handleCurrentRun)
	v1.GET("/runs", s.handleListRuns)
	v1.GET("/runs/:id", s.handleGetRun)
}

// handleHealth answers 200 while the API is serving. A degraded export
// pipeline is reported but does not fail the check.
func (s *Server) handleHealth(c echo.Context) error {
	resp := HealthResponse{Status: "ok"}
	if s.health != nil {
		h := s.health.Health()
		resp.Telemetry = &h
		if h.Degraded {
			resp.Status = "degraded"
		}
	}
	if s.runs != nil {
		if run := s.runs.Current(); run != nil {
			resp.RunID = run.ID
		}
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleListBreakpoints(c echo.Context) error {
	pending := s.breakpoints.Pending()
	return c.JSON(http.StatusOK, BreakpointList{Breakpoints: pending, Count: len(pending)})
}

func (s *Server) handleGetBreakpoint(c echo.Context) error {
	bp, err := s.breakpoints.Get(c.Param("id"))
	if err != nil {
		return s.decisionError(err)
	}
	return c.JSON(http.StatusOK, bp)
}

// handleResolve applies a reviewer decision. Invalid decisions and modify
// payloads leave the breakpoint pending and answer 422.
func (s *Server) handleResolve(c echo.Context) error {
	id := c.Param("id")
	ctx := c.Request().Context()

	var req ResolveRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn(ctx, "invalid resolve request", zap.String("breakpoint.id", id), zap.Error(err))
		s.metrics.recordDecision(ctx, "", "bad_request")
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Decision == "" {
		s.metrics.recordDecision(ctx, "", "bad_request")
		return echo.NewHTTPError(http.StatusBadRequest, "decision field is required")
	}

	comment := req.Comment
	if comment != "" {
		result := s.scrubber.Scrub(comment)
		if result.HasFindings() {
			s.logger.Warn(ctx, "redacted secrets from reviewer comment",
				zap.String("breakpoint.id", id),
				zap.Strings("rules", result.RuleIDs()),
			)
		}
		comment = result.Scrubbed
	}

	err := s.breakpoints.Resolve(id, breakpoint.Decision{
		Action:     breakpoint.Action(req.Decision),
		Payload:    req.Payload,
		ResolvedBy: req.ResolvedBy,
		Comment:    comment,
	})
	if err != nil {
		s.logger.Info(ctx, "resolve rejected", zap.String("breakpoint.id", id), zap.Error(err))
		herr := s.decisionError(err)
		s.metrics.recordDecision(ctx, req.Decision, refusal(herr))
		return herr
	}
	s.metrics.recordDecision(ctx, req.Decision, "accepted")

	bp, err := s.breakpoints.Get(id)
	if err != nil {
		return s.decisionError(err)
	}
	return c.JSON(http.StatusOK, bp)
}

// refusal names why a decision was refused, for metrics.
func refusal(err error) string {
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		return "error"
	}
	switch he.Code {
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "invalid"
	}
	return "error"
}

func (s *Server) handleCurrentRun(c echo.Context) error {
	if s.runs == nil {
		return echo.NewHTTPError(http.StatusNotFound, "run status is not available")
	}
	run := s.runs.Current()
	if run == nil {
		return echo.NewHTTPError(http.StatusNotFound, "no run in progress")
	}
	return c.JSON(http.StatusOK, run.Snapshot())
}

func (s *Server) handleListRuns(c echo.Context) error {
	if s.archive == nil {
		return echo.NewHTTPError(http.StatusNotFound, "run archive is not enabled")
	}
	runs := s.archive.List()
	return c.JSON(http.StatusOK, RunList{Runs: runs, Count: len(runs)})
}

func (s *Server) handleGetRun(c echo.Context) error {
	id := c.Param("id")
	if s.runs != nil {
		if run := s.runs.Current(); run != nil && run.ID == id {
			return c.JSON(http.StatusOK, run.Snapshot())
		}
	}
	if s.archive == nil {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	summary, err := s.archive.Get(id)
	if err != nil {
		if errors.Is(err, orchestrator.ErrRunNotArchived) {
			return echo.NewHTTPError(http.StatusNotFound, "run not found")
		}
		return err
	}
	return c.JSON(http.StatusOK, summary)
}

// decisionError maps controller errors to HTTP errors.
func (s *Server) decisionError(err error) error {
	switch {
	case errors.Is(err, breakpoint.ErrBreakpointNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, breakpoint.ErrAlreadyResolved), errors.Is(err, breakpoint.ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, breakpoint.ErrInvalidDecision), errors.Is(err, breakpoint.ErrInvalidModifyPayload):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	return err
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
