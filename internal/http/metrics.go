package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const httpInstrumentationName = "github.com/fyrsmithlabs/assessd/internal/http"

// HTTPMetrics records request and reviewer decision metrics for the API.
type HTTPMetrics struct {
	meter  metric.Meter
	logger *zap.Logger

	requests  metric.Int64Counter
	duration  metric.Float64Histogram
	size      metric.Int64Histogram
	inflight  metric.Int64UpDownCounter
	decisions metric.Int64Counter
}

// NewHTTPMetrics creates instruments on the global meter provider.
// Instruments that cannot be created are logged and skipped.
func NewHTTPMetrics(logger *zap.Logger) *HTTPMetrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &HTTPMetrics{
		meter:  otel.Meter(httpInstrumentationName),
		logger: logger,
	}
	m.init()
	return m
}

func (m *HTTPMetrics) init() {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	var err error
	m.requests, err = m.meter.Int64Counter("assessd.http.requests_total",
		metric.WithDescription("Reviewer API requests by method, route and status"),
		metric.WithUnit("{request}"))
	collect(err)

	m.duration, err = m.meter.Float64Histogram("assessd.http.request_duration_seconds",
		metric.WithDescription("Reviewer API request latency by method, route and status"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5))
	collect(err)

	m.size, err = m.meter.Int64Histogram("assessd.http.response_size_bytes",
		metric.WithDescription("Reviewer API response body size; breakpoint context dominates"),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(256, 1024, 4096, 16384, 65536, 262144))
	collect(err)

	m.inflight, err = m.meter.Int64UpDownCounter("assessd.http.active_requests",
		metric.WithDescription("Reviewer API requests in flight"),
		metric.WithUnit("{request}"))
	collect(err)

	m.decisions, err = m.meter.Int64Counter("assessd.http.decisions_total",
		metric.WithDescription("Decisions submitted through the API by action and outcome"),
		metric.WithUnit("{decision}"))
	collect(err)

	if len(errs) > 0 {
		m.logger.Warn("some http instruments are unavailable", zap.Error(errors.Join(errs...)))
	}
}

// MetricsMiddleware records one request per call, labelled by the matched
// route. Errors returned by handlers are labelled with the status the echo
// error handler will write.
func (m *HTTPMetrics) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			start := time.Now()
			if m.inflight != nil {
				m.inflight.Add(ctx, 1)
				defer m.inflight.Add(ctx, -1)
			}

			err := next(c)

			attrs := metric.WithAttributes(
				attribute.String("method", c.Request().Method),
				attribute.String("endpoint", normalizePath(c.Path())),
				attribute.Int("status", responseStatus(c, err)),
			)
			if m.requests != nil {
				m.requests.Add(ctx, 1, attrs)
			}
			if m.duration != nil {
				m.duration.Record(ctx, time.Since(start).Seconds(), attrs)
			}
			if m.size != nil {
				m.size.Record(ctx, c.Response().Size, attrs)
			}
			return err
		}
	}
}

// recordDecision counts a resolve attempt. outcome is "accepted" or the
// reason it was refused.
func (m *HTTPMetrics) recordDecision(ctx context.Context, action, outcome string) {
	if m == nil || m.decisions == nil {
		return
	}
	m.decisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("decision", action),
		attribute.String("outcome", outcome),
	))
}

func responseStatus(c echo.Context, err error) int {
	if err == nil || c.Response().Committed {
		return c.Response().Status
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return http.StatusInternalServerError
}

// normalizePath maps the matched route to a metric label. Echo reports the
// route pattern (/api/v1/breakpoints/:id), so breakpoint and run ids never
// become label values. Unmatched requests have an empty path.
func normalizePath(path string) string {
	if path == "" {
		return "/"
	}
	return path
}
