package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/assessd/internal/breakpoint"
	"github.com/fyrsmithlabs/assessd/internal/config"
	"github.com/fyrsmithlabs/assessd/internal/contract"
	"github.com/fyrsmithlabs/assessd/internal/dispatch"
	httpserver "github.com/fyrsmithlabs/assessd/internal/http"
	"github.com/fyrsmithlabs/assessd/internal/logging"
	"github.com/fyrsmithlabs/assessd/internal/orchestrator"
	"github.com/fyrsmithlabs/assessd/internal/phase"
	"github.com/fyrsmithlabs/assessd/internal/process"
	"github.com/fyrsmithlabs/assessd/internal/records"
	"github.com/fyrsmithlabs/assessd/internal/telemetry"
	"github.com/fyrsmithlabs/assessd/internal/workflows"
)

// app holds everything a run needs. Close releases it in reverse order.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry

	def          *process.Definition
	controller   *breakpoint.Controller
	orchestrator *orchestrator.Orchestrator
	archive      *orchestrator.MemoryArchive
	server       *httpserver.Server
	registry     *prometheus.Registry

	natsChannel *breakpoint.NATSChannel
	temporal    client.Client

	closers []func() error
}

// newApp builds the service graph for cfg and loads the definition at
// defPath. onProgress may be nil.
func newApp(ctx context.Context, cfg *config.Config, defPath string, onProgress orchestrator.ProgressCallback) (*app, error) {
	a := &app{cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close()
		}
	}()

	tel, err := telemetry.New(ctx, telemetry.FromSettings(cfg.Observability, version))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	a.telemetry = tel
	a.closers = append(a.closers, func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return tel.Shutdown(shutdownCtx)
	})

	logCfg, err := logging.FromSettings(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("invalid logging config: %w", err)
	}
	if tel.LoggerProvider() != nil {
		logCfg.Output.OTEL = true
	}
	logger, err := logging.NewLogger(logCfg, tel.LoggerProvider())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	a.logger = logger
	a.closers = append(a.closers, func() error {
		_ = logger.Sync() // Best-effort sync on shutdown
		return nil
	})
	zl := logger.Underlying()

	reg := contract.NewRegistry()
	def, err := process.Load(defPath, reg)
	if err != nil {
		return nil, err
	}
	a.def = def

	nc, err := connectNATS(cfg.NATS, zl)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() error {
		nc.Close()
		return nil
	})

	dispatchOpts := append(dispatch.ConfigOptions(cfg.Dispatch), dispatch.WithLogger(zl))
	store, err := a.recordStore(cfg.Dispatch)
	if err != nil {
		return nil, err
	}
	if store != nil {
		dispatchOpts = append(dispatchOpts, dispatch.WithRecordStore(store))
	}
	dispatcher := dispatch.New(dispatch.NewNATSExecutor(nc, cfg.NATS.TaskSubjectPrefix), dispatchOpts...)

	runner := phase.NewRunner(dispatcher, reg,
		phase.WithMaxParallelism(cfg.Orchestrator.MaxParallelism),
		phase.WithLogger(zl),
	)

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	bpOpts, err := breakpoint.ConfigOptions(cfg.Breakpoint)
	if err != nil {
		return nil, err
	}
	bpOpts = append(bpOpts,
		breakpoint.WithLogger(zl),
		breakpoint.WithMetrics(breakpoint.NewMetrics(a.registry)),
	)
	if err := a.reviewerChannel(cfg, nc, &bpOpts); err != nil {
		return nil, err
	}
	a.controller = breakpoint.NewController(bpOpts...)
	if err := a.listen(cfg); err != nil {
		return nil, err
	}

	orchOpts := []orchestrator.Option{orchestrator.WithLogger(zl)}
	if cfg.Orchestrator.ArchiveRuns {
		a.archive = orchestrator.NewMemoryArchive()
		orchOpts = append(orchOpts, orchestrator.WithArchiver(a.archive))
	}
	if onProgress != nil {
		orchOpts = append(orchOpts, orchestrator.WithProgress(onProgress))
	}
	a.orchestrator = orchestrator.New(runner, a.controller, orchOpts...)

	srvOpts := []httpserver.Option{
		httpserver.WithRuns(a.orchestrator),
		httpserver.WithHTTPMetrics(httpserver.NewHTTPMetrics(zl)),
		httpserver.WithGatherer(a.registry),
		httpserver.WithHealth(a.telemetry),
	}
	if a.archive != nil {
		srvOpts = append(srvOpts, httpserver.WithArchive(a.archive))
	}
	if sc := a.controller.Scrubber(); sc.Enabled() {
		srvOpts = append(srvOpts, httpserver.WithScrubber(sc))
	}
	server, err := httpserver.NewServer(a.controller, zl, &httpserver.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	}, srvOpts...)
	if err != nil {
		return nil, err
	}
	a.server = server

	ok = true
	return a, nil
}

func connectNATS(cfg config.NATSConfig, logger *zap.Logger) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("assessd"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1 * time.Second),
	}
	if cfg.Token.IsSet() {
		opts = append(opts, nats.Token(cfg.Token.Value()))
	}
	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}
	logger.Info("connected to NATS", zap.String("url", cfg.URL))
	return nc, nil
}

func (a *app) recordStore(cfg config.DispatchConfig) (dispatch.RecordStore, error) {
	switch cfg.RecordStore {
	case config.RecordStoreMemory:
		return dispatch.NewMemoryRecordStore(), nil
	case config.RecordStoreSQLite:
		store, err := records.Open(cfg.RecordPath)
		if err != nil {
			return nil, fmt.Errorf("open record store: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		return store, nil
	}
	return nil, nil
}

// reviewerChannel adds the configured breakpoint channel. The HTTP API is
// always served, so the http channel needs no publisher of its own.
func (a *app) reviewerChannel(cfg *config.Config, nc *nats.Conn, opts *[]breakpoint.Option) error {
	switch cfg.Breakpoint.Channel {
	case config.ChannelMemory:
		*opts = append(*opts, breakpoint.WithChannel(breakpoint.NewMemoryChannel()))
	case config.ChannelNATS:
		a.natsChannel = breakpoint.NewNATSChannel(nc, cfg.NATS.BreakpointSubjectPrefix)
		*opts = append(*opts, breakpoint.WithChannel(a.natsChannel))
	case config.ChannelTemporal:
		c, err := client.Dial(client.Options{
			HostPort:  cfg.Temporal.HostPort,
			Namespace: cfg.Temporal.Namespace,
		})
		if err != nil {
			return fmt.Errorf("failed to connect to Temporal at %s: %w", cfg.Temporal.HostPort, err)
		}
		a.closers = append(a.closers, func() error {
			c.Close()
			return nil
		})
		*opts = append(*opts, breakpoint.WithChannel(workflows.NewTemporalChannel(c, cfg.Temporal.TaskQueue)))
		a.temporal = c
	}
	return nil
}

// listen starts whatever forwards reviewer decisions to the controller.
func (a *app) listen(cfg *config.Config) error {
	switch cfg.Breakpoint.Channel {
	case config.ChannelNATS:
		if err := a.natsChannel.Listen(a.controller); err != nil {
			return fmt.Errorf("listen for decisions: %w", err)
		}
		a.closers = append(a.closers, a.natsChannel.Close)
	case config.ChannelTemporal:
		w := worker.New(a.temporal, cfg.Temporal.TaskQueue, worker.Options{})
		workflows.Register(w, &workflows.ReviewActivities{Resolver: a.controller})
		if err := w.Start(); err != nil {
			return fmt.Errorf("start review worker: %w", err)
		}
		a.closers = append(a.closers, func() error {
			w.Stop()
			return nil
		})
	}
	return nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
