package main

import (
	"context"
	"expvar"
	"io"
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"

	"periodcore/internal/core"
	"periodcore/pkg/domain"
)

// app is the wiring shared by every subcommand.
type app struct {
	cfg      core.Config
	logger   *slog.Logger
	registry *core.Registry
	store    domain.PersistentStore
	svc      *core.Service
	flush    func()
}

type overrides struct {
	storage    string
	sqlitePath string
	logLevel   string
	kinds      []string
}

func openApp(ctx context.Context, stderr io.Writer, o overrides) (*app, error) {
	cfg, err := core.LoadConfig()
	if err != nil {
		return nil, err
	}
	if o.storage != "" {
		cfg.StorageDriver = o.storage
	}
	if o.sqlitePath != "" {
		cfg.SQLitePath = o.sqlitePath
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if len(o.kinds) > 0 {
		cfg.Kinds = o.kinds
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := core.NewLogger(stderr, cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	registry, err := core.RegistryFromSpecs(cfg.Kinds)
	if err != nil {
		return nil, err
	}
	store, err := core.OpenPersistentStore(cfg, registry.RulesEngine())
	if err != nil {
		return nil, errors.Wrapf(err, "open %s store", cfg.StorageDriver)
	}

	a := &app{cfg: cfg, logger: logger, registry: registry, store: store, flush: func() {}}
	opts := []core.ServiceOption{core.WithLogger(logger)}
	switch cfg.Metrics {
	case "expvar":
		rec := core.NewExpvarMetricsRecorder("")
		opts = append(opts, core.WithMetrics(rec))
		a.flush = func() {
			logger.InfoContext(ctx, "metrics", "exporter", "expvar", "snapshot", expvar.Get(rec.Name()).String())
		}
	case "prometheus":
		reg := prometheus.NewRegistry()
		rec, err := core.NewPrometheusMetricsRecorder(reg)
		if err != nil {
			return nil, err
		}
		opts = append(opts, core.WithMetrics(rec))
		a.flush = func() { logGathered(ctx, logger, reg) }
	}
	a.svc = core.NewService(store, registry, opts...)
	logger.DebugContext(ctx, "store opened", "driver", cfg.StorageDriver, "kinds", len(registry.Kinds()))
	return a, nil
}

func (a *app) archiver(ctx context.Context) (*core.Archiver, error) {
	blobs, err := core.OpenArchiveStore(ctx, a.cfg.Archive)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s archive", a.cfg.Archive.Driver)
	}
	return core.NewArchiver(a.store, blobs), nil
}

func (a *app) timeline(kind domain.Kind) (domain.Timeline, error) {
	m, err := a.registry.Model(kind)
	if err != nil {
		return domain.Timeline{}, err
	}
	return m.Timeline(), nil
}

func (a *app) close() error {
	a.flush()
	if c, ok := a.store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func logGathered(ctx context.Context, logger *slog.Logger, g prometheus.Gatherer) {
	families, err := g.Gather()
	if err != nil {
		logger.WarnContext(ctx, "gather metrics", "error", err)
		return
	}
	for _, f := range families {
		for _, m := range f.GetMetric() {
			attrs := []any{"name", f.GetName()}
			for _, l := range m.GetLabel() {
				attrs = append(attrs, l.GetName(), l.GetValue())
			}
			switch {
			case m.GetCounter() != nil:
				attrs = append(attrs, "value", m.GetCounter().GetValue())
			case m.GetHistogram() != nil:
				attrs = append(attrs, "count", m.GetHistogram().GetSampleCount(), "sum", m.GetHistogram().GetSampleSum())
			}
			logger.InfoContext(ctx, "metric", attrs...)
		}
	}
}
