package commands

// Builds the service graph from config: clients, stores, pipeline, supervisor
// Every constructed resource with a Close is released by app.Close

import (
	"context"
	"fmt"

	"rune-holders/internal/clients_api/hiro"
	"rune-holders/internal/clients_api/jsonbin"
	"rune-holders/internal/features/holders"
	"rune-holders/internal/features/notify"
	"rune-holders/internal/features/publish"
	"rune-holders/internal/features/rank"
	"rune-holders/internal/features/run"
	"rune-holders/internal/infra/config"
	"rune-holders/internal/infra/fs"
	logging "rune-holders/internal/infra/log"
	"rune-holders/internal/infra/metrics"
	"rune-holders/internal/infra/pebbledb"
	"rune-holders/internal/infra/redisstore"
	"rune-holders/internal/infra/retry"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

const metricsNamespace = "rune_holders"

type app struct {
	cfg        *config.Config
	registry   *prometheus.Registry
	metrics    *metrics.Metrics
	files      *fs.Store
	hiro       *hiro.Client
	bins       *jsonbin.Client
	lookup     *rank.Lookup
	supervisor *run.Supervisor
	closers    []func() error
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, registry: prometheus.NewRegistry()}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.NewMetrics(a.registry, metricsNamespace)
	a.files = fs.NewStore(cfg.Storage.DataDir)

	a.hiro = hiro.NewClient(hiro.Options{
		BaseURL:         cfg.Hiro.BaseURL,
		Etching:         cfg.Hiro.Etching,
		APIKey:          cfg.Hiro.APIKey,
		RequestTimeout:  cfg.Hiro.RequestTimeout,
		RequestInterval: cfg.Hiro.RequestInterval,
		Retry:           retryPolicy(cfg.Hiro),
		Metrics:         a.metrics,
	})
	a.bins = jsonbin.NewClient(jsonbin.Options{
		BaseURL:       cfg.JSONBin.BaseURL,
		MasterKey:     cfg.JSONBin.APIKey,
		Timeout:       cfg.JSONBin.Timeout,
		MaxRetryTimes: cfg.JSONBin.MaxRetries,
		RetryInterval: cfg.JSONBin.RetryInterval,
	})

	progress, err := a.progressStore()
	if err != nil {
		a.Close()
		return nil, err
	}
	snapshots, err := a.snapshotStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.lookup = rank.NewLookup(rank.Options{
		Store:    snapshots,
		Reader:   a.bins,
		Keys:     cfg.JSONBin.BinIDs,
		Rune:     cfg.Hiro.Etching,
		CacheTTL: cfg.Lookup.CacheTTL,
		Metrics:  a.metrics,
	})

	collector := holders.NewCollector(a.hiro, progress, holders.CollectorConfig{
		Rune:              cfg.Hiro.Etching,
		PageSize:          cfg.Collector.PageSize,
		MaxHolders:        cfg.Collector.MaxHolders,
		UseBoundarySearch: cfg.Collector.UseBoundarySearch,
		Exhaustive:        cfg.Collector.Exhaustive,
	}, a.metrics)
	publisher := publish.NewPublisher(a.bins, publish.Config{
		Keys:         cfg.JSONBin.BinIDs,
		ChunkSize:    cfg.Publisher.ChunkSize,
		ClearSkipped: cfg.Publisher.ClearSkipped,
	}, a.metrics)

	deps := run.Deps{
		Rune:      cfg.Hiro.Etching,
		Collector: collector,
		Metadata:  a.hiro,
		Publisher: publisher,
		Snapshots: snapshots,
		Cache:     a.lookup,
		Notifier:  a.notifier(),
		Metrics:   a.metrics,
	}
	// the JSON dumps are only written next to file-backed state
	if cfg.Storage.SnapshotBackend == "file" {
		deps.Archive = a.files
	}
	a.supervisor = run.NewSupervisor(ctx, deps)
	a.closers = append([]func() error{func() error { a.supervisor.Stop(); return nil }}, a.closers...)

	return a, nil
}

func (a *app) progressStore() (holders.ProgressStore, error) {
	if a.cfg.Storage.ProgressBackend != "pebble" {
		return a.files, nil
	}
	store, err := pebbledb.NewProgressStore(a.cfg.Storage.PebbleDir, a.cfg.Hiro.Etching)
	if err != nil {
		return nil, fmt.Errorf("failed to open progress store: %w", err)
	}
	a.closers = append(a.closers, store.Close)
	return store, nil
}

func (a *app) snapshotStore(ctx context.Context) (rank.SnapshotStore, error) {
	if a.cfg.Storage.SnapshotBackend != "redis" {
		return a.files, nil
	}
	store, err := redisstore.Connect(ctx, redisstore.Options{
		Addr:      a.cfg.Redis.Addr,
		Password:  a.cfg.Redis.Password,
		DB:        a.cfg.Redis.DB,
		KeyPrefix: a.cfg.Redis.KeyPrefix,
	}, a.cfg.Hiro.Etching)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, store.Close)
	return store, nil
}

func (a *app) notifier() notify.Notifier {
	tg := a.cfg.Telegram
	if tg.BotToken == "" {
		return notify.Nop{}
	}
	n, err := notify.NewTelegram(tg.BotToken, tg.ChatID, tg.TopN, tg.Chart)
	if err != nil {
		logging.LogWarn("Telegram notifications disabled", zap.Error(err))
		return notify.Nop{}
	}
	return n
}

// Close stops the supervisor first, then releases the stores.
func (a *app) Close() {
	for _, closeFn := range a.closers {
		if err := closeFn(); err != nil {
			logging.LogWarn("Failed to close resource", zap.Error(err))
		}
	}
	a.closers = nil
}

func retryPolicy(c config.HiroConfig) retry.Policy {
	p := retry.DefaultPolicy()
	if c.MaxAttempts > 0 {
		p.MaxAttempts = c.MaxAttempts
	}
	if c.RetryStrategy == string(retry.StrategyExponential) {
		p.Strategy = retry.StrategyExponential
	}
	if c.RetryDelay > 0 {
		p.BaseDelay = c.RetryDelay
	}
	if c.RetryMaxDelay > 0 {
		p.MaxDelay = c.RetryMaxDelay
	}
	if c.RateLimitCooldown > 0 {
		p.RateLimitCooldown = c.RateLimitCooldown
	}
	p.Jitter = c.RetryJitter
	return p
}
