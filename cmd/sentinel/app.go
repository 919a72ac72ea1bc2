package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"headless-sentinel/internal/action"
	"headless-sentinel/internal/alert"
	"headless-sentinel/internal/audit"
	"headless-sentinel/internal/bus"
	"headless-sentinel/internal/collect"
	"headless-sentinel/internal/config"
	"headless-sentinel/internal/dashboard"
	"headless-sentinel/internal/explain"
	"headless-sentinel/internal/ingest"
	"headless-sentinel/internal/logger"
	"headless-sentinel/internal/metrics"
	"headless-sentinel/internal/pipeline"
	"headless-sentinel/internal/registry"
	"headless-sentinel/internal/remote"
	"headless-sentinel/internal/state"
	"headless-sentinel/internal/store"
)

// app is every long-lived component, wired from one config
type app struct {
	cfg      *config.Config
	store    *store.Store
	registry *registry.Registry
	metrics  *metrics.Metrics
	pipeline *pipeline.Pipeline

	alerts   *alert.Engine
	runner   *alert.Runner
	executor *action.RemoteExecutor
	state    *state.Store
	bus      *bus.Publisher
}

func loadConfig(path string) *config.Config {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		logger.InitLogger("info")
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	logger.InitLogger(cfg.LogLevel)
	return cfg
}

func openStore(cfg *config.Config) *store.Store {
	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Database.Path).Msg("Event store unavailable")
	}
	return st
}

func newApp(cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, store: openStore(cfg), metrics: metrics.NewMetrics()}

	inline := make(map[string]registry.Credentials)
	for ref, c := range cfg.InlineCredentials() {
		inline[ref] = registry.Credentials{Username: c.Username, Password: c.Password}
	}
	a.registry = registry.New(cfg.BuildTargets(), registry.EnvResolver{Inline: inline})

	client := remote.NewClient(cfg.Collection.CallTimeout)
	source := ingest.NewWinRMSource(client, a.registry, cfg.Collection.MaxEvents)

	engine, err := collect.NewEngine(source, a.store, collect.Options{
		Concurrency:     cfg.Collection.Concurrency,
		Categories:      cfg.Collection.LogTypes,
		DefaultLookback: cfg.Collection.Lookback,
		Overlap:         cfg.Collection.Overlap,
		CallTimeout:     cfg.Collection.CallTimeout,
		CycleTimeout:    cfg.Collection.CycleTimeout,
		TransportRetry:  cfg.Collection.Retry.Policy(),
		StoreRetry:      cfg.Collection.StoreRetry.Policy(),
		DedupeCacheSize: cfg.Collection.DedupeCacheSize,
	})
	if err != nil {
		a.store.Close()
		return nil, fmt.Errorf("collection engine: %w", err)
	}

	if cfg.NATS.URL != "" {
		pub, err := bus.NewPublisher(cfg.NATS.URL, cfg.NATS.SubjectPrefix)
		if err != nil {
			log.Warn().Err(err).Str("url", cfg.NATS.URL).Msg("NATS unavailable, publishing disabled")
		} else {
			a.bus = pub
		}
	}

	sinks := pipeline.Sinks{pipeline.AuditSink{Log: audit.NewLogger(cfg.Output.AuditLogPath)}, a.metrics}
	if a.bus != nil {
		sinks = append(sinks, a.bus)
	}

	var evaluator pipeline.Evaluator
	if cfg.Alerts.Enabled && len(cfg.Alerts.Rules) > 0 {
		a.executor = action.NewRemoteExecutor(client, a.registry, 2, 64, cfg.Collection.CallTimeout)
		a.executor.OnResult = sinks.RecordResult

		webhooks := action.NewWebhookSender(cfg.Actions.WebhookTimeout, cfg.Actions.WebhookRetry.Policy(), cfg.Actions.RatePerMinute)
		dispatcher := action.NewDispatcher(webhooks, a.executor, cfg.Actions.RemediationEnabled, cfg.Actions.ProtectedHosts)

		explainer := &explain.Chain{Template: explain.NewTemplateExplainer()}
		if cfg.Explain.EnableLLM {
			explainer.LLM = explain.NewLLMExplainer(cfg.Explain.URL, cfg.Explain.Model, cfg.Explain.Timeout)
		}

		a.alerts = alert.NewEngine(cfg.BuildRules(), dispatcher, alert.Options{
			MaxTrackedKeys: cfg.Alerts.MaxTrackedKeys,
			Explainer:      explainer,
			Sink:           sinks,
		})
		a.runner = alert.NewRunner(a.alerts)
		evaluator = a.runner

		if a.state, err = state.NewStore(a.store.DB()); err != nil {
			log.Warn().Err(err).Msg("Alert state persistence disabled")
		}
	}

	a.pipeline = pipeline.New(engine, a.registry, evaluator)
	a.pipeline.SetStoreRetry(cfg.Collection.StoreRetry.Policy())
	a.pipeline.OnCycle(a.metrics.RecordCycle)
	if a.bus != nil {
		a.pipeline.OnCycle(a.bus.PublishCycle)
	}
	if a.alerts != nil {
		a.pipeline.OnCycle(func(*collect.CycleReport) { a.metrics.SetTrackedKeys(a.alerts.TrackedKeys()) })
	}
	return a, nil
}

// start restores alert state and launches the background workers.
func (a *app) start(ctx context.Context) {
	if a.runner == nil {
		return
	}
	if a.state != nil {
		snaps, err := a.state.LoadAll(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to load alert state")
		} else {
			n := a.alerts.Restore(snaps)
			log.Info().Int("states", n).Msg("Restored alert state")
		}
	}
	// Workers outlive the signal context so queued work drains on shutdown.
	a.executor.Start(context.WithoutCancel(ctx))
	a.runner.Start(context.WithoutCancel(ctx))
}

func (a *app) serveAPI(ctx context.Context) {
	if !a.cfg.API.Enabled {
		return
	}
	srv := dashboard.NewServer(a.store, a.registry, a.metrics.Handler(), a.cfg.API.Listen)
	go func() {
		if err := srv.Start(ctx); err != nil {
			log.Error().Err(err).Msg("API server stopped")
		}
	}()
}

// retention purges old events once a day until ctx is done.
func (a *app) retention(ctx context.Context) {
	days := a.cfg.Database.RetentionDays
	if days <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			cutoff := time.Now().AddDate(0, 0, -days)
			if _, err := a.store.Purge(ctx, cutoff); err != nil {
				log.Error().Err(err).Msg("Retention purge failed")
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// shutdown drains queued evaluations and remediations, then saves alert
// state and closes outputs.
func (a *app) shutdown() {
	if a.runner != nil {
		a.runner.Close()
		a.executor.Close()
		if a.state != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := a.state.SaveAll(ctx, a.alerts.Snapshot()); err != nil {
				log.Error().Err(err).Msg("Failed to save alert state")
			}
			cancel()
		}
	}
	if a.bus != nil {
		a.bus.Close()
	}
	if err := a.store.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close store")
	}
}
