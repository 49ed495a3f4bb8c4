package main

import (
	"context"
	"fmt"
	"os"

	"dailymed-etl/internal/cache"
	"dailymed-etl/internal/classifier"
	"dailymed-etl/internal/config"
	"dailymed-etl/internal/extractor"
	"dailymed-etl/internal/fetcher"
	"dailymed-etl/internal/mapping"
	"dailymed-etl/internal/metrics"
	"dailymed-etl/internal/scrape"
	"dailymed-etl/internal/store"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	debug      bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "dailymed",
		Short:         "Scrape DailyMed indications and map them to ICD-10 codes",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "config.yaml", "Path to configuration file")
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging")

	cmd.AddCommand(
		newRunCommand(opts),
		newScrapeCommand(opts),
		newMapCommand(opts),
		newListCommand(opts),
		newExportCommand(opts),
	)
	return cmd
}

// app holds the components shared by every command.
type app struct {
	cfg      *config.Config
	log      *logrus.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	cache    *cache.Store
	repo     store.Repository
	closers  []func() error
}

// loadApp reads configuration and opens storage. Callers must Close it.
func loadApp(ctx context.Context, opts *rootOptions) (*app, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if opts.debug {
		cfg.Log.Level = "debug"
	}

	log, err := newLogger(cfg.Log)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a := &app{
		cfg:      cfg,
		log:      log,
		registry: reg,
		metrics:  metrics.New(reg),
		cache:    cache.NewStore(cfg.Cache.Path, cache.WithLogger(log)),
	}

	var repo store.Repository
	switch cfg.Storage.Type {
	case "memory":
		log.Warn("memory storage selected, indications are lost on exit")
		repo = store.NewMemoryRepository()
	case "sqlite":
		sq, err := store.OpenSQLite(ctx, cfg.Storage.SQLite.DSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, sq.Close)
		repo = sq
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}

	// Wrap the chosen repository with automatic retry logic.
	a.repo = store.NewRetryRepository(repo, cfg.Retry.Attempts, cfg.Retry.DelayMS, log)
	return a, nil
}

func (a *app) Close() {
	for _, c := range a.closers {
		if err := c(); err != nil {
			a.log.WithError(err).Warn("close failed")
		}
	}
}

func (a *app) scraper() *scrape.Coordinator {
	src := a.cfg.Source
	return scrape.New(
		src.URL,
		a.cfg.Cache.Retention,
		fetcher.New(src, a.cfg.Retry, a.log),
		extractor.New(src.TitleSelector, src.TextSelector),
		a.cache,
		a.metrics,
		a.log,
	)
}

func (a *app) mapper() (*mapping.Orchestrator, error) {
	if err := a.cfg.RequireClassifier(); err != nil {
		return nil, err
	}
	cl, err := classifier.New(a.cfg.Classifier)
	if err != nil {
		return nil, err
	}
	return mapping.New(a.cache, cl, a.repo, a.cfg.Classifier.Concurrency, a.metrics, a.log), nil
}

// newLogger configures a logrus logger from the log section.
func newLogger(cfg config.LogConfig) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetLevel(level)
	if cfg.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log, nil
}
