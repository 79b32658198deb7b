package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/threatradar/threatradar/internal/api"
	"github.com/threatradar/threatradar/internal/cloudsql"
	"github.com/threatradar/threatradar/internal/config"
	"github.com/threatradar/threatradar/internal/correlation"
	"github.com/threatradar/threatradar/internal/database"
	"github.com/threatradar/threatradar/internal/enrichment"
	"github.com/threatradar/threatradar/internal/feeds"
	"github.com/threatradar/threatradar/internal/ingestion"
	"github.com/threatradar/threatradar/internal/logging"
	"github.com/threatradar/threatradar/internal/metrics"
	"github.com/threatradar/threatradar/internal/models"
	"github.com/threatradar/threatradar/internal/scheduler"
	"github.com/threatradar/threatradar/internal/scoring"
	"github.com/threatradar/threatradar/internal/server"
	"github.com/threatradar/threatradar/internal/stats"
	"github.com/threatradar/threatradar/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("failed to init logger", "error", err)
		os.Exit(1)
	}

	logger.Info("starting threatradar")

	// Feed connectors. Without an OTX key a mock stands in for that feed so
	// the pipeline stays exercisable end to end.
	connectors := buildConnectors(cfg.Feeds, logger)

	probeCtx, probeCancel := context.WithTimeout(context.Background(), 10*time.Second)
	for _, c := range connectors {
		if err := c.HealthCheck(probeCtx); err != nil {
			logger.Warn("feed unreachable at startup, will retry on refresh",
				"feed", c.Name(), "error", err)
		}
	}
	probeCancel()

	reliability := make(map[string]int, len(connectors))
	for _, c := range connectors {
		reliability[c.Name()] = c.Reliability()
	}

	scorer := scoring.NewScorer(cfg.Scoring, cfg.Feeds.StalenessWindow, func(source string) int {
		return reliability[source]
	})
	memStore := store.NewMemoryStore(scorer, logging.ForComponent(logger, "store"))

	for _, c := range connectors {
		memStore.RegisterFeed(models.Feed{
			ID:          c.Name(),
			Name:        c.Name(),
			Description: c.Describe(),
			URL:         c.URL(),
			Reliability: c.Reliability(),
		})
	}

	// Optional snapshot persistence (supports local DATABASE_URL and Cloud SQL)
	var repo store.Repository
	var db *sql.DB
	dbURL, err := cloudsql.ResolveDatabaseURL()
	if err != nil {
		logger.Error("failed to resolve database URL", "error", err)
		os.Exit(1)
	}
	if dbURL != "" {
		logger.Info("database configuration", "config", cloudsql.ConnectionConfig())

		db, err = database.Connect(context.Background(), database.DefaultConfig(dbURL))
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		pgRepo, err := database.NewPostgresIndicatorRepository(context.Background(), db)
		if err != nil {
			logger.Error("failed to prepare indicator repository", "error", err)
			os.Exit(1)
		}
		repo = pgRepo

		// Warm start from the last persisted snapshot
		if snapshot, err := pgRepo.LoadSnapshot(context.Background()); err != nil {
			logger.Warn("failed to load persisted indicators, starting empty", "error", err)
		} else if seeded := memStore.Seed(snapshot); seeded > 0 {
			logger.Info("restored indicators from database", "count", seeded)
		}
	} else {
		logger.Info("no database configured, running in-memory only")
	}

	// Analyst briefing after each cycle. Falls back to the deterministic mock
	// when no OpenAI key is configured.
	var enricher enrichment.Enricher
	if cfg.Enrichment.OpenAIAPIKey != "" {
		logger.Info("using OpenAI cycle summaries", "model", cfg.Enrichment.Model)
		enricher = enrichment.NewOpenAIEnricher(
			enrichment.DefaultOpenAIConfig(cfg.Enrichment.OpenAIAPIKey, cfg.Enrichment.Model),
			logging.ForComponent(logger, "enrichment"),
		)
	} else {
		logger.Info("OPENAI_API_KEY not set, using mock cycle summaries")
		enricher = enrichment.NewMockEnricher()
	}

	collector, err := metrics.NewCollector()
	if err != nil {
		logger.Error("failed to init metrics", "error", err)
		os.Exit(1)
	}

	refreshScheduler := scheduler.NewRefreshScheduler(scheduler.Options{
		Connectors:   connectors,
		Normalizer:   ingestion.NewNormalizer(),
		Store:        memStore,
		Correlator:   correlation.NewCorrelator(),
		Repo:         repo,
		Enricher:     enricher,
		Collector:    collector,
		Logger:       logging.ForComponent(logger, "scheduler"),
		Interval:     cfg.Feeds.UpdateInterval,
		FetchTimeout: cfg.Feeds.FetchTimeout,
		MaxPerFeed:   cfg.Feeds.MaxIOCsPerFeed,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("starting refresh scheduler", "interval", cfg.Feeds.UpdateInterval.String())
	go refreshScheduler.Start(ctx)

	// HTTP surface
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	handler := api.NewHandler(memStore, refreshScheduler, stats.NewAggregator(), logging.ForComponent(logger, "api"))
	for _, c := range connectors {
		handler.AddHealthCheck("feed:"+c.Name(), func(ctx context.Context) error {
			if status := c.GetStatus(); !status.Healthy {
				return errors.New(status.LastError)
			}
			return nil
		})
	}
	if db != nil {
		handler.AddHealthCheck("database", func(ctx context.Context) error {
			return database.HealthCheck(ctx, db)
		})
	}
	api.SetupRoutes(mux, handler, cfg.Auth, logger)

	if cfg.Auth.JWTSecret == "" || cfg.Auth.AdminPassword == "" {
		logger.Warn("admin auth not configured, manual refresh trigger is open")
	}

	srv := server.New(cfg.Server, logger, collector.InstrumentHandler(mux))

	go func() {
		if err := srv.Start(); err != nil {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	logger.Info("threatradar started", "url", fmt.Sprintf("http://localhost:%s", cfg.Server.Port))

	waitForSignal(logger)

	logger.Info("shutting down")
	refreshScheduler.Stop()
	cancel()
	if err := srv.Shutdown(context.Background()); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	logger.Info("shutdown complete")
}

// buildConnectors assembles the feed set. The OTX connector requires an API
// key; demo mocks carry overlapping indicator ranges so corroboration and
// correlation have material to work with.
func buildConnectors(cfg config.FeedConfig, logger *slog.Logger) []feeds.Connector {
	var connectors []feeds.Connector

	if cfg.OTXAPIKey != "" {
		logger.Info("using AlienVault OTX connector")
		connectors = append(connectors, feeds.NewOTXConnector(cfg.OTXAPIKey, cfg.FetchTimeout))
	} else {
		logger.Warn("ALIENVAULT_OTX_API_KEY not set, substituting mock feed")
		connectors = append(connectors, feeds.NewMockConnector("alienvault-otx", 0))
	}

	connectors = append(connectors,
		feeds.NewMockConnector("mock-blocklist", 5),
		feeds.NewMockConnector("mock-threatfeed", 10),
	)
	return connectors
}

func waitForSignal(logger *slog.Logger) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	sig := <-c
	logger.Info("received signal", "signal", sig.String())
	signal.Stop(c)
	close(c)
}
