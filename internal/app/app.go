// Package app initializes and holds long-lived application services, acting
// as the dependency injection container shared by every command.
package app

import (
	"context"
	"fmt"
	"io"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/konduit/internal/adapter/gemini"
	"github.com/JakeFAU/konduit/internal/adapter/mlhttp"
	"github.com/JakeFAU/konduit/internal/clock/system"
	"github.com/JakeFAU/konduit/internal/config"
	"github.com/JakeFAU/konduit/internal/crawler"
	"github.com/JakeFAU/konduit/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/konduit/internal/fetcher/colly"
	"github.com/JakeFAU/konduit/internal/hash/sha256"
	"github.com/JakeFAU/konduit/internal/id/uuid"
	"github.com/JakeFAU/konduit/internal/index"
	"github.com/JakeFAU/konduit/internal/metrics"
	"github.com/JakeFAU/konduit/internal/policy/ratelimit"
	"github.com/JakeFAU/konduit/internal/policy/robots"
	"github.com/JakeFAU/konduit/internal/rank"
	"github.com/JakeFAU/konduit/internal/search"
	"github.com/JakeFAU/konduit/internal/storage/memory"
	"github.com/JakeFAU/konduit/internal/storage/postgres"
	"github.com/JakeFAU/konduit/internal/storage/sqlite"
	"github.com/JakeFAU/konduit/internal/telemetry"
	"github.com/JakeFAU/konduit/internal/worker"
)

type pinger interface {
	Ping(ctx context.Context) error
}

// capabilities bundles the optional embedding and summarization backend.
type capabilities struct {
	embedder   crawler.Embedder
	summarizer crawler.Summarizer
	closer     io.Closer
}

// App holds the shared, long-lived services of the process.
type App struct {
	cfg     config.Config
	logger  *zap.Logger
	archive crawler.Archive
	caps    capabilities
	tracer  *sdktrace.TracerProvider
	service *search.Service
}

// New builds every service from cfg. It fails fast when a configured
// backend cannot be initialized.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	logger.Info("initializing application services",
		zap.String("capabilities", cfg.Capabilities.Provider),
		zap.String("db_driver", cfg.DB.Driver),
	)

	tp, err := telemetry.InitTracerProvider(ctx, telemetry.ServiceName)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	a := &App{cfg: cfg, logger: logger, tracer: tp}

	if a.archive, err = newArchive(ctx, cfg.DB, logger); err != nil {
		a.Close()
		return nil, err
	}
	if a.caps, err = newCapabilities(ctx, cfg.Capabilities, logger); err != nil {
		a.Close()
		return nil, err
	}
	a.service, err = a.buildService()
	if err != nil {
		a.Close()
		return nil, err
	}
	logger.Info("application services initialized")
	return a, nil
}

func (a *App) buildService() (*search.Service, error) {
	cfg := a.cfg
	ix := index.New(a.caps.embedder, a.archive, index.Config{
		ChunkChars:   cfg.Index.ChunkChars,
		MinTextChars: cfg.Index.MinTextChars,
		BatchSize:    cfg.Index.BatchSize,
	}, a.logger.Named("index"))

	ranker, err := rank.New(ix, rank.Config{
		SemanticWeight: cfg.Rank.SemanticWeight,
		KeywordWeight:  cfg.Rank.KeywordWeight,
		MinScore:       cfg.Rank.MinScore,
	}, a.logger.Named("rank"))
	if err != nil {
		return nil, fmt.Errorf("build ranker: %w", err)
	}

	gate := robots.New(robots.Options{
		UserAgent: cfg.Crawler.RobotsAgent,
		TTL:       time.Duration(cfg.Robots.TTLMinutes) * time.Minute,
		Logger:    a.logger.Named("robots"),
	})
	limiter := ratelimit.New(ratelimit.Config{
		DefaultDelay: time.Duration(cfg.Crawler.PolitenessDelayMs) * time.Millisecond,
	})
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgents:   cfg.HTTP.UserAgents,
		Timeout:      config.Seconds(cfg.HTTP.TimeoutSeconds),
		MaxRedirects: cfg.HTTP.MaxRedirects,
		MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
		Policy:       gate,
		RobotsAgent:  cfg.Crawler.RobotsAgent,
	})

	deps := search.Deps{
		Sessions:   memory.NewSessionStore(),
		Archive:    a.archive,
		Policy:     gate,
		Limiter:    limiter,
		Fetcher:    fetcher,
		Hasher:     sha256.New(),
		Clock:      system.New(),
		IDs:        uuid.New(),
		Ranker:     ranker,
		Vectors:    ix,
		Summarizer: a.caps.summarizer,
	}

	return search.New(search.Config{
		Crawl: dispatcher.Config{
			Concurrency: cfg.Crawler.Concurrency,
			MaxDepth:    cfg.Crawler.MaxDepth,
			PageBudget:  cfg.Crawler.PageBudget,
			Worker: worker.Config{
				FetchTimeout: config.Seconds(cfg.Crawler.FetchTimeoutSeconds),
				RobotsAgent:  cfg.Crawler.RobotsAgent,
			},
		},
		TopK:              cfg.Search.TopK,
		SummaryTopK:       cfg.Search.SummaryTopK,
		SummaryMaxChars:   cfg.Search.SummaryMaxChars,
		SummaryTimeout:    config.Seconds(cfg.Search.SummaryTimeoutSeconds),
		WikipediaFallback: cfg.Search.WikipediaFallback,
	}, deps, a.logger.Named("search"))
}

func newArchive(ctx context.Context, cfg config.DBConfig, logger *zap.Logger) (crawler.Archive, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		logger.Info("connecting to postgres archive")
		pg, err := postgres.New(ctx, postgres.Config{DSN: cfg.DSN, MaxConns: int32(cfg.MaxConns)})
		if err != nil {
			return nil, fmt.Errorf("init postgres archive: %w", err)
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			_ = pg.Close()
			return nil, fmt.Errorf("init postgres archive: %w", err)
		}
		return pg, nil
	case config.DriverSQLite:
		logger.Info("opening sqlite archive", zap.String("dsn", cfg.DSN))
		lite, err := sqlite.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("init sqlite archive: %w", err)
		}
		return lite, nil
	case config.DriverMemory:
		logger.Info("using in-process archive; embeddings are reused across crawls until exit")
		return memory.NewArchive(), nil
	case config.DriverNone:
		logger.Info("archive disabled; pages live in memory only")
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown db driver %q", cfg.Driver)
	}
}

func newCapabilities(ctx context.Context, cfg config.CapabilitiesConfig, logger *zap.Logger) (capabilities, error) {
	switch cfg.Provider {
	case config.ProviderHTTP:
		client := mlhttp.NewClient(mlhttp.Config{
			Endpoint: cfg.Endpoint,
			APIKey:   cfg.APIKey,
			Timeout:  config.Seconds(cfg.TimeoutSeconds),
		})
		return capabilities{embedder: client, summarizer: client}, nil
	case config.ProviderGemini:
		client, err := gemini.New(ctx, gemini.Config{
			APIKey:         cfg.APIKey,
			EmbeddingModel: cfg.EmbeddingModel,
			SummaryModel:   cfg.SummaryModel,
		}, logger.Named("gemini"))
		if err != nil {
			return capabilities{}, fmt.Errorf("init gemini: %w", err)
		}
		return capabilities{embedder: client, summarizer: client, closer: client}, nil
	case config.ProviderNone:
		logger.Warn("no capability provider configured; search runs keyword-only")
		return capabilities{}, nil
	default:
		return capabilities{}, fmt.Errorf("unknown capabilities provider %q", cfg.Provider)
	}
}

// Service returns the crawl and search service.
func (a *App) Service() *search.Service {
	return a.service
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config {
	return a.cfg
}

// Ready reports whether the configured archive is reachable.
func (a *App) Ready(ctx context.Context) error {
	if p, ok := a.archive.(pinger); ok {
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("archive unavailable: %w", err)
		}
	}
	return nil
}

// Close shuts down every service in the container.
func (a *App) Close() {
	a.logger.Info("shutting down application services")
	if a.caps.closer != nil {
		if err := a.caps.closer.Close(); err != nil {
			a.logger.Warn("error closing capability client", zap.Error(err))
		}
	}
	if a.archive != nil {
		if err := a.archive.Close(); err != nil {
			a.logger.Warn("error closing archive", zap.Error(err))
		}
	}
	if a.tracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Warn("error shutting down tracer provider", zap.Error(err))
		}
	}
}
