package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/harishambati/fuzzyset/internal/analytics"
	analyticsstore "github.com/harishambati/fuzzyset/internal/analytics/aggregator"
	"github.com/harishambati/fuzzyset/internal/matcher"
	"github.com/harishambati/fuzzyset/internal/matcher/analyzer"
	"github.com/harishambati/fuzzyset/internal/matcher/cache"
	"github.com/harishambati/fuzzyset/internal/matcher/handler"
	"github.com/harishambati/fuzzyset/internal/vocabulary"
	"github.com/harishambati/fuzzyset/pkg/config"
	"github.com/harishambati/fuzzyset/pkg/health"
	"github.com/harishambati/fuzzyset/pkg/kafka"
	"github.com/harishambati/fuzzyset/pkg/logger"
	"github.com/harishambati/fuzzyset/pkg/metrics"
	"github.com/harishambati/fuzzyset/pkg/middleware"
	"github.com/harishambati/fuzzyset/pkg/postgres"
	pkgredis "github.com/harishambati/fuzzyset/pkg/redis"
	"github.com/harishambati/fuzzyset/pkg/resilience"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	if err := run(cfg); err != nil {
		slog.Error("matcher service failed", "error", err)
		os.Exit(1)
	}
	slog.Info("matcher service stopped")
}

func run(cfg *config.Config) error {
	slog.Info("starting matcher service",
		"port", cfg.Server.Port,
		"gram_sizes", fmt.Sprintf("%d-%d", cfg.Fuzzy.GramSizeLower, cfg.Fuzzy.GramSizeUpper),
		"levenshtein", cfg.Fuzzy.UseLevenshtein,
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	onBreakerChange := func(name string, _, to resilience.State) {
		m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
	}

	engine, err := matcher.NewEngine(cfg.Fuzzy, analyzer.New(cfg.Analyzer), m)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	checker := health.NewChecker()
	retry := resilience.RetryConfig{MaxAttempts: 5}

	if cfg.Vocabulary.File != "" {
		if _, err := vocabulary.Seed(ctx, "file", vocabulary.FileSource(cfg.Vocabulary.File), engine, retry, cfg.Vocabulary.LoadTimeout); err != nil {
			return fmt.Errorf("seeding vocabulary file: %w", err)
		}
	}

	var (
		vocabStore *vocabulary.Store
		snapshots  *analyticsstore.Store
	)
	if cfg.Postgres.Enabled {
		var pg *postgres.Client
		err := resilience.Retry(ctx, "connect postgres", retry, func(ctx context.Context) error {
			var err error
			pg, err = postgres.New(ctx, cfg.Postgres)
			return err
		})
		if err != nil {
			return err
		}
		defer pg.Close()

		vocabStore = vocabulary.NewStore(pg, cfg.Vocabulary.Table)
		if err := vocabStore.EnsureSchema(ctx); err != nil {
			return err
		}
		if _, err := vocabulary.Seed(ctx, "postgres", vocabStore, engine, retry, cfg.Vocabulary.LoadTimeout); err != nil {
			return fmt.Errorf("seeding vocabulary from postgres: %w", err)
		}
		snapshots = analyticsstore.NewStore(pg)
		if err := snapshots.EnsureSchema(ctx); err != nil {
			return err
		}
		checker.Register("postgres", func(ctx context.Context) health.ComponentHealth {
			if err := pg.Ping(ctx); err != nil {
				return health.ComponentHealth{Status: health.StatusDown, Message: err.Error()}
			}
			return health.ComponentHealth{Status: health.StatusUp}
		})
	}

	var queryCache *cache.QueryCache
	if cfg.Redis.Enabled {
		redisClient, err := pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, match caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			breaker := resilience.NewCircuitBreaker("redis", resilience.CircuitBreakerConfig{OnStateChange: onBreakerChange})
			queryCache = cache.New(redisClient, cfg.Redis.CacheTTL, breaker, m)
			slog.Info("match cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
			checker.Register("redis", func(ctx context.Context) health.ComponentHealth {
				if err := redisClient.Ping(ctx); err != nil {
					return health.ComponentHealth{Status: health.StatusDegraded, Message: err.Error()}
				}
				return health.ComponentHealth{Status: health.StatusUp, Message: "breaker " + breaker.State().String()}
			})
		}
	}

	aggregator := analytics.NewAggregator()
	var tracker analytics.Tracker = aggregator
	var feed handler.Publisher
	bg, bgCtx := errgroup.WithContext(ctx)

	if cfg.Kafka.Enabled {
		var vocabConsumer *kafka.Consumer
		err := resilience.Retry(ctx, "lookup vocabulary partitions", retry, func(ctx context.Context) error {
			var err error
			vocabConsumer, err = kafka.NewReplayConsumer(ctx, cfg.Kafka, cfg.Kafka.Topics.Vocabulary, vocabulary.HandleMessage(engine))
			return err
		})
		if err != nil {
			return fmt.Errorf("creating vocabulary consumer: %w", err)
		}
		bg.Go(func() error { return vocabConsumer.Start(bgCtx) })

		vocabProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.Vocabulary)
		defer vocabProducer.Close()
		feed = vocabProducer

		analyticsProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents)
		defer analyticsProducer.Close()
		collector := analytics.NewCollector(analyticsProducer, analytics.CollectorConfig{
			BufferSize:    cfg.Analytics.BufferSize,
			BatchSize:     cfg.Analytics.BatchSize,
			FlushInterval: cfg.Analytics.FlushInterval,
		})
		collector.Start(bgCtx)
		defer collector.Close()
		tracker = collector

		analyticsKafka := cfg.Kafka
		analyticsKafka.ConsumerGroup += "-analytics"
		analyticsConsumer := kafka.NewConsumer(analyticsKafka, cfg.Kafka.Topics.AnalyticsEvents,
			analytics.HandleEvent(aggregator))
		bg.Go(func() error { return analyticsConsumer.Start(bgCtx) })
		slog.Info("kafka enabled",
			"brokers", cfg.Kafka.Brokers,
			"vocabulary_topic", cfg.Kafka.Topics.Vocabulary,
			"analytics_topic", cfg.Kafka.Topics.AnalyticsEvents,
		)
	}
	if snapshots != nil {
		done := snapshots.StartPeriodicSave(bgCtx, aggregator, cfg.Analytics.SnapshotInterval)
		defer func() { <-done }()
	}

	checker.Register("index", func(context.Context) health.ComponentHealth {
		if size := engine.Size(); size > 0 {
			return health.ComponentHealth{Status: health.StatusUp, Message: fmt.Sprintf("%d values", size)}
		}
		return health.ComponentHealth{Status: health.StatusDegraded, Message: "vocabulary empty"}
	})

	h := handler.New(engine, handler.Options{
		DefaultLimit: cfg.Match.DefaultLimit,
		MaxResults:   cfg.Match.MaxResults,
		Cache:        queryCache,
		Tracker:      tracker,
		Store:        storeOrNil(vocabStore),
		Feed:         feed,
		Metrics:      m,
	})
	mux := http.NewServeMux()
	h.Register(mux)
	mux.HandleFunc("GET /api/v1/analytics", analytics.NewHandler(aggregator).Stats)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	if cfg.Server.RateLimit > 0 {
		chain = middleware.RateLimit(middleware.NewLimiter(cfg.Server.RateLimit, cfg.Server.RateWindow))(chain)
	}
	if len(cfg.Server.CORSOrigins) > 0 {
		chain = middleware.CORS(cfg.Server.CORSOrigins)(chain)
	}
	if cfg.Server.TraceThreshold > 0 {
		chain = middleware.Trace(cfg.Server.TraceThreshold, logger.WithComponent("trace"))(chain)
	}
	chain = middleware.Metrics(m)(chain)
	chain = middleware.RequestID(chain)

	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port, reg)
		defer shutdownMetrics(context.Background())
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	bg.Go(func() error {
		<-bgCtx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	bg.Go(func() error {
		slog.Info("matcher service listening", "addr", server.Addr, "vocabulary_size", engine.Size())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	return bg.Wait()
}

// storeOrNil keeps a nil *Store from becoming a non-nil interface.
func storeOrNil(s *vocabulary.Store) handler.Persister {
	if s == nil {
		return nil
	}
	return s
}
