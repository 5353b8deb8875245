package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mohammed-shakir/tile-seeder/internal/api"
	"github.com/mohammed-shakir/tile-seeder/internal/cache"
	"github.com/mohammed-shakir/tile-seeder/internal/cache/gcsstore"
	"github.com/mohammed-shakir/tile-seeder/internal/cache/redisstore"
	"github.com/mohammed-shakir/tile-seeder/internal/cache/sqlitestore"
	"github.com/mohammed-shakir/tile-seeder/internal/catalog"
	"github.com/mohammed-shakir/tile-seeder/internal/cluster"
	"github.com/mohammed-shakir/tile-seeder/internal/cluster/kafkabus"
	"github.com/mohammed-shakir/tile-seeder/internal/core/config"
	"github.com/mohammed-shakir/tile-seeder/internal/core/health"
	"github.com/mohammed-shakir/tile-seeder/internal/core/httpclient"
	"github.com/mohammed-shakir/tile-seeder/internal/core/observability"
	"github.com/mohammed-shakir/tile-seeder/internal/core/server"
	"github.com/mohammed-shakir/tile-seeder/internal/jobs"
	"github.com/mohammed-shakir/tile-seeder/internal/logger"
	"github.com/mohammed-shakir/tile-seeder/internal/metrics"
	"github.com/mohammed-shakir/tile-seeder/internal/params"
	"github.com/mohammed-shakir/tile-seeder/internal/seeder"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		return 2
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}

	zl := logger.Build(logger.Config{
		Level:      cfg.Log.Level,
		Console:    cfg.Log.Console,
		SampleN:    cfg.Log.SampleN,
		InstanceID: cfg.InstanceID,
		Component:  "tileseed",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithInstanceID(ctx, cfg.InstanceID)

	p := metrics.Init(metrics.Config{Build: metrics.BuildInfo{Version: cfg.Metrics.Version, InstanceID: cfg.InstanceID}})
	metricsHandler := p.Handler()
	register := p.Registerer()
	if !cfg.Metrics.Enabled {
		metricsHandler = http.NotFoundHandler()
		register = nil
	}
	if err := observability.Init(register); err != nil {
		appLog.Error("metrics init failed", "err", err)
		return 1
	}

	appLog.Info("starting tile seeder",
		"addr", cfg.Addr,
		"version", cfg.Metrics.Version,
		"store", cfg.TileStore,
		"wms", cfg.WMSURL,
		"cluster", cfg.Cluster.Enabled)

	store, registry, closeStore, err := openStore(ctx, cfg, appLog)
	if err != nil {
		appLog.Error("tile store setup failed", "err", err)
		return 1
	}
	defer closeStore()

	files := []string{cfg.CatalogFile}
	if cfg.PlanFile != "" {
		files = append(files, cfg.PlanFile)
	}
	cat, err := catalog.Load(files...)
	if err != nil {
		appLog.Error("catalog load failed", "err", err, "files", files)
		return 1
	}
	if err := cat.RegisterParameters(ctx, registry); err != nil {
		appLog.Error("parameters registration failed", "err", err)
		return 1
	}
	appLog.Info("catalog loaded", "layers", cat.LayerNames(), "plans", len(cat.Plans()))

	renderer := seeder.NewWMSRenderer(httpclient.NewOutbound(cfg.RenderPoolSize, cfg.RenderTimeout), cfg.WMSURL)
	renderer.Parameters = func(layer, _ string) map[string]string { return cat.WMSParameters(layer) }
	pool, err := ants.NewPool(cfg.RenderPoolSize, ants.WithOptions(ants.Options{
		ExpiryDuration: 30 * time.Second,
		PanicHandler: func(v any) {
			appLog.Error("render task panicked", "panic", v)
		},
	}))
	if err != nil {
		appLog.Error("render pool setup failed", "err", err)
		return 1
	}
	defer pool.Release()
	backend := seeder.New(store, renderer, seeder.Options{
		Logger:      appLog.With("component", "seeder"),
		TTL:         cfg.TileTTL,
		Pool:        pool,
		Concurrency: cfg.Concurrency,
	})

	local := jobs.NewManager(cat, registry, backend, jobs.Options{
		Logger:            appLog.With("component", "jobs"),
		Register:          register,
		InstanceID:        cfg.InstanceID,
		MaxConcurrentJobs: cfg.MaxConcurrentJobs,
	})

	bus, ready, stopBus, err := openBus(ctx, cfg, appLog, register)
	if err != nil {
		appLog.Error("cluster bus setup failed", "err", err)
		return 1
	}
	cm := cluster.New(local, bus, cluster.Options{
		Logger:       appLog.With("component", "cluster"),
		Register:     register,
		LeaveTimeout: cfg.Cluster.LeaveTimeout,
	})
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Cluster.LeaveTimeout+5*time.Second)
		defer cancel()
		if err := cm.LeaveCluster(shutdownCtx); err != nil {
			appLog.Warn("leave cluster", "err", err)
		}
		if err := local.Close(shutdownCtx); err != nil {
			appLog.Warn("job manager close", "err", err)
		}
		stopBus()
	}()

	if err := cm.JoinCluster(ctx); err != nil {
		appLog.Error("join cluster failed", "err", err)
		return 1
	}
	launchPlans(ctx, cm, cat, appLog)

	handler := server.NewRouter(server.Deps{
		Logger: appLog,
		Jobs:   api.NewHandler(cm, validator.New(), appLog.With("component", "api")),
		Ready: health.All(
			health.ReadinessFunc(func() (bool, []int32) { return cm.IsRunning(), nil }),
			ready,
		),
		Metrics:     metricsHandler,
		MetricsPath: cfg.Metrics.Path,
	})
	if err := server.Run(ctx, cfg.Addr, appLog, handler); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}

// openStore returns the tile store and the parameters registry that goes with it.
func openStore(ctx context.Context, cfg config.Config, log *slog.Logger) (cache.TileStore, params.Registry, func(), error) {
	switch cfg.TileStore {
	case config.StoreRedis:
		c, err := redisstore.New(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("redis %s: %w", cfg.RedisAddr, err)
		}
		return c, params.NewRedisRegistry(c), closer(c, log), nil
	case config.StoreSQLite:
		s, err := sqlitestore.Open(ctx, cfg.SQLitePath, log)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("sqlite %s: %w", cfg.SQLitePath, err)
		}
		return s, params.NewMemoryRegistry(), closer(s, log), nil
	case config.StoreGCS:
		s, err := gcsstore.New(ctx, cfg.GCSBucket, cfg.GCSPrefix, log)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("gcs %s: %w", cfg.GCSBucket, err)
		}
		return s, params.NewMemoryRegistry(), closer(s, log), nil
	default:
		return cache.NewMemory(), params.NewMemoryRegistry(), func() {}, nil
	}
}

func closer(c io.Closer, log *slog.Logger) func() {
	return func() {
		if err := c.Close(); err != nil {
			log.Warn("tile store close", "err", err)
		}
	}
}

// openBus returns the in-process bus for a single instance, or a Kafka bus when clustering.
func openBus(ctx context.Context, cfg config.Config, log *slog.Logger, register prometheus.Registerer) (cluster.Bus, health.ReadinessReporter, func(), error) {
	if !cfg.Cluster.Enabled {
		b := cluster.NewLocalBus()
		alwaysReady := health.ReadinessFunc(func() (bool, []int32) { return true, nil })
		return b, alwaysReady, b.Close, nil
	}
	b, err := kafkabus.Dial(kafkabus.Config{
		Brokers:     cfg.Cluster.KafkaBrokers,
		Topic:       cfg.Cluster.KafkaTopic,
		GroupPrefix: cfg.Cluster.GroupPrefix,
		InstanceID:  cfg.InstanceID,
	}, kafkabus.Options{Logger: log.With("component", "kafkabus"), Register: register})
	if err != nil {
		return nil, nil, nil, err
	}
	if err := b.Start(ctx); err != nil {
		b.Stop()
		return nil, nil, nil, err
	}
	return b, b, b.Stop, nil
}
