// Package config reads the process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
	StoreSQLite = "sqlite"
	StoreGCS    = "gcs"
)

type LogCfg struct {
	Level   string `env:"LEVEL" envDefault:"info"`
	Console bool   `env:"CONSOLE" envDefault:"false"`
	SampleN int    `env:"SAMPLE_N" envDefault:"0"`
}

type ClusterCfg struct {
	Enabled      bool          `env:"CLUSTER_ENABLED" envDefault:"false"`
	KafkaBrokers []string      `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string        `env:"KAFKA_TOPIC" envDefault:"tileseed-jobs"`
	GroupPrefix  string        `env:"KAFKA_GROUP_PREFIX" envDefault:"tileseed-"`
	LeaveTimeout time.Duration `env:"LEAVE_TIMEOUT" envDefault:"5s"`
}

type MetricsCfg struct {
	Enabled bool   `env:"ENABLED" envDefault:"true"`
	Path    string `env:"PATH" envDefault:"/metrics"`
	Version string `env:"VERSION" envDefault:"dev"`
}

type Config struct {
	Addr string `env:"ADDR" envDefault:":8090"`
	Log  LogCfg `envPrefix:"LOG_"`

	CatalogFile string `env:"CATALOG_FILE" envDefault:"catalog.hcl"`
	// PlanFile holds seed blocks launched at startup. Optional.
	PlanFile string `env:"PLAN_FILE"`

	InstanceID        string `env:"INSTANCE_ID"`
	MaxConcurrentJobs int    `env:"MAX_CONCURRENT_JOBS" envDefault:"0"`

	TileStore   string        `env:"TILE_STORE" envDefault:"memory"`
	RedisAddr   string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	SQLitePath  string        `env:"SQLITE_PATH" envDefault:"tiles.db"`
	GCSBucket   string        `env:"GCS_BUCKET"`
	GCSPrefix   string        `env:"GCS_PREFIX"`
	TileTTL     time.Duration `env:"TILE_TTL" envDefault:"0s"`
	Concurrency int           `env:"RENDER_CONCURRENCY" envDefault:"4"`
	// RenderPoolSize bounds renders across all jobs; zero means 2*RENDER_CONCURRENCY.
	RenderPoolSize int `env:"RENDER_POOL_SIZE" envDefault:"0"`

	WMSURL        string        `env:"WMS_URL" envDefault:"http://localhost:8080/geoserver/wms"`
	RenderTimeout time.Duration `env:"RENDER_TIMEOUT" envDefault:"30s"`

	Cluster ClusterCfg
	Metrics MetricsCfg `envPrefix:"METRICS_"`
}

// Load reads an optional .env file, then parses the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv parses the environment without touching .env files.
func FromEnv() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	c.TileStore = strings.ToLower(strings.TrimSpace(c.TileStore))
	switch c.TileStore {
	case StoreMemory, StoreRedis, StoreSQLite, StoreGCS:
	default:
		return fmt.Errorf("TILE_STORE must be one of memory, redis, sqlite, gcs; got %q", c.TileStore)
	}
	if c.TileStore == StoreGCS && c.GCSBucket == "" {
		return errors.New("TILE_STORE=gcs requires GCS_BUCKET")
	}
	if c.MaxConcurrentJobs < 0 {
		return fmt.Errorf("MAX_CONCURRENT_JOBS must be >= 0, got %d", c.MaxConcurrentJobs)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("RENDER_CONCURRENCY must be >= 1, got %d", c.Concurrency)
	}
	if c.RenderPoolSize < 0 {
		return fmt.Errorf("RENDER_POOL_SIZE must be >= 0, got %d", c.RenderPoolSize)
	}
	if c.RenderPoolSize == 0 {
		c.RenderPoolSize = 2 * c.Concurrency
	}
	if c.Cluster.Enabled && len(c.Cluster.KafkaBrokers) == 0 {
		return errors.New("CLUSTER_ENABLED requires KAFKA_BROKERS")
	}
	return nil
}
