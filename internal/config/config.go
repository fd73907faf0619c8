package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/annel0/voxel-world/internal/cache"
	"github.com/annel0/voxel-world/internal/chunkmgr"
	"github.com/annel0/voxel-world/internal/logging"
	"github.com/annel0/voxel-world/internal/replication"
	"github.com/annel0/voxel-world/internal/storage"
	"github.com/annel0/voxel-world/internal/world"
)

// Config is the root of the server configuration file.
type Config struct {
	World       WorldConfig        `yaml:"world"`
	Chunks      ChunksConfig       `yaml:"chunks"`
	Replication replication.Config `yaml:"replication"`
	Storage     StorageConfig      `yaml:"storage"`
	Positions   PositionsConfig    `yaml:"positions"`
	Cache       cache.CacheConfig  `yaml:"cache"`
	// Invalidation fans snapshot cache invalidations out over NATS; an
	// empty nats_url keeps them node-local.
	Invalidation cache.InvalidatorConfig `yaml:"invalidation"`
	EventBus     EventBusConfig          `yaml:"eventbus"`
	Sync         SyncConfig              `yaml:"sync"`
	Server       ServerConfig            `yaml:"server"`
	Logging      logging.Config          `yaml:"logging"`
	Telemetry    TelemetryConfig         `yaml:"telemetry"`
}

type WorldConfig struct {
	Seed           int64   `yaml:"seed"`
	ChunkSize      int     `yaml:"chunk_size"`
	HeightScale    float64 `yaml:"height_scale"`
	BaseHeight     int     `yaml:"base_height"`
	NoiseFrequency float64 `yaml:"noise_frequency"`
	WaterLevel     int     `yaml:"water_level"`
	// Catalog is a JSON or YAML block catalog; empty uses the built-in one.
	Catalog string `yaml:"catalog"`
}

// Generator converts the section into generator parameters.
func (w WorldConfig) Generator() world.GeneratorConfig {
	g := world.DefaultGeneratorConfig(w.Seed)
	g.HeightScale = w.HeightScale
	g.BaseHeight = w.BaseHeight
	g.NoiseFrequency = w.NoiseFrequency
	g.WaterLevel = w.WaterLevel
	return g
}

type ChunksConfig struct {
	InterestRadius int           `yaml:"interest_radius"`
	VerticalRadius int           `yaml:"vertical_radius"`
	Hysteresis     int           `yaml:"hysteresis"`
	Workers        int           `yaml:"workers"`
	QueueSize      int           `yaml:"queue_size"`
	MaxRetries     int           `yaml:"max_retries"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
	TickInterval   time.Duration `yaml:"tick_interval"`
	LODBands       []int         `yaml:"lod_bands"`
}

// Manager converts the section into chunk manager settings.
func (c ChunksConfig) Manager() chunkmgr.Config {
	return chunkmgr.Config{
		InterestRadius: c.InterestRadius,
		VerticalRadius: c.VerticalRadius,
		Hysteresis:     c.Hysteresis,
		Workers:        c.Workers,
		QueueSize:      c.QueueSize,
		MaxRetries:     c.MaxRetries,
		RetryDelay:     c.RetryDelay,
		TickInterval:   c.TickInterval,
		LODBands:       c.LODBands,
	}
}

type StorageConfig struct {
	Driver string `yaml:"driver"` // badger | sqlite | memory
	Path   string `yaml:"path"`
}

type PositionsConfig struct {
	Driver string              `yaml:"driver"` // memory | redis | maria
	DSN    string              `yaml:"dsn"`
	Redis  storage.RedisConfig `yaml:"redis"`
}

type EventBusConfig struct {
	Driver    string `yaml:"driver"` // memory | jetstream
	URL       string `yaml:"url"`
	Stream    string `yaml:"stream"`
	Retention int    `yaml:"retention_hours"`
	Capacity  int    `yaml:"capacity"`
}

type SyncConfig struct {
	Enabled        bool          `yaml:"enabled"`
	NodeID         string        `yaml:"node_id"`
	BatchSize      int           `yaml:"batch_size"`
	FlushEvery     time.Duration `yaml:"flush_every"`
	Compression    string        `yaml:"compression"` // zstd | gzip | none
	PublishRecords bool          `yaml:"publish_records"`
}

type ServerConfig struct {
	Host                 string `yaml:"host"`
	KCPPort              int    `yaml:"kcp_port"`
	WSPort               int    `yaml:"ws_port"`
	MetricsPort          int    `yaml:"metrics_port"`
	CompressionThreshold int    `yaml:"compression_threshold"`
}

// GetKCPPort returns the KCP port: config, then VOXEL_KCP_PORT, then 7777.
func (s *ServerConfig) GetKCPPort() int {
	return getPortWithEnvFallback(s.KCPPort, "VOXEL_KCP_PORT", 7777)
}

// GetWSPort returns the WebSocket port: config, then VOXEL_WS_PORT, then 7780.
func (s *ServerConfig) GetWSPort() int {
	return getPortWithEnvFallback(s.WSPort, "VOXEL_WS_PORT", 7780)
}

// GetMetricsPort returns the Prometheus port: config, then
// VOXEL_METRICS_PORT, then 2112.
func (s *ServerConfig) GetMetricsPort() int {
	return getPortWithEnvFallback(s.MetricsPort, "VOXEL_METRICS_PORT", 2112)
}

// Addr joins the host with a port.
func (s *ServerConfig) Addr(port int) string {
	return fmt.Sprintf("%s:%d", s.Host, port)
}

type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled"`
	ServiceName string  `yaml:"service_name"`
	Endpoint    string  `yaml:"endpoint"` // OTLP/HTTP host:port
	SampleRatio float64 `yaml:"sample_ratio"`
}

// getPortWithEnvFallback returns the port with priority config -> env -> default.
func getPortWithEnvFallback(configPort int, envVar string, defaultPort int) int {
	if configPort > 0 {
		return configPort
	}
	if envVal := os.Getenv(envVar); envVal != "" {
		if port, err := strconv.Atoi(envVal); err == nil && port > 0 {
			return port
		}
	}
	return defaultPort
}

// Default returns a complete configuration. Ports are left at zero so the
// env fallbacks apply.
func Default() *Config {
	chunks := chunkmgr.DefaultConfig()
	return &Config{
		World: WorldConfig{
			Seed:           12345,
			ChunkSize:      16,
			HeightScale:    10,
			NoiseFrequency: 0.01,
			WaterLevel:     2,
		},
		Chunks: ChunksConfig{
			InterestRadius: chunks.InterestRadius,
			VerticalRadius: chunks.VerticalRadius,
			Hysteresis:     chunks.Hysteresis,
			Workers:        chunks.Workers,
			QueueSize:      chunks.QueueSize,
			MaxRetries:     chunks.MaxRetries,
			RetryDelay:     chunks.RetryDelay,
			TickInterval:   chunks.TickInterval,
			LODBands:       chunks.LODBands,
		},
		Replication: replication.DefaultConfig(),
		Storage:     StorageConfig{Driver: "badger", Path: "data/chunks"},
		Positions:   PositionsConfig{Driver: "memory", Redis: *storage.DefaultRedisConfig()},
		Cache:       cache.DefaultCacheConfig(),
		EventBus: EventBusConfig{
			Driver:    "memory",
			URL:       "nats://127.0.0.1:4222",
			Stream:    "VOXEL_EVENTS",
			Retention: 24,
			Capacity:  4096,
		},
		Sync: SyncConfig{
			NodeID:      "node-1",
			BatchSize:   256,
			FlushEvery:  100 * time.Millisecond,
			Compression: "zstd",
		},
		Server: ServerConfig{
			CompressionThreshold: 512,
		},
		Logging: logging.DefaultConfig(),
		Telemetry: TelemetryConfig{
			ServiceName: "voxel-world",
			Endpoint:    "localhost:4318",
			SampleRatio: 1,
		},
	}
}

// Load overlays a YAML file on Default. An empty path falls back to the
// VOXEL_CONFIG env var; with neither set the defaults are returned.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv("VOXEL_CONFIG")
		if path == "" {
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects values no component can run with.
func (c *Config) Validate() error {
	if c.World.ChunkSize < 2 {
		return fmt.Errorf("world.chunk_size must be at least 2, got %d", c.World.ChunkSize)
	}
	switch c.Storage.Driver {
	case "badger", "sqlite", "memory":
	default:
		return fmt.Errorf("unknown storage.driver %q", c.Storage.Driver)
	}
	switch c.Positions.Driver {
	case "memory", "redis", "maria":
	default:
		return fmt.Errorf("unknown positions.driver %q", c.Positions.Driver)
	}
	switch c.EventBus.Driver {
	case "memory", "jetstream":
	default:
		return fmt.Errorf("unknown eventbus.driver %q", c.EventBus.Driver)
	}
	switch c.Sync.Compression {
	case "zstd", "gzip", "none", "":
	default:
		return fmt.Errorf("unknown sync.compression %q", c.Sync.Compression)
	}
	return nil
}
