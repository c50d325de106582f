// config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Letters   LettersConfig   `yaml:"letters"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	CORS      CORSConfig      `yaml:"cors"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type StoreConfig struct {
	Type     string         `yaml:"type"`
	Redis    RedisConfig    `yaml:"redis"`
	Mongo    MongoConfig    `yaml:"mongo"`
	Postgres PostgresConfig `yaml:"postgres"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type MongoConfig struct {
	URI            string        `yaml:"uri"`
	Database       string        `yaml:"database"`
	Collection     string        `yaml:"collection"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type LettersConfig struct {
	TTL           time.Duration `yaml:"ttl"`
	MaxImageChars int           `yaml:"max_image_chars"`
	MaxBodyBytes  int64         `yaml:"max_body_bytes"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	SealAtRest    bool          `yaml:"seal_at_rest"`
	SealKey       string        `yaml:"seal_key"`
}

type RateLimitConfig struct {
	Enabled        bool `yaml:"enabled"`
	RequestsPerMin int  `yaml:"requests_per_min"`
	Burst          int  `yaml:"burst"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StoreMongo    = "mongo"
	StorePostgres = "postgres"
)

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Store: StoreConfig{
			Type: StoreMemory,
			Redis: RedisConfig{
				Addr: "localhost:6379",
			},
			Mongo: MongoConfig{
				URI:            "mongodb://localhost:27017",
				Database:       "letters",
				Collection:     "letters",
				ConnectTimeout: 5 * time.Second,
			},
		},
		Letters: LettersConfig{
			TTL:           24 * time.Hour,
			MaxImageChars: 5_000_000,
			MaxBodyBytes:  10 << 20,
			SweepInterval: time.Hour,
			SealAtRest:    true,
		},
		RateLimit: RateLimitConfig{
			Enabled:        true,
			RequestsPerMin: 100,
			Burst:          20,
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFromFile(path); err != nil {
			return nil, err
		}
	}

	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // File not found is OK, use defaults
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	return nil
}

func (c *Config) loadFromEnv() {
	// Server
	if v := os.Getenv("HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}

	// Store
	if v := os.Getenv("STORE_TYPE"); v != "" {
		c.Store.Type = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Store.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Store.Redis.Password = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			c.Store.Redis.DB = db
		}
	}
	if v := os.Getenv("MONGODB_URI"); v != "" {
		c.Store.Mongo.URI = v
	}
	if v := os.Getenv("MONGODB_DATABASE"); v != "" {
		c.Store.Mongo.Database = v
	}
	if v := os.Getenv("MONGODB_COLLECTION"); v != "" {
		c.Store.Mongo.Collection = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Store.Postgres.DSN = v
	}

	// Letters
	if v := os.Getenv("LETTER_TTL"); v != "" {
		if ttl, err := time.ParseDuration(v); err == nil {
			c.Letters.TTL = ttl
		}
	}
	if v := os.Getenv("MAX_IMAGE_CHARS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Letters.MaxImageChars = n
		}
	}
	if v := os.Getenv("MAX_BODY_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Letters.MaxBodyBytes = n
		}
	}
	if v := os.Getenv("SWEEP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Letters.SweepInterval = d
		}
	}
	if v := os.Getenv("SEAL_AT_REST"); v != "" {
		c.Letters.SealAtRest = v == "true" || v == "1"
	}
	if v := os.Getenv("SEAL_KEY"); v != "" {
		c.Letters.SealKey = v
	}

	if v := os.Getenv("RATE_LIMIT_ENABLED"); v != "" {
		c.RateLimit.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("RATE_LIMIT_REQUESTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RateLimit.RequestsPerMin = n
		}
	}
	if v := os.Getenv("RATE_LIMIT_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RateLimit.Burst = n
		}
	}

	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		var origins []string
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		c.CORS.AllowedOrigins = origins
	}

	if v := os.Getenv("METRICS_ENABLED"); v != "" {
		c.Metrics.Enabled = v == "true" || v == "1"
	}
}

func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}

	switch c.Store.Type {
	case StoreMemory:
	case StoreRedis:
		if c.Store.Redis.Addr == "" {
			return fmt.Errorf("redis addr is required when store type is 'redis'")
		}
	case StoreMongo:
		if c.Store.Mongo.URI == "" {
			return fmt.Errorf("mongo uri is required when store type is 'mongo'")
		}
		if c.Store.Mongo.Database == "" || c.Store.Mongo.Collection == "" {
			return fmt.Errorf("mongo database and collection are required")
		}
	case StorePostgres:
		if c.Store.Postgres.DSN == "" {
			return fmt.Errorf("postgres dsn is required when store type is 'postgres'")
		}
	default:
		return fmt.Errorf("invalid store type: %s (must be 'memory', 'redis', 'mongo' or 'postgres')", c.Store.Type)
	}

	if c.Letters.TTL <= 0 {
		return fmt.Errorf("letters ttl must be positive")
	}

	if c.Letters.SweepInterval <= 0 {
		return fmt.Errorf("sweep_interval must be positive")
	}

	if c.Letters.MaxImageChars < 1 {
		return fmt.Errorf("max_image_chars must be at least 1")
	}

	if c.Letters.MaxBodyBytes < int64(c.Letters.MaxImageChars) {
		return fmt.Errorf("max_body_bytes must be >= max_image_chars")
	}

	// A memory store dies with the process, so it may run on a random key.
	if c.Letters.SealAtRest && c.Store.Type != StoreMemory && len(c.Letters.SealKey) < 16 {
		return fmt.Errorf("seal_key of at least 16 bytes is required to seal a '%s' store", c.Store.Type)
	}
	if c.Letters.SealKey != "" && len(c.Letters.SealKey) < 16 {
		return fmt.Errorf("seal_key must be at least 16 bytes")
	}

	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerMin < 1 || c.RateLimit.Burst < 1) {
		return fmt.Errorf("rate_limit requests_per_min and burst must be at least 1")
	}

	return nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
