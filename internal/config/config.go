package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is read when no explicit config file is given and it exists.
const DefaultPath = "config.yaml"

// Store drivers.
const (
	DriverMongo    = "mongo"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Extractor backends.
const (
	BackendDlib = "dlib"
	BackendHTTP = "http"
	BackendGRPC = "grpc"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Store     StoreConfig     `yaml:"store"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Extractor ExtractorConfig `yaml:"extractor"`
	Match     MatchConfig     `yaml:"match"`
	Cache     CacheConfig     `yaml:"cache"`
	Auth      AuthConfig      `yaml:"auth"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

type StoreConfig struct {
	Driver   string         `yaml:"driver"`
	Mongo    MongoConfig    `yaml:"mongo"`
	Postgres PostgresConfig `yaml:"postgres"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
}

type MongoConfig struct {
	URI        string `yaml:"uri"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

type PostgresConfig struct {
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

type ArchiveConfig struct {
	Dir string `yaml:"dir"`
}

type ExtractorConfig struct {
	Backend  string        `yaml:"backend"`
	ModelDir string        `yaml:"model_dir"` // dlib model directory
	URL      string        `yaml:"url"`       // HTTP embedding server
	GRPCAddr string        `yaml:"grpc_addr"`
	Timeout  time.Duration `yaml:"timeout"`
	Dim      int           `yaml:"dim"`
}

type MatchConfig struct {
	Threshold float64 `yaml:"threshold"`
}

type CacheConfig struct {
	RedisAddr string        `yaml:"redis_addr"` // empty disables the cache
	TTL       time.Duration `yaml:"ttl"`
}

type AuthConfig struct {
	JWTSecret   string `yaml:"jwt_secret"` // empty leaves registration open
	JWTAudience string `yaml:"jwt_audience"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8000",
			ShutdownTimeout: 15 * time.Second,
			MaxUploadBytes:  10 << 20,
		},
		Log: LogConfig{Level: "info"},
		Store: StoreConfig{
			Driver: DriverMongo,
			Mongo: MongoConfig{
				URI:        "mongodb://localhost:27017/",
				Database:   "face_db",
				Collection: "faces",
			},
			Postgres: PostgresConfig{
				DSN:          "host=localhost user=postgres password=postgres dbname=face_db port=5432 sslmode=disable",
				MaxOpenConns: 10,
				MaxIdleConns: 5,
			},
			SQLite: SQLiteConfig{Path: "faces.db"},
		},
		Archive: ArchiveConfig{Dir: "images"},
		Extractor: ExtractorConfig{
			Backend:  BackendDlib,
			ModelDir: "models",
			URL:      "http://localhost:8001",
			GRPCAddr: "localhost:50051",
			Timeout:  30 * time.Second,
			Dim:      128,
		},
		Match: MatchConfig{Threshold: 0.6},
		Cache: CacheConfig{TTL: 5 * time.Minute},
	}
}

// Load builds the configuration from defaults, then the YAML file at path
// (or DefaultPath when path is empty and that file exists), then environment
// variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks enumerated values and numeric bounds.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverMongo, DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	switch c.Extractor.Backend {
	case BackendDlib, BackendHTTP, BackendGRPC:
	default:
		return fmt.Errorf("unknown extractor backend %q", c.Extractor.Backend)
	}
	if c.Extractor.Dim <= 0 {
		return fmt.Errorf("extractor dim must be positive, got %d", c.Extractor.Dim)
	}
	if c.Match.Threshold <= 0 {
		return fmt.Errorf("match threshold must be positive, got %v", c.Match.Threshold)
	}
	if c.Server.MaxUploadBytes <= 0 {
		return fmt.Errorf("max upload bytes must be positive, got %d", c.Server.MaxUploadBytes)
	}
	if strings.TrimSpace(c.Archive.Dir) == "" {
		return errors.New("archive dir is required")
	}
	return nil
}

func applyEnv(cfg *Config) error {
	cfg.Server.Addr = getEnv("HTTP_ADDR", cfg.Server.Addr)
	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Store.Driver = getEnv("STORE_DRIVER", cfg.Store.Driver)
	cfg.Store.Mongo.URI = getEnv("MONGO_URI", cfg.Store.Mongo.URI)
	cfg.Store.Mongo.Database = getEnv("MONGO_DATABASE", cfg.Store.Mongo.Database)
	cfg.Store.Mongo.Collection = getEnv("MONGO_COLLECTION", cfg.Store.Mongo.Collection)
	cfg.Store.Postgres.DSN = getEnv("DATABASE_DSN", cfg.Store.Postgres.DSN)
	cfg.Store.SQLite.Path = getEnv("SQLITE_PATH", cfg.Store.SQLite.Path)
	cfg.Archive.Dir = getEnv("IMAGES_DIR", cfg.Archive.Dir)
	cfg.Extractor.Backend = getEnv("EXTRACTOR_BACKEND", cfg.Extractor.Backend)
	cfg.Extractor.ModelDir = getEnv("DLIB_MODEL_DIR", cfg.Extractor.ModelDir)
	cfg.Extractor.URL = getEnv("EMBEDDING_URL", cfg.Extractor.URL)
	cfg.Extractor.GRPCAddr = getEnv("EMBEDDING_GRPC_ADDR", cfg.Extractor.GRPCAddr)
	cfg.Cache.RedisAddr = getEnv("REDIS_ADDR", cfg.Cache.RedisAddr)
	cfg.Auth.JWTSecret = getEnv("JWT_SECRET", cfg.Auth.JWTSecret)
	cfg.Auth.JWTAudience = getEnv("JWT_AUDIENCE", cfg.Auth.JWTAudience)

	var err error
	if cfg.Server.ShutdownTimeout, err = envDuration("SHUTDOWN_TIMEOUT", cfg.Server.ShutdownTimeout); err != nil {
		return err
	}
	if cfg.Extractor.Timeout, err = envDuration("EXTRACTOR_TIMEOUT", cfg.Extractor.Timeout); err != nil {
		return err
	}
	if cfg.Cache.TTL, err = envDuration("CACHE_TTL", cfg.Cache.TTL); err != nil {
		return err
	}
	if cfg.Server.MaxUploadBytes, err = envInt64("MAX_UPLOAD_BYTES", cfg.Server.MaxUploadBytes); err != nil {
		return err
	}
	dim, err := envInt64("EMBEDDING_DIM", int64(cfg.Extractor.Dim))
	if err != nil {
		return err
	}
	cfg.Extractor.Dim = int(dim)
	if v := os.Getenv("MATCH_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("MATCH_THRESHOLD: %w", err)
		}
		cfg.Match.Threshold = f
	}
	if v := os.Getenv("LOG_DEVELOPMENT"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("LOG_DEVELOPMENT: %w", err)
		}
		cfg.Log.Development = b
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func envInt64(key string, fallback int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}
