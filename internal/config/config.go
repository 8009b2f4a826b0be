// Package config provides unified configuration for the driftgate service.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Registry backend identifiers.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Config holds the unified configuration for the driftgate service.
type Config struct {
	// DataDir is the base directory for all data files
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// Server configuration
	Server ServerConfig `json:"server" yaml:"server"`

	// Registry configuration
	Registry RegistryConfig `json:"registry" yaml:"registry"`

	// Reconcile configuration
	Reconcile ReconcileConfig `json:"reconcile" yaml:"reconcile"`

	// Rules configuration
	Rules RulesConfig `json:"rules" yaml:"rules"`

	// Archive configuration
	Archive ArchiveConfig `json:"archive" yaml:"archive"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	// HTTPAddr is the HTTP listen address
	HTTPAddr string `json:"http_addr" yaml:"http_addr"`

	// ReadTimeout is the HTTP read timeout
	ReadTimeout time.Duration `json:"read_timeout" yaml:"read_timeout"`

	// WriteTimeout is the HTTP write timeout
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// RegistryConfig holds schema registry configuration.
type RegistryConfig struct {
	// Backend is the registry backend: memory, sqlite, postgres
	Backend string `json:"backend" yaml:"backend"`

	// Path is the SQLite database path (for sqlite backend)
	Path string `json:"path" yaml:"path"`

	// DSN is the connection string (for postgres backend)
	DSN string `json:"dsn" yaml:"dsn"`
}

// ReconcileConfig holds schema evolution policy configuration.
type ReconcileConfig struct {
	// MaxRetries is the number of re-fetch-and-retry attempts after a
	// lost append race
	MaxRetries int `json:"max_retries" yaml:"max_retries"`

	// CaseInsensitiveNames folds field names before matching
	CaseInsensitiveNames bool `json:"case_insensitive_names" yaml:"case_insensitive_names"`
}

// RulesConfig holds rule-set configuration.
type RulesConfig struct {
	// Path is the rule-set YAML file path
	Path string `json:"path" yaml:"path"`

	// Watch enables hot-reloading when the rule-set file changes
	Watch bool `json:"watch" yaml:"watch"`
}

// ArchiveConfig holds report/migration archival configuration.
type ArchiveConfig struct {
	// Enabled controls whether reports and migrations are archived
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Compress enables snappy compression of archived blobs
	Compress bool `json:"compress" yaml:"compress"`

	// Storage configuration for the archive backend
	Storage StorageConfig `json:"storage" yaml:"storage"`
}

// StorageConfig holds object storage configuration.
type StorageConfig struct {
	// Type is the storage type: local, s3
	Type string `json:"type" yaml:"type"`

	// Path is the local storage path (for local type)
	Path string `json:"path" yaml:"path"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	// Bucket is the S3 bucket name
	Bucket string `json:"bucket" yaml:"bucket"`

	// Region is the AWS region
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// UsePathStyle enables path-style addressing (required for MinIO)
	UsePathStyle bool `json:"use_path_style" yaml:"use_path_style"`
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data/driftgate",
		Server: ServerConfig{
			HTTPAddr:        ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Registry: RegistryConfig{
			Backend: BackendSQLite,
			Path:    "",
		},
		Reconcile: ReconcileConfig{
			MaxRetries:           3,
			CaseInsensitiveNames: false,
		},
		Rules: RulesConfig{
			Path:  "",
			Watch: false,
		},
		Archive: ArchiveConfig{
			Enabled:  true,
			Compress: false,
			Storage: StorageConfig{
				Type: "local",
				Path: "",
			},
		},
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/driftgate"
	}

	if c.Registry.Backend == BackendSQLite && c.Registry.Path == "" {
		c.Registry.Path = filepath.Join(c.DataDir, "registry.db")
	}

	if c.Archive.Storage.Path == "" {
		c.Archive.Storage.Path = filepath.Join(c.DataDir, "archive")
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	switch c.Registry.Backend {
	case BackendMemory, BackendSQLite, BackendPostgres:
		// Valid backends
	default:
		return fmt.Errorf("invalid registry backend: %s (must be memory, sqlite, or postgres)", c.Registry.Backend)
	}

	if c.Registry.Backend == BackendPostgres && c.Registry.DSN == "" {
		return fmt.Errorf("registry.dsn is required when registry backend is postgres")
	}

	if c.Reconcile.MaxRetries < 0 {
		return fmt.Errorf("reconcile.max_retries must not be negative, got %d", c.Reconcile.MaxRetries)
	}

	if c.Archive.Enabled {
		if c.Archive.Storage.Type != "local" && c.Archive.Storage.Type != "s3" {
			return fmt.Errorf("invalid archive storage type: %s (must be local or s3)", c.Archive.Storage.Type)
		}
		if c.Archive.Storage.Type == "s3" && c.Archive.Storage.S3.Bucket == "" {
			return fmt.Errorf("archive.storage.s3.bucket is required when storage type is s3")
		}
	}

	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the DRIFTGATE_ prefix.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("DRIFTGATE_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}

	// Server configuration
	if v := os.Getenv("DRIFTGATE_HTTP_ADDR"); v != "" {
		cfg.Server.HTTPAddr = v
	}

	// Registry configuration
	if v := os.Getenv("DRIFTGATE_REGISTRY_BACKEND"); v != "" {
		cfg.Registry.Backend = v
	}
	if v := os.Getenv("DRIFTGATE_REGISTRY_PATH"); v != "" {
		cfg.Registry.Path = v
	}
	if v := os.Getenv("DRIFTGATE_REGISTRY_DSN"); v != "" {
		cfg.Registry.DSN = v
	}

	// Reconcile configuration
	if v := os.Getenv("DRIFTGATE_RECONCILE_MAX_RETRIES"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Reconcile.MaxRetries)
	}
	if v := os.Getenv("DRIFTGATE_RECONCILE_CASE_INSENSITIVE"); v != "" {
		cfg.Reconcile.CaseInsensitiveNames = v == "true" || v == "1"
	}

	// Rules configuration
	if v := os.Getenv("DRIFTGATE_RULES_PATH"); v != "" {
		cfg.Rules.Path = v
	}
	if v := os.Getenv("DRIFTGATE_RULES_WATCH"); v != "" {
		cfg.Rules.Watch = v == "true" || v == "1"
	}

	// Archive configuration
	if v := os.Getenv("DRIFTGATE_ARCHIVE_ENABLED"); v != "" {
		cfg.Archive.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("DRIFTGATE_ARCHIVE_COMPRESS"); v != "" {
		cfg.Archive.Compress = v == "true" || v == "1"
	}
	if v := os.Getenv("DRIFTGATE_STORAGE_TYPE"); v != "" {
		cfg.Archive.Storage.Type = v
	}
	if v := os.Getenv("DRIFTGATE_STORAGE_PATH"); v != "" {
		cfg.Archive.Storage.Path = v
	}
	if v := os.Getenv("DRIFTGATE_S3_BUCKET"); v != "" {
		cfg.Archive.Storage.S3.Bucket = v
	}
	if v := os.Getenv("DRIFTGATE_S3_REGION"); v != "" {
		cfg.Archive.Storage.S3.Region = v
	}
	if v := os.Getenv("DRIFTGATE_S3_ENDPOINT"); v != "" {
		cfg.Archive.Storage.S3.Endpoint = v
	}
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.DataDir}
	if c.Archive.Enabled && c.Archive.Storage.Type == "local" {
		dirs = append(dirs, c.Archive.Storage.Path)
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
