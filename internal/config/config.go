package config

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/tingold/geoingest"
)

// Config holds all configuration for geoingest.
// Configuration can come from a YAML file or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords) must only come from environment variables.
type Config struct {
	Log      LogConfig      `yaml:"log"`
	Database DatabaseConfig `yaml:"database"`
	Storage  StorageConfig  `yaml:"storage"`
	Template TemplateConfig `yaml:"template"`
	Server   ServerConfig   `yaml:"server"`

	// Domains seeds enum domains when no database is available, and supplies
	// the labels the migrate command creates. Keyed by domain name.
	Domains map[string][]string `yaml:"domains"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"json"` // json or console
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"geoingest"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"survey"`
	Schema         string `yaml:"schema" env:"PGSCHEMA" env-default:"public"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"10"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// StorageConfig selects where uploaded files are read from.
type StorageConfig struct {
	Backend      string `yaml:"backend" env:"STORAGE_BACKEND" env-default:"local"` // local or s3
	LocalPath    string `yaml:"local_path" env:"STORAGE_LOCAL_PATH" env-default:"."`
	Bucket       string `yaml:"bucket" env:"STORAGE_BUCKET"`
	Region       string `yaml:"region" env:"AWS_REGION"`
	Endpoint     string `yaml:"endpoint" env:"STORAGE_ENDPOINT"`
	UsePathStyle bool   `yaml:"use_path_style" env:"STORAGE_USE_PATH_STYLE" env-default:"false"`
	// TempDir is where uploads are spooled while validated.
	TempDir string `yaml:"temp_dir" env:"GEOINGEST_TEMP_DIR"`
}

// TemplateConfig holds template generation settings.
type TemplateConfig struct {
	Dir    string `yaml:"dir" env:"TEMPLATE_DIR"`
	Format string `yaml:"format" env:"TEMPLATE_FORMAT" env-default:"gpkg"`
}

// ServerConfig holds the demo HTTP server settings.
type ServerConfig struct {
	Addr string `yaml:"addr" env:"SERVER_ADDR" env-default:"127.0.0.1:8080"`
}

// Load reads configuration from the YAML file at path with environment
// variable overrides. With an empty path only the environment is read.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path == "" {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	} else if err := cleanenv.ReadConfig(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks values cleanenv cannot.
func (c *Config) Validate() error {
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log.format must be json or console, got %q", c.Log.Format)
	}

	switch c.Storage.Backend {
	case "local":
	case "s3":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket is required for the s3 backend")
		}
	default:
		return fmt.Errorf("storage.backend must be local or s3, got %q", c.Storage.Backend)
	}

	if _, err := c.Template.ParseFormat(); err != nil {
		return err
	}

	for domain, values := range c.Domains {
		if len(values) == 0 {
			return fmt.Errorf("domains.%s has no values", domain)
		}
	}
	return nil
}

// ParseFormat returns the configured template container format.
func (c *TemplateConfig) ParseFormat() (geoingest.Format, error) {
	return geoingest.ParseFormat(c.Format)
}

// URL returns a PostgreSQL connection URL.
func (c *DatabaseConfig) URL() string {
	u := &url.URL{
		Scheme:   "postgres",
		Host:     c.Host + ":" + strconv.Itoa(c.Port),
		Path:     "/" + c.Database,
		RawQuery: url.Values{"sslmode": {c.SSLMode}}.Encode(),
	}
	if c.Password != "" {
		u.User = url.UserPassword(c.User, c.Password)
	} else {
		u.User = url.User(c.User)
	}
	return u.String()
}
