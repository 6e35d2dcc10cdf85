/*
Package configs is responsible for loading and parsing the application's configuration settings.

It configures the server by reading operating system environment variables: the running
environment, port, CORS allowed origins, asset storage, the room-file database, the relay
application key and the demo room. Struct tags drive parsing and defaults; Validate then
applies the cross-field rules.
*/
package configs

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Storage drivers, database drivers and registry modes accepted by the configuration.
const (
	StorageLocal = "local"
	StorageS3    = "s3"

	DatabaseSQLite   = "sqlite"
	DatabasePostgres = "postgres"

	RegistryAuthoritative = "authoritative"
	RegistryListing       = "listing"
)

// defaultSQLitePath is the development database file.
const defaultSQLitePath = "viewsync.db"

// AppConfig contains all configuration parameters required for the application to run.
// All configuration values are loaded from environment variables.
type AppConfig struct {
	// General Server Settings
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	Port        int    `env:"PORT" envDefault:"8080"`

	// Security Settings
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:","`

	// Asset Storage Settings
	StorageDriver string `env:"STORAGE_DRIVER" envDefault:"local"`
	UploadDir     string `env:"UPLOAD_DIR" envDefault:"uploads"`
	MaxUploadMB   int64  `env:"MAX_UPLOAD_MB" envDefault:"100"`

	S3BucketName      string `env:"S3_BUCKET_NAME"`
	S3Endpoint        string `env:"S3_ENDPOINT"`
	S3Region          string `env:"S3_REGION" envDefault:"auto"`
	S3AccessKeyID     string `env:"S3_ACCESS_KEY_ID"`
	S3SecretAccessKey string `env:"S3_SECRET_ACCESS_KEY"`

	// Room-File Registry Settings
	RoomFileRegistry string `env:"ROOMFILE_REGISTRY" envDefault:"authoritative"`
	DatabaseDriver   string `env:"DATABASE_DRIVER" envDefault:"sqlite"`
	DatabaseURL      string `env:"DATABASE_URL"`

	// Relay Settings. An empty key leaves the relay-mediated transport inert.
	RelayAppKey string `env:"RELAY_APP_KEY"`

	// Demo Room Settings
	DemoRoomID          string        `env:"DEMO_ROOM_ID" envDefault:"demo"`
	DemoKeepaliveWindow time.Duration `env:"DEMO_KEEPALIVE_WINDOW" envDefault:"15s"`
	DemoTick            time.Duration `env:"DEMO_TICK" envDefault:"100ms"`
}

// LoadConfig reads and validates the configuration from the process environment.
func LoadConfig() (*AppConfig, error) {
	return load(env.Options{})
}

// LoadConfigFrom reads the configuration from the given variables instead of the process
// environment.
func LoadConfigFrom(vars map[string]string) (*AppConfig, error) {
	return load(env.Options{Environment: vars})
}

func load(opts env.Options) (*AppConfig, error) {
	cfg := &AppConfig{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate normalizes list values, fills environment-dependent defaults and rejects
// inconsistent settings.
func (c *AppConfig) Validate() error {
	if c.Port < 1024 || c.Port > 65535 {
		return fmt.Errorf("port number %d is outside the recommended range (%d-%d) to avoid privileged ports", c.Port, 1024, 65535)
	}

	origins := make([]string, 0, len(c.AllowedOrigins))
	for _, origin := range c.AllowedOrigins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	c.AllowedOrigins = origins

	if c.MaxUploadMB <= 0 {
		return fmt.Errorf("MAX_UPLOAD_MB must be positive, got %d", c.MaxUploadMB)
	}

	switch c.StorageDriver {
	case StorageLocal:
		if c.UploadDir == "" {
			return fmt.Errorf("UPLOAD_DIR environment variable is required for local storage")
		}
	case StorageS3:
		required := []struct{ name, value string }{
			{"S3_BUCKET_NAME", c.S3BucketName},
			{"S3_ENDPOINT", c.S3Endpoint},
			{"S3_ACCESS_KEY_ID", c.S3AccessKeyID},
			{"S3_SECRET_ACCESS_KEY", c.S3SecretAccessKey},
		}
		for _, v := range required {
			if v.value == "" {
				return fmt.Errorf("%s environment variable is required for S3 storage connection", v.name)
			}
		}
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q (want %s or %s)", c.StorageDriver, StorageLocal, StorageS3)
	}

	switch c.RoomFileRegistry {
	case RegistryAuthoritative, RegistryListing:
	default:
		return fmt.Errorf("unknown ROOMFILE_REGISTRY %q (want %s or %s)", c.RoomFileRegistry, RegistryAuthoritative, RegistryListing)
	}

	switch c.DatabaseDriver {
	case DatabaseSQLite, DatabasePostgres:
	default:
		return fmt.Errorf("unknown DATABASE_DRIVER %q (want %s or %s)", c.DatabaseDriver, DatabaseSQLite, DatabasePostgres)
	}

	if c.DatabaseURL == "" && c.RoomFileRegistry == RegistryAuthoritative {
		if c.IsDevelopment() && c.DatabaseDriver == DatabaseSQLite {
			c.DatabaseURL = defaultSQLitePath
		} else {
			return fmt.Errorf("DATABASE_URL environment variable is required in %s environment", c.Environment)
		}
	}

	if c.DemoKeepaliveWindow <= 0 || c.DemoTick <= 0 {
		return fmt.Errorf("DEMO_KEEPALIVE_WINDOW and DEMO_TICK must be positive")
	}

	return nil
}

// IsDevelopment reports whether the server runs in the development environment.
func (c *AppConfig) IsDevelopment() bool {
	return c.Environment == "development"
}

// RelayEnabled reports whether a relay application key is configured.
func (c *AppConfig) RelayEnabled() bool {
	return c.RelayAppKey != ""
}

// MaxUploadBytes is the upload size limit in bytes.
func (c *AppConfig) MaxUploadBytes() int64 {
	return c.MaxUploadMB << 20
}

// Hostname is used to tag log output; it falls back to "unknown".
func Hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}
