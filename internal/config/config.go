// Package config loads geodraft deployment configuration from a YAML file
// with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Storage selects and parameterises the persistence backend.
type Storage struct {
	Driver       string `yaml:"driver"`
	SQLitePath   string `yaml:"sqlite_path"`
	PostgresDSN  string `yaml:"postgres_dsn"`
	VersionLimit int    `yaml:"version_limit"`
}

// S3 holds object storage settings for the s3 blob driver.
type S3 struct {
	Bucket         string `yaml:"bucket"`
	Region         string `yaml:"region"`
	Endpoint       string `yaml:"endpoint"`
	ForcePathStyle bool   `yaml:"force_path_style"`
	// Static credentials; when unset the default AWS chain applies.
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`
}

// Blob selects and parameterises the export blob store.
type Blob struct {
	Driver string `yaml:"driver"`
	FSRoot string `yaml:"fs_root"`
	S3     S3     `yaml:"s3"`
}

// Config is the root configuration document.
type Config struct {
	Storage Storage `yaml:"storage"`
	Blob    Blob    `yaml:"blob"`
}

// Default returns the configuration used when no file or overrides are present.
func Default() Config {
	return Config{
		Storage: Storage{Driver: "sqlite", SQLitePath: "geodraft.db"},
		Blob:    Blob{Driver: "fs", FSRoot: "exports"},
	}
}

// Load reads the YAML file at path, layered over defaults and under
// environment overrides. An empty path skips the file and uses defaults plus
// environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("GEODRAFT_STORAGE_DRIVER"); v != "" {
		c.Storage.Driver = v
	}
	if v := os.Getenv("GEODRAFT_SQLITE_PATH"); v != "" {
		c.Storage.SQLitePath = v
	}
	if v := os.Getenv("GEODRAFT_POSTGRES_DSN"); v != "" {
		c.Storage.PostgresDSN = v
	}
	if v := os.Getenv("GEODRAFT_VERSION_LIMIT"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			return fmt.Errorf("invalid GEODRAFT_VERSION_LIMIT %q", v)
		}
		c.Storage.VersionLimit = limit
	}
	if v := os.Getenv("GEODRAFT_BLOB_DRIVER"); v != "" {
		c.Blob.Driver = v
	}
	if v := os.Getenv("GEODRAFT_BLOB_FS_ROOT"); v != "" {
		c.Blob.FSRoot = v
	}
	if v := os.Getenv("GEODRAFT_BLOB_S3_BUCKET"); v != "" {
		c.Blob.S3.Bucket = v
	}
	if v := os.Getenv("GEODRAFT_BLOB_S3_REGION"); v != "" {
		c.Blob.S3.Region = v
	}
	if v := os.Getenv("GEODRAFT_BLOB_S3_ENDPOINT"); v != "" {
		c.Blob.S3.Endpoint = v
	}
	if v := os.Getenv("GEODRAFT_BLOB_S3_ACCESS_KEY_ID"); v != "" {
		c.Blob.S3.AccessKeyID = v
	}
	if v := os.Getenv("GEODRAFT_BLOB_S3_SECRET_ACCESS_KEY"); v != "" {
		c.Blob.S3.SecretAccessKey = v
	}
	if v := os.Getenv("GEODRAFT_BLOB_S3_SESSION_TOKEN"); v != "" {
		c.Blob.S3.SessionToken = v
	}
	return nil
}

func (c Config) validate() error {
	switch c.Storage.Driver {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	switch c.Blob.Driver {
	case "", "memory", "fs", "s3":
	default:
		return fmt.Errorf("unknown blob driver %q", c.Blob.Driver)
	}
	if c.Blob.Driver == "s3" && c.Blob.S3.Bucket == "" {
		return fmt.Errorf("s3 blob driver requires a bucket")
	}
	return nil
}
