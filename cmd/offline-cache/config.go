package main

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	offlinecache "github.com/invincit/offline-cache"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Storage drivers.
const (
	driverMemory  = "memory"
	driverSQLite  = "sqlite"
	driverLevelDB = "leveldb"
)

type Config struct {
	Server     ServerConfig                    `yaml:"server"`
	Storage    StorageConfig                   `yaml:"storage"`
	Worker     WorkerConfig                    `yaml:"worker"`
	Classifier offlinecache.ClassifierConfig   `yaml:"classifier"`
	Notify     offlinecache.NotificationConfig `yaml:"notification"`
}

type ServerConfig struct {
	Port int `yaml:"port" env:"OFFLINE_CACHE_PORT"`
	// URL of the origin server.
	Origin string `yaml:"origin" env:"OFFLINE_CACHE_ORIGIN"`
	// Hostname of the origin, if Origin is an IP address.
	Host string `yaml:"host" env:"OFFLINE_CACHE_ORIGIN_HOST"`
	// Public base URL of the application. Defaults to the origin.
	Scope string `yaml:"scope" env:"OFFLINE_CACHE_SCOPE"`
}

type StorageConfig struct {
	// One of memory, sqlite, leveldb.
	Driver string `yaml:"driver" env:"OFFLINE_CACHE_STORAGE_DRIVER"`
	// Database file (sqlite) or directory (leveldb).
	Path string `yaml:"path" env:"OFFLINE_CACHE_STORAGE_PATH"`
}

type WorkerConfig struct {
	Version             string        `yaml:"version" env:"OFFLINE_CACHE_VERSION"`
	Prefix              string        `yaml:"prefix" env:"OFFLINE_CACHE_PREFIX"`
	AppName             string        `yaml:"appName" env:"OFFLINE_CACHE_APP_NAME"`
	Manifest            []string      `yaml:"manifest" env:"OFFLINE_CACHE_MANIFEST" envSeparator:","`
	FallbackPages       []string      `yaml:"fallbackPages" env:"OFFLINE_CACHE_FALLBACK_PAGES" envSeparator:","`
	UnavailableBody     string        `yaml:"unavailableBody" env:"OFFLINE_CACHE_UNAVAILABLE_BODY"`
	DisableSkipWaiting  bool          `yaml:"disableSkipWaiting" env:"OFFLINE_CACHE_DISABLE_SKIP_WAITING"`
	FetchTimeout        time.Duration `yaml:"fetchTimeout" env:"OFFLINE_CACHE_FETCH_TIMEOUT"`
	PopulateConcurrency int           `yaml:"populateConcurrency" env:"OFFLINE_CACHE_POPULATE_CONCURRENCY"`
}

// LoadConfig reads the YAML config file, if a path is given,
// and applies the OFFLINE_CACHE_* environment overrides.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Validate checks required values and fills in defaults.
func (c *Config) Validate() error {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Origin == "" {
		return errors.New("server.origin is required")
	}
	origin, err := url.Parse(c.Server.Origin)
	if err != nil {
		return fmt.Errorf("server.origin: %w", err)
	}
	if origin.Scheme != "http" && origin.Scheme != "https" {
		return fmt.Errorf("server.origin: unsupported scheme %q", origin.Scheme)
	}
	if c.Server.Scope != "" {
		if _, err := url.Parse(c.Server.Scope); err != nil {
			return fmt.Errorf("server.scope: %w", err)
		}
	}

	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	switch c.Storage.Driver {
	case "":
		c.Storage.Driver = driverSQLite
	case driverMemory, driverSQLite, driverLevelDB:
	default:
		return fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver)
	}
	if c.Storage.Path == "" {
		switch c.Storage.Driver {
		case driverSQLite:
			c.Storage.Path = "offline-cache.db"
		case driverLevelDB:
			c.Storage.Path = "offline-cache.ldb"
		}
	}

	if c.Worker.FetchTimeout < 0 {
		return errors.New("worker.fetchTimeout must not be negative")
	}
	if c.Worker.PopulateConcurrency < 0 {
		return errors.New("worker.populateConcurrency must not be negative")
	}
	for i, entry := range c.Worker.Manifest {
		if strings.TrimSpace(entry) == "" {
			return fmt.Errorf("worker.manifest[%d]: empty entry", i)
		}
	}
	return nil
}

// WorkerConfig builds the library configuration.
// The cache provider, logger and fetcher are set by the caller.
func (c Config) WorkerConfig() (offlinecache.Config, error) {
	origin, err := url.Parse(c.Server.Origin)
	if err != nil {
		return offlinecache.Config{}, err
	}
	wc := offlinecache.Config{
		OriginURL:           *origin,
		OriginHost:          c.Server.Host,
		Version:             c.Worker.Version,
		Prefix:              c.Worker.Prefix,
		AppName:             c.Worker.AppName,
		Manifest:            c.Worker.Manifest,
		FallbackPages:       c.Worker.FallbackPages,
		UnavailableBody:     c.Worker.UnavailableBody,
		DisableSkipWaiting:  c.Worker.DisableSkipWaiting,
		FetchTimeout:        c.Worker.FetchTimeout,
		PopulateConcurrency: c.Worker.PopulateConcurrency,
		Classifier:          c.Classifier,
		Notification:        c.Notify,
	}
	if c.Server.Scope != "" {
		scope, err := url.Parse(c.Server.Scope)
		if err != nil {
			return offlinecache.Config{}, err
		}
		wc.Scope = scope
	}
	return wc, nil
}
