package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	offlinecache "github.com/invincit/offline-cache"
	"github.com/invincit/offline-cache/cache"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// path the control surface is mounted on
const controlPath = "/_worker"

var (
	// CLI flags
	configFlag         string
	portFlag           int
	originFlag         string
	hostFlag           string
	dbFlag             string
	verbosityTraceFlag bool
	logFilenameFlag    string

	// this is set by goreleaser
	version string
)

func init() {
	flag.StringVar(&configFlag, "config", os.Getenv("OFFLINE_CACHE_CONFIG"), "Config file (YAML)")
	flag.StringVar(&originFlag, "origin", "", "Origin URL to proxy to")
	flag.StringVar(&hostFlag, "host", "", "Hostname of origin")
	flag.IntVar(&portFlag, "port", 0, "Port to listen on (default 8080)")
	flag.StringVar(&dbFlag, "db", "", "Cache DB file name (use 'memory' for in-memory db, 'leveldb:<dir>' for LevelDB)")
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
	flag.StringVar(&logFilenameFlag, "log-file", "", "Log file to use (in addition to stdout)")

	if version == "" {
		version = "DEV"
	}
}

func main() {
	flag.Parse()

	// set log level
	logLevel := zerolog.DebugLevel
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}

	// set up log output to stdout
	// also output to logfile if specified
	logOutputs := make([]io.Writer, 0)
	logOutputs = append(logOutputs, zerolog.ConsoleWriter{Out: os.Stdout})
	if logFilenameFlag != "" {
		if logFileOutput, err := os.OpenFile(logFilenameFlag, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644); err != nil {
			log.Fatal().Err(err).Msg("Cannot open log file")
		} else {
			logOutputs = append(logOutputs, logFileOutput)
		}
	}
	multiWriter := zerolog.MultiLevelWriter(logOutputs...)
	log.Logger = log.Level(logLevel).Output(multiWriter).
		With().Str("binary", version).Logger()

	cfg, err := LoadConfig(configFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not load config")
	}
	applyFlags(&cfg)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid config")
	}

	provider, err := openCache(cfg.Storage)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Storage.Driver).Msg("Could not open cache")
	}
	defer provider.Close()

	workerConfig, err := cfg.WorkerConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid config")
	}
	if workerConfig.Version == "" {
		workerConfig.Version = version
	}
	workerConfig.Cache = provider
	workerConfig.Logger = &log.Logger

	worker, err := offlinecache.New(workerConfig)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not create worker")
	}

	r := chi.NewRouter()
	r.Mount(controlPath, worker.ControlRouter())
	r.Handle("/*", worker)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// requests pass through to the origin until the worker is active
	go func() {
		result := worker.Dispatch(ctx, offlinecache.InstallEvent{})
		if result.Err == nil {
			log.Info().
				Int("stored", len(result.Populate.Stored())).
				Int("failed", len(result.Populate.Failed())).
				Str("state", worker.State().String()).
				Msg("Worker installed")
		}
	}()

	go func() {
		log.Info().Msgf("Proxying port %v to %s (with hostname '%s')", cfg.Server.Port, cfg.Server.Origin, cfg.Server.Host)
		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Server error")
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Could not shut down gracefully")
	}
}

// applyFlags overrides config values with the flags given on the command line.
func applyFlags(cfg *Config) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "origin":
			cfg.Server.Origin = originFlag
		case "host":
			cfg.Server.Host = hostFlag
		case "port":
			cfg.Server.Port = portFlag
		case "db":
			cfg.Storage = storageFromFlag(dbFlag)
		}
	})
}

// storageFromFlag maps the -db flag to a storage config:
// "memory", "leveldb:<dir>", or an SQLite file name.
func storageFromFlag(value string) StorageConfig {
	if value == driverMemory {
		return StorageConfig{Driver: driverMemory}
	}
	if dir, ok := strings.CutPrefix(value, driverLevelDB+":"); ok {
		return StorageConfig{Driver: driverLevelDB, Path: dir}
	}
	return StorageConfig{Driver: driverSQLite, Path: value}
}

func openCache(sc StorageConfig) (cache.CacheProvider, error) {
	switch sc.Driver {
	case driverMemory:
		return cache.NewMemCache(), nil
	case driverLevelDB:
		ldb, err := cache.NewLevelDBCache(sc.Path)
		if err != nil {
			return nil, err
		}
		return ldb, nil
	default:
		sqlite, err := cache.NewSQLiteCache(sc.Path)
		if err != nil {
			return nil, err
		}
		return sqlite, nil
	}
}
