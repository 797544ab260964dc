// tracelensd is the trace share and analysis daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/xtxerr/tracelens/internal/errors"
	"github.com/xtxerr/tracelens/internal/loader"
	"github.com/xtxerr/tracelens/internal/logging"
	"github.com/xtxerr/tracelens/internal/metrics"
	"github.com/xtxerr/tracelens/internal/pipeline"
	"github.com/xtxerr/tracelens/internal/server"
	"github.com/xtxerr/tracelens/internal/share/store"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "tracelensd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// CLI flags
	cfgPath := flag.String("config", "tracelens.yaml", "config file path")
	listen := flag.String("listen", "", "listen address (overrides config)")
	dataDir := flag.String("data", "", "data directory for shared traces (overrides config)")
	authKey := flag.String("auth-key", "", "auth key (or TRACELENS_AUTH_KEY env)")
	baseURL := flag.String("base-url", "", "public base URL used in share links")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error")
	watch := flag.Bool("watch", false, "watch config for log level changes")
	flag.Parse()

	// Load config
	cfg, err := loader.Load(*cfgPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loader.DefaultConfig()
	}

	// CLI overrides
	if *listen != "" {
		cfg.Server.Listen = *listen
	}
	if *dataDir != "" {
		cfg.Share.DataDir = *dataDir
	}
	if *baseURL != "" {
		cfg.Server.BaseURL = *baseURL
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	// Auth key from flag or env
	if *authKey != "" {
		cfg.Share.AuthKey = *authKey
	} else if cfg.Share.AuthKey == "" {
		cfg.Share.AuthKey = os.Getenv("TRACELENS_AUTH_KEY")
	}

	if closer := loader.InitLogging(cfg.Logging); closer != nil {
		defer closer.Close()
	}
	log := logging.Component("main")
	log.Info("tracelensd starting", "version", Version, "config", *cfgPath)

	if err := loader.Validate(cfg); err != nil {
		return err
	}
	srvCfg := cfg.ToServerConfig()
	if err := srvCfg.Validate(); err != nil {
		return err
	}

	// =========================================================================
	// Storage and analysis
	// =========================================================================

	st, err := store.Open(cfg.ToStoreOptions())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	runner, err := pipeline.New(cfg.ToPipelineOptions())
	if err != nil {
		return fmt.Errorf("create pipeline: %w", err)
	}

	srv, err := server.New(srvCfg, st, runner, metrics.New())
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}

	// Watch config for changes
	if *watch {
		watcher := loader.NewWatcher(*cfgPath, 0, func(next *loader.Config) {
			level := logging.ParseLevel(next.Logging.Level)
			logging.SetLevel(level)
			log.Info("log level updated", "level", level.String())
		})
		watcher.Start()
		defer watcher.Stop()
	}

	// =========================================================================
	// Run until SIGINT/SIGTERM
	// =========================================================================

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("serving",
		"listen", srvCfg.Listen,
		"data_dir", cfg.Share.DataDir,
		"ttl", cfg.Share.TTL.Duration())

	return srv.Run(ctx)
}
