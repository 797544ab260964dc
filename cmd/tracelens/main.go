// tracelens analyzes storage I/O traces.
//
// Usage:
//
//	tracelens [flags] FILE...
//
// Each FILE is a .trace file, optionally gzip, zstd or lz4 compressed, or
// "-" for stdin. Results are printed as text, JSON or a protobuf stream;
// -html writes the chart page, -export writes Parquet files that -sql and
// -shell can query.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/xtxerr/tracelens/config"
	"github.com/xtxerr/tracelens/internal/errors"
	"github.com/xtxerr/tracelens/internal/loader"
)

// Version is set at build time via ldflags
var Version = "dev"

// Exit codes.
const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

// options holds the command line.
type options struct {
	configPath string
	format     string
	html       string
	exportDir  string
	sql        string
	shell      bool
	noReset    bool
	workers    int

	logLevel string
	logJSON  bool
	logFile  string

	shareURL string
	fetch    string
	delete   string
	authKey  string
	pageURL  string

	version bool
	files   []string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	o := &options{}

	fs := flag.NewFlagSet("tracelens", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(stderr, "usage: tracelens [flags] FILE%s...\n\nflags:\n", config.TraceExtension)
		fs.PrintDefaults()
	}

	fs.StringVar(&o.configPath, "config", "", "config file path")
	fs.StringVar(&o.format, "format", "text", "output format: text, json, pb")
	fs.StringVar(&o.html, "html", "", "write the chart page to this file or directory")
	fs.StringVar(&o.exportDir, "export", "", "export Parquet files into this directory")
	fs.StringVar(&o.sql, "sql", "", "run a SQL query over the exported traces")
	fs.BoolVar(&o.shell, "shell", false, "start the interactive shell after analysis")
	fs.BoolVar(&o.noReset, "no-reset", false, "treat reset marker lines as comments")
	fs.IntVar(&o.workers, "workers", 0, "files analyzed concurrently (overrides config)")

	fs.StringVar(&o.logLevel, "log-level", "", "log level: debug, info, warn, error")
	fs.BoolVar(&o.logJSON, "log-json", false, "log as JSON")
	fs.StringVar(&o.logFile, "log-file", "", "log to a rotated file instead of stderr")

	fs.StringVar(&o.shareURL, "share", "", "upload analyzed files to this share service")
	fs.StringVar(&o.fetch, "fetch", "", "download and analyze a shared trace (key or link)")
	fs.StringVar(&o.delete, "delete", "", "delete a shared trace (key or link)")
	fs.StringVar(&o.authKey, "auth-key", "", "share auth key (or TRACELENS_AUTH_KEY env)")
	fs.StringVar(&o.pageURL, "page-url", "", "viewer page that share links point to")

	fs.BoolVar(&o.version, "version", false, "print the version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	o.files = fs.Args()
	return o, nil
}

// loadConfig reads the config file and applies the command line on top.
func loadConfig(o *options) (*loader.Config, error) {
	cfg := loader.DefaultConfig()
	if o.configPath != "" {
		var err error
		if cfg, err = loader.Load(o.configPath); err != nil {
			return nil, err
		}
	}

	if o.noReset {
		cfg.Parser.ResetMarker = false
	}
	if o.workers > 0 {
		cfg.Workers = o.workers
	}
	if o.exportDir != "" {
		cfg.Export.Dir = o.exportDir
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	if o.logJSON {
		cfg.Logging.JSON = true
	}
	if o.logFile != "" {
		cfg.Logging.File = o.logFile
	}
	if o.shareURL != "" {
		cfg.Share.URL = o.shareURL
	}
	if o.pageURL != "" {
		cfg.Share.PageURL = o.pageURL
	}

	// Auth key from flag or env
	if o.authKey != "" {
		cfg.Share.AuthKey = o.authKey
	} else if cfg.Share.AuthKey == "" {
		cfg.Share.AuthKey = os.Getenv("TRACELENS_AUTH_KEY")
	}

	if err := loader.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(ctx context.Context, args []string, stdin *os.File, stdout, stderr io.Writer) int {
	o, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	if o.version {
		fmt.Fprintf(stdout, "tracelens %s\n", Version)
		return exitOK
	}

	cfg, err := loadConfig(o)
	if err != nil {
		fmt.Fprintf(stderr, "tracelens: %v\n", err)
		return exitUsage
	}
	if closer := loader.InitLogging(cfg.Logging); closer != nil {
		defer closer.Close()
	}

	a, err := newApp(cfg, o, stdin, stdout, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "tracelens: %v\n", err)
		return exitUsage
	}
	defer a.close()

	if err := a.run(ctx); err != nil {
		fmt.Fprintf(stderr, "tracelens: %v\n", err)
		if errors.IsValidation(err) {
			return exitUsage
		}
		return exitFailure
	}
	return exitOK
}
