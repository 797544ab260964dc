package loader

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/xtxerr/tracelens/config"
	"github.com/xtxerr/tracelens/internal/errors"
	"github.com/xtxerr/tracelens/internal/export"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tracelens.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	t.Setenv("TRACELENS_TEST_KEY", "s3cret")

	path := writeConfig(t, `
parser:
  reset_marker: false
histogram:
  target_bins: 200
percentile:
  quantile: 0.95
export:
  compression: snappy
share:
  url: https://share.example.com
  auth_key: ${TRACELENS_TEST_KEY}
  ttl: 7d
  sweep_interval: 60
server:
  listen: 127.0.0.1:9999
  max_upload_size: 10MB
  auth_failure_window: 2m
workers: 8
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if cfg.Parser.ResetMarker {
		t.Error("reset_marker not applied")
	}
	if cfg.Parser.ResetPrefix != config.DefaultResetPrefix {
		t.Errorf("default reset prefix lost: %q", cfg.Parser.ResetPrefix)
	}
	if cfg.Histogram.TargetBins != 200 || cfg.Histogram.DefaultSizeLBA != config.DefaultBinSizeLBA {
		t.Errorf("unexpected histogram %+v", cfg.Histogram)
	}
	if cfg.Share.AuthKey != "s3cret" {
		t.Errorf("env not expanded: %q", cfg.Share.AuthKey)
	}
	if cfg.Share.TTL.Duration() != 7*24*time.Hour {
		t.Errorf("unexpected ttl %v", cfg.Share.TTL.Duration())
	}
	if cfg.Share.SweepInterval.Duration() != time.Minute {
		t.Errorf("unexpected sweep interval %v", cfg.Share.SweepInterval.Duration())
	}
	if cfg.Server.MaxUploadSize.Bytes() != 10*1024*1024 {
		t.Errorf("unexpected upload size %d", cfg.Server.MaxUploadSize)
	}
	if cfg.Workers != 8 {
		t.Errorf("unexpected workers %d", cfg.Workers)
	}

	if o := cfg.ToParserOptions(); o.ResetMarker {
		t.Error("parser options ignore reset_marker")
	}
	if a := cfg.ToAnalysisConfig(); a.Quantile != 0.95 || !a.Percentile.Enabled {
		t.Errorf("unexpected analysis config %+v", a)
	}
	if e := cfg.ToExportOptions(); e.Compression != export.CompressionSnappy {
		t.Errorf("unexpected export compression %v", e.Compression)
	}

	srv := cfg.ToServerConfig()
	if srv.AuthKey != "s3cret" || srv.Listen != "127.0.0.1:9999" || srv.AuthFailureWindow != 2*time.Minute {
		t.Errorf("unexpected server config %+v", srv)
	}
	if err := srv.Validate(); err != nil {
		t.Errorf("server config invalid: %v", err)
	}

	st := cfg.ToStoreOptions()
	if st.MaxSize != 10*1024*1024 || st.TTL != 7*24*time.Hour {
		t.Errorf("unexpected store options %+v", st)
	}

	if sc := cfg.ToShareConfig(); sc.BaseURL != "https://share.example.com" || sc.AuthKey != "s3cret" {
		t.Errorf("unexpected share config %+v", sc)
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	_, err := Load(writeConfig(t, "parser: [unclosed"))
	if !errors.Is(err, errors.ErrInvalidConfig) {
		t.Errorf("expected invalid config, got %v", err)
	}

	_, err = Load(writeConfig(t, "share:\n  ttl: soon\n"))
	if err == nil {
		t.Error("expected error for bad duration")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   int
	}{
		{"defaults", func(*Config) {}, 0},
		{"empty reset prefix", func(c *Config) { c.Parser.ResetPrefix = " " }, 1},
		{"prefix ignored without marker", func(c *Config) {
			c.Parser.ResetMarker = false
			c.Parser.ResetPrefix = ""
		}, 0},
		{"bad quantile", func(c *Config) { c.Percentile.Quantile = 1.5 }, 1},
		{"bad compression", func(c *Config) { c.Export.Compression = "brotli" }, 1},
		{"no sweep", func(c *Config) { c.Share.SweepInterval = 0 }, 1},
		{"forever without sweep", func(c *Config) {
			c.Share.TTL = 0
			c.Share.SweepInterval = 0
		}, 0},
		{"several", func(c *Config) {
			c.Server.Listen = ""
			c.Workers = 0
			c.Export.RowGroupSize = 0
		}, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := Validate(cfg)

			if tt.want == 0 {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			var v *errors.ValidationErrors
			if !errors.As(err, &v) {
				t.Fatalf("expected ValidationErrors, got %v", err)
			}
			if len(v.Errors) != tt.want {
				t.Errorf("expected %d errors, got %d: %v", tt.want, len(v.Errors), err)
			}
		})
	}
}

func TestParseByteSize(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"", 0, false},
		{"512", 512, false},
		{"100B", 100, false},
		{"4KB", 4096, false},
		{"10 mb", 10 << 20, false},
		{"1GB", 1 << 30, false},
		{"2TB", 2 << 40, false},
		{"lots", 0, true},
	}

	for _, tt := range tests {
		got, err := parseByteSize(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseByteSize(%q) error = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("parseByteSize(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"90", 90 * time.Second},
		{"1h30m", 90 * time.Minute},
		{"30d", 30 * 24 * time.Hour},
	}
	for _, tt := range tests {
		got, err := parseDuration(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("parseDuration(%q) = %v, %v", tt.in, got, err)
		}
	}
	if _, err := parseDuration("xd"); err == nil {
		t.Error("expected error")
	}
}

func TestWatcher(t *testing.T) {
	path := writeConfig(t, "workers: 2\n")

	got := make(chan *Config, 1)
	w := NewWatcher(path, time.Hour, func(c *Config) { got <- c })
	w.Start()
	defer w.Stop()

	// Invalid versions are skipped.
	if err := os.WriteFile(path, []byte("workers: 0\n"), 0644); err != nil {
		t.Fatal(err)
	}
	future := time.Now().Add(time.Minute)
	os.Chtimes(path, future, future)
	w.check()
	select {
	case <-got:
		t.Fatal("invalid config delivered")
	default:
	}

	if err := os.WriteFile(path, []byte("workers: 6\n"), 0644); err != nil {
		t.Fatal(err)
	}
	future = future.Add(time.Minute)
	os.Chtimes(path, future, future)
	w.check()

	select {
	case cfg := <-got:
		if cfg.Workers != 6 {
			t.Errorf("unexpected workers %d", cfg.Workers)
		}
	default:
		t.Fatal("valid config not delivered")
	}

	// Unchanged files are not reloaded.
	w.check()
	select {
	case <-got:
		t.Error("unchanged config delivered")
	default:
	}
	w.Stop()
}
