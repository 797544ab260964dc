package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	jsoniter "github.com/json-iterator/go"
	"github.com/xtxerr/tracelens/internal/metrics"
	"github.com/xtxerr/tracelens/internal/pipeline"
	"github.com/xtxerr/tracelens/internal/report"
	"github.com/xtxerr/tracelens/internal/server"
	"github.com/xtxerr/tracelens/internal/share/store"
	testutil "github.com/xtxerr/tracelens/internal/testing"
)

type result struct {
	code   int
	stdout string
	stderr string
}

func runCLI(t *testing.T, stdin string, args ...string) result {
	t.Helper()

	in, err := os.CreateTemp(t.TempDir(), "stdin")
	if err != nil {
		t.Fatal(err)
	}
	in.WriteString(stdin)
	in.Seek(0, 0)
	defer in.Close()

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, in, &stdout, &stderr)
	return result{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

func TestCLI_Text(t *testing.T) {
	dir := t.TempDir()
	path := testutil.SampleTrace().Line("not a record").WriteFile(t, dir, "disk.trace")

	r := runCLI(t, "", path)
	if r.code != exitOK {
		t.Fatalf("exit %d: %s", r.code, r.stderr)
	}
	for _, want := range []string{"== disk.trace ==", "reads:     2", "p99 read inter-arrival:  50000.000 µs"} {
		if !strings.Contains(r.stdout, want) {
			t.Errorf("stdout missing %q:\n%s", want, r.stdout)
		}
	}
	if !strings.Contains(r.stderr, "1 malformed lines dropped") || !strings.Contains(r.stderr, "line 4") {
		t.Errorf("drops not reported:\n%s", r.stderr)
	}
}

func TestCLI_JSONAndHTML(t *testing.T) {
	dir := t.TempDir()
	good := testutil.SampleTrace().WriteFile(t, dir, "good.trace")
	empty := testutil.NewTrace().Comment("nothing").WriteFile(t, dir, "empty.trace")
	page := filepath.Join(dir, "page.html")

	r := runCLI(t, "", "-format", "json", "-html", page, good)
	if r.code != exitOK {
		t.Fatalf("exit %d: %s", r.code, r.stderr)
	}
	var doc report.Document
	if err := jsoniter.Unmarshal([]byte(r.stdout), &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc.Status != report.StatusOK || doc.Result.Counts.Write != 1 {
		t.Errorf("unexpected document %+v", doc)
	}
	if _, err := os.Stat(page); err != nil {
		t.Fatalf("chart page not written: %v", err)
	}

	// No data is informational and removes the stale page.
	r = runCLI(t, "", "-format", "json", "-html", page, empty)
	if r.code != exitOK {
		t.Fatalf("exit %d: %s", r.code, r.stderr)
	}
	if !strings.Contains(r.stdout, `"status":"no_data"`) || !strings.Contains(r.stderr, "no valid trace data") {
		t.Errorf("unexpected output %q / %q", r.stdout, r.stderr)
	}
	if _, err := os.Stat(page); !os.IsNotExist(err) {
		t.Error("stale chart page left behind")
	}
}

func TestCLI_Failures(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.trace")
	os.WriteFile(bad, []byte("1 0 0 8 1\n\xff\xfe\n"), 0644)
	page := filepath.Join(dir, "page.html")
	os.WriteFile(page, []byte("stale"), 0644)

	r := runCLI(t, "", "-format", "json", "-html", page, bad)
	if r.code != exitFailure {
		t.Fatalf("expected exit %d, got %d", exitFailure, r.code)
	}
	if !strings.Contains(r.stdout, `"status":"error"`) {
		t.Errorf("expected error document, got %q", r.stdout)
	}
	if _, err := os.Stat(page); !os.IsNotExist(err) {
		t.Error("stale chart page left behind after failure")
	}

	tests := []struct {
		name string
		args []string
	}{
		{"no input", nil},
		{"wrong extension", []string{filepath.Join(dir, "notes.txt")}},
		{"bad format", []string{"-format", "xml", bad}},
		{"sql without export", []string{"-sql", "SELECT 1", bad}},
		{"unknown flag", []string{"-bogus"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if r := runCLI(t, "", tt.args...); r.code != exitUsage {
				t.Errorf("expected exit %d, got %d: %s", exitUsage, r.code, r.stderr)
			}
		})
	}
}

func TestCLI_ExportSQLShell(t *testing.T) {
	dir := t.TempDir()
	path := testutil.SampleTrace().WriteFile(t, dir, "disk.trace")
	out := filepath.Join(dir, "out")

	r := runCLI(t, "", "-export", out, "-sql", "SELECT count(*) AS n FROM events", path)
	if r.code != exitOK {
		t.Fatalf("exit %d: %s", r.code, r.stderr)
	}
	if !strings.HasSuffix(r.stdout, "n\n3\n(1 rows)\n") {
		t.Errorf("unexpected sql output:\n%s", r.stdout)
	}

	r = runCLI(t, "counts\nexit\n", "-shell", path)
	if r.code != exitOK {
		t.Fatalf("exit %d: %s", r.code, r.stderr)
	}
	if !strings.Contains(r.stdout, "read=2 write=1 total=3") {
		t.Errorf("unexpected shell output:\n%s", r.stdout)
	}
}

func TestCLI_Share(t *testing.T) {
	st, err := store.Open(store.DefaultOptions(t.TempDir()))
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	runner, _ := pipeline.New(pipeline.DefaultOptions())

	cfg := server.DefaultConfig()
	cfg.AuthKey = "secret"
	s, err := server.New(cfg, st, runner, metrics.New())
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	t.Setenv("TRACELENS_AUTH_KEY", "secret")
	path := testutil.SampleTrace().WriteFile(t, t.TempDir(), "disk.trace")

	r := runCLI(t, "", "-share", srv.URL, "-page-url", "https://viewer.example.com/?old=1", path)
	if r.code != exitOK {
		t.Fatalf("exit %d: %s", r.code, r.stderr)
	}
	m := regexp.MustCompile(`shared disk\.trace: (https://viewer\.example\.com/\?trace=(\S+))`).FindStringSubmatch(r.stdout)
	if m == nil {
		t.Fatalf("no share link in output:\n%s", r.stdout)
	}
	link, key := m[1], m[2]

	r = runCLI(t, "", "-share", srv.URL, "-format", "json", "-fetch", link)
	if r.code != exitOK {
		t.Fatalf("fetch exit %d: %s", r.code, r.stderr)
	}
	if !strings.Contains(r.stdout, `"name":"disk.trace"`) || !strings.Contains(r.stdout, `"status":"ok"`) {
		t.Errorf("unexpected fetch output %s", r.stdout)
	}

	r = runCLI(t, "", "-share", srv.URL, "-delete", key)
	if r.code != exitOK || !strings.Contains(r.stdout, "deleted "+key) {
		t.Fatalf("delete exit %d: %s %s", r.code, r.stdout, r.stderr)
	}

	r = runCLI(t, "", "-share", srv.URL, "-fetch", key)
	if r.code != exitFailure {
		t.Errorf("expected fetch of deleted trace to fail, got %d", r.code)
	}
}
