package shell

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	prompt "github.com/c-bata/go-prompt"
	"github.com/xtxerr/tracelens/internal/export"
	"github.com/xtxerr/tracelens/internal/pipeline"
)

const sample = `100 0 2048 8 1
200 0 4096 16 0
50000100 0 8192 8 1
not a record
`

func newShell(t *testing.T) (*Shell, *strings.Builder) {
	t.Helper()

	runner, err := pipeline.New(pipeline.DefaultOptions())
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}
	var out strings.Builder
	s := New(Config{Runner: runner, ExportDir: t.TempDir(), Export: export.DefaultOptions()}, &out)
	t.Cleanup(func() { s.Close() })

	o, err := runner.RunText("sample.trace", sample)
	if err != nil {
		t.Fatalf("RunText: %v", err)
	}
	s.Add(o)
	return s, &out
}

func TestShell_Commands(t *testing.T) {
	tests := []struct {
		line string
		want []string
	}{
		{"help", []string{"summary", "sql QUERY"}},
		{"list", []string{"* sample.trace (3 records, 1 dropped)"}},
		{"counts", []string{"read=2 write=1 total=3"}},
		{"p99", []string{"read:  50000.000 µs", "write: N/A (insufficient data)"}},
		{"p99 0.5", []string{"read:  50000.000 µs"}},
		{"summary", []string{"== sample.trace ==", "reads:     2"}},
		{"hist", []string{"bin size 64 sectors, 3 bins"}},
		{"scatter 1", []string{"read: 2 points", "write: 1 points"}},
		{"drops", []string{"1 dropped lines", "line 4"}},
		{"bogus", []string{`unknown command "bogus"`}},
		{"p99 7", []string{"error:", "quantile"}},
		{"hist -1", []string{"error:"}},
		{"use other", []string{"error:", "not found"}},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			s, out := newShell(t)
			s.Execute(tt.line)
			for _, want := range tt.want {
				if !strings.Contains(out.String(), want) {
					t.Errorf("output of %q missing %q:\n%s", tt.line, want, out.String())
				}
			}
		})
	}
}

func TestShell_LoadAndUse(t *testing.T) {
	s, out := newShell(t)

	path := filepath.Join(t.TempDir(), "empty.trace")
	if err := os.WriteFile(path, []byte("# nothing here\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	s.Execute("load " + path)
	if !strings.Contains(out.String(), "no valid trace data") {
		t.Errorf("unexpected output %q", out.String())
	}
	if s.current != "empty.trace" {
		t.Errorf("load must select the trace, current is %q", s.current)
	}

	out.Reset()
	s.Execute("counts")
	if !strings.Contains(out.String(), "no valid trace data") {
		t.Errorf("expected no data error, got %q", out.String())
	}

	out.Reset()
	s.Execute("use sample.trace")
	s.Execute("counts")
	if !strings.Contains(out.String(), "read=2") {
		t.Errorf("unexpected output %q", out.String())
	}

	out.Reset()
	s.Execute("load /does/not/exist.trace")
	if !strings.HasPrefix(out.String(), "error:") {
		t.Errorf("expected error, got %q", out.String())
	}
}

func TestShell_ExportAndSQL(t *testing.T) {
	s, out := newShell(t)

	s.Execute("sql SELECT 41 + 1 AS answer")
	if !strings.Contains(out.String(), "answer\n42\n(1 rows)") {
		t.Fatalf("unexpected output %q", out.String())
	}

	out.Reset()
	s.Execute("export")
	if !strings.Contains(out.String(), "exported ") {
		t.Fatalf("unexpected output %q", out.String())
	}

	out.Reset()
	s.Execute("sql SELECT COUNT(*) AS n FROM events WHERE op = 'read'")
	if !strings.Contains(out.String(), "n\n2\n") {
		t.Errorf("unexpected output %q", out.String())
	}
}

func TestShell_RunLines(t *testing.T) {
	s, out := newShell(t)

	in := strings.NewReader("counts\nexit\ncounts\n")
	if err := s.RunLines(context.Background(), in); err != nil {
		t.Fatalf("RunLines: %v", err)
	}
	if !s.Done() {
		t.Error("expected exit")
	}
	if n := strings.Count(out.String(), "read=2"); n != 1 {
		t.Errorf("expected one counts output after exit, got %d", n)
	}
}

func TestShell_Complete(t *testing.T) {
	s, _ := newShell(t)

	buf := prompt.NewBuffer()
	buf.InsertText("su", false, true)
	got := s.Complete(*buf.Document())
	if len(got) != 1 || got[0].Text != "summary" {
		t.Errorf("unexpected suggestions %+v", got)
	}

	buf = prompt.NewBuffer()
	buf.InsertText("use sam", false, true)
	got = s.Complete(*buf.Document())
	if len(got) != 1 || got[0].Text != "sample.trace" {
		t.Errorf("unexpected suggestions %+v", got)
	}
}
