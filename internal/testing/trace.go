package testing

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xtxerr/tracelens/config"
)

// TraceBuilder writes trace text line by line.
//
//	text := testutil.NewTrace().
//	    Read(100, 2048, 8).
//	    Write(200, 4096, 16).
//	    Comment("tail").
//	    String()
type TraceBuilder struct {
	sb     strings.Builder
	device int64
}

// NewTrace starts an empty trace on device 0.
func NewTrace() *TraceBuilder {
	return &TraceBuilder{}
}

// Device sets the device column of following records.
func (b *TraceBuilder) Device(id int64) *TraceBuilder {
	b.device = id
	return b
}

// Record appends a data line.
func (b *TraceBuilder) Record(timeNs, offset, size, flag int64) *TraceBuilder {
	fmt.Fprintf(&b.sb, "%d %d %d %d %d\n", timeNs, b.device, offset, size, flag)
	return b
}

// Read appends a read record.
func (b *TraceBuilder) Read(timeNs, offset, size int64) *TraceBuilder {
	return b.Record(timeNs, offset, size, 1)
}

// Write appends a write record.
func (b *TraceBuilder) Write(timeNs, offset, size int64) *TraceBuilder {
	return b.Record(timeNs, offset, size, 0)
}

// Comment appends a comment line.
func (b *TraceBuilder) Comment(text string) *TraceBuilder {
	b.sb.WriteString(config.CommentPrefix + " " + text + "\n")
	return b
}

// Reset appends a reset marker line.
func (b *TraceBuilder) Reset() *TraceBuilder {
	b.sb.WriteString(config.DefaultResetPrefix + "0\n")
	return b
}

// Line appends raw text, typically a malformed line.
func (b *TraceBuilder) Line(s string) *TraceBuilder {
	b.sb.WriteString(s + "\n")
	return b
}

// String returns the trace text.
func (b *TraceBuilder) String() string {
	return b.sb.String()
}

// WriteFile writes the trace to dir/name and returns the path.
func (b *TraceBuilder) WriteFile(t testing.TB, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		t.Fatalf("write trace: %v", err)
	}
	return path
}

// SampleTrace returns two reads 50ms apart and one write between them.
// The read P99 inter-arrival time is 50000.000 µs.
func SampleTrace() *TraceBuilder {
	return NewTrace().
		Read(100, 2048, 8).
		Write(200, 4096, 16).
		Read(50000100, 8192, 8)
}
