package trace

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/xtxerr/tracelens/internal/errors"
)

const sampleTrace = "100 0 0 8 1\n200 0 16 8 0\n50000100 0 0 8 1\n"

func compressGzip(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(s)); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return buf.Bytes()
}

func compressZstd(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	if err != nil {
		t.Fatalf("zstd writer: %v", err)
	}
	if _, err := enc.Write([]byte(s)); err != nil {
		t.Fatalf("zstd write: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("zstd close: %v", err)
	}
	return buf.Bytes()
}

func compressLZ4(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	if _, err := zw.Write([]byte(s)); err != nil {
		t.Fatalf("lz4 write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("lz4 close: %v", err)
	}
	return buf.Bytes()
}

func TestNewInput_Compression(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want Compression
	}{
		{"plain", []byte(sampleTrace), CompressionNone},
		{"gzip", compressGzip(t, sampleTrace), CompressionGzip},
		{"zstd", compressZstd(t, sampleTrace), CompressionZstd},
		{"lz4", compressLZ4(t, sampleTrace), CompressionLZ4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, err := NewInput(bytes.NewReader(tt.data))
			if err != nil {
				t.Fatalf("NewInput: %v", err)
			}
			defer in.Close()

			if in.Compression != tt.want {
				t.Errorf("compression = %s, want %s", in.Compression, tt.want)
			}

			rs, err := NewParser(DefaultOptions()).ParseReader(in)
			if err != nil {
				t.Fatalf("ParseReader: %v", err)
			}
			if rs.Len() != 3 {
				t.Errorf("expected 3 records, got %d", rs.Len())
			}
		})
	}
}

func TestNewInput_ShortInput(t *testing.T) {
	in, err := NewInput(strings.NewReader("1"))
	if err != nil {
		t.Fatalf("NewInput: %v", err)
	}
	data, _ := io.ReadAll(in)
	if string(data) != "1" {
		t.Errorf("unexpected data %q", data)
	}
}

func TestScanLines_InvalidUTF8(t *testing.T) {
	data := []byte("1 0 0 8 1\n\xff\xfe 0 0 8 1\n")
	_, err := NewParser(DefaultOptions()).ParseReader(bytes.NewReader(data))
	if err == nil {
		t.Fatal("expected decode error")
	}
	if !errors.Is(err, errors.ErrDecode) {
		t.Errorf("expected ErrDecode, got %v", err)
	}
	if !errors.IsInputError(err) {
		t.Error("decode failure must be an input error")
	}
}

func TestScanLines_LongLine(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxLineLength = 32

	text := strings.Join([]string{
		"1 0 0 8 1 " + strings.Repeat("x", 64), // clipped, still a record
		strings.Repeat("1", 64) + " 0 0 8 1",    // clipped to one token
		"3 0 8 8 0",
	}, "\n")

	rs, err := NewParser(opts).ParseReader(strings.NewReader(text))
	if err != nil {
		t.Fatalf("long lines must not fail the parse: %v", err)
	}
	if rs.Len() != 2 {
		t.Errorf("expected 2 records, got %d", rs.Len())
	}
	if drops := rs.Drops(); len(drops) != 1 || drops[0].Line != 2 {
		t.Errorf("unexpected drops %+v", drops)
	}
}

func TestScanLines_RuneAcrossChunks(t *testing.T) {
	// 'é' is two bytes and the 11 byte prefix leaves an odd number of bytes
	// for the first chunk, so one rune straddles the chunk boundary.
	text := "1 0 0 8 1 x" + strings.Repeat("é", scanChunkSize) + "\n2 0 0 8 0\n"

	rs, err := NewParser(DefaultOptions()).ParseReader(strings.NewReader(text))
	if err != nil {
		t.Fatalf("ParseReader: %v", err)
	}
	if rs.Len() != 2 {
		t.Errorf("expected 2 records, got %d", rs.Len())
	}
}

func TestScanLines_InvalidUTF8PastLimit(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxLineLength = 16

	text := "1 0 0 8 1 " + strings.Repeat("x", 100) + "\xff\n"
	_, err := NewParser(opts).ParseReader(strings.NewReader(text))
	if !errors.Is(err, errors.ErrDecode) {
		t.Errorf("expected ErrDecode, got %v", err)
	}
}

func TestScanLines_BOM(t *testing.T) {
	rs, err := NewParser(DefaultOptions()).ParseReader(strings.NewReader("\ufeff1 0 0 8 1\n"))
	if err != nil {
		t.Fatalf("ParseReader: %v", err)
	}
	if rs.Len() != 1 {
		t.Errorf("BOM must not break the first line, got %d records", rs.Len())
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, io.ErrUnexpectedEOF
}

func TestParseReader_ReadFailure(t *testing.T) {
	_, err := NewParser(DefaultOptions()).ParseReader(failingReader{})
	if !errors.Is(err, errors.ErrRead) {
		t.Errorf("expected ErrRead, got %v", err)
	}
}

func TestReadText(t *testing.T) {
	text, err := ReadText(bytes.NewReader(compressGzip(t, "\ufeff"+sampleTrace)))
	if err != nil {
		t.Fatalf("ReadText: %v", err)
	}
	if text != sampleTrace {
		t.Errorf("unexpected text %q", text)
	}

	if _, err := ReadText(bytes.NewReader([]byte{0xff, 0xfe, 0xfd})); !errors.Is(err, errors.ErrDecode) {
		t.Errorf("expected ErrDecode, got %v", err)
	}
}

func TestOpenFile_Missing(t *testing.T) {
	_, err := OpenFile(t.TempDir() + "/missing.trace")
	if !errors.Is(err, errors.ErrRead) {
		t.Errorf("expected ErrRead, got %v", err)
	}
}
