package trace

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"unicode/utf8"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/xtxerr/tracelens/config"
	"github.com/xtxerr/tracelens/internal/errors"
)

// Compression identifies the container of a trace input.
type Compression int

const (
	CompressionNone Compression = iota
	CompressionGzip
	CompressionZstd
	CompressionLZ4
)

// String returns the compression name.
func (c Compression) String() string {
	switch c {
	case CompressionGzip:
		return "gzip"
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	default:
		return "none"
	}
}

var (
	magicGzip = []byte{0x1f, 0x8b}
	magicZstd = []byte{0x28, 0xb5, 0x2f, 0xfd}
	magicLZ4  = []byte{0x04, 0x22, 0x4d, 0x18}
	utf8BOM   = "\ufeff"
)

// Input is a decoded trace byte stream.
type Input struct {
	io.Reader
	Compression Compression
	closers     []io.Closer
}

// Close releases decoders and the underlying source.
func (in *Input) Close() error {
	var first error
	for i := len(in.closers) - 1; i >= 0; i-- {
		if err := in.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// NewInput wraps r, transparently decompressing gzip, zstd and lz4 frames
// detected by their magic bytes.
func NewInput(r io.Reader) (*Input, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(4)
	if err != nil && err != io.EOF {
		return nil, errors.Wrap(errors.Join(errors.ErrRead, err), "peek input")
	}

	switch {
	case bytes.HasPrefix(head, magicGzip):
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, errors.Wrap(errors.Join(errors.ErrDecode, err), "open gzip")
		}
		return &Input{Reader: zr, Compression: CompressionGzip, closers: []io.Closer{zr}}, nil
	case bytes.HasPrefix(head, magicZstd):
		dec, err := zstd.NewReader(br)
		if err != nil {
			return nil, errors.Wrap(errors.Join(errors.ErrDecode, err), "open zstd")
		}
		rc := dec.IOReadCloser()
		return &Input{Reader: rc, Compression: CompressionZstd, closers: []io.Closer{rc}}, nil
	case bytes.HasPrefix(head, magicLZ4):
		return &Input{Reader: lz4.NewReader(br), Compression: CompressionLZ4}, nil
	default:
		return &Input{Reader: br, Compression: CompressionNone}, nil
	}
}

// OpenFile opens a trace file, or stdin for "-".
func OpenFile(path string) (*Input, error) {
	if path == "-" {
		return NewInput(os.Stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(errors.Join(errors.ErrRead, err), "open %s", path)
	}
	in, err := NewInput(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	in.closers = append([]io.Closer{f}, in.closers...)
	return in, nil
}

// scanChunkSize is the read buffer of ScanLines. Longer lines are read in
// several chunks.
const scanChunkSize = 64 * 1024

// ScanLines calls fn for every line of r with its 1-based number.
// A leading byte order mark is removed. Only the first maxLineLength bytes of
// a line reach fn; the rest of the line is read and discarded. Lines that are
// not valid UTF-8 fail with ErrDecode, I/O failures with ErrRead.
func ScanLines(r io.Reader, maxLineLength int, fn func(lineNo int, line string) error) error {
	if maxLineLength <= 0 {
		maxLineLength = config.MaxLineLength
	}
	br := bufio.NewReaderSize(r, scanChunkSize)

	var (
		n       int
		line    []byte
		pending bool
		check   utf8Stream
	)
	for {
		chunk, err := br.ReadSlice('\n')
		if err != nil && err != bufio.ErrBufferFull && err != io.EOF {
			return errors.Wrap(errors.Join(errors.ErrRead, err), "scan input")
		}
		eol := err == nil
		if eol {
			chunk = chunk[:len(chunk)-1]
		}

		if len(chunk) > 0 {
			pending = true
			check.write(chunk)
			// The first line keeps room for a byte order mark.
			limit := maxLineLength
			if n == 0 {
				limit += len(utf8BOM)
			}
			if room := limit - len(line); room > 0 {
				line = append(line, chunk[:min(room, len(chunk))]...)
			}
		}

		if eol || (err == io.EOF && pending) {
			n++
			if !check.valid() {
				return errors.NewDecode(n, "invalid UTF-8")
			}
			if n == 1 {
				line = bytes.TrimPrefix(line, []byte(utf8BOM))
			}
			if err := fn(n, clip(string(line), maxLineLength)); err != nil {
				return err
			}
			line = line[:0]
			pending = false
			check = utf8Stream{}
		}

		if err == io.EOF {
			return nil
		}
	}
}

// clip keeps the first limit bytes of a line.
func clip(line string, limit int) string {
	if limit > 0 && len(line) > limit {
		return line[:limit]
	}
	return line
}

// utf8Stream validates UTF-8 text that arrives in chunks. A rune split
// between two chunks is carried over.
type utf8Stream struct {
	carry [utf8.UTFMax]byte
	n     int
	bad   bool
}

func (u *utf8Stream) write(p []byte) {
	for len(p) > 0 && u.n > 0 && !u.bad {
		u.carry[u.n] = p[0]
		u.n++
		p = p[1:]
		if utf8.FullRune(u.carry[:u.n]) {
			if r, size := utf8.DecodeRune(u.carry[:u.n]); r == utf8.RuneError && size == 1 {
				u.bad = true
			}
			u.n = 0
		}
	}
	if u.bad || len(p) == 0 || utf8.Valid(p) {
		return
	}

	for i := 0; i < len(p); {
		r, size := utf8.DecodeRune(p[i:])
		if r == utf8.RuneError && size == 1 {
			if !utf8.FullRune(p[i:]) {
				u.n = copy(u.carry[:], p[i:])
				return
			}
			u.bad = true
			return
		}
		i += size
	}
}

func (u *utf8Stream) valid() bool {
	return !u.bad && u.n == 0
}

// ReadText reads r fully, decompressing it if needed, and returns the text.
// It is the blob counterpart of ScanLines for callers that keep the bytes.
func ReadText(r io.Reader) (string, error) {
	in, err := NewInput(r)
	if err != nil {
		return "", err
	}
	defer in.Close()

	data, err := io.ReadAll(in)
	if err != nil {
		return "", errors.Wrap(errors.Join(errors.ErrRead, err), "read input")
	}
	data = bytes.TrimPrefix(data, []byte(utf8BOM))
	if !utf8.Valid(data) {
		return "", errors.Wrap(errors.ErrDecode, "input is not valid UTF-8")
	}
	return string(data), nil
}
