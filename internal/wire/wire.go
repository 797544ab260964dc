// Package wire provides protobuf framing for streams of analysis results.
//
// Each analyzed trace becomes one google.protobuf.Struct holding the JSON
// document of report.Document. Messages are length-delimited using
// protobuf's standard varint encoding, so a stream of results can be read
// back message by message.
package wire

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/xtxerr/tracelens/config"
	"github.com/xtxerr/tracelens/internal/analysis"
	"github.com/xtxerr/tracelens/internal/errors"
	"github.com/xtxerr/tracelens/internal/report"
	"google.golang.org/protobuf/encoding/protodelim"
	"google.golang.org/protobuf/types/known/structpb"
)

// ContentType is the media type of a result stream.
const ContentType = "application/x-protobuf"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Encode converts a document into a Struct message.
// Numbers travel as doubles; counts and offsets above 2^53 lose precision.
func Encode(doc *report.Document) (*structpb.Struct, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	msg, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return msg, nil
}

// Decode converts a Struct message back into a document.
func Decode(msg *structpb.Struct) (*report.Document, error) {
	data, err := json.Marshal(integral(msg.AsMap()))
	if err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	doc := &report.Document{}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return doc, nil
}

// integral turns whole doubles back into integers so that they decode into
// the int64 fields of a result.
func integral(v interface{}) interface{} {
	switch x := v.(type) {
	case map[string]interface{}:
		for k, e := range x {
			x[k] = integral(e)
		}
		return x
	case []interface{}:
		for i, e := range x {
			x[i] = integral(e)
		}
		return x
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1<<63 {
			return int64(x)
		}
		return x
	default:
		return v
	}
}

// Reader reads length-delimited messages from an io.Reader.
// It is safe for concurrent use.
type Reader struct {
	r       *bufio.Reader
	maxSize int64
	mu      sync.Mutex
}

// NewReader creates a Reader wrapping the given io.Reader.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r), maxSize: config.DefaultMaxMessageSize}
}

// SetMaxSize changes the largest accepted message.
func (r *Reader) SetMaxSize(n int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.maxSize = n
}

// Read reads and unmarshals the next message. It returns io.EOF at the
// end of the stream and an error if the message exceeds the maximum size.
func (r *Reader) Read() (*structpb.Struct, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	msg := &structpb.Struct{}
	opts := protodelim.UnmarshalOptions{
		MaxSize: r.maxSize,
	}
	if err := opts.UnmarshalFrom(r.r, msg); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read message: %w", errors.Join(errors.ErrDecode, err))
	}
	return msg, nil
}

// ReadDocument reads the next message as a document.
func (r *Reader) ReadDocument() (*report.Document, error) {
	msg, err := r.Read()
	if err != nil {
		return nil, err
	}
	return Decode(msg)
}

// Writer writes length-delimited messages to an io.Writer.
// It is safe for concurrent use and implements report.Consumer.
type Writer struct {
	w  io.Writer
	mu sync.Mutex
}

// NewWriter creates a Writer wrapping the given io.Writer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Write marshals and writes a message with length prefix.
func (w *Writer) Write(msg *structpb.Struct) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := protodelim.MarshalTo(w.w, msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// WriteDocument encodes and writes a document.
func (w *Writer) WriteDocument(doc *report.Document) error {
	msg, err := Encode(doc)
	if err != nil {
		return err
	}
	return w.Write(msg)
}

// Consume implements report.Consumer.
func (w *Writer) Consume(name string, res *analysis.Result) error {
	return w.WriteDocument(report.NewDocument(name, res))
}

// =============================================================================
// Error Message Helpers
// =============================================================================

// NewError creates the message of a trace that failed.
func NewError(name string, err error) *structpb.Struct {
	msg, encErr := Encode(report.NewErrorDocument(name, err))
	if encErr != nil {
		// Only strings are involved; this cannot fail in practice.
		return &structpb.Struct{Fields: map[string]*structpb.Value{
			"name":   structpb.NewStringValue(name),
			"status": structpb.NewStringValue(report.StatusError),
			"error":  structpb.NewStringValue(err.Error()),
		}}
	}
	return msg
}

// NewErrorf creates an error message with a formatted text.
func NewErrorf(name, format string, args ...interface{}) *structpb.Struct {
	return NewError(name, fmt.Errorf(format, args...))
}
