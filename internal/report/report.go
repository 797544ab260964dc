// Package report renders analysis results.
//
// Every renderer implements Consumer. Text and JSON write to a stream, HTML
// builds a chart page with go-echarts and the protobuf stream lives in the
// wire package.
package report

import (
	"strings"

	"github.com/xtxerr/tracelens/internal/analysis"
	"github.com/xtxerr/tracelens/internal/errors"
	"github.com/xtxerr/tracelens/internal/logging"
)

var log = logging.Component("report")

// Consumer receives the result of one analyzed trace.
type Consumer interface {
	Consume(name string, res *analysis.Result) error
}

// ConsumerFunc adapts a function to Consumer.
type ConsumerFunc func(name string, res *analysis.Result) error

// Consume calls f.
func (f ConsumerFunc) Consume(name string, res *analysis.Result) error {
	return f(name, res)
}

// Format selects a stream renderer.
type Format string

const (
	FormatText     Format = "text"
	FormatJSON     Format = "json"
	FormatProtobuf Format = "pb"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatText, FormatJSON, FormatProtobuf:
		return f, nil
	case "":
		return FormatText, nil
	default:
		return "", errors.NewInvalidValue("format", s, "expected text, json or pb")
	}
}

// Multi fans a result out to several consumers. All consumers run; the
// errors are joined.
type Multi []Consumer

// Consume implements Consumer.
func (m Multi) Consume(name string, res *analysis.Result) error {
	var errs []error
	for _, c := range m {
		if err := c.Consume(name, res); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// flusher is implemented by consumers that buffer output.
type flusher interface {
	Flush() error
}

// Flush flushes c if it buffers output.
func Flush(c Consumer) error {
	if f, ok := c.(flusher); ok {
		return f.Flush()
	}
	return nil
}
