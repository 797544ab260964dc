package trace

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xtxerr/tracelens/config"
	"github.com/xtxerr/tracelens/internal/logging"
)

var log = logging.Component("trace")

// fieldNames names the leading columns of a data line.
var fieldNames = [config.MinFields]string{"time", "device", "offset", "size", "rw"}

// Options configures a Parser.
type Options struct {
	// ResetMarker enables reset-line recognition. When false every '#'
	// line is an ordinary comment.
	ResetMarker bool

	// ResetPrefix starts a reset line (after trimming).
	ResetPrefix string

	// MaxLineLength is the number of leading bytes of a line that are
	// parsed. The rest of a longer line is ignored.
	MaxLineLength int
}

// DefaultOptions returns options with reset markers enabled.
func DefaultOptions() Options {
	return Options{
		ResetMarker:   true,
		ResetPrefix:   config.DefaultResetPrefix,
		MaxLineLength: config.MaxLineLength,
	}
}

// Parser turns trace text into a RecordSet.
// A Parser holds no state between calls and is safe for concurrent use.
type Parser struct {
	opts Options
}

// NewParser creates a parser.
func NewParser(opts Options) *Parser {
	if opts.ResetPrefix == "" {
		opts.ResetPrefix = config.DefaultResetPrefix
	}
	if opts.MaxLineLength <= 0 {
		opts.MaxLineLength = config.MaxLineLength
	}
	return &Parser{opts: opts}
}

// Options returns the parser options.
func (p *Parser) Options() Options {
	return p.opts
}

// Parse parses trace text with the default options and returns the records.
func Parse(text string) []IoEvent {
	return NewParser(DefaultOptions()).Parse(text).Events()
}

// Parse parses already decoded text. It never fails: malformed lines are
// dropped and reported through the logger and RecordSet.Drops.
func (p *Parser) Parse(text string) *RecordSet {
	st := &parseState{}
	text = strings.TrimPrefix(text, utf8BOM)
	if text != "" {
		for i, line := range strings.Split(strings.TrimSuffix(text, "\n"), "\n") {
			p.consume(st, i+1, clip(line, p.opts.MaxLineLength))
		}
	}
	return st.finish()
}

// ParseReader parses text from r in a single pass. Only input errors are
// returned (ErrRead, ErrDecode); malformed lines never fail the parse.
func (p *Parser) ParseReader(r io.Reader) (*RecordSet, error) {
	st := &parseState{}
	err := ScanLines(r, p.opts.MaxLineLength, func(n int, line string) error {
		p.consume(st, n, line)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return st.finish(), nil
}

// IsResetLine reports whether a trimmed line is a reset marker under the
// parser options.
func (p *Parser) IsResetLine(trimmed string) bool {
	return p.opts.ResetMarker && strings.HasPrefix(trimmed, p.opts.ResetPrefix)
}

func (p *Parser) consume(st *parseState, lineNo int, raw string) {
	line := strings.TrimSpace(raw)

	if p.IsResetLine(line) {
		st.reset(lineNo)
		return
	}

	st.stats.Lines++
	if line == "" || strings.HasPrefix(line, config.CommentPrefix) {
		st.stats.Skipped++
		return
	}

	fields := strings.Fields(line)
	if len(fields) < config.MinFields {
		st.drop(lineNo, fmt.Sprintf("not enough fields: %d < %d", len(fields), config.MinFields), line)
		return
	}

	ev, err := parseFields(fields)
	if err != nil {
		st.drop(lineNo, err.Error(), line)
		return
	}
	st.events = append(st.events, ev)
}

// parseFields converts the first five tokens. Extra tokens are ignored.
func parseFields(fields []string) (IoEvent, error) {
	var v [config.MinFields]int64
	for i := range v {
		n, err := strconv.ParseInt(fields[i], 10, 64)
		if err != nil {
			return IoEvent{}, fmt.Errorf("%s %q is not an integer", fieldNames[i], fields[i])
		}
		v[i] = n
	}
	return IoEvent{
		Time:     v[0],
		DeviceID: v[1],
		Offset:   v[2],
		Size:     v[3],
		RWFlag:   v[4],
	}, nil
}

// parseState accumulates records of the current session, i.e. since the
// most recent reset marker.
type parseState struct {
	events []IoEvent
	stats  ParseStats
	drops  []LineError
}

func (st *parseState) reset(lineNo int) {
	resets := st.stats.Resets + 1
	st.events = nil
	st.drops = nil
	st.stats = ParseStats{ResetLine: lineNo, Resets: resets}
}

func (st *parseState) drop(lineNo int, reason, text string) {
	st.stats.Dropped++
	if len(st.drops) < config.MaxReportedDrops {
		st.drops = append(st.drops, LineError{Line: lineNo, Reason: reason, Text: text})
	}
}

func (st *parseState) finish() *RecordSet {
	for _, d := range st.drops {
		log.Warn("skipping invalid line", "line", d.Line, "reason", d.Reason, "text", d.Text)
	}
	if hidden := st.stats.Dropped - len(st.drops); hidden > 0 {
		log.Warn("more invalid lines skipped", "count", hidden)
	}
	if st.stats.Resets > 0 {
		log.Debug("trace reset marker applied", "line", st.stats.ResetLine, "markers", st.stats.Resets)
	}

	st.stats.Records = len(st.events)
	return &RecordSet{
		events: st.events,
		stats:  st.stats,
		drops:  st.drops,
	}
}
