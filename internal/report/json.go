package report

import (
	"io"

	jsoniter "github.com/json-iterator/go"
	"github.com/xtxerr/tracelens/internal/analysis"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Status values of a Document.
const (
	StatusOK     = "ok"
	StatusNoData = "no_data"
	StatusError  = "error"
)

// Document is the JSON form of one analyzed trace.
type Document struct {
	Name   string           `json:"name"`
	Status string           `json:"status"`
	Result *analysis.Result `json:"result,omitempty"`

	// Formatted values as shown by the chart page.
	P99Read  string `json:"p99_read,omitempty"`
	P99Write string `json:"p99_write,omitempty"`

	Error string `json:"error,omitempty"`
}

// NewDocument builds the document for res.
func NewDocument(name string, res *analysis.Result) *Document {
	doc := &Document{Name: name, Status: StatusNoData}
	if res.IsEmpty() {
		return doc
	}
	doc.Status = StatusOK
	doc.Result = res
	doc.P99Read = FormatMicros(res.P99.Read)
	doc.P99Write = FormatMicros(res.P99.Write)
	return doc
}

// NewErrorDocument builds the document of a trace that failed.
func NewErrorDocument(name string, err error) *Document {
	return &Document{Name: name, Status: StatusError, Error: err.Error()}
}

// JSON writes one JSON document per line.
type JSON struct {
	enc *jsoniter.Encoder
}

// NewJSON creates a JSON renderer writing to w.
func NewJSON(w io.Writer, indent bool) *JSON {
	enc := json.NewEncoder(w)
	if indent {
		enc.SetIndent("", "  ")
	}
	return &JSON{enc: enc}
}

// Consume implements Consumer.
func (j *JSON) Consume(name string, res *analysis.Result) error {
	return j.enc.Encode(NewDocument(name, res))
}

// WriteDocument writes a prepared document, e.g. an error document.
func (j *JSON) WriteDocument(doc *Document) error {
	return j.enc.Encode(doc)
}

// MarshalDocument encodes the document of res.
func MarshalDocument(name string, res *analysis.Result) ([]byte, error) {
	return json.Marshal(NewDocument(name, res))
}
