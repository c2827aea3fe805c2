// Package render composes the synthetic preview document from the editor
// buffers.
package render

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"sort"
	"text/template"
	"time"

	"github.com/google/uuid"
)

//go:embed templates/document.html.tmpl
var templateFS embed.FS

var documentTemplate = template.Must(template.ParseFS(templateFS, "templates/document.html.tmpl"))

// Input is the buffer state a render reads.
type Input struct {
	HTML string
	CSS  string
	JS   string
	Data string
}

// Document is one composed preview.
type Document struct {
	Generation string
	HTML       string
	// Data is the value bound to window.appData, nil when the data buffer
	// was empty or unparsable.
	Data any
	// DataErr is set when the data buffer could not be parsed. The document
	// is still valid.
	DataErr error
	// Dropped counts CSV rows skipped for a field count mismatch.
	Dropped int
	BuiltAt time.Time
}

type documentView struct {
	Generation     string
	GenerationJSON string
	CSS            string
	HTML           string
	JS             string
	DataJSON       string
}

// Build composes a document with a fresh generation id.
func Build(in Input) (*Document, error) {
	return build(uuid.NewString(), in, time.Now())
}

func build(generation string, in Input, now time.Time) (doc *Document, err error) {
	defer func() {
		if r := recover(); r != nil {
			doc = nil
			err = &BuildError{Generation: generation, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	data, dropped, dataErr := parseData(in.Data)

	// json.Marshal escapes <, > and & so the payload cannot close the script.
	dataJSON, err := json.Marshal(data)
	if err != nil {
		return nil, &BuildError{Generation: generation, Err: fmt.Errorf("encode data: %w", err)}
	}
	genJSON, _ := json.Marshal(generation)

	view := documentView{
		Generation:     generation,
		GenerationJSON: string(genJSON),
		CSS:            in.CSS,
		HTML:           in.HTML,
		JS:             in.JS,
		DataJSON:       string(dataJSON),
	}

	var buf bytes.Buffer
	if err := documentTemplate.Execute(&buf, view); err != nil {
		return nil, &BuildError{Generation: generation, Err: err}
	}

	return &Document{
		Generation: generation,
		HTML:       buf.String(),
		Data:       data,
		DataErr:    dataErr,
		Dropped:    dropped,
		BuiltAt:    now,
	}, nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
