package render

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// Table is the tabular view of a CSV data buffer.
type Table struct {
	Columns []string         `json:"columns"`
	Rows    []map[string]any `json:"rows"`
	// Dropped counts rows whose field count did not match the header.
	Dropped int `json:"dropped"`
}

// looksLikeJSON reports whether the trimmed text opens an object or array.
func looksLikeJSON(text string) bool {
	return strings.HasPrefix(text, "{") || strings.HasPrefix(text, "[")
}

// ParseData turns the data buffer into the value exposed to preview scripts.
// Object or array literals are decoded as JSON; anything else is read as CSV
// with a header row. Empty input yields nil and no error.
func ParseData(text string) (any, error) {
	v, _, err := parseData(text)
	return v, err
}

// parseData is ParseData that also reports how many CSV rows were dropped.
func parseData(text string) (any, int, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, 0, nil
	}

	if looksLikeJSON(text) {
		var v any
		if err := json.Unmarshal([]byte(text), &v); err != nil {
			return nil, 0, &DataError{Format: "json", Err: err}
		}
		return v, 0, nil
	}

	table, err := ParseCSV(text)
	if err != nil {
		return nil, 0, err
	}
	return table.Rows, table.Dropped, nil
}

// ParseCSV reads text as comma-separated rows. The first row supplies the
// keys; each later row is zipped with it positionally. Rows with a different
// field count are dropped. Cells that parse as finite numbers become float64.
func ParseCSV(text string) (*Table, error) {
	text = strings.TrimSpace(text)

	r := csv.NewReader(strings.NewReader(text))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, &DataError{Format: "csv", Err: err}
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	table := &Table{Columns: header, Rows: []map[string]any{}}
	lines := 0
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &DataError{Format: "csv", Err: err}
		}
		lines++
		if len(record) != len(header) {
			table.Dropped++
			continue
		}
		row := make(map[string]any, len(header))
		for i, key := range header {
			row[key] = coerce(strings.TrimSpace(record[i]))
		}
		table.Rows = append(table.Rows, row)
	}

	if lines == 0 {
		return nil, &DataError{Format: "csv", Err: fmt.Errorf("no rows after header")}
	}
	return table, nil
}

func coerce(cell string) any {
	if cell == "" {
		return cell
	}
	f, err := strconv.ParseFloat(cell, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return cell
	}
	return f
}

// Stats summarizes a data buffer for the data preview panel.
type Stats struct {
	Format  string   `json:"format"`
	Columns []string `json:"columns"`
	Rows    int      `json:"rows"`
	Dropped int      `json:"dropped"`
	Data    any      `json:"data"`
}

// Describe parses text and reports its shape. JSON arrays of objects take
// their columns from the first element.
func Describe(text string) (*Stats, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return &Stats{Format: "empty", Columns: []string{}}, nil
	}

	if !looksLikeJSON(text) {
		table, err := ParseCSV(text)
		if err != nil {
			return nil, err
		}
		return &Stats{
			Format:  "csv",
			Columns: table.Columns,
			Rows:    len(table.Rows),
			Dropped: table.Dropped,
			Data:    table.Rows,
		}, nil
	}

	v, err := ParseData(text)
	if err != nil {
		return nil, err
	}
	stats := &Stats{Format: "json", Columns: []string{}, Data: v}
	switch t := v.(type) {
	case []any:
		stats.Rows = len(t)
		if len(t) > 0 {
			if first, ok := t[0].(map[string]any); ok {
				stats.Columns = sortedKeys(first)
			}
		}
	case map[string]any:
		stats.Rows = 1
		stats.Columns = sortedKeys(t)
	}
	return stats, nil
}
