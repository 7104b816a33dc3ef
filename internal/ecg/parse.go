// Package ecg parses the electrocardiogram text files found next to an export.
//
// A file has a fixed layout: 12 header lines of "key,value" pairs (blank
// lines allowed), one column-header line that is skipped, then one voltage
// sample per line written with a decimal comma.
package ecg

import (
	"strconv"
	"strings"

	"github.com/franz/health-cache/internal/table"
	"github.com/franz/health-cache/internal/util"
)

const (
	headerLines = 12
	skipLine    = 12 // zero-based index of the column-header line
)

// Parse decodes an ECG text into its header fields and samples.
func Parse(text string) (map[string]string, []float64, error) {
	fields, samples, err := parse(text)
	if err != nil {
		return nil, nil, err
	}
	meta := make(map[string]string, len(fields))
	for _, f := range fields {
		meta[f.Name] = f.Value
	}
	return meta, samples, nil
}

// parse keeps the header fields in file order.
func parse(text string) ([]table.Field, []float64, error) {
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}

	var fields []table.Field
	for i := 0; i < headerLines && i < len(lines); i++ {
		if f, ok := headerField(lines[i]); ok {
			fields = append(fields, f)
		}
	}

	var samples []float64
	for i := skipLine + 1; i < len(lines); i++ {
		line := lines[i]
		if line == "" {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(strings.ReplaceAll(line, ",", ".")), 64)
		if err != nil {
			return nil, nil, &util.FormatError{Line: i + 1, Text: line, Err: err}
		}
		samples = append(samples, v)
	}

	return fields, samples, nil
}

// headerField splits "key,value". A value written with a decimal comma
// ("Sample Rate,512,0") arrives as three parts and is rejoined with a point.
func headerField(line string) (table.Field, bool) {
	if line == "" || !strings.Contains(line, ",") {
		return table.Field{}, false
	}
	parts := strings.Split(line, ",")
	if len(parts) == 3 {
		return table.Field{Name: parts[0], Value: parts[1] + "." + parts[2]}, true
	}
	return table.Field{Name: parts[0], Value: parts[1]}, true
}
