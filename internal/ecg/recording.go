package ecg

import (
	"path/filepath"
	"strconv"
	"strings"

	"github.com/franz/health-cache/internal/table"
)

// MetaTableName is the name of the table MetaTable builds.
const MetaTableName = "ecg_meta"

// Recording is one parsed ECG file.
type Recording struct {
	Name    string // file name without extension, e.g. "ecg_2023-05-01"
	Date    string // second "_" separated token of Name
	Header  []table.Field
	Samples []float64
}

// ParseRecording parses text read from the file called fileName.
func ParseRecording(fileName, text string) (*Recording, error) {
	fields, samples, err := parse(text)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSuffix(filepath.Base(fileName), filepath.Ext(fileName))
	return &Recording{
		Name:    name,
		Date:    dateToken(name),
		Header:  fields,
		Samples: samples,
	}, nil
}

func dateToken(name string) string {
	parts := strings.Split(name, "_")
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}

// SamplesTable renders the samples as a one-column table.
func (r *Recording) SamplesTable() *table.Table {
	t := table.New(r.Name, "value")
	for _, v := range r.Samples {
		t.Append([]table.Field{{Name: "value", Value: strconv.FormatFloat(v, 'f', -1, 64)}})
	}
	return t
}

// MetaTable summarizes recordings, one row each: name, date, samples and
// every header field.
func MetaTable(recs []*Recording) *table.Table {
	t := table.New(MetaTableName, "name", "date", "samples")
	for _, r := range recs {
		row := []table.Field{
			{Name: "name", Value: r.Name},
			{Name: "date", Value: r.Date},
			{Name: "samples", Value: strconv.Itoa(len(r.Samples))},
		}
		t.Append(append(row, r.Header...))
	}
	return t
}
