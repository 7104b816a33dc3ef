// Package gpx reads the per-workout route documents referenced from an export.
package gpx

import (
	"bufio"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/franz/health-cache/internal/table"
	"github.com/franz/health-cache/internal/util"
)

// Namespace is the GPX 1.1 schema namespace used by route exports.
const Namespace = "http://www.topografix.com/GPX/1/1"

// DirName is the export sub-directory holding route documents.
const DirName = "workout-routes"

// Columns are the per-point columns of a route table, in output order.
var Columns = []string{"lon", "lat", "time", "elevation", "speed", "course", "hAcc", "vAcc"}

var errMissing = errors.New("missing")

// Trackpoint is one sampled position of a route.
type Trackpoint struct {
	Lon       float64
	Lat       float64
	Time      time.Time
	Elevation float64
	Speed     float64
	Course    float64
	HAcc      float64
	VAcc      float64
}

// Result is the outcome of resolving one route document.
type Result struct {
	Path    string
	Points  []Trackpoint
	Skipped []error // one *util.ParseError per rejected trackpoint
}

// trkpt mirrors the XML of a trackpoint. Pointers tell absent from empty.
type trkpt struct {
	Lon        *string `xml:"lon,attr"`
	Lat        *string `xml:"lat,attr"`
	Ele        *string `xml:"ele"`
	Time       *string `xml:"time"`
	Extensions *struct {
		Speed  *string `xml:"speed"`
		Course *string `xml:"course"`
		HAcc   *string `xml:"hAcc"`
		VAcc   *string `xml:"vAcc"`
	} `xml:"extensions"`
}

// ResolvePath turns a route reference from the export (e.g.
// "/workout-routes/route_2023-05-01_8.12am.gpx") into a path below baseDir.
func ResolvePath(baseDir, ref string) (string, error) {
	ref = strings.TrimLeft(ref, `/\`)
	return filepath.Abs(filepath.Join(baseDir, filepath.FromSlash(ref)))
}

// Resolve parses the route document at path.
func Resolve(path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &util.NotFoundError{Path: path, Err: err}
		}
		return nil, &util.ParseError{Path: path, Err: err}
	}
	defer f.Close()

	res, err := Decode(bufio.NewReader(f), path)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Decode reads trackpoints from r in document order. name is used in errors.
// Only trkpt elements nested as gpx/trk/trkseg/trkpt are considered.
func Decode(r io.Reader, name string) (*Result, error) {
	dec := xml.NewDecoder(r)
	res := &Result{Path: name}

	var stack []string
	index := 0

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &util.ParseError{Path: name, Err: err}
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "trkpt" && inSegment(stack) && inNamespace(t.Name) {
				var raw trkpt
				if err := dec.DecodeElement(&raw, &t); err != nil {
					return nil, &util.ParseError{Path: name, Element: pointName(index), Err: err}
				}
				p, err := raw.point()
				if err != nil {
					err.Path = name
					err.Element = pointName(index)
					res.Skipped = append(res.Skipped, err)
				} else {
					res.Points = append(res.Points, p)
				}
				index++
				continue
			}
			stack = append(stack, t.Name.Local)
		case xml.EndElement:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}

	return res, nil
}

func inSegment(stack []string) bool {
	n := len(stack)
	return n >= 2 && stack[n-1] == "trkseg" && stack[n-2] == "trk"
}

func inNamespace(name xml.Name) bool {
	return name.Space == Namespace || name.Space == ""
}

func pointName(i int) string {
	return fmt.Sprintf("trkpt[%d]", i)
}

// point coerces every field, failing on the first absent or malformed one.
func (raw *trkpt) point() (Trackpoint, *util.ParseError) {
	var p Trackpoint
	var perr *util.ParseError

	num := func(field string, s *string, dst *float64) {
		if perr != nil {
			return
		}
		if s == nil {
			perr = &util.ParseError{Field: field, Err: errMissing}
			return
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(*s), 64)
		if err != nil {
			perr = &util.ParseError{Field: field, Err: err}
			return
		}
		*dst = v
	}

	num("lon", raw.Lon, &p.Lon)
	num("lat", raw.Lat, &p.Lat)
	if perr == nil {
		if raw.Time == nil {
			perr = &util.ParseError{Field: "time", Err: errMissing}
		} else if ts, err := time.Parse(time.RFC3339, strings.TrimSpace(*raw.Time)); err != nil {
			perr = &util.ParseError{Field: "time", Err: err}
		} else {
			p.Time = ts
		}
	}
	num("ele", raw.Ele, &p.Elevation)
	if perr == nil && raw.Extensions == nil {
		perr = &util.ParseError{Field: "extensions", Err: errMissing}
	}
	if perr == nil {
		ext := raw.Extensions
		num("speed", ext.Speed, &p.Speed)
		num("course", ext.Course, &p.Course)
		num("hAcc", ext.HAcc, &p.HAcc)
		num("vAcc", ext.VAcc, &p.VAcc)
	}

	return p, perr
}

// Table renders the points as a route table with the eight Columns.
func (r *Result) Table(name string) *table.Table {
	t := table.New(name, Columns...)
	for _, p := range r.Points {
		t.Append(p.Fields())
	}
	return t
}

// Fields returns the point as table fields in Columns order.
func (p Trackpoint) Fields() []table.Field {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	return []table.Field{
		{Name: "lon", Value: f(p.Lon)},
		{Name: "lat", Value: f(p.Lat)},
		{Name: "time", Value: p.Time.Format(time.RFC3339Nano)},
		{Name: "elevation", Value: f(p.Elevation)},
		{Name: "speed", Value: f(p.Speed)},
		{Name: "course", Value: f(p.Course)},
		{Name: "hAcc", Value: f(p.HAcc)},
		{Name: "vAcc", Value: f(p.VAcc)},
	}
}
