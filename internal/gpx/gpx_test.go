package gpx

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/franz/health-cache/internal/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func point(lon, lat, ele, ts, speed string) string {
	var b strings.Builder
	b.WriteString(`<trkpt lon="` + lon + `" lat="` + lat + `">`)
	if ele != "" {
		b.WriteString("<ele>" + ele + "</ele>")
	}
	b.WriteString("<time>" + ts + "</time>")
	b.WriteString("<extensions><speed>" + speed + "</speed><course>90.5</course><hAcc>1.2</hAcc><vAcc>0.8</vAcc></extensions>")
	b.WriteString("</trkpt>")
	return b.String()
}

func doc(points ...string) string {
	return `<?xml version="1.0" encoding="UTF-8"?>
<gpx version="1.1" creator="Apple Health Export" xmlns="http://www.topografix.com/GPX/1/1">
 <metadata><time>2023-05-01T08:00:00Z</time></metadata>
 <trk><name>Route</name><trkseg>` + strings.Join(points, "\n") + `</trkseg></trk>
</gpx>`
}

func TestDecodeAllColumnsSameLength(t *testing.T) {
	src := doc(
		point("8.5", "47.3", "410.1", "2023-05-01T08:00:00Z", "2.5"),
		point("8.6", "47.4", "411.0", "2023-05-01T08:00:01Z", "2.6"),
		point("8.7", "47.5", "412.3", "2023-05-01T08:00:02Z", "2.7"),
	)

	res, err := Decode(strings.NewReader(src), "route.gpx")
	require.NoError(t, err)
	require.Len(t, res.Points, 3)
	assert.Empty(t, res.Skipped)

	tbl := res.Table("routes/x")
	assert.Equal(t, Columns, tbl.Columns())
	for _, c := range Columns {
		assert.Len(t, tbl.Column(c), 3, "column %s", c)
	}

	assert.Equal(t, []string{"8.5", "8.6", "8.7"}, tbl.Column("lon"))
	assert.Equal(t, "2023-05-01T08:00:01Z", tbl.Column("time")[1])
	assert.InDelta(t, 412.3, res.Points[2].Elevation, 1e-9)
	assert.InDelta(t, 90.5, res.Points[0].Course, 1e-9)
}

func TestDecodeSkipsPointMissingElevation(t *testing.T) {
	src := doc(
		point("8.5", "47.3", "410.1", "2023-05-01T08:00:00Z", "2.5"),
		point("8.6", "47.4", "", "2023-05-01T08:00:01Z", "2.6"),
		point("8.7", "47.5", "412.3", "2023-05-01T08:00:02Z", "2.7"),
	)

	res, err := Decode(strings.NewReader(src), "route.gpx")
	require.NoError(t, err)
	require.Len(t, res.Points, 2)
	require.Len(t, res.Skipped, 1)

	var perr *util.ParseError
	require.True(t, errors.As(res.Skipped[0], &perr))
	assert.Equal(t, "ele", perr.Field)
	assert.Equal(t, "trkpt[1]", perr.Element)
	assert.True(t, errors.Is(res.Skipped[0], util.ErrParse))

	assert.InDelta(t, 8.7, res.Points[1].Lon, 1e-9)
}

func TestDecodeRejectsUnparsableField(t *testing.T) {
	src := doc(point("8.5", "47.3", "410.1", "2023-05-01T08:00:00Z", "fast"))

	res, err := Decode(strings.NewReader(src), "route.gpx")
	require.NoError(t, err)
	assert.Empty(t, res.Points)
	require.Len(t, res.Skipped, 1)

	var perr *util.ParseError
	require.True(t, errors.As(res.Skipped[0], &perr))
	assert.Equal(t, "speed", perr.Field)
}

func TestDecodeMissingExtensions(t *testing.T) {
	src := doc(`<trkpt lon="1" lat="2"><ele>3</ele><time>2023-05-01T08:00:00Z</time></trkpt>`)

	res, err := Decode(strings.NewReader(src), "route.gpx")
	require.NoError(t, err)
	require.Len(t, res.Skipped, 1)
	assert.Contains(t, res.Skipped[0].Error(), "extensions")
}

func TestDecodeIgnoresWaypointsOutsideSegments(t *testing.T) {
	src := `<gpx xmlns="http://www.topografix.com/GPX/1/1"><wpt lon="1" lat="2"/>` +
		`<trk><trkseg>` + point("1", "2", "3", "2023-05-01T08:00:00Z", "0") + `</trkseg>` +
		`<trkseg>` + point("4", "5", "6", "2023-05-01T08:00:05Z", "0") + `</trkseg></trk></gpx>`

	res, err := Decode(strings.NewReader(src), "route.gpx")
	require.NoError(t, err)
	require.Len(t, res.Points, 2)
	assert.True(t, res.Points[0].Time.Before(res.Points[1].Time))
}

func TestDecodeMalformedDocument(t *testing.T) {
	_, err := Decode(strings.NewReader(`<gpx><trk><trkseg>`), "broken.gpx")
	require.Error(t, err)
	assert.True(t, errors.Is(err, util.ErrParse))
}

func TestResolveMissingFile(t *testing.T) {
	_, err := Resolve(filepath.Join(t.TempDir(), "nope.gpx"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, util.ErrNotFound))
}

func TestResolveFromDisk(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "workout-routes"), 0755))
	path := filepath.Join(dir, "workout-routes", "route_1.gpx")
	require.NoError(t, os.WriteFile(path, []byte(doc(point("1", "2", "3", "2023-05-01T08:00:00Z", "0"))), 0644))

	resolved, err := ResolvePath(dir, "/workout-routes/route_1.gpx")
	require.NoError(t, err)
	assert.Equal(t, path, resolved)

	res, err := Resolve(resolved)
	require.NoError(t, err)
	assert.Len(t, res.Points, 1)
}
