package workout

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/franz/health-cache/internal/cache"
	"github.com/franz/health-cache/internal/gpx"
	"github.com/franz/health-cache/internal/report"
	"github.com/franz/health-cache/internal/table"
	"github.com/franz/health-cache/internal/util"
	"github.com/franz/health-cache/internal/xmldoc"
)

type captureWriter struct {
	mu     sync.Mutex
	tables map[string]*table.Table
	fail   string // dir whose writes fail
}

func newCaptureWriter() *captureWriter {
	return &captureWriter{tables: make(map[string]*table.Table)}
}

func (c *captureWriter) WriteItem(dir, id string, t *table.Table) (string, error) {
	path := dir + "/" + id
	if dir == c.fail {
		return path, &util.WriteError{Table: dir, Path: path, Err: errors.New("disk full")}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tables[path] = t
	return path, nil
}

func (c *captureWriter) get(dir, id string) *table.Table {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tables[dir+"/"+id]
}

func trkpt(lon, lat string, withEle bool) string {
	ele := ""
	if withEle {
		ele = "<ele>410.5</ele>"
	}
	return `<trkpt lon="` + lon + `" lat="` + lat + `">` + ele +
		`<time>2023-05-01T08:00:00Z</time><extensions><speed>2.5</speed><course>90</course><hAcc>1</hAcc><vAcc>1</vAcc></extensions></trkpt>`
}

func writeRoute(t *testing.T, dir, name string, points ...string) {
	t.Helper()
	doc := `<?xml version="1.0" encoding="UTF-8"?>
<gpx version="1.1" xmlns="` + gpx.Namespace + `"><trk><trkseg>` + strings.Join(points, "") + `</trkseg></trk></gpx>`
	routes := filepath.Join(dir, "workout-routes")
	require.NoError(t, os.MkdirAll(routes, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(routes, name), []byte(doc), 0644))
}

const exportDoc = `<HealthData locale="en_US">
 <Me/>
 <Workout workoutActivityType="HKWorkoutActivityTypeRunning" duration="30" durationUnit="min">
  <MetadataEntry key="HKIndoorWorkout" value="0"/>
  <MetadataEntry key="HKWeatherTemperature" value="18 degC"/>
  <WorkoutEvent type="HKWorkoutEventTypePause" date="2023-05-01 08:10:00 +0200"/>
  <WorkoutEvent type="HKWorkoutEventTypeResume" date="2023-05-01 08:12:00 +0200"/>
  <WorkoutStatistics type="HKQuantityTypeIdentifierDistanceWalkingRunning" sum="5.1" unit="km"/>
  <WorkoutRoute sourceName="Watch" creationDate="2023-05-01 09:00:00 +0200">
   <FileReference path="/workout-routes/route_a.gpx"/>
  </WorkoutRoute>
 </Workout>
 <Workout workoutActivityType="HKWorkoutActivityTypeWalking" duration="12" durationUnit="min">
  <WorkoutEvent type="HKWorkoutEventTypeSegment"/>
  <WorkoutRoute sourceName="Watch">
   <FileReference path="/workout-routes/missing.gpx"/>
  </WorkoutRoute>
 </Workout>
 <Workout workoutActivityType="HKWorkoutActivityTypeYoga" duration="20" durationUnit="min"/>
</HealthData>`

func setup(t *testing.T) (string, *xmldoc.Node) {
	t.Helper()
	dir := t.TempDir()
	writeRoute(t, dir, "route_a.gpx",
		trkpt("8.1", "47.1", true),
		trkpt("8.2", "47.2", false),
		trkpt("8.3", "47.3", true),
	)
	root, err := xmldoc.Parse(strings.NewReader(exportDoc))
	require.NoError(t, err)
	return dir, root
}

func TestNormalizeAssignsUniqueIDs(t *testing.T) {
	dir, root := setup(t)
	w := newCaptureWriter()

	res, err := New(&Config{BaseDir: dir, Writer: w, Concurrency: 2}).Normalize(context.Background(), root)
	require.NoError(t, err)

	ids := res.Workouts.Column(colUUID)
	require.Len(t, ids, 3)
	assert.Equal(t, res.IDs, ids)

	seen := map[string]bool{}
	for _, id := range ids {
		assert.NotEmpty(t, id)
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}

	assert.Equal(t, []string{"HKWorkoutActivityTypeRunning", "HKWorkoutActivityTypeWalking", "HKWorkoutActivityTypeYoga"},
		res.Workouts.Column("workoutActivityType"))
}

func TestNormalizeForeignKeysReferenceWorkouts(t *testing.T) {
	dir, root := setup(t)
	w := newCaptureWriter()

	res, err := New(&Config{BaseDir: dir, Writer: w}).Normalize(context.Background(), root)
	require.NoError(t, err)

	ids := map[string]bool{}
	for _, id := range res.IDs {
		ids[id] = true
	}

	var fks []string
	fks = append(fks, res.Events.Column(colWorkoutUUID)...)
	fks = append(fks, res.RoutesMeta.Column(colWorkoutUUID)...)
	for _, id := range res.IDs {
		for _, dir := range []string{cache.StatisticsDir, cache.MetadataEntryDir} {
			if tbl := w.get(dir, id); tbl != nil {
				fks = append(fks, tbl.Column(colWorkoutUUID)...)
			}
		}
	}

	require.NotEmpty(t, fks)
	for _, fk := range fks {
		assert.True(t, ids[fk], "workout_uuid %q has no workout", fk)
	}

	require.Equal(t, 3, res.Events.Len())
	assert.Equal(t, []string{res.IDs[0], res.IDs[0], res.IDs[1]}, res.Events.Column(colWorkoutUUID))
}

func TestNormalizeWritesPerWorkoutTables(t *testing.T) {
	dir, root := setup(t)
	w := newCaptureWriter()

	res, err := New(&Config{BaseDir: dir, Writer: w}).Normalize(context.Background(), root)
	require.NoError(t, err)
	first := res.IDs[0]

	stats := w.get(cache.StatisticsDir, first)
	require.NotNil(t, stats)
	assert.Equal(t, 1, stats.Len())
	assert.Equal(t, []string{"5.1"}, stats.Column("sum"))

	entries := w.get(cache.MetadataEntryDir, first)
	require.NotNil(t, entries)
	assert.Equal(t, []string{colWorkoutUUID, "HKIndoorWorkout", "HKWeatherTemperature"}, entries.Columns())
	assert.Equal(t, []string{"0", ""}, entries.Column("HKIndoorWorkout"))
	assert.Equal(t, []string{"", "18 degC"}, entries.Column("HKWeatherTemperature"))

	// Every workout gets its statistics and metadata tables, even when empty.
	yoga := w.get(cache.StatisticsDir, res.IDs[2])
	require.NotNil(t, yoga)
	assert.Equal(t, 0, yoga.Len())
}

func TestNormalizeRoutes(t *testing.T) {
	dir, root := setup(t)
	w := newCaptureWriter()

	res, err := New(&Config{BaseDir: dir, Writer: w}).Normalize(context.Background(), root)
	require.NoError(t, err)

	route := w.get(cache.RoutesDir, res.IDs[0])
	require.NotNil(t, route)
	assert.Equal(t, gpx.Columns, route.Columns())
	for _, c := range gpx.Columns {
		assert.Len(t, route.Column(c), 2, "column %s", c)
	}
	assert.Equal(t, []string{"8.1", "8.3"}, route.Column("lon"))
	assert.Equal(t, 1, res.Routes)
	assert.Equal(t, 2, res.Points)

	assert.Nil(t, w.get(cache.RoutesDir, res.IDs[1]), "missing route document writes no table")

	require.Equal(t, 2, res.RoutesMeta.Len())
	paths := res.RoutesMeta.Column(colPath)
	want, _ := filepath.Abs(filepath.Join(dir, "workout-routes", "route_a.gpx"))
	assert.Equal(t, want, paths[0])
	assert.True(t, filepath.IsAbs(paths[1]))
	assert.Equal(t, []string{"Watch", "Watch"}, res.RoutesMeta.Column("sourceName"))
}

func TestNormalizeReportsSkips(t *testing.T) {
	dir, root := setup(t)

	res, err := New(&Config{BaseDir: dir, Writer: newCaptureWriter()}).Normalize(context.Background(), root)
	require.NoError(t, err)

	require.Len(t, res.Skipped, 2)

	var notFound, badPoint int
	for _, s := range res.Skipped {
		assert.Equal(t, report.EventRoute, s.Stage)
		switch {
		case errors.Is(s, util.ErrNotFound):
			notFound++
			assert.Equal(t, res.IDs[1], s.WorkoutUUID)
		case errors.Is(s, util.ErrParse):
			badPoint++
			var perr *util.ParseError
			require.True(t, errors.As(s, &perr))
			assert.Equal(t, "ele", perr.Field)
		}
	}
	assert.Equal(t, 1, notFound)
	assert.Equal(t, 1, badPoint)
}

func TestNormalizeWriteFailureIsSkip(t *testing.T) {
	dir, root := setup(t)
	w := newCaptureWriter()
	w.fail = cache.StatisticsDir

	res, err := New(&Config{BaseDir: dir, Writer: w}).Normalize(context.Background(), root)
	require.NoError(t, err)

	var writes int
	for _, s := range res.Skipped {
		if s.Stage == report.EventWrite {
			writes++
			assert.True(t, errors.Is(s, util.ErrWrite))
		}
	}
	assert.Equal(t, 3, writes)
	assert.Equal(t, 3, res.Workouts.Len())
}

func TestNormalizeStableIDs(t *testing.T) {
	dir, root := setup(t)
	n := New(&Config{BaseDir: dir, Writer: newCaptureWriter(), StableIDs: true})

	a, err := n.Normalize(context.Background(), root)
	require.NoError(t, err)
	b, err := n.Normalize(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, a.IDs, b.IDs)

	random := New(&Config{BaseDir: dir, Writer: newCaptureWriter()})
	c, err := random.Normalize(context.Background(), root)
	require.NoError(t, err)
	d, err := random.Normalize(context.Background(), root)
	require.NoError(t, err)
	assert.NotEqual(t, c.IDs, d.IDs)
}

func TestNormalizeKeepsDocumentOrder(t *testing.T) {
	var b strings.Builder
	b.WriteString("<HealthData>")
	for i := 0; i < 40; i++ {
		fmt.Fprintf(&b, `<Workout duration="%d"><WorkoutEvent type="e%d"/></Workout>`, i, i)
	}
	b.WriteString("</HealthData>")
	root, err := xmldoc.Parse(strings.NewReader(b.String()))
	require.NoError(t, err)

	res, err := New(&Config{Concurrency: 8}).Normalize(context.Background(), root)
	require.NoError(t, err)

	durations := res.Workouts.Column("duration")
	events := res.Events.Column("type")
	require.Len(t, durations, 40)
	for i := range durations {
		assert.Equal(t, fmt.Sprint(i), durations[i])
		assert.Equal(t, fmt.Sprintf("e%d", i), events[i])
	}
}

func TestNormalizeNoWorkouts(t *testing.T) {
	root, err := xmldoc.Parse(strings.NewReader(`<HealthData><Me/></HealthData>`))
	require.NoError(t, err)

	res, err := New(&Config{}).Normalize(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Workouts.Len())
	assert.Empty(t, res.Skipped)
}

func TestNormalizeCancelled(t *testing.T) {
	_, root := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(&Config{Writer: newCaptureWriter()}).Normalize(ctx, root)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNormalizeWithCacheWriter(t *testing.T) {
	dir, root := setup(t)
	fs := afero.NewMemMapFs()
	cw := cache.New(&cache.Config{Root: "/cache/me", Fs: fs, RetryConfig: util.NoRetry()})
	require.NoError(t, cw.Scaffold())

	res, err := New(&Config{BaseDir: dir, Writer: cw}).Normalize(context.Background(), root)
	require.NoError(t, err)

	data, err := afero.ReadFile(fs, cw.ItemPath(cache.RoutesDir, res.IDs[0]))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "lon,lat,time,elevation,speed,course,hAcc,vAcc\n"))
}
