package pipeline

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/franz/health-cache/internal/cache"
	"github.com/franz/health-cache/internal/store"
	"github.com/franz/health-cache/internal/util"
)

const cacheDir = "/cache/me"

const exportXML = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE HealthData [
<!ELEMENT HealthData (ExportDate,Me,(Record|Workout|ActivitySummary)*)>
]>
<HealthData locale="en_US">
 <ExportDate value="2023-05-01 10:00:00 +0200"/>
 <Me HKCharacteristicTypeIdentifierDateOfBirth="1990-01-01" HKCharacteristicTypeIdentifierBiologicalSex="HKBiologicalSexMale"/>
 <Record type="A" value="1" unit="count"/>
 <Record type="A" value="2" unit="count"/>
 <Record type="B" value="3" unit="kg"/>
 <Workout workoutActivityType="HKWorkoutActivityTypeRunning" duration="30">
  <MetadataEntry key="HKIndoorWorkout" value="0"/>
  <WorkoutEvent type="HKWorkoutEventTypePause"/>
  <WorkoutStatistics type="HKQuantityTypeIdentifierHeartRate" average="140"/>
  <WorkoutRoute sourceName="Watch"><FileReference path="/workout-routes/route_1.gpx"/></WorkoutRoute>
 </Workout>
 <Workout workoutActivityType="HKWorkoutActivityTypeCycling" duration="60"/>
 <ActivitySummary dateComponents="2023-04-30" activeEnergyBurned="500"/>
</HealthData>`

const routeGPX = `<?xml version="1.0" encoding="UTF-8"?>
<gpx version="1.1" xmlns="http://www.topografix.com/GPX/1/1"><trk><trkseg>
<trkpt lon="8.5" lat="47.3"><ele>410</ele><time>2023-05-01T08:00:00Z</time><extensions><speed>2.5</speed><course>90</course><hAcc>1</hAcc><vAcc>1</vAcc></extensions></trkpt>
<trkpt lon="8.6" lat="47.4"><ele>411</ele><time>2023-05-01T08:00:01Z</time><extensions><speed>2.6</speed><course>91</course><hAcc>1</hAcc><vAcc>1</vAcc></extensions></trkpt>
</trkseg></trk></gpx>`

func ecgFile(samples ...string) string {
	lines := make([]string, 12)
	lines[0] = "Name,Jane"
	lines[1] = "Sample Rate,512,0"
	lines = append(lines, "Unit,µV")
	return strings.Join(append(lines, samples...), "\n")
}

type fixture struct {
	dir string
}

func newFixture(t *testing.T, document string) *fixture {
	t.Helper()
	dir := t.TempDir()
	write := func(rel, body string) {
		p := filepath.Join(dir, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0644))
	}
	write(document, exportXML)
	write("workout-routes/route_1.gpx", routeGPX)
	write("electrocardiograms/ecg_2023-05-01.csv", ecgFile("1,5", "2,5"))
	write("electrocardiograms/ecg_2023-05-02.csv", ecgFile("0,1"))
	return &fixture{dir: dir}
}

func (f *fixture) config(fsys afero.Fs) *Config {
	return &Config{
		ExportDir:   f.dir,
		CacheDir:    cacheDir,
		Concurrency: 2,
		StableIDs:   true,
		Fs:          fsys,
		Now:         func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.Local) },
	}
}

// snapshot returns every file below root, keyed by relative path
func snapshot(t *testing.T, fsys afero.Fs, root string, skip ...string) map[string]string {
	t.Helper()
	files := make(map[string]string)
	err := afero.Walk(fsys, root, func(path string, info fs.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		rel, _ := filepath.Rel(root, path)
		for _, s := range skip {
			if rel == s {
				return nil
			}
		}
		data, err := afero.ReadFile(fsys, path)
		if err != nil {
			return err
		}
		files[rel] = string(data)
		return nil
	})
	require.NoError(t, err)
	return files
}

func TestLoadWritesCacheLayout(t *testing.T) {
	f := newFixture(t, "export.xml")
	fsys := afero.NewMemMapFs()

	res, err := Load(context.Background(), f.config(fsys))
	require.NoError(t, err)

	assert.Equal(t, 2, res.Workouts)
	assert.Equal(t, 1, res.Events)
	assert.Equal(t, 1, res.Routes)
	assert.Equal(t, 2, res.Points)
	assert.Equal(t, 2, res.RecordTypes)
	assert.Equal(t, 3, res.Records)
	assert.Equal(t, 1, res.ActivitySummaries)
	assert.Equal(t, 0, res.Skipped)

	files := snapshot(t, fsys, cacheDir)
	for _, name := range []string{
		"metadata.csv", "activity_summary.csv", "workouts.csv", "workout_events.csv",
		"routes_meta.csv", "records/A.csv", "records/B.csv", "cache.json",
	} {
		assert.Contains(t, files, name)
	}
	assert.Equal(t, "type,value,unit\nA,1,count\nA,2,count\n", files["records/A.csv"])
	assert.JSONEq(t, `{"last_updated":"2024-01-02 03:04:05"}`, files["cache.json"])

	var stats, entries, routes int
	for name := range files {
		switch filepath.Dir(name) {
		case cache.StatisticsDir:
			stats++
		case cache.MetadataEntryDir:
			entries++
		case cache.RoutesDir:
			routes++
		}
	}
	assert.Equal(t, 2, stats)
	assert.Equal(t, 2, entries)
	assert.Equal(t, 1, routes)

	// 5 combined tables, 2 record types, 2x2 per-workout tables and 1 route
	assert.Equal(t, 12, res.TablesWritten)
}

func TestLoadIsIdempotentWithStableIDs(t *testing.T) {
	f := newFixture(t, "export.xml")
	fsys := afero.NewMemMapFs()

	_, err := Load(context.Background(), f.config(fsys))
	require.NoError(t, err)
	first := snapshot(t, fsys, cacheDir, cache.TimestampFile)

	cfg := f.config(fsys)
	cfg.Now = time.Now
	_, err = Load(context.Background(), cfg)
	require.NoError(t, err)
	second := snapshot(t, fsys, cacheDir, cache.TimestampFile)

	assert.Equal(t, first, second)
}

func TestLoadClearsStaleWorkoutTables(t *testing.T) {
	f := newFixture(t, "export.xml")
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, filepath.Join(cacheDir, cache.RoutesDir, "stale.csv"), []byte("x\n"), 0644))

	_, err := Load(context.Background(), f.config(fsys))
	require.NoError(t, err)

	ok, err := afero.Exists(fsys, filepath.Join(cacheDir, cache.RoutesDir, "stale.csv"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLoadFallsBackToCapitalizedDocument(t *testing.T) {
	f := newFixture(t, "Export.xml")

	res, err := Load(context.Background(), f.config(afero.NewMemMapFs()))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(f.dir, "Export.xml"), res.Document)
	assert.Equal(t, 2, res.Workouts)
}

func TestLoadMissingDocumentIsFatal(t *testing.T) {
	fsys := afero.NewMemMapFs()
	cfg := &Config{ExportDir: t.TempDir(), CacheDir: cacheDir, Fs: fsys}

	_, err := Load(context.Background(), cfg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, util.ErrParse))
	assert.True(t, errors.Is(err, fs.ErrNotExist))

	ok, _ := afero.DirExists(fsys, cacheDir)
	assert.False(t, ok, "nothing is written when the document cannot be loaded")
}

func TestLoadScaffoldFailureIsFatal(t *testing.T) {
	f := newFixture(t, "export.xml")

	_, err := Load(context.Background(), f.config(afero.NewReadOnlyFs(afero.NewMemMapFs())))
	require.Error(t, err)
	assert.True(t, errors.Is(err, util.ErrWrite))
}

func TestLoadCountsSkippedRoutes(t *testing.T) {
	f := newFixture(t, "export.xml")
	require.NoError(t, os.Remove(filepath.Join(f.dir, "workout-routes", "route_1.gpx")))

	res, err := Load(context.Background(), f.config(afero.NewMemMapFs()))
	require.NoError(t, err)

	assert.Equal(t, 1, res.Skipped)
	require.Len(t, res.Errors, 1)
	assert.True(t, errors.Is(res.Errors[0], util.ErrNotFound))
	assert.Equal(t, 2, res.Workouts)
}

func TestLoadSkipsRecordTypeWithTakenFileName(t *testing.T) {
	f := newFixture(t, "export.xml")
	doc := strings.Replace(exportXML, `<Record type="B" value="3" unit="kg"/>`,
		`<Record type="a/b" value="3"/><Record type="a_b" value="4"/>`, 1)
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, "export.xml"), []byte(doc), 0644))

	fsys := afero.NewMemMapFs()
	res, err := Load(context.Background(), f.config(fsys))
	require.NoError(t, err)

	assert.Equal(t, 2, res.RecordTypes)
	assert.Equal(t, 1, res.Skipped)
	require.Len(t, res.Errors, 1)
	assert.True(t, errors.Is(res.Errors[0], util.ErrWrite))
	assert.Contains(t, res.Errors[0].Error(), `"a_b"`)

	data, err := afero.ReadFile(fsys, filepath.Join(cacheDir, cache.RecordsDir, "a_b.csv"))
	require.NoError(t, err)
	assert.Equal(t, "type,value\na/b,3\n", string(data))
}

func TestLoadRecordsRunInIndex(t *testing.T) {
	f := newFixture(t, "export.xml")
	require.NoError(t, os.Remove(filepath.Join(f.dir, "workout-routes", "route_1.gpx")))

	idx, err := store.Open(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	defer idx.Close()

	cfg := f.config(afero.NewMemMapFs())
	cfg.Index = idx
	res, err := Load(context.Background(), cfg)
	require.NoError(t, err)

	run, err := idx.GetRun(res.RunID)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, store.RunPartial, run.Status)
	assert.Equal(t, 2, run.Workouts)
	assert.Equal(t, 1, run.Skipped)

	tables, err := idx.GetTablesForRun(res.RunID)
	require.NoError(t, err)
	assert.Len(t, tables, res.TablesWritten)

	skipped, err := idx.GetSkippedItems(res.RunID)
	require.NoError(t, err)
	require.Len(t, skipped, 1)
	assert.Equal(t, "route", skipped[0].Stage)
	assert.NotEmpty(t, skipped[0].WorkoutUUID)
}

func TestLoadCancelled(t *testing.T) {
	f := newFixture(t, "export.xml")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Load(ctx, f.config(afero.NewMemMapFs()))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoadECG(t *testing.T) {
	f := newFixture(t, "export.xml")
	fsys := afero.NewMemMapFs()

	res, err := LoadECG(context.Background(), f.config(fsys))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Recordings)
	assert.Equal(t, 0, res.Skipped)

	files := snapshot(t, fsys, cacheDir)
	assert.Equal(t, "value\n1.5\n2.5\n", files["electrocardiograms/ecg_2023-05-01.csv"])
	assert.Contains(t, files, "ecg_meta.csv")
	assert.True(t, strings.HasPrefix(files["ecg_meta.csv"], "name,date,samples,Name,Sample Rate\n"))
	assert.Contains(t, files["ecg_meta.csv"], "ecg_2023-05-01,2023-05-01,2,Jane,512.0\n")
}

func TestLoadECGMissingDirectory(t *testing.T) {
	cfg := &Config{ExportDir: t.TempDir(), CacheDir: cacheDir, Fs: afero.NewMemMapFs()}

	_, err := LoadECG(context.Background(), cfg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, util.ErrNotFound))
}
