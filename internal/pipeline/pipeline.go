// Package pipeline runs a full cache load: it reads the export document,
// derives every table and writes them to the cache directory.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/franz/health-cache/internal/cache"
	"github.com/franz/health-cache/internal/ecg"
	"github.com/franz/health-cache/internal/export"
	"github.com/franz/health-cache/internal/records"
	"github.com/franz/health-cache/internal/report"
	"github.com/franz/health-cache/internal/store"
	"github.com/franz/health-cache/internal/table"
	"github.com/franz/health-cache/internal/util"
	"github.com/franz/health-cache/internal/workout"
	"github.com/franz/health-cache/internal/xmldoc"
)

var errNameCollision = errors.New("file name already taken")

// Document names tried in order inside the export directory
var DocumentNames = []string{"export.xml", "Export.xml"}

// Config holds pipeline configuration
type Config struct {
	ExportDir   string // directory holding export.xml, workout-routes/, electrocardiograms/
	CacheDir    string // cache directory of this export, e.g. cache/<name>
	Concurrency int
	StableIDs   bool
	Fs          afero.Fs     // nil = OS filesystem
	Index       *store.Store // nil = no cache index
	Logger      *report.EventLogger
	Now         func() time.Time // nil = time.Now
}

// Result summarizes a run
type Result struct {
	RunID             int64
	Document          string
	Workouts          int
	Events            int
	Routes            int
	Points            int
	RecordTypes       int
	Records           int
	ActivitySummaries int
	Recordings        int
	TablesWritten     int
	Skipped           int
	Errors            []error
	Duration          time.Duration
}

// DocumentPath returns the export document inside exportDir. When none of
// DocumentNames exists the first one is returned so that loading it reports
// the missing file.
func DocumentPath(exportDir string) string {
	for _, name := range DocumentNames {
		p := filepath.Join(exportDir, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return filepath.Join(exportDir, DocumentNames[0])
}

// runner carries the state shared by the stages of one run
type runner struct {
	cfg     *Config
	run     *store.Run
	writer  *cache.Writer
	result  *Result
	skipped []*store.SkippedItem
}

func newRunner(cfg *Config, kind string) (*runner, error) {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}

	r := &runner{cfg: cfg, result: &Result{}}

	if cfg.Index != nil {
		run, err := cfg.Index.BeginRun(kind, cfg.ExportDir)
		if err != nil {
			return nil, fmt.Errorf("failed to record run: %w", err)
		}
		run.EventLog = cfg.Logger.Path()
		r.run = run
		r.result.RunID = run.ID
	}

	var index cache.Index
	if cfg.Index != nil {
		index = cfg.Index
	}
	r.writer = cache.New(&cache.Config{
		Root:   cfg.CacheDir,
		Fs:     cfg.Fs,
		Index:  index,
		RunID:  r.result.RunID,
		Logger: cfg.Logger,
	})

	return r, nil
}

// skip records a dropped item; the console and event log already saw it
func (r *runner) skip(stage report.EventType, workoutUUID, item string, err error) {
	r.result.Skipped++
	r.result.Errors = append(r.result.Errors, err)
	r.skipped = append(r.skipped, &store.SkippedItem{
		RunID:       r.result.RunID,
		Stage:       string(stage),
		Item:        item,
		WorkoutUUID: workoutUUID,
		Error:       err.Error(),
	})
}

// write stores a combined table, turning a failure into a skipped item
func (r *runner) write(name string, t *table.Table) {
	path, err := r.writer.Write(name, t)
	if err != nil {
		util.WarnLog("Skipping table %s: %v", name, err)
		r.skip(report.EventWrite, "", path, err)
		return
	}
	r.result.TablesWritten++
}

func (r *runner) writeItem(dir, id string, t *table.Table) {
	path, err := r.writer.WriteItem(dir, id, t)
	if err != nil {
		util.WarnLog("Skipping table %s/%s: %v", dir, id, err)
		r.skip(report.EventWrite, "", path, err)
		return
	}
	r.result.TablesWritten++
}

func (r *runner) touch() {
	if err := r.writer.TouchTimestamp(r.cfg.Now()); err != nil {
		util.WarnLog("Failed to update %s: %v", cache.TimestampFile, err)
		r.skip(report.EventWrite, "", cache.TimestampFile, err)
	}
}

// finish stores the run outcome in the index
func (r *runner) finish(start time.Time, runErr error) {
	r.result.Duration = time.Since(start)
	if r.run == nil {
		return
	}

	idx := r.cfg.Index
	if err := idx.InsertSkippedBatch(r.skipped); err != nil {
		util.WarnLog("Failed to index skipped items: %v", err)
	}

	r.run.Workouts = r.result.Workouts
	r.run.RecordTypes = r.result.RecordTypes
	r.run.Skipped = r.result.Skipped
	switch {
	case runErr != nil:
		r.run.Status = store.RunFailed
		r.run.Error = runErr.Error()
	case r.result.Skipped > 0:
		r.run.Status = store.RunPartial
	default:
		r.run.Status = store.RunOK
	}
	if err := idx.FinishRun(r.run); err != nil {
		util.WarnLog("Failed to finish run in index: %v", err)
	}
}

// Load runs the full document pipeline. Failing to load the export document
// or to prepare the cache directory aborts the run; any other failure skips
// the affected item and is counted in Result.Skipped.
func Load(ctx context.Context, cfg *Config) (res *Result, err error) {
	start := time.Now()

	r, err := newRunner(cfg, store.KindLoad)
	if err != nil {
		return nil, err
	}
	defer func() { r.finish(start, err) }()

	docPath := DocumentPath(cfg.ExportDir)
	r.result.Document = docPath
	util.InfoLog("Reading %s", docPath)

	root, err := xmldoc.Load(docPath)
	if err != nil {
		cfg.Logger.LogError(report.EventLoad, docPath, err)
		return r.result, err
	}
	cfg.Logger.LogLoad(docPath, len(root.Children), time.Since(start))

	if err = r.writer.Scaffold(); err != nil {
		cfg.Logger.LogError(report.EventWrite, cfg.CacheDir, err)
		return r.result, err
	}
	if err = r.writer.ClearItems(); err != nil {
		cfg.Logger.LogError(report.EventWrite, cfg.CacheDir, err)
		return r.result, err
	}

	r.summarize(root)

	if err = r.workouts(ctx, root); err != nil {
		return r.result, err
	}

	if err = ctx.Err(); err != nil {
		return r.result, err
	}
	r.records(root)

	r.touch()

	util.SuccessLog("Cached %d workouts, %d record types, %d tables in %s",
		r.result.Workouts, r.result.RecordTypes, r.result.TablesWritten, cfg.CacheDir)
	if r.result.Skipped > 0 {
		util.WarnLog("%d items skipped", r.result.Skipped)
	}
	return r.result, nil
}

func (r *runner) summarize(root *xmldoc.Node) {
	util.InfoLog("Loading metadata and activity summaries")
	s, err := export.Summarize(root)
	if err != nil {
		var perr *util.ParseError
		if errors.As(err, &perr) {
			perr.Path = r.result.Document
		}
		util.WarnLog("Skipping metadata: %v", err)
		r.cfg.Logger.LogSkip(report.EventSummary, export.MetadataTable, err)
		r.skip(report.EventSummary, "", export.MetadataTable, err)
		return
	}

	r.write(export.MetadataTable, s.Metadata)
	r.write(export.ActivitySummaryTable, s.ActivitySummary)
	r.result.ActivitySummaries = s.ActivitySummary.Len()
}

func (r *runner) workouts(ctx context.Context, root *xmldoc.Node) error {
	n := workout.New(&workout.Config{
		BaseDir:     r.cfg.ExportDir,
		Writer:      r.writer,
		Concurrency: r.cfg.Concurrency,
		StableIDs:   r.cfg.StableIDs,
		Logger:      r.cfg.Logger,
	})

	res, err := n.Normalize(ctx, root)
	if err != nil {
		return err
	}

	for _, s := range res.Skipped {
		r.skip(s.Stage, s.WorkoutUUID, s.Item, s.Err)
	}
	r.result.Workouts = res.Workouts.Len()
	r.result.Events = res.Events.Len()
	r.result.Routes = res.Routes
	r.result.Points = res.Points

	r.result.TablesWritten += res.TablesWritten

	r.write(workout.WorkoutsTable, res.Workouts)
	r.write(workout.EventsTable, res.Events)
	r.write(workout.RoutesMetaTable, res.RoutesMeta)
	return nil
}

func (r *runner) records(root *xmldoc.Node) {
	util.InfoLog("Loading health records")
	set := records.Partition(root)
	files := make(map[string]string, set.Len()) // file name -> record type
	kept := 0
	for _, typ := range set.Keys() {
		t, _ := set.Lookup(typ)
		name := cache.SafeName(typ)
		if first, ok := files[name]; ok {
			err := fmt.Errorf("record type %q maps to the same file as %q: %w", typ, first, &util.WriteError{
				Table: cache.RecordsDir + "/" + typ,
				Path:  r.writer.ItemPath(cache.RecordsDir, typ),
				Err:   errNameCollision,
			})
			util.WarnLog("Skipping records of %s: %v", typ, err)
			r.cfg.Logger.LogSkip(report.EventRecord, typ, err)
			r.skip(report.EventRecord, "", typ, err)
			continue
		}
		files[name] = typ
		r.writeItem(cache.RecordsDir, typ, t)
		kept++
	}
	r.result.RecordTypes = kept
	r.result.Records = set.Rows()
}

// LoadECG parses the electrocardiogram directory of the export into the
// cache: one samples table per recording and the ecg_meta table.
func LoadECG(ctx context.Context, cfg *Config) (res *Result, err error) {
	start := time.Now()

	r, err := newRunner(cfg, store.KindECG)
	if err != nil {
		return nil, err
	}
	defer func() { r.finish(start, err) }()

	dir := filepath.Join(cfg.ExportDir, ecg.DirName)
	scanned, err := ecg.New(&ecg.Config{Concurrency: cfg.Concurrency, Logger: cfg.Logger}).Scan(ctx, dir)
	if err != nil {
		cfg.Logger.LogError(report.EventECG, dir, err)
		return r.result, err
	}
	for _, e := range scanned.Errors {
		r.skip(report.EventECG, "", dir, e)
	}

	if err = r.writer.Scaffold(); err != nil {
		return r.result, err
	}
	if err = r.writer.ClearDirs(cache.ECGDir); err != nil {
		return r.result, err
	}

	for _, rec := range scanned.Recordings {
		r.writeItem(cache.ECGDir, rec.Name, rec.SamplesTable())
	}
	r.write(ecg.MetaTableName, ecg.MetaTable(scanned.Recordings))
	r.result.Recordings = len(scanned.Recordings)

	r.touch()

	util.SuccessLog("Cached %d ECG recordings in %s", r.result.Recordings, cfg.CacheDir)
	return r.result, nil
}
