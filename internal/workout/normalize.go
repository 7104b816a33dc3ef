// Package workout flattens the Workout elements of an export into linked
// tables: every workout gets a synthesized uuid that all of its events,
// statistics, metadata entries and routes refer to.
package workout

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/franz/health-cache/internal/cache"
	"github.com/franz/health-cache/internal/gpx"
	"github.com/franz/health-cache/internal/report"
	"github.com/franz/health-cache/internal/table"
	"github.com/franz/health-cache/internal/util"
	"github.com/franz/health-cache/internal/xmldoc"
)

// Combined table names
const (
	WorkoutsTable   = "workouts"
	EventsTable     = "workout_events"
	RoutesMetaTable = "routes_meta"
)

const (
	colUUID        = "uuid"
	colWorkoutUUID = "workout_uuid"
	colPath        = "path"
)

// stableNamespace seeds name-based workout ids
var stableNamespace = uuid.MustParse("9f1c3a52-6a8e-4d0b-b7a4-2f5d8c1e0a77")

// ItemWriter stores a per-workout table
type ItemWriter interface {
	WriteItem(dir, id string, t *table.Table) (string, error)
}

// Normalizer turns workouts into tables
type Normalizer struct {
	baseDir     string
	writer      ItemWriter
	concurrency int
	stableIDs   bool
	logger      *report.EventLogger
}

// Config holds normalizer configuration
type Config struct {
	BaseDir     string     // export directory route references are relative to
	Writer      ItemWriter // receives statistics, metadata entry and route tables
	Concurrency int
	StableIDs   bool // derive ids from document ordinal and attributes
	Logger      *report.EventLogger
}

// New creates a new Normalizer
func New(cfg *Config) *Normalizer {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Normalizer{
		baseDir:     cfg.BaseDir,
		writer:      cfg.Writer,
		concurrency: cfg.Concurrency,
		stableIDs:   cfg.StableIDs,
		logger:      cfg.Logger,
	}
}

// Skip is an item dropped while normalizing a workout
type Skip struct {
	Stage       report.EventType
	WorkoutUUID string
	Item        string
	Err         error
}

func (s Skip) Error() string {
	return fmt.Sprintf("%s %s (workout %s): %v", s.Stage, s.Item, s.WorkoutUUID, s.Err)
}

func (s Skip) Unwrap() error { return s.Err }

// Result holds the combined tables, in document order
type Result struct {
	Workouts      *table.Table
	Events        *table.Table
	RoutesMeta    *table.Table
	IDs           []string // workout uuids in document order
	Routes        int      // route documents resolved
	Points        int      // trackpoints written
	TablesWritten int      // per-workout tables written
	Skipped       []Skip
}

// slot is the output of one workout, filled by exactly one worker
type slot struct {
	id      string
	workout []table.Field
	events  [][]table.Field
	routes  [][]table.Field
	nRoutes int
	points  int
	written int
	skipped []Skip
}

// Normalize processes the Workout children of root with a bounded pool and
// writes the per-workout tables. Per-item failures are returned in
// Result.Skipped; only cancellation aborts.
func (n *Normalizer) Normalize(ctx context.Context, root *xmldoc.Node) (*Result, error) {
	workouts := root.FindAll("Workout")
	slots := make([]slot, len(workouts))

	util.InfoLog("Normalizing %d workouts", len(workouts))
	bar := util.NewProgressBar(len(workouts), "Workouts")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(n.concurrency)

	var done atomic.Int64
	for i, w := range workouts {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			slots[i] = n.process(i, w)
			done.Add(1)
			util.ProgressAdd(bar)
			return nil
		})
	}

	err := g.Wait()
	util.ProgressFinish(bar)
	if err != nil {
		return nil, err
	}
	util.DebugLog("Normalized %d/%d workouts", done.Load(), len(workouts))

	res := &Result{
		Workouts:   table.New(WorkoutsTable),
		Events:     table.New(EventsTable),
		RoutesMeta: table.New(RoutesMetaTable),
		IDs:        make([]string, 0, len(slots)),
	}
	for _, s := range slots {
		res.IDs = append(res.IDs, s.id)
		res.Workouts.Append(s.workout)
		for _, row := range s.events {
			res.Events.Append(row)
		}
		for _, row := range s.routes {
			res.RoutesMeta.Append(row)
		}
		res.Routes += s.nRoutes
		res.Points += s.points
		res.TablesWritten += s.written
		res.Skipped = append(res.Skipped, s.skipped...)
	}

	return res, nil
}

// ID returns the identifier for the workout at document ordinal i
func (n *Normalizer) ID(i int, w *xmldoc.Node) string {
	if !n.stableIDs {
		return uuid.NewString()
	}

	var b strings.Builder
	b.WriteString(strconv.Itoa(i))
	for _, a := range w.Attrs {
		b.WriteString("\x1f")
		b.WriteString(a.Name.Local)
		b.WriteString("=")
		b.WriteString(a.Value)
	}
	return uuid.NewSHA1(stableNamespace, []byte(b.String())).String()
}

func (n *Normalizer) process(i int, w *xmldoc.Node) slot {
	s := slot{id: n.ID(i, w)}
	tag := table.Field{Name: colWorkoutUUID, Value: s.id}

	s.workout = append(w.Fields(), table.Field{Name: colUUID, Value: s.id})

	for _, ev := range w.FindAll("WorkoutEvent") {
		s.events = append(s.events, append(ev.Fields(), tag))
	}

	stats := table.New(s.id)
	for _, st := range w.FindAll("WorkoutStatistics") {
		stats.Append(append(st.Fields(), tag))
	}
	n.writeItem(&s, cache.StatisticsDir, stats)

	n.writeItem(&s, cache.MetadataEntryDir, n.metadataEntries(&s, w))

	route := table.New(s.id, gpx.Columns...)
	for _, r := range w.FindAll("WorkoutRoute") {
		meta := append(r.Fields(), tag)
		path, ok := n.resolveRoute(&s, r)
		if path != "" {
			meta = append(meta, table.Field{Name: colPath, Value: path})
		}
		s.routes = append(s.routes, meta)
		if !ok {
			continue
		}

		res, err := gpx.Resolve(path)
		if err != nil {
			n.skip(&s, report.EventRoute, path, err)
			continue
		}
		for _, perr := range res.Skipped {
			n.skip(&s, report.EventRoute, path, perr)
		}
		for _, p := range res.Points {
			route.Append(p.Fields())
		}
		s.nRoutes++
		s.points += len(res.Points)
		n.logger.LogRoute(s.id, path, len(res.Points), len(res.Skipped))
	}
	if s.nRoutes > 0 {
		n.writeItem(&s, cache.RoutesDir, route)
	}

	activity, _ := w.Attr("workoutActivityType")
	n.logger.LogWorkout(s.id, activity, len(s.events), stats.Len(), len(w.FindAll("MetadataEntry")), s.nRoutes)
	return s
}

// metadataEntries folds each MetadataEntry into a row holding only its own
// key column
func (n *Normalizer) metadataEntries(s *slot, w *xmldoc.Node) *table.Table {
	t := table.New(s.id)
	for j, e := range w.FindAll("MetadataEntry") {
		key, ok := e.Attr("key")
		if !ok || key == "" {
			n.skip(s, report.EventWorkout, fmt.Sprintf("MetadataEntry[%d]", j),
				&util.ParseError{Element: fmt.Sprintf("MetadataEntry[%d]", j), Field: "key", Err: util.ErrMissingElement})
			continue
		}
		value, _ := e.Attr("value")
		t.Append([]table.Field{
			{Name: colWorkoutUUID, Value: s.id},
			{Name: key, Value: value},
		})
	}
	return t
}

// resolveRoute returns the absolute path of the route document a
// WorkoutRoute refers to. ok is false when there is nothing to parse.
func (n *Normalizer) resolveRoute(s *slot, r *xmldoc.Node) (path string, ok bool) {
	ref := r.Find("FileReference")
	if ref == nil {
		return "", false
	}
	rel, found := ref.Attr("path")
	if !found || rel == "" {
		n.skip(s, report.EventRoute, "FileReference",
			&util.ParseError{Element: "FileReference", Field: "path", Err: util.ErrMissingElement})
		return "", false
	}

	path, err := gpx.ResolvePath(n.baseDir, rel)
	if err != nil {
		n.skip(s, report.EventRoute, rel, err)
		return "", false
	}
	return path, true
}

func (n *Normalizer) writeItem(s *slot, dir string, t *table.Table) {
	if n.writer == nil {
		return
	}
	if _, err := n.writer.WriteItem(dir, s.id, t); err != nil {
		n.skip(s, report.EventWrite, dir+"/"+s.id, err)
		return
	}
	s.written++
}

func (n *Normalizer) skip(s *slot, stage report.EventType, item string, err error) {
	util.WarnLog("Skipping %s %s of workout %s: %v", stage, item, s.id, err)
	n.logger.LogWorkoutSkip(stage, s.id, item, err)
	s.skipped = append(s.skipped, Skip{Stage: stage, WorkoutUUID: s.id, Item: item, Err: err})
}
