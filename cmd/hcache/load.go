package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/franz/health-cache/internal/pipeline"
	"github.com/franz/health-cache/internal/report"
	"github.com/franz/health-cache/internal/store"
	"github.com/franz/health-cache/internal/util"
	"github.com/spf13/cobra"
)

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load an export into the cache",
	Long: `Load reads export.xml (or Export.xml) from the export directory and
writes the cache:

- metadata.csv and activity_summary.csv from the export summary
- workouts.csv, workout_events.csv and routes_meta.csv
- workout_statistics/, workout_metadata_entry/ and routes/ per workout
- records/ with one table per record type
- cache.json with the time of the run

Item tables from an earlier run are removed first. Items that fail are
skipped and reported; the command then exits with status 2.`,
	RunE: runLoad,
}

func init() {
	rootCmd.AddCommand(loadCmd)
}

func runLoad(cmd *cobra.Command, args []string) error {
	s, err := resolveSettings(true)
	if err != nil {
		return err
	}
	s.applyLogging()

	util.InfoLog("Loading export: %s", s.ExportDir)
	util.InfoLog("Cache: %s", s.CacheDir)

	db, logger, err := openRunState(s)
	if err != nil {
		return err
	}
	defer db.Close()
	defer logger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := pipeline.Load(ctx, &pipeline.Config{
		ExportDir:   s.ExportDir,
		CacheDir:    s.CacheDir,
		Concurrency: s.Concurrency,
		StableIDs:   s.StableIDs,
		Index:       db,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("load failed: %w", err)
	}

	util.InfoLog("")
	util.InfoLog("=== Load Summary ===")
	util.InfoLog("Document: %s", res.Document)
	util.InfoLog("Workouts: %d (%d events, %d routes, %d points)", res.Workouts, res.Events, res.Routes, res.Points)
	util.InfoLog("Records: %d in %d types", res.Records, res.RecordTypes)
	util.InfoLog("Activity summaries: %d", res.ActivitySummaries)
	util.InfoLog("Tables written: %d", res.TablesWritten)
	util.InfoLog("Duration: %s", res.Duration.Round(time.Millisecond))

	return finishRun(res, logger)
}

// openRunState prepares the cache directory and opens the index and the
// event log. The event log falls back to a no-op logger when it cannot be
// created.
func openRunState(s *settings) (*store.Store, *report.EventLogger, error) {
	if err := os.MkdirAll(s.CacheDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.DBPath), 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create index directory: %w", err)
	}

	db, err := store.Open(s.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open index: %w", err)
	}

	// Create event logger with appropriate log level
	logLevel := report.LevelInfo
	if s.Quiet {
		logLevel = report.LevelWarning
	} else if s.Verbose {
		logLevel = report.LevelDebug
	}

	logger, err := report.NewEventLogger(s.EventsDir, logLevel)
	if err != nil {
		util.WarnLog("Failed to create event logger: %v", err)
		logger = report.NullLogger()
	}

	if logger.Path() != "" {
		util.InfoLog("Event log: %s", logger.Path())
	}
	return db, logger, nil
}

// finishRun reports skipped items and turns them into ErrItemsSkipped
func finishRun(res *pipeline.Result, logger *report.EventLogger) error {
	if res.Skipped == 0 {
		util.SuccessLog("✅ Cache is up to date")
		return nil
	}

	util.WarnLog("Skipped: %d items", res.Skipped)
	for i, err := range res.Errors {
		if i == 5 {
			util.WarnLog("  ... and %d more", len(res.Errors)-i)
			break
		}
		util.WarnLog("  %v", err)
	}
	if logger.Path() != "" {
		util.WarnLog("See %s for details", logger.Path())
	}
	return fmt.Errorf("%d items: %w", res.Skipped, util.ErrItemsSkipped)
}
