package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/franz/health-cache/internal/cache"
	"github.com/franz/health-cache/internal/ecg"
	"github.com/franz/health-cache/internal/pipeline"
	"github.com/franz/health-cache/internal/util"
	"github.com/spf13/cobra"
)

var ecgCmd = &cobra.Command{
	Use:   "ecg",
	Short: "Load the ECG recordings of an export into the cache",
	Long: `Parse every file in <export>/electrocardiograms and write one samples
table per recording to electrocardiograms/ plus ecg_meta.csv with the
header fields of each recording.

Files that fail to parse are skipped; the command then exits with status 2.`,
	RunE: runECG,
}

func init() {
	rootCmd.AddCommand(ecgCmd)
}

func runECG(cmd *cobra.Command, args []string) error {
	s, err := resolveSettings(true)
	if err != nil {
		return err
	}
	s.applyLogging()

	util.InfoLog("Loading ECG recordings: %s", s.ExportDir)

	db, logger, err := openRunState(s)
	if err != nil {
		return err
	}
	defer db.Close()
	defer logger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := pipeline.LoadECG(ctx, &pipeline.Config{
		ExportDir:   s.ExportDir,
		CacheDir:    s.CacheDir,
		Concurrency: s.Concurrency,
		Index:       db,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("ecg load failed: %w", err)
	}

	util.InfoLog("")
	util.InfoLog("=== ECG Summary ===")
	util.InfoLog("Recordings: %d", res.Recordings)
	util.InfoLog("Tables written: %d (%s/, %s.csv)", res.TablesWritten, cache.ECGDir, ecg.MetaTableName)
	util.InfoLog("Duration: %s", res.Duration.Round(time.Millisecond))

	return finishRun(res, logger)
}
