package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/franz/health-cache/internal/report"
	"github.com/franz/health-cache/internal/store"
	"github.com/franz/health-cache/internal/util"
	"github.com/spf13/cobra"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Generate a summary report from the cache index",
	Long: `Generate a run report in Markdown format.

The report includes:
- Run status, export path and counts
- Cache tables with files, rows and size
- Skipped items grouped by stage
- Top errors

The report is saved to artifacts/reports/<timestamp>/summary.md`,
	RunE: runReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)

	// Report-specific flags
	reportCmd.Flags().String("out", "", "Output directory for report (default: <events>/reports/<timestamp>)")
	reportCmd.Flags().Int64("run", 0, "Run ID to report on (default: latest run)")
}

func runReport(cmd *cobra.Command, args []string) error {
	s, err := resolveSettings(false)
	if err != nil {
		return err
	}
	s.applyLogging()

	util.InfoLog("=== Generating Summary Report ===")
	util.InfoLog("Index: %s", s.DBPath)

	if _, err := os.Stat(s.DBPath); err != nil {
		return fmt.Errorf("no cache index at %s (run 'hcache load' first): %w", s.DBPath, err)
	}

	db, err := store.Open(s.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open index: %w", err)
	}
	defer db.Close()

	runID, _ := cmd.Flags().GetInt64("run")

	util.InfoLog("Analyzing data...")
	summaryReport, err := report.GenerateSummaryReport(db, runID)
	if errors.Is(err, report.ErrNoRuns) {
		util.WarnLog("No runs found. Run 'hcache load' first.")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to generate report: %w", err)
	}

	summaryReport.DatabasePath = s.DBPath
	summaryReport.CachePath = s.CacheDir

	// Determine output path
	outputDir, _ := cmd.Flags().GetString("out")
	if outputDir == "" {
		timestamp := time.Now().Format("20060102-150405")
		outputDir = filepath.Join(s.EventsDir, "reports", timestamp)
	}

	outputPath := filepath.Join(outputDir, "summary.md")

	// Write markdown report
	util.InfoLog("Writing report to: %s", outputPath)
	if err := report.WriteMarkdownReport(summaryReport, outputPath); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	// Summary
	util.SuccessLog("Report generated successfully!")
	util.InfoLog("")
	util.InfoLog("Report saved to: %s", outputPath)
	util.InfoLog("")
	util.InfoLog("Summary:")
	util.InfoLog("  Run: #%d (%s, %s)", summaryReport.RunID, summaryReport.Kind, summaryReport.Status)
	util.InfoLog("  Tables: %d files, %d rows, %s", summaryReport.TotalFiles, summaryReport.TotalRows,
		util.FormatBytes(summaryReport.TotalBytes))
	if summaryReport.Skipped > 0 {
		util.WarnLog("  Skipped: %d", summaryReport.Skipped)
	}

	return nil
}
