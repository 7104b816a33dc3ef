package report

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/franz/health-cache/internal/store"
	"github.com/franz/health-cache/internal/util"
)

// SummaryReport describes one run and the cache it left behind
type SummaryReport struct {
	GeneratedAt time.Time
	Duration    time.Duration

	// Run
	RunID       int64
	Kind        string
	Status      string
	ExportPath  string
	StartedAt   time.Time
	Workouts    int
	RecordTypes int
	Skipped     int
	RunError    string

	// Cache contents
	Tables     []store.TableStats
	TotalFiles int
	TotalRows  int
	TotalBytes int64

	// Details
	SkippedByStage map[string]int
	TopErrors      []ErrorSummary
	SkippedItems   []*store.SkippedItem

	// Metadata
	CachePath    string
	DatabasePath string
	EventLogPath string
}

// ErrorSummary represents an error with its count
type ErrorSummary struct {
	Error string
	Count int
}

// ErrNoRuns is returned when the index holds no run to report on
var ErrNoRuns = fmt.Errorf("no runs recorded in cache index")

// GenerateSummaryReport builds a report for runID, or for the latest run
// when runID is 0
func GenerateSummaryReport(db *store.Store, runID int64) (*SummaryReport, error) {
	var (
		run *store.Run
		err error
	)
	if runID == 0 {
		run, err = db.LatestRun("")
	} else {
		run, err = db.GetRun(runID)
	}
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, ErrNoRuns
	}

	report := &SummaryReport{
		GeneratedAt:  time.Now(),
		RunID:        run.ID,
		Kind:         run.Kind,
		Status:       run.Status,
		ExportPath:   run.ExportPath,
		StartedAt:    run.StartedAt,
		Workouts:     run.Workouts,
		RecordTypes:  run.RecordTypes,
		Skipped:      run.Skipped,
		RunError:     run.Error,
		EventLogPath: run.EventLog,
		TopErrors:    make([]ErrorSummary, 0),
	}
	if !run.FinishedAt.IsZero() {
		report.Duration = run.FinishedAt.Sub(run.StartedAt)
	}

	stats, err := db.GetTableStats()
	if err != nil {
		return nil, err
	}
	report.Tables = stats
	for _, st := range stats {
		report.TotalFiles += st.Files
		report.TotalRows += st.Rows
		report.TotalBytes += st.Bytes
	}

	report.SkippedByStage, _ = db.CountSkippedByStage(run.ID)

	items, _ := db.GetSkippedItems(run.ID)
	report.TopErrors = gatherTopErrors(items, 10)
	if len(items) > 50 {
		items = items[:50]
	}
	report.SkippedItems = items

	return report, nil
}

// gatherTopErrors groups skipped items by error text, most common first
func gatherTopErrors(items []*store.SkippedItem, limit int) []ErrorSummary {
	errorCounts := make(map[string]int)
	for _, it := range items {
		if it.Error != "" {
			errorCounts[it.Error]++
		}
	}

	errors := make([]ErrorSummary, 0, len(errorCounts))
	for err, count := range errorCounts {
		errors = append(errors, ErrorSummary{
			Error: err,
			Count: count,
		})
	}

	sort.Slice(errors, func(i, j int) bool {
		if errors[i].Count != errors[j].Count {
			return errors[i].Count > errors[j].Count
		}
		return errors[i].Error < errors[j].Error
	})

	if len(errors) > limit {
		errors = errors[:limit]
	}

	return errors
}

// WriteMarkdownReport writes the summary report as Markdown
func WriteMarkdownReport(report *SummaryReport, outputPath string) error {
	dir := filepath.Dir(outputPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	if err := os.WriteFile(outputPath, []byte(RenderMarkdown(report)), 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	return nil
}

// RenderMarkdown returns the report as a Markdown document
func RenderMarkdown(report *SummaryReport) string {
	var md strings.Builder

	md.WriteString("# Health Cache - Run Report\n\n")
	md.WriteString(fmt.Sprintf("**Generated:** %s\n\n", report.GeneratedAt.Format("2006-01-02 15:04:05")))

	if report.CachePath != "" {
		md.WriteString(fmt.Sprintf("**Cache:** `%s`\n\n", report.CachePath))
	}
	if report.DatabasePath != "" {
		md.WriteString(fmt.Sprintf("**Index:** `%s`\n\n", report.DatabasePath))
	}
	if report.EventLogPath != "" {
		md.WriteString(fmt.Sprintf("**Event Log:** `%s`\n\n", report.EventLogPath))
	}

	md.WriteString("---\n\n")

	md.WriteString("## 📊 Run\n\n")
	md.WriteString("| Metric | Value |\n")
	md.WriteString("|--------|-------|\n")
	md.WriteString(fmt.Sprintf("| Run | #%d (%s) |\n", report.RunID, report.Kind))
	md.WriteString(fmt.Sprintf("| Status | %s |\n", report.Status))
	md.WriteString(fmt.Sprintf("| Export | `%s` |\n", truncatePath(report.ExportPath, 60)))
	md.WriteString(fmt.Sprintf("| Started | %s |\n", report.StartedAt.Format("2006-01-02 15:04:05")))
	if report.Duration > 0 {
		md.WriteString(fmt.Sprintf("| Duration | %s |\n", report.Duration.Round(time.Millisecond)))
	}
	if report.Kind == store.KindLoad {
		md.WriteString(fmt.Sprintf("| Workouts | %d |\n", report.Workouts))
		md.WriteString(fmt.Sprintf("| Record Types | %d |\n", report.RecordTypes))
	}
	if report.Skipped > 0 {
		md.WriteString(fmt.Sprintf("| Skipped Items | %d |\n", report.Skipped))
	}
	if report.RunError != "" {
		md.WriteString(fmt.Sprintf("| Error | %s |\n", report.RunError))
	}
	md.WriteString("\n")

	if len(report.Tables) > 0 {
		md.WriteString("## 🗂️ Cache Tables\n\n")
		md.WriteString("| Table | Files | Rows | Size |\n")
		md.WriteString("|-------|-------|------|------|\n")
		for _, st := range report.Tables {
			md.WriteString(fmt.Sprintf("| %s | %d | %d | %s |\n", st.Name, st.Files, st.Rows, util.FormatBytes(st.Bytes)))
		}
		md.WriteString(fmt.Sprintf("| **Total** | %d | %d | %s |\n", report.TotalFiles, report.TotalRows, util.FormatBytes(report.TotalBytes)))
		md.WriteString("\n")
	}

	if len(report.SkippedByStage) > 0 {
		stages := make([]string, 0, len(report.SkippedByStage))
		for stage := range report.SkippedByStage {
			stages = append(stages, stage)
		}
		sort.Strings(stages)

		md.WriteString("## ⏭️ Skipped by Stage\n\n")
		md.WriteString("| Stage | Count |\n")
		md.WriteString("|-------|-------|\n")
		for _, stage := range stages {
			md.WriteString(fmt.Sprintf("| %s | %d |\n", stage, report.SkippedByStage[stage]))
		}
		md.WriteString("\n")
	}

	if len(report.TopErrors) > 0 {
		md.WriteString("## ⚠️ Top Errors\n\n")
		md.WriteString("| Count | Error |\n")
		md.WriteString("|-------|-------|\n")
		for _, err := range report.TopErrors {
			md.WriteString(fmt.Sprintf("| %d | %s |\n", err.Count, err.Error))
		}
		md.WriteString("\n")
	}

	if len(report.SkippedItems) > 0 {
		md.WriteString("## 🚨 Skipped Items\n\n")
		md.WriteString("| Stage | Workout | Item |\n")
		md.WriteString("|-------|---------|------|\n")
		for _, it := range report.SkippedItems {
			md.WriteString(fmt.Sprintf("| %s | %s | `%s` |\n", it.Stage, it.WorkoutUUID, truncatePath(it.Item, 60)))
		}
		md.WriteString("\n")
	}

	md.WriteString("---\n\n")
	md.WriteString("*Generated by hcache*\n")

	return md.String()
}

// truncatePath truncates a file path to a maximum length
func truncatePath(path string, maxLen int) string {
	if len(path) <= maxLen {
		return path
	}
	// Truncate from the middle, keeping start and end
	start := maxLen/2 - 2
	end := len(path) - (maxLen/2 - 2)
	return path[:start] + "..." + path[end:]
}
