package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/franz/health-cache/internal/cache"
	"github.com/franz/health-cache/internal/store"
	"github.com/franz/health-cache/internal/table"
	"github.com/franz/health-cache/internal/util"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the cache tables recorded in the index",
	Long: `Display the tables written by a run.

By default the tables of the latest run are listed with their row and
column counts, size and content hash. With --table the rows of one table
are printed instead:

  hcache show --table workouts --head 5
  hcache show --table records --item HKQuantityTypeIdentifierStepCount

Use --verify to compare the files on disk against the recorded hashes.`,
	RunE: runShow,
}

func init() {
	rootCmd.AddCommand(showCmd)

	// Show-specific flags
	showCmd.Flags().String("format", "table", "Output format: table, json or yaml")
	showCmd.Flags().Int64("run", 0, "Run ID to show (default: latest run)")
	showCmd.Flags().Bool("all", false, "Show every table in the index, not only those of one run")
	showCmd.Flags().Bool("runs", false, "List recorded runs instead of tables")
	showCmd.Flags().Bool("verify", false, "Recompute content hashes of the listed tables")
	showCmd.Flags().String("table", "", "Print the rows of this table")
	showCmd.Flags().String("item", "", "Item of a per-item table (record type, workout uuid, recording)")
	showCmd.Flags().Int("head", 10, "Rows to print with --table (0 = all)")
}

// tableView is one listed table
type tableView struct {
	Name      string    `json:"name" yaml:"name"`
	Item      string    `json:"item,omitempty" yaml:"item,omitempty"`
	Path      string    `json:"path" yaml:"path"`
	Rows      int       `json:"rows" yaml:"rows"`
	Columns   int       `json:"columns" yaml:"columns"`
	Bytes     int64     `json:"bytes" yaml:"bytes"`
	SHA1      string    `json:"sha1" yaml:"sha1"`
	RunID     int64     `json:"run_id" yaml:"run_id"`
	WrittenAt time.Time `json:"written_at" yaml:"written_at"`
	Verified  string    `json:"verified,omitempty" yaml:"verified,omitempty"`
}

// runView is one listed run
type runView struct {
	ID          int64     `json:"id" yaml:"id"`
	Kind        string    `json:"kind" yaml:"kind"`
	Status      string    `json:"status" yaml:"status"`
	ExportPath  string    `json:"export_path" yaml:"export_path"`
	StartedAt   time.Time `json:"started_at" yaml:"started_at"`
	Workouts    int       `json:"workouts,omitempty" yaml:"workouts,omitempty"`
	RecordTypes int       `json:"record_types,omitempty" yaml:"record_types,omitempty"`
	Skipped     int       `json:"skipped" yaml:"skipped"`
	Error       string    `json:"error,omitempty" yaml:"error,omitempty"`
}

func runShow(cmd *cobra.Command, args []string) error {
	s, err := resolveSettings(false)
	if err != nil {
		return err
	}
	s.applyLogging()

	format, _ := cmd.Flags().GetString("format")
	runID, _ := cmd.Flags().GetInt64("run")
	all, _ := cmd.Flags().GetBool("all")
	listRuns, _ := cmd.Flags().GetBool("runs")
	verify, _ := cmd.Flags().GetBool("verify")
	tableName, _ := cmd.Flags().GetString("table")
	item, _ := cmd.Flags().GetString("item")
	head, _ := cmd.Flags().GetInt("head")

	switch format {
	case "table", "json", "yaml":
	default:
		return fmt.Errorf("%w: unknown format %q", util.ErrInvalidConfig, format)
	}

	if tableName != "" {
		return showTableRows(os.Stdout, s.CacheDir, tableName, item, head)
	}

	if _, err := os.Stat(s.DBPath); err != nil {
		return fmt.Errorf("no cache index at %s (run 'hcache load' first): %w", s.DBPath, err)
	}

	db, err := store.Open(s.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open index: %w", err)
	}
	defer db.Close()

	if listRuns {
		runs, err := db.ListRuns(50)
		if err != nil {
			return fmt.Errorf("failed to list runs: %w", err)
		}
		return printRuns(os.Stdout, format, runs)
	}

	var entries []*store.TableEntry
	if all {
		entries, err = db.GetAllTables()
	} else {
		if runID == 0 {
			run, lerr := db.LatestRun("")
			if lerr != nil {
				return fmt.Errorf("failed to get latest run: %w", lerr)
			}
			if run == nil {
				util.WarnLog("No runs found. Run 'hcache load' first.")
				return nil
			}
			runID = run.ID
		}
		entries, err = db.GetTablesForRun(runID)
	}
	if err != nil {
		return fmt.Errorf("failed to get tables: %w", err)
	}

	osFs := afero.NewOsFs()
	views := make([]tableView, 0, len(entries))
	for _, e := range entries {
		v := tableView{
			Name:      e.Name,
			Item:      e.ItemID,
			Path:      e.Path,
			Rows:      e.Rows,
			Columns:   e.Columns,
			Bytes:     e.Bytes,
			SHA1:      e.SHA1,
			RunID:     e.RunID,
			WrittenAt: e.WrittenAt,
		}
		if verify {
			v.Verified = verifyTable(osFs, e)
		}
		views = append(views, v)
	}

	if err := printTables(os.Stdout, format, views); err != nil {
		return err
	}

	if verify {
		bad := 0
		for _, v := range views {
			if v.Verified != "ok" {
				bad++
			}
		}
		if bad > 0 {
			return fmt.Errorf("%d of %d tables do not match the index", bad, len(views))
		}
		util.SuccessLog("All %d tables match the index", len(views))
	}
	return nil
}

// verifyTable returns "ok", "missing" or "changed"
func verifyTable(fsys afero.Fs, e *store.TableEntry) string {
	sum, err := util.FileHash(fsys, e.Path)
	if err != nil {
		return "missing"
	}
	if sum != e.SHA1 {
		return "changed"
	}
	return "ok"
}

func printTables(w io.Writer, format string, views []tableView) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(views)
	case "yaml":
		return yaml.NewEncoder(w).Encode(views)
	}

	if len(views) == 0 {
		util.InfoLog("No tables recorded")
		return nil
	}

	nameWidth := (util.GetTerminalWidth() - 40) / 2
	if nameWidth < 16 {
		nameWidth = 16
	}

	var total int64
	fmt.Fprintf(w, "%-*s %-*s %8s %5s %10s\n", nameWidth, "TABLE", nameWidth, "ITEM", "ROWS", "COLS", "SIZE")
	for _, v := range views {
		fmt.Fprintf(w, "%-*s %-*s %8d %5d %10s", nameWidth, truncate(v.Name, nameWidth), nameWidth, truncate(v.Item, nameWidth),
			v.Rows, v.Columns, util.FormatBytes(v.Bytes))
		if v.Verified != "" {
			fmt.Fprintf(w, "  %s", v.Verified)
		}
		fmt.Fprintln(w)
		total += v.Bytes
	}
	fmt.Fprintf(w, "\n%d tables, %s\n", len(views), util.FormatBytes(total))
	return nil
}

func printRuns(w io.Writer, format string, runs []*store.Run) error {
	views := make([]runView, 0, len(runs))
	for _, r := range runs {
		views = append(views, runView{
			ID:          r.ID,
			Kind:        r.Kind,
			Status:      r.Status,
			ExportPath:  r.ExportPath,
			StartedAt:   r.StartedAt,
			Workouts:    r.Workouts,
			RecordTypes: r.RecordTypes,
			Skipped:     r.Skipped,
			Error:       r.Error,
		})
	}

	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(views)
	case "yaml":
		return yaml.NewEncoder(w).Encode(views)
	}

	fmt.Fprintf(w, "%5s %-5s %-8s %-19s %8s  %s\n", "ID", "KIND", "STATUS", "STARTED", "SKIPPED", "EXPORT")
	for _, v := range views {
		fmt.Fprintf(w, "%5d %-5s %-8s %-19s %8d  %s\n", v.ID, v.Kind, v.Status,
			v.StartedAt.Local().Format(cache.TimestampLayout), v.Skipped, v.ExportPath)
	}
	return nil
}

// showTableRows prints the first head rows of a cache table
func showTableRows(w io.Writer, cacheDir, name, item string, head int) error {
	c := cache.New(&cache.Config{Root: cacheDir})
	path := c.Path(name)
	if item != "" {
		path = c.ItemPath(name, item)
	}

	f, err := c.Fs().Open(path)
	if err != nil {
		return &util.NotFoundError{Path: path, Err: err}
	}
	defer f.Close()

	t, err := table.ReadCSV(f, name)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	fmt.Fprintln(w, strings.Join(t.Columns(), " | "))
	n := t.Len()
	if head > 0 && head < n {
		n = head
	}
	for r := 0; r < n; r++ {
		fields := t.Row(r)
		cells := make([]string, len(fields))
		for i, fld := range fields {
			cells[i] = fld.Value
		}
		fmt.Fprintln(w, strings.Join(cells, " | "))
	}
	if n < t.Len() {
		fmt.Fprintf(w, "... %d more rows\n", t.Len()-n)
	}
	return nil
}

func truncate(s string, width int) string {
	if len(s) <= width {
		return s
	}
	if width <= 3 {
		return s[:width]
	}
	return s[:width-3] + "..."
}
