package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/franz/health-cache/internal/cache"
	"github.com/franz/health-cache/internal/ecg"
	"github.com/franz/health-cache/internal/gpx"
	"github.com/franz/health-cache/internal/pipeline"
	"github.com/franz/health-cache/internal/store"
	"github.com/franz/health-cache/internal/util"
	"github.com/spf13/cobra"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks on the export and the cache",
	Long: `Run diagnostic checks to ensure hcache can operate correctly.

This command checks:
- Export directory and its export.xml
- Optional workout-routes/ and electrocardiograms/ directories
- Cache directory permissions
- Index database accessibility and integrity
- Time of the last cache update
- SQLite version
- Disk space availability

Use this command to troubleshoot issues before running hcache load.`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

type checkResult struct {
	name    string
	message string
	error   bool
	warning bool
}

func pass(name, format string, args ...any) checkResult {
	return checkResult{name: name, message: fmt.Sprintf(format, args...)}
}

func warn(name, format string, args ...any) checkResult {
	return checkResult{name: name, message: fmt.Sprintf(format, args...), warning: true}
}

func fail(name, format string, args ...any) checkResult {
	return checkResult{name: name, message: fmt.Sprintf(format, args...), error: true}
}

// symbol marks a result in the printed list
func (r checkResult) symbol() string {
	switch {
	case r.error:
		return "✗"
	case r.warning:
		return "⚠"
	default:
		return "✓"
	}
}

// printResults logs every result and reports whether any failed or warned
func printResults(results []checkResult) (failed, warned bool) {
	for _, r := range results {
		line := fmt.Sprintf("[%s] %s", r.symbol(), r.name)
		if r.message != "" {
			line += ": " + r.message
		}

		switch {
		case r.error:
			failed = true
			util.ErrorLog("%s", line)
		case r.warning:
			warned = true
			util.WarnLog("%s", line)
		default:
			util.SuccessLog("%s", line)
		}
	}
	return failed, warned
}

func runDoctor(cmd *cobra.Command, args []string) error {
	s, err := resolveSettings(false)
	if err != nil {
		return err
	}
	s.applyLogging()

	util.InfoLog("=== Health Cache Doctor - System Diagnostics ===")
	util.InfoLog("")

	results := []checkResult{}

	// 1. Export
	if s.ExportDir != "" {
		results = append(results, checkExportDirectory(s.ExportDir))
		results = append(results, checkDocument(s.ExportDir))
		results = append(results, checkOptionalDirectory(filepath.Join(s.ExportDir, gpx.DirName), "Routes"))
		results = append(results, checkOptionalDirectory(filepath.Join(s.ExportDir, ecg.DirName), "ECG recordings"))
	}

	// 2. Cache
	results = append(results, checkCacheDirectory(s.CacheDir))
	results = append(results, checkLastUpdate(s.CacheDir))

	// 3. SQLite and index
	results = append(results, checkSQLite())
	results = append(results, checkDatabase(s.DBPath))

	// 4. Disk space
	results = append(results, checkDiskSpace(s.CacheRoot, "cache"))

	// Print results
	util.InfoLog("")
	util.InfoLog("=== Diagnostic Results ===")
	util.InfoLog("")

	hasErrors, hasWarnings := printResults(results)

	// Summary
	util.InfoLog("")
	if hasErrors {
		util.ErrorLog("❌ Some critical checks failed. Please resolve errors before running hcache.")
		return fmt.Errorf("system diagnostics failed")
	} else if hasWarnings {
		util.WarnLog("⚠️  Some checks produced warnings. Review them before proceeding.")
	} else {
		util.SuccessLog("✅ All checks passed! Ready to load the export.")
	}

	return nil
}

// checkExportDirectory verifies the export directory is readable
func checkExportDirectory(path string) checkResult {
	info, err := os.Stat(path)
	if err != nil {
		return fail("Export directory", "cannot access %s: %v", path, err)
	}

	if !info.IsDir() {
		return fail("Export directory", "%s is not a directory", path)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return fail("Export directory", "cannot read %s: %v", path, err)
	}

	return pass("Export directory", "%s (%d entries)", path, len(entries))
}

// checkDocument verifies export.xml (or Export.xml) exists
func checkDocument(exportDir string) checkResult {
	path := pipeline.DocumentPath(exportDir)
	info, err := os.Stat(path)
	if err != nil {
		return fail("Export document", "%s not found", path)
	}

	if !info.Mode().IsRegular() {
		return fail("Export document", "%s is not a regular file", path)
	}

	return pass("Export document", "%s (%s)", filepath.Base(path), util.FormatBytes(info.Size()))
}

// checkOptionalDirectory reports the file count of a directory that an
// export may or may not carry
func checkOptionalDirectory(path, label string) checkResult {
	entries, err := os.ReadDir(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return warn(label, "%s not found", path)
		}
		return fail(label, "cannot read %s: %v", path, err)
	}

	return pass(label, "%s (%d files)", path, len(entries))
}

// checkCacheDirectory verifies the cache directory is writable
func checkCacheDirectory(path string) checkResult {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := os.MkdirAll(path, 0755); err != nil {
				return fail("Cache directory", "cannot create %s: %v", path, err)
			}
			return pass("Cache directory", "%s (created)", path)
		}
		return fail("Cache directory", "cannot access %s: %v", path, err)
	}

	if !info.IsDir() {
		return fail("Cache directory", "%s is not a directory", path)
	}

	// Check write permission by creating a temp file
	testFile := filepath.Join(path, ".hcache_write_test")
	f, err := os.Create(testFile)
	if err != nil {
		return fail("Cache directory", "cannot write to %s: %v", path, err)
	}
	f.Close()
	os.Remove(testFile)

	return pass("Cache directory", "%s (writable)", path)
}

// checkLastUpdate reads cache.json
func checkLastUpdate(cacheDir string) checkResult {
	ts, err := cache.New(&cache.Config{Root: cacheDir}).ReadTimestamp()
	if err != nil {
		if errors.Is(err, util.ErrNotFound) {
			return pass("Last update", "never (cache not loaded yet)")
		}
		return warn("Last update", "unreadable %s: %v", cache.TimestampFile, err)
	}

	return pass("Last update", "%s (%s)", ts.Format(cache.TimestampLayout), humanize.RelTime(ts, time.Now(), "ago", "from now"))
}

// checkSQLite verifies SQLite version
func checkSQLite() checkResult {
	// modernc.org/sqlite is linked in, no external library needed
	version := store.SQLiteVersion()
	if version == "" {
		return fail("SQLite", "unable to determine version")
	}

	return pass("SQLite", "version %s (built-in)", version)
}

// checkDatabase verifies the index file accessibility
func checkDatabase(dbPath string) checkResult {
	if dbPath == "" {
		return warn("Index", "no index path specified (use --db flag or config)")
	}

	info, err := os.Stat(dbPath)
	if err != nil {
		if os.IsNotExist(err) {
			return pass("Index", "%s (will be created on first run)", dbPath)
		}
		return fail("Index", "cannot access %s: %v", dbPath, err)
	}

	if !info.Mode().IsRegular() {
		return fail("Index", "%s is not a regular file", dbPath)
	}

	db, err := store.Open(dbPath)
	if err != nil {
		return fail("Index", "cannot open %s: %v", dbPath, err)
	}
	defer db.Close()

	if err := db.CheckIntegrity(); err != nil {
		return fail("Index", "integrity check failed: %v", err)
	}

	runs, _ := db.ListRuns(1)
	size := util.FormatBytes(info.Size())
	if len(runs) == 0 {
		return pass("Index", "%s (%s, no runs)", dbPath, size)
	}

	last := runs[0]
	result := pass("Index", "%s (%s, last run #%d %s %s)", dbPath, size, last.ID, last.Kind, last.Status)
	result.warning = last.Status == store.RunFailed
	return result
}

// checkDiskSpace verifies available disk space. The path may not exist
// yet; its nearest existing parent is checked instead.
func checkDiskSpace(path string, label string) checkResult {
	for {
		if _, err := os.Stat(path); err == nil {
			break
		}
		parent := filepath.Dir(path)
		if parent == path {
			break
		}
		path = parent
	}

	name := fmt.Sprintf("Disk space (%s)", label)

	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return warn(name, "cannot determine disk space: %v", err)
	}

	avail := stat.Bavail * uint64(stat.Bsize)
	total := stat.Blocks * uint64(stat.Bsize)
	used := total - stat.Bfree*uint64(stat.Bsize)

	// Warn below 1 GB free or above 90% used
	switch {
	case avail < 1<<30:
		return warn(name, "%s available (low space!)", humanize.Bytes(avail))
	case total > 0 && used*10 > total*9:
		return warn(name, "%s available (>90%% used)", humanize.Bytes(avail))
	}
	return pass(name, "%s available", humanize.Bytes(avail))
}
