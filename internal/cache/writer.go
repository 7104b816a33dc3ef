// Package cache writes derived tables as CSV files under a cache directory.
//
// Every file is written to "<path>.part" first and renamed over the target,
// so a reader never observes a half-written table.
package cache

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/text/unicode/norm"

	"github.com/franz/health-cache/internal/report"
	"github.com/franz/health-cache/internal/store"
	"github.com/franz/health-cache/internal/table"
	"github.com/franz/health-cache/internal/util"
)

// Per-item directories below the cache root
const (
	RecordsDir       = "records"
	StatisticsDir    = "workout_statistics"
	MetadataEntryDir = "workout_metadata_entry"
	RoutesDir        = "routes"
	ECGDir           = "electrocardiograms"
)

const (
	TimestampFile   = "cache.json"
	TimestampLayout = "2006-01-02 15:04:05"
	partSuffix      = ".part"
)

// ItemDirs lists every directory Scaffold creates
var ItemDirs = []string{RecordsDir, StatisticsDir, MetadataEntryDir, RoutesDir, ECGDir}

// loadDirs are the directories a full load rewrites from scratch
var loadDirs = []string{RecordsDir, StatisticsDir, MetadataEntryDir, RoutesDir}

// Index receives an entry for every table written
type Index interface {
	RecordTable(e *store.TableEntry) error
	DeleteItemTables(names ...string) error
}

// Writer writes tables below a cache root
type Writer struct {
	fs          afero.Fs
	root        string
	index       Index
	runID       int64
	retryConfig *util.RetryConfig
	logger      *report.EventLogger
}

// Config holds writer configuration
type Config struct {
	Root        string            // cache directory, e.g. cache/<name>
	Fs          afero.Fs          // nil = OS filesystem
	Index       Index             // nil = no index
	RunID       int64             // run recorded with each index entry
	RetryConfig *util.RetryConfig // nil = util.DefaultRetryConfig()
	Logger      *report.EventLogger
}

// New creates a new Writer
func New(cfg *Config) *Writer {
	if cfg.Fs == nil {
		cfg.Fs = afero.NewOsFs()
	}
	if cfg.RetryConfig == nil {
		cfg.RetryConfig = util.DefaultRetryConfig()
	}

	return &Writer{
		fs:          cfg.Fs,
		root:        cfg.Root,
		index:       cfg.Index,
		runID:       cfg.RunID,
		retryConfig: cfg.RetryConfig,
		logger:      cfg.Logger,
	}
}

// Root returns the cache directory
func (w *Writer) Root() string {
	return w.root
}

// Fs returns the filesystem the writer targets
func (w *Writer) Fs() afero.Fs {
	return w.fs
}

// Scaffold creates the cache root and its item directories. Existing
// directories and their files are left alone.
func (w *Writer) Scaffold() error {
	for _, dir := range append([]string{""}, ItemDirs...) {
		path := filepath.Join(w.root, dir)
		err := util.Retry(w.retryConfig, func() error {
			return w.fs.MkdirAll(path, 0755)
		}, "mkdir "+path)
		if err != nil {
			return &util.WriteError{Path: path, Err: err}
		}
	}
	return nil
}

// Path returns the file a combined table is written to
func (w *Writer) Path(name string) string {
	return filepath.Join(w.root, SafeName(name)+".csv")
}

// ItemPath returns the file a per-item table is written to
func (w *Writer) ItemPath(dir, id string) string {
	return filepath.Join(w.root, dir, SafeName(id)+".csv")
}

// Write stores a combined table as <root>/<name>.csv
func (w *Writer) Write(name string, t *table.Table) (string, error) {
	path := w.Path(name)
	return path, w.writeTable(name, "", path, t)
}

// WriteItem stores a per-item table as <root>/<dir>/<id>.csv
func (w *Writer) WriteItem(dir, id string, t *table.Table) (string, error) {
	path := w.ItemPath(dir, id)
	return path, w.writeTable(dir, id, path, t)
}

func (w *Writer) writeTable(name, item, path string, t *table.Table) error {
	var buf bytes.Buffer
	if err := t.WriteCSV(&buf); err != nil {
		werr := &util.WriteError{Table: tableLabel(name, item), Path: path, Err: err}
		w.logger.LogWrite(name, path, t.Len(), 0, werr)
		return werr
	}
	data := buf.Bytes()

	if err := w.writeFile(path, data); err != nil {
		werr := &util.WriteError{Table: tableLabel(name, item), Path: path, Err: err}
		w.logger.LogWrite(name, path, t.Len(), 0, werr)
		return werr
	}

	w.logger.LogWrite(name, path, t.Len(), int64(len(data)), nil)

	if w.index != nil {
		entry := &store.TableEntry{
			Name:    name,
			ItemID:  item,
			Path:    path,
			Rows:    t.Len(),
			Columns: len(t.Columns()),
			Bytes:   int64(len(data)),
			SHA1:    util.ContentHash(data),
			RunID:   w.runID,
		}
		if err := w.index.RecordTable(entry); err != nil {
			util.WarnLog("Failed to index %s: %v", path, err)
		}
	}

	util.DebugLog("Wrote %s (%d rows, %s)", path, t.Len(), util.FormatBytes(int64(len(data))))
	return nil
}

// writeFile writes data to path through a .part file and a rename
func (w *Writer) writeFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := util.Retry(w.retryConfig, func() error {
		return w.fs.MkdirAll(dir, 0755)
	}, "mkdir "+dir); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tempPath := path + partSuffix
	err := util.Retry(w.retryConfig, func() error {
		return afero.WriteFile(w.fs, tempPath, data, 0644)
	}, "write "+tempPath)
	if err != nil {
		w.fs.Remove(tempPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	err = util.Retry(w.retryConfig, func() error {
		return w.fs.Rename(tempPath, path)
	}, "rename "+tempPath)
	if err != nil {
		w.fs.Remove(tempPath)
		return fmt.Errorf("failed to rename: %w", err)
	}

	return nil
}

type timestamp struct {
	LastUpdated string `json:"last_updated"`
}

// TouchTimestamp overwrites cache.json with now
func (w *Writer) TouchTimestamp(now time.Time) error {
	data, err := json.Marshal(timestamp{LastUpdated: now.Format(TimestampLayout)})
	if err != nil {
		return err
	}

	path := filepath.Join(w.root, TimestampFile)
	if err := w.writeFile(path, data); err != nil {
		return &util.WriteError{Table: TimestampFile, Path: path, Err: err}
	}
	return nil
}

// ReadTimestamp returns the last_updated time of cache.json
func (w *Writer) ReadTimestamp() (time.Time, error) {
	path := filepath.Join(w.root, TimestampFile)
	data, err := afero.ReadFile(w.fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return time.Time{}, &util.NotFoundError{Path: path, Err: err}
		}
		return time.Time{}, err
	}

	var ts timestamp
	if err := json.Unmarshal(data, &ts); err != nil {
		return time.Time{}, &util.ParseError{Path: path, Field: "last_updated", Err: err}
	}
	t, err := time.ParseInLocation(TimestampLayout, ts.LastUpdated, time.Local)
	if err != nil {
		return time.Time{}, &util.ParseError{Path: path, Field: "last_updated", Err: err}
	}
	return t, nil
}

// ClearItems empties the directories a full load rewrites
func (w *Writer) ClearItems() error {
	return w.ClearDirs(loadDirs...)
}

// ClearDirs empties the given item directories and drops their index entries
func (w *Writer) ClearDirs(dirs ...string) error {
	for _, dir := range dirs {
		path := filepath.Join(w.root, dir)
		if err := w.fs.RemoveAll(path); err != nil {
			return &util.WriteError{Table: dir, Path: path, Err: err}
		}
		if err := w.fs.MkdirAll(path, 0755); err != nil {
			return &util.WriteError{Table: dir, Path: path, Err: err}
		}
	}

	if w.index != nil {
		if err := w.index.DeleteItemTables(dirs...); err != nil {
			util.WarnLog("Failed to clear index entries: %v", err)
		}
	}
	return nil
}

// SafeName turns a table or item name into a single path element:
// NFC-normalized with separators replaced.
func SafeName(name string) string {
	name = norm.NFC.String(strings.TrimSpace(name))
	name = strings.NewReplacer("/", "_", "\\", "_", "\x00", "").Replace(name)
	switch name {
	case "":
		return "unnamed"
	case ".", "..":
		return strings.Repeat("_", len(name))
	}
	return name
}

func tableLabel(name, item string) string {
	if item == "" {
		return name
	}
	return name + "/" + item
}
