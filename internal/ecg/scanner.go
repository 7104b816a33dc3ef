package ecg

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/franz/health-cache/internal/report"
	"github.com/franz/health-cache/internal/util"
)

// DirName is the export sub-directory holding ECG files.
const DirName = "electrocardiograms"

// Scanner parses every ECG file of a directory
type Scanner struct {
	concurrency int
	logger      *report.EventLogger
}

// Config holds scanner configuration
type Config struct {
	Concurrency int
	Logger      *report.EventLogger
}

// New creates a new Scanner
func New(cfg *Config) *Scanner {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Scanner{
		concurrency: cfg.Concurrency,
		logger:      cfg.Logger,
	}
}

// Result represents a scan result
type Result struct {
	Recordings []*Recording // sorted by name
	FilesFound int
	Skipped    int
	Errors     []error
}

// Scan parses the files in dir. A missing dir is a *util.NotFoundError;
// files that fail to parse are skipped and reported in Result.Errors.
func (s *Scanner) Scan(ctx context.Context, dir string) (*Result, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &util.NotFoundError{Path: dir, Err: err}
		}
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}

	result := &Result{FilesFound: len(paths)}
	util.InfoLog("Found %d ECG files in %s", len(paths), dir)
	if len(paths) == 0 {
		return result, nil
	}

	var (
		mu        sync.Mutex
		wg        sync.WaitGroup
		processed atomic.Int64
	)

	bar := util.NewProgressBar(len(paths), "ECG")
	jobs := make(chan string)

	for i := 0; i < s.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range jobs {
				rec, err := s.parseFile(path)
				processed.Add(1)
				util.ProgressAdd(bar)

				mu.Lock()
				if err != nil {
					result.Skipped++
					result.Errors = append(result.Errors, err)
				} else {
					result.Recordings = append(result.Recordings, rec)
				}
				mu.Unlock()
			}
		}()
	}

	var ctxErr error
feed:
	for _, p := range paths {
		select {
		case jobs <- p:
		case <-ctx.Done():
			ctxErr = ctx.Err()
			break feed
		}
	}
	close(jobs)
	wg.Wait()
	util.ProgressFinish(bar)

	sort.Slice(result.Recordings, func(i, j int) bool {
		return result.Recordings[i].Name < result.Recordings[j].Name
	})

	if ctxErr != nil {
		return result, ctxErr
	}

	util.DebugLog("Parsed %d/%d ECG files", processed.Load(), len(paths))
	return result, nil
}

func (s *Scanner) parseFile(path string) (*Recording, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		err = fmt.Errorf("read %s: %w", path, err)
		util.WarnLog("Skipping ECG %s: %v", filepath.Base(path), err)
		s.logger.LogSkip(report.EventECG, path, err)
		return nil, err
	}

	rec, err := ParseRecording(path, string(data))
	if err != nil {
		err = fmt.Errorf("%s: %w", path, err)
		util.WarnLog("Skipping ECG %s: %v", filepath.Base(path), err)
		s.logger.LogSkip(report.EventECG, path, err)
		return nil, err
	}

	s.logger.LogECG(path, rec.Name, len(rec.Samples))
	util.DebugLog("Parsed ECG %s (%d samples)", rec.Name, len(rec.Samples))
	return rec, nil
}
