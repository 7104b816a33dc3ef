package main

import (
	"fmt"
	"path/filepath"

	"github.com/franz/health-cache/internal/util"
	"github.com/spf13/viper"
)

// GetConfigString retrieves a string config value with proper precedence:
// 1. Command-line flag (if set)
// 2. Environment variable (HCACHE_*)
// 3. Config file
// 4. Default value
func GetConfigString(key string, defaultValue string) string {
	val := viper.GetString(key)
	if val == "" {
		return defaultValue
	}
	return val
}

// GetConfigInt retrieves an int config value with proper precedence
func GetConfigInt(key string, defaultValue int) int {
	val := viper.GetInt(key)
	if val == 0 {
		return defaultValue
	}
	return val
}

// GetConfigBool retrieves a bool config value
func GetConfigBool(key string) bool {
	return viper.GetBool(key)
}

// settings is the resolved configuration shared by the commands
type settings struct {
	ExportDir   string
	CacheRoot   string
	Name        string
	CacheDir    string // CacheRoot/Name
	DBPath      string
	EventsDir   string
	Concurrency int
	StableIDs   bool
	Verbose     bool
	Quiet       bool
}

// resolveSettings reads the configuration. needExport makes a missing
// export directory an error; without it the cache name must be derivable
// from --name or --export.
func resolveSettings(needExport bool) (*settings, error) {
	s := &settings{
		ExportDir:   GetConfigString("export", ""),
		CacheRoot:   GetConfigString("cache", "cache"),
		Name:        GetConfigString("name", ""),
		DBPath:      GetConfigString("db", ""),
		EventsDir:   GetConfigString("events", "artifacts"),
		Concurrency: GetConfigInt("concurrency", 4),
		StableIDs:   GetConfigBool("stable_ids"),
		Verbose:     GetConfigBool("verbose"),
		Quiet:       GetConfigBool("quiet"),
	}

	if s.ExportDir == "" && needExport {
		return nil, fmt.Errorf("%w: export directory is required (use --export or config)", util.ErrInvalidConfig)
	}
	if s.Concurrency < 0 {
		return nil, fmt.Errorf("%w: concurrency must be positive, got %d", util.ErrInvalidConfig, s.Concurrency)
	}

	if s.Name == "" && s.ExportDir != "" {
		s.Name = filepath.Base(filepath.Clean(s.ExportDir))
	}
	if s.Name == "" {
		return nil, fmt.Errorf("%w: cache name is required (use --name or --export)", util.ErrInvalidConfig)
	}

	s.CacheDir = filepath.Join(s.CacheRoot, s.Name)
	if s.DBPath == "" {
		s.DBPath = filepath.Join(s.CacheDir, "index.db")
	}
	return s, nil
}

// applyLogging sets the console log level from the settings
func (s *settings) applyLogging() {
	util.SetVerbose(s.Verbose)
	util.SetQuiet(s.Quiet)
}
