package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/franz/health-cache/internal/util"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// Version is set at build time
	Version = "dev"

	cfgFile string

	rootCmd = &cobra.Command{
		Use:   "hcache",
		Short: "Health Cache - turn a health data export into flat CSV tables",
		Long: `hcache reads a health data export (export.xml with its workout-routes/
and electrocardiograms/ directories) and writes a directory of flat CSV
tables: one per record type, workouts with their events, statistics and
metadata entries, GPS routes and ECG recordings.

Every run is recorded in an index database and a JSONL event log.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./configs/hcache.yaml)")
	rootCmd.PersistentFlags().StringP("export", "e", "", "export directory holding export.xml")
	rootCmd.PersistentFlags().String("cache", "cache", "cache root directory")
	rootCmd.PersistentFlags().String("name", "", "cache sub-directory (default is the export directory name)")
	rootCmd.PersistentFlags().String("db", "", "index database (default is <cache>/<name>/index.db)")
	rootCmd.PersistentFlags().String("events", "artifacts", "event log directory")
	rootCmd.PersistentFlags().IntP("concurrency", "j", 4, "workers for workouts and ECG files")
	rootCmd.PersistentFlags().Bool("stable-ids", false, "derive workout ids from document position")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "quiet output (errors only)")
	rootCmd.PersistentFlags().Bool("no-color", false, "disable colored output")

	// Bind flags to viper
	viper.BindPFlag("export", rootCmd.PersistentFlags().Lookup("export"))
	viper.BindPFlag("cache", rootCmd.PersistentFlags().Lookup("cache"))
	viper.BindPFlag("name", rootCmd.PersistentFlags().Lookup("name"))
	viper.BindPFlag("db", rootCmd.PersistentFlags().Lookup("db"))
	viper.BindPFlag("events", rootCmd.PersistentFlags().Lookup("events"))
	viper.BindPFlag("concurrency", rootCmd.PersistentFlags().Lookup("concurrency"))
	viper.BindPFlag("stable_ids", rootCmd.PersistentFlags().Lookup("stable-ids"))
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))
	viper.BindPFlag("no_color", rootCmd.PersistentFlags().Lookup("no-color"))
}

func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(cfgFile)
	} else {
		// Search for config in common locations
		viper.AddConfigPath("./configs")
		viper.AddConfigPath(".")
		viper.SetConfigName("hcache")
		viper.SetConfigType("yaml")
	}

	// Read in environment variables that match (HCACHE_STABLE_IDS, ...)
	viper.SetEnvPrefix("HCACHE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	// If a config file is found, read it in
	err := viper.ReadInConfig()

	if viper.GetBool("no_color") {
		util.SetColors(false)
	}
	if err == nil && !viper.GetBool("quiet") {
		util.InfoLog("Using config file: %s", viper.ConfigFileUsed())
	}
}

// exitCode maps a command error to the process status: 2 when the run
// completed but skipped items, 1 for anything else.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, util.ErrItemsSkipped):
		return 2
	default:
		return 1
	}
}

func main() {
	err := rootCmd.Execute()
	if err != nil && !errors.Is(err, util.ErrItemsSkipped) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(exitCode(err))
}
