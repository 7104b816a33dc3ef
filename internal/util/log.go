package util

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
)

// LogLevel represents the severity of a console message
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// style is how one kind of message is printed
type style struct {
	level LogLevel
	tag   string
	color *color.Color
}

var (
	debugStyle   = style{LevelDebug, "[DEBUG]", color.New(color.FgHiBlack)}
	infoStyle    = style{LevelInfo, "[INFO] ", color.New(color.FgCyan)}
	warnStyle    = style{LevelWarn, "[WARN] ", color.New(color.FgYellow)}
	errorStyle   = style{LevelError, "[ERROR]", color.New(color.FgRed)}
	successStyle = style{LevelInfo, "[OK]   ", color.New(color.FgGreen)}
)

var (
	logMu           sync.Mutex
	logOutput       io.Writer = os.Stderr
	currentLogLevel           = LevelInfo
)

// SetOutput redirects console messages, stderr by default
func SetOutput(w io.Writer) {
	logMu.Lock()
	defer logMu.Unlock()
	logOutput = w
}

// SetVerbose enables verbose (debug) logging
func SetVerbose(verbose bool) {
	if verbose {
		currentLogLevel = LevelDebug
	}
}

// SetQuiet enables quiet mode (errors only)
func SetQuiet(quiet bool) {
	if quiet {
		currentLogLevel = LevelError
	}
}

// IsQuiet reports whether only errors are being logged
func IsQuiet() bool {
	return currentLogLevel >= LevelError
}

// SetColors enables or disables colored output
func SetColors(enabled bool) {
	color.NoColor = !enabled
}

// logf prints one line. Workers log concurrently, so lines are written
// whole under logMu.
func logf(s style, format string, args ...interface{}) {
	if currentLogLevel > s.level {
		return
	}
	line := fmt.Sprintf("%s %s %s\n", s.color.Sprint(time.Now().Format("15:04:05")), s.tag, fmt.Sprintf(format, args...))

	logMu.Lock()
	defer logMu.Unlock()
	io.WriteString(logOutput, line)
}

// DebugLog logs per-item detail (parsed ECG files, written tables)
func DebugLog(format string, args ...interface{}) { logf(debugStyle, format, args...) }

// InfoLog logs progress of a run
func InfoLog(format string, args ...interface{}) { logf(infoStyle, format, args...) }

// WarnLog logs skipped items
func WarnLog(format string, args ...interface{}) { logf(warnStyle, format, args...) }

// ErrorLog logs failures
func ErrorLog(format string, args ...interface{}) { logf(errorStyle, format, args...) }

// SuccessLog logs a completed stage (shown unless quiet)
func SuccessLog(format string, args ...interface{}) { logf(successStyle, format, args...) }
