package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// EventType represents the type of event
type EventType string

const (
	EventLoad    EventType = "load"
	EventWorkout EventType = "workout"
	EventRoute   EventType = "route"
	EventRecord  EventType = "record"
	EventSummary EventType = "summary"
	EventECG     EventType = "ecg"
	EventWrite   EventType = "write"
	EventSkip    EventType = "skip"
	EventError   EventType = "error"
)

// EventLevel represents the severity level
type EventLevel string

const (
	LevelDebug   EventLevel = "debug"
	LevelInfo    EventLevel = "info"
	LevelWarning EventLevel = "warning"
	LevelError   EventLevel = "error"
)

// levelPriority maps event levels to numeric priorities for comparison
var levelPriority = map[EventLevel]int{
	LevelDebug:   0,
	LevelInfo:    1,
	LevelWarning: 2,
	LevelError:   3,
}

// Event represents a single event of a cache run
type Event struct {
	Timestamp   time.Time         `json:"ts"`
	Level       EventLevel        `json:"level"`
	Event       EventType         `json:"event"`
	Stage       EventType         `json:"stage,omitempty"` // for skip events: the stage that skipped
	WorkoutUUID string            `json:"workout_uuid,omitempty"`
	Table       string            `json:"table,omitempty"`
	Path        string            `json:"path,omitempty"`
	Rows        int               `json:"rows,omitempty"`
	Bytes       int64             `json:"bytes,omitempty"`
	Duration    int64             `json:"duration_ms,omitempty"`
	Error       string            `json:"error,omitempty"`
	Extra       map[string]string `json:"extra,omitempty"`
}

// EventLogger writes events to a JSONL file
type EventLogger struct {
	file     *os.File
	encoder  *json.Encoder
	mu       sync.Mutex
	path     string
	minLevel EventLevel
}

// NewEventLogger creates a new event logger with a minimum log level
// minLevel determines which events are written (e.g., LevelInfo skips LevelDebug)
func NewEventLogger(outputDir string, minLevel EventLevel) (*EventLogger, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	timestamp := time.Now().Format("20060102-150405")
	path := filepath.Join(outputDir, fmt.Sprintf("events-%s.jsonl", timestamp))

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create event log: %w", err)
	}

	return &EventLogger{
		file:     file,
		encoder:  json.NewEncoder(file),
		path:     path,
		minLevel: minLevel,
	}, nil
}

// Log writes an event to the JSONL file
func (l *EventLogger) Log(event *Event) error {
	if l == nil || l.file == nil {
		return nil
	}

	if levelPriority[event.Level] < levelPriority[l.minLevel] {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if err := l.encoder.Encode(event); err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	return nil
}

// LogLoad logs the root document being loaded
func (l *EventLogger) LogLoad(path string, elements int, duration time.Duration) error {
	return l.Log(&Event{
		Level:    LevelInfo,
		Event:    EventLoad,
		Path:     path,
		Duration: duration.Milliseconds(),
		Extra: map[string]string{
			"elements": fmt.Sprintf("%d", elements),
		},
	})
}

// LogWorkout logs a normalized workout and its child counts
func (l *EventLogger) LogWorkout(workoutUUID, activityType string, events, statistics, entries, routes int) error {
	return l.Log(&Event{
		Level:       LevelDebug,
		Event:       EventWorkout,
		WorkoutUUID: workoutUUID,
		Extra: map[string]string{
			"activity_type": activityType,
			"events":        fmt.Sprintf("%d", events),
			"statistics":    fmt.Sprintf("%d", statistics),
			"entries":       fmt.Sprintf("%d", entries),
			"routes":        fmt.Sprintf("%d", routes),
		},
	})
}

// LogRoute logs a resolved route document
func (l *EventLogger) LogRoute(workoutUUID, path string, points, skipped int) error {
	level := LevelDebug
	if skipped > 0 {
		level = LevelWarning
	}
	return l.Log(&Event{
		Level:       level,
		Event:       EventRoute,
		WorkoutUUID: workoutUUID,
		Path:        path,
		Rows:        points,
		Extra: map[string]string{
			"skipped_points": fmt.Sprintf("%d", skipped),
		},
	})
}

// LogECG logs a parsed ECG recording
func (l *EventLogger) LogECG(path, name string, samples int) error {
	return l.Log(&Event{
		Level: LevelDebug,
		Event: EventECG,
		Path:  path,
		Rows:  samples,
		Extra: map[string]string{
			"name": name,
		},
	})
}

// LogWrite logs a cache table write
func (l *EventLogger) LogWrite(tableName, path string, rows int, bytes int64, err error) error {
	level := LevelDebug
	errMsg := ""
	if err != nil {
		level = LevelError
		errMsg = err.Error()
	}
	return l.Log(&Event{
		Level: level,
		Event: EventWrite,
		Table: tableName,
		Path:  path,
		Rows:  rows,
		Bytes: bytes,
		Error: errMsg,
	})
}

// LogSkip logs an item that was skipped by stage
func (l *EventLogger) LogSkip(stage EventType, item string, err error) error {
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	return l.Log(&Event{
		Level: LevelWarning,
		Event: EventSkip,
		Stage: stage,
		Path:  item,
		Error: errMsg,
	})
}

// LogWorkoutSkip logs an item of a workout that was skipped
func (l *EventLogger) LogWorkoutSkip(stage EventType, workoutUUID, item string, err error) error {
	return l.Log(&Event{
		Level:       LevelWarning,
		Event:       EventSkip,
		Stage:       stage,
		WorkoutUUID: workoutUUID,
		Path:        item,
		Error:       err.Error(),
	})
}

// LogError logs an error event
func (l *EventLogger) LogError(event EventType, path string, err error) error {
	return l.Log(&Event{
		Level: LevelError,
		Event: event,
		Path:  path,
		Error: err.Error(),
	})
}

// Close closes the event log file
func (l *EventLogger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return l.file.Close()
}

// Path returns the path to the event log file
func (l *EventLogger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// NullLogger returns a no-op event logger
func NullLogger() *EventLogger {
	return nil
}
