package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/franz/health-cache/internal/util"
	"github.com/spf13/viper"
)

func TestResolveSettings(t *testing.T) {
	tests := []struct {
		name       string
		values     map[string]any
		needExport bool
		wantErr    bool
		wantName   string
		wantDB     string
	}{
		{
			name:       "defaults from export",
			values:     map[string]any{"export": "/data/apple_health_export/"},
			needExport: true,
			wantName:   "apple_health_export",
			wantDB:     filepath.Join("cache", "apple_health_export", "index.db"),
		},
		{
			name:       "explicit name and db",
			values:     map[string]any{"export": "/data/x", "name": "mine", "cache": "/tmp/c", "db": "/tmp/i.db"},
			needExport: true,
			wantName:   "mine",
			wantDB:     "/tmp/i.db",
		},
		{
			name:       "name without export",
			values:     map[string]any{"name": "mine"},
			needExport: false,
			wantName:   "mine",
			wantDB:     filepath.Join("cache", "mine", "index.db"),
		},
		{
			name:       "missing export",
			values:     map[string]any{},
			needExport: true,
			wantErr:    true,
		},
		{
			name:       "no name at all",
			values:     map[string]any{},
			needExport: false,
			wantErr:    true,
		},
		{
			name:       "negative concurrency",
			values:     map[string]any{"export": "/data/x", "concurrency": -1},
			needExport: true,
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			viper.Reset()
			t.Cleanup(viper.Reset)
			for k, v := range tt.values {
				viper.Set(k, v)
			}

			s, err := resolveSettings(tt.needExport)
			if tt.wantErr {
				if !errors.Is(err, util.ErrInvalidConfig) {
					t.Fatalf("expected ErrInvalidConfig, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if s.Name != tt.wantName {
				t.Errorf("Name = %q, want %q", s.Name, tt.wantName)
			}
			if s.DBPath != tt.wantDB {
				t.Errorf("DBPath = %q, want %q", s.DBPath, tt.wantDB)
			}
			if s.Concurrency != 4 {
				t.Errorf("Concurrency = %d, want default 4", s.Concurrency)
			}
		})
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, 0},
		{fmt.Errorf("3 items: %w", util.ErrItemsSkipped), 2},
		{errors.New("load failed"), 1},
		{&util.NotFoundError{Path: "export.xml"}, 1},
	}

	for _, tt := range tests {
		if got := exitCode(tt.err); got != tt.want {
			t.Errorf("exitCode(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
