package logging

import (
	"context"
	"log/slog"
	"testing"
)

func TestNewHonorsLevel(t *testing.T) {
	cases := []struct {
		level   string
		enabled slog.Level
		muted   slog.Level
	}{
		{"debug", slog.LevelDebug, slog.LevelDebug - 4},
		{"warn", slog.LevelWarn, slog.LevelInfo},
		{"error", slog.LevelError, slog.LevelWarn},
		{"", slog.LevelInfo, slog.LevelDebug},
		{"bogus", slog.LevelInfo, slog.LevelDebug},
	}

	ctx := context.Background()
	for _, tc := range cases {
		logger := New(tc.level)
		if !logger.Enabled(ctx, tc.enabled) {
			t.Errorf("level %q: expected %s enabled", tc.level, tc.enabled)
		}
		if logger.Enabled(ctx, tc.muted) {
			t.Errorf("level %q: expected %s muted", tc.level, tc.muted)
		}
	}
}

func TestDefaultIsUsable(t *testing.T) {
	logger := Default()
	if logger.Logger == nil {
		t.Fatal("Default() returned a logger with nil slog backend")
	}
	logger.Info("smoke", "key", "value")

	if !logger.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("Default() should log at info")
	}
	if logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("Default() should not log at debug")
	}
}
