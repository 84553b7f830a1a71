package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/opendrakan/statesync/internal/dispatcher"
	"github.com/opendrakan/statesync/pkg/core"
)

func parseEntry(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var logEntry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
		t.Fatalf("failed to parse log output: %v", err)
	}
	return logEntry
}

func TestDispatcherLogger_Levels(t *testing.T) {
	tests := []struct {
		level string
		log   func(dl *DispatcherLogger, msg string, kv ...any)
	}{
		{"debug", (*DispatcherLogger).Debug},
		{"info", (*DispatcherLogger).Info},
		{"error", (*DispatcherLogger).Error},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			dl := NewDispatcherLogger(zerolog.New(&buf).Level(zerolog.DebugLevel))

			tt.log(dl, "test message", "channel", 7, "listeners", 2)

			logEntry := parseEntry(t, &buf)
			if logEntry["level"] != tt.level {
				t.Errorf("expected level %q, got %v", tt.level, logEntry["level"])
			}
			if logEntry["message"] != "test message" {
				t.Errorf("expected message 'test message', got %v", logEntry["message"])
			}
			// JSON numbers decode as float64
			if logEntry["channel"] != float64(7) {
				t.Errorf("expected channel=7, got %v", logEntry["channel"])
			}
			if logEntry["listeners"] != float64(2) {
				t.Errorf("expected listeners=2, got %v", logEntry["listeners"])
			}
		})
	}
}

func TestDispatcherLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	dl := NewDispatcherLogger(zerolog.New(&buf).Level(zerolog.InfoLevel))

	dl.Debug("hidden")
	if buf.Len() != 0 {
		t.Errorf("expected debug to be filtered, got %q", buf.String())
	}
}

func TestDispatcherLogger_OddKeyValues(t *testing.T) {
	var buf bytes.Buffer
	dl := NewDispatcherLogger(zerolog.New(&buf))

	dl.Info("simple message", "key", "value", "dangling", 3, "x")

	logEntry := parseEntry(t, &buf)
	assert.Equal(t, "value", logEntry["key"])
	assert.Equal(t, float64(3), logEntry["dangling"])
	assert.Equal(t, "x", logEntry[badKey])
	assert.NotContains(t, logEntry, "x")
}

func TestDispatcherLogger_TypedFields(t *testing.T) {
	var buf bytes.Buffer
	dl := NewDispatcherLogger(zerolog.New(&buf))

	dl.Error("delivery failed",
		"tick", core.TickNumber(12),
		"client", core.ClientId(3),
		"channel", core.MessageChannelCode(9),
		"error", errors.New("listener panicked"),
		42, "non-string key",
	)

	logEntry := parseEntry(t, &buf)
	assert.Equal(t, float64(12), logEntry["tick"])
	assert.Equal(t, float64(3), logEntry["client"])
	assert.Equal(t, float64(9), logEntry["channel"])
	assert.Equal(t, "listener panicked", logEntry["error"])
	assert.Equal(t, "non-string key", logEntry["42"])
}

func TestDispatcherLogger_ImplementsInterface(t *testing.T) {
	var _ dispatcher.Logger = NewDispatcherLogger(zerolog.Nop())
}
