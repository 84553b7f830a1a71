package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"github.com/opendrakan/statesync/pkg/core"
)

func newManager(console *bytes.Buffer) *SlogManager {
	m := NewSlogManager("test")
	m.console = console
	return m
}

func TestSetup_Output(t *testing.T) {
	t.Run("file", func(t *testing.T) {
		var console, file bytes.Buffer
		m := newManager(&console)
		m.Setup(&file, "info", nil)
		m.Logger().Info("to file")

		assert.Contains(t, file.String(), "to file")
		assert.Empty(t, console.String())
	})
	t.Run("console", func(t *testing.T) {
		var console bytes.Buffer
		m := newManager(&console)
		m.Setup(nil, "info", nil)
		m.Logger().Info("to console")

		assert.Contains(t, console.String(), "to console")
	})
}

func TestSetup_ReplacesLogger(t *testing.T) {
	var first, second bytes.Buffer
	m := newManager(&bytes.Buffer{})

	m.Setup(&first, "info", nil)
	m.Logger().Info("one")
	m.Setup(&second, "info", nil)
	m.Logger().Info("two")

	assert.NotContains(t, first.String(), "two")
	assert.Contains(t, second.String(), "two")
}

func TestSetLevel(t *testing.T) {
	var buf bytes.Buffer
	m := newManager(&buf)
	m.Setup(&buf, "info", nil)

	m.Logger().Debug("hidden")
	m.SetLevel("debug")
	m.Logger().Debug("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestSetup_ContextProvider(t *testing.T) {
	var buf bytes.Buffer
	tick := core.TickNumber(41)
	m := newManager(&buf)
	m.SetContextProvider(func() []slog.Attr {
		tick++
		return []slog.Attr{slog.Int64("tick", int64(tick))}
	})
	m.Setup(&buf, "info", nil)

	// Setup's own record consumed tick 42
	m.Logger().InfoContext(WithClient(context.Background(), 7), "stepped")
	assert.Contains(t, buf.String(), "tick=43")
	assert.Contains(t, buf.String(), "client=7")
}

func TestLogger_DefaultBeforeSetup(t *testing.T) {
	assert.Equal(t, slog.Default(), NewSlogManager("test").Logger())
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"Warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"debug+2", slog.LevelDebug + 2},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.input))
		})
	}
}

func TestFlush(t *testing.T) {
	m := newManager(&bytes.Buffer{})
	require.NoError(t, m.Flush(context.Background()))

	var buf bytes.Buffer
	m.Setup(&buf, "info", sdklog.NewLoggerProvider())
	m.Logger().Info("mirrored")
	assert.Contains(t, buf.String(), "mirrored")
	assert.NoError(t, m.Flush(context.Background()))
}

type failingHandler struct{ slog.Handler }

func (failingHandler) Enabled(context.Context, slog.Level) bool { return true }
func (failingHandler) Handle(context.Context, slog.Record) error {
	return errors.New("disk full")
}

func TestMultiHandler(t *testing.T) {
	newText := func(buf *bytes.Buffer, level slog.Level) slog.Handler {
		return slog.NewTextHandler(buf, &slog.HandlerOptions{Level: level})
	}

	t.Run("fans out and skips nil", func(t *testing.T) {
		var a, b bytes.Buffer
		multi := NewMultiHandler(nil, newText(&a, slog.LevelInfo), newText(&b, slog.LevelInfo))
		require.Len(t, multi.handlers, 2)

		slog.New(multi).Info("snapshot sent")
		assert.Contains(t, a.String(), "snapshot sent")
		assert.Contains(t, b.String(), "snapshot sent")
	})

	t.Run("enabled if any handler is", func(t *testing.T) {
		info := newText(&bytes.Buffer{}, slog.LevelInfo)
		debug := newText(&bytes.Buffer{}, slog.LevelDebug)
		ctx := context.Background()

		assert.False(t, NewMultiHandler().Enabled(ctx, slog.LevelError))
		assert.False(t, NewMultiHandler(info).Enabled(ctx, slog.LevelDebug))
		assert.True(t, NewMultiHandler(info, debug).Enabled(ctx, slog.LevelDebug))
	})

	t.Run("level per handler", func(t *testing.T) {
		var info, debug bytes.Buffer
		logger := slog.New(NewMultiHandler(newText(&info, slog.LevelInfo), newText(&debug, slog.LevelDebug)))
		logger.Debug("tick committed")

		assert.Empty(t, info.String())
		assert.Contains(t, debug.String(), "tick committed")
	})

	t.Run("attrs and groups", func(t *testing.T) {
		var buf bytes.Buffer
		multi := NewMultiHandler(newText(&buf, slog.LevelInfo))
		assert.Same(t, multi, multi.WithGroup(""))

		logger := slog.New(multi.WithAttrs([]slog.Attr{slog.String("component", "server")}).WithGroup("client"))
		logger.Info("joined", "id", 3)
		assert.Contains(t, buf.String(), "component=server")
		assert.Contains(t, buf.String(), "client.id=3")
	})

	t.Run("failures are joined", func(t *testing.T) {
		var buf bytes.Buffer
		multi := NewMultiHandler(failingHandler{}, newText(&buf, slog.LevelInfo), failingHandler{})

		err := multi.Handle(context.Background(), slog.NewRecord(testTime, slog.LevelInfo, "still written", 0))
		assert.ErrorContains(t, err, "disk full")
		assert.Contains(t, buf.String(), "still written")
	})
}

func TestContextHandler_NoContext(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewContextHandler(slog.NewTextHandler(&buf, nil), nil))
	logger.Info("plain")

	assert.NotContains(t, buf.String(), "client=")
	_, ok := ClientFromContext(context.Background())
	assert.False(t, ok)
}
