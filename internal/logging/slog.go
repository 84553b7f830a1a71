package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// SlogManager builds the server's logger: text records to the session log
// file, or the console until one is open, mirrored to OTel when a provider
// is given. Every record passes a ContextHandler.
type SlogManager struct {
	name     string
	console  io.Writer
	level    slog.LevelVar
	context  ContextProvider
	logger   *slog.Logger
	provider *sdklog.LoggerProvider
}

// NewSlogManager creates a manager; name is the OTel instrumentation scope.
func NewSlogManager(name string) *SlogManager {
	return &SlogManager{name: name, console: os.Stdout}
}

// ParseLevel accepts slog level names in any case, with an optional offset
// such as "debug+2". Anything else is info.
func ParseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// SetContextProvider applies to loggers built by later Setup calls.
func (m *SlogManager) SetContextProvider(p ContextProvider) {
	m.context = p
}

// SetLevel changes the level of the current logger in place.
func (m *SlogManager) SetLevel(level string) {
	m.level.Set(ParseLevel(level))
}

// Setup replaces the logger. A nil file logs to the console.
func (m *SlogManager) Setup(file io.Writer, level string, provider *sdklog.LoggerProvider) {
	m.level.Set(ParseLevel(level))
	m.provider = provider

	out := m.console
	if file != nil {
		out = file
	}
	handlers := []slog.Handler{
		slog.NewTextHandler(out, &slog.HandlerOptions{Level: &m.level, ReplaceAttr: utcTime}),
	}
	if provider != nil {
		handlers = append(handlers, otelslog.NewHandler(m.name, otelslog.WithLoggerProvider(provider)))
	}

	m.logger = slog.New(NewContextHandler(NewMultiHandler(handlers...), m.context))
	m.logger.Info("Logging initialized", "level", m.level.Level(), "otel", provider != nil)
}

func utcTime(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey && a.Value.Kind() == slog.KindTime {
		a.Value = slog.StringValue(a.Value.Time().UTC().Format(time.RFC3339))
	}
	return a
}

// Logger returns slog.Default until Setup has been called.
func (m *SlogManager) Logger() *slog.Logger {
	if m.logger == nil {
		return slog.Default()
	}
	return m.logger
}

// Flush pushes buffered OTel records to the exporter.
func (m *SlogManager) Flush(ctx context.Context) error {
	if m.provider == nil {
		return nil
	}
	return m.provider.ForceFlush(ctx)
}
