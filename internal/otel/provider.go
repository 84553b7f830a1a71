// Package otel exports the server's log records through OpenTelemetry and
// hands out meters for the dispatcher and packet parser counters.
package otel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/metric"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ErrNoSink is returned when OTel is enabled without anywhere to export to.
var ErrNoSink = errors.New("otel enabled without log writer or endpoint")

// Config holds OTel configuration
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	// InstanceID identifies one server run, e.g. the session uuid.
	InstanceID string
	// Level is recorded as the drakan.level resource attribute.
	Level        string
	BatchTimeout time.Duration
	LogWriter    io.Writer // pretty printed records, usually the session log file
	Endpoint     string    // OTLP/HTTP endpoint, optional
	Insecure     bool
}

// Provider owns the log provider. A disabled Provider is valid and all its
// methods are no-ops.
type Provider struct {
	logProvider *sdklog.LoggerProvider
	config      Config
}

// New builds the exporters cfg asks for.
func New(cfg Config) (*Provider, error) {
	p := &Provider{config: cfg}
	if !cfg.Enabled {
		return p, nil
	}

	ctx := context.Background()
	res, err := resource.New(ctx, resource.WithAttributes(resourceAttrs(cfg)...))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporters, err := newExporters(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if len(exporters) == 0 {
		return nil, ErrNoSink
	}

	opts := []sdklog.LoggerProviderOption{sdklog.WithResource(res)}
	for _, exp := range exporters {
		opts = append(opts, sdklog.WithProcessor(sdklog.NewBatchProcessor(exp, sdklog.WithExportTimeout(cfg.BatchTimeout))))
	}
	p.logProvider = sdklog.NewLoggerProvider(opts...)
	return p, nil
}

func resourceAttrs(cfg Config) []attribute.KeyValue {
	attrs := []attribute.KeyValue{semconv.ServiceName(cfg.ServiceName)}
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersion(cfg.ServiceVersion))
	}
	if cfg.InstanceID != "" {
		attrs = append(attrs, semconv.ServiceInstanceID(cfg.InstanceID))
	}
	if cfg.Level != "" {
		attrs = append(attrs, attribute.String("drakan.level", cfg.Level))
	}
	return attrs
}

func newExporters(ctx context.Context, cfg Config) ([]sdklog.Exporter, error) {
	var exporters []sdklog.Exporter
	if cfg.LogWriter != nil {
		exp, err := stdoutlog.New(stdoutlog.WithWriter(cfg.LogWriter), stdoutlog.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create file log exporter: %w", err)
		}
		exporters = append(exporters, exp)
	}
	if cfg.Endpoint != "" {
		opts := []otlploghttp.Option{otlploghttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlploghttp.WithInsecure())
		}
		exp, err := otlploghttp.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP log exporter: %w", err)
		}
		exporters = append(exporters, exp)
	}
	return exporters, nil
}

// LoggerProvider is nil when disabled.
func (p *Provider) LoggerProvider() *sdklog.LoggerProvider {
	return p.logProvider
}

// Meter returns a meter from the global provider. It is a no-op until a
// meter provider is installed with otel.SetMeterProvider.
func (p *Provider) Meter(name string) metric.Meter {
	return otel.Meter(name)
}

// Flush exports pending records. The autosave worker calls it after every
// stored savegame.
func (p *Provider) Flush(ctx context.Context) error {
	if p.logProvider == nil {
		return nil
	}
	if err := p.logProvider.ForceFlush(ctx); err != nil {
		return fmt.Errorf("log flush failed: %w", err)
	}
	return nil
}

// Shutdown flushes and stops the exporters.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.logProvider == nil {
		return nil
	}
	if err := p.logProvider.Shutdown(ctx); err != nil {
		return fmt.Errorf("log shutdown failed: %w", err)
	}
	return nil
}

func (p *Provider) Enabled() bool {
	return p.config.Enabled
}
