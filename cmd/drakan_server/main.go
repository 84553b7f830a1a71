// Command drakan_server runs an authoritative state sync server for one
// level and serves it over TCP, WebSocket and QUIC.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/opendrakan/statesync/internal/config"
	"github.com/opendrakan/statesync/internal/gameplay"
	"github.com/opendrakan/statesync/internal/influx"
	"github.com/opendrakan/statesync/internal/level"
	"github.com/opendrakan/statesync/internal/logging"
	"github.com/opendrakan/statesync/internal/monitor"
	intOtel "github.com/opendrakan/statesync/internal/otel"
	"github.com/opendrakan/statesync/internal/server"
	"github.com/opendrakan/statesync/internal/storage"
	"github.com/opendrakan/statesync/internal/transport"
	"github.com/opendrakan/statesync/internal/transport/quic"
	"github.com/opendrakan/statesync/internal/transport/stream"
	"github.com/opendrakan/statesync/internal/transport/websocket"
	"github.com/opendrakan/statesync/internal/worker"
)

// Version and BuildDate can be set at build time via ldflags
var (
	Version   = "0.0.1"
	BuildDate = "unknown"
)

const serviceName = "drakan_server"

func main() {
	configDir := flag.String("config", ".", "directory containing "+config.FileName)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configDir); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configDir string) error {
	sessionStart := time.Now()
	sessionID := uuid.New()

	slogManager := logging.NewSlogManager(serviceName)
	slogManager.Setup(nil, "info", nil)
	logger := slogManager.Logger()

	if err := config.Load(configDir); err != nil {
		logger.Warn("Failed to load config, using defaults!", "error", err)
	} else {
		logger.Info("Loaded config")
	}

	logsDir := config.GetString("logsDir")
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return fmt.Errorf("creating logs dir: %w", err)
	}
	logPath := logging.LogFilePath(logsDir, serviceName, sessionStart)
	logFile, err := os.OpenFile(logPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o666)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	defer logFile.Close()

	otelCfg := config.GetOTelConfig()
	otelProvider, err := intOtel.New(intOtel.Config{
		Enabled:        otelCfg.Enabled,
		ServiceName:    otelCfg.ServiceName,
		ServiceVersion: Version,
		InstanceID:     sessionID.String(),
		Level:          config.GetServerConfig().Level,
		BatchTimeout:   otelCfg.BatchTimeout,
		LogWriter:      logFile,
		Endpoint:       otelCfg.Endpoint,
		Insecure:       otelCfg.Insecure,
	})
	if err != nil {
		logger.Error("Failed to initialize OTel provider", "error", err)
		otelProvider, _ = intOtel.New(intOtel.Config{})
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelProvider.Shutdown(shutdownCtx); err != nil {
			logger.Error("OTel shutdown failed", "error", err)
		}
	}()

	var srv *server.Server
	slogManager.SetContextProvider(func() []slog.Attr {
		if srv == nil {
			return nil
		}
		return []slog.Attr{slog.Int64("tick", int64(srv.Stats().State.CurrentTick))}
	})
	slogManager.Setup(logFile, config.GetString("logLevel"), otelProvider.LoggerProvider())
	logger = slogManager.Logger().With("session", sessionID.String())
	logger.Info("Starting up", "version", Version, "buildDate", BuildDate, "logFile", logPath)

	zlevel, err := zerolog.ParseLevel(config.GetString("logLevel"))
	if err != nil {
		zlevel = zerolog.InfoLevel
	}
	zlog := zerolog.New(logFile).Level(zlevel).With().Timestamp().Str("session", sessionID.String()).Logger()

	srvCfg := config.GetServerConfig()
	loader := &level.FileLoader{Registry: level.DefaultRegistry(), Root: srvCfg.LevelsDir}
	lvl, err := loader.Load(srvCfg.Level)
	if err != nil {
		return err
	}
	srv = server.New(server.Config{
		TickRate:              srvCfg.TickRate,
		RetainedTicks:         srvCfg.RetainedTicks,
		ViewInterpolationTime: srvCfg.ViewInterpolation,
		MaxLagCompensation:    srvCfg.MaxLagCompensation,
	}, lvl, nil, logger)

	storageCfg := config.GetStorageConfig()
	backend, err := storage.NewBackend(storageCfg, zlog.With().Str("component", "storage").Logger())
	if err != nil {
		return err
	}
	if err := backend.Init(); err != nil {
		return fmt.Errorf("initializing %s storage: %w", storageCfg.Type, err)
	}
	defer backend.Close()
	if _, err := worker.Restore(ctx, backend, srv.State(), logger); err != nil {
		logger.Error("Failed to restore savegame, starting fresh", "error", err)
	}

	autosave := worker.NewManager(worker.Dependencies{
		Server:   srv,
		Logger:   logger,
		Interval: storageCfg.AutosaveInterval,
		Keep:     storageCfg.Keep,
		Flusher:  otelProvider,
		Meta:     map[string]any{"session": sessionID.String(), "version": Version},
	}, backend)
	autosave.Start(ctx)

	influxManager := influx.NewManager(zlog.With().Str("component", "influx").Logger(), config.GetInfluxConfig())
	var points monitor.PointWriter
	if err := influxManager.Connect(ctx); err == nil {
		points = influxManager
	} else if !errors.Is(err, influx.ErrDisabled) {
		logger.Warn("InfluxDB unavailable", "error", err)
	}
	defer influxManager.Close()

	monitorService := monitor.NewService(monitor.Dependencies{
		Server:     srv,
		Influx:     points,
		Logger:     logger,
		StatusPath: logging.StatusFilePath(logsDir, serviceName),
		Interval:   config.GetDuration("monitor.interval"),
		Level:      lvl.Path(),
	})
	if err := monitorService.Start(); err != nil {
		return err
	}
	defer monitorService.Stop()

	g, gctx := errgroup.WithContext(ctx)
	if err := listen(gctx, g, srv, config.GetListenConfig(), logger); err != nil {
		return err
	}
	g.Go(func() error { return srv.Run(gctx) })

	err = g.Wait()

	// the simulation has stopped, so the final save may read the state directly
	autosave.Stop()
	if _, saveErr := autosave.SaveNow(context.Background()); saveErr != nil {
		logger.Error("Final save failed", "error", saveErr)
	}
	logger.Info("Shut down", "stats", srv.Stats(), "autosave", autosave.Stats())

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// listen starts every configured transport on g. Listeners close when ctx
// is done.
func listen(ctx context.Context, g *errgroup.Group, srv *server.Server, cfg config.ListenConfig, logger *slog.Logger) error {
	setup := gameplay.BindActions(srv, logger)
	serve := func(conn transport.Conn) {
		if err := transport.ServeClient(ctx, srv, conn, logger, setup); err != nil {
			logger.Warn("Client connection ended", "remote", conn.RemoteAddr(), "error", err)
		}
	}

	if cfg.TCP != "" {
		ln, err := stream.ListenTCP(cfg.TCP, cfg.SendQueue, logger)
		if err != nil {
			return err
		}
		logger.Info("Listening", "transport", "tcp", "addr", ln.Addr().String())
		g.Go(func() error {
			<-ctx.Done()
			return ln.Close()
		})
		g.Go(func() error {
			for {
				conn, err := ln.Accept()
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return fmt.Errorf("tcp accept: %w", err)
				}
				go serve(conn)
			}
		})
	}

	if cfg.WebSocket != "" {
		mux := http.NewServeMux()
		mux.Handle(cfg.WebSocketPath, websocket.Handler(logger, func(c *websocket.Conn) { serve(c) }))
		httpSrv := &http.Server{Addr: cfg.WebSocket, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		logger.Info("Listening", "transport", "websocket", "addr", cfg.WebSocket, "path", cfg.WebSocketPath)
		g.Go(func() error {
			if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("websocket listener: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpSrv.Shutdown(shutdownCtx)
		})
	}

	if cfg.QUIC != "" {
		tlsConf, err := quic.SelfSignedTLS("localhost")
		if err != nil {
			return err
		}
		ln, err := quic.Listen(cfg.QUIC, tlsConf, cfg.SendQueue, logger)
		if err != nil {
			return err
		}
		logger.Info("Listening", "transport", "quic", "addr", ln.Addr())
		g.Go(func() error {
			<-ctx.Done()
			return ln.Close()
		})
		g.Go(func() error {
			for {
				conn, err := ln.Accept(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return fmt.Errorf("quic accept: %w", err)
				}
				go serve(conn)
			}
		})
	}
	return nil
}
