// Command drakan_bot is a headless client that joins a drakan_server,
// follows its state and periodically triggers input actions.
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/opendrakan/statesync/internal/binio"
	"github.com/opendrakan/statesync/internal/client"
	"github.com/opendrakan/statesync/internal/config"
	"github.com/opendrakan/statesync/internal/gameplay"
	"github.com/opendrakan/statesync/internal/influx"
	"github.com/opendrakan/statesync/internal/input"
	"github.com/opendrakan/statesync/internal/level"
	"github.com/opendrakan/statesync/internal/logging"
	"github.com/opendrakan/statesync/internal/transport"
	"github.com/opendrakan/statesync/internal/transport/quic"
	"github.com/opendrakan/statesync/internal/transport/stream"
	"github.com/opendrakan/statesync/internal/transport/websocket"
	"github.com/opendrakan/statesync/pkg/core"
)

const serviceName = "drakan_bot"

func main() {
	configDir := flag.String("config", ".", "directory containing "+config.FileName)
	serverAddr := flag.String("server", "", "server address, overrides bot.server")
	transportName := flag.String("transport", "", "tcp, websocket or quic, overrides bot.transport")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configDir, *serverAddr, *transportName); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configDir, serverAddr, transportName string) error {
	slogManager := logging.NewSlogManager(serviceName)
	slogManager.Setup(nil, "info", nil)
	logger := slogManager.Logger()

	if err := config.Load(configDir); err != nil {
		logger.Warn("Failed to load config, using defaults!", "error", err)
	}
	slogManager.Setup(nil, config.GetString("logLevel"), nil)
	logger = slogManager.Logger()

	botCfg := config.GetBotConfig()
	if serverAddr != "" {
		botCfg.Server = serverAddr
	}
	if transportName != "" {
		botCfg.Transport = transportName
	}

	zlog := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Str("service", serviceName).Logger()

	conn, err := dial(ctx, botCfg, config.GetListenConfig().WebSocketPath, logger)
	if err != nil {
		return err
	}
	logger.Info("Connected", "server", botCfg.Server, "transport", botCfg.Transport)

	srvCfg := config.GetServerConfig()
	session, err := transport.NewSession(client.Config{
		HistorySize:      botCfg.HistorySize,
		DispatcherLogger: logging.NewDispatcherLogger(zlog),
	}, conn, &level.FileLoader{Registry: level.DefaultRegistry(), Root: srvCfg.LevelsDir}, logger)
	if err != nil {
		conn.Close()
		return err
	}
	defer session.Close()

	pings := session.Client.Dispatcher().Listen(gameplay.ChannelPing, func(data []byte) {
		r := binio.NewReader(data)
		from, tick := r.ReadInt32(), r.ReadTick()
		if r.Err() != nil {
			logger.Warn("Malformed ping", "error", r.Err())
			return
		}
		logger.Info("Ping", "from", from, "tick", tick)
	})
	defer runtime.KeepAlive(pings)

	influxManager := influx.NewManager(zlog, config.GetInfluxConfig())
	var points pointWriter
	if err := influxManager.Connect(ctx); err == nil {
		points = influxManager
	} else if !errors.Is(err, influx.ErrDisabled) {
		logger.Warn("InfluxDB unavailable", "error", err)
	}
	defer influxManager.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := session.Run(gctx)
		if err == nil {
			return errors.New("server closed the connection")
		}
		return err
	})
	g.Go(func() error {
		return act(gctx, session, botCfg.ActionPeriod, points, logger)
	})

	err = g.Wait()
	logger.Info("Disconnected", "stats", session.Client.Stats(), "badPackets", session.BadPacketCount())
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func dial(ctx context.Context, cfg config.BotConfig, wsPath string, logger *slog.Logger) (transport.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	switch cfg.Transport {
	case "tcp", "":
		return stream.DialTCP(dialCtx, cfg.Server, logger)
	case "websocket":
		return websocket.Dial(dialCtx, "ws://"+cfg.Server+wsPath, logger)
	case "quic":
		// the server presents a self-signed certificate
		return quic.Dial(dialCtx, cfg.Server, &tls.Config{InsecureSkipVerify: true}, logger)
	default:
		return nil, fmt.Errorf("unknown transport: %s", cfg.Transport)
	}
}

type pointWriter interface {
	WritePoint(ctx context.Context, bucket string, point *influxdb2_write.Point) error
}

// act cycles through the gameplay actions and reports client statistics.
// points may be nil.
func act(ctx context.Context, session *transport.Session, period time.Duration, points pointWriter, logger *slog.Logger) error {
	if period <= 0 {
		period = 500 * time.Millisecond
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	up := session.Client.Uplink()
	for step := 0; ; step++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			switch step % 4 {
			case 0:
				up.ActionTriggered(gameplay.ActionUse, uint8(input.Pressed))
			case 1:
				up.ActionTriggered(gameplay.ActionUse, uint8(input.Released))
			case 2:
				up.ActionTriggered(gameplay.ActionPing, uint8(input.Triggered))
			case 3:
				up.AnalogActionTriggered(gameplay.ActionMove, rand.Float32()*2-1, rand.Float32()*2-1)
			}
			if err := session.Err(); err != nil {
				return fmt.Errorf("sending actions: %w", err)
			}

			st := session.Client.Stats()
			logger.Debug("Client state", "tick", st.LastTick, "applied", st.Applied, "dropped", st.Dropped)
			if points == nil || st.LastTick == core.NoTick {
				continue
			}
			err := points.WritePoint(ctx, influx.BucketClients, influx.NewPoint("client_state",
				map[string]string{"client": serviceName},
				map[string]any{
					"tick":        int64(st.LastTick),
					"applied":     int64(st.Applied),
					"dropped":     int64(st.Dropped),
					"realtime":    st.LastRealtime,
					"bad_packets": int64(session.BadPacketCount()),
				},
				now,
			))
			if err != nil {
				logger.Debug("Writing client point failed", "error", err)
			}
		}
	}
}
