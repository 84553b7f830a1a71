// Package transport attaches packet connections to the server and client.
// The concrete byte transports live in the subpackages.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/opendrakan/statesync/internal/client"
	"github.com/opendrakan/statesync/internal/connector"
	"github.com/opendrakan/statesync/internal/level"
	"github.com/opendrakan/statesync/internal/logging"
	"github.com/opendrakan/statesync/internal/server"
	"github.com/opendrakan/statesync/pkg/core"
)

// Conn is a packet connection with its own read loop.
type Conn interface {
	connector.PacketSink
	// Serve feeds received bytes to p until the connection ends. A clean
	// close by the peer returns nil.
	Serve(ctx context.Context, p connector.Parser) error
	Close() error
	RemoteAddr() string
}

// ServeClient registers conn as a new client of srv and pumps it until it
// closes. The client is removed afterwards. setup runs before the client
// receives its first snapshot, e.g. to register input actions.
func ServeClient(ctx context.Context, srv *server.Server, conn Conn, logger *slog.Logger, setup ...func(core.ClientId) error) error {
	id, err := srv.AddClient()
	if err != nil {
		return err
	}
	defer func() {
		if err := srv.RemoveClient(id); err != nil {
			logger.WarnContext(ctx, "removing client", "error", err)
		}
	}()
	ctx = logging.WithClient(ctx, id)
	logger = logger.With("remote", conn.RemoteAddr())

	for _, fn := range setup {
		if err := fn(id); err != nil {
			return fmt.Errorf("client %d setup: %w", id, err)
		}
	}

	uplink, err := srv.UplinkConnectorForClient(id)
	if err != nil {
		return err
	}
	if err := srv.SetClientDownlinkConnector(id, connector.NewDownlinkWriter(conn)); err != nil {
		return err
	}
	logger.InfoContext(ctx, "client connected")

	parser := connector.NewUplinkParser(uplink, logger.With("client", id))
	err = conn.Serve(ctx, parser)
	logger.InfoContext(ctx, "client disconnected", "badPackets", parser.BadPacketCount(), "error", err)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("client %d: %w", id, err)
	}
	return nil
}

// Session is a client attached to a connection.
type Session struct {
	Client *client.Client
	conn   Conn
	uplink *connector.UplinkWriter
	parser *connector.PacketParser
}

// NewSession creates a client speaking over conn. Call Run to start
// receiving.
func NewSession(cfg client.Config, conn Conn, loader level.Loader, logger *slog.Logger) (*Session, error) {
	uplink := connector.NewUplinkWriter(conn)
	c, err := client.New(cfg, loader, uplink, logger)
	if err != nil {
		return nil, err
	}
	return &Session{
		Client: c,
		conn:   conn,
		uplink: uplink,
		parser: connector.NewDownlinkParser(c, logger),
	}, nil
}

// Run receives until the connection ends or ctx is done.
func (s *Session) Run(ctx context.Context) error {
	return s.conn.Serve(ctx, s.parser)
}

// Err returns the first error sending to the server.
func (s *Session) Err() error { return s.uplink.Err() }

// BadPacketCount returns the number of malformed packets received.
func (s *Session) BadPacketCount() uint64 { return s.parser.BadPacketCount() }

// Close closes the connection.
func (s *Session) Close() error { return s.conn.Close() }
