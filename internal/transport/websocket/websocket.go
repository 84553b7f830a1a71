// Package websocket carries packets in binary WebSocket frames, one frame
// per flushed batch.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"

	"github.com/opendrakan/statesync/internal/channel"
	"github.com/opendrakan/statesync/internal/connector"
	"github.com/opendrakan/statesync/pkg/protocol"
)

const (
	sendChSize = 256
	writeWait  = 10 * time.Second
	// a batch holds at most a few maximum packets
	maxMessageSize = 16 * (protocol.HeaderSize + protocol.MaxPayloadSize)
)

var (
	ErrClosed        = errors.New("websocket closed")
	ErrSendQueueFull = errors.New("websocket send queue full")
)

// Conn manages a WebSocket connection with a single write goroutine.
type Conn struct {
	conn   *ws.Conn
	remote string
	sendCh *channel.Buffered[[]byte]
	done   chan struct{}
	logger *slog.Logger

	closeOnce sync.Once
	mu        sync.Mutex
	err       error
}

func newConn(conn *ws.Conn, logger *slog.Logger) *Conn {
	conn.SetReadLimit(maxMessageSize)
	return &Conn{
		conn:   conn,
		remote: conn.RemoteAddr().String(),
		sendCh: channel.NewBuffered[[]byte](sendChSize),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// RemoteAddr returns the peer's address.
func (c *Conn) RemoteAddr() string { return c.remote }

// Err returns why the connection ended, or nil.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// SendPackets queues data as one binary frame. Non-blocking; a full queue
// disconnects the peer.
func (c *Conn) SendPackets(data []byte) error {
	select {
	case <-c.done:
		if err := c.Err(); err != nil {
			return err
		}
		return ErrClosed
	default:
	}
	frame := make([]byte, len(data))
	copy(frame, data)
	if !c.sendCh.TrySend(frame) {
		c.logger.Warn("WebSocket send channel full, disconnecting", "remote", c.remote)
		c.shutdown(ErrSendQueueFull)
		return ErrSendQueueFull
	}
	return nil
}

// Serve runs the write loop and parses every received frame. Packets may
// span frames.
func (c *Conn) Serve(ctx context.Context, p connector.Parser) error {
	go c.writeLoop()
	stop := context.AfterFunc(ctx, func() { c.shutdown(ctx.Err()) })
	defer stop()

	c.shutdown(c.readLoop(p))
	return c.Err()
}

func (c *Conn) readLoop(p connector.Parser) error {
	var carry []byte
	for {
		kind, message, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return nil
			default:
			}
			if ws.IsCloseError(err, ws.CloseNormalClosure, ws.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("reading: %w", err)
		}
		if kind != ws.BinaryMessage {
			c.logger.Debug("Ignoring non-binary message", "remote", c.remote, "type", kind)
			continue
		}

		data := message
		if len(carry) > 0 {
			data = append(carry, message...)
		}
		consumed := p.ParseAll(data)
		carry = append(carry[:0], data[consumed:]...)
	}
}

// writeLoop drains sendCh and writes frames to the WebSocket.
func (c *Conn) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.sendCh.Receive():
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.shutdown(fmt.Errorf("setting write deadline: %w", err))
				return
			}
			if err := c.conn.WriteMessage(ws.BinaryMessage, data); err != nil {
				c.logger.Warn("WebSocket write error", "remote", c.remote, "error", err)
				c.shutdown(fmt.Errorf("writing: %w", err))
				return
			}
		}
	}
}

func (c *Conn) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.done)

		if err == nil {
			_ = c.conn.WriteControl(
				ws.CloseMessage,
				ws.FormatCloseMessage(ws.CloseNormalClosure, ""),
				time.Now().Add(writeWait),
			)
		}
		_ = c.conn.Close()
	})
}

// Close sends a close frame and shuts the connection down.
func (c *Conn) Close() error {
	c.shutdown(nil)
	return nil
}

// Handler upgrades HTTP requests and hands each connection to serve, which
// owns it until it returns.
func Handler(logger *slog.Logger, serve func(c *Conn)) http.Handler {
	upgrader := ws.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     func(*http.Request) bool { return true },
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("WebSocket upgrade failed", "remote", r.RemoteAddr, "error", err)
			return
		}
		serve(newConn(conn, logger))
	})
}

// Dial connects to a server's WebSocket endpoint.
func Dial(ctx context.Context, url string, logger *slog.Logger) (*Conn, error) {
	conn, _, err := ws.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return newConn(conn, logger), nil
}
