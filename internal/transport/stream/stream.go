// Package stream carries packets over ordered byte streams such as TCP or a
// QUIC stream.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opendrakan/statesync/internal/channel"
	"github.com/opendrakan/statesync/internal/connector"
	"github.com/opendrakan/statesync/pkg/protocol"
)

const (
	DefaultSendQueue = 256
	writeWait        = 10 * time.Second
	// two maximum packets, so a carried over partial packet always fits
	// next to a full read
	readBufferSize = 2 * (protocol.HeaderSize + protocol.MaxPayloadSize)
)

var (
	ErrClosed        = errors.New("connection closed")
	ErrSendQueueFull = errors.New("send queue full")
)

var bufferPool = sync.Pool{
	New: func() any {
		b := make([]byte, 0, 4096)
		return &b
	},
}

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// Conn frames packets over an io.ReadWriteCloser with a single writer
// goroutine.
type Conn struct {
	rwc    io.ReadWriteCloser
	remote string
	logger *slog.Logger
	send   *channel.Buffered[*[]byte]
	done   chan struct{}

	closeOnce sync.Once
	errMu     sync.Mutex
	err       error

	bytesIn  atomic.Uint64
	bytesOut atomic.Uint64
}

// NewConn wraps rwc. remote is only used for logging.
func NewConn(rwc io.ReadWriteCloser, remote string, logger *slog.Logger, sendQueue int) *Conn {
	if sendQueue <= 0 {
		sendQueue = DefaultSendQueue
	}
	return &Conn{
		rwc:    rwc,
		remote: remote,
		logger: logger,
		send:   channel.NewBuffered[*[]byte](sendQueue),
		done:   make(chan struct{}),
	}
}

// RemoteAddr returns the peer's address.
func (c *Conn) RemoteAddr() string { return c.remote }

// Done is closed once the connection is shut down.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Err returns why the connection ended, or nil.
func (c *Conn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// BytesIn returns the number of bytes read.
func (c *Conn) BytesIn() uint64 { return c.bytesIn.Load() }

// BytesOut returns the number of bytes written.
func (c *Conn) BytesOut() uint64 { return c.bytesOut.Load() }

// SendPackets queues a copy of data for the writer. A peer too slow to keep
// up with the queue is disconnected.
func (c *Conn) SendPackets(data []byte) error {
	select {
	case <-c.done:
		if err := c.Err(); err != nil {
			return err
		}
		return ErrClosed
	default:
	}

	buf := bufferPool.Get().(*[]byte)
	*buf = append((*buf)[:0], data...)
	if !c.send.TrySend(buf) {
		bufferPool.Put(buf)
		c.shutdown(ErrSendQueueFull)
		return ErrSendQueueFull
	}
	return nil
}

// Serve starts the writer and feeds everything read to p. It returns when
// the peer closes the stream, ctx is done, or Close is called, and leaves
// the connection closed.
func (c *Conn) Serve(ctx context.Context, p connector.Parser) error {
	go c.writeLoop()
	stop := context.AfterFunc(ctx, func() { c.shutdown(ctx.Err()) })
	defer stop()

	c.shutdown(c.readLoop(p))
	return c.Err()
}

func (c *Conn) readLoop(p connector.Parser) error {
	buf := make([]byte, readBufferSize)
	n := 0
	for {
		m, err := c.rwc.Read(buf[n:])
		if m > 0 {
			c.bytesIn.Add(uint64(m))
			n += m
			consumed := p.ParseAll(buf[:n])
			n = copy(buf, buf[consumed:n])
		}
		if err != nil {
			select {
			case <-c.done:
				return nil
			default:
			}
			if errors.Is(err, io.EOF) {
				if n > 0 {
					return fmt.Errorf("stream ended inside a packet: %w", io.ErrUnexpectedEOF)
				}
				return nil
			}
			return fmt.Errorf("reading: %w", err)
		}
	}
}

func (c *Conn) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case buf := <-c.send.Receive():
			if d, ok := c.rwc.(writeDeadliner); ok {
				if err := d.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
					c.logger.Warn("setting write deadline", "remote", c.remote, "error", err)
				}
			}
			m, err := c.rwc.Write(*buf)
			c.bytesOut.Add(uint64(m))
			bufferPool.Put(buf)
			if err != nil {
				c.logger.Warn("write error", "remote", c.remote, "error", err)
				c.shutdown(fmt.Errorf("writing: %w", err))
				return
			}
		}
	}
}

// shutdown records err, if it is the first, and closes the stream.
func (c *Conn) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.errMu.Lock()
		c.err = err
		c.errMu.Unlock()
		close(c.done)
		if cerr := c.rwc.Close(); cerr != nil {
			c.logger.Debug("closing stream", "remote", c.remote, "error", cerr)
		}
	})
}

// Close shuts the connection down. Queued packets not yet written are
// discarded.
func (c *Conn) Close() error {
	c.shutdown(nil)
	return nil
}

// Listener accepts TCP connections.
type Listener struct {
	ln        net.Listener
	logger    *slog.Logger
	sendQueue int
}

// ListenTCP listens on addr.
func ListenTCP(addr string, sendQueue int, logger *slog.Logger) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}
	return &Listener{ln: ln, logger: logger, sendQueue: sendQueue}, nil
}

// Accept waits for the next connection.
func (l *Listener) Accept() (*Conn, error) {
	nc, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}
	return NewConn(nc, nc.RemoteAddr().String(), l.logger, l.sendQueue), nil
}

// Addr returns the listening address.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Close stops listening.
func (l *Listener) Close() error { return l.ln.Close() }

// DialTCP connects to a server.
func DialTCP(ctx context.Context, addr string, logger *slog.Logger) (*Conn, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", addr, err)
	}
	return NewConn(nc, nc.RemoteAddr().String(), logger, DefaultSendQueue), nil
}
