// Package quic carries packets over one bidirectional QUIC stream per
// client.
package quic

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/opendrakan/statesync/internal/transport/stream"
)

// NextProto is the ALPN protocol both ends must agree on.
const NextProto = "drakan-statesync"

// application error codes used when closing connections
const (
	codeClosed   quic.ApplicationErrorCode = 0
	codeNoStream quic.ApplicationErrorCode = 1
)

var defaultConfig = &quic.Config{
	MaxIdleTimeout:  30 * time.Second,
	KeepAlivePeriod: 10 * time.Second,
}

// streamCloser closes the whole connection along with its only stream.
type streamCloser struct {
	quic.Stream
	conn quic.Connection
}

func (s streamCloser) Close() error {
	s.Stream.CancelRead(quic.StreamErrorCode(codeClosed))
	_ = s.Stream.Close()
	return s.conn.CloseWithError(codeClosed, "closed")
}

// Listener accepts QUIC connections. The server opens the stream so it can
// start sending right away.
type Listener struct {
	ln        *quic.Listener
	logger    *slog.Logger
	sendQueue int
}

// Listen listens for QUIC connections on addr. tlsConf must carry a
// certificate; NextProtos is set to NextProto.
func Listen(addr string, tlsConf *tls.Config, sendQueue int, logger *slog.Logger) (*Listener, error) {
	tlsConf = tlsConf.Clone()
	tlsConf.NextProtos = []string{NextProto}
	ln, err := quic.ListenAddr(addr, tlsConf, defaultConfig)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}
	return &Listener{ln: ln, logger: logger, sendQueue: sendQueue}, nil
}

// Accept waits for the next connection and opens its packet stream.
func (l *Listener) Accept(ctx context.Context) (*stream.Conn, error) {
	conn, err := l.ln.Accept(ctx)
	if err != nil {
		return nil, err
	}
	str, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(codeNoStream, "opening stream failed")
		return nil, fmt.Errorf("opening stream to %s: %w", conn.RemoteAddr(), err)
	}
	return stream.NewConn(streamCloser{Stream: str, conn: conn}, conn.RemoteAddr().String(), l.logger, l.sendQueue), nil
}

// Addr returns the listening address.
func (l *Listener) Addr() string { return l.ln.Addr().String() }

// Close stops listening.
func (l *Listener) Close() error { return l.ln.Close() }

// Dial connects to a server and waits for it to open the packet stream.
// Nothing arrives on the stream before the server's first packet.
func Dial(ctx context.Context, addr string, tlsConf *tls.Config, logger *slog.Logger) (*stream.Conn, error) {
	tlsConf = tlsConf.Clone()
	tlsConf.NextProtos = []string{NextProto}
	conn, err := quic.DialAddr(ctx, addr, tlsConf, defaultConfig)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", addr, err)
	}
	str, err := conn.AcceptStream(ctx)
	if err != nil {
		_ = conn.CloseWithError(codeNoStream, "no stream")
		return nil, fmt.Errorf("accepting stream from %s: %w", addr, err)
	}
	return stream.NewConn(streamCloser{Stream: str, conn: conn}, conn.RemoteAddr().String(), logger, stream.DefaultSendQueue), nil
}

// SelfSignedTLS returns a server config with a fresh self-signed
// certificate for hosts.
func SelfSignedTLS(hosts ...string) (*tls.Config, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		return nil, fmt.Errorf("generating serial: %w", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: "drakan-statesync"},
		DNSNames:     hosts,
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("creating certificate: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{{Certificate: [][]byte{der}, PrivateKey: key}},
	}, nil
}
