package fetch

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"time"
)

type Transport uint8

const (
	Plain Transport = iota + 1
	TLS
)

func (t Transport) String() string {
	switch t {
	case Plain:
		return "plain"
	case TLS:
		return "tls"
	default:
		return "none"
	}
}

// Stream is an outbound connection that is either plain or TLS wrapped.
// The variant is chosen once at dial time. Every call switches on the tag
// and goes straight to the concrete connection.
type Stream struct {
	kind  Transport
	plain net.Conn
	tls   *tls.Conn
}

func NewPlainStream(conn net.Conn) *Stream {
	return &Stream{kind: Plain, plain: conn}
}

func NewTLSStream(conn *tls.Conn) *Stream {
	return &Stream{kind: TLS, tls: conn}
}

// DialStream connects to addr. When conf is non-nil the TLS handshake is
// completed before DialStream returns.
func DialStream(ctx context.Context, dialer *net.Dialer, addr string, conf *tls.Config) (*Stream, error) {
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &TransportError{Addr: addr, Err: err}
	}
	if conf == nil {
		return NewPlainStream(conn), nil
	}

	tconn := tls.Client(conn, conf)
	if err := tconn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, &TransportError{Addr: addr, TLS: true, Err: err}
	}
	return NewTLSStream(tconn), nil
}

func (s *Stream) Kind() Transport {
	return s.kind
}

// Read fills p directly from the underlying connection.
func (s *Stream) Read(p []byte) (int, error) {
	switch s.kind {
	case Plain:
		return s.plain.Read(p)
	case TLS:
		return s.tls.Read(p)
	}
	return 0, net.ErrClosed
}

func (s *Stream) Write(p []byte) (int, error) {
	switch s.kind {
	case Plain:
		return s.plain.Write(p)
	case TLS:
		return s.tls.Write(p)
	}
	return 0, net.ErrClosed
}

// CloseWrite shuts down the sending side. Plain connections that are not
// TCP have no half-close and report an error.
func (s *Stream) CloseWrite() error {
	switch s.kind {
	case Plain:
		if cw, ok := s.plain.(interface{ CloseWrite() error }); ok {
			return cw.CloseWrite()
		}
		return errors.ErrUnsupported
	case TLS:
		return s.tls.CloseWrite()
	}
	return net.ErrClosed
}

func (s *Stream) Close() error {
	switch s.kind {
	case Plain:
		return s.plain.Close()
	case TLS:
		return s.tls.Close()
	}
	return net.ErrClosed
}

func (s *Stream) SetDeadline(t time.Time) error {
	switch s.kind {
	case Plain:
		return s.plain.SetDeadline(t)
	case TLS:
		return s.tls.SetDeadline(t)
	}
	return net.ErrClosed
}

func (s *Stream) RemoteAddr() net.Addr {
	switch s.kind {
	case Plain:
		return s.plain.RemoteAddr()
	case TLS:
		return s.tls.RemoteAddr()
	}
	return nil
}
