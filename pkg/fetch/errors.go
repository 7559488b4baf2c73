package fetch

import (
	"errors"
	"fmt"
)

type ErrorKind uint8

const (
	KindUnknown ErrorKind = iota
	KindResolution
	KindTransport
	KindProtocol
)

func (k ErrorKind) String() string {
	switch k {
	case KindResolution:
		return "resolution"
	case KindTransport:
		return "transport"
	case KindProtocol:
		return "protocol"
	default:
		return "unknown"
	}
}

// ResolutionError means the target could not be turned into an address:
// a malformed URI or authority, or a failed DNS lookup.
type ResolutionError struct {
	Host string
	Err  error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve %s: %v", e.Host, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// TransportError means a connection or TLS session could not be set up, or
// broke while the request was being written.
type TransportError struct {
	Addr string
	TLS  bool
	Err  error
}

func (e *TransportError) Error() string {
	if e.TLS {
		return fmt.Sprintf("tls %s: %v", e.Addr, e.Err)
	}
	return fmt.Sprintf("dial %s: %v", e.Addr, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError means the server answered with something that is not a
// usable HTTP/1 response body.
type ProtocolError struct {
	URI    string
	Status int
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("get %s: status %d: %v", e.URI, e.Status, e.Err)
	}
	return fmt.Sprintf("get %s: %v", e.URI, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

var (
	errStatus  = errors.New("unexpected response status")
	errNotUTF8 = errors.New("response body is not valid UTF-8")
)

// Kind classifies err by the first fetch error found in its chain.
func Kind(err error) ErrorKind {
	var (
		re *ResolutionError
		te *TransportError
		pe *ProtocolError
	)
	switch {
	case errors.As(err, &re):
		return KindResolution
	case errors.As(err, &te):
		return KindTransport
	case errors.As(err, &pe):
		return KindProtocol
	default:
		return KindUnknown
	}
}
