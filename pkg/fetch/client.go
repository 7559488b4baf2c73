package fetch

import (
	"bufio"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/golang/glog"
	"golang.org/x/net/idna"
)

const Version = "0.1.0"

// UserAgent is sent with every request.
const UserAgent = "sarascript/" + Version

const (
	// DefaultSecurePort is the port that selects TLS.
	DefaultSecurePort = 443
	plainPort         = 80
)

const (
	DefaultConnectTimeout = 5 * time.Second
	DefaultTLSTimeout     = 5 * time.Second
	DefaultRequestTimeout = 60 * time.Second
)

// Fetcher retrieves the body of a remote resource.
type Fetcher interface {
	Fetch(ctx context.Context, uri string) ([]byte, error)
}

// Resolver turns a host name into addresses. *net.Resolver satisfies it.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// Client performs one HTTP/1.1 GET per Fetch over a fresh connection.
//
// The zero value is usable: it has no default authority, resolves through
// net.DefaultResolver and trusts the system roots.
type Client struct {
	// DefaultAuthority supplies the host (and possibly the port) for URIs
	// that carry no host, e.g. "/fragment.html".
	DefaultAuthority string
	Resolver         Resolver
	RootCAs          *x509.CertPool
	// SecurePort is the port that selects TLS, DefaultSecurePort when zero.
	// TLS is chosen by port, never by URI scheme.
	SecurePort int

	ConnectTimeout time.Duration
	TLSTimeout     time.Duration
	RequestTimeout time.Duration
}

// Target is a URI resolved against the client's default authority.
type Target struct {
	Host string
	Port int
	// Defaulted is set when Host came from the default authority.
	Defaulted bool
	TLS       bool
	Path      string
	RawQuery  string
}

// Authority is the Host header value: the host, plus the port when it is
// not the conventional one for the chosen transport.
func (t Target) Authority() string {
	if (t.TLS && t.Port == DefaultSecurePort) || (!t.TLS && t.Port == plainPort) {
		return hostLiteral(t.Host)
	}
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

func (t Target) RequestURI() string {
	u := url.URL{Path: t.Path, RawQuery: t.RawQuery}
	return u.RequestURI()
}

func (t Target) String() string {
	return t.Authority() + t.RequestURI()
}

func (c *Client) securePort() int {
	if c.SecurePort > 0 {
		return c.SecurePort
	}
	return DefaultSecurePort
}

func (c *Client) resolver() Resolver {
	if c.Resolver != nil {
		return c.Resolver
	}
	return net.DefaultResolver
}

func durationOr(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}

// Resolve applies the authority policy to uri without touching the network.
//
// The host is the URI's host, else the default authority's host. The port
// is the URI's port, else the default authority's port when the host came
// from it, else the secure port.
func (c *Client) Resolve(uri string) (Target, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return Target{}, &ResolutionError{Host: uri, Err: err}
	}
	if u.Opaque != "" {
		return Target{}, &ResolutionError{Host: uri, Err: fmt.Errorf("unsupported URI %q", uri)}
	}

	t := Target{Host: u.Hostname(), Path: u.Path, RawQuery: u.RawQuery}
	portText := u.Port()
	if t.Host == "" {
		def, err := ParseAuthority(c.DefaultAuthority)
		if err != nil {
			return Target{}, &ResolutionError{Host: uri, Err: err}
		}
		t.Host = def.Hostname()
		t.Defaulted = true
		if portText == "" {
			portText = def.Port()
		}
	}

	if portText != "" {
		port, err := strconv.Atoi(portText)
		if err != nil || port <= 0 || port > 65535 {
			return Target{}, &ResolutionError{Host: uri, Err: fmt.Errorf("invalid port %q", portText)}
		}
		t.Port = port
	} else {
		t.Port = c.securePort()
	}
	t.TLS = t.Port == c.securePort()

	if !strings.HasPrefix(t.Path, "/") {
		t.Path = "/" + t.Path
	}

	host, err := normalizeHost(t.Host)
	if err != nil {
		return Target{}, &ResolutionError{Host: t.Host, Err: err}
	}
	t.Host = host
	return t, nil
}

// ParseAuthority parses "host[:port]", also accepting a full URL.
func ParseAuthority(authority string) (*url.URL, error) {
	if authority == "" {
		return nil, errors.New("no host in URI and no default authority configured")
	}
	raw := authority
	if !strings.Contains(raw, "://") {
		raw = "//" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("default authority %q: %w", authority, err)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("default authority %q has no host", authority)
	}
	return u, nil
}

func normalizeHost(host string) (string, error) {
	if net.ParseIP(host) != nil {
		return host, nil
	}
	return idna.New(
		idna.MapForLookup(),
		idna.Transitional(true),
		idna.StrictDomainName(false),
	).ToASCII(strings.TrimSpace(host))
}

func hostLiteral(host string) string {
	if strings.Contains(host, ":") {
		return "[" + host + "]"
	}
	return host
}

// Fetch GETs uri and returns its body.
func (c *Client) Fetch(ctx context.Context, uri string) ([]byte, error) {
	target, err := c.Resolve(uri)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, durationOr(c.RequestTimeout, DefaultRequestTimeout))
	defer cancel()

	glog.V(1).Infof("[fetch] GET %s:%d%s (%s)\n", target.Host, target.Port, target.RequestURI(), transportOf(target))

	stream, err := c.connect(ctx, target)
	if err != nil {
		return nil, withContextErr(ctx, err)
	}
	defer stream.Close()

	stop, err := bindDeadline(ctx, stream, target)
	if err != nil {
		return nil, err
	}
	defer stop()

	body, err := c.roundTrip(ctx, stream, target)
	if err != nil {
		return nil, withContextErr(ctx, err)
	}
	return body, nil
}

// bindDeadline makes the stream's I/O end with ctx: at its deadline, or at
// once when it is cancelled.
func bindDeadline(ctx context.Context, stream *Stream, target Target) (func() bool, error) {
	if deadline, ok := ctx.Deadline(); ok {
		if err := stream.SetDeadline(deadline); err != nil {
			return nil, &TransportError{Addr: target.Authority(), TLS: target.TLS, Err: err}
		}
	}
	return context.AfterFunc(ctx, func() {
		stream.SetDeadline(time.Now())
	}), nil
}

// withContextErr attaches the context's error so that callers can tell a
// cancelled fetch from a failed one with errors.Is.
func withContextErr(ctx context.Context, err error) error {
	if ctx.Err() == nil || errors.Is(err, ctx.Err()) {
		return err
	}
	return fmt.Errorf("%w (%w)", err, ctx.Err())
}

func transportOf(t Target) Transport {
	if t.TLS {
		return TLS
	}
	return Plain
}

func (c *Client) connect(ctx context.Context, target Target) (*Stream, error) {
	addrs, err := c.resolver().LookupHost(ctx, target.Host)
	if err != nil {
		return nil, &ResolutionError{Host: target.Host, Err: err}
	}
	if len(addrs) == 0 {
		return nil, &ResolutionError{Host: target.Host, Err: errors.New("no addresses")}
	}

	var conf *tls.Config
	if target.TLS {
		conf = &tls.Config{
			ServerName: target.Host,
			RootCAs:    c.RootCAs,
			MinVersion: tls.VersionTLS12,
		}
	}
	dialer := &net.Dialer{Timeout: durationOr(c.ConnectTimeout, DefaultConnectTimeout)}

	var errs []error
	for _, addr := range addrs {
		hctx, cancel := context.WithTimeout(ctx, durationOr(c.ConnectTimeout, DefaultConnectTimeout)+durationOr(c.TLSTimeout, DefaultTLSTimeout))
		stream, err := DialStream(hctx, dialer, net.JoinHostPort(addr, strconv.Itoa(target.Port)), conf)
		cancel()
		if err == nil {
			return stream, nil
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	return nil, errors.Join(errs...)
}

func (c *Client) roundTrip(ctx context.Context, stream *Stream, target Target) ([]byte, error) {
	u := &url.URL{
		Scheme:   "http",
		Host:     target.Authority(),
		Path:     target.Path,
		RawQuery: target.RawQuery,
	}
	if target.TLS {
		u.Scheme = "https"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, &ProtocolError{URI: u.String(), Err: err}
	}
	req.Host = target.Authority()
	req.Header.Set("User-Agent", UserAgent)
	req.Close = true

	bw := bufio.NewWriter(stream)
	if err := req.Write(bw); err != nil {
		return nil, &TransportError{Addr: target.Authority(), TLS: target.TLS, Err: err}
	}
	if err := bw.Flush(); err != nil {
		return nil, &TransportError{Addr: target.Authority(), TLS: target.TLS, Err: err}
	}

	resp, err := http.ReadResponse(bufio.NewReader(stream), req)
	if err != nil {
		return nil, &ProtocolError{URI: u.String(), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ProtocolError{URI: u.String(), Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, &ProtocolError{URI: u.String(), Status: resp.StatusCode, Err: errStatus}
	}
	if !utf8.Valid(body) {
		return nil, &ProtocolError{URI: u.String(), Status: resp.StatusCode, Err: errNotUTF8}
	}
	return body, nil
}
