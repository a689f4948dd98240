// Package upstream provides the pooled, rate-limited HTTP client
// StreamingFetch uses to pull artifact bytes from peer-supplied URLs and
// the dispatcher RPC layer uses for its own requests.
package upstream

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/hathnode/node/internal/circuit"
	"github.com/hathnode/node/internal/ratelimit"
	"github.com/hathnode/node/pkg/cacheerr"
)

// breakerConfig trips a candidate host after 5 consecutive failures and
// lets one trial request through 15 seconds later.
var breakerConfig = circuit.Config{
	MaxRequests: 1,
	Timeout:     15 * time.Second,
	ReadyToTrip: func(c circuit.Counts) bool { return c.ConsecutiveFailures >= 5 },
}

// handshakeTimeout bounds the TCP dial and the TLS handshake; connLifetime
// bounds how long a request waits for the response headers. The values
// match the server side's own timeouts.
const (
	handshakeTimeout = 10 * time.Second
	connLifetime     = 120 * time.Second
)

// Client is a pooled HTTP client whose raw TCP connections are wrapped in
// a shared rate limiter before the TLS/HTTP layer ever touches them. It
// supports GET only.
type Client struct {
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	breakers   *circuit.Manager
	log        *slog.Logger
}

// New constructs a Client sharing the given process-wide limiter. Each
// distinct candidate host gets its own circuit breaker, so one
// misbehaving host cannot slow down requests to the others.
func New(limiter *ratelimit.Limiter, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	c := &Client{limiter: limiter, breakers: circuit.NewManager(breakerConfig), log: log}

	dialer := &net.Dialer{Timeout: handshakeTimeout}
	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			return limiter.Limit(conn), nil
		},
		DialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			limited := limiter.Limit(conn)

			host, _, splitErr := net.SplitHostPort(addr)
			if splitErr != nil {
				host = addr
			}
			tlsConn := tls.Client(limited, &tls.Config{
				ServerName: host,
				NextProtos: []string{"h2", "http/1.1"},
				MinVersion: tls.VersionTLS12,
			})
			handshakeCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
			defer cancel()
			if err := tlsConn.HandshakeContext(handshakeCtx); err != nil {
				_ = tlsConn.Close()
				return nil, err
			}
			return tlsConn, nil
		},
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 8,
		IdleConnTimeout:     90 * time.Second,
		ResponseHeaderTimeout: connLifetime,
	}
	c.httpClient = &http.Client{Transport: transport}
	return c
}

// Get issues a rate-limited GET for rawURL. The response body must be
// closed by the caller once consumed.
func (c *Client) Get(ctx context.Context, rawURL string) (*http.Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, cacheerr.Wrap(cacheerr.KindInvalidURI, err)
	}
	switch u.Scheme {
	case "http", "https":
	default:
		return nil, cacheerr.New(cacheerr.KindUnsupportedProtocol, u.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, cacheerr.Wrap(cacheerr.KindInvalidURI, err)
	}

	breaker := c.breakers.GetBreaker(u.Host)
	var resp *http.Response
	breakerErr := breaker.ExecuteWithContext(func() error {
		var doErr error
		resp, doErr = c.httpClient.Do(req)
		return doErr
	})
	if errors.Is(breakerErr, circuit.ErrOpenState) || errors.Is(breakerErr, circuit.ErrTooManyRequests) {
		return nil, cacheerr.Wrap(cacheerr.KindUpstream, breakerErr)
	}
	if breakerErr != nil {
		return nil, cacheerr.Wrap(cacheerr.KindIO, breakerErr)
	}
	return resp, nil
}
