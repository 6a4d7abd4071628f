// Package transport builds the HTTP clients used for outbound calls to the
// store, the shipping plugin and the card processor.
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"

	utls "github.com/refraction-networking/utls"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/net/http2"
)

// DefaultTimeout bounds a single outbound request when none is configured.
const DefaultTimeout = 30 * time.Second

// Options selects how outbound requests are made.
type Options struct {
	// Timeout bounds each request, including dial and handshake.
	Timeout time.Duration
	// ChromeTLS presents a browser TLS fingerprint. Some store CDNs rate
	// limit the Go TLS stack aggressively.
	ChromeTLS bool
	// Name labels the client spans, e.g. "woocommerce".
	Name string
}

// NewClient returns an instrumented HTTP client for opts.
func NewClient(opts Options) *http.Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	var base http.RoundTripper
	if opts.ChromeTLS {
		base = NewChromeTransport(timeout)
	} else {
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.ResponseHeaderTimeout = timeout
		base = t
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: Instrument(base, opts.Name),
	}
}

// Instrument wraps rt so each request produces a client span and the
// standard HTTP client metrics.
func Instrument(rt http.RoundTripper, name string) http.RoundTripper {
	if name == "" {
		name = "outbound"
	}
	return otelhttp.NewTransport(rt,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return name + " " + r.Method + " " + r.URL.Path
		}),
	)
}

// NewChromeTransport creates an http.RoundTripper that presents Chrome's TLS
// fingerprint (uTLS HelloChrome_Auto). ALPN negotiates h2 or http/1.1; h2
// framing uses x/net/http2.
func NewChromeTransport(timeout time.Duration) http.RoundTripper {
	dialer := &net.Dialer{Timeout: timeout}

	h2Transport := &http2.Transport{
		DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
			return dialChromeTLS(ctx, dialer, network, addr)
		},
	}

	h1Transport := &http.Transport{
		DialContext: dialer.DialContext,
		DialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialChromeTLS(ctx, dialer, network, addr)
		},
		ResponseHeaderTimeout: timeout,
		ForceAttemptHTTP2:     false,
	}

	return &chromeTransport{
		h2: h2Transport,
		h1: h1Transport,
	}
}

type chromeTransport struct {
	h2 *http2.Transport
	h1 *http.Transport
}

// RoundTrip tries HTTP/2 first and falls back to HTTP/1.1. Plain http URLs
// are rejected by the h2 transport and always take the fallback.
func (t *chromeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Scheme == "https" {
		resp, err := t.h2.RoundTrip(req)
		if err == nil {
			return resp, nil
		}
		// A consumed body cannot be replayed on the fallback.
		if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
			return nil, err
		}
		if req.GetBody != nil {
			body, gerr := req.GetBody()
			if gerr != nil {
				return nil, err
			}
			req = req.Clone(req.Context())
			req.Body = body
		}
	}
	return t.h1.RoundTrip(req)
}

func dialChromeTLS(ctx context.Context, dialer *net.Dialer, network, addr string) (net.Conn, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	conn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	tlsConn := utls.UClient(conn, &utls.Config{ServerName: host}, utls.HelloChrome_Auto)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("tls handshake: %w", err)
	}

	return tlsConn, nil
}
