// Package transport provides the mutual-TLS HTTPS channel to the remote CA
// service. A Connection is bound to one base endpoint URL and one client
// key/certificate pair; server certificates are validated through a
// truststore.Store so CRL decisions apply to the TLS handshake.
package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/awheeler/certmint/truststore"
)

// ErrTransport is returned for handshake failures, certificate validation
// failures (including revocation), connection refusal and timeouts. Callers
// must not retry automatically; retry policy belongs to the workflow layer.
var ErrTransport = errors.New("transport failure")

// DefaultTimeout bounds every request when the settings layer supplies none.
const DefaultTimeout = 30 * time.Second

// defaultUserAgent identifies the client on the wire.
const defaultUserAgent = "certmint/1.0"

// Result is the outcome of one verb operation. Non-2xx statuses are carried
// here rather than raised as errors; only transport-level failures use the
// error channel.
type Result struct {
	StatusCode int
	Body       []byte
}

// Options configures a Connection.
type Options struct {
	// Timeout bounds the dial, the handshake and each request.
	Timeout time.Duration
	// UserAgent overrides the default User-Agent header.
	UserAgent string
}

// Connection is a live mutual-TLS session bound to one base endpoint URL.
// It is not safe for concurrent use across identities unless the caller
// serializes requests; the provisioning workflow drives it sequentially.
type Connection struct {
	base    *url.URL
	client  *http.Client
	headers http.Header
}

// Connect opens a TLS session to the host in rawURL, presenting the client
// certificate at certPath/keyPath and validating the server's chain against
// store (including revocation checks per the store's mode). The handshake is
// performed eagerly so that certificate problems surface here rather than on
// the first verb call.
func Connect(ctx context.Context, rawURL, certPath, keyPath string, store *truststore.Store, opts Options) (*Connection, error) {
	base, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing endpoint URL %q: %v", ErrTransport, rawURL, err)
	}
	if base.Scheme != "https" {
		return nil, fmt.Errorf("%w: endpoint %q must use https", ErrTransport, rawURL)
	}

	clientCert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("%w: loading client certificate: %v", ErrTransport, err)
	}

	host := base.Hostname()
	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{clientCert},
		MinVersion:   tls.VersionTLS12,
		ServerName:   host,
		// Chain building and revocation checks are delegated to the trust
		// store; crypto/tls cannot consult CRLs on its own.
		InsecureSkipVerify: true,
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			return store.Verify(rawCerts, host)
		},
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	if err := probeHandshake(ctx, base, tlsConfig, timeout); err != nil {
		return nil, err
	}

	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	headers := http.Header{}
	headers.Set("User-Agent", userAgent)
	headers.Set("Content-Type", "application/json")
	headers.Set("Accept", "application/json")

	return &Connection{
		base: base,
		client: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig:     tlsConfig,
				TLSHandshakeTimeout: timeout,
			},
			Timeout: timeout,
		},
		headers: headers,
	}, nil
}

// probeHandshake dials the endpoint once and completes a TLS handshake, then
// discards the connection. Refusal, handshake and validation problems all
// surface as ErrTransport.
func probeHandshake(ctx context.Context, base *url.URL, cfg *tls.Config, timeout time.Duration) error {
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dialer := &net.Dialer{Timeout: timeout}
	rawConn, err := dialer.DialContext(dialCtx, "tcp", hostPort(base))
	if err != nil {
		return fmt.Errorf("%w: connecting to %s: %v", ErrTransport, hostPort(base), err)
	}
	tlsConn := tls.Client(rawConn, cfg)
	if err := tlsConn.HandshakeContext(dialCtx); err != nil {
		rawConn.Close()
		return fmt.Errorf("%w: TLS handshake with %s: %v", ErrTransport, hostPort(base), err)
	}
	return tlsConn.Close()
}

// Get retrieves path (relative to the bound URL, or an absolute override
// URL) with optional header overrides.
func (c *Connection) Get(ctx context.Context, path string, hdr http.Header) (*Result, error) {
	return c.do(ctx, http.MethodGet, path, nil, hdr)
}

// Put sends body to path with optional header overrides.
func (c *Connection) Put(ctx context.Context, path string, body []byte, hdr http.Header) (*Result, error) {
	return c.do(ctx, http.MethodPut, path, body, hdr)
}

// Delete removes the resource at path with optional header overrides.
func (c *Connection) Delete(ctx context.Context, path string, hdr http.Header) (*Result, error) {
	return c.do(ctx, http.MethodDelete, path, nil, hdr)
}

func (c *Connection) do(ctx context.Context, method, path string, body []byte, hdr http.Header) (*Result, error) {
	target, err := c.resolve(path)
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("%w: building %s request: %v", ErrTransport, method, err)
	}

	// Defaults first, then per-call overrides on top.
	for name, values := range c.headers {
		req.Header[name] = values
	}
	for name, values := range hdr {
		req.Header[http.CanonicalHeaderKey(name)] = values
	}
	req.Header.Set("X-Request-Id", uuid.NewString())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", ErrTransport, method, target, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response from %s: %v", ErrTransport, target, err)
	}
	return &Result{StatusCode: resp.StatusCode, Body: data}, nil
}

// resolve turns path into the request URL: empty means the bound URL,
// a full URL is an explicit override, anything else is appended to the
// bound URL's path.
func (c *Connection) resolve(path string) (string, error) {
	if path == "" {
		return c.base.String(), nil
	}
	if strings.Contains(path, "://") {
		override, err := url.Parse(path)
		if err != nil {
			return "", fmt.Errorf("%w: parsing override URL %q: %v", ErrTransport, path, err)
		}
		return override.String(), nil
	}
	joined := *c.base
	joined.Path = strings.TrimSuffix(c.base.Path, "/") + "/" + strings.TrimPrefix(path, "/")
	return joined.String(), nil
}

// Close releases the connection's resources. Safe to call on every exit
// path, including after transport failures.
func (c *Connection) Close() {
	c.client.CloseIdleConnections()
}

func hostPort(u *url.URL) string {
	port := u.Port()
	if port == "" {
		port = "443"
	}
	return net.JoinHostPort(u.Hostname(), port)
}
