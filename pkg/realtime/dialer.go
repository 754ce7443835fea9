package realtime

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/yanun0323/errors"

	"main/pkg/exception"
)

const (
	defaultHandshakeTimeout = 30 * time.Second
	defaultWriteWait        = 10 * time.Second
)

// WSDialer dials a WebSocket endpoint with a bearer credential. The
// credential is fetched fresh on every attempt so a rotated token takes
// effect on the next dial without rebuilding the client.
type WSDialer struct {
	endpoint         string
	creds            CredentialProvider
	header           http.Header
	handshakeTimeout time.Duration
	readWait         time.Duration
	writeWait        time.Duration
}

// DialOption tweaks a WSDialer.
type DialOption func(*WSDialer)

// WithHandshakeTimeout bounds the dial plus upgrade exchange.
func WithHandshakeTimeout(d time.Duration) DialOption {
	return func(w *WSDialer) { w.handshakeTimeout = d }
}

// WithReadWait sets the idle read deadline, extended by pongs.
func WithReadWait(d time.Duration) DialOption {
	return func(w *WSDialer) { w.readWait = d }
}

// WithWriteWait sets the per-write deadline used when the context
// carries none.
func WithWriteWait(d time.Duration) DialOption {
	return func(w *WSDialer) { w.writeWait = d }
}

// WithHeader adds a static header to every handshake request.
func WithHeader(key, value string) DialOption {
	return func(w *WSDialer) {
		if w.header == nil {
			w.header = http.Header{}
		}
		w.header.Set(key, value)
	}
}

// NewDialer creates a dialer for the given ws:// or wss:// endpoint.
// creds may be nil for unauthenticated endpoints.
func NewDialer(endpoint string, creds CredentialProvider, opts ...DialOption) *WSDialer {
	d := &WSDialer{
		endpoint:         endpoint,
		creds:            creds,
		handshakeTimeout: defaultHandshakeTimeout,
		writeWait:        defaultWriteWait,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dial performs the handshake and returns an established connection.
// HTTP 401 and 403 responses map to ErrAuthExpired, everything else to
// ErrConnectFailed.
func (d *WSDialer) Dial(ctx context.Context) (Conn, error) {
	header := http.Header{}
	for key, values := range d.header {
		for _, value := range values {
			header.Add(key, value)
		}
	}
	if d.creds != nil {
		token, err := d.creds.Token(ctx)
		if err != nil {
			return nil, errors.Wrap(exception.ErrConnectFailed, "fetch credential")
		}
		if token != "" {
			header.Set("Authorization", "Bearer "+token)
		}
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.handshakeTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, d.endpoint, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, errors.Wrapf(exception.ErrAuthExpired, "handshake rejected with %d", resp.StatusCode)
		}
		return nil, errors.Wrap(exception.ErrConnectFailed, err.Error()).With("endpoint", d.endpoint)
	}
	return newWSConn(conn, d.readWait, d.writeWait), nil
}

// StaticToken is a CredentialProvider for a token that never rotates.
type StaticToken string

// Token returns the fixed token.
func (t StaticToken) Token(context.Context) (string, error) {
	return string(t), nil
}
