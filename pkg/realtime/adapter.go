package realtime

import "context"

// Conn is a minimal interface for an established connection.
type Conn interface {
	// Read blocks until the next data frame arrives. The returned slice
	// is owned by the caller.
	Read(ctx context.Context) ([]byte, error)
	// Write sends one data frame. Safe for one writer at a time.
	Write(ctx context.Context, payload []byte) error
	// Ping sends a keepalive probe.
	Ping(ctx context.Context) error
	// Close tears the connection down with a close code and reason.
	Close(code CloseCode, reason string) error
}

// Dialer creates new connections.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// CredentialProvider supplies the bearer token attached to each dial.
// Token is called once per dial attempt so a refreshed credential is
// picked up without restarting the client.
type CredentialProvider interface {
	Token(ctx context.Context) (string, error)
}

// TopicDecoder extracts the topic name from an inbound payload.
// Returning false drops the frame without touching the connection.
type TopicDecoder interface {
	DecodeTopic(payload []byte) (string, bool)
}

// ControlEncoder builds subscribe and unsubscribe payloads.
type ControlEncoder interface {
	EncodeSubscribe(topic string) ([]byte, error)
	EncodeUnsubscribe(topic string) ([]byte, error)
}
