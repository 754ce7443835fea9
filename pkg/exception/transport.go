package exception

import "errors"

// Transport errors
var (
	// ErrConnectFailed is returned when a dial or handshake does not
	// produce a usable connection. Retryable.
	ErrConnectFailed = errors.New("transport: connect failed")

	// ErrAuthExpired is returned when the server rejects the credential
	// during the handshake or closes with an auth code. Not retryable
	// until the caller refreshes the credential.
	ErrAuthExpired = errors.New("transport: auth expired")

	// ErrNotConnected is returned by send paths while no live
	// connection exists.
	ErrNotConnected = errors.New("transport: not connected")

	// ErrConnectionClosed is returned by reads and writes after the
	// connection has been torn down.
	ErrConnectionClosed = errors.New("transport: connection closed")

	// ErrRetriesExhausted is returned when the reconnect attempt budget
	// runs out.
	ErrRetriesExhausted = errors.New("transport: retries exhausted")

	// ErrProtocol is returned for frames that cannot be decoded. The
	// frame is dropped; the connection stays up.
	ErrProtocol = errors.New("transport: protocol error")

	// ErrQueueFull is returned when a bounded frame queue rejects an
	// entry under its overflow policy.
	ErrQueueFull = errors.New("transport: queue full")

	// ErrClientClosed is returned by operations on a client whose run
	// loop has been stopped for good.
	ErrClientClosed = errors.New("transport: client closed")
)
