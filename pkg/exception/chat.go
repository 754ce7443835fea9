package exception

import "errors"

// Chat errors
var (
	ErrSessionClosed     = errors.New("chat: session closed")
	ErrEmptyTopic        = errors.New("chat: empty topic")
	ErrOutboxFull        = errors.New("chat: outbox full")
	ErrUnknownMessage    = errors.New("chat: unknown message id")
	ErrDuplicateMessage  = errors.New("chat: duplicate message id")
	ErrInvalidTransition = errors.New("chat: invalid delivery transition")
	ErrMessageImmutable  = errors.New("chat: message state is terminal")
)
