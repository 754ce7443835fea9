package chat

import (
	"context"
	"time"
)

// Range bounds a history query. Zero After and Before mean unbounded on
// that side. Limit caps the result count; zero means no cap. Queries
// keep the newest rows when trimming, returned in ascending CreatedAt.
type Range struct {
	After  time.Time
	Before time.Time
	Limit  int
}

// Store persists message history. Append upserts by message ID so
// delivery state changes overwrite the stored copy instead of piling up
// duplicates. Implementations must be safe for concurrent use.
type Store interface {
	Append(ctx context.Context, msg Message) error
	Query(ctx context.Context, topic string, r Range) ([]Message, error)
}
