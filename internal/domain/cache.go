package domain

import (
	"context"
	"io"
	"time"
)

// ListingCache holds short-lived listing snapshots so read endpoints do not
// have to take the marketplace engine lock.
type ListingCache interface {
	Set(ctx context.Context, listing ListingRecord) error
	Get(ctx context.Context, id int64) (ListingRecord, error)
	GetByToken(ctx context.Context, collection Account, tokenID int) (ListingRecord, error)
	Invalidate(ctx context.Context, id int64) error
}

// LockManager provides distributed locks for operations that must be
// serialized across processes.
type LockManager interface {
	// Acquire returns an unlock function on success, or ErrLockHeld when the
	// lock is already taken.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// RateLimiter throttles bid submission per bidder account.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// StreamMessage is one durable bus entry with its broker-assigned id.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus is the pub/sub fabric carrying marketplace events to the
// websocket feed and other subscribers. Publish/Subscribe are ephemeral;
// the stream methods give durable, ordered delivery for the settlement
// journal.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// BlobWriter stores token metadata documents and settlement archives in
// object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// BlobInfo describes a stored object.
type BlobInfo struct {
	Path         string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// BlobReader retrieves objects from object storage.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// BlobDeleter removes objects from object storage.
type BlobDeleter interface {
	Delete(ctx context.Context, path string) error
}
