package cache

import (
	"context"
	"fmt"
	"time"
)

// Entry is a cached blob and its sidecar metadata, written together
type Entry struct {
	Data []byte
	Meta []byte
}

// BlobStore keeps rendered documents. Write replaces both halves of an entry
// atomically, so a reader never sees new data with stale metadata.
type BlobStore interface {
	// ReadMeta returns the sidecar only; ErrBlobNotFound when absent
	ReadMeta(ctx context.Context, key string) ([]byte, error)

	// Read returns data and sidecar; ErrBlobNotFound when either is absent
	Read(ctx context.Context, key string) (Entry, error)

	// Write stores the entry; expiry <= 0 keeps it until overwritten
	Write(ctx context.Context, key string, e Entry, expiry time.Duration) error

	Delete(ctx context.Context, key string) error

	Close() error
}

// ErrBlobNotFound is returned when a key has no stored entry
type ErrBlobNotFound struct {
	Key string
}

func (e ErrBlobNotFound) Error() string {
	return fmt.Sprintf("blob not found: %s", e.Key)
}

func IsNotFound(err error) bool {
	_, ok := err.(ErrBlobNotFound)
	return ok
}
