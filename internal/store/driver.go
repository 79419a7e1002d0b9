package store

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDocumentTooLarge is returned when a document exceeds the size limit.
	ErrDocumentTooLarge = errors.New("document too large")
)

// Driver is a document store organised in buckets of key/value pairs.
// Values are opaque bytes; keys within a bucket are ordered bytewise.
type Driver interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	// Put stores value under key, replacing any previous value.
	Put(ctx context.Context, bucket, key string, value []byte) error
	// PutIfAbsent stores value unless key already exists. It returns the
	// value held after the call and whether this call created it. It is
	// atomic: concurrent callers racing on one key all get the same value.
	PutIfAbsent(ctx context.Context, bucket, key string, value []byte) ([]byte, bool, error)
	// Scan calls fn for every key with the given prefix, in key order. fn
	// may call back into the driver.
	Scan(ctx context.Context, bucket, prefix string, fn func(key string, value []byte) error) error
	// DeletePrefix removes every key with the given prefix.
	DeletePrefix(ctx context.Context, bucket, prefix string) error
	// Sync blocks until all previous writes are durable.
	Sync(ctx context.Context) error
	Close() error
}

type pair struct {
	key   string
	value []byte
}

// prefixEnd returns the smallest key greater than every key with prefix,
// or "" when no such key exists.
func prefixEnd(prefix string) string {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xff {
			b[i]++
			return string(b[:i+1])
		}
	}
	return ""
}
