package storage

import (
	"context"
	"errors"
)

// ErrWrongType is returned when a string operation targets a list key or a
// list operation targets a string key.
var ErrWrongType = errors.New("operation against a key holding the wrong kind of value")

// KV is the key-value surface the history layer is built on. String values
// and lists share one key space; a key holds one kind at a time. Every single
// method call is atomic; nothing spans calls unless run through Transactor.
type KV interface {
	// Get returns the string value stored at key. ok is false when the key
	// does not exist.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)

	// Set stores value at key, overwriting any previous string value.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key whatever it holds and reports whether it existed.
	Delete(ctx context.Context, key string) (bool, error)

	// Incr atomically increments the integer at key, creating it at 1.
	Incr(ctx context.Context, key string) (int64, error)

	// Keys returns every key starting with prefix, in ascending order.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// LPush prepends value to the list at key.
	LPush(ctx context.Context, key, value string) error

	// LRange returns the elements between start and stop inclusive. Negative
	// indices count from the end, so 0, -1 is the whole list. A missing key
	// reads as an empty list.
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)

	// LRem removes occurrences of value: the first count from the head when
	// count > 0, the last -count from the tail when count < 0, all when 0.
	LRem(ctx context.Context, key string, count int64, value string) (int64, error)
}

// Transactor is implemented by stores that can run several KV calls as one
// atomic unit. If fn returns an error nothing it did is kept.
type Transactor interface {
	Update(ctx context.Context, fn func(KV) error) error
}
