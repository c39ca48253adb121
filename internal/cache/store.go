package cache

import (
	"context"
	"encoding/json"
	"time"
)

// Entry is one remembered API result. In-process stores keep Value exactly as
// the fetch returned it, nil included. Serializing stores hand it back as
// Encoded.
type Entry struct {
	Key      string
	Value    any
	StoredAt time.Time
}

// Encoded is the JSON form of a value returned by a store that cannot keep Go
// values, such as redis.
type Encoded json.RawMessage

func (e Encoded) MarshalJSON() ([]byte, error) {
	if e == nil {
		return []byte("null"), nil
	}
	return e, nil
}

// Store is the entry table behind an APICallCache. Freshness is decided by
// the caller's TTL, so backends only need to keep an entry for at least the
// retention they are handed on Store. A retention of zero keeps the entry
// until it is superseded or deleted.
type Store interface {
	Lookup(ctx context.Context, key string) (Entry, bool, error)
	Store(ctx context.Context, key string, entry Entry, retention time.Duration) error
	DeletePrefix(ctx context.Context, prefix string) error
	Size(ctx context.Context) (int64, error)
	Close(ctx context.Context) error
}
