// Package ratelimit implements fixed-window request limiting with a
// pluggable bucket store and Echo middleware.
package ratelimit

import (
	"context"
	"time"
)

// Entry is the state of one fixed-window bucket.
type Entry struct {
	Key     string
	Count   int
	ResetAt time.Time
}

// Store persists bucket entries. Implementations must be safe for
// concurrent use; the Limiter serialises its read-modify-write cycle
// around a Store unless the Store also implements Hitter.
type Store interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Set(ctx context.Context, e Entry) error
	Delete(ctx context.Context, key string) error
	// Sweep deletes every entry whose window ended before the given time
	// and returns how many were removed.
	Sweep(ctx context.Context, before time.Time) (int, error)
}

// Hitter is implemented by stores that can run the whole
// check-and-increment step atomically on their side. limited reports
// whether the request was rejected; the returned entry is the state after
// the hit.
type Hitter interface {
	Hit(ctx context.Context, key string, now time.Time, rule Rule) (e Entry, limited bool, err error)
}
