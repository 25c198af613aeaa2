// Package cache persists raw source responses keyed by request identity so
// re-runs never hit a source twice for the same request. Entries never
// expire; they are removed only by an explicit clear.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Entry is one cached response.
type Entry struct {
	Status    int       `json:"status"`
	Body      []byte    `json:"body"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Stats summarizes the contents of a backend, per namespace.
type Stats struct {
	Entries map[string]int   `json:"entries"`
	Bytes   map[string]int64 `json:"bytes"`
}

// Backend stores entries under a namespace (one per source) and key.
// Implementations must be safe for concurrent use.
type Backend interface {
	// Get returns nil, nil on a miss.
	Get(ctx context.Context, ns, key string) (*Entry, error)
	Put(ctx context.Context, ns, key string, e Entry) error
	// Clear removes every entry in ns and returns how many were removed.
	Clear(ctx context.Context, ns string) (int, error)
	ClearAll(ctx context.Context) (int, error)
	Stats(ctx context.Context) (Stats, error)
	Close() error
}

// Key derives the cache key for a request. Identical method, URL and params
// give an identical key regardless of param insertion order or process.
// Params that cannot be encoded are an error, never a shared key.
func Key(method, url string, params map[string]any) (string, error) {
	// encoding/json writes map keys in sorted order.
	p := []byte("{}")
	if len(params) > 0 {
		b, err := json.Marshal(params)
		if err != nil {
			return "", eris.Wrap(err, "cache: encode params")
		}
		p = b
	}
	h := sha256.New()
	h.Write([]byte(strings.ToUpper(method)))
	h.Write([]byte{':'})
	h.Write([]byte(url))
	h.Write([]byte{':'})
	h.Write(p)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Config selects and configures a backend.
type Config struct {
	Driver string // "sqlite" (default) or "badger"
	Path   string
}

// Open opens the backend named by cfg.Driver.
func Open(cfg Config) (Backend, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "sqlite":
		return OpenSQLite(cfg.Path)
	case "badger":
		return OpenBadger(cfg.Path)
	default:
		return nil, eris.Errorf("cache: unknown driver %q", cfg.Driver)
	}
}
