// Package idempotency deduplicates repeated mutating requests. The first
// request with a key executes; racing duplicates share the in-flight call;
// later duplicates get the cached response until TTL expiry. Keys are built
// from the endpoint, snapshot id, and the client token only — never from
// request payload content, so a spoofed body cannot poison another caller's
// cached result.
package idempotency

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/melodydashora/vecto-pilot/internal/logging"
)

// Key builds a gate key. The client token comes from the Idempotency-Key
// header.
func Key(endpoint, snapshotID, token string) string {
	return fmt.Sprintf("%s|%s|%s", endpoint, snapshotID, token)
}

// Outcome reports how a request was admitted.
type Outcome int

const (
	// FirstRequest means this call executed the underlying operation.
	FirstRequest Outcome = iota
	// Duplicate means the result came from an in-flight or cached execution.
	Duplicate
)

type entry struct {
	value   interface{}
	expires time.Time
}

// Gate is a shared, concurrently safe, TTL-evicted request deduplicator.
type Gate struct {
	group    singleflight.Group
	mu       sync.Mutex
	cache    map[string]entry
	ttl      time.Duration
	stopOnce sync.Once
	stop     chan struct{}
}

// NewGate creates a gate whose completed results live for ttl.
func NewGate(ttl time.Duration) *Gate {
	g := &Gate{
		cache: make(map[string]entry),
		ttl:   ttl,
		stop:  make(chan struct{}),
	}
	go g.janitor()
	return g
}

// Admit runs fn exactly once per key. Concurrent callers sharing the key
// block on the same execution and all receive its result; a key whose
// execution completed successfully within TTL is served from cache without
// re-executing side effects. Failed executions are not cached: the caller's
// retry path is a new snapshot, not a replay.
func (g *Gate) Admit(key string, fn func() (interface{}, error)) (interface{}, Outcome, error) {
	g.mu.Lock()
	if e, ok := g.cache[key]; ok && time.Now().Before(e.expires) {
		g.mu.Unlock()
		logging.Server("idempotency cache hit key=%s", key)
		return e.value, Duplicate, nil
	}
	g.mu.Unlock()

	v, err, shared := g.group.Do(key, func() (interface{}, error) {
		v, err := fn()
		if err != nil {
			return nil, err
		}
		g.mu.Lock()
		g.cache[key] = entry{value: v, expires: time.Now().Add(g.ttl)}
		g.mu.Unlock()
		return v, nil
	})
	if err != nil {
		return nil, FirstRequest, err
	}
	if shared {
		return v, Duplicate, nil
	}
	return v, FirstRequest, nil
}

// janitor sweeps expired entries.
func (g *Gate) janitor() {
	interval := g.ttl
	if interval > time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-g.stop:
			return
		case <-ticker.C:
			now := time.Now()
			g.mu.Lock()
			for k, e := range g.cache {
				if now.After(e.expires) {
					delete(g.cache, k)
				}
			}
			g.mu.Unlock()
		}
	}
}

// Close stops the eviction janitor.
func (g *Gate) Close() {
	g.stopOnce.Do(func() { close(g.stop) })
}
