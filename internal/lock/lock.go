// Package lock implements per-snapshot mutual exclusion as a heartbeat-leased
// TTL row in SQLite. Acquire and release are each a single atomic statement
// scoped to an owner token, so a pooled connection can never strand a lock
// the way a session-scoped primitive can. Acquisition is non-blocking: a
// losing caller treats the snapshot as already in flight and polls.
package lock

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/melodydashora/vecto-pilot/internal/logging"
)

// Coordinator hands out per-snapshot leases.
type Coordinator struct {
	db        *sql.DB
	ttl       time.Duration
	heartbeat time.Duration
}

// New creates the coordinator and its lease table.
func New(db *sql.DB, ttl, heartbeat time.Duration) (*Coordinator, error) {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	if heartbeat <= 0 || heartbeat >= ttl {
		heartbeat = ttl / 3
	}
	schema := `
	CREATE TABLE IF NOT EXISTS pipeline_leases (
		lease_key INTEGER PRIMARY KEY,
		snapshot_id TEXT NOT NULL,
		owner TEXT NOT NULL,
		expires_at INTEGER NOT NULL
	);`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to create lease table: %w", err)
	}
	return &Coordinator{db: db, ttl: ttl, heartbeat: heartbeat}, nil
}

// Lease is one held lock. Lifetime is bounded to the unit of work that
// acquired it; Release is safe to call more than once and is guaranteed to
// run via defer on every orchestrator exit path.
type Lease struct {
	coord      *Coordinator
	key        int64
	snapshotID string
	owner      string
	stopOnce   sync.Once
	stop       chan struct{}
	done       chan struct{}
}

// keyFor maps a snapshot id onto the integer lease keyspace.
func keyFor(snapshotID string) int64 {
	h := fnv.New64a()
	h.Write([]byte(snapshotID))
	return int64(h.Sum64())
}

// TryAcquire attempts to take the lease for a snapshot. Returns (lease, true)
// on success, (nil, false) when another orchestrator holds it. Never blocks.
func (c *Coordinator) TryAcquire(ctx context.Context, snapshotID string) (*Lease, bool, error) {
	key := keyFor(snapshotID)
	owner := uuid.NewString()
	now := time.Now().UnixMilli()
	expires := now + c.ttl.Milliseconds()

	// Single atomic upsert: steal only an expired lease.
	res, err := c.db.ExecContext(ctx, `
		INSERT INTO pipeline_leases (lease_key, snapshot_id, owner, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(lease_key) DO UPDATE
		SET snapshot_id = excluded.snapshot_id, owner = excluded.owner, expires_at = excluded.expires_at
		WHERE pipeline_leases.expires_at < ?`,
		key, snapshotID, owner, expires, now)
	if err != nil {
		return nil, false, fmt.Errorf("lease acquire failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("lease acquire failed: %w", err)
	}
	if n == 0 {
		logging.Lock("lease busy snapshot=%s", snapshotID)
		return nil, false, nil
	}

	l := &Lease{
		coord:      c,
		key:        key,
		snapshotID: snapshotID,
		owner:      owner,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	go l.heartbeatLoop()
	logging.Lock("lease acquired snapshot=%s owner=%s ttl=%v", snapshotID, owner, c.ttl)
	return l, true, nil
}

// heartbeatLoop extends the lease while the unit of work is alive.
func (l *Lease) heartbeatLoop() {
	defer close(l.done)
	ticker := time.NewTicker(l.coord.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			expires := time.Now().Add(l.coord.ttl).UnixMilli()
			res, err := l.coord.db.Exec(`
				UPDATE pipeline_leases SET expires_at = ? WHERE lease_key = ? AND owner = ?`,
				expires, l.key, l.owner)
			if err != nil {
				logging.Lock("heartbeat failed snapshot=%s: %v", l.snapshotID, err)
				continue
			}
			if n, _ := res.RowsAffected(); n == 0 {
				// Lease was stolen after expiry; stop renewing.
				logging.Lock("lease lost snapshot=%s owner=%s", l.snapshotID, l.owner)
				return
			}
		}
	}
}

// Release drops the lease. Only the owner row is deleted; releasing a lease
// that expired and was stolen is a no-op.
func (l *Lease) Release() {
	l.stopOnce.Do(func() {
		close(l.stop)
		<-l.done
		_, err := l.coord.db.Exec(`
			DELETE FROM pipeline_leases WHERE lease_key = ? AND owner = ?`, l.key, l.owner)
		if err != nil {
			logging.Lock("lease release failed snapshot=%s: %v", l.snapshotID, err)
			return
		}
		logging.Lock("lease released snapshot=%s owner=%s", l.snapshotID, l.owner)
	})
}

// SnapshotID returns the snapshot this lease covers.
func (l *Lease) SnapshotID() string { return l.snapshotID }
