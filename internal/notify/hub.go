// Package notify broadcasts pipeline transition events to in-process
// subscribers. Delivery is best-effort at-most-once: nothing is replayed for
// late subscribers, and a slow subscriber drops events rather than blocking
// the publisher. Clients reconcile through polling; the store is the
// authority.
//
// All subscribers of one event class share a single underlying feed,
// reference-counted per class: the first subscribe spins the feed up, the
// last unsubscribe tears it down.
package notify

import (
	"sync"
	"time"

	"github.com/melodydashora/vecto-pilot/internal/logging"
)

// Class tags an event kind.
type Class string

const (
	ClassPhaseChange   Class = "phase_change"
	ClassStrategyReady Class = "strategy_ready"
	ClassBlocksReady   Class = "blocks_ready"
)

// Event is one tagged transition notification.
type Event struct {
	Class              Class     `json:"event"`
	SnapshotID         string    `json:"snapshot_id"`
	RankingID          string    `json:"ranking_id,omitempty"`
	Phase              string    `json:"phase,omitempty"`
	PhaseStartedAt     time.Time `json:"phase_started_at,omitempty"`
	ExpectedDurationMs int64     `json:"expected_duration_ms,omitempty"`
	Status             string    `json:"status,omitempty"`
	Degraded           bool      `json:"degraded,omitempty"`
	At                 time.Time `json:"at"`
}

// feed is the single underlying subscription for one event class.
type feed struct {
	input  chan Event
	subs   map[int]chan Event
	mu     sync.Mutex
	closed bool // set before input closes; no subscriber may register after
	done   chan struct{}
}

func newFeed() *feed {
	f := &feed{
		input: make(chan Event, 64),
		subs:  make(map[int]chan Event),
		done:  make(chan struct{}),
	}
	go f.run()
	return f
}

// run fans events out to subscribers, dropping when a buffer is full.
func (f *feed) run() {
	for ev := range f.input {
		f.mu.Lock()
		for _, ch := range f.subs {
			select {
			case ch <- ev:
			default:
				// Slow subscriber: drop. Pollers reconcile from the store.
			}
		}
		f.mu.Unlock()
	}
	f.mu.Lock()
	for _, ch := range f.subs {
		close(ch)
	}
	f.subs = nil
	f.mu.Unlock()
	close(f.done)
}

// add registers a subscriber channel. It reports false when the feed has
// already been marked for teardown, in which case the caller must look the
// class up in the hub again.
func (f *feed) add(id int, ch chan Event) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	f.subs[id] = ch
	return true
}

// Hub owns the per-class feeds. Process-owned and explicit: no package-level
// mutable registry.
type Hub struct {
	mu     sync.Mutex
	feeds  map[Class]*feed
	nextID int
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{feeds: make(map[Class]*feed)}
}

// Subscription is one subscriber's view of a class feed.
type Subscription struct {
	// C delivers events until Unsubscribe (or hub teardown) closes it.
	C      <-chan Event
	cancel func()
	once   sync.Once
}

// Unsubscribe detaches from the feed. The last unsubscribe of a class tears
// the underlying feed down.
func (s *Subscription) Unsubscribe() {
	s.once.Do(s.cancel)
}

// Subscribe attaches to a class feed, creating it on first use.
func (h *Hub) Subscribe(class Class, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 16
	}
	for {
		h.mu.Lock()
		f, ok := h.feeds[class]
		if !ok {
			f = newFeed()
			h.feeds[class] = f
			logging.Notify("feed created class=%s", class)
		}
		h.nextID++
		id := h.nextID
		h.mu.Unlock()

		ch := make(chan Event, buffer)
		if !f.add(id, ch) {
			// Lost a race with the last unsubscriber's teardown. The feed is
			// already out of the hub map, so the next lookup starts fresh.
			continue
		}

		return &Subscription{
			C: ch,
			cancel: func() {
				f.mu.Lock()
				if _, ok := f.subs[id]; ok {
					delete(f.subs, id)
					close(ch)
				}
				empty := len(f.subs) == 0
				f.mu.Unlock()

				if !empty {
					return
				}
				h.mu.Lock()
				// Re-check under the hub lock: a new subscriber may have raced
				// in. Marking closed under f.mu fences any subscriber that
				// found this feed before it left the map.
				f.mu.Lock()
				stillEmpty := len(f.subs) == 0
				if stillEmpty {
					f.closed = true
				}
				f.mu.Unlock()
				if stillEmpty && h.feeds[class] == f {
					delete(h.feeds, class)
					close(f.input)
					h.mu.Unlock()
					<-f.done
					logging.Notify("feed torn down class=%s", class)
					return
				}
				h.mu.Unlock()
			},
		}
	}
}

// Publish sends an event to its class feed. No subscribers means no feed and
// the event is simply lost, which is the at-most-once contract.
func (h *Hub) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	h.mu.Lock()
	f, ok := h.feeds[ev.Class]
	h.mu.Unlock()
	if !ok {
		return
	}
	select {
	case f.input <- ev:
	default:
		logging.Notify("feed saturated class=%s, dropping event snapshot=%s", ev.Class, ev.SnapshotID)
	}
}

// Close tears down every feed. Subscriber channels close.
func (h *Hub) Close() {
	h.mu.Lock()
	feeds := h.feeds
	h.feeds = make(map[Class]*feed)
	h.mu.Unlock()
	for class, f := range feeds {
		f.mu.Lock()
		f.closed = true
		f.mu.Unlock()
		close(f.input)
		<-f.done
		logging.Notify("feed closed class=%s", class)
	}
}
