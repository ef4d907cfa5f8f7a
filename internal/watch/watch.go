// Package watch implements the client side of strategy sync: an exponential
// backoff poller over the status endpoint, optionally accelerated by push
// events. Push is a hint only; every state the client acts on comes from a
// poll response.
package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/melodydashora/vecto-pilot/internal/config"
	"github.com/melodydashora/vecto-pilot/internal/logging"
	"github.com/melodydashora/vecto-pilot/internal/notify"
	"github.com/melodydashora/vecto-pilot/internal/store"
)

// Update is one observed strategy state.
type Update struct {
	SnapshotID  string                  `json:"snapshot_id"`
	Status      string                  `json:"status"`
	Phase       string                  `json:"phase,omitempty"`
	Degraded    bool                    `json:"degraded,omitempty"`
	Narrative   string                  `json:"narrative,omitempty"`
	ErrorKind   string                  `json:"error_kind,omitempty"`
	ErrorDetail string                  `json:"error_detail,omitempty"`
	RankingID   string                  `json:"ranking_id,omitempty"`
	Blocks      []store.RankedCandidate `json:"blocks,omitempty"`
}

// Terminal reports whether no further polling can change the outcome.
func (u *Update) Terminal() bool {
	return u.Status == string(store.StatusOK) || u.Status == string(store.StatusFailed)
}

// Fetcher retrieves the current state for a snapshot.
type Fetcher interface {
	FetchStatus(ctx context.Context, snapshotID string) (*Update, error)
}

// HTTPFetcher polls a remote strategy server.
type HTTPFetcher struct {
	BaseURL string
	Client  *http.Client
}

// FetchStatus issues one status poll.
func (f *HTTPFetcher) FetchStatus(ctx context.Context, snapshotID string) (*Update, error) {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.BaseURL+"/api/strategy/status/"+snapshotID, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status poll returned %d", resp.StatusCode)
	}
	var u Update
	if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
		return nil, fmt.Errorf("decode status poll: %w", err)
	}
	return &u, nil
}

// Watcher drives the poll loop for one snapshot at a time.
type Watcher struct {
	fetcher    Fetcher
	initial    time.Duration
	max        time.Duration
	multiplier float64
}

// New builds a watcher from the sync configuration.
func New(fetcher Fetcher, cfg *config.Config) *Watcher {
	mult := cfg.Sync.PollMultiplier
	if mult < 1 {
		mult = 2
	}
	return &Watcher{
		fetcher:    fetcher,
		initial:    cfg.GetPollInitial(),
		max:        cfg.GetPollMax(),
		multiplier: mult,
	}
}

// Watch polls until the strategy settles or the context ends. Every
// successful poll is delivered on the returned channel; the channel closes
// after a terminal update or cancellation. Push events on events (which may
// be nil) trigger an immediate poll and reset the backoff; events for other
// snapshots are discarded.
func (w *Watcher) Watch(ctx context.Context, snapshotID string, events <-chan notify.Event) <-chan Update {
	out := make(chan Update, 4)
	go w.loop(ctx, snapshotID, events, out)
	return out
}

func (w *Watcher) loop(ctx context.Context, snapshotID string, events <-chan notify.Event, out chan<- Update) {
	defer close(out)

	delay := w.initial
	timer := time.NewTimer(delay)
	defer timer.Stop()

	poll := func() (terminal bool) {
		u, err := w.fetcher.FetchStatus(ctx, snapshotID)
		if err != nil {
			if ctx.Err() != nil {
				return true
			}
			logging.Server("watch poll failed snapshot=%s: %v", snapshotID, err)
			return false
		}
		select {
		case out <- *u:
		case <-ctx.Done():
			return true
		}
		return u.Terminal()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, open := <-events:
			if !open {
				events = nil
				continue
			}
			if ev.SnapshotID != snapshotID {
				continue
			}
			// A push hint means the state just moved. Poll now and start
			// the backoff over.
			if poll() {
				return
			}
			delay = w.initial
			resetTimer(timer, delay)
		case <-timer.C:
			if poll() {
				return
			}
			delay = w.nextDelay(delay)
			timer.Reset(delay)
		}
	}
}

func (w *Watcher) nextDelay(d time.Duration) time.Duration {
	next := time.Duration(float64(d) * w.multiplier)
	if next > w.max {
		next = w.max
	}
	return next
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
