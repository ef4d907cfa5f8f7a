package server

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/melodydashora/vecto-pilot/internal/notify"
)

func TestEventStreamDeliversAndFilters(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/strategy/events?snapshot_id=snap-1", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// The subscription races the first publish, so publish until the frame
	// shows up. An event for a different snapshot must never surface.
	stopPublishing := make(chan struct{})
	defer close(stopPublishing)
	go func() {
		ticker := time.NewTicker(25 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stopPublishing:
				return
			case <-ticker.C:
				f.hub.Publish(notify.Event{Class: notify.ClassPhaseChange, SnapshotID: "other-snap", Phase: "venues"})
				f.hub.Publish(notify.Event{Class: notify.ClassPhaseChange, SnapshotID: "snap-1", Phase: "immediate"})
			}
		}
	}()

	scanner := bufio.NewScanner(resp.Body)
	var sawEvent bool
	for scanner.Scan() {
		line := scanner.Text()
		assert.NotContains(t, line, "other-snap", "filtered snapshot must not leak into the stream")
		if strings.HasPrefix(line, "data: ") && strings.Contains(line, "snap-1") {
			assert.Contains(t, line, `"immediate"`)
			sawEvent = true
			break
		}
	}
	require.True(t, sawEvent, "expected a phase_change frame for snap-1")
	cancel()
}
