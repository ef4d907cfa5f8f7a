package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/melodydashora/vecto-pilot/internal/notify"
)

// sseKeepalive bounds how long a proxy sees a silent stream. It must stay
// under the server write timeout.
const sseKeepalive = 15 * time.Second

// handleEvents streams pipeline events as server sent events. Delivery is
// best-effort: a dropped event is recovered on the next status poll, so the
// stream carries no replay state. An optional snapshot_id query narrows the
// stream to one run.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	snapshotID := r.URL.Query().Get("snapshot_id")

	phases := s.hub.Subscribe(notify.ClassPhaseChange, 16)
	defer phases.Unsubscribe()
	strategies := s.hub.Subscribe(notify.ClassStrategyReady, 16)
	defer strategies.Unsubscribe()
	blocks := s.hub.Subscribe(notify.ClassBlocksReady, 16)
	defer blocks.Unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepalive := time.NewTicker(sseKeepalive)
	defer keepalive.Stop()

	s.log.Info("event stream opened", zap.String("snapshot_id", snapshotID))
	for {
		select {
		case <-r.Context().Done():
			s.log.Info("event stream closed", zap.String("snapshot_id", snapshotID))
			return
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case ev, open := <-phases.C:
			if !s.writeEvent(w, flusher, ev, open, snapshotID) {
				return
			}
		case ev, open := <-strategies.C:
			if !s.writeEvent(w, flusher, ev, open, snapshotID) {
				return
			}
		case ev, open := <-blocks.C:
			if !s.writeEvent(w, flusher, ev, open, snapshotID) {
				return
			}
		}
	}
}

// writeEvent emits one SSE frame, skipping events for other snapshots.
// Returns false when the feed closed and the stream should end.
func (s *Server) writeEvent(w http.ResponseWriter, flusher http.Flusher, ev notify.Event, open bool, snapshotID string) bool {
	if !open {
		return false
	}
	if snapshotID != "" && ev.SnapshotID != snapshotID {
		return true
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return true
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Class, payload)
	flusher.Flush()
	return true
}
