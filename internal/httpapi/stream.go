package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"custodia.org/internal/auth"
)

const streamHeartbeat = 15 * time.Second

// Stream handles Server-Sent Events for newly appended audit records.
func (a *API) Stream(w http.ResponseWriter, r *http.Request, _ routeParams, _ auth.Identity) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if a.stream == nil {
		writeError(w, r, http.StatusServiceUnavailable, "streaming disabled")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	// The stream outlives the server WriteTimeout; heartbeats detect dead peers.
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
		a.log.WarnContext(r.Context(), "stream write deadline not cleared",
			"request_id", RequestIDFromContext(r.Context()), "error", err)
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ch := a.stream.Subscribe(ctx)

	// Send an initial comment to establish the stream
	_, _ = w.Write([]byte(": stream started\n\n"))
	flusher.Flush()

	heartbeat := time.NewTicker(streamHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case rec, open := <-ch:
			if !open {
				return
			}
			payload, err := json.Marshal(rec)
			if err != nil {
				continue
			}
			_, _ = w.Write([]byte("id: " + strconv.FormatUint(rec.Sequence, 10) + "\nevent: audit\ndata: "))
			_, _ = w.Write(payload)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		case <-heartbeat.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		}
	}
}
