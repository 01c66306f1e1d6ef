package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"photokeep/internal/engine"
	"photokeep/internal/logging"
)

// streamOperation runs a long operation and streams its progress
// events to the client as server-sent events.
//
// The operation runs on a background context: a client that
// disconnects mid-stream does not abort it. Half-finished syncs would
// leave the library in a state the user never asked for, so once
// started, an operation runs to completion and the stream is only a
// window into it.
func (s *Server) streamOperation(w http.ResponseWriter, r *http.Request, run func(ctx context.Context, sink *engine.Sink)) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	sink := engine.NewSink(64)
	go run(context.Background(), sink)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	clientGone := false
	for ev := range sink.Events() {
		if clientGone {
			// Keep draining so the operation never blocks on a dead
			// client.
			continue
		}
		select {
		case <-r.Context().Done():
			clientGone = true
			logging.Debug("Client disconnected from %s stream, operation continues", r.URL.Path)
			continue
		default:
		}

		data, err := json.Marshal(ev)
		if err != nil {
			logging.Error("failed to encode progress event: %v", err)
			continue
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			clientGone = true
			continue
		}
		flusher.Flush()
	}
}
