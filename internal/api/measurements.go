package api

import (
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/QUEST-EQM/wavemeter/internal/broadcast"
)

// handleListMeasurements returns the latest state of every channel.
func (s *Server) handleListMeasurements(w http.ResponseWriter, _ *http.Request) {
	snapshot := s.broadcaster.Snapshot()

	channels := make([]string, 0, len(snapshot))
	for ch := range snapshot {
		channels = append(channels, ch)
	}
	sort.Strings(channels)

	out := make([]measurementPayload, 0, len(snapshot))
	for _, ch := range channels {
		out = append(out, measurementEvent(broadcast.Event{Channel: ch, State: snapshot[ch]}))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"measurements": out,
		"count":        len(out),
	})
}

// handleGetMeasurement returns the latest state of one channel.
func (s *Server) handleGetMeasurement(w http.ResponseWriter, r *http.Request) {
	channel := chi.URLParam(r, "channel")

	st, ok := s.broadcaster.State(channel)
	if !ok {
		writeNotFound(w, "no measurements for channel "+channel)
		return
	}
	writeJSON(w, http.StatusOK, measurementEvent(broadcast.Event{Channel: channel, State: st}))
}
