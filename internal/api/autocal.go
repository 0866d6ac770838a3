package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/QUEST-EQM/wavemeter/internal/autocal"
	"github.com/QUEST-EQM/wavemeter/internal/command"
)

// handleAutocalStatus returns the autocal machine's status snapshot.
func (s *Server) handleAutocalStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.dispatcher.AutocalStatus())
}

// handleAutocalConfigure stores the cycle config used by the next start.
func (s *Server) handleAutocalConfigure(w http.ResponseWriter, r *http.Request) {
	var cfg autocal.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if cfg.Channel == "" {
		writeBadRequest(w, "channel is required")
		return
	}
	if cfg.Countdown < 1 {
		writeBadRequest(w, "countdown must be at least 1")
		return
	}
	if cfg.Threshold < 0 {
		writeBadRequest(w, "threshold must not be negative")
		return
	}

	s.dispatcher.ConfigureAutocal(cfg)
	writeJSON(w, http.StatusOK, cfg)
}

// handleAutocalStart begins a calibration cycle with the stored config.
func (s *Server) handleAutocalStart(w http.ResponseWriter, _ *http.Request) {
	if err := s.dispatcher.StartAutocal(); err != nil {
		if errors.Is(err, command.ErrCommandRejected) {
			writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
			return
		}
		writeInternalError(w, "starting autocal: "+err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, s.dispatcher.AutocalStatus())
}

// handleAutocalAbort cancels the active calibration cycle.
func (s *Server) handleAutocalAbort(w http.ResponseWriter, _ *http.Request) {
	if err := s.dispatcher.AbortAutocal(); err != nil {
		if errors.Is(err, command.ErrCommandRejected) {
			writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
			return
		}
		writeInternalError(w, "aborting autocal: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.dispatcher.AutocalStatus())
}

// handleAutocalHistory returns recent calibration log entries.
func (s *Server) handleAutocalHistory(w http.ResponseWriter, r *http.Request) {
	if s.callog == nil {
		writeNotFound(w, "calibration history not available")
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	entries, err := s.callog.ListRecent(r.Context(), limit)
	if err != nil {
		writeInternalError(w, "listing calibration history: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}
