package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/QUEST-EQM/wavemeter/internal/command"
	"github.com/QUEST-EQM/wavemeter/internal/instrument"
)

// handleInstrumentStart starts measurement. A no-op if already running.
func (s *Server) handleInstrumentStart(w http.ResponseWriter, r *http.Request) {
	if err := s.dispatcher.Start(r.Context()); err != nil {
		writeInternalError(w, "starting measurement: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"running": true})
}

// handleInstrumentStop stops measurement. A no-op if already stopped.
func (s *Server) handleInstrumentStop(w http.ResponseWriter, r *http.Request) {
	if err := s.dispatcher.Stop(r.Context()); err != nil {
		writeInternalError(w, "stopping measurement: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"running": false})
}

type calibrateRequest struct {
	Channel string  `json:"channel"`
	Value   float64 `json:"value"`
}

// handleInstrumentCalibrate performs a direct instrument calibration,
// bypassing the autocal verification sequence.
func (s *Server) handleInstrumentCalibrate(w http.ResponseWriter, r *http.Request) {
	var req calibrateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Channel == "" {
		writeBadRequest(w, "channel is required")
		return
	}

	if err := s.dispatcher.Calibrate(r.Context(), req.Channel, req.Value); err != nil {
		switch {
		case errors.Is(err, command.ErrCommandRejected):
			writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
		case errors.Is(err, instrument.ErrUnknownChannel):
			writeNotFound(w, "unknown channel "+req.Channel)
		default:
			writeInternalError(w, "calibrating: "+err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"channel": req.Channel,
		"value":   req.Value,
	})
}

// handleGetExposure returns a channel's exposure time in milliseconds.
func (s *Server) handleGetExposure(w http.ResponseWriter, r *http.Request) {
	channel := chi.URLParam(r, "channel")

	ms, err := s.dispatcher.Exposure(r.Context(), channel)
	if err != nil {
		if errors.Is(err, instrument.ErrUnknownChannel) {
			writeNotFound(w, "unknown channel "+channel)
			return
		}
		writeInternalError(w, "reading exposure: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"channel":     channel,
		"exposure_ms": ms,
	})
}

type exposureRequest struct {
	ExposureMS int `json:"exposure_ms"`
}

// handleSetExposure sets a channel's exposure time in milliseconds.
func (s *Server) handleSetExposure(w http.ResponseWriter, r *http.Request) {
	channel := chi.URLParam(r, "channel")

	var req exposureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.dispatcher.SetExposure(r.Context(), channel, req.ExposureMS); err != nil {
		switch {
		case errors.Is(err, instrument.ErrUnknownChannel):
			writeNotFound(w, "unknown channel "+channel)
		case errors.Is(err, instrument.ErrInvalidExposure):
			writeBadRequest(w, err.Error())
		default:
			writeInternalError(w, "setting exposure: "+err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"channel":     channel,
		"exposure_ms": req.ExposureMS,
	})
}
