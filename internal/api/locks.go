package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/QUEST-EQM/wavemeter/internal/command"
	"github.com/QUEST-EQM/wavemeter/internal/lock"
)

// handleListLocks returns a status snapshot per configured lock.
func (s *Server) handleListLocks(w http.ResponseWriter, _ *http.Request) {
	statuses := s.dispatcher.LockStatuses()
	writeJSON(w, http.StatusOK, map[string]any{
		"locks": statuses,
		"count": len(statuses),
	})
}

// handleGetLock returns one lock's status snapshot.
func (s *Server) handleGetLock(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	c, err := s.dispatcher.Lock(id)
	if err != nil {
		writeNotFound(w, "unknown lock "+id)
		return
	}
	writeJSON(w, http.StatusOK, c.Status())
}

// handleLockEnable engages a lock.
func (s *Server) handleLockEnable(w http.ResponseWriter, r *http.Request) {
	s.lockCommand(w, r, func(id string) error {
		return s.dispatcher.EnableLock(id)
	})
}

// handleLockDisable disengages a lock.
func (s *Server) handleLockDisable(w http.ResponseWriter, r *http.Request) {
	s.lockCommand(w, r, func(id string) error {
		return s.dispatcher.DisableLock(id)
	})
}

type setpointRequest struct {
	Setpoint float64 `json:"setpoint"`
}

// handleLockSetpoint updates a lock's base setpoint.
func (s *Server) handleLockSetpoint(w http.ResponseWriter, r *http.Request) {
	var req setpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	s.lockCommand(w, r, func(id string) error {
		return s.dispatcher.SetSetpoint(id, req.Setpoint)
	})
}

type gainsRequest struct {
	Kp float64 `json:"kp"`
	Ki float64 `json:"ki"`
}

// handleLockGains updates a lock's PI gains.
func (s *Server) handleLockGains(w http.ResponseWriter, r *http.Request) {
	var req gainsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	s.lockCommand(w, r, func(id string) error {
		return s.dispatcher.SetGains(id, req.Kp, req.Ki)
	})
}

type scanRequest struct {
	Amplitude float64       `json:"amplitude"`
	PeriodMS  int           `json:"period_ms"`
	Waveform  lock.Waveform `json:"waveform,omitempty"`
}

// handleLockScanStart begins a setpoint scan around the base setpoint.
func (s *Server) handleLockScanStart(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	s.lockCommand(w, r, func(id string) error {
		return s.dispatcher.StartScan(id, req.Amplitude,
			time.Duration(req.PeriodMS)*time.Millisecond, req.Waveform)
	})
}

// handleLockScanStop ends a lock's setpoint scan.
func (s *Server) handleLockScanStop(w http.ResponseWriter, r *http.Request) {
	s.lockCommand(w, r, func(id string) error {
		return s.dispatcher.StopScan(id)
	})
}

type auxRequest struct {
	Value float64 `json:"value"`
}

// handleLockAux applies a value to a lock's auxiliary output.
func (s *Server) handleLockAux(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req auxRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	applied, err := s.dispatcher.SetAuxOutput(r.Context(), id, req.Value)
	if err != nil {
		s.writeLockError(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":    id,
		"value": applied,
	})
}

type sensitivityRequest struct {
	Step     float64 `json:"step"`
	SettleMS int     `json:"settle_ms"`
}

// handleLockMeasureSensitivity runs the feed-forward sensitivity estimate.
func (s *Server) handleLockMeasureSensitivity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req sensitivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.SettleMS <= 0 {
		req.SettleMS = 2000
	}

	sens, err := s.dispatcher.MeasureSensitivity(r.Context(), id, req.Step,
		time.Duration(req.SettleMS)*time.Millisecond)
	if err != nil {
		s.writeLockError(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":          id,
		"sensitivity": sens,
	})
}

// lockCommand runs a lock command and writes the resulting status snapshot.
func (s *Server) lockCommand(w http.ResponseWriter, r *http.Request, fn func(id string) error) {
	id := chi.URLParam(r, "id")

	if err := fn(id); err != nil {
		s.writeLockError(w, id, err)
		return
	}

	c, err := s.dispatcher.Lock(id)
	if err != nil {
		writeNotFound(w, "unknown lock "+id)
		return
	}
	writeJSON(w, http.StatusOK, c.Status())
}

// writeLockError maps lock command failures onto HTTP responses.
func (s *Server) writeLockError(w http.ResponseWriter, id string, err error) {
	switch {
	case errors.Is(err, command.ErrUnknownLock):
		writeNotFound(w, "unknown lock "+id)
	case errors.Is(err, command.ErrCommandRejected):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	default:
		writeInternalError(w, err.Error())
	}
}
