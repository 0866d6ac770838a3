package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/QUEST-EQM/wavemeter/internal/store"
)

// profileRequest is the JSON body for profile create/update.
type profileRequest struct {
	Name         string   `json:"name"`
	LockID       string   `json:"lock_id"`
	Channel      string   `json:"channel"`
	Setpoint     float64  `json:"setpoint"`
	Kp           float64  `json:"kp"`
	Ki           float64  `json:"ki"`
	OutputOffset float64  `json:"output_offset"`
	Sensitivity  *float64 `json:"sensitivity,omitempty"`
}

// handleListProfiles returns all profiles, optionally filtered by lock.
func (s *Server) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	if s.profiles == nil {
		writeNotFound(w, "profile storage not available")
		return
	}

	var (
		profiles []store.Profile
		err      error
	)
	if lockID := r.URL.Query().Get("lock_id"); lockID != "" {
		profiles, err = s.profiles.ListByLock(r.Context(), lockID)
	} else {
		profiles, err = s.profiles.List(r.Context())
	}
	if err != nil {
		writeInternalError(w, "listing profiles: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"profiles": profiles,
		"count":    len(profiles),
	})
}

// handleGetProfile returns one profile.
func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	if s.profiles == nil {
		writeNotFound(w, "profile storage not available")
		return
	}

	p, err := s.profiles.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, store.ErrProfileNotFound) {
			writeNotFound(w, "profile not found")
			return
		}
		writeInternalError(w, "getting profile: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handleCreateProfile stores a new profile. When the body omits lock
// parameters, the named lock's current status fills them in, which is how a
// working point is snapshotted.
func (s *Server) handleCreateProfile(w http.ResponseWriter, r *http.Request) {
	if s.profiles == nil {
		writeNotFound(w, "profile storage not available")
		return
	}

	var req profileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Name == "" || req.LockID == "" {
		writeBadRequest(w, "name and lock_id are required")
		return
	}

	p := store.Profile{
		Name:         req.Name,
		LockID:       req.LockID,
		Channel:      req.Channel,
		Setpoint:     req.Setpoint,
		Kp:           req.Kp,
		Ki:           req.Ki,
		OutputOffset: req.OutputOffset,
	}
	if req.Sensitivity != nil {
		p.Sensitivity = *req.Sensitivity
	}

	// Snapshot the live lock when the request carries no parameters.
	if req.Channel == "" {
		c, err := s.dispatcher.Lock(req.LockID)
		if err != nil {
			writeNotFound(w, "unknown lock "+req.LockID)
			return
		}
		st := c.Status()
		p.Channel = st.Channel
		p.Setpoint = st.Setpoint
		p.Kp = st.Kp
		p.Ki = st.Ki
		p.OutputOffset = st.OutputOffset
		p.Sensitivity = st.Sensitivity
	}

	if err := s.profiles.Create(r.Context(), &p); err != nil {
		if errors.Is(err, store.ErrProfileExists) {
			writeError(w, http.StatusConflict, ErrCodeConflict, "profile name already in use for this lock")
			return
		}
		writeInternalError(w, "creating profile: "+err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// handleUpdateProfile modifies an existing profile.
func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	if s.profiles == nil {
		writeNotFound(w, "profile storage not available")
		return
	}

	p, err := s.profiles.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, store.ErrProfileNotFound) {
			writeNotFound(w, "profile not found")
			return
		}
		writeInternalError(w, "getting profile: "+err.Error())
		return
	}

	var req profileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if req.Name != "" {
		p.Name = req.Name
	}
	if req.Channel != "" {
		p.Channel = req.Channel
	}
	if req.Setpoint != 0 {
		p.Setpoint = req.Setpoint
	}
	if req.Kp != 0 {
		p.Kp = req.Kp
	}
	if req.Ki != 0 {
		p.Ki = req.Ki
	}
	if req.OutputOffset != 0 {
		p.OutputOffset = req.OutputOffset
	}
	if req.Sensitivity != nil {
		p.Sensitivity = *req.Sensitivity
	}

	if err := s.profiles.Update(r.Context(), p); err != nil {
		if errors.Is(err, store.ErrProfileExists) {
			writeError(w, http.StatusConflict, ErrCodeConflict, "profile name already in use for this lock")
			return
		}
		writeInternalError(w, "updating profile: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handleDeleteProfile removes a profile.
func (s *Server) handleDeleteProfile(w http.ResponseWriter, r *http.Request) {
	if s.profiles == nil {
		writeNotFound(w, "profile storage not available")
		return
	}

	if err := s.profiles.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		if errors.Is(err, store.ErrProfileNotFound) {
			writeNotFound(w, "profile not found")
			return
		}
		writeInternalError(w, "deleting profile: "+err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleApplyProfile loads a profile into its lock controller.
func (s *Server) handleApplyProfile(w http.ResponseWriter, r *http.Request) {
	if s.profiles == nil {
		writeNotFound(w, "profile storage not available")
		return
	}

	p, err := s.profiles.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, store.ErrProfileNotFound) {
			writeNotFound(w, "profile not found")
			return
		}
		writeInternalError(w, "getting profile: "+err.Error())
		return
	}

	c, err := s.dispatcher.Lock(p.LockID)
	if err != nil {
		writeNotFound(w, "unknown lock "+p.LockID)
		return
	}
	if err := c.SetGains(p.Kp, p.Ki); err != nil {
		writeBadRequest(w, "profile gains rejected: "+err.Error())
		return
	}
	c.SetSetpoint(p.Setpoint)
	c.SetSensitivity(p.Sensitivity)

	writeJSON(w, http.StatusOK, c.Status())
}
