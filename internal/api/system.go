package api

import (
	"net/http"
	"time"
)

// systemStatus is the JSON shape of the system status document.
type systemStatus struct {
	Version     string `json:"version"`
	UptimeS     int64  `json:"uptime_s"`
	Measuring   bool   `json:"measuring"`
	Channels    int    `json:"channels"`
	Locks       int    `json:"locks"`
	Autocal     string `json:"autocal"`
	WSClients   int    `json:"ws_clients"`
	DatabaseOK  *bool  `json:"database_ok,omitempty"`
	LastCalUnix int64  `json:"last_calibration_unix,omitempty"`
}

// handleSystemStatus returns a daemon-level status document.
func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	st := systemStatus{
		Version:   s.version,
		UptimeS:   int64(time.Since(s.started).Seconds()),
		Measuring: s.dispatcher.IsRunning(),
		Channels:  len(s.broadcaster.Snapshot()),
		Locks:     len(s.dispatcher.LockIDs()),
		Autocal:   string(s.dispatcher.AutocalStatus().State),
	}
	if s.hub != nil {
		st.WSClients = s.hub.ClientCount()
	}

	if s.db != nil {
		ok := s.db.HealthCheck(r.Context()) == nil
		st.DatabaseOK = &ok
	}
	if last := s.dispatcher.AutocalStatus().LastCalibration; !last.IsZero() {
		st.LastCalUnix = last.Unix()
	}

	writeJSON(w, http.StatusOK, st)
}
