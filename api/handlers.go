package api

import (
	"encoding/json"
	"net/http"

	"github.com/arisehq/live-monitor/monitor"
	"github.com/arisehq/live-monitor/state"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// GetSnapshot returns the full live view.
func GetSnapshot(m Monitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, m.Snapshot())
	}
}

// GetDevice returns just the device classification.
func GetDevice(m Monitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, m.Snapshot().Device)
	}
}

// GetStats returns the monitor run counters.
func GetStats(m Monitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, m.Stats())
	}
}

type extendRequest struct {
	Minutes int `json:"minutes"`
}

// ExtendSession requests a server-side extension. An expired session
// is refused here without contacting the backend.
func ExtendSession(m Monitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req extendRequest
		if r.Body != nil {
			json.NewDecoder(r.Body).Decode(&req)
		}

		err := m.Extend(req.Minutes)
		switch err {
		case nil:
			writeJSON(w, http.StatusOK, m.Snapshot())
		case monitor.ErrNoActiveSession:
			writeError(w, http.StatusNotFound, err.Error())
		case monitor.ErrSessionExpired:
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusBadGateway, err.Error())
		}
	}
}

// EndSession ends the session explicitly.
func EndSession(m Monitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := m.End()
		switch err {
		case nil:
			writeJSON(w, http.StatusOK, m.Snapshot())
		case monitor.ErrNoActiveSession:
			writeError(w, http.StatusNotFound, err.Error())
		default:
			writeError(w, http.StatusBadGateway, err.Error())
		}
	}
}

type tabRequest struct {
	CurrentTab        string `json:"current_tab"`
	CurrentHomeScreen string `json:"current_home_screen"`
}

// SetTab persists the dashboard's tab position so a restart lands on
// the same screen.
func SetTab(store *state.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			writeError(w, http.StatusNotFound, "no resume state configured")
			return
		}

		var req tabRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		err := store.Update(func(p *state.Persisted) {
			if req.CurrentTab != "" {
				p.CurrentTab = req.CurrentTab
			}
			if req.CurrentHomeScreen != "" {
				p.CurrentHomeScreen = req.CurrentHomeScreen
			}
		})
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
