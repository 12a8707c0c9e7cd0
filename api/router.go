package api

import (
	"github.com/gorilla/mux"

	"github.com/arisehq/live-monitor/monitor"
	"github.com/arisehq/live-monitor/state"
	"github.com/arisehq/live-monitor/types"
)

// Monitor is the slice of the live monitor the dashboard API needs.
type Monitor interface {
	Snapshot() monitor.Snapshot
	Stats() types.MonitorStats
	Extend(minutes int) error
	End() error
	Subscribe() (<-chan monitor.Snapshot, func())
}

// NewRouter creates the local dashboard router. The store may be nil
// when no resume state is kept.
func NewRouter(m Monitor, store *state.Store) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/api/live/snapshot", GetSnapshot(m)).Methods("GET")
	r.HandleFunc("/api/live/device", GetDevice(m)).Methods("GET")
	r.HandleFunc("/api/live/ws", LiveSocket(m))
	r.HandleFunc("/api/monitor/stats", GetStats(m)).Methods("GET")

	r.HandleFunc("/api/session/extend", ExtendSession(m)).Methods("POST")
	r.HandleFunc("/api/session/end", EndSession(m)).Methods("POST")

	r.HandleFunc("/api/ui/tab", SetTab(store)).Methods("POST")

	return r
}
