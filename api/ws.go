package api

import (
	"log"
	"net/http"

	"github.com/gorilla/websocket"
)

// The API binds to localhost for a single teacher, so any origin on
// the machine is acceptable.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// LiveSocket streams snapshots to a dashboard client: the current one
// immediately, then every update until the client disconnects.
func LiveSocket(m Monitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("Failed to upgrade to WebSocket: %v", err)
			return
		}
		defer conn.Close()

		updates, cancel := m.Subscribe()
		defer cancel()

		if err := conn.WriteJSON(m.Snapshot()); err != nil {
			return
		}

		// Drain reads so we notice the peer going away.
		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case snap, ok := <-updates:
				if !ok {
					return
				}
				if err := conn.WriteJSON(snap); err != nil {
					return
				}
			case <-closed:
				return
			}
		}
	}
}
