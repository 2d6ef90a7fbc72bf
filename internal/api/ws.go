package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vthunder/clr/internal/logging"
	"github.com/vthunder/clr/internal/metrics"
	"github.com/vthunder/clr/internal/types"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // local dashboard and extensions
	},
}

// handleStateWS pushes one snapshot per tick. The current state is sent
// immediately on connect.
func (s *Server) handleStateWS(w http.ResponseWriter, r *http.Request) {
	// subscribe first so no tick falls between the initial state and the stream
	updates, unsubscribe := s.hub.Subscribe()
	defer func() {
		unsubscribe()
		metrics.SetSubscribers(s.hub.Count())
	}()

	current, err := s.engine.State(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("api", "WebSocket upgrade failed: %v", err)
		return
	}
	metrics.SetSubscribers(s.hub.Count())
	logging.Debug("api", "State stream connected: %s", r.RemoteAddr)

	closed := make(chan struct{})
	go readPump(conn, closed)
	writePump(conn, current, updates, closed)

	conn.Close()
	logging.Debug("api", "State stream closed: %s", r.RemoteAddr)
}

// readPump discards client messages and reports when the peer goes away
func readPump(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.Debug("api", "WebSocket read error: %v", err)
			}
			return
		}
	}
}

func writePump(conn *websocket.Conn, first types.Snapshot, updates <-chan types.Snapshot, closed <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(first); err != nil {
		return
	}

	for {
		select {
		case <-closed:
			return
		case snap, ok := <-updates:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(snap); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
