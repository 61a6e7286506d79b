package websocket

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/mtr002/tenant-jobs/internal/auth"
	"github.com/mtr002/tenant-jobs/internal/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// connections authenticate with a bearer token, not cookies
	CheckOrigin: func(*http.Request) bool { return true },
}

// HandleWebSocket upgrades an authenticated request and registers the
// connection under the caller's user id.
func HandleWebSocket(hub *Hub, w http.ResponseWriter, r *http.Request) {
	caller, ok := auth.CallerFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Logger.Warn().Err(err).Msg("WebSocket upgrade error")
		return
	}

	client := &Client{
		hub:    hub,
		conn:   conn,
		userID: caller.UserID,
		send:   make(chan []byte, 256),
	}

	select {
	case hub.register <- client:
	case <-hub.done:
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}
