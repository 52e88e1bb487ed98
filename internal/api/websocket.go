package api

import (
	"net/http"

	"github.com/gorilla/websocket"
)

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// handleWebSocket upgrades a dashboard connection and hands it to the
// session registry, which owns it from then on.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	if _, err := s.sessions.Serve(conn, r.RemoteAddr); err != nil {
		s.logger.Warn("dashboard session rejected", "error", err)
	}
}
