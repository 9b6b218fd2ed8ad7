package api

import (
	"log/slog"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// handleWebSocket upgrades the connection and pumps client messages into
// the connection manager until the peer disconnects.
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // cross-origin dashboards; auth is out of band
	})
	if err != nil {
		slog.Warn("WebSocket upgrade failed", "error", err)
		return
	}

	connID := uuid.New().String()
	s.manager.RegisterConnection(connID, conn)
	defer s.manager.UnregisterConnection(connID)
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx := c.Request.Context()
	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			slog.Debug("WebSocket closed", "connection_id", connID, "error", err)
			return
		}
		if msgType != websocket.MessageText {
			continue
		}
		s.manager.HandleClientMessage(ctx, connID, data)
	}
}
