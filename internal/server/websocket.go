package server

import (
	"net/http"
	"time"

	"github.com/distractdiverge/shared-canvas/internal/broadcast"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Client-only frame types managing the connection's presence registration.
const (
	wsFrameTrack   = "track"
	wsFrameUntrack = "untrack"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPongTimeout  = 60 * time.Second
	wsPingInterval = 30 * time.Second
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The API is origin-agnostic, matching the permissive CORS policy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWebSocket bridges a remote client onto the room's broadcast channel.
// Inbound frames are republished to the hub (track/untrack frames manage the
// connection's presence record); every hub event is forwarded outbound.
func (h *httpHandler) handleWebSocket(c *gin.Context) {
	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	hub := h.rooms.Room(h.roomName)
	subscription := hub.Subscribe(c.Request.Context())

	go h.writePump(conn, subscription)
	h.readPump(conn, hub, subscription)
}

func (h *httpHandler) readPump(conn *websocket.Conn, hub *broadcast.Hub, subscription *broadcast.Subscription) {
	defer func() {
		subscription.Close()
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	})

	for {
		var event broadcast.Event
		if err := conn.ReadJSON(&event); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("websocket read failed", zap.Error(err))
			}
			return
		}

		switch event.Type {
		case wsFrameTrack:
			var record broadcast.PresenceRecord
			if err := event.DecodePayload(&record); err != nil {
				h.logger.Warn("presence track frame ignored", zap.Error(err))
				continue
			}
			subscription.Track(record)
		case wsFrameUntrack:
			subscription.Untrack()
		default:
			hub.Publish(event)
		}
	}
}

func (h *httpHandler) writePump(conn *websocket.Conn, subscription *broadcast.Subscription) {
	pinger := time.NewTicker(wsPingInterval)
	defer func() {
		pinger.Stop()
		conn.Close()
	}()

	for {
		select {
		case <-subscription.Done():
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case event := <-subscription.Events():
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		case <-pinger.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
