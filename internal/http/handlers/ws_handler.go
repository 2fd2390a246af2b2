// README: WebSocket endpoint: session registration, ping/pong, driver location updates, offline on disconnect.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"campusride/internal/http/middleware"
	"campusride/internal/infra"
	"campusride/internal/modules/driver"
	"campusride/internal/modules/location"
	"campusride/internal/realtime"
	"campusride/internal/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 4096
)

type presence interface {
	Connected(userID types.ID) bool
}

type WSHandler struct {
	registry realtime.Registry
	drivers  *driver.Service
	location *location.Service
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

func NewWSHandler(registry realtime.Registry, drivers *driver.Service, locationSvc *location.Service, logger *slog.Logger) *WSHandler {
	return &WSHandler{
		registry: registry,
		drivers:  drivers,
		location: locationSvc,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Clients are mobile apps authenticated by token, not browsers
			// relying on cookies.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger,
	}
}

// wsConn bounds every write made by the hub's writer goroutine.
type wsConn struct {
	*websocket.Conn
}

func (c wsConn) WriteJSON(v any) error {
	_ = c.SetWriteDeadline(time.Now().Add(writeWait))
	return c.Conn.WriteJSON(v)
}

type inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (h *WSHandler) Serve(c *gin.Context) {
	uid := types.ID(middleware.CallerUID(c))
	var driverID types.ID
	if middleware.CallerRole(c) == infra.RoleDriver {
		d, ok := callerDriver(c, h.drivers)
		if !ok {
			return
		}
		driverID = d.ID
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("ws_upgrade_failed", "user_id", uid, "error", err)
		return
	}
	session := h.registry.Register(uid, wsConn{conn})
	h.logger.Info("ws_connected", "user_id", uid, "session_id", session.ID)

	ctx := context.WithoutCancel(c.Request.Context())
	defer h.disconnect(ctx, session, driverID)

	go keepalive(conn, session)
	h.readLoop(ctx, conn, uid, driverID)
}

func keepalive(conn *websocket.Conn, session *realtime.Session) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-session.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, uid, driverID types.ID) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg inbound
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Info("ws_read_closed", "user_id", uid, "error", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		switch msg.Type {
		case "ping":
			h.registry.Send(uid, realtime.Message{Type: realtime.TypePong, Data: gin.H{"timestamp": time.Now().UnixMilli()}})
		case "location_update":
			h.locationUpdate(ctx, uid, driverID, msg.Data)
		default:
			h.sendError(uid, "unknown message type")
		}
	}
}

func (h *WSHandler) locationUpdate(ctx context.Context, uid, driverID types.ID, data json.RawMessage) {
	if driverID == "" {
		h.sendError(uid, "forbidden: driver role required")
		return
	}
	var req locationUpdateReq
	if err := json.Unmarshal(data, &req); err != nil {
		h.sendError(uid, "invalid location payload")
		return
	}
	p, ok := req.point()
	if !ok {
		h.sendError(uid, "validation: lat and lng are required")
		return
	}
	if _, err := h.location.Update(ctx, driverID, p, req.Heading); err != nil {
		h.sendError(uid, err.Error())
	}
}

func (h *WSHandler) sendError(uid types.ID, msg string) {
	h.registry.Send(uid, realtime.Message{Type: realtime.TypeError, Data: gin.H{"message": msg}})
}

// disconnect unregisters the session and, for drivers with no other live
// session, takes the driver offline.
func (h *WSHandler) disconnect(ctx context.Context, session *realtime.Session, driverID types.ID) {
	h.registry.Unregister(session)
	h.logger.Info("ws_disconnected", "user_id", session.UserID, "session_id", session.ID)
	if driverID == "" {
		return
	}
	if p, ok := h.registry.(presence); ok && p.Connected(session.UserID) {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := h.drivers.SetOnline(ctx, driverID, false); err != nil {
		h.logger.Warn("ws_driver_offline_failed", "driver_id", driverID, "error", err)
	}
	h.location.Forget(ctx, driverID)
}
