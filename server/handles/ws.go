package handles

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/draftsync/draftsync/internal/model"
	"github.com/draftsync/draftsync/internal/push"
	"github.com/draftsync/draftsync/pkg/utils"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 50 * time.Second
	// wsSendBuffer bounds per-connection backlog; a slow consumer misses
	// events instead of stalling publishers, and resyncs on reconnect.
	wsSendBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WSHandler upgrades observers to the push transport and bridges them into
// the subscription multiplexer.
type WSHandler struct {
	mux *push.Multiplexer
}

func NewWSHandler(mux *push.Multiplexer) *WSHandler {
	return &WSHandler{mux: mux}
}

type wsConn struct {
	id   string
	ws   *websocket.Conn
	send chan model.ServerMessage
	done chan struct{}
}

func (c *wsConn) ID() string { return c.id }

// Send enqueues without blocking; when the buffer is full the event is
// dropped on the floor.
func (c *wsConn) Send(msg model.ServerMessage) {
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		utils.Log.Debugf("connection %s backlog full, dropping %s for task %s", c.id, msg.Event, msg.TaskID)
	}
}

// Serve handles GET /api/ws.
func (h *WSHandler) Serve(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		utils.Log.Warnf("websocket upgrade failed: %v", err)
		return
	}
	conn := &wsConn{
		id:   uuid.NewString(),
		ws:   ws,
		send: make(chan model.ServerMessage, wsSendBuffer),
		done: make(chan struct{}),
	}
	go conn.writePump()
	h.readPump(conn)
}

func (h *WSHandler) readPump(conn *wsConn) {
	defer func() {
		h.mux.OnConnectionClosed(conn.id)
		close(conn.done)
		_ = conn.ws.Close()
	}()
	conn.ws.SetReadLimit(4096)
	_ = conn.ws.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.ws.SetPongHandler(func(string) error {
		return conn.ws.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				utils.Log.Debugf("connection %s closed: %v", conn.id, err)
			}
			return
		}
		var msg model.ClientMessage
		if err := utils.Json.Unmarshal(data, &msg); err != nil {
			conn.Send(model.ServerMessage{
				Event: model.EventSubscribeError,
				Error: "malformed message",
			})
			continue
		}
		h.dispatch(conn, msg)
	}
}

func (h *WSHandler) dispatch(conn *wsConn, msg model.ClientMessage) {
	switch msg.Action {
	case model.ActionSubscribeTask:
		// The multiplexer delivers the task_subscribed snapshot itself,
		// atomically with registration.
		if _, err := h.mux.Subscribe(conn, msg.TaskID); err != nil {
			conn.Send(model.ServerMessage{
				Event:  model.EventSubscribeError,
				TaskID: msg.TaskID,
				Error:  err.Error(),
			})
		}
	case model.ActionUnsubscribeTask:
		h.mux.Unsubscribe(conn.id, msg.TaskID)
	default:
		conn.Send(model.ServerMessage{
			Event: model.EventSubscribeError,
			Error: "unknown action: " + msg.Action,
		})
	}
}

func (c *wsConn) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()
	for {
		select {
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			data, err := utils.Json.Marshal(msg)
			if err != nil {
				utils.Log.Warnf("failed to encode %s: %v", msg.Event, err)
				continue
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
