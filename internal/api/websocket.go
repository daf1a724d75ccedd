package api

import (
	"encoding/json"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

// WebSocket message types for the session protocol
const (
	// Client -> Server messages
	MsgTypeSubscribe   = "subscribe"
	MsgTypeUnsubscribe = "unsubscribe"
	MsgTypeStop        = "stop"
	MsgTypePing        = "ping"

	// Server -> Client messages
	MsgTypeConnected = "connected"
	MsgTypeProgress  = "progress"
	MsgTypeComplete  = "complete"
	MsgTypeError     = "error"
	MsgTypePong      = "pong"
)

// WSMessage is the envelope of every WebSocket frame.
type WSMessage struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// WSErrorResponse is the payload of error messages.
type WSErrorResponse struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// WebSocketHandler pushes progress of subscribed sessions and accepts stop
// requests over one connection.
type WebSocketHandler struct {
	sessionMgr SessionManager
	upgrader   websocket.Upgrader
	interval   time.Duration
	logger     *log.Logger
}

// NewWebSocketHandler creates a new WebSocket session handler
func NewWebSocketHandler(sessionMgr SessionManager) *WebSocketHandler {
	return &WebSocketHandler{
		sessionMgr: sessionMgr,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// Allow connections from dev server
				return true
			},
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
		},
		interval: 250 * time.Millisecond,
		logger:   log.New(os.Stderr, "[WebSocket] ", log.LstdFlags),
	}
}

// wsConn serialises writes; gorilla connections allow one concurrent writer.
type wsConn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *wsConn) send(msg WSMessage) error {
	msg.Timestamp = time.Now().UnixMilli()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(msg)
}

// HandleWebSocket upgrades the HTTP connection and runs the session protocol
func (wsh *WebSocketHandler) HandleWebSocket(c echo.Context) error {
	ws, err := wsh.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	conn := &wsConn{ws: ws}
	wsh.logger.Println("Client connected")
	conn.send(WSMessage{Type: MsgTypeConnected})

	var (
		mu   sync.Mutex
		subs = make(map[string]struct{})
		done = make(chan struct{})
		wg   sync.WaitGroup
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(wsh.interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
			}

			mu.Lock()
			ids := make([]string, 0, len(subs))
			for id := range subs {
				ids = append(ids, id)
			}
			mu.Unlock()

			for _, id := range ids {
				wsh.pushProgress(conn, id, func() {
					mu.Lock()
					delete(subs, id)
					mu.Unlock()
				})
			}
		}
	}()

	// Main message loop
	for {
		var msg WSMessage
		if err := ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsh.logger.Printf("Connection error: %v", err)
			}
			break
		}

		switch msg.Type {
		case MsgTypePing:
			conn.send(WSMessage{Type: MsgTypePong})
		case MsgTypeSubscribe:
			if _, ok := wsh.sessionMgr.GetSession(msg.ID); !ok {
				wsh.sendError(conn, msg.ID, "session not found: "+msg.ID, "NOT_FOUND")
				continue
			}
			mu.Lock()
			subs[msg.ID] = struct{}{}
			mu.Unlock()
		case MsgTypeUnsubscribe:
			mu.Lock()
			delete(subs, msg.ID)
			mu.Unlock()
		case MsgTypeStop:
			if err := wsh.sessionMgr.Stop(msg.ID); err != nil {
				wsh.sendError(conn, msg.ID, err.Error(), "NOT_FOUND")
			}
		default:
			wsh.sendError(conn, msg.ID, "Unknown message type: "+msg.Type, "INVALID_TYPE")
		}
	}

	close(done)
	wg.Wait()
	wsh.logger.Println("Client disconnected")
	return nil
}

// pushProgress sends the state of session id, followed by a complete message
// and unsubscribe once the session is finished.
func (wsh *WebSocketHandler) pushProgress(conn *wsConn, id string, unsubscribe func()) {
	sess, ok := wsh.sessionMgr.GetSession(id)
	if !ok {
		unsubscribe()
		wsh.sendError(conn, id, "session not found: "+id, "NOT_FOUND")
		return
	}

	msgType := MsgTypeProgress
	if sess.Status.Terminal() {
		msgType = MsgTypeComplete
		unsubscribe()
	}
	if err := conn.send(WSMessage{Type: msgType, ID: id, Payload: mustJSON(sess)}); err != nil {
		wsh.logger.Printf("Failed to send message: %v", err)
	}
}

func (wsh *WebSocketHandler) sendError(conn *wsConn, id, message, code string) {
	err := conn.send(WSMessage{
		Type:    MsgTypeError,
		ID:      id,
		Payload: mustJSON(WSErrorResponse{Message: message, Code: code}),
	})
	if err != nil {
		wsh.logger.Printf("Failed to send message: %v", err)
	}
}

func mustJSON(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
