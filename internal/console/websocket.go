package console

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Message is the websocket envelope shape: {Type, Data, Timestamp}, with
// no per-user addressing, since this single-operator-pool console has one
// shared audience for every broadcast.
type Message struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

const (
	MsgTypeRunStarted  = "run_started"
	MsgTypeRunPhase    = "run_phase"
	MsgTypeRunComplete = "run_complete"
	MsgTypeRunError    = "run_error"
)

// hub fans RunRecord phase transitions out to every connected websocket
// client.
type hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]chan Message
}

func newHub() *hub {
	return &hub{clients: make(map[*websocket.Conn]chan Message)}
}

func (h *hub) broadcast(msgType string, data interface{}) {
	msg := Message{Type: msgType, Data: data, Timestamp: time.Now()}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, send := range h.clients {
		select {
		case send <- msg:
		default:
			log.Printf("console: dropped websocket message, client send buffer full")
		}
	}
}

func (h *hub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("console: websocket upgrade failed: %v", err)
		return
	}

	send := make(chan Message, 64)
	h.mu.Lock()
	h.clients[conn] = send
	h.mu.Unlock()

	go h.writePump(conn, send)
	h.readPump(conn, send)
}

func (h *hub) writePump(conn *websocket.Conn, send chan Message) {
	ticker := time.NewTicker(54 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-send:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *hub) readPump(conn *websocket.Conn, send chan Message) {
	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
		close(send)
		conn.Close()
	}()

	conn.SetReadLimit(512)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
