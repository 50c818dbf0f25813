package http

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"quizroom-service/internal/app"
)

type WSHandler struct {
	room     *app.Room
	upgrader websocket.Upgrader
}

func NewWSHandler(room *app.Room) *WSHandler {
	return &WSHandler{
		room: room,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// inboundFrame is the flat client message; Type discriminates which other
// fields matter.
type inboundFrame struct {
	Type        string `json:"type"`
	ClientID    string `json:"clientId"`
	Name        string `json:"name"`
	Color       string `json:"color"`
	OptionIndex *int   `json:"optionIndex"`
	Password    string `json:"password"`
}

// wsConn adapts a gorilla connection to app.Conn. Writes go through a
// buffered channel drained by a single writer goroutine; Enqueue never
// blocks and reports false once the buffer is full or the writer is gone.
type wsConn struct {
	conn *websocket.Conn

	mu     sync.Mutex
	send   chan any
	closed bool
}

func newWSConn(conn *websocket.Conn) *wsConn {
	return &wsConn{conn: conn, send: make(chan any, 16)}
}

func (c *wsConn) Enqueue(v any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- v:
		return true
	default:
		return false
	}
}

func (c *wsConn) shutdown() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	c.mu.Unlock()
}

func (c *wsConn) writeLoop(done chan<- struct{}) {
	defer close(done)
	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			log.Printf("ws write error: %v", err)
			return
		}
	}
}

// ServeWS upgrades the request and binds the connection into the room.
// Malformed frames and unknown types are dropped without a reply.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	c := newWSConn(conn)
	writerDone := make(chan struct{})
	go c.writeLoop(writerDone)

	player := h.room.Join(c)
	log.Printf("ws: %s connected", player.ID)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		switch frame.Type {
		case "resume":
			h.room.Resume(c, frame.ClientID, frame.Name, frame.Color)
		case "set-name":
			h.room.SetName(c, frame.Name)
		case "start":
			h.room.Start(c)
		case "answer":
			if frame.OptionIndex != nil {
				h.room.Answer(c, *frame.OptionIndex)
			}
		case "next":
			h.room.Next(c)
		case "admin-restart":
			h.room.AdminRestart(c, frame.Password)
		case "return-to-lobby":
			h.room.ReturnToLobby(c)
		}
	}

	h.room.Leave(c)
	log.Printf("ws: %s disconnected", player.ID)
	c.shutdown()
	<-writerDone
}
