package telemetry

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const (
	socketBufferSize  = 1024
	messageBufferSize = 16
)

// Envelope is the JSON form of a message sent to websocket clients.
type Envelope struct {
	Type string  `json:"type"`
	Data Message `json:"data"`
}

// Hub fans received messages out to websocket clients. A client that cannot
// keep up misses messages instead of slowing the others down.
type Hub struct {
	forward chan []byte
	join    chan *client
	leave   chan *client
	clients map[*client]bool
	done    chan struct{}

	upgrader websocket.Upgrader
}

type client struct {
	socket *websocket.Conn
	send   chan []byte
	hub    *Hub
}

func NewHub() *Hub {
	return &Hub{
		forward:  make(chan []byte, messageBufferSize),
		join:     make(chan *client),
		leave:    make(chan *client),
		clients:  make(map[*client]bool),
		done:     make(chan struct{}),
		upgrader: websocket.Upgrader{ReadBufferSize: socketBufferSize, WriteBufferSize: socketBufferSize},
	}
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			return
		case c := <-h.join:
			h.clients[c] = true
			log.WithField("clients", len(h.clients)).Info("websocket client joined")
		case c := <-h.leave:
			if h.clients[c] {
				delete(h.clients, c)
				close(c.send)
			}
			log.WithField("clients", len(h.clients)).Info("websocket client left")
		case msg := <-h.forward:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
				}
			}
		}
	}
}

// Publish queues m for every client. It never blocks.
func (h *Hub) Publish(m Message) {
	b, err := json.Marshal(Envelope{Type: m.Tag().String(), Data: m})
	if err != nil {
		log.WithError(err).Error("websocket encode failed")
		return
	}
	select {
	case h.forward <- b:
	default:
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	socket, err := h.upgrader.Upgrade(w, req, nil)
	if err != nil {
		log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	c := &client{
		socket: socket,
		send:   make(chan []byte, messageBufferSize),
		hub:    h,
	}
	select {
	case h.join <- c:
	case <-h.done:
		socket.Close()
		return
	}
	defer func() {
		select {
		case h.leave <- c:
		case <-h.done:
		}
	}()
	go c.write()
	c.read()
}

func (c *client) read() {
	defer c.socket.Close()
	for {
		if _, _, err := c.socket.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) write() {
	defer c.socket.Close()
	for msg := range c.send {
		if err := c.socket.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}
