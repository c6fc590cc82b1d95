package msgchan

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// wsFrame wraps a raw message with its origin identity for relay through the
// hub. The payload crosses the hub verbatim.
type wsFrame struct {
	From string          `json:"from"`
	Data json.RawMessage `json:"data"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub bridges the raw channel between contexts running in separate
// processes. It is a dumb broadcast pipe, not a signaling server: every
// frame is forwarded unchanged to every other connection.
type Hub struct {
	listener net.Listener

	mu    sync.Mutex
	conns map[*websocket.Conn]bool
}

// NewHub creates a hub with no connections.
func NewHub() *Hub {
	return &Hub{conns: make(map[*websocket.Conn]bool)}
}

// Start begins listening on addr (use ":0" for a random port) and returns
// the bound port number.
func (h *Hub) Start(addr string) (int, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return 0, fmt.Errorf("failed to start hub: %w", err)
	}
	h.listener = listener
	port := listener.Addr().(*net.TCPAddr).Port

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.handleWS)

	go func() {
		_ = http.Serve(listener, mux)
	}()

	return port, nil
}

func (h *Hub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	h.mu.Lock()
	h.conns[conn] = true
	h.mu.Unlock()

	go h.readLoop(conn)
}

func (h *Hub) readLoop(conn *websocket.Conn) {
	defer func() {
		h.mu.Lock()
		delete(h.conns, conn)
		h.mu.Unlock()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		// Writes happen under the hub lock so two read loops never
		// interleave writes on the same connection.
		h.mu.Lock()
		for c := range h.conns {
			if c != conn {
				_ = c.WriteMessage(websocket.TextMessage, data)
			}
		}
		h.mu.Unlock()
	}
}

// Close shuts down the listener, preventing new connections.
func (h *Hub) Close() {
	if h.listener != nil {
		h.listener.Close()
	}
}

// wsEndpoint implements Endpoint over a hub connection.
type wsEndpoint struct {
	id   string
	conn *websocket.Conn

	writeMu sync.Mutex
	once    sync.Once
	done    chan struct{}

	mu      sync.Mutex
	handler func(from string, data []byte)
}

// DialHub connects to a hub and joins the channel under the given identity.
func DialHub(ctx context.Context, url, id string) (Endpoint, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to hub: %w", err)
	}

	e := &wsEndpoint{id: id, conn: conn, done: make(chan struct{})}
	go e.readLoop()
	return e, nil
}

func (e *wsEndpoint) readLoop() {
	for {
		var f wsFrame
		if err := e.conn.ReadJSON(&f); err != nil {
			e.Close()
			return
		}
		if f.From == e.id {
			continue // a hub restart may echo our own frames
		}

		e.mu.Lock()
		fn := e.handler
		e.mu.Unlock()
		if fn != nil {
			fn(f.From, f.Data)
		}
	}
}

func (e *wsEndpoint) OnMessage(fn func(from string, data []byte)) {
	e.mu.Lock()
	e.handler = fn
	e.mu.Unlock()
}

func (e *wsEndpoint) Send(data []byte) error {
	select {
	case <-e.done:
		return ErrChannelUnreachable
	default:
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	return e.conn.WriteJSON(wsFrame{From: e.id, Data: data})
}

func (e *wsEndpoint) Close() error {
	e.once.Do(func() { close(e.done) })
	return e.conn.Close()
}
