package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/livetemplate/codepane/internal/console"
	"github.com/livetemplate/codepane/internal/metrics"
	"github.com/livetemplate/codepane/internal/vfs"
	"github.com/livetemplate/codepane/internal/workspace"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 << 20
	sendQueueSize  = 256
	commandTimeout = 15 * time.Second
)

// ClientMessage is what the IDE sends over the socket.
type ClientMessage struct {
	Type       string   `json:"type"` // edit, console, run, save, unload, select, folder
	Buffer     string   `json:"buffer,omitempty"`
	Value      string   `json:"value,omitempty"`
	Folder     string   `json:"folder,omitempty"`
	Name       string   `json:"name,omitempty"`
	Method     string   `json:"method,omitempty"`
	Args       []string `json:"args,omitempty"`
	Generation string   `json:"generation,omitempty"`
	Trigger    string   `json:"trigger,omitempty"`
}

// HelloData is sent once when a client connects.
type HelloData struct {
	ClientID  string `json:"clientId"`
	Assistant bool   `json:"assistant"`
}

// ErrorData reports a failed socket command to the client that sent it.
type ErrorData struct {
	Command string `json:"command"`
	Error   string `json:"error"`
}

// Hub fans workspace notices out to connected clients and feeds their
// messages back into the workspace.
type Hub struct {
	ws        *workspace.Workspace
	log       *zap.Logger
	upgrader  websocket.Upgrader
	assistant bool

	mu      sync.Mutex
	clients map[*wsClient]struct{}
	closed  bool
}

type wsClient struct {
	id        string
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	cancel    func()
}

// NewHub creates a hub. Origins lists the cross-origin pages allowed to
// connect; same-origin connections are always accepted.
func NewHub(ws *workspace.Workspace, origins []string, assistantEnabled bool, log *zap.Logger) *Hub {
	h := &Hub{
		ws:        ws,
		log:       log,
		assistant: assistantEnabled,
		clients:   make(map[*wsClient]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     checkOrigin(origins),
	}
	return h
}

func checkOrigin(origins []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err == nil && u.Host == r.Host {
			return true
		}
		for _, o := range origins {
			if o == "*" || o == origin {
				return true
			}
		}
		return false
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.drop(c)
	}
}

// ServeHTTP handles WebSocket upgrade and message routing.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &wsClient{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, sendQueueSize),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.SetWebSocketClients(n)
	h.log.Debug("client connected", zap.String("client", c.id), zap.String("remote", conn.RemoteAddr().String()))

	go h.writePump(c)

	h.enqueue(c, workspace.Notice{Type: "hello", Data: HelloData{ClientID: c.id, Assistant: h.assistant}})
	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	unsubscribe, err := h.ws.Attach(ctx, func(n workspace.Notice) { h.enqueue(c, n) })
	cancel()
	if err != nil {
		h.log.Warn("attach failed", zap.String("client", c.id), zap.Error(err))
		h.drop(c)
		return
	}
	h.mu.Lock()
	c.cancel = unsubscribe
	h.mu.Unlock()
	select {
	case <-c.done:
		unsubscribe()
		return
	default:
	}

	h.readPump(c)
}

// enqueue marshals n for one client. A client whose queue is full is
// dropped rather than stalling the event loop.
func (h *Hub) enqueue(c *wsClient, n workspace.Notice) {
	data, err := json.Marshal(n)
	if err != nil {
		h.log.Error("failed to marshal notice", zap.String("type", string(n.Type)), zap.Error(err))
		return
	}
	select {
	case <-c.done:
	case c.send <- data:
	default:
		h.log.Warn("client too slow, disconnecting", zap.String("client", c.id))
		go h.drop(c)
	}
}

func (h *Hub) drop(c *wsClient) {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()

		h.mu.Lock()
		cancel := c.cancel
		c.cancel = nil
		delete(h.clients, c)
		n := len(h.clients)
		h.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		metrics.SetWebSocketClients(n)
		h.log.Debug("client disconnected", zap.String("client", c.id))
	})
}

func (h *Hub) readPump(c *wsClient) {
	defer h.drop(c)

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Info("unexpected websocket close", zap.String("client", c.id), zap.Error(err))
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.replyError(c, "", errors.New("invalid JSON message"))
			continue
		}
		if err := h.handleMessage(msg); err != nil {
			h.replyError(c, msg.Type, err)
		}
	}
}

func (h *Hub) writePump(c *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.drop(c)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.drop(c)
				return
			}
		case <-c.done:
			return
		}
	}
}

func (h *Hub) replyError(c *wsClient, command string, err error) {
	h.enqueue(c, workspace.Notice{Type: "error", Data: ErrorData{Command: command, Error: err.Error()}})
}

// handleMessage runs one client command against the workspace.
func (h *Hub) handleMessage(msg ClientMessage) error {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	switch msg.Type {
	case "edit":
		kind, err := vfs.ParseBuffer(msg.Buffer)
		if err != nil {
			return err
		}
		return h.ws.Edit(ctx, kind, msg.Value)
	case "console":
		return h.ws.ReceiveConsole(ctx, console.Message{
			Type:       "console",
			Method:     msg.Method,
			Args:       msg.Args,
			Generation: msg.Generation,
		})
	case "run":
		_, err := h.ws.Run(ctx)
		return err
	case "save":
		trigger := msg.Trigger
		if trigger == "" {
			trigger = "save"
		}
		return h.ws.Save(ctx, trigger)
	case "unload":
		return h.ws.Save(ctx, "unload")
	case "select":
		folder, err := vfs.ParseFolder(msg.Folder)
		if err != nil {
			return err
		}
		return h.ws.Select(ctx, folder, msg.Name)
	case "folder":
		folder, err := vfs.ParseFolder(msg.Folder)
		if err != nil {
			return err
		}
		return h.ws.SwitchFolder(ctx, folder)
	default:
		return errors.New("unknown message type: " + msg.Type)
	}
}
