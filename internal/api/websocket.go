package api

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/mescon/repeatd/internal/domain"
	"github.com/mescon/repeatd/internal/eventbus"
	"github.com/mescon/repeatd/internal/logger"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	writeWait  = 10 * time.Second
)

// newWebSocketUpgrader returns an upgrader whose origin check follows the
// same comma-separated allow list as the CORS middleware.
func newWebSocketUpgrader(corsOrigins string) websocket.Upgrader {
	allowedOrigins := parseOrigins(corsOrigins)

	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if corsOrigins == "*" || origin == "" {
				return true
			}
			if allowedOrigins[origin] {
				return true
			}
			// Same-origin: the Origin host must equal the request host
			u, err := url.Parse(origin)
			if err != nil {
				return false
			}
			return strings.EqualFold(u.Host, r.Host)
		},
	}
}

func parseOrigins(corsOrigins string) map[string]bool {
	allowed := make(map[string]bool)
	if corsOrigins == "" || corsOrigins == "*" {
		return allowed
	}
	for _, origin := range strings.Split(corsOrigins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			allowed[origin] = true
		}
	}
	return allowed
}

// wsMessage is the envelope for everything pushed to websocket clients.
type wsMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// WebSocketHub fans bus events and log entries out to connected clients.
type WebSocketHub struct {
	upgrader   websocket.Upgrader
	clients    map[*websocket.Conn]bool
	broadcast  chan wsMessage
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mu         sync.Mutex // guards clients and serializes writes
	logCh      chan logger.LogEntry
	done       chan struct{}
	closeOnce  sync.Once
}

// NewWebSocketHub subscribes the hub to every event type and to the log stream.
func NewWebSocketHub(eventBus *eventbus.EventBus, corsOrigins string) *WebSocketHub {
	h := &WebSocketHub{
		upgrader:   newWebSocketUpgrader(corsOrigins),
		broadcast:  make(chan wsMessage),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		clients:    make(map[*websocket.Conn]bool),
		done:       make(chan struct{}),
	}

	for _, t := range domain.AllEventTypes {
		eventBus.Subscribe(t, func(e domain.Event) {
			h.send(wsMessage{Type: "event", Data: e})
		})
	}

	h.logCh = logger.Subscribe()
	go func() {
		for entry := range h.logCh {
			h.send(wsMessage{Type: "log", Data: entry})
		}
	}()

	go h.run()
	return h
}

// send hands a message to the run loop unless the hub is closed.
func (h *WebSocketHub) send(msg wsMessage) {
	select {
	case h.broadcast <- msg:
	case <-h.done:
	}
}

func (h *WebSocketHub) run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			logger.Debugf("WebSocket client connected (Total: %d)", len(h.clients))
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			h.removeLocked(client)
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if err := h.writeJSONLocked(client, message); err != nil {
					logger.Debugf("WebSocket write error: %v", err)
					h.removeLocked(client)
				}
			}
			h.mu.Unlock()

		case <-h.done:
			h.mu.Lock()
			for client := range h.clients {
				h.removeLocked(client)
			}
			h.mu.Unlock()
			return
		}
	}
}

func (h *WebSocketHub) removeLocked(client *websocket.Conn) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	if err := client.Close(); err != nil {
		logger.Debugf("WebSocket close error: %v", err)
	}
	logger.Debugf("WebSocket client disconnected")
}

func (h *WebSocketHub) writeJSONLocked(client *websocket.Conn, v interface{}) error {
	if err := client.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return client.WriteJSON(v)
}

func (h *WebSocketHub) leave(ws *websocket.Conn) {
	select {
	case h.unregister <- ws:
	case <-h.done:
	}
}

// HandleConnection upgrades the request and blocks until the client goes away.
func (h *WebSocketHub) HandleConnection(c *gin.Context) {
	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Errorf("Failed to upgrade to WebSocket: %v", err)
		return
	}
	select {
	case h.register <- ws:
	case <-h.done:
		_ = ws.Close()
		return
	}
	defer h.leave(ws)

	h.mu.Lock()
	if err := h.writeJSONLocked(ws, wsMessage{Type: "ping", Data: gin.H{"timestamp": time.Now().UTC()}}); err != nil {
		logger.Debugf("Failed to send initial ping: %v", err)
	}
	h.mu.Unlock()

	if err := ws.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logger.Debugf("Failed to set initial read deadline: %v", err)
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	stopPing := make(chan struct{})
	defer close(stopPing)

	go func() {
		for {
			select {
			case <-stopPing:
				return
			case <-ticker.C:
			}
			h.mu.Lock()
			if !h.clients[ws] {
				h.mu.Unlock()
				return
			}
			err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			h.mu.Unlock()
			if err != nil {
				logger.Debugf("WebSocket ping error: %v", err)
				h.leave(ws)
				return
			}
		}
	}()

	// Reads only drive the pong handler and detect the close.
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			break
		}
	}
}

// ClientCount returns the number of connected WebSocket clients
func (h *WebSocketHub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and stops forwarding logs. Bus subscriptions
// stay registered but become no-ops.
func (h *WebSocketHub) Close() {
	h.closeOnce.Do(func() {
		close(h.done)
		logger.Unsubscribe(h.logCh)
	})
}
