// WebSocket status hub: local UIs subscribe here to watch sync progress
// without polling the engine.
package main

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Null-0-00/lpg-distribution-saas-sub002/internal/logging"
	"github.com/Null-0-00/lpg-distribution-saas-sub002/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Status hub is local-only.
		return strings.HasPrefix(r.Host, "localhost") || strings.HasPrefix(r.Host, "127.0.0.1")
	},
}

const (
	EventSyncStarted          = "sync.started"
	EventSyncCompleted        = "sync.completed"
	EventSyncFailed           = "sync.failed"
	EventSyncConflictDetected = "sync.conflict_detected"
	EventConnectivityChanged  = "connectivity.changed"
	EventStatus               = "status"
)

// StatusEnvelope wraps every message sent to status clients.
type StatusEnvelope struct {
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data"`
	Timestamp int64                  `json:"timestamp"`
}

// StatusClient is one connected status consumer.
type StatusClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	hub  *StatusHub
}

// StatusHub fans sync events out to connected clients.
type StatusHub struct {
	clients    map[string]*StatusClient
	broadcast  chan []byte
	register   chan *StatusClient
	unregister chan *StatusClient
}

// NewStatusHub creates and starts a hub.
func NewStatusHub() *StatusHub {
	hub := &StatusHub{
		clients:    make(map[string]*StatusClient),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *StatusClient),
		unregister: make(chan *StatusClient),
	}
	go hub.run()
	return hub
}

func (h *StatusHub) run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client.id] = client
			logging.Debug("Status client connected",
				map[string]interface{}{"client": client.id, "total": len(h.clients)})

		case client := <-h.unregister:
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				close(client.send)
			}

		case message := <-h.broadcast:
			for id, client := range h.clients {
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(h.clients, id)
				}
			}
		}
	}
}

// Broadcast sends one envelope to every connected client.
func (h *StatusHub) Broadcast(messageType string, data map[string]interface{}) {
	envelope := StatusEnvelope{
		Type:      messageType,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	}

	bytes, err := json.Marshal(envelope)
	if err != nil {
		logging.Error("Failed to marshal status message", err)
		return
	}

	h.broadcast <- bytes
}

// BroadcastSyncResult publishes the outcome of a completed cycle, including
// any conflicts that need manual attention.
func (h *StatusHub) BroadcastSyncResult(result *models.SyncResult) {
	if result == nil {
		return
	}

	eventType := EventSyncCompleted
	if !result.Success {
		eventType = EventSyncFailed
	}

	data := map[string]interface{}{
		"synced": result.Synced,
		"failed": result.Failed,
	}
	if len(result.Errors) > 0 {
		errs := make([]map[string]interface{}, 0, len(result.Errors))
		for _, e := range result.Errors {
			errs = append(errs, map[string]interface{}{
				"mutation_id": e.ID,
				"error":       e.Error,
			})
		}
		data["errors"] = errs
	}
	h.Broadcast(eventType, data)

	if len(result.Conflicts) > 0 {
		conflicts := make([]map[string]interface{}, 0, len(result.Conflicts))
		for _, c := range result.Conflicts {
			conflicts = append(conflicts, map[string]interface{}{
				"mutation_id":  c.MutationID,
				"type":         string(c.Type),
				"field":        c.Field,
				"client_value": c.ClientValue,
				"server_value": c.ServerValue,
			})
		}
		h.Broadcast(EventSyncConflictDetected, map[string]interface{}{
			"conflicts": conflicts,
		})
	}
}

// BroadcastSyncStarted announces the beginning of a cycle.
func (h *StatusHub) BroadcastSyncStarted() {
	h.Broadcast(EventSyncStarted, map[string]interface{}{})
}

// BroadcastStatus publishes a status snapshot.
func (h *StatusHub) BroadcastStatus(status *models.SyncStatus) {
	if status == nil {
		return
	}
	h.Broadcast(EventStatus, map[string]interface{}{
		"is_online":     status.IsOnline,
		"last_sync":     status.LastSync,
		"pending_items": status.PendingItems,
		"syncing":       status.Syncing,
	})
}

// BroadcastConnectivity publishes a connectivity transition.
func (h *StatusHub) BroadcastConnectivity(online bool) {
	h.Broadcast(EventConnectivityChanged, map[string]interface{}{
		"online": online,
	})
}

func (c *StatusClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	// Clients only listen; reads exist to notice disconnects and pongs.
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Debug("Status client read error",
					map[string]interface{}{"error": err.Error()})
			}
			break
		}
	}
}

func (c *StatusClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// HandleStatusWebSocket upgrades connections and attaches them to the hub.
func HandleStatusWebSocket(hub *StatusHub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logging.Error("WebSocket upgrade failed", err)
			return
		}

		id := time.Now().Format("20060102150405.000") + "-" + r.RemoteAddr

		client := &StatusClient{
			id:   id,
			conn: conn,
			send: make(chan []byte, 256),
			hub:  hub,
		}

		hub.register <- client

		go client.writePump()
		go client.readPump()
	}
}
