package main

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/HybridzDynamics/yahmi-security-rover/rover"
)

// wsFrame is one telemetry message pushed to websocket clients.
type wsFrame struct {
	Type       string           `json:"type"`
	Position   *rover.Pose      `json:"position,omitempty"`
	Navigation *rover.NavStatus `json:"navigation,omitempty"`
	Stats      *rover.GridStats `json:"stats,omitempty"`
	Alert      *rover.Alert     `json:"alert,omitempty"`
	Timestamp  int64            `json:"timestamp"`
}

// wsHub fans telemetry out to connected websocket clients and feeds
// inbound control messages into the command queue.
type wsHub struct {
	queue   *rover.CommandQueue
	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The control UI is served from arbitrary hosts on the LAN
	CheckOrigin: func(r *http.Request) bool { return true },
}

func newWSHub(queue *rover.CommandQueue) *wsHub {
	return &wsHub{
		queue:   queue,
		clients: make(map[*wsClient]struct{}),
	}
}

// ClientCount returns the number of connected clients.
func (h *wsHub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// BroadcastTelemetry sends a combined position/navigation/stats frame.
func (h *wsHub) BroadcastTelemetry(pose rover.Pose, status rover.NavStatus, stats rover.GridStats) {
	h.broadcast(wsFrame{
		Type:       "telemetry",
		Position:   &pose,
		Navigation: &status,
		Stats:      &stats,
		Timestamp:  time.Now().UnixMilli(),
	})
}

// BroadcastAlert sends a watchdog alert frame.
func (h *wsHub) BroadcastAlert(alert rover.Alert) {
	h.broadcast(wsFrame{
		Type:      "alert",
		Alert:     &alert,
		Timestamp: time.Now().UnixMilli(),
	})
}

func (h *wsHub) broadcast(frame wsFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		log.Printf("[WS] Error encoding frame: %v", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		select {
		case client.send <- data:
		default:
			// Slow consumer: drop the connection rather than block the tick loop
			close(client.send)
			delete(h.clients, client)
			go client.conn.Close()
		}
	}
}

// handleWS upgrades the request and runs the client until it disconnects.
func (h *wsHub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WS] Upgrade failed for %s: %v", r.RemoteAddr, err)
		return
	}

	client := &wsClient{conn: conn, send: make(chan []byte, 16)}

	h.mu.Lock()
	h.clients[client] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()
	log.Printf("[WS] Client connected from %s (%d total)", r.RemoteAddr, count)

	go h.writePump(client)
	h.readPump(client, r.RemoteAddr)
}

func (h *wsHub) writePump(c *wsClient) {
	for data := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

// readPump consumes inbound messages. Clients may send the same JSON
// command payloads accepted on the MQTT command topic and /api/control.
func (h *wsHub) readPump(c *wsClient, remote string) {
	defer h.drop(c)

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[WS] Read error from %s: %v", remote, err)
			}
			return
		}

		cmd, err := rover.ParseCommand(payload)
		if err != nil {
			log.Printf("[WS] Ignoring invalid command from %s: %v", remote, err)
			continue
		}
		if h.queue != nil {
			h.queue.Push(cmd)
		}
	}
}

func (h *wsHub) drop(c *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		close(c.send)
		delete(h.clients, c)
	}
	h.mu.Unlock()
	c.conn.Close()
}
