package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/rws-client/internal/infrastructure/config"
	"github.com/nerrad567/rws-client/internal/infrastructure/logging"
	"github.com/nerrad567/rws-client/internal/subscription"
)

// WebSocket constants.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	// wsSendBufferSize is the per-client outbound message buffer size.
	wsSendBufferSize = 256

	// relayOpTimeout bounds a relay subscribe or unsubscribe against the controller.
	relayOpTimeout = 30 * time.Second
)

// WSMessage represents a message sent to/from a relay client.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	Resource  string `json:"resource,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload for subscribe/unsubscribe messages.
type WSSubscribePayload struct {
	Resources []string `json:"resources"`
}

// Hub tracks relay clients. Each resource a client subscribes to is
// registered with the subscription manager as a subscribable of its own,
// so controller events reach the client through the normal fan-out.
type Hub struct {
	cfg     config.WebSocketConfig
	subs    Subscriptions
	logger  *logging.Logger
	clients map[*WSClient]struct{}
	mu      sync.RWMutex
}

// WSClient represents a connected relay client.
type WSClient struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	relays map[string]*relay
	mu     sync.Mutex
}

// relay forwards one resource's events to a WSClient.
type relay struct {
	resource string
	client   *WSClient
}

func (r *relay) ResourceString() string { return r.resource }
func (r *relay) Title() string          { return "relay " + r.resource }

func (r *relay) OnChanged(ev subscription.Event) {
	r.client.sendMessage(WSMessage{
		Type:      WSTypeEvent,
		Resource:  r.resource,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Payload:   ev,
	})
}

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// The API listens on a local address and every upgrade carries a token.
		return true
	},
}

// NewHub creates a new relay hub.
func NewHub(cfg config.WebSocketConfig, subs Subscriptions, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		subs:    subs,
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run blocks until the context is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds a client to the hub.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("relay client connected", "clients", h.ClientCount())
}

// Unregister removes a client from the hub.
// Only the goroutine that successfully removes the client from the map
// closes the send channel, preventing double-close panics during shutdown.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	h.mu.Unlock()

	if existed {
		close(client.send)
	}
	h.logger.Debug("relay client disconnected", "clients", h.ClientCount())
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// RelayCount returns the number of relayed resources across all clients.
func (h *Hub) RelayCount() int {
	h.mu.RLock()
	clients := make([]*WSClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	n := 0
	for _, c := range clients {
		c.mu.Lock()
		n += len(c.relays)
		c.mu.Unlock()
	}
	return n
}

// closeAll disconnects all clients and closes their send channels
// so writePump goroutines can exit cleanly.
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		if client.conn != nil {
			client.conn.Close()
		}
		delete(h.clients, client)
	}
}

// handleWebSocket upgrades the connection and starts relaying.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &WSClient{
		hub:    s.hub,
		conn:   conn,
		send:   make(chan []byte, wsSendBufferSize),
		relays: make(map[string]*relay),
	}

	s.hub.Register(client)

	go client.writePump(s.wsCfg)
	go client.readPump(s.wsCfg)
}

// readPump reads messages from the connection. On exit the client's relays
// are unsubscribed.
func (c *WSClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
		c.detach()
	}()

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	pongWait := time.Duration(cfg.PongTimeout) * time.Second
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("relay read error", "error", err)
			} else {
				c.hub.logger.Debug("relay closed", "error", err)
			}
			return
		}
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
		c.handleMessage(message)
	}
}

// writePump writes messages to the connection.
func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	pongWait := time.Duration(cfg.PongTimeout) * time.Second

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes an incoming message.
func (c *WSClient) handleMessage(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypeSubscribe:
		c.handleSubscribe(msg)
	case WSTypeUnsubscribe:
		c.handleUnsubscribe(msg)
	case WSTypePing:
		c.sendResponse(msg.ID, WSTypePong, nil)
	default:
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

func decodeResources(msg WSMessage) ([]string, bool) {
	payloadBytes, err := json.Marshal(msg.Payload)
	if err != nil {
		return nil, false
	}
	var sub WSSubscribePayload
	if err := json.Unmarshal(payloadBytes, &sub); err != nil || len(sub.Resources) == 0 {
		return nil, false
	}
	return sub.Resources, true
}

// handleSubscribe registers a relay for each resource not already relayed.
func (c *WSClient) handleSubscribe(msg WSMessage) {
	resources, ok := decodeResources(msg)
	if !ok {
		c.sendError(msg.ID, "invalid subscribe payload")
		return
	}

	c.mu.Lock()
	var fresh []*relay
	for _, res := range resources {
		if _, exists := c.relays[res]; exists || res == "" {
			continue
		}
		fresh = append(fresh, &relay{resource: res, client: c})
	}
	c.mu.Unlock()

	if len(fresh) > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), relayOpTimeout)
		defer cancel()
		if err := c.hub.subs.Subscribe(ctx, subscribables(fresh), nil); err != nil {
			c.hub.logger.Warn("relay subscribe failed", "resources", resources, "error", err)
			// A queued subscribe can still land after ctx gave up on it.
			c.drop(fresh)
			c.sendError(msg.ID, err.Error())
			return
		}

		c.mu.Lock()
		for _, r := range fresh {
			c.relays[r.resource] = r
		}
		c.mu.Unlock()
	}

	c.hub.logger.Info("relay client subscribed", "resources", resources)
	c.sendResponse(msg.ID, WSTypeResponse, map[string]any{
		"subscribed": resources,
	})
}

// handleUnsubscribe removes the client's relays for the given resources.
func (c *WSClient) handleUnsubscribe(msg WSMessage) {
	resources, ok := decodeResources(msg)
	if !ok {
		c.sendError(msg.ID, "invalid unsubscribe payload")
		return
	}

	c.mu.Lock()
	var gone []*relay
	for _, res := range resources {
		if r, exists := c.relays[res]; exists {
			gone = append(gone, r)
			delete(c.relays, res)
		}
	}
	c.mu.Unlock()

	c.drop(gone)

	c.sendResponse(msg.ID, WSTypeResponse, map[string]any{
		"unsubscribed": resources,
	})
}

// detach unsubscribes every relay of a disconnected client.
func (c *WSClient) detach() {
	c.mu.Lock()
	gone := make([]*relay, 0, len(c.relays))
	for res, r := range c.relays {
		gone = append(gone, r)
		delete(c.relays, res)
	}
	c.mu.Unlock()

	c.drop(gone)
}

// drop unsubscribes relays best-effort.
func (c *WSClient) drop(relays []*relay) {
	if len(relays) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), relayOpTimeout)
	defer cancel()
	if err := c.hub.subs.Unsubscribe(ctx, subscribables(relays)); err != nil {
		c.hub.logger.Debug("relay unsubscribe failed", "relays", len(relays), "error", err)
	}
}

func subscribables(relays []*relay) []subscription.Subscribable {
	out := make([]subscription.Subscribable, len(relays))
	for i, r := range relays {
		out[i] = r
	}
	return out
}

// trySend attempts to send data to the client's send channel.
// It silently handles closed channels (client disconnected during dispatch)
// and full buffers (slow client). It never blocks the controller socket reader.
func (c *WSClient) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // Absorb send-on-closed-channel panic
	}()

	select {
	case c.send <- data:
	default:
	}
}

func (c *WSClient) sendMessage(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.trySend(data)
}

// sendResponse sends a response message to the client.
func (c *WSClient) sendResponse(id, msgType string, payload any) {
	c.sendMessage(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
}

// sendError sends an error message to the client.
func (c *WSClient) sendError(id, message string) {
	c.sendResponse(id, WSTypeError, map[string]string{"message": message})
}
