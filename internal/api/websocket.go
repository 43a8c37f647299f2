package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/mortal-core/internal/infrastructure/config"
	"github.com/nerrad567/mortal-core/internal/infrastructure/logging"
)

// WebSocket message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"
)

const (
	// wsSendBufferSize is the per-client outbound message buffer size.
	wsSendBufferSize = 256

	closeReasonRevoked  = "session revoked"
	closeReasonShutdown = "server shutting down"
)

// WSMessage represents a message sent to/from a WebSocket client.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"eventType,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload for subscribe/unsubscribe messages.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// knownChannels lists the channels a client may subscribe to.
var knownChannels = map[string]bool{
	ChannelMenuChanged: true,
	ChannelUserChanged: true,
	ChannelRoleChanged: true,
}

// keepalive holds connection timings derived from config once.
type keepalive struct {
	readLimit int64
	pingEvery time.Duration
	// pongWait bounds both the wait for a pong and every write.
	pongWait time.Duration
}

func newKeepalive(cfg config.WebSocketConfig) keepalive {
	return keepalive{
		readLimit: int64(cfg.MaxMessageSize),
		pingEvery: time.Duration(cfg.PingInterval) * time.Second,
		pongWait:  time.Duration(cfg.PongTimeout) * time.Second,
	}
}

// readDeadline is how long a connection may stay silent.
func (k keepalive) readDeadline() time.Time {
	return time.Now().Add(k.pingEvery + k.pongWait)
}

// Hub tracks change feed connections, indexed by account so that revoking
// an account's sessions can close its live sockets too.
//
// Sends to a client's buffer only happen under mu (read), and the buffer is
// only closed under mu (write), so a send never races a close.
type Hub struct {
	logger    *logging.Logger
	keepalive keepalive

	mu      sync.RWMutex
	clients map[*WSClient]struct{}
	byUser  map[int64]map[*WSClient]struct{}
}

// WSClient is one authenticated change feed connection.
type WSClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	// Identity captured from the ticket at connect time.
	userID   int64
	username string
	super    bool

	mu            sync.Mutex
	subscriptions map[string]struct{}
	closeFrame    []byte
}

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // the single-use ticket authenticates the connection
	},
}

// NewHub creates a new WebSocket hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		logger:    logger,
		keepalive: newKeepalive(cfg),
		clients:   make(map[*WSClient]struct{}),
		byUser:    make(map[int64]map[*WSClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	n := 0
	for c := range h.clients {
		h.disconnectLocked(c, websocket.CloseGoingAway, closeReasonShutdown)
		n++
	}
	h.mu.Unlock()

	if n > 0 {
		h.logger.Info("websocket clients disconnected for shutdown", "clients", n)
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(c *WSClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	conns := h.byUser[c.userID]
	if conns == nil {
		conns = make(map[*WSClient]struct{})
		h.byUser[c.userID] = conns
	}
	conns[c] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug("websocket client connected", "user_id", c.userID, "username", c.username, "clients", total)
}

// Unregister removes a client. Calling it for a client the hub already
// dropped is a no-op.
func (h *Hub) Unregister(c *WSClient) {
	h.mu.Lock()
	removed := h.removeLocked(c)
	if removed {
		close(c.send)
	}
	total := len(h.clients)
	h.mu.Unlock()

	if removed {
		h.logger.Debug("websocket client disconnected", "user_id", c.userID, "clients", total)
	}
}

// DropUser closes every connection opened by userID and returns how many
// were closed. Used when the account's sessions are revoked.
func (h *Hub) DropUser(userID int64) int {
	h.mu.Lock()
	n := 0
	for c := range h.byUser[userID] {
		h.disconnectLocked(c, websocket.ClosePolicyViolation, closeReasonRevoked)
		n++
	}
	h.mu.Unlock()

	if n > 0 {
		h.logger.Info("websocket sessions revoked", "user_id", userID, "clients", n)
	}
	return n
}

// removeLocked drops c from both indexes and reports whether it was present.
func (h *Hub) removeLocked(c *WSClient) bool {
	if _, ok := h.clients[c]; !ok {
		return false
	}
	delete(h.clients, c)
	if conns := h.byUser[c.userID]; conns != nil {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.byUser, c.userID)
		}
	}
	return true
}

// disconnectLocked removes c and closes its buffer. The write pump sends
// the close frame and shuts the connection.
func (h *Hub) disconnectLocked(c *WSClient, code int, reason string) {
	if !h.removeLocked(c) {
		return
	}
	c.mu.Lock()
	c.closeFrame = websocket.FormatCloseMessage(code, reason)
	c.mu.Unlock()
	close(c.send)
}

// Publish delivers a change event to every client subscribed to channel.
// Clients without the super role get user events for other accounts
// without the data field; they can refetch what they are allowed to read.
func (h *Hub) Publish(channel string, event changeEvent) {
	full, err := encodeEvent(channel, event)
	if err != nil {
		h.logger.Error("failed to marshal change event", "channel", channel, "error", err)
		return
	}
	var redacted []byte

	h.mu.RLock()
	defer h.mu.RUnlock()

	sent := 0
	for c := range h.clients {
		if !c.isSubscribed(channel) {
			continue
		}
		data := full
		if event.Data != nil && !c.seesData(channel, event.ID) {
			if redacted == nil {
				bare := event
				bare.Data = nil
				if redacted, err = encodeEvent(channel, bare); err != nil {
					continue
				}
			}
			data = redacted
		}
		if h.trySendLocked(c, data) {
			sent++
		}
	}
	if sent > 0 {
		h.logger.Debug("change event sent", "channel", channel, "action", event.Action, "recipients", sent)
	}
}

func encodeEvent(channel string, event changeEvent) ([]byte, error) {
	return json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   event,
	})
}

// deliver queues data for a single client if it is still connected.
func (h *Hub) deliver(c *WSClient, data []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c]; !ok {
		return false
	}
	return h.trySendLocked(c, data)
}

// trySendLocked queues data without blocking. A full buffer drops the
// message; the console refetches on the next event.
func (h *Hub) trySendLocked(c *WSClient, data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		h.logger.Warn("websocket client buffer full, message dropped", "user_id", c.userID)
		return false
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// UserClientCount returns the number of connections held by userID.
func (h *Hub) UserClientCount(userID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser[userID])
}

// handleWebSocket upgrades the HTTP connection to a WebSocket connection.
// Authentication is via ticket query parameter (obtained from POST /auth/ws-ticket).
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ticket := r.URL.Query().Get("ticket")
	if ticket == "" {
		writeUnauthorized(w, "ticket query parameter is required")
		return
	}
	entry, ok := s.tickets.validate(ticket, time.Now())
	if !ok {
		writeUnauthorized(w, "invalid or expired ticket")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &WSClient{
		hub:           s.hub,
		conn:          conn,
		send:          make(chan []byte, wsSendBufferSize),
		userID:        entry.userID,
		username:      entry.username,
		super:         entry.super,
		subscriptions: make(map[string]struct{}),
	}
	s.hub.Register(client)

	go client.writePump()
	go client.readPump()
}

// readPump reads client messages until the connection fails or goes quiet.
func (c *WSClient) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	ka := c.hub.keepalive
	c.conn.SetReadLimit(ka.readLimit)
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(ka.readDeadline())
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(ka.readDeadline())
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "user_id", c.userID, "error", err)
			}
			return
		}
		// Any client message counts as liveness.
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(ka.readDeadline())
		c.handleMessage(message)
	}
}

// writePump drains the send buffer and pings on the keepalive interval.
// A closed buffer means the hub dropped the client: send the close frame
// and hang up.
func (c *WSClient) writePump() {
	ka := c.hub.keepalive
	ticker := time.NewTicker(ka.pingEvery)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(ka.pongWait))
			if !ok {
				//nolint:errcheck // Best-effort close frame
				c.conn.WriteMessage(websocket.CloseMessage, c.pendingCloseFrame())
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(ka.pongWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WSClient) pendingCloseFrame() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closeFrame == nil {
		return websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	}
	return c.closeFrame
}

// messageHandlers routes client messages by type.
var messageHandlers = map[string]func(*WSClient, WSMessage){
	WSTypeSubscribe:   (*WSClient).handleSubscribe,
	WSTypeUnsubscribe: (*WSClient).handleUnsubscribe,
	WSTypePing:        (*WSClient).handlePing,
}

func (c *WSClient) handleMessage(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}
	handler, ok := messageHandlers[msg.Type]
	if !ok {
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
		return
	}
	handler(c, msg)
}

func (c *WSClient) handlePing(msg WSMessage) {
	c.reply(msg.ID, WSTypePong, nil)
}

// handleSubscribe adds known channels. Unknown names are reported back.
func (c *WSClient) handleSubscribe(msg WSMessage) {
	channels, ok := parseChannels(msg.Payload)
	if !ok {
		c.sendError(msg.ID, "invalid subscribe payload")
		return
	}

	subscribed := make([]string, 0, len(channels))
	var unknown []string
	c.mu.Lock()
	for _, ch := range channels {
		if !knownChannels[ch] {
			unknown = append(unknown, ch)
			continue
		}
		c.subscriptions[ch] = struct{}{}
		subscribed = append(subscribed, ch)
	}
	c.mu.Unlock()

	c.hub.logger.Debug("websocket client subscribed", "user_id", c.userID, "channels", subscribed)

	resp := map[string]any{"subscribed": subscribed}
	if len(unknown) > 0 {
		resp["unknown"] = unknown
	}
	c.reply(msg.ID, WSTypeResponse, resp)
}

// handleUnsubscribe removes channels and reports the ones that were held.
func (c *WSClient) handleUnsubscribe(msg WSMessage) {
	channels, ok := parseChannels(msg.Payload)
	if !ok {
		c.sendError(msg.ID, "invalid unsubscribe payload")
		return
	}

	removed := make([]string, 0, len(channels))
	c.mu.Lock()
	for _, ch := range channels {
		if _, held := c.subscriptions[ch]; held {
			delete(c.subscriptions, ch)
			removed = append(removed, ch)
		}
	}
	c.mu.Unlock()

	c.reply(msg.ID, WSTypeResponse, map[string]any{"unsubscribed": removed})
}

// parseChannels decodes the channel list of a subscribe/unsubscribe message.
func parseChannels(payload any) ([]string, bool) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, false
	}
	var sub WSSubscribePayload
	if err := json.Unmarshal(raw, &sub); err != nil {
		return nil, false
	}
	return sub.Channels, true
}

func (c *WSClient) isSubscribed(channel string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subscriptions[channel]
	return ok
}

// seesData reports whether the client may receive the data of an event
// about entity id on channel.
func (c *WSClient) seesData(channel string, id int64) bool {
	return c.super || channel != ChannelUserChanged || id == c.userID
}

func (c *WSClient) reply(id, msgType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.hub.deliver(c, data)
}

func (c *WSClient) sendError(id, message string) {
	c.reply(id, WSTypeError, map[string]string{"message": message})
}
