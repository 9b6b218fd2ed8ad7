package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// writeTimeout caps a single WebSocket write so one slow client cannot
// stall a broadcast.
const writeTimeout = 5 * time.Second

// ChannelListener manages database LISTEN subscriptions. Implemented by
// NotifyListener; nil when running without PostgreSQL.
type ChannelListener interface {
	Subscribe(channel string) error
	Unsubscribe(channel string) error
}

// CatchupQuerier replays persisted events after a given event ID so a
// reconnecting client can fill the gap before resuming live delivery.
// Implemented by the repository layer; nil disables catchup.
type CatchupQuerier interface {
	EventsAfter(ctx context.Context, channel string, afterID int64, limit int) ([]StoredEvent, error)
}

// StoredEvent is one persisted event row returned by catchup queries.
type StoredEvent struct {
	ID      int64           `json:"id"`
	Channel string          `json:"channel"`
	Payload json.RawMessage `json:"payload"`
}

// Connection tracks a single WebSocket client and its channel subscriptions.
type Connection struct {
	ID            string
	conn          *websocket.Conn
	subscriptions map[string]bool
	mu            sync.Mutex
}

// ConnectionManager tracks WebSocket connections and their channel
// subscriptions, fanning broadcasts out to subscribers. It drives the
// database listener so LISTEN is active exactly while a channel has
// subscribers.
type ConnectionManager struct {
	mu          sync.RWMutex
	connections map[string]*Connection
	channels    map[string]map[string]*Connection

	listener ChannelListener
	catchup  CatchupQuerier
}

// NewConnectionManager creates an empty connection manager.
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		connections: make(map[string]*Connection),
		channels:    make(map[string]map[string]*Connection),
	}
}

// SetListener attaches the database listener. Must be called before
// connections are accepted.
func (cm *ConnectionManager) SetListener(l ChannelListener) {
	cm.listener = l
}

// SetCatchupQuerier attaches the event replay source. Must be called before
// connections are accepted.
func (cm *ConnectionManager) SetCatchupQuerier(q CatchupQuerier) {
	cm.catchup = q
}

// RegisterConnection adds a new WebSocket connection.
func (cm *ConnectionManager) RegisterConnection(connID string, conn *websocket.Conn) *Connection {
	c := &Connection{
		ID:            connID,
		conn:          conn,
		subscriptions: make(map[string]bool),
	}
	cm.mu.Lock()
	cm.connections[connID] = c
	cm.mu.Unlock()
	slog.Debug("WebSocket connection registered", "connection_id", connID)
	return c
}

// UnregisterConnection removes a connection and drops its subscriptions,
// issuing UNLISTEN for channels left without subscribers.
func (cm *ConnectionManager) UnregisterConnection(connID string) {
	cm.mu.Lock()
	c, ok := cm.connections[connID]
	if !ok {
		cm.mu.Unlock()
		return
	}
	delete(cm.connections, connID)

	var emptied []string
	c.mu.Lock()
	for channel := range c.subscriptions {
		if subs, ok := cm.channels[channel]; ok {
			delete(subs, connID)
			if len(subs) == 0 {
				delete(cm.channels, channel)
				emptied = append(emptied, channel)
			}
		}
	}
	c.mu.Unlock()
	cm.mu.Unlock()

	for _, channel := range emptied {
		cm.stopListening(channel)
	}
	slog.Debug("WebSocket connection unregistered", "connection_id", connID)
}

// Subscribe adds a connection to a channel, issuing LISTEN on the first
// subscriber.
func (cm *ConnectionManager) Subscribe(connID, channel string) error {
	cm.mu.Lock()
	c, ok := cm.connections[connID]
	if !ok {
		cm.mu.Unlock()
		return nil
	}
	first := false
	if cm.channels[channel] == nil {
		cm.channels[channel] = make(map[string]*Connection)
		first = true
	}
	cm.channels[channel][connID] = c
	c.mu.Lock()
	c.subscriptions[channel] = true
	c.mu.Unlock()
	cm.mu.Unlock()

	if first && cm.listener != nil {
		if err := cm.listener.Subscribe(channel); err != nil {
			slog.Error("Failed to LISTEN on channel", "channel", channel, "error", err)
			return err
		}
	}
	slog.Debug("Subscribed to channel", "connection_id", connID, "channel", channel)
	return nil
}

// Unsubscribe removes a connection from a channel, issuing UNLISTEN when the
// channel has no subscribers left.
func (cm *ConnectionManager) Unsubscribe(connID, channel string) {
	cm.mu.Lock()
	c, ok := cm.connections[connID]
	if ok {
		c.mu.Lock()
		delete(c.subscriptions, channel)
		c.mu.Unlock()
	}
	emptied := false
	if subs, ok := cm.channels[channel]; ok {
		delete(subs, connID)
		if len(subs) == 0 {
			delete(cm.channels, channel)
			emptied = true
		}
	}
	cm.mu.Unlock()

	if emptied {
		cm.stopListening(channel)
	}
}

func (cm *ConnectionManager) stopListening(channel string) {
	if cm.listener == nil {
		return
	}
	if err := cm.listener.Unsubscribe(channel); err != nil {
		slog.Warn("Failed to UNLISTEN on channel", "channel", channel, "error", err)
	}
}

// Broadcast sends a raw payload to every subscriber of a channel. Failed
// sends are logged and skipped; the connection's read loop handles teardown.
func (cm *ConnectionManager) Broadcast(channel string, payload []byte) {
	cm.mu.RLock()
	subs := make([]*Connection, 0, len(cm.channels[channel]))
	for _, c := range cm.channels[channel] {
		subs = append(subs, c)
	}
	cm.mu.RUnlock()

	for _, c := range subs {
		if err := c.sendRaw(payload); err != nil {
			slog.Warn("Failed to send event to connection",
				"connection_id", c.ID, "channel", channel, "error", err)
		}
	}
}

// HandleClientMessage processes one client → server message.
func (cm *ConnectionManager) HandleClientMessage(ctx context.Context, connID string, data []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		slog.Warn("Malformed client message", "connection_id", connID, "error", err)
		return
	}

	switch msg.Action {
	case "subscribe":
		if msg.Channel == "" {
			return
		}
		if err := cm.Subscribe(connID, msg.Channel); err != nil {
			cm.sendError(connID, "subscription failed for "+msg.Channel)
		}
	case "unsubscribe":
		if msg.Channel != "" {
			cm.Unsubscribe(connID, msg.Channel)
		}
	case "catchup":
		cm.handleCatchup(ctx, connID, msg)
	case "ping":
		cm.sendJSON(connID, map[string]string{"type": "pong"})
	default:
		slog.Warn("Unknown client action", "connection_id", connID, "action", msg.Action)
	}
}

// handleCatchup replays persisted events after the client's last seen ID.
func (cm *ConnectionManager) handleCatchup(ctx context.Context, connID string, msg ClientMessage) {
	if cm.catchup == nil || msg.Channel == "" || msg.LastEventID == nil {
		return
	}
	stored, err := cm.catchup.EventsAfter(ctx, msg.Channel, *msg.LastEventID, 100)
	if err != nil {
		slog.Error("Catchup query failed",
			"connection_id", connID, "channel", msg.Channel, "error", err)
		cm.sendError(connID, "catchup failed for "+msg.Channel)
		return
	}
	for _, ev := range stored {
		payload, err := injectDBEventID(ev.Payload, ev.ID)
		if err != nil {
			slog.Warn("Failed to prepare catchup event", "event_id", ev.ID, "error", err)
			continue
		}
		cm.sendRawTo(connID, []byte(payload))
	}
	cm.sendJSON(connID, map[string]any{
		"type":    "catchup.complete",
		"channel": msg.Channel,
		"count":   len(stored),
	})
}

func (cm *ConnectionManager) sendError(connID, message string) {
	cm.sendJSON(connID, map[string]string{"type": "error", "message": message})
}

func (cm *ConnectionManager) sendJSON(connID string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	cm.sendRawTo(connID, data)
}

func (cm *ConnectionManager) sendRawTo(connID string, payload []byte) {
	cm.mu.RLock()
	c, ok := cm.connections[connID]
	cm.mu.RUnlock()
	if !ok {
		return
	}
	if err := c.sendRaw(payload); err != nil {
		slog.Warn("Failed to send to connection", "connection_id", connID, "error", err)
	}
}

// sendRaw writes one text frame, serialized per connection.
func (c *Connection) sendRaw(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return c.conn.Write(ctx, websocket.MessageText, payload)
}

// subscriberCount reports the subscribers of a channel. Test helper.
func (cm *ConnectionManager) subscriberCount(channel string) int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.channels[channel])
}
