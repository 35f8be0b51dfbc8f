package realtime

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30
	PongWait     = 60
)

// TicketRoom is the room name carrying events for one ticket.
func TicketRoom(ticketID uuid.UUID) string {
	return "ticket:" + ticketID.String()
}

// UserRoom is the room name carrying events addressed to one user.
func UserRoom(userID uuid.UUID) string {
	return "user:" + userID.String()
}

// RedisPublisher publishes room events for cross-instance broadcast.
type RedisPublisher interface {
	PublishRoomEvent(room, event string, payload []byte) error
}

// RedisSubscriber subscribes to a room channel and invokes handler for
// incoming events.
type RedisSubscriber interface {
	SubscribeRoom(room string, handler func(event string, payload []byte)) (cancel func(), err error)
}

// Hub maintains room -> set of connections and broadcasts messages. Events
// are published to Redis and delivered by each instance's subscription, so
// a message reaches every connected client exactly once regardless of which
// instance it originated on.
type Hub struct {
	rooms    map[string]map[string]*Client
	subs     map[string]func() // cancel Redis subscription per room
	mu       sync.RWMutex
	logger   *zap.Logger
	redis    RedisPublisher
	redisSub RedisSubscriber
}

// NewHub creates a new WebSocket hub.
func NewHub(logger *zap.Logger, redisPub RedisPublisher, redisSub RedisSubscriber) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		rooms:    make(map[string]map[string]*Client),
		subs:     make(map[string]func()),
		logger:   logger,
		redis:    redisPub,
		redisSub: redisSub,
	}
}

// Register adds a client to its rooms. Starts a Redis subscription for each
// room gaining its first local client.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	for _, room := range c.Rooms {
		if h.rooms[room] == nil {
			h.rooms[room] = make(map[string]*Client)
			if h.redisSub != nil {
				room := room
				cancel, err := h.redisSub.SubscribeRoom(room, func(event string, payload []byte) {
					h.broadcastLocal(room, event, json.RawMessage(payload))
				})
				if err == nil {
					h.subs[room] = cancel
				} else {
					h.logger.Warn("room subscription failed", zap.String("room", room), zap.Error(err))
				}
			}
		}
		h.rooms[room][c.ID] = c
	}
	h.mu.Unlock()
	h.logger.Debug("client connected", zap.String("client_id", c.ID), zap.Strings("rooms", c.Rooms))
}

// Unregister removes a client from its rooms. Cancels the Redis subscription
// when the last local client leaves a room.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	for _, room := range c.Rooms {
		if m, ok := h.rooms[room]; ok {
			delete(m, c.ID)
			if len(m) == 0 {
				delete(h.rooms, room)
				if cancel, ok := h.subs[room]; ok {
					cancel()
					delete(h.subs, room)
				}
			}
		}
	}
	h.mu.Unlock()
	h.logger.Debug("client disconnected", zap.String("client_id", c.ID))
}

// broadcastLocal delivers to clients connected to this instance only.
func (h *Hub) broadcastLocal(room, event string, payload interface{}) {
	var data []byte
	switch v := payload.(type) {
	case []byte:
		data = v
	case json.RawMessage:
		data = v
	default:
		data, _ = json.Marshal(payload)
	}
	msg := WSMessage{Event: event, Data: data}

	h.mu.RLock()
	clients := h.rooms[room]
	h.mu.RUnlock()

	for _, c := range clients {
		select {
		case c.send <- msg:
		default:
			// buffer full, skip
		}
	}
}

// publish routes an event through Redis so every instance (this one
// included) delivers it once via its subscription. Falls back to a local
// broadcast when Redis is not configured.
func (h *Hub) publish(room, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if h.redis != nil {
		if err := h.redis.PublishRoomEvent(room, event, data); err == nil {
			return
		}
		h.logger.Warn("room publish failed, delivering locally", zap.String("room", room), zap.Error(err))
	}
	h.broadcastLocal(room, event, json.RawMessage(data))
}

// BroadcastToTicket sends an event to everyone watching the ticket.
func (h *Hub) BroadcastToTicket(ticketID uuid.UUID, event string, data interface{}) {
	h.publish(TicketRoom(ticketID), event, data)
}

// BroadcastToUser sends an event to all of the user's connections.
func (h *Hub) BroadcastToUser(userID uuid.UUID, event string, data interface{}) {
	h.publish(UserRoom(userID), event, data)
}

// RoomCount returns the number of local clients in a room.
func (h *Hub) RoomCount(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}
