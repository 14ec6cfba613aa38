package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"knowledge-assistant-be/internal/pkg/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const clusterChannel = "cluster_events"

// Hub keeps every open socket per user and fans pushes out to other
// instances through a redis channel.
type Hub struct {
	// UserID -> clients (multi-device)
	clients map[uuid.UUID][]*Client

	register   chan *Client
	unregister chan *Client

	mu sync.RWMutex

	// Nil when running single instance.
	rdb        *redis.Client
	instanceID string
	ready      chan struct{}
	// Closed when Run returns.
	done chan struct{}

	logger logger.ILogger
}

func NewHub(rdb *redis.Client, log logger.ILogger) *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[uuid.UUID][]*Client),
		rdb:        rdb,
		instanceID: uuid.NewString(),
		ready:      make(chan struct{}),
		done:       make(chan struct{}),
		logger:     log,
	}
}

// Ready is closed once the hub listens for cluster messages.
func (h *Hub) Ready() <-chan struct{} {
	return h.ready
}

// Run serves registrations until ctx ends.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	if h.rdb != nil {
		go h.subscribeToRedis(ctx)
	} else {
		close(h.ready)
	}

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.UserID] = append(h.clients[client.UserID], client)
			h.mu.Unlock()
			h.logger.Info("Hub", "Client registered", map[string]interface{}{"user_id": client.UserID})

		case client := <-h.unregister:
			h.remove(client)
		}
	}
}

// join hands client to Run. False when the hub has stopped.
func (h *Hub) join(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := h.clients[client.UserID]
	for i, c := range clients {
		if c == client {
			h.clients[client.UserID] = append(clients[:i], clients[i+1:]...)
			close(client.Send)
			break
		}
	}
	if len(h.clients[client.UserID]) == 0 {
		delete(h.clients, client.UserID)
		h.logger.Info("Hub", "Client completely unregistered", map[string]interface{}{"user_id": client.UserID})
	}
}

// Connections counts the open sockets of userID on this instance.
func (h *Hub) Connections(userID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// Send pushes {type, data} to every socket of userID on every instance.
func (h *Hub) Send(userID uuid.UUID, eventType string, data interface{}) {
	message, err := json.Marshal(map[string]interface{}{
		"type": eventType,
		"data": data,
	})
	if err != nil {
		h.logger.Error("Hub", "Failed to encode push", map[string]interface{}{"error": err.Error()})
		return
	}

	h.deliverLocal(userID, message)

	if h.rdb != nil {
		payload, _ := json.Marshal(clusterMessage{
			Origin:       h.instanceID,
			TargetUserID: userID.String(),
			Message:      message,
		})
		if err := h.rdb.Publish(context.Background(), clusterChannel, payload).Err(); err != nil {
			h.logger.Warn("Hub", "Failed to publish to cluster", map[string]interface{}{"error": err.Error()})
		}
	}
}

type clusterMessage struct {
	Origin       string          `json:"origin"`
	TargetUserID string          `json:"target_user_id"`
	Message      json.RawMessage `json:"message"`
}

// deliverLocal holds the read lock across the sends so remove cannot close
// a Send channel mid-delivery. The sends never block.
func (h *Hub) deliverLocal(userID uuid.UUID, message []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.clients[userID] {
		select {
		case client.Send <- message:
		default:
			h.logger.Warn("Hub", "Client send buffer full, dropping client", map[string]interface{}{"user_id": userID})
			go h.leave(client)
		}
	}
}

func (h *Hub) subscribeToRedis(ctx context.Context) {
	pubsub := h.rdb.Subscribe(ctx, clusterChannel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		h.logger.Error("Hub", "Redis subscribe failed, running local only", map[string]interface{}{"error": err.Error()})
		close(h.ready)
		return
	}
	close(h.ready)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var payload clusterMessage
			if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
				h.logger.Warn("Hub", "Redis message parse error", map[string]interface{}{"error": err.Error()})
				continue
			}
			if payload.Origin == h.instanceID {
				continue
			}
			uid, err := uuid.Parse(payload.TargetUserID)
			if err != nil {
				continue
			}
			h.deliverLocal(uid, payload.Message)
		}
	}
}
