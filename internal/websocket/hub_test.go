package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"knowledge-assistant-be/internal/pkg/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T, rdb *redis.Client) *Hub {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := NewHub(rdb, logger.NewNopLogger())
	go hub.Run(ctx)

	select {
	case <-hub.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("hub never became ready")
	}
	return hub
}

func registerClient(hub *Hub, userID uuid.UUID) *Client {
	c := &Client{Hub: hub, UserID: userID, Send: make(chan []byte, 4)}
	before := hub.Connections(userID)
	hub.register <- c
	for hub.Connections(userID) == before {
		time.Sleep(time.Millisecond)
	}
	return c
}

func receive(t *testing.T, c *Client) map[string]interface{} {
	t.Helper()
	select {
	case raw := <-c.Send:
		var msg map[string]interface{}
		require.NoError(t, json.Unmarshal(raw, &msg))
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
		return nil
	}
}

func TestHubLocalDelivery(t *testing.T) {
	hub := startHub(t, nil)
	userID := uuid.New()
	phone := registerClient(hub, userID)
	laptop := registerClient(hub, userID)
	stranger := registerClient(hub, uuid.New())

	hub.Send(userID, "conversation.title_updated", map[string]string{"title": "Reading notes"})

	for _, c := range []*Client{phone, laptop} {
		msg := receive(t, c)
		assert.Equal(t, "conversation.title_updated", msg["type"])
	}
	assert.Empty(t, stranger.Send)
}

func TestHubClusterFanOut(t *testing.T) {
	mr := miniredis.RunT(t)
	newClient := func() *redis.Client {
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { rdb.Close() })
		return rdb
	}

	hubA := startHub(t, newClient())
	hubB := startHub(t, newClient())

	userID := uuid.New()
	local := registerClient(hubA, userID)
	remote := registerClient(hubB, userID)

	hubA.Send(userID, "conversation.sources_analyzed", map[string]string{"turn_id": "t1"})

	assert.Equal(t, "conversation.sources_analyzed", receive(t, local)["type"])
	assert.Equal(t, "conversation.sources_analyzed", receive(t, remote)["type"])

	// the sender must not receive its own cluster echo
	select {
	case <-local.Send:
		t.Fatal("duplicate delivery on origin instance")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHubUnregisterClosesSend(t *testing.T) {
	hub := startHub(t, nil)
	c := registerClient(hub, uuid.New())

	hub.unregister <- c

	assert.Eventually(t, func() bool {
		select {
		case _, ok := <-c.Send:
			return !ok
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
}

func TestHubSendWhileUnregistering(t *testing.T) {
	hub := startHub(t, nil)
	userID := uuid.New()

	for i := 0; i < 200; i++ {
		c := registerClient(hub, userID)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			// more pushes than the buffer holds, so drops run too
			for j := 0; j < 8; j++ {
				hub.Send(userID, "conversation.turn_completed", nil)
			}
		}()
		go func() {
			defer wg.Done()
			hub.leave(c)
		}()
		wg.Wait()

		require.Eventually(t, func() bool { return hub.Connections(userID) == 0 }, time.Second, time.Millisecond)
	}
}

func TestHubStoppedDoesNotBlock(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(nil, logger.NewNopLogger())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()
	<-hub.Ready()

	c := registerClient(hub, uuid.New())
	cancel()
	<-stopped

	tests := []struct {
		name string
		call func()
	}{
		{"leave", func() { hub.leave(c) }},
		{"join", func() { assert.False(t, hub.join(&Client{Hub: hub, UserID: uuid.New(), Send: make(chan []byte, 1)})) }},
		{"full buffer drop", func() {
			for i := 0; i < cap(c.Send)+2; i++ {
				hub.Send(c.UserID, "conversation.turn_completed", nil)
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			returned := make(chan struct{})
			go func() {
				tt.call()
				close(returned)
			}()
			select {
			case <-returned:
			case <-time.After(time.Second):
				t.Fatal("call blocked on a stopped hub")
			}
		})
	}
}

func TestClientOptionsDefaults(t *testing.T) {
	tests := []struct {
		name       string
		in         ClientOptions
		wantBuffer int
		wantPing   time.Duration
	}{
		{"zero", ClientOptions{}, 64, 54 * time.Second},
		{"custom buffer", ClientOptions{SendBuffer: 8}, 8, 54 * time.Second},
		{"ping beyond pong wait", ClientOptions{PingPeriod: 2 * time.Minute}, 64, 54 * time.Second},
		{"custom ping", ClientOptions{PingPeriod: 10 * time.Second}, 64, 10 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in.withDefaults()
			assert.Equal(t, tt.wantBuffer, got.SendBuffer)
			assert.Equal(t, tt.wantPing, got.PingPeriod)
		})
	}
}
