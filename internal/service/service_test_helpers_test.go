package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"knowledge-assistant-be/internal/model"
	"knowledge-assistant-be/internal/repository/unitofwork"
	"knowledge-assistant-be/pkg/events"
	"knowledge-assistant-be/pkg/llm"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupFactory(t *testing.T) unitofwork.RepositoryFactory {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&model.Conversation{}, &model.ConversationMessage{}, &model.DocumentChunk{}))
	return unitofwork.NewRepositoryFactory(db)
}

// scriptedLLM answers Chat with answer (or chatErr) and Generate by the
// first matching prompt substring.
type scriptedLLM struct {
	answer   string
	chatErr  error
	generate map[string]string
}

func (l *scriptedLLM) Chat(ctx context.Context, history []llm.Message, options ...llm.Option) (string, error) {
	if l.chatErr != nil {
		return "", l.chatErr
	}
	return l.answer, nil
}

func (l *scriptedLLM) Generate(ctx context.Context, prompt string, options ...llm.Option) (string, error) {
	for key, reply := range l.generate {
		if strings.Contains(prompt, key) {
			return reply, nil
		}
	}
	return "", errors.New("unexpected prompt")
}

type recordingEmitter struct {
	mu      sync.Mutex
	tokens  []string
	trailer []byte
}

func (e *recordingEmitter) EmitToken(token string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tokens = append(e.tokens, token)
	return nil
}

func (e *recordingEmitter) EmitTrailer(payload []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.trailer = payload
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.EventType())
	}
	return out
}

type recordingQueue struct {
	mu       sync.Mutex
	topics   []string
	payloads [][]byte
}

func (q *recordingQueue) Publish(topic string, messages ...*message.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, m := range messages {
		q.topics = append(q.topics, topic)
		q.payloads = append(q.payloads, m.Payload)
	}
	return nil
}

func (q *recordingQueue) Close() error { return nil }

type staticReadiness bool

func (r staticReadiness) IsInitialized() bool { return bool(r) }
