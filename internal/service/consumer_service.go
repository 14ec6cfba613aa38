package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"knowledge-assistant-be/internal/dto"
	"knowledge-assistant-be/internal/pkg/logger"
	"knowledge-assistant-be/internal/repository/specification"
	"knowledge-assistant-be/internal/repository/unitofwork"
	"knowledge-assistant-be/pkg/llm"

	"github.com/ThreeDotsLabs/watermill/message"
)

const topicModule = "TopicExtraction"

const (
	maxTopics           = 5
	topicTranscriptSize = 6000
)

type IConsumerService interface {
	Consume(ctx context.Context) error
}

// consumerService extracts conversation topics off the request path.
type consumerService struct {
	subscriber  message.Subscriber
	topicName   string
	uowFactory  unitofwork.RepositoryFactory
	llmProvider llm.LLMProvider
	timeout     time.Duration
	logger      logger.ILogger
}

func NewConsumerService(
	subscriber message.Subscriber,
	topicName string,
	uowFactory unitofwork.RepositoryFactory,
	llmProvider llm.LLMProvider,
	timeout time.Duration,
	log logger.ILogger,
) IConsumerService {
	return &consumerService{
		subscriber:  subscriber,
		topicName:   topicName,
		uowFactory:  uowFactory,
		llmProvider: llmProvider,
		timeout:     timeout,
		logger:      log,
	}
}

func (cs *consumerService) Consume(ctx context.Context) error {
	messages, err := cs.subscriber.Subscribe(ctx, cs.topicName)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			cs.processMessage(ctx, msg)
		}
	}()

	return nil
}

// processMessage always acks: topics are a nice-to-have and a retry would
// only repeat the same model call.
func (cs *consumerService) processMessage(ctx context.Context, msg *message.Message) {
	defer msg.Ack()

	var payload dto.PublishTopicExtractionMessage
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		cs.logger.Warn(topicModule, "Failed to unmarshal message", map[string]interface{}{"error": err.Error()})
		return
	}

	uow := cs.uowFactory.NewUnitOfWork(ctx)
	messages, err := uow.ConversationMessageRepository().FindAll(ctx,
		specification.ByConversationID{ConversationID: payload.ConversationId},
		specification.OrderBy{Field: "created_at"},
	)
	if err != nil {
		cs.logger.Warn(topicModule, "Failed to load conversation", map[string]interface{}{
			"conversation_id": payload.ConversationId,
			"error":           err.Error(),
		})
		return
	}
	if len(messages) == 0 {
		return
	}

	var transcript strings.Builder
	for _, m := range messages {
		if m.Content == "" {
			continue
		}
		fmt.Fprintf(&transcript, "%s: %s\n", m.Role, m.Content)
	}

	topics, err := cs.extract(ctx, tail(transcript.String(), topicTranscriptSize))
	if err != nil {
		cs.logger.Warn(topicModule, "Topic extraction failed", map[string]interface{}{
			"conversation_id": payload.ConversationId,
			"error":           err.Error(),
		})
		return
	}

	if err := uow.ConversationRepository().UpdateTopics(ctx, payload.ConversationId, topics); err != nil {
		cs.logger.Warn(topicModule, "Failed to store topics", map[string]interface{}{
			"conversation_id": payload.ConversationId,
			"error":           err.Error(),
		})
		return
	}

	cs.logger.Info(topicModule, "Topics updated", map[string]interface{}{
		"conversation_id": payload.ConversationId,
		"topics":          topics,
	})
}

func (cs *consumerService) extract(ctx context.Context, transcript string) ([]string, error) {
	callCtx, cancel := context.WithTimeout(ctx, cs.timeout)
	defer cancel()

	reply, err := cs.llmProvider.Generate(callCtx, buildTopicPrompt(transcript), llm.WithTemperature(0))
	if err != nil {
		return nil, err
	}

	var decoded struct {
		Topics []string `json:"topics"`
	}
	if err := llm.DecodeJSON(reply, &decoded); err != nil {
		return nil, err
	}
	return normalizeTopics(decoded.Topics), nil
}

func buildTopicPrompt(transcript string) string {
	return fmt.Sprintf(`List the main topics of the conversation below.
Reply with a JSON object only: {"topics": ["topic", ...]}
Use at most %d short lowercase topics of one to three words.

Conversation:
%s`, maxTopics, transcript)
}

// normalizeTopics lowercases, drops blanks and duplicates, keeps the first
// maxTopics.
func normalizeTopics(raw []string) []string {
	seen := make(map[string]bool, len(raw))
	out := make([]string, 0, maxTopics)
	for _, t := range raw {
		t = strings.ToLower(llm.TrimQuotes(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
		if len(out) == maxTopics {
			break
		}
	}
	return out
}

// tail keeps at most the last n bytes, cut at a line start when possible
// and never inside a rune.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	start := len(s) - n
	for start < len(s) && !utf8.RuneStart(s[start]) {
		start++
	}
	s = s[start:]
	if i := strings.IndexByte(s, '\n'); i >= 0 && i < len(s)-1 {
		return s[i+1:]
	}
	return s
}
