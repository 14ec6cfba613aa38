package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"knowledge-assistant-be/internal/metrics"
	"knowledge-assistant-be/internal/pkg/logger"
	"knowledge-assistant-be/pkg/llm"
)

const module = "ResponseStream"

type Config struct {
	PersistInterval time.Duration
	PersistMinChars int
	FinalAttempts   int
	FinalBackoff    time.Duration
	TitleTimeout    time.Duration
}

func DefaultConfig() Config {
	return Config{
		PersistInterval: 2 * time.Second,
		PersistMinChars: 200,
		FinalAttempts:   3,
		FinalBackoff:    200 * time.Millisecond,
		TitleTimeout:    20 * time.Second,
	}
}

// Turn identifies what one stream is answering.
type Turn struct {
	ConversationID  string
	AssistantTurnID string
	IsFirstMessage  bool
	UserMessage     string
	Sources         []SourceAttribution
}

// Outcome is the terminal result of a stream. Content is exactly what was
// delivered to the client. Path lists every state the stream went through,
// ending with State.
type Outcome struct {
	State   State
	Path    []State
	Content string
	Title   string
	Err     error
}

type Controller struct {
	llmProvider llm.LLMProvider
	answers     AnswerStore
	titles      TitleStore
	cfg         Config
	logger      logger.ILogger
}

func NewController(llmProvider llm.LLMProvider, answers AnswerStore, titles TitleStore, cfg Config, log logger.ILogger) *Controller {
	if cfg.FinalAttempts <= 0 {
		cfg.FinalAttempts = 1
	}
	if cfg.PersistInterval <= 0 {
		cfg.PersistInterval = DefaultConfig().PersistInterval
	}
	return &Controller{
		llmProvider: llmProvider,
		answers:     answers,
		titles:      titles,
		cfg:         cfg,
		logger:      log,
	}
}

// Run streams the model answer for messages through emitter. It returns an
// error when the answer did not complete: ErrClientGone on disconnect, or
// the model error. In every case the delivered text is persisted first.
func (c *Controller) Run(ctx context.Context, turn Turn, messages []llm.Message, emitter Emitter, options ...llm.Option) (Outcome, error) {
	upstreamCtx, cancelUpstream := context.WithCancel(ctx)
	defer cancelUpstream()

	// Writes must outlive a cancelled request.
	persistCtx := context.WithoutCancel(ctx)

	tokens, err := llm.Stream(upstreamCtx, c.llmProvider, messages, options...)
	if err != nil {
		return c.fail(persistCtx, turn, nil, "", nil, emitter, err)
	}
	path := c.transition(turn, nil, StateStreaming)

	bg := newPersister(persistCtx, c.answers, turn.AssistantTurnID, c.logger)

	var acc strings.Builder
	lastPersistLen := 0
	lastPersistAt := time.Now()

	enqueue := func() {
		if acc.Len() == lastPersistLen {
			return
		}
		bg.Enqueue(acc.String())
		lastPersistLen = acc.Len()
		lastPersistAt = time.Now()
	}

	ticker := time.NewTicker(c.cfg.PersistInterval)
	defer ticker.Stop()

	for {
		select {
		case chunk, ok := <-tokens:
			if !ok {
				return c.finish(persistCtx, turn, path, acc.String(), bg, emitter)
			}
			if chunk.Err != nil {
				return c.fail(persistCtx, turn, path, acc.String(), bg, emitter, chunk.Err)
			}
			if chunk.Content == "" {
				continue
			}
			if err := emitter.EmitToken(chunk.Content); err != nil {
				cancelUpstream()
				return c.cancel(persistCtx, turn, path, acc.String(), bg, err)
			}
			acc.WriteString(chunk.Content)

			if time.Since(lastPersistAt) >= c.cfg.PersistInterval ||
				(c.cfg.PersistMinChars > 0 && acc.Len()-lastPersistLen >= c.cfg.PersistMinChars) {
				enqueue()
			}

		case <-ticker.C:
			enqueue()

		case <-ctx.Done():
			cancelUpstream()
			return c.cancel(persistCtx, turn, path, acc.String(), bg, ctx.Err())
		}
	}
}

func (c *Controller) transition(turn Turn, path []State, to State) []State {
	c.logger.Debug(module, "Stream state", map[string]interface{}{"turn_id": turn.AssistantTurnID, "state": string(to)})
	return append(path, to)
}

func (c *Controller) finish(persistCtx context.Context, turn Turn, path []State, content string, bg *persister, emitter Emitter) (Outcome, error) {
	path = c.transition(turn, path, StateFinalizing)

	bg.Close()
	if err := c.persistFinal(persistCtx, turn.AssistantTurnID, content); err != nil {
		c.logger.Error(module, "Final persist failed", map[string]interface{}{
			"turn_id": turn.AssistantTurnID,
			"error":   err.Error(),
		})
	}

	out := Outcome{State: StateDone, Path: c.transition(turn, path, StateDone), Content: content}
	if turn.IsFirstMessage {
		out.Title = c.generateTitle(persistCtx, turn, content)
	}

	payload, err := json.Marshal(sourcesTrailer{
		Type:           "sources",
		Sources:        nonNil(turn.Sources),
		ConversationID: turn.ConversationID,
	})
	if err == nil {
		err = emitter.EmitTrailer(append([]byte(SourcesMarker), payload...))
	}
	if err != nil {
		c.logger.Warn(module, "Sources trailer not delivered", map[string]interface{}{"error": err.Error()})
	}

	metrics.StreamOutcomes.WithLabelValues(string(StateDone)).Inc()
	return out, nil
}

func (c *Controller) cancel(persistCtx context.Context, turn Turn, path []State, content string, bg *persister, cause error) (Outcome, error) {
	c.logger.Info(module, "Client gone, flushing partial answer", map[string]interface{}{
		"turn_id": turn.AssistantTurnID,
		"length":  len(content),
		"cause":   cause.Error(),
	})

	c.flush(persistCtx, turn, content, bg)
	metrics.StreamOutcomes.WithLabelValues(string(StateCancelled)).Inc()

	err := fmt.Errorf("%w: %v", ErrClientGone, cause)
	return Outcome{State: StateCancelled, Path: c.transition(turn, path, StateCancelled), Content: content, Err: err}, err
}

func (c *Controller) fail(persistCtx context.Context, turn Turn, path []State, content string, bg *persister, emitter Emitter, cause error) (Outcome, error) {
	c.logger.Error(module, "Model stream failed", map[string]interface{}{
		"turn_id": turn.AssistantTurnID,
		"length":  len(content),
		"error":   cause.Error(),
	})

	c.flush(persistCtx, turn, content, bg)

	payload, err := json.Marshal(errorTrailer{
		Type:           "error",
		Message:        "The answer could not be completed.",
		ConversationID: turn.ConversationID,
	})
	if err == nil {
		err = emitter.EmitTrailer(append([]byte(ErrorMarker), payload...))
	}
	if err != nil {
		c.logger.Warn(module, "Error trailer not delivered", map[string]interface{}{"error": err.Error()})
	}

	metrics.StreamOutcomes.WithLabelValues(string(StateErrored)).Inc()

	wrapped := fmt.Errorf("model stream: %w", cause)
	return Outcome{State: StateErrored, Path: c.transition(turn, path, StateErrored), Content: content, Err: wrapped}, wrapped
}

func (c *Controller) flush(persistCtx context.Context, turn Turn, content string, bg *persister) {
	if bg != nil {
		bg.Close()
	}
	if err := c.persistFinal(persistCtx, turn.AssistantTurnID, content); err != nil {
		c.logger.Error(module, "Partial answer flush failed", map[string]interface{}{
			"turn_id": turn.AssistantTurnID,
			"error":   err.Error(),
		})
	}
}

func (c *Controller) persistFinal(ctx context.Context, turnID, content string) error {
	var err error
	for attempt := 1; attempt <= c.cfg.FinalAttempts; attempt++ {
		if err = c.answers.PersistAnswer(ctx, turnID, content); err == nil {
			return nil
		}
		if attempt < c.cfg.FinalAttempts {
			time.Sleep(c.cfg.FinalBackoff * time.Duration(attempt))
		}
	}
	return err
}

func (c *Controller) generateTitle(ctx context.Context, turn Turn, answer string) string {
	if c.titles == nil {
		return ""
	}
	if c.cfg.TitleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.TitleTimeout)
		defer cancel()
	}

	prompt := fmt.Sprintf(
		"Write a short title (at most 6 words) for a conversation that starts like this. Reply with the title only.\n\nUser: %s\nAssistant: %s",
		turn.UserMessage, truncate(answer, 800),
	)
	reply, err := c.llmProvider.Generate(ctx, prompt, llm.WithTemperature(0.3), llm.WithMaxTokens(20))
	if err != nil {
		c.logger.Warn(module, "Title generation failed", map[string]interface{}{"error": err.Error()})
		return ""
	}

	title := llm.TrimQuotes(reply)
	if title == "" {
		return ""
	}
	if err := c.titles.UpdateTitle(ctx, turn.ConversationID, title); err != nil {
		c.logger.Warn(module, "Title not saved", map[string]interface{}{"error": err.Error()})
		return ""
	}
	return title
}

func nonNil(s []SourceAttribution) []SourceAttribution {
	if s == nil {
		return []SourceAttribution{}
	}
	return s
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
