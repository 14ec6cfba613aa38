package stream

import (
	"context"

	"knowledge-assistant-be/internal/pkg/logger"
)

// persister is a single-worker write queue for one turn. Pending writes
// coalesce: only the newest content is kept, since every write is a full
// overwrite of the same row.
type persister struct {
	store   AnswerStore
	turnID  string
	ctx     context.Context
	logger  logger.ILogger
	pending chan string
	done    chan struct{}
}

func newPersister(ctx context.Context, store AnswerStore, turnID string, log logger.ILogger) *persister {
	p := &persister{
		store:   store,
		turnID:  turnID,
		ctx:     ctx,
		logger:  log,
		pending: make(chan string, 1),
		done:    make(chan struct{}),
	}
	go p.loop()
	return p
}

func (p *persister) loop() {
	defer close(p.done)
	for content := range p.pending {
		if err := p.store.PersistAnswer(p.ctx, p.turnID, content); err != nil {
			p.logger.Warn(module, "Background persist failed", map[string]interface{}{
				"turn_id": p.turnID,
				"length":  len(content),
				"error":   err.Error(),
			})
		}
	}
}

// Enqueue never blocks. Must only be called from the streaming goroutine.
func (p *persister) Enqueue(content string) {
	for {
		select {
		case p.pending <- content:
			return
		default:
		}
		select {
		case <-p.pending:
		default:
		}
	}
}

// Close waits for queued writes to land.
func (p *persister) Close() {
	close(p.pending)
	<-p.done
}
