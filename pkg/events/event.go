package events

import (
	"encoding/json"
	"errors"
	"time"
)

// Event is anything published on the conversation bus.
type Event interface {
	// EventType returns the dotted event code, e.g. "conversation.turn_completed".
	EventType() string
	Payload() map[string]interface{}
	Timestamp() time.Time
}

// BaseEvent doubles as the wire envelope: subscribers read type and time
// back from it instead of guessing from the subject.
type BaseEvent struct {
	Type       string                 `json:"type"`
	OccurredAt time.Time              `json:"occurred_at"`
	Data       map[string]interface{} `json:"data"`
}

func (e BaseEvent) EventType() string { return e.Type }
func (e BaseEvent) Payload() map[string]interface{} { return e.Data }
func (e BaseEvent) Timestamp() time.Time { return e.OccurredAt }

// ErrUntypedEvent is returned by Decode for envelopes without a type.
var ErrUntypedEvent = errors.New("event without type")

// Encode serializes any Event into the envelope format.
func Encode(event Event) ([]byte, error) {
	return json.Marshal(BaseEvent{
		Type:       event.EventType(),
		OccurredAt: event.Timestamp(),
		Data:       event.Payload(),
	})
}

// Decode reads an envelope. A missing timestamp becomes now and a missing
// payload an empty map.
func Decode(data []byte) (BaseEvent, error) {
	var evt BaseEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return BaseEvent{}, err
	}
	if evt.Type == "" {
		return BaseEvent{}, ErrUntypedEvent
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now()
	}
	if evt.Data == nil {
		evt.Data = map[string]interface{}{}
	}
	return evt, nil
}
