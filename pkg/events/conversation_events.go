package events

import (
	"fmt"
	"time"
)

const (
	// TurnCompleted is published once an assistant answer is final. The
	// reference analyzer consumes it.
	TurnCompleted = "conversation.turn_completed"
	// TitleUpdated is published after a generated title is stored.
	TitleUpdated = "conversation.title_updated"
	// SourcesAnalyzed carries isReferenced flags back for an assistant turn.
	SourcesAnalyzed = "conversation.sources_analyzed"
)

// TurnSource is the minimal source reference sent to the analyzer.
type TurnSource struct {
	FileName string `json:"fileName"`
	FilePath string `json:"filePath"`
}

func NewTurnCompleted(userID, conversationID, turnID, answer string, sources []TurnSource) BaseEvent {
	refs := make([]interface{}, 0, len(sources))
	for _, s := range sources {
		refs = append(refs, map[string]interface{}{"fileName": s.FileName, "filePath": s.FilePath})
	}
	return BaseEvent{
		Type: TurnCompleted,
		Data: map[string]interface{}{
			"user_id":         userID,
			"conversation_id": conversationID,
			"turn_id":         turnID,
			"answer":          answer,
			"sources":         refs,
		},
		OccurredAt: time.Now(),
	}
}

func NewTitleUpdated(userID, conversationID, title string) BaseEvent {
	return BaseEvent{
		Type: TitleUpdated,
		Data: map[string]interface{}{
			"user_id":         userID,
			"conversation_id": conversationID,
			"title":           title,
		},
		OccurredAt: time.Now(),
	}
}

// SourcesAnalysis is the decoded SourcesAnalyzed payload.
type SourcesAnalysis struct {
	UserID         string
	ConversationID string
	TurnID         string
	// Referenced holds one flag per source, in the stored order.
	Referenced []bool
}

// ParseSourcesAnalysis reads a SourcesAnalyzed payload as delivered by the
// subscriber (JSON numbers and arrays decoded into interface{}).
func ParseSourcesAnalysis(payload map[string]interface{}) (*SourcesAnalysis, error) {
	turnID, _ := payload["turn_id"].(string)
	if turnID == "" {
		return nil, fmt.Errorf("sources analysis: missing turn_id")
	}
	rawFlags, ok := payload["referenced"].([]interface{})
	if !ok {
		return nil, fmt.Errorf("sources analysis: referenced must be a list")
	}

	flags := make([]bool, 0, len(rawFlags))
	for i, raw := range rawFlags {
		b, ok := raw.(bool)
		if !ok {
			return nil, fmt.Errorf("sources analysis: referenced[%d] is not a bool", i)
		}
		flags = append(flags, b)
	}

	userID, _ := payload["user_id"].(string)
	conversationID, _ := payload["conversation_id"].(string)
	return &SourcesAnalysis{
		UserID:         userID,
		ConversationID: conversationID,
		TurnID:         turnID,
		Referenced:     flags,
	}, nil
}
