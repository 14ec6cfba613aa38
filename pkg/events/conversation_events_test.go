package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSourcesAnalysis(t *testing.T) {
	decode := func(t *testing.T, raw string) map[string]interface{} {
		t.Helper()
		var payload map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(raw), &payload))
		return payload
	}

	t.Run("valid payload", func(t *testing.T) {
		got, err := ParseSourcesAnalysis(decode(t, `{"user_id":"u1","conversation_id":"c1","turn_id":"t1","referenced":[true,false,true]}`))
		require.NoError(t, err)
		assert.Equal(t, "t1", got.TurnID)
		assert.Equal(t, "c1", got.ConversationID)
		assert.Equal(t, []bool{true, false, true}, got.Referenced)
	})

	tests := []struct {
		name string
		raw  string
	}{
		{"missing turn", `{"referenced":[true]}`},
		{"referenced not a list", `{"turn_id":"t1","referenced":"yes"}`},
		{"non bool flag", `{"turn_id":"t1","referenced":[1]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSourcesAnalysis(decode(t, tt.raw))
			assert.Error(t, err)
		})
	}
}

func TestNewTurnCompleted(t *testing.T) {
	evt := NewTurnCompleted("u1", "c1", "t1", "answer", []TurnSource{{FileName: "a.md", FilePath: "/a.md"}})

	assert.Equal(t, TurnCompleted, evt.EventType())
	assert.Equal(t, "t1", evt.Payload()["turn_id"])
	assert.Len(t, evt.Payload()["sources"], 1)
	assert.False(t, evt.Timestamp().IsZero())
}
