package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseYesNo(t *testing.T) {
	tests := []struct {
		reply   string
		wantYes bool
		wantOK  bool
	}{
		{reply: "YES", wantYes: true, wantOK: true},
		{reply: "  yes.", wantYes: true, wantOK: true},
		{reply: "No, the context is missing dates", wantYes: false, wantOK: true},
		{reply: "**NO**", wantYes: false, wantOK: true},
		{reply: "Nothing to add", wantYes: false, wantOK: false},
		{reply: "", wantYes: false, wantOK: false},
		{reply: "Maybe", wantYes: false, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.reply, func(t *testing.T) {
			yes, ok := ParseYesNo(tt.reply)
			assert.Equal(t, tt.wantYes, yes)
			assert.Equal(t, tt.wantOK, ok)
		})
	}
}

func TestDecodeJSON(t *testing.T) {
	var v struct {
		Count int `json:"count"`
	}

	require.NoError(t, DecodeJSON("```json\n{\"count\": 7}\n```", &v))
	assert.Equal(t, 7, v.Count)

	assert.ErrorIs(t, DecodeJSON("no structure here", &v), ErrNoJSON)
	assert.Error(t, DecodeJSON("{count: }", &v))
}

func TestTrimQuotes(t *testing.T) {
	assert.Equal(t, "Trip planning", TrimQuotes("  \"Trip planning\"\n"))
	assert.Equal(t, "Budget", TrimQuotes("'Budget'"))
}
