// Package tokens approximates token counts for budgeting decisions.
//
// The estimate is ceil(characters / 4). It is deliberately not a real
// tokenizer: callers must only use it to compare against budgets, never to
// predict exact model-side token usage.
package tokens

import (
	"unicode/utf8"

	"knowledge-assistant-be/pkg/llm"
)

const charsPerToken = 4

// Estimate returns the approximate token count of text.
func Estimate(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + charsPerToken - 1) / charsPerToken
}

// EstimateMessage returns the approximate token count of one message.
func EstimateMessage(msg llm.Message) int {
	return Estimate(msg.Content)
}

// EstimateMessages sums EstimateMessage over msgs.
func EstimateMessages(msgs []llm.Message) int {
	total := 0
	for _, m := range msgs {
		total += EstimateMessage(m)
	}
	return total
}
