package router

import (
	"regexp"
	"strings"
	"unicode"

	"knowledge-assistant-be/pkg/llm"
)

// QueryFeatures is everything the routing rules are allowed to look at.
type QueryFeatures struct {
	Query          string
	Normalized     string
	CharCount      int
	WordCount      int
	HasPronoun     bool
	IsFirstMessage bool
	HistoryLength  int

	IsGreeting        bool
	IsSimpleFactual   bool
	HasFollowUpMarker bool
}

var (
	referencePronouns = map[string]bool{
		"it": true, "its": true, "itself": true,
		"they": true, "them": true, "their": true, "theirs": true,
		"this": true, "that": true, "these": true, "those": true,
		"he": true, "him": true, "his": true,
		"she": true, "her": true, "hers": true,
	}

	greetings = map[string]bool{
		"hi": true, "hello": true, "hey": true, "yo": true,
		"thanks": true, "thank you": true, "thx": true,
		"good morning": true, "good evening": true, "good afternoon": true,
		"ok": true, "okay": true, "bye": true,
	}

	simpleFactualPattern = regexp.MustCompile(`^(what|who|when|where|which)\s+(is|are|was|were|did|does|do)\b|^(define|definition of|how many|how much)\b`)

	followUpPattern = regexp.MustCompile(`^(and|also|what about|how about|plus|then)\b`)
)

// ExtractFeatures computes QueryFeatures for a raw query. history excludes
// the current message.
func ExtractFeatures(query string, isFirstMessage bool, history []llm.Message) QueryFeatures {
	normalized := strings.ToLower(strings.TrimSpace(query))
	words := strings.FieldsFunc(normalized, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})

	hasPronoun := false
	for _, w := range words {
		if referencePronouns[w] {
			hasPronoun = true
			break
		}
	}

	bare := strings.Join(words, " ")

	return QueryFeatures{
		Query:             query,
		Normalized:        normalized,
		CharCount:         len([]rune(normalized)),
		WordCount:         len(words),
		HasPronoun:        hasPronoun,
		IsFirstMessage:    isFirstMessage,
		HistoryLength:     len(history),
		IsGreeting:        greetings[bare],
		IsSimpleFactual:   simpleFactualPattern.MatchString(bare),
		HasFollowUpMarker: followUpPattern.MatchString(bare),
	}
}
