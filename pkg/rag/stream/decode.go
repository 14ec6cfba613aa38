package stream

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Result is a complete response body split into answer text and trailer.
type Result struct {
	Answer         string
	Sources        []SourceAttribution
	ConversationID string
	// Error is set when the stream ended with an error trailer.
	Error string
}

// ParseBody splits a finished response body. A body without a trailer is
// returned as a bare answer; the caller decides whether that counts as a
// dropped connection.
func ParseBody(body string) (Result, error) {
	idx, marker := trailerStart(body, true)
	if idx < 0 {
		return Result{Answer: body}, nil
	}

	res := Result{Answer: body[:idx]}
	payload := []byte(body[idx+len(marker):])

	switch marker {
	case SourcesMarker:
		var t sourcesTrailer
		if err := json.Unmarshal(payload, &t); err != nil {
			return res, fmt.Errorf("decode sources trailer: %w", err)
		}
		res.Sources = t.Sources
		res.ConversationID = t.ConversationID
	case ErrorMarker:
		var t errorTrailer
		if err := json.Unmarshal(payload, &t); err != nil {
			return res, fmt.Errorf("decode error trailer: %w", err)
		}
		res.Error = t.Message
		res.ConversationID = t.ConversationID
	}
	return res, nil
}

// Printable returns how much of a partially received body can be shown as
// answer text: everything before a trailer, minus any tail that could be
// the start of a marker split across reads.
func Printable(buf string) int {
	if idx, _ := trailerStart(buf, false); idx >= 0 {
		return idx
	}
	hold := 0
	for _, m := range []string{SourcesMarker, ErrorMarker} {
		for k := len(m) - 1; k > hold; k-- {
			if strings.HasSuffix(buf, m[:k]) {
				hold = k
				break
			}
		}
	}
	return len(buf) - hold
}

// trailerStart finds the first marker, or the last one when last is set.
func trailerStart(body string, last bool) (int, string) {
	best, marker := -1, ""
	for _, m := range []string{SourcesMarker, ErrorMarker} {
		var i int
		if last {
			i = strings.LastIndex(body, m)
		} else {
			i = strings.Index(body, m)
		}
		if i < 0 {
			continue
		}
		if best < 0 || (last && i > best) || (!last && i < best) {
			best, marker = i, m
		}
	}
	return best, marker
}
