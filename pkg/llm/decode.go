package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// ErrNoJSON is returned when a model reply carries no JSON object.
var ErrNoJSON = errors.New("no JSON object found in reply")

// ExtractJSON returns the outermost {...} block of a model reply, tolerating
// markdown fences and chatter around it.
func ExtractJSON(reply string) string {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start == -1 || end == -1 || end < start {
		return ""
	}
	return reply[start : end+1]
}

// DecodeJSON unmarshals the JSON object embedded in reply into v.
func DecodeJSON(reply string, v interface{}) error {
	raw := ExtractJSON(reply)
	if raw == "" {
		return ErrNoJSON
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("decode model reply: %w", err)
	}
	return nil
}

// ParseYesNo reads a YES/NO reply by its first word. ok is false when the
// reply starts with anything else.
func ParseYesNo(reply string) (yes bool, ok bool) {
	words := strings.FieldsFunc(strings.ToUpper(reply), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	if len(words) == 0 {
		return false, false
	}
	switch words[0] {
	case "YES":
		return true, true
	case "NO":
		return false, true
	default:
		return false, false
	}
}

// TrimQuotes removes surrounding whitespace and quote characters.
func TrimQuotes(s string) string {
	return strings.Trim(strings.TrimSpace(s), "\"'`“”‘’")
}
