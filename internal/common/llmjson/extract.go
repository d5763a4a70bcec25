// internal/common/llmjson/extract.go
package llmjson

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	jsonFence  = regexp.MustCompile("(?s)```json(.*?)```")
	plainFence = regexp.MustCompile("(?s)```(.*?)```")
)

// Extract returns the JSON payload of a model reply. A ```json fenced block
// wins over a bare ``` block; text without fences is returned unchanged.
// The result is not validated.
func Extract(text string) string {
	if m := jsonFence.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := plainFence.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return text
}

// Decode extracts the payload from text and unmarshals it into target.
func Decode(text string, target any) error {
	payload := strings.TrimSpace(Extract(text))
	if payload == "" {
		return errors.New("empty payload")
	}
	if err := json.Unmarshal([]byte(payload), target); err != nil {
		return fmt.Errorf("%w (payload snippet: %s)", err, Snippet(payload))
	}
	return nil
}

// Snippet collapses whitespace and truncates content for log fields.
func Snippet(content string) string {
	clean := strings.Join(strings.Fields(content), " ")
	if clean == "" {
		return "<empty>"
	}
	const limit = 160
	runes := []rune(clean)
	if len(runes) > limit {
		clean = string(runes[:limit]) + "..."
	}
	return clean
}
