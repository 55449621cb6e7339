package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ParseError reports a model reply that is not a well-formed JSON object.
type ParseError struct {
	Text string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing LLM response as JSON (%d chars): %v", len(e.Text), e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ParseJSONObject parses a JSON object from an LLM reply, handling markdown
// code fences.
func ParseJSONObject(text string) (map[string]any, error) {
	body := stripFences(strings.TrimSpace(text))
	if body == "" {
		return nil, &ParseError{Text: text, Err: errors.New("empty response")}
	}

	var result map[string]any
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		return nil, &ParseError{Text: text, Err: err}
	}
	if result == nil {
		return nil, &ParseError{Text: text, Err: errors.New("response is not a JSON object")}
	}
	return result, nil
}

func stripFences(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	lines := strings.Split(text, "\n")
	endIdx := len(lines)
	for i := len(lines) - 1; i > 0; i-- {
		if strings.TrimSpace(lines[i]) == "```" {
			endIdx = i
			break
		}
	}
	if endIdx <= 1 {
		return ""
	}
	return strings.Join(lines[1:endIdx], "\n")
}
