package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// ParseError reports model output that could not be decoded into the
// requested shape.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing LLM response as JSON: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// StripCodeFence removes a surrounding markdown code block, if any.
func StripCodeFence(text string) string {
	text = strings.TrimSpace(text)
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
	if endIdx < 1 {
		return ""
	}
	return strings.TrimSpace(strings.Join(lines[1:endIdx], "\n"))
}

// DecodeJSON decodes an LLM response into out, handling markdown code blocks
// and leading or trailing prose around a single JSON value.
func DecodeJSON(text string, out any) error {
	text = StripCodeFence(text)
	if text == "" {
		return &ParseError{Raw: text, Err: fmt.Errorf("empty response")}
	}
	firstErr := json.Unmarshal([]byte(text), out)
	if firstErr == nil {
		return nil
	}

	start := strings.IndexAny(text, "{[")
	if start >= 0 {
		closer := byte('}')
		if text[start] == '[' {
			closer = ']'
		}
		if end := strings.LastIndexByte(text, closer); end > start {
			if err := json.Unmarshal([]byte(text[start:end+1]), out); err == nil {
				return nil
			}
		}
	}

	return &ParseError{Raw: text, Err: firstErr}
}

// GenerateStructured asks p for JSON matching shape and decodes it into out.
// Usage is returned whenever the provider answered, including on a
// *ParseError.
func GenerateStructured(ctx context.Context, p Provider, req Request, shape string, out any) (Usage, error) {
	req.Prompt = strings.TrimRight(req.Prompt, "\n") +
		"\n\nRespond with ONLY valid JSON (no markdown, no commentary) in this format:\n" + shape
	resp, err := p.Generate(ctx, req)
	if err != nil {
		return Usage{}, err
	}
	if err := DecodeJSON(resp.Text, out); err != nil {
		return resp.Usage, err
	}
	return resp.Usage, nil
}
