package jsonutil

import (
	"encoding/json"
	"errors"
	"strings"
)

var ErrEmptyInput = errors.New("jsonutil: empty input")

// DecodeWithFallback decodes raw JSON, tolerating the markdown code
// fences that models occasionally wrap payloads in.
func DecodeWithFallback(raw string, out any) error {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ErrEmptyInput
	}
	if err := json.Unmarshal([]byte(trimmed), out); err == nil {
		return nil
	}
	stripped := stripCodeFence(trimmed)
	if stripped == "" {
		return errors.New("jsonutil: input is not valid json")
	}
	return json.Unmarshal([]byte(stripped), out)
}

func stripCodeFence(raw string) string {
	if !strings.HasPrefix(raw, "```") {
		return ""
	}
	body := strings.TrimPrefix(raw, "```")
	if idx := strings.Index(body, "\n"); idx >= 0 {
		body = body[idx+1:]
	}
	if idx := strings.LastIndex(body, "```"); idx >= 0 {
		body = body[:idx]
	}
	return strings.TrimSpace(body)
}
