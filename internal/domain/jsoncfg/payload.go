// Package jsoncfg defines the JSON payload contracts exchanged with the
// inference models and helpers for parsing the (sometimes fenced) JSON text
// models actually return.
package jsoncfg

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// AnswerPayload is the JSON object an answers-stage completion must emit.
// The question travels with the answer so the import step can create a full
// content record from the result line alone.
type AnswerPayload struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Validate ensures the payload satisfies the contract before persistence.
func (p AnswerPayload) Validate() error {
	if strings.TrimSpace(p.Question) == "" {
		return fmt.Errorf("question is required")
	}
	if strings.TrimSpace(p.Answer) == "" {
		return fmt.Errorf("answer is required")
	}
	return nil
}

// MetadataPayload is the JSON object a metadata-stage completion must emit.
type MetadataPayload struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Validate ensures the payload carries at least a title.
func (p MetadataPayload) Validate() error {
	if strings.TrimSpace(p.Title) == "" {
		return fmt.Errorf("title is required")
	}
	return nil
}

// ParseAnswer decodes an answers-stage completion.
func ParseAnswer(raw string) (AnswerPayload, error) {
	payload, err := parsePayload[AnswerPayload](raw)
	if err != nil {
		return AnswerPayload{}, err
	}
	if err := payload.Validate(); err != nil {
		return AnswerPayload{}, err
	}
	return payload, nil
}

// ParseMetadata decodes a metadata-stage completion.
func ParseMetadata(raw string) (MetadataPayload, error) {
	payload, err := parsePayload[MetadataPayload](raw)
	if err != nil {
		return MetadataPayload{}, err
	}
	if err := payload.Validate(); err != nil {
		return MetadataPayload{}, err
	}
	return payload, nil
}

func parsePayload[T any](raw string) (T, error) {
	var zero T
	cleaned := extractJSONFragment(raw)
	if cleaned == "" {
		return zero, errors.New("empty payload")
	}
	var decoded T
	if err := json.Unmarshal([]byte(cleaned), &decoded); err != nil {
		return zero, err
	}
	return decoded, nil
}

// extractJSONFragment strips code fences and surrounding prose from a model
// response, keeping the outermost JSON value.
func extractJSONFragment(raw string) string {
	text := strings.TrimSpace(raw)
	if text == "" {
		return ""
	}
	text = trimCodeFence(text)
	start := strings.IndexAny(text, "{[")
	end := strings.LastIndexAny(text, "]}")
	if start >= 0 && end >= start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}

func trimCodeFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.Index(trimmed, "\n"); idx >= 0 {
		trimmed = trimmed[idx+1:]
	}
	if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return strings.TrimSpace(trimmed)
}
