// Package jsonl builds and parses the newline-delimited JSON request and
// result records exchanged with the external batch service.
package jsonl

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Message is one chat message in a batch request body.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// RequestBody is the inference payload of one batch unit.
type RequestBody struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    float64         `json:"temperature,omitempty"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
}

// ResponseFormat asks the model for a structured response.
type ResponseFormat struct {
	Type string `json:"type"`
}

// BatchUnit is one input line of a batch file. CustomID is deterministic for
// a given stage/group/ordinal so re-submitting the same unit is idempotent.
type BatchUnit struct {
	CustomID string      `json:"custom_id"`
	Method   string      `json:"method"`
	URL      string      `json:"url"`
	Body     RequestBody `json:"body"`
}

// ResultRecord is one output line of a completed batch. Exactly one of
// Response and Error is set.
type ResultRecord struct {
	CustomID string       `json:"custom_id"`
	Response *Response    `json:"response,omitempty"`
	Error    *ResultError `json:"error,omitempty"`
}

// Response wraps the per-unit HTTP outcome.
type Response struct {
	StatusCode int          `json:"status_code"`
	Body       ResponseBody `json:"body"`
}

// ResponseBody carries the completion choices of one unit.
type ResponseBody struct {
	Choices []Choice `json:"choices"`
}

// Choice is a single completion alternative.
type Choice struct {
	Message Message `json:"message"`
}

// ResultError describes a failed unit.
type ResultError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Content returns the generated text of a successful record. ok is false for
// error records, non-200 responses and empty completions.
func (r ResultRecord) Content() (string, bool) {
	if r.Error != nil || r.Response == nil || r.Response.StatusCode != 200 {
		return "", false
	}
	if len(r.Response.Body.Choices) == 0 {
		return "", false
	}
	content := strings.TrimSpace(r.Response.Body.Choices[0].Message.Content)
	if content == "" {
		return "", false
	}
	return content, true
}

// BuildCustomID assembles the correlation key for one unit. The key encodes
// owning group and 1-based ordinal instead of a row id; the external service
// echoes it back verbatim and it is the only identity a result line carries.
func BuildCustomID(stage, groupID string, ordinal int) string {
	return fmt.Sprintf("%s-%s-%d", stage, groupID, ordinal)
}

// ParseCustomID splits a correlation key into stage, group id and ordinal.
// The group id may itself contain dashes, so the stage is the segment before
// the first dash and the ordinal the segment after the last one.
func ParseCustomID(customID string) (stage, groupID string, ordinal int, err error) {
	first := strings.Index(customID, "-")
	last := strings.LastIndex(customID, "-")
	if first < 0 || last <= first {
		return "", "", 0, fmt.Errorf("malformed custom_id %q", customID)
	}
	stage = customID[:first]
	groupID = customID[first+1 : last]
	if stage == "" || groupID == "" {
		return "", "", 0, fmt.Errorf("malformed custom_id %q", customID)
	}
	ordinal, err = strconv.Atoi(customID[last+1:])
	if err != nil || ordinal < 1 {
		return "", "", 0, fmt.Errorf("malformed custom_id %q: ordinal must be a positive integer", customID)
	}
	return stage, groupID, ordinal, nil
}

// EncodeUnits writes units as JSONL. Encoding is deterministic: field order
// follows the struct definitions and no volatile values are injected, so the
// same units always produce byte-identical output.
func EncodeUnits(units []BatchUnit) ([]byte, error) {
	var buf bytes.Buffer
	for _, unit := range units {
		line, err := json.Marshal(unit)
		if err != nil {
			return nil, fmt.Errorf("encode unit %s: %w", unit.CustomID, err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// maxLineBytes bounds a single result line; large completions fit well
// within it.
const maxLineBytes = 4 * 1024 * 1024

// DecodeResults parses a result file. Malformed lines are skipped and
// counted, never fatal: a partially usable file still yields records.
func DecodeResults(r io.Reader) ([]ResultRecord, int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	var records []ResultRecord
	skipped := 0
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var record ResultRecord
		if err := json.Unmarshal(line, &record); err != nil {
			skipped++
			continue
		}
		if record.CustomID == "" {
			skipped++
			continue
		}
		records = append(records, record)
	}
	if err := scanner.Err(); err != nil {
		return records, skipped, fmt.Errorf("read result lines: %w", err)
	}
	return records, skipped, nil
}
