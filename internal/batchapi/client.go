// Package batchapi is a thin protocol wrapper around the external
// asynchronous batch-inference service: submit a file, create a batch, poll
// its status, pull the result file. No business logic lives here.
package batchapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Batch lifecycle states reported by the service. A batch holds capacity
// while validating, in progress or finalizing.
const (
	BatchStatusValidating = "validating"
	BatchStatusInProgress = "in_progress"
	BatchStatusFinalizing = "finalizing"
	BatchStatusCompleted  = "completed"
	BatchStatusFailed     = "failed"
	BatchStatusExpired    = "expired"
	BatchStatusCancelled  = "cancelled"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	// Batch submissions sit behind slow upstream generation; the timeout is
	// generous but bounded.
	defaultTimeout = 5 * time.Minute

	completionEndpoint = "/v1/chat/completions"
	completionWindow   = "24h"
)

// Options configures the batch service client.
type Options struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

// Client talks to the batch service over HTTP.
type Client struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// Batch mirrors the service's batch resource.
type Batch struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	InputFileID  string `json:"input_file_id"`
	OutputFileID string `json:"output_file_id"`
	ErrorFileID  string `json:"error_file_id"`
}

// Active reports whether the batch still occupies service capacity.
func (b Batch) Active() bool {
	switch b.Status {
	case BatchStatusValidating, BatchStatusInProgress, BatchStatusFinalizing:
		return true
	default:
		return false
	}
}

// Terminal reports whether the batch reached a final state.
func (b Batch) Terminal() bool {
	switch b.Status {
	case BatchStatusCompleted, BatchStatusFailed, BatchStatusExpired, BatchStatusCancelled:
		return true
	default:
		return false
	}
}

// APIError is a non-2xx response from the batch service.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("batch service status %d", e.StatusCode)
	}
	return fmt.Sprintf("batch service status %d: %s", e.StatusCode, e.Message)
}

// IsRetryable classifies an error for retry purposes. Service 5xx and 429
// are retryable; other 4xx are permanent. Network-level failures and
// timeouts are retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrNoAPIKey) {
		// A missing key never fixes itself within a retry loop.
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}
	// Connection refused, DNS failure, timeout: the service may recover.
	return true
}

// ErrNoAPIKey is returned by every call on a client constructed without an
// API key.
var ErrNoAPIKey = errors.New("batch api key not configured")

// NewClient constructs a batch service client. The API key may be empty so
// the service can start before a key is provisioned; calls on a keyless
// client fail with ErrNoAPIKey until the process restarts with one.
func NewClient(opts Options) (*Client, error) {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		apiKey:  strings.TrimSpace(opts.APIKey),
		baseURL: baseURL,
		client:  client,
	}, nil
}

type fileResource struct {
	ID string `json:"id"`
}

// UploadFile submits JSONL content as a batch input file and returns the
// service-assigned file id.
func (c *Client) UploadFile(ctx context.Context, filename string, content []byte) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("purpose", "batch"); err != nil {
		return "", fmt.Errorf("write purpose field: %w", err)
	}
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("create file part: %w", err)
	}
	if _, err := part.Write(content); err != nil {
		return "", fmt.Errorf("write file part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("finish multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/files", &buf)
	if err != nil {
		return "", fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var file fileResource
	if err := c.do(req, &file); err != nil {
		return "", err
	}
	if file.ID == "" {
		return "", errors.New("upload response missing file id")
	}
	return file.ID, nil
}

type createBatchRequest struct {
	InputFileID      string `json:"input_file_id"`
	Endpoint         string `json:"endpoint"`
	CompletionWindow string `json:"completion_window"`
}

// CreateBatch starts asynchronous execution of a previously uploaded file.
func (c *Client) CreateBatch(ctx context.Context, inputFileID string) (*Batch, error) {
	payload := createBatchRequest{
		InputFileID:      inputFileID,
		Endpoint:         completionEndpoint,
		CompletionWindow: completionWindow,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode batch request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/batches", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build batch request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var batch Batch
	if err := c.do(req, &batch); err != nil {
		return nil, err
	}
	return &batch, nil
}

// GetBatch fetches the current state of a batch.
func (c *Client) GetBatch(ctx context.Context, batchID string) (*Batch, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/batches/"+batchID, nil)
	if err != nil {
		return nil, fmt.Errorf("build status request: %w", err)
	}
	var batch Batch
	if err := c.do(req, &batch); err != nil {
		return nil, err
	}
	return &batch, nil
}

type batchList struct {
	Data []Batch `json:"data"`
}

// ListBatches returns up to limit recent batches, used for the capacity
// check.
func (c *Client) ListBatches(ctx context.Context, limit int) ([]Batch, error) {
	if limit <= 0 {
		limit = 100
	}
	url := c.baseURL + "/batches?limit=" + strconv.Itoa(limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build list request: %w", err)
	}
	var list batchList
	if err := c.do(req, &list); err != nil {
		return nil, err
	}
	return list.Data, nil
}

// FileContent streams the raw bytes of a stored file. The caller owns the
// returned reader and must close it.
func (c *Client) FileContent(ctx context.Context, fileID string) (io.ReadCloser, error) {
	if c.apiKey == "" {
		return nil, ErrNoAPIKey
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/files/"+fileID+"/content", nil)
	if err != nil {
		return nil, fmt.Errorf("build content request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch file content: %w", err)
	}
	if resp.StatusCode >= 300 {
		defer drainAndClose(resp.Body)
		return nil, &APIError{StatusCode: resp.StatusCode, Message: readErrorMessage(resp.Body)}
	}
	return resp.Body, nil
}

// do executes a request, decodes a JSON response into out and always
// consumes the body to completion so the connection can be reused.
func (c *Client) do(req *http.Request, out any) error {
	if c.apiKey == "" {
		return ErrNoAPIKey
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("batch service request: %w", err)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Message: readErrorMessage(resp.Body)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode batch service response: %w", err)
	}
	return nil
}

type errorEnvelope struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func readErrorMessage(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, 8*1024))
	if err != nil {
		return ""
	}
	var envelope errorEnvelope
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	return strings.TrimSpace(string(raw))
}

func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}
