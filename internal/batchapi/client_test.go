package batchapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := NewClient(Options{APIKey: "test-key", BaseURL: server.URL, HTTPClient: server.Client()})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client, server
}

func TestKeylessClientConstructsButCallsFail(t *testing.T) {
	var hit bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit = true
	}))
	t.Cleanup(server.Close)

	client, err := NewClient(Options{BaseURL: server.URL, HTTPClient: server.Client()})
	if err != nil {
		t.Fatalf("new client without key: %v", err)
	}

	_, err = client.GetBatch(context.Background(), "batch-abc")
	if !errors.Is(err, ErrNoAPIKey) {
		t.Fatalf("GetBatch error = %v, want ErrNoAPIKey", err)
	}
	if _, err := client.FileContent(context.Background(), "file-abc"); !errors.Is(err, ErrNoAPIKey) {
		t.Fatalf("FileContent error = %v, want ErrNoAPIKey", err)
	}
	if hit {
		t.Fatal("keyless client must not reach the service")
	}
	if IsRetryable(err) {
		t.Fatal("missing key must be classified as permanent")
	}
}

func TestUploadFile(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/files" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("authorization = %q", got)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if got := r.FormValue("purpose"); got != "batch" {
			t.Errorf("purpose = %q", got)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		defer file.Close()
		if header.Filename != "questions-input.jsonl" {
			t.Errorf("filename = %q", header.Filename)
		}
		content, _ := io.ReadAll(file)
		if string(content) != "{}\n" {
			t.Errorf("content = %q", content)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "file-abc"})
	})

	fileID, err := client.UploadFile(context.Background(), "questions-input.jsonl", []byte("{}\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fileID != "file-abc" {
		t.Fatalf("file id = %q", fileID)
	}
}

func TestCreateBatch(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]string
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if payload["input_file_id"] != "file-abc" {
			t.Errorf("input_file_id = %q", payload["input_file_id"])
		}
		if payload["endpoint"] != "/v1/chat/completions" {
			t.Errorf("endpoint = %q", payload["endpoint"])
		}
		_ = json.NewEncoder(w).Encode(Batch{ID: "batch-1", Status: BatchStatusValidating, InputFileID: "file-abc"})
	})

	batch, err := client.CreateBatch(context.Background(), "file-abc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if batch.ID != "batch-1" || !batch.Active() {
		t.Fatalf("unexpected batch: %+v", batch)
	}
}

func TestListBatches(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("limit"); got != "100" {
			t.Errorf("limit = %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": []Batch{
			{ID: "b1", Status: BatchStatusInProgress},
			{ID: "b2", Status: BatchStatusCompleted},
		}})
	})

	batches, err := client.ListBatches(context.Background(), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(batches) != 2 {
		t.Fatalf("expected 2 batches, got %d", len(batches))
	}
	if !batches[0].Active() || batches[1].Active() {
		t.Fatal("active classification wrong")
	}
}

func TestAPIErrorCarriesServiceMessage(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"invalid file format"}}`))
	})

	_, err := client.CreateBatch(context.Background(), "file-abc")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest || apiErr.Message != "invalid file format" {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
}

func TestFileContentStreams(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/files/file-x/content" {
			t.Errorf("path = %q", r.URL.Path)
		}
		_, _ = w.Write([]byte("line1\nline2\n"))
	})

	body, err := client.FileContent(context.Background(), "file-x")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer body.Close()
	content, _ := io.ReadAll(body)
	if string(content) != "line1\nline2\n" {
		t.Fatalf("content = %q", content)
	}
}

func TestIsRetryableClassification(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{&APIError{StatusCode: 500}, true},
		{&APIError{StatusCode: 503}, true},
		{&APIError{StatusCode: 429}, true},
		{&APIError{StatusCode: 400}, false},
		{&APIError{StatusCode: 404}, false},
		{errors.New("dial tcp: connection refused"), true},
		{context.Canceled, false},
		{nil, false},
	}
	for _, tc := range cases {
		if got := IsRetryable(tc.err); got != tc.want {
			t.Errorf("IsRetryable(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}
