package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found_error"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

var ctx = context.Background()

func TestSummarizeRequest(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /v1/summaries": `{"summary":"short version","artifact_path":""}`,
	})

	client := ts.client()
	req := map[string]any{
		"user_id":   "cli",
		"text":      "a long lecture transcript",
		"max_words": 300,
	}

	resp, err := client.post(ctx, "/v1/summaries", req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]string
	if err := decodeJSON(resp, &result); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if result["summary"] != "short version" {
		t.Errorf("summary = %q, want %q", result["summary"], "short version")
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	r := ts.requests[0]
	if r.Auth != "Bearer test-token" {
		t.Errorf("auth = %q, want Bearer test-token", r.Auth)
	}

	var body map[string]any
	if err := json.Unmarshal([]byte(r.Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["user_id"] != "cli" {
		t.Errorf("body.user_id = %v, want cli", body["user_id"])
	}
	if body["max_words"] != float64(300) {
		t.Errorf("body.max_words = %v, want 300", body["max_words"])
	}
}

func TestUsageRequest(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /v1/usage/sara": `{"user":"sara","remaining":7,"history":[{"Operation":"summary","Success":true}]}`,
	})

	client := ts.client()
	resp, err := client.get(ctx, "/v1/usage/sara")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result struct {
		Remaining int `json:"remaining"`
		History   []struct {
			Operation string
		} `json:"history"`
	}
	if err := decodeJSON(resp, &result); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if result.Remaining != 7 {
		t.Errorf("remaining = %d, want 7", result.Remaining)
	}
	if len(result.History) != 1 || result.History[0].Operation != "summary" {
		t.Errorf("history = %+v, want one summary record", result.History)
	}
}

func TestDecodeJSONErrorStatus(t *testing.T) {
	ts := newTestServer(t, map[string]string{})

	client := ts.client()
	resp, err := client.get(ctx, "/v1/jobs/missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var out map[string]any
	err = decodeJSON(resp, &out)
	if err == nil {
		t.Fatal("expected error for 404 response")
	}
	if !strings.Contains(err.Error(), "404") {
		t.Errorf("error = %q, want it to mention the status code", err.Error())
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Errorf("error = %q, want it to carry the server message", err.Error())
	}
}

func TestAskCommand_MissingSource(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"ask", "--question", "what is this about?"})
	err := rootCmd.Execute()
	if err == nil {
		t.Fatal("expected error for missing input")
	}
	if !strings.Contains(err.Error(), "--text or --file") {
		t.Errorf("error = %q, want it to name the input flags", err.Error())
	}
}

func TestQuestionsCommand_EmptyMatrix(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"questions", "--text", "material"})
	err := rootCmd.Execute()
	if err == nil {
		t.Fatal("expected error for empty question matrix")
	}
	if !strings.Contains(err.Error(), "at least one question") {
		t.Errorf("error = %q, want it to ask for a question count", err.Error())
	}
}

func TestKeysAddCommand_MissingKey(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"keys", "add", "--label", "primary"})
	err := rootCmd.Execute()
	if err == nil {
		t.Fatal("expected error for missing --key")
	}
	if !strings.Contains(err.Error(), "--key") {
		t.Errorf("error = %q, want it to mention --key", err.Error())
	}
}
