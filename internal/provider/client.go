package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultTimeout = 120 * time.Second
	maxErrorBody   = 4 << 10
)

// Client issues text-generation calls against a Gemini-compatible REST API.
// It performs exactly one HTTP request per Generate call; retry and key
// rotation are the gateway's responsibility.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a provider client with the default base URL.
func NewClient() *Client {
	return &Client{
		baseURL: defaultBaseURL,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
}

// NewClientWithBaseURL creates a client pointing at a custom base URL (for testing).
func NewClientWithBaseURL(baseURL string) *Client {
	c := NewClient()
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

// Request parameterizes one generation call.
type Request struct {
	Model           string
	Prompt          string
	MaxOutputTokens int
	Temperature     float64
}

// APIError is an upstream provider failure. Message carries the provider's
// error body; the classify functions pattern-match it.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("provider error (HTTP %d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("provider error: %s", e.Message)
}

// Wire format for the generateContent endpoint.
type generateRequest struct {
	Contents         []content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	Temperature     float64 `json:"temperature"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []part `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// Generate sends one generation request using the given API key and returns
// the generated text. Upstream failures are returned as *APIError so the
// caller can classify them.
func (c *Client) Generate(ctx context.Context, apiKey string, req Request) (string, error) {
	body, err := json.Marshal(generateRequest{
		Contents: []content{{Parts: []part{{Text: req.Prompt}}}},
		GenerationConfig: &generationConfig{
			MaxOutputTokens: req.MaxOutputTokens,
			Temperature:     req.Temperature,
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, req.Model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", &APIError{Status: resp.StatusCode, Message: string(respBody)}
	}

	var decoded generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}

	text := extractText(decoded)
	if text == "" {
		return "", &APIError{Message: "empty response from provider"}
	}
	return text, nil
}

func extractText(resp generateResponse) string {
	var sb strings.Builder
	for _, cand := range resp.Candidates {
		for _, p := range cand.Content.Parts {
			sb.WriteString(p.Text)
		}
		// Only the first candidate is used.
		break
	}
	return strings.TrimSpace(sb.String())
}
