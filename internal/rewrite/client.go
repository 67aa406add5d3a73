// Package rewrite wraps the external plain-language rewriting capability:
// one call per paragraph, returning the rewritten prose plus candidate
// glossary terms.
package rewrite

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// Candidate is one term the model proposes for the glossary. By contract
// Term is an exact substring of the rewritten text; the pipeline tolerates
// violations (highlighting simply never fires for that term).
type Candidate struct {
	Term   string `json:"term"`
	Simple string `json:"simple"`
}

// Result is the outcome of rewriting one paragraph.
type Result struct {
	Plain string      `json:"plain"`
	Terms []Candidate `json:"terms"`
}

// Rewriter is the capability the pipeline depends on; satisfied by Client
// and by test fakes.
type Rewriter interface {
	Rewrite(ctx context.Context, text string) (*Result, error)
}

// Client calls the Anthropic Messages API.
type Client struct {
	apiKey     string
	model      string
	httpClient *http.Client
	stats      *Stats
}

func NewClient(apiKey, model string) *Client {
	return &Client{
		apiKey: apiKey,
		model:  model,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		stats: NewStats(time.Hour),
	}
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Rewrite sends one paragraph of plain text to the model and decodes the
// {plain, terms} JSON it returns. A single attempt; transient upstream
// failures come back as *RetryableError so callers can decide.
func (c *Client) Rewrite(ctx context.Context, text string) (*Result, error) {
	start := time.Now()
	res, err := c.rewrite(ctx, text)
	c.stats.Record(time.Since(start).Milliseconds(), err == nil)
	return res, err
}

func (c *Client) rewrite(ctx context.Context, text string) (*Result, error) {
	reqBody := anthropicRequest{
		Model:     c.model,
		MaxTokens: 2048,
		System:    SystemPrompt,
		Messages: []anthropicMessage{
			{Role: "user", Content: text},
		},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.anthropic.com/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("rewrite api: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, &RetryableError{
			StatusCode: resp.StatusCode,
			Message:    string(respBody),
		}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rewrite api status %d: %s", resp.StatusCode, string(respBody))
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if apiResp.Error != nil {
		return nil, fmt.Errorf("rewrite error: %s: %s", apiResp.Error.Type, apiResp.Error.Message)
	}
	if len(apiResp.Content) == 0 {
		return nil, fmt.Errorf("empty response from model")
	}

	raw := stripCodeBlock(apiResp.Content[0].Text)

	var result Result
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, fmt.Errorf("parse rewrite json: %w (raw: %s)", err, truncate(raw, 200))
	}
	if err := validateResult(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

// validateResult rejects responses whose shape does not match the contract
// and drops incomplete term candidates rather than trusting them.
func validateResult(r *Result) error {
	r.Plain = strings.TrimSpace(r.Plain)
	if r.Plain == "" {
		return fmt.Errorf("rewrite returned empty text")
	}
	kept := r.Terms[:0]
	for _, t := range r.Terms {
		t.Term = strings.TrimSpace(t.Term)
		t.Simple = strings.TrimSpace(t.Simple)
		if t.Term == "" || t.Simple == "" {
			continue
		}
		kept = append(kept, t)
	}
	r.Terms = kept
	return nil
}

// StatsSnapshot exposes the rolling latency window for the stats endpoint.
func (c *Client) StatsSnapshot() StatsSnapshot {
	return c.stats.Snapshot()
}

// Close releases resources.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

var codeBlockRe = regexp.MustCompile("(?s)^```(?:json)?\\s*(.*?)\\s*```$")

func stripCodeBlock(s string) string {
	s = strings.TrimSpace(s)
	if m := codeBlockRe.FindStringSubmatch(s); len(m) > 1 {
		return m[1]
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// RetryableError indicates a transient upstream failure.
type RetryableError struct {
	StatusCode int
	Message    string
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("retryable error (status %d): %s", e.StatusCode, truncate(e.Message, 200))
}
