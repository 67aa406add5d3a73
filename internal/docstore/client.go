// Package docstore is a thin client for the key/value document store that
// holds processed papers. One key per paper; writes are whole-value upserts
// so concurrent runs for the same identifier settle last-writer-wins.
package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/calewis/plainread/internal/paper"
)

// Store is the cache surface the pipeline depends on; satisfied by Client
// and by test fakes.
type Store interface {
	GetPaper(ctx context.Context, key string) (*paper.Paper, error)
	PutPaper(ctx context.Context, key string, p *paper.Paper) error
}

// Client communicates with the store's HTTP API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// document is the wire envelope around a stored paper.
type document struct {
	Value json.RawMessage `json:"value"`
}

// GetPaper retrieves a processed paper by cache key. A missing key returns
// (nil, nil); a stored value that no longer decodes as a Paper is reported
// as an error so a forced recompute can repair it.
func (c *Client) GetPaper(ctx context.Context, key string) (*paper.Paper, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/kv/"+key, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("get paper: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("get paper %s: status %d: %s", key, resp.StatusCode, string(respBody))
	}

	var doc document
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<20)).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	p, err := paper.Decode(doc.Value)
	if err != nil {
		return nil, fmt.Errorf("stored paper %s: %w", key, err)
	}
	return p, nil
}

// PutPaper stores a processed paper, overwriting any existing entry.
func (c *Client) PutPaper(ctx context.Context, key string, p *paper.Paper) error {
	value, err := p.Encode()
	if err != nil {
		return err
	}
	body, err := json.Marshal(document{Value: value})
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+"/kv/"+key, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("put paper: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("put paper %s: status %d: %s", key, resp.StatusCode, string(respBody))
	}
	return nil
}

// Close releases idle connections.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}
