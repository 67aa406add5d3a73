package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultAPIBase = "https://api.biorxiv.org"
	userAgent      = "plainread/1.0"
)

// Metadata is the subset of the bioRxiv details record the pipeline needs.
type Metadata struct {
	DOI      string
	Title    string
	Authors  []string
	Abstract string
	License  string
	Version  string
	Date     string
}

// Client talks to the bioRxiv API and content site. Each call is a single
// attempt; an absent result is reported as (nil, nil) and the pipeline
// decides how to degrade.
type Client struct {
	apiBase    string
	httpClient *http.Client
}

func NewClient(apiBase string) *Client {
	if apiBase == "" {
		apiBase = defaultAPIBase
	}
	return &Client{
		apiBase: strings.TrimRight(apiBase, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// detailsResponse is the duck-typed JSON shape of the details endpoint.
// Only the fields we read are declared; anything malformed is rejected at
// this boundary rather than trusted downstream.
type detailsResponse struct {
	Collection []struct {
		DOI      string `json:"doi"`
		Title    string `json:"title"`
		Authors  string `json:"authors"` // semicolon-separated "Last, F.; ..."
		Abstract string `json:"abstract"`
		License  string `json:"license"`
		Version  string `json:"version"`
		Date     string `json:"date"`
	} `json:"collection"`
}

// FetchMetadata retrieves title/author/license metadata for a DOI.
// Returns (nil, nil) for not-found and for transient failures alike; the
// caller surfaces both as "document unavailable". The distinction is logged
// by the caller via the returned error when one exists.
func (c *Client) FetchMetadata(ctx context.Context, doi string) (*Metadata, error) {
	u := fmt.Sprintf("%s/details/biorxiv/%s", c.apiBase, doi)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch metadata: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("metadata status %d for %s", resp.StatusCode, doi)
	}

	var details detailsResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&details); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	if len(details.Collection) == 0 {
		return nil, nil
	}

	// The collection lists one record per version; the last is the newest.
	rec := details.Collection[len(details.Collection)-1]
	if strings.TrimSpace(rec.Title) == "" {
		return nil, nil
	}

	return &Metadata{
		DOI:      rec.DOI,
		Title:    strings.TrimSpace(rec.Title),
		Authors:  splitAuthors(rec.Authors),
		Abstract: strings.TrimSpace(rec.Abstract),
		License:  rec.License,
		Version:  rec.Version,
		Date:     rec.Date,
	}, nil
}

// FetchFullText retrieves the JATS source markup for a paper reference.
// (nil, nil) means full text is not offered for this paper, which is an
// expected outcome and triggers the parser's abstract-only fallback.
func (c *Client) FetchFullText(ctx context.Context, ref string) ([]byte, error) {
	u := strings.TrimRight(ref, "/")
	if !strings.HasSuffix(u, ".source.xml") {
		u += ".source.xml"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/xml,text/xml")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch full text: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusForbidden {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("full text status %d for %s", resp.StatusCode, ref)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("read full text: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	return data, nil
}

// Close releases idle connections.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

// splitAuthors turns the API's "Last, F.; Other, G." string into a list.
func splitAuthors(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ";") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}
