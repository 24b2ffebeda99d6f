// Package rerank provides a cross-encoder reranking client for
// text-embeddings-inference style /rerank endpoints.
package rerank

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

// Client scores (query, passage) pairs with a remote cross-encoder.
type Client struct {
	url    string
	client *http.Client
}

// New creates a reranker client. baseURL may include the /rerank path.
func New(baseURL string, timeout time.Duration) *Client {
	url := strings.TrimRight(baseURL, "/")
	if !strings.HasSuffix(url, "/rerank") {
		url += "/rerank"
	}
	return &Client{url: url, client: &http.Client{Timeout: timeout}}
}

type rerankReq struct {
	Query string   `json:"query"`
	Texts []string `json:"texts"`
}

type rerankResp struct {
	Index int     `json:"index"`
	Score float32 `json:"score"`
}

// Score returns one relevance score per text, in input order.
func (c *Client) Score(ctx context.Context, query string, texts []string) ([]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	body, _ := json.Marshal(rerankReq{Query: query, Texts: texts})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("rerank: status %d: %s", resp.StatusCode, msg)
	}

	var ranked []rerankResp
	if err := json.NewDecoder(resp.Body).Decode(&ranked); err != nil {
		return nil, fmt.Errorf("rerank decode: %w", err)
	}

	scores := make([]float32, len(texts))
	seen := 0
	for _, r := range ranked {
		if r.Index < 0 || r.Index >= len(texts) {
			return nil, fmt.Errorf("rerank: index %d out of range", r.Index)
		}
		scores[r.Index] = r.Score
		seen++
	}
	if seen != len(texts) {
		return nil, fmt.Errorf("rerank: got %d scores for %d texts", seen, len(texts))
	}
	return scores, nil
}
