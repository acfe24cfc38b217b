package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// LocalProvider implements Provider against an Ollama-compatible batch
// embeddings endpoint. Fingerprint texts for one entry or one query arrive
// together, so the whole slice goes out as a single request instead of one
// round trip per text.
type LocalProvider struct {
	endpoint  string
	model     string
	dimension int
	client    *http.Client

	mu      sync.Mutex
	seenDim int
}

// NewLocalProvider creates a provider from the given Config.
func NewLocalProvider(cfg Config) *LocalProvider {
	return &LocalProvider{
		endpoint:  cfg.Endpoint,
		model:     cfg.Model,
		dimension: cfg.Dimension,
		client:    &http.Client{Timeout: 30 * time.Second},
	}
}

type batchRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type batchResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed returns one vector per input text, in input order.
func (p *LocalProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(batchRequest{Model: p.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("embedding: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embedding: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("embedding: endpoint returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var result batchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("embedding: decode response: %w", err)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding: got %d vectors for %d inputs", len(result.Embeddings), len(texts))
	}

	if len(result.Embeddings[0]) > 0 {
		p.mu.Lock()
		if p.seenDim == 0 {
			p.seenDim = len(result.Embeddings[0])
		}
		p.mu.Unlock()
	}
	return result.Embeddings, nil
}

// Dimension returns the dimension observed on the first result, or the
// configured default before any embedding has been produced.
func (p *LocalProvider) Dimension() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.seenDim > 0 {
		return p.seenDim
	}
	return p.dimension
}
