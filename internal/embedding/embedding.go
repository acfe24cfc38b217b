package embedding

import "context"

// Provider generates vector embeddings from text. The memory vector index is
// the only consumer; fingerprint token strings go in, one vector per input
// comes out.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Config holds embedding provider configuration.
type Config struct {
	Provider  string `json:"provider"` // "local" (Ollama-compatible)
	Endpoint  string `json:"endpoint"`
	Model     string `json:"model"`
	Dimension int    `json:"dimension"`
}
