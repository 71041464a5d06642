package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"

	"manual-rag/internal/config"

	"go.uber.org/zap"
)

// ErrEmptyEmbedding is returned when a model hands back a zero-length or all-zero vector
var ErrEmptyEmbedding = errors.New("empty embedding")

// Embedder turns text into unit-length vectors. The same Embedder (same Name)
// must be used to build an index and to query it.
type Embedder interface {
	// Name identifies the model, e.g. "ollama:bge-m3"
	Name() string
	// EmbedDocuments returns one vector per text, in order. It fails as a whole
	// if any text cannot be embedded.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	// EmbedQuery embeds a single search query
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// ProgressFunc is called after each embedded batch
type ProgressFunc func(processed, total int)

// New builds the embedder selected by cfg.Embedder.Provider
func New(cfg *config.Config, logger *zap.Logger) (Embedder, error) {
	switch cfg.Embedder.Provider {
	case config.ProviderOllama, "":
		e, err := NewOllamaEmbedder(cfg.Ollama.BaseURL, cfg.Embedder.Model)
		if err != nil {
			return nil, err
		}
		e.BatchSize = cfg.Embedder.BatchSize
		e.MaxConcurrent = cfg.Embedder.MaxConcurrent
		e.MaxRetries = cfg.Embedder.MaxRetries
		e.Timeout = cfg.Embedder.Timeout
		e.Logger = logger
		return e, nil
	case config.ProviderHugot:
		return NewHugotEmbedder(cfg.Embedder.Model, cfg.Embedder.ModelDir, logger)
	default:
		return nil, fmt.Errorf("unknown embedder provider %q", cfg.Embedder.Provider)
	}
}

// Normalize scales v to unit length in place and returns it, so cosine
// similarity between normalized vectors is a plain dot product.
func Normalize(v []float32) ([]float32, error) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if len(v) == 0 || sum == 0 {
		return nil, ErrEmptyEmbedding
	}
	norm := math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v, nil
}

// Dot returns the dot product of a and b, which must be the same length
func Dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// checkBatch normalizes every vector and verifies they share one dimension
func checkBatch(vectors [][]float32, want int) ([][]float32, error) {
	if len(vectors) != want {
		return nil, fmt.Errorf("expected %d embeddings, got %d", want, len(vectors))
	}
	dim := -1
	for i, v := range vectors {
		if _, err := Normalize(v); err != nil {
			return nil, fmt.Errorf("embedding %d: %w", i, err)
		}
		if dim == -1 {
			dim = len(v)
		} else if len(v) != dim {
			return nil, fmt.Errorf("embedding %d has dimension %d, expected %d", i, len(v), dim)
		}
	}
	return vectors, nil
}
