package embedding

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"manual-rag/internal/llm"
	"manual-rag/internal/logging"

	"github.com/ollama/ollama/api"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// OllamaEmbedder generates embeddings using Ollama API
type OllamaEmbedder struct {
	Client        *api.Client
	Model         string
	BatchSize     int
	MaxRetries    int
	Timeout       time.Duration
	MaxConcurrent int
	Logger        *zap.Logger
}

// NewOllamaEmbedder creates a new Ollama embedder talking to baseURL
func NewOllamaEmbedder(baseURL string, model string) (*OllamaEmbedder, error) {
	hostURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama url %q: %w", baseURL, err)
	}
	client := api.NewClient(hostURL, http.DefaultClient)

	return &OllamaEmbedder{
		Client:        client,
		Model:         model,
		BatchSize:     16,
		MaxRetries:    3,
		Timeout:       time.Second * 30,
		MaxConcurrent: 3, // Limit concurrent requests based on hardware
	}, nil
}

// Name returns the provider-qualified model name
func (e *OllamaEmbedder) Name() string {
	return "ollama:" + e.Model
}

// EmbedQuery embeds a single query with one attempt; it serves live
// requests, so an unreachable server is reported as
// llm.ErrBackendUnavailable instead of being retried.
func (e *OllamaEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.createEmbeddings(ctx, []string{text})
	if err != nil {
		if llm.Unreachable(err) {
			return nil, fmt.Errorf("%w: %v", llm.ErrBackendUnavailable, err)
		}
		return nil, err
	}
	return vectors[0], nil
}

// EmbedDocuments generates embeddings for all texts in parallel batches
func (e *OllamaEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return e.EmbedDocumentsWithProgress(ctx, texts, nil)
}

// EmbedDocumentsWithProgress generates embeddings with progress reporting.
// The first failing batch cancels the rest and its error is returned.
func (e *OllamaEmbedder) EmbedDocumentsWithProgress(ctx context.Context, texts []string,
	progressFunc ProgressFunc) ([][]float32, error) {

	out := make([][]float32, len(texts))
	if len(texts) == 0 {
		return out, nil
	}

	batchSize := e.BatchSize
	if batchSize <= 0 {
		batchSize = 1
	}
	limit := e.MaxConcurrent
	if limit <= 0 {
		limit = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	var mu sync.Mutex
	processed := 0
	total := len(texts)

	for start := 0; start < total; start += batchSize {
		end := min(start+batchSize, total)

		g.Go(func() error {
			vectors, err := e.embedWithRetry(gctx, texts[start:end])
			if err != nil {
				return fmt.Errorf("failed to embed chunks %d-%d: %w", start, end-1, err)
			}
			// each batch writes a disjoint range of out
			copy(out[start:end], vectors)

			mu.Lock()
			processed += end - start
			if progressFunc != nil {
				progressFunc(processed, total)
			}
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return out, nil
}

func (e *OllamaEmbedder) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	log := logging.OrNop(e.Logger)

	var vectors [][]float32
	var err error

	// Implement retry logic
	for retries := 0; retries <= e.MaxRetries; retries++ {
		if retries > 0 {
			log.Warn("retrying embedding request",
				zap.Int("attempt", retries),
				zap.Int("texts", len(texts)),
				zap.Error(err))

			// Wait before retrying
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(retries) * time.Second):
			}
		}

		vectors, err = e.createEmbeddings(ctx, texts)
		if err == nil {
			return vectors, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("failed to create embedding after %d retries: %w", e.MaxRetries, err)
}

// createEmbeddings issues a single /api/embed request
func (e *OllamaEmbedder) createEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	req := api.EmbedRequest{
		Model:   e.Model,
		Input:   texts,
		Options: map[string]any{},
	}

	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	resp, err := e.Client.Embed(ctx, &req)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding: %w", err)
	}

	return checkBatch(resp.Embeddings, len(texts))
}
