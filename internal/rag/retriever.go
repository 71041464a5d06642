package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"manual-rag/internal/embedding"
	"manual-rag/internal/index"
	"manual-rag/internal/models"
)

// ErrEmptyQuestion is returned for blank questions
var ErrEmptyQuestion = errors.New("question must not be empty")

// Searcher finds the stored chunks nearest to a query vector
type Searcher interface {
	Search(ctx context.Context, vec []float32, k int) ([]models.ScoredChunk, error)
	Len(ctx context.Context) (int, error)
}

// LocalSearcher serves searches from a loaded index directory
type LocalSearcher struct {
	Index *index.Index
}

// Search delegates to the in-memory index
func (s LocalSearcher) Search(_ context.Context, vec []float32, k int) ([]models.ScoredChunk, error) {
	return s.Index.Search(vec, k)
}

// Len returns the number of indexed chunks
func (s LocalSearcher) Len(context.Context) (int, error) {
	return s.Index.Len(), nil
}

// Retrieval is the question together with the chunks found for it
type Retrieval struct {
	Question string
	Chunks   []models.ScoredChunk
}

// Retriever embeds a question and fetches its top-K chunks
type Retriever struct {
	Embedder embedding.Embedder
	Searcher Searcher
	TopK     int
}

// Retrieve returns at most TopK chunks, fewer when the index is smaller
func (r *Retriever) Retrieve(ctx context.Context, question string) (Retrieval, error) {
	if strings.TrimSpace(question) == "" {
		return Retrieval{}, ErrEmptyQuestion
	}

	vec, err := r.Embedder.EmbedQuery(ctx, question)
	if err != nil {
		return Retrieval{}, fmt.Errorf("failed to create query embedding: %w", err)
	}

	chunks, err := r.Searcher.Search(ctx, vec, r.TopK)
	if err != nil {
		return Retrieval{}, fmt.Errorf("failed to search index: %w", err)
	}

	return Retrieval{Question: question, Chunks: chunks}, nil
}
