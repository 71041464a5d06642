package database

import (
	"context"
	"fmt"

	"manual-rag/internal/index"
	"manual-rag/internal/models"
)

// Store adapts DB to the indexer's sink and the retriever's searcher
type Store struct {
	DB *DB
}

// Name identifies the sink in logs
func (s *Store) Name() string { return "postgres" }

// Replace recreates the schema for the chunk dimension and swaps in chunks.
// An empty chunk set clears an existing table and is a no-op otherwise.
func (s *Store) Replace(ctx context.Context, manifest index.Manifest, chunks []models.TextChunk) error {
	dim := 0
	if len(chunks) > 0 {
		dim = len(chunks[0].Embedding)
	} else {
		current, err := storedDimension(ctx, s.DB.Pool)
		if err != nil {
			return err
		}
		if current == 0 {
			return nil
		}
		dim = current
	}

	if err := s.DB.Replace(ctx, manifest.Embedder, dim, chunks); err != nil {
		return fmt.Errorf("failed to replace postgres mirror: %w", err)
	}
	return nil
}

// Search returns the k most similar chunks
func (s *Store) Search(ctx context.Context, vec []float32, k int) ([]models.ScoredChunk, error) {
	return s.DB.QuerySimilar(ctx, vec, k)
}

// Len returns the number of stored chunks
func (s *Store) Len(ctx context.Context) (int, error) {
	return s.DB.Count(ctx)
}
