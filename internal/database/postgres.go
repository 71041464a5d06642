package database

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"manual-rag/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// DB represents the database connection
type DB struct {
	Pool *pgxpool.Pool
}

// NewDB creates a new database connection
func NewDB(ctx context.Context, connStr string) (*DB, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// querier is satisfied by both the pool and a transaction
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// initialize sets up the extension, the chunk table and its vector index.
// The table is recreated when the stored dimension differs from dimension.
func initialize(ctx context.Context, q querier, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("invalid embedding dimension %d", dimension)
	}

	if _, err := q.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	current, err := storedDimension(ctx, q)
	if err != nil {
		return err
	}
	if current != 0 && current != dimension {
		if _, err := q.Exec(ctx, `DROP TABLE IF EXISTS manual_chunks`); err != nil {
			return fmt.Errorf("failed to drop manual_chunks: %w", err)
		}
	}

	// Create table for text chunks with vector extension
	_, err = q.Exec(ctx, fmt.Sprintf(`
        CREATE TABLE IF NOT EXISTS manual_chunks (
            id TEXT PRIMARY KEY,
            chunk_index INTEGER NOT NULL,
            content TEXT NOT NULL,
            source TEXT NOT NULL,
            start_page INTEGER NOT NULL,
            end_page INTEGER NOT NULL,
            start_offset INTEGER NOT NULL,
            embedder TEXT NOT NULL,
            embedding vector(%d) NOT NULL
        )
    `, dimension))
	if err != nil {
		return fmt.Errorf("failed to create manual_chunks table: %w", err)
	}

	// Create vector index
	_, err = q.Exec(ctx, `
		CREATE INDEX IF NOT EXISTS manual_chunks_embedding_idx ON manual_chunks
		USING hnsw (embedding vector_cosine_ops)
	`)
	if err != nil {
		return fmt.Errorf("failed to create vector index: %w", err)
	}

	return nil
}

// storedDimension returns the declared vector dimension of manual_chunks, or 0
// if the table does not exist.
func storedDimension(ctx context.Context, q querier) (int, error) {
	var dim int
	err := q.QueryRow(ctx, `
		SELECT a.atttypmod
		FROM pg_attribute a
		JOIN pg_class c ON a.attrelid = c.oid
		WHERE c.relname = 'manual_chunks' AND a.attname = 'embedding'
	`).Scan(&dim)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read embedding dimension: %w", err)
	}
	return dim, nil
}

// Replace recreates the schema for dimension and swaps the table contents for
// chunks in a single transaction, so readers see either the old rows or the
// complete new set, even across a dimension change.
func (db *DB) Replace(ctx context.Context, embedder string, dimension int, chunks []models.TextChunk) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := initialize(ctx, tx, dimension); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `TRUNCATE manual_chunks`); err != nil {
		return fmt.Errorf("failed to clear manual_chunks: %w", err)
	}

	batch := &pgx.Batch{}
	for i := range chunks {
		chunk := &chunks[i]
		batch.Queue(`
            INSERT INTO manual_chunks (
                id, chunk_index, content, source, start_page,
                end_page, start_offset, embedder, embedding
            )
            VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        `,
			chunk.ID,
			chunk.Index,
			chunk.Content,
			chunk.Metadata.Source,
			chunk.Metadata.StartPage,
			chunk.Metadata.EndPage,
			chunk.Metadata.StartOffset,
			embedder,
			pgvector.NewVector(chunk.Embedding))
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to store chunks: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit chunks: %w", err)
	}
	return nil
}

// QuerySimilar finds chunks similar to the query embedding. Score is cosine
// similarity (1 - cosine distance).
func (db *DB) QuerySimilar(ctx context.Context, embedding []float32, limit int) ([]models.ScoredChunk, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, chunk_index, content, source, start_page, end_page, start_offset,
		       1 - (embedding <=> $1) AS score
		FROM manual_chunks
		ORDER BY embedding <=> $1
		LIMIT $2
	`, pgvector.NewVector(embedding), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query similar chunks: %w", err)
	}
	defer rows.Close()

	chunks := []models.ScoredChunk{}
	for rows.Next() {
		var chunk models.ScoredChunk
		if err := rows.Scan(
			&chunk.ID,
			&chunk.Index,
			&chunk.Content,
			&chunk.Metadata.Source,
			&chunk.Metadata.StartPage,
			&chunk.Metadata.EndPage,
			&chunk.Metadata.StartOffset,
			&chunk.Score); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		chunks = append(chunks, chunk)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	sortHits(chunks)
	return chunks, nil
}

// Count returns the number of stored chunks
func (db *DB) Count(ctx context.Context) (int, error) {
	var n int
	if err := db.Pool.QueryRow(ctx, `SELECT count(*) FROM manual_chunks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return n, nil
}

// Embedder returns the embedder name recorded with the stored chunks, or ""
// when the table is empty.
func (db *DB) Embedder(ctx context.Context) (string, error) {
	var name string
	err := db.Pool.QueryRow(ctx, `SELECT embedder FROM manual_chunks LIMIT 1`).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read embedder: %w", err)
	}
	return name, nil
}

// sortHits orders equal-distance rows by chunk index, matching the local index
func sortHits(hits []models.ScoredChunk) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Index < hits[j].Index
	})
}

// Close closes the database connection
func (db *DB) Close() {
	db.Pool.Close()
}
