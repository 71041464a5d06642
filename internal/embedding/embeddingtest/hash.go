// Package embeddingtest provides a deterministic bag-of-words embedder for tests.
package embeddingtest

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"sync/atomic"
	"unicode"

	"manual-rag/internal/embedding"
)

// Dimension of vectors produced by HashEmbedder
const Dimension = 256

var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "to": true, "of": true, "and": true,
	"or": true, "is": true, "do": true, "i": true, "how": true, "what": true,
	"before": true, "after": true, "each": true, "your": true, "my": true,
	"in": true, "on": true, "for": true, "with": true, "it": true, "should": true,
}

// Tokens lowercases text, drops punctuation and stop words and strips a few
// English suffixes so "cleaning" and "clean" share a token.
func Tokens(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if stopWords[f] {
			continue
		}
		for _, suffix := range []string{"ing", "ly", "s"} {
			if len(f) > len(suffix)+2 && strings.HasSuffix(f, suffix) {
				f = strings.TrimSuffix(f, suffix)
				break
			}
		}
		out = append(out, f)
	}
	return out
}

// HashEmbedder hashes tokens into a fixed number of buckets.
// Set FailOn to make any text containing that substring fail.
type HashEmbedder struct {
	FailOn string
	Calls  atomic.Int64
}

// Name implements embedding.Embedder
func (h *HashEmbedder) Name() string { return "test:hash" }

// EmbedDocuments implements embedding.Embedder
func (h *HashEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := h.EmbedQuery(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// EmbedQuery implements embedding.Embedder
func (h *HashEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	h.Calls.Add(1)
	if h.FailOn != "" && strings.Contains(text, h.FailOn) {
		return nil, errors.New("embedding backend failed")
	}

	v := make([]float32, Dimension)
	for _, tok := range Tokens(text) {
		f := fnv.New32a()
		_, _ = f.Write([]byte(tok))
		v[f.Sum32()%Dimension]++
	}
	// keep every vector non-zero so it can be normalized
	v[0] += 0.01
	return embedding.Normalize(v)
}
