package index

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"manual-rag/internal/embedding"
	"manual-rag/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testEmbedder = "test:onehot"

func unit(t *testing.T, v ...float32) []float32 {
	t.Helper()
	out, err := embedding.Normalize(v)
	require.NoError(t, err)
	return out
}

func sampleChunks(t *testing.T) []models.TextChunk {
	return []models.TextChunk{
		{ID: "a", Index: 0, Content: "Unplug before cleaning the brush roll.", Metadata: models.Metadata{Source: "manual.pdf", StartPage: 1, EndPage: 1}, Embedding: unit(t, 1, 0, 0)},
		{ID: "b", Index: 1, Content: "청소기 필터는 한 달에 한 번 세척하세요.", Metadata: models.Metadata{Source: "manual.pdf", StartPage: 2, EndPage: 3, StartOffset: 900}, Embedding: unit(t, 0, 1, 0)},
		{ID: "c", Index: 2, Content: "Empty the dust bin after each use.", Metadata: models.Metadata{Source: "manual.pdf", StartPage: 3, EndPage: 3, StartOffset: 1800}, Embedding: unit(t, 0, 0, 1)},
		{ID: "d", Index: 3, Content: "Charge the battery fully before first use.", Metadata: models.Metadata{Source: "manual.pdf", StartPage: 4, EndPage: 4, StartOffset: 2700}, Embedding: unit(t, 1, 1, 0)},
	}
}

func writeSample(t *testing.T) (string, []models.TextChunk) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "faiss_index_vacuum")
	chunks := sampleChunks(t)
	_, err := Write(dir, Manifest{Embedder: testEmbedder, Source: "manual.pdf"}, chunks)
	require.NoError(t, err)
	return dir, chunks
}

func TestWriteLoad_RoundTrip(t *testing.T) {
	dir, chunks := writeSample(t)

	ix, err := Load(dir, LoadOptions{Embedder: testEmbedder})
	require.NoError(t, err)
	require.Equal(t, len(chunks), ix.Len())

	m := ix.Manifest()
	assert.Equal(t, FormatVersion, m.FormatVersion)
	assert.Equal(t, 3, m.Dimension)
	assert.Equal(t, 4, m.Count)
	assert.Equal(t, "manual.pdf", m.Source)
	assert.False(t, m.CreatedAt.IsZero())

	for i, c := range ix.Chunks() {
		assert.Equal(t, chunks[i].ID, c.ID)
		assert.Equal(t, chunks[i].Content, c.Content)
		assert.Equal(t, chunks[i].Metadata, c.Metadata)
		assert.Equal(t, chunks[i].Embedding, c.Embedding)
	}
}

func TestSearch_SelfRetrieval(t *testing.T) {
	dir, chunks := writeSample(t)
	ix, err := Load(dir, LoadOptions{Embedder: testEmbedder})
	require.NoError(t, err)

	for _, c := range chunks {
		hits, err := ix.Search(c.Embedding, 3)
		require.NoError(t, err)
		require.NotEmpty(t, hits)
		assert.Equal(t, c.ID, hits[0].ID, "chunk %q should retrieve itself first", c.Content)
		assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
	}
}

func TestSearch_TopKOrderingAndLimit(t *testing.T) {
	ix, err := New(testEmbedder, sampleChunks(t))
	require.NoError(t, err)

	hits, err := ix.Search(unit(t, 1, 0.2, 0), 3)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, "a", hits[0].ID)
	assert.Equal(t, "d", hits[1].ID)
	assert.Equal(t, "b", hits[2].ID)
	assert.GreaterOrEqual(t, hits[0].Score, hits[1].Score)
	assert.GreaterOrEqual(t, hits[1].Score, hits[2].Score)

	all, err := ix.Search(unit(t, 1, 0, 0), 10)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestSearch_TiesKeepBuildOrder(t *testing.T) {
	ix, err := New(testEmbedder, sampleChunks(t))
	require.NoError(t, err)

	// b and c both score 0 against this query
	hits, err := ix.Search(unit(t, 1, 0, 0), 4)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "d", "b", "c"}, []string{hits[0].ID, hits[1].ID, hits[2].ID, hits[3].ID})
}

func TestSearch_EmptyIndex(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "idx")
	m, err := Write(dir, Manifest{Embedder: testEmbedder}, nil)
	require.NoError(t, err)
	assert.Zero(t, m.Count)

	ix, err := Load(dir, LoadOptions{Embedder: testEmbedder})
	require.NoError(t, err)
	assert.Zero(t, ix.Len())

	hits, err := ix.Search([]float32{1, 0, 0}, 3)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSearch_DimensionMismatch(t *testing.T) {
	ix, err := New(testEmbedder, sampleChunks(t))
	require.NoError(t, err)

	_, err = ix.Search([]float32{1, 0}, 3)
	assert.ErrorIs(t, err, ErrDimension)
}

func TestWrite_ReplacesPreviousIndex(t *testing.T) {
	dir, chunks := writeSample(t)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "stale.txt"), []byte("old"), 0o644))

	_, err := Write(dir, Manifest{Embedder: testEmbedder}, chunks[:2])
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(dir, "stale.txt"))
	assert.True(t, os.IsNotExist(err))

	ix, err := Load(dir, LoadOptions{Embedder: testEmbedder})
	require.NoError(t, err)
	assert.Equal(t, 2, ix.Len())

	entries, err := os.ReadDir(filepath.Dir(dir))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "staging directory should be cleaned up")
}

func TestWrite_FailedSwapKeepsPreviousIndex(t *testing.T) {
	dir, chunks := writeSample(t)

	orig := rename
	t.Cleanup(func() { rename = orig })
	rename = func(from, to string) error {
		if to == dir && !strings.HasSuffix(from, ".old") {
			return errors.New("cross-device link")
		}
		return orig(from, to)
	}

	_, err := Write(dir, Manifest{Embedder: testEmbedder}, chunks[:1])
	require.ErrorContains(t, err, "cross-device link")

	ix, err := Load(dir, LoadOptions{Embedder: testEmbedder})
	require.NoError(t, err)
	assert.Equal(t, len(chunks), ix.Len())

	entries, err := os.ReadDir(filepath.Dir(dir))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestWrite_RejectsMixedDimensions(t *testing.T) {
	chunks := sampleChunks(t)
	chunks[1].Embedding = []float32{1, 0}

	dir := filepath.Join(t.TempDir(), "idx")
	_, err := Write(dir, Manifest{Embedder: testEmbedder}, chunks)
	assert.Error(t, err)

	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err), "nothing written on failure")
}

func TestWrite_Idempotent(t *testing.T) {
	dir, chunks := writeSample(t)
	first, err := Load(dir, LoadOptions{Embedder: testEmbedder})
	require.NoError(t, err)

	_, err = Write(dir, Manifest{Embedder: testEmbedder}, chunks)
	require.NoError(t, err)
	second, err := Load(dir, LoadOptions{Embedder: testEmbedder})
	require.NoError(t, err)

	require.Equal(t, first.Len(), second.Len())
	for i := range first.Chunks() {
		assert.Equal(t, first.Chunks()[i].Content, second.Chunks()[i].Content)
		assert.Equal(t, first.Chunks()[i].Embedding, second.Chunks()[i].Embedding)
	}
	assert.Equal(t, first.Manifest().ChunksSHA256, second.Manifest().ChunksSHA256)
}

func TestLoad_NotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing"), LoadOptions{})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrCorrupt)
}

func TestLoad_Corrupt(t *testing.T) {
	tests := []struct {
		name   string
		damage func(t *testing.T, dir string)
	}{
		{"empty directory", func(t *testing.T, dir string) {
			require.NoError(t, os.Remove(filepath.Join(dir, ManifestFile)))
		}},
		{"bad manifest json", func(t *testing.T, dir string) {
			require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestFile), []byte("{"), 0o644))
		}},
		{"unknown format", func(t *testing.T, dir string) {
			require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestFile), []byte(`{"format_version": 99}`), 0o644))
		}},
		{"tampered chunks", func(t *testing.T, dir string) {
			path := filepath.Join(dir, ChunksFile)
			data, err := os.ReadFile(path)
			require.NoError(t, err)
			require.NoError(t, os.WriteFile(path, append(data, ' '), 0o644))
		}},
		{"truncated vectors", func(t *testing.T, dir string) {
			path := filepath.Join(dir, VectorsFile)
			data, err := os.ReadFile(path)
			require.NoError(t, err)
			require.NoError(t, os.WriteFile(path, data[:len(data)-4], 0o644))
		}},
		{"missing vectors", func(t *testing.T, dir string) {
			require.NoError(t, os.Remove(filepath.Join(dir, VectorsFile)))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir, _ := writeSample(t)
			tt.damage(t, dir)

			_, err := Load(dir, LoadOptions{Embedder: testEmbedder})
			assert.ErrorIs(t, err, ErrCorrupt)
			assert.NotErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestLoad_AllowUnverified(t *testing.T) {
	dir, _ := writeSample(t)
	path := filepath.Join(dir, ChunksFile)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, append(data, '\n'), 0o644))

	_, err = Load(dir, LoadOptions{Embedder: testEmbedder})
	require.ErrorIs(t, err, ErrCorrupt)

	ix, err := Load(dir, LoadOptions{Embedder: testEmbedder, AllowUnverified: true})
	require.NoError(t, err)
	assert.Equal(t, 4, ix.Len())
}

func TestLoad_ModelMismatch(t *testing.T) {
	dir, _ := writeSample(t)

	_, err := Load(dir, LoadOptions{Embedder: "ollama:other-model"})
	assert.ErrorIs(t, err, ErrModelMismatch)
}
