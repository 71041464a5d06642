// Package index stores chunk texts and their embeddings in a local directory
// and answers top-K similarity queries over them.
//
// Layout of an index directory:
//
//	manifest.json  format version, embedder, dimension, count, checksums
//	chunks.json    ordered chunk text and metadata
//	vectors.bin    little-endian float32 matrix, count x dimension
//
// Loading an index deserializes files from disk. Checksums in the manifest are
// verified unless the caller explicitly opts out with AllowUnverified, and the
// embedder recorded at build time must match the one used for queries.
package index

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"manual-rag/internal/embedding"
	"manual-rag/internal/models"
)

const (
	FormatVersion = 1

	ManifestFile = "manifest.json"
	ChunksFile   = "chunks.json"
	VectorsFile  = "vectors.bin"
)

var (
	// ErrNotFound means there is no index at the location; rebuilding fixes it
	ErrNotFound = errors.New("index not found")
	// ErrCorrupt means the index exists but cannot be trusted or decoded
	ErrCorrupt = errors.New("index corrupt")
	// ErrModelMismatch means the index was built with a different embedder
	ErrModelMismatch = errors.New("index embedder mismatch")
	// ErrDimension is returned when a query vector has the wrong length
	ErrDimension = errors.New("query dimension mismatch")
)

// Manifest describes an index directory
type Manifest struct {
	FormatVersion int       `json:"format_version"`
	Embedder      string    `json:"embedder"`
	Dimension     int       `json:"dimension"`
	Count         int       `json:"count"`
	Source        string    `json:"source"`
	CreatedAt     time.Time `json:"created_at"`
	ChunksSHA256  string    `json:"chunks_sha256"`
	VectorsSHA256 string    `json:"vectors_sha256"`
}

// Index is a loaded, read-only chunk/embedding collection. Search is safe
// for concurrent use.
type Index struct {
	manifest Manifest
	chunks   []models.TextChunk
}

// New builds an in-memory index from embedded chunks.
func New(embedder string, chunks []models.TextChunk) (*Index, error) {
	dim, err := dimensionOf(chunks)
	if err != nil {
		return nil, err
	}
	return &Index{
		manifest: Manifest{
			FormatVersion: FormatVersion,
			Embedder:      embedder,
			Dimension:     dim,
			Count:         len(chunks),
		},
		chunks: chunks,
	}, nil
}

// Manifest returns the index description
func (ix *Index) Manifest() Manifest { return ix.manifest }

// Len returns the number of chunks
func (ix *Index) Len() int { return len(ix.chunks) }

// Chunks returns the stored chunks in build order; callers must not modify them.
func (ix *Index) Chunks() []models.TextChunk { return ix.chunks }

// Search returns the k chunks with the highest dot product against vec,
// best first. Ties keep build order. An empty index yields no results.
func (ix *Index) Search(vec []float32, k int) ([]models.ScoredChunk, error) {
	if len(ix.chunks) == 0 || k <= 0 {
		return []models.ScoredChunk{}, nil
	}
	if len(vec) != ix.manifest.Dimension {
		return nil, fmt.Errorf("%w: got %d, index has %d", ErrDimension, len(vec), ix.manifest.Dimension)
	}

	scored := make([]models.ScoredChunk, len(ix.chunks))
	for i, c := range ix.chunks {
		scored[i] = models.ScoredChunk{TextChunk: c, Score: embedding.Dot(c.Embedding, vec)}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	if k > len(scored) {
		k = len(scored)
	}
	return scored[:k], nil
}

func dimensionOf(chunks []models.TextChunk) (int, error) {
	dim := 0
	for i, c := range chunks {
		if len(c.Embedding) == 0 {
			return 0, fmt.Errorf("chunk %d has no embedding", i)
		}
		if dim == 0 {
			dim = len(c.Embedding)
		} else if len(c.Embedding) != dim {
			return 0, fmt.Errorf("chunk %d has dimension %d, expected %d", i, len(c.Embedding), dim)
		}
	}
	return dim, nil
}

var rename = os.Rename

// Write persists chunks under dir, replacing any previous index there. The
// files are staged in a sibling directory and swapped in only once complete,
// so a failed write leaves the old index untouched.
func Write(dir string, manifest Manifest, chunks []models.TextChunk) (Manifest, error) {
	dim, err := dimensionOf(chunks)
	if err != nil {
		return Manifest{}, err
	}
	if manifest.Dimension != 0 && len(chunks) > 0 && manifest.Dimension != dim {
		return Manifest{}, fmt.Errorf("manifest dimension %d does not match chunks (%d)", manifest.Dimension, dim)
	}

	chunksData, err := json.MarshalIndent(chunks, "", "  ")
	if err != nil {
		return Manifest{}, fmt.Errorf("failed to encode chunks: %w", err)
	}
	vectorsData := encodeVectors(chunks)

	manifest.FormatVersion = FormatVersion
	manifest.Dimension = dim
	manifest.Count = len(chunks)
	manifest.ChunksSHA256 = checksum(chunksData)
	manifest.VectorsSHA256 = checksum(vectorsData)
	if manifest.CreatedAt.IsZero() {
		manifest.CreatedAt = time.Now().UTC()
	}
	manifestData, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return Manifest{}, fmt.Errorf("failed to encode manifest: %w", err)
	}

	parent := filepath.Dir(filepath.Clean(dir))
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return Manifest{}, fmt.Errorf("failed to create %s: %w", parent, err)
	}
	staging, err := os.MkdirTemp(parent, "."+filepath.Base(dir)+".tmp-")
	if err != nil {
		return Manifest{}, fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	files := []struct {
		name string
		data []byte
	}{
		{ChunksFile, chunksData},
		{VectorsFile, vectorsData},
		// manifest last: its presence marks a complete index
		{ManifestFile, manifestData},
	}
	for _, f := range files {
		if err := os.WriteFile(filepath.Join(staging, f.name), f.data, 0o644); err != nil {
			return Manifest{}, fmt.Errorf("failed to write %s: %w", f.name, err)
		}
	}

	// the previous index is parked next to staging until the new one is in place
	backup := ""
	if _, err := os.Stat(dir); err == nil {
		backup = staging + ".old"
		if err := rename(dir, backup); err != nil {
			return Manifest{}, fmt.Errorf("failed to move previous index aside: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return Manifest{}, fmt.Errorf("failed to stat %s: %w", dir, err)
	}

	if err := rename(staging, dir); err != nil {
		if backup != "" {
			if restoreErr := rename(backup, dir); restoreErr != nil {
				return Manifest{}, fmt.Errorf("failed to move index into place: %w (previous index left at %s: %v)", err, backup, restoreErr)
			}
		}
		return Manifest{}, fmt.Errorf("failed to move index into place: %w", err)
	}
	if backup != "" {
		_ = os.RemoveAll(backup)
	}

	return manifest, nil
}

// LoadOptions control how an index directory is trusted
type LoadOptions struct {
	// Embedder must equal the name recorded at build time
	Embedder string
	// AllowUnverified skips checksum verification of the stored files
	AllowUnverified bool
}

// Load reads the index at dir.
// A missing directory is ErrNotFound; a directory without a readable,
// consistent set of files is ErrCorrupt.
func Load(dir string, opts LoadOptions) (*Index, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, dir)
		}
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrCorrupt, dir)
	}

	manifestData, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read manifest: %v", ErrCorrupt, err)
	}

	var manifest Manifest
	if err := json.Unmarshal(manifestData, &manifest); err != nil {
		return nil, fmt.Errorf("%w: invalid manifest: %v", ErrCorrupt, err)
	}
	if manifest.FormatVersion != FormatVersion {
		return nil, fmt.Errorf("%w: unsupported format version %d", ErrCorrupt, manifest.FormatVersion)
	}
	if opts.Embedder != "" && manifest.Embedder != opts.Embedder {
		return nil, fmt.Errorf("%w: built with %q, configured %q", ErrModelMismatch, manifest.Embedder, opts.Embedder)
	}

	chunksData, err := os.ReadFile(filepath.Join(dir, ChunksFile))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read chunks: %v", ErrCorrupt, err)
	}
	vectorsData, err := os.ReadFile(filepath.Join(dir, VectorsFile))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read vectors: %v", ErrCorrupt, err)
	}

	if !opts.AllowUnverified {
		if checksum(chunksData) != manifest.ChunksSHA256 {
			return nil, fmt.Errorf("%w: %s checksum mismatch", ErrCorrupt, ChunksFile)
		}
		if checksum(vectorsData) != manifest.VectorsSHA256 {
			return nil, fmt.Errorf("%w: %s checksum mismatch", ErrCorrupt, VectorsFile)
		}
	}

	var chunks []models.TextChunk
	if err := json.Unmarshal(chunksData, &chunks); err != nil {
		return nil, fmt.Errorf("%w: invalid chunks: %v", ErrCorrupt, err)
	}
	if len(chunks) != manifest.Count {
		return nil, fmt.Errorf("%w: manifest lists %d chunks, found %d", ErrCorrupt, manifest.Count, len(chunks))
	}

	if err := decodeVectors(vectorsData, chunks, manifest.Dimension); err != nil {
		return nil, err
	}

	return &Index{manifest: manifest, chunks: chunks}, nil
}

func encodeVectors(chunks []models.TextChunk) []byte {
	var buf bytes.Buffer
	for _, c := range chunks {
		for _, x := range c.Embedding {
			_ = binary.Write(&buf, binary.LittleEndian, math.Float32bits(x))
		}
	}
	return buf.Bytes()
}

func decodeVectors(data []byte, chunks []models.TextChunk, dim int) error {
	if len(chunks) > 0 && dim <= 0 {
		return fmt.Errorf("%w: invalid dimension %d", ErrCorrupt, dim)
	}
	if want := len(chunks) * dim * 4; len(data) != want {
		return fmt.Errorf("%w: %s has %d bytes, expected %d", ErrCorrupt, VectorsFile, len(data), want)
	}
	for i := range chunks {
		vec := make([]float32, dim)
		for j := range vec {
			off := (i*dim + j) * 4
			vec[j] = math.Float32frombits(binary.LittleEndian.Uint32(data[off : off+4]))
		}
		chunks[i].Embedding = vec
	}
	return nil
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
