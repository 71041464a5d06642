package processor

import (
	"sort"
	"strings"
	"unicode/utf8"

	"manual-rag/internal/models"

	"github.com/google/uuid"
)

const (
	// DefaultChunkSize is the maximum number of characters per chunk
	DefaultChunkSize = 1000
	// DefaultChunkOverlap is the number of characters shared by neighbouring chunks
	DefaultChunkOverlap = 100
)

// Splitter cuts a document into fixed-size, overlapping character windows.
// Sizes count runes, not bytes.
type Splitter struct {
	ChunkSize    int
	ChunkOverlap int
}

// Option configures a Splitter
type Option func(*Splitter)

// WithChunkSize sets the chunk size in characters
func WithChunkSize(size int) Option {
	return func(s *Splitter) {
		if size > 0 {
			s.ChunkSize = size
		}
	}
}

// WithOverlap sets the overlap between chunks in characters
func WithOverlap(overlap int) Option {
	return func(s *Splitter) {
		if overlap >= 0 {
			s.ChunkOverlap = overlap
		}
	}
}

// NewSplitter creates a splitter; an overlap that is not smaller than the
// chunk size is reduced to a quarter of it.
func NewSplitter(opts ...Option) *Splitter {
	s := &Splitter{
		ChunkSize:    DefaultChunkSize,
		ChunkOverlap: DefaultChunkOverlap,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.ChunkOverlap >= s.ChunkSize {
		s.ChunkOverlap = s.ChunkSize / 4
	}
	return s
}

// Split returns the ordered chunks of doc. Each window starts ChunkSize-ChunkOverlap
// characters after the previous one, so neighbours share exactly ChunkOverlap
// characters. A document with no visible text yields no chunks.
func (s *Splitter) Split(doc *models.Document) []models.TextChunk {
	text := doc.Text()
	if strings.TrimSpace(text) == "" {
		return nil
	}

	runes := []rune(text)
	total := len(runes)
	pageStarts := pageOffsets(doc)
	step := s.ChunkSize - s.ChunkOverlap

	chunks := make([]models.TextChunk, 0, total/step+1)
	for start := 0; ; start += step {
		end := start + s.ChunkSize
		if end > total {
			end = total
		}

		chunks = append(chunks, models.TextChunk{
			ID:      uuid.New().String(),
			Index:   len(chunks),
			Content: string(runes[start:end]),
			Metadata: models.Metadata{
				Source:      doc.Path,
				StartPage:   pageAt(doc, pageStarts, start),
				EndPage:     pageAt(doc, pageStarts, end-1),
				StartOffset: start,
			},
		})

		if end == total {
			break
		}
	}

	return chunks
}

// pageOffsets returns the rune offset at which each page starts in doc.Text().
func pageOffsets(doc *models.Document) []int {
	offsets := make([]int, len(doc.Pages))
	pos := 0
	sepLen := utf8.RuneCountInString(models.PageSeparator)
	for i, p := range doc.Pages {
		offsets[i] = pos
		pos += utf8.RuneCountInString(p.Text) + sepLen
	}
	return offsets
}

func pageAt(doc *models.Document, offsets []int, pos int) int {
	if len(offsets) == 0 {
		return 0
	}
	i := sort.Search(len(offsets), func(i int) bool { return offsets[i] > pos }) - 1
	if i < 0 {
		i = 0
	}
	return doc.Pages[i].Number
}
