// Package indexer turns the source document into a persisted vector index.
package indexer

import (
	"context"
	"fmt"
	"sort"
	"time"
	"unicode/utf8"

	"manual-rag/internal/embedding"
	"manual-rag/internal/index"
	"manual-rag/internal/logging"
	"manual-rag/internal/models"
	"manual-rag/internal/processor"

	"go.uber.org/zap"
)

// Loader reads a document from path
type Loader func(path string) (*models.Document, error)

// Sink receives the complete set of embedded chunks and replaces whatever it
// held before.
type Sink interface {
	Name() string
	Replace(ctx context.Context, manifest index.Manifest, chunks []models.TextChunk) error
}

// LocalSink writes the index directory
type LocalSink struct {
	Dir string
}

// Name identifies the sink in logs
func (s LocalSink) Name() string { return "local:" + s.Dir }

// Replace writes the index atomically over any previous one
func (s LocalSink) Replace(_ context.Context, manifest index.Manifest, chunks []models.TextChunk) error {
	_, err := index.Write(s.Dir, manifest, chunks)
	return err
}

type progressEmbedder interface {
	EmbedDocumentsWithProgress(ctx context.Context, texts []string, fn embedding.ProgressFunc) ([][]float32, error)
}

// Stats summarizes one build
type Stats struct {
	Pages          int
	Chunks         int
	Dimension      int
	AvgChunkLength float64
	MinChunkLength int
	MaxChunkLength int
	MultiPage      int
	LoadDuration   time.Duration
	EmbedDuration  time.Duration
	StoreDuration  time.Duration
	TotalDuration  time.Duration
}

// Pipeline runs load → split → embed → store
type Pipeline struct {
	Load     Loader
	Splitter *processor.Splitter
	Embedder embedding.Embedder
	Sinks    []Sink
	Logger   *zap.Logger
}

// NewPipeline creates a pipeline reading PDFs from disk
func NewPipeline(splitter *processor.Splitter, embedder embedding.Embedder, logger *zap.Logger, sinks ...Sink) *Pipeline {
	return &Pipeline{
		Load:     processor.LoadPDF,
		Splitter: splitter,
		Embedder: embedder,
		Sinks:    sinks,
		Logger:   logging.OrNop(logger),
	}
}

// Build indexes the document at docPath. Sinks are only written once every
// chunk has an embedding, so a failed build leaves previous indexes untouched.
func (p *Pipeline) Build(ctx context.Context, docPath string) (*Stats, error) {
	log := logging.OrNop(p.Logger)
	stats := &Stats{}
	startTime := time.Now()

	log.Info("processing document", zap.String("path", docPath), zap.String("embedder", p.Embedder.Name()))

	doc, err := p.Load(docPath)
	if err != nil {
		return nil, err
	}
	chunks := p.Splitter.Split(doc)
	stats.Pages = len(doc.Pages)
	stats.LoadDuration = time.Since(startTime)
	log.Info("document split",
		zap.Int("pages", stats.Pages),
		zap.Int("chunks", len(chunks)),
		zap.Duration("elapsed", stats.LoadDuration))

	embeddingStart := time.Now()
	if err := p.embed(ctx, chunks, embeddingStart); err != nil {
		return nil, err
	}
	stats.EmbedDuration = time.Since(embeddingStart)

	manifest := index.Manifest{
		Embedder:  p.Embedder.Name(),
		Source:    docPath,
		CreatedAt: time.Now().UTC(),
	}

	storeStart := time.Now()
	for _, sink := range p.Sinks {
		if err := sink.Replace(ctx, manifest, chunks); err != nil {
			return nil, fmt.Errorf("failed to store chunks in %s: %w", sink.Name(), err)
		}
		log.Info("chunks stored", zap.String("sink", sink.Name()), zap.Int("count", len(chunks)))
	}
	stats.StoreDuration = time.Since(storeStart)
	stats.TotalDuration = time.Since(startTime)

	collectChunkStatistics(stats, chunks)
	logChunkStatistics(log, stats, chunks)

	return stats, nil
}

func (p *Pipeline) embed(ctx context.Context, chunks []models.TextChunk, started time.Time) error {
	if len(chunks) == 0 {
		return nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	log := logging.OrNop(p.Logger)
	progressFunc := func(processed, total int) {
		elapsedTime := time.Since(started)
		estimatedTotal := elapsedTime * time.Duration(total) / time.Duration(processed)
		log.Info("embedding progress",
			zap.Int("processed", processed),
			zap.Int("total", total),
			zap.Float64("percent", float64(processed)/float64(total)*100),
			zap.Duration("remaining", (estimatedTotal-elapsedTime).Round(time.Second)))
	}

	var (
		vectors [][]float32
		err     error
	)
	if pe, ok := p.Embedder.(progressEmbedder); ok {
		vectors, err = pe.EmbedDocumentsWithProgress(ctx, texts, progressFunc)
	} else {
		vectors, err = p.Embedder.EmbedDocuments(ctx, texts)
	}
	if err != nil {
		return fmt.Errorf("failed to create embeddings: %w", err)
	}
	if len(vectors) != len(chunks) {
		return fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
	}

	for i := range chunks {
		chunks[i].Embedding = vectors[i]
	}
	return nil
}

func collectChunkStatistics(stats *Stats, chunks []models.TextChunk) {
	stats.Chunks = len(chunks)
	if len(chunks) == 0 {
		return
	}

	stats.Dimension = len(chunks[0].Embedding)
	stats.MinChunkLength = -1
	total := 0
	for _, c := range chunks {
		n := utf8.RuneCountInString(c.Content)
		total += n
		if stats.MinChunkLength < 0 || n < stats.MinChunkLength {
			stats.MinChunkLength = n
		}
		if n > stats.MaxChunkLength {
			stats.MaxChunkLength = n
		}
		if c.Metadata.EndPage > c.Metadata.StartPage {
			stats.MultiPage++
		}
	}
	stats.AvgChunkLength = float64(total) / float64(len(chunks))
}

// logChunkStatistics logs totals and a per-page breakdown of the chunks
func logChunkStatistics(log *zap.Logger, stats *Stats, chunks []models.TextChunk) {
	log.Info("chunk statistics",
		zap.Int("total_chunks", stats.Chunks),
		zap.Int("dimension", stats.Dimension),
		zap.Float64("avg_length", stats.AvgChunkLength),
		zap.Int("min_length", stats.MinChunkLength),
		zap.Int("max_length", stats.MaxChunkLength),
		zap.Int("multi_page_chunks", stats.MultiPage),
		zap.Duration("load", stats.LoadDuration),
		zap.Duration("embed", stats.EmbedDuration),
		zap.Duration("store", stats.StoreDuration),
		zap.Duration("total", stats.TotalDuration))

	perPage := make(map[int]int)
	for _, c := range chunks {
		perPage[c.Metadata.StartPage]++
	}
	pages := make([]int, 0, len(perPage))
	for page := range perPage {
		pages = append(pages, page)
	}
	sort.Ints(pages)
	for _, page := range pages {
		log.Debug("chunks starting on page", zap.Int("page", page), zap.Int("chunks", perPage[page]))
	}
}
