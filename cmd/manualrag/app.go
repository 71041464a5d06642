package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"manual-rag/internal/config"
	"manual-rag/internal/database"
	"manual-rag/internal/embedding"
	"manual-rag/internal/index"
	"manual-rag/internal/indexer"
	"manual-rag/internal/llm"
	"manual-rag/internal/logging"
	"manual-rag/internal/processor"
	"manual-rag/internal/rag"

	"go.uber.org/zap"
)

// app holds what every command needs: config, logger and the embedder the
// index is built and queried with.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	embedder embedding.Embedder
	closers  []func()
}

func newApp() (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(verbose)
	if err != nil {
		return nil, err
	}

	embedder, err := embedding.New(cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	a := &app{cfg: cfg, logger: logger, embedder: embedder}
	if c, ok := embedder.(io.Closer); ok {
		a.closers = append(a.closers, func() { _ = c.Close() })
	}
	return a, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	_ = a.logger.Sync()
}

func (a *app) openDB(ctx context.Context) (*database.DB, error) {
	db, err := database.NewDB(ctx, a.cfg.Postgres.DSN)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, db.Close)
	return db, nil
}

// pipeline writes the local index and, when a DSN is configured, the
// Postgres mirror.
func (a *app) pipeline(ctx context.Context) (*indexer.Pipeline, error) {
	sinks := []indexer.Sink{indexer.LocalSink{Dir: a.cfg.Index.Dir}}
	if a.cfg.Postgres.DSN != "" {
		db, err := a.openDB(ctx)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, &database.Store{DB: db})
	}

	splitter := processor.NewSplitter(
		processor.WithChunkSize(a.cfg.Chunker.Size),
		processor.WithOverlap(a.cfg.Chunker.Overlap),
	)
	return indexer.NewPipeline(splitter, a.embedder, a.logger, sinks...), nil
}

// searcher loads the configured retrieval backend. Every load failure is
// fatal except a missing local index with rebuild_if_missing set.
func (a *app) searcher(ctx context.Context) (rag.Searcher, error) {
	if a.cfg.Retrieval.Backend == config.BackendPostgres {
		return a.postgresSearcher(ctx)
	}

	if a.cfg.Index.AllowUnverified {
		a.logger.Warn("loading index without checksum verification", zap.String("dir", a.cfg.Index.Dir))
	}
	opts := index.LoadOptions{Embedder: a.embedder.Name(), AllowUnverified: a.cfg.Index.AllowUnverified}

	ix, err := index.Load(a.cfg.Index.Dir, opts)
	if errors.Is(err, index.ErrNotFound) && a.cfg.Index.RebuildIfMissing {
		a.logger.Warn("index not found, rebuilding", zap.String("dir", a.cfg.Index.Dir), zap.String("source", a.cfg.Source.Path))
		p, perr := a.pipeline(ctx)
		if perr != nil {
			return nil, perr
		}
		if _, perr := p.Build(ctx, a.cfg.Source.Path); perr != nil {
			return nil, fmt.Errorf("failed to rebuild index: %w", perr)
		}
		ix, err = index.Load(a.cfg.Index.Dir, opts)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load index: %w", err)
	}

	m := ix.Manifest()
	a.logger.Info("index loaded",
		zap.String("dir", a.cfg.Index.Dir),
		zap.Int("chunks", m.Count),
		zap.Int("dimension", m.Dimension),
		zap.String("embedder", m.Embedder),
		zap.Time("created_at", m.CreatedAt))
	return rag.LocalSearcher{Index: ix}, nil
}

func (a *app) postgresSearcher(ctx context.Context) (rag.Searcher, error) {
	db, err := a.openDB(ctx)
	if err != nil {
		return nil, err
	}
	name, err := db.Embedder(ctx)
	if err != nil {
		return nil, err
	}
	if name != "" && name != a.embedder.Name() {
		return nil, fmt.Errorf("%w: built with %q, configured %q", index.ErrModelMismatch, name, a.embedder.Name())
	}
	a.logger.Info("serving from postgres", zap.String("embedder", name))
	return &database.Store{DB: db}, nil
}

func (a *app) retriever(ctx context.Context) (*rag.Retriever, error) {
	searcher, err := a.searcher(ctx)
	if err != nil {
		return nil, err
	}
	return &rag.Retriever{Embedder: a.embedder, Searcher: searcher, TopK: a.cfg.Retrieval.TopK}, nil
}

// engine builds the query-side application context. An unreachable model
// server is only a warning here; requests fail with 503 until it is up.
func (a *app) engine(ctx context.Context) (*rag.Engine, error) {
	retriever, err := a.retriever(ctx)
	if err != nil {
		return nil, err
	}

	prompt, err := rag.NewPromptTemplate(a.cfg.LLM.PromptTemplate, a.cfg.LLM.FallbackAnswer)
	if err != nil {
		return nil, err
	}

	model, err := llm.NewOllamaLLM(a.cfg.Ollama.BaseURL, a.cfg.LLM.Model, a.cfg.LLM.Temperature)
	if err != nil {
		return nil, err
	}
	if err := model.Ping(ctx); err != nil {
		a.logger.Warn("language model backend not reachable", zap.String("url", a.cfg.Ollama.BaseURL), zap.Error(err))
	}

	return rag.NewEngine(retriever, prompt, model, a.logger), nil
}
