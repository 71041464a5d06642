package rag

import (
	"context"
	"strings"
	"time"

	"manual-rag/internal/chain"
	"manual-rag/internal/llm"
	"manual-rag/internal/logging"
	"manual-rag/internal/models"

	"go.uber.org/zap"
)

// Engine is the application context of the query side: it is built once at
// startup, holds only read-only collaborators and is shared by all requests.
type Engine struct {
	Retriever *Retriever
	Prompt    *PromptTemplate
	Model     llm.ChatModel

	logger *zap.Logger
	ask    chain.Step[string, *models.Response]
}

// NewEngine composes retrieve → render prompt → model → parse → response
func NewEngine(retriever *Retriever, prompt *PromptTemplate, model llm.ChatModel, logger *zap.Logger) *Engine {
	e := &Engine{
		Retriever: retriever,
		Prompt:    prompt,
		Model:     model,
		logger:    logging.OrNop(logger),
	}

	retrieve := chain.Step[string, Retrieval](retriever.Retrieve)
	render := chain.Step[Retrieval, string](func(_ context.Context, r Retrieval) (string, error) {
		return prompt.Render(r)
	})
	invoke := chain.Step[string, string](model.Generate)
	parse := chain.Map(strings.TrimSpace)
	modelChain := chain.Then(chain.Then(render, invoke), parse)

	respond := chain.Step[Retrieval, *models.Response](func(ctx context.Context, r Retrieval) (*models.Response, error) {
		answer := prompt.Fallback()
		// nothing to ground an answer on
		if len(r.Chunks) > 0 {
			var err error
			if answer, err = modelChain(ctx, r); err != nil {
				return nil, err
			}
		}

		sources := make([]models.TextChunk, len(r.Chunks))
		for i, c := range r.Chunks {
			sources[i] = c.TextChunk
		}
		return &models.Response{
			Answer:    answer,
			Sources:   sources,
			Timestamp: time.Now().Format(time.RFC3339),
		}, nil
	})
	e.ask = chain.Then(retrieve, respond)

	return e
}

// Ask answers question and also returns the chunks the answer was based on
func (e *Engine) Ask(ctx context.Context, question string) (*models.Response, error) {
	start := time.Now()
	resp, err := e.ask(ctx, question)
	if err != nil {
		e.logger.Warn("chain failed", zap.String("question", question), zap.Error(err))
		return nil, err
	}
	e.logger.Info("question answered",
		zap.String("question", question),
		zap.Int("sources", len(resp.Sources)),
		zap.Int("answer_len", len(resp.Answer)),
		zap.Duration("elapsed", time.Since(start)))
	return resp, nil
}

// Answer runs the whole chain for one question and returns only the text
func (e *Engine) Answer(ctx context.Context, question string) (string, error) {
	resp, err := e.Ask(ctx, question)
	if err != nil {
		return "", err
	}
	return resp.Answer, nil
}

// Retrieve exposes the retrieval stage on its own
func (e *Engine) Retrieve(ctx context.Context, question string) (Retrieval, error) {
	return e.Retriever.Retrieve(ctx, question)
}
