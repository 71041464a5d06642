package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"manual-rag/internal/embedding/embeddingtest"
	"manual-rag/internal/index"
	"manual-rag/internal/llm"
	"manual-rag/internal/llm/llmtest"
	"manual-rag/internal/models"
	"manual-rag/internal/processor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fallback = "The manual does not contain information about that."

var manualPages = []string{
	"Safety instructions\nUnplug before cleaning the brush roll.\nDo not use the cleaner near water.",
	"Charging\nCharge the battery for four hours before first use.",
	"Dust bin\nEmpty the dust bin when the indicator turns red.",
	"Filter care\nWash the filter once a month and let it dry for 24 hours.",
}

func buildIndex(t *testing.T, emb *embeddingtest.HashEmbedder, pages ...string) *index.Index {
	t.Helper()
	doc := &models.Document{Path: "manual.pdf"}
	for i, p := range pages {
		doc.Pages = append(doc.Pages, models.Page{Number: i + 1, Text: p})
	}

	chunks := processor.NewSplitter(processor.WithChunkSize(120), processor.WithOverlap(20)).Split(doc)
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vectors, err := emb.EmbedDocuments(context.Background(), texts)
	require.NoError(t, err)
	for i := range chunks {
		chunks[i].Embedding = vectors[i]
	}

	ix, err := index.New(emb.Name(), chunks)
	require.NoError(t, err)
	return ix
}

func newEngine(t *testing.T, model llm.ChatModel, pages ...string) *Engine {
	t.Helper()
	emb := &embeddingtest.HashEmbedder{}
	ix := buildIndex(t, emb, pages...)

	prompt, err := NewPromptTemplate("", fallback)
	require.NoError(t, err)

	retriever := &Retriever{Embedder: emb, Searcher: LocalSearcher{Index: ix}, TopK: 3}
	return NewEngine(retriever, prompt, model, nil)
}

func TestEngine_BrushRollScenario(t *testing.T) {
	engine := newEngine(t, llmtest.ContextBound{Fallback: fallback}, manualPages...)
	ctx := context.Background()

	retrieval, err := engine.Retrieve(ctx, "How do I clean the brush roll safely?")
	require.NoError(t, err)
	require.Len(t, retrieval.Chunks, 3)

	found := false
	for _, c := range retrieval.Chunks {
		if strings.Contains(c.Content, "Unplug before cleaning the brush roll.") {
			found = true
		}
	}
	assert.True(t, found, "brush roll sentence should be in the top 3")

	answer, err := engine.Answer(ctx, "How do I clean the brush roll safely?")
	require.NoError(t, err)
	assert.Contains(t, answer, "brush roll")
}

func TestEngine_UnrelatedQuestionFallsBack(t *testing.T) {
	engine := newEngine(t, llmtest.ContextBound{Fallback: fallback}, manualPages...)

	answer, err := engine.Answer(context.Background(), "What is the capital of France?")
	require.NoError(t, err)
	assert.Equal(t, fallback, answer)
}

func TestEngine_FewerChunksThanK(t *testing.T) {
	engine := newEngine(t, llmtest.ContextBound{Fallback: fallback}, "Charge the battery.")

	retrieval, err := engine.Retrieve(context.Background(), "battery")
	require.NoError(t, err)
	assert.Len(t, retrieval.Chunks, 1)
}

func TestEngine_EmptyIndex(t *testing.T) {
	called := false
	model := llmtest.Func(func(context.Context, string) (string, error) {
		called = true
		return "should not be used", nil
	})
	engine := newEngine(t, model)

	retrieval, err := engine.Retrieve(context.Background(), "How do I clean the brush roll?")
	require.NoError(t, err)
	assert.Empty(t, retrieval.Chunks)

	answer, err := engine.Answer(context.Background(), "How do I clean the brush roll?")
	require.NoError(t, err)
	assert.Equal(t, fallback, answer)
	assert.False(t, called)
}

func TestEngine_EmptyQuestion(t *testing.T) {
	engine := newEngine(t, llmtest.ContextBound{Fallback: fallback}, manualPages...)

	for _, q := range []string{"", "   ", "\n\t"} {
		_, err := engine.Answer(context.Background(), q)
		assert.ErrorIs(t, err, ErrEmptyQuestion)
	}
}

func TestEngine_BackendUnavailable(t *testing.T) {
	model := llmtest.Func(func(context.Context, string) (string, error) {
		return "", fmt.Errorf("%w: connection refused", llm.ErrBackendUnavailable)
	})
	engine := newEngine(t, model, manualPages...)

	_, err := engine.Answer(context.Background(), "How do I charge the battery?")
	assert.ErrorIs(t, err, llm.ErrBackendUnavailable)

	// the engine stays usable
	_, err = engine.Retrieve(context.Background(), "How do I charge the battery?")
	assert.NoError(t, err)
}

func TestEngine_EmbeddingFailure(t *testing.T) {
	emb := &embeddingtest.HashEmbedder{}
	ix := buildIndex(t, emb, manualPages...)
	emb.FailOn = "battery"

	prompt, err := NewPromptTemplate("", fallback)
	require.NoError(t, err)
	engine := NewEngine(&Retriever{Embedder: emb, Searcher: LocalSearcher{Index: ix}, TopK: 3}, prompt, llmtest.ContextBound{}, nil)

	_, err = engine.Answer(context.Background(), "battery?")
	assert.Error(t, err)
}

func TestEngine_ParsesModelOutput(t *testing.T) {
	model := llmtest.Func(func(context.Context, string) (string, error) {
		return "\n  Unplug it first.  \n", nil
	})
	engine := newEngine(t, model, manualPages...)

	answer, err := engine.Answer(context.Background(), "brush roll?")
	require.NoError(t, err)
	assert.Equal(t, "Unplug it first.", answer)
}

func TestEngine_Ask(t *testing.T) {
	engine := newEngine(t, llmtest.ContextBound{Fallback: fallback}, manualPages...)

	resp, err := engine.Ask(context.Background(), "How do I clean the brush roll safely?")
	require.NoError(t, err)
	assert.Contains(t, resp.Answer, "brush roll")
	assert.Len(t, resp.Sources, 3)
	assert.NotEmpty(t, resp.Timestamp)
}

func TestEngine_ConcurrentRequestsDoNotMix(t *testing.T) {
	model := llmtest.Func(func(_ context.Context, prompt string) (string, error) {
		return "echo: " + llmtest.Section(prompt, "Question:\n", "\n\nAnswer:"), nil
	})
	engine := newEngine(t, model, manualPages...)

	const n = 32
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			q := fmt.Sprintf("question %d about the filter", i)
			answer, err := engine.Answer(context.Background(), q)
			if err != nil {
				errs <- err
				return
			}
			if answer != "echo: "+q {
				errs <- fmt.Errorf("question %d got %q", i, answer)
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
}

func TestPromptTemplate_Render(t *testing.T) {
	p, err := NewPromptTemplate("", fallback)
	require.NoError(t, err)
	assert.Equal(t, fallback, p.Fallback())

	out, err := p.Render(Retrieval{
		Question: "How do I clean the brush roll?",
		Chunks: []models.ScoredChunk{
			{TextChunk: models.TextChunk{Content: "first chunk"}},
			{TextChunk: models.TextChunk{Content: "second chunk"}},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "first chunk\n\nsecond chunk", llmtest.Section(out, "Context:\n", "\n\nQuestion:\n"))
	assert.Equal(t, "How do I clean the brush roll?", llmtest.Section(out, "Question:\n", "\n\nAnswer:"))
	assert.Contains(t, out, fallback)
}

func TestPromptTemplate_Custom(t *testing.T) {
	p, err := NewPromptTemplate("Q={{.Question}} C={{.Context}}", "")
	require.NoError(t, err)

	out, err := p.Render(Retrieval{Question: "q", Chunks: []models.ScoredChunk{{TextChunk: models.TextChunk{Content: "c"}}}})
	require.NoError(t, err)
	assert.Equal(t, "Q=q C=c", out)

	_, err = NewPromptTemplate("{{.Question", "")
	assert.Error(t, err)

	bad, err := NewPromptTemplate("{{.Missing}}", "")
	require.NoError(t, err)
	_, err = bad.Render(Retrieval{Question: "q"})
	assert.Error(t, err)
}

func TestRetriever_SearchError(t *testing.T) {
	boom := errors.New("boom")
	r := &Retriever{Embedder: &embeddingtest.HashEmbedder{}, Searcher: failingSearcher{err: boom}, TopK: 3}

	_, err := r.Retrieve(context.Background(), "anything")
	assert.ErrorIs(t, err, boom)
}

type failingSearcher struct{ err error }

func (f failingSearcher) Search(context.Context, []float32, int) ([]models.ScoredChunk, error) {
	return nil, f.err
}

func (f failingSearcher) Len(context.Context) (int, error) { return 0, f.err }

func TestEngine_AskAndAnswerRunTheSameChain(t *testing.T) {
	var calls atomic.Int32
	model := llmtest.Func(func(context.Context, string) (string, error) {
		calls.Add(1)
		return "  Unplug it first.\n", nil
	})
	engine := newEngine(t, model, manualPages...)

	resp, err := engine.Ask(context.Background(), "brush roll?")
	require.NoError(t, err)
	answer, err := engine.Answer(context.Background(), "brush roll?")
	require.NoError(t, err)

	assert.Equal(t, "Unplug it first.", resp.Answer)
	assert.Equal(t, resp.Answer, answer)
	assert.Equal(t, int32(2), calls.Load())
}

func TestEngine_AskEmptyIndex(t *testing.T) {
	model := llmtest.Func(func(context.Context, string) (string, error) {
		return "", errors.New("model must not be called")
	})
	engine := newEngine(t, model)

	resp, err := engine.Ask(context.Background(), "How do I clean the brush roll?")
	require.NoError(t, err)
	assert.Equal(t, fallback, resp.Answer)
	assert.Empty(t, resp.Sources)
}
