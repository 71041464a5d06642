// Package llmtest provides chat model fakes for tests.
package llmtest

import (
	"context"
	"strings"

	"manual-rag/internal/embedding/embeddingtest"
)

// Func adapts a function to llm.ChatModel
type Func func(ctx context.Context, prompt string) (string, error)

// Generate implements llm.ChatModel
func (f Func) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// ContextBound imitates a model that obeys a strict-context instruction: it
// answers with the first context line sharing a word with the question, and
// with Fallback when there is none.
type ContextBound struct {
	Fallback string
}

// Generate implements llm.ChatModel
func (m ContextBound) Generate(_ context.Context, prompt string) (string, error) {
	ctxText := Section(prompt, "Context:\n", "\n\nQuestion:\n")
	question := Section(prompt, "Question:\n", "\n\nAnswer:")

	wanted := map[string]bool{}
	for _, tok := range embeddingtest.Tokens(question) {
		wanted[tok] = true
	}

	for _, line := range strings.Split(ctxText, "\n") {
		for _, tok := range embeddingtest.Tokens(line) {
			if wanted[tok] {
				return strings.TrimSpace(line), nil
			}
		}
	}
	return m.Fallback, nil
}

// Section returns the text between start and end markers of prompt
func Section(prompt, start, end string) string {
	i := strings.Index(prompt, start)
	if i < 0 {
		return ""
	}
	rest := prompt[i+len(start):]
	if j := strings.Index(rest, end); j >= 0 {
		return rest[:j]
	}
	return rest
}
