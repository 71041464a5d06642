package rag

import (
	"fmt"
	"strings"
	"text/template"
)

// DefaultTemplate restricts the model to the retrieved manual excerpts.
// Available fields: .Context, .Question, .Fallback.
const DefaultTemplate = `You are an after-sales assistant that answers questions using the product's user manual.
Answer only from the provided Context. Never make up anything that is not in the Context; if the Context does not contain the answer, reply exactly: "{{.Fallback}}"

Context:
{{.Context}}

Question:
{{.Question}}

Answer:
`

// ContextSeparator joins chunk texts in the Context slot
const ContextSeparator = "\n\n"

// PromptTemplate renders the model prompt from retrieved chunks
type PromptTemplate struct {
	tmpl     *template.Template
	fallback string
}

type promptData struct {
	Context  string
	Question string
	Fallback string
}

// NewPromptTemplate parses text; an empty text selects DefaultTemplate.
func NewPromptTemplate(text, fallback string) (*PromptTemplate, error) {
	if text == "" {
		text = DefaultTemplate
	}
	tmpl, err := template.New("prompt").Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("invalid prompt template: %w", err)
	}
	return &PromptTemplate{tmpl: tmpl, fallback: fallback}, nil
}

// Fallback is the phrase the model is told to use when the manual is silent
func (p *PromptTemplate) Fallback() string { return p.fallback }

// Render fills the template with the chunk texts and the verbatim question
func (p *PromptTemplate) Render(r Retrieval) (string, error) {
	texts := make([]string, len(r.Chunks))
	for i, c := range r.Chunks {
		texts[i] = c.Content
	}

	var b strings.Builder
	err := p.tmpl.Execute(&b, promptData{
		Context:  strings.Join(texts, ContextSeparator),
		Question: r.Question,
		Fallback: p.fallback,
	})
	if err != nil {
		return "", fmt.Errorf("failed to render prompt: %w", err)
	}
	return b.String(), nil
}
