package models

import "strings"

// Page is the extracted text of one PDF page
type Page struct {
	Number int    `json:"number"`
	Text   string `json:"text"`
}

// Document is a loaded source file, one entry per page in reading order
type Document struct {
	Path  string `json:"path"`
	Pages []Page `json:"pages"`
}

// PageSeparator joins page texts when a document is flattened for splitting
const PageSeparator = "\n"

// Text returns the document text with pages joined by PageSeparator
func (d *Document) Text() string {
	parts := make([]string, len(d.Pages))
	for i, p := range d.Pages {
		parts[i] = p.Text
	}
	return strings.Join(parts, PageSeparator)
}

// TextChunk represents a chunk of text from the PDF
type TextChunk struct {
	ID        string    `json:"id"`
	Index     int       `json:"index"`
	Content   string    `json:"content"`
	Metadata  Metadata  `json:"metadata"`
	Embedding []float32 `json:"-"`
}

// Metadata contains information about the text chunk
type Metadata struct {
	Source      string `json:"source"`
	StartPage   int    `json:"start_page"`
	EndPage     int    `json:"end_page"`
	StartOffset int    `json:"start_offset"`
}

// ScoredChunk is a chunk returned by a similarity search
type ScoredChunk struct {
	TextChunk
	Score float64 `json:"score"`
}

// Response represents the response from the LLM
type Response struct {
	Answer    string      `json:"answer"`
	Sources   []TextChunk `json:"sources"`
	Timestamp string      `json:"timestamp"`
}
