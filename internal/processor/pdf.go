// internal/processor/pdf.go
package processor

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"manual-rag/internal/models"

	"github.com/ledongthuc/pdf"
)

var (
	// ErrDocumentNotFound is returned when the source file does not exist
	ErrDocumentNotFound = errors.New("document not found")
	// ErrDocumentUnreadable is returned when the source file cannot be parsed
	ErrDocumentUnreadable = errors.New("document unreadable")
)

var (
	spaceRe     = regexp.MustCompile(`[ \t\r\f\v]+`)
	blankLineRe = regexp.MustCompile(`\n{3,}`)
)

// LoadPDF reads a PDF into one models.Page per page, in order.
// Pages without text are kept so page numbers stay aligned with the file.
func LoadPDF(filePath string) (doc *models.Document, err error) {
	if _, err := os.Stat(filePath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, filePath)
		}
		return nil, fmt.Errorf("failed to stat %s: %w", filePath, err)
	}

	// the parser panics on some malformed streams
	defer func() {
		if r := recover(); r != nil {
			doc = nil
			err = fmt.Errorf("%w: %s: %v", ErrDocumentUnreadable, filePath, r)
		}
	}()

	f, r, err := pdf.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open PDF: %v", ErrDocumentUnreadable, err)
	}
	defer f.Close()

	numPages := r.NumPage()
	doc = &models.Document{
		Path:  filePath,
		Pages: make([]models.Page, 0, numPages),
	}

	for i := 1; i <= numPages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			doc.Pages = append(doc.Pages, models.Page{Number: i})
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to extract text from page %d: %v", ErrDocumentUnreadable, i, err)
		}

		doc.Pages = append(doc.Pages, models.Page{
			Number: i,
			Text:   NormalizeWhitespace(text),
		})
	}

	return doc, nil
}

// NormalizeWhitespace collapses horizontal whitespace, trims every line and
// keeps at most one blank line between paragraphs.
func NormalizeWhitespace(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(spaceRe.ReplaceAllString(line, " "))
	}
	text = strings.Join(lines, "\n")
	text = blankLineRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
