// Package inspector prints what the retriever finds for a query, for checking
// index quality without going through the model.
package inspector

import (
	"context"
	"fmt"
	"io"

	"manual-rag/internal/rag"
)

// NoResults is printed when the query retrieves nothing
const NoResults = "!! no results !! (index is empty or nothing matched)"

// Run retrieves up to k chunks for query and writes their full text to w
func Run(ctx context.Context, w io.Writer, retriever *rag.Retriever, query string, k int) error {
	r := *retriever
	if k > 0 {
		r.TopK = k
	}

	retrieval, err := r.Retrieve(ctx, query)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "Query: %s\n\n", query); err != nil {
		return err
	}
	if len(retrieval.Chunks) == 0 {
		_, err := fmt.Fprintln(w, NoResults)
		return err
	}

	for i, c := range retrieval.Chunks {
		_, err := fmt.Fprintf(w, "[Retrieved chunk #%d] score=%.4f pages=%d-%d\n%s\n\n",
			i+1, c.Score, c.Metadata.StartPage, c.Metadata.EndPage, c.Content)
		if err != nil {
			return err
		}
	}
	return nil
}
