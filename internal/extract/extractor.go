package extract

import (
	"context"
	"fmt"
	"os"

	"github.com/hyperifyio/emlextract/internal/document"
)

// Extractor turns the file at path into a structured Document. Each input
// format has its own implementation; Registry picks one by extension.
type Extractor interface {
	Run(ctx context.Context, path string) (*document.Document, error)
}

// ExtractorFunc adapts a function to the Extractor interface.
type ExtractorFunc func(ctx context.Context, path string) (*document.Document, error)

// Run implements Extractor.
func (f ExtractorFunc) Run(ctx context.Context, path string) (*document.Document, error) {
	return f(ctx, path)
}

// HTMLExtractor reads saved HTML pages with FromHTML.
type HTMLExtractor struct{}

// Run implements Extractor.
func (HTMLExtractor) Run(ctx context.Context, path string) (*document.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read html: %w", err)
	}
	doc := FromHTML(b)
	doc.Source = path
	return doc, nil
}
