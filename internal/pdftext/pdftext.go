// Package pdftext extracts per-page text and geometry from PDF files using
// MuPDF through go-fitz.
package pdftext

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/emlextract/internal/document"
)

var (
	// ErrOpen is returned when the file cannot be opened as a PDF.
	ErrOpen = errors.New("open pdf")
	// ErrNoPages is returned for documents without pages.
	ErrNoPages = errors.New("pdf has no pages")
)

// Format is the document format reported by this extractor.
const Format = "pdf"

// Extractor reads PDF files into documents.
type Extractor struct{}

// Run implements extract.Extractor.
func (Extractor) Run(ctx context.Context, path string) (*document.Document, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %v", ErrOpen, path, err)
	}
	defer doc.Close()

	n := doc.NumPage()
	if n == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrNoPages)
	}

	out := &document.Document{
		Source: path,
		Format: Format,
		Pages:  make([]document.Page, 0, n),
	}
	meta := doc.Metadata()
	out.Title = strings.TrimSpace(meta["title"])
	for _, key := range []string{"author", "subject", "keywords", "creator", "producer", "creationDate"} {
		out.SetMeta(key, meta[key])
	}

	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text, err := doc.Text(i)
		if err != nil {
			return nil, fmt.Errorf("page %d text: %w", i+1, err)
		}
		bounds, err := doc.Bound(i)
		if err != nil {
			return nil, fmt.Errorf("page %d bounds: %w", i+1, err)
		}
		out.Pages = append(out.Pages, document.Page{
			Number:   i + 1,
			WidthMM:  ptToMM(float64(bounds.Dx())),
			HeightMM: ptToMM(float64(bounds.Dy())),
			Text:     strings.TrimSpace(text),
		})
	}
	log.Debug().Str("path", path).Int("pages", n).Msg("extracted pdf")
	return out, nil
}

func ptToMM(v float64) float64 { return v * 25.4 / 72 }
