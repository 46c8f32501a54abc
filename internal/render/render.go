// Package render turns composed email markup into a paginated PDF.
package render

import (
	"context"
	"fmt"
	"io"
	"strings"
)

// Options is the geometry requested from a renderer.
type Options struct {
	// Size is the layout geometry handed to the renderer, already scaled
	// (see RenderGeometry).
	Size Geometry
	// Scale is the factor Size was scaled by. Renderers lay content out at
	// Size and print it onto Paper, shrinking it by 1/Scale. Zero means 1.
	Scale float64
	// Margin in millimetres on all four sides of the printed page.
	Margin float64
	// Title is stored in the document metadata when the renderer supports it.
	Title string
}

// Renderer writes a paginated artifact for markup to w. Implementations
// return only after the output is complete or has failed.
type Renderer interface {
	Name() string
	Render(ctx context.Context, markup string, opts Options, w io.Writer) error
}

// Renderer names accepted by New.
const (
	NamePDF    = "pdf"
	NameChrome = "chrome"
)

// New returns the renderer registered under name. An empty name selects the
// built-in gofpdf renderer.
func New(name string, chromePath string) (Renderer, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", NamePDF:
		return &PDFRenderer{}, nil
	case NameChrome:
		return &ChromeRenderer{ExecPath: chromePath}, nil
	default:
		return nil, fmt.Errorf("unknown renderer %q", name)
	}
}

// Paper is the physical page the artifact is printed on.
func (o Options) Paper() Geometry {
	return o.Size.Scale(1 / o.scale())
}

func (o Options) scale() float64 {
	if o.Scale == 0 {
		return 1
	}
	return o.Scale
}

func validate(opts Options) error {
	if !opts.Size.Valid() {
		return fmt.Errorf("invalid page size %s", opts.Size)
	}
	if opts.Scale < 0 {
		return fmt.Errorf("invalid scale %g", opts.Scale)
	}
	paper := opts.Paper()
	if opts.Margin < 0 || 2*opts.Margin >= paper.Width || 2*opts.Margin >= paper.Height {
		return fmt.Errorf("margin %gmm does not fit page %s", opts.Margin, paper)
	}
	return nil
}
