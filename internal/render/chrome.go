package render

import (
	"context"
	"fmt"
	"io"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog/log"
)

// ChromeRenderer prints markup to PDF with a headless Chrome or Chromium.
// The document is laid out at Options.Size and printed onto Options.Paper
// with a print scale of 1/Options.Scale.
type ChromeRenderer struct {
	// ExecPath overrides the browser binary; empty searches PATH.
	ExecPath string
}

// Name implements Renderer.
func (r *ChromeRenderer) Name() string { return NameChrome }

// Render implements Renderer. A fresh browser is started per call and shut
// down before returning.
func (r *ChromeRenderer) Render(ctx context.Context, markup string, opts Options, w io.Writer) error {
	if err := validate(opts); err != nil {
		return err
	}
	if ps := 1 / opts.scale(); ps < minPrintScale || ps > maxPrintScale {
		return fmt.Errorf("print scale %g outside %g..%g", ps, minPrintScale, maxPrintScale)
	}
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:], chromedp.DisableGPU)
	if r.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(r.ExecPath))
	}
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocOpts...)
	defer cancelAlloc()
	browserCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	var buf []byte
	err := chromedp.Run(browserCtx,
		chromedp.Navigate("about:blank"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			tree, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return fmt.Errorf("frame tree: %w", err)
			}
			return page.SetDocumentContent(tree.Frame.ID, markup).Do(ctx)
		}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			buf, _, err = printParams(opts).Do(ctx)
			return err
		}),
	)
	if err != nil {
		return fmt.Errorf("chrome print: %w", err)
	}
	log.Debug().Int("bytes", len(buf)).Str("size", opts.Size.String()).Str("paper", opts.Paper().String()).Msg("chrome rendered pdf")
	_, err = w.Write(buf)
	return err
}

// DevTools rejects print scales outside this range.
const (
	minPrintScale = 0.1
	maxPrintScale = 2
)

// printParams translates millimetre geometry into the inch-based DevTools
// print parameters. The paper is the physical page; the layout size is
// reached through the print scale.
func printParams(opts Options) *page.PrintToPDFParams {
	m := mmToInch(opts.Margin)
	paper := opts.Paper()
	return page.PrintToPDF().
		WithPrintBackground(true).
		WithScale(1 / opts.scale()).
		WithPaperWidth(mmToInch(paper.Width)).
		WithPaperHeight(mmToInch(paper.Height)).
		WithMarginTop(m).
		WithMarginBottom(m).
		WithMarginLeft(m).
		WithMarginRight(m)
}
