// Package convert bridges email messages to the PDF extraction pipeline:
// it renders the message body onto fixed-size pages and hands the resulting
// PDF to a downstream extractor.
package convert

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/emlextract/internal/document"
	"github.com/hyperifyio/emlextract/internal/email"
	"github.com/hyperifyio/emlextract/internal/extract"
	"github.com/hyperifyio/emlextract/internal/render"
)

// ArtifactExt is the extension of the intermediate PDF.
const ArtifactExt = ".pdf"

// Options configures a Converter. Zero values select the defaults noted on
// each field.
type Options struct {
	Renderer   render.Renderer
	Downstream extract.Extractor

	// Page is the logical page the artifact should have. Default A4.
	Page render.Geometry
	// Scale is the renderer calibration applied to Page. Default
	// render.DefaultScale.
	Scale float64
	// Margin in millimetres on every side. Default render.DefaultMargin.
	Margin float64
	// OnExists is the collision policy for the artifact path. Default
	// Overwrite.
	OnExists Policy
}

// Result is the outcome of one successful conversion.
type Result struct {
	Document *document.Document
	Email    *email.Message
	// Artifact is the PDF handed to the downstream extractor. It is left on
	// disk.
	Artifact string
	// ArtifactSHA256 is the hex digest of the bytes written to Artifact,
	// taken before the path lock was released.
	ArtifactSHA256 string
	Render         render.Options
}

// Converter turns .eml files into documents through a rendered PDF. It is
// safe for concurrent use; calls resolving to the same artifact path run one
// at a time.
type Converter struct {
	opts  Options
	locks pathLocks
}

// New validates opts and fills in defaults.
func New(opts Options) (*Converter, error) {
	if opts.Renderer == nil {
		return nil, errors.New("convert: renderer is required")
	}
	if opts.Downstream == nil {
		return nil, errors.New("convert: downstream extractor is required")
	}
	if opts.Page == (render.Geometry{}) {
		opts.Page = render.A4
	}
	if !opts.Page.Valid() {
		return nil, fmt.Errorf("convert: invalid page %s", opts.Page)
	}
	if opts.Scale == 0 {
		opts.Scale = render.DefaultScale
	}
	if opts.Scale < 0 {
		return nil, fmt.Errorf("convert: scale must be positive, got %g", opts.Scale)
	}
	if opts.Margin == 0 {
		opts.Margin = render.DefaultMargin
	}
	if opts.Margin < 0 {
		return nil, fmt.Errorf("convert: margin must be positive, got %g", opts.Margin)
	}
	if opts.OnExists == "" {
		opts.OnExists = Overwrite
	}
	if _, err := ParsePolicy(string(opts.OnExists)); err != nil {
		return nil, fmt.Errorf("convert: %w", err)
	}
	return &Converter{opts: opts}, nil
}

// RenderOptions returns the geometry requested from the renderer: the page
// scaled by the calibration factor, the factor itself so the renderer can
// print back onto the page, plus the margin.
func (c *Converter) RenderOptions() render.Options {
	return render.Options{
		Size:   render.RenderGeometry(c.opts.Page, c.opts.Scale),
		Scale:  c.opts.Scale,
		Margin: c.opts.Margin,
	}
}

// Run implements extract.Extractor. The downstream document is returned as
// is.
func (c *Converter) Run(ctx context.Context, inputPath string) (*document.Document, error) {
	res, err := c.Convert(ctx, inputPath)
	if err != nil {
		return nil, err
	}
	return res.Document, nil
}

// Convert reads, parses and renders inputPath, then runs the downstream
// extractor on the rendered PDF. Failures are returned as *StageError and
// never retried.
func (c *Converter) Convert(ctx context.Context, inputPath string) (*Result, error) {
	logger := log.With().Str("input", inputPath).Logger()
	base := ArtifactPath(inputPath, ArtifactExt)
	unlock := c.locks.lock(lockKey(base))
	defer unlock()

	stage := func(s Stage) { logger.Debug().Str("stage", string(s)).Msg("convert") }

	stage(StageReading)
	data, err := os.ReadFile(inputPath)
	if err != nil {
		return nil, &StageError{Stage: StageReading, Path: inputPath, Err: err}
	}

	stage(StageParsing)
	msg, err := email.Parse(data)
	if err != nil {
		return nil, &StageError{Stage: StageParsing, Path: inputPath, Err: err}
	}

	stage(StageComposing)
	markup := render.Compose(msg.Body, c.opts.Page)
	opts := c.RenderOptions()
	opts.Title = msg.Subject

	stage(StageRendering)
	artifact, err := resolve(base, c.opts.OnExists)
	if err != nil {
		return nil, &StageError{Stage: StageRendering, Path: base, Err: err}
	}
	digest, err := c.renderTo(ctx, markup, opts, artifact)
	if err != nil {
		logger.Error().Err(err).Str("artifact", artifact).Str("renderer", c.opts.Renderer.Name()).Msg("render failed")
		return nil, &StageError{Stage: StageRendering, Path: artifact, Err: err}
	}
	logger.Debug().Str("artifact", artifact).Str("size", opts.Size.String()).Msg("rendered")

	stage(StageDelegating)
	doc, err := c.opts.Downstream.Run(ctx, artifact)
	if err != nil {
		return nil, &StageError{Stage: StageDelegating, Path: artifact, Err: err}
	}
	if doc != nil {
		logger.Info().Str("artifact", artifact).Int("pages", len(doc.Pages)).Msg("converted")
	}
	return &Result{Document: doc, Email: msg, Artifact: artifact, ArtifactSHA256: digest, Render: opts}, nil
}

// renderTo renders into a temporary sibling of artifact and renames it into
// place once the output is synced, so artifact is never left half written.
// It returns the hex SHA-256 of the rendered bytes.
func (c *Converter) renderTo(ctx context.Context, markup string, opts render.Options, artifact string) (digest string, err error) {
	tmp, err := os.CreateTemp(filepath.Dir(artifact), "."+filepath.Base(artifact)+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	h := sha256.New()
	if err = c.opts.Renderer.Render(ctx, markup, opts, io.MultiWriter(tmp, h)); err != nil {
		return "", err
	}
	if err = tmp.Sync(); err != nil {
		return "", fmt.Errorf("sync: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return "", fmt.Errorf("close: %w", err)
	}
	if err = os.Chmod(tmp.Name(), 0o644); err != nil {
		return "", fmt.Errorf("chmod: %w", err)
	}
	if err = os.Rename(tmp.Name(), artifact); err != nil {
		return "", fmt.Errorf("rename: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func lockKey(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}
