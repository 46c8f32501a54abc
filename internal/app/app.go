package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"
	yaml "gopkg.in/yaml.v3"

	"github.com/hyperifyio/emlextract/internal/convert"
	"github.com/hyperifyio/emlextract/internal/document"
	"github.com/hyperifyio/emlextract/internal/extract"
	"github.com/hyperifyio/emlextract/internal/mbox"
	"github.com/hyperifyio/emlextract/internal/pdftext"
	"github.com/hyperifyio/emlextract/internal/render"
)

// ErrSomeFailed is returned by Run when at least one input could not be
// converted. Per the exit code policy the CLI exits non-zero.
var ErrSomeFailed = errors.New("some inputs failed")

// App converts batches of input files into documents. It owns the renderer,
// the email converter and the registry that routes each input by extension.
// An App holds no open resources.
type App struct {
	cfg       Config
	renderer  render.Renderer
	converter *convert.Converter
	registry  *extract.Registry

	stdout io.Writer
	stderr io.Writer
	outMu  sync.Mutex
	now    func() time.Time
}

// New wires the renderer, the PDF extractor, the email converter and the
// format registry from cfg.
func New(cfg Config) (*App, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	r, err := render.New(cfg.Renderer, cfg.ChromePath)
	if err != nil {
		return nil, err
	}
	return newApp(cfg, r, pdftext.Extractor{})
}

func newApp(cfg Config, r render.Renderer, pdf extract.Extractor) (*App, error) {
	policy, err := convert.ParsePolicy(cfg.OnExists)
	if err != nil {
		return nil, err
	}
	conv, err := convert.New(convert.Options{
		Renderer:   r,
		Downstream: pdf,
		Page:       cfg.Page(),
		Scale:      cfg.Scale,
		Margin:     cfg.Margin,
		OnExists:   policy,
	})
	if err != nil {
		return nil, err
	}

	reg := extract.NewRegistry()
	reg.Register(".eml", conv)
	reg.Register(pdftext.Format, pdf)
	reg.Register(extract.FormatHTML, extract.HTMLExtractor{})
	reg.Register(".htm", extract.HTMLExtractor{})

	if strings.TrimSpace(cfg.Format) == "" {
		cfg.Format = FormatJSON
	}
	cfg.Format = strings.ToLower(strings.TrimSpace(cfg.Format))
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &App{
		cfg:       cfg,
		renderer:  r,
		converter: conv,
		registry:  reg,
		stdout:    os.Stdout,
		stderr:    os.Stderr,
		now:       time.Now,
	}, nil
}

// Formats lists the accepted input extensions.
func (a *App) Formats() []string {
	out := append(a.registry.Formats(), mbox.Ext)
	slices.Sort(out)
	return out
}

// Run converts every input. Archives are split first. Inputs are processed
// with bounded concurrency; a failing input is logged and counted, and
// FailFast cancels whatever has not finished yet.
func (a *App) Run(ctx context.Context, inputs []string) error {
	if len(inputs) == 0 {
		return errors.New("no inputs")
	}

	var failed atomic.Int64
	items := make([]string, 0, len(inputs))
	for _, in := range inputs {
		if !strings.EqualFold(filepath.Ext(in), mbox.Ext) {
			items = append(items, in)
			continue
		}
		msgs, err := mbox.Split(ctx, in, splitDir(a.cfg.WorkDir, in))
		if err != nil {
			log.Error().Err(err).Str("input", in).Msg("mbox split failed")
			failed.Add(1)
			if a.cfg.FailFast {
				return fmt.Errorf("%w: %w", ErrSomeFailed, err)
			}
			continue
		}
		log.Info().Str("input", in).Int("messages", len(msgs)).Msg("mbox split")
		items = append(items, msgs...)
	}

	var outs []string
	if strings.TrimSpace(a.cfg.OutputDir) != "" {
		outs = outputPaths(a.cfg.OutputDir, items, a.cfg.Format)
		for i, item := range items {
			if want := deriveOutputPath(a.cfg.OutputDir, item, a.cfg.Format); outs[i] != want {
				log.Warn().Str("input", item).Str("out", outs[i]).Str("taken", want).Msg("output name already used by another input, suffixed")
			}
		}
	}

	bar := a.newProgress(len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.Concurrency)
	for i, item := range items {
		out := ""
		if outs != nil {
			out = outs[i]
		}
		g.Go(func() error {
			defer bar.Add(1)
			if err := gctx.Err(); err != nil {
				failed.Add(1)
				return err
			}
			if err := a.runOne(gctx, item, out); err != nil {
				log.Error().Err(err).Str("input", item).Msg("conversion failed")
				failed.Add(1)
				if a.cfg.FailFast {
					return err
				}
			}
			return nil
		})
	}
	werr := g.Wait()
	_ = bar.Finish()

	n := failed.Load()
	if n == 0 && werr == nil {
		log.Info().Int("inputs", len(items)).Msg("done")
		return nil
	}
	if werr != nil {
		return fmt.Errorf("%w: %d of %d: %w", ErrSomeFailed, n, len(items), werr)
	}
	return fmt.Errorf("%w: %d of %d", ErrSomeFailed, n, len(items))
}

// runOne extracts a single input and writes its outputs. out is the document
// path under OutputDir, empty for stdout.
func (a *App) runOne(ctx context.Context, input, out string) error {
	ex, err := a.registry.For(input)
	if err != nil {
		return err
	}

	var doc *document.Document
	if conv, ok := ex.(*convert.Converter); ok {
		res, err := conv.Convert(ctx, input)
		if err != nil {
			return err
		}
		doc = res.Document
		if a.cfg.Manifest {
			m, err := buildManifest(a.cfg, a.renderer.Name(), input, res, a.now())
			if err != nil {
				return err
			}
			path, err := writeManifest(m)
			if err != nil {
				return err
			}
			log.Debug().Str("manifest", path).Str("id", m.ID).Msg("wrote manifest")
		}
	} else {
		if doc, err = ex.Run(ctx, input); err != nil {
			return err
		}
	}
	if doc == nil {
		return fmt.Errorf("%s: extractor returned no document", input)
	}
	return a.writeDocument(input, out, doc)
}

// writeDocument encodes doc in the configured format, to out when set,
// otherwise to stdout.
func (a *App) writeDocument(input, out string, doc *document.Document) error {
	data, err := encodeDocument(doc, a.cfg.Format)
	if err != nil {
		return fmt.Errorf("encode %s: %w", input, err)
	}
	if out == "" {
		a.outMu.Lock()
		defer a.outMu.Unlock()
		if a.cfg.Format == FormatYAML {
			if _, err := io.WriteString(a.stdout, "---\n"); err != nil {
				return err
			}
		}
		_, err := a.stdout.Write(data)
		return err
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return fmt.Errorf("mkdir output: %w", err)
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	log.Info().Str("out", out).Msg("wrote output")
	return nil
}

func encodeDocument(doc *document.Document, format string) ([]byte, error) {
	switch format {
	case FormatYAML:
		return yaml.Marshal(doc)
	case FormatJSON, "":
		b, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(b, '\n'), nil
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}
}

// newProgress returns a progress bar on stderr for multi-input runs. Single
// inputs and quiet runs get a bar that renders nothing.
func (a *App) newProgress(total int) *progressbar.ProgressBar {
	w := a.stderr
	if a.cfg.Quiet || total < 2 {
		w = io.Discard
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("converting"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(30),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionThrottle(100*time.Millisecond),
	)
}
