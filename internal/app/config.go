package app

import (
	"github.com/hyperifyio/emlextract/internal/convert"
	"github.com/hyperifyio/emlextract/internal/render"
)

// Output encodings for extracted documents.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

const defaultConcurrency = 4

// Config holds runtime configuration for the application.
type Config struct {
	// Output
	OutputDir string
	Format    string
	Manifest  bool

	// Rendering
	Renderer   string
	ChromePath string
	PageWidth  float64
	PageHeight float64
	Scale      float64
	Margin     float64
	OnExists   string

	// Batch
	Concurrency int
	FailFast    bool
	WorkDir     string

	// Behavior
	Quiet   bool
	Verbose bool
}

// DefaultConfig returns the configuration used when neither flags, env nor a
// config file say otherwise.
func DefaultConfig() Config {
	return Config{
		Format:      FormatJSON,
		Renderer:    render.NamePDF,
		PageWidth:   render.A4.Width,
		PageHeight:  render.A4.Height,
		Scale:       render.DefaultScale,
		Margin:      render.DefaultMargin,
		OnExists:    string(convert.Overwrite),
		Concurrency: defaultConcurrency,
	}
}

// Page returns the configured logical page.
func (c Config) Page() render.Geometry {
	return render.Geometry{Width: c.PageWidth, Height: c.PageHeight}
}
