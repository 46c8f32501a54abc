// Package document holds the structured representation every extractor
// produces, whatever the input format.
package document

import "strings"

// Document is the normalized output of an extraction run.
type Document struct {
	Source   string            `json:"source" yaml:"source"`
	Format   string            `json:"format" yaml:"format"`
	Title    string            `json:"title,omitempty" yaml:"title,omitempty"`
	Pages    []Page            `json:"pages" yaml:"pages"`
	Metadata map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Page is one physical page. Sizes are in millimetres; zero means unknown
// (formats without pagination).
type Page struct {
	Number   int     `json:"number" yaml:"number"`
	WidthMM  float64 `json:"width_mm,omitempty" yaml:"width_mm,omitempty"`
	HeightMM float64 `json:"height_mm,omitempty" yaml:"height_mm,omitempty"`
	Text     string  `json:"text" yaml:"text"`
}

// Text joins the text of all pages separated by blank lines.
func (d *Document) Text() string {
	if d == nil {
		return ""
	}
	parts := make([]string, 0, len(d.Pages))
	for _, p := range d.Pages {
		if s := strings.TrimSpace(p.Text); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n\n")
}

// SetMeta records a metadata value, skipping empty ones.
func (d *Document) SetMeta(key, value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	if d.Metadata == nil {
		d.Metadata = make(map[string]string)
	}
	d.Metadata[key] = value
}
