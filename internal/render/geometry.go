package render

import (
	"fmt"
	"strconv"
)

// Geometry is a page size in millimetres.
type Geometry struct {
	Width  float64 `json:"width_mm" yaml:"width_mm"`
	Height float64 `json:"height_mm" yaml:"height_mm"`
}

// A4 is the ISO 216 A4 portrait sheet.
var A4 = Geometry{Width: 210, Height: 297}

const (
	// DefaultScale is the factor between the layout geometry handed to a
	// renderer and the printed page. Content is laid out on a page this much
	// larger and shrunk back onto the physical sheet, which makes typical
	// email HTML fit the width.
	DefaultScale = 1.36
	// DefaultMargin is applied on every side, in millimetres.
	DefaultMargin = 2.0
)

// Scale multiplies both dimensions by f.
func (g Geometry) Scale(f float64) Geometry {
	return Geometry{Width: g.Width * f, Height: g.Height * f}
}

// Valid reports whether both dimensions are positive.
func (g Geometry) Valid() bool {
	return g.Width > 0 && g.Height > 0
}

// CSSWidth formats the width as a CSS length, e.g. "210mm".
func (g Geometry) CSSWidth() string { return mm(g.Width) }

// CSSHeight formats the height as a CSS length, e.g. "297mm".
func (g Geometry) CSSHeight() string { return mm(g.Height) }

func (g Geometry) String() string {
	return fmt.Sprintf("%sx%s", mm(g.Width), mm(g.Height))
}

// RenderGeometry is the layout size requested from a renderer for page. It is
// always page scaled by scale, nothing else; the renderer prints the result
// back onto page (see Options.Paper).
func RenderGeometry(page Geometry, scale float64) Geometry {
	return page.Scale(scale)
}

func mm(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64) + "mm"
}

func mmToInch(v float64) float64 { return v / 25.4 }
