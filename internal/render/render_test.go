package render

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
)

func TestRenderGeometry_IsPageTimesScale(t *testing.T) {
	pages := []Geometry{A4, {Width: 216, Height: 279}, {Width: 1, Height: 1}, {Width: 148.5, Height: 210}}
	for _, p := range pages {
		got := RenderGeometry(p, DefaultScale)
		if got.Width != p.Width*DefaultScale || got.Height != p.Height*DefaultScale {
			t.Fatalf("RenderGeometry(%v) = %v, want %v x %v", p, got, p.Width*DefaultScale, p.Height*DefaultScale)
		}
	}
	a4 := RenderGeometry(A4, DefaultScale)
	assert.InDelta(t, 285.6, a4.Width, 1e-9)
	assert.InDelta(t, 403.92, a4.Height, 1e-9)
}

func TestGeometry_CSS(t *testing.T) {
	assert.Equal(t, "210mm", A4.CSSWidth())
	assert.Equal(t, "297mm", A4.CSSHeight())
	assert.Equal(t, "210mmx297mm", A4.String())
	assert.False(t, Geometry{Width: 0, Height: 10}.Valid())
}

func TestCompose_AppendsPinnedStyles(t *testing.T) {
	out := Compose("<p>hello</p>", A4)
	require.True(t, strings.HasPrefix(out, "<p>hello</p>"))
	assert.Contains(t, out, "body, html {")
	assert.Contains(t, out, "height: 297mm !important;")
	assert.Contains(t, out, "width: 210mm !important;")
	assert.Contains(t, out, "table {\n  width: 100% !important;")
	assert.True(t, strings.HasSuffix(out, "</style>\n"))
}

func TestNew(t *testing.T) {
	r, err := New("", "")
	require.NoError(t, err)
	assert.Equal(t, NamePDF, r.Name())

	r, err = New("Chrome", "/usr/bin/chromium")
	require.NoError(t, err)
	assert.Equal(t, NameChrome, r.Name())
	assert.Equal(t, "/usr/bin/chromium", r.(*ChromeRenderer).ExecPath)

	_, err = New("phantom", "")
	assert.Error(t, err)
}

func TestPDFRenderer_WritesPDF(t *testing.T) {
	markup := Compose(`<h1>Report</h1><p>hello   world</p>
		<ul><li>one</li><li>two</li></ul>
		<ol start="3"><li>three</li></ol>
		<pre>a  b
c</pre><hr>
		<table><tr><th>Name</th><th>Value</th></tr><tr><td>alpha</td><td>caf&eacute; &#8364;5 &#x4e2d;</td></tr></table>
		<img src="`+pngDataURI(t)+`"><img src="https://example.com/x.png" alt="remote">`, A4)

	var buf bytes.Buffer
	r := &PDFRenderer{}
	err := r.Render(context.Background(), markup, Options{Size: RenderGeometry(A4, DefaultScale), Scale: DefaultScale, Margin: DefaultMargin, Title: "Report"}, &buf)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")), "missing PDF header")
	assert.Contains(t, buf.String(), "/MediaBox")
}

func TestPDFRenderer_RejectsBadGeometry(t *testing.T) {
	r := &PDFRenderer{}
	var buf bytes.Buffer
	err := r.Render(context.Background(), "<p>x</p>", Options{Size: Geometry{}, Margin: 2}, &buf)
	assert.Error(t, err)
	err = r.Render(context.Background(), "<p>x</p>", Options{Size: Geometry{Width: 3, Height: 3}, Margin: 2}, &buf)
	assert.Error(t, err)
	assert.Zero(t, buf.Len())
}

func TestPDFRenderer_HonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var buf bytes.Buffer
	err := (&PDFRenderer{}).Render(ctx, "<p>x</p>", Options{Size: A4, Margin: 2}, &buf)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPrintParams_ConvertsToInches(t *testing.T) {
	p := printParams(Options{Size: A4, Margin: 2})
	assert.InDelta(t, 210/25.4, p.PaperWidth, 1e-9)
	assert.InDelta(t, 297/25.4, p.PaperHeight, 1e-9)
	for _, m := range []float64{p.MarginTop, p.MarginBottom, p.MarginLeft, p.MarginRight} {
		assert.InDelta(t, 2/25.4, m, 1e-9)
	}
	assert.Equal(t, 1.0, p.Scale)
	assert.True(t, p.PrintBackground)
}

func TestPrintParams_ScaledLayoutPrintsOnPhysicalPaper(t *testing.T) {
	p := printParams(Options{Size: RenderGeometry(A4, DefaultScale), Scale: DefaultScale, Margin: DefaultMargin})
	assert.InDelta(t, 210/25.4, p.PaperWidth, 1e-9)
	assert.InDelta(t, 297/25.4, p.PaperHeight, 1e-9)
	assert.InDelta(t, 1/DefaultScale, p.Scale, 1e-12)
	assert.InDelta(t, DefaultMargin/25.4, p.MarginLeft, 1e-9)
}

func TestOptions_Paper(t *testing.T) {
	assert.Equal(t, A4, Options{Size: A4}.Paper())
	paper := Options{Size: RenderGeometry(A4, DefaultScale), Scale: DefaultScale}.Paper()
	assert.InDelta(t, 210, paper.Width, 1e-9)
	assert.InDelta(t, 297, paper.Height, 1e-9)
}

func TestValidate_MarginAgainstPaper(t *testing.T) {
	// 5mm fits a 12mm layout but not the 6mm sheet it is printed on.
	err := validate(Options{Size: Geometry{Width: 12, Height: 12}, Scale: 2, Margin: 5})
	assert.Error(t, err)
	assert.NoError(t, validate(Options{Size: Geometry{Width: 12, Height: 12}, Scale: 2, Margin: 2}))
	assert.Error(t, validate(Options{Size: A4, Scale: -1, Margin: 2}))
}

func TestChromeRenderer_RejectsUnprintableScale(t *testing.T) {
	r := &ChromeRenderer{ExecPath: "/nonexistent/chrome"}
	for _, scale := range []float64{0.25, 20} {
		var buf bytes.Buffer
		err := r.Render(context.Background(), "<p>x</p>", Options{Size: A4.Scale(scale), Scale: scale, Margin: 1}, &buf)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "print scale")
		assert.Zero(t, buf.Len())
	}
}

func TestDecodeDataImage(t *testing.T) {
	data, kind, ok := decodeDataImage(pngDataURI(t))
	require.True(t, ok)
	assert.Equal(t, "PNG", kind)
	assert.True(t, bytes.HasPrefix(data, []byte("\x89PNG")))

	for _, src := range []string{"", "cid:x", "data:text/plain;base64,aGk=", "data:image/png;base64", "data:image/png;base64,%%%"} {
		if _, _, ok := decodeDataImage(src); ok {
			t.Fatalf("decodeDataImage(%q) should fail", src)
		}
	}
}

func TestTableRows_CollectsHeadersAndCells(t *testing.T) {
	doc, err := html.Parse(strings.NewReader(`<table><thead><tr><th>A</th><th>B</th></tr></thead>
		<tbody><tr><td> x  y </td><td><table><tr><td>nested</td></tr></table></td><td>z</td></tr></tbody></table>`))
	require.NoError(t, err)
	rows := tableRows(findFirst(doc, "table"))
	require.Len(t, rows, 2)
	assert.Equal(t, []cell{{text: "A", header: true}, {text: "B", header: true}}, rows[0])
	require.Len(t, rows[1], 3)
	assert.Equal(t, "x y", rows[1][0].text)
	assert.Equal(t, "nested", rows[1][1].text)
}

func TestClampLines(t *testing.T) {
	lines := [][]byte{[]byte("a"), []byte("b"), []byte("c")}
	kept, dropped := clampLines(lines, 5)
	assert.Len(t, kept, 3)
	assert.Zero(t, dropped)

	kept, dropped = clampLines(lines, 2)
	assert.Equal(t, [][]byte{[]byte("a"), []byte("b")}, kept)
	assert.Equal(t, 1, dropped)

	kept, dropped = clampLines(lines, 0)
	assert.Len(t, kept, 1)
	assert.Equal(t, 2, dropped)
}

func TestPDFRenderer_LogsTruncatedTableCell(t *testing.T) {
	var logs bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&logs).Level(zerolog.DebugLevel)
	t.Cleanup(func() { log.Logger = prev })

	tall := strings.Repeat("word ", 600)
	markup := "<table><tr><td>short</td><td>" + tall + "</td></tr></table>"
	var buf bytes.Buffer
	err := (&PDFRenderer{}).Render(context.Background(), markup, Options{Size: Geometry{Width: 60, Height: 40}, Margin: 2}, &buf)
	require.NoError(t, err)
	assert.Contains(t, logs.String(), "table cell taller than a page, truncated")
	assert.Contains(t, logs.String(), `"column":1`)
}

func TestToWin1252(t *testing.T) {
	assert.Equal(t, "caf\xe9 \x80 ?\n", toWin1252("café € 中\n"))
}

func pngDataURI(t *testing.T) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 2))
	for x := 0; x < 4; x++ {
		img.Set(x, 0, color.RGBA{R: 255, A: 255})
		img.Set(x, 1, color.RGBA{B: 255, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}
