package render

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/html"
	"golang.org/x/text/encoding/charmap"
)

// PDFRenderer lays markup out with gofpdf. It understands the block structure
// of typical email HTML (headings, paragraphs, lists, tables, preformatted
// text, embedded images) and ignores CSS. Text uses the PDF core fonts.
//
// The page is Options.Paper. Font sizes, spacing and image sizes are given
// for the layout size and shrunk by 1/Options.Scale onto that page, so a
// scaled request prints the same content as Chrome would.
type PDFRenderer struct {
	FontFamily string
	FontSize   float64
}

// Name implements Renderer.
func (r *PDFRenderer) Name() string { return NamePDF }

// creationDate keeps output stable across runs.
var creationDate = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

// Render implements Renderer.
func (r *PDFRenderer) Render(ctx context.Context, markup string, opts Options, w io.Writer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validate(opts); err != nil {
		return err
	}
	root, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return fmt.Errorf("parse markup: %w", err)
	}

	family := r.FontFamily
	if family == "" {
		family = "Helvetica"
	}
	size := r.FontSize
	if size <= 0 {
		size = 11
	}
	unit := 1 / opts.scale()
	paper := opts.Paper()

	pdf := gofpdf.NewCustom(&gofpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "mm",
		Size:           gofpdf.SizeType{Wd: paper.Width, Ht: paper.Height},
	})
	pdf.SetCreationDate(creationDate)
	pdf.SetMargins(opts.Margin, opts.Margin, opts.Margin)
	pdf.SetAutoPageBreak(true, opts.Margin)
	if t := strings.TrimSpace(opts.Title); t != "" {
		pdf.SetTitle(t, true)
	}
	pdf.SetFont(family, "", size*unit)
	pdf.AddPage()

	l := &layout{
		pdf:    pdf,
		family: family,
		size:   size * unit,
		unit:   unit,
		margin: opts.Margin,
		page:   paper,
	}
	content := findFirst(root, "body")
	if content == nil {
		content = root
	}
	l.walk(content)
	l.flush()

	if err := pdf.Error(); err != nil {
		return fmt.Errorf("layout: %w", err)
	}
	return pdf.Output(w)
}

// layout carries the cursor state while walking the document. size is
// already in printed points; unit converts layout millimetres to printed ones.
type layout struct {
	pdf    *gofpdf.Fpdf
	family string
	size   float64
	unit   float64
	margin float64
	page   Geometry

	pending strings.Builder
	prefix  string
	images  int
}

func (l *layout) lineHeight() float64 { return l.size * 0.46 }

func (l *layout) contentWidth() float64 { return l.page.Width - 2*l.margin }

func (l *layout) text(s string) string { return toWin1252(s) }

func (l *layout) walk(n *html.Node) {
	switch n.Type {
	case html.TextNode:
		l.inline(n.Data)
		return
	case html.ElementNode:
	default:
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			l.walk(c)
		}
		return
	}

	switch strings.ToLower(n.Data) {
	case "head", "title", "style", "script", "noscript", "template", "meta", "link":
		return
	case "br":
		l.pending.WriteString("\n")
	case "hr":
		l.flush()
		y := l.pdf.GetY() + l.unit
		l.pdf.Line(l.margin, y, l.page.Width-l.margin, y)
		l.pdf.SetY(y + 2*l.unit)
	case "h1", "h2", "h3", "h4", "h5", "h6":
		l.flush()
		l.heading(n)
	case "pre":
		l.flush()
		l.preformatted(textContent(n))
	case "ul", "ol":
		l.flush()
		l.list(n)
	case "table":
		l.flush()
		l.table(n)
	case "img":
		l.image(n)
	case "p", "div", "section", "article", "header", "footer", "main", "blockquote", "center", "address", "dl", "dt", "dd", "form", "fieldset", "figure", "figcaption":
		l.flush()
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			l.walk(c)
		}
		l.flush()
		if strings.EqualFold(n.Data, "p") {
			l.pdf.Ln(l.lineHeight() / 2)
		}
	default:
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			l.walk(c)
		}
	}
}

// inline appends text with HTML whitespace collapsing.
func (l *layout) inline(data string) {
	s := collapseSpaces(data)
	if s == "" {
		return
	}
	cur := l.pending.String()
	if s == " " && (cur == "" || strings.HasSuffix(cur, " ") || strings.HasSuffix(cur, "\n")) {
		return
	}
	l.pending.WriteString(s)
}

// flush writes pending inline text as one paragraph.
func (l *layout) flush() {
	raw := l.pending.String()
	l.pending.Reset()
	lines := strings.Split(raw, "\n")
	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}
	text := strings.Trim(strings.Join(lines, "\n"), "\n")
	if text == "" {
		return
	}
	if l.prefix != "" {
		text = l.prefix + text
		l.prefix = ""
	}
	l.pdf.MultiCell(0, l.lineHeight(), l.text(text), "", "L", false)
}

func (l *layout) heading(n *html.Node) {
	sizes := map[string]float64{"h1": 7, "h2": 5, "h3": 3}
	bump, ok := sizes[strings.ToLower(n.Data)]
	if !ok {
		bump = 1
	}
	text := strings.TrimSpace(collapseSpaces(textContent(n)))
	if text == "" {
		return
	}
	hs := l.size + bump*l.unit
	l.pdf.SetFont(l.family, "B", hs)
	l.pdf.MultiCell(0, hs*0.46, l.text(text), "", "L", false)
	l.pdf.SetFont(l.family, "", l.size)
	l.pdf.Ln(l.unit)
}

func (l *layout) preformatted(text string) {
	text = strings.Trim(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	if text == "" {
		return
	}
	ps := l.size - l.unit
	l.pdf.SetFont("Courier", "", ps)
	l.pdf.MultiCell(0, ps*0.46, l.text(strings.ReplaceAll(text, "\t", "    ")), "", "L", false)
	l.pdf.SetFont(l.family, "", l.size)
	l.pdf.Ln(l.unit)
}

func (l *layout) list(n *html.Node) {
	ordered := strings.EqualFold(n.Data, "ol")
	index := 1
	if v, ok := attr(n, "start"); ok {
		if i, err := strconv.Atoi(v); err == nil {
			index = i
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode || !strings.EqualFold(c.Data, "li") {
			continue
		}
		l.flush()
		if ordered {
			l.prefix = strconv.Itoa(index) + ". "
			index++
		} else {
			l.prefix = "- "
		}
		for gc := c.FirstChild; gc != nil; gc = gc.NextSibling {
			l.walk(gc)
		}
		l.flush()
		l.prefix = ""
	}
	l.pdf.Ln(l.lineHeight() / 2)
}

type cell struct {
	text   string
	header bool
}

// table draws rows with equal column widths spanning the full content width.
func (l *layout) table(n *html.Node) {
	rows := tableRows(n)
	cols := 0
	for _, r := range rows {
		if len(r) > cols {
			cols = len(r)
		}
	}
	if cols == 0 {
		return
	}

	pad := l.unit
	lineH := l.lineHeight()
	colW := l.contentWidth() / float64(cols)
	maxLines := int((l.page.Height - 2*l.margin - 2*pad) / lineH)

	l.pdf.SetAutoPageBreak(false, 0)
	defer l.pdf.SetAutoPageBreak(true, l.margin)

	for r, row := range rows {
		split := make([][][]byte, cols)
		height := 1
		for i := 0; i < cols; i++ {
			if i >= len(row) {
				continue
			}
			l.setCellFont(row[i].header)
			lines, dropped := clampLines(l.pdf.SplitLines([]byte(l.text(row[i].text)), colW-2*pad), maxLines)
			if dropped > 0 {
				log.Debug().Int("row", r).Int("column", i).Int("kept", len(lines)).Int("dropped", dropped).Msg("table cell taller than a page, truncated")
			}
			split[i] = lines
			if len(lines) > height {
				height = len(lines)
			}
		}
		rowH := float64(height)*lineH + 2*pad
		if l.pdf.GetY()+rowH > l.page.Height-l.margin {
			l.pdf.AddPage()
		}
		y := l.pdf.GetY()
		for i := 0; i < cols; i++ {
			x := l.margin + float64(i)*colW
			l.pdf.Rect(x, y, colW, rowH, "D")
			if i < len(row) {
				l.setCellFont(row[i].header)
			}
			for j, line := range split[i] {
				l.pdf.SetXY(x+pad, y+pad+float64(j)*lineH)
				l.pdf.CellFormat(colW-2*pad, lineH, string(line), "", 0, "L", false, 0, "")
			}
		}
		l.pdf.SetXY(l.margin, y+rowH)
	}
	l.pdf.SetFont(l.family, "", l.size)
	l.pdf.Ln(lineH / 2)
}

// clampLines keeps at most limit lines, and at least one. It reports how
// many were dropped.
func clampLines(lines [][]byte, limit int) ([][]byte, int) {
	if limit < 1 {
		limit = 1
	}
	if len(lines) <= limit {
		return lines, 0
	}
	return lines[:limit], len(lines) - limit
}

func (l *layout) setCellFont(header bool) {
	if header {
		l.pdf.SetFont(l.family, "B", l.size)
		return
	}
	l.pdf.SetFont(l.family, "", l.size)
}

// image places an embedded data: image scaled to the content width, or falls
// back to its alt text.
func (l *layout) image(n *html.Node) {
	src, _ := attr(n, "src")
	data, kind, ok := decodeDataImage(src)
	if !ok {
		if alt, ok := attr(n, "alt"); ok && strings.TrimSpace(alt) != "" {
			l.inline("[" + strings.TrimSpace(alt) + "]")
		}
		return
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil || cfg.Width == 0 || cfg.Height == 0 {
		return
	}
	l.flush()

	w := float64(cfg.Width) * 25.4 / 96 * l.unit
	h := float64(cfg.Height) * 25.4 / 96 * l.unit
	if maxW := l.contentWidth(); w > maxW {
		h = h * maxW / w
		w = maxW
	}
	if maxH := l.page.Height - 2*l.margin; h > maxH {
		w = w * maxH / h
		h = maxH
	}

	l.images++
	name := "img" + strconv.Itoa(l.images)
	opts := gofpdf.ImageOptions{ImageType: kind, ReadDpi: false}
	l.pdf.RegisterImageOptionsReader(name, opts, bytes.NewReader(data))
	l.pdf.ImageOptions(name, l.margin, -1, w, h, true, opts, 0, "")
}

// decodeDataImage extracts the payload of a base64 data: URI naming a
// PNG, JPEG or GIF image.
func decodeDataImage(src string) ([]byte, string, bool) {
	src = strings.TrimSpace(src)
	if !strings.HasPrefix(strings.ToLower(src), "data:") {
		return nil, "", false
	}
	comma := strings.IndexByte(src, ',')
	if comma < 0 {
		return nil, "", false
	}
	meta := strings.ToLower(src[len("data:"):comma])
	payload := src[comma+1:]
	var kind string
	switch {
	case strings.HasPrefix(meta, "image/png"):
		kind = "PNG"
	case strings.HasPrefix(meta, "image/jpeg"), strings.HasPrefix(meta, "image/jpg"):
		kind = "JPG"
	case strings.HasPrefix(meta, "image/gif"):
		kind = "GIF"
	default:
		return nil, "", false
	}
	if !strings.HasSuffix(meta, ";base64") {
		s, err := url.PathUnescape(payload)
		if err != nil {
			return nil, "", false
		}
		return []byte(s), kind, true
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", false
	}
	return data, kind, true
}

func tableRows(t *html.Node) [][]cell {
	var rows [][]cell
	var visit func(*html.Node)
	visit = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			switch strings.ToLower(c.Data) {
			case "tr":
				var row []cell
				for td := c.FirstChild; td != nil; td = td.NextSibling {
					if td.Type != html.ElementNode {
						continue
					}
					name := strings.ToLower(td.Data)
					if name != "td" && name != "th" {
						continue
					}
					row = append(row, cell{
						text:   strings.TrimSpace(collapseSpaces(textContent(td))),
						header: name == "th",
					})
				}
				rows = append(rows, row)
			case "thead", "tbody", "tfoot":
				visit(c)
			}
		}
	}
	visit(t)
	return rows
}

func findFirst(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && strings.EqualFold(n.Data, tag) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if res := findFirst(c, tag); res != nil {
			return res
		}
	}
	return nil
}

// textContent returns the raw text below n, turning <br> into newlines and
// skipping script and style.
func textContent(n *html.Node) string {
	var b strings.Builder
	var visit func(*html.Node)
	visit = func(cur *html.Node) {
		switch cur.Type {
		case html.TextNode:
			b.WriteString(cur.Data)
			return
		case html.ElementNode:
			switch strings.ToLower(cur.Data) {
			case "script", "style":
				return
			case "br":
				b.WriteString("\n")
				return
			}
		}
		for c := cur.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	visit(n)
	return b.String()
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val, true
		}
	}
	return "", false
}

// collapseSpaces folds runs of HTML whitespace into one space. Newlines
// produced by <br> are added separately and never come through here.
func collapseSpaces(s string) string {
	var b strings.Builder
	lastSpace := false
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\f' {
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
			continue
		}
		b.WriteRune(r)
		lastSpace = false
	}
	return b.String()
}

// toWin1252 maps UTF-8 text onto the code page used by the PDF core fonts.
// Runes outside it become '?'.
func toWin1252(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '\n', '\t':
			b.WriteRune(r)
			continue
		case ' ':
			b.WriteByte(' ')
			continue
		}
		c, ok := charmap.Windows1252.EncodeRune(r)
		if !ok {
			b.WriteByte('?')
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}
