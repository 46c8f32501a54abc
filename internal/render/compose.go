package render

import "strings"

// Compose appends the presentation style block to body. The block pins the
// document to the logical page so an HTML engine cannot grow the page to fit
// wide content, and stretches tables to the full content width.
func Compose(body string, page Geometry) string {
	var b strings.Builder
	b.Grow(len(body) + 160)
	b.WriteString(body)
	b.WriteString("\n<style>\nbody, html {\n  height: ")
	b.WriteString(page.CSSHeight())
	b.WriteString(" !important;\n  width: ")
	b.WriteString(page.CSSWidth())
	b.WriteString(" !important;\n}\ntable {\n  width: 100% !important;\n}\n</style>\n")
	return b.String()
}
