package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	mboxlib "github.com/emersion/go-mbox"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	yaml "gopkg.in/yaml.v3"

	"github.com/hyperifyio/emlextract/internal/document"
	"github.com/hyperifyio/emlextract/internal/extract"
	"github.com/hyperifyio/emlextract/internal/render"
)

const helloEML = "From: a@example.com\r\n" +
	"Subject: Greeting\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<p>hello</p>\r\n"

type stubRenderer struct{}

func (stubRenderer) Name() string { return "stub" }

func (stubRenderer) Render(_ context.Context, markup string, opts render.Options, w io.Writer) error {
	_, err := fmt.Fprintf(w, "%%PDF-stub %s %d", opts.Size, len(markup))
	return err
}

// stubPDF stands in for the PDF text extractor.
type stubPDF struct {
	mu    sync.Mutex
	calls []string
}

func (s *stubPDF) Run(_ context.Context, path string) (*document.Document, error) {
	s.mu.Lock()
	s.calls = append(s.calls, path)
	s.mu.Unlock()
	return &document.Document{
		Source: path,
		Format: "pdf",
		Pages:  []document.Page{{Number: 1, WidthMM: 210, HeightMM: 297, Text: "hello"}},
	}, nil
}

func newTestApp(t *testing.T, cfg Config) (*App, *stubPDF, *bytes.Buffer) {
	t.Helper()
	pdf := &stubPDF{}
	a, err := newApp(cfg, stubRenderer{}, pdf)
	require.NoError(t, err)
	var out bytes.Buffer
	a.stdout = &out
	a.stderr = io.Discard
	a.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return a, pdf, &out
}

func write(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestRun_WritesDocumentToOutputDir(t *testing.T) {
	dir := t.TempDir()
	in := write(t, dir, "sample.eml", helloEML)
	cfg := DefaultConfig()
	cfg.OutputDir = filepath.Join(dir, "out")
	a, pdf, _ := newTestApp(t, cfg)

	require.NoError(t, a.Run(context.Background(), []string{in}))

	artifact := filepath.Join(dir, "sample.pdf")
	assert.FileExists(t, artifact)
	assert.Equal(t, []string{artifact}, pdf.calls)

	b, err := os.ReadFile(filepath.Join(dir, "out", "sample.json"))
	require.NoError(t, err)
	var doc document.Document
	require.NoError(t, json.Unmarshal(b, &doc))
	assert.Equal(t, artifact, doc.Source)
	assert.Equal(t, "hello", doc.Text())
	assert.NoFileExists(t, artifact+".manifest.json")
}

func TestRun_WritesManifest(t *testing.T) {
	dir := t.TempDir()
	in := write(t, dir, "sample.eml", helloEML)
	cfg := DefaultConfig()
	cfg.OutputDir = filepath.Join(dir, "out")
	cfg.Manifest = true
	a, _, _ := newTestApp(t, cfg)

	require.NoError(t, a.Run(context.Background(), []string{in}))

	artifact := filepath.Join(dir, "sample.pdf")
	b, err := os.ReadFile(artifact + ".manifest.json")
	require.NoError(t, err)
	var m manifest
	require.NoError(t, json.Unmarshal(b, &m))

	_, err = uuid.Parse(m.ID)
	assert.NoError(t, err)
	wantIn, err := fileSHA256Hex(in)
	require.NoError(t, err)
	wantArt, err := fileSHA256Hex(artifact)
	require.NoError(t, err)
	assert.Equal(t, wantIn, m.InputSHA256)
	assert.Equal(t, wantArt, m.ArtifactSHA256)
	assert.Equal(t, in, m.Input)
	assert.Equal(t, artifact, m.Artifact)
	assert.Equal(t, "Greeting", m.Subject)
	assert.Equal(t, manifestGeometry{WidthMM: 210, HeightMM: 297}, m.Page)
	assert.InDelta(t, 210, m.Paper.WidthMM, 1e-9)
	assert.InDelta(t, 297, m.Paper.HeightMM, 1e-9)
	assert.Equal(t, render.A4.Width*render.DefaultScale, m.Render.WidthMM)
	assert.Equal(t, render.A4.Height*render.DefaultScale, m.Render.HeightMM)
	assert.Equal(t, render.DefaultMargin, m.MarginMM)
	assert.Equal(t, "stub", m.Renderer)
	assert.Equal(t, 1, m.Pages)
	assert.Equal(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), m.GeneratedAt)
}

func TestRun_YAMLToStdout(t *testing.T) {
	dir := t.TempDir()
	in := write(t, dir, "sample.eml", helloEML)
	cfg := DefaultConfig()
	cfg.Format = FormatYAML
	a, _, out := newTestApp(t, cfg)

	require.NoError(t, a.Run(context.Background(), []string{in}))

	s := out.String()
	require.True(t, len(s) > 4 && s[:4] == "---\n", "stdout: %q", s)
	var doc document.Document
	require.NoError(t, yaml.Unmarshal([]byte(s[4:]), &doc))
	assert.Equal(t, "pdf", doc.Format)
	assert.Equal(t, "hello", doc.Pages[0].Text)
}

func TestRun_HTMLInputSkipsConverter(t *testing.T) {
	dir := t.TempDir()
	in := write(t, dir, "page.html", "<html><head><title>T</title></head><body><main><p>Body text</p></main></body></html>")
	cfg := DefaultConfig()
	cfg.OutputDir = dir
	a, pdf, _ := newTestApp(t, cfg)

	require.NoError(t, a.Run(context.Background(), []string{in}))
	assert.Empty(t, pdf.calls)

	b, err := os.ReadFile(filepath.Join(dir, "page.json"))
	require.NoError(t, err)
	var doc document.Document
	require.NoError(t, json.Unmarshal(b, &doc))
	assert.Equal(t, extract.FormatHTML, doc.Format)
	assert.Equal(t, "T", doc.Title)
	assert.Equal(t, "Body text", doc.Text())
}

func TestRun_SameBaseNamesGetDistinctOutputs(t *testing.T) {
	dir := t.TempDir()
	for _, sub := range []string{"a", "b"} {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, sub), 0o755))
	}
	first := write(t, filepath.Join(dir, "a"), "msg.html", "<html><head><title>A</title></head><body><p>from a</p></body></html>")
	second := write(t, filepath.Join(dir, "b"), "msg.html", "<html><head><title>B</title></head><body><p>from b</p></body></html>")
	cfg := DefaultConfig()
	cfg.OutputDir = filepath.Join(dir, "out")
	a, _, _ := newTestApp(t, cfg)

	require.NoError(t, a.Run(context.Background(), []string{first, second}))

	titles := map[string]string{}
	for _, name := range []string{"msg.json", "msg-2.json"} {
		b, err := os.ReadFile(filepath.Join(dir, "out", name))
		require.NoError(t, err)
		var doc document.Document
		require.NoError(t, json.Unmarshal(b, &doc))
		titles[name] = doc.Title
	}
	assert.Equal(t, map[string]string{"msg.json": "A", "msg-2.json": "B"}, titles)
}

func TestOutputPaths(t *testing.T) {
	out := filepath.Join("x", "out")
	got := outputPaths(out, []string{
		filepath.Join("a", "msg.eml"),
		filepath.Join("b", "msg.eml"),
		filepath.Join("c", "msg-2.eml"),
		filepath.Join("d", "MSG.html"),
		filepath.Join("e", "other.pdf"),
	}, "json")
	assert.Equal(t, []string{
		filepath.Join(out, "msg.json"),
		filepath.Join(out, "msg-3.json"),
		filepath.Join(out, "msg-2.json"),
		filepath.Join(out, "MSG-4.json"),
		filepath.Join(out, "other.json"),
	}, got)
}

func TestRun_SplitsMbox(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	w := mboxlib.NewWriter(&buf)
	for _, body := range []string{"first", "second"} {
		mw, err := w.CreateMessage("a@example.com", time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
		require.NoError(t, err)
		_, err = io.WriteString(mw, "From: a@example.com\r\nSubject: "+body+"\r\nContent-Type: text/plain\r\n\r\n"+body+"\r\n")
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	archive := write(t, dir, "inbox.mbox", buf.String())

	cfg := DefaultConfig()
	cfg.OutputDir = filepath.Join(dir, "out")
	cfg.WorkDir = filepath.Join(dir, "work")
	a, pdf, _ := newTestApp(t, cfg)

	require.NoError(t, a.Run(context.Background(), []string{archive}))

	assert.Len(t, pdf.calls, 2)
	assert.FileExists(t, filepath.Join(dir, "work", "inbox", "inbox-0001.pdf"))
	assert.FileExists(t, filepath.Join(dir, "work", "inbox", "inbox-0002.pdf"))
	assert.FileExists(t, filepath.Join(dir, "out", "inbox-0001.json"))
	assert.FileExists(t, filepath.Join(dir, "out", "inbox-0002.json"))
}

func TestRun_CountsFailuresAndContinues(t *testing.T) {
	dir := t.TempDir()
	bad := write(t, dir, "bad.eml", "")
	good := write(t, dir, "good.eml", helloEML)
	cfg := DefaultConfig()
	cfg.OutputDir = filepath.Join(dir, "out")
	a, _, _ := newTestApp(t, cfg)

	err := a.Run(context.Background(), []string{bad, good})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSomeFailed)
	assert.Contains(t, err.Error(), "1 of 2")
	assert.FileExists(t, filepath.Join(dir, "out", "good.json"))
	assert.NoFileExists(t, filepath.Join(dir, "out", "bad.json"))
	assert.NoFileExists(t, filepath.Join(dir, "bad.pdf"))
}

func TestRun_FailFastStopsRemainingInputs(t *testing.T) {
	dir := t.TempDir()
	bad := write(t, dir, "notes.txt", "plain")
	good := write(t, dir, "good.eml", helloEML)
	cfg := DefaultConfig()
	cfg.OutputDir = filepath.Join(dir, "out")
	cfg.FailFast = true
	cfg.Concurrency = 1
	a, pdf, _ := newTestApp(t, cfg)

	err := a.Run(context.Background(), []string{bad, good})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSomeFailed)
	assert.ErrorIs(t, err, extract.ErrUnsupportedFormat)
	assert.Empty(t, pdf.calls)
	assert.NoFileExists(t, filepath.Join(dir, "out", "good.json"))
}

func TestRun_NoInputs(t *testing.T) {
	a, _, _ := newTestApp(t, DefaultConfig())
	assert.Error(t, a.Run(context.Background(), nil))
}

func TestFormats(t *testing.T) {
	a, _, _ := newTestApp(t, DefaultConfig())
	assert.Equal(t, []string{".eml", ".htm", ".html", ".mbox", ".pdf"}, a.Formats())
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Renderer = "wkhtmltopdf"
	_, err := New(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config:")

	cfg = DefaultConfig()
	a, err := New(cfg)
	require.NoError(t, err)
	assert.Equal(t, render.NamePDF, a.renderer.Name())
}

func TestEncodeDocument_UnknownFormat(t *testing.T) {
	_, err := encodeDocument(&document.Document{}, "toml")
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrSomeFailed))
}
