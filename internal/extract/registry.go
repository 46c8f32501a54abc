package extract

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/hyperifyio/emlextract/internal/document"
)

// ErrUnsupportedFormat is returned when no extractor is registered for a
// file's extension.
var ErrUnsupportedFormat = errors.New("unsupported format")

// Registry maps file extensions to extractors. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	byExt map[string]Extractor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byExt: make(map[string]Extractor)}
}

// Register binds ext (with or without the leading dot, any case) to e,
// replacing a previous binding.
func (r *Registry) Register(ext string, e Extractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byExt[normalizeExt(ext)] = e
}

// For returns the extractor for path's extension.
func (r *Registry) For(path string) (Extractor, error) {
	ext := normalizeExt(filepath.Ext(path))
	r.mu.RLock()
	e, ok := r.byExt[ext]
	r.mu.RUnlock()
	if !ok || ext == "" {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, path)
	}
	return e, nil
}

// Run dispatches path to its extractor.
func (r *Registry) Run(ctx context.Context, path string) (*document.Document, error) {
	e, err := r.For(path)
	if err != nil {
		return nil, err
	}
	return e.Run(ctx, path)
}

// Formats lists the registered extensions in sorted order.
func (r *Registry) Formats() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byExt))
	for ext := range r.byExt {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
