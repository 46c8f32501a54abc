package convert

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// Policy decides what happens when the artifact path is already taken.
type Policy string

const (
	// Overwrite replaces the existing file; the last call wins.
	Overwrite Policy = "overwrite"
	// Fail refuses to render.
	Fail Policy = "fail"
	// Unique renders to the first free "<base>-N<ext>" sibling.
	Unique Policy = "unique"
)

// ParsePolicy accepts a policy name; empty means Overwrite.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return Overwrite, nil
	case Overwrite, Fail, Unique:
		return p, nil
	default:
		return "", fmt.Errorf("unknown artifact policy %q", s)
	}
}

// ArtifactPath swaps the extension of input for ext ("sample.eml" becomes
// "sample.pdf"). When that would name the input itself, ext is appended
// instead.
func ArtifactPath(input, ext string) string {
	out := strings.TrimSuffix(input, filepath.Ext(input)) + ext
	if strings.EqualFold(out, input) {
		out = input + ext
	}
	return out
}

// resolve applies policy to the derived artifact path.
func resolve(base string, policy Policy) (string, error) {
	if policy == Overwrite {
		return base, nil
	}
	taken, err := exists(base)
	if err != nil || !taken {
		return base, err
	}
	if policy == Fail {
		return "", fmt.Errorf("%w: %s", ErrArtifactExists, base)
	}
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	for i := 1; ; i++ {
		cand := stem + "-" + strconv.Itoa(i) + ext
		taken, err := exists(cand)
		if err != nil {
			return "", err
		}
		if !taken {
			return cand, nil
		}
	}
}

func exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// pathLocks serializes calls that target the same artifact path.
type pathLocks struct {
	mu sync.Mutex
	m  map[string]*pathLock
}

type pathLock struct {
	mu   sync.Mutex
	refs int
}

func (p *pathLocks) lock(key string) (unlock func()) {
	p.mu.Lock()
	if p.m == nil {
		p.m = make(map[string]*pathLock)
	}
	l, ok := p.m[key]
	if !ok {
		l = &pathLock{}
		p.m[key] = l
	}
	l.refs++
	p.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		p.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(p.m, key)
		}
		p.mu.Unlock()
	}
}
