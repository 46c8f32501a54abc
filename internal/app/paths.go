package app

import (
	"path/filepath"
	"strconv"
	"strings"
)

// deriveOutputPath returns where the document extracted from input is
// written: "<dir>/<input base without extension>.<format>".
func deriveOutputPath(dir, input, format string) string {
	base := filepath.Base(input)
	if stem := strings.TrimSuffix(base, filepath.Ext(base)); stem != "" {
		base = stem
	}
	return filepath.Join(dir, base+"."+format)
}

// outputPaths assigns each item its document path under dir. Items whose
// derived paths coincide keep the first one in input order; later ones get
// "-2", "-3", ... before the extension, skipping names another item derives
// on its own.
func outputPaths(dir string, items []string, format string) []string {
	derived := make([]string, len(items))
	claimed := make(map[string]bool, len(items))
	for i, in := range items {
		derived[i] = deriveOutputPath(dir, in, format)
		claimed[pathKey(derived[i])] = true
	}
	used := make(map[string]bool, len(items))
	out := make([]string, len(items))
	for i, p := range derived {
		if used[pathKey(p)] {
			ext := filepath.Ext(p)
			stem := strings.TrimSuffix(p, ext)
			for n := 2; ; n++ {
				c := stem + "-" + strconv.Itoa(n) + ext
				if !claimed[pathKey(c)] && !used[pathKey(c)] {
					p = c
					break
				}
			}
		}
		used[pathKey(p)] = true
		out[i] = p
	}
	return out
}

// pathKey folds case so names differing only in case count as the same file
// on case-insensitive filesystems.
func pathKey(p string) string {
	return strings.ToLower(filepath.Clean(p))
}

// deriveManifestSidecarPath returns a sidecar JSON path next to the artifact.
func deriveManifestSidecarPath(artifact string) string {
	return artifact + ".manifest.json"
}

// splitDir is where the messages of an mbox archive are written when no work
// directory is configured: a directory named after the archive, beside it.
func splitDir(workDir, mboxPath string) string {
	stem := strings.TrimSuffix(filepath.Base(mboxPath), filepath.Ext(mboxPath))
	if strings.TrimSpace(workDir) != "" {
		return filepath.Join(workDir, stem)
	}
	return filepath.Join(filepath.Dir(mboxPath), stem)
}
