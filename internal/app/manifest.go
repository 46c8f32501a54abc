package app

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/hyperifyio/emlextract/internal/convert"
)

// manifestGeometry is a width/height pair in millimetres.
type manifestGeometry struct {
	WidthMM  float64 `json:"width_mm"`
	HeightMM float64 `json:"height_mm"`
}

// manifest is the sidecar record written next to a rendered artifact. It
// captures enough to reproduce and audit one conversion.
type manifest struct {
	ID             string           `json:"id"`
	Input          string           `json:"input"`
	InputSHA256    string           `json:"input_sha256"`
	Artifact       string           `json:"artifact"`
	ArtifactSHA256 string           `json:"artifact_sha256"`
	Subject        string           `json:"subject,omitempty"`
	Page           manifestGeometry `json:"page"`
	Paper          manifestGeometry `json:"paper"`
	Render         manifestGeometry `json:"render"`
	Scale          float64          `json:"scale"`
	MarginMM       float64          `json:"margin_mm"`
	Renderer       string           `json:"renderer"`
	Pages          int              `json:"pages"`
	Version        string           `json:"version"`
	GeneratedAt    time.Time        `json:"generated_at"`
}

// fileSHA256Hex returns the lowercase hex SHA-256 of the file at path.
func fileSHA256Hex(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// buildManifest describes the conversion of input that produced res. The
// artifact digest is the one the converter recorded while it held the
// artifact path; the file on disk may already belong to a later conversion.
// The file is hashed only when res carries no digest.
func buildManifest(cfg Config, rendererName, input string, res *convert.Result, now time.Time) (manifest, error) {
	m := manifest{
		ID:          uuid.NewString(),
		Input:       input,
		Artifact:    res.Artifact,
		Page:        manifestGeometry{WidthMM: cfg.PageWidth, HeightMM: cfg.PageHeight},
		Paper:       manifestGeometry{WidthMM: res.Render.Paper().Width, HeightMM: res.Render.Paper().Height},
		Render:      manifestGeometry{WidthMM: res.Render.Size.Width, HeightMM: res.Render.Size.Height},
		Scale:       cfg.Scale,
		MarginMM:    res.Render.Margin,
		Renderer:    rendererName,
		Version:     BuildVersion,
		GeneratedAt: now.UTC(),
	}
	if res.Email != nil {
		m.Subject = res.Email.Subject
	}
	if res.Document != nil {
		m.Pages = len(res.Document.Pages)
	}
	var err error
	if m.InputSHA256, err = fileSHA256Hex(input); err != nil {
		return m, fmt.Errorf("hash input: %w", err)
	}
	if m.ArtifactSHA256 = res.ArtifactSHA256; m.ArtifactSHA256 == "" {
		if m.ArtifactSHA256, err = fileSHA256Hex(res.Artifact); err != nil {
			return m, fmt.Errorf("hash artifact: %w", err)
		}
	}
	return m, nil
}

// writeManifest encodes m to the sidecar path of its artifact.
func writeManifest(m manifest) (string, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", err
	}
	path := deriveManifestSidecarPath(m.Artifact)
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("write manifest: %w", err)
	}
	return path, nil
}
