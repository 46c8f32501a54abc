package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	yaml "gopkg.in/yaml.v3"

	"github.com/hyperifyio/emlextract/internal/convert"
	"github.com/hyperifyio/emlextract/internal/render"
)

// FileConfig represents the single-file configuration schema.
type FileConfig struct {
	Output struct {
		Dir      string `yaml:"dir" json:"dir"`
		Format   string `yaml:"format" json:"format"`
		Manifest *bool  `yaml:"manifest" json:"manifest"`
	} `yaml:"output" json:"output"`

	Render struct {
		Engine     string   `yaml:"engine" json:"engine"`
		ChromePath string   `yaml:"chromePath" json:"chromePath"`
		Scale      float64  `yaml:"scale" json:"scale"`
		Margin     *float64 `yaml:"margin" json:"margin"`
		OnExists   string   `yaml:"onExists" json:"onExists"`
		Page       struct {
			Width  float64 `yaml:"width" json:"width"`
			Height float64 `yaml:"height" json:"height"`
		} `yaml:"page" json:"page"`
	} `yaml:"render" json:"render"`

	Concurrency int    `yaml:"concurrency" json:"concurrency"`
	FailFast    *bool  `yaml:"failFast" json:"failFast"`
	WorkDir     string `yaml:"workDir" json:"workDir"`
	Quiet       bool   `yaml:"quiet" json:"quiet"`
	Verbose     bool   `yaml:"verbose" json:"verbose"`
}

// LoadConfigFile reads YAML or JSON into FileConfig.
func LoadConfigFile(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &fc); err != nil {
			return fc, fmt.Errorf("parse yaml: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(b, &fc); err != nil {
			return fc, fmt.Errorf("parse json: %w", err)
		}
	default:
		// Try YAML then JSON
		if err := yaml.Unmarshal(b, &fc); err != nil {
			if jerr := json.Unmarshal(b, &fc); jerr != nil {
				return fc, fmt.Errorf("parse config: %v (yaml) / %v (json)", err, jerr)
			}
		}
	}
	return fc, nil
}

// ApplyFileConfig overlays every value the file sets onto cfg. It runs before
// env and flags, so both of those still win.
func ApplyFileConfig(cfg *Config, fc FileConfig) {
	if cfg == nil {
		return
	}
	if fc.Output.Dir != "" {
		cfg.OutputDir = fc.Output.Dir
	}
	if fc.Output.Format != "" {
		cfg.Format = fc.Output.Format
	}
	if fc.Output.Manifest != nil {
		cfg.Manifest = *fc.Output.Manifest
	}

	if fc.Render.Engine != "" {
		cfg.Renderer = fc.Render.Engine
	}
	if fc.Render.ChromePath != "" {
		cfg.ChromePath = fc.Render.ChromePath
	}
	if fc.Render.Scale != 0 {
		cfg.Scale = fc.Render.Scale
	}
	if fc.Render.Margin != nil {
		cfg.Margin = *fc.Render.Margin
	}
	if fc.Render.OnExists != "" {
		cfg.OnExists = fc.Render.OnExists
	}
	if fc.Render.Page.Width != 0 {
		cfg.PageWidth = fc.Render.Page.Width
	}
	if fc.Render.Page.Height != 0 {
		cfg.PageHeight = fc.Render.Page.Height
	}

	if fc.Concurrency != 0 {
		cfg.Concurrency = fc.Concurrency
	}
	if fc.FailFast != nil {
		cfg.FailFast = *fc.FailFast
	}
	if fc.WorkDir != "" {
		cfg.WorkDir = fc.WorkDir
	}
	if fc.Quiet {
		cfg.Quiet = true
	}
	if fc.Verbose {
		cfg.Verbose = true
	}
}

// ValidateConfig checks ranges and enumerations after all layers have been
// applied. A zero margin is rejected rather than passed on, because the
// converter reads zero as the 2mm default.
func ValidateConfig(cfg Config) error {
	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case FormatJSON, FormatYAML:
	default:
		return fmt.Errorf("config: unknown output format %q (want json or yaml)", cfg.Format)
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Renderer)) {
	case render.NamePDF, render.NameChrome:
	default:
		return fmt.Errorf("config: unknown renderer %q (want pdf or chrome)", cfg.Renderer)
	}
	if _, err := convert.ParsePolicy(cfg.OnExists); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if !cfg.Page().Valid() {
		return fmt.Errorf("config: invalid page size %s", cfg.Page())
	}
	if cfg.Scale <= 0 {
		return errors.New("config: scale must be positive")
	}
	if cfg.Margin <= 0 {
		return errors.New("config: margin must be positive")
	}
	if cfg.Concurrency < 1 {
		return errors.New("config: concurrency must be at least 1")
	}
	return nil
}
