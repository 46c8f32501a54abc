package app

import (
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// Environment variables read by ApplyEnvOverrides.
const (
	EnvOutputDir   = "EMLEXTRACT_OUTPUT_DIR"
	EnvFormat      = "EMLEXTRACT_FORMAT"
	EnvRenderer    = "EMLEXTRACT_RENDERER"
	EnvChromePath  = "EMLEXTRACT_CHROME_PATH"
	EnvScale       = "EMLEXTRACT_SCALE"
	EnvMargin      = "EMLEXTRACT_MARGIN"
	EnvOnExists    = "EMLEXTRACT_ON_EXISTS"
	EnvConcurrency = "EMLEXTRACT_CONCURRENCY"
	EnvWorkDir     = "EMLEXTRACT_WORK_DIR"
	EnvVerbose     = "VERBOSE"
	EnvFailFast    = "FAIL_FAST"
)

// ApplyEnvOverrides forcefully overrides cfg fields with environment variables
// when the corresponding env vars are set. This lets env take precedence over
// values coming from a config file while flags remain highest precedence.
// Unparsable numbers are logged and ignored.
func ApplyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}

	setString := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	setString(&cfg.OutputDir, EnvOutputDir)
	setString(&cfg.Format, EnvFormat)
	setString(&cfg.Renderer, EnvRenderer)
	setString(&cfg.ChromePath, EnvChromePath)
	setString(&cfg.OnExists, EnvOnExists)
	setString(&cfg.WorkDir, EnvWorkDir)

	setFloat := func(dst *float64, key string) {
		s := strings.TrimSpace(os.Getenv(key))
		if s == "" {
			return
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			log.Warn().Str("env", key).Str("value", s).Msg("ignoring invalid number")
			return
		}
		*dst = f
	}
	setFloat(&cfg.Scale, EnvScale)
	setFloat(&cfg.Margin, EnvMargin)

	if s := strings.TrimSpace(os.Getenv(EnvConcurrency)); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			cfg.Concurrency = n
		} else {
			log.Warn().Str("env", EnvConcurrency).Str("value", s).Msg("ignoring invalid number")
		}
	}

	// Booleans override when env present and truthy/falsey
	setBool := func(dst *bool, envKey string) {
		if s := strings.ToLower(strings.TrimSpace(os.Getenv(envKey))); s != "" {
			switch s {
			case "1", "true", "yes", "on":
				*dst = true
			case "0", "false", "no", "off":
				*dst = false
			}
		}
	}
	setBool(&cfg.Verbose, EnvVerbose)
	setBool(&cfg.FailFast, EnvFailFast)
}
