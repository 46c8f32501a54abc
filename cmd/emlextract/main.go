package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/hyperifyio/emlextract/internal/app"
)

func main() {
	// Logging setup
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		if !errors.Is(err, app.ErrSomeFailed) {
			log.Error().Err(err).Msg("run failed")
		}
		os.Exit(1)
	}
}

type globalFlags struct {
	verbose bool
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:   "emlextract",
		Short: "Extract structured text from email, PDF and HTML files",
		Long: `emlextract renders email messages onto fixed-size PDF pages and runs the
PDF text extractor over the result, so mail can be processed like any other
paginated document. PDF and HTML files are extracted directly and mbox
archives are split into messages first.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setLogLevel(g.verbose)
		},
	}
	root.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "enable debug logging")
	root.AddCommand(newConvertCmd(g, &convertFlags{}), newFormatsCmd(), newVersionCmd())
	return root
}

func setLogLevel(verbose bool) {
	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

type convertFlags struct {
	configPath string
	envFiles   []string

	outputDir   string
	format      string
	renderer    string
	chromePath  string
	pageWidth   float64
	pageHeight  float64
	scale       float64
	margin      float64
	onExists    string
	concurrency int
	failFast    bool
	manifest    bool
	workDir     string
	quiet       bool
}

func newConvertCmd(g *globalFlags, f *convertFlags) *cobra.Command {
	def := app.DefaultConfig()
	cmd := &cobra.Command{
		Use:   "convert [flags] <file>...",
		Short: "Extract documents from .eml, .pdf, .html and .mbox files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd.Flags(), f)
			if err != nil {
				return err
			}
			cfg.Verbose = cfg.Verbose || g.verbose
			setLogLevel(cfg.Verbose)
			return run(cmd.Context(), cfg, args)
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&f.configPath, "config", "", "YAML or JSON config file")
	fs.StringSliceVar(&f.envFiles, "env-file", []string{".env"}, "dotenv files to load; later files win, missing files are skipped")
	fs.StringVarP(&f.outputDir, "output-dir", "o", def.OutputDir, "directory for extracted documents (stdout when empty)")
	fs.StringVar(&f.format, "format", def.Format, "document encoding: json or yaml")
	fs.StringVar(&f.renderer, "renderer", def.Renderer, "PDF renderer: pdf (built in) or chrome")
	fs.StringVar(&f.chromePath, "chrome-path", def.ChromePath, "Chrome/Chromium executable for the chrome renderer")
	fs.Float64Var(&f.pageWidth, "page-width", def.PageWidth, "logical page width in mm")
	fs.Float64Var(&f.pageHeight, "page-height", def.PageHeight, "logical page height in mm")
	fs.Float64Var(&f.scale, "scale", def.Scale, "renderer calibration factor applied to the page size")
	fs.Float64Var(&f.margin, "margin", def.Margin, "page margin in mm, must be positive")
	fs.StringVar(&f.onExists, "on-exists", def.OnExists, "when the PDF already exists: overwrite, fail or unique")
	fs.IntVar(&f.concurrency, "concurrency", def.Concurrency, "inputs processed in parallel")
	fs.BoolVar(&f.failFast, "fail-fast", def.FailFast, "stop at the first failed input")
	fs.BoolVar(&f.manifest, "manifest", def.Manifest, "write a <pdf>.manifest.json next to each rendered PDF")
	fs.StringVar(&f.workDir, "work-dir", def.WorkDir, "directory for messages split out of mbox archives")
	fs.BoolVarP(&f.quiet, "quiet", "q", def.Quiet, "hide the progress bar")
	return cmd
}

// resolveConfig layers defaults, the config file, the environment and the
// flags the user actually set, in increasing precedence.
func resolveConfig(fs *pflag.FlagSet, f *convertFlags) (app.Config, error) {
	if err := app.LoadEnvFiles(f.envFiles...); err != nil {
		return app.Config{}, fmt.Errorf("load env: %w", err)
	}
	cfg := app.DefaultConfig()
	if strings.TrimSpace(f.configPath) != "" {
		fc, err := app.LoadConfigFile(f.configPath)
		if err != nil {
			return app.Config{}, fmt.Errorf("load config: %w", err)
		}
		app.ApplyFileConfig(&cfg, fc)
	}
	app.ApplyEnvOverrides(&cfg)

	set := func(name string, apply func()) {
		if fs.Changed(name) {
			apply()
		}
	}
	set("output-dir", func() { cfg.OutputDir = f.outputDir })
	set("format", func() { cfg.Format = f.format })
	set("renderer", func() { cfg.Renderer = f.renderer })
	set("chrome-path", func() { cfg.ChromePath = f.chromePath })
	set("page-width", func() { cfg.PageWidth = f.pageWidth })
	set("page-height", func() { cfg.PageHeight = f.pageHeight })
	set("scale", func() { cfg.Scale = f.scale })
	set("margin", func() { cfg.Margin = f.margin })
	set("on-exists", func() { cfg.OnExists = f.onExists })
	set("concurrency", func() { cfg.Concurrency = f.concurrency })
	set("fail-fast", func() { cfg.FailFast = f.failFast })
	set("manifest", func() { cfg.Manifest = f.manifest })
	set("work-dir", func() { cfg.WorkDir = f.workDir })
	set("quiet", func() { cfg.Quiet = f.quiet })
	return cfg, nil
}

func run(ctx context.Context, cfg app.Config, inputs []string) error {
	a, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}
	return a.Run(ctx, inputs)
}

func newFormatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "formats",
		Short: "List the accepted input file extensions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(app.DefaultConfig())
			if err != nil {
				return err
			}
			for _, ext := range a.Formats() {
				fmt.Fprintln(cmd.OutOrStdout(), ext)
			}
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), app.VersionString())
		},
	}
}
