package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fluxbase-eu/fluxpack/cli/bundler"
	"github.com/fluxbase-eu/fluxpack/cli/output"
	"github.com/fluxbase-eu/fluxpack/cli/util"
	"github.com/fluxbase-eu/fluxpack/internal/config"
	"github.com/fluxbase-eu/fluxpack/internal/license"
	"github.com/fluxbase-eu/fluxpack/internal/manifest"
	"github.com/fluxbase-eu/fluxpack/internal/observability"
	"github.com/fluxbase-eu/fluxpack/internal/plan"
)

var (
	buildRevision    string
	buildNoCompress  bool
	buildNoMinify    bool
	buildConcurrency int
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build the bundles",
	Long: `Build every target of the plan, the standalone bundle when configured,
and the build manifest.

Outputs are written only after every target built successfully.

Examples:
  fluxpack build
  fluxpack build --no-minify --no-compress
  fluxpack build --revision $(git rev-parse --short HEAD) -o json`,
	RunE: runBuild,
}

func init() {
	buildCmd.Flags().StringVar(&buildRevision, "revision", "", "revision stamped into the banner (default: git HEAD)")
	buildCmd.Flags().BoolVar(&buildNoCompress, "no-compress", false, "skip precompressed siblings")
	buildCmd.Flags().BoolVar(&buildNoMinify, "no-minify", false, "skip minification and property mangling")
	buildCmd.Flags().IntVar(&buildConcurrency, "concurrency", 0, "targets built in parallel (default: build.concurrency)")
}

type buildResult struct {
	manifest.Manifest `yaml:",inline"`
	Duration          string `json:"duration" yaml:"duration"`
}

func (r buildResult) Table() output.TableData {
	data := output.TableData{Headers: []string{"TARGET", "ROLE", "FILE", "SIZE", "COMPRESSED", "INTEGRITY"}}
	for _, t := range r.AllTargets() {
		var compressed []string
		for _, c := range t.Compressed {
			compressed = append(compressed, c.Encoding+" "+util.FormatBytes(c.Size))
		}
		data.Rows = append(data.Rows, []string{
			t.Name,
			t.Role,
			t.File,
			util.FormatBytes(t.Size),
			strings.Join(compressed, ", "),
			util.ShortIntegrity(t.Integrity),
		})
	}
	return data
}

// assemblerOptions maps the project configuration to assembler options
func assemblerOptions(ctx context.Context, cfg *config.Config, metrics *observability.Metrics) (bundler.Options, error) {
	var revisions license.RevisionSource
	if git, err := license.NewGitRevision(); err == nil {
		revisions = git
	} else {
		log.Debug().Err(err).Msg("Revision lookup disabled")
	}

	revision := buildRevision
	if revision == "" {
		revision = cfg.License.Revision
	}

	opts := bundler.Options{
		Name:             cfg.Name,
		Version:          cfg.Version,
		Revision:         license.ResolveRevision(ctx, revisions, cfg.ProjectDir, revision),
		LicenseTemplate:  cfg.License.Template,
		WorkingDir:       cfg.ProjectDir,
		OutputDir:        cfg.OutputDir(),
		SourceMap:        cfg.Output.SourceMap,
		Target:           cfg.Output.Target,
		Platform:         cfg.Output.Platform,
		External:         cfg.Build.External,
		NamespaceImports: cfg.Build.NamespaceImports,
		Concurrency:      cfg.Build.Concurrency,
		Metrics:          metrics,
	}

	if buildConcurrency > 0 {
		opts.Concurrency = buildConcurrency
	}

	if cfg.Minify.Enabled && !buildNoMinify {
		opts.Minify = bundler.MinifyOptions{
			Whitespace:   cfg.Minify.Whitespace,
			Identifiers:  cfg.Minify.Identifiers,
			Syntax:       cfg.Minify.Syntax,
			MangleProps:  cfg.Minify.MangleProps,
			ReserveProps: cfg.Minify.ReserveProps,
			MangleQuoted: cfg.Minify.MangleQuoted,
		}
	}

	if cfg.Standalone.Enabled() {
		opts.Standalone = &plan.EntryDescriptor{
			Name:       cfg.Standalone.Name,
			SourcePath: cfg.ResolvePath(cfg.Standalone.Source),
		}
	}

	if cfg.Compression.Enabled && !buildNoCompress {
		co, err := cfg.CompressionOptions()
		if err != nil {
			return bundler.Options{}, err
		}
		opts.Compression = &co
	}

	return opts, nil
}

// buildProject plans and builds the project of cfg
func buildProject(ctx context.Context, cfg *config.Config, metrics *observability.Metrics) (*manifest.Manifest, error) {
	p, err := loadPlan(cfg)
	if err != nil {
		return nil, err
	}

	opts, err := assemblerOptions(ctx, cfg, metrics)
	if err != nil {
		return nil, err
	}

	assembler, err := bundler.NewAssembler(opts)
	if err != nil {
		return nil, err
	}

	log.Debug().
		Str("revision", opts.Revision).
		Str("output", opts.OutputDir).
		Int("concurrency", opts.Concurrency).
		Strs("load_order", p.LoadOrder()).
		Msg("Building")

	return assembler.Build(ctx, p)
}

// withTelemetry runs fn inside a span named spanName and flushes metrics
// afterwards. Export failures are logged and do not fail the command.
func withTelemetry(ctx context.Context, cfg *config.Config, spanName string, fn func(ctx context.Context, metrics *observability.Metrics) error) (err error) {
	tracingCfg := cfg.Tracing
	tracingCfg.ServiceVersion = cfg.Version
	tracer, tracerErr := observability.NewTracer(ctx, tracingCfg)
	if tracerErr != nil {
		log.Warn().Err(tracerErr).Msg("Failed to initialize OpenTelemetry tracer, tracing will be disabled")
		tracer, _ = observability.NewTracer(ctx, observability.TracerConfig{})
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Failed to flush traces")
		}
	}()

	spanCtx, span := tracer.StartSpan(ctx, spanName)
	span.SetAttributes(
		attribute.String("fluxpack.name", cfg.Name),
		attribute.String("fluxpack.version", cfg.Version),
	)
	defer func() { observability.EndSpan(span, err) }()

	metrics := observability.NewMetrics()
	err = fn(spanCtx, metrics)

	if flushErr := metrics.Flush(ctx, cfg.Metrics); flushErr != nil {
		log.Warn().Err(flushErr).Msg("Failed to export metrics")
	}
	return err
}

func runBuild(cmd *cobra.Command, args []string) error {
	cfg, err := loadProject()
	if err != nil {
		return err
	}

	start := time.Now()
	var m *manifest.Manifest
	err = withTelemetry(cmd.Context(), cfg, "fluxpack.build", func(ctx context.Context, metrics *observability.Metrics) error {
		var err error
		m, err = buildProject(ctx, cfg, metrics)
		return err
	})
	if err != nil {
		return err
	}

	if err := formatter.Print(buildResult{Manifest: *m, Duration: util.FormatDuration(time.Since(start))}); err != nil {
		return err
	}
	formatter.PrintSuccess(fmt.Sprintf("Built %d targets into %s in %s (build %s)",
		len(m.AllTargets()), cfg.OutputDir(), util.FormatDuration(time.Since(start)), m.BuildID))
	return nil
}
