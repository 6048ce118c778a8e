// Package bundler assembles the bundles of a plan with esbuild and analyzes
// what went into them.
package bundler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/fluxbase-eu/fluxpack/internal/compress"
	"github.com/fluxbase-eu/fluxpack/internal/license"
	"github.com/fluxbase-eu/fluxpack/internal/manifest"
	"github.com/fluxbase-eu/fluxpack/internal/observability"
	"github.com/fluxbase-eu/fluxpack/internal/plan"
)

// MetafileSuffix names the esbuild metafile written next to each bundle
const MetafileSuffix = ".meta.json"

// MinifyOptions is forwarded to esbuild
type MinifyOptions struct {
	Whitespace   bool
	Identifiers  bool
	Syntax       bool
	MangleProps  string
	ReserveProps string
	MangleQuoted bool
}

// Options configures an Assembler
type Options struct {
	// Name, Version and Revision are stamped into the license banner and manifest
	Name     string
	Version  string
	Revision string

	// LicenseTemplate is the banner template; empty uses license.DefaultTemplate
	LicenseTemplate string

	// WorkingDir is the project directory sources are resolved against
	WorkingDir string
	OutputDir  string

	SourceMap bool
	Target    string // es5, es2015 ... es2022, esnext
	Platform  string // browser or neutral
	Minify    MinifyOptions
	External  []string

	// NamespaceImports resolve, in dependents, to the global installed by the root
	NamespaceImports []string

	Concurrency int

	// Standalone, when set, is built as an additional self-contained bundle
	Standalone *plan.EntryDescriptor

	// Compression, when set, writes precompressed siblings of every output
	Compression *compress.Options

	// Metrics may be nil
	Metrics *observability.Metrics
}

// TargetError is a failed esbuild run for one target
type TargetError struct {
	Target   string
	Messages []string
}

func (e *TargetError) Error() string {
	return fmt.Sprintf("failed to build %s:\n%s", e.Target, strings.TrimRight(strings.Join(e.Messages, ""), "\n"))
}

// Assembler runs esbuild once per plan target and wraps each result with its
// wrap directive
type Assembler struct {
	opts       Options
	banner     *license.Banner
	compressor *compress.Compressor
	target     api.Target
	platform   api.Platform
}

// buildJob is one esbuild invocation
type buildJob struct {
	entry      plan.EntryDescriptor
	role       string
	directive  plan.WrapDirective
	globalName string
	plugins    []api.Plugin
}

// targetOutput holds a built target in memory until every target succeeded
type targetOutput struct {
	job      buildJob
	files    map[string][]byte // Output name relative to OutputDir
	metafile []byte
}

// mangleCache carries esbuild's property renames from one target to the next
// so a mangled property of the shared namespace has one name in every bundle
type mangleCache struct {
	mu      sync.Mutex
	renames map[string]interface{}
}

func (c *mangleCache) get() map[string]interface{} {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]interface{}, len(c.renames))
	for k, v := range c.renames {
		out[k] = v
	}
	return out
}

func (c *mangleCache) put(renames map[string]interface{}) {
	if c == nil || renames == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.renames = renames
}

var esTargets = map[string]api.Target{
	"es5":    api.ES5,
	"es2015": api.ES2015,
	"es2016": api.ES2016,
	"es2017": api.ES2017,
	"es2018": api.ES2018,
	"es2019": api.ES2019,
	"es2020": api.ES2020,
	"es2021": api.ES2021,
	"es2022": api.ES2022,
	"esnext": api.ESNext,
}

// NewAssembler validates the options and prepares the banner and compressor
func NewAssembler(opts Options) (*Assembler, error) {
	a := &Assembler{opts: opts}

	if opts.OutputDir == "" {
		return nil, fmt.Errorf("output directory is required")
	}

	if a.opts.WorkingDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		a.opts.WorkingDir = wd
	}
	for _, dir := range []*string{&a.opts.WorkingDir, &a.opts.OutputDir} {
		abs, err := filepath.Abs(*dir)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", *dir, err)
		}
		*dir = abs
	}

	if a.opts.Concurrency < 1 {
		a.opts.Concurrency = 1
	}

	target := strings.ToLower(opts.Target)
	if target == "" {
		target = "es2017"
	}
	t, ok := esTargets[target]
	if !ok {
		return nil, fmt.Errorf("unsupported target %q", opts.Target)
	}
	a.target = t

	switch opts.Platform {
	case "", "browser":
		a.platform = api.PlatformBrowser
	case "neutral":
		a.platform = api.PlatformNeutral
	default:
		return nil, fmt.Errorf("unsupported platform %q", opts.Platform)
	}

	banner, err := license.NewBanner(opts.LicenseTemplate)
	if err != nil {
		return nil, err
	}
	a.banner = banner

	if opts.Compression != nil {
		c, err := compress.New(*opts.Compression)
		if err != nil {
			return nil, err
		}
		a.compressor = c
	}

	return a, nil
}

// Build bundles every target of p (and the standalone bundle, when
// configured), writes the outputs and returns the manifest. Outputs are
// written only after every target succeeded.
func (a *Assembler) Build(ctx context.Context, p *plan.Plan) (m *manifest.Manifest, err error) {
	start := time.Now()
	defer func() {
		if a.opts.Metrics != nil {
			a.opts.Metrics.RecordBuild(time.Since(start), err)
		}
	}()

	jobs, err := a.jobs(p)
	if err != nil {
		return nil, err
	}

	comment, err := a.banner.Render(license.Info{
		Name:     a.opts.Name,
		Version:  a.opts.Version,
		Revision: a.opts.Revision,
	})
	if err != nil {
		return nil, err
	}

	// Property mangling must see the targets one at a time in load order.
	// errgroup starts goroutines in submission order when the limit is 1.
	var cache *mangleCache
	limit := a.opts.Concurrency
	if a.opts.Minify.MangleProps != "" {
		cache = &mangleCache{}
		limit = 1
	}

	outputs := make([]*targetOutput, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, job := range jobs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out, err := a.buildTarget(gctx, job, comment, cache)
			if err != nil {
				return err
			}
			outputs[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(a.opts.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	m = &manifest.Manifest{
		BuildID:   uuid.NewString(),
		Name:      a.opts.Name,
		Version:   a.opts.Version,
		Revision:  a.opts.Revision,
		Namespace: p.Designation().Namespace,
		Root:      p.Root().Name,
		CreatedAt: time.Now().UTC(),
		LoadOrder: p.LoadOrder(),
	}

	for _, out := range outputs {
		t, err := a.writeTarget(out)
		if err != nil {
			return nil, err
		}
		if t.Role == manifest.RoleStandalone {
			m.Standalone = &t
			continue
		}
		m.Targets = append(m.Targets, t)
	}

	if err := manifest.Write(a.opts.OutputDir, m); err != nil {
		return nil, err
	}

	log.Info().
		Str("build_id", m.BuildID).
		Int("targets", len(outputs)).
		Dur("duration", time.Since(start)).
		Msg("Build complete")

	return m, nil
}

// jobs turns the plan targets into esbuild invocations
func (a *Assembler) jobs(p *plan.Plan) ([]buildJob, error) {
	designation := p.Designation()
	var jobs []buildJob

	for _, t := range p.Targets() {
		job := buildJob{
			entry:     t.Entry,
			role:      string(t.Role),
			directive: t.Directive,
		}
		if t.Role == plan.RoleRoot {
			job.globalName = plan.ExportsBinding
		} else if len(a.opts.NamespaceImports) > 0 {
			job.plugins = []api.Plugin{namespacePlugin(designation.Namespace, a.opts.NamespaceImports)}
		}
		jobs = append(jobs, job)
	}

	if a.opts.Standalone != nil {
		standalone := *a.opts.Standalone
		if _, clash := p.Target(standalone.Name); clash {
			return nil, fmt.Errorf("standalone bundle %q has the same name as an entry", standalone.Name)
		}

		// The standalone bundle is the root of its own single-entry plan
		sp, err := plan.NewPlan([]plan.EntryDescriptor{standalone}, plan.RootDesignation{
			Name:      standalone.BaseName(),
			Namespace: designation.Namespace,
		})
		if err != nil {
			return nil, fmt.Errorf("invalid standalone bundle: %w", err)
		}

		job := buildJob{
			entry:      sp.Root(),
			role:       manifest.RoleStandalone,
			directive:  sp.Targets()[0].Directive,
			globalName: plan.ExportsBinding,
		}
		if len(a.opts.NamespaceImports) > 0 {
			job.plugins = []api.Plugin{rootSourcePlugin(p.Root().SourcePath, a.opts.NamespaceImports)}
		}
		jobs = append(jobs, job)
	}

	return jobs, nil
}

func (a *Assembler) buildTarget(ctx context.Context, job buildJob, comment string, cache *mangleCache) (out *targetOutput, err error) {
	_, span := observability.StartTargetSpan(ctx, job.entry.Name, job.role, job.entry.SourcePath)
	defer func() { observability.EndSpan(span, err) }()

	start := time.Now()
	file := job.entry.FileName()

	sourcemap := api.SourceMapNone
	if a.opts.SourceMap {
		sourcemap = api.SourceMapLinked
	}
	mangleQuoted := api.MangleQuotedFalse
	if a.opts.Minify.MangleQuoted {
		mangleQuoted = api.MangleQuotedTrue
	}

	result := api.Build(api.BuildOptions{
		EntryPoints:       []string{job.entry.SourcePath},
		Outfile:           filepath.Join(a.opts.OutputDir, filepath.FromSlash(file)),
		AbsWorkingDir:     a.opts.WorkingDir,
		Bundle:            true,
		Write:             false,
		Metafile:          true,
		Format:            api.FormatIIFE,
		GlobalName:        job.globalName,
		Platform:          a.platform,
		Target:            a.target,
		Sourcemap:         sourcemap,
		MinifyWhitespace:  a.opts.Minify.Whitespace,
		MinifyIdentifiers: a.opts.Minify.Identifiers,
		MinifySyntax:      a.opts.Minify.Syntax,
		MangleProps:       a.opts.Minify.MangleProps,
		ReserveProps:      a.opts.Minify.ReserveProps,
		MangleQuoted:      mangleQuoted,
		MangleCache:       cache.get(),
		External:          a.opts.External,
		Banner:            map[string]string{"js": comment + job.directive.Header},
		Footer:            map[string]string{"js": job.directive.Footer},
		Plugins:           job.plugins,
		LogLevel:          api.LogLevelSilent,
	})

	if len(result.Errors) > 0 {
		return nil, &TargetError{
			Target: job.entry.Name,
			Messages: api.FormatMessages(result.Errors, api.FormatMessagesOptions{
				Kind: api.ErrorMessage,
			}),
		}
	}
	for _, w := range result.Warnings {
		log.Warn().Str("target", job.entry.Name).Msg(w.Text)
	}
	cache.put(result.MangleCache)

	out = &targetOutput{
		job:      job,
		files:    make(map[string][]byte, len(result.OutputFiles)),
		metafile: []byte(result.Metafile),
	}
	for _, f := range result.OutputFiles {
		rel, err := filepath.Rel(a.opts.OutputDir, f.Path)
		if err != nil {
			return nil, fmt.Errorf("unexpected output path %s: %w", f.Path, err)
		}
		out.files[filepath.ToSlash(rel)] = f.Contents
	}
	if _, ok := out.files[file]; !ok {
		return nil, fmt.Errorf("esbuild produced no %s for %s", file, job.entry.Name)
	}

	duration := time.Since(start)
	if a.opts.Metrics != nil {
		a.opts.Metrics.RecordTarget(job.entry.Name, job.role, duration)
	}

	log.Debug().
		Str("target", job.entry.Name).
		Str("role", job.role).
		Int("bytes", len(out.files[file])).
		Dur("duration", duration).
		Msg("Target bundled")

	return out, nil
}

// writeTarget writes a built target and its compressed siblings and returns
// its manifest record
func (a *Assembler) writeTarget(out *targetOutput) (manifest.Target, error) {
	entry := out.job.entry
	file := entry.FileName()

	for name, contents := range out.files {
		if err := writeFile(a.opts.OutputDir, name, contents); err != nil {
			return manifest.Target{}, err
		}
	}

	metafile := strings.TrimSuffix(file, plan.FileExtension) + MetafileSuffix
	if err := writeFile(a.opts.OutputDir, metafile, out.metafile); err != nil {
		return manifest.Target{}, err
	}

	code := out.files[file]
	t := manifest.Target{
		Name:      entry.Name,
		Role:      out.job.role,
		File:      file,
		Source:    a.relativeSource(entry.SourcePath),
		Size:      int64(len(code)),
		Integrity: manifest.Integrity(code),
		Metafile:  metafile,
		Requires:  entry.Requires,
	}
	if _, ok := out.files[file+".map"]; ok {
		t.SourceMap = file + ".map"
	}

	if a.opts.Metrics != nil {
		a.opts.Metrics.RecordOutput(entry.Name, "identity", len(code))
	}

	if a.compressor != nil && a.compressor.Matches(file) {
		path := filepath.Join(a.opts.OutputDir, filepath.FromSlash(file))
		removeSiblings(path)

		results, err := a.compressor.CompressFile(path)
		if err != nil {
			return manifest.Target{}, err
		}
		for _, r := range results {
			if r.Skipped {
				continue
			}
			t.Compressed = append(t.Compressed, manifest.Compressed{
				File:     file + r.Algorithm.Extension(),
				Encoding: r.Algorithm.ContentEncoding(),
				Size:     int64(r.CompressedBytes),
			})
			if a.opts.Metrics != nil {
				a.opts.Metrics.RecordOutput(entry.Name, r.Algorithm.ContentEncoding(), r.CompressedBytes)
			}
		}
	}

	return t, nil
}

func (a *Assembler) relativeSource(source string) string {
	rel, err := filepath.Rel(a.opts.WorkingDir, source)
	if err != nil {
		return filepath.ToSlash(source)
	}
	return filepath.ToSlash(rel)
}

func writeFile(dir, name string, contents []byte) error {
	path := filepath.Join(dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", name, err)
	}
	if err := os.WriteFile(path, contents, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}

// removeSiblings deletes compressed files left by a previous build
func removeSiblings(path string) {
	for _, alg := range []compress.Algorithm{compress.Gzip, compress.Brotli} {
		_ = os.Remove(path + alg.Extension())
	}
}
