package bundler

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/evanw/esbuild/pkg/api"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxbase-eu/fluxpack/internal/compress"
	"github.com/fluxbase-eu/fluxpack/internal/manifest"
	"github.com/fluxbase-eu/fluxpack/internal/observability"
	"github.com/fluxbase-eu/fluxpack/internal/plan"
)

var projectFiles = map[string]string{
	"src/app.js": `const apps = [];
const registry = { _services: {} };
export default {
  apps,
  _registry: registry,
  initializeApp(name) { apps.push(name); return name; },
  SDK_VERSION: "4.1.0",
};
`,
	"src/auth.js": `import firebase from "@firebase/app";
firebase._registry._services.auth = true;
firebase.auth = function auth() { return "auth"; };
`,
	"src/storage.js": `import firebase from "@firebase/app";
firebase.storage = function storage() { return firebase.auth() + "+storage"; };
`,
	"src/all.js": `import firebase from "./app.js";
import "./auth.js";
import "./storage.js";
export default firebase;
`,
}

func writeProject(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range projectFiles {
		path := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
	return dir
}

func firebasePlan(t *testing.T, dir string) *plan.Plan {
	t.Helper()
	p, err := plan.NewPlan([]plan.EntryDescriptor{
		{Name: "firebase-app", SourcePath: filepath.Join(dir, "src/app.js")},
		{Name: "firebase-auth", SourcePath: filepath.Join(dir, "src/auth.js")},
		{Name: "firebase-storage", SourcePath: filepath.Join(dir, "src/storage.js"), Requires: []string{"firebase-auth"}},
	}, plan.RootDesignation{Name: "firebase-app", Namespace: "firebase"})
	require.NoError(t, err)
	return p
}

func testOptions(dir string) Options {
	return Options{
		Name:             "Firebase",
		Version:          "4.1.0",
		Revision:         "abc1234",
		WorkingDir:       dir,
		OutputDir:        filepath.Join(dir, "dist"),
		SourceMap:        true,
		Target:           "es2017",
		Platform:         "browser",
		NamespaceImports: []string{"@firebase/app"},
		Concurrency:      2,
	}
}

func readOutput(t *testing.T, dir, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, "dist", name))
	require.NoError(t, err)
	return string(data)
}

func assertParses(t *testing.T, code string) {
	t.Helper()
	result := api.Transform(code, api.TransformOptions{Loader: api.LoaderJS})
	assert.Empty(t, result.Errors, "output should be valid JavaScript")
}

func TestNewAssembler_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(o *Options)
		errMsg string
	}{
		{"missing output dir", func(o *Options) { o.OutputDir = "" }, "output directory is required"},
		{"unknown target", func(o *Options) { o.Target = "es1999" }, "unsupported target"},
		{"unknown platform", func(o *Options) { o.Platform = "node" }, "unsupported platform"},
		{"bad license template", func(o *Options) { o.LicenseTemplate = "{{.Name" }, "license template"},
		{"bad compression pattern", func(o *Options) { o.Compression = &compress.Options{Test: "("} }, "compression test pattern"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := testOptions(t.TempDir())
			tt.mutate(&opts)
			_, err := NewAssembler(opts)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestAssembler_Build(t *testing.T) {
	dir := writeProject(t)
	metrics := observability.NewMetrics()
	opts := testOptions(dir)
	opts.Metrics = metrics

	a, err := NewAssembler(opts)
	require.NoError(t, err)

	m, err := a.Build(context.Background(), firebasePlan(t, dir))
	require.NoError(t, err)

	assert.NotEmpty(t, m.BuildID)
	assert.Equal(t, "firebase", m.Namespace)
	assert.Equal(t, "firebase-app", m.Root)
	assert.Equal(t, "abc1234", m.Revision)
	assert.Equal(t, []string{"firebase-app.js", "firebase-auth.js", "firebase-storage.js"}, m.LoadOrder)
	require.Len(t, m.Targets, 3)
	assert.Nil(t, m.Standalone)

	root := m.Targets[0]
	assert.Equal(t, manifest.RoleRoot, root.Role)
	assert.Equal(t, "src/app.js", root.Source)
	assert.Equal(t, "firebase-app.js.map", root.SourceMap)
	assert.Equal(t, "firebase-app.meta.json", root.Metafile)

	storage := m.Targets[2]
	assert.Equal(t, manifest.RoleDependent, storage.Role)
	assert.Equal(t, []string{"firebase-auth"}, storage.Requires)

	t.Run("root is wrapped in the namespace closure", func(t *testing.T) {
		code := readOutput(t, dir, "firebase-app.js")
		assert.True(t, strings.HasPrefix(code, "/*!\n * @license Firebase v4.1.0\n * Build: rev-abc1234\n"))
		assert.Contains(t, code, "var firebase = (function() {")
		assert.Contains(t, code, "var "+plan.ExportsBinding+" = ")
		assert.Contains(t, code, "})().default;")
		assert.Contains(t, code, "//# sourceMappingURL=firebase-app.js.map")
		assertParses(t, code)
		assert.Equal(t, manifest.Integrity([]byte(code)), root.Integrity)
		assert.Equal(t, int64(len(code)), root.Size)
	})

	t.Run("dependents are guarded", func(t *testing.T) {
		code := readOutput(t, dir, "firebase-auth.js")
		assert.Contains(t, code, "try {\n")
		assert.Contains(t, code, "Cannot instantiate firebase-auth.js - be sure to load firebase-app.js first.")
		assert.Contains(t, code, `typeof firebase === "undefined"`)
		assert.NotContains(t, code, "initializeApp", "dependents must not bundle the root")
		assertParses(t, code)
	})

	t.Run("manifest is written", func(t *testing.T) {
		got, err := manifest.Read(filepath.Join(dir, "dist"))
		require.NoError(t, err)
		assert.Equal(t, m.BuildID, got.BuildID)
		assert.Equal(t, m.LoadOrder, got.LoadOrder)
	})

	t.Run("metrics", func(t *testing.T) {
		families, err := metrics.Registry().Gather()
		require.NoError(t, err)
		names := make([]string, 0, len(families))
		for _, f := range families {
			names = append(names, f.GetName())
		}
		assert.Contains(t, names, "fluxpack_builds_total")
		assert.Contains(t, names, "fluxpack_target_build_duration_seconds")
		assert.Contains(t, names, "fluxpack_target_output_bytes")
	})
}

func TestAssembler_Standalone(t *testing.T) {
	dir := writeProject(t)
	opts := testOptions(dir)
	opts.Standalone = &plan.EntryDescriptor{Name: "firebase", SourcePath: filepath.Join(dir, "src/all.js")}

	a, err := NewAssembler(opts)
	require.NoError(t, err)

	m, err := a.Build(context.Background(), firebasePlan(t, dir))
	require.NoError(t, err)

	require.NotNil(t, m.Standalone)
	assert.Equal(t, manifest.RoleStandalone, m.Standalone.Role)
	assert.Equal(t, "firebase.js", m.Standalone.File)
	assert.NotContains(t, m.LoadOrder, "firebase.js")

	code := readOutput(t, dir, "firebase.js")
	assert.Contains(t, code, "var firebase = (function() {")
	assert.Contains(t, code, "initializeApp")
	assert.NotContains(t, code, "Cannot instantiate")
	assert.NotContains(t, code, `typeof firebase === "undefined"`, "standalone resolves namespace imports to the root source")
	assertParses(t, code)
}

func TestAssembler_StandaloneNameClash(t *testing.T) {
	dir := writeProject(t)
	opts := testOptions(dir)
	opts.Standalone = &plan.EntryDescriptor{Name: "firebase-auth", SourcePath: filepath.Join(dir, "src/all.js")}

	a, err := NewAssembler(opts)
	require.NoError(t, err)

	_, err = a.Build(context.Background(), firebasePlan(t, dir))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "same name as an entry")
}

func TestAssembler_Compression(t *testing.T) {
	dir := writeProject(t)
	opts := testOptions(dir)
	opts.Compression = &compress.Options{
		Algorithms: []compress.Algorithm{compress.Gzip, compress.Brotli},
		MinRatio:   2,
	}

	a, err := NewAssembler(opts)
	require.NoError(t, err)

	m, err := a.Build(context.Background(), firebasePlan(t, dir))
	require.NoError(t, err)

	root := m.Targets[0]
	require.Len(t, root.Compressed, 2)
	assert.Equal(t, "firebase-app.js.gz", root.Compressed[0].File)
	assert.Equal(t, "gzip", root.Compressed[0].Encoding)
	assert.Equal(t, "firebase-app.js.br", root.Compressed[1].File)
	assert.Equal(t, "br", root.Compressed[1].Encoding)

	original := readOutput(t, dir, "firebase-app.js")

	gz, err := os.Open(filepath.Join(dir, "dist", "firebase-app.js.gz"))
	require.NoError(t, err)
	defer gz.Close()
	zr, err := gzip.NewReader(gz)
	require.NoError(t, err)
	decoded, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, original, string(decoded))

	br, err := os.ReadFile(filepath.Join(dir, "dist", "firebase-app.js.br"))
	require.NoError(t, err)
	decoded, err = io.ReadAll(brotli.NewReader(bytes.NewReader(br)))
	require.NoError(t, err)
	assert.Equal(t, original, string(decoded))

	assert.Contains(t, m.Files(), "firebase-auth.js.gz")
	assert.NotContains(t, m.Files(), "firebase-app.meta.json")
}

func TestAssembler_BuildErrorWritesNothing(t *testing.T) {
	dir := writeProject(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src/storage.js"), []byte("export default {"), 0644))

	a, err := NewAssembler(testOptions(dir))
	require.NoError(t, err)

	_, err = a.Build(context.Background(), firebasePlan(t, dir))
	require.Error(t, err)

	var targetErr *TargetError
	require.ErrorAs(t, err, &targetErr)
	assert.Equal(t, "firebase-storage", targetErr.Target)
	assert.NotEmpty(t, targetErr.Messages)

	_, statErr := os.Stat(filepath.Join(dir, "dist"))
	assert.True(t, os.IsNotExist(statErr), "no output is written when a target fails")
}

func TestAssembler_CanceledContext(t *testing.T) {
	dir := writeProject(t)
	a, err := NewAssembler(testOptions(dir))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = a.Build(ctx, firebasePlan(t, dir))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAssembler_MinifyAndMangle(t *testing.T) {
	dir := writeProject(t)
	opts := testOptions(dir)
	opts.SourceMap = false
	opts.Minify = MinifyOptions{
		Whitespace:   true,
		Identifiers:  true,
		Syntax:       true,
		MangleProps:  "^_|_$",
		ReserveProps: "^__",
	}

	a, err := NewAssembler(opts)
	require.NoError(t, err)

	m, err := a.Build(context.Background(), firebasePlan(t, dir))
	require.NoError(t, err)
	assert.Empty(t, m.Targets[0].SourceMap)

	for _, file := range m.LoadOrder {
		code := readOutput(t, dir, file)
		assert.NotContains(t, code, "_registry", file)
		assert.NotContains(t, code, "_services", file)
		assert.NotContains(t, code, "sourceMappingURL", file)
		assertParses(t, code)
	}
	assert.Contains(t, readOutput(t, dir, "firebase-app.js"), "initializeApp", "unmatched properties keep their names")
}

// TestAssembler_LoadOrderRuntime executes the bundles with node
func TestAssembler_LoadOrderRuntime(t *testing.T) {
	node, err := exec.LookPath("node")
	if err != nil {
		t.Skip("node not installed")
	}

	dir := writeProject(t)
	opts := testOptions(dir)
	opts.Minify = MinifyOptions{Whitespace: true, Identifiers: true, Syntax: true, MangleProps: "^_|_$", ReserveProps: "^__"}

	a, err := NewAssembler(opts)
	require.NoError(t, err)
	m, err := a.Build(context.Background(), firebasePlan(t, dir))
	require.NoError(t, err)

	run := func(t *testing.T, files []string, probe string) (string, error) {
		t.Helper()
		var script strings.Builder
		for _, f := range files {
			script.WriteString(readOutput(t, dir, f))
			script.WriteString("\n")
		}
		script.WriteString(probe)
		cmd := exec.Command(node, "-e", script.String())
		out, err := cmd.CombinedOutput()
		return string(out), err
	}

	t.Run("plan order", func(t *testing.T) {
		out, err := run(t, m.LoadOrder, `console.log(firebase.storage(), firebase.apps.length);`)
		require.NoError(t, err, out)
		assert.Equal(t, "auth+storage 0\n", out)
	})

	t.Run("dependent first", func(t *testing.T) {
		out, err := run(t, []string{"firebase-auth.js", "firebase-app.js"}, "")
		require.Error(t, err)
		assert.Contains(t, out, "Cannot instantiate firebase-auth.js - be sure to load firebase-app.js first.")
	})
}
