package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxbase-eu/fluxpack/internal/compress"
	"github.com/fluxbase-eu/fluxpack/internal/plan"
)

const firebaseConfig = `
name: Firebase
version: 4.1.0
namespace: firebase
root: firebase-app
entries:
  firebase-app:
    source: src/app.ts
  firebase-auth:
    source: src/auth.ts
  firebase-storage:
    source: src/storage.ts
    requires: [firebase-auth]
standalone:
  name: firebase
  source: src/all.ts
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fluxpack.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func validConfig() Config {
	return Config{
		Namespace: "firebase",
		Root:      "firebase-app",
		Entries: map[string]EntryConfig{
			"firebase-app":  {Source: "src/app.ts"},
			"firebase-auth": {Source: "src/auth.ts"},
		},
		Output:      OutputConfig{Dir: "dist", Platform: "browser"},
		Compression: CompressionConfig{Enabled: true, Test: `\.js$`, Algorithms: []string{"gzip"}, MinRatio: 0.8},
		Build:       BuildConfig{Concurrency: 2},
		Publish:     PublishConfig{Provider: "local", LocalPath: "./cdn", CredentialStore: "file"},
	}
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, firebaseConfig)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "Firebase", cfg.Name)
	assert.Equal(t, "4.1.0", cfg.Version)
	assert.Equal(t, "firebase", cfg.Namespace)
	assert.Equal(t, "firebase-app", cfg.Root)
	assert.Len(t, cfg.Entries, 3)
	assert.Equal(t, []string{"firebase-auth"}, cfg.Entries["firebase-storage"].Requires)
	assert.True(t, cfg.Standalone.Enabled())

	dir, err := filepath.Abs(filepath.Dir(path))
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.ProjectDir)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, firebaseConfig))
	require.NoError(t, err)

	assert.Equal(t, "dist", cfg.Output.Dir)
	assert.True(t, cfg.Output.SourceMap)
	assert.Equal(t, "es2017", cfg.Output.Target)
	assert.Equal(t, "browser", cfg.Output.Platform)

	assert.True(t, cfg.Minify.Enabled)
	assert.Equal(t, "^_|_$", cfg.Minify.MangleProps)
	assert.False(t, cfg.Minify.MangleQuoted)

	assert.True(t, cfg.Compression.Enabled)
	assert.Equal(t, []string{"gzip"}, cfg.Compression.Algorithms)
	assert.InDelta(t, 0.8, cfg.Compression.MinRatio, 1e-9)

	assert.GreaterOrEqual(t, cfg.Build.Concurrency, 1)

	assert.Equal(t, "local", cfg.Publish.Provider)
	assert.Equal(t, "releases", cfg.Publish.Bucket)
	assert.Equal(t, "public, max-age=31536000, immutable", cfg.Publish.CacheControl)

	assert.Equal(t, "127.0.0.1:8080", cfg.Serve.Address)
	assert.Equal(t, "fluxpack", cfg.Metrics.Job)
	assert.Equal(t, "fluxpack", cfg.Tracing.ServiceName)
	assert.False(t, cfg.Tracing.Enabled)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("FLUXPACK_OUTPUT_DIR", "build")
	t.Setenv("FLUXPACK_PUBLISH_BUCKET", "cdn-releases")

	cfg, err := Load(writeConfig(t, firebaseConfig))
	require.NoError(t, err)

	assert.Equal(t, "build", cfg.Output.Dir)
	assert.Equal(t, "cdn-releases", cfg.Publish.Bucket)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoad_Invalid(t *testing.T) {
	_, err := Load(writeConfig(t, "namespace: firebase\nroot: firebase-app\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one entry is required")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		errMsg string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:   "no entries",
			mutate: func(c *Config) { c.Entries = nil },
			errMsg: "at least one entry is required",
		},
		{
			name:   "uppercase entry name",
			mutate: func(c *Config) { c.Entries["Firebase-Auth"] = EntryConfig{Source: "x.ts"} },
			errMsg: "entry name \"Firebase-Auth\"",
		},
		{
			name:   "entry name with dot",
			mutate: func(c *Config) { c.Entries["firebase.auth"] = EntryConfig{Source: "x.ts"} },
			errMsg: "entry name \"firebase.auth\"",
		},
		{
			name:   "missing root",
			mutate: func(c *Config) { c.Root = "" },
			errMsg: "root must name the entry",
		},
		{
			name:   "empty output dir",
			mutate: func(c *Config) { c.Output.Dir = "" },
			errMsg: "output.dir cannot be empty",
		},
		{
			name:   "node platform",
			mutate: func(c *Config) { c.Output.Platform = "node" },
			errMsg: "output.platform must be 'browser' or 'neutral'",
		},
		{
			name:   "zero concurrency",
			mutate: func(c *Config) { c.Build.Concurrency = 0 },
			errMsg: "build.concurrency must be at least 1",
		},
		{
			name:   "bad mangle regex",
			mutate: func(c *Config) { c.Minify.MangleProps = "(" },
			errMsg: "minify.mangle_props is not a valid regex",
		},
		{
			name:   "unknown compression algorithm",
			mutate: func(c *Config) { c.Compression.Algorithms = []string{"zstd"} },
			errMsg: "compression configuration error",
		},
		{
			name: "disabled compression skips its checks",
			mutate: func(c *Config) {
				c.Compression.Enabled = false
				c.Compression.Algorithms = []string{"zstd"}
			},
		},
		{
			name:   "unknown provider",
			mutate: func(c *Config) { c.Publish.Provider = "gcs" },
			errMsg: "provider must be 'local' or 's3'",
		},
		{
			name: "incomplete s3",
			mutate: func(c *Config) {
				c.Publish.Provider = "s3"
				c.Publish.S3Endpoint = "minio:9000"
			},
			errMsg: "S3 configuration is incomplete",
		},
		{
			name:   "unknown credential store",
			mutate: func(c *Config) { c.Publish.CredentialStore = "vault" },
			errMsg: "credential_store must be 'file' or 'keychain'",
		},
		{
			name:   "negative rate limit",
			mutate: func(c *Config) { c.Publish.RateLimit = -1 },
			errMsg: "rate_limit cannot be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestConfig_EntryDescriptors(t *testing.T) {
	cfg := validConfig()
	cfg.ProjectDir = "/work/firebase"
	cfg.Entries["firebase-storage"] = EntryConfig{Source: "/abs/storage.ts", Requires: []string{"firebase-auth"}}

	entries := cfg.EntryDescriptors()

	assert.Equal(t, []plan.EntryDescriptor{
		{Name: "firebase-app", SourcePath: filepath.Join("/work/firebase", "src/app.ts")},
		{Name: "firebase-auth", SourcePath: filepath.Join("/work/firebase", "src/auth.ts")},
		{Name: "firebase-storage", SourcePath: "/abs/storage.ts", Requires: []string{"firebase-auth"}},
	}, entries)

	assert.Equal(t, plan.RootDesignation{Name: "firebase-app", Namespace: "firebase"}, cfg.RootDesignation())
}

func TestConfig_EntryDescriptorsBuildPlan(t *testing.T) {
	cfg, err := Load(writeConfig(t, firebaseConfig))
	require.NoError(t, err)

	p, err := plan.NewPlan(cfg.EntryDescriptors(), cfg.RootDesignation())
	require.NoError(t, err)
	assert.Equal(t, []string{"firebase-app.js", "firebase-auth.js", "firebase-storage.js"}, p.LoadOrder())
}

func TestConfig_OutputDir(t *testing.T) {
	cfg := validConfig()
	assert.Equal(t, "dist", cfg.OutputDir())

	cfg.ProjectDir = "/work"
	assert.Equal(t, filepath.Join("/work", "dist"), cfg.OutputDir())

	cfg.Output.Dir = "/tmp/out"
	assert.Equal(t, "/tmp/out", cfg.OutputDir())
}

func TestConfig_CompressionOptions(t *testing.T) {
	cfg := validConfig()
	cfg.Compression.Algorithms = []string{"gzip", "brotli"}
	cfg.Compression.Threshold = 512

	opts, err := cfg.CompressionOptions()
	require.NoError(t, err)
	assert.Equal(t, []compress.Algorithm{compress.Gzip, compress.Brotli}, opts.Algorithms)
	assert.Equal(t, 512, opts.Threshold)
	assert.Equal(t, `\.js$`, opts.Test)
}

func TestStandaloneConfig_Enabled(t *testing.T) {
	assert.False(t, StandaloneConfig{}.Enabled())
	assert.False(t, StandaloneConfig{Name: "firebase"}.Enabled())
	assert.True(t, StandaloneConfig{Name: "firebase", Source: "src/all.ts"}.Enabled())
}

func TestLoad_EntryNamesDifferingOnlyByCase(t *testing.T) {
	path := writeConfig(t, `
namespace: firebase
root: firebase-app
entries:
  firebase-app:
    source: src/app.ts
  firebase-auth:
    source: src/auth.ts
  Firebase-Auth:
    source: other/index.ts
`)

	cfg, err := Load(path)
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.ErrorIs(t, err, plan.ErrDuplicateEntry)

	var planErr *plan.PlanConfigurationError
	require.True(t, errors.As(err, &planErr))
	assert.Equal(t, []string{"Firebase-Auth", "firebase-auth"}, planErr.Entries)
}

func TestLoad_UppercaseEntryNameIsFolded(t *testing.T) {
	path := writeConfig(t, `
namespace: firebase
root: firebase-app
entries:
  Firebase-App:
    source: src/app.ts
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Contains(t, cfg.Entries, "firebase-app")
}
