package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/fluxbase-eu/fluxpack/internal/compress"
	"github.com/fluxbase-eu/fluxpack/internal/observability"
	"github.com/fluxbase-eu/fluxpack/internal/plan"
)

// Config represents a fluxpack project configuration
type Config struct {
	// Name and Version are stamped into the license banner
	Name    string `mapstructure:"name"`
	Version string `mapstructure:"version"`

	// Namespace is the global the root bundle installs
	Namespace string `mapstructure:"namespace"`

	// Root names the entry that initializes the namespace. It is compared
	// with the base name of each entry and must match exactly one.
	Root string `mapstructure:"root"`

	Entries     map[string]EntryConfig      `mapstructure:"entries"`
	Standalone  StandaloneConfig            `mapstructure:"standalone"`
	Output      OutputConfig                `mapstructure:"output"`
	Minify      MinifyConfig                `mapstructure:"minify"`
	License     LicenseConfig               `mapstructure:"license"`
	Compression CompressionConfig           `mapstructure:"compression"`
	Build       BuildConfig                 `mapstructure:"build"`
	Publish     PublishConfig               `mapstructure:"publish"`
	Serve       ServeConfig                 `mapstructure:"serve"`
	Metrics     observability.MetricsConfig `mapstructure:"metrics"`
	Tracing     observability.TracerConfig  `mapstructure:"tracing"`
	Debug       bool                        `mapstructure:"debug"`

	// ProjectDir is the directory the config file was loaded from; source
	// paths and the output directory are resolved against it.
	ProjectDir string `mapstructure:"-"`
}

// EntryConfig declares one bundle entry
type EntryConfig struct {
	Source   string   `mapstructure:"source"`
	Requires []string `mapstructure:"requires"`
}

// StandaloneConfig declares the optional all-in-one bundle
type StandaloneConfig struct {
	Name   string `mapstructure:"name"`   // Output file stem, e.g. "firebase"
	Source string `mapstructure:"source"` // Entry that re-exports every module
}

// Enabled reports whether a standalone bundle is configured
func (s StandaloneConfig) Enabled() bool {
	return s.Name != "" && s.Source != ""
}

// OutputConfig controls where and for which environment bundles are written
type OutputConfig struct {
	Dir       string `mapstructure:"dir"`
	SourceMap bool   `mapstructure:"source_map"`
	Target    string `mapstructure:"target"`   // esbuild target, e.g. es2017
	Platform  string `mapstructure:"platform"` // browser or neutral
}

// MinifyConfig is forwarded to esbuild
type MinifyConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Whitespace   bool   `mapstructure:"whitespace"`
	Identifiers  bool   `mapstructure:"identifiers"`
	Syntax       bool   `mapstructure:"syntax"`
	MangleProps  string `mapstructure:"mangle_props"`  // Regex of property names to mangle
	ReserveProps string `mapstructure:"reserve_props"` // Regex of property names to keep
	MangleQuoted bool   `mapstructure:"mangle_quoted"` // Also mangle quoted property names
}

// LicenseConfig controls the banner on every bundle
type LicenseConfig struct {
	Template string `mapstructure:"template"`
	Revision string `mapstructure:"revision"` // Overrides git rev-parse
}

// CompressionConfig controls precompressed siblings
type CompressionConfig struct {
	Enabled    bool     `mapstructure:"enabled"`
	Test       string   `mapstructure:"test"`
	Algorithms []string `mapstructure:"algorithms"`
	Threshold  int      `mapstructure:"threshold"`
	MinRatio   float64  `mapstructure:"min_ratio"`
}

// BuildConfig controls build execution
type BuildConfig struct {
	Concurrency int      `mapstructure:"concurrency"`
	External    []string `mapstructure:"external"`
	// NamespaceImports are import specifiers that dependents resolve to the
	// namespace installed by the root bundle (e.g. "@firebase/app")
	NamespaceImports []string `mapstructure:"namespace_imports"`
}

// PublishConfig contains artifact upload settings
type PublishConfig struct {
	Provider        string  `mapstructure:"provider"` // local or s3
	LocalPath       string  `mapstructure:"local_path"`
	Bucket          string  `mapstructure:"bucket"`
	Prefix          string  `mapstructure:"prefix"`
	S3Endpoint      string  `mapstructure:"s3_endpoint"`
	S3AccessKey     string  `mapstructure:"s3_access_key"`
	S3SecretKey     string  `mapstructure:"s3_secret_key"`
	S3Region        string  `mapstructure:"s3_region"`
	S3UseSSL        bool    `mapstructure:"s3_use_ssl"`
	CredentialStore string  `mapstructure:"credential_store"` // file or keychain
	CacheControl    string  `mapstructure:"cache_control"`
	RateLimit       float64 `mapstructure:"rate_limit"` // Uploads per second, 0 = unlimited
}

// ServeConfig contains dev server settings
type ServeConfig struct {
	Address string `mapstructure:"address"`
}

var entryNamePattern = regexp.MustCompile(`^[a-z0-9_][a-z0-9_/-]*$`)

// Load reads configuration from path (or the default search locations when
// path is empty) and environment variables prefixed with FLUXPACK_.
func Load(path string) (*Config, error) {
	// Load .env file if it exists (for local development)
	if err := loadEnvFile(); err != nil {
		log.Debug().Err(err).Msg("No .env file loaded")
	}

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("fluxpack")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvPrefix("FLUXPACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		return nil, fmt.Errorf("no fluxpack.yaml found in . or ./config - pass --config to point at one")
	}
	log.Debug().Str("file", v.ConfigFileUsed()).Msg("Config file loaded")

	if err := checkEntryNames(v.ConfigFileUsed()); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	projectDir, err := filepath.Abs(filepath.Dir(v.ConfigFileUsed()))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project directory: %w", err)
	}
	cfg.ProjectDir = projectDir

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// checkEntryNames rejects entries whose names differ only by case. Viper
// lower-cases map keys, which would otherwise merge them into one entry.
func checkEntryNames(path string) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
	default:
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}

	var raw struct {
		Entries map[string]yaml.Node `yaml:"entries"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}

	names := make([]string, 0, len(raw.Entries))
	for name := range raw.Entries {
		names = append(names, name)
	}
	sort.Strings(names)

	seen := make(map[string]string, len(names))
	for _, name := range names {
		folded := strings.ToLower(name)
		if other, ok := seen[folded]; ok {
			return &plan.PlanConfigurationError{
				Kind:    plan.ErrDuplicateEntry,
				Reason:  fmt.Sprintf("entry names %q and %q differ only by case", other, name),
				Entries: []string{other, name},
			}
		}
		seen[folded] = name
	}
	return nil
}

// loadEnvFile loads environment variables from .env file
func loadEnvFile() error {
	locations := []string{
		".env",
		".env.local",
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			if err := godotenv.Load(location); err != nil {
				return fmt.Errorf("error loading .env file from %s: %w", location, err)
			}
			log.Debug().Str("file", location).Msg(".env file loaded")
			return nil
		}
	}

	return fmt.Errorf("no .env file found")
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("name", "Library")
	v.SetDefault("version", "0.0.0")
	v.SetDefault("namespace", "lib")

	// Output defaults
	v.SetDefault("output.dir", "dist")
	v.SetDefault("output.source_map", true)
	v.SetDefault("output.target", "es2017")
	v.SetDefault("output.platform", "browser")

	// Minify defaults
	v.SetDefault("minify.enabled", true)
	v.SetDefault("minify.whitespace", true)
	v.SetDefault("minify.identifiers", true)
	v.SetDefault("minify.syntax", true)
	v.SetDefault("minify.mangle_props", "^_|_$")
	v.SetDefault("minify.reserve_props", "^__")
	v.SetDefault("minify.mangle_quoted", false)

	// Compression defaults
	v.SetDefault("compression.enabled", true)
	v.SetDefault("compression.test", `\.js$`)
	v.SetDefault("compression.algorithms", []string{"gzip"})
	v.SetDefault("compression.threshold", 0)
	v.SetDefault("compression.min_ratio", 0.8)

	// Build defaults
	v.SetDefault("build.concurrency", runtime.GOMAXPROCS(0))

	// Publish defaults
	v.SetDefault("publish.provider", "local")
	v.SetDefault("publish.local_path", "./cdn")
	v.SetDefault("publish.bucket", "releases")
	v.SetDefault("publish.s3_region", "us-east-1")
	v.SetDefault("publish.s3_use_ssl", true)
	v.SetDefault("publish.credential_store", "file")
	v.SetDefault("publish.cache_control", "public, max-age=31536000, immutable")

	// Serve defaults
	v.SetDefault("serve.address", "127.0.0.1:8080")

	// Observability defaults
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.job", "fluxpack")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4317")
	v.SetDefault("tracing.service_name", "fluxpack")
	v.SetDefault("tracing.environment", "development")
	v.SetDefault("tracing.sample_rate", 1.0)
	v.SetDefault("tracing.insecure", true)

	v.SetDefault("debug", false)
}

// Validate validates the configuration. Plan-level rules (root uniqueness,
// requirements) are checked by plan.NewPlan.
func (c *Config) Validate() error {
	if len(c.Entries) == 0 {
		return fmt.Errorf("at least one entry is required")
	}

	for name := range c.Entries {
		if !entryNamePattern.MatchString(name) {
			return fmt.Errorf("entry name %q must be lowercase letters, digits, '-', '_' or '/'", name)
		}
	}

	if c.Root == "" {
		return fmt.Errorf("root must name the entry that initializes the namespace")
	}

	if c.Output.Dir == "" {
		return fmt.Errorf("output.dir cannot be empty")
	}

	switch c.Output.Platform {
	case "browser", "neutral":
	default:
		return fmt.Errorf("output.platform must be 'browser' or 'neutral', got: %s", c.Output.Platform)
	}

	if c.Build.Concurrency < 1 {
		return fmt.Errorf("build.concurrency must be at least 1, got: %d", c.Build.Concurrency)
	}

	if c.Minify.MangleProps != "" {
		if _, err := regexp.Compile(c.Minify.MangleProps); err != nil {
			return fmt.Errorf("minify.mangle_props is not a valid regex: %w", err)
		}
	}
	if c.Minify.ReserveProps != "" {
		if _, err := regexp.Compile(c.Minify.ReserveProps); err != nil {
			return fmt.Errorf("minify.reserve_props is not a valid regex: %w", err)
		}
	}

	if c.Compression.Enabled {
		if _, err := c.CompressionOptions(); err != nil {
			return fmt.Errorf("compression configuration error: %w", err)
		}
	}

	if err := c.Publish.Validate(); err != nil {
		return fmt.Errorf("publish configuration error: %w", err)
	}

	return nil
}

// Validate validates publish configuration
func (pc *PublishConfig) Validate() error {
	switch pc.Provider {
	case "local":
		if pc.LocalPath == "" {
			return fmt.Errorf("local_path is required for the local provider")
		}
	case "s3":
		if pc.S3Endpoint == "" || pc.S3AccessKey == "" || pc.Bucket == "" {
			return fmt.Errorf("S3 configuration is incomplete")
		}
	default:
		return fmt.Errorf("provider must be 'local' or 's3'")
	}

	switch pc.CredentialStore {
	case "file", "keychain", "":
	default:
		return fmt.Errorf("credential_store must be 'file' or 'keychain', got: %s", pc.CredentialStore)
	}

	if pc.RateLimit < 0 {
		return fmt.Errorf("rate_limit cannot be negative")
	}

	return nil
}

// EntryDescriptors returns the configured entries sorted by name
func (c *Config) EntryDescriptors() []plan.EntryDescriptor {
	names := make([]string, 0, len(c.Entries))
	for name := range c.Entries {
		names = append(names, name)
	}
	sort.Strings(names)

	entries := make([]plan.EntryDescriptor, 0, len(names))
	for _, name := range names {
		e := c.Entries[name]
		entries = append(entries, plan.EntryDescriptor{
			Name:       name,
			SourcePath: c.ResolvePath(e.Source),
			Requires:   e.Requires,
		})
	}
	return entries
}

// RootDesignation returns the plan's root designation
func (c *Config) RootDesignation() plan.RootDesignation {
	return plan.RootDesignation{Name: c.Root, Namespace: c.Namespace}
}

// ResolvePath resolves p against the project directory
func (c *Config) ResolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) || c.ProjectDir == "" {
		return p
	}
	return filepath.Join(c.ProjectDir, p)
}

// OutputDir returns the absolute output directory
func (c *Config) OutputDir() string {
	return c.ResolvePath(c.Output.Dir)
}

// CompressionOptions converts the compression section to compress.Options
func (c *Config) CompressionOptions() (compress.Options, error) {
	opts := compress.Options{
		Test:      c.Compression.Test,
		Threshold: c.Compression.Threshold,
		MinRatio:  c.Compression.MinRatio,
	}
	for _, name := range c.Compression.Algorithms {
		alg, err := compress.ParseAlgorithm(name)
		if err != nil {
			return compress.Options{}, err
		}
		opts.Algorithms = append(opts.Algorithms, alg)
	}
	return opts, nil
}
