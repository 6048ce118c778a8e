package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fluxbase-eu/fluxpack/cli/output"
	"github.com/fluxbase-eu/fluxpack/cli/util"
	"github.com/fluxbase-eu/fluxpack/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the project configuration",
	Long:  `Create a starter fluxpack.yaml or show the configuration in effect.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a starter fluxpack.yaml",
	Long: `Create a fluxpack.yaml in the current directory (or at --config).

Examples:
  fluxpack config init
  fluxpack config init --force`,
	RunE: runConfigInit,
}

var configViewCmd = &cobra.Command{
	Use:   "view",
	Short: "Display the configuration in effect",
	Long: `Show the configuration after defaults, the config file and FLUXPACK_*
environment variables are applied. Secrets are masked.

Examples:
  fluxpack config view
  fluxpack config view -o yaml`,
	RunE: runConfigView,
}

var configInitForce bool

func init() {
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "overwrite an existing file")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configViewCmd)
}

const starterConfig = `name: %s
version: 0.1.0
namespace: %s
root: %s-app

entries:
  %[3]s-app:
    source: src/app.js
  %[3]s-auth:
    source: src/auth.js

build:
  namespace_imports: ["@%[3]s/app"]

output:
  dir: dist
  source_map: true
  target: es2017

compression:
  algorithms: [gzip, brotli]

publish:
  provider: local
  local_path: ./cdn
`

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := cfgFile
	if path == "" {
		path = "fluxpack.yaml"
	}

	if _, err := os.Stat(path); err == nil && !configInitForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	name := sanitizeName(filepath.Base(filepath.Dir(abs)))

	content := fmt.Sprintf(starterConfig, name, strings.ReplaceAll(name, "-", "_"), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	formatter.PrintSuccess(fmt.Sprintf("Created %s", path))
	return nil
}

// sanitizeName turns a directory name into a valid entry name prefix
func sanitizeName(dir string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(dir) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	name := strings.Trim(b.String(), "-_")
	if name == "" || name[0] < 'a' {
		name = "lib" + name
	}
	return name
}

type configView struct {
	config.Config `yaml:",inline"`
}

func (v configView) Table() output.TableData {
	c := &v.Config
	data := output.TableData{Headers: []string{"KEY", "VALUE"}}
	add := func(key string, value interface{}) {
		data.Rows = append(data.Rows, []string{key, fmt.Sprint(value)})
	}

	add("project", c.ProjectDir)
	add("name", c.Name)
	add("version", c.Version)
	add("namespace", c.Namespace)
	add("root", c.Root)

	names := make([]string, 0, len(c.Entries))
	for name := range c.Entries {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		e := c.Entries[name]
		value := e.Source
		if len(e.Requires) > 0 {
			value += " (requires " + strings.Join(e.Requires, ", ") + ")"
		}
		add("entries."+name, value)
	}
	if c.Standalone.Enabled() {
		add("standalone", c.Standalone.Name+" <- "+c.Standalone.Source)
	}

	add("output.dir", c.OutputDir())
	add("output.target", c.Output.Target)
	add("output.platform", c.Output.Platform)
	add("output.source_map", c.Output.SourceMap)
	add("minify.enabled", c.Minify.Enabled)
	add("minify.mangle_props", c.Minify.MangleProps)
	add("compression.enabled", c.Compression.Enabled)
	add("compression.algorithms", strings.Join(c.Compression.Algorithms, ", "))
	add("build.concurrency", c.Build.Concurrency)
	add("build.namespace_imports", strings.Join(c.Build.NamespaceImports, ", "))
	add("publish.provider", c.Publish.Provider)
	add("publish.bucket", c.Publish.Bucket)
	add("publish.prefix", c.Publish.Prefix)
	if c.Publish.Provider == "s3" {
		add("publish.s3_endpoint", c.Publish.S3Endpoint)
		add("publish.s3_access_key", util.MaskToken(c.Publish.S3AccessKey))
	}
	add("serve.address", c.Serve.Address)
	add("metrics.enabled", c.Metrics.Enabled)
	add("tracing.enabled", c.Tracing.Enabled)
	return data
}

func runConfigView(cmd *cobra.Command, args []string) error {
	cfg, err := loadProject()
	if err != nil {
		return err
	}

	view := configView{*cfg}
	if view.Publish.S3SecretKey != "" {
		view.Publish.S3SecretKey = "****"
	}
	return formatter.Print(view)
}
