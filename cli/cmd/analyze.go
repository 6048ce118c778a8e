package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fluxbase-eu/fluxpack/cli/bundler"
	"github.com/fluxbase-eu/fluxpack/cli/output"
	"github.com/fluxbase-eu/fluxpack/internal/manifest"
)

var analyzeDetails bool

var analyzeCmd = &cobra.Command{
	Use:   "analyze [target...]",
	Short: "Show what went into the built bundles",
	Long: `Analyze the esbuild metafiles of the last build.

Dependents that bundle their own copy of the root source are reported, since
the root must only be loaded once.

Examples:
  fluxpack analyze
  fluxpack analyze firebase-auth --details
  fluxpack analyze -o json`,
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().BoolVar(&analyzeDetails, "details", false, "list every input file")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	cfg, err := loadProject()
	if err != nil {
		return err
	}

	m, err := manifest.Read(cfg.OutputDir())
	if err != nil {
		return err
	}

	results, err := bundler.NewAnalyzer(cfg.OutputDir()).AnalyzeManifest(m)
	if err != nil {
		return err
	}

	if len(args) > 0 {
		byName := make(map[string]*bundler.AnalysisResult, len(results))
		for _, r := range results {
			byName[r.TargetName] = r
		}
		var selected []*bundler.AnalysisResult
		for _, name := range args {
			r, ok := byName[name]
			if !ok {
				return fmt.Errorf("target %q is not in the manifest", name)
			}
			selected = append(selected, r)
		}
		results = selected
	}

	if formatter.Format != output.FormatTable {
		return formatter.Print(results)
	}
	if formatter.Quiet {
		return nil
	}

	for _, r := range results {
		bundler.DisplayAnalysis(formatter.Writer, r, analyzeDetails)
	}
	if len(results) > 1 {
		bundler.DisplaySummary(formatter.Writer, results)
	}
	return nil
}
