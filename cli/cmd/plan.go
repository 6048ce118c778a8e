package cmd

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fluxbase-eu/fluxpack/cli/output"
	"github.com/fluxbase-eu/fluxpack/internal/config"
	"github.com/fluxbase-eu/fluxpack/internal/plan"
)

var planDirectives bool

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show the bundle plan",
	Long: `Validate fluxpack.yaml and show the targets in load order.

The plan fails when the root designation matches no entry or more than one,
before anything is built.

Examples:
  fluxpack plan
  fluxpack plan --directives
  fluxpack plan -o yaml`,
	RunE: runPlan,
}

func init() {
	planCmd.Flags().BoolVar(&planDirectives, "directives", false, "include the wrap header and footer of every target")
}

type planTarget struct {
	Order    int      `json:"order" yaml:"order"`
	Name     string   `json:"name" yaml:"name"`
	Role     string   `json:"role" yaml:"role"`
	File     string   `json:"file" yaml:"file"`
	Source   string   `json:"source" yaml:"source"`
	Requires []string `json:"requires,omitempty" yaml:"requires,omitempty"`

	Directive *plan.WrapDirective `json:"directive,omitempty" yaml:"directive,omitempty"`
}

type planResult struct {
	Namespace  string       `json:"namespace" yaml:"namespace"`
	Root       string       `json:"root" yaml:"root"`
	Standalone string       `json:"standalone,omitempty" yaml:"standalone,omitempty"`
	Targets    []planTarget `json:"targets" yaml:"targets"`
}

func (r planResult) Table() output.TableData {
	data := output.TableData{Headers: []string{"ORDER", "TARGET", "ROLE", "FILE", "SOURCE", "REQUIRES"}}
	for _, t := range r.Targets {
		data.Rows = append(data.Rows, []string{
			strconv.Itoa(t.Order),
			t.Name,
			t.Role,
			t.File,
			t.Source,
			strings.Join(t.Requires, ", "),
		})
	}
	return data
}

// loadPlan builds the plan of cfg
func loadPlan(cfg *config.Config) (*plan.Plan, error) {
	return plan.NewPlan(cfg.EntryDescriptors(), cfg.RootDesignation())
}

func newPlanResult(cfg *config.Config, p *plan.Plan, directives bool) planResult {
	result := planResult{
		Namespace: p.Designation().Namespace,
		Root:      p.Root().FileName(),
	}
	if cfg.Standalone.Enabled() {
		result.Standalone = cfg.Standalone.Name + plan.FileExtension
	}

	for i, t := range p.Targets() {
		pt := planTarget{
			Order:    i + 1,
			Name:     t.Entry.Name,
			Role:     string(t.Role),
			File:     t.Entry.FileName(),
			Source:   relativeTo(cfg.ProjectDir, t.Entry.SourcePath),
			Requires: t.Entry.Requires,
		}
		if directives {
			d := t.Directive
			pt.Directive = &d
		}
		result.Targets = append(result.Targets, pt)
	}
	return result
}

func runPlan(cmd *cobra.Command, args []string) error {
	cfg, err := loadProject()
	if err != nil {
		return err
	}

	p, err := loadPlan(cfg)
	if err != nil {
		return err
	}

	result := newPlanResult(cfg, p, planDirectives)
	if err := formatter.Print(result); err != nil {
		return err
	}

	if planDirectives && formatter.Format == output.FormatTable && !formatter.Quiet {
		w := formatter.Writer
		for _, t := range result.Targets {
			_, _ = fmt.Fprintf(w, "\n--- %s (%s) ---\n", t.File, t.Role)
			_, _ = fmt.Fprint(w, t.Directive.Header)
			_, _ = fmt.Fprintf(w, "  /* %s */", t.Source)
			_, _ = fmt.Fprint(w, t.Directive.Footer)
		}
	}
	return nil
}

// relativeTo returns path relative to dir when it lies below it
func relativeTo(dir, path string) string {
	if dir == "" {
		return path
	}
	rel, err := filepath.Rel(dir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return filepath.ToSlash(rel)
}
