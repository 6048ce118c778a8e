package bundler

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fluxbase-eu/fluxpack/internal/manifest"
)

// Analyzer reports what went into built bundles using their esbuild metafiles
type Analyzer struct {
	outputDir string
}

// NewAnalyzer creates an analyzer for a build output directory
func NewAnalyzer(outputDir string) *Analyzer {
	return &Analyzer{outputDir: outputDir}
}

// AnalyzeManifest analyzes every target of a manifest. Dependents that bundle
// the root's source get a warning, since the root is meant to be loaded once.
func (a *Analyzer) AnalyzeManifest(m *manifest.Manifest) ([]*AnalysisResult, error) {
	var rootSource string
	for _, t := range m.Targets {
		if t.Role == manifest.RoleRoot {
			rootSource = t.Source
		}
	}

	var results []*AnalysisResult
	for _, t := range m.AllTargets() {
		result, err := a.AnalyzeTarget(t)
		if err != nil {
			return nil, err
		}
		if t.Role == manifest.RoleDependent && rootSource != "" {
			for _, f := range result.InputFiles {
				if f.Path == rootSource {
					result.Warnings = append(result.Warnings, fmt.Sprintf(
						"bundles its own copy of the root source %s; import it through a namespace import instead", rootSource))
				}
			}
		}
		results = append(results, result)
	}
	return results, nil
}

// AnalyzeTarget reads and analyzes the metafile of one target
func (a *Analyzer) AnalyzeTarget(t manifest.Target) (*AnalysisResult, error) {
	if t.Metafile == "" {
		return nil, fmt.Errorf("target %s has no metafile", t.Name)
	}

	data, err := os.ReadFile(filepath.Join(a.outputDir, filepath.FromSlash(t.Metafile)))
	if err != nil {
		return nil, fmt.Errorf("failed to read metafile for %s: %w", t.Name, err)
	}

	meta, err := parseMetafile(data)
	if err != nil {
		return nil, err
	}

	return a.analyzeMetafile(meta, t)
}

// analyzeMetafile processes the metafile and returns analysis
func (a *Analyzer) analyzeMetafile(meta *metafile, t manifest.Target) (*AnalysisResult, error) {
	result := &AnalysisResult{
		TargetName: t.Name,
		Role:       t.Role,
	}

	output, ok := meta.output(t.File)
	if !ok {
		return nil, fmt.Errorf("metafile for %s has no output %s", t.Name, t.File)
	}
	result.TotalBytes = output.Bytes

	for _, imp := range output.Imports {
		if imp.External {
			result.ExternalImports = append(result.ExternalImports, imp.Path)
		}
	}

	for inputPath, contrib := range output.Inputs {
		inputInfo, ok := meta.Inputs[inputPath]
		if !ok {
			continue
		}

		displayPath := inputPath
		isNamespace := strings.HasPrefix(inputPath, namespaceModule+":")
		if isNamespace {
			displayPath = "<namespace " + strings.TrimPrefix(inputPath, namespaceModule+":") + ">"
		}

		percentage := 0.0
		if result.TotalBytes > 0 {
			percentage = float64(contrib.BytesInOutput) / float64(result.TotalBytes) * 100
		}

		result.InputFiles = append(result.InputFiles, FileAnalysis{
			Path:          displayPath,
			Bytes:         inputInfo.Bytes,
			BytesInOutput: contrib.BytesInOutput,
			Percentage:    percentage,
			ImportCount:   len(inputInfo.Imports),
			IsExternal:    isNamespace,
		})
	}

	// Largest contribution first, then by path for a stable order
	sort.Slice(result.InputFiles, func(i, j int) bool {
		if result.InputFiles[i].BytesInOutput != result.InputFiles[j].BytesInOutput {
			return result.InputFiles[i].BytesInOutput > result.InputFiles[j].BytesInOutput
		}
		return result.InputFiles[i].Path < result.InputFiles[j].Path
	})

	sort.Strings(result.ExternalImports)

	return result, nil
}
