package bundler

import (
	"encoding/json"
	"fmt"
	"strings"
)

// metafile is the part of esbuild's metafile the analyzer reads
type metafile struct {
	Inputs  map[string]metafileInput  `json:"inputs"`
	Outputs map[string]metafileOutput `json:"outputs"`
}

type metafileInput struct {
	Bytes   int              `json:"bytes"`
	Imports []metafileImport `json:"imports"`
}

type metafileImport struct {
	Path     string `json:"path"`
	External bool   `json:"external,omitempty"`
}

type metafileOutput struct {
	Bytes   int                           `json:"bytes"`
	Inputs  map[string]outputContribution `json:"inputs"`
	Imports []metafileImport              `json:"imports"`
}

type outputContribution struct {
	BytesInOutput int `json:"bytesInOutput"`
}

func parseMetafile(data []byte) (*metafile, error) {
	var m metafile
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse metafile: %w", err)
	}
	return &m, nil
}

// output returns the entry for a bundle file. Output keys are relative to
// the working directory of the build, so they are matched by suffix.
func (m *metafile) output(file string) (metafileOutput, bool) {
	for key, out := range m.Outputs {
		if key == file || strings.HasSuffix(key, "/"+file) {
			return out, true
		}
	}
	return metafileOutput{}, false
}

// AnalysisResult describes what went into one bundle
type AnalysisResult struct {
	TargetName      string         `json:"target" yaml:"target"`
	Role            string         `json:"role" yaml:"role"`
	TotalBytes      int            `json:"total_bytes" yaml:"total_bytes"`
	InputFiles      []FileAnalysis `json:"inputs" yaml:"inputs"`
	ExternalImports []string       `json:"external_imports,omitempty" yaml:"external_imports,omitempty"`
	Warnings        []string       `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

// FileAnalysis is one input's share of a bundle. IsExternal marks the
// namespace shim, whose code lives in the root bundle.
type FileAnalysis struct {
	Path          string  `json:"path" yaml:"path"`
	Bytes         int     `json:"bytes" yaml:"bytes"`
	BytesInOutput int     `json:"bytes_in_output" yaml:"bytes_in_output"`
	Percentage    float64 `json:"percentage" yaml:"percentage"`
	ImportCount   int     `json:"import_count" yaml:"import_count"`
	IsExternal    bool    `json:"from_root,omitempty" yaml:"from_root,omitempty"`
}
