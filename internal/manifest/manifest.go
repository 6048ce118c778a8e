// Package manifest describes the files a build produced and the order a host
// page must load them in.
package manifest

import (
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// FileName is the manifest's name inside the output directory
const FileName = "manifest.json"

// Role of a built file. Root and dependent mirror plan roles; standalone is the
// optional all-in-one bundle that needs no other file.
const (
	RoleRoot       = "root"
	RoleDependent  = "dependent"
	RoleStandalone = "standalone"
)

// Manifest is written next to the build outputs
type Manifest struct {
	BuildID   string    `json:"build_id" yaml:"build_id"`
	Name      string    `json:"name" yaml:"name"`
	Version   string    `json:"version" yaml:"version"`
	Revision  string    `json:"revision" yaml:"revision"`
	Namespace string    `json:"namespace" yaml:"namespace"`
	Root      string    `json:"root" yaml:"root"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`

	// LoadOrder lists the plan's file names, root first
	LoadOrder []string `json:"load_order" yaml:"load_order"`

	Targets    []Target `json:"targets" yaml:"targets"`
	Standalone *Target  `json:"standalone,omitempty" yaml:"standalone,omitempty"`
}

// Target records one output bundle
type Target struct {
	Name       string       `json:"name" yaml:"name"`
	Role       string       `json:"role" yaml:"role"`
	File       string       `json:"file" yaml:"file"`
	Source     string       `json:"source" yaml:"source"` // Relative to the project directory
	Size       int64        `json:"size" yaml:"size"`
	Integrity  string       `json:"integrity" yaml:"integrity"`
	SourceMap  string       `json:"source_map,omitempty" yaml:"source_map,omitempty"`
	Metafile   string       `json:"metafile,omitempty" yaml:"metafile,omitempty"`
	Requires   []string     `json:"requires,omitempty" yaml:"requires,omitempty"`
	Compressed []Compressed `json:"compressed,omitempty" yaml:"compressed,omitempty"`
}

// Compressed is a precompressed sibling of a target
type Compressed struct {
	File     string `json:"file" yaml:"file"`
	Encoding string `json:"encoding" yaml:"encoding"`
	Size     int64  `json:"size" yaml:"size"`
}

// AllTargets returns the plan targets followed by the standalone bundle
func (m *Manifest) AllTargets() []Target {
	out := make([]Target, 0, len(m.Targets)+1)
	out = append(out, m.Targets...)
	if m.Standalone != nil {
		out = append(out, *m.Standalone)
	}
	return out
}

// Target looks up a target by name, including the standalone bundle
func (m *Manifest) Target(name string) (Target, bool) {
	for _, t := range m.AllTargets() {
		if t.Name == name {
			return t, true
		}
	}
	return Target{}, false
}

// Files returns every publishable file relative to the output directory.
// Metafiles are analysis artifacts and are not included.
func (m *Manifest) Files() []string {
	var files []string
	for _, t := range m.AllTargets() {
		files = append(files, t.File)
		if t.SourceMap != "" {
			files = append(files, t.SourceMap)
		}
		for _, c := range t.Compressed {
			files = append(files, c.File)
		}
	}
	return files
}

// Integrity returns the subresource integrity value for data
func Integrity(data []byte) string {
	sum := sha512.Sum384(data)
	return "sha384-" + base64.StdEncoding.EncodeToString(sum[:])
}

// Write stores the manifest in dir
func Write(dir string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	data = append(data, '\n')

	if err := os.WriteFile(filepath.Join(dir, FileName), data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

// Read loads the manifest from dir
func Read(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("no %s in %s - run 'fluxpack build' first", FileName, dir)
		}
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return &m, nil
}
