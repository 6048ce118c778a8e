// Package plan builds the ordered list of bundle targets for a multi-entry
// build and the wrap directives that enforce their runtime load order.
package plan

import (
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"
)

// FileExtension is appended to entry names to form output file names
const FileExtension = ".js"

// EntryDescriptor is a named build target mapped to a source location
type EntryDescriptor struct {
	Name       string   `json:"name" yaml:"name"`
	SourcePath string   `json:"source" yaml:"source"`
	Requires   []string `json:"requires,omitempty" yaml:"requires,omitempty"`
}

// FileName returns the output file name for the entry (e.g. "firebase-auth.js")
func (d EntryDescriptor) FileName() string {
	if strings.HasSuffix(d.Name, FileExtension) {
		return d.Name
	}
	return d.Name + FileExtension
}

// BaseName returns the last path segment of the entry name without extension.
// It is what the root predicate compares against.
func (d EntryDescriptor) BaseName() string {
	return strings.TrimSuffix(path.Base(d.Name), FileExtension)
}

// RootDesignation names the single entry that initializes the shared namespace
type RootDesignation struct {
	// Name is compared with EntryDescriptor.BaseName
	Name string `json:"name" yaml:"name"`

	// Namespace is the global identifier the root bundle installs
	Namespace string `json:"namespace" yaml:"namespace"`
}

// Matches reports whether the descriptor is the root of the plan. A
// designation written as a file name ("firebase-app.js") matches too.
func (r RootDesignation) Matches(d EntryDescriptor) bool {
	name := strings.TrimSuffix(r.Name, FileExtension)
	return name != "" && d.BaseName() == name
}

// Role describes a target's position in the plan
type Role string

const (
	RoleRoot      Role = "root"
	RoleDependent Role = "dependent"
)

// Target is one build target of a validated plan
type Target struct {
	Entry     EntryDescriptor `json:"entry" yaml:"entry"`
	Role      Role            `json:"role" yaml:"role"`
	Directive WrapDirective   `json:"directive" yaml:"directive"`
}

// Plan is a validated, ordered set of build targets
type Plan struct {
	designation RootDesignation
	root        EntryDescriptor
	targets     []Target
	index       map[string]int
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

// NewPlan validates the entries against the root designation and computes a
// wrap directive for every target. Validation happens before any directive is
// computed, so an invalid plan never yields partial output.
func NewPlan(entries []EntryDescriptor, designation RootDesignation) (*Plan, error) {
	if err := validateEntries(entries); err != nil {
		return nil, err
	}

	if !identifierPattern.MatchString(designation.Namespace) {
		return nil, newConfigError(ErrInvalidNamespace,
			fmt.Sprintf("namespace %q is not a valid identifier", designation.Namespace))
	}

	root, err := findRoot(entries, designation)
	if err != nil {
		return nil, err
	}

	ordered, err := orderEntries(entries, root)
	if err != nil {
		return nil, err
	}

	p := &Plan{
		designation: designation,
		root:        root,
		targets:     make([]Target, 0, len(ordered)),
		index:       make(map[string]int, len(ordered)),
	}

	for _, entry := range ordered {
		role := RoleDependent
		if entry.Name == root.Name {
			role = RoleRoot
		}
		p.index[entry.Name] = len(p.targets)
		p.targets = append(p.targets, Target{
			Entry:     entry,
			Role:      role,
			Directive: ComputeWrapDirective(entry, root, designation.Namespace),
		})
	}

	return p, nil
}

// Root returns the root entry
func (p *Plan) Root() EntryDescriptor {
	return p.root
}

// Designation returns the root designation the plan was built with
func (p *Plan) Designation() RootDesignation {
	return p.designation
}

// Targets returns the targets in load order, root first
func (p *Plan) Targets() []Target {
	out := make([]Target, len(p.targets))
	copy(out, p.targets)
	return out
}

// Target returns the named target
func (p *Plan) Target(name string) (Target, bool) {
	i, ok := p.index[name]
	if !ok {
		return Target{}, false
	}
	return p.targets[i], true
}

// Directive returns the wrap directive of the named target
func (p *Plan) Directive(name string) (WrapDirective, bool) {
	t, ok := p.Target(name)
	return t.Directive, ok
}

// LoadOrder returns output file names in the order a host page must load them
func (p *Plan) LoadOrder() []string {
	files := make([]string, len(p.targets))
	for i, t := range p.targets {
		files[i] = t.Entry.FileName()
	}
	return files
}

func validateEntries(entries []EntryDescriptor) error {
	if len(entries) == 0 {
		return newConfigError(ErrNoEntries, "plan has no entries")
	}

	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if strings.TrimSpace(e.Name) == "" {
			return newConfigError(ErrInvalidEntry, "entry name cannot be empty")
		}
		if strings.TrimSpace(e.SourcePath) == "" {
			return newConfigError(ErrInvalidEntry,
				fmt.Sprintf("entry %q has no source path", e.Name), e.Name)
		}
		if seen[e.Name] {
			return newConfigError(ErrDuplicateEntry,
				fmt.Sprintf("entry %q is declared more than once", e.Name), e.Name)
		}
		seen[e.Name] = true
	}

	return nil
}

func findRoot(entries []EntryDescriptor, designation RootDesignation) (EntryDescriptor, error) {
	var matches []EntryDescriptor
	for _, e := range entries {
		if designation.Matches(e) {
			matches = append(matches, e)
		}
	}

	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return EntryDescriptor{}, newConfigError(ErrNoRoot,
			fmt.Sprintf("no entry matches root %q", designation.Name))
	default:
		names := make([]string, len(matches))
		for i, m := range matches {
			names[i] = m.Name
		}
		sort.Strings(names)
		return EntryDescriptor{}, newConfigError(ErrMultipleRoots,
			fmt.Sprintf("%d entries match root %q", len(matches), designation.Name), names...)
	}
}

// orderEntries returns the root followed by the dependents in dependency
// order. Ties are broken by name so the order is stable across runs.
func orderEntries(entries []EntryDescriptor, root EntryDescriptor) ([]EntryDescriptor, error) {
	byName := make(map[string]EntryDescriptor, len(entries))
	for _, e := range entries {
		byName[e.Name] = e
	}

	if len(root.Requires) > 0 {
		return nil, newConfigError(ErrRootRequires,
			fmt.Sprintf("root %q cannot require other entries", root.Name), root.Name)
	}

	// Edges point from a requirement to the entries that need it. Edges to the
	// root are implicit for every dependent and do not need tracking.
	indegree := make(map[string]int, len(entries))
	dependents := make(map[string][]string, len(entries))
	for _, e := range entries {
		if e.Name != root.Name {
			indegree[e.Name] = 0
		}
	}
	for _, e := range entries {
		if e.Name == root.Name {
			continue
		}
		for _, req := range e.Requires {
			if _, ok := byName[req]; !ok {
				return nil, newConfigError(ErrUnknownRequirement,
					fmt.Sprintf("entry %q requires unknown entry %q", e.Name, req), e.Name)
			}
			if req == root.Name {
				continue
			}
			if req == e.Name {
				return nil, newConfigError(ErrDependencyCycle,
					fmt.Sprintf("entry %q requires itself", e.Name), e.Name)
			}
			indegree[e.Name]++
			dependents[req] = append(dependents[req], e.Name)
		}
	}

	var ready []string
	for name, n := range indegree {
		if n == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	ordered := []EntryDescriptor{root}
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		ordered = append(ordered, byName[name])

		next := dependents[name]
		sort.Strings(next)
		for _, dep := range next {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
		sort.Strings(ready)
	}

	if len(ordered) != len(entries) {
		var stuck []string
		for name, n := range indegree {
			if n > 0 {
				stuck = append(stuck, name)
			}
		}
		sort.Strings(stuck)
		return nil, newConfigError(ErrDependencyCycle,
			fmt.Sprintf("dependency cycle between %s", strings.Join(stuck, ", ")), stuck...)
	}

	return ordered, nil
}
