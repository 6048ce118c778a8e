package plan

import (
	"errors"
	"strings"
)

var (
	ErrNoEntries          = errors.New("no entries")
	ErrInvalidEntry       = errors.New("invalid entry")
	ErrDuplicateEntry     = errors.New("duplicate entry")
	ErrNoRoot             = errors.New("no root entry")
	ErrMultipleRoots      = errors.New("multiple root entries")
	ErrInvalidNamespace   = errors.New("invalid namespace")
	ErrUnknownRequirement = errors.New("unknown requirement")
	ErrRootRequires       = errors.New("root has requirements")
	ErrDependencyCycle    = errors.New("dependency cycle")
)

// PlanConfigurationError is returned by NewPlan when the entries cannot form a
// valid plan. It is raised before any target is built.
type PlanConfigurationError struct {
	// Kind is one of the Err* sentinels and is matched by errors.Is
	Kind    error
	Reason  string
	Entries []string
}

func (e *PlanConfigurationError) Error() string {
	var b strings.Builder
	b.WriteString("invalid bundle plan: ")
	b.WriteString(e.Reason)
	if len(e.Entries) > 1 {
		b.WriteString(" (")
		b.WriteString(strings.Join(e.Entries, ", "))
		b.WriteString(")")
	}
	return b.String()
}

func (e *PlanConfigurationError) Unwrap() error {
	return e.Kind
}

func newConfigError(kind error, reason string, entries ...string) *PlanConfigurationError {
	return &PlanConfigurationError{Kind: kind, Reason: reason, Entries: entries}
}
