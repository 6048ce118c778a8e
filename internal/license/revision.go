package license

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// UnknownRevision is used when the project is not inside a git checkout
const UnknownRevision = "unknown"

// RevisionSource resolves the source revision stamped into banners
type RevisionSource interface {
	Revision(ctx context.Context, dir string) (string, error)
}

// GitRevision asks the git binary for the abbreviated HEAD commit
type GitRevision struct {
	gitPath string
}

// NewGitRevision creates a git-backed revision source.
// Returns an error if git is not installed.
func NewGitRevision() (*GitRevision, error) {
	gitPath, err := exec.LookPath("git")
	if err != nil {
		return nil, fmt.Errorf("git executable not found in PATH: %w", err)
	}
	return &GitRevision{gitPath: gitPath}, nil
}

// Revision returns the short hash of HEAD in dir
func (g *GitRevision) Revision(ctx context.Context, dir string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, g.gitPath, "rev-parse", "--short", "HEAD")
	cmd.Dir = dir

	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git rev-parse failed in %s: %w", dir, err)
	}

	rev := strings.TrimSpace(string(out))
	if rev == "" {
		return "", fmt.Errorf("git rev-parse returned an empty revision")
	}
	return rev, nil
}

// ResolveRevision returns override when set, otherwise asks src. Failures
// fall back to UnknownRevision so builds outside a checkout still work.
func ResolveRevision(ctx context.Context, src RevisionSource, dir, override string) string {
	if override != "" {
		return override
	}
	if src == nil {
		return UnknownRevision
	}

	rev, err := src.Revision(ctx, dir)
	if err != nil {
		log.Debug().Err(err).Str("dir", dir).Msg("Could not resolve git revision")
		return UnknownRevision
	}
	return rev
}
