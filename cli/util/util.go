// Package util provides prompts and display helpers for the fluxpack CLI.
package util

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"golang.org/x/term"
)

// Prompter reads answers from In and writes prompts to Out. Passwords are
// read without echo when In is a terminal.
type Prompter struct {
	In  io.Reader
	Out io.Writer

	reader *bufio.Reader
}

// NewPrompter creates a prompter on stdin and stderr
func NewPrompter() *Prompter {
	return &Prompter{In: os.Stdin, Out: os.Stderr}
}

func (p *Prompter) lines() *bufio.Reader {
	if p.reader == nil {
		p.reader = bufio.NewReader(p.In)
	}
	return p.reader
}

// ReadLine prints prompt and reads one trimmed line
func (p *Prompter) ReadLine(prompt string) (string, error) {
	_, _ = fmt.Fprint(p.Out, prompt)
	line, err := p.lines().ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// ReadPassword prints prompt and reads a secret
func (p *Prompter) ReadPassword(prompt string) (string, error) {
	f, ok := p.In.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return p.ReadLine(prompt)
	}

	_, _ = fmt.Fprint(p.Out, prompt)
	password, err := term.ReadPassword(int(f.Fd()))
	_, _ = fmt.Fprintln(p.Out) // Newline after the hidden input
	if err != nil {
		return "", err
	}
	return string(password), nil
}

// Confirm asks for a yes/no confirmation
func (p *Prompter) Confirm(prompt string, defaultYes bool) (bool, error) {
	suffix := " [y/N]: "
	if defaultYes {
		suffix = " [Y/n]: "
	}

	answer, err := p.ReadLine(prompt + suffix)
	if err != nil {
		return false, err
	}

	answer = strings.ToLower(answer)
	if answer == "" {
		return defaultYes, nil
	}

	return answer == "y" || answer == "yes", nil
}

// IsInteractive returns true if stdin is a terminal
func IsInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// MaskToken masks a token for display, showing only first and last 4 characters
func MaskToken(token string) string {
	if len(token) <= 8 {
		return "****"
	}
	return token[:4] + strings.Repeat("*", len(token)-8) + token[len(token)-4:]
}

// FormatBytes formats bytes into a human-readable string
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// FormatDuration rounds d for display
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	default:
		return d.Round(time.Second).String()
	}
}

// ShortIntegrity shortens an SRI value for table output
func ShortIntegrity(sri string) string {
	algo, digest, ok := strings.Cut(sri, "-")
	if !ok || len(digest) <= 12 {
		return sri
	}
	return algo + "-" + digest[:12] + "..."
}
