// Package license renders the license banner prepended to every bundle.
package license

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

// DefaultTemplate matches the banner shipped with the original SDK bundles
const DefaultTemplate = `@license {{.Name}} v{{.Version}}
Build: rev-{{.Revision}}
Terms: https://firebase.google.com/terms/`

// Info holds the values substituted into the banner template
type Info struct {
	Name     string
	Version  string
	Revision string
}

// Banner is a parsed license template
type Banner struct {
	tmpl *template.Template
}

// NewBanner parses a banner template. Placeholders are {{.Name}},
// {{.Version}} and {{.Revision}}.
func NewBanner(text string) (*Banner, error) {
	if strings.TrimSpace(text) == "" {
		text = DefaultTemplate
	}

	tmpl, err := template.New("license").Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("failed to parse license template: %w", err)
	}

	return &Banner{tmpl: tmpl}, nil
}

// Render returns the banner as a preserved block comment ending in a newline
func (b *Banner) Render(info Info) (string, error) {
	var buf bytes.Buffer
	if err := b.tmpl.Execute(&buf, info); err != nil {
		return "", fmt.Errorf("failed to render license banner: %w", err)
	}

	text := strings.ReplaceAll(buf.String(), "*/", "* /")
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")

	var out strings.Builder
	out.WriteString("/*!\n")
	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
		if line == "" {
			out.WriteString(" *\n")
			continue
		}
		out.WriteString(" * ")
		out.WriteString(line)
		out.WriteString("\n")
	}
	out.WriteString(" */\n")

	return out.String(), nil
}
