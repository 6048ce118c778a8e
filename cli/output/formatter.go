// Package output renders command results for the fluxpack CLI.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"
)

// Format represents the output format
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// ParseFormat parses a format string
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "table", "":
		return FormatTable, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("invalid output format: %s (valid: table, json, yaml)", s)
	}
}

// TableData represents tabular data for table output
type TableData struct {
	Headers []string
	Rows    [][]string
}

// Tabular is implemented by results that have a table rendering. Other
// values are printed as JSON in table mode.
type Tabular interface {
	Table() TableData
}

// Formatter writes results to Writer and diagnostics to ErrWriter
type Formatter struct {
	Format    Format
	NoHeaders bool
	Quiet     bool
	Writer    io.Writer
	ErrWriter io.Writer
}

// NewFormatter creates a formatter writing to stdout and stderr
func NewFormatter(format Format, noHeaders, quiet bool) *Formatter {
	return &Formatter{
		Format:    format,
		NoHeaders: noHeaders,
		Quiet:     quiet,
		Writer:    os.Stdout,
		ErrWriter: os.Stderr,
	}
}

// Print writes data in the configured format. In table mode values that are
// not Tabular fall back to JSON.
func (f *Formatter) Print(data interface{}) error {
	if f.Quiet {
		return nil
	}
	if t, ok := data.(Tabular); ok && f.Format == FormatTable {
		f.renderTable(t.Table())
		return nil
	}
	return f.encode(data)
}

func (f *Formatter) encode(data interface{}) error {
	if f.Format == FormatYAML {
		enc := yaml.NewEncoder(f.Writer)
		enc.SetIndent(2)
		if err := enc.Encode(data); err != nil {
			return err
		}
		return enc.Close()
	}

	enc := json.NewEncoder(f.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

// PrintTable writes data as a table, or in json and yaml mode as a list of
// records keyed by the lower-cased headers
func (f *Formatter) PrintTable(data TableData) {
	if f.Quiet {
		return
	}
	if f.Format == FormatTable {
		f.renderTable(data)
		return
	}
	_ = f.encode(data.records())
}

func (d TableData) records() []map[string]string {
	records := make([]map[string]string, 0, len(d.Rows))
	for _, row := range d.Rows {
		record := make(map[string]string, len(row))
		for i := 0; i < len(row) && i < len(d.Headers); i++ {
			record[strings.ToLower(d.Headers[i])] = row[i]
		}
		records = append(records, record)
	}
	return records
}

// renderTable draws a borderless, tab-padded table like kubectl does
func (f *Formatter) renderTable(data TableData) {
	table := tablewriter.NewWriter(f.Writer)
	if len(data.Headers) > 0 && !f.NoHeaders {
		table.SetHeader(data.Headers)
		table.SetAutoFormatHeaders(true)
		table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
		table.SetHeaderLine(false)
	}
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetTablePadding("\t")
	table.SetNoWhiteSpace(true)
	table.AppendBulk(data.Rows)
	table.Render()
}

// PrintSuccess prints a status line. It goes to ErrWriter in json and yaml
// mode so stdout stays machine readable.
func (f *Formatter) PrintSuccess(message string) {
	if f.Quiet {
		return
	}
	w := f.ErrWriter
	if f.Format == FormatTable {
		w = f.Writer
	}
	_, _ = fmt.Fprintln(w, message)
}

// PrintWarning prints a warning to ErrWriter
func (f *Formatter) PrintWarning(message string) {
	if f.Quiet {
		return
	}
	_, _ = fmt.Fprintln(f.ErrWriter, "Warning:", message)
}
