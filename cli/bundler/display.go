package bundler

import (
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/olekukonko/tablewriter"
)

// defaultBreakdownRows caps the per-input breakdown unless details are requested
const defaultBreakdownRows = 10

// DisplayAnalysis prints the analysis of one target
func DisplayAnalysis(w io.Writer, result *AnalysisResult, showDetails bool) {
	_, _ = fmt.Fprintf(w, "\n=== Bundle Analysis: %s (%s) ===\n", result.TargetName, result.Role)
	_, _ = fmt.Fprintf(w, "Total bundle size: %s\n", formatBytesHuman(result.TotalBytes))

	if len(result.ExternalImports) > 0 {
		_, _ = fmt.Fprintln(w, "\nExternal imports (left to the host page):")
		printList(w, result.ExternalImports)
	}

	if len(result.InputFiles) > 0 {
		_, _ = fmt.Fprintln(w, "\nBundle breakdown:")

		files := result.InputFiles
		hidden := 0
		if !showDetails && len(files) > defaultBreakdownRows {
			hidden = len(files) - defaultBreakdownRows
			files = files[:defaultBreakdownRows]
		}

		table := newTable(w, "INPUT", "SIZE", "SHARE", "")
		table.SetColumnAlignment([]int{
			tablewriter.ALIGN_LEFT, tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_LEFT,
		})
		for _, file := range files {
			note := ""
			if file.IsExternal {
				note = "(from root)"
			}
			table.Append([]string{
				truncatePath(file.Path, 50),
				formatBytesHuman(file.BytesInOutput),
				fmt.Sprintf("%.1f%%", file.Percentage),
				note,
			})
		}
		table.Render()

		if hidden > 0 {
			_, _ = fmt.Fprintf(w, "  ... and %d more inputs (use --details)\n", hidden)
		}
	}

	if len(result.Warnings) > 0 {
		_, _ = fmt.Fprintln(w, "\nWarnings:")
		printList(w, result.Warnings)
	}

	_, _ = fmt.Fprintln(w)
}

// DisplaySummary prints one row per target, largest first, and the total size
func DisplaySummary(w io.Writer, results []*AnalysisResult) {
	if len(results) == 0 {
		return
	}

	_, _ = fmt.Fprintln(w, "\n=== Bundle Size Summary ===")

	sorted := make([]*AnalysisResult, len(results))
	copy(sorted, results)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].TotalBytes > sorted[j].TotalBytes
	})

	table := newTable(w, "TARGET", "ROLE", "BUNDLE SIZE", "INPUTS", "EXTERNALS")
	table.SetColumnAlignment([]int{
		tablewriter.ALIGN_LEFT, tablewriter.ALIGN_LEFT,
		tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_RIGHT,
	})

	total := 0
	for _, r := range sorted {
		total += r.TotalBytes
		table.Append([]string{
			r.TargetName,
			r.Role,
			formatBytesHuman(r.TotalBytes),
			strconv.Itoa(len(r.InputFiles)),
			strconv.Itoa(len(r.ExternalImports)),
		})
	}
	table.Append([]string{"TOTAL", "", formatBytesHuman(total), "", ""})
	table.Render()
	_, _ = fmt.Fprintln(w)
}

func newTable(w io.Writer, headers ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(headers)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)
	return table
}

func printList(w io.Writer, items []string) {
	for _, item := range items {
		_, _ = fmt.Fprintf(w, "  - %s\n", item)
	}
}

// formatBytesHuman formats a byte count with two decimals
func formatBytesHuman(bytes int) string {
	const (
		KB = 1024
		MB = 1024 * KB
	)
	switch {
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// truncatePath keeps the last maxLen characters of path
func truncatePath(path string, maxLen int) string {
	if len(path) <= maxLen {
		return path
	}
	return "..." + path[len(path)-maxLen+3:]
}
