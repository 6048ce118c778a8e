package cmd

import (
	"runtime"

	"github.com/spf13/cobra"

	"github.com/fluxbase-eu/fluxpack/cli/output"
)

type versionInfo struct {
	Version   string `json:"version" yaml:"version"`
	Commit    string `json:"commit" yaml:"commit"`
	BuildDate string `json:"build_date" yaml:"build_date"`
	Go        string `json:"go" yaml:"go"`
}

func (v versionInfo) Table() output.TableData {
	return output.TableData{
		Headers: []string{"VERSION", "COMMIT", "BUILD DATE", "GO"},
		Rows:    [][]string{{v.Version, v.Commit, v.BuildDate, v.Go}},
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show CLI version information",
	Long:  `Display the version, commit hash, and build date of the fluxpack CLI.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return formatter.Print(versionInfo{
			Version:   Version,
			Commit:    Commit,
			BuildDate: BuildDate,
			Go:        runtime.Version(),
		})
	},
}
