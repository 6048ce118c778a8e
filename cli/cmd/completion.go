package cmd

import (
	"github.com/spf13/cobra"
)

var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate shell completion scripts",
	Long: `Generate shell completion scripts for the fluxpack CLI.

To load completions:

Bash:
  $ source <(fluxpack completion bash)

  # To load completions for each session, execute once:
  # Linux:
  $ fluxpack completion bash > /etc/bash_completion.d/fluxpack
  # macOS:
  $ fluxpack completion bash > $(brew --prefix)/etc/bash_completion.d/fluxpack

Zsh:
  # If shell completion is not already enabled in your environment,
  # you will need to enable it. You can execute the following once:
  $ echo "autoload -U compinit; compinit" >> ~/.zshrc

  # To load completions for each session, execute once:
  $ fluxpack completion zsh > "${fpath[1]}/_fluxpack"

  # You will need to start a new shell for this setup to take effect.

Fish:
  $ fluxpack completion fish | source

  # To load completions for each session, execute once:
  $ fluxpack completion fish > ~/.config/fish/completions/fluxpack.fish

PowerShell:
  PS> fluxpack completion powershell | Out-String | Invoke-Expression

  # To load completions for every new session, run:
  PS> fluxpack completion powershell > fluxpack.ps1
  # and source this file from your PowerShell profile.
`,
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		switch args[0] {
		case "bash":
			return cmd.Root().GenBashCompletionV2(cmd.OutOrStdout(), true)
		case "zsh":
			return cmd.Root().GenZshCompletion(cmd.OutOrStdout())
		case "fish":
			return cmd.Root().GenFishCompletion(cmd.OutOrStdout(), true)
		case "powershell":
			return cmd.Root().GenPowerShellCompletionWithDesc(cmd.OutOrStdout())
		}
		return nil
	},
}
