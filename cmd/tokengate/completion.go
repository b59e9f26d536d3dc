package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate shell completion script",
	Long: `Generate shell completion script for tokengate.

To load completions:

Bash:
  $ source <(tokengate completion bash)
  # To load permanently:
  $ tokengate completion bash > /etc/bash_completion.d/tokengate

Zsh:
  $ tokengate completion zsh > "${fpath[1]}/_tokengate"
  $ compinit

Fish:
  $ tokengate completion fish | source
  # To load permanently:
  $ tokengate completion fish > ~/.config/fish/completions/tokengate.fish

PowerShell:
  PS> tokengate completion powershell | Out-String | Invoke-Expression
`,
	ValidArgs: []string{"bash", "zsh", "fish", "powershell"},
	Args:      cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		switch args[0] {
		case "bash":
			return rootCmd.GenBashCompletion(out)
		case "zsh":
			return rootCmd.GenZshCompletion(out)
		case "fish":
			return rootCmd.GenFishCompletion(out, true)
		case "powershell":
			return rootCmd.GenPowerShellCompletion(out)
		default:
			return fmt.Errorf("unsupported shell: %s", args[0])
		}
	},
}

func init() {
	rootCmd.AddCommand(completionCmd)
}
