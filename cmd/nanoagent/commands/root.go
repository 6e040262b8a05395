// Package commands implements the nanoagent CLI's cobra commands.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd builds the root command with every subcommand registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "nanoagent",
		Short:   "A continuously running personal agent",
		Version: version,
		Long: `nanoagent is a long-running agent that holds a conversation across
channels (Telegram, Discord, Slack, WhatsApp, Feishu, DingTalk, QQ, email,
Mochat), keeps durable per-session history, and periodically distills its
own activity into long-term memory.

Examples:
  nanoagent serve
  nanoagent serve --config ./config.yaml
  nanoagent chat "what's on my calendar today?"`,
	}

	rootCmd.AddCommand(newServeCmd(), newChatCmd())
	rootCmd.PersistentFlags().StringP("config", "c", "", "path to config file")

	return rootCmd
}
