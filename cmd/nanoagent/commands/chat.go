package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat [message]",
		Short: "Send one message to the agent and print its reply",
		Long: `chat runs a single turn against the local session "cli:default"
without starting any channel, cron job, or heartbeat loop — useful for
quick manual checks against the configured provider and tools.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runChat,
	}
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return fmt.Errorf("chat: %w", err)
	}

	rt, err := buildRuntime(cfg)
	if err != nil {
		return fmt.Errorf("chat: %w", err)
	}
	defer rt.durableStore.Close()

	ctx := context.Background()
	mcpClients, err := rt.connectMCP(ctx)
	if err != nil {
		return fmt.Errorf("chat: %w", err)
	}
	defer func() {
		for _, c := range mcpClients {
			_ = c.Close()
		}
	}()

	message := strings.Join(args, " ")
	result, err := rt.loop.Run(ctx, uuid.NewString(), "cli:default", message, false)
	if err != nil {
		return fmt.Errorf("chat: %w", err)
	}

	fmt.Println(result.Response)
	return nil
}
