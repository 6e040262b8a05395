// Command nanoagent runs the continuous agent: it loads configuration,
// wires the LLM provider, tools, channels, cron, and heartbeat together,
// and starts serving until interrupted.
package main

import (
	"fmt"
	"os"

	"github.com/nanoagent/runtime/cmd/nanoagent/commands"
)

var version = "dev"

func main() {
	rootCmd := commands.NewRootCmd(version)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
