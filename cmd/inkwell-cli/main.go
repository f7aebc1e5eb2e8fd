package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"inkwell/internal/commands"
	"inkwell/internal/config"
	"inkwell/internal/logging"
)

// Version is set at build time via -ldflags "-X main.Version=X.Y.Z"
var Version = "0.0.0-dev"

var rootCmd = &cobra.Command{
	Use:   "inkwell-cli",
	Short: "Inkwell - research and writing assistant client",
	Long: `Inkwell is a console client for the Inkwell research/writing backend.

Commands:
  chat                  Interactive chat (creates a conversation lazily)
  conversations [page]  List conversation summaries
  session <id>          Open a conversation's writing session

Config: ` + config.GetConfigPath(),
	Version: Version,
}

func init() {
	rootCmd.AddCommand(commands.ChatCmd)
	rootCmd.AddCommand(commands.ConversationsCmd)
	rootCmd.AddCommand(commands.SessionsCmd)
}

func main() {
	logging.Init()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
