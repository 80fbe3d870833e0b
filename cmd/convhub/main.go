package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/convhub/convhub/cmd/convhub/commands"
	"github.com/convhub/convhub/logger"
)

var rootCmd = &cobra.Command{
	Use:   "convhub",
	Short: "ConvHub - Local job marketplace server",
	Long: `ConvHub - Job lifecycle engine and marketplace server.

ConvHub tracks listed jobs from posting through application, acceptance,
completion and rating, and pushes applicant updates to watching clients.

Available commands:
  serve   - Start the ConvHub HTTP/WebSocket server
  db      - Manage the ConvHub database
  jobs    - Inspect job records from the command line
  version - Show version information

Examples:
  convhub serve            # Start the server
  convhub db stats         # Show database statistics
  convhub jobs ls          # List jobs`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		jsonOutput, _ := cmd.Flags().GetBool("json-logs")
		if err := logger.Initialize(jsonOutput); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().Bool("json-logs", false, "Emit logs as JSON instead of console output")

	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.JobsCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	defer logger.Cleanup()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
