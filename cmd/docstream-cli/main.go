// Package main provides the docstream CLI entrypoint.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	apiBase    string
	apiToken   string
	outputJSON bool
)

// rootCmd represents the base command.
var rootCmd = &cobra.Command{
	Use:   "docstream-cli",
	Short: "docstream CLI for uploading PDFs and following extraction tasks",
	Long: `docstream CLI talks to a docstream API server.

Use this tool to:
- Upload a PDF and create an extraction task
- List tasks and inspect a task record
- Fetch decoded odds-path / explanations data
- Watch a task's live event stream until it finishes

All commands support --json for automation.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()
		if apiToken == "" {
			apiToken = os.Getenv("DOCSTREAM_API_KEY")
		}
		if v := os.Getenv("DOCSTREAM_API_URL"); v != "" && !cmd.Flags().Changed("api") {
			apiBase = v
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&apiBase, "api", "http://localhost:8084", "docstream API base URL")
	rootCmd.PersistentFlags().StringVar(&apiToken, "token", "", "bearer token (default: DOCSTREAM_API_KEY)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output raw JSON")

	rootCmd.AddCommand(newUploadCmd())
	rootCmd.AddCommand(newListCmd())
	rootCmd.AddCommand(newGetCmd())
	rootCmd.AddCommand(newDataCmd())
	rootCmd.AddCommand(newWatchCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
