// Command draftforge runs the patent-drafting assistant: an HTTP API server
// (serve) and an interactive streaming chat client (chat).
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/draftforge/draftforge/logging"
)

var (
	version = "1.0.0"

	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "draftforge",
	Short: "Patent drafting assistant",
	Long: `DraftForge is a patent drafting assistant: it routes user requests to
claim drafting, claim review, guidance and prior-art search tools and streams
typed progress events back to the client.`,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("draftforge v%s\n", version)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// .env is optional; real environments configure via the process env.
	_ = godotenv.Load()

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format (text|json)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(versionCmd)
}

func newLogger() logging.Logger {
	return logging.NewSlogLogger(logging.ParseLevel(logLevel), logFormat, false)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
