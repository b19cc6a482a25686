package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mentorchat/internal/logging"
)

var version = "0.1.0"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "chatcli",
	Short: "Terminal client for the mentorchat relay",
	Long: `chatcli talks to a mentorchat server the way the mobile app does.

Examples:
  # mint a development token
  chatcli token --secret dev-secret --identity alice

  # chat live with bob, caching history in ./alice.db
  chatcli connect --token $TOKEN --self alice --peer bob --cache alice.db

  # print the stored conversation over REST
  chatcli history --token $TOKEN --peer bob`,
	Version:      version,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(tokenCmd)

	rootCmd.PersistentFlags().String("server", "http://localhost:8080", "Server base URL")
	rootCmd.PersistentFlags().String("token", "", "Bearer token (defaults to $MENTORCHAT_TOKEN)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")
}

func newLogger(cmd *cobra.Command) *zap.Logger {
	level := "warn"
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = "debug"
	}
	logger, err := logging.NewLogger(level)
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func tokenFlag(cmd *cobra.Command) (string, error) {
	token, _ := cmd.Flags().GetString("token")
	if token == "" {
		token = os.Getenv("MENTORCHAT_TOKEN")
	}
	if token == "" {
		return "", fmt.Errorf("a token is required: pass --token or set MENTORCHAT_TOKEN")
	}
	return token, nil
}
