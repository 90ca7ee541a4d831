package main

import (
	"fmt"
	"os"
	_ "time/tzdata"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "askbot",
	Short: "Telegram assistant with a daily free quota and paid subscriptions",
	Long: `askbot forwards Telegram messages to a generative-language API and meters
usage against a daily free quota and time-boxed subscriptions.

Configuration is read from the environment (and a .env file if present).`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newGrantCmd())
	rootCmd.AddCommand(newStatsCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
