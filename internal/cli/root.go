// Package cli wires the clack command tree.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/clackhq/clack/internal/config"
	"github.com/clackhq/clack/internal/logging"
)

var (
	verbose   bool
	appConfig *config.Config

	rootCmd = &cobra.Command{
		Use:   "clack",
		Short: "Chat-driven codebase assistant with an autonomous change workflow",
		Long:  `Clack answers questions about configured codebases and, for privileged users, implements change requests end-to-end: plan, branch, implement, PR, and follow-up through merge or close.`,
	}
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose/debug output")
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		logging.Setup(verbose)
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading configuration: %w", err)
		}
		appConfig = cfg
		return nil
	}

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(changeCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(worktreeCmd)
	rootCmd.AddCommand(configCmd)
}

func Execute() error {
	return rootCmd.Execute()
}
