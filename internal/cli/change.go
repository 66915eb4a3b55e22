package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/clackhq/clack/internal/changes"
	"github.com/clackhq/clack/internal/session"
)

var changeUser string

func init() {
	changeCmd.Flags().StringVar(&changeUser, "user", "cli", "User id to attribute the change to")
}

var changeCmd = &cobra.Command{
	Use:   "change <request>",
	Short: "Run a change request from the command line",
	Long:  `Plans and executes a change request end-to-end: generates a plan, creates a branch and worktree, runs the coding agent, and opens a pull request.`,
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := appConfig
		message := strings.Join(args, " ")

		comps, err := buildComponents(cfg)
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		if err := comps.worktrees.Initialize(ctx); err != nil {
			return fmt.Errorf("initializing workspaces: %w", err)
		}

		plan, err := changes.GeneratePlan(ctx, comps.runner, cfg, message)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Plan: %s\nBranch: %s\nRepository: %s\n\n", plan.Description, plan.BranchName, plan.TargetRepo)

		req := session.ChangeRequest{
			UserID:    changeUser,
			Message:   message,
			Trigger:   session.TriggerDirectMessage,
			ChannelID: "cli",
			MessageID: session.NewID(),
		}

		result := comps.orch.StartWorkflow(ctx, req, plan, req.MessageID, func(progress string) {
			fmt.Fprintln(cmd.OutOrStdout(), progress)
		})
		if !result.Success {
			return fmt.Errorf("%s", result.Error)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "\nPR created: %s\nSummary: %s\n", result.PRURL, result.Summary)
		return nil
	},
}
