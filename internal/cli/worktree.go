package cli

import (
	"fmt"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/spf13/cobra"
)

var worktreeCmd = &cobra.Command{
	Use:   "worktree",
	Short: "Manage change workspaces",
}

func init() {
	worktreeCmd.AddCommand(worktreeListCmd)
	worktreeCmd.AddCommand(worktreeCleanCmd)
}

var worktreeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List worktrees on disk",
	RunE: func(cmd *cobra.Command, args []string) error {
		comps, err := buildComponents(appConfig)
		if err != nil {
			return err
		}

		infos := comps.worktrees.List()
		if len(infos) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No worktrees.")
			return nil
		}

		table := tablewriter.NewTable(cmd.OutOrStdout(),
			tablewriter.WithHeaderAlignment(tw.AlignLeft),
			tablewriter.WithRowAlignment(tw.AlignLeft),
			tablewriter.WithRendition(tw.Rendition{
				Borders: tw.BorderNone,
				Settings: tw.Settings{
					Lines:      tw.LinesNone,
					Separators: tw.SeparatorsNone,
				},
			}),
			tablewriter.WithPadding(tw.Padding{Left: "", Right: "  "}),
		)
		table.Header([]string{"REPO", "BRANCH", "PATH"})
		for _, wt := range infos {
			table.Append([]string{wt.RepoName, wt.Branch, wt.Path})
		}
		return table.Render()
	},
}

var worktreeCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove stale worktrees",
	RunE: func(cmd *cobra.Command, args []string) error {
		comps, err := buildComponents(appConfig)
		if err != nil {
			return err
		}

		removed := comps.worktrees.CleanupStale(cmd.Context(), appConfig.Changes.SessionExpiry(), nil)
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %d stale worktrees.\n", removed)
		return nil
	},
}
