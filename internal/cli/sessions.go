package cli

import (
	"fmt"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/spf13/cobra"

	"github.com/clackhq/clack/internal/session"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List persisted change sessions",
	Long:  `Lists the session folders under the data directory with their last persisted phase and activity.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := session.NewStore(appConfig.SessionsDir())
		if err != nil {
			return err
		}

		resumable, err := store.ResumableSessions()
		if err != nil {
			return err
		}
		if len(resumable) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No resumable sessions.")
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
		table.Header([]string{"BRANCH", "REPO", "PHASE", "STARTED", "LAST MESSAGE"})
		for _, r := range resumable {
			table.Append([]string{
				r.Branch,
				r.Repo,
				r.Phase,
				r.StartedAt.Format("2006-01-02 15:04"),
				truncate(r.LastMessage, 60),
			})
		}
		return table.Render()
	},
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
