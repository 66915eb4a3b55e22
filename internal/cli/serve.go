package cli

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/clackhq/clack/internal/changes"
	"github.com/clackhq/clack/internal/server"
)

var servePort int

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Status API port (default from config)")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the clack daemon",
	Long:  `Runs the completion monitor, the periodic session and workspace sweeps, and the HTTP status API until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := appConfig
		if servePort != 0 {
			cfg.Server.Port = servePort
		}

		comps, err := buildComponents(cfg)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		monitor := changes.NewMonitor(cfg, comps.registry, comps.worktrees, comps.gateway, nil)
		return server.Run(ctx, cfg, server.Deps{
			Registry:  comps.registry,
			Store:     comps.store,
			Worktrees: comps.worktrees,
			Gateway:   comps.gateway,
			Monitor:   monitor,
		})
	},
}
