package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"TradeLoop/internal/di"

	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var autoStart bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP control surface and the decision loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("auto-start") {
				cfg.Scheduler.AutoStart = autoStart
			}

			app, err := di.InitializeApp(cfg)
			if err != nil {
				return fmt.Errorf("app initialization failed: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return app.Run(ctx)
		},
	}
	cmd.Flags().BoolVar(&autoStart, "auto-start", false, "start the decision loop without waiting for /api/start_trading")
	return cmd
}
