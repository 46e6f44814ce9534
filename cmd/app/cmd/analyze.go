package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"time"

	"TradeLoop/internal/di"

	"github.com/spf13/cobra"
)

func newAnalyzeCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "analyze SYMBOL",
		Short: "Evaluate one symbol once and print the decision as JSON",
		Long:  "analyze runs a single evaluation pass. It never places an order.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			app, err := di.InitializeApp(cfg)
			if err != nil {
				return fmt.Errorf("app initialization failed: %w", err)
			}
			defer app.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			decision, err := app.Loop().Analyze(ctx, args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(decision)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "evaluation deadline")
	return cmd
}
