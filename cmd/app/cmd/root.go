package cmd

import (
	"TradeLoop/pkg/config"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "tradeloop",
	Short: "Signal aggregation and automated trading decision loop",
	Long: `TradeLoop evaluates a watchlist on a fixed interval. Each symbol is scored
by a set of signal producers (technical, model and language-model analysts,
option flow, news), the weighted producers are combined into one decision and
strong decisions can be turned into broker orders.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config/config.yaml", "config file path")
	rootCmd.AddCommand(newServeCmd(), newAnalyzeCmd(), newConfigCmd())
}

func loadConfig() (*config.Config, error) {
	return config.LoadWithEnv(configPath)
}
