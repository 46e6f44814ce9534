package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Validate the configuration and print it with defaults applied",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			for _, secret := range []*string{
				&cfg.Broker.APIKey, &cfg.Analyst.APIKey, &cfg.News.APIKey, &cfg.Quotes.APIKey,
				&cfg.Redis.Password, &cfg.ClickHouse.Password,
			} {
				if *secret != "" {
					*secret = "****"
				}
			}
			b, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(b)
			return err
		},
	}
}
