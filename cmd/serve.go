package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	adventure "github.com/rjroy/adventure-engine"
	"github.com/rjroy/adventure-engine/config"
)

func newServeCmd() *cobra.Command {
	var configPath string

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the session server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			app, err := adventure.New(cfg)
			if err != nil {
				return err
			}
			defer app.Stop()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return app.Run(ctx)
		},
	}

	serveCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a TOML or YAML config file (defaults apply when omitted)")
	return serveCmd
}
