package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chatvault/chatvault/internal/config"
	"github.com/chatvault/chatvault/internal/db"
)

func main() {
	root := &cobra.Command{
		Use:           "chatvault",
		Short:         "Chat media ingestion and synchronization service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server and background jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			runServe()
			return nil
		},
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return db.Migrate(cfg.Postgres)
		},
	}

	root.AddCommand(serveCmd, migrateCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
