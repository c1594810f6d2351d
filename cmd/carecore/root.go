package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"carecore/internal/config"
	"carecore/internal/db"
	"carecore/internal/logging"
)

var configPath string

// rootCmd runs serve when no subcommand is given.
var rootCmd = &cobra.Command{
	Use:          "carecore",
	Short:        "carecore turns patient alerts into tracked, assigned clinical incidents",
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, the alert consumer and the notification relay",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		return serve(ctx, cfg)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		logger := logging.New(cfg.Logging.Level, cfg.Logging.JSON)
		conn, err := db.Open(cmd.Context(), cfg.DBDSN)
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer conn.Close()
		return db.RunMigrations(cmd.Context(), conn, logger)
	},
}

var envCmd = &cobra.Command{
	Use:   "env",
	Short: "List the environment variables carecore reads",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), config.Usage())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("CARECORE_CONFIG"), "YAML config file; environment variables override it")
	rootCmd.RunE = serveCmd.RunE
	rootCmd.AddCommand(serveCmd, migrateCmd, envCmd)
}
