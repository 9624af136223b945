package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jmcleod/ironpass/internal/config"
)

// Version is set at build time with -ldflags.
var Version = "dev"

var (
	cfg    config.Config
	logger *slog.Logger

	logLevel string
	dataDir  string
)

var rootCmd = &cobra.Command{
	Use:   "ironpass",
	Short: "IronPass signs in to Nextcloud Passwords and serves offline credentials",
	Long: `IronPass logs in to a Nextcloud server with the login v2 flow, keeps the
session in the OS keyring and answers credential lookups from the offline vault.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return err
		}
		if logLevel != "" {
			c.LogLevel = logLevel
		}
		if dataDir != "" {
			c.DataDir = dataDir
		}
		if err := c.Validate(); err != nil {
			return err
		}
		cfg = c
		logger = cfg.Logger(cmd.ErrOrStderr()).With(slog.String("version", Version))
		return nil
	},
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Directory for the offline vault and keyring files")
}
