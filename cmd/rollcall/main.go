package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"rollcall/internal/config"
	"rollcall/internal/logging"
)

var (
	// Global flags
	envFile  string
	logLevel string

	cfg    config.App
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "rollcall",
	Short: "Teacher attendance dashboard",
	Long: `rollcall runs the teacher attendance dashboard in front of the
attendance service: start a timed check-in session, show its code,
watch the roster fill up, add students by hand and export the list.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadDotenv(envFile); err != nil {
			return err
		}
		cfg = config.Load()
		if logLevel != "" {
			cfg.LogLevel = logLevel
		}

		var err error
		logger, err = logging.New(cfg.LogLevel, cfg.LogFormat)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		for _, w := range cfg.Warnings {
			logger.Warn("config", zap.String("detail", w))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Optional dotenv file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override LOG_LEVEL")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(exportCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
