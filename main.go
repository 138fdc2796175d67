package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/rtm0/era5sync/internal/config"
)

var (
	configPath string
	logLevel   string

	cfg    *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "era5sync",
	Short: "Keep an archive of daily ERA5 single-level files complete",
	Long: `era5sync compares an archive of daily ERA5 reanalysis files against the
configured date range and variables, retrieves the missing days from the
Climate Data Store, reshapes them to 24 hourly steps and uploads one netCDF
file per day and variable.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if logLevel != "" {
			cfg.LogLevel = logLevel
			if err := cfg.Validate(); err != nil {
				return err
			}
		}
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Level()}))
		return nil
	},
}

var missingCmd = &cobra.Command{
	Use:   "missing",
	Short: "List the units missing from the archive",
	Args:  cobra.NoArgs,
	RunE:  runMissing,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Retrieve and archive every missing unit once",
	Args:  cobra.NoArgs,
	RunE:  runOnce,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Synchronize on a schedule and serve progress over HTTP",
	Args:  cobra.NoArgs,
	RunE:  serve,
}

var runOnStart bool

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn or error (overrides config)")
	serveCmd.Flags().BoolVar(&runOnStart, "run-on-start", false, "synchronize once immediately instead of waiting for the schedule")

	rootCmd.AddCommand(missingCmd, runCmd, serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
