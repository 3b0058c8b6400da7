package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/mmynk/splitledger/internal/config"
	"github.com/mmynk/splitledger/internal/currency"
	"github.com/mmynk/splitledger/pkg/logging"
)

var rootCmd = &cobra.Command{
	Use:           "splitledger",
	Short:         "splitledger tracks shared expenses between group members",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A missing .env is fine; the environment may already be set.
		if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to load .env: %w", err)
		}
		return nil
	},
}

// Flag values override the environment when set.
var flags struct {
	dbPath   string
	logLevel string
	port     int
}

func main() {
	rootCmd.PersistentFlags().StringVar(&flags.dbPath, "db", "", "SQLite database path (overrides DB_PATH)")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "debug, info, warn or error (overrides LOG_LEVEL)")
	rootCmd.AddCommand(serveCmd(), balancesCmd())
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(rootCmd.ErrOrStderr(), err)
		os.Exit(1)
	}
}

// loadConfig reads the environment and installs the logger.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if flags.dbPath != "" {
		cfg.DBPath = flags.dbPath
	}
	if flags.logLevel != "" {
		cfg.LogLevel = flags.logLevel
	}
	if flags.port != 0 {
		cfg.Port = flags.port
	}
	return cfg, logging.Setup(cfg.LogLevel, cfg.LogFormat), nil
}

// loadRates reads the exchange-rate file when configured.
func loadRates(cfg *config.Config, logger *slog.Logger) (*currency.RateTable, error) {
	if cfg.RatesFile == "" {
		logger.Info("Using built-in exchange rates")
		return currency.DefaultRates(), nil
	}
	rates, err := currency.LoadRatesFromFile(cfg.RatesFile)
	if err != nil {
		return nil, err
	}
	logger.Info("Exchange rates loaded", "file", cfg.RatesFile, "currencies", len(rates.Codes()))
	return rates, nil
}
