package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/slh-labs/slh-treasury/internal/appconfig"
	"github.com/slh-labs/slh-treasury/pkg/logging"
)

var (
	envFile string
	cfg     *appconfig.Config
	logger  *logrus.Logger
	v       *viper.Viper
)

var rootCmd = &cobra.Command{
	Use:   "slh",
	Short: "SLH treasury: NFT mint and SELA reward service",
	Long: `slh runs the SLH treasury. It mints NFTs and grants the SELA reward token
from a custodial treasury key, behind an HTTP API and a Telegram admin bot.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loadEnvFile()
		initLogger()

		loaded, err := appconfig.Load(v)
		if err != nil {
			logger.WithError(err).Error("Invalid configuration")
			return err
		}
		cfg = loaded
		return nil
	},
}

func init() {
	v = appconfig.NewViper()

	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", logging.FormatJSON, "Log format (json, color)")

	bindFlag(appconfig.KeyLogLevel, "log-level")
	bindFlag(appconfig.KeyLogFormat, "log-format")

	rootCmd.AddCommand(serveCmd, botCmd, checkEnvCmd, tokenCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func bindFlag(key, flag string) {
	if err := v.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
		logrus.WithError(err).Fatal("Failed to bind flag")
	}
}

func loadEnvFile() {
	// .env is optional
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		logrus.WithError(err).Warn("Error loading .env file")
	}
}

func initLogger() {
	logger = logging.New(os.Stderr, v.GetString(appconfig.KeyLogLevel), v.GetString(appconfig.KeyLogFormat))
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-sigChan:
			logger.Info("Received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()

	return ctx, cancel
}
