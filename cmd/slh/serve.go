package main

import (
	"context"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/spf13/cobra"

	"github.com/slh-labs/slh-treasury/internal/agentconfig"
	agent "github.com/slh-labs/slh-treasury/pkg"
	"github.com/slh-labs/slh-treasury/pkg/audit"
	"github.com/slh-labs/slh-treasury/pkg/bot"
	"github.com/slh-labs/slh-treasury/pkg/metrics"
)

var withBot bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Connects to the chain with the treasury key and serves the HTTP API.
With --with-bot the Telegram admin bot runs in the same process.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(true, withBot)
	},
}

var botCmd = &cobra.Command{
	Use:   "bot",
	Short: "Run the Telegram admin bot",
	Long: `Runs the Telegram admin bot. With SLH_API_BASE set the bot calls that API;
otherwise it connects to the chain itself with the treasury key.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(false, true)
	},
}

func init() {
	serveCmd.Flags().BoolVar(&withBot, "with-bot", false, "also run the Telegram admin bot")
}

func run(serveAPI, runBot bool) error {
	ctx, cancel := signalContext()
	defer cancel()

	logger.WithFields(cfg.LogFields()).Info("Configuration loaded")

	if runBot {
		if err := cfg.ValidateBot(); err != nil {
			return err
		}
	}

	m := metrics.New()
	events := audit.NewLog(cfg.EventCapacity)

	var chain *agentconfig.Treasury
	if serveAPI || !cfg.RemoteAPI() {
		logger.Info("Connecting to chain...")
		var err error
		chain, err = agentconfig.ConnectTreasury(ctx, cfg, logger, m)
		if err != nil {
			return fmt.Errorf("failed to start treasury: %w", err)
		}
		defer chain.Close()
	}

	var botAPI bot.API
	if runBot {
		tg, err := tgbotapi.NewBotAPI(cfg.BotToken)
		if err != nil {
			return fmt.Errorf("failed to create Telegram client: %w", err)
		}
		logger.WithField("bot", tg.Self.UserName).Info("Telegram client ready")
		botAPI = tg
	}

	list, err := agentconfig.ConfigureActions(agentconfig.ActionConfig{
		Config:   cfg,
		Logger:   logger,
		Metrics:  m,
		Events:   events,
		Treasury: chain,
		BotAPI:   botAPI,
		ServeAPI: serveAPI,
	})
	if err != nil {
		return fmt.Errorf("failed to configure actions: %w", err)
	}

	a, err := agent.New(agent.Config{Logger: logger})
	if err != nil {
		return fmt.Errorf("failed to create agent: %w", err)
	}
	for _, action := range list {
		if err := a.RegisterAction(action); err != nil {
			return fmt.Errorf("failed to register action: %w", err)
		}
	}

	if err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.WithError(err).Error("Agent stopped with error")
		return err
	}

	logger.Info("Shutdown complete")
	return nil
}
