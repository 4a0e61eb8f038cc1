// Package agentconfig assembles the treasury stack and the actions the agent
// runs from one appconfig.Config.
package agentconfig

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/slh-labs/slh-treasury/internal/appconfig"
	"github.com/slh-labs/slh-treasury/pkg/actions"
	"github.com/slh-labs/slh-treasury/pkg/api"
	"github.com/slh-labs/slh-treasury/pkg/apiclient"
	"github.com/slh-labs/slh-treasury/pkg/audit"
	"github.com/slh-labs/slh-treasury/pkg/bot"
	"github.com/slh-labs/slh-treasury/pkg/metrics"
	"github.com/slh-labs/slh-treasury/pkg/treasury"
	"github.com/slh-labs/slh-treasury/pkg/wallet"
)

// Treasury is the in-process chain stack.
type Treasury struct {
	Client  *wallet.Client
	Service *treasury.Service
}

// Close releases the RPC connection.
func (t *Treasury) Close() {
	if t != nil && t.Client != nil {
		t.Client.Close()
	}
}

// ConnectTreasury loads the signing key, connects to the node and builds
// the engine and service. The key never leaves the KeyManager.
func ConnectTreasury(ctx context.Context, cfg *appconfig.Config, logger *logrus.Logger, observer wallet.Observer) (*Treasury, error) {
	if err := cfg.ValidateServe(); err != nil {
		return nil, err
	}

	keys, err := wallet.NewKeyManager(cfg.PrivateKey)
	if err != nil {
		return nil, err
	}

	tc, err := cfg.TreasuryConfig()
	if err != nil {
		return nil, err
	}

	client, err := wallet.Connect(ctx, logger, cfg.Network, cfg.FeePolicy(), wallet.WithPollInterval(cfg.Engine.PollInterval))
	if err != nil {
		return nil, err
	}

	var opts []wallet.EngineOption
	if observer != nil {
		opts = append(opts, wallet.WithObserver(observer))
	}
	engine := wallet.NewEngine(client, keys, cfg.Engine, logger, opts...)

	service, err := treasury.NewService(engine, client, tc, logger)
	if err != nil {
		client.Close()
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"treasury":       keys.Address().Hex(),
		"network":        client.Network(),
		"reward_enabled": service.RewardEnabled(),
	}).Info("Treasury ready")

	return &Treasury{Client: client, Service: service}, nil
}

// ActionConfig holds what ConfigureActions wires together. Treasury is nil
// when the bot talks to a remote API; BotAPI is nil when the bot is off.
type ActionConfig struct {
	Config   *appconfig.Config
	Logger   *logrus.Logger
	Metrics  *metrics.Metrics
	Events   *audit.Log
	Treasury *Treasury
	BotAPI   bot.API
	ServeAPI bool
}

// ConfigureActions sets up all agent actions
func ConfigureActions(config ActionConfig) ([]actions.Action, error) {
	var list []actions.Action

	if config.Treasury != nil {
		var gauge actions.Gauge
		if config.Metrics != nil {
			gauge = config.Metrics
		}
		monitor, err := actions.NewHealthMonitor(config.Treasury.Client, gauge, config.Logger, actions.ActionConfig{
			Interval: config.Config.HealthInterval,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create health monitor: %w", err)
		}
		list = append(list, monitor)
	}

	if config.ServeAPI {
		if config.Treasury == nil {
			return nil, fmt.Errorf("the HTTP API needs the in-process treasury")
		}
		server := api.NewServer(config.Config.APIConfig(), config.Treasury.Service, config.Treasury.Client,
			config.Events, config.Metrics, config.Logger)
		list = append(list, server)
	}

	if config.BotAPI != nil {
		b, err := newBot(config)
		if err != nil {
			return nil, err
		}
		list = append(list, b)
	}

	if len(list) == 0 {
		return nil, fmt.Errorf("nothing to run")
	}
	return list, nil
}

func newBot(config ActionConfig) (*bot.Bot, error) {
	var (
		op     treasury.Operator
		events bot.EventSource
		record *audit.Log
	)

	switch {
	case config.Config.RemoteAPI():
		// the API process records the sale; reading events goes through it too
		client, err := apiclient.New(config.Config.APIBase, config.Logger)
		if err != nil {
			return nil, err
		}
		op, events = client, client
	case config.Treasury != nil:
		op, events, record = config.Treasury.Service, config.Events, config.Events
	default:
		return nil, fmt.Errorf("the bot needs SLH_API_BASE or the in-process treasury")
	}

	seller := treasury.NewSeller(op, record, config.Logger)
	return bot.New(config.Config.BotConfig(), config.BotAPI, seller, events, config.Metrics, config.Logger)
}
