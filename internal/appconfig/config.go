// Package appconfig loads the process configuration from the environment
// (optionally seeded from a .env file) into one immutable Config.
package appconfig

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/slh-labs/slh-treasury/pkg/actions"
	"github.com/slh-labs/slh-treasury/pkg/api"
	"github.com/slh-labs/slh-treasury/pkg/bot"
	"github.com/slh-labs/slh-treasury/pkg/treasury"
	"github.com/slh-labs/slh-treasury/pkg/wallet"
)

// Environment keys. Viper resolves each key from the upper-cased env var.
const (
	KeyRPCURL          = "bsc_rpc_url"
	KeyChainID         = "chain_id"
	KeyNetworkName     = "network_name"
	KeyNFTContract     = "nft_contract"
	KeyMintFunction    = "mint_function"
	KeyRewardToken     = "sela_token_address"
	KeyPrivateKey      = "treasury_private_key"
	KeyRPCTimeout      = "rpc_timeout"
	KeyReceiptTimeout  = "receipt_timeout"
	KeyPollInterval    = "receipt_poll_interval"
	KeyMaxAttempts     = "max_retry_attempts"
	KeyBaseBackoff     = "retry_base_backoff_seconds"
	KeyMaxFeeGwei      = "max_fee_gwei"
	KeyMaxTipGwei      = "max_priority_fee_gwei"
	KeyFeeStartPercent = "fee_start_percent"
	KeyFeeBumpPercent  = "fee_bump_percent"
	KeyLegacyGasPrice  = "legacy_gas_price"
	KeyMintGasLimit    = "mint_gas_limit"
	KeyTransferGas     = "transfer_gas_limit"
	KeyRewardAmount    = "sela_amount"
	KeyAPIHost         = "api_host"
	KeyAPIPort         = "api_port"
	KeyOperationTTL    = "api_operation_timeout"
	KeyEventCapacity   = "event_log_capacity"
	KeyHealthInterval  = "health_interval"
	KeyLogLevel        = "log_level"
	KeyLogFormat       = "log_format"

	KeyBotToken      = "telegram_bot_token"
	KeyBotMode       = "bot_mode"
	KeyBotPort       = "bot_port"
	KeyWebhookPath   = "bot_webhook_path"
	KeyWebhookSecret = "bot_webhook_secret"
	KeyPublicBase    = "bot_webhook_public_base"
	KeyAPIBase       = "slh_api_base"
	KeyMetaCID       = "default_meta_cid"
	KeyBotRate       = "bot_rate_per_minute"
)

// Config is the whole process configuration. Build it with Load and never
// modify it afterwards.
type Config struct {
	Network wallet.NetworkConfig
	Engine  wallet.EngineConfig

	NFTContract    string
	MintFunction   string
	RewardToken    string
	PrivateKey     string `json:"-"`
	MaxFeeGwei     float64
	MaxTipGwei     float64
	FeeStart       int64
	FeeBump        int64
	LegacyGasPrice bool
	MintGasLimit   uint64
	TransferGas    uint64
	RewardAmount   string

	APIHost          string
	APIPort          int
	OperationTimeout time.Duration
	EventCapacity    int
	HealthInterval   time.Duration
	LogLevel         string
	LogFormat        string

	BotToken      string `json:"-"`
	BotMode       string
	BotPort       int
	WebhookPath   string
	WebhookSecret string `json:"-"`
	PublicBase    string
	APIBase       string
	MetaCID       string
	BotRate       int
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	network := wallet.DefaultNetworkConfig()
	engine := wallet.DefaultEngineConfig()

	v.SetDefault(KeyRPCURL, network.RPCURL)
	v.SetDefault(KeyChainID, network.ChainID)
	v.SetDefault(KeyNetworkName, network.Name)
	v.SetDefault(KeyMintFunction, wallet.MintToMethod)
	v.SetDefault(KeyRPCTimeout, network.RequestTimeout)
	v.SetDefault(KeyReceiptTimeout, engine.ReceiptTimeout)
	v.SetDefault(KeyPollInterval, engine.PollInterval)
	v.SetDefault(KeyMaxAttempts, engine.MaxAttempts)
	v.SetDefault(KeyBaseBackoff, engine.BaseBackoff.Seconds())
	v.SetDefault(KeyMaxFeeGwei, 10)
	v.SetDefault(KeyMaxTipGwei, 3)
	v.SetDefault(KeyFeeStartPercent, 50)
	v.SetDefault(KeyFeeBumpPercent, 25)
	v.SetDefault(KeyLegacyGasPrice, false)
	v.SetDefault(KeyMintGasLimit, 300000)
	v.SetDefault(KeyTransferGas, 100000)
	v.SetDefault(KeyRewardAmount, treasury.DefaultRewardAmount)
	v.SetDefault(KeyAPIHost, "0.0.0.0")
	v.SetDefault(KeyAPIPort, 8000)
	v.SetDefault(KeyOperationTTL, 10*time.Minute)
	v.SetDefault(KeyEventCapacity, 500)
	v.SetDefault(KeyHealthInterval, actions.DefaultHealthInterval)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "json")

	v.SetDefault(KeyBotMode, bot.ModeWebhook)
	v.SetDefault(KeyBotPort, 8081)
	v.SetDefault(KeyWebhookPath, "/tg")
	v.SetDefault(KeyBotRate, 6)
}

// NewViper returns a viper instance reading the environment with defaults set.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.AutomaticEnv()
	return v
}

// Load reads the configuration from v. It does not validate requirements
// that depend on which command runs; see ValidateServe and ValidateBot.
func Load(v *viper.Viper) (*Config, error) {
	network := wallet.DefaultNetworkConfig()
	network.Name = v.GetString(KeyNetworkName)
	network.RPCURL = strings.TrimSpace(v.GetString(KeyRPCURL))
	network.ChainID = v.GetInt64(KeyChainID)
	network.RequestTimeout = v.GetDuration(KeyRPCTimeout)

	engine := wallet.EngineConfig{
		ReceiptTimeout: v.GetDuration(KeyReceiptTimeout),
		PollInterval:   v.GetDuration(KeyPollInterval),
		MaxAttempts:    v.GetInt(KeyMaxAttempts),
		BaseBackoff:    time.Duration(v.GetFloat64(KeyBaseBackoff) * float64(time.Second)),
	}

	cfg := &Config{
		Network: network,
		Engine:  engine,

		NFTContract:    strings.TrimSpace(v.GetString(KeyNFTContract)),
		MintFunction:   strings.TrimSpace(v.GetString(KeyMintFunction)),
		RewardToken:    strings.TrimSpace(v.GetString(KeyRewardToken)),
		PrivateKey:     strings.TrimSpace(v.GetString(KeyPrivateKey)),
		MaxFeeGwei:     v.GetFloat64(KeyMaxFeeGwei),
		MaxTipGwei:     v.GetFloat64(KeyMaxTipGwei),
		FeeStart:       v.GetInt64(KeyFeeStartPercent),
		FeeBump:        v.GetInt64(KeyFeeBumpPercent),
		LegacyGasPrice: v.GetBool(KeyLegacyGasPrice),
		MintGasLimit:   v.GetUint64(KeyMintGasLimit),
		TransferGas:    v.GetUint64(KeyTransferGas),
		RewardAmount:   strings.TrimSpace(v.GetString(KeyRewardAmount)),

		APIHost:          v.GetString(KeyAPIHost),
		APIPort:          v.GetInt(KeyAPIPort),
		OperationTimeout: v.GetDuration(KeyOperationTTL),
		EventCapacity:    v.GetInt(KeyEventCapacity),
		HealthInterval:   v.GetDuration(KeyHealthInterval),
		LogLevel:         v.GetString(KeyLogLevel),
		LogFormat:        v.GetString(KeyLogFormat),

		BotToken:      strings.TrimSpace(v.GetString(KeyBotToken)),
		BotMode:       strings.ToLower(strings.TrimSpace(v.GetString(KeyBotMode))),
		BotPort:       v.GetInt(KeyBotPort),
		WebhookPath:   v.GetString(KeyWebhookPath),
		WebhookSecret: strings.TrimSpace(v.GetString(KeyWebhookSecret)),
		PublicBase:    strings.TrimSpace(v.GetString(KeyPublicBase)),
		APIBase:       strings.TrimSpace(v.GetString(KeyAPIBase)),
		MetaCID:       strings.TrimSpace(v.GetString(KeyMetaCID)),
		BotRate:       v.GetInt(KeyBotRate),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings every command shares.
func (c *Config) Validate() error {
	if err := c.Network.Validate(); err != nil {
		return err
	}
	if err := c.Engine.Validate(); err != nil {
		return err
	}
	if err := c.FeePolicy().Validate(); err != nil {
		return err
	}
	if !wallet.IsMintMethod(c.MintFunction) {
		return missing("MINT_FUNCTION must be mintTo, safeMint or mintDemo, got %q", c.MintFunction)
	}
	if c.MintGasLimit == 0 || c.TransferGas == 0 {
		return missing("gas limits must be positive")
	}
	if err := wallet.ValidateAmount(c.RewardAmount); err != nil {
		return missing("SELA_AMOUNT is invalid: %v", err)
	}
	if c.OperationTimeout <= 0 {
		return missing("API_OPERATION_TIMEOUT must be positive")
	}
	return nil
}

// ValidateServe checks what running the chain operations in-process needs.
func (c *Config) ValidateServe() error {
	if c.PrivateKey == "" {
		return wallet.NewWalletError(wallet.ErrCodeMissingCredential, "TREASURY_PRIVATE_KEY is not set", nil, "")
	}
	if c.NFTContract == "" {
		return missing("NFT_CONTRACT is not set")
	}
	if _, err := wallet.ValidateAddress(c.NFTContract); err != nil {
		return missing("NFT_CONTRACT is not a valid address")
	}
	if c.RewardToken != "" {
		if _, err := wallet.ValidateAddress(c.RewardToken); err != nil {
			return missing("SELA_TOKEN_ADDRESS is not a valid address")
		}
	}
	if c.APIPort <= 0 || c.APIPort > 65535 {
		return missing("API_PORT must be between 1 and 65535")
	}
	return nil
}

// ValidateBot checks what the Telegram bot needs. A bot without SLH_API_BASE
// runs the chain operations in-process and therefore also needs ValidateServe.
func (c *Config) ValidateBot() error {
	if c.BotToken == "" {
		return wallet.NewWalletError(wallet.ErrCodeMissingCredential, "TELEGRAM_BOT_TOKEN is not set", nil, "")
	}
	if err := c.BotConfig().Validate(); err != nil {
		return err
	}
	if c.RemoteAPI() {
		if !strings.HasPrefix(c.APIBase, "http://") && !strings.HasPrefix(c.APIBase, "https://") {
			return missing("SLH_API_BASE must be an http(s) URL")
		}
		return nil
	}
	return c.ValidateServe()
}

// RemoteAPI reports whether the bot reaches the treasury over HTTP.
func (c *Config) RemoteAPI() bool {
	return c.APIBase != ""
}

// FeePolicy converts the fee settings.
func (c *Config) FeePolicy() wallet.FeePolicy {
	return wallet.FeePolicy{
		MaxFeePerGas:         wallet.GweiToWei(c.MaxFeeGwei),
		MaxPriorityFeePerGas: wallet.GweiToWei(c.MaxTipGwei),
		StartPercent:         c.FeeStart,
		BumpPercent:          c.FeeBump,
		Legacy:               c.LegacyGasPrice,
	}
}

// TreasuryConfig builds the contract references for the service.
func (c *Config) TreasuryConfig() (treasury.Config, error) {
	nftAddr, err := wallet.ValidateAddress(c.NFTContract)
	if err != nil {
		return treasury.Config{}, err
	}
	nft, err := wallet.NewNFTContract(nftAddr, c.Network.ChainID, c.MintGasLimit)
	if err != nil {
		return treasury.Config{}, err
	}

	tc := treasury.Config{
		NFT:                 nft,
		MintMethod:          c.MintFunction,
		DefaultRewardAmount: c.RewardAmount,
	}
	if c.RewardToken != "" {
		tokenAddr, err := wallet.ValidateAddress(c.RewardToken)
		if err != nil {
			return treasury.Config{}, err
		}
		token, err := wallet.NewRewardTokenContract(tokenAddr, c.Network.ChainID, c.TransferGas)
		if err != nil {
			return treasury.Config{}, err
		}
		tc.RewardToken = &token
	}
	return tc, nil
}

// APIConfig converts the HTTP listener settings.
func (c *Config) APIConfig() api.Config {
	return api.Config{
		Host:             c.APIHost,
		Port:             c.APIPort,
		Network:          c.Network.Name,
		Contract:         c.NFTContract,
		OperationTimeout: c.OperationTimeout,
		HealthTimeout:    c.Network.RequestTimeout,
	}
}

// BotConfig converts the bot settings.
func (c *Config) BotConfig() bot.Config {
	return bot.Config{
		Mode:             c.BotMode,
		Port:             c.BotPort,
		WebhookPath:      c.WebhookPath,
		WebhookSecret:    c.WebhookSecret,
		PublicBase:       c.PublicBase,
		DefaultMetaCID:   c.MetaCID,
		RewardAmount:     c.RewardAmount,
		RatePerMinute:    c.BotRate,
		OperationTimeout: c.OperationTimeout,
	}
}

// LogFields describes the configuration for startup logs. Secrets appear
// only as set or unset.
func (c *Config) LogFields() logrus.Fields {
	return logrus.Fields{
		"network":         c.Network.Name,
		"rpc_url":         c.Network.RPCURL,
		"chain_id":        c.Network.ChainID,
		"nft_contract":    c.NFTContract,
		"mint_function":   c.MintFunction,
		"reward_contract": c.RewardToken,
		"reward_amount":   c.RewardAmount,
		"max_attempts":    c.Engine.MaxAttempts,
		"receipt_timeout": c.Engine.ReceiptTimeout.String(),
		"treasury_key":    setOrUnset(c.PrivateKey),
		"bot_key":         setOrUnset(c.BotToken),
		"bot_mode":        c.BotMode,
		"api_base":        c.APIBase,
	}
}

// TreasuryAddress derives the signing address without keeping the key
// anywhere but the KeyManager.
func (c *Config) TreasuryAddress() (common.Address, error) {
	km, err := wallet.NewKeyManager(c.PrivateKey)
	if err != nil {
		return common.Address{}, err
	}
	return km.Address(), nil
}

func setOrUnset(s string) string {
	if s == "" {
		return "unset"
	}
	return "set"
}

func missing(format string, args ...interface{}) error {
	return wallet.NewWalletError(wallet.ErrCodeMissingConfig, fmt.Sprintf(format, args...), nil, "")
}
