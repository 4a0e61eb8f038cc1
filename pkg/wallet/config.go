package wallet

import (
	"fmt"
	"strings"
	"time"
)

// NetworkConfig holds the chain endpoint parameters shared by every operation.
// One instance is built at startup and never modified afterwards.
type NetworkConfig struct {
	// Name is a human readable label for the network (e.g. "BSC Testnet")
	Name string

	// RPCURL is the HTTP(S) endpoint for connecting to the network
	RPCURL string

	// ChainID is the unique identifier for the blockchain network
	ChainID int64

	// RequestTimeout bounds every individual RPC request, including the liveness probe
	RequestTimeout time.Duration

	// DialAttempts is how many times Connect probes the endpoint before giving up
	DialAttempts int

	// DialBackoff is the base delay of the jittered backoff between dial attempts
	DialBackoff time.Duration
}

// EngineConfig controls the submission and confirmation engine.
type EngineConfig struct {
	// ReceiptTimeout is how long a single attempt waits for its receipt
	ReceiptTimeout time.Duration

	// PollInterval is how often the receipt is polled while waiting
	PollInterval time.Duration

	// MaxAttempts is the ceiling on transaction attempts per logical operation
	MaxAttempts int

	// BaseBackoff is the delay after the first timed-out attempt; it doubles per attempt
	BaseBackoff time.Duration
}

// DefaultNetworkConfig returns settings for BSC testnet, the network the
// treasury contracts are deployed on by default.
//
// Example usage:
//
//	cfg := DefaultNetworkConfig()
//	cfg.RPCURL = os.Getenv("BSC_RPC_URL")
func DefaultNetworkConfig() NetworkConfig {
	return NetworkConfig{
		Name:           "BSC Testnet",
		RPCURL:         "https://bsc-testnet-rpc.publicnode.com",
		ChainID:        97,
		RequestTimeout: 10 * time.Second,
		DialAttempts:   3,
		DialBackoff:    250 * time.Millisecond,
	}
}

// DefaultEngineConfig returns conservative retry settings:
//   - 90 second receipt wait per attempt, polled every 3 seconds
//   - 4 attempts in total
//   - 2 second base backoff (2s, 4s, 8s between attempts)
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		ReceiptTimeout: 90 * time.Second,
		PollInterval:   3 * time.Second,
		MaxAttempts:    4,
		BaseBackoff:    2 * time.Second,
	}
}

// Validate checks the endpoint settings.
func (c NetworkConfig) Validate() error {
	if c.RPCURL == "" {
		return NewWalletError(ErrCodeMissingConfig, "RPC URL is required", nil, c.Name)
	}
	if !strings.HasPrefix(c.RPCURL, "http://") && !strings.HasPrefix(c.RPCURL, "https://") &&
		!strings.HasPrefix(c.RPCURL, "ws://") && !strings.HasPrefix(c.RPCURL, "wss://") {
		return NewWalletError(ErrCodeMissingConfig, fmt.Sprintf("unsupported RPC URL scheme: %s", c.RPCURL), nil, c.Name)
	}
	if c.ChainID <= 0 {
		return NewWalletError(ErrCodeMissingConfig, "chain id must be positive", nil, c.Name)
	}
	if c.RequestTimeout <= 0 {
		return NewWalletError(ErrCodeMissingConfig, "request timeout must be positive", nil, c.Name)
	}
	if c.DialAttempts < 1 {
		return NewWalletError(ErrCodeMissingConfig, "dial attempts must be at least 1", nil, c.Name)
	}
	return nil
}

// Validate checks the engine settings.
func (c EngineConfig) Validate() error {
	if c.ReceiptTimeout <= 0 {
		return NewWalletError(ErrCodeMissingConfig, "receipt timeout must be positive", nil, "")
	}
	if c.PollInterval <= 0 || c.PollInterval > c.ReceiptTimeout {
		return NewWalletError(ErrCodeMissingConfig, "poll interval must be positive and not exceed the receipt timeout", nil, "")
	}
	if c.MaxAttempts < 1 {
		return NewWalletError(ErrCodeMissingConfig, "max attempts must be at least 1", nil, "")
	}
	if c.BaseBackoff < 0 {
		return NewWalletError(ErrCodeMissingConfig, "base backoff cannot be negative", nil, "")
	}
	return nil
}
