package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/sirupsen/logrus"
	"github.com/ssgreg/repeat"
)

// Chain is the part of the chain client the builder and engine depend on.
type Chain interface {
	ChainID() *big.Int
	GetNonce(ctx context.Context, account common.Address) (uint64, error)
	FeePolicy() FeePolicy
	Submit(ctx context.Context, signed *SignedTransaction) (common.Hash, error)
	AwaitReceipt(ctx context.Context, hash common.Hash, timeout time.Duration) (*Receipt, ReceiptOutcome, error)
	ReceiptByHash(ctx context.Context, hash common.Hash) (*Receipt, error)
}

// Backend is the subset of ethclient.Client used by Client.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	Close()
}

// Client is the treasury's connection to one EVM network. It is safe for
// concurrent use; all state is fixed at construction.
type Client struct {
	backend      Backend
	config       NetworkConfig
	fees         FeePolicy
	chainID      *big.Int
	pollInterval time.Duration
	log          *logrus.Logger
}

// ClientOption customizes a Client at construction.
type ClientOption func(*Client)

// WithBackend uses b instead of dialing the configured RPC URL.
func WithBackend(b Backend) ClientOption {
	return func(c *Client) { c.backend = b }
}

// WithPollInterval sets how often AwaitReceipt polls for a receipt.
func WithPollInterval(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// Connect creates a client for the configured network. It dials the endpoint
// and runs the liveness probe, retrying with jittered backoff, and verifies
// that the node serves the configured chain id.
//
// Parameters:
//   - ctx: Context for the connection attempts
//   - log: Logger instance for client operations
//   - config: Network endpoint settings
//   - fees: Fee ceilings and escalation policy
//   - opts: Optional overrides such as WithBackend
//
// Returns:
//   - *Client: Connected client
//   - error: RPC_UNAVAILABLE if the node cannot be reached, MISSING_CONFIG on a chain id mismatch
//
// Example:
//
//	client, err := Connect(ctx, logger, DefaultNetworkConfig(), DefaultFeePolicy())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
func Connect(ctx context.Context, log *logrus.Logger, config NetworkConfig, fees FeePolicy, opts ...ClientOption) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if err := fees.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		config:       config,
		fees:         fees,
		chainID:      big.NewInt(config.ChainID),
		pollInterval: DefaultEngineConfig().PollInterval,
		log:          log,
	}
	for _, opt := range opts {
		opt(c)
	}

	var remoteID *big.Int
	attempt := 0
	err := repeat.Repeat(
		repeat.Fn(func() error {
			attempt++
			if ctx.Err() != nil {
				return repeat.HintStop(ctx.Err())
			}
			if c.backend == nil {
				dialCtx, cancel := context.WithTimeout(ctx, config.RequestTimeout)
				backend, err := ethclient.DialContext(dialCtx, config.RPCURL)
				cancel()
				if err != nil {
					c.logRetry(attempt, err)
					return repeat.HintTemporary(err)
				}
				c.backend = backend
			}
			id, err := c.probe(ctx)
			if err != nil {
				c.logRetry(attempt, err)
				return repeat.HintTemporary(err)
			}
			remoteID = id
			return nil
		}),
		repeat.WithDelay(repeat.FullJitterBackoff(config.DialBackoff).Set()),
		repeat.StopOnSuccess(),
		repeat.LimitMaxTries(config.DialAttempts),
	)
	if err != nil {
		if c.backend != nil {
			c.backend.Close()
		}
		return nil, NewWalletError(ErrCodeRPCUnavailable,
			fmt.Sprintf("failed to connect after %d attempts", attempt), err, config.Name)
	}

	if remoteID.Cmp(c.chainID) != 0 {
		c.backend.Close()
		return nil, NewWalletError(ErrCodeMissingConfig,
			fmt.Sprintf("chain id mismatch: configured %s, node reports %s", c.chainID, remoteID), nil, config.Name)
	}

	log.WithFields(logrus.Fields{
		"network":  config.Name,
		"chain_id": config.ChainID,
	}).Info("Connected to chain")

	return c, nil
}

func (c *Client) logRetry(attempt int, err error) {
	c.log.WithFields(logrus.Fields{
		"network": c.config.Name,
		"attempt": attempt,
		"error":   err,
	}).Debug("Retrying network connection")
}

// probe runs eth_chainId then eth_blockNumber within the request timeout.
func (c *Client) probe(ctx context.Context) (*big.Int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	id, err := c.backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("eth_chainId failed: %w", err)
	}
	if _, err := c.backend.BlockNumber(ctx); err != nil {
		return nil, fmt.Errorf("eth_blockNumber failed: %w", err)
	}
	return id, nil
}

// Connected runs the liveness probe and reports whether the node answered.
func (c *Client) Connected(ctx context.Context) bool {
	_, err := c.probe(ctx)
	if err != nil {
		c.log.WithError(err).Debug("Liveness probe failed")
	}
	return err == nil
}

// Network returns the configured network label.
func (c *Client) Network() string {
	return c.config.Name
}

// ChainID returns the configured chain id.
func (c *Client) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

// FeePolicy returns the configured fee policy.
func (c *Client) FeePolicy() FeePolicy {
	return c.fees
}

// GetNonce reads the confirmed nonce of account. The value is read fresh on
// every call and never cached.
func (c *Client) GetNonce(ctx context.Context, account common.Address) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	nonce, err := c.backend.NonceAt(ctx, account, nil)
	if err != nil {
		return 0, NewWalletError(ErrCodeRPCUnavailable, "failed to get nonce", err, c.config.Name)
	}
	return nonce, nil
}

// Submit broadcasts a signed transaction and returns its hash. A JSON-RPC
// error from the node is reported as RPC_REJECTED; transport failures are
// RPC_UNAVAILABLE, in which case the transaction may still have been broadcast.
func (c *Client) Submit(ctx context.Context, signed *SignedTransaction) (common.Hash, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	if err := c.backend.SendTransaction(ctx, signed.Tx); err != nil {
		var rpcErr rpc.Error
		if errors.As(err, &rpcErr) {
			return signed.Hash, NewWalletError(ErrCodeRPCRejected, "node rejected transaction", err, c.config.Name)
		}
		return signed.Hash, NewWalletError(ErrCodeRPCUnavailable, "failed to send transaction", err, c.config.Name)
	}

	c.log.WithFields(logrus.Fields{
		"tx_hash": signed.Hash.Hex(),
		"nonce":   signed.Nonce,
		"attempt": signed.Attempt,
	}).Debug("Transaction broadcast")

	return signed.Hash, nil
}

// AwaitReceipt polls for the receipt of hash until it is found or timeout
// elapses. An elapsed timeout is not an error: it yields OutcomeTimedOut.
// Cancellation of ctx returns OutcomeTimedOut together with ctx.Err().
//
// Parameters:
//   - ctx: Context for cancellation
//   - hash: Transaction hash to wait for
//   - timeout: Maximum time to wait
//
// Returns:
//   - *Receipt: The receipt, nil unless the outcome is success or failure
//   - ReceiptOutcome: Success, Failure or TimedOut
//   - error: Non-nil only when ctx is cancelled
//
// Example:
//
//	receipt, outcome, err := client.AwaitReceipt(ctx, hash, 90*time.Second)
//	if err == nil && outcome == OutcomeSuccess {
//	    fmt.Printf("Transaction confirmed in block %s\n", receipt.BlockNumber)
//	}
func (c *Client) AwaitReceipt(ctx context.Context, hash common.Hash, timeout time.Duration) (*Receipt, ReceiptOutcome, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		receipt, err := c.ReceiptByHash(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, receipt.Outcome(), nil
		}
		if err != nil {
			c.log.WithFields(logrus.Fields{
				"tx_hash": hash.Hex(),
				"error":   err,
			}).Debug("Receipt poll failed")
		}

		select {
		case <-ctx.Done():
			return nil, OutcomeTimedOut, ctx.Err()
		case <-deadline.C:
			return nil, OutcomeTimedOut, nil
		case <-ticker.C:
		}
	}
}

// ReceiptByHash performs a single receipt lookup. A transaction that is not
// yet mined yields (nil, nil).
func (c *Client) ReceiptByHash(ctx context.Context, hash common.Hash) (*Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	receipt, err := c.backend.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, NewWalletError(ErrCodeRPCUnavailable, "failed to get receipt", err, c.config.Name)
	}
	return receiptFromTypes(receipt), nil
}

// CallView performs a read-only contract call and returns the unpacked outputs.
//
// Example:
//
//	out, err := client.CallView(ctx, token, "decimals")
//	decimals := out[0].(uint8)
func (c *Client) CallView(ctx context.Context, contract ContractRef, method string, args ...interface{}) ([]interface{}, error) {
	if !contract.HasMethod(method) {
		return nil, NewWalletError(ErrCodeInvalidArgument,
			fmt.Sprintf("method %s not in %s ABI", method, contract.Name), nil, c.config.Name)
	}
	data, err := contract.ABI.Pack(method, args...)
	if err != nil {
		return nil, NewWalletError(ErrCodeInvalidArgument, "failed to pack call", err, c.config.Name)
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	to := contract.Address
	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		var rpcErr rpc.Error
		if errors.As(err, &rpcErr) {
			return nil, NewWalletError(ErrCodeRPCRejected, fmt.Sprintf("%s.%s call rejected", contract.Name, method), err, c.config.Name)
		}
		return nil, NewWalletError(ErrCodeRPCUnavailable, fmt.Sprintf("%s.%s call failed", contract.Name, method), err, c.config.Name)
	}

	values, err := contract.ABI.Unpack(method, out)
	if err != nil {
		return nil, NewWalletError(ErrCodeRPCRejected, fmt.Sprintf("unexpected %s.%s result", contract.Name, method), err, c.config.Name)
	}
	return values, nil
}

// DecodeTransferLog extracts a minted token id from a receipt; see the package function.
func (c *Client) DecodeTransferLog(receipt *Receipt, contract ContractRef) (*big.Int, bool) {
	return DecodeTransferLog(receipt, contract.Address)
}

// Close closes the network connection.
// It should be called when the client is no longer needed.
func (c *Client) Close() {
	if c.backend != nil {
		c.backend.Close()
		c.log.WithField("network", c.config.Name).Debug("Closed network connection")
	}
}
