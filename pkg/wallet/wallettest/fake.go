// Package wallettest provides scripted in-memory chains for testing code built
// on the wallet package.
package wallettest

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/slh-labs/slh-treasury/pkg/wallet"
)

// TestKeyHex is a well-known development key; never fund it on a real network.
const TestKeyHex = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

// TestAddress is the address derived from TestKeyHex.
var TestAddress = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")

// RPCError is a JSON-RPC error as returned by a node.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string  { return e.Message }
func (e *RPCError) ErrorCode() int { return e.Code }

// FakeChain is a scripted wallet.Chain. Transactions are mined only when the
// script says so; everything else stays pending forever.
type FakeChain struct {
	mu sync.Mutex

	// ID is the chain id reported by ChainID
	ID *big.Int
	// Fees is the policy returned by FeePolicy
	Fees wallet.FeePolicy
	// Nonce is the confirmed nonce of the signing account
	Nonce uint64
	// SubmitErrors are returned by successive Submit calls; nil entries accept
	SubmitErrors []error
	// NonceErrors are returned by successive GetNonce calls; nil entries succeed
	NonceErrors []error
	// MineAll mines every accepted submission immediately
	MineAll bool
	// MineOn mines only the accepted submission with this 1-based index
	MineOn int
	// Revert makes mined transactions fail
	Revert bool
	// LogsFor produces the logs of a mined transaction
	LogsFor func(tx *types.Transaction) []*types.Log
	// Views maps view method names to their outputs
	Views map[string][]interface{}
	// ViewErr is returned by every CallView when set
	ViewErr error
	// Down makes Connected report false
	Down bool

	submitted  []*wallet.SignedTransaction
	mined      map[common.Hash]*wallet.Receipt
	nonceReads int
	block      int64
}

// NewFakeChain returns a chain with id 97 and the default fee policy.
func NewFakeChain() *FakeChain {
	return &FakeChain{
		ID:    big.NewInt(97),
		Fees:  wallet.DefaultFeePolicy(),
		Views: make(map[string][]interface{}),
		mined: make(map[common.Hash]*wallet.Receipt),
		block: 100,
	}
}

func (f *FakeChain) ChainID() *big.Int {
	return new(big.Int).Set(f.ID)
}

func (f *FakeChain) FeePolicy() wallet.FeePolicy {
	return f.Fees
}

func (f *FakeChain) GetNonce(ctx context.Context, account common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nonceReads++
	if len(f.NonceErrors) > 0 {
		err := f.NonceErrors[0]
		f.NonceErrors = f.NonceErrors[1:]
		if err != nil {
			return 0, err
		}
	}
	return f.Nonce, nil
}

func (f *FakeChain) Submit(ctx context.Context, signed *wallet.SignedTransaction) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.SubmitErrors) > 0 {
		err := f.SubmitErrors[0]
		f.SubmitErrors = f.SubmitErrors[1:]
		if err != nil {
			return signed.Hash, err
		}
	}
	if signed.Nonce < f.Nonce {
		return signed.Hash, wallet.NewWalletError(wallet.ErrCodeRPCRejected, "node rejected transaction",
			&RPCError{Code: -32000, Message: "nonce too low"}, "fake")
	}

	f.submitted = append(f.submitted, signed)
	if f.MineAll || len(f.submitted) == f.MineOn {
		f.mineLocked(signed)
	}
	return signed.Hash, nil
}

func (f *FakeChain) mineLocked(signed *wallet.SignedTransaction) {
	f.block++
	status := types.ReceiptStatusSuccessful
	if f.Revert {
		status = types.ReceiptStatusFailed
	}
	var logs []*types.Log
	if f.LogsFor != nil {
		logs = f.LogsFor(signed.Tx)
		for _, lg := range logs {
			lg.TxHash = signed.Hash
		}
	}
	f.mined[signed.Hash] = &wallet.Receipt{
		TxHash:      signed.Hash,
		Status:      status,
		BlockNumber: big.NewInt(f.block),
		GasUsed:     21000,
		Logs:        logs,
	}
	f.Nonce = signed.Nonce + 1
}

// MineSubmission mines the accepted submission with the given 1-based index.
func (f *FakeChain) MineSubmission(index int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mineLocked(f.submitted[index-1])
}

func (f *FakeChain) AwaitReceipt(ctx context.Context, hash common.Hash, timeout time.Duration) (*wallet.Receipt, wallet.ReceiptOutcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, wallet.OutcomeTimedOut, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if r, ok := f.mined[hash]; ok {
		return r, r.Outcome(), nil
	}
	return nil, wallet.OutcomeTimedOut, nil
}

func (f *FakeChain) ReceiptByHash(ctx context.Context, hash common.Hash) (*wallet.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mined[hash], nil
}

// CallView returns the scripted outputs for method.
func (f *FakeChain) CallView(ctx context.Context, contract wallet.ContractRef, method string, args ...interface{}) ([]interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.ViewErr != nil {
		return nil, f.ViewErr
	}
	out, ok := f.Views[method]
	if !ok {
		return nil, wallet.NewWalletError(wallet.ErrCodeRPCRejected, fmt.Sprintf("no scripted result for %s", method), nil, "fake")
	}
	return out, nil
}

func (f *FakeChain) DecodeTransferLog(receipt *wallet.Receipt, contract wallet.ContractRef) (*big.Int, bool) {
	return wallet.DecodeTransferLog(receipt, contract.Address)
}

func (f *FakeChain) Connected(ctx context.Context) bool {
	return !f.Down
}

// Submitted returns every accepted submission in order.
func (f *FakeChain) Submitted() []*wallet.SignedTransaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*wallet.SignedTransaction(nil), f.submitted...)
}

// MinedCount returns how many transactions were mined.
func (f *FakeChain) MinedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.mined)
}

// NonceReads returns how many times GetNonce was called.
func (f *FakeChain) NonceReads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nonceReads
}

// TransferLog builds an ERC-721 Transfer log emitted by contract.
func TransferLog(contract, from, to common.Address, tokenID int64) *types.Log {
	return &types.Log{
		Address: contract,
		Topics: []common.Hash{
			common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"),
			common.BytesToHash(from.Bytes()),
			common.BytesToHash(to.Bytes()),
			common.BigToHash(big.NewInt(tokenID)),
		},
	}
}

// FakeBackend is a scripted wallet.Backend for exercising wallet.Client.
type FakeBackend struct {
	mu sync.Mutex

	RemoteChainID *big.Int
	ProbeErr      error
	SendErr       error
	NonceValue    uint64
	CallResult    []byte
	CallErr       error

	receipts map[common.Hash]*types.Receipt
	sent     []*types.Transaction
	closed   bool
}

// NewFakeBackend returns a healthy backend serving chain 97.
func NewFakeBackend() *FakeBackend {
	return &FakeBackend{
		RemoteChainID: big.NewInt(97),
		receipts:      make(map[common.Hash]*types.Receipt),
	}
}

// SetReceipt makes hash mined with the given status.
func (b *FakeBackend) SetReceipt(hash common.Hash, status uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.receipts[hash] = &types.Receipt{TxHash: hash, Status: status, BlockNumber: big.NewInt(1)}
}

func (b *FakeBackend) ChainID(ctx context.Context) (*big.Int, error) {
	if b.ProbeErr != nil {
		return nil, b.ProbeErr
	}
	return b.RemoteChainID, nil
}

func (b *FakeBackend) BlockNumber(ctx context.Context) (uint64, error) {
	if b.ProbeErr != nil {
		return 0, b.ProbeErr
	}
	return 1, nil
}

func (b *FakeBackend) NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error) {
	return b.NonceValue, nil
}

func (b *FakeBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.SendErr != nil {
		return b.SendErr
	}
	b.sent = append(b.sent, tx)
	return nil
}

func (b *FakeBackend) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if r, ok := b.receipts[hash]; ok {
		return r, nil
	}
	return nil, ethereum.NotFound
}

func (b *FakeBackend) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return b.CallResult, b.CallErr
}

func (b *FakeBackend) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}

// Sent returns the transactions accepted by SendTransaction.
func (b *FakeBackend) Sent() []*types.Transaction {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*types.Transaction(nil), b.sent...)
}

// Closed reports whether Close was called.
func (b *FakeBackend) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}
