package wallet

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// UnsignedTransaction holds the fields of one transaction attempt before
// signing. A new value is built for every attempt; it is never mutated after
// the Builder returns it.
type UnsignedTransaction struct {
	// From is the signing account
	From common.Address

	// To is the target contract
	To common.Address

	// Nonce is the account nonce read fresh for this attempt
	Nonce uint64

	// ChainID is the chain the transaction is valid on
	ChainID *big.Int

	// GasLimit is the fixed gas limit for the method
	GasLimit uint64

	// MaxFeePerGas is the EIP-1559 fee cap in wei
	MaxFeePerGas *big.Int

	// MaxPriorityFeePerGas is the EIP-1559 tip in wei
	MaxPriorityFeePerGas *big.Int

	// GasPrice is set only for legacy transactions
	GasPrice *big.Int

	// Data is the ABI encoded calldata
	Data []byte

	// Method is the contract method the calldata invokes
	Method string

	// Attempt is the 0-based attempt index this transaction was built for
	Attempt int
}

// Tx converts the attempt into a go-ethereum transaction. A non-nil GasPrice
// yields a legacy transaction, otherwise a dynamic fee transaction.
func (u *UnsignedTransaction) Tx() *types.Transaction {
	to := u.To
	if u.GasPrice != nil {
		return types.NewTx(&types.LegacyTx{
			Nonce:    u.Nonce,
			GasPrice: new(big.Int).Set(u.GasPrice),
			Gas:      u.GasLimit,
			To:       &to,
			Value:    big.NewInt(0),
			Data:     u.Data,
		})
	}
	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   new(big.Int).Set(u.ChainID),
		Nonce:     u.Nonce,
		GasTipCap: new(big.Int).Set(u.MaxPriorityFeePerGas),
		GasFeeCap: new(big.Int).Set(u.MaxFeePerGas),
		Gas:       u.GasLimit,
		To:        &to,
		Value:     big.NewInt(0),
		Data:      u.Data,
	})
}

// SignedTransaction is a signed attempt ready for submission. Its hash is
// known before it is broadcast.
type SignedTransaction struct {
	Raw     []byte
	Hash    common.Hash
	Nonce   uint64
	Attempt int
	Tx      *types.Transaction
}

// Receipt is the chain's record of a mined transaction.
type Receipt struct {
	// TxHash is the hash of the mined transaction
	TxHash common.Hash

	// Status is 1 for success and 0 for a reverted execution
	Status uint64

	// BlockNumber is the block the transaction was mined in
	BlockNumber *big.Int

	// GasUsed is the gas consumed by execution
	GasUsed uint64

	// Logs are the event logs emitted by execution
	Logs []*types.Log
}

// Succeeded reports whether execution completed without reverting.
func (r *Receipt) Succeeded() bool {
	return r != nil && r.Status == types.ReceiptStatusSuccessful
}

// Outcome returns the receipt's tri-state outcome.
func (r *Receipt) Outcome() ReceiptOutcome {
	if r == nil {
		return OutcomeTimedOut
	}
	if r.Succeeded() {
		return OutcomeSuccess
	}
	return OutcomeFailure
}

func receiptFromTypes(r *types.Receipt) *Receipt {
	return &Receipt{
		TxHash:      r.TxHash,
		Status:      r.Status,
		BlockNumber: r.BlockNumber,
		GasUsed:     r.GasUsed,
		Logs:        r.Logs,
	}
}

// ReceiptOutcome is the result of waiting for a receipt.
type ReceiptOutcome int

const (
	// OutcomeTimedOut means no receipt was found within the wait
	OutcomeTimedOut ReceiptOutcome = iota

	// OutcomeSuccess means the transaction was mined and succeeded
	OutcomeSuccess

	// OutcomeFailure means the transaction was mined and reverted
	OutcomeFailure
)

func (o ReceiptOutcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	default:
		return "timed_out"
	}
}

// State is a state of the submission and confirmation engine.
type State int

const (
	// StateBuilding assembles a fresh unsigned transaction for the attempt
	StateBuilding State = iota

	// StateSigning signs the attempt
	StateSigning

	// StateSubmitted broadcasts the signed attempt
	StateSubmitted

	// StateAwaitingReceipt polls for the attempt's receipt
	StateAwaitingReceipt

	// StateRetrying reconciles earlier attempts and backs off before the next one
	StateRetrying

	// StateConfirmed is terminal: a receipt with success status was obtained
	StateConfirmed

	// StateFailedOnChain is terminal: the transaction was mined and reverted
	StateFailedOnChain

	// StateGivenUp is terminal: the attempt budget ran out without a receipt
	StateGivenUp

	// StateRejected is terminal: the node refused the transaction for a non-transient reason
	StateRejected
)

func (s State) String() string {
	switch s {
	case StateBuilding:
		return "building"
	case StateSigning:
		return "signing"
	case StateSubmitted:
		return "submitted"
	case StateAwaitingReceipt:
		return "awaiting_receipt"
	case StateRetrying:
		return "retrying"
	case StateConfirmed:
		return "confirmed"
	case StateFailedOnChain:
		return "failed_on_chain"
	case StateGivenUp:
		return "given_up"
	case StateRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Terminal reports whether the engine stops in this state.
func (s State) Terminal() bool {
	return s >= StateConfirmed
}
