package wallet

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Builder assembles unsigned transactions for a single signing account.
type Builder struct {
	chain Chain
	from  common.Address
}

// NewBuilder creates a builder that reads nonces and fee policy from chain
// and builds transactions sent from account.
func NewBuilder(chain Chain, account common.Address) *Builder {
	return &Builder{chain: chain, from: account}
}

// Build packs calldata for method on contract, reads a fresh nonce and fills
// the fixed gas limit and the fee bid for the attempt index.
//
// Parameters:
//   - ctx: Context for the nonce read
//   - contract: Target contract
//   - method: ABI method name
//   - attempt: 0-based attempt index used to escalate the fee bid
//   - args: Method arguments
//
// Returns:
//   - *UnsignedTransaction: The attempt's transaction
//   - error: INVALID_ARGUMENT for a bad target or method, MISSING_CONFIG for a
//     chain id mismatch, RPC_UNAVAILABLE if the nonce cannot be read
func (b *Builder) Build(ctx context.Context, contract ContractRef, method string, attempt int, args ...interface{}) (*UnsignedTransaction, error) {
	if contract.Address == (common.Address{}) {
		return nil, NewWalletError(ErrCodeInvalidArgument, fmt.Sprintf("%s contract address is not set", contract.Name), nil, "")
	}
	if !contract.HasMethod(method) {
		return nil, NewWalletError(ErrCodeInvalidArgument,
			fmt.Sprintf("method %s not in %s ABI", method, contract.Name), nil, "")
	}
	gasLimit, ok := contract.GasLimit(method)
	if !ok {
		return nil, NewWalletError(ErrCodeInvalidArgument,
			fmt.Sprintf("method %s of %s is not a configured write", method, contract.Name), nil, "")
	}

	chainID := b.chain.ChainID()
	if contract.ChainID != nil && contract.ChainID.Cmp(chainID) != 0 {
		return nil, NewWalletError(ErrCodeMissingConfig,
			fmt.Sprintf("%s contract is on chain %s, client is on chain %s", contract.Name, contract.ChainID, chainID), nil, "")
	}

	data, err := contract.ABI.Pack(method, args...)
	if err != nil {
		return nil, NewWalletError(ErrCodeInvalidArgument, fmt.Sprintf("failed to pack %s arguments", method), err, "")
	}

	nonce, err := b.chain.GetNonce(ctx, b.from)
	if err != nil {
		return nil, err
	}

	bid := b.chain.FeePolicy().BidFor(attempt)

	return &UnsignedTransaction{
		From:                 b.from,
		To:                   contract.Address,
		Nonce:                nonce,
		ChainID:              chainID,
		GasLimit:             gasLimit,
		MaxFeePerGas:         bid.MaxFeePerGas,
		MaxPriorityFeePerGas: bid.MaxPriorityFeePerGas,
		GasPrice:             bid.GasPrice,
		Data:                 data,
		Method:               method,
		Attempt:              attempt,
	}, nil
}
