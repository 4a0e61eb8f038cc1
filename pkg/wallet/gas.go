package wallet

import (
	"math/big"

	"github.com/ethereum/go-ethereum/params"
)

// FeePolicy defines the fee bid for each transaction attempt. Bids are derived
// from configured ceilings only; the policy never consults a live fee oracle.
//
// Attempt k (0-based) bids min(ceiling, ceiling*StartPercent/100 * (1+BumpPercent/100)^k)
// for both the max fee and the priority fee, so a replacement always outbids the
// attempt it replaces until the ceiling is reached.
type FeePolicy struct {
	// MaxFeePerGas is the ceiling on the total fee per gas in wei
	MaxFeePerGas *big.Int

	// MaxPriorityFeePerGas is the ceiling on the validator tip in wei
	MaxPriorityFeePerGas *big.Int

	// StartPercent is the share of the ceiling bid on the first attempt
	StartPercent int64

	// BumpPercent is the increase applied per subsequent attempt
	BumpPercent int64

	// Legacy switches to pre-London transactions carrying a single gas price
	Legacy bool
}

// FeeBid is the set of fee fields for one attempt. GasPrice is only set for
// legacy policies; MaxFeePerGas and MaxPriorityFeePerGas are always set.
type FeeBid struct {
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
	GasPrice             *big.Int
}

// DefaultFeePolicy returns the BSC testnet ceilings:
//   - MaxFeePerGas of 10 gwei
//   - MaxPriorityFeePerGas of 3 gwei
//   - first attempt at 50% of the ceilings, bumped 25% per retry
//
// Example usage:
//
//	policy := DefaultFeePolicy()
//	bid := policy.BidFor(2)
func DefaultFeePolicy() FeePolicy {
	return FeePolicy{
		MaxFeePerGas:         new(big.Int).Mul(big.NewInt(10), big.NewInt(params.GWei)),
		MaxPriorityFeePerGas: new(big.Int).Mul(big.NewInt(3), big.NewInt(params.GWei)),
		StartPercent:         50,
		BumpPercent:          25,
	}
}

// GweiToWei converts a whole or fractional gwei figure into wei.
func GweiToWei(gwei float64) *big.Int {
	f := new(big.Float).Mul(big.NewFloat(gwei), big.NewFloat(params.GWei))
	wei, _ := f.Int(nil)
	return wei
}

// Validate checks that the ceilings and percentages are usable.
func (p FeePolicy) Validate() error {
	if p.MaxFeePerGas == nil || p.MaxFeePerGas.Sign() <= 0 {
		return NewWalletError(ErrCodeMissingConfig, "max fee per gas must be positive", nil, "")
	}
	if p.MaxPriorityFeePerGas == nil || p.MaxPriorityFeePerGas.Sign() <= 0 {
		return NewWalletError(ErrCodeMissingConfig, "max priority fee per gas must be positive", nil, "")
	}
	if p.MaxPriorityFeePerGas.Cmp(p.MaxFeePerGas) > 0 {
		return NewWalletError(ErrCodeMissingConfig, "max priority fee cannot exceed max fee", nil, "")
	}
	if p.StartPercent < 1 || p.StartPercent > 100 {
		return NewWalletError(ErrCodeMissingConfig, "fee start percent must be within 1..100", nil, "")
	}
	if p.BumpPercent < 0 {
		return NewWalletError(ErrCodeMissingConfig, "fee bump percent cannot be negative", nil, "")
	}
	return nil
}

// BidFor returns the fee bid for the given attempt index.
//
// Parameters:
//   - attempt: 0-based attempt index within one logical operation
//
// Returns:
//   - FeeBid: fee fields never exceeding the configured ceilings
func (p FeePolicy) BidFor(attempt int) FeeBid {
	maxFee := p.escalate(p.MaxFeePerGas, attempt)
	tip := p.escalate(p.MaxPriorityFeePerGas, attempt)
	if tip.Cmp(maxFee) > 0 {
		tip = new(big.Int).Set(maxFee)
	}

	bid := FeeBid{MaxFeePerGas: maxFee, MaxPriorityFeePerGas: tip}
	if p.Legacy {
		bid.GasPrice = new(big.Int).Set(maxFee)
	}
	return bid
}

func (p FeePolicy) escalate(ceiling *big.Int, attempt int) *big.Int {
	hundred := big.NewInt(100)
	v := new(big.Int).Mul(ceiling, big.NewInt(p.StartPercent))
	v.Quo(v, hundred)
	if v.Sign() == 0 {
		v.SetInt64(1)
	}

	factor := big.NewInt(100 + p.BumpPercent)
	for i := 0; i < attempt && v.Cmp(ceiling) < 0; i++ {
		v.Mul(v, factor)
		v.Quo(v, hundred)
	}
	if v.Cmp(ceiling) > 0 {
		v.Set(ceiling)
	}
	return v
}
