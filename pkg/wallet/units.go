package wallet

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// ToBaseUnits converts a human readable token amount into base units:
// amount × 10^decimals, truncated toward zero. Decimal arithmetic avoids the
// float rounding that would turn 0.15984 into 159839999999999990.
//
// Parameters:
//   - amount: Decimal amount, e.g. "0.15984"
//   - decimals: Token decimals as reported by the contract
//
// Returns:
//   - *big.Int: Amount in base units
//   - error: INVALID_ARGUMENT for unparsable, negative or zero amounts
//
// Example:
//
//	units, _ := ToBaseUnits("0.15984", 18) // 159840000000000000
func ToBaseUnits(amount string, decimals uint8) (*big.Int, error) {
	if err := ValidateAmount(amount); err != nil {
		return nil, err
	}
	d, _ := decimal.NewFromString(amount)

	units := d.Shift(int32(decimals)).Truncate(0).BigInt()
	if units.Sign() == 0 {
		return nil, NewWalletError(ErrCodeInvalidArgument,
			fmt.Sprintf("amount %s is below the token's smallest unit", amount), nil, "")
	}
	return units, nil
}

// FromBaseUnits renders base units as a human readable decimal string.
func FromBaseUnits(units *big.Int, decimals uint8) string {
	if units == nil {
		return "0"
	}
	return decimal.NewFromBigInt(units, -int32(decimals)).String()
}

// ValidateAmount checks that amount is a positive decimal without touching the chain.
func ValidateAmount(amount string) error {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return NewWalletError(ErrCodeInvalidArgument, fmt.Sprintf("invalid amount %q", amount), err, "")
	}
	if !d.IsPositive() {
		return NewWalletError(ErrCodeInvalidArgument, fmt.Sprintf("amount must be positive, got %s", amount), nil, "")
	}
	return nil
}
