package wallet

import (
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// addressRegex is a regular expression for validating the basic format of EVM addresses.
	// It checks for a "0x" prefix followed by exactly 40 hexadecimal characters.
	addressRegex = regexp.MustCompile("^0x[0-9a-fA-F]{40}$")
)

// ValidateAddress validates a wallet address before any transaction is built.
// It performs format validation and, for mixed-case input, EIP-55 checksum verification.
//
// Parameters:
//   - address: The address string to validate
//
// Returns:
//   - common.Address: The parsed address
//   - error: nil if the address is valid, otherwise an INVALID_ARGUMENT WalletError
//
// Example:
//
//	addr, err := ValidateAddress("0x742d35Cc6634C0532925a3b844Bc454e4438f44e")
//	if err != nil {
//	    return err
//	}
func ValidateAddress(address string) (common.Address, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return common.Address{}, NewWalletError(ErrCodeInvalidArgument, "wallet address is required", nil, "")
	}

	// Basic format validation
	if !addressRegex.MatchString(address) {
		return common.Address{}, NewWalletError(ErrCodeInvalidArgument, "invalid address format: "+address, nil, "")
	}

	addr := common.HexToAddress(address)

	// Single-case input carries no checksum; mixed case must match EIP-55
	lowered := strings.ToLower(address)
	uppered := "0x" + strings.ToUpper(address[2:])
	if address != lowered && address != uppered && address != addr.Hex() {
		return common.Address{}, NewWalletError(ErrCodeInvalidArgument, "invalid address checksum: "+address, nil, "")
	}

	if addr == (common.Address{}) {
		return common.Address{}, NewWalletError(ErrCodeInvalidArgument, "zero address is not a valid recipient", nil, "")
	}

	return addr, nil
}
