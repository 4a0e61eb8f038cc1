// Package wallet provides the treasury's transaction pipeline: the chain client,
// transaction builder, signer and the submission and confirmation engine.
package wallet

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Error codes for the treasury error taxonomy
const (
	// ErrCodeInvalidArgument indicates a malformed address, amount or method, rejected before any network call
	ErrCodeInvalidArgument = "INVALID_ARGUMENT"
	// ErrCodeMissingCredential indicates the treasury signing key is absent or unusable
	ErrCodeMissingCredential = "MISSING_CREDENTIAL"
	// ErrCodeMissingConfig indicates a required configuration value is absent or inconsistent
	ErrCodeMissingConfig = "MISSING_CONFIG"
	// ErrCodeRPCUnavailable indicates the RPC endpoint could not be reached
	ErrCodeRPCUnavailable = "RPC_UNAVAILABLE"
	// ErrCodeRPCRejected indicates the node refused the submission for a non-transient reason
	ErrCodeRPCRejected = "RPC_REJECTED"
	// ErrCodeChainExecutionFailed indicates the transaction was mined but reverted
	ErrCodeChainExecutionFailed = "CHAIN_EXECUTION_FAILED"
	// ErrCodeTransactionTimeout indicates no receipt was obtained within the attempt budget
	ErrCodeTransactionTimeout = "TRANSACTION_TIMEOUT"
)

// WalletError represents a treasury error with the error kind, a message,
// the underlying cause, the network it occurred on and the last transaction
// hash broadcast for the operation (zero when nothing was broadcast).
type WalletError struct {
	Code     string      // Error code identifying the type of error
	Message  string      // Human readable error message
	Err      error       // Underlying error if any
	Network  string      // Network where the error occurred
	LastHash common.Hash // Last broadcast transaction hash, if any
}

// Error implements the error interface for WalletError.
// It formats the error message including the code, message, network (if present),
// the last known transaction hash (if any) and the underlying error.
func (e *WalletError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Network != "" {
		msg += " on network " + e.Network
	}
	if e.HasHash() {
		msg += " (last tx " + e.LastHash.Hex() + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
// This implements the errors.Unwrap interface for error wrapping.
func (e *WalletError) Unwrap() error {
	return e.Err
}

// HasHash reports whether a transaction was broadcast before the failure.
func (e *WalletError) HasHash() bool {
	return e.LastHash != (common.Hash{})
}

// WithHash returns a copy of the error carrying the given last hash.
func (e *WalletError) WithHash(hash common.Hash) *WalletError {
	cp := *e
	cp.LastHash = hash
	return &cp
}

// NewWalletError creates a new WalletError with the given parameters.
//
// Parameters:
//   - code: Error code identifying the type of error
//   - message: Human readable error message
//   - err: Underlying error if any
//   - network: Network where the error occurred
//
// Returns:
//   - *WalletError: A new wallet error instance
func NewWalletError(code string, message string, err error, network string) *WalletError {
	return &WalletError{
		Code:    code,
		Message: message,
		Err:     err,
		Network: network,
	}
}

// IsWalletError checks if an error chain contains a WalletError matching the given code.
//
// Parameters:
//   - err: Error to check
//   - code: Error code to match against
//
// Returns:
//   - bool: true if err wraps a WalletError with matching code, false otherwise
func IsWalletError(err error, code string) bool {
	var e *WalletError
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// AsWalletError extracts the WalletError from an error chain, if present.
func AsWalletError(err error) (*WalletError, bool) {
	var e *WalletError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
