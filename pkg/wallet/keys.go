package wallet

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer produces signed transactions for a single account.
type Signer interface {
	Address() common.Address
	Sign(unsigned *UnsignedTransaction) (*SignedTransaction, error)
}

// KeyManager holds the treasury signing key. The key is loaded once at startup
// and is only reachable through Sign; String and GoString never print it.
type KeyManager struct {
	privateKey *ecdsa.PrivateKey // The treasury private key
	address    common.Address    // The derived account address
}

// NewKeyManager creates a new key manager from a private key string.
// It accepts a hex-encoded private key (with or without 0x prefix).
//
// Parameters:
//   - privateKeyHex: Hex-encoded private key string (with optional 0x prefix)
//
// Returns:
//   - *KeyManager: Initialized key manager instance
//   - error: MISSING_CREDENTIAL if the key is empty or cannot be parsed
//
// Example:
//
//	km, err := NewKeyManager(os.Getenv("TREASURY_PRIVATE_KEY"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	address := km.Address()
func NewKeyManager(privateKeyHex string) (*KeyManager, error) {
	privateKeyHex = strings.TrimSpace(privateKeyHex)
	if privateKeyHex == "" {
		return nil, NewWalletError(ErrCodeMissingCredential, "treasury private key is not configured", nil, "")
	}

	privateKeyHex = strings.TrimPrefix(strings.TrimPrefix(privateKeyHex, "0x"), "0X")

	privateKey, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		// the parse error never echoes key material
		return nil, NewWalletError(ErrCodeMissingCredential, "treasury private key is malformed", nil, "")
	}

	publicKeyECDSA, ok := privateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, NewWalletError(ErrCodeMissingCredential, "error casting public key to ECDSA", nil, "")
	}

	return &KeyManager{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(*publicKeyECDSA),
	}, nil
}

// Address returns the account address derived from the key.
func (km *KeyManager) Address() common.Address {
	return km.address
}

// String implements fmt.Stringer without revealing the key.
func (km *KeyManager) String() string {
	return fmt.Sprintf("KeyManager{address: %s}", km.address.Hex())
}

// GoString implements fmt.GoStringer so %#v cannot dump the key either.
func (km *KeyManager) GoString() string {
	return km.String()
}

// Sign signs an unsigned transaction with the London signer for its chain id.
// Signing is pure: no network access.
//
// Parameters:
//   - unsigned: The transaction fields for one attempt
//
// Returns:
//   - *SignedTransaction: The raw encoding and hash ready for submission
//   - error: Error if the key is absent or signing fails
func (km *KeyManager) Sign(unsigned *UnsignedTransaction) (*SignedTransaction, error) {
	if km == nil || km.privateKey == nil {
		return nil, NewWalletError(ErrCodeMissingCredential, "no signing key loaded", nil, "")
	}
	if unsigned == nil || unsigned.ChainID == nil {
		return nil, NewWalletError(ErrCodeInvalidArgument, "transaction has no chain id", nil, "")
	}
	if unsigned.From != km.address {
		return nil, NewWalletError(ErrCodeInvalidArgument,
			fmt.Sprintf("transaction sender %s does not match signing account %s", unsigned.From.Hex(), km.address.Hex()), nil, "")
	}

	signer := types.NewLondonSigner(new(big.Int).Set(unsigned.ChainID))
	tx, err := types.SignTx(unsigned.Tx(), signer, km.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}

	raw, err := tx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to encode signed transaction: %w", err)
	}

	return &SignedTransaction{
		Raw:     raw,
		Hash:    tx.Hash(),
		Nonce:   tx.Nonce(),
		Attempt: unsigned.Attempt,
		Tx:      tx,
	}, nil
}
