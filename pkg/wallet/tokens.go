package wallet

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Mint functions the NFT contract may expose. Exactly one is configured per
// deployment; there is no trial-and-error fallback between them.
const (
	MintToMethod   = "mintTo"
	SafeMintMethod = "safeMint"
	MintDemoMethod = "mintDemo"

	TransferMethod = "transfer"
)

// nftABI is the minimal ERC-721 surface used by the treasury.
const nftABI = `[
	{"type":"function","name":"safeMint","stateMutability":"nonpayable",
	 "inputs":[{"name":"to","type":"address"},{"name":"uri","type":"string"}],"outputs":[]},
	{"type":"function","name":"mintTo","stateMutability":"nonpayable",
	 "inputs":[{"name":"to","type":"address"},{"name":"uri","type":"string"}],"outputs":[]},
	{"type":"function","name":"mintDemo","stateMutability":"nonpayable",
	 "inputs":[{"name":"to","type":"address"}],"outputs":[]},
	{"type":"function","name":"tokenURI","stateMutability":"view",
	 "inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"string"}]},
	{"type":"function","name":"ownerOf","stateMutability":"view",
	 "inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"address"}]},
	{"type":"event","name":"Transfer","anonymous":false,"inputs":[
	 {"indexed":true,"name":"from","type":"address"},
	 {"indexed":true,"name":"to","type":"address"},
	 {"indexed":true,"name":"tokenId","type":"uint256"}]}
]`

// erc20ABI is the minimal ERC-20 surface used for reward grants.
const erc20ABI = `[
	{"type":"function","name":"transfer","stateMutability":"nonpayable",
	 "inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],
	 "outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"decimals","stateMutability":"view",
	 "inputs":[],"outputs":[{"name":"","type":"uint8"}]},
	{"type":"function","name":"symbol","stateMutability":"view",
	 "inputs":[],"outputs":[{"name":"","type":"string"}]},
	{"type":"function","name":"balanceOf","stateMutability":"view",
	 "inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"event","name":"Transfer","anonymous":false,"inputs":[
	 {"indexed":true,"name":"from","type":"address"},
	 {"indexed":true,"name":"to","type":"address"},
	 {"indexed":false,"name":"value","type":"uint256"}]}
]`

// transferTopic is the keccak hash of the Transfer event signature shared by
// ERC-20 and ERC-721.
var transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// ContractRef identifies a deployed contract: its address, the chain it lives
// on, the ABI fragment used to encode calls and the fixed gas limit per
// state-changing method.
type ContractRef struct {
	// Name labels the contract in logs and errors
	Name string

	// Address is the deployed contract address
	Address common.Address

	// ChainID is the chain the contract is deployed on
	ChainID *big.Int

	// ABI is the parsed contract interface
	ABI abi.ABI

	// GasLimits maps each state-changing method to its fixed gas limit
	GasLimits map[string]uint64
}

// NewNFTContract returns a reference to the treasury NFT contract. Every mint
// function shares mintGas as its gas limit.
//
// Example:
//
//	nft, err := NewNFTContract(common.HexToAddress(addr), 97, 300000)
func NewNFTContract(address common.Address, chainID int64, mintGas uint64) (ContractRef, error) {
	parsed, err := abi.JSON(strings.NewReader(nftABI))
	if err != nil {
		return ContractRef{}, fmt.Errorf("failed to parse NFT ABI: %w", err)
	}
	return ContractRef{
		Name:    "nft",
		Address: address,
		ChainID: big.NewInt(chainID),
		ABI:     parsed,
		GasLimits: map[string]uint64{
			MintToMethod:   mintGas,
			SafeMintMethod: mintGas,
			MintDemoMethod: mintGas,
		},
	}, nil
}

// NewRewardTokenContract returns a reference to the ERC-20 reward token.
func NewRewardTokenContract(address common.Address, chainID int64, transferGas uint64) (ContractRef, error) {
	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return ContractRef{}, fmt.Errorf("failed to parse ERC20 ABI: %w", err)
	}
	return ContractRef{
		Name:      "reward_token",
		Address:   address,
		ChainID:   big.NewInt(chainID),
		ABI:       parsed,
		GasLimits: map[string]uint64{TransferMethod: transferGas},
	}, nil
}

// HasMethod reports whether the ABI defines the method.
func (c ContractRef) HasMethod(method string) bool {
	_, ok := c.ABI.Methods[method]
	return ok
}

// GasLimit returns the fixed gas limit for a state-changing method.
func (c ContractRef) GasLimit(method string) (uint64, bool) {
	limit, ok := c.GasLimits[method]
	return limit, ok && limit > 0
}

// IsMintMethod reports whether name is one of the supported mint functions.
func IsMintMethod(name string) bool {
	switch name {
	case MintToMethod, SafeMintMethod, MintDemoMethod:
		return true
	}
	return false
}

// MintTakesURI reports whether the mint function takes a metadata URI argument.
func MintTakesURI(name string) bool {
	return name == MintToMethod || name == SafeMintMethod
}

// DecodeTransferLog extracts the token id minted to a wallet from an ERC-721
// Transfer log emitted by contract. A mint (from the zero address) is preferred;
// otherwise the first well-formed ERC-721 Transfer is used. The boolean is
// false when no log has the expected shape.
//
// Parameters:
//   - receipt: Receipt of the confirmed mint transaction
//   - contract: NFT contract address the log must come from
//
// Returns:
//   - *big.Int: The token id, nil when not found
//   - bool: Whether a token id was found
func DecodeTransferLog(receipt *Receipt, contract common.Address) (*big.Int, bool) {
	if receipt == nil {
		return nil, false
	}

	var fallback *big.Int
	for _, lg := range receipt.Logs {
		if lg == nil || lg.Address != contract {
			continue
		}
		// ERC-721 indexes all three arguments; ERC-20 logs carry only three topics
		if len(lg.Topics) != 4 || lg.Topics[0] != transferTopic {
			continue
		}
		tokenID := new(big.Int).SetBytes(lg.Topics[3].Bytes())
		if lg.Topics[1] == (common.Hash{}) {
			return tokenID, true
		}
		if fallback == nil {
			fallback = tokenID
		}
	}
	if fallback != nil {
		return fallback, true
	}
	return nil, false
}
