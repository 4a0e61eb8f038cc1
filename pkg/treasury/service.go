// Package treasury exposes the treasury's logical operations: minting an NFT
// to a wallet, granting the reward token and the combined sell flow.
package treasury

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/slh-labs/slh-treasury/pkg/wallet"
)

// Runner executes a write through the submission and confirmation engine.
type Runner interface {
	Run(ctx context.Context, call wallet.Call) (*wallet.Outcome, error)
}

// Reader performs read-only contract calls.
type Reader interface {
	CallView(ctx context.Context, contract wallet.ContractRef, method string, args ...interface{}) ([]interface{}, error)
}

// Operator is the pair of writes the sell flow is built from. Service
// implements it in-process and apiclient.Client over HTTP.
type Operator interface {
	MintTo(ctx context.Context, walletAddr, tokenURI string) (*MintResult, error)
	GrantReward(ctx context.Context, walletAddr, amount string) (*GrantResult, error)
}

// MintResult reports a confirmed mint. TokenIDFound is false when the
// receipt carried no recognizable Transfer log; the mint still succeeded.
type MintResult struct {
	TxHash       common.Hash `json:"tx"`
	TokenID      *big.Int    `json:"token_id,omitempty"`
	TokenIDFound bool        `json:"token_id_found"`
	Attempts     int         `json:"attempts"`
}

// GrantResult reports a confirmed reward transfer.
type GrantResult struct {
	TxHash    common.Hash `json:"tx"`
	Amount    string      `json:"amount"`
	BaseUnits *big.Int    `json:"base_units"`
	Attempts  int         `json:"attempts"`
}

// TokenInfo is the on-chain state of one NFT.
type TokenInfo struct {
	TokenID  *big.Int       `json:"token_id"`
	Owner    common.Address `json:"owner"`
	TokenURI string         `json:"token_uri"`
}

// Config selects the contracts and defaults the service operates on.
type Config struct {
	// NFT is the NFT contract minted from
	NFT wallet.ContractRef

	// MintMethod is the configured mint function: mintTo, safeMint or mintDemo
	MintMethod string

	// RewardToken is the reward token; nil disables grants
	RewardToken *wallet.ContractRef

	// DefaultRewardAmount is granted when a request names no amount
	DefaultRewardAmount string
}

// Service implements the treasury operations on top of the engine.
type Service struct {
	engine Runner
	reader Reader
	config Config
	log    *logrus.Logger
}

// NewService validates config and creates the service.
func NewService(engine Runner, reader Reader, config Config, log *logrus.Logger) (*Service, error) {
	if config.NFT.Address == (common.Address{}) {
		return nil, wallet.NewWalletError(wallet.ErrCodeMissingConfig, "NFT contract address is not configured", nil, "")
	}
	if !wallet.IsMintMethod(config.MintMethod) {
		return nil, wallet.NewWalletError(wallet.ErrCodeMissingConfig,
			fmt.Sprintf("unsupported mint function %q", config.MintMethod), nil, "")
	}
	if config.DefaultRewardAmount == "" {
		config.DefaultRewardAmount = DefaultRewardAmount
	}
	if err := wallet.ValidateAmount(config.DefaultRewardAmount); err != nil {
		return nil, wallet.NewWalletError(wallet.ErrCodeMissingConfig, "default reward amount is invalid", err, "")
	}
	return &Service{engine: engine, reader: reader, config: config, log: log}, nil
}

// DefaultRewardAmount is the reward granted per sale when none is configured.
const DefaultRewardAmount = "0.15984"

// RewardEnabled reports whether a reward token is configured.
func (s *Service) RewardEnabled() bool {
	return s.config.RewardToken != nil
}

// MintTo mints an NFT to walletAddr with the configured mint function.
// tokenURI is required for the functions that take one and ignored otherwise.
func (s *Service) MintTo(ctx context.Context, walletAddr, tokenURI string) (*MintResult, error) {
	to, err := wallet.ValidateAddress(walletAddr)
	if err != nil {
		return nil, err
	}

	args := []interface{}{to}
	tokenURI = strings.TrimSpace(tokenURI)
	if wallet.MintTakesURI(s.config.MintMethod) {
		if tokenURI == "" {
			return nil, wallet.NewWalletError(wallet.ErrCodeInvalidArgument, "token_uri is required", nil, "")
		}
		args = append(args, tokenURI)
	}

	out, err := s.engine.Run(ctx, wallet.Call{
		Operation: "mint",
		Contract:  s.config.NFT,
		Method:    s.config.MintMethod,
		Args:      args,
	})
	if err != nil {
		return nil, err
	}

	result := &MintResult{TxHash: out.Hash, Attempts: out.Attempts}
	result.TokenID, result.TokenIDFound = wallet.DecodeTransferLog(out.Receipt, s.config.NFT.Address)

	s.log.WithFields(logrus.Fields{
		"wallet":         to.Hex(),
		"tx_hash":        out.Hash.Hex(),
		"token_id_found": result.TokenIDFound,
	}).Info("NFT minted")

	return result, nil
}

// GrantReward transfers amount of the reward token to walletAddr. An empty
// amount grants the configured default. The amount is scaled by the token's
// decimals as read from the chain and truncated toward zero.
func (s *Service) GrantReward(ctx context.Context, walletAddr, amount string) (*GrantResult, error) {
	to, err := wallet.ValidateAddress(walletAddr)
	if err != nil {
		return nil, err
	}

	amount = strings.TrimSpace(amount)
	if amount == "" {
		amount = s.config.DefaultRewardAmount
	}
	if err := wallet.ValidateAmount(amount); err != nil {
		return nil, err
	}

	if s.config.RewardToken == nil {
		return nil, wallet.NewWalletError(wallet.ErrCodeMissingConfig, "reward token address is not configured", nil, "")
	}
	token := *s.config.RewardToken

	decimals, err := s.decimals(ctx, token)
	if err != nil {
		return nil, err
	}
	units, err := wallet.ToBaseUnits(amount, decimals)
	if err != nil {
		return nil, err
	}

	out, err := s.engine.Run(ctx, wallet.Call{
		Operation: "grant",
		Contract:  token,
		Method:    wallet.TransferMethod,
		Args:      []interface{}{to, units},
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"wallet":     to.Hex(),
		"tx_hash":    out.Hash.Hex(),
		"amount":     amount,
		"base_units": units.String(),
	}).Info("Reward granted")

	return &GrantResult{TxHash: out.Hash, Amount: amount, BaseUnits: units, Attempts: out.Attempts}, nil
}

func (s *Service) decimals(ctx context.Context, token wallet.ContractRef) (uint8, error) {
	out, err := s.reader.CallView(ctx, token, "decimals")
	if err != nil {
		return 0, err
	}
	if len(out) != 1 {
		return 0, wallet.NewWalletError(wallet.ErrCodeRPCRejected, "unexpected decimals() result", nil, "")
	}
	d, ok := out[0].(uint8)
	if !ok {
		return 0, wallet.NewWalletError(wallet.ErrCodeRPCRejected, fmt.Sprintf("decimals() returned %T", out[0]), nil, "")
	}
	return d, nil
}

// TokenInfo reads the owner and metadata URI of an NFT.
func (s *Service) TokenInfo(ctx context.Context, tokenID *big.Int) (*TokenInfo, error) {
	if tokenID == nil || tokenID.Sign() < 0 {
		return nil, wallet.NewWalletError(wallet.ErrCodeInvalidArgument, "token id must be a non-negative integer", nil, "")
	}

	owner, err := s.reader.CallView(ctx, s.config.NFT, "ownerOf", tokenID)
	if err != nil {
		return nil, err
	}
	uri, err := s.reader.CallView(ctx, s.config.NFT, "tokenURI", tokenID)
	if err != nil {
		return nil, err
	}

	info := &TokenInfo{TokenID: tokenID}
	if len(owner) == 1 {
		info.Owner, _ = owner[0].(common.Address)
	}
	if len(uri) == 1 {
		info.TokenURI, _ = uri[0].(string)
	}
	return info, nil
}
