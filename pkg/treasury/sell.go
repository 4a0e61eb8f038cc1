package treasury

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/slh-labs/slh-treasury/pkg/audit"
	"github.com/slh-labs/slh-treasury/pkg/wallet"
)

// SellRequest is one sale: an NFT minted to Wallet followed by the reward grant.
type SellRequest struct {
	Wallet   string
	TokenURI string
	Amount   string
	Note     string
	Actor    string
}

// SellResult reports both steps of a sale. A failed mint skips the grant; a
// failed grant after a successful mint is a partial result, never a rollback.
type SellResult struct {
	Mint     *MintResult
	MintErr  error
	Grant    *GrantResult
	GrantErr error
	Event    *audit.Event
}

// OK reports whether both steps succeeded.
func (r *SellResult) OK() bool {
	return r.MintErr == nil && r.GrantErr == nil
}

// Partial reports whether the NFT was minted but the grant failed.
func (r *SellResult) Partial() bool {
	return r.MintErr == nil && r.GrantErr != nil
}

// Sell mints then grants through op.
func Sell(ctx context.Context, op Operator, req SellRequest) *SellResult {
	result := &SellResult{}

	result.Mint, result.MintErr = op.MintTo(ctx, req.Wallet, req.TokenURI)
	if result.MintErr != nil {
		return result
	}

	result.Grant, result.GrantErr = op.GrantReward(ctx, req.Wallet, req.Amount)
	return result
}

// Seller runs sales and records every sale whose mint succeeded.
type Seller struct {
	op     Operator
	events *audit.Log
	log    *logrus.Logger
}

// NewSeller creates a seller recording into events.
func NewSeller(op Operator, events *audit.Log, log *logrus.Logger) *Seller {
	return &Seller{op: op, events: events, log: log}
}

// Sell runs one sale and appends it to the audit log when the mint succeeded.
func (s *Seller) Sell(ctx context.Context, req SellRequest) *SellResult {
	result := Sell(ctx, s.op, req)

	entry := s.log.WithFields(logrus.Fields{
		"wallet": req.Wallet,
		"actor":  req.Actor,
	})

	if result.MintErr != nil {
		entry.WithError(result.MintErr).Warn("Sale failed at mint")
		return result
	}

	event := audit.Event{
		Actor:    req.Actor,
		Wallet:   req.Wallet,
		TokenURI: req.TokenURI,
		MintTx:   result.Mint.TxHash.Hex(),
		Note:     req.Note,
	}
	if result.GrantErr == nil {
		event.GrantTx = result.Grant.TxHash.Hex()
	} else {
		event.Note = joinNote(req.Note, grantFailureNote(result.GrantErr))
		entry.WithError(result.GrantErr).Warn("Sale partially completed: grant failed")
	}

	if s.events != nil {
		stored := s.events.Append(event)
		result.Event = &stored
	}
	return result
}

func grantFailureNote(err error) string {
	if we, ok := wallet.AsWalletError(err); ok {
		if we.HasHash() {
			return fmt.Sprintf("grant failed: %s (last tx %s)", we.Code, we.LastHash.Hex())
		}
		return "grant failed: " + we.Code
	}
	return "grant failed"
}

func joinNote(a, b string) string {
	if a == "" {
		return b
	}
	return a + "; " + b
}
