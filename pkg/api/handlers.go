package api

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/slh-labs/slh-treasury/pkg/audit"
	"github.com/slh-labs/slh-treasury/pkg/wallet"
)

// MintRequest is the body of POST /v1/chain/mint-demo. Both spellings of the
// uri field are accepted.
type MintRequest struct {
	ToWallet    string `json:"to_wallet"`
	TokenURI    string `json:"token_uri"`
	TokenURIAlt string `json:"tokenURI"`
}

// URI returns whichever uri field was provided.
func (r MintRequest) URI() string {
	if r.TokenURI != "" {
		return r.TokenURI
	}
	return r.TokenURIAlt
}

// MintResponse is the body of a successful mint.
type MintResponse struct {
	Tx           string   `json:"tx"`
	TokenID      *big.Int `json:"token_id,omitempty"`
	TokenIDFound bool     `json:"token_id_found"`
	Attempts     int      `json:"attempts"`
}

// GrantRequest is the body of POST /v1/chain/grant-sela.
type GrantRequest struct {
	ToWallet string `json:"to_wallet"`
	Amount   string `json:"amount,omitempty"`
}

// GrantResponse is the body of a successful grant. BaseUnits is a decimal
// string so large values survive JSON number handling.
type GrantResponse struct {
	Tx        string `json:"tx"`
	Amount    string `json:"amount"`
	BaseUnits string `json:"base_units"`
	Attempts  int    `json:"attempts"`
}

// TokenResponse is the body of GET /v1/chain/token/{id}.
type TokenResponse struct {
	TokenID  string `json:"token_id"`
	Owner    string `json:"owner"`
	TokenURI string `json:"token_uri"`
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	OK        bool   `json:"ok"`
	Network   string `json:"network"`
	Contract  string `json:"contract"`
	Connected bool   `json:"connected"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error  string `json:"error"`
	Code   string `json:"code"`
	LastTx string `json:"last_tx,omitempty"`
}

// GetHealth always answers 200; connected reports the node probe.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.config.HealthTimeout)
	defer cancel()

	connected := s.health != nil && s.health.Connected(ctx)
	if s.metrics != nil {
		s.metrics.SetChainUp(connected)
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		OK:        true,
		Network:   s.config.Network,
		Contract:  s.config.Contract,
		Connected: connected,
	})
}

// PostMint mints an NFT to the requested wallet.
func (s *Server) PostMint(w http.ResponseWriter, r *http.Request) {
	var req MintRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.ToWallet) == "" {
		writeError(w, wallet.NewWalletError(wallet.ErrCodeInvalidArgument, "to_wallet is required", nil, ""))
		return
	}

	ctx, cancel := s.operationContext(r)
	defer cancel()

	result, err := s.treasury.MintTo(ctx, req.ToWallet, req.URI())
	if err != nil {
		s.logFailure("mint", req.ToWallet, err)
		writeError(w, err)
		return
	}

	s.record(audit.Event{
		Actor:    "api",
		Wallet:   req.ToWallet,
		TokenURI: req.URI(),
		MintTx:   result.TxHash.Hex(),
		Note:     "mint",
	})

	resp := MintResponse{
		Tx:           result.TxHash.Hex(),
		TokenIDFound: result.TokenIDFound,
		Attempts:     result.Attempts,
	}
	if result.TokenIDFound {
		resp.TokenID = result.TokenID
	}
	writeJSON(w, http.StatusOK, resp)
}

// PostGrant transfers the reward token to the requested wallet.
func (s *Server) PostGrant(w http.ResponseWriter, r *http.Request) {
	var req GrantRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.ToWallet) == "" {
		writeError(w, wallet.NewWalletError(wallet.ErrCodeInvalidArgument, "to_wallet is required", nil, ""))
		return
	}

	ctx, cancel := s.operationContext(r)
	defer cancel()

	result, err := s.treasury.GrantReward(ctx, req.ToWallet, req.Amount)
	if err != nil {
		s.logFailure("grant", req.ToWallet, err)
		writeError(w, err)
		return
	}

	s.record(audit.Event{
		Actor:   "api",
		Wallet:  req.ToWallet,
		GrantTx: result.TxHash.Hex(),
		Note:    "grant " + result.Amount,
	})

	writeJSON(w, http.StatusOK, GrantResponse{
		Tx:        result.TxHash.Hex(),
		Amount:    result.Amount,
		BaseUnits: result.BaseUnits.String(),
		Attempts:  result.Attempts,
	})
}

// GetToken reads owner and uri of one NFT.
func (s *Server) GetToken(w http.ResponseWriter, r *http.Request) {
	id, ok := new(big.Int).SetString(mux.Vars(r)["id"], 10)
	if !ok || id.Sign() < 0 {
		writeError(w, wallet.NewWalletError(wallet.ErrCodeInvalidArgument, "token id must be a non-negative integer", nil, ""))
		return
	}

	info, err := s.treasury.TokenInfo(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, TokenResponse{
		TokenID:  info.TokenID.String(),
		Owner:    info.Owner.Hex(),
		TokenURI: info.TokenURI,
	})
}

// GetEvents lists recent audit events, newest first.
func (s *Server) GetEvents(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, wallet.NewWalletError(wallet.ErrCodeInvalidArgument, "limit must be a positive integer", nil, ""))
			return
		}
		limit = n
	}

	events := []audit.Event{}
	if s.events != nil {
		events = s.events.Recent(limit)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

// operationContext detaches a write from the client connection so a dropped
// client cannot abandon a transaction mid-retry.
func (s *Server) operationContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(r.Context()), s.config.OperationTimeout)
}

func (s *Server) record(e audit.Event) {
	if s.events != nil {
		s.events.Append(e)
	}
}

func (s *Server) logFailure(operation, walletAddr string, err error) {
	fields := logrus.Fields{"operation": operation, "wallet": walletAddr}
	if we, ok := wallet.AsWalletError(err); ok && we.HasHash() {
		fields["tx_hash"] = we.LastHash.Hex()
	}
	s.log.WithFields(fields).WithError(err).Warn("Operation failed")
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(v); err != nil {
		writeError(w, wallet.NewWalletError(wallet.ErrCodeInvalidArgument, "malformed JSON body", err, ""))
		return false
	}
	return true
}

// StatusFor maps an error to its HTTP status.
func StatusFor(err error) int {
	we, ok := wallet.AsWalletError(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch we.Code {
	case wallet.ErrCodeInvalidArgument:
		return http.StatusUnprocessableEntity
	case wallet.ErrCodeMissingCredential, wallet.ErrCodeMissingConfig:
		return http.StatusInternalServerError
	case wallet.ErrCodeRPCUnavailable:
		return http.StatusServiceUnavailable
	case wallet.ErrCodeRPCRejected, wallet.ErrCodeChainExecutionFailed:
		return http.StatusBadGateway
	case wallet.ErrCodeTransactionTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// writeError writes an error response carrying the error kind and, when a
// transaction was broadcast, its hash.
func writeError(w http.ResponseWriter, err error) {
	resp := ErrorResponse{Error: err.Error(), Code: "INTERNAL"}
	if we, ok := wallet.AsWalletError(err); ok {
		resp.Code = we.Code
		resp.Error = we.Message
		if we.Err != nil {
			resp.Error += ": " + we.Err.Error()
		}
		if we.HasHash() {
			resp.LastTx = we.LastHash.Hex()
		}
	}
	writeJSON(w, StatusFor(err), resp)
}
