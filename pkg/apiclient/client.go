// Package apiclient calls the treasury HTTP API. The bot uses it when the
// chain writes run in a separate API process.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/slh-labs/slh-treasury/pkg/api"
	"github.com/slh-labs/slh-treasury/pkg/audit"
	"github.com/slh-labs/slh-treasury/pkg/treasury"
	"github.com/slh-labs/slh-treasury/pkg/wallet"
)

// DefaultTimeout bounds a request whose context has no deadline. It covers
// the full retry budget of a write on the server side.
const DefaultTimeout = 11 * time.Minute

// ClientOption allows for customization of the client
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.http = hc
	}
}

// WithTimeout sets the fallback request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = d
	}
}

// Client implements treasury.Operator over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
	logger  *logrus.Logger
}

var _ treasury.Operator = (*Client)(nil)

// New creates a client for the API rooted at baseURL.
func New(baseURL string, logger *logrus.Logger, opts ...ClientOption) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, wallet.NewWalletError(wallet.ErrCodeMissingConfig, fmt.Sprintf("invalid API base URL %q", baseURL), err, "")
	}

	c := &Client{
		baseURL: strings.TrimRight(u.String(), "/"),
		http:    &http.Client{},
		timeout: DefaultTimeout,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// MintTo calls POST /v1/chain/mint-demo.
func (c *Client) MintTo(ctx context.Context, walletAddr, tokenURI string) (*treasury.MintResult, error) {
	var resp api.MintResponse
	err := c.do(ctx, http.MethodPost, "/v1/chain/mint-demo", api.MintRequest{ToWallet: walletAddr, TokenURI: tokenURI}, &resp)
	if err != nil {
		return nil, err
	}

	return &treasury.MintResult{
		TxHash:       common.HexToHash(resp.Tx),
		TokenID:      resp.TokenID,
		TokenIDFound: resp.TokenIDFound && resp.TokenID != nil,
		Attempts:     resp.Attempts,
	}, nil
}

// GrantReward calls POST /v1/chain/grant-sela.
func (c *Client) GrantReward(ctx context.Context, walletAddr, amount string) (*treasury.GrantResult, error) {
	var resp api.GrantResponse
	err := c.do(ctx, http.MethodPost, "/v1/chain/grant-sela", api.GrantRequest{ToWallet: walletAddr, Amount: amount}, &resp)
	if err != nil {
		return nil, err
	}

	units, ok := new(big.Int).SetString(resp.BaseUnits, 10)
	if !ok {
		return nil, fmt.Errorf("api returned malformed base_units %q", resp.BaseUnits)
	}
	return &treasury.GrantResult{
		TxHash:    common.HexToHash(resp.Tx),
		Amount:    resp.Amount,
		BaseUnits: units,
		Attempts:  resp.Attempts,
	}, nil
}

// Events calls GET /v1/events.
func (c *Client) Events(ctx context.Context, limit int) ([]audit.Event, error) {
	var resp struct {
		Events []audit.Event `json:"events"`
	}
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/v1/events?limit=%d", limit), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Events, nil
}

// Connected reports whether the API is up and its chain node reachable.
func (c *Client) Connected(ctx context.Context) bool {
	var resp api.HealthResponse
	if err := c.do(ctx, http.MethodGet, "/healthz", nil, &resp); err != nil {
		c.logger.WithError(err).Debug("API health check failed")
		return false
	}
	return resp.OK && resp.Connected
}

func (c *Client) do(ctx context.Context, method, endpoint string, body, out interface{}) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return wallet.NewWalletError(wallet.ErrCodeRPCUnavailable, "treasury API unreachable", err, "")
	}
	defer resp.Body.Close()

	if err := c.handleResponse(resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// handleResponse turns a non-2xx answer back into the WalletError the
// server reported, keeping the last transaction hash.
func (c *Client) handleResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read error response: %w", err)
	}

	var errResp api.ErrorResponse
	if err := json.Unmarshal(raw, &errResp); err != nil || errResp.Code == "" {
		return fmt.Errorf("treasury api error: status=%d body=%s", resp.StatusCode, string(raw))
	}

	c.logger.WithFields(logrus.Fields{
		"status_code": resp.StatusCode,
		"error_code":  errResp.Code,
		"tx_hash":     errResp.LastTx,
	}).Debug("Treasury API error")

	we := wallet.NewWalletError(errResp.Code, errResp.Error, nil, "")
	if errResp.LastTx != "" {
		we = we.WithHash(common.HexToHash(errResp.LastTx))
	}
	return we
}
