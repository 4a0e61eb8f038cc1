package wallet

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
)

// Call describes one logical write: a method on a contract with its arguments.
type Call struct {
	// Operation labels the call in logs and metrics (e.g. "mint", "grant")
	Operation string
	Contract  ContractRef
	Method    string
	Args      []interface{}
}

// Outcome is the engine's report for one logical operation.
type Outcome struct {
	// State is the terminal state the engine stopped in
	State State

	// Hash is the hash of the mined transaction, or the last broadcast one
	Hash common.Hash

	// Receipt is set when a transaction was mined
	Receipt *Receipt

	// Attempts is the number of attempts consumed
	Attempts int

	// Hashes lists every hash broadcast for the operation, oldest first
	Hashes []common.Hash
}

// Observer receives engine progress, typically for metrics.
type Observer interface {
	AttemptStarted(operation string, attempt int)
	Finished(operation string, state State, attempts int, elapsed time.Duration)
}

// NopObserver discards all engine progress.
type NopObserver struct{}

func (NopObserver) AttemptStarted(string, int)                 {}
func (NopObserver) Finished(string, State, int, time.Duration) {}

// Engine drives a call through build, sign, submit and receipt wait, retrying
// timed-out attempts with a fresh transaction that replaces the stuck one.
// At most one transaction per Run is ever mined: retries reuse the nonce of
// the attempt they replace, and the receipts of every earlier broadcast are
// checked before a new attempt is built.
type Engine struct {
	chain    Chain
	signer   Signer
	builder  *Builder
	locks    *AccountLock
	config   EngineConfig
	observer Observer
	sleep    func(ctx context.Context, d time.Duration) error
	log      *logrus.Logger
}

// EngineOption customizes an Engine at construction.
type EngineOption func(*Engine)

// WithObserver reports engine progress to o.
func WithObserver(o Observer) EngineOption {
	return func(e *Engine) {
		if o != nil {
			e.observer = o
		}
	}
}

// WithSleep replaces the backoff sleep, so tests can record delays instead of waiting.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) EngineOption {
	return func(e *Engine) {
		if sleep != nil {
			e.sleep = sleep
		}
	}
}

// WithAccountLock shares an account lock between engines signing for the same account.
func WithAccountLock(l *AccountLock) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.locks = l
		}
	}
}

// NewEngine creates an engine submitting through chain with transactions signed by signer.
//
// Example:
//
//	engine := NewEngine(client, keys, DefaultEngineConfig(), logger, WithObserver(m))
//	outcome, err := engine.Run(ctx, Call{Operation: "mint", Contract: nft, Method: "mintTo", Args: args})
func NewEngine(chain Chain, signer Signer, config EngineConfig, log *logrus.Logger, opts ...EngineOption) *Engine {
	e := &Engine{
		chain:    chain,
		signer:   signer,
		builder:  NewBuilder(chain, signer.Address()),
		locks:    NewAccountLock(),
		config:   config,
		observer: NopObserver{},
		sleep:    sleepContext,
		log:      log,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// run is the mutable state of a single Run.
type run struct {
	call     Call
	attempt  int
	nonce    uint64
	nonceSet bool
	hashes   []common.Hash
	receipt  *Receipt
	lastErr  error
	started  time.Time
}

func (r *run) lastHash() common.Hash {
	if len(r.hashes) == 0 {
		return common.Hash{}
	}
	return r.hashes[len(r.hashes)-1]
}

func (r *run) broadcast(hash common.Hash) {
	for _, h := range r.hashes {
		if h == hash {
			return
		}
	}
	r.hashes = append(r.hashes, hash)
}

// Run executes call to a terminal state. The returned Outcome is never nil;
// the error is nil only when the state is StateConfirmed.
//
// Errors:
//   - CHAIN_EXECUTION_FAILED: mined and reverted, never retried
//   - TRANSACTION_TIMEOUT: attempts exhausted or ctx cancelled, carrying the last hash
//   - RPC_REJECTED: the node refused the transaction for a non-transient reason
//   - RPC_UNAVAILABLE: every attempt failed before anything was broadcast
//   - INVALID_ARGUMENT, MISSING_CONFIG, MISSING_CREDENTIAL: returned before any broadcast
func (e *Engine) Run(ctx context.Context, call Call) (*Outcome, error) {
	r := &run{call: call, started: time.Now()}

	release, err := e.locks.Acquire(ctx, e.signer.Address())
	if err != nil {
		return e.cancelled(r, err)
	}
	defer release()

	var (
		unsigned *UnsignedTransaction
		signed   *SignedTransaction
	)

	state := StateBuilding
	for !state.Terminal() {
		e.entry(r, state).Debug("Engine transition")

		switch state {
		case StateBuilding:
			if ctx.Err() != nil {
				return e.cancelled(r, ctx.Err())
			}
			e.observer.AttemptStarted(call.Operation, r.attempt)

			unsigned, err = e.builder.Build(ctx, call.Contract, call.Method, r.attempt, call.Args...)
			if err != nil {
				if IsWalletError(err, ErrCodeRPCUnavailable) {
					r.lastErr = err
					state = StateRetrying
					continue
				}
				return e.abort(r, err)
			}

			if r.nonceSet && unsigned.Nonce > r.nonce && len(r.hashes) > 0 {
				if receipt := e.reconcile(ctx, r); receipt != nil {
					r.receipt = receipt
					state = nextAfterReceipt(receipt.Outcome())
					continue
				}
				r.lastErr = fmt.Errorf("nonce %d was consumed but no receipt was found for %d broadcast transactions", r.nonce, len(r.hashes))
				state = StateGivenUp
				continue
			}
			r.nonce = unsigned.Nonce
			r.nonceSet = true
			state = StateSigning

		case StateSigning:
			signed, err = e.signer.Sign(unsigned)
			if err != nil {
				return e.abort(r, err)
			}
			state = StateSubmitted

		case StateSubmitted:
			_, err = e.chain.Submit(ctx, signed)
			switch class := classifySubmitError(err); class {
			case submitAccepted:
				r.broadcast(signed.Hash)
				state = StateAwaitingReceipt
			case submitMaybeBroadcast:
				e.entry(r, state).WithField("tx_hash", signed.Hash.Hex()).WithError(err).
					Warn("Submission outcome unknown, waiting for receipt")
				r.broadcast(signed.Hash)
				r.lastErr = err
				state = StateAwaitingReceipt
			case submitNonceConsumed, submitUnderpriced:
				e.entry(r, state).WithField("class", class.String()).WithError(err).Info("Transient submission failure")
				r.lastErr = err
				state = StateRetrying
			default:
				r.lastErr = err
				state = StateRejected
			}

		case StateAwaitingReceipt:
			receipt, outcome, err := e.chain.AwaitReceipt(ctx, r.lastHash(), e.config.ReceiptTimeout)
			if err != nil {
				return e.cancelled(r, err)
			}
			r.receipt = receipt
			state = nextAfterReceipt(outcome)

		case StateRetrying:
			if receipt := e.reconcile(ctx, r); receipt != nil {
				r.receipt = receipt
				state = nextAfterReceipt(receipt.Outcome())
				continue
			}
			if r.attempt+1 >= e.config.MaxAttempts {
				state = StateGivenUp
				continue
			}
			delay := backoffFor(e.config.BaseBackoff, r.attempt)
			e.entry(r, state).WithField("backoff", delay.String()).Info("Retrying transaction")
			r.attempt++
			if err := e.sleep(ctx, delay); err != nil {
				return e.cancelled(r, err)
			}
			state = StateBuilding
		}
	}

	return e.finish(r, state)
}

// reconcile looks up the receipt of every hash broadcast so far, newest first.
func (e *Engine) reconcile(ctx context.Context, r *run) *Receipt {
	for i := len(r.hashes) - 1; i >= 0; i-- {
		receipt, err := e.chain.ReceiptByHash(ctx, r.hashes[i])
		if err != nil {
			e.entry(r, StateRetrying).WithField("tx_hash", r.hashes[i].Hex()).WithError(err).Debug("Receipt lookup failed")
			continue
		}
		if receipt != nil {
			e.entry(r, StateRetrying).WithField("tx_hash", receipt.TxHash.Hex()).Info("Earlier attempt was mined")
			return receipt
		}
	}
	return nil
}

func (e *Engine) finish(r *run, state State) (*Outcome, error) {
	out := e.outcome(r, state)
	e.observer.Finished(r.call.Operation, state, out.Attempts, time.Since(r.started))

	network := ""
	if we, ok := AsWalletError(r.lastErr); ok {
		network = we.Network
	}

	var err error
	switch state {
	case StateConfirmed:
		e.entry(r, state).WithField("tx_hash", out.Hash.Hex()).Info("Transaction confirmed")
		return out, nil
	case StateFailedOnChain:
		err = NewWalletError(ErrCodeChainExecutionFailed,
			fmt.Sprintf("%s transaction reverted", r.call.Operation), nil, network).WithHash(out.Hash)
	case StateRejected:
		if we, ok := AsWalletError(r.lastErr); ok && we.Code == ErrCodeRPCRejected {
			err = we.WithHash(r.lastHash())
		} else {
			err = NewWalletError(ErrCodeRPCRejected, "node rejected transaction", r.lastErr, network).WithHash(r.lastHash())
		}
	default:
		if len(r.hashes) == 0 {
			if we, ok := AsWalletError(r.lastErr); ok {
				err = we
				break
			}
		}
		err = NewWalletError(ErrCodeTransactionTimeout,
			fmt.Sprintf("no receipt after %d attempts", out.Attempts), r.lastErr, network).WithHash(r.lastHash())
	}

	e.entry(r, state).WithField("tx_hash", out.Hash.Hex()).WithError(err).Warn("Transaction not confirmed")
	return out, err
}

// abort ends a run on an error raised before anything could be submitted.
func (e *Engine) abort(r *run, err error) (*Outcome, error) {
	out := e.outcome(r, StateRejected)
	e.observer.Finished(r.call.Operation, StateRejected, out.Attempts, time.Since(r.started))
	e.entry(r, StateRejected).WithError(err).Warn("Transaction aborted")
	if we, ok := AsWalletError(err); ok && len(r.hashes) > 0 {
		return out, we.WithHash(r.lastHash())
	}
	return out, err
}

func (e *Engine) cancelled(r *run, cause error) (*Outcome, error) {
	out := e.outcome(r, StateGivenUp)
	e.observer.Finished(r.call.Operation, StateGivenUp, out.Attempts, time.Since(r.started))

	msg := "operation cancelled before any transaction was broadcast"
	if len(r.hashes) > 0 {
		msg = "operation cancelled, transaction status unknown"
	}
	err := NewWalletError(ErrCodeTransactionTimeout, msg, cause, "").WithHash(r.lastHash())
	e.entry(r, StateGivenUp).WithField("tx_hash", r.lastHash().Hex()).Warn(msg)
	return out, err
}

func (e *Engine) outcome(r *run, state State) *Outcome {
	out := &Outcome{
		State:    state,
		Hash:     r.lastHash(),
		Receipt:  r.receipt,
		Attempts: r.attempt + 1,
		Hashes:   append([]common.Hash(nil), r.hashes...),
	}
	if r.receipt != nil {
		out.Hash = r.receipt.TxHash
	}
	return out
}

func (e *Engine) entry(r *run, state State) *logrus.Entry {
	fields := logrus.Fields{
		"operation": r.call.Operation,
		"attempt":   r.attempt,
		"state":     state.String(),
	}
	if r.nonceSet {
		fields["nonce"] = r.nonce
	}
	return e.log.WithFields(fields)
}

// submitClass classifies the result of a submission.
type submitClass int

const (
	submitAccepted submitClass = iota
	submitMaybeBroadcast
	submitNonceConsumed
	submitUnderpriced
	submitFatal
)

func (c submitClass) String() string {
	switch c {
	case submitAccepted:
		return "accepted"
	case submitMaybeBroadcast:
		return "maybe_broadcast"
	case submitNonceConsumed:
		return "nonce_consumed"
	case submitUnderpriced:
		return "underpriced"
	default:
		return "fatal"
	}
}

// classifySubmitError decides how the engine proceeds after Submit returns err.
func classifySubmitError(err error) submitClass {
	if err == nil {
		return submitAccepted
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "already known"), strings.Contains(msg, "known transaction"):
		return submitAccepted
	case strings.Contains(msg, "nonce too low"):
		return submitNonceConsumed
	case strings.Contains(msg, "underpriced"):
		return submitUnderpriced
	}

	if errors.Is(err, context.DeadlineExceeded) || IsWalletError(err, ErrCodeRPCUnavailable) {
		return submitMaybeBroadcast
	}
	return submitFatal
}

// nextAfterReceipt maps a receipt wait outcome to the next engine state.
func nextAfterReceipt(outcome ReceiptOutcome) State {
	switch outcome {
	case OutcomeSuccess:
		return StateConfirmed
	case OutcomeFailure:
		return StateFailedOnChain
	default:
		return StateRetrying
	}
}

// backoffFor returns the delay after the given 0-based attempt: base × 2^attempt.
func backoffFor(base time.Duration, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 16 {
		attempt = 16
	}
	return base << uint(attempt)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
