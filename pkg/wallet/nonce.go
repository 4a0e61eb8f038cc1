package wallet

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// AccountLock serializes transaction pipelines per signing account. While a
// caller holds the lock no other transaction from the same account is in
// flight, so the confirmed nonce read by the builder is also the next free
// nonce and a retry replaces its own stuck attempt.
//
// Waiting for the lock honours context cancellation.
type AccountLock struct {
	mu    sync.Mutex
	slots map[common.Address]chan struct{}
	held  map[common.Address]time.Time // when the current holder acquired the lock
}

// NewAccountLock creates a new account lock registry.
func NewAccountLock() *AccountLock {
	return &AccountLock{
		slots: make(map[common.Address]chan struct{}),
		held:  make(map[common.Address]time.Time),
	}
}

func (l *AccountLock) slot(account common.Address) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	ch, ok := l.slots[account]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[account] = ch
	}
	return ch
}

// Acquire blocks until the account's lock is free or ctx is done.
//
// Parameters:
//   - ctx: Context bounding the wait
//   - account: Signing account to lock
//
// Returns:
//   - func(): Release function; must be called exactly once
//   - error: ctx.Err() if the wait was cancelled
//
// Example:
//
//	release, err := locks.Acquire(ctx, signer.Address())
//	if err != nil {
//	    return err
//	}
//	defer release()
func (l *AccountLock) Acquire(ctx context.Context, account common.Address) (func(), error) {
	ch := l.slot(account)
	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	l.mu.Lock()
	l.held[account] = time.Now()
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, account)
			l.mu.Unlock()
			<-ch
		})
	}, nil
}

// HeldFor reports how long the account's lock has been held, and whether it is held.
func (l *AccountLock) HeldFor(account common.Address) (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	since, ok := l.held[account]
	if !ok {
		return 0, false
	}
	return time.Since(since), true
}
