package wallet_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"

	"github.com/slh-labs/slh-treasury/pkg/wallet"
	"github.com/slh-labs/slh-treasury/pkg/wallet/wallettest"
)

var _ = Describe("Engine", func() {
	var (
		chain  *wallettest.FakeChain
		keys   *wallet.KeyManager
		nft    wallet.ContractRef
		logger *logrus.Logger
		config wallet.EngineConfig
		sleeps []time.Duration
		onNap  func(n int)
		mu     sync.Mutex
		to     common.Address
	)

	recordSleep := func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		sleeps = append(sleeps, d)
		n := len(sleeps)
		mu.Unlock()
		if onNap != nil {
			onNap(n)
		}
		return ctx.Err()
	}

	newEngine := func(opts ...wallet.EngineOption) *wallet.Engine {
		opts = append([]wallet.EngineOption{wallet.WithSleep(recordSleep)}, opts...)
		return wallet.NewEngine(chain, keys, config, logger, opts...)
	}

	mintCall := func() wallet.Call {
		return wallet.Call{
			Operation: "mint",
			Contract:  nft,
			Method:    wallet.MintToMethod,
			Args:      []interface{}{to, "ipfs://cid"},
		}
	}

	BeforeEach(func() {
		logger = logrus.New()
		logger.SetOutput(GinkgoWriter)
		logger.SetLevel(logrus.DebugLevel)

		var err error
		keys, err = wallet.NewKeyManager(wallettest.TestKeyHex)
		Expect(err).NotTo(HaveOccurred())

		nft, err = wallet.NewNFTContract(common.HexToAddress("0x00000000000000000000000000000000000000aa"), 97, 300000)
		Expect(err).NotTo(HaveOccurred())

		chain = wallettest.NewFakeChain()
		config = wallet.EngineConfig{
			ReceiptTimeout: time.Second,
			PollInterval:   10 * time.Millisecond,
			MaxAttempts:    4,
			BaseBackoff:    2 * time.Second,
		}
		sleeps = nil
		onNap = nil
		to = common.HexToAddress("0x742d35Cc6634C0532925a3b844Bc454e4438f44e")
	})

	Context("when the transaction is mined on the first attempt", func() {
		It("confirms without retrying", func() {
			chain.MineAll = true

			out, err := newEngine().Run(context.Background(), mintCall())

			Expect(err).NotTo(HaveOccurred())
			Expect(out.State).To(Equal(wallet.StateConfirmed))
			Expect(out.Attempts).To(Equal(1))
			Expect(out.Receipt).NotTo(BeNil())
			Expect(out.Hash).To(Equal(chain.Submitted()[0].Hash))
			Expect(sleeps).To(BeEmpty())
		})
	})

	Context("when no receipt ever appears", func() {
		It("gives up after exactly the configured attempts with growing backoff", func() {
			out, err := newEngine().Run(context.Background(), mintCall())

			Expect(wallet.IsWalletError(err, wallet.ErrCodeTransactionTimeout)).To(BeTrue())
			Expect(out.State).To(Equal(wallet.StateGivenUp))
			Expect(out.Attempts).To(Equal(4))

			submitted := chain.Submitted()
			Expect(submitted).To(HaveLen(4))
			Expect(sleeps).To(Equal([]time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}))

			we, ok := wallet.AsWalletError(err)
			Expect(ok).To(BeTrue())
			Expect(we.LastHash).To(Equal(submitted[3].Hash))
			Expect(out.Hashes).To(HaveLen(4))
		})

		It("replaces the stuck attempt with the same nonce and a higher fee", func() {
			_, _ = newEngine().Run(context.Background(), mintCall())

			submitted := chain.Submitted()
			for i := 1; i < len(submitted); i++ {
				Expect(submitted[i].Nonce).To(Equal(submitted[0].Nonce))
				Expect(submitted[i].Tx.GasFeeCap().Cmp(submitted[i-1].Tx.GasFeeCap())).To(BeNumerically(">=", 0))
				Expect(submitted[i].Hash).NotTo(Equal(submitted[i-1].Hash))
			}
			Expect(submitted[1].Tx.GasFeeCap().Cmp(submitted[0].Tx.GasFeeCap())).To(Equal(1))
		})
	})

	Context("when the transaction reverts", func() {
		It("fails after one attempt and never retries", func() {
			chain.MineAll = true
			chain.Revert = true

			out, err := newEngine().Run(context.Background(), mintCall())

			Expect(wallet.IsWalletError(err, wallet.ErrCodeChainExecutionFailed)).To(BeTrue())
			Expect(out.State).To(Equal(wallet.StateFailedOnChain))
			Expect(out.Attempts).To(Equal(1))
			Expect(chain.Submitted()).To(HaveLen(1))
			Expect(sleeps).To(BeEmpty())

			we, _ := wallet.AsWalletError(err)
			Expect(we.LastHash).To(Equal(chain.Submitted()[0].Hash))
		})
	})

	Context("when an earlier attempt is mined while waiting", func() {
		It("adopts its receipt instead of broadcasting again", func() {
			onNap = func(n int) {
				if n == 1 {
					chain.MineSubmission(1)
				}
			}

			out, err := newEngine().Run(context.Background(), mintCall())

			Expect(err).NotTo(HaveOccurred())
			Expect(out.State).To(Equal(wallet.StateConfirmed))
			Expect(chain.Submitted()).To(HaveLen(1))
			Expect(chain.MinedCount()).To(Equal(1))
			Expect(out.Hash).To(Equal(chain.Submitted()[0].Hash))
		})
	})

	Context("when submission fails transiently", func() {
		It("retries after nonce too low", func() {
			chain.MineAll = true
			chain.SubmitErrors = []error{
				wallet.NewWalletError(wallet.ErrCodeRPCRejected, "node rejected transaction",
					&wallettest.RPCError{Code: -32000, Message: "nonce too low"}, "fake"),
			}

			out, err := newEngine().Run(context.Background(), mintCall())

			Expect(err).NotTo(HaveOccurred())
			Expect(out.Attempts).To(Equal(2))
			Expect(chain.Submitted()).To(HaveLen(1))
		})

		It("keeps the hash of a possibly broadcast transaction", func() {
			chain.SubmitErrors = []error{
				wallet.NewWalletError(wallet.ErrCodeRPCUnavailable, "failed to send transaction",
					errors.New("connection reset by peer"), "fake"),
			}
			chain.MineOn = 1

			out, err := newEngine().Run(context.Background(), mintCall())

			Expect(err).NotTo(HaveOccurred())
			Expect(out.Hashes).To(HaveLen(2))
			Expect(out.Hash).To(Equal(out.Hashes[1]))
		})
	})

	Context("when the node rejects the transaction", func() {
		It("stops with RPC_REJECTED", func() {
			chain.SubmitErrors = []error{
				wallet.NewWalletError(wallet.ErrCodeRPCRejected, "node rejected transaction",
					&wallettest.RPCError{Code: -32000, Message: "insufficient funds for gas * price + value"}, "fake"),
			}

			out, err := newEngine().Run(context.Background(), mintCall())

			Expect(wallet.IsWalletError(err, wallet.ErrCodeRPCRejected)).To(BeTrue())
			Expect(err.Error()).To(ContainSubstring("insufficient funds"))
			Expect(out.State).To(Equal(wallet.StateRejected))
			Expect(chain.Submitted()).To(BeEmpty())
			Expect(sleeps).To(BeEmpty())
		})
	})

	Context("when the nonce cannot be read", func() {
		It("consumes attempts and reports RPC_UNAVAILABLE", func() {
			unavailable := wallet.NewWalletError(wallet.ErrCodeRPCUnavailable, "failed to get nonce", errors.New("dial tcp: refused"), "fake")
			chain.NonceErrors = []error{unavailable, unavailable, unavailable, unavailable}

			out, err := newEngine().Run(context.Background(), mintCall())

			Expect(wallet.IsWalletError(err, wallet.ErrCodeRPCUnavailable)).To(BeTrue())
			Expect(out.Attempts).To(Equal(4))
			Expect(chain.Submitted()).To(BeEmpty())
		})
	})

	Context("when the call is invalid", func() {
		It("fails before reading a nonce", func() {
			call := mintCall()
			call.Method = "burn"

			_, err := newEngine().Run(context.Background(), call)

			Expect(wallet.IsWalletError(err, wallet.ErrCodeInvalidArgument)).To(BeTrue())
			Expect(chain.NonceReads()).To(Equal(0))
		})
	})

	Context("when the context is cancelled", func() {
		It("returns a timeout carrying the last hash", func() {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			onNap = func(int) { cancel() }

			out, err := newEngine().Run(ctx, mintCall())

			Expect(wallet.IsWalletError(err, wallet.ErrCodeTransactionTimeout)).To(BeTrue())
			Expect(err.Error()).To(ContainSubstring("status unknown"))
			we, _ := wallet.AsWalletError(err)
			Expect(we.LastHash).To(Equal(chain.Submitted()[0].Hash))
			Expect(out.State).To(Equal(wallet.StateGivenUp))
		})
	})

	Context("with concurrent operations on one account", func() {
		It("assigns distinct nonces", func() {
			chain.MineAll = true
			engine := newEngine()

			const n = 8
			var wg sync.WaitGroup
			errs := make(chan error, n)
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					_, err := engine.Run(context.Background(), mintCall())
					errs <- err
				}()
			}
			wg.Wait()
			close(errs)

			for err := range errs {
				Expect(err).NotTo(HaveOccurred())
			}

			seen := make(map[uint64]bool)
			for _, s := range chain.Submitted() {
				Expect(seen).NotTo(HaveKey(s.Nonce))
				seen[s.Nonce] = true
			}
			Expect(seen).To(HaveLen(n))
		})
	})

	Context("with an observer", func() {
		It("reports attempts and the terminal state", func() {
			chain.MineAll = true
			obs := &recordingObserver{}

			_, err := newEngine(wallet.WithObserver(obs)).Run(context.Background(), mintCall())

			Expect(err).NotTo(HaveOccurred())
			Expect(obs.attempts).To(Equal([]int{0}))
			Expect(obs.final).To(Equal(wallet.StateConfirmed))
		})
	})

	It("decodes the minted token id from the receipt", func() {
		chain.MineAll = true
		chain.LogsFor = func(tx *types.Transaction) []*types.Log {
			return []*types.Log{wallettest.TransferLog(nft.Address, common.Address{}, to, 42)}
		}

		out, err := newEngine().Run(context.Background(), mintCall())
		Expect(err).NotTo(HaveOccurred())

		id, found := wallet.DecodeTransferLog(out.Receipt, nft.Address)
		Expect(found).To(BeTrue())
		Expect(id.Int64()).To(Equal(int64(42)))
	})
})

type recordingObserver struct {
	mu       sync.Mutex
	attempts []int
	final    wallet.State
}

func (o *recordingObserver) AttemptStarted(_ string, attempt int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.attempts = append(o.attempts, attempt)
}

func (o *recordingObserver) Finished(_ string, state wallet.State, _ int, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.final = state
}
