package wallet_test

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/slh-labs/slh-treasury/pkg/wallet"
)

var _ = Describe("AccountLock", func() {
	var (
		locks   *wallet.AccountLock
		account = common.HexToAddress("0x742d35Cc6634C0532925a3b844Bc454e4438f44e")
		other   = common.HexToAddress("0x000000000000000000000000000000000000dEaD")
	)

	BeforeEach(func() {
		locks = wallet.NewAccountLock()
	})

	It("serializes holders of the same account", func() {
		release, err := locks.Acquire(context.Background(), account)
		Expect(err).NotTo(HaveOccurred())

		_, held := locks.HeldFor(account)
		Expect(held).To(BeTrue())

		acquired := make(chan struct{})
		go func() {
			defer GinkgoRecover()
			next, err := locks.Acquire(context.Background(), account)
			Expect(err).NotTo(HaveOccurred())
			close(acquired)
			next()
		}()

		Consistently(acquired, 50*time.Millisecond).ShouldNot(BeClosed())
		release()
		Eventually(acquired).Should(BeClosed())
	})

	It("does not block other accounts", func() {
		release, err := locks.Acquire(context.Background(), account)
		Expect(err).NotTo(HaveOccurred())
		defer release()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		second, err := locks.Acquire(ctx, other)
		Expect(err).NotTo(HaveOccurred())
		second()
	})

	It("gives up waiting when the context ends", func() {
		release, err := locks.Acquire(context.Background(), account)
		Expect(err).NotTo(HaveOccurred())
		defer release()

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err = locks.Acquire(ctx, account)
		Expect(err).To(MatchError(context.DeadlineExceeded))
	})

	It("tolerates a double release", func() {
		release, err := locks.Acquire(context.Background(), account)
		Expect(err).NotTo(HaveOccurred())
		release()
		release()

		_, held := locks.HeldFor(account)
		Expect(held).To(BeFalse())
	})
})
