package wallet_test

import (
	"math/big"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/slh-labs/slh-treasury/pkg/wallet"
)

var _ = Describe("Amount conversion", func() {
	It("converts 0.15984 at 18 decimals exactly", func() {
		units, err := wallet.ToBaseUnits("0.15984", 18)
		Expect(err).NotTo(HaveOccurred())

		want, _ := new(big.Int).SetString("159840000000000000", 10)
		Expect(units.Cmp(want)).To(Equal(0))
		Expect(wallet.FromBaseUnits(units, 18)).To(Equal("0.15984"))
	})

	It("truncates toward zero below the smallest unit", func() {
		units, err := wallet.ToBaseUnits("1.239", 2)
		Expect(err).NotTo(HaveOccurred())
		Expect(units.Int64()).To(Equal(int64(123)))
	})

	DescribeTable("rejects unusable amounts",
		func(amount string) {
			_, err := wallet.ToBaseUnits(amount, 18)
			Expect(wallet.IsWalletError(err, wallet.ErrCodeInvalidArgument)).To(BeTrue())
		},
		Entry("empty", ""),
		Entry("garbage", "abc"),
		Entry("zero", "0"),
		Entry("negative", "-1"),
		Entry("dust", "0.0000000000000000001"),
	)
})

var _ = Describe("FeePolicy", func() {
	It("starts below the ceiling and escalates up to it", func() {
		policy := wallet.DefaultFeePolicy()

		first := policy.BidFor(0)
		Expect(first.MaxFeePerGas.Cmp(wallet.GweiToWei(5))).To(Equal(0))
		Expect(first.MaxPriorityFeePerGas.Cmp(wallet.GweiToWei(1.5))).To(Equal(0))
		Expect(first.GasPrice).To(BeNil())

		prev := first.MaxFeePerGas
		for k := 1; k < 3; k++ {
			bid := policy.BidFor(k)
			Expect(bid.MaxFeePerGas.Cmp(prev)).To(Equal(1))
			prev = bid.MaxFeePerGas
		}

		capped := policy.BidFor(20)
		Expect(capped.MaxFeePerGas.Cmp(policy.MaxFeePerGas)).To(Equal(0))
		Expect(capped.MaxPriorityFeePerGas.Cmp(policy.MaxPriorityFeePerGas)).To(Equal(0))
	})

	It("sets a gas price for legacy policies", func() {
		policy := wallet.DefaultFeePolicy()
		policy.Legacy = true
		bid := policy.BidFor(1)
		Expect(bid.GasPrice).NotTo(BeNil())
		Expect(bid.GasPrice.Cmp(bid.MaxFeePerGas)).To(Equal(0))
	})

	It("rejects a tip above the fee cap", func() {
		policy := wallet.DefaultFeePolicy()
		policy.MaxPriorityFeePerGas = wallet.GweiToWei(20)
		Expect(wallet.IsWalletError(policy.Validate(), wallet.ErrCodeMissingConfig)).To(BeTrue())
	})
})
