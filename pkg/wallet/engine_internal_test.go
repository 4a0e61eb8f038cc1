package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Engine transition guards", func() {
	DescribeTable("classifySubmitError",
		func(err error, want submitClass) {
			Expect(classifySubmitError(err)).To(Equal(want))
		},
		Entry("accepted", nil, submitAccepted),
		Entry("already known", errors.New("already known"), submitAccepted),
		Entry("nonce too low", errors.New("nonce too low"), submitNonceConsumed),
		Entry("replacement underpriced", errors.New("replacement transaction underpriced"), submitUnderpriced),
		Entry("underpriced", errors.New("transaction underpriced"), submitUnderpriced),
		Entry("wrapped transient", NewWalletError(ErrCodeRPCRejected, "node rejected transaction", errors.New("Nonce too low"), ""), submitNonceConsumed),
		Entry("transport failure", NewWalletError(ErrCodeRPCUnavailable, "failed to send transaction", errors.New("EOF"), ""), submitMaybeBroadcast),
		Entry("deadline", fmt.Errorf("send: %w", context.DeadlineExceeded), submitMaybeBroadcast),
		Entry("insufficient funds", errors.New("insufficient funds for gas * price + value"), submitFatal),
		Entry("invalid sender", errors.New("invalid sender"), submitFatal),
	)

	DescribeTable("nextAfterReceipt",
		func(outcome ReceiptOutcome, want State) {
			Expect(nextAfterReceipt(outcome)).To(Equal(want))
		},
		Entry("success", OutcomeSuccess, StateConfirmed),
		Entry("failure", OutcomeFailure, StateFailedOnChain),
		Entry("timed out", OutcomeTimedOut, StateRetrying),
	)

	It("doubles the backoff per attempt", func() {
		base := 2 * time.Second
		prev := time.Duration(0)
		for k := 0; k < 6; k++ {
			d := backoffFor(base, k)
			Expect(d).To(BeNumerically(">", prev))
			prev = d
		}
		Expect(backoffFor(base, 0)).To(Equal(2 * time.Second))
		Expect(backoffFor(base, 3)).To(Equal(16 * time.Second))
		Expect(backoffFor(base, 100)).To(Equal(backoffFor(base, 16)))
	})

	It("marks only end states as terminal", func() {
		Expect(StateRetrying.Terminal()).To(BeFalse())
		Expect(StateAwaitingReceipt.Terminal()).To(BeFalse())
		Expect(StateConfirmed.Terminal()).To(BeTrue())
		Expect(StateGivenUp.Terminal()).To(BeTrue())
		Expect(StateRejected.Terminal()).To(BeTrue())
	})
})
