package wallet_test

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"

	"github.com/slh-labs/slh-treasury/pkg/wallet"
	"github.com/slh-labs/slh-treasury/pkg/wallet/wallettest"
)

var _ = Describe("Client", func() {
	var (
		ctx     context.Context
		logger  *logrus.Logger
		backend *wallettest.FakeBackend
		config  wallet.NetworkConfig
		keys    *wallet.KeyManager
	)

	signed := func(nonce uint64) *wallet.SignedTransaction {
		bid := wallet.DefaultFeePolicy().BidFor(0)
		s, err := keys.Sign(&wallet.UnsignedTransaction{
			From:                 keys.Address(),
			To:                   common.HexToAddress("0x00000000000000000000000000000000000000aa"),
			Nonce:                nonce,
			ChainID:              big.NewInt(97),
			GasLimit:             100000,
			MaxFeePerGas:         bid.MaxFeePerGas,
			MaxPriorityFeePerGas: bid.MaxPriorityFeePerGas,
		})
		Expect(err).NotTo(HaveOccurred())
		return s
	}

	BeforeEach(func() {
		ctx = context.Background()
		logger = logrus.New()
		logger.SetOutput(GinkgoWriter)

		backend = wallettest.NewFakeBackend()
		config = wallet.DefaultNetworkConfig()
		config.DialAttempts = 2
		config.DialBackoff = time.Millisecond
		config.RequestTimeout = time.Second

		var err error
		keys, err = wallet.NewKeyManager(wallettest.TestKeyHex)
		Expect(err).NotTo(HaveOccurred())
	})

	connect := func() *wallet.Client {
		client, err := wallet.Connect(ctx, logger, config, wallet.DefaultFeePolicy(),
			wallet.WithBackend(backend), wallet.WithPollInterval(5*time.Millisecond))
		Expect(err).NotTo(HaveOccurred())
		return client
	}

	Context("Connect", func() {
		It("connects when the node serves the configured chain", func() {
			client := connect()
			Expect(client.ChainID().Int64()).To(Equal(int64(97)))
			Expect(client.Connected(ctx)).To(BeTrue())
			client.Close()
			Expect(backend.Closed()).To(BeTrue())
		})

		It("fails with MISSING_CONFIG on a chain id mismatch", func() {
			backend.RemoteChainID = big.NewInt(56)
			_, err := wallet.Connect(ctx, logger, config, wallet.DefaultFeePolicy(), wallet.WithBackend(backend))
			Expect(wallet.IsWalletError(err, wallet.ErrCodeMissingConfig)).To(BeTrue())
			Expect(err.Error()).To(ContainSubstring("chain id mismatch"))
		})

		It("fails with RPC_UNAVAILABLE when the probe keeps failing", func() {
			backend.ProbeErr = errors.New("connection refused")
			_, err := wallet.Connect(ctx, logger, config, wallet.DefaultFeePolicy(), wallet.WithBackend(backend))
			Expect(wallet.IsWalletError(err, wallet.ErrCodeRPCUnavailable)).To(BeTrue())
		})
	})

	Context("Submit", func() {
		It("returns the hash of an accepted transaction", func() {
			client := connect()
			tx := signed(0)
			hash, err := client.Submit(ctx, tx)
			Expect(err).NotTo(HaveOccurred())
			Expect(hash).To(Equal(tx.Hash))
			Expect(backend.Sent()).To(HaveLen(1))
		})

		It("maps node errors to RPC_REJECTED", func() {
			backend.SendErr = &wallettest.RPCError{Code: -32000, Message: "insufficient funds for gas * price + value"}
			_, err := connect().Submit(ctx, signed(0))
			Expect(wallet.IsWalletError(err, wallet.ErrCodeRPCRejected)).To(BeTrue())
		})

		It("maps transport errors to RPC_UNAVAILABLE", func() {
			backend.SendErr = errors.New("read: connection reset by peer")
			_, err := connect().Submit(ctx, signed(0))
			Expect(wallet.IsWalletError(err, wallet.ErrCodeRPCUnavailable)).To(BeTrue())
		})
	})

	Context("AwaitReceipt", func() {
		It("returns success for a mined transaction", func() {
			client := connect()
			tx := signed(0)
			backend.SetReceipt(tx.Hash, types.ReceiptStatusSuccessful)

			receipt, outcome, err := client.AwaitReceipt(ctx, tx.Hash, time.Second)
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome).To(Equal(wallet.OutcomeSuccess))
			Expect(receipt.TxHash).To(Equal(tx.Hash))
		})

		It("returns failure for a reverted transaction", func() {
			client := connect()
			tx := signed(0)
			backend.SetReceipt(tx.Hash, types.ReceiptStatusFailed)

			_, outcome, err := client.AwaitReceipt(ctx, tx.Hash, time.Second)
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome).To(Equal(wallet.OutcomeFailure))
		})

		It("times out without an error", func() {
			receipt, outcome, err := connect().AwaitReceipt(ctx, common.HexToHash("0x01"), 20*time.Millisecond)
			Expect(err).NotTo(HaveOccurred())
			Expect(receipt).To(BeNil())
			Expect(outcome).To(Equal(wallet.OutcomeTimedOut))
		})

		It("stops when the context is cancelled", func() {
			cctx, cancel := context.WithCancel(ctx)
			cancel()
			_, outcome, err := connect().AwaitReceipt(cctx, common.HexToHash("0x01"), time.Second)
			Expect(err).To(MatchError(context.Canceled))
			Expect(outcome).To(Equal(wallet.OutcomeTimedOut))
		})
	})

	Context("GetNonce", func() {
		It("reads the confirmed nonce every time", func() {
			client := connect()
			backend.NonceValue = 7
			Expect(client.GetNonce(ctx, keys.Address())).To(Equal(uint64(7)))
			backend.NonceValue = 8
			Expect(client.GetNonce(ctx, keys.Address())).To(Equal(uint64(8)))
		})
	})

	Context("CallView", func() {
		It("unpacks decimals", func() {
			token, err := wallet.NewRewardTokenContract(common.HexToAddress("0x00000000000000000000000000000000000000bb"), 97, 100000)
			Expect(err).NotTo(HaveOccurred())
			backend.CallResult = common.LeftPadBytes([]byte{18}, 32)

			out, err := connect().CallView(ctx, token, "decimals")
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(HaveLen(1))
			Expect(out[0]).To(Equal(uint8(18)))
		})

		It("rejects methods outside the ABI", func() {
			token, _ := wallet.NewRewardTokenContract(common.HexToAddress("0x00000000000000000000000000000000000000bb"), 97, 100000)
			_, err := connect().CallView(ctx, token, "mint")
			Expect(wallet.IsWalletError(err, wallet.ErrCodeInvalidArgument)).To(BeTrue())
		})
	})
})

var _ = Describe("KeyManager", func() {
	It("derives the address and never prints the key", func() {
		km, err := wallet.NewKeyManager("0x" + wallettest.TestKeyHex)
		Expect(err).NotTo(HaveOccurred())
		Expect(km.Address()).To(Equal(wallettest.TestAddress))
		Expect(km.String()).NotTo(ContainSubstring(wallettest.TestKeyHex))
		Expect(km.GoString()).NotTo(ContainSubstring(wallettest.TestKeyHex))
	})

	It("reports a missing key as MISSING_CREDENTIAL", func() {
		_, err := wallet.NewKeyManager("  ")
		Expect(wallet.IsWalletError(err, wallet.ErrCodeMissingCredential)).To(BeTrue())
	})

	It("does not echo a malformed key", func() {
		_, err := wallet.NewKeyManager("not-a-key-zzzz")
		Expect(wallet.IsWalletError(err, wallet.ErrCodeMissingCredential)).To(BeTrue())
		Expect(err.Error()).NotTo(ContainSubstring("zzzz"))
	})

	It("refuses to sign for another account", func() {
		km, _ := wallet.NewKeyManager(wallettest.TestKeyHex)
		_, err := km.Sign(&wallet.UnsignedTransaction{
			From:    common.HexToAddress("0x00000000000000000000000000000000000000cc"),
			ChainID: big.NewInt(97),
		})
		Expect(wallet.IsWalletError(err, wallet.ErrCodeInvalidArgument)).To(BeTrue())
	})
})

var _ = Describe("ValidateAddress", func() {
	It("accepts checksummed and single-case addresses", func() {
		for _, a := range []string{
			"0x742d35Cc6634C0532925a3b844Bc454e4438f44e",
			strings.ToLower("0x742d35Cc6634C0532925a3b844Bc454e4438f44e"),
		} {
			addr, err := wallet.ValidateAddress(a)
			Expect(err).NotTo(HaveOccurred())
			Expect(addr).To(Equal(common.HexToAddress(a)))
		}
	})

	DescribeTable("rejects malformed input",
		func(input string) {
			_, err := wallet.ValidateAddress(input)
			Expect(wallet.IsWalletError(err, wallet.ErrCodeInvalidArgument)).To(BeTrue())
		},
		Entry("empty", ""),
		Entry("short", "0x1234"),
		Entry("no prefix", "742d35Cc6634C0532925a3b844Bc454e4438f44e"),
		Entry("bad checksum", "0x742d35cC6634C0532925a3b844Bc454e4438f44e"),
		Entry("zero address", "0x0000000000000000000000000000000000000000"),
	)
})

var _ = Describe("DecodeTransferLog", func() {
	nft := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	to := common.HexToAddress("0x742d35Cc6634C0532925a3b844Bc454e4438f44e")

	It("prefers the mint log", func() {
		receipt := &wallet.Receipt{Logs: []*types.Log{
			wallettest.TransferLog(nft, to, to, 7),
			wallettest.TransferLog(nft, common.Address{}, to, 42),
		}}
		id, found := wallet.DecodeTransferLog(receipt, nft)
		Expect(found).To(BeTrue())
		Expect(id.Int64()).To(Equal(int64(42)))
	})

	It("ignores logs from other contracts and ERC-20 shapes", func() {
		erc20 := wallettest.TransferLog(nft, common.Address{}, to, 1)
		erc20.Topics = erc20.Topics[:3]
		receipt := &wallet.Receipt{Logs: []*types.Log{
			wallettest.TransferLog(common.HexToAddress("0x01"), common.Address{}, to, 9),
			erc20,
		}}
		id, found := wallet.DecodeTransferLog(receipt, nft)
		Expect(found).To(BeFalse())
		Expect(id).To(BeNil())
	})
})
