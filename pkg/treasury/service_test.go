package treasury_test

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"

	"github.com/slh-labs/slh-treasury/pkg/audit"
	"github.com/slh-labs/slh-treasury/pkg/treasury"
	"github.com/slh-labs/slh-treasury/pkg/wallet"
	"github.com/slh-labs/slh-treasury/pkg/wallet/wallettest"
)

func TestTreasury(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Treasury Suite")
}

const buyer = "0x742d35Cc6634C0532925a3b844Bc454e4438f44e"

var _ = Describe("Service", func() {
	var (
		chain   *wallettest.FakeChain
		engine  *wallet.Engine
		logger  *logrus.Logger
		nft     wallet.ContractRef
		token   wallet.ContractRef
		service *treasury.Service
		config  treasury.Config
	)

	build := func() {
		var err error
		service, err = treasury.NewService(engine, chain, config, logger)
		Expect(err).NotTo(HaveOccurred())
	}

	BeforeEach(func() {
		logger = logrus.New()
		logger.SetOutput(GinkgoWriter)

		var err error
		nft, err = wallet.NewNFTContract(common.HexToAddress("0x00000000000000000000000000000000000000aa"), 97, 300000)
		Expect(err).NotTo(HaveOccurred())
		token, err = wallet.NewRewardTokenContract(common.HexToAddress("0x00000000000000000000000000000000000000bb"), 97, 100000)
		Expect(err).NotTo(HaveOccurred())

		keys, err := wallet.NewKeyManager(wallettest.TestKeyHex)
		Expect(err).NotTo(HaveOccurred())

		chain = wallettest.NewFakeChain()
		chain.MineAll = true
		chain.Views["decimals"] = []interface{}{uint8(18)}

		engine = wallet.NewEngine(chain, keys, wallet.EngineConfig{
			ReceiptTimeout: time.Second,
			PollInterval:   10 * time.Millisecond,
			MaxAttempts:    3,
			BaseBackoff:    time.Millisecond,
		}, logger)

		config = treasury.Config{
			NFT:         nft,
			MintMethod:  wallet.MintToMethod,
			RewardToken: &token,
		}
		build()
	})

	Context("MintTo", func() {
		It("returns the token id from the Transfer log", func() {
			chain.LogsFor = func(tx *types.Transaction) []*types.Log {
				return []*types.Log{wallettest.TransferLog(nft.Address, common.Address{}, common.HexToAddress(buyer), 42)}
			}

			result, err := service.MintTo(context.Background(), buyer, "ipfs://cid")

			Expect(err).NotTo(HaveOccurred())
			Expect(result.TokenIDFound).To(BeTrue())
			Expect(result.TokenID.Int64()).To(Equal(int64(42)))
			Expect(result.TxHash).To(Equal(chain.Submitted()[0].Hash))
		})

		It("succeeds without a token id when no Transfer log is present", func() {
			result, err := service.MintTo(context.Background(), buyer, "ipfs://cid")

			Expect(err).NotTo(HaveOccurred())
			Expect(result.TokenIDFound).To(BeFalse())
			Expect(result.TokenID).To(BeNil())
		})

		It("rejects an invalid wallet before building a transaction", func() {
			_, err := service.MintTo(context.Background(), "0x1234", "ipfs://cid")

			Expect(wallet.IsWalletError(err, wallet.ErrCodeInvalidArgument)).To(BeTrue())
			Expect(chain.NonceReads()).To(Equal(0))
			Expect(chain.Submitted()).To(BeEmpty())
		})

		It("requires a token uri for uri-taking mint functions", func() {
			_, err := service.MintTo(context.Background(), buyer, " ")
			Expect(wallet.IsWalletError(err, wallet.ErrCodeInvalidArgument)).To(BeTrue())
		})

		It("mints without a uri when configured with mintDemo", func() {
			config.MintMethod = wallet.MintDemoMethod
			build()

			_, err := service.MintTo(context.Background(), buyer, "")
			Expect(err).NotTo(HaveOccurred())

			data := chain.Submitted()[0].Tx.Data()
			Expect(data[:4]).To(Equal(nft.ABI.Methods[wallet.MintDemoMethod].ID))
		})

		It("surfaces a revert as CHAIN_EXECUTION_FAILED", func() {
			chain.Revert = true
			_, err := service.MintTo(context.Background(), buyer, "ipfs://cid")
			Expect(wallet.IsWalletError(err, wallet.ErrCodeChainExecutionFailed)).To(BeTrue())
		})
	})

	Context("GrantReward", func() {
		It("grants the default amount scaled by the token decimals", func() {
			result, err := service.GrantReward(context.Background(), buyer, "")

			Expect(err).NotTo(HaveOccurred())
			Expect(result.Amount).To(Equal("0.15984"))
			want, _ := new(big.Int).SetString("159840000000000000", 10)
			Expect(result.BaseUnits.Cmp(want)).To(Equal(0))

			args, err := token.ABI.Methods[wallet.TransferMethod].Inputs.Unpack(chain.Submitted()[0].Tx.Data()[4:])
			Expect(err).NotTo(HaveOccurred())
			Expect(args[0]).To(Equal(common.HexToAddress(buyer)))
			Expect(args[1].(*big.Int).Cmp(want)).To(Equal(0))
		})

		It("rejects a malformed amount without touching the chain", func() {
			_, err := service.GrantReward(context.Background(), buyer, "lots")
			Expect(wallet.IsWalletError(err, wallet.ErrCodeInvalidArgument)).To(BeTrue())
			Expect(chain.Submitted()).To(BeEmpty())
		})

		It("reports MISSING_CONFIG when no reward token is configured", func() {
			config.RewardToken = nil
			build()

			_, err := service.GrantReward(context.Background(), buyer, "1")
			Expect(wallet.IsWalletError(err, wallet.ErrCodeMissingConfig)).To(BeTrue())
		})

		It("propagates a failed decimals read", func() {
			chain.ViewErr = wallet.NewWalletError(wallet.ErrCodeRPCUnavailable, "decimals call failed", nil, "fake")
			_, err := service.GrantReward(context.Background(), buyer, "1")
			Expect(wallet.IsWalletError(err, wallet.ErrCodeRPCUnavailable)).To(BeTrue())
		})
	})

	Context("TokenInfo", func() {
		It("reads owner and uri", func() {
			chain.Views["ownerOf"] = []interface{}{common.HexToAddress(buyer)}
			chain.Views["tokenURI"] = []interface{}{"ipfs://meta"}

			info, err := service.TokenInfo(context.Background(), big.NewInt(42))
			Expect(err).NotTo(HaveOccurred())
			Expect(info.Owner).To(Equal(common.HexToAddress(buyer)))
			Expect(info.TokenURI).To(Equal("ipfs://meta"))
		})
	})

	It("refuses an unknown mint function", func() {
		config.MintMethod = "mintWhatever"
		_, err := treasury.NewService(engine, chain, config, logger)
		Expect(wallet.IsWalletError(err, wallet.ErrCodeMissingConfig)).To(BeTrue())
	})
})

type stubOperator struct {
	mintErr    error
	grantErr   error
	grantCalls int
}

func (o *stubOperator) MintTo(ctx context.Context, walletAddr, tokenURI string) (*treasury.MintResult, error) {
	if o.mintErr != nil {
		return nil, o.mintErr
	}
	return &treasury.MintResult{TxHash: common.HexToHash("0x0a"), TokenID: big.NewInt(1), TokenIDFound: true, Attempts: 1}, nil
}

func (o *stubOperator) GrantReward(ctx context.Context, walletAddr, amount string) (*treasury.GrantResult, error) {
	o.grantCalls++
	if o.grantErr != nil {
		return nil, o.grantErr
	}
	return &treasury.GrantResult{TxHash: common.HexToHash("0x0b"), Amount: "0.15984", Attempts: 1}, nil
}

var _ = Describe("Seller", func() {
	var (
		events *audit.Log
		logger *logrus.Logger
	)

	BeforeEach(func() {
		events = audit.NewLog(10)
		logger = logrus.New()
		logger.SetOutput(GinkgoWriter)
	})

	It("records a completed sale", func() {
		op := &stubOperator{}
		result := treasury.NewSeller(op, events, logger).Sell(context.Background(), treasury.SellRequest{
			Wallet: buyer, TokenURI: "ipfs://cid", Note: "order 7", Actor: "42",
		})

		Expect(result.OK()).To(BeTrue())
		Expect(result.Partial()).To(BeFalse())
		Expect(events.Len()).To(Equal(1))

		e := events.Recent(1)[0]
		Expect(e.MintTx).To(Equal(common.HexToHash("0x0a").Hex()))
		Expect(e.GrantTx).To(Equal(common.HexToHash("0x0b").Hex()))
		Expect(e.Note).To(Equal("order 7"))
	})

	It("reports a partial sale when the grant fails", func() {
		op := &stubOperator{grantErr: wallet.NewWalletError(wallet.ErrCodeTransactionTimeout, "no receipt", nil, "").
			WithHash(common.HexToHash("0x0c"))}
		result := treasury.NewSeller(op, events, logger).Sell(context.Background(), treasury.SellRequest{Wallet: buyer})

		Expect(result.Partial()).To(BeTrue())
		Expect(result.Mint.TxHash).To(Equal(common.HexToHash("0x0a")))
		Expect(wallet.IsWalletError(result.GrantErr, wallet.ErrCodeTransactionTimeout)).To(BeTrue())

		e := events.Recent(1)[0]
		Expect(e.GrantTx).To(BeEmpty())
		Expect(e.Note).To(ContainSubstring("TRANSACTION_TIMEOUT"))
		Expect(e.Note).To(ContainSubstring(common.HexToHash("0x0c").Hex()))
	})

	It("skips the grant and records nothing when the mint fails", func() {
		op := &stubOperator{mintErr: errors.New("boom")}
		result := treasury.NewSeller(op, events, logger).Sell(context.Background(), treasury.SellRequest{Wallet: buyer})

		Expect(result.MintErr).To(HaveOccurred())
		Expect(result.Partial()).To(BeFalse())
		Expect(op.grantCalls).To(Equal(0))
		Expect(events.Len()).To(Equal(0))
	})
})
