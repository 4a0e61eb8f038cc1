package main

import (
	"context"
	"fmt"
	"math/big"

	"github.com/spf13/cobra"

	"github.com/slh-labs/slh-treasury/pkg/treasury"
	"github.com/slh-labs/slh-treasury/pkg/wallet"
)

var tokenCmd = &cobra.Command{
	Use:   "token [id]",
	Short: "Print owner and metadata URI of an NFT",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := big.NewInt(1)
		if len(args) == 1 {
			var ok bool
			if id, ok = new(big.Int).SetString(args[0], 10); !ok || id.Sign() < 0 {
				return fmt.Errorf("token id must be a non-negative integer, got %q", args[0])
			}
		}

		tc, err := cfg.TreasuryConfig()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 3*cfg.Network.RequestTimeout)
		defer cancel()

		client, err := wallet.Connect(ctx, logger, cfg.Network, cfg.FeePolicy())
		if err != nil {
			return err
		}
		defer client.Close()

		// read-only: no engine, no key
		service, err := treasury.NewService(nil, client, tc, logger)
		if err != nil {
			return err
		}

		info, err := service.TokenInfo(ctx, id)
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "ownerOf(%s): %s\n", id, info.Owner.Hex())
		fmt.Fprintf(cmd.OutOrStdout(), "tokenURI(%s): %s\n", id, info.TokenURI)
		return nil
	},
}
