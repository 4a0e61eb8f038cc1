package main

import (
	"context"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/slh-labs/slh-treasury/pkg/wallet"
)

var probeRPC bool

var checkEnvCmd = &cobra.Command{
	Use:   "check-env",
	Short: "Validate the environment for serve and bot",
	Long: `Checks every setting the serve and bot commands need and prints what
is missing. With --probe it also connects to the RPC node.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		ok := color.New(color.FgGreen).SprintFunc()
		bad := color.New(color.FgRed).SprintFunc()

		failed := false
		report := func(name string, err error) {
			if err != nil {
				failed = true
				fmt.Fprintf(out, "%s %-8s %v\n", bad("FAIL"), name, err)
				return
			}
			fmt.Fprintf(out, "%s %-8s\n", ok("OK  "), name)
		}

		report("serve", cfg.ValidateServe())
		report("bot", cfg.ValidateBot())

		if addr, err := cfg.TreasuryAddress(); err == nil {
			fmt.Fprintf(out, "     treasury %s\n", addr.Hex())
		}
		printSummary(out)

		if probeRPC {
			ctx, cancel := context.WithTimeout(cmd.Context(), 3*cfg.Network.RequestTimeout)
			defer cancel()

			client, err := wallet.Connect(ctx, logger, cfg.Network, cfg.FeePolicy())
			if err == nil {
				client.Close()
			}
			report("rpc", err)
		}

		if failed {
			return fmt.Errorf("environment check failed")
		}
		return nil
	},
}

func init() {
	checkEnvCmd.Flags().BoolVar(&probeRPC, "probe", false, "also connect to the RPC node")
}

func printSummary(out io.Writer) {
	fmt.Fprintf(out, "     network  %s (chain %d) %s\n", cfg.Network.Name, cfg.Network.ChainID, cfg.Network.RPCURL)
	fmt.Fprintf(out, "     nft      %s via %s\n", cfg.NFTContract, cfg.MintFunction)
	if cfg.RewardToken == "" {
		fmt.Fprintf(out, "     reward   disabled\n")
	} else {
		fmt.Fprintf(out, "     reward   %s per sale of %s\n", cfg.RewardAmount, cfg.RewardToken)
	}
	if cfg.RemoteAPI() {
		fmt.Fprintf(out, "     bot      %s via %s\n", cfg.BotMode, cfg.APIBase)
	} else {
		fmt.Fprintf(out, "     bot      %s in-process\n", cfg.BotMode)
	}
}
