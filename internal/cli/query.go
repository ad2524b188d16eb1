package cli

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/sigweihq/solconnect/pkg/cluster"
	"github.com/sigweihq/solconnect/pkg/types"
)

func (a *app) balanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balance [address]",
		Short: "Show the SOL balance of an address or the connected wallet",
		Args:  cobra.MaximumNArgs(1),
		RunE: a.run(func(ctx context.Context, args []string) error {
			owner, err := a.owner(ctx, args)
			if err != nil {
				return err
			}
			bal, err := a.cluster.GetBalance(ctx, owner)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "%s SOL (slot %d)\n", bal.SOL.String(), bal.Slot)
			return nil
		}),
	}
}

func (a *app) tokensCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tokens [address]",
		Short: "List SPL token accounts",
		Args:  cobra.MaximumNArgs(1),
		RunE: a.run(func(ctx context.Context, args []string) error {
			owner, err := a.owner(ctx, args)
			if err != nil {
				return err
			}
			accounts, err := a.cluster.GetTokenAccounts(ctx, owner)
			if err != nil {
				return err
			}
			return a.printTokens(accounts)
		}),
	}
}

func (a *app) nftsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "nfts [address]",
		Short: "List token accounts holding NFTs",
		Args:  cobra.MaximumNArgs(1),
		RunE: a.run(func(ctx context.Context, args []string) error {
			owner, err := a.owner(ctx, args)
			if err != nil {
				return err
			}
			accounts, err := a.cluster.GetNFTs(ctx, owner)
			if err != nil {
				return err
			}
			return a.printTokens(accounts)
		}),
	}
}

func (a *app) printTokens(accounts []types.TokenAccount) error {
	if len(accounts) == 0 {
		fmt.Fprintln(a.out, "No token accounts")
		return nil
	}
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MINT\tAMOUNT\tACCOUNT")
	for _, acc := range accounts {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", acc.Mint, acc.UIAmount.String(), acc.Address)
	}
	return tw.Flush()
}

func (a *app) airdropCmd() *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   "airdrop <amount> [address]",
		Short: "Request devnet or testnet SOL",
		Args:  cobra.RangeArgs(1, 2),
		RunE: a.run(func(ctx context.Context, args []string) error {
			amount, err := decimal.NewFromString(args[0])
			if err != nil {
				return fmt.Errorf("invalid amount %q: %w", args[0], err)
			}
			lamports, err := cluster.SOLToLamports(amount)
			if err != nil {
				return err
			}
			to, err := a.owner(ctx, args[1:])
			if err != nil {
				return err
			}
			sig, err := a.cluster.RequestAirdrop(ctx, to, lamports)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, sig)
			if wait {
				return a.waitFor(ctx, sig)
			}
			return nil
		}),
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "wait for confirmation")
	return cmd
}

func (a *app) waitFor(ctx context.Context, sig solana.Signature) error {
	status, err := a.cluster.WaitForConfirmation(ctx, sig, rpc.CommitmentConfirmed)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s at slot %d\n", status.ConfirmationStatus, status.Slot)
	return nil
}
