package cli

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/sigweihq/solconnect/pkg/cluster"
	"github.com/sigweihq/solconnect/pkg/utils"
	"github.com/sigweihq/solconnect/pkg/wallets"
)

type transferFlags struct {
	mint          string
	createATA     bool
	priorityFee   uint64
	skipPreflight bool
	wait          bool
}

func (a *app) transferCmd() *cobra.Command {
	var f transferFlags
	cmd := &cobra.Command{
		Use:   "transfer <to> <amount>",
		Short: "Send SOL or an SPL token from the connected wallet",
		Long: `Send SOL or an SPL token from the connected wallet.

Amounts are in whole units (SOL, or the token's UI amount with --mint). The
wallet submits the transaction itself when it can; otherwise it only signs and
the transaction is sent through the configured RPC endpoint.`,
		Args: cobra.ExactArgs(2),
		RunE: a.run(func(ctx context.Context, args []string) error {
			to, err := solana.PublicKeyFromBase58(args[0])
			if err != nil {
				return fmt.Errorf("invalid recipient %q: %w", args[0], err)
			}
			amount, err := decimal.NewFromString(args[1])
			if err != nil {
				return fmt.Errorf("invalid amount %q: %w", args[1], err)
			}
			if !amount.IsPositive() {
				return fmt.Errorf("amount must be positive")
			}

			from, err := a.connect(ctx)
			if err != nil {
				return err
			}

			tx, err := a.buildTransfer(ctx, from, to, amount, f)
			if err != nil {
				return err
			}

			sig, err := a.session.SignAndSendTransaction(ctx, tx, a.cluster, wallets.SendOptions{
				SkipPreflight:       f.skipPreflight,
				PreflightCommitment: rpc.CommitmentConfirmed,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, sig)
			if f.wait {
				return a.waitFor(ctx, sig)
			}
			return nil
		}),
	}
	cmd.Flags().StringVar(&f.mint, "mint", "", "SPL token mint; SOL when empty")
	cmd.Flags().BoolVar(&f.createATA, "create-ata", false, "create the recipient's associated token account")
	cmd.Flags().Uint64Var(&f.priorityFee, "priority-fee", 0, "compute unit price in micro-lamports (token transfers)")
	cmd.Flags().BoolVar(&f.skipPreflight, "skip-preflight", false, "skip preflight simulation")
	cmd.Flags().BoolVar(&f.wait, "wait", false, "wait for confirmation")
	return cmd
}

// buildTransfer leaves the blockhash empty; the session fills it before signing
func (a *app) buildTransfer(ctx context.Context, from, to solana.PublicKey, amount decimal.Decimal, f transferFlags) (*solana.Transaction, error) {
	if f.mint == "" {
		lamports, err := cluster.SOLToLamports(amount)
		if err != nil {
			return nil, err
		}
		return utils.BuildSOLTransfer(from, to, lamports, solana.Hash{})
	}

	mint, err := solana.PublicKeyFromBase58(f.mint)
	if err != nil {
		return nil, fmt.Errorf("invalid mint %q: %w", f.mint, err)
	}
	decimals, err := a.mintDecimals(ctx, from, mint)
	if err != nil {
		return nil, err
	}
	units := amount.Shift(int32(decimals))
	if !units.IsInteger() {
		return nil, fmt.Errorf("amount %s has more than %d decimals", amount, decimals)
	}
	return utils.BuildTokenTransfer(utils.TokenTransfer{
		Owner:             from,
		To:                to,
		Mint:              mint,
		Amount:            units.BigInt().Uint64(),
		Decimals:          decimals,
		CreateDestination: f.createATA,
		ComputeUnitPrice:  f.priorityFee,
	}, solana.Hash{})
}

func (a *app) mintDecimals(ctx context.Context, owner, mint solana.PublicKey) (uint8, error) {
	accounts, err := a.cluster.GetTokenAccounts(ctx, owner)
	if err != nil {
		return 0, err
	}
	for _, acc := range accounts {
		if acc.Mint.Equals(mint) {
			return acc.Decimals, nil
		}
	}
	return 0, fmt.Errorf("no token account for mint %s", mint)
}
