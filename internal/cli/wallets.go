package cli

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sigweihq/solconnect/pkg/wallets"
)

func (a *app) walletsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "wallets",
		Short: "List available wallets",
		Args:  cobra.NoArgs,
		RunE: a.run(func(ctx context.Context, args []string) error {
			var selected wallets.WalletName
			if w := a.session.Wallet(); w != nil {
				selected = w.Name()
			}

			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tREADY\tCAPABILITIES\tSELECTED")
			for _, w := range a.session.Wallets() {
				mark := ""
				if w.Name() == selected {
					mark = "*"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", w.Name(), w.ReadyState, w.Capabilities(), mark)
			}
			return tw.Flush()
		}),
	}
}

func (a *app) connectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "connect [wallet]",
		Short: "Select a wallet and connect to it",
		Long: `Select a wallet and connect to it.

Without an argument the previously selected wallet is used.`,
		Args: cobra.MaximumNArgs(1),
		RunE: a.run(func(ctx context.Context, args []string) error {
			if len(args) == 1 {
				if err := a.session.Select(ctx, wallets.WalletName(args[0])); err != nil {
					return err
				}
			}
			pk, err := a.connect(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Connected to %s\n%s\n", a.session.Wallet().Name(), pk)
			return nil
		}),
	}
}

func (a *app) forgetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "forget",
		Short: "Clear the remembered wallet",
		Args:  cobra.NoArgs,
		RunE: a.run(func(ctx context.Context, args []string) error {
			if err := a.session.Select(ctx, ""); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "Wallet selection cleared")
			return nil
		}),
	}
}
