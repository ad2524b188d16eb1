package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
	"github.com/spf13/cobra"

	"github.com/sigweihq/solconnect/pkg/authclient"
	"github.com/sigweihq/solconnect/pkg/signin"
)

func (a *app) signMessageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sign-message <message>",
		Short: "Sign an arbitrary message with the connected wallet",
		Args:  cobra.ExactArgs(1),
		RunE: a.run(func(ctx context.Context, args []string) error {
			if _, err := a.connect(ctx); err != nil {
				return err
			}
			sig, err := a.session.SignMessage(ctx, []byte(args[0]))
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, base58.Encode(sig))
			return nil
		}),
	}
}

func (a *app) signInCmd() *cobra.Command {
	var input signin.Input
	cmd := &cobra.Command{
		Use:   "sign-in",
		Short: "Produce a Sign-In With Solana message and signature",
		Args:  cobra.NoArgs,
		RunE: a.run(func(ctx context.Context, args []string) error {
			if _, err := a.connect(ctx); err != nil {
				return err
			}
			in := input
			out, err := a.session.SignIn(ctx, &in)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "%s\n\naddress:   %s\nsignature: %s\n",
				out.SignedMessage, out.Account.Address, out.SignatureBase58())
			return nil
		}),
	}
	cmd.Flags().StringVar(&input.Domain, "domain", "", "requesting domain")
	cmd.Flags().StringVar(&input.Statement, "statement", "", "statement shown to the user")
	cmd.Flags().StringVar(&input.URI, "uri", "", "requesting URI")
	cmd.Flags().StringVar(&input.Nonce, "nonce", "", "nonce; generated when empty")
	return cmd
}

func (a *app) loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Authenticate against the configured auth service",
		Args:  cobra.NoArgs,
		RunE: a.run(func(ctx context.Context, args []string) error {
			if a.cfg.AuthURL == "" {
				return errors.New("auth_url is not configured")
			}
			client, err := authclient.New(a.cfg.AuthURL, authclient.Options{
				Store:  a.store,
				Logger: a.logger,
			})
			if err != nil {
				return err
			}
			if _, err := a.connect(ctx); err != nil {
				return err
			}
			resp, err := client.Authenticate(ctx, a.session)
			if err != nil {
				return err
			}
			if resp.User != nil {
				fmt.Fprintf(a.out, "Logged in as %s\n", resp.User.WalletAddress)
			} else {
				fmt.Fprintln(a.out, "Logged in")
			}
			return nil
		}),
	}
}
