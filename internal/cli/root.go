// Package cli implements the solconnect command line
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/gagliardetto/solana-go"
	"github.com/spf13/cobra"

	"github.com/sigweihq/solconnect/pkg/cluster"
	"github.com/sigweihq/solconnect/pkg/config"
	"github.com/sigweihq/solconnect/pkg/session"
	"github.com/sigweihq/solconnect/pkg/storage"
	"github.com/sigweihq/solconnect/pkg/wallets"
	"github.com/sigweihq/solconnect/pkg/wallets/keypair"
	"github.com/sigweihq/solconnect/pkg/wallets/mobile"
	"github.com/sigweihq/solconnect/pkg/wallets/standard"
)

// app holds everything a command needs; it is opened per invocation
type app struct {
	configPath string
	envFile    string
	out        io.Writer
	errOut     io.Writer

	cfg        *config.Config
	logger     *slog.Logger
	store      storage.Store
	closeStore func() error
	cluster    *cluster.Client
	session    *session.Session
}

// NewRootCommand builds the command tree writing results to out
func NewRootCommand(out io.Writer) *cobra.Command {
	a := &app{out: out, errOut: os.Stderr}

	root := &cobra.Command{
		Use:   "solconnect",
		Short: "Headless Solana wallet connection",
		Long: `Connect to Solana wallets without a browser.

Wallets come from a local keypair file, a remote wallet directory and the
mobile wallet bridge. The selected wallet is remembered between runs when a
persistent storage backend is configured.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "config file path")
	root.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")

	root.AddCommand(
		a.walletsCmd(),
		a.connectCmd(),
		a.forgetCmd(),
		a.balanceCmd(),
		a.tokensCmd(),
		a.nftsCmd(),
		a.airdropCmd(),
		a.signMessageCmd(),
		a.signInCmd(),
		a.loginCmd(),
		a.transferCmd(),
	)
	return root
}

// Execute runs the CLI and exits non-zero on error
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := NewRootCommand(os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

// run wraps a command body with open and close
func (a *app) run(fn func(ctx context.Context, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		err := a.open(ctx)
		defer a.close()
		if err != nil {
			return err
		}
		return fn(ctx, args)
	}
}

func (a *app) open(ctx context.Context) error {
	cfg, err := config.Load(a.configPath, a.envFile)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = cfg.NewLogger(a.errOut)

	a.store, a.closeStore, err = cfg.OpenStore()
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}

	a.cluster, err = cluster.New(cfg.RPCEndpoints(), cluster.Options{Logger: a.logger})
	if err != nil {
		return err
	}

	var explicit []wallets.Adapter
	if cfg.KeypairPath != "" {
		kp, err := keypair.FromKeygenFile(cfg.KeypairPath)
		if err != nil {
			return err
		}
		explicit = append(explicit, kp)
	}

	opts := wallets.BuildOptions{
		Endpoint:  a.cluster.Endpoint(),
		UserAgent: cfg.UserAgent,
		MobileFactory: mobile.Factory(mobile.Config{
			WalletURL: cfg.MobileWalletURL,
			Identity:  mobile.Identity{Name: "solconnect"},
			Store:     a.store,
			Logger:    a.logger,
		}),
		Logger: a.logger,
	}
	if cfg.DiscoveryURL != "" {
		d, err := standard.NewRemoteDiscoverer(cfg.DiscoveryURL, nil, a.logger)
		if err != nil {
			return err
		}
		opts.Discoverer = standard.NewSource(d, a.cluster.Endpoint(), a.logger)
	}

	registry := wallets.NewRegistry(ctx, explicit, opts)
	a.session = session.New(registry, session.Options{
		Store:       a.store,
		StorageKey:  cfg.Storage.Key,
		AutoConnect: cfg.AutoConnect,
		OnError: func(err error) {
			a.logger.Warn("wallet error", "error", err)
		},
		Logger: a.logger,
	})
	a.session.Start(ctx)
	return nil
}

func (a *app) close() {
	if a.session != nil {
		a.session.Close()
	}
	if a.closeStore != nil {
		if err := a.closeStore(); err != nil {
			a.logger.Warn("failed to close storage", "error", err)
		}
	}
}

// connect returns the connected account, selecting the configured wallet (or
// the only registered one) when nothing is selected yet
func (a *app) connect(ctx context.Context) (solana.PublicKey, error) {
	if !a.session.Connected() {
		if a.session.Wallet() == nil {
			name := wallets.WalletName(a.cfg.Wallet)
			if list := a.session.Wallets(); name == "" && len(list) == 1 {
				name = list[0].Name()
			}
			if name == "" {
				return solana.PublicKey{}, errors.New("no wallet selected; run connect <wallet>")
			}
			if err := a.session.Select(ctx, name); err != nil {
				return solana.PublicKey{}, err
			}
		}
		if _, err := a.session.Connect(ctx); err != nil {
			return solana.PublicKey{}, err
		}
	}
	pk := a.session.PublicKey()
	if pk == nil {
		return solana.PublicKey{}, session.ErrNoPublicKey
	}
	return *pk, nil
}

// owner parses an optional address argument, falling back to the connected wallet
func (a *app) owner(ctx context.Context, args []string) (solana.PublicKey, error) {
	if len(args) > 0 {
		pk, err := solana.PublicKeyFromBase58(args[0])
		if err != nil {
			return solana.PublicKey{}, fmt.Errorf("invalid address %q: %w", args[0], err)
		}
		return pk, nil
	}
	return a.connect(ctx)
}
