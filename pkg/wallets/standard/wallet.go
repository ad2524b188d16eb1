// Package standard adapts wallets that follow the wallet-standard shape
// (name, icon, chains, feature list, accounts) to the wallets.Adapter contract.
package standard

import (
	"context"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"

	"github.com/sigweihq/solconnect/pkg/constants"
	"github.com/sigweihq/solconnect/pkg/signin"
	"github.com/sigweihq/solconnect/pkg/wallets"
)

// Account is an account a wallet has authorised
type Account struct {
	Address   string           `json:"address"`
	PublicKey solana.PublicKey `json:"publicKey"`
	Chains    []string         `json:"chains,omitempty"`
	Features  []string         `json:"features,omitempty"`
}

// Wallet is the static description every standard wallet exposes. The
// features it lists are implemented by the interfaces below.
type Wallet interface {
	Name() string
	Icon() string
	Version() string
	Chains() []string
	Features() []string
	Accounts() []Account
}

// Connector implements standard:connect
type Connector interface {
	Connect(ctx context.Context, silent bool) ([]Account, error)
}

// Disconnector implements standard:disconnect
type Disconnector interface {
	Disconnect(ctx context.Context) error
}

// Change is delivered by standard:events when accounts change
type Change struct {
	Accounts []Account
}

// EventEmitter implements standard:events
type EventEmitter interface {
	On(fn func(Change)) (unsubscribe func())
}

// MessageSigner implements solana:signMessage
type MessageSigner interface {
	SignMessage(ctx context.Context, account Account, message []byte) ([]byte, error)
}

// TransactionSigner implements solana:signTransaction over wire bytes. The
// whole batch is one wallet request and one user approval; the result has one
// signed transaction per input, in order.
type TransactionSigner interface {
	SignTransactions(ctx context.Context, account Account, chain string, wires [][]byte) ([][]byte, error)
}

// TransactionSender implements solana:signAndSendTransaction; it returns the
// raw transaction signature
type TransactionSender interface {
	SignAndSendTransaction(ctx context.Context, account Account, chain string, wire []byte, opts wallets.SendOptions) ([]byte, error)
}

// SignInSigner implements solana:signIn
type SignInSigner interface {
	SignIn(ctx context.Context, input signin.Input) (*signin.Output, error)
}

// HomepageProvider is implemented by wallets that publish a homepage URL
type HomepageProvider interface {
	URL() string
}

func hasFeature(w Wallet, feature string) bool {
	for _, f := range w.Features() {
		if f == feature {
			return true
		}
	}
	return false
}

// Compatible reports why w cannot be used as an adapter, or nil. A compatible
// wallet supports standard:connect, at least one Solana transaction signing
// feature and at least one Solana chain.
func Compatible(w Wallet) error {
	if w == nil {
		return fmt.Errorf("nil wallet")
	}
	if _, ok := w.(Connector); !ok || !hasFeature(w, constants.FeatureConnect) {
		return fmt.Errorf("wallet %q does not support %s", w.Name(), constants.FeatureConnect)
	}

	_, canSign := w.(TransactionSigner)
	canSign = canSign && hasFeature(w, constants.FeatureSignTransaction)
	_, canSend := w.(TransactionSender)
	canSend = canSend && hasFeature(w, constants.FeatureSignAndSendTransaction)
	if !canSign && !canSend {
		return fmt.Errorf("wallet %q supports no Solana transaction feature", w.Name())
	}

	for _, c := range w.Chains() {
		if strings.HasPrefix(c, "solana:") {
			return nil
		}
	}
	return fmt.Errorf("wallet %q supports no Solana chain", w.Name())
}

func supportsChain(w Wallet, chain string) bool {
	for _, c := range w.Chains() {
		if c == chain {
			return true
		}
	}
	return false
}
