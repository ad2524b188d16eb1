// Package keypair is a wallet adapter backed by a local ed25519 keypair.
// Intended for server-side use (bots, backends, CLIs) and tests.
package keypair

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/sigweihq/solconnect/pkg/signin"
	"github.com/sigweihq/solconnect/pkg/transaction"
	"github.com/sigweihq/solconnect/pkg/utils"
	"github.com/sigweihq/solconnect/pkg/wallets"
)

// Name is the adapter name
const Name wallets.WalletName = "Keypair"

// Adapter signs with an in-memory private key
type Adapter struct {
	name string
	key  solana.PrivateKey

	mu        sync.RWMutex
	connected bool
}

// FromPrivateKey creates an adapter from a solana-go private key
func FromPrivateKey(key solana.PrivateKey) (*Adapter, error) {
	if len(key) != 64 {
		return nil, fmt.Errorf("invalid private key length: %d (expected 64 bytes)", len(key))
	}
	return &Adapter{name: Name, key: key}, nil
}

// FromBase58 creates an adapter from a base58 secret key
func FromBase58(secret string) (*Adapter, error) {
	key, err := solana.PrivateKeyFromBase58(secret)
	if err != nil {
		return nil, fmt.Errorf("invalid secret key: %w", err)
	}
	return FromPrivateKey(key)
}

// FromHex creates an adapter from a hex seed or full key, with or without 0x
func FromHex(privateKeyHex string) (*Adapter, error) {
	key, err := utils.ParsePrivateKeyHex(privateKeyHex)
	if err != nil {
		return nil, err
	}
	return FromPrivateKey(key)
}

// FromKeygenFile creates an adapter from a solana-keygen JSON file
func FromKeygenFile(path string) (*Adapter, error) {
	key, err := utils.LoadKeygenFile(path)
	if err != nil {
		return nil, err
	}
	return FromPrivateKey(key)
}

// WithName renames the adapter, for registering several keypairs side by side
func (a *Adapter) WithName(name string) *Adapter {
	a.name = name
	return a
}

func (a *Adapter) Name() wallets.WalletName {
	return a.name
}

func (a *Adapter) Icon() string {
	return ""
}

func (a *Adapter) URL() string {
	return "https://docs.solanalabs.com/cli/wallets/file-system"
}

// ReadyState is always Installed: the key is already in memory
func (a *Adapter) ReadyState() wallets.ReadyState {
	return wallets.Installed
}

// Address returns the keypair's public key whether or not it is connected
func (a *Adapter) Address() solana.PublicKey {
	return a.key.PublicKey()
}

func (a *Adapter) PublicKey() *solana.PublicKey {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if !a.connected {
		return nil
	}
	pk := a.key.PublicKey()
	return &pk
}

func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected = true
	return nil
}

func (a *Adapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected = false
	return nil
}

func (a *Adapter) requireConnected() error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if !a.connected {
		return wallets.ErrWalletNotConnected
	}
	return nil
}

// SignMessage returns the 64-byte ed25519 signature of message
func (a *Adapter) SignMessage(ctx context.Context, message []byte) ([]byte, error) {
	if err := a.requireConnected(); err != nil {
		return nil, err
	}
	sig, err := a.key.Sign(message)
	if err != nil {
		return nil, fmt.Errorf("failed to sign message: %w", err)
	}
	return sig[:], nil
}

// SignTransaction fills this key's signature slot in place
func (a *Adapter) SignTransaction(ctx context.Context, tx *transaction.Dual) (*transaction.Dual, error) {
	if err := a.requireConnected(); err != nil {
		return nil, err
	}
	if err := transaction.SignWith(tx, a.key); err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	return tx, nil
}

func (a *Adapter) SignAllTransactions(ctx context.Context, txs []*transaction.Dual) ([]*transaction.Dual, error) {
	out := make([]*transaction.Dual, len(txs))
	for i, tx := range txs {
		signed, err := a.SignTransaction(ctx, tx)
		if err != nil {
			return nil, fmt.Errorf("transaction %d: %w", i, err)
		}
		out[i] = signed
	}
	return out, nil
}

// SignIn signs a Sign-In-With-Solana message, filling address, nonce and
// issue time when the request leaves them empty
func (a *Adapter) SignIn(ctx context.Context, input *signin.Input) (*signin.Output, error) {
	if err := a.requireConnected(); err != nil {
		return nil, err
	}
	var in signin.Input
	if input != nil {
		in = *input
	}
	return signin.Sign(in, a.key, time.Now())
}

var (
	_ wallets.Adapter           = (*Adapter)(nil)
	_ wallets.MessageSigner     = (*Adapter)(nil)
	_ wallets.TransactionSigner = (*Adapter)(nil)
	_ wallets.SignInSigner      = (*Adapter)(nil)
)
