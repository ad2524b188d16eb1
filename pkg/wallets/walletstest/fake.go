// Package walletstest provides a scriptable in-memory wallet adapter for tests.
package walletstest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/sigweihq/solconnect/pkg/signin"
	"github.com/sigweihq/solconnect/pkg/transaction"
	"github.com/sigweihq/solconnect/pkg/wallets"
)

// Fake is a wallet adapter backed by a random keypair. Every optional
// capability is implemented; Caps narrows what the registry sees.
type Fake struct {
	name  string
	key   solana.PrivateKey
	state wallets.ReadyState
	caps  wallets.Capability

	// ConnectErr and DisconnectErr are returned by the next calls when set
	ConnectErr    error
	DisconnectErr error

	// ConnectGate, when non-nil, blocks Connect until it is closed
	ConnectGate chan struct{}

	// DisconnectGate, when non-nil, blocks Disconnect until it is closed or
	// the context ends
	DisconnectGate chan struct{}

	// NilKeyOnConnect makes Connect succeed without exposing an account
	NilKeyOnConnect bool

	// SendSignature is returned by SignAndSendTransaction
	SendSignature solana.Signature

	ConnectCalls     atomic.Int32
	DisconnectCalls  atomic.Int32
	SignCalls        atomic.Int32
	SignMessageCalls atomic.Int32
	SendCalls        atomic.Int32

	mu        sync.Mutex
	connected bool
	listeners map[int]func(wallets.AdapterEvent)
	nextID    int
}

// New returns an installed fake with every capability
func New(name string) *Fake {
	return &Fake{
		name:      name,
		key:       solana.NewWallet().PrivateKey,
		state:     wallets.Installed,
		caps:      wallets.CapConnect | wallets.CapSignMessage | wallets.CapSignTransaction | wallets.CapSignAllTransactions | wallets.CapSignIn | wallets.CapSignAndSendTransaction,
		listeners: make(map[int]func(wallets.AdapterEvent)),
	}
}

// WithReadyState sets the ready state
func (f *Fake) WithReadyState(s wallets.ReadyState) *Fake {
	f.state = s
	return f
}

// WithCaps narrows the advertised capabilities
func (f *Fake) WithCaps(c wallets.Capability) *Fake {
	f.caps = c
	return f
}

// Key returns the fake's keypair
func (f *Fake) Key() solana.PrivateKey {
	return f.key
}

func (f *Fake) Name() wallets.WalletName { return f.name }
func (f *Fake) Icon() string { return "data:image/svg+xml;base64,PHN2Zz48L3N2Zz4=" }
func (f *Fake) URL() string { return "https://example.com/" + f.name }
func (f *Fake) ReadyState() wallets.ReadyState { return f.state }
func (f *Fake) Capabilities() wallets.Capability { return f.caps }

func (f *Fake) PublicKey() *solana.PublicKey {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected || f.NilKeyOnConnect {
		return nil
	}
	pk := f.key.PublicKey()
	return &pk
}

func (f *Fake) Connect(ctx context.Context) error {
	f.ConnectCalls.Add(1)
	if f.ConnectGate != nil {
		<-f.ConnectGate
	}
	if f.ConnectErr != nil {
		return f.ConnectErr
	}
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	return nil
}

func (f *Fake) Disconnect(ctx context.Context) error {
	f.DisconnectCalls.Add(1)
	if f.DisconnectGate != nil {
		select {
		case <-f.DisconnectGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	return f.DisconnectErr
}

func (f *Fake) SignMessage(ctx context.Context, message []byte) ([]byte, error) {
	f.SignMessageCalls.Add(1)
	sig, err := f.key.Sign(message)
	if err != nil {
		return nil, err
	}
	return sig[:], nil
}

func (f *Fake) SignTransaction(ctx context.Context, tx *transaction.Dual) (*transaction.Dual, error) {
	f.SignCalls.Add(1)
	if err := transaction.SignWith(tx, f.key); err != nil {
		return nil, err
	}
	return tx, nil
}

func (f *Fake) SignAllTransactions(ctx context.Context, txs []*transaction.Dual) ([]*transaction.Dual, error) {
	out := make([]*transaction.Dual, len(txs))
	for i, tx := range txs {
		signed, err := f.SignTransaction(ctx, tx)
		if err != nil {
			return nil, err
		}
		out[i] = signed
	}
	return out, nil
}

func (f *Fake) SignIn(ctx context.Context, input *signin.Input) (*signin.Output, error) {
	var in signin.Input
	if input != nil {
		in = *input
	}
	return signin.Sign(in, f.key, time.Now())
}

func (f *Fake) SignAndSendTransaction(ctx context.Context, tx *transaction.Dual, opts wallets.SendOptions) (solana.Signature, error) {
	f.SendCalls.Add(1)
	if err := transaction.SignWith(tx, f.key); err != nil {
		return solana.Signature{}, err
	}
	return f.SendSignature, nil
}

func (f *Fake) OnEvent(fn func(wallets.AdapterEvent)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.listeners[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.listeners, id)
	}
}

// Listeners returns the number of active event subscriptions
func (f *Fake) Listeners() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners)
}

// Emit simulates an adapter-initiated event. AdapterDisconnected also drops
// the fake's connection.
func (f *Fake) Emit(ev wallets.AdapterEvent) {
	f.mu.Lock()
	if ev.Kind == wallets.AdapterDisconnected {
		f.connected = false
	}
	fns := make([]func(wallets.AdapterEvent), 0, len(f.listeners))
	for _, fn := range f.listeners {
		fns = append(fns, fn)
	}
	f.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

var (
	_ wallets.Adapter            = (*Fake)(nil)
	_ wallets.MessageSigner      = (*Fake)(nil)
	_ wallets.TransactionSigner  = (*Fake)(nil)
	_ wallets.SignInSigner       = (*Fake)(nil)
	_ wallets.TransactionSender  = (*Fake)(nil)
	_ wallets.EventSource        = (*Fake)(nil)
	_ wallets.CapabilityReporter = (*Fake)(nil)
)
