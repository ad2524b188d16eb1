package standard

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/gagliardetto/solana-go"

	"github.com/sigweihq/solconnect/pkg/constants"
	"github.com/sigweihq/solconnect/pkg/signin"
	"github.com/sigweihq/solconnect/pkg/transaction"
	"github.com/sigweihq/solconnect/pkg/wallets"
)

// Adapter wraps a standard wallet
type Adapter struct {
	wallet Wallet
	chain  string
	caps   wallets.Capability

	mu         sync.RWMutex
	account    *Account
	stopEvents func()
	listeners  map[int]func(wallets.AdapterEvent)
	nextID     int
}

// NewAdapter wraps w for chain (e.g. constants.ChainDevnet). Incompatible
// wallets are rejected; a chain the wallet does not list falls back to the
// wallet's first Solana chain.
func NewAdapter(w Wallet, chain string) (*Adapter, error) {
	if err := Compatible(w); err != nil {
		return nil, err
	}
	if !supportsChain(w, chain) {
		for _, c := range w.Chains() {
			if strings.HasPrefix(c, "solana:") {
				chain = c
				break
			}
		}
	}

	caps := wallets.CapConnect
	if _, ok := w.(MessageSigner); ok && hasFeature(w, constants.FeatureSignMessage) {
		caps |= wallets.CapSignMessage
	}
	if _, ok := w.(TransactionSigner); ok && hasFeature(w, constants.FeatureSignTransaction) {
		caps |= wallets.CapSignTransaction | wallets.CapSignAllTransactions
	}
	if _, ok := w.(TransactionSender); ok && hasFeature(w, constants.FeatureSignAndSendTransaction) {
		caps |= wallets.CapSignAndSendTransaction
	}
	if _, ok := w.(SignInSigner); ok && hasFeature(w, constants.FeatureSignIn) {
		caps |= wallets.CapSignIn
	}

	return &Adapter{
		wallet:    w,
		chain:     chain,
		caps:      caps,
		listeners: make(map[int]func(wallets.AdapterEvent)),
	}, nil
}

// Wallet returns the wrapped wallet
func (a *Adapter) Wallet() Wallet {
	return a.wallet
}

// Chain returns the chain transactions are signed for
func (a *Adapter) Chain() string {
	return a.chain
}

func (a *Adapter) Name() wallets.WalletName {
	return a.wallet.Name()
}

func (a *Adapter) Icon() string {
	return a.wallet.Icon()
}

func (a *Adapter) URL() string {
	if h, ok := a.wallet.(HomepageProvider); ok {
		return h.URL()
	}
	return ""
}

// ReadyState is Installed: a standard wallet is only visible once registered
func (a *Adapter) ReadyState() wallets.ReadyState {
	return wallets.Installed
}

// Capabilities implements wallets.CapabilityReporter
func (a *Adapter) Capabilities() wallets.Capability {
	return a.caps
}

func (a *Adapter) PublicKey() *solana.PublicKey {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.account == nil {
		return nil
	}
	pk := a.account.PublicKey
	return &pk
}

func (a *Adapter) currentAccount() (Account, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.account == nil {
		return Account{}, wallets.ErrWalletNotConnected
	}
	return *a.account, nil
}

// Connect asks the wallet for authorisation unless an account is already
// authorised, and subscribes to account changes
func (a *Adapter) Connect(ctx context.Context) error {
	if a.PublicKey() != nil {
		return nil
	}

	accounts := a.wallet.Accounts()
	if len(accounts) == 0 {
		var err error
		accounts, err = a.wallet.(Connector).Connect(ctx, false)
		if err != nil {
			return err
		}
	}
	account, ok := a.pickAccount(accounts)
	if !ok {
		return fmt.Errorf("wallet %q authorised no account for %s", a.Name(), a.chain)
	}

	a.mu.Lock()
	a.account = &account
	if emitter, ok := a.wallet.(EventEmitter); ok && hasFeature(a.wallet, constants.FeatureEvents) && a.stopEvents == nil {
		a.stopEvents = emitter.On(a.onChange)
	}
	a.mu.Unlock()
	return nil
}

func (a *Adapter) pickAccount(accounts []Account) (Account, bool) {
	for _, acc := range accounts {
		if len(acc.Chains) == 0 {
			return acc, true
		}
		for _, c := range acc.Chains {
			if c == a.chain {
				return acc, true
			}
		}
	}
	return Account{}, false
}

func (a *Adapter) onChange(change Change) {
	account, ok := a.pickAccount(change.Accounts)

	a.mu.Lock()
	var ev wallets.AdapterEvent
	switch {
	case !ok && a.account != nil:
		a.account = nil
		ev = wallets.AdapterEvent{Kind: wallets.AdapterDisconnected}
	case ok && (a.account == nil || !a.account.PublicKey.Equals(account.PublicKey)):
		a.account = &account
		pk := account.PublicKey
		ev = wallets.AdapterEvent{Kind: wallets.AdapterConnected, PublicKey: &pk}
	}
	fns := make([]func(wallets.AdapterEvent), 0, len(a.listeners))
	for _, fn := range a.listeners {
		fns = append(fns, fn)
	}
	a.mu.Unlock()

	if ev.Kind == 0 {
		return
	}
	for _, fn := range fns {
		fn(ev)
	}
}

// Disconnect forgets the account; wallets with standard:disconnect are told too
func (a *Adapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	a.account = nil
	stop := a.stopEvents
	a.stopEvents = nil
	a.mu.Unlock()

	if stop != nil {
		stop()
	}
	if d, ok := a.wallet.(Disconnector); ok && hasFeature(a.wallet, constants.FeatureDisconnect) {
		return d.Disconnect(ctx)
	}
	return nil
}

// OnEvent implements wallets.EventSource
func (a *Adapter) OnEvent(fn func(wallets.AdapterEvent)) func() {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.nextID
	a.nextID++
	a.listeners[id] = fn
	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(a.listeners, id)
	}
}

func (a *Adapter) require(c wallets.Capability) (Account, error) {
	if !a.caps.Has(c) {
		return Account{}, &wallets.CapabilityError{Wallet: a.Name(), Capability: c}
	}
	return a.currentAccount()
}

func (a *Adapter) SignMessage(ctx context.Context, message []byte) ([]byte, error) {
	account, err := a.require(wallets.CapSignMessage)
	if err != nil {
		return nil, err
	}
	return a.wallet.(MessageSigner).SignMessage(ctx, account, message)
}

// SignTransaction sends the wire encoding to the wallet and rebuilds the
// signed result in the input's shape
func (a *Adapter) SignTransaction(ctx context.Context, tx *transaction.Dual) (*transaction.Dual, error) {
	out, err := a.signBatch(ctx, wallets.CapSignTransaction, []*transaction.Dual{tx})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// SignAllTransactions asks the wallet once for the whole batch
func (a *Adapter) SignAllTransactions(ctx context.Context, txs []*transaction.Dual) ([]*transaction.Dual, error) {
	return a.signBatch(ctx, wallets.CapSignAllTransactions, txs)
}

func (a *Adapter) signBatch(ctx context.Context, c wallets.Capability, txs []*transaction.Dual) ([]*transaction.Dual, error) {
	account, err := a.require(c)
	if err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		return nil, nil
	}

	wires := make([][]byte, len(txs))
	for i, tx := range txs {
		if wires[i], err = tx.WireBytes(); err != nil {
			return nil, fmt.Errorf("transaction %d: %w", i, err)
		}
	}
	signed, err := a.wallet.(TransactionSigner).SignTransactions(ctx, account, a.chain, wires)
	if err != nil {
		return nil, err
	}
	if len(signed) != len(txs) {
		return nil, fmt.Errorf("wallet returned %d transactions for %d inputs", len(signed), len(txs))
	}

	out := make([]*transaction.Dual, len(txs))
	for i, wire := range signed {
		if out[i], err = transaction.FromWire(txs[i].Architecture(), wire); err != nil {
			return nil, fmt.Errorf("wallet returned an unreadable transaction %d: %w", i, err)
		}
	}
	return out, nil
}

func (a *Adapter) SignAndSendTransaction(ctx context.Context, tx *transaction.Dual, opts wallets.SendOptions) (solana.Signature, error) {
	account, err := a.require(wallets.CapSignAndSendTransaction)
	if err != nil {
		return solana.Signature{}, err
	}

	wire, err := tx.WireBytes()
	if err != nil {
		return solana.Signature{}, err
	}
	raw, err := a.wallet.(TransactionSender).SignAndSendTransaction(ctx, account, a.chain, wire, opts)
	if err != nil {
		return solana.Signature{}, err
	}
	if len(raw) != solana.SignatureLength {
		return solana.Signature{}, fmt.Errorf("wallet returned a %d-byte signature", len(raw))
	}
	return solana.SignatureFromBytes(raw), nil
}

// SignIn also authorises the signing account when not yet connected
func (a *Adapter) SignIn(ctx context.Context, input *signin.Input) (*signin.Output, error) {
	if !a.caps.Has(wallets.CapSignIn) {
		return nil, &wallets.CapabilityError{Wallet: a.Name(), Capability: wallets.CapSignIn}
	}
	var in signin.Input
	if input != nil {
		in = *input
	}

	out, err := a.wallet.(SignInSigner).SignIn(ctx, in)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	if a.account == nil {
		a.account = &Account{Address: out.Account.Address, PublicKey: out.Account.PublicKey}
	}
	a.mu.Unlock()
	return out, nil
}

var (
	_ wallets.Adapter            = (*Adapter)(nil)
	_ wallets.MessageSigner      = (*Adapter)(nil)
	_ wallets.TransactionSigner  = (*Adapter)(nil)
	_ wallets.TransactionSender  = (*Adapter)(nil)
	_ wallets.SignInSigner       = (*Adapter)(nil)
	_ wallets.EventSource        = (*Adapter)(nil)
	_ wallets.CapabilityReporter = (*Adapter)(nil)
)
