// Package session coordinates the wallet connection lifecycle: selection,
// connect and disconnect, and every signing or sending operation routed
// through the connected adapter.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"golang.org/x/sync/singleflight"

	"github.com/sigweihq/solconnect/pkg/constants"
	"github.com/sigweihq/solconnect/pkg/signin"
	"github.com/sigweihq/solconnect/pkg/storage"
	"github.com/sigweihq/solconnect/pkg/transaction"
	"github.com/sigweihq/solconnect/pkg/wallets"
)

// ErrNoPublicKey is the cause of a connect that succeeded without an account
var ErrNoPublicKey = errors.New("wallet connected without a public key")

// ErrNoConnection is returned when sending needs a Connection and none was given
var ErrNoConnection = errors.New("no connection to submit through")

// Connection submits transactions to the cluster
type Connection interface {
	GetLatestBlockhash(ctx context.Context) (solana.Hash, error)
	SendRawTransaction(ctx context.Context, wire []byte, opts wallets.SendOptions) (solana.Signature, error)
}

// Options configures a Session
type Options struct {
	// Store persists the selected wallet name; nil keeps selection in memory only
	Store storage.Store

	// StorageKey defaults to constants.DefaultWalletNameKey
	StorageKey string

	// AutoConnect makes Start reconnect the persisted wallet
	AutoConnect bool

	// OnError receives errors that are not returned to a caller
	OnError func(error)

	// DisconnectTimeout bounds the adapter's Disconnect; zero uses
	// constants.DisconnectTimeout
	DisconnectTimeout time.Duration

	Logger *slog.Logger
}

// Session is one wallet connection. Sessions share no state with each other.
type Session struct {
	registry  *wallets.Registry
	selection *storage.Local[wallets.WalletName]
	opts      Options
	logger    *slog.Logger

	// opMu serialises select, connect and disconnect
	opMu     sync.Mutex
	inflight singleflight.Group

	mu          sync.Mutex
	state       State
	selected    wallets.WalletName
	active      *wallets.Wallet
	publicKey   *solana.PublicKey
	unsubscribe func()
	closed      bool
	listeners   map[int]func(Event)
	nextID      int
}

// New creates a disconnected session over registry
func New(registry *wallets.Registry, opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	key := opts.StorageKey
	if key == "" {
		key = constants.DefaultWalletNameKey
	}
	if opts.DisconnectTimeout <= 0 {
		opts.DisconnectTimeout = constants.DisconnectTimeout
	}

	return &Session{
		registry:  registry,
		selection: storage.NewLocal[wallets.WalletName](opts.Store, key, "", logger),
		opts:      opts,
		logger:    logger,
		state:     Disconnected,
		listeners: make(map[int]func(Event)),
	}
}

// Start restores the persisted selection and, with AutoConnect, reconnects it
func (s *Session) Start(ctx context.Context) {
	if s.opts.AutoConnect {
		s.AutoConnect(ctx)
		return
	}

	name := s.selection.Get()
	if name == "" || !s.registry.IsRegistered(name) {
		return
	}
	s.mu.Lock()
	var events []Event
	if s.selected == "" && !s.closed {
		s.selected = name
		events = append(events, Event{Kind: WalletSelected, State: s.state, Previous: s.state, Wallet: name})
	}
	s.mu.Unlock()
	s.dispatch(events)
}

// Select changes the selected wallet. Selecting the current wallet is a
// no-op; selecting another one while connected disconnects the old adapter
// first. An empty name clears the persisted selection.
func (s *Session) Select(ctx context.Context, name wallets.WalletName) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.selectLocked(ctx, name)
}

func (s *Session) selectLocked(ctx context.Context, name wallets.WalletName) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return wallets.ErrSessionClosed
	}
	if s.selected == name {
		s.mu.Unlock()
		return nil
	}
	state := s.state
	s.mu.Unlock()

	var disconnectErr error
	if state == Connected {
		disconnectErr = s.disconnectLocked(ctx)
		if disconnectErr != nil {
			s.logger.Warn("previous wallet did not disconnect cleanly", "error", disconnectErr)
		}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return wallets.ErrSessionClosed
	}
	s.selected = name
	event := Event{Kind: WalletSelected, State: s.state, Previous: s.state, Wallet: name}
	s.mu.Unlock()

	if name == "" {
		s.selection.Remove()
	} else {
		s.selection.Set(name)
	}
	s.logger.Info("wallet selected", "wallet", name)
	s.dispatch([]Event{event})
	return disconnectErr
}

// Connect connects the selected wallet and returns its adapter. Concurrent
// calls share one adapter Connect; when already connected the current adapter
// is returned. Cancelling ctx releases the caller but the adapter call runs
// to completion.
func (s *Session) Connect(ctx context.Context) (wallets.Adapter, error) {
	ch := s.inflight.DoChan("connect", func() (any, error) {
		s.opMu.Lock()
		defer s.opMu.Unlock()
		return s.connectLocked(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(wallets.Adapter), nil
	}
}

func (s *Session) connectLocked(ctx context.Context) (wallets.Adapter, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, wallets.ErrSessionClosed
	}
	if s.state == Connected {
		adapter := s.active.Adapter
		s.mu.Unlock()
		return adapter, nil
	}
	name := s.selected
	s.mu.Unlock()

	if name == "" {
		return nil, wallets.ErrWalletNotSelected
	}
	w, err := s.registry.Get(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", wallets.ErrWalletNotSelected, err)
	}
	if rs := w.Adapter.ReadyState(); !rs.Ready() {
		return nil, &wallets.NotReadyError{Wallet: name, ReadyState: rs}
	}
	if !w.Has(wallets.CapConnect) {
		return nil, &wallets.CapabilityError{Wallet: name, Capability: wallets.CapConnect}
	}

	if err := s.transition(Connecting, func() { s.active = w }); err != nil {
		return nil, err
	}

	s.logger.Info("connecting wallet", "wallet", name)
	err = w.Adapter.Connect(ctx)
	var pk *solana.PublicKey
	if err == nil {
		if pk = w.Adapter.PublicKey(); pk == nil {
			err = ErrNoPublicKey
		}
	}

	if err != nil {
		s.logger.Warn("wallet connection failed", "wallet", name, "error", err)
		_ = s.transition(Disconnected, func() { s.active = nil })
		return nil, &wallets.ConnectionError{Wallet: name, Err: err}
	}

	if err := s.transition(Connected, func() { s.publicKey = pk }); err != nil {
		return nil, err
	}
	s.selection.Set(name)
	s.watch(w)
	s.logger.Info("wallet connected", "wallet", name, "publicKey", pk.String())
	return w.Adapter, nil
}

// watch follows adapter-initiated events for the connected wallet
func (s *Session) watch(w *wallets.Wallet) {
	src, ok := w.Adapter.(wallets.EventSource)
	if !ok {
		return
	}
	unsubscribe := src.OnEvent(func(ev wallets.AdapterEvent) {
		s.onAdapterEvent(w, ev)
	})

	s.mu.Lock()
	if s.closed || s.active != w {
		s.mu.Unlock()
		unsubscribe()
		return
	}
	s.unsubscribe = unsubscribe
	s.mu.Unlock()
}

func (s *Session) onAdapterEvent(w *wallets.Wallet, ev wallets.AdapterEvent) {
	switch ev.Kind {
	case wallets.AdapterDisconnected:
		s.mu.Lock()
		if s.closed || s.active != w || s.state != Connected {
			s.mu.Unlock()
			return
		}
		s.detachLocked()
		prev := s.state
		s.state = Disconnecting
		first := s.eventLocked(prev)
		s.state = Disconnected
		s.publicKey = nil
		s.active = nil
		second := s.eventLocked(Disconnecting)
		s.mu.Unlock()

		s.logger.Info("wallet disconnected by adapter", "wallet", w.Name())
		s.dispatch([]Event{first, second})
		if ev.Err != nil {
			s.reportError(ev.Err)
		}

	case wallets.AdapterConnected:
		if ev.PublicKey == nil {
			return
		}
		s.mu.Lock()
		if s.closed || s.active != w || s.state != Connected || s.publicKey.Equals(*ev.PublicKey) {
			s.mu.Unlock()
			return
		}
		pk := *ev.PublicKey
		s.publicKey = &pk
		event := s.eventLocked(Connected)
		s.mu.Unlock()

		s.logger.Info("wallet account changed", "wallet", w.Name(), "publicKey", pk.String())
		s.dispatch([]Event{event})

	case wallets.AdapterError:
		if ev.Err != nil {
			s.reportError(fmt.Errorf("wallet %s: %w", w.Name(), ev.Err))
		}
	}
}

// AutoConnect reconnects the persisted wallet. Failures are reported through
// OnError and ErrorOccurred events, never returned; a failed attempt clears the
// persisted selection.
func (s *Session) AutoConnect(ctx context.Context) {
	name := s.selection.Get()
	if name == "" {
		return
	}

	s.mu.Lock()
	busy := s.closed || s.state != Disconnected
	s.mu.Unlock()
	if busy {
		return
	}

	w, err := s.registry.Get(name)
	if err != nil {
		s.selection.Remove()
		s.reportError(fmt.Errorf("failed to restore wallet: %w", err))
		return
	}
	if !w.Adapter.ReadyState().Ready() {
		s.logger.Debug("persisted wallet not ready, skipping auto-connect", "wallet", name, "readyState", w.Adapter.ReadyState().String())
		return
	}

	if err := s.Select(ctx, name); err != nil {
		s.reportError(err)
		return
	}
	if _, err := s.Connect(ctx); err != nil {
		s.selection.Remove()
		s.mu.Lock()
		var events []Event
		if !s.closed && s.selected == name && s.state == Disconnected {
			s.selected = ""
			events = append(events, Event{Kind: WalletSelected, State: s.state, Previous: s.state})
		}
		s.mu.Unlock()
		s.dispatch(events)
		s.reportError(fmt.Errorf("failed to auto-connect: %w", err))
	}
}

// Disconnect disconnects the active adapter, keeping the persisted selection.
// The session ends Disconnected even when the adapter fails or exceeds
// DisconnectTimeout. Cancelling ctx releases the caller; the disconnect
// itself still completes.
func (s *Session) Disconnect(ctx context.Context) error {
	ch := s.inflight.DoChan("disconnect", func() (any, error) {
		s.opMu.Lock()
		defer s.opMu.Unlock()

		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return nil, wallets.ErrSessionClosed
		}
		return nil, s.disconnectLocked(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		return res.Err
	}
}

func (s *Session) disconnectLocked(ctx context.Context) error {
	s.mu.Lock()
	if s.state != Connected {
		s.mu.Unlock()
		return nil
	}
	w := s.active
	s.mu.Unlock()

	if err := s.transition(Disconnecting, s.detachLocked); err != nil {
		return err
	}

	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.DisconnectTimeout)
	err := w.Adapter.Disconnect(dctx)
	cancel()
	_ = s.transition(Disconnected, func() {
		s.publicKey = nil
		s.active = nil
	})

	if err != nil {
		s.logger.Warn("wallet disconnect failed", "wallet", w.Name(), "error", err)
		return fmt.Errorf("%w: %w", wallets.ErrWalletDisconnection, err)
	}
	s.logger.Info("wallet disconnected", "wallet", w.Name())
	return nil
}

// detachLocked drops the adapter event subscription; mu must be held
func (s *Session) detachLocked() {
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
}

// transition moves to next, applying mutate under the state lock, and emits
// StateChanged. Closed sessions are left untouched.
func (s *Session) transition(next State, mutate func()) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return wallets.ErrSessionClosed
	}
	prev := s.state
	if err := ValidateTransition(prev, next); err != nil {
		s.mu.Unlock()
		s.logger.Error("rejected state change", "error", err)
		return err
	}
	s.state = next
	if mutate != nil {
		mutate()
	}
	event := s.eventLocked(prev)
	s.mu.Unlock()

	s.dispatch([]Event{event})
	return nil
}

func (s *Session) eventLocked(prev State) Event {
	return Event{
		Kind:      StateChanged,
		State:     s.state,
		Previous:  prev,
		Wallet:    s.selected,
		PublicKey: copyKey(s.publicKey),
	}
}

func (s *Session) reportError(err error) {
	s.logger.Warn("wallet error", "error", err)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	event := Event{Kind: ErrorOccurred, State: s.state, Previous: s.state, Wallet: s.selected, Err: err}
	s.mu.Unlock()

	if s.opts.OnError != nil {
		s.opts.OnError(err)
	}
	s.dispatch([]Event{event})
}

// Subscribe registers fn for every subsequent event. Listeners run
// synchronously on the goroutine that caused the change.
func (s *Session) Subscribe(fn func(Event)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

func (s *Session) dispatch(events []Event) {
	if len(events) == 0 {
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	fns := make([]func(Event), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, ev := range events {
		for _, fn := range fns {
			fn(ev)
		}
	}
}

// Close detaches the session. In-flight adapter calls finish but no longer
// change state or emit events. The adapter itself stays connected.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.detachLocked()
	s.listeners = make(map[int]func(Event))
}

// Wallets returns the registry's ranked wallet list
func (s *Session) Wallets() []*wallets.Wallet {
	return s.registry.List()
}

// Wallet returns the selected wallet, or nil. While connected it is the entry
// the connection was made through, even if the registry has since been
// refreshed; the refreshed entry is returned once the connection ends.
func (s *Session) Wallet() *wallets.Wallet {
	s.mu.Lock()
	name, active := s.selected, s.active
	s.mu.Unlock()

	if active != nil {
		return active
	}
	if name == "" {
		return nil
	}
	w, err := s.registry.Get(name)
	if err != nil {
		return nil
	}
	return w
}

// PublicKey returns the connected account, or nil unless Connected
func (s *Session) PublicKey() *solana.PublicKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyKey(s.publicKey)
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Connecting() bool {
	return s.State() == Connecting
}

func (s *Session) Connected() bool {
	return s.State() == Connected
}

func (s *Session) Disconnecting() bool {
	return s.State() == Disconnecting
}

// Snapshot returns state, selection and key read together
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{State: s.state, Wallet: s.selected, PublicKey: copyKey(s.publicKey)}
}

func copyKey(pk *solana.PublicKey) *solana.PublicKey {
	if pk == nil {
		return nil
	}
	out := *pk
	return &out
}

// require returns the connected wallet if it advertises capability
func (s *Session) require(capability wallets.Capability) (*wallets.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, wallets.ErrSessionClosed
	}
	if s.state != Connected || s.active == nil {
		return nil, wallets.ErrWalletNotConnected
	}
	if !s.active.Has(capability) {
		return nil, &wallets.CapabilityError{Wallet: s.active.Name(), Capability: capability}
	}
	return s.active, nil
}

// SignMessage signs arbitrary bytes with the connected wallet
func (s *Session) SignMessage(ctx context.Context, message []byte) ([]byte, error) {
	w, err := s.require(wallets.CapSignMessage)
	if err != nil {
		return nil, err
	}
	signer, ok := w.Adapter.(wallets.MessageSigner)
	if !ok {
		return nil, &wallets.CapabilityError{Wallet: w.Name(), Capability: wallets.CapSignMessage}
	}
	return signer.SignMessage(ctx, message)
}

// SignIn runs Sign In With Solana. A nil input lets the wallet fill every field.
func (s *Session) SignIn(ctx context.Context, input *signin.Input) (*signin.Output, error) {
	w, err := s.require(wallets.CapSignIn)
	if err != nil {
		return nil, err
	}
	signer, ok := w.Adapter.(wallets.SignInSigner)
	if !ok {
		return nil, &wallets.CapabilityError{Wallet: w.Name(), Capability: wallets.CapSignIn}
	}
	if input == nil {
		input = &signin.Input{}
	}
	return signer.SignIn(ctx, input)
}

// SignTransaction signs a legacy or kit transaction. The result has the same
// shape as tx.
func (s *Session) SignTransaction(ctx context.Context, tx any) (*transaction.Dual, error) {
	w, err := s.require(wallets.CapSignTransaction)
	if err != nil {
		return nil, err
	}
	d, err := transaction.From(tx)
	if err != nil {
		return nil, err
	}
	signer, ok := w.Adapter.(wallets.TransactionSigner)
	if !ok {
		return nil, &wallets.CapabilityError{Wallet: w.Name(), Capability: wallets.CapSignTransaction}
	}
	return signer.SignTransaction(ctx, d)
}

// SignAllTransactions signs a batch in one wallet request. Every element
// must have the same shape; a mixed batch fails before the wallet is asked.
func (s *Session) SignAllTransactions(ctx context.Context, txs []any) ([]*transaction.Dual, error) {
	w, err := s.require(wallets.CapSignAllTransactions)
	if err != nil {
		return nil, err
	}
	batch, _, err := transaction.FromBatch(txs)
	if err != nil {
		return nil, err
	}
	if len(batch) == 0 {
		return nil, nil
	}
	signer, ok := w.Adapter.(wallets.TransactionSigner)
	if !ok {
		return nil, &wallets.CapabilityError{Wallet: w.Name(), Capability: wallets.CapSignAllTransactions}
	}
	return signer.SignAllTransactions(ctx, batch)
}

// SendTransaction signs tx with the wallet and submits it through conn. A
// missing blockhash is fetched from conn and opts.Signers add their
// signatures first. Submission errors are returned as conn reported them.
func (s *Session) SendTransaction(ctx context.Context, tx any, conn Connection, opts wallets.SendOptions) (solana.Signature, error) {
	w, err := s.require(wallets.CapSignTransaction)
	if err != nil {
		return solana.Signature{}, err
	}
	if conn == nil {
		return solana.Signature{}, ErrNoConnection
	}
	signer, ok := w.Adapter.(wallets.TransactionSigner)
	if !ok {
		return solana.Signature{}, &wallets.CapabilityError{Wallet: w.Name(), Capability: wallets.CapSignTransaction}
	}

	d, err := prepare(ctx, tx, conn, opts)
	if err != nil {
		return solana.Signature{}, err
	}
	signed, err := signer.SignTransaction(ctx, d)
	if err != nil {
		return solana.Signature{}, err
	}
	wire, err := signed.WireBytes()
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to serialize transaction: %w", err)
	}
	return conn.SendRawTransaction(ctx, wire, opts)
}

// SignAndSendTransaction lets the wallet sign and submit tx when it can,
// otherwise it behaves like SendTransaction
func (s *Session) SignAndSendTransaction(ctx context.Context, tx any, conn Connection, opts wallets.SendOptions) (solana.Signature, error) {
	w, err := s.require(wallets.CapSignAndSendTransaction)
	if errors.Is(err, wallets.ErrCapabilityNotSupported) {
		return s.SendTransaction(ctx, tx, conn, opts)
	}
	if err != nil {
		return solana.Signature{}, err
	}
	sender, ok := w.Adapter.(wallets.TransactionSender)
	if !ok {
		return s.SendTransaction(ctx, tx, conn, opts)
	}

	d, err := prepare(ctx, tx, conn, opts)
	if err != nil {
		return solana.Signature{}, err
	}
	return sender.SignAndSendTransaction(ctx, d, opts)
}

func prepare(ctx context.Context, tx any, conn Connection, opts wallets.SendOptions) (*transaction.Dual, error) {
	d, err := transaction.From(tx)
	if err != nil {
		return nil, err
	}

	hash, err := d.RecentBlockhash()
	if err != nil {
		return nil, err
	}
	if hash == (solana.Hash{}) {
		if conn == nil {
			return nil, fmt.Errorf("transaction has no recent blockhash: %w", ErrNoConnection)
		}
		latest, err := conn.GetLatestBlockhash(ctx)
		if err != nil {
			return nil, err
		}
		if err := d.SetRecentBlockhash(latest); err != nil {
			return nil, err
		}
	}

	if len(opts.Signers) > 0 {
		if err := transaction.SignWith(d, opts.Signers...); err != nil {
			return nil, fmt.Errorf("failed to apply extra signers: %w", err)
		}
	}
	return d, nil
}
