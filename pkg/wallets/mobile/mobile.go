// Package mobile is the mobile wallet adapter: it talks JSON-RPC over a
// websocket to a wallet app listening on the device.
package mobile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/sigweihq/solconnect/pkg/constants"
	"github.com/sigweihq/solconnect/pkg/environment"
	"github.com/sigweihq/solconnect/pkg/storage"
	"github.com/sigweihq/solconnect/pkg/transaction"
	"github.com/sigweihq/solconnect/pkg/wallets"
)

const (
	// DefaultWalletURL is where wallet apps listen for local associations
	DefaultWalletURL = "ws://127.0.0.1:57845/solana-wallet"

	// DefaultAuthTokenKey is the storage key the authorisation token is cached under
	DefaultAuthTokenKey = "mobileWalletAuthToken"

	// Time allowed to write a message to the wallet
	writeWait = 10 * time.Second

	// Maximum message size allowed from the wallet
	maxMessageSize = 10 * 1024 * 1024 // 10 MB

	// Time allowed to read the next pong from the wallet
	defaultPongWait = 60 * time.Second
)

// ErrConnectionClosed is returned for calls interrupted by a dropped connection
var ErrConnectionClosed = errors.New("mobile wallet connection closed")

// Config configures the adapter
type Config struct {
	// Endpoint is the RPC endpoint; it selects the chain requested from the wallet
	Endpoint string

	// WalletURL defaults to DefaultWalletURL
	WalletURL string

	Identity Identity

	// Store caches the authorisation token between sessions; nil disables caching
	Store        storage.Store
	AuthTokenKey string

	// RequestTimeout bounds every wallet request; zero uses
	// constants.MobileRequestTimeout
	RequestTimeout time.Duration

	// PongWait is how long the wallet may stay silent before the connection
	// is considered dead; pings go out at 9/10 of it. Zero uses 60s.
	PongWait time.Duration

	Dialer *websocket.Dialer
	Logger *slog.Logger
}

// Adapter is the mobile wallet adapter
type Adapter struct {
	chain     string
	walletURL string
	identity  Identity
	dialer    *websocket.Dialer
	authToken *storage.Local[string]
	logger    *slog.Logger

	requestTimeout time.Duration
	pongWait       time.Duration
	pingPeriod     time.Duration

	mu        sync.RWMutex
	conn      *websocket.Conn
	account   *solana.PublicKey
	pending   map[string]chan response
	listeners map[int]func(wallets.AdapterEvent)
	nextID    int

	writeMu sync.Mutex
}

// New creates an adapter; nothing is dialled until Connect
func New(cfg Config) *Adapter {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	walletURL := cfg.WalletURL
	if walletURL == "" {
		walletURL = DefaultWalletURL
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: constants.MobileHandshakeTimeout}
	}
	key := cfg.AuthTokenKey
	if key == "" {
		key = DefaultAuthTokenKey
	}
	store := cfg.Store
	if store == nil {
		store = storage.NewMemoryStore()
	}
	requestTimeout := cfg.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = constants.MobileRequestTimeout
	}
	pongWait := cfg.PongWait
	if pongWait <= 0 {
		pongWait = defaultPongWait
	}

	return &Adapter{
		chain:     environment.InferNetwork(cfg.Endpoint).Chain(),
		walletURL: walletURL,
		identity:  cfg.Identity,
		dialer:    dialer,
		authToken: storage.NewLocal(store, key, "", logger),
		logger:    logger,

		requestTimeout: requestTimeout,
		pongWait:       pongWait,
		pingPeriod:     (pongWait * 9) / 10,

		pending:   make(map[string]chan response),
		listeners: make(map[int]func(wallets.AdapterEvent)),
	}
}

// Factory returns a wallets.MobileFactory building adapters from cfg
func Factory(cfg Config) wallets.MobileFactory {
	return func(endpoint string) (wallets.Adapter, error) {
		c := cfg
		c.Endpoint = endpoint
		return New(c), nil
	}
}

// Chain returns the chain requested during authorisation
func (a *Adapter) Chain() string {
	return a.chain
}

func (a *Adapter) Name() wallets.WalletName {
	return constants.MobileWalletName
}

func (a *Adapter) Icon() string {
	return ""
}

func (a *Adapter) URL() string {
	return "https://solanamobile.com/wallets"
}

// ReadyState is Loadable: a wallet app is found only when connecting
func (a *Adapter) ReadyState() wallets.ReadyState {
	return wallets.Loadable
}

func (a *Adapter) PublicKey() *solana.PublicKey {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.account == nil {
		return nil
	}
	pk := *a.account
	return &pk
}

// Connect dials the wallet and authorises, reusing a cached token when present
func (a *Adapter) Connect(ctx context.Context) error {
	if a.PublicKey() != nil {
		return nil
	}

	if err := a.dial(ctx); err != nil {
		return err
	}

	params := authorizeParams{Identity: a.identity, Chain: a.chain, AuthToken: a.authToken.Get()}
	var result authorizeResult
	if err := a.call(ctx, MethodAuthorize, params, &result); err != nil {
		if params.AuthToken != "" {
			a.authToken.Remove()
		}
		a.closeConn()
		return err
	}
	if len(result.Accounts) == 0 {
		a.closeConn()
		return fmt.Errorf("wallet authorised no accounts")
	}

	pk, err := solana.PublicKeyFromBase58(result.Accounts[0].Address)
	if err != nil {
		a.closeConn()
		return fmt.Errorf("wallet returned an invalid address: %w", err)
	}

	a.authToken.Set(result.AuthToken)
	a.mu.Lock()
	a.account = &pk
	a.mu.Unlock()
	return nil
}

func (a *Adapter) dial(ctx context.Context) error {
	a.mu.Lock()
	if a.conn != nil {
		a.mu.Unlock()
		return nil
	}
	a.mu.Unlock()

	conn, _, err := a.dialer.DialContext(ctx, a.walletURL, nil)
	if err != nil {
		return fmt.Errorf("failed to reach mobile wallet: %w", err)
	}
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(a.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(a.pongWait))
	})

	a.mu.Lock()
	a.conn = conn
	a.mu.Unlock()

	done := make(chan struct{})
	go a.readPump(conn, done)
	go a.pingLoop(conn, done)
	return nil
}

// Disconnect deauthorises (best effort), forgets the cached token and closes
// the connection
func (a *Adapter) Disconnect(ctx context.Context) error {
	token := a.authToken.Get()
	var err error
	if token != "" && a.connected() {
		err = a.call(ctx, MethodDeauthorize, deauthorizeParams{AuthToken: token}, nil)
	}
	a.authToken.Remove()

	a.mu.Lock()
	a.account = nil
	a.mu.Unlock()
	a.closeConn()
	return err
}

func (a *Adapter) connected() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.conn != nil
}

func (a *Adapter) closeConn() {
	a.mu.Lock()
	conn := a.conn
	a.conn = nil
	pending := a.takePending()
	a.mu.Unlock()

	failPending(pending)
	if conn != nil {
		a.writeMu.Lock()
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		a.writeMu.Unlock()
		conn.Close()
	}
}

// takePending must be called with mu held
func (a *Adapter) takePending() map[string]chan response {
	pending := a.pending
	a.pending = make(map[string]chan response)
	return pending
}

func failPending(pending map[string]chan response) {
	for _, ch := range pending {
		close(ch)
	}
}

// readPump dispatches responses to waiting calls and handles notifications.
// Any message from the wallet extends the read deadline.
func (a *Adapter) readPump(conn *websocket.Conn, done chan struct{}) {
	defer func() {
		close(done)
		a.connectionLost(conn)
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				a.logger.Warn("mobile wallet read error", "error", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(a.pongWait))

		var msg response
		if err := json.Unmarshal(message, &msg); err != nil {
			a.logger.Warn("failed to parse mobile wallet message", "error", err)
			continue
		}

		if msg.ID == "" && msg.Method != "" {
			a.handleNotification(msg)
			continue
		}

		a.mu.Lock()
		ch, ok := a.pending[msg.ID]
		delete(a.pending, msg.ID)
		a.mu.Unlock()
		if ok {
			ch <- msg
		}
	}
}

// pingLoop keeps the connection alive until the read loop exits
func (a *Adapter) pingLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(a.pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			a.writeMu.Lock()
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			a.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (a *Adapter) handleNotification(msg response) {
	switch msg.Method {
	case NotificationDeauthorized:
		a.authToken.Remove()
		a.mu.Lock()
		wasConnected := a.account != nil
		a.account = nil
		a.mu.Unlock()
		if wasConnected {
			a.emit(wallets.AdapterEvent{Kind: wallets.AdapterDisconnected})
		}
	case NotificationAccountsChanged:
		var params accountsChangedParams
		if err := json.Unmarshal(msg.Params, &params); err != nil || len(params.Accounts) == 0 {
			return
		}
		pk, err := solana.PublicKeyFromBase58(params.Accounts[0].Address)
		if err != nil {
			a.logger.Warn("mobile wallet sent an invalid address", "error", err)
			return
		}
		a.mu.Lock()
		a.account = &pk
		a.mu.Unlock()
		a.emit(wallets.AdapterEvent{Kind: wallets.AdapterConnected, PublicKey: &pk})
	default:
		a.logger.Debug("ignoring mobile wallet notification", "method", msg.Method)
	}
}

// connectionLost runs when the read loop exits. Connections closed through
// closeConn are no longer current and need no cleanup.
func (a *Adapter) connectionLost(conn *websocket.Conn) {
	conn.Close()

	a.mu.Lock()
	if a.conn != conn {
		a.mu.Unlock()
		return
	}
	a.conn = nil
	wasConnected := a.account != nil
	a.account = nil
	pending := a.takePending()
	a.mu.Unlock()

	failPending(pending)
	if wasConnected {
		a.emit(wallets.AdapterEvent{Kind: wallets.AdapterDisconnected, Err: ErrConnectionClosed})
	}
}

// call sends one request and waits for its response, at most requestTimeout
func (a *Adapter) call(ctx context.Context, method string, params any, result any) error {
	ctx, cancel := context.WithTimeout(ctx, a.requestTimeout)
	defer cancel()

	id := uuid.NewString()
	ch := make(chan response, 1)

	a.mu.Lock()
	conn := a.conn
	if conn == nil {
		a.mu.Unlock()
		return ErrConnectionClosed
	}
	a.pending[id] = ch
	a.mu.Unlock()

	payload, err := json.Marshal(request{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		a.forget(id)
		return fmt.Errorf("failed to marshal %s request: %w", method, err)
	}

	a.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	err = conn.WriteMessage(websocket.TextMessage, payload)
	a.writeMu.Unlock()
	if err != nil {
		a.forget(id)
		return fmt.Errorf("failed to send %s request: %w", method, err)
	}

	select {
	case <-ctx.Done():
		a.forget(id)
		return fmt.Errorf("mobile wallet %s request: %w", method, ctx.Err())
	case resp, ok := <-ch:
		if !ok {
			return ErrConnectionClosed
		}
		if resp.Error != nil {
			return resp.Error
		}
		if result != nil {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return fmt.Errorf("failed to decode %s response: %w", method, err)
			}
		}
		return nil
	}
}

func (a *Adapter) forget(id string) {
	a.mu.Lock()
	delete(a.pending, id)
	a.mu.Unlock()
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

func (a *Adapter) emit(ev wallets.AdapterEvent) {
	a.mu.RLock()
	fns := make([]func(wallets.AdapterEvent), 0, len(a.listeners))
	for _, fn := range a.listeners {
		fns = append(fns, fn)
	}
	a.mu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
}

func (a *Adapter) requireAccount() (solana.PublicKey, error) {
	pk := a.PublicKey()
	if pk == nil {
		return solana.PublicKey{}, wallets.ErrWalletNotConnected
	}
	return *pk, nil
}

func (a *Adapter) SignMessage(ctx context.Context, message []byte) ([]byte, error) {
	pk, err := a.requireAccount()
	if err != nil {
		return nil, err
	}

	var result signMessagesResult
	params := signMessagesParams{Addresses: []string{pk.String()}, Payloads: [][]byte{message}}
	if err := a.call(ctx, MethodSignMessages, params, &result); err != nil {
		return nil, err
	}
	if len(result.Signatures) != 1 {
		return nil, fmt.Errorf("wallet returned %d signatures for 1 message", len(result.Signatures))
	}
	return result.Signatures[0], nil
}

func (a *Adapter) SignTransaction(ctx context.Context, tx *transaction.Dual) (*transaction.Dual, error) {
	signed, err := a.SignAllTransactions(ctx, []*transaction.Dual{tx})
	if err != nil {
		return nil, err
	}
	return signed[0], nil
}

// SignAllTransactions sends every transaction in one request; results keep
// the input shapes
func (a *Adapter) SignAllTransactions(ctx context.Context, txs []*transaction.Dual) ([]*transaction.Dual, error) {
	if _, err := a.requireAccount(); err != nil {
		return nil, err
	}

	payloads, err := wirePayloads(txs)
	if err != nil {
		return nil, err
	}

	var result signTransactionsResult
	if err := a.call(ctx, MethodSignTransactions, signTransactionsParams{Payloads: payloads}, &result); err != nil {
		return nil, err
	}
	if len(result.SignedPayloads) != len(txs) {
		return nil, fmt.Errorf("wallet returned %d transactions for %d", len(result.SignedPayloads), len(txs))
	}

	out := make([]*transaction.Dual, len(txs))
	for i, raw := range result.SignedPayloads {
		d, err := transaction.FromWire(txs[i].Architecture(), raw)
		if err != nil {
			return nil, fmt.Errorf("transaction %d: %w", i, err)
		}
		out[i] = d
	}
	return out, nil
}

func (a *Adapter) SignAndSendTransaction(ctx context.Context, tx *transaction.Dual, opts wallets.SendOptions) (solana.Signature, error) {
	if _, err := a.requireAccount(); err != nil {
		return solana.Signature{}, err
	}

	payloads, err := wirePayloads([]*transaction.Dual{tx})
	if err != nil {
		return solana.Signature{}, err
	}
	params := signAndSendParams{
		Payloads: payloads,
		Options: &sendOptions{
			MinContextSlot: opts.MinContextSlot,
			Commitment:     string(opts.PreflightCommitment),
			SkipPreflight:  opts.SkipPreflight,
			MaxRetries:     opts.MaxRetries,
		},
	}

	var result signAndSendResult
	if err := a.call(ctx, MethodSignAndSendTransactions, params, &result); err != nil {
		return solana.Signature{}, err
	}
	if len(result.Signatures) != 1 || len(result.Signatures[0]) != solana.SignatureLength {
		return solana.Signature{}, fmt.Errorf("wallet returned a malformed signature")
	}
	return solana.SignatureFromBytes(result.Signatures[0]), nil
}

func wirePayloads(txs []*transaction.Dual) ([][]byte, error) {
	payloads := make([][]byte, len(txs))
	for i, tx := range txs {
		wire, err := tx.WireBytes()
		if err != nil {
			return nil, fmt.Errorf("transaction %d: %w", i, err)
		}
		payloads[i] = wire
	}
	return payloads, nil
}

var (
	_ wallets.Adapter           = (*Adapter)(nil)
	_ wallets.MessageSigner     = (*Adapter)(nil)
	_ wallets.TransactionSigner = (*Adapter)(nil)
	_ wallets.TransactionSender = (*Adapter)(nil)
	_ wallets.EventSource       = (*Adapter)(nil)
)
