package mobile

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigweihq/solconnect/pkg/constants"
	"github.com/sigweihq/solconnect/pkg/session"
	"github.com/sigweihq/solconnect/pkg/storage"
	"github.com/sigweihq/solconnect/pkg/transaction"
	"github.com/sigweihq/solconnect/pkg/utils"
	"github.com/sigweihq/solconnect/pkg/wallets"
)

// fakeWallet is a wallet app answering mobile wallet requests over a websocket
type fakeWallet struct {
	t      *testing.T
	key    solana.PrivateKey
	server *httptest.Server

	mu          sync.Mutex
	conn        *websocket.Conn
	methods     []string
	authorize   authorizeParams
	declineSign bool

	// silent lists methods the wallet reads but never answers
	silent      map[string]bool
	ignorePings bool
}

func newFakeWallet(t *testing.T) *fakeWallet {
	t.Helper()
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)

	w := &fakeWallet{t: t, key: key, silent: make(map[string]bool)}
	upgrader := websocket.Upgrader{}
	w.server = httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		w.mu.Lock()
		w.conn = conn
		if w.ignorePings {
			conn.SetPingHandler(func(string) error { return nil })
		}
		w.mu.Unlock()
		w.serve(conn)
	}))
	t.Cleanup(w.server.Close)
	return w
}

func (w *fakeWallet) url() string {
	return "ws" + strings.TrimPrefix(w.server.URL, "http")
}

func (w *fakeWallet) seen() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.methods...)
}

func (w *fakeWallet) serve(conn *websocket.Conn) {
	defer conn.Close()
	for {
		var req struct {
			ID     string          `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		if err := conn.ReadJSON(&req); err != nil {
			return
		}

		w.mu.Lock()
		w.methods = append(w.methods, req.Method)
		decline := w.declineSign
		silent := w.silent[req.Method]
		w.mu.Unlock()
		if silent {
			continue
		}

		result, rpcErr := w.handle(req.Method, req.Params, decline)
		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		if rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = result
		}
		w.mu.Lock()
		err := conn.WriteJSON(resp)
		w.mu.Unlock()
		if err != nil {
			return
		}
	}
}

func (w *fakeWallet) handle(method string, raw json.RawMessage, decline bool) (any, *RPCError) {
	switch method {
	case MethodAuthorize:
		var p authorizeParams
		require.NoError(w.t, json.Unmarshal(raw, &p))
		w.mu.Lock()
		w.authorize = p
		w.mu.Unlock()
		return authorizeResult{
			AuthToken: "token-1",
			Accounts:  []Account{{Address: w.key.PublicKey().String(), Label: "main"}},
		}, nil
	case MethodDeauthorize:
		return struct{}{}, nil
	case MethodSignMessages:
		if decline {
			return nil, &RPCError{Code: CodeUserDeclined, Message: "declined"}
		}
		var p signMessagesParams
		require.NoError(w.t, json.Unmarshal(raw, &p))
		out := signMessagesResult{}
		for _, m := range p.Payloads {
			sig, err := w.key.Sign(m)
			require.NoError(w.t, err)
			out.Signatures = append(out.Signatures, sig[:])
		}
		return out, nil
	case MethodSignTransactions, MethodSignAndSendTransactions:
		var p signTransactionsParams
		require.NoError(w.t, json.Unmarshal(raw, &p))
		var signed [][]byte
		var sigs [][]byte
		for _, wire := range p.Payloads {
			d, err := transaction.FromWire(transaction.Legacy, wire)
			require.NoError(w.t, err)
			require.NoError(w.t, transaction.SignWith(d, w.key))
			out, err := d.WireBytes()
			require.NoError(w.t, err)
			signed = append(signed, out)
			sig, _ := d.Signature(w.key.PublicKey())
			sigs = append(sigs, sig[:])
		}
		if method == MethodSignAndSendTransactions {
			return signAndSendResult{Signatures: sigs}, nil
		}
		return signTransactionsResult{SignedPayloads: signed}, nil
	}
	return nil, &RPCError{Code: -32601, Message: "method not found"}
}

func (w *fakeWallet) notify(method string, params any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	require.NoError(w.t, w.conn.WriteJSON(map[string]any{"jsonrpc": "2.0", "method": method, "params": params}))
}

func (w *fakeWallet) drop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.conn.Close()
}

func newAdapter(w *fakeWallet, store storage.Store) *Adapter {
	return New(Config{
		Endpoint:  "https://api.devnet.solana.com",
		WalletURL: w.url(),
		Identity:  Identity{Name: "solconnect tests"},
		Store:     store,
	})
}

func ctxTimeout(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestAdapter_Metadata(t *testing.T) {
	a := New(Config{Endpoint: "https://api.devnet.solana.com"})
	assert.Equal(t, constants.MobileWalletName, a.Name())
	assert.Equal(t, wallets.Loadable, a.ReadyState())
	assert.Equal(t, constants.ChainDevnet, a.Chain())
	assert.Nil(t, a.PublicKey())

	caps := wallets.DetectCapabilities(a)
	assert.True(t, caps.Has(wallets.CapSignMessage))
	assert.True(t, caps.Has(wallets.CapSignAllTransactions))
	assert.True(t, caps.Has(wallets.CapSignAndSendTransaction))
	assert.False(t, caps.Has(wallets.CapSignIn))
}

func TestFactory(t *testing.T) {
	f := Factory(Config{})
	a, err := f("https://api.mainnet-beta.solana.com")
	require.NoError(t, err)
	assert.Equal(t, constants.ChainMainnet, a.(*Adapter).Chain())
}

func TestAdapter_ConnectCachesAuthToken(t *testing.T) {
	w := newFakeWallet(t)
	store := storage.NewMemoryStore()
	ctx := ctxTimeout(t)

	a := newAdapter(w, store)
	require.NoError(t, a.Connect(ctx))
	require.NotNil(t, a.PublicKey())
	assert.Equal(t, w.key.PublicKey(), *a.PublicKey())
	assert.Equal(t, constants.ChainDevnet, w.authorize.Chain)
	assert.Empty(t, w.authorize.AuthToken)

	raw, ok, err := store.Get(DefaultAuthTokenKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `"token-1"`, raw)

	// a second adapter over the same store reauthorises with the cached token
	b := newAdapter(w, store)
	require.NoError(t, b.Connect(ctx))
	w.mu.Lock()
	assert.Equal(t, "token-1", w.authorize.AuthToken)
	w.mu.Unlock()

	require.NoError(t, b.Disconnect(ctx))
	assert.Nil(t, b.PublicKey())
	_, ok, _ = store.Get(DefaultAuthTokenKey)
	assert.False(t, ok)
	assert.Contains(t, w.seen(), MethodDeauthorize)
}

func TestAdapter_ConnectUnreachable(t *testing.T) {
	a := New(Config{WalletURL: "ws://127.0.0.1:1/nowhere"})
	err := a.Connect(ctxTimeout(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to reach mobile wallet")
	assert.Nil(t, a.PublicKey())
}

func TestAdapter_RequiresConnection(t *testing.T) {
	a := New(Config{})
	ctx := ctxTimeout(t)

	_, err := a.SignMessage(ctx, []byte("hi"))
	assert.ErrorIs(t, err, wallets.ErrWalletNotConnected)
	_, err = a.SignAllTransactions(ctx, nil)
	assert.ErrorIs(t, err, wallets.ErrWalletNotConnected)
	_, err = a.SignAndSendTransaction(ctx, nil, wallets.SendOptions{})
	assert.ErrorIs(t, err, wallets.ErrWalletNotConnected)
}

func TestAdapter_Signing(t *testing.T) {
	w := newFakeWallet(t)
	ctx := ctxTimeout(t)
	a := newAdapter(w, nil)
	require.NoError(t, a.Connect(ctx))
	pk := w.key.PublicKey()

	t.Run("message", func(t *testing.T) {
		msg := []byte("hello mobile")
		sig, err := a.SignMessage(ctx, msg)
		require.NoError(t, err)
		assert.True(t, solana.SignatureFromBytes(sig).Verify(pk, msg))
	})

	t.Run("transactions keep their shape", func(t *testing.T) {
		to := solana.NewWallet().PublicKey()
		legacy, err := utils.BuildSOLTransfer(pk, to, 1000, solana.Hash{7})
		require.NoError(t, err)
		kit, err := transaction.KitFromLegacy(legacy)
		require.NoError(t, err)

		in := []*transaction.Dual{}
		for _, v := range []any{legacy, kit} {
			d, err := transaction.From(v)
			require.NoError(t, err)
			in = append(in, d)
		}

		out, err := a.SignAllTransactions(ctx, in[:1])
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, transaction.Legacy, out[0].Architecture())
		assert.NoError(t, out[0].VerifySignatures())

		one, err := a.SignTransaction(ctx, in[1])
		require.NoError(t, err)
		assert.Equal(t, transaction.Kit, one.Architecture())
		assert.True(t, one.IsSigned())
	})

	t.Run("sign and send", func(t *testing.T) {
		legacy, err := utils.BuildSOLTransfer(pk, solana.NewWallet().PublicKey(), 5, solana.Hash{9})
		require.NoError(t, err)
		d, err := transaction.From(legacy)
		require.NoError(t, err)

		sig, err := a.SignAndSendTransaction(ctx, d, wallets.SendOptions{SkipPreflight: true})
		require.NoError(t, err)
		msg, err := d.MessageBytes()
		require.NoError(t, err)
		assert.True(t, sig.Verify(pk, msg))
	})

	t.Run("wallet error", func(t *testing.T) {
		w.mu.Lock()
		w.declineSign = true
		w.mu.Unlock()
		defer func() {
			w.mu.Lock()
			w.declineSign = false
			w.mu.Unlock()
		}()

		_, err := a.SignMessage(ctx, []byte("nope"))
		var rpcErr *RPCError
		require.True(t, errors.As(err, &rpcErr))
		assert.Equal(t, CodeUserDeclined, rpcErr.Code)
	})
}

func TestAdapter_Notifications(t *testing.T) {
	w := newFakeWallet(t)
	ctx := ctxTimeout(t)
	a := newAdapter(w, nil)
	require.NoError(t, a.Connect(ctx))

	events := make(chan wallets.AdapterEvent, 4)
	unsubscribe := a.OnEvent(func(ev wallets.AdapterEvent) { events <- ev })
	defer unsubscribe()

	next := solana.NewWallet().PublicKey()
	w.notify(NotificationAccountsChanged, accountsChangedParams{Accounts: []Account{{Address: next.String()}}})

	select {
	case ev := <-events:
		assert.Equal(t, wallets.AdapterConnected, ev.Kind)
		require.NotNil(t, ev.PublicKey)
		assert.Equal(t, next, *ev.PublicKey)
	case <-time.After(2 * time.Second):
		t.Fatal("no accounts_changed event")
	}
	assert.Equal(t, next, *a.PublicKey())

	w.notify(NotificationDeauthorized, nil)
	select {
	case ev := <-events:
		assert.Equal(t, wallets.AdapterDisconnected, ev.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("no deauthorized event")
	}
	assert.Nil(t, a.PublicKey())
}

func TestAdapter_DroppedConnection(t *testing.T) {
	w := newFakeWallet(t)
	ctx := ctxTimeout(t)
	a := newAdapter(w, nil)
	require.NoError(t, a.Connect(ctx))

	events := make(chan wallets.AdapterEvent, 1)
	a.OnEvent(func(ev wallets.AdapterEvent) { events <- ev })

	w.drop()

	select {
	case ev := <-events:
		assert.Equal(t, wallets.AdapterDisconnected, ev.Kind)
		assert.ErrorIs(t, ev.Err, ErrConnectionClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("no disconnect event after the wallet went away")
	}
	assert.Nil(t, a.PublicKey())

	_, err := a.SignMessage(ctx, []byte("late"))
	assert.ErrorIs(t, err, wallets.ErrWalletNotConnected)

	// reconnecting dials a fresh socket
	require.NoError(t, a.Connect(ctx))
	assert.NotNil(t, a.PublicKey())
}

func TestAdapter_RequestTimeout(t *testing.T) {
	w := newFakeWallet(t)
	w.silent[MethodSignMessages] = true
	w.silent[MethodDeauthorize] = true
	store := storage.NewMemoryStore()
	a := New(Config{
		Endpoint:       "https://api.devnet.solana.com",
		WalletURL:      w.url(),
		Store:          store,
		RequestTimeout: 100 * time.Millisecond,
	})
	ctx := ctxTimeout(t)
	require.NoError(t, a.Connect(ctx))

	start := time.Now()
	_, err := a.SignMessage(ctx, []byte("hello"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.NotNil(t, a.PublicKey())

	err = a.Disconnect(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Nil(t, a.PublicKey())
	assert.False(t, a.connected())
	_, ok, err := store.Get(DefaultAuthTokenKey)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAdapter_UnansweredDeauthorizeDoesNotWedgeSession(t *testing.T) {
	w := newFakeWallet(t)
	w.silent[MethodDeauthorize] = true
	a := New(Config{
		Endpoint:       "https://api.devnet.solana.com",
		WalletURL:      w.url(),
		RequestTimeout: 300 * time.Millisecond,
	})
	registry := wallets.NewRegistry(context.Background(), []wallets.Adapter{a}, wallets.BuildOptions{})
	s := session.New(registry, session.Options{})
	t.Cleanup(s.Close)

	ctx := ctxTimeout(t)
	require.NoError(t, s.Select(ctx, a.Name()))
	_, err := s.Connect(ctx)
	require.NoError(t, err)

	short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Disconnect(short), context.DeadlineExceeded)

	require.Eventually(t, func() bool { return s.State() == session.Disconnected }, 3*time.Second, 10*time.Millisecond)

	// the session accepts new operations and the wallet can be reconnected
	_, err = s.Connect(ctx)
	require.NoError(t, err)
	assert.Equal(t, w.key.PublicKey(), *s.PublicKey())
}

func TestAdapter_KeepAlive(t *testing.T) {
	t.Run("answered pings keep an idle connection open", func(t *testing.T) {
		w := newFakeWallet(t)
		a := New(Config{Endpoint: "https://api.devnet.solana.com", WalletURL: w.url(), PongWait: 150 * time.Millisecond})
		require.NoError(t, a.Connect(ctxTimeout(t)))

		time.Sleep(500 * time.Millisecond)
		assert.NotNil(t, a.PublicKey())
		assert.True(t, a.connected())
	})

	t.Run("silent wallet is dropped", func(t *testing.T) {
		w := newFakeWallet(t)
		w.ignorePings = true
		a := New(Config{Endpoint: "https://api.devnet.solana.com", WalletURL: w.url(), PongWait: 150 * time.Millisecond})

		events := make(chan wallets.AdapterEvent, 1)
		a.OnEvent(func(ev wallets.AdapterEvent) { events <- ev })
		require.NoError(t, a.Connect(ctxTimeout(t)))

		select {
		case ev := <-events:
			assert.Equal(t, wallets.AdapterDisconnected, ev.Kind)
			assert.ErrorIs(t, ev.Err, ErrConnectionClosed)
		case <-time.After(3 * time.Second):
			t.Fatal("connection to a silent wallet was never dropped")
		}
		assert.Nil(t, a.PublicKey())
	})
}
