package authclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigweihq/solconnect/pkg/session"
	"github.com/sigweihq/solconnect/pkg/signin"
	"github.com/sigweihq/solconnect/pkg/storage"
	"github.com/sigweihq/solconnect/pkg/types"
	"github.com/sigweihq/solconnect/pkg/wallets"
	"github.com/sigweihq/solconnect/pkg/wallets/walletstest"
)

// authServer verifies wallet signatures the way a backend would
type authServer struct {
	*httptest.Server
	t        *testing.T
	siws     bool
	mu       sync.Mutex
	logins   []types.AuthRequest
	access   string
	refreshN int
}

func newAuthServer(t *testing.T, siws bool) *authServer {
	s := &authServer{t: t, siws: siws, access: "access-1"}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/auth/message", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		addr := r.URL.Query().Get("walletAddress")
		msg := "Sign this message to authenticate.\n\nNonce: abc123"
		if s.siws {
			var err error
			msg, err = signin.CreateMessage(signin.Input{Domain: "app.example.com", Address: addr, Statement: "Log in", Nonce: "abc12345", Version: "1"})
			require.NoError(t, err)
		}
		_ = json.NewEncoder(w).Encode(types.MessageResponse{Message: msg})
	})
	mux.HandleFunc("/api/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var req types.AuthRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		s.mu.Lock()
		s.logins = append(s.logins, req)
		s.mu.Unlock()

		pk, err := solana.PublicKeyFromBase58(req.Address)
		require.NoError(t, err)
		sig, err := base58.Decode(req.Signature)
		require.NoError(t, err)
		signed := req.Message
		if req.SignedMessage != "" {
			signed = req.SignedMessage
		}
		if len(sig) != 64 || !solana.SignatureFromBytes(sig).Verify(pk, []byte(signed)) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"invalid signature"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(types.AuthResponse{
			User:         &types.User{ID: 1, WalletAddress: req.Address},
			AccessToken:  s.access,
			RefreshToken: "refresh-1",
		})
	})
	mux.HandleFunc("/api/v1/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		var req types.RefreshRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		s.mu.Lock()
		s.refreshN++
		s.access = "access-2"
		s.mu.Unlock()
		_ = json.NewEncoder(w).Encode(types.TokenPair{AccessToken: "access-2", RefreshToken: "refresh-2"})
	})
	mux.HandleFunc("/api/v1/auth/me", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		want := "Bearer " + s.access
		s.mu.Unlock()
		if r.Header.Get("Authorization") != want {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"token expired"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(types.User{ID: 1, WalletAddress: "me"})
	})
	mux.HandleFunc("/api/v1/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

func connectedSession(t *testing.T, f *walletstest.Fake) *session.Session {
	t.Helper()
	ctx := context.Background()
	registry := wallets.NewRegistry(ctx, []wallets.Adapter{f}, wallets.BuildOptions{})
	s := session.New(registry, session.Options{})
	t.Cleanup(s.Close)
	require.NoError(t, s.Select(ctx, f.Name()))
	_, err := s.Connect(ctx)
	require.NoError(t, err)
	return s
}

func TestNew_RejectsInsecureURL(t *testing.T) {
	_, err := New("http://auth.example.com", Options{})
	assert.Error(t, err)
}

func TestAuthenticate(t *testing.T) {
	tests := []struct {
		name          string
		siws          bool
		caps          wallets.Capability
		wantSignedMsg bool
		wantSignIns   int32
	}{
		{name: "plain message", siws: false, caps: wallets.CapConnect | wallets.CapSignMessage | wallets.CapSignIn},
		{name: "sign in with solana", siws: true, caps: wallets.CapConnect | wallets.CapSignMessage | wallets.CapSignIn, wantSignedMsg: true},
		{name: "sign in falls back to message signing", siws: true, caps: wallets.CapConnect | wallets.CapSignMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newAuthServer(t, tt.siws)
			f := walletstest.New("Alpha").WithCaps(tt.caps)
			s := connectedSession(t, f)

			client, err := New(server.URL, Options{})
			require.NoError(t, err)

			resp, err := client.Authenticate(context.Background(), s)
			require.NoError(t, err)
			assert.Equal(t, "access-1", resp.AccessToken)
			assert.True(t, client.IsAuthenticated())
			assert.Equal(t, "refresh-1", client.GetRefreshToken())

			require.Len(t, server.logins, 1)
			login := server.logins[0]
			assert.Equal(t, f.Key().PublicKey().String(), login.Address)
			if tt.wantSignedMsg {
				assert.NotEmpty(t, login.SignedMessage)
			} else {
				assert.Empty(t, login.SignedMessage)
				assert.Positive(t, f.SignMessageCalls.Load())
			}
		})
	}
}

func TestAuthenticate_NotConnected(t *testing.T) {
	server := newAuthServer(t, false)
	registry := wallets.NewRegistry(context.Background(), nil, wallets.BuildOptions{})
	s := session.New(registry, session.Options{})

	client, err := New(server.URL, Options{})
	require.NoError(t, err)
	_, err = client.Authenticate(context.Background(), s)
	assert.ErrorIs(t, err, wallets.ErrWalletNotConnected)
}

type badSigner struct{ pk solana.PublicKey }

func (b badSigner) PublicKey() *solana.PublicKey { return &b.pk }

func (b badSigner) SignMessage(ctx context.Context, message []byte) ([]byte, error) {
	return make([]byte, 64), nil
}

func (b badSigner) SignIn(ctx context.Context, input *signin.Input) (*signin.Output, error) {
	return nil, errors.New("unused")
}

func TestAuthenticate_RejectedSignature(t *testing.T) {
	server := newAuthServer(t, false)
	client, err := New(server.URL, Options{})
	require.NoError(t, err)

	_, err = client.Authenticate(context.Background(), badSigner{pk: solana.NewWallet().PublicKey()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to login")
	assert.Contains(t, err.Error(), "invalid signature")

	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.True(t, httpErr.IsUnauthorized())
	assert.False(t, client.IsAuthenticated())
}

func TestGetMeWithAutoRefresh(t *testing.T) {
	server := newAuthServer(t, false)
	client, err := New(server.URL, Options{})
	require.NoError(t, err)

	_, err = client.GetMe(context.Background())
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	client.SetTokens("stale", "refresh-1")
	user, err := client.GetMeWithAutoRefresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "me", user.WalletAddress)
	assert.Equal(t, 1, server.refreshN)
	assert.Equal(t, "access-2", client.GetAccessToken())
	assert.Equal(t, "refresh-2", client.GetRefreshToken())
}

func TestTokensPersistAndLogout(t *testing.T) {
	server := newAuthServer(t, false)
	store := storage.NewMemoryStore()

	first, err := New(server.URL, Options{Store: store})
	require.NoError(t, err)
	first.SetTokens("access-1", "refresh-1")

	second, err := New(server.URL+"/", Options{Store: store})
	require.NoError(t, err)
	assert.Equal(t, "access-1", second.GetAccessToken())

	require.NoError(t, second.Logout(context.Background()))
	assert.False(t, second.IsAuthenticated())
	_, ok, _ := store.Get(DefaultTokenKey)
	assert.False(t, ok)

	assert.ErrorIs(t, second.Logout(context.Background()), ErrNotAuthenticated)
}

func TestHTTPError(t *testing.T) {
	tests := []struct {
		name string
		err  HTTPError
		want string
	}{
		{"no body", HTTPError{StatusCode: 500, Status: "500 Internal Server Error"}, "HTTP 500: 500 Internal Server Error"},
		{"json error", HTTPError{StatusCode: 401, Body: []byte(`{"error":"expired"}`)}, "HTTP 401: expired"},
		{"json details", HTTPError{StatusCode: 400, Body: []byte(`{"error":"bad","details":"nonce"}`)}, "HTTP 400: bad - nonce"},
		{"plain body", HTTPError{StatusCode: 403, Status: "403 Forbidden", Body: []byte("nope")}, "HTTP 403: 403 Forbidden - nope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
	assert.True(t, (&HTTPError{StatusCode: 403}).IsForbidden())
}
