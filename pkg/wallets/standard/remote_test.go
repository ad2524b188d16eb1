package standard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigweihq/solconnect/pkg/constants"
	"github.com/sigweihq/solconnect/pkg/signin"
	"github.com/sigweihq/solconnect/pkg/transaction"
	"github.com/sigweihq/solconnect/pkg/wallets"
)

// newSignerServer serves a wallet directory and one remote signer backed by
// key; the counter tracks sign-transaction requests
func newSignerServer(t *testing.T, key solana.PrivateKey) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	signCalls := new(atomic.Int32)
	pk := key.PublicKey()
	account := Account{Address: pk.String(), PublicKey: pk, Chains: []string{constants.ChainDevnet}}

	mux := http.NewServeMux()
	var server *httptest.Server

	writeJSON := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	}

	mux.HandleFunc("/wallets", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, directoryResponse{Wallets: []WalletInfo{
			{
				Name:     "Vault",
				URL:      "https://vault.example.com",
				Chains:   []string{constants.ChainDevnet},
				Features: allFeatures,
				Endpoint: server.URL + "/vault/",
			},
			{Name: "Insecure", Chains: []string{constants.ChainDevnet}, Features: allFeatures, Endpoint: "http://vault.example.com"},
			{Name: "", Endpoint: server.URL},
			{Name: "ViewOnly", Chains: []string{constants.ChainDevnet}, Features: []string{constants.FeatureConnect}, Endpoint: server.URL + "/vault"},
		}})
	})
	mux.HandleFunc("/vault/connect", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, connectResponse{Accounts: []Account{account}})
	})
	mux.HandleFunc("/vault/disconnect", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/vault/sign-message", func(w http.ResponseWriter, r *http.Request) {
		var req signMessageRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, pk.String(), req.Address)
		sig, err := key.Sign(req.Message)
		require.NoError(t, err)
		writeJSON(w, signMessageResponse{Signature: sig[:]})
	})
	signWire := func(wire []byte) *transaction.Dual {
		d, err := transaction.FromWire(transaction.Legacy, wire)
		require.NoError(t, err)
		require.NoError(t, transaction.SignWith(d, key))
		return d
	}
	mux.HandleFunc("/vault/sign-transaction", func(w http.ResponseWriter, r *http.Request) {
		signCalls.Add(1)
		var req signTransactionsRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, constants.ChainDevnet, req.Chain)
		var resp signTransactionsResponse
		for _, wire := range req.Transactions {
			signed, err := signWire(wire).WireBytes()
			require.NoError(t, err)
			resp.Transactions = append(resp.Transactions, signed)
		}
		writeJSON(w, resp)
	})
	mux.HandleFunc("/vault/sign-and-send-transaction", func(w http.ResponseWriter, r *http.Request) {
		var req transactionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotNil(t, req.Options)
		assert.True(t, req.Options.SkipPreflight)
		sig, _ := signWire(req.Transaction).Signature(pk)
		writeJSON(w, sendResponse{Signature: base58.Encode(sig[:])})
	})
	mux.HandleFunc("/vault/sign-in", func(w http.ResponseWriter, r *http.Request) {
		var in signin.Input
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		out, err := signin.Sign(in, key, testNowRemote)
		require.NoError(t, err)
		writeJSON(w, out)
	})

	server = httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, signCalls
}

var testNowRemote = signinClock()

func TestRemoteDiscoverer(t *testing.T) {
	key := solana.NewWallet().PrivateKey
	server, _ := newSignerServer(t, key)

	d, err := NewRemoteDiscoverer(server.URL+"/wallets", nil, nil)
	require.NoError(t, err)

	found, err := d.Wallets(context.Background())
	require.NoError(t, err)
	require.Len(t, found, 2, "insecure and unnamed entries are skipped")
	assert.Equal(t, "Vault", found[0].Name())
	assert.Equal(t, "ViewOnly", found[1].Name())

	adapters, err := NewSource(d, "https://api.devnet.solana.com", nil).Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, adapters, 1, "view-only wallet is not adapter compatible")
	assert.Equal(t, "https://vault.example.com", adapters[0].URL())
}

func TestNewRemoteDiscovererRejectsHTTP(t *testing.T) {
	_, err := NewRemoteDiscoverer("http://wallets.example.com", nil, nil)
	assert.Error(t, err)
}

func TestRemoteWalletFeatures(t *testing.T) {
	key := solana.NewWallet().PrivateKey
	server, signCalls := newSignerServer(t, key)
	ctx := context.Background()

	remote := NewRemoteWallet(WalletInfo{
		Name:     "Vault",
		Chains:   []string{constants.ChainDevnet},
		Features: allFeatures,
		Endpoint: server.URL + "/vault",
	}, nil)
	a, err := NewAdapter(remote, constants.ChainDevnet)
	require.NoError(t, err)

	require.NoError(t, a.Connect(ctx))
	require.NotNil(t, a.PublicKey())
	assert.Equal(t, key.PublicKey(), *a.PublicKey())
	assert.Len(t, remote.Accounts(), 1)

	sig, err := a.SignMessage(ctx, []byte("remote hello"))
	require.NoError(t, err)
	assert.True(t, solana.SignatureFromBytes(sig).Verify(key.PublicKey(), []byte("remote hello")))

	tx, err := solana.NewTransaction(
		[]solana.Instruction{system.NewTransferInstruction(1, key.PublicKey(), solana.NewWallet().PublicKey()).Build()},
		solana.Hash{8},
		solana.TransactionPayer(key.PublicKey()),
	)
	require.NoError(t, err)
	kit, err := transaction.KitFromLegacy(tx)
	require.NoError(t, err)
	d, err := transaction.From(kit)
	require.NoError(t, err)

	signed, err := a.SignTransaction(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, transaction.Kit, signed.Architecture())
	require.NoError(t, signed.VerifySignatures())
	assert.True(t, signed.IsSigned())
	assert.EqualValues(t, 1, signCalls.Load())

	second, err := transaction.From(tx)
	require.NoError(t, err)
	batch, err := a.SignAllTransactions(ctx, []*transaction.Dual{d, second})
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, transaction.Kit, batch[0].Architecture())
	assert.Equal(t, transaction.Legacy, batch[1].Architecture())
	assert.EqualValues(t, 2, signCalls.Load())

	legacy, err := transaction.From(tx)
	require.NoError(t, err)
	txSig, err := a.SignAndSendTransaction(ctx, legacy, wallets.SendOptions{SkipPreflight: true})
	require.NoError(t, err)
	msg, err := legacy.MessageBytes()
	require.NoError(t, err)
	assert.True(t, txSig.Verify(key.PublicKey(), msg))

	in := signin.Input{Domain: "example.com", Nonce: "abc12345"}
	out, err := a.SignIn(ctx, &in)
	require.NoError(t, err)
	require.NoError(t, signin.VerifyAt(in, out, testNowRemote))

	require.NoError(t, a.Disconnect(ctx))
	assert.Nil(t, a.PublicKey())
	assert.Empty(t, remote.Accounts())
}

func TestRemoteWalletErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"user rejected"}`, http.StatusForbidden)
	}))
	defer server.Close()

	remote := NewRemoteWallet(WalletInfo{Name: "Vault", Endpoint: server.URL}, nil)
	_, err := remote.Connect(context.Background(), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}
