package standard

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/mr-tron/base58"

	"github.com/sigweihq/solconnect/pkg/signin"
	"github.com/sigweihq/solconnect/pkg/utils"
	"github.com/sigweihq/solconnect/pkg/wallets"
)

// WalletInfo is an entry of a remote wallet directory
type WalletInfo struct {
	Name     string   `json:"name"`
	Icon     string   `json:"icon,omitempty"`
	URL      string   `json:"url,omitempty"`
	Version  string   `json:"version,omitempty"`
	Chains   []string `json:"chains"`
	Features []string `json:"features"`

	// Endpoint is the base URL feature calls are posted to
	Endpoint string `json:"endpoint"`
}

type directoryResponse struct {
	Wallets []WalletInfo `json:"wallets"`
}

// RemoteDiscoverer lists signer wallets published by an HTTP directory
// GET {directoryURL} -> {"wallets": [...]}
type RemoteDiscoverer struct {
	directoryURL string
	httpClient   *http.Client
	logger       *slog.Logger
}

// NewRemoteDiscoverer validates directoryURL; a nil client gets the default timeouts
func NewRemoteDiscoverer(directoryURL string, httpClient *http.Client, logger *slog.Logger) (*RemoteDiscoverer, error) {
	if err := utils.ValidateServiceURL(directoryURL); err != nil {
		return nil, err
	}
	if httpClient == nil {
		httpClient = utils.CreateHTTPClientWithTimeouts(0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RemoteDiscoverer{
		directoryURL: directoryURL,
		httpClient:   httpClient,
		logger:       logger,
	}, nil
}

// Wallets fetches the directory. Entries with an insecure or missing endpoint
// are skipped.
func (d *RemoteDiscoverer) Wallets(ctx context.Context) ([]Wallet, error) {
	resp, err := utils.MakeJSONRequest[directoryResponse](ctx, d.httpClient, http.MethodGet, d.directoryURL, nil, nil, "directory")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch wallet directory: %w", err)
	}

	out := make([]Wallet, 0, len(resp.Wallets))
	for _, info := range resp.Wallets {
		if info.Name == "" {
			d.logger.Warn("skipping unnamed remote wallet")
			continue
		}
		if err := utils.ValidateServiceURL(info.Endpoint); err != nil {
			d.logger.Warn("skipping remote wallet", "wallet", info.Name, "error", err)
			continue
		}
		out = append(out, NewRemoteWallet(info, d.httpClient))
	}
	return out, nil
}

// RemoteWallet is a standard wallet whose features are HTTP JSON calls
type RemoteWallet struct {
	info       WalletInfo
	httpClient *http.Client

	mu       sync.RWMutex
	accounts []Account
}

// NewRemoteWallet creates a wallet for info; the endpoint is not validated here
func NewRemoteWallet(info WalletInfo, httpClient *http.Client) *RemoteWallet {
	if httpClient == nil {
		httpClient = utils.CreateHTTPClientWithTimeouts(0)
	}
	info.Endpoint = strings.TrimRight(info.Endpoint, "/")
	return &RemoteWallet{info: info, httpClient: httpClient}
}

func (w *RemoteWallet) Name() string { return w.info.Name }
func (w *RemoteWallet) Icon() string { return w.info.Icon }
func (w *RemoteWallet) URL() string { return w.info.URL }
func (w *RemoteWallet) Version() string { return w.info.Version }
func (w *RemoteWallet) Chains() []string { return w.info.Chains }
func (w *RemoteWallet) Features() []string { return w.info.Features }

func (w *RemoteWallet) Accounts() []Account {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]Account(nil), w.accounts...)
}

func (w *RemoteWallet) url(path string) string {
	return w.info.Endpoint + path
}

type connectResponse struct {
	Accounts []Account `json:"accounts"`
}

// Connect POST {endpoint}/connect {"silent": bool} -> {"accounts": [...]}
func (w *RemoteWallet) Connect(ctx context.Context, silent bool) ([]Account, error) {
	resp, err := utils.MakeJSONRequest[connectResponse](ctx, w.httpClient, http.MethodPost, w.url("/connect"),
		map[string]any{"silent": silent}, nil, "connect")
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	w.accounts = resp.Accounts
	w.mu.Unlock()
	return resp.Accounts, nil
}

// Disconnect POST {endpoint}/disconnect
func (w *RemoteWallet) Disconnect(ctx context.Context) error {
	w.mu.Lock()
	w.accounts = nil
	w.mu.Unlock()

	_, err := utils.MakeJSONRequest[struct{}](ctx, w.httpClient, http.MethodPost, w.url("/disconnect"), map[string]any{}, nil, "disconnect")
	return err
}

type signMessageRequest struct {
	Address string `json:"address"`
	Message []byte `json:"message"`
}

type signMessageResponse struct {
	Signature []byte `json:"signature"`
}

// SignMessage POST {endpoint}/sign-message
func (w *RemoteWallet) SignMessage(ctx context.Context, account Account, message []byte) ([]byte, error) {
	resp, err := utils.MakeJSONRequest[signMessageResponse](ctx, w.httpClient, http.MethodPost, w.url("/sign-message"),
		signMessageRequest{Address: account.Address, Message: message}, nil, "signMessage")
	if err != nil {
		return nil, err
	}
	return resp.Signature, nil
}

type sendOptions struct {
	SkipPreflight       bool    `json:"skipPreflight,omitempty"`
	PreflightCommitment string  `json:"preflightCommitment,omitempty"`
	MaxRetries          *uint   `json:"maxRetries,omitempty"`
	MinContextSlot      *uint64 `json:"minContextSlot,omitempty"`
}

type transactionRequest struct {
	Address     string       `json:"address"`
	Chain       string       `json:"chain"`
	Transaction []byte       `json:"transaction"`
	Options     *sendOptions `json:"options,omitempty"`
}

type signTransactionsRequest struct {
	Address      string   `json:"address"`
	Chain        string   `json:"chain"`
	Transactions [][]byte `json:"transactions"`
}

type signTransactionsResponse struct {
	Transactions [][]byte `json:"transactions"`
}

// SignTransactions POST {endpoint}/sign-transaction with every transaction in
// one request; transactions travel as base64 wire bytes
func (w *RemoteWallet) SignTransactions(ctx context.Context, account Account, chain string, wires [][]byte) ([][]byte, error) {
	resp, err := utils.MakeJSONRequest[signTransactionsResponse](ctx, w.httpClient, http.MethodPost, w.url("/sign-transaction"),
		signTransactionsRequest{Address: account.Address, Chain: chain, Transactions: wires}, nil, "signTransaction")
	if err != nil {
		return nil, err
	}
	return resp.Transactions, nil
}

type sendResponse struct {
	Signature string `json:"signature"`
}

// SignAndSendTransaction POST {endpoint}/sign-and-send-transaction -> {"signature": base58}
func (w *RemoteWallet) SignAndSendTransaction(ctx context.Context, account Account, chain string, wire []byte, opts wallets.SendOptions) ([]byte, error) {
	req := transactionRequest{
		Address:     account.Address,
		Chain:       chain,
		Transaction: wire,
		Options: &sendOptions{
			SkipPreflight:       opts.SkipPreflight,
			PreflightCommitment: string(opts.PreflightCommitment),
			MaxRetries:          opts.MaxRetries,
			MinContextSlot:      opts.MinContextSlot,
		},
	}
	resp, err := utils.MakeJSONRequest[sendResponse](ctx, w.httpClient, http.MethodPost, w.url("/sign-and-send-transaction"),
		req, nil, "signAndSendTransaction")
	if err != nil {
		return nil, err
	}

	sig, err := base58.Decode(resp.Signature)
	if err != nil {
		return nil, fmt.Errorf("invalid signature in response: %w", err)
	}
	return sig, nil
}

// SignIn POST {endpoint}/sign-in
func (w *RemoteWallet) SignIn(ctx context.Context, input signin.Input) (*signin.Output, error) {
	out, err := utils.MakeJSONRequest[signin.Output](ctx, w.httpClient, http.MethodPost, w.url("/sign-in"), input, nil, "signIn")
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	if len(w.accounts) == 0 {
		w.accounts = []Account{{Address: out.Account.Address, PublicKey: out.Account.PublicKey}}
	}
	w.mu.Unlock()
	return out, nil
}

var (
	_ Wallet            = (*RemoteWallet)(nil)
	_ Connector         = (*RemoteWallet)(nil)
	_ Disconnector      = (*RemoteWallet)(nil)
	_ MessageSigner     = (*RemoteWallet)(nil)
	_ TransactionSigner = (*RemoteWallet)(nil)
	_ TransactionSender = (*RemoteWallet)(nil)
	_ SignInSigner      = (*RemoteWallet)(nil)
	_ HomepageProvider  = (*RemoteWallet)(nil)
	_ Discoverer        = (*RemoteDiscoverer)(nil)
)
