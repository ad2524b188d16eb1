// Package authclient logs a connected wallet into a backend by signing a
// server-issued message.
package authclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"

	"github.com/sigweihq/solconnect/pkg/signin"
	"github.com/sigweihq/solconnect/pkg/storage"
	"github.com/sigweihq/solconnect/pkg/types"
	"github.com/sigweihq/solconnect/pkg/utils"
	"github.com/sigweihq/solconnect/pkg/wallets"
)

// DefaultTokenKey is the storage key tokens are persisted under
const DefaultTokenKey = "authTokens"

var ErrNotAuthenticated = errors.New("not authenticated: no access token")

// Signer is the wallet surface used to authenticate; *session.Session
// satisfies it
type Signer interface {
	PublicKey() *solana.PublicKey
	SignMessage(ctx context.Context, message []byte) ([]byte, error)
	SignIn(ctx context.Context, input *signin.Input) (*signin.Output, error)
}

// Options configures an AuthClient
type Options struct {
	HTTPClient *http.Client

	// Store persists tokens across processes; nil keeps them in memory
	Store    storage.Store
	TokenKey string

	Logger *slog.Logger
}

// AuthClient handles wallet-signature authentication
type AuthClient struct {
	baseURL    string
	httpClient *http.Client
	persisted  *storage.Local[types.TokenPair]
	logger     *slog.Logger

	accessToken  string
	refreshToken string
	tokenMutex   sync.RWMutex
}

// New creates an auth client for baseURL, restoring persisted tokens
func New(baseURL string, opts Options) (*AuthClient, error) {
	if err := utils.ValidateServiceURL(baseURL); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = utils.CreateHTTPClientWithTimeouts(0)
	}
	key := opts.TokenKey
	if key == "" {
		key = DefaultTokenKey
	}

	c := &AuthClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: httpClient,
		persisted:  storage.NewLocal(opts.Store, key, types.TokenPair{}, logger),
		logger:     logger,
	}
	saved := c.persisted.Get()
	c.accessToken = saved.AccessToken
	c.refreshToken = saved.RefreshToken
	return c, nil
}

// GetAuthMessage retrieves the message to sign for walletAddress
// GET /api/v1/auth/message?walletAddress=...
func (c *AuthClient) GetAuthMessage(ctx context.Context, walletAddress string) (*types.MessageResponse, error) {
	u, err := url.Parse(c.baseURL + "/api/v1/auth/message")
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	q := u.Query()
	q.Set("walletAddress", walletAddress)
	u.RawQuery = q.Encode()

	var result types.MessageResponse
	if err := httpRequest(ctx, c.httpClient, http.MethodGet, u.String(), nil, nil, &result); err != nil {
		return nil, fmt.Errorf("failed to get auth message: %w", err)
	}
	return &result, nil
}

// Login exchanges a signed message for tokens
// POST /api/v1/auth/login
func (c *AuthClient) Login(ctx context.Context, req types.AuthRequest) (*types.AuthResponse, error) {
	var result types.AuthResponse
	if err := httpRequest(ctx, c.httpClient, http.MethodPost, c.baseURL+"/api/v1/auth/login", req, nil, &result); err != nil {
		return nil, fmt.Errorf("failed to login: %w", err)
	}

	c.SetTokens(result.AccessToken, result.RefreshToken)
	return &result, nil
}

// Authenticate runs the full login with a connected wallet. A server message
// in Sign In With Solana format goes through SignIn when the wallet supports
// it; anything else is signed as a plain message.
func (c *AuthClient) Authenticate(ctx context.Context, signer Signer) (*types.AuthResponse, error) {
	pk := signer.PublicKey()
	if pk == nil {
		return nil, wallets.ErrWalletNotConnected
	}
	address := pk.String()

	msg, err := c.GetAuthMessage(ctx, address)
	if err != nil {
		return nil, err
	}

	req := types.AuthRequest{Address: address, Message: msg.Message}
	if input, perr := signin.ParseMessage(msg.Message); perr == nil {
		out, err := signer.SignIn(ctx, input)
		switch {
		case err == nil:
			req.Signature = base58.Encode(out.Signature)
			if signed := string(out.SignedMessage); signed != msg.Message {
				req.SignedMessage = signed
			}
		case errors.Is(err, wallets.ErrCapabilityNotSupported):
			c.logger.Debug("wallet cannot sign in, signing message instead", "address", address)
		default:
			return nil, fmt.Errorf("failed to sign in: %w", err)
		}
	}

	if req.Signature == "" {
		sig, err := signer.SignMessage(ctx, []byte(msg.Message))
		if err != nil {
			return nil, fmt.Errorf("failed to sign auth message: %w", err)
		}
		req.Signature = base58.Encode(sig)
	}

	resp, err := c.Login(ctx, req)
	if err != nil {
		return nil, err
	}
	c.logger.Info("authenticated", "address", address)
	return resp, nil
}

// RefreshToken swaps the refresh token for a new pair
// POST /api/v1/auth/refresh
func (c *AuthClient) RefreshToken(ctx context.Context) (*types.TokenPair, error) {
	current := c.GetRefreshToken()
	if current == "" {
		return nil, fmt.Errorf("no refresh token available")
	}

	var result types.TokenPair
	body := types.RefreshRequest{RefreshToken: current}
	if err := httpRequest(ctx, c.httpClient, http.MethodPost, c.baseURL+"/api/v1/auth/refresh", body, nil, &result); err != nil {
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}

	c.SetTokens(result.AccessToken, result.RefreshToken)
	return &result, nil
}

// GetMe returns the authenticated user
// GET /api/v1/auth/me
func (c *AuthClient) GetMe(ctx context.Context) (*types.User, error) {
	headers, err := c.authHeaders()
	if err != nil {
		return nil, err
	}

	var result types.User
	if err := httpRequest(ctx, c.httpClient, http.MethodGet, c.baseURL+"/api/v1/auth/me", nil, headers, &result); err != nil {
		return nil, fmt.Errorf("failed to get user info: %w", err)
	}
	return &result, nil
}

// GetMeWithAutoRefresh retries GetMe once after refreshing an expired token
func (c *AuthClient) GetMeWithAutoRefresh(ctx context.Context) (*types.User, error) {
	user, err := c.GetMe(ctx)
	var httpErr *HTTPError
	if err == nil || !errors.As(err, &httpErr) || !httpErr.IsUnauthorized() {
		return user, err
	}

	if _, refreshErr := c.RefreshToken(ctx); refreshErr != nil {
		return nil, refreshErr
	}
	return c.GetMe(ctx)
}

// Logout invalidates the session server side and forgets the tokens
// POST /api/v1/auth/logout
func (c *AuthClient) Logout(ctx context.Context) error {
	headers, err := c.authHeaders()
	if err != nil {
		return err
	}

	if err := httpRequest(ctx, c.httpClient, http.MethodPost, c.baseURL+"/api/v1/auth/logout", nil, headers, nil); err != nil {
		return fmt.Errorf("failed to logout: %w", err)
	}

	c.ClearTokens()
	return nil
}

func (c *AuthClient) authHeaders() (map[string]string, error) {
	token := c.GetAccessToken()
	if token == "" {
		return nil, ErrNotAuthenticated
	}
	return map[string]string{"Authorization": "Bearer " + token}, nil
}

// SetTokens stores the token pair (thread-safe)
func (c *AuthClient) SetTokens(accessToken, refreshToken string) {
	c.tokenMutex.Lock()
	c.accessToken = accessToken
	c.refreshToken = refreshToken
	c.tokenMutex.Unlock()

	c.persisted.Set(types.TokenPair{AccessToken: accessToken, RefreshToken: refreshToken})
}

func (c *AuthClient) GetAccessToken() string {
	c.tokenMutex.RLock()
	defer c.tokenMutex.RUnlock()
	return c.accessToken
}

func (c *AuthClient) GetRefreshToken() string {
	c.tokenMutex.RLock()
	defer c.tokenMutex.RUnlock()
	return c.refreshToken
}

// ClearTokens forgets both tokens, including persisted copies
func (c *AuthClient) ClearTokens() {
	c.tokenMutex.Lock()
	c.accessToken = ""
	c.refreshToken = ""
	c.tokenMutex.Unlock()

	c.persisted.Remove()
}

func (c *AuthClient) IsAuthenticated() bool {
	return c.GetAccessToken() != ""
}
