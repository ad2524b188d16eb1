// Package cluster is the RPC connection used for submission, confirmation and
// balance, token and NFT queries.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"

	"github.com/sigweihq/solconnect/pkg/constants"
	"github.com/sigweihq/solconnect/pkg/environment"
	"github.com/sigweihq/solconnect/pkg/utils"
	"github.com/sigweihq/solconnect/pkg/wallets"
)

var ErrNoEndpoints = errors.New("no RPC endpoints configured")

// Options configures a Client
type Options struct {
	// HTTPClient defaults to a client with constants.RPCRequestTimeout
	HTTPClient *http.Client

	// MaxRetries bounds read attempts; zero uses constants.MaxRetries
	MaxRetries int

	// Backoff is the base delay between read attempts; zero uses
	// constants.DelayBetweenRPCCalls milliseconds
	Backoff time.Duration

	// PollPeriod is the confirmation polling interval; zero uses
	// constants.ConfirmationPollPeriod
	PollPeriod time.Duration

	Logger *slog.Logger
}

// Client talks to one cluster through one or more RPC endpoints. Reads fail
// over across endpoints starting at a random one; sends go to the primary
// endpoint only and are never retried.
type Client struct {
	network    environment.Network
	endpoints  []string
	rpcs       []*rpc.Client
	maxRetries int
	backoff    time.Duration
	pollPeriod time.Duration
	logger     *slog.Logger
}

// New creates a client over endpoints; the first endpoint is the primary
func New(endpoints []string, opts Options) (*Client, error) {
	if len(endpoints) == 0 {
		return nil, ErrNoEndpoints
	}
	for _, e := range endpoints {
		if err := utils.ValidateServiceURL(e); err != nil {
			return nil, fmt.Errorf("invalid RPC endpoint: %w", err)
		}
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = utils.CreateHTTPClientWithTimeouts(constants.RPCRequestTimeout)
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = constants.MaxRetries
	}
	backoff := opts.Backoff
	if backoff <= 0 {
		backoff = constants.DelayBetweenRPCCalls * time.Millisecond
	}

	pollPeriod := opts.PollPeriod
	if pollPeriod <= 0 {
		pollPeriod = constants.ConfirmationPollPeriod
	}

	rpcs := make([]*rpc.Client, len(endpoints))
	for i, e := range endpoints {
		rpcs[i] = rpc.NewWithCustomRPCClient(jsonrpc.NewClientWithOpts(e, &jsonrpc.RPCClientOpts{
			HTTPClient: httpClient,
		}))
	}

	return &Client{
		network:    environment.InferNetwork(endpoints[0]),
		endpoints:  append([]string(nil), endpoints...),
		rpcs:       rpcs,
		maxRetries: maxRetries,
		backoff:    backoff,
		pollPeriod: pollPeriod,
		logger:     logger,
	}, nil
}

// ForNetwork creates a client over the official endpoints of network
func ForNetwork(network environment.Network, opts Options) (*Client, error) {
	return New(constants.OfficialRPCEndpoints[network.String()], opts)
}

// Network returns the cluster inferred from the primary endpoint
func (c *Client) Network() environment.Network {
	return c.network
}

// Endpoint returns the primary endpoint
func (c *Client) Endpoint() string {
	return c.endpoints[0]
}

func (c *Client) Endpoints() []string {
	return append([]string(nil), c.endpoints...)
}

// read runs fn against the endpoints with linear backoff, cycling from a
// random start
func read[T any](ctx context.Context, c *Client, method string, fn func(context.Context, *rpc.Client) (T, error)) (T, error) {
	var zero T
	startIdx := rand.Intn(len(c.rpcs))
	var lastErr error

	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(attempt)*c.backoff + c.backoff
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(delay):
			}
		}

		idx := (startIdx + attempt) % len(c.rpcs)
		out, err := fn(ctx, c.rpcs[idx])
		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		c.logger.Debug("RPC read failed", "method", method, "endpoint", c.endpoints[idx], "attempt", attempt+1, "error", err)
		lastErr = err
	}

	return zero, fmt.Errorf("all RPC endpoints failed for %s after %d attempts: %w", method, c.maxRetries, lastErr)
}

// GetLatestBlockhash returns a finalized blockhash
func (c *Client) GetLatestBlockhash(ctx context.Context) (solana.Hash, error) {
	return read(ctx, c, "getLatestBlockhash", func(ctx context.Context, r *rpc.Client) (solana.Hash, error) {
		out, err := r.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
		if err != nil {
			return solana.Hash{}, err
		}
		if out == nil || out.Value == nil {
			return solana.Hash{}, fmt.Errorf("empty getLatestBlockhash result")
		}
		return out.Value.Blockhash, nil
	})
}

// SendRawTransaction submits signed wire bytes through the primary endpoint.
// RPC errors are returned unchanged.
func (c *Client) SendRawTransaction(ctx context.Context, wire []byte, opts wallets.SendOptions) (solana.Signature, error) {
	sig, err := c.rpcs[0].SendRawTransactionWithOpts(ctx, wire, rpc.TransactionOpts{
		SkipPreflight:       opts.SkipPreflight,
		PreflightCommitment: opts.PreflightCommitment,
		MaxRetries:          opts.MaxRetries,
		MinContextSlot:      opts.MinContextSlot,
	})
	if err != nil {
		return solana.Signature{}, err
	}
	c.logger.Info("transaction submitted", "signature", sig.String(), "network", c.network.String())
	return sig, nil
}

// RequestAirdrop asks a devnet or testnet faucet for lamports
func (c *Client) RequestAirdrop(ctx context.Context, to solana.PublicKey, lamports uint64) (solana.Signature, error) {
	if strings.Contains(strings.ToLower(c.Endpoint()), "mainnet") {
		return solana.Signature{}, fmt.Errorf("airdrops are not available on %s", c.network)
	}
	return c.rpcs[0].RequestAirdrop(ctx, to, lamports, rpc.CommitmentConfirmed)
}

// IsHealthy reports whether endpoint answers getHealth with "ok"
func (c *Client) IsHealthy(ctx context.Context, endpoint string) bool {
	for i, e := range c.endpoints {
		if e != endpoint {
			continue
		}
		ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		status, err := c.rpcs[i].GetHealth(ctx)
		return err == nil && status == "ok"
	}
	return false
}

// Healthy returns the endpoints currently reporting healthy
func (c *Client) Healthy(ctx context.Context) []string {
	var out []string
	for _, e := range c.endpoints {
		if c.IsHealthy(ctx, e) {
			out = append(out, e)
		}
	}
	return out
}
