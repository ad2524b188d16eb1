package wallets

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/sigweihq/solconnect/pkg/constants"
	"github.com/sigweihq/solconnect/pkg/environment"
)

// Discoverer finds wallets available at runtime, already wrapped as adapters
type Discoverer interface {
	Discover(ctx context.Context) ([]Adapter, error)
}

// DiscovererFunc adapts a function to Discoverer
type DiscovererFunc func(ctx context.Context) ([]Adapter, error)

func (f DiscovererFunc) Discover(ctx context.Context) ([]Adapter, error) {
	return f(ctx)
}

// MobileFactory builds the mobile wallet adapter for an RPC endpoint
type MobileFactory func(endpoint string) (Adapter, error)

// BuildOptions configure BuildAdapterList
type BuildOptions struct {
	// Endpoint is the RPC endpoint; the mobile adapter is only offered when set
	Endpoint string

	// UserAgent is the client's user agent, used to detect mobile web
	UserAgent string

	Discoverer    Discoverer
	MobileFactory MobileFactory

	// DiscoveryTimeout bounds discovery; zero uses constants.DiscoveryTimeout
	DiscoveryTimeout time.Duration

	Logger *slog.Logger
}

// BuildAdapterList assembles the ranked adapter list: explicit adapters, then
// discovered wallets, then the mobile adapter when running on mobile web.
// Names are unique with the first occurrence winning, and the result is stably
// sorted by ready state rank. Discovery problems are logged, never returned.
func BuildAdapterList(ctx context.Context, explicit []Adapter, opts BuildOptions) []*Wallet {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	adapters := make([]Adapter, 0, len(explicit))
	for _, a := range explicit {
		if a != nil {
			adapters = append(adapters, a)
		}
	}

	if opts.Discoverer != nil {
		discovered, err := discover(ctx, opts.Discoverer, opts.DiscoveryTimeout)
		if err != nil {
			logger.Warn("wallet discovery failed, using explicit adapters only", "error", err)
		} else {
			for _, a := range discovered {
				if a != nil {
					adapters = append(adapters, a)
				}
			}
		}
	}

	if opts.Endpoint != "" && opts.MobileFactory != nil &&
		environment.Classify(statuses(adapters), opts.UserAgent) == environment.MobileWeb {
		mobile, err := opts.MobileFactory(opts.Endpoint)
		if err != nil {
			logger.Warn("failed to create mobile wallet adapter", "endpoint", opts.Endpoint, "error", err)
		} else if mobile != nil {
			adapters = append(adapters, mobile)
		}
	}

	seen := make(map[WalletName]struct{}, len(adapters))
	out := make([]*Wallet, 0, len(adapters))
	for _, a := range adapters {
		name := a.Name()
		if _, dup := seen[name]; dup {
			logger.Debug("dropping duplicate wallet adapter", "wallet", name)
			continue
		}
		seen[name] = struct{}{}
		out = append(out, NewWallet(a))
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ReadyState.Rank() < out[j].ReadyState.Rank()
	})
	return out
}

func discover(ctx context.Context, d Discoverer, timeout time.Duration) ([]Adapter, error) {
	if timeout <= 0 {
		timeout = constants.DiscoveryTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		adapters []Adapter
		err      error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- result{err: fmt.Errorf("discoverer panicked: %v", r)}
			}
		}()
		adapters, err := d.Discover(ctx)
		ch <- result{adapters: adapters, err: err}
	}()

	select {
	case r := <-ch:
		return r.adapters, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("discovery timed out: %w", ctx.Err())
	}
}

func statuses(adapters []Adapter) []environment.AdapterStatus {
	out := make([]environment.AdapterStatus, len(adapters))
	for i, a := range adapters {
		out[i] = environment.AdapterStatus{Name: a.Name(), Installed: a.ReadyState() == Installed}
	}
	return out
}

// Registry holds the current adapter list for one session
type Registry struct {
	explicit []Adapter
	opts     BuildOptions

	wallets []*Wallet
	byName  map[WalletName]*Wallet
	mu      sync.RWMutex
}

// NewRegistry builds the initial list from explicit adapters and discovery
func NewRegistry(ctx context.Context, explicit []Adapter, opts BuildOptions) *Registry {
	r := &Registry{
		explicit: explicit,
		opts:     opts,
	}
	r.Refresh(ctx)
	return r
}

// Refresh rebuilds the list, picking up newly discovered wallets and ready
// state changes. Every entry is new; a session keeps the entry it connected
// until that connection ends.
func (r *Registry) Refresh(ctx context.Context) []*Wallet {
	list := BuildAdapterList(ctx, r.explicit, r.opts)

	byName := make(map[WalletName]*Wallet, len(list))
	for _, w := range list {
		byName[w.Name()] = w
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.wallets = list
	r.byName = byName
	return list
}

// Get retrieves a wallet by name
func (r *Registry) Get(name WalletName) (*Wallet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	w, exists := r.byName[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrWalletNotFound, name)
	}
	return w, nil
}

// List returns the ranked wallet list
func (r *Registry) List() []*Wallet {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Wallet, len(r.wallets))
	copy(out, r.wallets)
	return out
}

// Names returns wallet names in display order
func (r *Registry) Names() []WalletName {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]WalletName, len(r.wallets))
	for i, w := range r.wallets {
		names[i] = w.Name()
	}
	return names
}

// IsRegistered checks if a wallet name is in the current list
func (r *Registry) IsRegistered(name WalletName) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.byName[name]
	return exists
}
