package standard

import (
	"context"
	"log/slog"

	"github.com/sigweihq/solconnect/pkg/environment"
	"github.com/sigweihq/solconnect/pkg/wallets"
)

// Discoverer lists the standard wallets registered in the current runtime
type Discoverer interface {
	Wallets(ctx context.Context) ([]Wallet, error)
}

// StaticDiscoverer always returns the same wallets
type StaticDiscoverer []Wallet

func (s StaticDiscoverer) Wallets(ctx context.Context) ([]Wallet, error) {
	return s, nil
}

// Source turns a Discoverer into a wallets.Discoverer, wrapping every
// compatible wallet and skipping the rest
type Source struct {
	discoverer Discoverer
	chain      string
	logger     *slog.Logger
}

// NewSource binds discovery to the chain inferred from endpoint
func NewSource(d Discoverer, endpoint string, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{
		discoverer: d,
		chain:      environment.InferNetwork(endpoint).Chain(),
		logger:     logger,
	}
}

// Discover implements wallets.Discoverer
func (s *Source) Discover(ctx context.Context) ([]wallets.Adapter, error) {
	found, err := s.discoverer.Wallets(ctx)
	if err != nil {
		return nil, err
	}

	adapters := make([]wallets.Adapter, 0, len(found))
	for _, w := range found {
		a, err := NewAdapter(w, s.chain)
		if err != nil {
			s.logger.Info("skipping incompatible wallet", "error", err)
			continue
		}
		adapters = append(adapters, a)
	}
	return adapters, nil
}

var _ wallets.Discoverer = (*Source)(nil)
