// Package wallets defines the wallet adapter contract, the capability model
// and the registry that builds the ranked adapter list a session selects from.
package wallets

import (
	"context"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/sigweihq/solconnect/pkg/signin"
	"github.com/sigweihq/solconnect/pkg/transaction"
)

// WalletName is the unique key of an adapter
type WalletName = string

// Adapter is a pluggable wallet back-end
type Adapter interface {
	// Name returns the unique wallet name (e.g., "Phantom", "Keypair")
	Name() WalletName

	// Icon returns an icon URL or data URI
	Icon() string

	// URL returns the wallet's homepage
	URL() string

	// ReadyState reports whether the wallet can be connected right now
	ReadyState() ReadyState

	// PublicKey returns the connected account, nil until connected
	PublicKey() *solana.PublicKey

	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
}

// MessageSigner is implemented by adapters that can sign arbitrary bytes
type MessageSigner interface {
	SignMessage(ctx context.Context, message []byte) ([]byte, error)
}

// TransactionSigner is implemented by adapters that sign transactions.
// Implementations return the signed transactions in the input's shape.
type TransactionSigner interface {
	SignTransaction(ctx context.Context, tx *transaction.Dual) (*transaction.Dual, error)
	SignAllTransactions(ctx context.Context, txs []*transaction.Dual) ([]*transaction.Dual, error)
}

// SignInSigner is implemented by adapters supporting Sign-In-With-Solana
type SignInSigner interface {
	SignIn(ctx context.Context, input *signin.Input) (*signin.Output, error)
}

// TransactionSender is implemented by wallets that submit transactions themselves
type TransactionSender interface {
	SignAndSendTransaction(ctx context.Context, tx *transaction.Dual, opts SendOptions) (solana.Signature, error)
}

// CapabilityReporter lets an adapter narrow the capabilities inferred from the
// interfaces it implements, e.g. a wrapper whose wallet lacks a feature
type CapabilityReporter interface {
	Capabilities() Capability
}

// EventSource is implemented by adapters that can change state on their own,
// e.g. when the user disconnects from inside the wallet
type EventSource interface {
	OnEvent(fn func(AdapterEvent)) (unsubscribe func())
}

// AdapterEventKind enumerates adapter-initiated notifications
type AdapterEventKind int

const (
	AdapterConnected AdapterEventKind = iota + 1
	AdapterDisconnected
	AdapterError
	AdapterReadyStateChanged
)

// AdapterEvent is emitted by an EventSource
type AdapterEvent struct {
	Kind       AdapterEventKind
	PublicKey  *solana.PublicKey
	ReadyState ReadyState
	Err        error
}

// SendOptions are passed through to transaction submission
type SendOptions struct {
	SkipPreflight       bool
	PreflightCommitment rpc.CommitmentType
	MaxRetries          *uint
	MinContextSlot      *uint64

	// Signers add partial signatures before the wallet signs
	Signers []solana.PrivateKey
}

// ReadyState describes whether an adapter can be connected
type ReadyState int

// Declaration order is display rank: lower sorts first
const (
	Installed ReadyState = iota
	Loadable
	NotDetected
	Unsupported
)

func (r ReadyState) String() string {
	switch r {
	case Installed:
		return "Installed"
	case Loadable:
		return "Loadable"
	case NotDetected:
		return "NotDetected"
	case Unsupported:
		return "Unsupported"
	default:
		return "Unknown"
	}
}

// Rank is the display rank used when sorting adapter lists
func (r ReadyState) Rank() int {
	return int(r)
}

// Ready reports whether a connection attempt is allowed
func (r ReadyState) Ready() bool {
	return r == Installed || r == Loadable
}

// Capability is a bitmask of optional adapter operations
type Capability uint

const (
	CapConnect Capability = 1 << iota
	CapSignMessage
	CapSignTransaction
	CapSignAllTransactions
	CapSignIn
	CapSignAndSendTransaction
)

var capabilityNames = []struct {
	cap  Capability
	name string
}{
	{CapConnect, "connect"},
	{CapSignMessage, "signMessage"},
	{CapSignTransaction, "signTransaction"},
	{CapSignAllTransactions, "signAllTransactions"},
	{CapSignIn, "signIn"},
	{CapSignAndSendTransaction, "signAndSendTransaction"},
}

func (c Capability) String() string {
	var names []string
	for _, cn := range capabilityNames {
		if c&cn.cap != 0 {
			names = append(names, cn.name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}

// Has reports whether every bit of other is set
func (c Capability) Has(other Capability) bool {
	return c&other == other
}

// DetectCapabilities inspects the optional interfaces a implements, narrowed by
// CapabilityReporter when present
func DetectCapabilities(a Adapter) Capability {
	caps := CapConnect
	if _, ok := a.(MessageSigner); ok {
		caps |= CapSignMessage
	}
	if _, ok := a.(TransactionSigner); ok {
		caps |= CapSignTransaction | CapSignAllTransactions
	}
	if _, ok := a.(SignInSigner); ok {
		caps |= CapSignIn
	}
	if _, ok := a.(TransactionSender); ok {
		caps |= CapSignAndSendTransaction
	}
	if r, ok := a.(CapabilityReporter); ok {
		caps &= r.Capabilities() | CapConnect
	}
	return caps
}

// Wallet is a registry entry. Capabilities are computed once, when the entry
// is created.
type Wallet struct {
	Adapter    Adapter
	ReadyState ReadyState
	caps       Capability
}

// NewWallet wraps an adapter into a registry entry
func NewWallet(a Adapter) *Wallet {
	return &Wallet{
		Adapter:    a,
		ReadyState: a.ReadyState(),
		caps:       DetectCapabilities(a),
	}
}

// Name returns the adapter name
func (w *Wallet) Name() WalletName {
	return w.Adapter.Name()
}

// Capabilities returns the capability set computed at construction
func (w *Wallet) Capabilities() Capability {
	return w.caps
}

// Has reports whether the wallet supports cap
func (w *Wallet) Has(cap Capability) bool {
	return w.caps.Has(cap)
}
