package session

import (
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/sigweihq/solconnect/pkg/wallets"
)

// State is the connection lifecycle state of a Session
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Disconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnecting:
		return "disconnecting"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// legalTransitions lists, per source state, the states it may move to.
// A failed connect falls back from Connecting to Disconnected.
var legalTransitions = map[State]map[State]bool{
	Disconnected:  {Connecting: true},
	Connecting:    {Connected: true, Disconnected: true},
	Connected:     {Disconnecting: true},
	Disconnecting: {Disconnected: true},
}

// ValidateTransition reports whether from -> to is a legal move
func ValidateTransition(from, to State) error {
	if !legalTransitions[from][to] {
		return fmt.Errorf("illegal transition from %s to %s", from, to)
	}
	return nil
}

// EventKind identifies what a session Event reports
type EventKind int

const (
	// StateChanged fires on every lifecycle transition
	StateChanged EventKind = iota + 1
	// WalletSelected fires when the selected wallet name changes
	WalletSelected
	// ErrorOccurred reports failures that are not returned to a caller,
	// such as auto-connect and adapter-initiated errors
	ErrorOccurred
)

func (k EventKind) String() string {
	switch k {
	case StateChanged:
		return "state_changed"
	case WalletSelected:
		return "wallet_selected"
	case ErrorOccurred:
		return "error"
	default:
		return "unknown"
	}
}

// Event is delivered to subscribers after the change it describes
type Event struct {
	Kind      EventKind
	State     State
	Previous  State
	Wallet    wallets.WalletName
	PublicKey *solana.PublicKey
	Err       error
}

// Snapshot is a consistent copy of the observable session state
type Snapshot struct {
	State     State
	Wallet    wallets.WalletName
	PublicKey *solana.PublicKey
}

func (s Snapshot) Connecting() bool {
	return s.State == Connecting
}

func (s Snapshot) Connected() bool {
	return s.State == Connected
}

func (s Snapshot) Disconnecting() bool {
	return s.State == Disconnecting
}
