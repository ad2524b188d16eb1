// Package transaction normalises the two transaction shapes callers may hand
// to a wallet session: legacy solana-go transactions and kit transactions
// (compiled message bytes plus a signature map). The shape is detected once,
// when a value enters the package, and carried as a tag from then on.
package transaction

import (
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// Architecture identifies a transaction shape
type Architecture int

const (
	Legacy Architecture = iota + 1
	Kit
)

func (a Architecture) String() string {
	switch a {
	case Legacy:
		return "legacy"
	case Kit:
		return "kit"
	default:
		return "unknown"
	}
}

var (
	// ErrUnknownShape is returned for values that are neither shape
	ErrUnknownShape = errors.New("unrecognised transaction shape")

	// ErrArchitectureMismatch is returned when a batch mixes shapes
	ErrArchitectureMismatch = errors.New("transaction architecture mismatch")

	// ErrNotASigner is returned when a key is not a required signer of the message
	ErrNotASigner = errors.New("key is not a required signer")

	// ErrImmutableMessage is returned when mutating the message of a kit transaction
	ErrImmutableMessage = errors.New("kit transaction message bytes are immutable")
)

// ArchitectureMismatchError reports the first element of a batch whose shape
// differs from the first element's
type ArchitectureMismatchError struct {
	Index    int
	Expected Architecture
	Got      Architecture
}

func (e *ArchitectureMismatchError) Error() string {
	return fmt.Sprintf("transaction %d is %s, batch is %s", e.Index, e.Got, e.Expected)
}

// Is matches ErrArchitectureMismatch
func (e *ArchitectureMismatchError) Is(target error) bool {
	return target == ErrArchitectureMismatch
}

// KitShape is the structural contract of a kit transaction: the exact message
// bytes to sign and one signature slot per required signer
type KitShape interface {
	CompiledMessage() []byte
	SignatureMap() map[solana.PublicKey]*solana.Signature
}

// Detect reports the shape of tx without converting it
func Detect(tx any) (Architecture, error) {
	switch v := tx.(type) {
	case *Dual:
		if !v.valid() {
			return 0, ErrUnknownShape
		}
		return v.arch, nil
	case *solana.Transaction:
		if v == nil {
			return 0, ErrUnknownShape
		}
		return Legacy, nil
	case solana.Transaction:
		return Legacy, nil
	case KitTransaction:
		return Kit, nil
	case KitShape:
		if isNil(v) {
			return 0, ErrUnknownShape
		}
		return Kit, nil
	default:
		return 0, fmt.Errorf("%w: %T", ErrUnknownShape, tx)
	}
}

// valid reports whether d carries the payload its tag names. A zero Dual
// does not.
func (d *Dual) valid() bool {
	if d == nil {
		return false
	}
	switch d.arch {
	case Legacy:
		return d.legacy != nil
	case Kit:
		return d.kit != nil
	}
	return false
}

func isNil(v KitShape) bool {
	k, ok := v.(*KitTransaction)
	return ok && k == nil
}

// From wraps tx in a Dual. A *Dual is returned unchanged.
func From(tx any) (*Dual, error) {
	arch, err := Detect(tx)
	if err != nil {
		return nil, err
	}

	switch v := tx.(type) {
	case *Dual:
		return v, nil
	case *solana.Transaction:
		return &Dual{arch: arch, legacy: v}, nil
	case solana.Transaction:
		return &Dual{arch: arch, legacy: &v}, nil
	case KitTransaction:
		return &Dual{arch: arch, kit: &v}, nil
	case *KitTransaction:
		return &Dual{arch: arch, kit: v}, nil
	case KitShape:
		return &Dual{arch: arch, kit: &KitTransaction{
			MessageBytes: v.CompiledMessage(),
			Signatures:   v.SignatureMap(),
		}}, nil
	}
	return nil, ErrUnknownShape
}

// FromBatch wraps every element, failing before returning anything if the
// batch is empty of known shapes or mixes legacy and kit transactions
func FromBatch(txs []any) ([]*Dual, Architecture, error) {
	if len(txs) == 0 {
		return nil, 0, nil
	}

	expected, err := Detect(txs[0])
	if err != nil {
		return nil, 0, fmt.Errorf("transaction 0: %w", err)
	}
	for i := 1; i < len(txs); i++ {
		arch, err := Detect(txs[i])
		if err != nil {
			return nil, 0, fmt.Errorf("transaction %d: %w", i, err)
		}
		if arch != expected {
			return nil, 0, &ArchitectureMismatchError{Index: i, Expected: expected, Got: arch}
		}
	}

	out := make([]*Dual, len(txs))
	for i, tx := range txs {
		d, err := From(tx)
		if err != nil {
			return nil, 0, fmt.Errorf("transaction %d: %w", i, err)
		}
		out[i] = d
	}
	return out, expected, nil
}

// Values unwraps a batch back to the caller's shape
func Values(ds []*Dual) []any {
	out := make([]any, len(ds))
	for i, d := range ds {
		out[i] = d.Value()
	}
	return out
}

// FromWire rebuilds a transaction of the given shape from its wire encoding
func FromWire(arch Architecture, wire []byte) (*Dual, error) {
	switch arch {
	case Legacy:
		tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(wire))
		if err != nil {
			return nil, fmt.Errorf("failed to decode transaction: %w", err)
		}
		return &Dual{arch: Legacy, legacy: tx}, nil
	case Kit:
		kit, err := kitFromWire(wire)
		if err != nil {
			return nil, err
		}
		return &Dual{arch: Kit, kit: kit}, nil
	default:
		return nil, ErrUnknownShape
	}
}

// SignWith signs d's message with every key, filling the matching slots.
// Keys that are not required signers fail with ErrNotASigner.
func SignWith(d *Dual, keys ...solana.PrivateKey) error {
	msg, err := d.MessageBytes()
	if err != nil {
		return err
	}

	for _, key := range keys {
		sig, err := key.Sign(msg)
		if err != nil {
			return fmt.Errorf("failed to sign message: %w", err)
		}
		if err := d.SetSignature(key.PublicKey(), sig); err != nil {
			return err
		}
	}
	return nil
}
