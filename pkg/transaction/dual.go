package transaction

import (
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// Dual is a transaction of either shape, tagged at construction
type Dual struct {
	arch   Architecture
	legacy *solana.Transaction
	kit    *KitTransaction
}

// Architecture returns the detected shape
func (d *Dual) Architecture() Architecture {
	return d.arch
}

// Legacy returns the wrapped legacy transaction, or nil for kit transactions
func (d *Dual) Legacy() *solana.Transaction {
	return d.legacy
}

// Kit returns the wrapped kit transaction, or nil for legacy transactions
func (d *Dual) Kit() *KitTransaction {
	return d.kit
}

// Value returns the wrapped transaction in the caller's shape
func (d *Dual) Value() any {
	if d.arch == Kit {
		return d.kit
	}
	return d.legacy
}

// MessageBytes returns the bytes signers sign
func (d *Dual) MessageBytes() ([]byte, error) {
	if d.arch == Kit {
		return d.kit.MessageBytes, nil
	}
	msg, err := d.legacy.Message.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}
	return msg, nil
}

// Signers returns the required signers in signature-slot order
func (d *Dual) Signers() ([]solana.PublicKey, error) {
	if d.arch == Kit {
		return d.kit.Signers()
	}
	return requiredSigners(&d.legacy.Message), nil
}

// FeePayer returns the first required signer
func (d *Dual) FeePayer() (solana.PublicKey, error) {
	signers, err := d.Signers()
	if err != nil {
		return solana.PublicKey{}, err
	}
	if len(signers) == 0 {
		return solana.PublicKey{}, fmt.Errorf("transaction has no signers")
	}
	return signers[0], nil
}

// Signature returns the signature recorded for pk, if any
func (d *Dual) Signature(pk solana.PublicKey) (solana.Signature, bool) {
	if d.arch == Kit {
		sig := d.kit.Signatures[pk]
		if sig == nil {
			return solana.Signature{}, false
		}
		return *sig, true
	}

	for i, signer := range requiredSigners(&d.legacy.Message) {
		if signer.Equals(pk) && i < len(d.legacy.Signatures) {
			sig := d.legacy.Signatures[i]
			if sig == (solana.Signature{}) {
				return solana.Signature{}, false
			}
			return sig, true
		}
	}
	return solana.Signature{}, false
}

// SetSignature records sig in pk's slot
func (d *Dual) SetSignature(pk solana.PublicKey, sig solana.Signature) error {
	if d.arch == Kit {
		return d.kit.setSignature(pk, sig)
	}

	signers := requiredSigners(&d.legacy.Message)
	for i, signer := range signers {
		if !signer.Equals(pk) {
			continue
		}
		if len(d.legacy.Signatures) < len(signers) {
			padded := make([]solana.Signature, len(signers))
			copy(padded, d.legacy.Signatures)
			d.legacy.Signatures = padded
		}
		d.legacy.Signatures[i] = sig
		return nil
	}
	return fmt.Errorf("%w: %s", ErrNotASigner, pk)
}

// IsSigned reports whether every required signer has signed
func (d *Dual) IsSigned() bool {
	signers, err := d.Signers()
	if err != nil {
		return false
	}
	for _, pk := range signers {
		if _, ok := d.Signature(pk); !ok {
			return false
		}
	}
	return true
}

// VerifySignatures checks every recorded signature against the message
func (d *Dual) VerifySignatures() error {
	msg, err := d.MessageBytes()
	if err != nil {
		return err
	}
	signers, err := d.Signers()
	if err != nil {
		return err
	}
	for _, pk := range signers {
		sig, ok := d.Signature(pk)
		if !ok {
			continue
		}
		if !sig.Verify(pk, msg) {
			return fmt.Errorf("invalid signature for %s", pk)
		}
	}
	return nil
}

// RecentBlockhash returns the blockhash the message was compiled against
func (d *Dual) RecentBlockhash() (solana.Hash, error) {
	if d.arch == Kit {
		msg, err := d.kit.decodeMessage()
		if err != nil {
			return solana.Hash{}, err
		}
		return msg.RecentBlockhash, nil
	}
	return d.legacy.Message.RecentBlockhash, nil
}

// SetRecentBlockhash replaces the blockhash of a legacy transaction.
// Existing signatures are dropped because they no longer cover the message.
func (d *Dual) SetRecentBlockhash(hash solana.Hash) error {
	if d.arch == Kit {
		return ErrImmutableMessage
	}
	d.legacy.Message.RecentBlockhash = hash
	d.legacy.Signatures = nil
	return nil
}

// WireBytes serialises the transaction; unsigned slots are zero-filled
func (d *Dual) WireBytes() ([]byte, error) {
	if d.arch == Kit {
		return d.kit.WireBytes()
	}

	signers := requiredSigners(&d.legacy.Message)
	tx := *d.legacy
	tx.Signatures = make([]solana.Signature, len(signers))
	copy(tx.Signatures, d.legacy.Signatures)

	wire, err := tx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize transaction: %w", err)
	}
	return wire, nil
}

// Clone returns a deep copy so a signer can fill slots without touching the input
func (d *Dual) Clone() (*Dual, error) {
	wire, err := d.WireBytes()
	if err != nil {
		return nil, err
	}
	return FromWire(d.arch, wire)
}

func requiredSigners(msg *solana.Message) []solana.PublicKey {
	n := int(msg.Header.NumRequiredSignatures)
	if n > len(msg.AccountKeys) {
		n = len(msg.AccountKeys)
	}
	out := make([]solana.PublicKey, n)
	copy(out, msg.AccountKeys[:n])
	return out
}

func decodeMessage(raw []byte) (*solana.Message, error) {
	var msg solana.Message
	if err := msg.UnmarshalWithDecoder(bin.NewBinDecoder(raw)); err != nil {
		return nil, fmt.Errorf("failed to decode message: %w", err)
	}
	return &msg, nil
}
