package transaction

import (
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// KitTransaction is a compiled transaction: the exact message bytes and one
// signature slot per required signer (nil until signed)
type KitTransaction struct {
	MessageBytes []byte
	Signatures   map[solana.PublicKey]*solana.Signature
}

// NewKit builds a kit transaction with empty slots for every required signer
func NewKit(messageBytes []byte) (*KitTransaction, error) {
	msg, err := decodeMessage(messageBytes)
	if err != nil {
		return nil, err
	}

	sigs := make(map[solana.PublicKey]*solana.Signature)
	for _, pk := range requiredSigners(msg) {
		sigs[pk] = nil
	}
	return &KitTransaction{MessageBytes: messageBytes, Signatures: sigs}, nil
}

// KitFromLegacy compiles a legacy transaction into the kit shape, carrying
// over any signatures already present
func KitFromLegacy(tx *solana.Transaction) (*KitTransaction, error) {
	raw, err := tx.Message.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}
	kit, err := NewKit(raw)
	if err != nil {
		return nil, err
	}
	for i, pk := range requiredSigners(&tx.Message) {
		if i < len(tx.Signatures) && tx.Signatures[i] != (solana.Signature{}) {
			sig := tx.Signatures[i]
			kit.Signatures[pk] = &sig
		}
	}
	return kit, nil
}

// CompiledMessage implements KitShape
func (k *KitTransaction) CompiledMessage() []byte {
	return k.MessageBytes
}

// SignatureMap implements KitShape
func (k *KitTransaction) SignatureMap() map[solana.PublicKey]*solana.Signature {
	return k.Signatures
}

// Signers returns required signers in slot order, decoded from the message header
func (k *KitTransaction) Signers() ([]solana.PublicKey, error) {
	msg, err := k.decodeMessage()
	if err != nil {
		return nil, err
	}
	return requiredSigners(msg), nil
}

// WireBytes encodes compact-u16 signature count, signatures in slot order and
// the message bytes
func (k *KitTransaction) WireBytes() ([]byte, error) {
	signers, err := k.Signers()
	if err != nil {
		return nil, err
	}

	var out []byte
	bin.EncodeCompactU16Length(&out, len(signers))
	for _, pk := range signers {
		var sig solana.Signature
		if s := k.Signatures[pk]; s != nil {
			sig = *s
		}
		out = append(out, sig[:]...)
	}
	out = append(out, k.MessageBytes...)
	return out, nil
}

func (k *KitTransaction) decodeMessage() (*solana.Message, error) {
	return decodeMessage(k.MessageBytes)
}

func (k *KitTransaction) setSignature(pk solana.PublicKey, sig solana.Signature) error {
	if _, ok := k.Signatures[pk]; !ok {
		signers, err := k.Signers()
		if err != nil {
			return err
		}
		if !containsKey(signers, pk) {
			return fmt.Errorf("%w: %s", ErrNotASigner, pk)
		}
	}
	if k.Signatures == nil {
		k.Signatures = make(map[solana.PublicKey]*solana.Signature)
	}
	k.Signatures[pk] = &sig
	return nil
}

func kitFromWire(wire []byte) (*KitTransaction, error) {
	decoder := bin.NewBinDecoder(wire)

	count, err := decoder.ReadCompactU16()
	if err != nil {
		return nil, fmt.Errorf("failed to read signature count: %w", err)
	}

	raw := make([]solana.Signature, count)
	for i := 0; i < count; i++ {
		b, err := decoder.ReadNBytes(solana.SignatureLength)
		if err != nil {
			return nil, fmt.Errorf("failed to read signature %d: %w", i, err)
		}
		raw[i] = solana.SignatureFromBytes(b)
	}

	messageBytes, err := decoder.ReadNBytes(decoder.Remaining())
	if err != nil {
		return nil, fmt.Errorf("failed to read message: %w", err)
	}

	kit, err := NewKit(messageBytes)
	if err != nil {
		return nil, err
	}
	signers, err := kit.Signers()
	if err != nil {
		return nil, err
	}
	if len(signers) != count {
		return nil, fmt.Errorf("signature count %d does not match %d required signers", count, len(signers))
	}
	for i, pk := range signers {
		if raw[i] != (solana.Signature{}) {
			sig := raw[i]
			kit.Signatures[pk] = &sig
		}
	}
	return kit, nil
}

func containsKey(keys []solana.PublicKey, pk solana.PublicKey) bool {
	for _, k := range keys {
		if k.Equals(pk) {
			return true
		}
	}
	return false
}
