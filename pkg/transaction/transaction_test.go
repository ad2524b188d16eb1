package transaction

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newKey(t *testing.T) solana.PrivateKey {
	t.Helper()
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	return key
}

// newTransfer builds a transfer from `from` paid by `payer`; when they differ
// the message has two required signers, payer first
func newTransfer(t *testing.T, payer, from solana.PublicKey) *solana.Transaction {
	t.Helper()
	to := solana.NewWallet().PublicKey()
	tx, err := solana.NewTransaction(
		[]solana.Instruction{system.NewTransferInstruction(1000, from, to).Build()},
		solana.Hash{1, 2, 3},
		solana.TransactionPayer(payer),
	)
	require.NoError(t, err)
	return tx
}

func TestDetect(t *testing.T) {
	key := newKey(t)
	tx := newTransfer(t, key.PublicKey(), key.PublicKey())
	kit, err := KitFromLegacy(tx)
	require.NoError(t, err)
	dual, err := From(kit)
	require.NoError(t, err)

	tests := []struct {
		name    string
		tx      any
		want    Architecture
		wantErr bool
	}{
		{"legacy pointer", tx, Legacy, false},
		{"legacy value", *tx, Legacy, false},
		{"kit pointer", kit, Kit, false},
		{"kit value", *kit, Kit, false},
		{"dual keeps tag", dual, Kit, false},
		{"nil legacy", (*solana.Transaction)(nil), 0, true},
		{"nil kit", (*KitTransaction)(nil), 0, true},
		{"bytes", []byte{1, 2, 3}, 0, true},
		{"nil", nil, 0, true},
		{"nil dual", (*Dual)(nil), 0, true},
		{"zero dual", &Dual{}, 0, true},
		{"tag without payload", &Dual{arch: Legacy}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Detect(tt.tx)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownShape)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestArchitectureString(t *testing.T) {
	assert.Equal(t, "legacy", Legacy.String())
	assert.Equal(t, "kit", Kit.String())
	assert.Equal(t, "unknown", Architecture(0).String())
}

func TestFromRejectsZeroDual(t *testing.T) {
	d, err := From(&Dual{})
	assert.ErrorIs(t, err, ErrUnknownShape)
	assert.Nil(t, d)

	_, _, err = FromBatch([]any{&Dual{arch: Kit}})
	assert.ErrorIs(t, err, ErrUnknownShape)
}

func TestFromBatch(t *testing.T) {
	key := newKey(t)
	legacy := newTransfer(t, key.PublicKey(), key.PublicKey())
	kit, err := KitFromLegacy(newTransfer(t, key.PublicKey(), key.PublicKey()))
	require.NoError(t, err)

	t.Run("homogeneous legacy", func(t *testing.T) {
		out, arch, err := FromBatch([]any{legacy, newTransfer(t, key.PublicKey(), key.PublicKey())})
		require.NoError(t, err)
		assert.Equal(t, Legacy, arch)
		assert.Len(t, out, 2)
		assert.Same(t, legacy, out[0].Legacy())
	})

	t.Run("mixed batch", func(t *testing.T) {
		out, _, err := FromBatch([]any{legacy, legacy, kit})
		require.Error(t, err)
		assert.Nil(t, out)
		assert.ErrorIs(t, err, ErrArchitectureMismatch)

		var mismatch *ArchitectureMismatchError
		require.ErrorAs(t, err, &mismatch)
		assert.Equal(t, 2, mismatch.Index)
		assert.Equal(t, Legacy, mismatch.Expected)
		assert.Equal(t, Kit, mismatch.Got)
	})

	t.Run("unknown element", func(t *testing.T) {
		_, _, err := FromBatch([]any{kit, "nope"})
		assert.ErrorIs(t, err, ErrUnknownShape)
	})

	t.Run("empty", func(t *testing.T) {
		out, arch, err := FromBatch(nil)
		require.NoError(t, err)
		assert.Empty(t, out)
		assert.Equal(t, Architecture(0), arch)
	})
}

func TestSignWithLegacy(t *testing.T) {
	payer := newKey(t)
	owner := newKey(t)
	tx := newTransfer(t, payer.PublicKey(), owner.PublicKey())

	d, err := From(tx)
	require.NoError(t, err)

	signers, err := d.Signers()
	require.NoError(t, err)
	require.Len(t, signers, 2)
	assert.Equal(t, payer.PublicKey(), signers[0])

	require.NoError(t, SignWith(d, owner))
	assert.False(t, d.IsSigned())
	_, ok := d.Signature(payer.PublicKey())
	assert.False(t, ok)

	require.NoError(t, SignWith(d, payer))
	assert.True(t, d.IsSigned())
	require.NoError(t, d.VerifySignatures())

	// signatures land in the caller's transaction
	require.Len(t, tx.Signatures, 2)
	require.NoError(t, tx.VerifySignatures())
}

func TestSignWithRejectsStranger(t *testing.T) {
	key := newKey(t)
	d, err := From(newTransfer(t, key.PublicKey(), key.PublicKey()))
	require.NoError(t, err)

	err = SignWith(d, newKey(t))
	assert.ErrorIs(t, err, ErrNotASigner)
}

func TestSignWithKit(t *testing.T) {
	payer := newKey(t)
	owner := newKey(t)
	kit, err := KitFromLegacy(newTransfer(t, payer.PublicKey(), owner.PublicKey()))
	require.NoError(t, err)

	require.Len(t, kit.Signatures, 2)
	for _, sig := range kit.Signatures {
		assert.Nil(t, sig)
	}

	d, err := From(kit)
	require.NoError(t, err)
	require.NoError(t, SignWith(d, payer, owner))
	assert.True(t, d.IsSigned())
	require.NoError(t, d.VerifySignatures())
	assert.NotNil(t, kit.Signatures[owner.PublicKey()])

	assert.ErrorIs(t, SignWith(d, newKey(t)), ErrNotASigner)
}

func TestWireRoundTrip(t *testing.T) {
	payer := newKey(t)
	owner := newKey(t)

	t.Run("legacy", func(t *testing.T) {
		d, err := From(newTransfer(t, payer.PublicKey(), owner.PublicKey()))
		require.NoError(t, err)
		require.NoError(t, SignWith(d, owner))

		wire, err := d.WireBytes()
		require.NoError(t, err)

		back, err := FromWire(Legacy, wire)
		require.NoError(t, err)
		assert.Equal(t, Legacy, back.Architecture())

		_, ok := back.Signature(owner.PublicKey())
		assert.True(t, ok)
		_, ok = back.Signature(payer.PublicKey())
		assert.False(t, ok)

		want, err := d.MessageBytes()
		require.NoError(t, err)
		got, err := back.MessageBytes()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})

	t.Run("kit", func(t *testing.T) {
		kit, err := KitFromLegacy(newTransfer(t, payer.PublicKey(), owner.PublicKey()))
		require.NoError(t, err)
		d, err := From(kit)
		require.NoError(t, err)
		require.NoError(t, SignWith(d, payer))

		wire, err := d.WireBytes()
		require.NoError(t, err)
		// compact-u16(2) + two signatures + message
		assert.Equal(t, byte(2), wire[0])
		assert.Len(t, wire, 1+2*solana.SignatureLength+len(kit.MessageBytes))

		back, err := FromWire(Kit, wire)
		require.NoError(t, err)
		assert.Equal(t, kit.MessageBytes, back.Kit().MessageBytes)
		assert.NotNil(t, back.Kit().Signatures[payer.PublicKey()])
		assert.Nil(t, back.Kit().Signatures[owner.PublicKey()])

		// legacy decoder reads the same bytes
		legacy, err := FromWire(Legacy, wire)
		require.NoError(t, err)
		require.NoError(t, legacy.VerifySignatures())
	})

	t.Run("unknown architecture", func(t *testing.T) {
		_, err := FromWire(Architecture(9), []byte{0})
		assert.ErrorIs(t, err, ErrUnknownShape)
	})

	t.Run("truncated kit", func(t *testing.T) {
		_, err := FromWire(Kit, []byte{2, 0, 0})
		assert.Error(t, err)
	})
}

func TestRecentBlockhash(t *testing.T) {
	key := newKey(t)
	tx := newTransfer(t, key.PublicKey(), key.PublicKey())

	legacy, err := From(tx)
	require.NoError(t, err)
	require.NoError(t, SignWith(legacy, key))

	hash, err := legacy.RecentBlockhash()
	require.NoError(t, err)
	assert.Equal(t, solana.Hash{1, 2, 3}, hash)

	require.NoError(t, legacy.SetRecentBlockhash(solana.Hash{9}))
	assert.Equal(t, solana.Hash{9}, tx.Message.RecentBlockhash)
	assert.False(t, legacy.IsSigned())

	kit, err := KitFromLegacy(tx)
	require.NoError(t, err)
	d, err := From(kit)
	require.NoError(t, err)
	hash, err = d.RecentBlockhash()
	require.NoError(t, err)
	assert.Equal(t, solana.Hash{9}, hash)
	assert.ErrorIs(t, d.SetRecentBlockhash(solana.Hash{1}), ErrImmutableMessage)
}

func TestClone(t *testing.T) {
	payer := newKey(t)
	owner := newKey(t)

	kit, err := KitFromLegacy(newTransfer(t, payer.PublicKey(), owner.PublicKey()))
	require.NoError(t, err)
	d, err := From(kit)
	require.NoError(t, err)

	clone, err := d.Clone()
	require.NoError(t, err)
	require.NoError(t, SignWith(clone, payer))

	assert.Nil(t, kit.Signatures[payer.PublicKey()])
	assert.NotNil(t, clone.Kit().Signatures[payer.PublicKey()])
	assert.Contains(t, clone.Kit().Signatures, owner.PublicKey())
}

func TestValues(t *testing.T) {
	key := newKey(t)
	tx := newTransfer(t, key.PublicKey(), key.PublicKey())
	ds, _, err := FromBatch([]any{tx})
	require.NoError(t, err)

	vals := Values(ds)
	require.Len(t, vals, 1)
	assert.Same(t, tx, vals[0])
}
