package utils

import (
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePrivateKey(t *testing.T) {
	wallet := solana.NewWallet()
	key := wallet.PrivateKey

	keygen, err := json.Marshal(toInts(key))
	require.NoError(t, err)

	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"base58", key.String(), false},
		{"hex seed with prefix", "0x" + hex.EncodeToString(key[:32]), false},
		{"hex seed without prefix", hex.EncodeToString(key[:32]), false},
		{"hex full key", hex.EncodeToString(key), false},
		{"keygen json", string(keygen), false},
		{"keygen json with whitespace", "  " + string(keygen) + "\n", false},
		{"empty", "", true},
		{"short json", "[1,2,3]", true},
		{"bad hex length", "0xabcd", true},
		{"garbage", "not-a-key!", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePrivateKey(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, wallet.PublicKey(), got.PublicKey())
		})
	}
}

func toInts(b []byte) []int {
	out := make([]int, len(b))
	for i, v := range b {
		out[i] = int(v)
	}
	return out
}

func TestLoadKeygenFile(t *testing.T) {
	wallet := solana.NewWallet()
	raw, err := json.Marshal(toInts(wallet.PrivateKey))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "id.json")
	require.NoError(t, os.WriteFile(path, raw, 0o600))

	key, err := LoadKeygenFile(path)
	require.NoError(t, err)
	assert.Equal(t, wallet.PublicKey(), key.PublicKey())

	_, err = LoadKeygenFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestGenerateSolanaKeypair(t *testing.T) {
	privHex, address, err := GenerateSolanaKeypair()
	require.NoError(t, err)

	key, err := ParsePrivateKeyHex(privHex)
	require.NoError(t, err)
	assert.Equal(t, address, key.PublicKey().String())
}

func TestBuildSOLTransfer(t *testing.T) {
	from := solana.NewWallet().PublicKey()
	to := solana.NewWallet().PublicKey()

	tx, err := BuildSOLTransfer(from, to, 5000, solana.Hash{7})
	require.NoError(t, err)
	assert.Equal(t, uint8(1), tx.Message.Header.NumRequiredSignatures)
	assert.Equal(t, from, tx.Message.AccountKeys[0])
	assert.Len(t, tx.Message.Instructions, 1)
}

func TestBuildTokenTransfer(t *testing.T) {
	owner := solana.NewWallet().PublicKey()
	to := solana.NewWallet().PublicKey()
	mint := solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")

	tests := []struct {
		name         string
		transfer     TokenTransfer
		instructions int
	}{
		{"plain", TokenTransfer{Owner: owner, To: to, Mint: mint, Amount: 1, Decimals: 6}, 1},
		{"with ata", TokenTransfer{Owner: owner, To: to, Mint: mint, Amount: 1, Decimals: 6, CreateDestination: true}, 2},
		{"with priority fee", TokenTransfer{Owner: owner, To: to, Mint: mint, Amount: 1, Decimals: 6, ComputeUnitPrice: 1000}, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx, err := BuildTokenTransfer(tt.transfer, solana.Hash{1})
			require.NoError(t, err)
			assert.Len(t, tx.Message.Instructions, tt.instructions)
			assert.Equal(t, owner, tx.Message.AccountKeys[0])
			assert.Equal(t, uint8(1), tx.Message.Header.NumRequiredSignatures)
		})
	}
}
