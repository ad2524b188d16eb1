package utils

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
)

// ParsePrivateKeyHex parses a hex private key, with or without 0x prefix.
// Both the 32-byte seed and the 64-byte seed+pubkey forms are accepted.
func ParsePrivateKeyHex(privateKeyHex string) (solana.PrivateKey, error) {
	privateKeyHex = strings.TrimPrefix(privateKeyHex, "0x")

	privateKeyBytes, err := hex.DecodeString(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid private key hex: %w", err)
	}

	switch len(privateKeyBytes) {
	case ed25519.SeedSize:
		return solana.PrivateKey(ed25519.NewKeyFromSeed(privateKeyBytes)), nil
	case ed25519.PrivateKeySize:
		return solana.PrivateKey(privateKeyBytes), nil
	default:
		return nil, fmt.Errorf("invalid private key length: %d (expected 32 or 64 bytes)", len(privateKeyBytes))
	}
}

// ParsePrivateKey accepts the encodings users paste around: a JSON byte array
// (solana-keygen output), hex, or base58
func ParsePrivateKey(s string) (solana.PrivateKey, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty private key")
	}

	if strings.HasPrefix(s, "[") {
		var ints []int
		if err := json.Unmarshal([]byte(s), &ints); err != nil {
			return nil, fmt.Errorf("invalid keypair JSON: %w", err)
		}
		if len(ints) != ed25519.PrivateKeySize {
			return nil, fmt.Errorf("invalid keypair length: %d (expected 64 bytes)", len(ints))
		}
		raw := make([]byte, len(ints))
		for i, v := range ints {
			if v < 0 || v > 255 {
				return nil, fmt.Errorf("invalid keypair byte at %d: %d", i, v)
			}
			raw[i] = byte(v)
		}
		return solana.PrivateKey(raw), nil
	}

	if strings.HasPrefix(s, "0x") {
		return ParsePrivateKeyHex(s)
	}
	if key, err := ParsePrivateKeyHex(s); err == nil {
		return key, nil
	}

	key, err := solana.PrivateKeyFromBase58(s)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	if len(key) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid private key length: %d (expected 64 bytes)", len(key))
	}
	return key, nil
}

// LoadKeygenFile reads a solana-keygen JSON keypair file
func LoadKeygenFile(path string) (solana.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read keypair file: %w", err)
	}
	return ParsePrivateKey(string(raw))
}

// GenerateSolanaKeypair generates a new Solana keypair
func GenerateSolanaKeypair() (privateKeyHex, address string, err error) {
	account := solana.NewWallet()

	// For storage, we typically only need the 32-byte seed
	seed := account.PrivateKey[:32]
	privateKeyHex = "0x" + hex.EncodeToString(seed)
	address = account.PublicKey().String()

	return privateKeyHex, address, nil
}

// BuildSOLTransfer builds an unsigned native transfer paid by from
func BuildSOLTransfer(from, to solana.PublicKey, lamports uint64, blockhash solana.Hash) (*solana.Transaction, error) {
	tx, err := solana.NewTransaction(
		[]solana.Instruction{system.NewTransferInstruction(lamports, from, to).Build()},
		blockhash,
		solana.TransactionPayer(from),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build transaction: %w", err)
	}
	return tx, nil
}

// TokenTransfer describes an SPL token transfer between wallet owners
type TokenTransfer struct {
	Owner    solana.PublicKey
	To       solana.PublicKey
	Mint     solana.PublicKey
	Amount   uint64
	Decimals uint8

	// CreateDestination prepends an idempotent-style ATA create for the recipient
	CreateDestination bool

	// ComputeUnitPrice in micro-lamports; zero omits the compute budget instructions
	ComputeUnitPrice uint64
}

// BuildTokenTransfer builds an unsigned TransferChecked between the owners'
// associated token accounts, paid by the sender
func BuildTokenTransfer(t TokenTransfer, blockhash solana.Hash) (*solana.Transaction, error) {
	fromTokenAccount, _, err := solana.FindAssociatedTokenAddress(t.Owner, t.Mint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive from token account: %w", err)
	}
	toTokenAccount, _, err := solana.FindAssociatedTokenAddress(t.To, t.Mint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive to token account: %w", err)
	}

	instructions := make([]solana.Instruction, 0, 4)
	if t.ComputeUnitPrice > 0 {
		instructions = append(instructions,
			computebudget.NewSetComputeUnitLimitInstruction(200_000).Build(),
			computebudget.NewSetComputeUnitPriceInstruction(t.ComputeUnitPrice).Build(),
		)
	}
	if t.CreateDestination {
		instructions = append(instructions,
			associatedtokenaccount.NewCreateInstruction(t.Owner, t.To, t.Mint).Build(),
		)
	}
	instructions = append(instructions, token.NewTransferCheckedInstruction(
		t.Amount,
		t.Decimals,
		fromTokenAccount,
		t.Mint,
		toTokenAccount,
		t.Owner,
		[]solana.PublicKey{},
	).Build())

	tx, err := solana.NewTransaction(instructions, blockhash, solana.TransactionPayer(t.Owner))
	if err != nil {
		return nil, fmt.Errorf("failed to build transaction: %w", err)
	}
	return tx, nil
}
