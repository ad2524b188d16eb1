package types

import (
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// MessageResponse represents the auth message response
type MessageResponse struct {
	Message string `json:"message"`
}

// AuthRequest represents a wallet authentication request
// Signature is base58-encoded; SignedMessage is set when the wallet signed a
// message that differs from Message (sign-in flows).
type AuthRequest struct {
	Address       string `json:"address"`
	Message       string `json:"message"`
	Signature     string `json:"signature"`
	SignedMessage string `json:"signedMessage,omitempty"`
}

// User represents a user in the system
type User struct {
	ID            uint64    `json:"id"`
	WalletAddress string    `json:"walletAddress"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// AuthResponse represents the authentication response
type AuthResponse struct {
	User         *User  `json:"user"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// TokenPair represents access and refresh token pair
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// RefreshRequest represents a token refresh request
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// Balance is a native SOL balance at a given slot
type Balance struct {
	Owner    solana.PublicKey `json:"owner"`
	Lamports uint64           `json:"lamports"`
	SOL      decimal.Decimal  `json:"sol"`
	Slot     uint64           `json:"slot"`
}

// TokenAccount is an SPL token account owned by a wallet
type TokenAccount struct {
	Address  solana.PublicKey `json:"address"`
	Mint     solana.PublicKey `json:"mint"`
	Owner    solana.PublicKey `json:"owner"`
	Amount   uint64           `json:"amount"`
	Decimals uint8            `json:"decimals"`
	UIAmount decimal.Decimal  `json:"uiAmount"`
}

// IsNFT reports whether the account holds a single unit of a zero-decimal mint
func (a *TokenAccount) IsNFT() bool {
	return a.Decimals == 0 && a.Amount == 1
}

// SignatureStatus is the confirmation state of a submitted transaction
type SignatureStatus struct {
	Signature          solana.Signature `json:"signature"`
	Slot               uint64           `json:"slot"`
	ConfirmationStatus string           `json:"confirmationStatus"`
	Err                any              `json:"err,omitempty"`
}

// IsFailed reports whether the transaction landed with an error
func (s *SignatureStatus) IsFailed() bool {
	return s.Err != nil
}
