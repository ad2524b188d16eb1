// Package signin builds, parses and verifies Sign-In-With-Solana messages.
package signin

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/mr-tron/base58"
)

const (
	headerSuffix = " wants you to sign in with your Solana account:"

	// SignatureTypeEd25519 is the only signature type Solana wallets produce
	SignatureTypeEd25519 = "ed25519"

	// DefaultVersion is the message version filled in by Prepare
	DefaultVersion = "1"
)

var (
	ErrInvalidMessage   = errors.New("invalid sign-in message")
	ErrInvalidSignature = errors.New("invalid sign-in signature")
	ErrFieldMismatch    = errors.New("sign-in message does not match request")
	ErrExpired          = errors.New("sign-in message expired")
	ErrNotYetValid      = errors.New("sign-in message not yet valid")
)

// Input is a sign-in request. Every field is optional for the requester; the
// wallet fills Domain and Address when they are left empty.
type Input struct {
	Domain         string   `json:"domain,omitempty"`
	Address        string   `json:"address,omitempty"`
	Statement      string   `json:"statement,omitempty"`
	URI            string   `json:"uri,omitempty"`
	Version        string   `json:"version,omitempty"`
	ChainID        string   `json:"chainId,omitempty"`
	Nonce          string   `json:"nonce,omitempty"`
	IssuedAt       string   `json:"issuedAt,omitempty"`
	ExpirationTime string   `json:"expirationTime,omitempty"`
	NotBefore      string   `json:"notBefore,omitempty"`
	RequestID      string   `json:"requestId,omitempty"`
	Resources      []string `json:"resources,omitempty"`
}

// Account is the signing account
type Account struct {
	Address   string           `json:"address"`
	PublicKey solana.PublicKey `json:"publicKey"`
}

// Output is a wallet's answer to a sign-in request
type Output struct {
	Account       Account `json:"account"`
	SignedMessage []byte  `json:"signedMessage"`
	Signature     []byte  `json:"signature"`
	SignatureType string  `json:"signatureType,omitempty"`
}

// SignatureBase58 returns the signature in the encoding backends expect
func (o *Output) SignatureBase58() string {
	return base58.Encode(o.Signature)
}

// NewNonce returns a random alphanumeric nonce
func NewNonce() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Prepare fills the fields a wallet is responsible for: address, version,
// nonce and issue time
func Prepare(in Input, address solana.PublicKey, now time.Time) Input {
	out := in
	if len(in.Resources) > 0 {
		out.Resources = append([]string(nil), in.Resources...)
	}
	if out.Address == "" {
		out.Address = address.String()
	}
	if out.Version == "" {
		out.Version = DefaultVersion
	}
	if out.Nonce == "" {
		out.Nonce = NewNonce()
	}
	if out.IssuedAt == "" {
		out.IssuedAt = now.UTC().Format(time.RFC3339)
	}
	return out
}

// CreateMessage renders the text a wallet signs
func CreateMessage(in Input) (string, error) {
	if in.Domain == "" {
		return "", fmt.Errorf("%w: domain is required", ErrInvalidMessage)
	}
	if in.Address == "" {
		return "", fmt.Errorf("%w: address is required", ErrInvalidMessage)
	}
	if strings.Contains(in.Statement, "\n") {
		return "", fmt.Errorf("%w: statement must be a single line", ErrInvalidMessage)
	}

	var b strings.Builder
	b.WriteString(in.Domain)
	b.WriteString(headerSuffix)
	b.WriteString("\n")
	b.WriteString(in.Address)

	if in.Statement != "" {
		b.WriteString("\n\n")
		b.WriteString(in.Statement)
	}

	var fields []string
	for _, f := range fieldOrder {
		if v := f.get(&in); v != "" {
			fields = append(fields, f.label+": "+v)
		}
	}
	if len(in.Resources) > 0 {
		fields = append(fields, "Resources:")
		for _, r := range in.Resources {
			fields = append(fields, "- "+r)
		}
	}
	if len(fields) > 0 {
		b.WriteString("\n\n")
		b.WriteString(strings.Join(fields, "\n"))
	}

	return b.String(), nil
}

type field struct {
	label string
	get   func(*Input) string
	set   func(*Input, string)
}

var fieldOrder = []field{
	{"URI", func(i *Input) string { return i.URI }, func(i *Input, v string) { i.URI = v }},
	{"Version", func(i *Input) string { return i.Version }, func(i *Input, v string) { i.Version = v }},
	{"Chain ID", func(i *Input) string { return i.ChainID }, func(i *Input, v string) { i.ChainID = v }},
	{"Nonce", func(i *Input) string { return i.Nonce }, func(i *Input, v string) { i.Nonce = v }},
	{"Issued At", func(i *Input) string { return i.IssuedAt }, func(i *Input, v string) { i.IssuedAt = v }},
	{"Expiration Time", func(i *Input) string { return i.ExpirationTime }, func(i *Input, v string) { i.ExpirationTime = v }},
	{"Not Before", func(i *Input) string { return i.NotBefore }, func(i *Input, v string) { i.NotBefore = v }},
	{"Request ID", func(i *Input) string { return i.RequestID }, func(i *Input, v string) { i.RequestID = v }},
}

func lookupField(line string) (field, string, bool) {
	for _, f := range fieldOrder {
		if v, ok := strings.CutPrefix(line, f.label+": "); ok {
			return f, v, true
		}
	}
	return field{}, "", false
}

func isFieldLine(line string) bool {
	if line == "Resources:" {
		return true
	}
	_, _, ok := lookupField(line)
	return ok
}

// ParseMessage is the inverse of CreateMessage
func ParseMessage(msg string) (*Input, error) {
	lines := strings.Split(msg, "\n")
	if len(lines) < 2 {
		return nil, fmt.Errorf("%w: too short", ErrInvalidMessage)
	}

	domain, ok := strings.CutSuffix(lines[0], headerSuffix)
	if !ok || domain == "" {
		return nil, fmt.Errorf("%w: missing header", ErrInvalidMessage)
	}
	in := &Input{Domain: domain, Address: lines[1]}
	if in.Address == "" {
		return nil, fmt.Errorf("%w: missing address", ErrInvalidMessage)
	}

	rest := lines[2:]
	if len(rest) == 0 {
		return in, nil
	}
	if rest[0] != "" || len(rest) < 2 {
		return nil, fmt.Errorf("%w: expected blank line after address", ErrInvalidMessage)
	}
	rest = rest[1:]

	if !isFieldLine(rest[0]) {
		in.Statement = rest[0]
		rest = rest[1:]
		if len(rest) == 0 {
			return in, nil
		}
		if rest[0] != "" || len(rest) < 2 {
			return nil, fmt.Errorf("%w: expected blank line after statement", ErrInvalidMessage)
		}
		rest = rest[1:]
	}

	for i := 0; i < len(rest); i++ {
		line := rest[i]
		if line == "Resources:" {
			for i+1 < len(rest) && strings.HasPrefix(rest[i+1], "- ") {
				i++
				in.Resources = append(in.Resources, strings.TrimPrefix(rest[i], "- "))
			}
			continue
		}
		f, v, ok := lookupField(line)
		if !ok {
			return nil, fmt.Errorf("%w: unexpected line %q", ErrInvalidMessage, line)
		}
		f.set(in, v)
	}

	return in, nil
}

// Sign produces an Output for in using key, filling wallet-owned fields
func Sign(in Input, key solana.PrivateKey, now time.Time) (*Output, error) {
	pk := key.PublicKey()
	prepared := Prepare(in, pk, now)
	if prepared.Address != pk.String() {
		return nil, fmt.Errorf("%w: requested address %s, signing with %s", ErrFieldMismatch, prepared.Address, pk)
	}

	msg, err := CreateMessage(prepared)
	if err != nil {
		return nil, err
	}
	sig, err := key.Sign([]byte(msg))
	if err != nil {
		return nil, fmt.Errorf("failed to sign message: %w", err)
	}

	return &Output{
		Account:       Account{Address: pk.String(), PublicKey: pk},
		SignedMessage: []byte(msg),
		Signature:     sig[:],
		SignatureType: SignatureTypeEd25519,
	}, nil
}

// Verify checks that out answers in: every field the requester set appears
// unchanged in the signed message, the message is within its validity window
// and the signature is valid for the account
func Verify(in Input, out *Output) error {
	return VerifyAt(in, out, time.Now())
}

// VerifyAt is Verify with an explicit clock
func VerifyAt(in Input, out *Output, now time.Time) error {
	if out == nil {
		return fmt.Errorf("%w: missing output", ErrInvalidSignature)
	}

	parsed, err := ParseMessage(string(out.SignedMessage))
	if err != nil {
		return err
	}

	if parsed.Address != out.Account.PublicKey.String() {
		return fmt.Errorf("%w: address %s does not match account %s", ErrFieldMismatch, parsed.Address, out.Account.PublicKey)
	}

	checks := []struct {
		name, want, got string
	}{
		{"domain", in.Domain, parsed.Domain},
		{"address", in.Address, parsed.Address},
		{"statement", in.Statement, parsed.Statement},
	}
	for _, f := range fieldOrder {
		checks = append(checks, struct{ name, want, got string }{f.label, f.get(&in), f.get(parsed)})
	}
	for _, c := range checks {
		if c.want != "" && c.want != c.got {
			return fmt.Errorf("%w: %s is %q, requested %q", ErrFieldMismatch, c.name, c.got, c.want)
		}
	}
	if len(in.Resources) > 0 && strings.Join(in.Resources, "\n") != strings.Join(parsed.Resources, "\n") {
		return fmt.Errorf("%w: resources differ", ErrFieldMismatch)
	}

	if parsed.ExpirationTime != "" {
		exp, err := time.Parse(time.RFC3339, parsed.ExpirationTime)
		if err != nil {
			return fmt.Errorf("%w: bad expiration time: %v", ErrInvalidMessage, err)
		}
		if !now.Before(exp) {
			return ErrExpired
		}
	}
	if parsed.NotBefore != "" {
		nbf, err := time.Parse(time.RFC3339, parsed.NotBefore)
		if err != nil {
			return fmt.Errorf("%w: bad not-before time: %v", ErrInvalidMessage, err)
		}
		if now.Before(nbf) {
			return ErrNotYetValid
		}
	}

	if out.SignatureType != "" && out.SignatureType != SignatureTypeEd25519 {
		return fmt.Errorf("%w: unsupported signature type %q", ErrInvalidSignature, out.SignatureType)
	}
	if len(out.Signature) != solana.SignatureLength {
		return fmt.Errorf("%w: bad length %d", ErrInvalidSignature, len(out.Signature))
	}
	if !solana.SignatureFromBytes(out.Signature).Verify(out.Account.PublicKey, out.SignedMessage) {
		return ErrInvalidSignature
	}
	return nil
}
