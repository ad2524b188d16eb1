package cluster

import (
	"context"
	"fmt"
	"math/big"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"

	"github.com/sigweihq/solconnect/pkg/constants"
	"github.com/sigweihq/solconnect/pkg/types"
)

// GetBalance returns the lamport balance of owner
func (c *Client) GetBalance(ctx context.Context, owner solana.PublicKey) (*types.Balance, error) {
	return read(ctx, c, "getBalance", func(ctx context.Context, r *rpc.Client) (*types.Balance, error) {
		out, err := r.GetBalance(ctx, owner, rpc.CommitmentConfirmed)
		if err != nil {
			return nil, err
		}
		return &types.Balance{
			Owner:    owner,
			Lamports: out.Value,
			SOL:      LamportsToSOL(out.Value),
			Slot:     out.Context.Slot,
		}, nil
	})
}

// GetSOLBalance returns the balance of owner in SOL
func (c *Client) GetSOLBalance(ctx context.Context, owner solana.PublicKey) (decimal.Decimal, error) {
	b, err := c.GetBalance(ctx, owner)
	if err != nil {
		return decimal.Zero, err
	}
	return b.SOL, nil
}

// LamportsToSOL converts lamports to a SOL amount
func LamportsToSOL(lamports uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(lamports), -constants.LamportsDecimals)
}

// SOLToLamports converts a SOL amount to lamports, truncating below one lamport
func SOLToLamports(sol decimal.Decimal) (uint64, error) {
	if sol.IsNegative() {
		return 0, fmt.Errorf("negative amount %s", sol)
	}
	lamports := sol.Shift(constants.LamportsDecimals).Truncate(0)
	if !lamports.BigInt().IsUint64() {
		return 0, fmt.Errorf("amount %s overflows", sol)
	}
	return lamports.BigInt().Uint64(), nil
}

// GetTokenAccounts lists the SPL token accounts owned by owner, with mint
// decimals resolved
func (c *Client) GetTokenAccounts(ctx context.Context, owner solana.PublicKey) ([]types.TokenAccount, error) {
	raw, err := read(ctx, c, "getTokenAccountsByOwner", func(ctx context.Context, r *rpc.Client) (*rpc.GetTokenAccountsResult, error) {
		return r.GetTokenAccountsByOwner(ctx, owner,
			&rpc.GetTokenAccountsConfig{ProgramId: &solana.TokenProgramID},
			&rpc.GetTokenAccountsOpts{Encoding: solana.EncodingBase64, Commitment: rpc.CommitmentConfirmed},
		)
	})
	if err != nil {
		return nil, err
	}

	accounts := make([]types.TokenAccount, 0, len(raw.Value))
	var mints []solana.PublicKey
	seen := make(map[solana.PublicKey]bool)
	for _, keyed := range raw.Value {
		if keyed == nil || keyed.Account.Data == nil {
			continue
		}
		var acc token.Account
		if err := bin.NewBinDecoder(keyed.Account.Data.GetBinary()).Decode(&acc); err != nil {
			c.logger.Warn("skipping undecodable token account", "account", keyed.Pubkey.String(), "error", err)
			continue
		}
		accounts = append(accounts, types.TokenAccount{
			Address: keyed.Pubkey,
			Mint:    acc.Mint,
			Owner:   acc.Owner,
			Amount:  acc.Amount,
		})
		if !seen[acc.Mint] {
			seen[acc.Mint] = true
			mints = append(mints, acc.Mint)
		}
	}
	if len(accounts) == 0 {
		return accounts, nil
	}

	decimals, err := c.mintDecimals(ctx, mints)
	if err != nil {
		return nil, err
	}
	for i := range accounts {
		d := decimals[accounts[i].Mint]
		accounts[i].Decimals = d
		accounts[i].UIAmount = decimal.NewFromBigInt(new(big.Int).SetUint64(accounts[i].Amount), -int32(d))
	}
	return accounts, nil
}

// GetNFTs returns the token accounts holding exactly one unit of a
// zero-decimal mint
func (c *Client) GetNFTs(ctx context.Context, owner solana.PublicKey) ([]types.TokenAccount, error) {
	all, err := c.GetTokenAccounts(ctx, owner)
	if err != nil {
		return nil, err
	}
	var out []types.TokenAccount
	for _, a := range all {
		if a.IsNFT() {
			out = append(out, a)
		}
	}
	return out, nil
}

func (c *Client) mintDecimals(ctx context.Context, mints []solana.PublicKey) (map[solana.PublicKey]uint8, error) {
	out, err := read(ctx, c, "getMultipleAccounts", func(ctx context.Context, r *rpc.Client) (*rpc.GetMultipleAccountsResult, error) {
		return r.GetMultipleAccountsWithOpts(ctx, mints, &rpc.GetMultipleAccountsOpts{
			Encoding:   solana.EncodingBase64,
			Commitment: rpc.CommitmentConfirmed,
		})
	})
	if err != nil {
		return nil, err
	}

	decimals := make(map[solana.PublicKey]uint8, len(mints))
	for i, acc := range out.Value {
		if i >= len(mints) || acc == nil || acc.Data == nil {
			continue
		}
		var mint token.Mint
		if err := bin.NewBinDecoder(acc.Data.GetBinary()).Decode(&mint); err != nil {
			c.logger.Warn("skipping undecodable mint", "mint", mints[i].String(), "error", err)
			continue
		}
		decimals[mints[i]] = mint.Decimals
	}
	return decimals, nil
}

// GetSignatureStatus returns the status of sig, or nil if the cluster has not
// seen it
func (c *Client) GetSignatureStatus(ctx context.Context, sig solana.Signature) (*types.SignatureStatus, error) {
	return read(ctx, c, "getSignatureStatuses", func(ctx context.Context, r *rpc.Client) (*types.SignatureStatus, error) {
		out, err := r.GetSignatureStatuses(ctx, true, sig)
		if err != nil {
			return nil, err
		}
		if out == nil || len(out.Value) == 0 || out.Value[0] == nil {
			return nil, nil
		}
		v := out.Value[0]
		return &types.SignatureStatus{
			Signature:          sig,
			Slot:               v.Slot,
			ConfirmationStatus: string(v.ConfirmationStatus),
			Err:                v.Err,
		}, nil
	})
}

// WaitForConfirmation polls until sig reaches commitment, fails, or the
// confirmation timeout passes
func (c *Client) WaitForConfirmation(ctx context.Context, sig solana.Signature, commitment rpc.CommitmentType) (*types.SignatureStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.ConfirmationTimeout)
	defer cancel()

	ticker := time.NewTicker(c.pollPeriod)
	defer ticker.Stop()

	for {
		status, err := c.GetSignatureStatus(ctx, sig)
		if err != nil {
			return nil, err
		}
		if status != nil {
			if status.IsFailed() {
				return status, fmt.Errorf("transaction %s failed: %v", sig, status.Err)
			}
			if reached(status.ConfirmationStatus, commitment) {
				return status, nil
			}
		}

		select {
		case <-ctx.Done():
			return status, fmt.Errorf("transaction %s not confirmed: %w", sig, ctx.Err())
		case <-ticker.C:
		}
	}
}

var commitmentRank = map[string]int{
	string(rpc.ConfirmationStatusProcessed): 1,
	string(rpc.ConfirmationStatusConfirmed): 2,
	string(rpc.ConfirmationStatusFinalized): 3,
}

func reached(status string, want rpc.CommitmentType) bool {
	wantRank, ok := commitmentRank[string(want)]
	if !ok {
		wantRank = commitmentRank[string(rpc.ConfirmationStatusConfirmed)]
	}
	return commitmentRank[status] >= wantRank
}
