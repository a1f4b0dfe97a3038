package gateway

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	xerrors "github.com/JaroAI777/synaps1/internal/errors"
	"github.com/JaroAI777/synaps1/pkg/amount"
)

// TokenContract binds the SYNX ERC-20 token at one address.
type TokenContract struct {
	client  *Client
	address common.Address
}

// NewTokenContract binds the token contract at address.
func NewTokenContract(client *Client, address common.Address) *TokenContract {
	return &TokenContract{client: client, address: address}
}

// Address returns the bound contract address.
func (tc *TokenContract) Address() common.Address {
	return tc.address
}

// BalanceOf reads the token balance of account in base units.
func (tc *TokenContract) BalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	var out []any
	if err := tc.client.Call(ctx, tc.address, TokenABI, "balanceOf", &out, account); err != nil {
		return nil, err
	}
	balance, ok := out[0].(*big.Int)
	if !ok {
		return nil, xerrors.New(xerrors.CodeContract, "unexpected balanceOf result type")
	}
	return balance, nil
}

// Transfer moves tokens from the signer to recipient.
func (tc *TokenContract) Transfer(ctx context.Context, recipient common.Address, value *big.Int) (common.Hash, error) {
	receipt, err := tc.client.Transact(ctx, tc.address, TokenABI, "transfer", nil, recipient, value)
	if err != nil {
		return common.Hash{}, err
	}
	return receipt.TxHash, nil
}

// Approve lets spender move up to value tokens on the signer's behalf.
func (tc *TokenContract) Approve(ctx context.Context, spender common.Address, value *big.Int) (common.Hash, error) {
	receipt, err := tc.client.Transact(ctx, tc.address, TokenABI, "approve", nil, spender, value)
	if err != nil {
		return common.Hash{}, err
	}
	return receipt.TxHash, nil
}

// ApproveMax grants spender an unlimited allowance. Used once per
// protocol contract so payments and deposits need no per-call approval.
func (tc *TokenContract) ApproveMax(ctx context.Context, spender common.Address) (common.Hash, error) {
	return tc.Approve(ctx, spender, new(big.Int).Set(amount.MaxUint256))
}

// Allowance reads how much spender may still move on owner's behalf.
func (tc *TokenContract) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	var out []any
	if err := tc.client.Call(ctx, tc.address, TokenABI, "allowance", &out, owner, spender); err != nil {
		return nil, err
	}
	allowance, ok := out[0].(*big.Int)
	if !ok {
		return nil, xerrors.New(xerrors.CodeContract, "unexpected allowance result type")
	}
	return allowance, nil
}
