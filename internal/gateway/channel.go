package gateway

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	xerrors "github.com/JaroAI777/synaps1/internal/errors"
)

// ChannelStatus mirrors the on-chain channel lifecycle enum.
type ChannelStatus uint8

const (
	ChannelNone ChannelStatus = iota
	ChannelOpen
	ChannelClosing
	ChannelClosed
)

func (s ChannelStatus) String() string {
	switch s {
	case ChannelNone:
		return "none"
	case ChannelOpen:
		return "open"
	case ChannelClosing:
		return "closing"
	case ChannelClosed:
		return "closed"
	default:
		return "invalid"
	}
}

// ChannelRecord is the on-chain view of one channel.
type ChannelRecord struct {
	ChannelID    [32]byte
	Participant1 common.Address
	Participant2 common.Address
	Balance1     *big.Int
	Balance2     *big.Int
	Nonce        uint64
	Status       ChannelStatus
	ChallengeEnd uint64
}

// ChannelOpenedEvent is the decoded ChannelOpened log.
type ChannelOpenedEvent struct {
	ChannelId [32]byte
	Party1    common.Address
	Party2    common.Address
	Deposit1  *big.Int
	Deposit2  *big.Int
}

// ChannelClosedEvent is the decoded ChannelClosed log.
type ChannelClosedEvent struct {
	ChannelId     [32]byte
	FinalBalance1 *big.Int
	FinalBalance2 *big.Int
}

// ChannelContract binds the payment channel contract at one address.
type ChannelContract struct {
	client  *Client
	address common.Address
}

// NewChannelContract binds the channel contract at address.
func NewChannelContract(client *Client, address common.Address) *ChannelContract {
	return &ChannelContract{client: client, address: address}
}

// Address returns the bound contract address.
func (cc *ChannelContract) Address() common.Address {
	return cc.address
}

// Open submits openChannel and returns the channel id from the emitted
// ChannelOpened event.
func (cc *ChannelContract) Open(ctx context.Context, counterparty common.Address, myDeposit, theirDeposit *big.Int) ([32]byte, error) {
	receipt, err := cc.client.Transact(ctx, cc.address, ChannelABI, "openChannel", nil, counterparty, myDeposit, theirDeposit)
	if err != nil {
		return [32]byte{}, err
	}
	for _, log := range receipt.Logs {
		var opened ChannelOpenedEvent
		ok, err := ParseLog(ChannelABI, "ChannelOpened", log, &opened)
		if err != nil {
			return [32]byte{}, err
		}
		if ok {
			return opened.ChannelId, nil
		}
	}
	return [32]byte{}, xerrors.New(xerrors.CodeContract, "openChannel emitted no ChannelOpened event")
}

// Fund adds more collateral to the caller's side of an open channel.
func (cc *ChannelContract) Fund(ctx context.Context, channelID [32]byte, amount *big.Int) (common.Hash, error) {
	receipt, err := cc.client.Transact(ctx, cc.address, ChannelABI, "fundChannel", nil, channelID, amount)
	if err != nil {
		return common.Hash{}, err
	}
	return receipt.TxHash, nil
}

// CooperativeClose settles a channel immediately using both signatures.
func (cc *ChannelContract) CooperativeClose(ctx context.Context, counterparty common.Address, balance1, balance2 *big.Int, nonce uint64, sig1, sig2 []byte) (common.Hash, error) {
	return cc.closeCall(ctx, "cooperativeClose", counterparty, balance1, balance2, nonce, sig1, sig2)
}

// InitiateClose starts the unilateral close challenge window.
func (cc *ChannelContract) InitiateClose(ctx context.Context, counterparty common.Address, balance1, balance2 *big.Int, nonce uint64, sig1, sig2 []byte) (common.Hash, error) {
	return cc.closeCall(ctx, "initiateClose", counterparty, balance1, balance2, nonce, sig1, sig2)
}

// ChallengeClose overrides a pending close with a higher-nonce state.
func (cc *ChannelContract) ChallengeClose(ctx context.Context, counterparty common.Address, balance1, balance2 *big.Int, nonce uint64, sig1, sig2 []byte) (common.Hash, error) {
	return cc.closeCall(ctx, "challengeClose", counterparty, balance1, balance2, nonce, sig1, sig2)
}

func (cc *ChannelContract) closeCall(ctx context.Context, method string, counterparty common.Address, balance1, balance2 *big.Int, nonce uint64, sig1, sig2 []byte) (common.Hash, error) {
	receipt, err := cc.client.Transact(ctx, cc.address, ChannelABI, method, nil,
		counterparty, balance1, balance2, new(big.Int).SetUint64(nonce), sig1, sig2)
	if err != nil {
		return common.Hash{}, err
	}
	return receipt.TxHash, nil
}

// FinalizeClose pays out a channel whose challenge window has elapsed.
func (cc *ChannelContract) FinalizeClose(ctx context.Context, counterparty common.Address) (common.Hash, error) {
	receipt, err := cc.client.Transact(ctx, cc.address, ChannelABI, "finalizeClose", nil, counterparty)
	if err != nil {
		return common.Hash{}, err
	}
	return receipt.TxHash, nil
}

// ChannelID asks the contract for the canonical id of a participant pair.
func (cc *ChannelContract) ChannelID(ctx context.Context, party1, party2 common.Address) ([32]byte, error) {
	var out []any
	if err := cc.client.Call(ctx, cc.address, ChannelABI, "getChannelId", &out, party1, party2); err != nil {
		return [32]byte{}, err
	}
	id, ok := out[0].([32]byte)
	if !ok {
		return [32]byte{}, xerrors.New(xerrors.CodeContract, "unexpected getChannelId result type")
	}
	return id, nil
}

// Channel reads the channel record for channelID. A record whose status
// is None reports ChannelNotFound.
func (cc *ChannelContract) Channel(ctx context.Context, channelID [32]byte) (ChannelRecord, error) {
	var out []any
	if err := cc.client.Call(ctx, cc.address, ChannelABI, "channels", &out, channelID); err != nil {
		return ChannelRecord{}, err
	}
	if len(out) != 7 {
		return ChannelRecord{}, xerrors.New(xerrors.CodeContract, "unexpected channels result arity")
	}

	record := ChannelRecord{
		ChannelID:    channelID,
		Participant1: out[0].(common.Address),
		Participant2: out[1].(common.Address),
		Balance1:     out[2].(*big.Int),
		Balance2:     out[3].(*big.Int),
		Nonce:        out[4].(*big.Int).Uint64(),
		Status:       ChannelStatus(out[5].(uint8)),
		ChallengeEnd: out[6].(*big.Int).Uint64(),
	}
	if record.Status == ChannelNone {
		return ChannelRecord{}, xerrors.New(xerrors.CodeChannelNotFound, "no channel with this id")
	}
	return record, nil
}
