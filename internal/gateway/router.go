package gateway

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	xerrors "github.com/JaroAI777/synaps1/internal/errors"
)

// PaymentResult reports a settled direct payment.
type PaymentResult struct {
	TxHash    common.Hash
	PaymentID [32]byte
	Amount    *big.Int
	Fee       *big.Int
}

// PaymentEvent is the decoded Payment log.
type PaymentEvent struct {
	Sender    common.Address
	Recipient common.Address
	Amount    *big.Int
	Fee       *big.Int
	PaymentId [32]byte
}

// EscrowCreatedEvent is the decoded EscrowCreated log.
type EscrowCreatedEvent struct {
	EscrowId  [32]byte
	Sender    common.Address
	Recipient common.Address
	Amount    *big.Int
	Deadline  *big.Int
}

// StreamCreatedEvent is the decoded StreamCreated log.
type StreamCreatedEvent struct {
	StreamId    [32]byte
	Sender      common.Address
	Recipient   common.Address
	TotalAmount *big.Int
	StartTime   *big.Int
	EndTime     *big.Int
}

// RouterContract binds the payment router at one address.
type RouterContract struct {
	client  *Client
	address common.Address
	now     func() time.Time
}

// RouterOption customizes a RouterContract.
type RouterOption func(*RouterContract)

// WithRouterClock replaces the payment id clock, used by tests.
func WithRouterClock(now func() time.Time) RouterOption {
	return func(rc *RouterContract) { rc.now = now }
}

// NewRouterContract binds the payment router at address.
func NewRouterContract(client *Client, address common.Address, opts ...RouterOption) *RouterContract {
	rc := &RouterContract{client: client, address: address, now: time.Now}
	for _, opt := range opts {
		opt(rc)
	}
	return rc
}

// Address returns the bound contract address.
func (rc *RouterContract) Address() common.Address {
	return rc.address
}

// NewPaymentID derives a payment id from the clock and the sender.
// Ids only need to be unique per sender; the contract rejects replays.
func (rc *RouterContract) NewPaymentID() [32]byte {
	return crypto.Keccak256Hash(
		[]byte(fmt.Sprintf("pay-%d-%s", rc.now().UnixNano(), rc.sender().Hex())),
	)
}

func (rc *RouterContract) sender() common.Address {
	return rc.client.Signer().Address()
}

// Pay sends a direct payment through the router. The protocol fee is
// read back from the Payment event; a receipt without one reports a
// zero fee.
func (rc *RouterContract) Pay(ctx context.Context, recipient common.Address, value *big.Int, metadata []byte) (*PaymentResult, error) {
	if metadata == nil {
		metadata = []byte{}
	}
	paymentID := rc.NewPaymentID()
	receipt, err := rc.client.Transact(ctx, rc.address, RouterABI, "pay", nil, recipient, value, paymentID, metadata)
	if err != nil {
		return nil, err
	}

	result := &PaymentResult{
		TxHash:    receipt.TxHash,
		PaymentID: paymentID,
		Amount:    value,
		Fee:       big.NewInt(0),
	}
	for _, log := range receipt.Logs {
		var event PaymentEvent
		ok, err := ParseLog(RouterABI, "Payment", log, &event)
		if err != nil {
			return nil, err
		}
		if ok && event.PaymentId == paymentID {
			result.Fee = event.Fee
			break
		}
	}
	return result, nil
}

// BatchPay settles several payments in one transaction. Each recipient
// gets its own payment id.
func (rc *RouterContract) BatchPay(ctx context.Context, recipients []common.Address, values []*big.Int) (common.Hash, [][32]byte, error) {
	if len(recipients) == 0 {
		return common.Hash{}, nil, xerrors.New(xerrors.CodeContract, "batch payment needs at least one recipient")
	}
	if len(recipients) != len(values) {
		return common.Hash{}, nil, xerrors.New(xerrors.CodeContract, "recipient and amount counts differ")
	}

	sender := rc.sender()
	paymentIDs := make([][32]byte, len(recipients))
	metadata := make([][]byte, len(recipients))
	for i := range recipients {
		paymentIDs[i] = crypto.Keccak256Hash(
			[]byte(fmt.Sprintf("pay-%d-%d-%s", rc.now().UnixNano(), i, sender.Hex())),
		)
		metadata[i] = []byte{}
	}

	receipt, err := rc.client.Transact(ctx, rc.address, RouterABI, "batchPay", nil, recipients, values, paymentIDs, metadata)
	if err != nil {
		return common.Hash{}, nil, err
	}
	return receipt.TxHash, paymentIDs, nil
}

// CreateEscrow locks value with the router until the recipient is paid
// out or the deadline passes. Arbiter may be the zero address.
func (rc *RouterContract) CreateEscrow(ctx context.Context, recipient, arbiter common.Address, value *big.Int, deadline time.Time, metadata []byte) (common.Hash, [32]byte, error) {
	if metadata == nil {
		metadata = []byte{}
	}
	escrowID := crypto.Keccak256Hash(
		[]byte(fmt.Sprintf("escrow-%d-%s", rc.now().UnixNano(), rc.sender().Hex())),
	)
	receipt, err := rc.client.Transact(ctx, rc.address, RouterABI, "createEscrow", nil,
		recipient, arbiter, value, big.NewInt(deadline.Unix()), escrowID, metadata)
	if err != nil {
		return common.Hash{}, [32]byte{}, err
	}
	return receipt.TxHash, escrowID, nil
}

// ReleaseEscrow pays the escrowed funds to the recipient.
func (rc *RouterContract) ReleaseEscrow(ctx context.Context, escrowID [32]byte) (common.Hash, error) {
	receipt, err := rc.client.Transact(ctx, rc.address, RouterABI, "releaseEscrow", nil, escrowID)
	if err != nil {
		return common.Hash{}, err
	}
	return receipt.TxHash, nil
}

// RefundEscrow returns the escrowed funds to the sender.
func (rc *RouterContract) RefundEscrow(ctx context.Context, escrowID [32]byte) (common.Hash, error) {
	receipt, err := rc.client.Transact(ctx, rc.address, RouterABI, "refundEscrow", nil, escrowID)
	if err != nil {
		return common.Hash{}, err
	}
	return receipt.TxHash, nil
}

// CreateStream starts a payment that vests linearly from start to end.
func (rc *RouterContract) CreateStream(ctx context.Context, recipient common.Address, total *big.Int, start, end time.Time) (common.Hash, [32]byte, error) {
	if !end.After(start) {
		return common.Hash{}, [32]byte{}, xerrors.New(xerrors.CodeContract, "stream must end after it starts")
	}
	streamID := crypto.Keccak256Hash(
		[]byte(fmt.Sprintf("stream-%d-%s", rc.now().UnixNano(), rc.sender().Hex())),
	)
	receipt, err := rc.client.Transact(ctx, rc.address, RouterABI, "createStream", nil,
		recipient, total, big.NewInt(start.Unix()), big.NewInt(end.Unix()), streamID)
	if err != nil {
		return common.Hash{}, [32]byte{}, err
	}
	return receipt.TxHash, streamID, nil
}
