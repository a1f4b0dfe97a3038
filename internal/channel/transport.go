package channel

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	xerrors "github.com/JaroAI777/synaps1/internal/errors"
)

// Kind discriminates channel update messages on the wire.
type Kind string

const (
	KindProposal   Kind = "proposal"
	KindAcceptance Kind = "acceptance"
	KindRejection  Kind = "rejection"
)

// Envelope is one channel protocol message. Proposals and acceptances
// carry a state and signature; rejections carry an error code and
// reason, correlated to the proposal by ID.
type Envelope struct {
	ID        string
	Kind      Kind
	ChannelID [32]byte
	Sender    common.Address
	State     *State
	Sig       []byte
	Code      xerrors.Code
	Reason    string
	SentAt    int64
}

// Handler processes one received envelope.
type Handler func(ctx context.Context, env Envelope) error

// Producer publishes envelopes to the counterparty.
type Producer interface {
	Publish(ctx context.Context, env Envelope) error
	Close() error
}

// Consumer delivers incoming envelopes to a handler.
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Transport carries channel updates in both directions.
type Transport interface {
	Producer
	Consumer
}

// ProposalEnvelope wraps an outgoing proposal.
func ProposalEnvelope(u *Update) Envelope {
	return updateEnvelope(KindProposal, u)
}

// AcceptanceEnvelope wraps an outgoing acceptance.
func AcceptanceEnvelope(u *Update) Envelope {
	return updateEnvelope(KindAcceptance, u)
}

func updateEnvelope(kind Kind, u *Update) Envelope {
	state := u.State.Clone()
	return Envelope{
		ID:        u.ID,
		Kind:      kind,
		ChannelID: u.State.ChannelID,
		Sender:    u.Proposer,
		State:     &state,
		Sig:       u.Sig,
		SentAt:    time.Now().Unix(),
	}
}

// RejectionEnvelope wraps a typed rejection of proposalID.
func RejectionEnvelope(proposalID string, channelID [32]byte, sender common.Address, err error) Envelope {
	return Envelope{
		ID:        proposalID,
		Kind:      KindRejection,
		ChannelID: channelID,
		Sender:    sender,
		Code:      xerrors.CodeOf(err),
		Reason:    err.Error(),
		SentAt:    time.Now().Unix(),
	}
}

// Update converts a proposal or acceptance envelope back into an Update.
func (e Envelope) Update() (*Update, error) {
	if e.Kind != KindProposal && e.Kind != KindAcceptance {
		return nil, xerrors.New(xerrors.CodeTransportFailure, "envelope carries no state update")
	}
	if e.State == nil {
		return nil, xerrors.New(xerrors.CodeTransportFailure, "envelope is missing its state")
	}
	return &Update{
		ID:       e.ID,
		Proposer: e.Sender,
		State:    e.State.Clone(),
		Sig:      e.Sig,
	}, nil
}

type wireEnvelope struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	ChannelID string `json:"channel_id"`
	Sender    string `json:"sender"`
	Balance1  string `json:"balance1,omitempty"`
	Balance2  string `json:"balance2,omitempty"`
	Nonce     uint64 `json:"nonce,omitempty"`
	Sig       string `json:"sig,omitempty"`
	Code      string `json:"code,omitempty"`
	Reason    string `json:"reason,omitempty"`
	SentAt    int64  `json:"sent_at"`
}

// EncodeEnvelope serializes an envelope for the wire.
func EncodeEnvelope(env Envelope) ([]byte, error) {
	wire := wireEnvelope{
		ID:        env.ID,
		Kind:      string(env.Kind),
		ChannelID: channelIDHex(env.ChannelID),
		Sender:    env.Sender.Hex(),
		Code:      string(env.Code),
		Reason:    env.Reason,
		SentAt:    env.SentAt,
	}
	if env.State != nil {
		wire.Balance1 = env.State.Balance1.String()
		wire.Balance2 = env.State.Balance2.String()
		wire.Nonce = env.State.Nonce
	}
	if len(env.Sig) > 0 {
		wire.Sig = "0x" + hex.EncodeToString(env.Sig)
	}
	raw, err := json.Marshal(wire)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeTransportFailure, err, "encode envelope")
	}
	return raw, nil
}

// DecodeEnvelope parses a wire payload back into an envelope.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var wire wireEnvelope
	if err := json.Unmarshal(raw, &wire); err != nil {
		return Envelope{}, xerrors.Wrap(xerrors.CodeTransportFailure, err, "decode envelope")
	}

	env := Envelope{
		ID:     wire.ID,
		Kind:   Kind(wire.Kind),
		Sender: common.HexToAddress(wire.Sender),
		Code:   xerrors.Code(wire.Code),
		Reason: wire.Reason,
		SentAt: wire.SentAt,
	}

	rawID, err := hex.DecodeString(strings.TrimPrefix(wire.ChannelID, "0x"))
	if err != nil || len(rawID) != 32 {
		return Envelope{}, xerrors.New(xerrors.CodeTransportFailure, "envelope has a malformed channel id")
	}
	copy(env.ChannelID[:], rawID)

	if wire.Balance1 != "" || wire.Balance2 != "" {
		b1, ok := new(big.Int).SetString(wire.Balance1, 10)
		if !ok {
			return Envelope{}, xerrors.New(xerrors.CodeTransportFailure, "envelope has a malformed balance1")
		}
		b2, ok := new(big.Int).SetString(wire.Balance2, 10)
		if !ok {
			return Envelope{}, xerrors.New(xerrors.CodeTransportFailure, "envelope has a malformed balance2")
		}
		env.State = &State{
			ChannelID: env.ChannelID,
			Balance1:  b1,
			Balance2:  b2,
			Nonce:     wire.Nonce,
		}
	}

	if wire.Sig != "" {
		sig, err := hex.DecodeString(strings.TrimPrefix(wire.Sig, "0x"))
		if err != nil {
			return Envelope{}, xerrors.New(xerrors.CodeTransportFailure, "envelope has a malformed signature")
		}
		env.Sig = sig
	}
	return env, nil
}
