// Package channel implements the off-chain payment channel protocol:
// state negotiation, signature exchange, persistence and the watchtower
// that guards unilateral closes.
package channel

import (
	"bytes"
	"encoding/hex"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/JaroAI777/synaps1/internal/codec"
	xerrors "github.com/JaroAI777/synaps1/internal/errors"
	"github.com/JaroAI777/synaps1/internal/wallet"
)

// Pair is an ordered participant pair. Participant1 always holds the
// lower address so both sides derive the same channel id and signature
// slots.
type Pair struct {
	Participant1 common.Address
	Participant2 common.Address
}

// NewPair orders two addresses into their canonical slots.
func NewPair(a, b common.Address) (Pair, error) {
	if a == b {
		return Pair{}, xerrors.New(xerrors.CodeInvalidStateTransition, "channel participants must differ")
	}
	lo, hi := codec.CanonicalPair(a, b)
	return Pair{Participant1: lo, Participant2: hi}, nil
}

// ChannelID derives the canonical channel id for the pair.
func (p Pair) ChannelID() [32]byte {
	return codec.ChannelID(p.Participant1, p.Participant2)
}

// Contains reports whether addr is one of the two participants.
func (p Pair) Contains(addr common.Address) bool {
	return addr == p.Participant1 || addr == p.Participant2
}

// Other returns the counterparty of addr.
func (p Pair) Other(addr common.Address) common.Address {
	if addr == p.Participant1 {
		return p.Participant2
	}
	return p.Participant1
}

// IsFirst reports whether addr occupies the participant1 slot.
func (p Pair) IsFirst(addr common.Address) bool {
	return addr == p.Participant1
}

// State is one off-chain channel state. Balance1 belongs to
// participant1, balance2 to participant2.
type State struct {
	ChannelID [32]byte
	Balance1  *big.Int
	Balance2  *big.Int
	Nonce     uint64
}

// Digest returns the canonical 32-byte digest both parties sign.
func (s State) Digest() [32]byte {
	return codec.StateDigest(s.ChannelID, s.Balance1, s.Balance2, s.Nonce)
}

// Total returns balance1 + balance2.
func (s State) Total() *big.Int {
	total := new(big.Int)
	if s.Balance1 != nil {
		total.Add(total, s.Balance1)
	}
	if s.Balance2 != nil {
		total.Add(total, s.Balance2)
	}
	return total
}

// Clone deep-copies the state.
func (s State) Clone() State {
	out := State{ChannelID: s.ChannelID, Nonce: s.Nonce}
	if s.Balance1 != nil {
		out.Balance1 = new(big.Int).Set(s.Balance1)
	}
	if s.Balance2 != nil {
		out.Balance2 = new(big.Int).Set(s.Balance2)
	}
	return out
}

// Validate checks structural soundness of the state.
func (s State) Validate() error {
	if s.Balance1 == nil || s.Balance2 == nil {
		return xerrors.New(xerrors.CodeInvalidStateTransition, "state balances must be set")
	}
	if s.Balance1.Sign() < 0 || s.Balance2.Sign() < 0 {
		return xerrors.New(xerrors.CodeInvalidStateTransition, "state balances must not be negative")
	}
	return nil
}

// SignedState is a state carrying signatures in participant slots: Sig1
// from participant1 and Sig2 from participant2. The deposit snapshot at
// nonce zero carries no signatures.
type SignedState struct {
	State State
	Sig1  []byte
	Sig2  []byte
}

// Countersigned reports whether both participant signatures are present.
func (ss SignedState) Countersigned() bool {
	return len(ss.Sig1) == wallet.SignatureLength && len(ss.Sig2) == wallet.SignatureLength
}

// Verify checks both signatures against the participant pair.
func (ss SignedState) Verify(pair Pair) error {
	if !ss.Countersigned() {
		return xerrors.New(xerrors.CodeInvalidSignature, "state is not countersigned")
	}
	digest := ss.State.Digest()
	if err := verifySlot(digest, ss.Sig1, pair.Participant1); err != nil {
		return err
	}
	return verifySlot(digest, ss.Sig2, pair.Participant2)
}

// Clone deep-copies the signed state.
func (ss SignedState) Clone() SignedState {
	return SignedState{
		State: ss.State.Clone(),
		Sig1:  bytes.Clone(ss.Sig1),
		Sig2:  bytes.Clone(ss.Sig2),
	}
}

func verifySlot(digest [32]byte, sig []byte, expected common.Address) error {
	recovered, err := wallet.RecoverSigner(digest, sig)
	if err != nil {
		return err
	}
	if recovered != expected {
		return xerrors.New(xerrors.CodeInvalidSignature, "signature does not match participant",
			xerrors.WithMetadata("expected", expected.Hex()),
			xerrors.WithMetadata("recovered", recovered.Hex()))
	}
	return nil
}

func channelIDHex(id [32]byte) string {
	return "0x" + hex.EncodeToString(id[:])
}
