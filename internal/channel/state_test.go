package channel

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/JaroAI777/synaps1/internal/codec"
	xerrors "github.com/JaroAI777/synaps1/internal/errors"
	"github.com/JaroAI777/synaps1/internal/wallet"
)

func TestNewPairCanonicalOrder(t *testing.T) {
	lo := common.HexToAddress("0x1111111111111111111111111111111111111111")
	hi := common.HexToAddress("0x2222222222222222222222222222222222222222")

	forward, err := NewPair(lo, hi)
	if err != nil {
		t.Fatalf("pair: %v", err)
	}
	reverse, err := NewPair(hi, lo)
	if err != nil {
		t.Fatalf("pair: %v", err)
	}
	if forward != reverse {
		t.Fatalf("pair ordering depends on argument order: %+v vs %+v", forward, reverse)
	}
	if forward.Participant1 != lo || forward.Participant2 != hi {
		t.Fatalf("slots not canonical: %+v", forward)
	}
	if forward.ChannelID() != codec.ChannelID(lo, hi) {
		t.Fatalf("channel id does not match canonical derivation")
	}
	if !forward.IsFirst(lo) || forward.IsFirst(hi) {
		t.Fatalf("IsFirst broken")
	}
	if forward.Other(lo) != hi || forward.Other(hi) != lo {
		t.Fatalf("Other broken")
	}
}

func TestNewPairRejectsSelfChannel(t *testing.T) {
	addr := common.HexToAddress("0x1111111111111111111111111111111111111111")
	if _, err := NewPair(addr, addr); err == nil {
		t.Fatalf("self pair accepted")
	}
}

func TestStateDigestMatchesCodec(t *testing.T) {
	id := codec.Keccak([]byte("digest check"))
	state := State{ChannelID: id, Balance1: big.NewInt(70), Balance2: big.NewInt(30), Nonce: 4}
	if state.Digest() != codec.StateDigest(id, big.NewInt(70), big.NewInt(30), 4) {
		t.Fatalf("state digest diverges from canonical encoding")
	}
}

func TestStateValidate(t *testing.T) {
	id := codec.Keccak([]byte("validate"))
	good := State{ChannelID: id, Balance1: big.NewInt(1), Balance2: big.NewInt(0)}
	if err := good.Validate(); err != nil {
		t.Fatalf("valid state rejected: %v", err)
	}
	negative := State{ChannelID: id, Balance1: big.NewInt(-1), Balance2: big.NewInt(2)}
	if err := negative.Validate(); err == nil {
		t.Fatalf("negative balance accepted")
	}
	missing := State{ChannelID: id, Balance1: big.NewInt(1)}
	if err := missing.Validate(); err == nil {
		t.Fatalf("nil balance accepted")
	}
}

func TestSignedStateVerify(t *testing.T) {
	key1, _ := crypto.GenerateKey()
	key2, _ := crypto.GenerateKey()
	s1 := wallet.FromKey(key1)
	s2 := wallet.FromKey(key2)

	pair, err := NewPair(s1.Address(), s2.Address())
	if err != nil {
		t.Fatalf("pair: %v", err)
	}
	state := State{ChannelID: pair.ChannelID(), Balance1: big.NewInt(60), Balance2: big.NewInt(40), Nonce: 1}
	digest := state.Digest()

	slotSigner := map[common.Address]*wallet.Signer{
		s1.Address(): s1,
		s2.Address(): s2,
	}
	sig1, err := slotSigner[pair.Participant1].SignDigest(digest)
	if err != nil {
		t.Fatalf("sign slot1: %v", err)
	}
	sig2, err := slotSigner[pair.Participant2].SignDigest(digest)
	if err != nil {
		t.Fatalf("sign slot2: %v", err)
	}

	signed := SignedState{State: state, Sig1: sig1, Sig2: sig2}
	if !signed.Countersigned() {
		t.Fatalf("both signatures present but not countersigned")
	}
	if err := signed.Verify(pair); err != nil {
		t.Fatalf("verify: %v", err)
	}

	swapped := SignedState{State: state, Sig1: sig2, Sig2: sig1}
	if err := swapped.Verify(pair); err == nil {
		t.Fatalf("swapped slots verified")
	} else if xerrors.CodeOf(err) != xerrors.CodeInvalidSignature {
		t.Fatalf("swapped slots error %s", xerrors.CodeOf(err))
	}

	tampered := signed.Clone()
	tampered.State.Balance1 = big.NewInt(61)
	tampered.State.Balance2 = big.NewInt(39)
	if err := tampered.Verify(pair); err == nil {
		t.Fatalf("tampered balances verified")
	}

	partial := SignedState{State: state, Sig1: sig1}
	if partial.Countersigned() {
		t.Fatalf("single signature counted as countersigned")
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	key, _ := crypto.GenerateKey()
	signer := wallet.FromKey(key)
	id := codec.Keccak([]byte("envelope"))
	state := State{ChannelID: id, Balance1: big.NewInt(55), Balance2: big.NewInt(45), Nonce: 7}
	sig, err := signer.SignDigest(state.Digest())
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	update := &Update{ID: "corr-1", Proposer: signer.Address(), State: state, Sig: sig}
	env := ProposalEnvelope(update)

	raw, err := EncodeEnvelope(env)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeEnvelope(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Kind != KindProposal || decoded.ID != "corr-1" || decoded.Sender != signer.Address() {
		t.Fatalf("header mismatch: %+v", decoded)
	}
	back, err := decoded.Update()
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if back.State.Digest() != state.Digest() {
		t.Fatalf("state mutated through the wire")
	}
	if err := verifySlot(back.State.Digest(), back.Sig, signer.Address()); err != nil {
		t.Fatalf("signature mutated through the wire: %v", err)
	}
}

func TestRejectionEnvelope(t *testing.T) {
	id := codec.Keccak([]byte("rejection"))
	sender := common.HexToAddress("0x3333333333333333333333333333333333333333")
	cause := xerrors.New(xerrors.CodeInsufficientBalance, "channel balance too low")

	env := RejectionEnvelope("corr-9", id, sender, cause)
	raw, err := EncodeEnvelope(env)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeEnvelope(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Kind != KindRejection || decoded.Code != xerrors.CodeInsufficientBalance {
		t.Fatalf("rejection mismatch: %+v", decoded)
	}
	if _, err := decoded.Update(); err == nil {
		t.Fatalf("rejection converted to update")
	}
}

func TestDecodeEnvelopeRejectsGarbage(t *testing.T) {
	for _, raw := range []string{"", "{", `{"channel_id":"xyz"}`, `{"channel_id":"0x00","balance1":"a","balance2":"1"}`} {
		if _, err := DecodeEnvelope([]byte(raw)); err == nil {
			t.Fatalf("garbage %q accepted", raw)
		}
	}
}
