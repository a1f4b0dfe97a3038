package channel

import (
	"bytes"
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"

	xerrors "github.com/JaroAI777/synaps1/internal/errors"
	"github.com/JaroAI777/synaps1/internal/gateway"
	"github.com/JaroAI777/synaps1/internal/wallet"
)

// testChannel is a pair of machines sharing one open channel. first is
// always the participant1 (lower address) side.
type testChannel struct {
	first, second   *Machine
	firstS, secondS *Session
	pair            Pair
}

func newTestChannel(t *testing.T, balance1, balance2 int64) *testChannel {
	t.Helper()
	key1, _ := crypto.GenerateKey()
	key2, _ := crypto.GenerateKey()
	a := wallet.FromKey(key1)
	b := wallet.FromKey(key2)

	pair, err := NewPair(a.Address(), b.Address())
	if err != nil {
		t.Fatalf("pair: %v", err)
	}
	signers := map[bool]*wallet.Signer{true: a, false: b}
	firstSigner := signers[pair.IsFirst(a.Address())]
	secondSigner := signers[!pair.IsFirst(a.Address())]

	first := NewMachine(firstSigner, NewMemoryStore())
	second := NewMachine(secondSigner, NewMemoryStore())

	record := gateway.ChannelRecord{
		ChannelID:    pair.ChannelID(),
		Participant1: pair.Participant1,
		Participant2: pair.Participant2,
		Balance1:     big.NewInt(balance1),
		Balance2:     big.NewInt(balance2),
		Nonce:        0,
		Status:       gateway.ChannelOpen,
	}
	firstS, err := first.Track(record)
	if err != nil {
		t.Fatalf("track first: %v", err)
	}
	secondS, err := second.Track(record)
	if err != nil {
		t.Fatalf("track second: %v", err)
	}
	return &testChannel{first: first, second: second, firstS: firstS, secondS: secondS, pair: pair}
}

func TestPaymentNegotiationHappyPath(t *testing.T) {
	tc := newTestChannel(t, 100, 100)
	ctx := context.Background()

	proposal, err := tc.firstS.ProposePayment(big.NewInt(30))
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	if proposal.State.Nonce != 1 {
		t.Fatalf("proposal nonce %d, want 1", proposal.State.Nonce)
	}

	acceptance, err := tc.secondS.HandleProposal(ctx, proposal)
	if err != nil {
		t.Fatalf("handle proposal: %v", err)
	}
	if err := tc.firstS.CommitAcceptance(ctx, acceptance); err != nil {
		t.Fatalf("commit acceptance: %v", err)
	}

	for name, session := range map[string]*Session{"first": tc.firstS, "second": tc.secondS} {
		latest := session.Latest()
		if latest.State.Nonce != 1 {
			t.Fatalf("%s nonce %d, want 1", name, latest.State.Nonce)
		}
		if latest.State.Balance1.Cmp(big.NewInt(70)) != 0 || latest.State.Balance2.Cmp(big.NewInt(130)) != 0 {
			t.Fatalf("%s balances %s/%s, want 70/130", name, latest.State.Balance1, latest.State.Balance2)
		}
		if !latest.Countersigned() {
			t.Fatalf("%s state not countersigned", name)
		}
		if err := latest.Verify(tc.pair); err != nil {
			t.Fatalf("%s signatures invalid: %v", name, err)
		}
	}
	if tc.firstS.Latest().State.Digest() != tc.secondS.Latest().State.Digest() {
		t.Fatalf("sides diverged")
	}
}

func TestMultipleSequentialPayments(t *testing.T) {
	tc := newTestChannel(t, 100, 0)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		proposal, err := tc.firstS.ProposePayment(big.NewInt(10))
		if err != nil {
			t.Fatalf("propose %d: %v", i, err)
		}
		acceptance, err := tc.secondS.HandleProposal(ctx, proposal)
		if err != nil {
			t.Fatalf("handle %d: %v", i, err)
		}
		if err := tc.firstS.CommitAcceptance(ctx, acceptance); err != nil {
			t.Fatalf("commit %d: %v", i, err)
		}
	}
	latest := tc.firstS.Latest()
	if latest.State.Nonce != 3 {
		t.Fatalf("nonce %d, want 3", latest.State.Nonce)
	}
	if latest.State.Balance1.Cmp(big.NewInt(70)) != 0 || latest.State.Balance2.Cmp(big.NewInt(30)) != 0 {
		t.Fatalf("balances %s/%s, want 70/30", latest.State.Balance1, latest.State.Balance2)
	}

	// Payment back in the other direction.
	proposal, err := tc.secondS.ProposePayment(big.NewInt(5))
	if err != nil {
		t.Fatalf("propose back: %v", err)
	}
	acceptance, err := tc.firstS.HandleProposal(ctx, proposal)
	if err != nil {
		t.Fatalf("handle back: %v", err)
	}
	if err := tc.secondS.CommitAcceptance(ctx, acceptance); err != nil {
		t.Fatalf("commit back: %v", err)
	}
	latest = tc.secondS.Latest()
	if latest.State.Balance1.Cmp(big.NewInt(75)) != 0 || latest.State.Balance2.Cmp(big.NewInt(25)) != 0 {
		t.Fatalf("balances %s/%s, want 75/25", latest.State.Balance1, latest.State.Balance2)
	}
}

func TestProposeInsufficientBalance(t *testing.T) {
	tc := newTestChannel(t, 10, 10)
	if _, err := tc.firstS.ProposePayment(big.NewInt(11)); err == nil {
		t.Fatalf("overdraft accepted")
	} else if xerrors.CodeOf(err) != xerrors.CodeInsufficientBalance {
		t.Fatalf("overdraft error %s", xerrors.CodeOf(err))
	}
	// Exactly the full balance is fine.
	if _, err := tc.firstS.ProposePayment(big.NewInt(10)); err != nil {
		t.Fatalf("full-balance payment rejected: %v", err)
	}
}

func TestProposeRejectsZeroAndNil(t *testing.T) {
	tc := newTestChannel(t, 10, 10)
	if _, err := tc.firstS.ProposePayment(big.NewInt(0)); err == nil {
		t.Fatalf("zero payment accepted")
	}
	if _, err := tc.firstS.ProposePayment(nil); err == nil {
		t.Fatalf("nil payment accepted")
	}
	if _, err := tc.firstS.ProposePayment(big.NewInt(-3)); err == nil {
		t.Fatalf("negative payment accepted")
	}
}

func TestSecondProposalWhilePending(t *testing.T) {
	tc := newTestChannel(t, 100, 100)
	if _, err := tc.firstS.ProposePayment(big.NewInt(1)); err != nil {
		t.Fatalf("first propose: %v", err)
	}
	if _, err := tc.firstS.ProposePayment(big.NewInt(1)); err == nil {
		t.Fatalf("second propose while pending accepted")
	} else if xerrors.CodeOf(err) != xerrors.CodeInvalidStateTransition {
		t.Fatalf("pending error %s", xerrors.CodeOf(err))
	}
}

func TestHandleProposalRejectsStaleNonce(t *testing.T) {
	tc := newTestChannel(t, 100, 100)
	ctx := context.Background()

	proposal, err := tc.firstS.ProposePayment(big.NewInt(10))
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	acceptance, err := tc.secondS.HandleProposal(ctx, proposal)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if err := tc.firstS.CommitAcceptance(ctx, acceptance); err != nil {
		t.Fatalf("commit: %v", err)
	}

	// Replay of the already agreed nonce must be rejected.
	if _, err := tc.secondS.HandleProposal(ctx, proposal); err == nil {
		t.Fatalf("nonce replay accepted")
	} else if xerrors.CodeOf(err) != xerrors.CodeInvalidStateTransition {
		t.Fatalf("replay error %s", xerrors.CodeOf(err))
	}
}

func TestHandleProposalRejectsGapNonce(t *testing.T) {
	tc := newTestChannel(t, 100, 100)
	ctx := context.Background()

	// Correctly signed and conserving, but skips nonce 1.
	state := State{
		ChannelID: tc.pair.ChannelID(),
		Balance1:  big.NewInt(90),
		Balance2:  big.NewInt(110),
		Nonce:     3,
	}
	sig, err := tc.first.signer.SignDigest(state.Digest())
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	skipped := &Update{ID: "gap", Proposer: tc.first.Self(), State: state, Sig: sig}
	if _, err := tc.secondS.HandleProposal(ctx, skipped); err == nil {
		t.Fatalf("gap nonce accepted")
	} else if xerrors.CodeOf(err) != xerrors.CodeInvalidStateTransition {
		t.Fatalf("gap error %s", xerrors.CodeOf(err))
	}
	if got := tc.secondS.Latest().State.Nonce; got != 0 {
		t.Fatalf("agreed nonce moved to %d", got)
	}
}

func TestHandleProposalRejectsConservationViolation(t *testing.T) {
	tc := newTestChannel(t, 100, 100)
	ctx := context.Background()

	state := State{
		ChannelID: tc.pair.ChannelID(),
		Balance1:  big.NewInt(100),
		Balance2:  big.NewInt(150),
		Nonce:     1,
	}
	sig, err := tc.first.signer.SignDigest(state.Digest())
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	inflated := &Update{ID: "x", Proposer: tc.first.Self(), State: state, Sig: sig}
	if _, err := tc.secondS.HandleProposal(ctx, inflated); err == nil {
		t.Fatalf("fund inflation accepted")
	} else if xerrors.CodeOf(err) != xerrors.CodeInvalidStateTransition {
		t.Fatalf("conservation error %s", xerrors.CodeOf(err))
	}
}

func TestHandleProposalRejectsBadSignature(t *testing.T) {
	tc := newTestChannel(t, 100, 100)
	ctx := context.Background()

	proposal, err := tc.firstS.ProposePayment(big.NewInt(10))
	if err != nil {
		t.Fatalf("propose: %v", err)
	}

	// Signature from a third party.
	strangerKey, _ := crypto.GenerateKey()
	stranger := wallet.FromKey(strangerKey)
	forged := *proposal
	forged.Sig, _ = stranger.SignDigest(proposal.State.Digest())
	if _, err := tc.secondS.HandleProposal(ctx, &forged); err == nil {
		t.Fatalf("forged signature accepted")
	} else if xerrors.CodeOf(err) != xerrors.CodeInvalidSignature {
		t.Fatalf("forgery error %s", xerrors.CodeOf(err))
	}

	// State tampered after signing.
	tampered := *proposal
	tampered.State = proposal.State.Clone()
	tampered.State.Balance1 = new(big.Int).Add(tampered.State.Balance1, big.NewInt(1))
	tampered.State.Balance2 = new(big.Int).Sub(tampered.State.Balance2, big.NewInt(1))
	if _, err := tc.secondS.HandleProposal(ctx, &tampered); err == nil {
		t.Fatalf("tampered state accepted")
	}
}

func TestCommitAcceptanceRejectsMismatch(t *testing.T) {
	tc := newTestChannel(t, 100, 100)
	ctx := context.Background()

	if err := tc.firstS.CommitAcceptance(ctx, &Update{ID: "none"}); err == nil {
		t.Fatalf("commit without pending accepted")
	}

	proposal, err := tc.firstS.ProposePayment(big.NewInt(10))
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	acceptance, err := tc.secondS.HandleProposal(ctx, proposal)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}

	// Acceptance signed over a different state must not commit.
	wrong := *acceptance
	wrong.State = acceptance.State.Clone()
	wrong.State.Nonce++
	if err := tc.firstS.CommitAcceptance(ctx, &wrong); err == nil {
		t.Fatalf("mismatched acceptance committed")
	}

	if err := tc.firstS.CommitAcceptance(ctx, acceptance); err != nil {
		t.Fatalf("genuine acceptance rejected: %v", err)
	}
}

func TestSimultaneousProposeTieBreak(t *testing.T) {
	tc := newTestChannel(t, 100, 100)
	ctx := context.Background()

	fromFirst, err := tc.firstS.ProposePayment(big.NewInt(10))
	if err != nil {
		t.Fatalf("first propose: %v", err)
	}
	fromSecond, err := tc.secondS.ProposePayment(big.NewInt(20))
	if err != nil {
		t.Fatalf("second propose: %v", err)
	}
	if fromFirst.State.Nonce != fromSecond.State.Nonce {
		t.Fatalf("test setup: nonces differ")
	}

	// The participant1 side wins the tie-break and rejects the
	// counterparty's concurrent proposal.
	if _, err := tc.firstS.HandleProposal(ctx, fromSecond); err == nil {
		t.Fatalf("participant1 accepted the losing proposal")
	} else if xerrors.CodeOf(err) != xerrors.CodeInvalidStateTransition {
		t.Fatalf("tie-break error %s", xerrors.CodeOf(err))
	}

	// The participant2 side loses: it drops its own proposal and
	// accepts the winner's.
	acceptance, err := tc.secondS.HandleProposal(ctx, fromFirst)
	if err != nil {
		t.Fatalf("participant2 did not yield: %v", err)
	}
	if err := tc.firstS.CommitAcceptance(ctx, acceptance); err != nil {
		t.Fatalf("commit winner: %v", err)
	}

	// The loser re-proposes on top of the winner's state.
	reproposed, err := tc.secondS.ProposePayment(big.NewInt(20))
	if err != nil {
		t.Fatalf("re-propose: %v", err)
	}
	if reproposed.State.Nonce != fromFirst.State.Nonce+1 {
		t.Fatalf("re-proposal nonce %d, want %d", reproposed.State.Nonce, fromFirst.State.Nonce+1)
	}
	acceptance, err = tc.firstS.HandleProposal(ctx, reproposed)
	if err != nil {
		t.Fatalf("handle re-proposal: %v", err)
	}
	if err := tc.secondS.CommitAcceptance(ctx, acceptance); err != nil {
		t.Fatalf("commit re-proposal: %v", err)
	}

	latest := tc.secondS.Latest()
	if latest.State.Nonce != 2 {
		t.Fatalf("final nonce %d, want 2", latest.State.Nonce)
	}
	if latest.State.Balance1.Cmp(big.NewInt(110)) != 0 || latest.State.Balance2.Cmp(big.NewInt(90)) != 0 {
		t.Fatalf("final balances %s/%s, want 110/90", latest.State.Balance1, latest.State.Balance2)
	}
}

func TestOperationsRequireOpenChannel(t *testing.T) {
	tc := newTestChannel(t, 100, 100)
	ctx := context.Background()

	tc.firstS.setStatus(gateway.ChannelClosing, 9999)
	if _, err := tc.firstS.ProposePayment(big.NewInt(1)); err == nil {
		t.Fatalf("propose on closing channel accepted")
	} else if xerrors.CodeOf(err) != xerrors.CodeChannelNotOpen {
		t.Fatalf("closing error %s", xerrors.CodeOf(err))
	}

	proposal, err := tc.secondS.ProposePayment(big.NewInt(1))
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	if _, err := tc.firstS.HandleProposal(ctx, proposal); err == nil {
		t.Fatalf("handle on closing channel accepted")
	}
}

func TestAddFunds(t *testing.T) {
	tc := newTestChannel(t, 100, 100)
	ctx := context.Background()

	// Agree one state so signatures exist.
	proposal, _ := tc.firstS.ProposePayment(big.NewInt(10))
	acceptance, err := tc.secondS.HandleProposal(ctx, proposal)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if err := tc.firstS.CommitAcceptance(ctx, acceptance); err != nil {
		t.Fatalf("commit: %v", err)
	}

	if err := tc.firstS.AddFunds(tc.pair.Participant1, big.NewInt(50)); err != nil {
		t.Fatalf("add funds: %v", err)
	}
	latest := tc.firstS.Latest()
	if latest.State.Balance1.Cmp(big.NewInt(140)) != 0 {
		t.Fatalf("funded balance %s, want 140", latest.State.Balance1)
	}
	if latest.Countersigned() {
		t.Fatalf("old signatures survived a funding change")
	}

	// The next negotiated state conserves the new total.
	if err := tc.secondS.AddFunds(tc.pair.Participant1, big.NewInt(50)); err != nil {
		t.Fatalf("mirror funds: %v", err)
	}
	next, err := tc.firstS.ProposePayment(big.NewInt(40))
	if err != nil {
		t.Fatalf("propose after funding: %v", err)
	}
	if _, err := tc.secondS.HandleProposal(ctx, next); err != nil {
		t.Fatalf("handle after funding: %v", err)
	}
}

func TestTrackRejectsForeignChannel(t *testing.T) {
	key1, _ := crypto.GenerateKey()
	key2, _ := crypto.GenerateKey()
	key3, _ := crypto.GenerateKey()
	outsider := NewMachine(wallet.FromKey(key3), NewMemoryStore())

	a := wallet.FromKey(key1).Address()
	b := wallet.FromKey(key2).Address()
	pair, _ := NewPair(a, b)
	record := gateway.ChannelRecord{
		ChannelID:    pair.ChannelID(),
		Participant1: pair.Participant1,
		Participant2: pair.Participant2,
		Balance1:     big.NewInt(1),
		Balance2:     big.NewInt(1),
		Status:       gateway.ChannelOpen,
	}
	if _, err := outsider.Track(record); err == nil {
		t.Fatalf("outsider tracked a foreign channel")
	}
}

func TestRestoreLoadsNewerStoredState(t *testing.T) {
	tc := newTestChannel(t, 100, 100)
	ctx := context.Background()

	proposal, _ := tc.firstS.ProposePayment(big.NewInt(25))
	acceptance, err := tc.secondS.HandleProposal(ctx, proposal)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if err := tc.firstS.CommitAcceptance(ctx, acceptance); err != nil {
		t.Fatalf("commit: %v", err)
	}
	agreed := tc.firstS.Latest()

	// A fresh machine over the same store starts from the chain record
	// and recovers the negotiated state from persistence.
	revived := NewMachine(tc.first.signer, tc.first.store)
	record := gateway.ChannelRecord{
		ChannelID:    tc.pair.ChannelID(),
		Participant1: tc.pair.Participant1,
		Participant2: tc.pair.Participant2,
		Balance1:     big.NewInt(100),
		Balance2:     big.NewInt(100),
		Nonce:        0,
		Status:       gateway.ChannelOpen,
	}
	session, err := revived.Track(record)
	if err != nil {
		t.Fatalf("track: %v", err)
	}
	if err := revived.Restore(ctx); err != nil {
		t.Fatalf("restore: %v", err)
	}
	latest := session.Latest()
	if latest.State.Nonce != agreed.State.Nonce {
		t.Fatalf("restored nonce %d, want %d", latest.State.Nonce, agreed.State.Nonce)
	}
	if !bytes.Equal(latest.Sig1, agreed.Sig1) || !bytes.Equal(latest.Sig2, agreed.Sig2) {
		t.Fatalf("restored signatures differ")
	}
}
