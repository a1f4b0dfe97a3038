package channel

import (
	"context"
	"log/slog"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	xerrors "github.com/JaroAI777/synaps1/internal/errors"
	"github.com/JaroAI777/synaps1/internal/gateway"
	"github.com/JaroAI777/synaps1/internal/wallet"
	"github.com/JaroAI777/synaps1/pkg/logger"
)

// Update is one half of a state negotiation on the wire: a proposal
// carrying the proposer's signature, or an acceptance carrying the
// responder's.
type Update struct {
	ID       string
	Proposer common.Address
	State    State
	Sig      []byte
}

// Machine tracks the negotiation sessions of every channel this party
// participates in.
type Machine struct {
	signer *wallet.Signer
	store  Store
	log    *slog.Logger

	mu       sync.RWMutex
	sessions map[[32]byte]*Session
}

// NewMachine builds a machine signing with signer and persisting agreed
// states to store.
func NewMachine(signer *wallet.Signer, store Store) *Machine {
	return &Machine{
		signer:   signer,
		store:    store,
		log:      logger.Named("channel"),
		sessions: make(map[[32]byte]*Session),
	}
}

// Self returns the local participant address.
func (m *Machine) Self() common.Address {
	return m.signer.Address()
}

// Track registers (or refreshes) a session from an on-chain channel
// record. An existing session keeps its negotiated state when it is
// newer than the chain's.
func (m *Machine) Track(record gateway.ChannelRecord) (*Session, error) {
	pair, err := NewPair(record.Participant1, record.Participant2)
	if err != nil {
		return nil, err
	}
	if !pair.Contains(m.Self()) {
		return nil, xerrors.New(xerrors.CodeChannelNotFound, "local key is not a participant of this channel")
	}

	id := pair.ChannelID()
	m.mu.Lock()
	defer m.mu.Unlock()

	if session, ok := m.sessions[id]; ok {
		session.syncRecord(record)
		return session, nil
	}

	session := &Session{
		machine: m,
		pair:    pair,
		status:  record.Status,
		total:   new(big.Int).Add(record.Balance1, record.Balance2),
		lastAgreed: SignedState{State: State{
			ChannelID: id,
			Balance1:  new(big.Int).Set(record.Balance1),
			Balance2:  new(big.Int).Set(record.Balance2),
			Nonce:     record.Nonce,
		}},
		challengeEnd: record.ChallengeEnd,
	}
	m.sessions[id] = session
	return session, nil
}

// Restore reloads persisted signed states into sessions. It is called
// once at startup before any new negotiation.
func (m *Machine) Restore(ctx context.Context) error {
	states, err := m.store.List(ctx)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, stored := range states {
		session, ok := m.sessions[stored.State.State.ChannelID]
		if !ok {
			continue
		}
		session.mu.Lock()
		if stored.State.State.Nonce > session.lastAgreed.State.Nonce {
			session.lastAgreed = stored.State.Clone()
		}
		session.mu.Unlock()
	}
	return nil
}

// Session returns the tracked session for channelID.
func (m *Machine) Session(channelID [32]byte) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[channelID]
	if !ok {
		return nil, xerrors.New(xerrors.CodeChannelNotFound, "channel is not tracked",
			xerrors.WithMetadata("channel_id", channelIDHex(channelID)))
	}
	return session, nil
}

// Sessions snapshots all tracked sessions.
func (m *Machine) Sessions() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		out = append(out, session)
	}
	return out
}

// Session is the negotiation state of one channel. All methods are safe
// for concurrent use.
type Session struct {
	machine *Machine
	pair    Pair

	mu           sync.Mutex
	status       gateway.ChannelStatus
	total        *big.Int
	lastAgreed   SignedState
	pending      *pendingUpdate
	challengeEnd uint64
}

type pendingUpdate struct {
	id      string
	state   State
	selfSig []byte
}

// Pair returns the participant pair.
func (s *Session) Pair() Pair {
	return s.pair
}

// ChannelID returns the canonical channel id.
func (s *Session) ChannelID() [32]byte {
	return s.pair.ChannelID()
}

// Counterparty returns the remote participant.
func (s *Session) Counterparty() common.Address {
	return s.pair.Other(s.machine.Self())
}

// Status returns the last known on-chain status.
func (s *Session) Status() gateway.ChannelStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// ChallengeEnd returns the unix deadline of a pending unilateral close,
// zero when no close is pending.
func (s *Session) ChallengeEnd() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.challengeEnd
}

// Latest returns the newest countersigned (or initial) state.
func (s *Session) Latest() SignedState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAgreed.Clone()
}

// Balance returns addr's balance in the latest agreed state.
func (s *Session) Balance(addr common.Address) *big.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pair.IsFirst(addr) {
		return new(big.Int).Set(s.lastAgreed.State.Balance1)
	}
	return new(big.Int).Set(s.lastAgreed.State.Balance2)
}

// ProposePayment builds, signs and pends a state that moves amount from
// the local balance to the counterparty.
func (s *Session) ProposePayment(amount *big.Int) (*Update, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, xerrors.New(xerrors.CodeInvalidStateTransition, "payment amount must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireOpen(); err != nil {
		return nil, err
	}
	if s.pending != nil {
		return nil, xerrors.New(xerrors.CodeInvalidStateTransition, "a proposal is already pending",
			xerrors.WithMetadata("pending_nonce", formatNonce(s.pending.state.Nonce)))
	}

	next := s.lastAgreed.State.Clone()
	next.Nonce++
	mine, theirs := s.slots(&next)
	if mine.Cmp(amount) < 0 {
		return nil, xerrors.New(xerrors.CodeInsufficientBalance, "channel balance too low",
			xerrors.WithMetadata("required", amount.String()),
			xerrors.WithMetadata("available", mine.String()))
	}
	mine.Sub(mine, amount)
	theirs.Add(theirs, amount)

	sig, err := s.machine.signer.SignDigest(next.Digest())
	if err != nil {
		return nil, err
	}
	update := &Update{
		ID:       uuid.NewString(),
		Proposer: s.machine.Self(),
		State:    next.Clone(),
		Sig:      sig,
	}
	s.pending = &pendingUpdate{id: update.ID, state: next, selfSig: sig}

	s.machine.log.Info("proposed channel update",
		slog.String("channel_id", channelIDHex(next.ChannelID)),
		slog.Uint64("nonce", next.Nonce),
		slog.String("amount", amount.String()))
	return update, nil
}

// HandleProposal validates a counterparty proposal and, when acceptable,
// countersigns it, records the new agreed state and returns the
// acceptance. Rejections come back as typed errors.
func (s *Session) HandleProposal(ctx context.Context, proposal *Update) (*Update, error) {
	if proposal == nil {
		return nil, xerrors.New(xerrors.CodeInvalidStateTransition, "proposal must not be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireOpen(); err != nil {
		return nil, err
	}
	state := proposal.State
	if state.ChannelID != s.pair.ChannelID() {
		return nil, xerrors.New(xerrors.CodeChannelNotFound, "proposal targets a different channel")
	}
	if err := state.Validate(); err != nil {
		return nil, err
	}
	if state.Total().Cmp(s.total) != 0 {
		return nil, xerrors.New(xerrors.CodeInvalidStateTransition, "proposal does not conserve channel funds",
			xerrors.WithMetadata("proposed_total", state.Total().String()),
			xerrors.WithMetadata("channel_total", s.total.String()))
	}
	if state.Nonce != s.lastAgreed.State.Nonce+1 {
		return nil, xerrors.New(xerrors.CodeInvalidStateTransition, "proposal nonce must advance the agreed state by exactly one",
			xerrors.WithMetadata("proposed_nonce", formatNonce(state.Nonce)),
			xerrors.WithMetadata("agreed_nonce", formatNonce(s.lastAgreed.State.Nonce)))
	}

	counterparty := s.pair.Other(s.machine.Self())
	if proposal.Proposer != counterparty {
		return nil, xerrors.New(xerrors.CodeInvalidSignature, "proposal not from channel counterparty")
	}
	if err := verifySlot(state.Digest(), proposal.Sig, counterparty); err != nil {
		return nil, err
	}

	// Both sides proposed the same nonce. The participant1 slot wins;
	// the loser drops its proposal and re-proposes on top of the
	// winner's state.
	if s.pending != nil && s.pending.state.Nonce == state.Nonce {
		if s.pair.IsFirst(s.machine.Self()) {
			return nil, xerrors.New(xerrors.CodeInvalidStateTransition, "concurrent proposal lost the tie-break, re-propose at a higher nonce",
				xerrors.WithMetadata("nonce", formatNonce(state.Nonce)))
		}
		s.pending = nil
	}

	selfSig, err := s.machine.signer.SignDigest(state.Digest())
	if err != nil {
		return nil, err
	}
	agreed := SignedState{State: state.Clone()}
	if s.pair.IsFirst(counterparty) {
		agreed.Sig1, agreed.Sig2 = proposal.Sig, selfSig
	} else {
		agreed.Sig1, agreed.Sig2 = selfSig, proposal.Sig
	}
	if err := s.commitLocked(ctx, agreed); err != nil {
		return nil, err
	}

	return &Update{
		ID:       proposal.ID,
		Proposer: s.machine.Self(),
		State:    state.Clone(),
		Sig:      selfSig,
	}, nil
}

// CommitAcceptance finishes a negotiation we initiated: it checks the
// counterparty's acceptance against our pending proposal and promotes it
// to the agreed state.
func (s *Session) CommitAcceptance(ctx context.Context, acceptance *Update) error {
	if acceptance == nil {
		return xerrors.New(xerrors.CodeInvalidStateTransition, "acceptance must not be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending == nil {
		return xerrors.New(xerrors.CodeInvalidStateTransition, "no proposal is pending")
	}
	if acceptance.ID != s.pending.id || acceptance.State.Digest() != s.pending.state.Digest() {
		return xerrors.New(xerrors.CodeInvalidStateTransition, "acceptance does not match the pending proposal")
	}

	counterparty := s.pair.Other(s.machine.Self())
	if err := verifySlot(s.pending.state.Digest(), acceptance.Sig, counterparty); err != nil {
		return err
	}

	agreed := SignedState{State: s.pending.state.Clone()}
	if s.pair.IsFirst(s.machine.Self()) {
		agreed.Sig1, agreed.Sig2 = s.pending.selfSig, acceptance.Sig
	} else {
		agreed.Sig1, agreed.Sig2 = acceptance.Sig, s.pending.selfSig
	}
	return s.commitLocked(ctx, agreed)
}

// DropPending abandons the local proposal, typically after losing a
// simultaneous-propose tie-break.
func (s *Session) DropPending() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = nil
}

// AddFunds reflects an on-chain fundChannel call in the off-chain state.
// It is rejected while a proposal is in flight.
func (s *Session) AddFunds(funder common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return xerrors.New(xerrors.CodeInvalidStateTransition, "funding amount must be positive")
	}
	if !s.pair.Contains(funder) {
		return xerrors.New(xerrors.CodeChannelNotFound, "funder is not a channel participant")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireOpen(); err != nil {
		return err
	}
	if s.pending != nil {
		return xerrors.New(xerrors.CodeInvalidStateTransition, "cannot fund while a proposal is pending")
	}

	if s.pair.IsFirst(funder) {
		s.lastAgreed.State.Balance1.Add(s.lastAgreed.State.Balance1, amount)
	} else {
		s.lastAgreed.State.Balance2.Add(s.lastAgreed.State.Balance2, amount)
	}
	s.total.Add(s.total, amount)
	// Signatures over the previous balances are void now.
	s.lastAgreed.Sig1 = nil
	s.lastAgreed.Sig2 = nil
	return nil
}

func (s *Session) commitLocked(ctx context.Context, agreed SignedState) error {
	s.lastAgreed = agreed
	s.pending = nil
	if err := s.machine.store.Save(ctx, StoredState{
		Pair:  s.pair,
		State: agreed.Clone(),
	}); err != nil {
		return err
	}
	logger.Audit().Info("channel state agreed",
		slog.String("channel_id", channelIDHex(agreed.State.ChannelID)),
		slog.Uint64("nonce", agreed.State.Nonce),
		slog.String("balance1", agreed.State.Balance1.String()),
		slog.String("balance2", agreed.State.Balance2.String()))
	return nil
}

func (s *Session) requireOpen() error {
	if s.status != gateway.ChannelOpen {
		return xerrors.New(xerrors.CodeChannelNotOpen, "channel is not open",
			xerrors.WithMetadata("status", s.status.String()))
	}
	return nil
}

// slots returns (local, remote) balance pointers of state.
func (s *Session) slots(state *State) (*big.Int, *big.Int) {
	if s.pair.IsFirst(s.machine.Self()) {
		return state.Balance1, state.Balance2
	}
	return state.Balance2, state.Balance1
}

func (s *Session) syncRecord(record gateway.ChannelRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = record.Status
	s.challengeEnd = record.ChallengeEnd
	onChainTotal := new(big.Int).Add(record.Balance1, record.Balance2)
	if onChainTotal.Cmp(s.total) > 0 {
		s.total = onChainTotal
	}
	if record.Nonce > s.lastAgreed.State.Nonce {
		s.lastAgreed = SignedState{State: State{
			ChannelID: s.pair.ChannelID(),
			Balance1:  new(big.Int).Set(record.Balance1),
			Balance2:  new(big.Int).Set(record.Balance2),
			Nonce:     record.Nonce,
		}}
	}
}

func (s *Session) setStatus(status gateway.ChannelStatus, challengeEnd uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
	s.challengeEnd = challengeEnd
}

func formatNonce(n uint64) string {
	return new(big.Int).SetUint64(n).String()
}
