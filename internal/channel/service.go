package channel

import (
	"context"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	xerrors "github.com/JaroAI777/synaps1/internal/errors"
	"github.com/JaroAI777/synaps1/internal/gateway"
	"github.com/JaroAI777/synaps1/pkg/logger"
)

// ContractGateway is the on-chain surface the service drives. It is
// satisfied by gateway.ChannelContract.
type ContractGateway interface {
	Open(ctx context.Context, counterparty common.Address, myDeposit, theirDeposit *big.Int) ([32]byte, error)
	Fund(ctx context.Context, channelID [32]byte, amount *big.Int) (common.Hash, error)
	CooperativeClose(ctx context.Context, counterparty common.Address, balance1, balance2 *big.Int, nonce uint64, sig1, sig2 []byte) (common.Hash, error)
	InitiateClose(ctx context.Context, counterparty common.Address, balance1, balance2 *big.Int, nonce uint64, sig1, sig2 []byte) (common.Hash, error)
	ChallengeClose(ctx context.Context, counterparty common.Address, balance1, balance2 *big.Int, nonce uint64, sig1, sig2 []byte) (common.Hash, error)
	FinalizeClose(ctx context.Context, counterparty common.Address) (common.Hash, error)
	ChannelID(ctx context.Context, party1, party2 common.Address) ([32]byte, error)
	Channel(ctx context.Context, channelID [32]byte) (gateway.ChannelRecord, error)
}

// Service ties the negotiation machine to the channel contract and
// drives the lifecycle: open, fund, close, challenge, finalize.
type Service struct {
	gw      ContractGateway
	machine *Machine
	clock   func() time.Time
	log     *slog.Logger
}

// ServiceOption customizes a Service.
type ServiceOption func(*Service)

// WithClock replaces the wall clock, used by tests.
func WithClock(clock func() time.Time) ServiceOption {
	return func(s *Service) { s.clock = clock }
}

// WithServiceLogger replaces the service logger.
func WithServiceLogger(log *slog.Logger) ServiceOption {
	return func(s *Service) { s.log = log }
}

// NewService builds a channel lifecycle service.
func NewService(gw ContractGateway, machine *Machine, opts ...ServiceOption) *Service {
	s := &Service{
		gw:      gw,
		machine: machine,
		clock:   time.Now,
		log:     logger.Named("channel.service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Machine exposes the negotiation machine behind the service.
func (s *Service) Machine() *Machine {
	return s.machine
}

// Open opens a channel with counterparty and starts tracking it. The
// returned session is seeded with the deposit balances at nonce zero.
func (s *Service) Open(ctx context.Context, counterparty common.Address, myDeposit, theirDeposit *big.Int) (*Session, error) {
	if myDeposit == nil || theirDeposit == nil || myDeposit.Sign() < 0 || theirDeposit.Sign() < 0 {
		return nil, xerrors.New(xerrors.CodeInvalidStateTransition, "deposits must not be negative")
	}
	pair, err := NewPair(s.machine.Self(), counterparty)
	if err != nil {
		return nil, err
	}

	channelID, err := s.gw.Open(ctx, counterparty, myDeposit, theirDeposit)
	if err != nil {
		return nil, err
	}
	if channelID != pair.ChannelID() {
		return nil, xerrors.New(xerrors.CodeContract, "contract returned an unexpected channel id")
	}

	record, err := s.gw.Channel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	session, err := s.machine.Track(record)
	if err != nil {
		return nil, err
	}

	logger.Audit().Info("channel opened",
		slog.String("channel_id", channelIDHex(channelID)),
		slog.String("counterparty", counterparty.Hex()),
		slog.String("my_deposit", myDeposit.String()),
		slog.String("their_deposit", theirDeposit.String()))
	return session, nil
}

// Attach starts tracking a channel that already exists on chain.
func (s *Service) Attach(ctx context.Context, counterparty common.Address) (*Session, error) {
	pair, err := NewPair(s.machine.Self(), counterparty)
	if err != nil {
		return nil, err
	}
	record, err := s.gw.Channel(ctx, pair.ChannelID())
	if err != nil {
		return nil, err
	}
	return s.machine.Track(record)
}

// Fund adds amount to the local side of an open channel.
func (s *Service) Fund(ctx context.Context, channelID [32]byte, amount *big.Int) (common.Hash, error) {
	session, err := s.machine.Session(channelID)
	if err != nil {
		return common.Hash{}, err
	}
	txHash, err := s.gw.Fund(ctx, channelID, amount)
	if err != nil {
		return common.Hash{}, err
	}
	if err := session.AddFunds(s.machine.Self(), amount); err != nil {
		return txHash, err
	}
	return txHash, nil
}

// Sync refreshes a session from the chain.
func (s *Service) Sync(ctx context.Context, channelID [32]byte) (*Session, error) {
	record, err := s.gw.Channel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	return s.machine.Track(record)
}

// CooperativeClose settles the channel at the latest countersigned
// state. Both signatures must be on file.
func (s *Service) CooperativeClose(ctx context.Context, channelID [32]byte) (common.Hash, error) {
	session, latest, err := s.closableState(channelID)
	if err != nil {
		return common.Hash{}, err
	}
	txHash, err := s.gw.CooperativeClose(ctx, session.Counterparty(),
		latest.State.Balance1, latest.State.Balance2, latest.State.Nonce, latest.Sig1, latest.Sig2)
	if err != nil {
		return common.Hash{}, err
	}
	session.setStatus(gateway.ChannelClosed, 0)

	logger.Audit().Info("channel closed cooperatively",
		slog.String("channel_id", channelIDHex(channelID)),
		slog.Uint64("nonce", latest.State.Nonce),
		slog.String("tx_hash", txHash.Hex()))
	return txHash, nil
}

// InitiateClose starts a unilateral close with the latest countersigned
// state, opening the challenge window.
func (s *Service) InitiateClose(ctx context.Context, channelID [32]byte) (common.Hash, error) {
	session, latest, err := s.closableState(channelID)
	if err != nil {
		return common.Hash{}, err
	}
	txHash, err := s.gw.InitiateClose(ctx, session.Counterparty(),
		latest.State.Balance1, latest.State.Balance2, latest.State.Nonce, latest.Sig1, latest.Sig2)
	if err != nil {
		return common.Hash{}, err
	}

	record, err := s.gw.Channel(ctx, channelID)
	if err != nil {
		session.setStatus(gateway.ChannelClosing, 0)
	} else {
		session.setStatus(record.Status, record.ChallengeEnd)
	}

	logger.Audit().Info("channel close initiated",
		slog.String("channel_id", channelIDHex(channelID)),
		slog.Uint64("nonce", latest.State.Nonce),
		slog.String("tx_hash", txHash.Hex()))
	return txHash, nil
}

// Challenge submits the latest countersigned state against a pending
// close whose on-chain nonce is stale.
func (s *Service) Challenge(ctx context.Context, channelID [32]byte) (common.Hash, error) {
	session, err := s.machine.Session(channelID)
	if err != nil {
		return common.Hash{}, err
	}
	latest := session.Latest()
	if !latest.Countersigned() {
		return common.Hash{}, xerrors.New(xerrors.CodeInvalidStateTransition, "no countersigned state to challenge with")
	}

	record, err := s.gw.Channel(ctx, channelID)
	if err != nil {
		return common.Hash{}, err
	}
	if record.Status != gateway.ChannelClosing {
		return common.Hash{}, xerrors.New(xerrors.CodeInvalidStateTransition, "channel has no pending close",
			xerrors.WithMetadata("status", record.Status.String()))
	}
	if record.Nonce >= latest.State.Nonce {
		return common.Hash{}, xerrors.New(xerrors.CodeInvalidStateTransition, "on-chain state is not older than the local state",
			xerrors.WithMetadata("onchain_nonce", formatNonce(record.Nonce)),
			xerrors.WithMetadata("local_nonce", formatNonce(latest.State.Nonce)))
	}

	txHash, err := s.gw.ChallengeClose(ctx, session.Counterparty(),
		latest.State.Balance1, latest.State.Balance2, latest.State.Nonce, latest.Sig1, latest.Sig2)
	if err != nil {
		return common.Hash{}, err
	}
	session.setStatus(gateway.ChannelClosing, session.ChallengeEnd())

	logger.Audit().Info("channel close challenged",
		slog.String("channel_id", channelIDHex(channelID)),
		slog.Uint64("stale_nonce", record.Nonce),
		slog.Uint64("challenge_nonce", latest.State.Nonce),
		slog.String("tx_hash", txHash.Hex()))
	return txHash, nil
}

// Finalize pays out a closing channel once the challenge window has
// elapsed. A channel that is already closed reports an invalid
// transition; it never pays twice.
func (s *Service) Finalize(ctx context.Context, channelID [32]byte) (common.Hash, error) {
	session, err := s.machine.Session(channelID)
	if err != nil {
		return common.Hash{}, err
	}
	record, err := s.gw.Channel(ctx, channelID)
	if err != nil {
		return common.Hash{}, err
	}
	switch record.Status {
	case gateway.ChannelClosing:
	case gateway.ChannelClosed:
		return common.Hash{}, xerrors.New(xerrors.CodeInvalidStateTransition, "channel is already finalized")
	default:
		return common.Hash{}, xerrors.New(xerrors.CodeInvalidStateTransition, "channel has no pending close",
			xerrors.WithMetadata("status", record.Status.String()))
	}
	if now := uint64(s.clock().Unix()); now < record.ChallengeEnd {
		return common.Hash{}, xerrors.New(xerrors.CodeInvalidStateTransition, "challenge window is still open",
			xerrors.WithMetadata("challenge_end", formatNonce(record.ChallengeEnd)),
			xerrors.WithMetadata("now", formatNonce(now)))
	}

	txHash, err := s.gw.FinalizeClose(ctx, session.Counterparty())
	if err != nil {
		return common.Hash{}, err
	}
	session.setStatus(gateway.ChannelClosed, 0)

	logger.Audit().Info("channel close finalized",
		slog.String("channel_id", channelIDHex(channelID)),
		slog.String("tx_hash", txHash.Hex()))
	return txHash, nil
}

func (s *Service) closableState(channelID [32]byte) (*Session, SignedState, error) {
	session, err := s.machine.Session(channelID)
	if err != nil {
		return nil, SignedState{}, err
	}
	if session.Status() != gateway.ChannelOpen {
		return nil, SignedState{}, xerrors.New(xerrors.CodeChannelNotOpen, "channel is not open",
			xerrors.WithMetadata("status", session.Status().String()))
	}
	latest := session.Latest()
	if !latest.Countersigned() {
		return nil, SignedState{}, xerrors.New(xerrors.CodeInvalidStateTransition, "no countersigned state to close with")
	}
	return session, latest, nil
}

// HandleEnvelope routes an incoming transport envelope to its session
// and publishes the response (acceptance or rejection) on reply.
func (s *Service) HandleEnvelope(ctx context.Context, env Envelope, reply Producer) error {
	switch env.Kind {
	case KindProposal:
		session, err := s.machine.Session(env.ChannelID)
		if err != nil {
			return s.reject(ctx, env, reply, err)
		}
		update, err := env.Update()
		if err != nil {
			return s.reject(ctx, env, reply, err)
		}
		acceptance, err := session.HandleProposal(ctx, update)
		if err != nil {
			return s.reject(ctx, env, reply, err)
		}
		if reply != nil {
			return reply.Publish(ctx, AcceptanceEnvelope(acceptance))
		}
		return nil
	case KindAcceptance:
		session, err := s.machine.Session(env.ChannelID)
		if err != nil {
			return err
		}
		update, err := env.Update()
		if err != nil {
			return err
		}
		return session.CommitAcceptance(ctx, update)
	case KindRejection:
		session, err := s.machine.Session(env.ChannelID)
		if err != nil {
			return err
		}
		session.DropPending()
		s.log.Warn("counterparty rejected proposal",
			slog.String("channel_id", channelIDHex(env.ChannelID)),
			slog.String("code", string(env.Code)),
			slog.String("reason", env.Reason))
		return nil
	default:
		return xerrors.New(xerrors.CodeTransportFailure, "unknown envelope kind: "+string(env.Kind))
	}
}

func (s *Service) reject(ctx context.Context, env Envelope, reply Producer, cause error) error {
	s.log.Warn("rejected channel proposal",
		slog.String("channel_id", channelIDHex(env.ChannelID)),
		slog.String("reason", cause.Error()))
	if reply == nil {
		return cause
	}
	if err := reply.Publish(ctx, RejectionEnvelope(env.ID, env.ChannelID, s.machine.Self(), cause)); err != nil {
		return err
	}
	return cause
}
