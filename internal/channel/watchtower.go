package channel

import (
	"context"
	"log/slog"
	"time"

	xerrors "github.com/JaroAI777/synaps1/internal/errors"
	"github.com/JaroAI777/synaps1/internal/gateway"
	"github.com/JaroAI777/synaps1/internal/observability/alerting"
	"github.com/JaroAI777/synaps1/pkg/logger"
)

// Watchtower polls tracked channels and defends them: when a
// counterparty initiates a close with a stale state it submits a
// challenge before the window expires, and it finalizes closes whose
// window has elapsed.
type Watchtower struct {
	service      *Service
	interval     time.Duration
	safetyMargin time.Duration
	autoFinalize bool
	clock        func() time.Time
	alerts       alerting.Dispatcher
	log          *slog.Logger
}

// WatchtowerOption customizes a Watchtower.
type WatchtowerOption func(*Watchtower)

// WithPollInterval sets how often channels are re-read.
func WithPollInterval(interval time.Duration) WatchtowerOption {
	return func(w *Watchtower) {
		if interval > 0 {
			w.interval = interval
		}
	}
}

// WithSafetyMargin sets how long before the challenge deadline a
// challenge must land.
func WithSafetyMargin(margin time.Duration) WatchtowerOption {
	return func(w *Watchtower) {
		if margin > 0 {
			w.safetyMargin = margin
		}
	}
}

// WithAutoFinalize controls whether elapsed closes are finalized
// automatically.
func WithAutoFinalize(enabled bool) WatchtowerOption {
	return func(w *Watchtower) { w.autoFinalize = enabled }
}

// WithAlerts attaches an alert dispatcher for failed defenses.
func WithAlerts(dispatcher alerting.Dispatcher) WatchtowerOption {
	return func(w *Watchtower) { w.alerts = dispatcher }
}

// WithWatchtowerClock replaces the wall clock, used by tests.
func WithWatchtowerClock(clock func() time.Time) WatchtowerOption {
	return func(w *Watchtower) { w.clock = clock }
}

// NewWatchtower builds a watchtower over service.
func NewWatchtower(service *Service, opts ...WatchtowerOption) *Watchtower {
	w := &Watchtower{
		service:      service,
		interval:     15 * time.Second,
		safetyMargin: 2 * time.Minute,
		autoFinalize: true,
		clock:        time.Now,
		log:          logger.Named("watchtower"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run polls until ctx ends.
func (w *Watchtower) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.log.Info("watchtower started",
		slog.Duration("interval", w.interval),
		slog.Duration("safety_margin", w.safetyMargin))
	for {
		select {
		case <-ctx.Done():
			w.log.Info("watchtower stopped")
			return ctx.Err()
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep inspects every tracked channel once. It is exported so tests
// and callers can drive a single pass without the ticker.
func (w *Watchtower) Sweep(ctx context.Context) {
	for _, session := range w.service.Machine().Sessions() {
		w.inspect(ctx, session)
	}
}

func (w *Watchtower) inspect(ctx context.Context, session *Session) {
	channelID := session.ChannelID()
	record, err := w.service.gw.Channel(ctx, channelID)
	if err != nil {
		if xerrors.CodeOf(err) == xerrors.CodeChannelNotFound {
			return
		}
		w.log.Warn("watchtower could not read channel",
			slog.String("channel_id", channelIDHex(channelID)),
			slog.String("error", err.Error()))
		return
	}
	session.syncRecord(record)

	if record.Status != gateway.ChannelClosing {
		return
	}

	latest := session.Latest()
	now := uint64(w.clock().Unix())

	if record.Nonce < latest.State.Nonce && latest.Countersigned() {
		deadline := record.ChallengeEnd
		if now >= deadline {
			w.alert(ctx, channelID, "challenge window already expired before the stale close was challenged")
			return
		}
		if remaining := deadline - now; remaining <= uint64(w.safetyMargin/time.Second) {
			w.log.Warn("challenge deadline is close",
				slog.String("channel_id", channelIDHex(channelID)),
				slog.Uint64("seconds_left", remaining))
		}
		txHash, err := w.service.Challenge(ctx, channelID)
		if err != nil {
			w.log.Error("challenge submission failed",
				slog.String("channel_id", channelIDHex(channelID)),
				slog.String("error", err.Error()))
			w.alert(ctx, channelID, "failed to challenge a stale close: "+err.Error())
			return
		}
		logger.Audit().Info("watchtower challenged stale close",
			slog.String("channel_id", channelIDHex(channelID)),
			slog.Uint64("stale_nonce", record.Nonce),
			slog.Uint64("challenge_nonce", latest.State.Nonce),
			slog.String("tx_hash", txHash.Hex()))
		return
	}

	if w.autoFinalize && now >= record.ChallengeEnd {
		txHash, err := w.service.Finalize(ctx, channelID)
		if err != nil {
			if xerrors.CodeOf(err) == xerrors.CodeInvalidStateTransition {
				return
			}
			w.log.Warn("finalize attempt failed",
				slog.String("channel_id", channelIDHex(channelID)),
				slog.String("error", err.Error()))
			return
		}
		logger.Audit().Info("watchtower finalized close",
			slog.String("channel_id", channelIDHex(channelID)),
			slog.String("tx_hash", txHash.Hex()))
	}
}

func (w *Watchtower) alert(ctx context.Context, channelID [32]byte, message string) {
	if w.alerts == nil {
		return
	}
	event := alerting.Event{
		Code:       xerrors.CodeInvalidStateTransition,
		Message:    message,
		Severity:   xerrors.SeverityCritical,
		ChannelID:  channelIDHex(channelID),
		OccurredAt: w.clock(),
	}
	if err := w.alerts.Notify(ctx, event); err != nil {
		w.log.Error("alert delivery failed",
			slog.String("channel_id", channelIDHex(channelID)),
			slog.String("error", err.Error()))
	}
}
