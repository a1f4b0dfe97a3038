package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/JaroAI777/synaps1/internal/channel"
	"github.com/JaroAI777/synaps1/internal/config"
	xerrors "github.com/JaroAI777/synaps1/internal/errors"
	"github.com/JaroAI777/synaps1/internal/gateway"
	"github.com/JaroAI777/synaps1/internal/observability/alerting"
	"github.com/JaroAI777/synaps1/internal/observability/metrics"
	"github.com/JaroAI777/synaps1/internal/wallet"
	"github.com/JaroAI777/synaps1/pkg/logger"
)

// synapsed is the channel watchtower daemon. It restores tracked
// channels from the signed-state store, consumes update envelopes from
// the configured transport and defends channels against stale closes.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("synapsed failed: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("SYNAPSE_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "synapse.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if networksPath := os.Getenv("SYNAPSE_NETWORKS"); networksPath != "" {
		definitions, err := config.LoadNetworkDefinitions(networksPath)
		if err != nil {
			return err
		}
		if err := definitions.Apply(cfg.Network.Name, cfg); err != nil {
			return err
		}
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		OutputPaths: cfg.Log.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Log.Audit.Enabled,
			Path:       cfg.Log.Audit.Path,
			MaxSizeMB:  cfg.Log.Audit.MaxSizeMB,
			MaxBackups: cfg.Log.Audit.MaxBackups,
			MaxAgeDays: cfg.Log.Audit.MaxAgeDays,
		},
	}); err != nil {
		return err
	}
	defer logger.Sync()

	signer, err := wallet.NewSigner(cfg.Wallet.PrivateKey)
	if err != nil {
		return err
	}

	gw, err := gateway.NewClient(ctx, gateway.Config{
		Name:    cfg.Network.Name,
		RPCURL:  cfg.Network.RPCURL,
		ChainID: cfg.Network.ChainID,
		Timeout: cfg.Network.Timeout(),
	}, signer)
	if err != nil {
		return err
	}
	defer gw.Close()

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	transport, err := openTransport(cfg)
	if err != nil {
		return err
	}
	defer transport.Close()

	machine := channel.NewMachine(signer, store)
	service := channel.NewService(gateway.NewChannelContract(gw, cfg.Contracts.ChannelAddress()), machine)

	if err := attachStoredChannels(ctx, service, store); err != nil {
		return err
	}

	if cfg.Metrics.Address != "" {
		go func() {
			if err := metrics.StartServer(ctx, cfg.Metrics.Address); err != nil && !errors.Is(err, context.Canceled) {
				logger.L().Error("metrics server stopped", "error", err)
			}
		}()
	}

	towerOpts := []channel.WatchtowerOption{
		channel.WithPollInterval(cfg.Watchtower.PollInterval()),
		channel.WithSafetyMargin(cfg.Watchtower.SafetyMargin()),
	}
	if cfg.Watchtower.AlertWebhookURL != "" {
		sender := alerting.NewHTTPWebhookSender(cfg.Watchtower.AlertWebhookURL, nil)
		towerOpts = append(towerOpts, channel.WithAlerts(
			alerting.NewFanout(&alerting.WebhookNotifier{Sender: sender})))
	}
	tower := channel.NewWatchtower(service, towerOpts...)

	consume := func(ctx context.Context) error {
		return transport.Consume(ctx, 1, func(ctx context.Context, env channel.Envelope) error {
			start := time.Now()
			err := service.HandleEnvelope(ctx, env, transport)
			code := "ok"
			if err != nil {
				code = string(xerrors.CodeOf(err))
			}
			metrics.ObserveOperation("handle_envelope", code, time.Since(start))
			return err
		})
	}
	return runLoops(ctx, consume, tower.Run)
}

// runLoops drives the envelope consumer and the watchtower together.
// Both block until their context ends, so they get a shared child
// context that is cancelled as soon as either one fails; the first
// failure wins.
func runLoops(ctx context.Context, consume, watch func(context.Context) error) error {
	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	consumeErr := make(chan error, 1)
	go func() {
		consumeErr <- consume(loopCtx)
		cancel()
	}()

	watchErr := watch(loopCtx)
	cancel()

	if err := <-consumeErr; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	if watchErr != nil && !errors.Is(watchErr, context.Canceled) {
		return watchErr
	}
	return ctx.Err()
}

// attachStoredChannels re-tracks every channel the store knows about and
// restores the newest signed states, so a restarted daemon keeps
// defending its channels.
func attachStoredChannels(ctx context.Context, service *channel.Service, store channel.Store) error {
	states, err := store.List(ctx)
	if err != nil {
		return err
	}
	self := service.Machine().Self()
	for _, stored := range states {
		if !stored.Pair.Contains(self) {
			continue
		}
		counterparty := stored.Pair.Other(self)
		if _, err := service.Attach(ctx, counterparty); err != nil {
			if xerrors.CodeOf(err) == xerrors.CodeChannelNotFound {
				continue
			}
			return err
		}
	}
	return service.Machine().Restore(ctx)
}

func openStore(cfg *config.Config) (channel.Store, error) {
	switch cfg.Storage.ChannelStore.Driver {
	case "", "memory":
		return channel.NewMemoryStore(), nil
	case "mysql":
		return channel.NewMySQLStore(cfg.Storage.ChannelStore.DSN)
	default:
		return nil, xerrors.New(xerrors.CodeConfig, "unknown channel store driver: "+cfg.Storage.ChannelStore.Driver)
	}
}

func openTransport(cfg *config.Config) (channel.Transport, error) {
	switch cfg.Transport.Driver {
	case "", "memory":
		return channel.NewMemoryTransport(1024), nil
	case "redis":
		return channel.NewRedisTransport(channel.RedisTransportConfig{
			Address:  cfg.Transport.Redis.Address,
			Password: cfg.Transport.Redis.Password,
			DB:       cfg.Transport.Redis.DB,
			Stream:   cfg.Transport.Redis.Stream,
		})
	case "rabbitmq":
		return channel.NewRabbitMQTransport(channel.RabbitMQTransportConfig{
			URL:        cfg.Transport.RabbitMQ.URL,
			Queue:      cfg.Transport.RabbitMQ.Queue,
			Prefetch:   cfg.Transport.RabbitMQ.Prefetch,
			Durable:    cfg.Transport.RabbitMQ.Durable,
			AutoDelete: cfg.Transport.RabbitMQ.AutoDelete,
		})
	default:
		return nil, xerrors.New(xerrors.CodeConfig, "unknown transport driver: "+cfg.Transport.Driver)
	}
}
