package channel

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	xerrors "github.com/JaroAI777/synaps1/internal/errors"
)

// RedisTransportConfig describes the Redis connection for the transport.
type RedisTransportConfig struct {
	Address   string
	Password  string
	DB        int
	Stream    string
	BlockWait time.Duration
}

// RedisTransport exchanges channel updates through a Redis list.
type RedisTransport struct {
	client *redis.Client
	stream string
	wait   time.Duration
}

// NewRedisTransport connects to Redis and verifies the connection.
func NewRedisTransport(cfg RedisTransportConfig) (*RedisTransport, error) {
	if cfg.Address == "" {
		return nil, xerrors.New(xerrors.CodeConfig, "redis address must not be empty")
	}
	stream := cfg.Stream
	if stream == "" {
		stream = "synapse:channel-updates"
	}
	wait := cfg.BlockWait
	if wait <= 0 {
		wait = 5 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeTransportFailure, err, "reach redis")
	}
	return &RedisTransport{client: client, stream: stream, wait: wait}, nil
}

// Publish pushes an encoded envelope onto the list.
func (t *RedisTransport) Publish(ctx context.Context, env Envelope) error {
	payload, err := EncodeEnvelope(env)
	if err != nil {
		return err
	}
	if err := t.client.LPush(ctx, t.stream, payload).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeTransportFailure, err, "publish envelope to redis")
	}
	return nil
}

// Consume pops envelopes with BRPOP and feeds them to handler. Failed
// envelopes are re-queued.
func (t *RedisTransport) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	errCh := make(chan error, workerCount)
	for i := 0; i < workerCount; i++ {
		go func() {
			for {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				default:
				}
				values, err := t.client.BRPop(ctx, t.wait, t.stream).Result()
				if err != nil {
					if errors.Is(err, context.Canceled) || errors.Is(err, redis.ErrClosed) {
						errCh <- err
						return
					}
					if err == redis.Nil {
						continue
					}
					errCh <- xerrors.Wrap(xerrors.CodeTransportFailure, err, "pop envelope from redis")
					return
				}
				if len(values) != 2 {
					continue
				}
				env, err := DecodeEnvelope([]byte(values[1]))
				if err != nil {
					// malformed payload, drop it
					continue
				}
				if handlerErr := handler(ctx, env); handlerErr != nil && xerrors.RetryableError(handlerErr) {
					_ = t.client.RPush(ctx, t.stream, []byte(values[1])).Err()
				}
			}
		}()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Close releases the Redis connection.
func (t *RedisTransport) Close() error {
	if t == nil || t.client == nil {
		return nil
	}
	return t.client.Close()
}

var _ Transport = (*RedisTransport)(nil)
