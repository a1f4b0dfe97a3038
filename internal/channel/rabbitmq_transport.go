package channel

import (
	"context"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	xerrors "github.com/JaroAI777/synaps1/internal/errors"
)

// RabbitMQTransportConfig describes the AMQP connection for the
// transport.
type RabbitMQTransportConfig struct {
	URL        string
	Queue      string
	Prefetch   int
	Durable    bool
	AutoDelete bool
}

// RabbitMQTransport exchanges channel updates through an AMQP queue.
type RabbitMQTransport struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

// NewRabbitMQTransport connects to the broker and declares the queue.
func NewRabbitMQTransport(cfg RabbitMQTransportConfig) (*RabbitMQTransport, error) {
	if cfg.URL == "" {
		return nil, xerrors.New(xerrors.CodeConfig, "rabbitmq url must not be empty")
	}
	queue := cfg.Queue
	if queue == "" {
		queue = "synapse.channel.updates"
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeTransportFailure, err, "dial rabbitmq")
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, xerrors.Wrap(xerrors.CodeTransportFailure, err, "open rabbitmq channel")
	}
	if cfg.Prefetch > 0 {
		if err := ch.Qos(cfg.Prefetch, 0, false); err != nil {
			ch.Close()
			conn.Close()
			return nil, xerrors.Wrap(xerrors.CodeTransportFailure, err, "set rabbitmq qos")
		}
	}
	if _, err := ch.QueueDeclare(queue, cfg.Durable, cfg.AutoDelete, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, xerrors.Wrap(xerrors.CodeTransportFailure, err, "declare rabbitmq queue")
	}
	return &RabbitMQTransport{conn: conn, ch: ch, queue: queue}, nil
}

// Publish sends an encoded envelope to the queue.
func (t *RabbitMQTransport) Publish(ctx context.Context, env Envelope) error {
	if t == nil || t.ch == nil {
		return xerrors.New(xerrors.CodeTransportFailure, "rabbitmq transport is not initialized")
	}
	payload, err := EncodeEnvelope(env)
	if err != nil {
		return err
	}
	if err := t.ch.PublishWithContext(ctx, "", t.queue, false, false, amqp.Publishing{
		ContentType:   "application/json",
		CorrelationId: env.ID,
		Body:          payload,
	}); err != nil {
		return xerrors.Wrap(xerrors.CodeTransportFailure, err, "publish envelope to rabbitmq")
	}
	return nil
}

// Consume reads envelopes with manual acks and feeds them to handler.
func (t *RabbitMQTransport) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if t == nil || t.ch == nil {
		return xerrors.New(xerrors.CodeTransportFailure, "rabbitmq transport is not initialized")
	}
	if workerCount <= 0 {
		workerCount = 1
	}
	msgs, err := t.ch.Consume(t.queue, "", false, false, false, false, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeTransportFailure, err, "subscribe rabbitmq queue")
	}

	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-msgs:
					if !ok {
						return
					}
					env, err := DecodeEnvelope(msg.Body)
					if err != nil {
						_ = msg.Ack(false)
						continue
					}
					if handlerErr := handler(ctx, env); handlerErr != nil && xerrors.RetryableError(handlerErr) {
						_ = msg.Nack(false, true)
						continue
					}
					_ = msg.Ack(false)
				}
			}
		}()
	}

	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}

// Close releases the AMQP channel and connection.
func (t *RabbitMQTransport) Close() error {
	if t == nil {
		return nil
	}
	if t.ch != nil {
		_ = t.ch.Close()
	}
	if t.conn != nil {
		return t.conn.Close()
	}
	return nil
}

var _ Transport = (*RabbitMQTransport)(nil)
