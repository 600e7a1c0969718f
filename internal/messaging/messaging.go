package messaging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sethvargo/go-retry"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/erpsync/internal/config"
)

// Message represents a message consumed from the bus.
type Message struct {
	Topic   string
	Key     []byte
	Value   []byte
	Headers map[string]string
	Offset  int64
	Time    time.Time
}

// Handler processes an inbound message.
type Handler func(context.Context, Message) error

// Client is the pluggable messaging abstraction. Publish writes to the events
// topic; Consume reads the topic upstream pushes pending orders to.
type Client interface {
	Publish(ctx context.Context, key []byte, value []byte) error
	Consume(ctx context.Context, handler Handler) error
	Topic() string
	Source() string
}

// Module wires the messaging client.
var Module = fx.Provide(NewClient)

// noopClient is used when messaging is disabled.
type noopClient struct {
	topic  string
	source string
}

func (n noopClient) Publish(context.Context, []byte, []byte) error { return nil }
func (n noopClient) Consume(ctx context.Context, handler Handler) error {
	<-ctx.Done()
	return ctx.Err()
}
func (n noopClient) Topic() string  { return n.topic }
func (n noopClient) Source() string { return n.source }

// ErrHandlerGaveUp is returned by Consume when a message kept failing for
// every configured attempt. The message stays uncommitted.
var ErrHandlerGaveUp = errors.New("messaging: handler gave up on message")

// maxHandlerBackoff caps the wait between two attempts at one message.
const maxHandlerBackoff = 30 * time.Second

// groupReader is the part of kafka.Reader the consumer uses.
type groupReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// kafkaClient publishes synced-order events and consumes pushed orders. Every
// Consume call joins the consumer group with its own reader.
type kafkaClient struct {
	writer    *kafka.Writer
	newReader func() groupReader
	topic     string
	source    string
	attempts  uint64
	backoff   time.Duration
	logger    *zap.Logger
}

func (k *kafkaClient) Publish(ctx context.Context, key []byte, value []byte) error {
	// the writer carries the topic
	return k.writer.WriteMessages(ctx, kafka.Message{Key: key, Value: value})
}

// Consume handles pushed orders one at a time and commits each offset only
// after its handler succeeded. A failing message is retried in place, so no
// later offset of the partition is committed past it. When the attempts run
// out the reader is closed and ErrHandlerGaveUp returned; the next Consume
// rejoins the group from the committed offset and sees the message again.
func (k *kafkaClient) Consume(ctx context.Context, handler Handler) error {
	reader := k.newReader()
	defer func() {
		if err := reader.Close(); err != nil {
			k.logger.Warn("kafka reader close failed", zap.Error(err))
		}
	}()

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			k.logger.Error("kafka fetch failed", zap.Error(err))

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}

		if err := k.handle(ctx, handler, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: partition %d offset %d: %w", ErrHandlerGaveUp, msg.Partition, msg.Offset, err)
		}

		if err := reader.CommitMessages(ctx, msg); err != nil {
			k.logger.Warn("commit failed", zap.Int64("offset", msg.Offset), zap.Error(err))
		}
	}
}

func (k *kafkaClient) handle(ctx context.Context, handler Handler, msg kafka.Message) error {
	wrapped := toMessage(msg)
	attempt := 0
	backoff := retry.WithMaxRetries(k.attempts-1, retry.WithCappedDuration(maxHandlerBackoff, retry.NewExponential(k.backoff)))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if err := handler(ctx, wrapped); err != nil {
			k.logger.Warn("message handler failed",
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			return retry.RetryableError(err)
		}
		return nil
	})
}

func toMessage(msg kafka.Message) Message {
	out := Message{
		Topic:  msg.Topic,
		Key:    append([]byte(nil), msg.Key...),
		Value:  append([]byte(nil), msg.Value...),
		Offset: msg.Offset,
		Time:   msg.Time,
	}
	if len(msg.Headers) > 0 {
		out.Headers = make(map[string]string, len(msg.Headers))
		for _, h := range msg.Headers {
			out.Headers[h.Key] = string(h.Value)
		}
	}
	return out
}

func (k *kafkaClient) Topic() string  { return k.topic }
func (k *kafkaClient) Source() string { return k.source }

// NewClient builds a messaging client based on configuration.
func NewClient(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (Client, error) {
	if !cfg.Messaging.Enabled || cfg.Messaging.Driver == "noop" {
		logger.Info("messaging disabled; using noop client")
		return noopClient{topic: cfg.Messaging.Kafka.EventsTopic, source: cfg.Messaging.Kafka.OrdersTopic}, nil
	}

	switch cfg.Messaging.Driver {
	case "kafka":
		return newKafkaClient(lc, cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported messaging driver: %s", cfg.Messaging.Driver)
	}
}

func newKafkaClient(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (Client, error) {
	topic := cfg.Messaging.Kafka.EventsTopic
	source := cfg.Messaging.Kafka.OrdersTopic

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Messaging.Kafka.Brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		Logger:       kafkaLogger{logger: logger},
		ErrorLogger:  kafkaLogger{logger: logger},
	}

	readerConfig := kafka.ReaderConfig{
		Brokers:        cfg.Messaging.Kafka.Brokers,
		GroupID:        cfg.Messaging.ConsumerGroup,
		Topic:          source,
		MinBytes:       cfg.Messaging.Kafka.MinBytes,
		MaxBytes:       cfg.Messaging.Kafka.MaxBytes,
		CommitInterval: cfg.Messaging.Kafka.CommitInterval,
		Dialer: &kafka.Dialer{
			Timeout:  cfg.Messaging.Kafka.ConnectTimeout,
			ClientID: cfg.Messaging.Kafka.ClientID,
		},
	}

	client := &kafkaClient{
		writer:    writer,
		newReader: func() groupReader { return kafka.NewReader(readerConfig) },
		topic:     topic,
		source:    source,
		attempts:  uint64(cfg.Messaging.Kafka.HandlerAttempts),
		backoff:   cfg.Messaging.Kafka.HandlerBackoff,
		logger:    logger,
	}
	if client.attempts == 0 {
		client.attempts = 1
	}
	if client.backoff <= 0 {
		client.backoff = 500 * time.Millisecond
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			logger.Info("closing kafka writer")
			// readers are closed by the Consume calls that own them
			return writer.Close()
		},
	})

	return client, nil
}

type kafkaLogger struct {
	logger *zap.Logger
}

func (k kafkaLogger) Printf(msg string, args ...interface{}) {
	k.logger.Sugar().Debugf(msg, args...)
}
