package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Shopify/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v2/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/redis/go-redis/v9"
)

const (
	PoisonQueueTopic = "PoisonQueue"
	consumerGroup    = "poison-queue-cli"

	BrokerRedis = "redis"
	BrokerKafka = "kafka"
)

var ErrMessageNotFound = errors.New("message not found")

type Message struct {
	ID      string
	Reason  string
	Topic   string
	Handler string
}

type Config struct {
	Broker    string
	RedisAddr string
	KafkaAddr string
	// IdleTimeout ends a pass over the queue when no message arrives in
	// time, e.g. when the queue is empty.
	IdleTimeout time.Duration
}

type Handler struct {
	subscriber  message.Subscriber
	publisher   message.Publisher
	idleTimeout time.Duration
	closers     []func() error
}

func NewHandler(cfg Config) (*Handler, error) {
	logger := watermill.NewStdLogger(false, false)

	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 5 * time.Second
	}

	h := &Handler{idleTimeout: cfg.IdleTimeout}

	switch cfg.Broker {
	case BrokerRedis, "":
		if err := h.useRedis(cfg.RedisAddr, logger); err != nil {
			return nil, err
		}
	case BrokerKafka:
		if err := h.useKafka(cfg.KafkaAddr, logger); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown broker %q", cfg.Broker)
	}

	return h, nil
}

func (h *Handler) useRedis(addr string, logger watermill.LoggerAdapter) error {
	if addr == "" {
		return fmt.Errorf("redis address is required")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})

	sub, err := redisstream.NewSubscriber(redisstream.SubscriberConfig{
		Client:        rdb,
		ConsumerGroup: consumerGroup,
	}, logger)
	if err != nil {
		return err
	}

	pub, err := redisstream.NewPublisher(redisstream.PublisherConfig{
		Client: rdb,
	}, logger)
	if err != nil {
		return err
	}

	h.subscriber = sub
	h.publisher = pub
	h.closers = []func() error{sub.Close, pub.Close, rdb.Close}
	return nil
}

func (h *Handler) useKafka(addr string, logger watermill.LoggerAdapter) error {
	if addr == "" {
		return fmt.Errorf("kafka address is required")
	}

	cfg := sarama.NewConfig()
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest

	sub, err := kafka.NewSubscriber(
		kafka.SubscriberConfig{
			Brokers:               []string{addr},
			Unmarshaler:           kafka.DefaultMarshaler{},
			ConsumerGroup:         consumerGroup,
			OverwriteSaramaConfig: cfg,
		},
		logger,
	)
	if err != nil {
		return err
	}

	pub, err := kafka.NewPublisher(
		kafka.PublisherConfig{
			Brokers:   []string{addr},
			Marshaler: kafka.DefaultMarshaler{},
		},
		logger,
	)
	if err != nil {
		return err
	}

	h.subscriber = sub
	h.publisher = pub
	h.closers = []func() error{sub.Close, pub.Close}
	return nil
}

func (h *Handler) Close() error {
	var errs []error
	for _, c := range h.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

func (h *Handler) Preview(ctx context.Context) ([]Message, error) {
	var result []Message

	err := h.cycle(ctx, func(msg *message.Message) (bool, error) {
		result = append(result, toMessage(msg))
		return false, nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (h *Handler) Remove(ctx context.Context, messageID string) error {
	found := false

	err := h.cycle(ctx, func(msg *message.Message) (bool, error) {
		if msg.UUID != messageID {
			return false, nil
		}
		found = true
		return true, nil
	})
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrMessageNotFound, messageID)
	}

	return nil
}

// Requeue moves the message back to the topic it was poisoned on.
func (h *Handler) Requeue(ctx context.Context, messageID string) error {
	found := false

	err := h.cycle(ctx, func(msg *message.Message) (bool, error) {
		if msg.UUID != messageID {
			return false, nil
		}

		topic := msg.Metadata.Get(middleware.PoisonedTopicKey)
		if topic == "" {
			return false, fmt.Errorf("message %s has no original topic", messageID)
		}

		requeued := message.NewMessage(msg.UUID, msg.Payload)
		for key, value := range msg.Metadata {
			switch key {
			case middleware.ReasonForPoisonedKey, middleware.PoisonedTopicKey,
				middleware.PoisonedHandlerKey, middleware.PoisonedSubscriberKey:
				continue
			}
			requeued.Metadata.Set(key, value)
		}

		if err := h.publisher.Publish(topic, requeued); err != nil {
			return false, err
		}
		found = true
		return true, nil
	})
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrMessageNotFound, messageID)
	}

	return nil
}

// cycle reads the poison queue once around. Every message is published back
// to the end of the queue unless visit drops it, which also ends the pass.
func (h *Handler) cycle(ctx context.Context, visit func(msg *message.Message) (drop bool, err error)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	messages, err := h.subscriber.Subscribe(ctx, PoisonQueueTopic)
	if err != nil {
		return err
	}

	firstID := ""
	for {
		var msg *message.Message
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(h.idleTimeout):
			return nil
		case m, ok := <-messages:
			if !ok {
				return nil
			}
			msg = m
		}

		if msg.UUID == firstID {
			return h.keep(msg)
		}
		if firstID == "" {
			firstID = msg.UUID
		}

		drop, err := visit(msg)
		if err != nil {
			msg.Nack()
			return err
		}
		if drop {
			msg.Ack()
			return nil
		}

		if err := h.keep(msg); err != nil {
			return err
		}
	}
}

func (h *Handler) keep(msg *message.Message) error {
	if err := h.publisher.Publish(PoisonQueueTopic, msg.Copy()); err != nil {
		msg.Nack()
		return err
	}
	msg.Ack()
	return nil
}

func toMessage(msg *message.Message) Message {
	return Message{
		ID:      msg.UUID,
		Reason:  msg.Metadata.Get(middleware.ReasonForPoisonedKey),
		Topic:   msg.Metadata.Get(middleware.PoisonedTopicKey),
		Handler: msg.Metadata.Get(middleware.PoisonedHandlerKey),
	}
}
