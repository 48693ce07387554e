package events

import (
	"context"
	"time"

	"github.com/fjod/go_cart/shop-service/internal/repository"
	"github.com/fjod/go_cart/shop-service/pkg/logger"
	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// OutboxPublisher relays order.created outbox rows to Kafka. A row is marked
// processed only after the broker accepted it, so delivery is at least once.
type OutboxPublisher struct {
	timeout   time.Duration
	eventTick time.Duration
	batchSize int
	repo      repository.OutboxStore
	writer    messageWriter
	log       logger.Logger
}

func NewOutboxPublisher(repo repository.OutboxStore, topic string, tick time.Duration, log logger.Logger, brokers ...string) *OutboxPublisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}
	if tick <= 0 {
		tick = time.Second
	}
	return &OutboxPublisher{
		timeout:   5 * time.Second,
		eventTick: tick,
		batchSize: 100,
		repo:      repo,
		writer:    w,
		log:       log,
	}
}

func (p *OutboxPublisher) Run(ctx context.Context) {
	eventTicker := time.NewTicker(p.eventTick)
	defer eventTicker.Stop()
	for {
		select {
		case <-eventTicker.C:
			p.processUnpublishedEvents(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (p *OutboxPublisher) Close() error {
	return p.writer.Close()
}

func (p *OutboxPublisher) processUnpublishedEvents(ctx context.Context) {
	events, err := p.repo.GetUnprocessedEvents(ctx, p.batchSize)
	if err != nil {
		p.log.Error("failed to fetch outbox events", logger.Error(err))
		return
	}

	for _, event := range events {
		if err := p.publish(ctx, event); err != nil {
			p.log.Warn("failed to publish outbox event",
				logger.Int64("event_id", event.ID),
				logger.Error(err))
			continue
		}

		if err := p.repo.MarkEventAsProcessed(ctx, event.ID); err != nil {
			p.log.Warn("failed to mark outbox event as processed",
				logger.Int64("event_id", event.ID),
				logger.Error(err))
			continue
		}
	}
}

func (p *OutboxPublisher) publish(ctx context.Context, event *repository.OutboxEvent) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	msg := kafka.Message{
		Key:   []byte(event.AggregateId), // order id keeps one order on one partition
		Value: event.Payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
		},
	}
	return p.writer.WriteMessages(ctx, msg)
}
