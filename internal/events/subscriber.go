package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fjod/go_cart/shop-service/internal/domain"
	"github.com/fjod/go_cart/shop-service/internal/repository"
	"github.com/fjod/go_cart/shop-service/pkg/logger"
	"github.com/segmentio/kafka-go"
)

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// KafkaSubscriber is the broker-backed push channel for new orders. Offsets
// are committed per message by the consumer group, so a reconnect can
// redeliver the last uncommitted orders.
type KafkaSubscriber struct {
	newReader  func() messageReader
	log        logger.Logger
	retryDelay time.Duration
}

func NewKafkaSubscriber(topic, groupID string, log logger.Logger, brokers ...string) *KafkaSubscriber {
	cfg := readerConfig(topic, groupID, brokers)
	return &KafkaSubscriber{
		newReader: func() messageReader {
			return kafka.NewReader(cfg)
		},
		log:        log,
		retryDelay: time.Second,
	}
}

// readerConfig starts a group without committed offsets at the end of the
// topic. Older orders are the poll channel's job.
func readerConfig(topic, groupID string, brokers []string) kafka.ReaderConfig {
	return kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     groupID,
		StartOffset: kafka.LastOffset,
		MaxBytes:    10e6, // 10MB
	}
}

func (s *KafkaSubscriber) Subscribe(ctx context.Context, deliver func(domain.Order), onErr func(error)) (func(), error) {
	reader := s.newReader()
	ctx, cancel := context.WithCancel(ctx)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ctx.Err() == nil {
			s.processMessage(ctx, reader, deliver, onErr)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			wg.Wait()
			if err := reader.Close(); err != nil {
				s.log.Warn("error closing kafka reader", logger.Error(err))
			}
		})
	}, nil
}

func (s *KafkaSubscriber) processMessage(ctx context.Context, reader messageReader, deliver func(domain.Order), onErr func(error)) {
	m, err := reader.ReadMessage(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
			return
		}
		onErr(fmt.Errorf("read order event: %w", err))
		select {
		case <-time.After(s.retryDelay):
		case <-ctx.Done():
		}
		return
	}

	if eventType(m) != repository.EventOrderCreated {
		return
	}

	var order domain.Order
	if err := json.Unmarshal(m.Value, &order); err != nil {
		onErr(fmt.Errorf("parse order event at offset %d: %w", m.Offset, err))
		return
	}
	if order.ID == "" {
		onErr(fmt.Errorf("order event at offset %d has no id", m.Offset))
		return
	}
	deliver(order)
}

func eventType(m kafka.Message) string {
	for _, h := range m.Headers {
		if h.Key == "event_type" {
			return string(h.Value)
		}
	}
	// messages without the header predate it and are all order.created
	return repository.EventOrderCreated
}
