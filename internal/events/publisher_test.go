package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/fjod/go_cart/shop-service/internal/domain"
	r "github.com/fjod/go_cart/shop-service/internal/repository"
	"github.com/fjod/go_cart/shop-service/pkg/logger"
	kafkaGo "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/kafka"
)

// MockRepository implements r.OutboxStore for testing
type MockRepository struct {
	mu           sync.Mutex
	OutboxEvents []*r.OutboxEvent
	GetErr       error
	MarkErr      error
	ProcessedIds []int64
}

func (m *MockRepository) GetUnprocessedEvents(context.Context, int) ([]*r.OutboxEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	var out []*r.OutboxEvent
	for _, ev := range m.OutboxEvents {
		if !m.processed(ev.ID) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (m *MockRepository) MarkEventAsProcessed(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.MarkErr != nil {
		return m.MarkErr
	}
	m.ProcessedIds = append(m.ProcessedIds, id)
	return nil
}

func (m *MockRepository) processed(id int64) bool {
	for _, p := range m.ProcessedIds {
		if p == id {
			return true
		}
	}
	return false
}

type fakeWriter struct {
	mu       sync.Mutex
	messages []kafkaGo.Message
	failKey  string
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafkaGo.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, m := range msgs {
		if string(m.Key) == w.failKey {
			return errors.New("broker unavailable")
		}
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func newTestPublisher(repo r.OutboxStore, w messageWriter) *OutboxPublisher {
	return &OutboxPublisher{
		timeout:   time.Second,
		eventTick: 10 * time.Millisecond,
		batchSize: 100,
		repo:      repo,
		writer:    w,
		log:       logger.NewNop(),
	}
}

func outboxEvent(id int64, orderID string) *r.OutboxEvent {
	return &r.OutboxEvent{
		ID:          id,
		AggregateId: orderID,
		EventType:   r.EventOrderCreated,
		Payload:     json.RawMessage(fmt.Sprintf(`{"id":%q,"order_number":%d}`, orderID, id)),
		CreatedAt:   time.Now(),
	}
}

func TestProcessUnpublishedEvents_PublishesAndMarks(t *testing.T) {
	repo := &MockRepository{OutboxEvents: []*r.OutboxEvent{outboxEvent(1, "o-1"), outboxEvent(2, "o-2")}}
	w := &fakeWriter{}
	p := newTestPublisher(repo, w)

	p.processUnpublishedEvents(context.Background())

	require.Len(t, w.messages, 2)
	assert.Equal(t, "o-1", string(w.messages[0].Key))
	assert.Equal(t, "event_type", w.messages[0].Headers[0].Key)
	assert.Equal(t, r.EventOrderCreated, string(w.messages[0].Headers[0].Value))
	assert.Equal(t, []int64{1, 2}, repo.ProcessedIds)
}

func TestProcessUnpublishedEvents_PublishFailureLeavesEventPending(t *testing.T) {
	repo := &MockRepository{OutboxEvents: []*r.OutboxEvent{outboxEvent(1, "o-1"), outboxEvent(2, "o-2")}}
	w := &fakeWriter{failKey: "o-1"}
	p := newTestPublisher(repo, w)

	p.processUnpublishedEvents(context.Background())

	assert.Equal(t, []int64{2}, repo.ProcessedIds)

	w.failKey = ""
	p.processUnpublishedEvents(context.Background())
	assert.Equal(t, []int64{2, 1}, repo.ProcessedIds)
}

func TestProcessUnpublishedEvents_RepositoryError(t *testing.T) {
	repo := &MockRepository{GetErr: errors.New("db down")}
	w := &fakeWriter{}
	p := newTestPublisher(repo, w)

	assert.NotPanics(t, func() { p.processUnpublishedEvents(context.Background()) })
	assert.Empty(t, w.messages)
}

func TestProcessUnpublishedEvents_MarkFailureContinues(t *testing.T) {
	repo := &MockRepository{
		OutboxEvents: []*r.OutboxEvent{outboxEvent(1, "o-1"), outboxEvent(2, "o-2")},
		MarkErr:      errors.New("db down"),
	}
	w := &fakeWriter{}
	p := newTestPublisher(repo, w)

	p.processUnpublishedEvents(context.Background())
	assert.Len(t, w.messages, 2)
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	repo := &MockRepository{OutboxEvents: []*r.OutboxEvent{outboxEvent(1, "o-1")}}
	p := newTestPublisher(repo, &fakeWriter{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		repo.mu.Lock()
		defer repo.mu.Unlock()
		return len(repo.ProcessedIds) == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publisher did not stop")
	}
}

func setupKafka(t *testing.T) (string, func()) {
	if testing.Short() {
		t.Skip("skipping kafka integration test in short mode")
	}
	ctx := context.Background()

	kafkaContainer, err := kafka.Run(ctx, "confluentinc/confluent-local:7.5.0")
	require.NoError(t, err)

	brokers, err := kafkaContainer.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers, "broker address should not be empty")

	cleanup := func() {
		if err := kafkaContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate kafka container: %v", err)
		}
	}

	return brokers[0], cleanup
}

func createTopic(t *testing.T, brokerAddr, topic string) {
	conn, err := kafkaGo.Dial("tcp", brokerAddr)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)

	controllerConn, err := kafkaGo.Dial("tcp", fmt.Sprintf("%s:%d", controller.Host, controller.Port))
	require.NoError(t, err)
	defer controllerConn.Close()

	err = controllerConn.CreateTopics(kafkaGo.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	})
	if err != nil {
		t.Logf("topic creation error (may already exist): %v", err)
	}
}

func TestOutboxToSubscriber_ThroughKafka(t *testing.T) {
	brokerAddr, cleanup := setupKafka(t)
	defer cleanup()

	createTopic(t, brokerAddr, "order-created")
	time.Sleep(5 * time.Second)

	repo := &MockRepository{OutboxEvents: []*r.OutboxEvent{outboxEvent(1, "order-123")}}
	writer := &kafkaGo.Writer{
		Addr:         kafkaGo.TCP(brokerAddr),
		Topic:        "order-created",
		Balancer:     &kafkaGo.LeastBytes{},
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
	}
	defer writer.Close()

	publisher := &OutboxPublisher{
		timeout:   10 * time.Second,
		eventTick: time.Second,
		batchSize: 10,
		repo:      repo,
		writer:    writer,
		log:       logger.NewNop(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	go publisher.Run(ctx)

	received := make(chan string, 1)
	sub := NewKafkaSubscriber("order-created", "test-operator", logger.NewNop(), brokerAddr)
	unsubscribe, err := sub.Subscribe(ctx, func(o domain.Order) {
		received <- o.ID
	}, func(err error) { t.Logf("subscriber error: %v", err) })
	require.NoError(t, err)
	defer unsubscribe()

	select {
	case id := <-received:
		assert.Equal(t, "order-123", id)
	case <-ctx.Done():
		t.Fatal("order was not delivered through kafka")
	}

	repo.mu.Lock()
	defer repo.mu.Unlock()
	assert.Equal(t, []int64{1}, repo.ProcessedIds)
}
