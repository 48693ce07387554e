package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fjod/go_cart/shop-service/internal/domain"
	"github.com/fjod/go_cart/shop-service/pkg/logger"
	"github.com/lib/pq"
)

const orderCreatedChannel = "order_created"

// Listener is the push channel for new orders, fed by the orders insert
// trigger through LISTEN/NOTIFY. Each notification carries an order id; the
// order is loaded from the store before delivery.
type Listener struct {
	dsn          string
	store        OrderStore
	log          logger.Logger
	minReconnect time.Duration
	maxReconnect time.Duration
	fetchTimeout time.Duration
}

func NewListener(cred *Credentials, store OrderStore, log logger.Logger) *Listener {
	return &Listener{
		dsn:          cred.DSN(),
		store:        store,
		log:          log,
		minReconnect: 100 * time.Millisecond,
		maxReconnect: 10 * time.Second,
		fetchTimeout: 5 * time.Second,
	}
}

// Subscribe starts listening and calls deliver for each created order.
// Connection problems and failed lookups go to onErr; the subscription keeps
// running and pq reconnects on its own. After a reconnect notifications sent
// while disconnected are lost, so callers must not rely on this channel alone.
func (l *Listener) Subscribe(ctx context.Context, deliver func(domain.Order), onErr func(error)) (func(), error) {
	pl := pq.NewListener(l.dsn, l.minReconnect, l.maxReconnect, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnectionAttemptFailed, pq.ListenerEventDisconnected:
			if err != nil {
				onErr(fmt.Errorf("order listener: %w", err))
			}
		case pq.ListenerEventReconnected:
			l.log.Info("order listener reconnected")
		}
	})
	if err := pl.Listen(orderCreatedChannel); err != nil {
		pl.Close()
		return nil, fmt.Errorf("listen %s: %w", orderCreatedChannel, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ping := time.NewTicker(90 * time.Second)
		defer ping.Stop()
		for {
			select {
			case n, ok := <-pl.Notify:
				if !ok {
					return
				}
				if n == nil {
					// reconnected; nothing to deliver
					continue
				}
				l.handle(ctx, n.Extra, deliver, onErr)
			case <-ping.C:
				go pl.Ping()
			case <-ctx.Done():
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			wg.Wait()
			if err := pl.Close(); err != nil {
				l.log.Warn("order listener close failed", logger.Error(err))
			}
		})
	}, nil
}

func (l *Listener) handle(ctx context.Context, orderID string, deliver func(domain.Order), onErr func(error)) {
	fetchCtx, cancel := context.WithTimeout(ctx, l.fetchTimeout)
	defer cancel()

	order, err := l.store.GetOrderByID(fetchCtx, orderID)
	if err != nil {
		onErr(fmt.Errorf("load notified order %s: %w", orderID, err))
		return
	}
	deliver(*order)
}
