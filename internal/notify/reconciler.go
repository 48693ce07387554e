// Package notify surfaces newly created orders to the shop operator.
//
// Orders arrive through two channels that race each other: a push
// subscription and a periodic poll of orders created after a checkpoint.
// Both feed Discover, which admits an order id at most once into the durable
// unread set. While the set is non-empty the alert stays visible and a
// reminder replays the cue; the operator clears it with Dismiss, DismissAll
// or by opening the orders list.
package notify

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fjod/go_cart/shop-service/internal/domain"
	"github.com/fjod/go_cart/shop-service/pkg/logger"
)

// OrderSource is the read side of the order store used by the poll channel
// and for restoring alert details.
type OrderSource interface {
	ListOrdersCreatedAfter(ctx context.Context, after time.Time) ([]*domain.Order, error)
	GetOrdersByIDs(ctx context.Context, ids []string) ([]*domain.Order, error)
}

// StoreClock is implemented by order sources that can report the time on
// the store's own clock. Checkpoints are then taken from it, so the poll
// compares creation times against a single clock.
type StoreClock interface {
	Now(ctx context.Context) (time.Time, error)
}

// Subscriber is a push channel. deliver may be called with the same order
// more than once; onErr receives connection and decoding failures.
type Subscriber interface {
	Subscribe(ctx context.Context, deliver func(domain.Order), onErr func(error)) (unsubscribe func(), err error)
}

// State is the alert surface as the operator sees it.
type State struct {
	UnreadCount int            `json:"unread_count"`
	Visible     bool           `json:"visible"`
	Snoozed     bool           `json:"snoozed"`
	Unread      []string       `json:"unread_ids"`
	Orders      []domain.Order `json:"orders"`
	Checkpoint  time.Time      `json:"checkpoint"`
}

type Reconciler struct {
	source   OrderSource
	push     Subscriber
	store    StateStore
	sounder  Sounder
	notifier Notifier
	log      logger.Logger
	now      func() time.Time

	pollInterval     time.Duration
	reminderInterval time.Duration
	snoozeDuration   time.Duration
	flashDelay       time.Duration
	queryTimeout     time.Duration
	ackRetention     time.Duration
	ordersRoute      string

	mu          sync.Mutex
	unread      []string
	unreadSet   map[string]struct{}
	details     map[string]domain.Order
	acked       map[string]time.Time
	checkpoint  time.Time
	visible     bool
	snoozed     bool
	snoozeTimer *time.Timer
	snoozeGen   uint64
	clockOffset time.Duration // store clock minus local clock, from the last poll
	persistSeq  uint64

	saveMu   sync.Mutex
	saveIdle *sync.Cond
	saving   bool
	pending  stateSave
	savedSeq uint64

	polling       atomic.Bool
	permRequested atomic.Bool
	alerts        sync.WaitGroup

	obsMu     sync.Mutex
	observers map[int]func(State)
	nextObsID int

	lifeMu      sync.Mutex
	running     bool
	cancel      context.CancelFunc
	loops       sync.WaitGroup
	unsubscribe func()
}

type Option func(*Reconciler)

func WithPush(s Subscriber) Option {
	return func(r *Reconciler) { r.push = s }
}

func WithStateStore(s StateStore) Option {
	return func(r *Reconciler) { r.store = s }
}

func WithSounder(s Sounder) Option {
	return func(r *Reconciler) { r.sounder = s }
}

func WithNotifier(n Notifier) Option {
	return func(r *Reconciler) { r.notifier = n }
}

func WithLogger(l logger.Logger) Option {
	return func(r *Reconciler) { r.log = l }
}

func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// WithIntervals overrides the poll period (30s), the reminder period (2m)
// and how long Snooze hides the alert (10s). Non-positive values are ignored.
func WithIntervals(poll, reminder, snooze time.Duration) Option {
	return func(r *Reconciler) {
		if poll > 0 {
			r.pollInterval = poll
		}
		if reminder > 0 {
			r.reminderInterval = reminder
		}
		if snooze > 0 {
			r.snoozeDuration = snooze
		}
	}
}

func WithFlashDelay(d time.Duration) Option {
	return func(r *Reconciler) { r.flashDelay = d }
}

func WithOrdersRoute(route string) Option {
	return func(r *Reconciler) { r.ordersRoute = route }
}

func NewReconciler(source OrderSource, opts ...Option) *Reconciler {
	r := &Reconciler{
		source:           source,
		store:            NewMemoryState(),
		sounder:          nopSounder{},
		notifier:         nopNotifier{},
		log:              logger.NewNop(),
		now:              time.Now,
		pollInterval:     30 * time.Second,
		reminderInterval: 2 * time.Minute,
		snoozeDuration:   10 * time.Second,
		flashDelay:       100 * time.Millisecond,
		queryTimeout:     10 * time.Second,
		ackRetention:     10 * time.Minute,
		ordersRoute:      "/api/v1/orders",
		unreadSet:        make(map[string]struct{}),
		details:          make(map[string]domain.Order),
		acked:            make(map[string]time.Time),
		observers:        make(map[int]func(State)),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.saveIdle = sync.NewCond(&r.saveMu)
	r.checkpoint = r.now().Add(-time.Minute)
	return r
}

// Start restores the persisted state, polls once, subscribes to the push
// channel and starts the poll and reminder loops. Calling Start on a running
// reconciler does nothing. ctx bounds the whole session.
func (r *Reconciler) Start(ctx context.Context) error {
	r.lifeMu.Lock()
	defer r.lifeMu.Unlock()
	if r.running {
		return nil
	}

	r.restore(ctx)

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.unsubscribe = nil
	if r.push != nil {
		unsubscribe, err := r.push.Subscribe(runCtx, func(o domain.Order) { r.Discover(o) }, func(err error) {
			r.channelError(ChannelPush, err)
		})
		if err != nil {
			r.channelError(ChannelPush, err)
		} else {
			r.unsubscribe = unsubscribe
		}
	}

	r.loops.Add(2)
	go r.pollLoop(runCtx)
	go r.reminderLoop(runCtx)

	r.running = true
	r.log.Info("order notifications started",
		logger.Int("unread", r.State().UnreadCount),
		logger.Any("poll_interval", r.pollInterval))
	return nil
}

// Stop releases the subscription, both loops and a pending snooze together
// and waits for them. The reconciler can be started again.
func (r *Reconciler) Stop() {
	r.lifeMu.Lock()
	defer r.lifeMu.Unlock()
	if !r.running {
		return
	}

	r.cancel()
	if r.unsubscribe != nil {
		r.unsubscribe()
		r.unsubscribe = nil
	}
	r.loops.Wait()
	r.alerts.Wait()
	r.waitForSaves()

	r.mu.Lock()
	r.stopSnoozeLocked()
	if r.snoozed {
		r.snoozed = false
		r.visible = len(r.unread) > 0
	}
	r.mu.Unlock()

	r.running = false
	r.log.Info("order notifications stopped")
}

func (r *Reconciler) restore(ctx context.Context) {
	loadCtx, cancel := context.WithTimeout(ctx, r.queryTimeout)
	defer cancel()

	persisted, err := r.store.Load(loadCtx)

	r.mu.Lock()
	if err != nil {
		r.log.Warn("failed to load notification state, keeping in-memory state", logger.Error(err))
		persisted = PersistedState{
			Unread:     append([]string(nil), r.unread...),
			Checkpoint: r.checkpoint,
			Acked:      r.acked,
		}
	}
	prevDetails := r.details
	r.unread = nil
	r.unreadSet = make(map[string]struct{})
	r.details = make(map[string]domain.Order)
	r.acked = make(map[string]time.Time)
	var missing []string
	for _, id := range persisted.Unread {
		if _, dup := r.unreadSet[id]; dup || id == "" {
			continue
		}
		r.unreadSet[id] = struct{}{}
		r.unread = append(r.unread, id)
		if o, ok := prevDetails[id]; ok {
			r.details[id] = o
		} else {
			missing = append(missing, id)
		}
	}
	for id, t := range persisted.Acked {
		r.acked[id] = t
	}
	if !persisted.Checkpoint.IsZero() {
		r.checkpoint = persisted.Checkpoint
	} else {
		r.checkpoint = r.now().Add(-time.Minute)
	}
	r.visible = len(r.unread) > 0
	r.mu.Unlock()

	if len(missing) > 0 {
		orders, err := r.source.GetOrdersByIDs(loadCtx, missing)
		if err != nil {
			r.channelError(ChannelPoll, err)
		}
		r.mu.Lock()
		for _, o := range orders {
			if _, ok := r.unreadSet[o.ID]; ok {
				r.details[o.ID] = *o
			}
		}
		r.mu.Unlock()
	}
	r.broadcast()
}

// Discover is the single entry point for both channels. It returns true when
// the order was new: it is then added to the unread set, the cue plays and a
// platform alert is requested. Repeated deliveries return false and have no
// effect.
func (r *Reconciler) Discover(order domain.Order) bool {
	if order.ID == "" {
		return false
	}

	r.mu.Lock()
	if _, seen := r.unreadSet[order.ID]; seen {
		r.mu.Unlock()
		return false
	}
	if _, acked := r.acked[order.ID]; acked {
		r.mu.Unlock()
		return false
	}
	// Acknowledgements older than this are forgotten, so an order this old
	// can only be a replay.
	if !order.CreatedAt.IsZero() && order.CreatedAt.Before(r.checkpoint.Add(-r.ackRetention)) {
		r.mu.Unlock()
		r.log.Debug("ignoring order created before the discovery window",
			logger.String("order_id", order.ID),
			logger.Any("created_at", order.CreatedAt))
		return false
	}
	r.unreadSet[order.ID] = struct{}{}
	r.unread = append(r.unread, order.ID)
	r.details[order.ID] = order
	r.visible = true
	r.snoozed = false
	r.stopSnoozeLocked()
	save := r.snapshotLocked()
	r.mu.Unlock()

	r.persist(save)

	r.log.Info("new order discovered",
		logger.String("order_id", order.ID),
		logger.Int64("order_number", order.OrderNumber))

	r.sounder.Play()
	r.alerts.Add(1)
	go r.platformAlert(order)
	r.broadcast()
	return true
}

// platformAlert asks for permission once, lazily, and never delays the cue.
func (r *Reconciler) platformAlert(order domain.Order) {
	defer r.alerts.Done()

	ctx, cancel := context.WithTimeout(context.Background(), r.queryTimeout)
	defer cancel()

	perm := r.notifier.Permission()
	if perm == PermissionDefault && r.permRequested.CompareAndSwap(false, true) {
		perm = r.notifier.RequestPermission(ctx)
	}
	if perm != PermissionGranted {
		return
	}
	if err := r.notifier.Notify(ctx, order); err != nil {
		r.log.Warn("platform alert failed", logger.String("order_id", order.ID), logger.Error(err))
	}
}

// PollNow scans for orders created after the checkpoint. It returns false
// without querying when a poll is already in flight.
func (r *Reconciler) PollNow(ctx context.Context) bool {
	if !r.polling.CompareAndSwap(false, true) {
		return false
	}
	defer r.polling.Store(false)

	r.poll(ctx)
	return true
}

func (r *Reconciler) poll(ctx context.Context) {
	r.mu.Lock()
	since := r.checkpoint
	r.mu.Unlock()

	queryCtx, cancel := context.WithTimeout(ctx, r.queryTimeout)
	defer cancel()

	started, err := r.scanStart(queryCtx)
	if err != nil {
		r.channelError(ChannelPoll, err)
		return
	}

	orders, err := r.source.ListOrdersCreatedAfter(queryCtx, since)
	if err != nil {
		r.channelError(ChannelPoll, err)
		return
	}

	for _, o := range orders {
		r.Discover(*o)
	}

	r.mu.Lock()
	r.advanceCheckpointLocked(started)
	save := r.snapshotLocked()
	r.mu.Unlock()

	r.persist(save)
}

// scanStart is the checkpoint candidate for a scan about to run: the
// store's time when the source has a clock, the local time otherwise.
func (r *Reconciler) scanStart(ctx context.Context) (time.Time, error) {
	clock, ok := r.source.(StoreClock)
	if !ok {
		return r.now(), nil
	}
	local := r.now()
	t, err := clock.Now(ctx)
	if err != nil {
		return time.Time{}, err
	}
	r.mu.Lock()
	r.clockOffset = t.Sub(local)
	r.mu.Unlock()
	return t, nil
}

// storeNowLocked is the current time on the store's clock, as far as the
// last poll could tell.
func (r *Reconciler) storeNowLocked() time.Time {
	return r.now().Add(r.clockOffset)
}

// advanceCheckpointLocked never moves the checkpoint backwards and forgets
// acknowledgements old enough that no scan can return them again.
func (r *Reconciler) advanceCheckpointLocked(t time.Time) {
	if t.After(r.checkpoint) {
		r.checkpoint = t
	}
	horizon := r.checkpoint.Add(-r.ackRetention)
	for id, createdAt := range r.acked {
		if createdAt.Before(horizon) {
			delete(r.acked, id)
		}
	}
}

// Dismiss acknowledges one order. It reports whether the id was unread.
func (r *Reconciler) Dismiss(orderID string) bool {
	return r.DismissMany([]string{orderID}) > 0
}

// DismissMany acknowledges the given orders and returns how many were unread.
func (r *Reconciler) DismissMany(orderIDs []string) int {
	r.mu.Lock()
	n := 0
	for _, id := range orderIDs {
		if r.ackLocked(id) {
			n++
		}
	}
	if n == 0 {
		r.mu.Unlock()
		return 0
	}
	r.compactLocked()
	save := r.snapshotLocked()
	r.mu.Unlock()

	r.persist(save)
	r.broadcast()
	return n
}

// DismissAll empties the unread set and moves the checkpoint to now: the
// operator has seen everything created so far.
func (r *Reconciler) DismissAll() int {
	r.mu.Lock()
	n := len(r.unread)
	for _, id := range r.unread {
		r.ackLocked(id)
	}
	r.compactLocked()
	r.advanceCheckpointLocked(r.storeNowLocked())
	save := r.snapshotLocked()
	r.mu.Unlock()

	r.persist(save)

	if n > 0 {
		r.log.Info("all order notifications dismissed", logger.Int("count", n))
	}
	r.broadcast()
	return n
}

// ackLocked moves id from the unread set to the acknowledged set. The
// unread slice is compacted by compactLocked.
func (r *Reconciler) ackLocked(id string) bool {
	if _, ok := r.unreadSet[id]; !ok {
		return false
	}
	delete(r.unreadSet, id)
	createdAt := r.now()
	if o, ok := r.details[id]; ok && !o.CreatedAt.IsZero() {
		createdAt = o.CreatedAt
	}
	r.acked[id] = createdAt
	delete(r.details, id)
	return true
}

func (r *Reconciler) compactLocked() {
	kept := r.unread[:0]
	for _, id := range r.unread {
		if _, ok := r.unreadSet[id]; ok {
			kept = append(kept, id)
		}
	}
	r.unread = kept
	if len(r.unread) == 0 {
		r.unread = nil
		r.visible = false
		r.snoozed = false
		r.stopSnoozeLocked()
	}
}

// Snooze hides the alert without acknowledging anything. It comes back
// after the snooze duration if orders are still unread.
func (r *Reconciler) Snooze() bool {
	r.mu.Lock()
	if len(r.unread) == 0 {
		r.mu.Unlock()
		return false
	}
	r.visible = false
	r.snoozed = true
	r.stopSnoozeLocked()
	gen := r.snoozeGen
	r.snoozeTimer = time.AfterFunc(r.snoozeDuration, func() { r.endSnooze(gen) })
	r.mu.Unlock()

	r.broadcast()
	return true
}

func (r *Reconciler) endSnooze(gen uint64) {
	r.mu.Lock()
	if gen != r.snoozeGen || !r.snoozed {
		// replaced or cancelled meanwhile
		r.mu.Unlock()
		return
	}
	r.snoozeTimer = nil
	r.snoozed = false
	r.visible = len(r.unread) > 0
	r.mu.Unlock()

	r.broadcast()
}

// stopSnoozeLocked cancels a pending snooze timer and invalidates it in
// case it already fired.
func (r *Reconciler) stopSnoozeLocked() {
	if r.snoozeTimer != nil {
		r.snoozeTimer.Stop()
		r.snoozeTimer = nil
	}
	r.snoozeGen++
}

// ObserveRoute is fed the operator's navigation. Opening the orders list
// counts as having seen every unread order.
func (r *Reconciler) ObserveRoute(route string) bool {
	if r.ordersRoute == "" {
		return false
	}
	if strings.TrimSuffix(route, "/") != strings.TrimSuffix(r.ordersRoute, "/") {
		return false
	}
	r.DismissAll()
	return true
}

func (r *Reconciler) pollLoop(ctx context.Context) {
	defer r.loops.Done()

	r.PollNow(ctx)

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if !r.PollNow(ctx) {
				r.log.Debug("previous poll still running, skipping tick")
			}
		case <-ctx.Done():
			return
		}
	}
}

func (r *Reconciler) reminderLoop(ctx context.Context) {
	defer r.loops.Done()

	ticker := time.NewTicker(r.reminderInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.remind(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// remind replays the cue and flashes the alert. It never adds entries.
func (r *Reconciler) remind(ctx context.Context) {
	r.mu.Lock()
	if len(r.unread) == 0 || r.snoozed {
		r.mu.Unlock()
		return
	}
	r.visible = false
	r.mu.Unlock()

	r.sounder.Play()
	r.broadcast()

	select {
	case <-time.After(r.flashDelay):
	case <-ctx.Done():
	}

	r.mu.Lock()
	r.visible = len(r.unread) > 0 && !r.snoozed
	r.mu.Unlock()
	r.broadcast()
}

type stateSave struct {
	seq   uint64
	state PersistedState
}

// snapshotLocked copies the state to be written by persist.
func (r *Reconciler) snapshotLocked() stateSave {
	r.persistSeq++
	state := PersistedState{
		Unread:     append([]string(nil), r.unread...),
		Checkpoint: r.checkpoint,
		Acked:      make(map[string]time.Time, len(r.acked)),
	}
	for id, t := range r.acked {
		state.Acked[id] = t
	}
	return stateSave{seq: r.persistSeq, state: state}
}

// persist writes a snapshot outside r.mu. One caller at a time talks to the
// store; while it does, later snapshots replace each other in pending and
// the writer saves the newest one before it returns. Older snapshots are
// never written after newer ones.
func (r *Reconciler) persist(s stateSave) {
	r.saveMu.Lock()
	if s.seq > r.pending.seq {
		r.pending = s
	}
	if r.saving {
		r.saveMu.Unlock()
		return
	}
	r.saving = true
	for r.pending.seq > r.savedSeq {
		next := r.pending
		r.savedSeq = next.seq
		r.saveMu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), r.queryTimeout)
		if err := r.store.Save(ctx, next.state); err != nil {
			r.log.Warn("failed to persist notification state", logger.Error(err))
		}
		cancel()

		r.saveMu.Lock()
	}
	r.saving = false
	r.saveIdle.Broadcast()
	r.saveMu.Unlock()
}

// waitForSaves blocks until no save is in flight.
func (r *Reconciler) waitForSaves() {
	r.saveMu.Lock()
	for r.saving {
		r.saveIdle.Wait()
	}
	r.saveMu.Unlock()
}

func (r *Reconciler) channelError(channel string, err error) {
	r.log.Warn("order discovery channel failed", logger.Error(&ChannelError{Channel: channel, Err: err}))
}

// Checkpoint is the last successfully scanned point in time.
func (r *Reconciler) Checkpoint() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.checkpoint
}

func (r *Reconciler) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stateLocked()
}

func (r *Reconciler) stateLocked() State {
	s := State{
		UnreadCount: len(r.unread),
		Visible:     r.visible,
		Snoozed:     r.snoozed,
		Unread:      append([]string{}, r.unread...),
		Orders:      make([]domain.Order, 0, len(r.unread)),
		Checkpoint:  r.checkpoint,
	}
	for _, id := range r.unread {
		if o, ok := r.details[id]; ok {
			s.Orders = append(s.Orders, o)
		}
	}
	return s
}

// Subscribe registers fn for state changes. fn runs synchronously on the
// goroutine that made the change and must not block.
func (r *Reconciler) Subscribe(fn func(State)) (cancel func()) {
	r.obsMu.Lock()
	id := r.nextObsID
	r.nextObsID++
	r.observers[id] = fn
	r.obsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.obsMu.Lock()
			delete(r.observers, id)
			r.obsMu.Unlock()
		})
	}
}

func (r *Reconciler) broadcast() {
	state := r.State()

	r.obsMu.Lock()
	fns := make([]func(State), 0, len(r.observers))
	for _, fn := range r.observers {
		fns = append(fns, fn)
	}
	r.obsMu.Unlock()

	for _, fn := range fns {
		fn(state)
	}
}
