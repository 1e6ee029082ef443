package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rl1809/tablesync/internal/core/domain"
	"github.com/rl1809/tablesync/internal/port"
)

// EventSink receives order events once their state is committed.
type EventSink interface {
	Enqueue(transitions []domain.Transition, refresh domain.RefreshSignal)
}

type notifyEvent struct {
	transitions []domain.Transition
	refresh     domain.RefreshSignal
}

// Notifier fans committed order events out to role channels and the tenant
// refresh channel. Delivery is fire-and-forget: failures are logged and never
// reach the request that produced the event.
type Notifier struct {
	publisher      port.NotificationPublisher
	dedup          port.DedupStore
	logger         *slog.Logger
	metrics        *Metrics
	publishTimeout time.Duration
	now            func() time.Time

	mu     sync.RWMutex
	closed bool
	queue  chan notifyEvent
}

type NotifierConfig struct {
	QueueSize      int
	PublishTimeout time.Duration
}

// NewNotifier builds a notifier. dedup and metrics may be nil.
func NewNotifier(publisher port.NotificationPublisher, dedup port.DedupStore, logger *slog.Logger, metrics *Metrics, cfg NotifierConfig) *Notifier {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 2 * time.Second
	}
	return &Notifier{
		publisher:      publisher,
		dedup:          dedup,
		logger:         logger.With("component", "notifier"),
		metrics:        metrics,
		publishTimeout: cfg.PublishTimeout,
		now:            time.Now,
		queue:          make(chan notifyEvent, cfg.QueueSize),
	}
}

// Enqueue never blocks. A full queue drops the event with a warning; clients
// recover on their next refresh.
func (n *Notifier) Enqueue(transitions []domain.Transition, refresh domain.RefreshSignal) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if n.closed {
		n.logger.Warn("notifier closed, dropping event", "order_id", refresh.OrderID)
		n.metrics.observeNotification("dropped")
		return
	}

	select {
	case n.queue <- notifyEvent{transitions: transitions, refresh: refresh}:
	default:
		n.logger.Warn("notification queue full, dropping event",
			"tenant_id", refresh.TenantID, "order_id", refresh.OrderID)
		n.metrics.observeNotification("dropped")
	}
}

// Run starts workers and returns once the queue is closed and drained.
func (n *Notifier) Run(workers int) {
	if workers <= 0 {
		workers = 1
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			n.workerLoop(id)
		}(i)
	}
	wg.Wait()
}

// Close stops accepting events. Queued events are still delivered.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return
	}
	n.closed = true
	close(n.queue)
}

func (n *Notifier) workerLoop(id int) {
	for ev := range n.queue {
		n.deliver(id, ev)
	}
}

func (n *Notifier) deliver(worker int, ev notifyEvent) {
	now := n.now()
	for _, t := range ev.transitions {
		for _, note := range t.Notifications(now) {
			n.publish(worker, note)
		}
	}

	if ev.refresh.TenantID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), n.publishTimeout)
	defer cancel()
	if err := n.publisher.PublishRefresh(ctx, ev.refresh); err != nil {
		n.logger.Error("refresh broadcast failed",
			"worker", worker, "tenant_id", ev.refresh.TenantID, "order_id", ev.refresh.OrderID, "error", err)
		n.metrics.observeNotification("failed")
		return
	}
	n.metrics.observeNotification("refresh")
}

func (n *Notifier) publish(worker int, note domain.Notification) {
	ctx, cancel := context.WithTimeout(context.Background(), n.publishTimeout)
	defer cancel()

	if n.dedup != nil {
		fresh, err := n.dedup.Claim(ctx, note.DedupKey())
		if err != nil {
			n.logger.Warn("notification dedup check failed, publishing anyway",
				"worker", worker, "key", note.DedupKey(), "error", err)
		} else if !fresh {
			n.metrics.observeNotification("duplicate")
			return
		}
	}

	if err := n.publisher.Publish(ctx, note); err != nil {
		n.logger.Error("notification publish failed",
			"worker", worker, "order_id", note.OrderID, "role", note.Role, "kind", note.Kind, "error", err)
		n.metrics.observeNotification("failed")
		return
	}
	n.metrics.observeNotification("published")
}
