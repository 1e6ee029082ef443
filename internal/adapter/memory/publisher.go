package memory

import (
	"context"
	"log/slog"
	"sync"

	"github.com/rl1809/tablesync/internal/core/domain"
)

// Publisher records everything it is asked to publish and logs it. It backs
// the single-node mode and tests.
type Publisher struct {
	mu            sync.Mutex
	logger        *slog.Logger
	notifications []domain.Notification
	refreshes     []domain.RefreshSignal
}

func NewPublisher(logger *slog.Logger) *Publisher {
	return &Publisher{logger: logger}
}

func (p *Publisher) Publish(ctx context.Context, n domain.Notification) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.notifications = append(p.notifications, n)
	if p.logger != nil {
		p.logger.Info("notification", "tenant_id", n.TenantID, "order_id", n.OrderID, "role", n.Role, "kind", n.Kind)
	}
	return nil
}

func (p *Publisher) PublishRefresh(ctx context.Context, sig domain.RefreshSignal) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.refreshes = append(p.refreshes, sig)
	return nil
}

func (p *Publisher) Notifications() []domain.Notification {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.Notification(nil), p.notifications...)
}

func (p *Publisher) Refreshes() []domain.RefreshSignal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.RefreshSignal(nil), p.refreshes...)
}

// DedupStore claims keys in process.
type DedupStore struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewDedupStore() *DedupStore {
	return &DedupStore{seen: make(map[string]struct{})}
}

func (d *DedupStore) Claim(ctx context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[key]; ok {
		return false, nil
	}
	d.seen[key] = struct{}{}
	return true, nil
}
