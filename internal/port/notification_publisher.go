package port

import (
	"context"

	"github.com/rl1809/tablesync/internal/core/domain"
)

type NotificationPublisher interface {
	// Publish delivers a role-targeted notification
	Publish(ctx context.Context, n domain.Notification) error

	// PublishRefresh tells every client of the tenant to re-fetch orders
	PublishRefresh(ctx context.Context, sig domain.RefreshSignal) error
}

type DedupStore interface {
	// Claim sets the key if absent, returns false if it already exists
	Claim(ctx context.Context, key string) (bool, error)
}
