package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/tablesync/internal/core/domain"
)

const channelPrefix = "tablesync"

// RoleChannel is the pub/sub channel a role's clients subscribe to.
func RoleChannel(tenantID string, role domain.Role) string {
	return fmt.Sprintf("%s:%s:role:%s", channelPrefix, tenantID, role)
}

// RefreshChannel carries the tenant-wide order refresh signal.
func RefreshChannel(tenantID string) string {
	return fmt.Sprintf("%s:%s:orders", channelPrefix, tenantID)
}

type RedisPublisher struct {
	client *redis.Client
}

func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) Publish(ctx context.Context, n domain.Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	return p.client.Publish(ctx, RoleChannel(n.TenantID, n.Role), body).Err()
}

func (p *RedisPublisher) PublishRefresh(ctx context.Context, sig domain.RefreshSignal) error {
	body, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("marshal refresh: %w", err)
	}
	return p.client.Publish(ctx, RefreshChannel(sig.TenantID), body).Err()
}
