package port

import (
	"context"
	"errors"
)

var ErrLockTimeout = errors.New("order lock not acquired")

type OrderLocker interface {
	// Lock blocks until the key is held or ctx ends. The returned func
	// releases the lock and is safe to call once.
	Lock(ctx context.Context, key string) (func(), error)
}
