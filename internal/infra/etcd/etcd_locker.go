// internal/infra/etcd/etcd_locker.go
package etcd

import (
	"context"
	"errors"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"

	"github.com/trafi/big-querier/internal/domain"
)

const (
	// LockPrefix 定义了 etcd 中分布式锁的根路径
	LockPrefix = "/big-querier/locks/"
	// LockSessionTTL 锁会话的 TTL (秒)；实例崩溃后锁会在此时间后自动释放
	LockSessionTTL = 30

	tryLockTimeout = 500 * time.Millisecond
)

// etcdLock 实现了 domain.Lock 接口
type etcdLock struct {
	mutex   *concurrency.Mutex
	session *concurrency.Session
	name    string
}

// Unlock releases the lock and closes its session so the lease is revoked.
func (l *etcdLock) Unlock(ctx context.Context) error {
	defer func() { _ = l.session.Close() }()

	if err := l.mutex.Unlock(ctx); err != nil {
		return fmt.Errorf("failed to unlock %s: %w", l.name, err)
	}
	return nil
}

type etcdLocker struct {
	client *clientv3.Client
	prefix string
}

// NewEtcdLocker returns a Locker whose keys live under LockPrefix.
func NewEtcdLocker(client *clientv3.Client) domain.Locker {
	return &etcdLocker{client: client, prefix: LockPrefix}
}

// Lock tries to take the named lock without waiting for the current holder.
func (l *etcdLocker) Lock(ctx context.Context, name string) (domain.Lock, error) {
	// 每次加锁都使用独立的会话，会话关闭或租约过期时锁自动释放
	session, err := concurrency.NewSession(l.client,
		concurrency.WithTTL(LockSessionTTL),
		concurrency.WithContext(ctx),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd session for lock %s: %w", name, err)
	}

	mutex := concurrency.NewMutex(session, l.prefix+name)

	tryCtx, cancel := context.WithTimeout(ctx, tryLockTimeout)
	defer cancel()

	if err := mutex.TryLock(tryCtx); err != nil {
		_ = session.Close()
		if errors.Is(err, concurrency.ErrLocked) || errors.Is(err, context.DeadlineExceeded) {
			return nil, domain.ErrLockNotAcquired
		}
		return nil, fmt.Errorf("failed to try acquiring etcd lock %s: %w", name, err)
	}

	return &etcdLock{
		mutex:   mutex,
		session: session,
		name:    name,
	}, nil
}
