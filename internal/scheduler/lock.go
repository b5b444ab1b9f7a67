package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"loan-monitor/internal/cache"
)

// Locker 同名任务互斥（跨副本或进程内）
type Locker interface {
	// TryLock 未获得锁时 acquired 为 false；获得锁时返回释放函数
	TryLock(ctx context.Context, name string, ttl time.Duration) (unlock func(), acquired bool, err error)
}

// KVLocker 基于键值存储的租约锁：SET NX PX + 校验令牌后释放
// 持锁期间每 ttl/3 校验令牌并续期，任务运行超过 ttl 也不会被其他副本抢占
type KVLocker struct {
	kv        cache.KVStore
	keyPrefix string
	logger    *zap.Logger
}

// NewKVLocker 创建租约锁
func NewKVLocker(kv cache.KVStore, keyPrefix string, logger *zap.Logger) *KVLocker {
	return &KVLocker{kv: kv, keyPrefix: keyPrefix, logger: logger}
}

func (l *KVLocker) TryLock(ctx context.Context, name string, ttl time.Duration) (func(), bool, error) {
	key := fmt.Sprintf("%slock:%s", l.keyPrefix, name)
	token := []byte(uuid.New().String())

	ok, err := l.kv.SetNX(ctx, key, token, ttl)
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire lock %s: %w", name, err)
	}
	if !ok {
		return nil, false, nil
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.keepAlive(name, key, token, ttl, stop, done)

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			close(stop)
			<-done
			// 使用独立 context：任务 ctx 取消后仍需释放
			releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_, _ = l.kv.CompareAndDelete(releaseCtx, key, token)
		})
	}
	return unlock, true, nil
}

// keepAlive 续期直到释放；令牌不匹配（租约已被他人持有）时停止
func (l *KVLocker) keepAlive(name, key string, token []byte, ttl time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	interval := ttl / 3
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			renewed, err := l.kv.CompareAndExpire(ctx, key, token, ttl)
			cancel()
			if err != nil {
				l.logger.Warn("Failed to renew job lock",
					zap.String("job", name),
					zap.Error(err),
				)
				continue
			}
			if !renewed {
				l.logger.Warn("Job lock lost before run finished",
					zap.String("job", name),
					zap.Duration("ttl", ttl),
				)
				return
			}
		}
	}
}

// LocalLocker 进程内互斥
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLocalLocker 创建进程内锁
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*sync.Mutex)}
}

func (l *LocalLocker) TryLock(ctx context.Context, name string, ttl time.Duration) (func(), bool, error) {
	l.mu.Lock()
	m, ok := l.locks[name]
	if !ok {
		m = &sync.Mutex{}
		l.locks[name] = m
	}
	l.mu.Unlock()

	if !m.TryLock() {
		return nil, false, nil
	}
	return m.Unlock, true, nil
}
