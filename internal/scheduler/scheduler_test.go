package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"loan-monitor/internal/cache"
	"loan-monitor/internal/models"
)

func newTestCache(t *testing.T) (*cache.SnapshotCache, cache.KVStore) {
	t.Helper()
	kv := cache.NewMemoryKV()
	return cache.NewSnapshotCache(kv, "test:", 0, zap.NewNop()), kv
}

func TestKVLocker_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	locker := NewKVLocker(cache.NewRedisKV(client), "test:", zap.NewNop())
	ctx := context.Background()

	unlock, ok, err := locker.TryLock(ctx, "overdue", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, mr.Exists("test:lock:overdue"))

	_, ok, err = locker.TryLock(ctx, "overdue", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second holder must be rejected")

	// 不同任务互不影响
	unlockOther, ok, err := locker.TryLock(ctx, "no_show", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	unlockOther()

	unlock()
	assert.False(t, mr.Exists("test:lock:overdue"))

	_, ok, err = locker.TryLock(ctx, "overdue", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestKVLocker_ExpiredLeaseNotReleasedByOldHolder(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	locker := NewKVLocker(cache.NewRedisKV(client), "test:", zap.NewNop())
	ctx := context.Background()

	unlockOld, ok, err := locker.TryLock(ctx, "overdue", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	_, ok, err = locker.TryLock(ctx, "overdue", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	// 旧持有者释放不能删除新租约
	unlockOld()
	assert.True(t, mr.Exists("test:lock:overdue"))
}

func TestKVLocker_RenewsLeaseWhileHeld(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	locker := NewKVLocker(cache.NewRedisKV(client), "test:", zap.NewNop())
	ttl := 150 * time.Millisecond

	unlock, ok, err := locker.TryLock(context.Background(), "overdue", ttl)
	require.NoError(t, err)
	require.True(t, ok)

	// 模拟租约即将到期，续期后恢复完整 TTL
	mr.SetTTL("test:lock:overdue", time.Millisecond)
	assert.Eventually(t, func() bool {
		return mr.TTL("test:lock:overdue") == ttl
	}, 2*time.Second, 10*time.Millisecond)

	unlock()
	assert.False(t, mr.Exists("test:lock:overdue"))
	unlock()
}

func TestKVLocker_StopsRenewingLostLease(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	locker := NewKVLocker(cache.NewRedisKV(client), "test:", zap.NewNop())
	ttl := 90 * time.Millisecond

	unlock, ok, err := locker.TryLock(context.Background(), "overdue", ttl)
	require.NoError(t, err)
	require.True(t, ok)

	// 他人持有同名租约后不续期、不释放
	require.NoError(t, mr.Set("test:lock:overdue", "other-token"))
	mr.SetTTL("test:lock:overdue", time.Hour)
	time.Sleep(4 * ttl / 3)
	assert.Equal(t, time.Hour, mr.TTL("test:lock:overdue"))

	unlock()
	got, err := mr.Get("test:lock:overdue")
	require.NoError(t, err)
	assert.Equal(t, "other-token", got)
}

func TestLocalLocker(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()

	unlock, ok, err := locker.TryLock(ctx, "overdue", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, _ = locker.TryLock(ctx, "overdue", time.Minute)
	assert.False(t, ok)

	unlock()
	unlock2, ok, _ := locker.TryLock(ctx, "overdue", time.Minute)
	assert.True(t, ok)
	unlock2()
}

func TestScheduler_RunJobRecordsStatus(t *testing.T) {
	snapshots, _ := newTestCache(t)
	now := time.Date(2026, 1, 13, 9, 0, 0, 0, time.UTC)

	job := Job{
		Name:     "overdue",
		Interval: time.Hour,
		Run: func(ctx context.Context, at time.Time) (interface{}, error) {
			res := models.NewScanResult("overdue", at)
			res.Scanned = 4
			res.NewAlerts = 1
			res.AddError("L2", errors.New("boom"))
			return res, nil
		},
	}
	s := NewScheduler([]Job{job}, NewLocalLocker(), snapshots, time.Minute, zap.NewNop())
	s.clock = func() time.Time { return now }

	ran, err := s.RunJob(context.Background(), "overdue")
	require.NoError(t, err)
	assert.True(t, ran)

	status, err := snapshots.GetJobStatus(context.Background(), "overdue")
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.Equal(t, now, status.LastRunAt.UTC())
	require.NotNil(t, status.LastSuccessAt)
	assert.Empty(t, status.LastError)
	assert.Contains(t, string(status.Result), `"scanned":4`)
}

func TestScheduler_WarnsWhenRunExceedsLockTTL(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	current := time.Date(2026, 1, 13, 9, 0, 0, 0, time.UTC)

	job := Job{
		Name:     "overdue",
		Interval: time.Hour,
		Run: func(ctx context.Context, at time.Time) (interface{}, error) {
			current = current.Add(11 * time.Minute)
			return nil, nil
		},
	}
	s := NewScheduler([]Job{job}, NewLocalLocker(), nil, 10*time.Minute, zap.New(core))
	s.clock = func() time.Time { return current }

	ran, err := s.RunJob(context.Background(), "overdue")
	require.NoError(t, err)
	assert.True(t, ran)

	entries := logs.FilterMessage("Job ran longer than lock TTL").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "overdue", entries[0].ContextMap()["job"])
}

func TestScheduler_FailedRunKeepsLastSuccess(t *testing.T) {
	snapshots, _ := newTestCache(t)
	first := time.Date(2026, 1, 13, 9, 0, 0, 0, time.UTC)
	current := first

	fail := false
	job := Job{
		Name:     "daily_report",
		Interval: time.Hour,
		Run: func(ctx context.Context, at time.Time) (interface{}, error) {
			if fail {
				return nil, errors.New("store unavailable")
			}
			return map[string]int{"ok": 1}, nil
		},
	}
	s := NewScheduler([]Job{job}, NewLocalLocker(), snapshots, time.Minute, zap.NewNop())
	s.clock = func() time.Time { return current }

	_, err := s.RunJob(context.Background(), "daily_report")
	require.NoError(t, err)

	fail = true
	current = first.Add(time.Hour)
	_, err = s.RunJob(context.Background(), "daily_report")
	require.Error(t, err)

	status, err := snapshots.GetJobStatus(context.Background(), "daily_report")
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.Equal(t, current, status.LastRunAt.UTC())
	require.NotNil(t, status.LastSuccessAt)
	assert.Equal(t, first, status.LastSuccessAt.UTC())
	assert.Equal(t, "store unavailable", status.LastError)
}

func TestScheduler_SkipsWhenLocked(t *testing.T) {
	locker := NewLocalLocker()
	var calls int32
	job := Job{
		Name:     "overdue",
		Interval: time.Hour,
		Run: func(ctx context.Context, at time.Time) (interface{}, error) {
			atomic.AddInt32(&calls, 1)
			return nil, nil
		},
	}
	s := NewScheduler([]Job{job}, locker, nil, time.Minute, zap.NewNop())

	unlock, ok, err := locker.TryLock(context.Background(), "overdue", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ran, err := s.RunJob(context.Background(), "overdue")
	require.NoError(t, err)
	assert.False(t, ran)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))

	unlock()
	ran, err = s.RunJob(context.Background(), "overdue")
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestScheduler_ConcurrentRunsSerialized(t *testing.T) {
	var running, maxRunning int32
	job := Job{
		Name:     "no_show",
		Interval: time.Hour,
		Run: func(ctx context.Context, at time.Time) (interface{}, error) {
			n := atomic.AddInt32(&running, 1)
			for {
				m := atomic.LoadInt32(&maxRunning)
				if n <= m || atomic.CompareAndSwapInt32(&maxRunning, m, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&running, -1)
			return nil, nil
		},
	}
	s := NewScheduler([]Job{job}, NewLocalLocker(), nil, time.Minute, zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.RunJob(context.Background(), "no_show")
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&maxRunning))
}

func TestScheduler_UnknownJob(t *testing.T) {
	s := NewScheduler(nil, NewLocalLocker(), nil, time.Minute, zap.NewNop())
	_, err := s.RunJob(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrUnknownJob)
}

func TestScheduler_RunOnceJoinsErrors(t *testing.T) {
	var order []string
	mk := func(name string, err error) Job {
		return Job{Name: name, Interval: time.Hour, Run: func(ctx context.Context, at time.Time) (interface{}, error) {
			order = append(order, name)
			return nil, err
		}}
	}
	s := NewScheduler([]Job{
		mk("overdue", nil),
		mk("no_show", errors.New("store down")),
		mk("repeat_offender", nil),
	}, NewLocalLocker(), nil, time.Minute, zap.NewNop())

	err := s.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no_show: store down")
	assert.Equal(t, []string{"overdue", "no_show", "repeat_offender"}, order)
}

func TestScheduler_StartRunsImmediatelyAndStops(t *testing.T) {
	ran := make(chan struct{}, 1)
	job := Job{
		Name:     "overdue",
		Interval: time.Hour,
		Run: func(ctx context.Context, at time.Time) (interface{}, error) {
			select {
			case ran <- struct{}{}:
			default:
			}
			return nil, nil
		},
	}
	disabled := Job{
		Name:     "report_cleanup",
		Interval: 0,
		Run: func(ctx context.Context, at time.Time) (interface{}, error) {
			t.Error("disabled job must not run")
			return nil, nil
		},
	}
	s := NewScheduler([]Job{job, disabled}, NewLocalLocker(), nil, time.Minute, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not run on start")
	}
	cancel()

	done := make(chan struct{})
	go func() {
		s.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
