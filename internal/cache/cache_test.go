package cache

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"loan-monitor/internal/models"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *RedisKV) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, NewRedisKV(client)
}

func TestRedisKV_SetNXAndCompareAndDelete(t *testing.T) {
	mr, kv := setupTestRedis(t)
	ctx := context.Background()

	ok, err := kv.SetNX(ctx, "lock:overdue", []byte("token-a"), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = kv.SetNX(ctx, "lock:overdue", []byte("token-b"), time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	deleted, err := kv.CompareAndDelete(ctx, "lock:overdue", []byte("token-b"))
	require.NoError(t, err)
	assert.False(t, deleted)
	assert.True(t, mr.Exists("lock:overdue"))

	deleted, err = kv.CompareAndDelete(ctx, "lock:overdue", []byte("token-a"))
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.False(t, mr.Exists("lock:overdue"))
}

func TestRedisKV_CompareAndExpire(t *testing.T) {
	mr, kv := setupTestRedis(t)
	ctx := context.Background()

	ok, err := kv.SetNX(ctx, "lock:overdue", []byte("token-a"), 10*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	renewed, err := kv.CompareAndExpire(ctx, "lock:overdue", []byte("token-b"), time.Minute)
	require.NoError(t, err)
	assert.False(t, renewed)
	assert.Equal(t, 10*time.Second, mr.TTL("lock:overdue"))

	renewed, err = kv.CompareAndExpire(ctx, "lock:overdue", []byte("token-a"), time.Minute)
	require.NoError(t, err)
	assert.True(t, renewed)
	assert.Equal(t, time.Minute, mr.TTL("lock:overdue"))

	renewed, err = kv.CompareAndExpire(ctx, "missing", []byte("token-a"), time.Minute)
	require.NoError(t, err)
	assert.False(t, renewed)
}

func TestRedisKV_GetMissAndTTL(t *testing.T) {
	mr, kv := setupTestRedis(t)
	ctx := context.Background()

	_, err := kv.Get(ctx, "missing")
	assert.True(t, errors.Is(err, ErrCacheMiss))

	require.NoError(t, kv.Set(ctx, "k", []byte("v"), time.Second))
	got, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(got))

	mr.FastForward(2 * time.Second)
	_, err = kv.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryKV_Expiry(t *testing.T) {
	kv := NewMemoryKV()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	kv.now = func() time.Time { return now }
	ctx := context.Background()

	ok, err := kv.SetNX(ctx, "k", []byte("a"), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = kv.SetNX(ctx, "k", []byte("b"), time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	now = now.Add(time.Minute)
	ok, err = kv.SetNX(ctx, "k", []byte("b"), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "expired key can be taken again")

	deleted, err := kv.CompareAndDelete(ctx, "k", []byte("a"))
	require.NoError(t, err)
	assert.False(t, deleted)

	// 续期后原过期时刻不再生效
	now = now.Add(30 * time.Second)
	renewed, err := kv.CompareAndExpire(ctx, "k", []byte("b"), time.Minute)
	require.NoError(t, err)
	assert.True(t, renewed)
	now = now.Add(45 * time.Second)
	ok, err = kv.SetNX(ctx, "k", []byte("c"), time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSnapshotCache_JobStatus(t *testing.T) {
	_, kv := setupTestRedis(t)
	c := NewSnapshotCache(kv, "loan-monitor:", time.Hour, zap.NewNop())
	ctx := context.Background()

	status, err := c.GetJobStatus(ctx, "overdue")
	require.NoError(t, err)
	assert.Nil(t, status)

	first := time.Date(2026, 1, 13, 9, 0, 0, 0, time.UTC)
	require.NoError(t, c.RecordJobRun(ctx, "overdue", first, &models.ScanResult{Job: "overdue", Scanned: 4, NewAlerts: 1}, nil))

	second := first.Add(15 * time.Minute)
	require.NoError(t, c.RecordJobRun(ctx, "overdue", second, nil, errors.New("db down")))

	status, err = c.GetJobStatus(ctx, "overdue")
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.Equal(t, "db down", status.LastError)
	assert.True(t, second.Equal(status.LastRunAt))
	require.NotNil(t, status.LastSuccessAt)
	assert.True(t, first.Equal(*status.LastSuccessAt))

	var result models.ScanResult
	require.NoError(t, json.Unmarshal(status.Result, &result))
	assert.Equal(t, 4, result.Scanned)
}

func TestSnapshotCache_LatestReport(t *testing.T) {
	c := NewSnapshotCache(NewMemoryKV(), "lm:", 0, zap.NewNop())
	ctx := context.Background()
	base := time.Date(2026, 1, 13, 0, 0, 0, 0, time.UTC)

	newer := &models.ReportSnapshot{ID: "daily_summary_2026-01-12", ReportType: models.ReportTypeDailySummary, GeneratedAt: base, Data: json.RawMessage(`{}`)}
	older := &models.ReportSnapshot{ID: "daily_summary_2026-01-05", ReportType: models.ReportTypeDailySummary, GeneratedAt: base.AddDate(0, 0, -7), Data: json.RawMessage(`{}`)}

	require.NoError(t, c.SetLatestReport(ctx, newer))
	require.NoError(t, c.SetLatestReport(ctx, older))

	got, err := c.GetLatestReport(ctx, models.ReportTypeDailySummary)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, newer.ID, got.ID)

	require.NoError(t, c.InvalidateLatestReport(ctx, models.ReportTypeDailySummary))
	got, err = c.GetLatestReport(ctx, models.ReportTypeDailySummary)
	require.NoError(t, err)
	assert.Nil(t, got)
}
