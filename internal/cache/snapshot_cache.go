package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"loan-monitor/internal/models"
)

// SnapshotCache 任务状态与最新报告缓存
type SnapshotCache struct {
	kv        KVStore
	keyPrefix string
	ttl       time.Duration
	logger    *zap.Logger
}

// NewSnapshotCache 创建快照缓存；ttl <= 0 表示不过期
func NewSnapshotCache(kv KVStore, keyPrefix string, ttl time.Duration, logger *zap.Logger) *SnapshotCache {
	return &SnapshotCache{
		kv:        kv,
		keyPrefix: keyPrefix,
		ttl:       ttl,
		logger:    logger,
	}
}

func (c *SnapshotCache) jobKey(job string) string {
	return fmt.Sprintf("%sjob:%s:status", c.keyPrefix, job)
}

func (c *SnapshotCache) latestReportKey(reportType models.ReportType) string {
	return fmt.Sprintf("%sreport:%s:latest", c.keyPrefix, reportType)
}

// ============================================
// 任务状态
// ============================================

// GetJobStatus 读取任务状态，不存在时返回 nil, nil
func (c *SnapshotCache) GetJobStatus(ctx context.Context, job string) (*models.JobStatus, error) {
	var status models.JobStatus
	found, err := c.getJSON(ctx, c.jobKey(job), &status)
	if err != nil || !found {
		return nil, err
	}
	return &status, nil
}

// RecordJobRun 记录一次执行；失败时保留上次成功时间与结果
func (c *SnapshotCache) RecordJobRun(ctx context.Context, job string, at time.Time, result interface{}, runErr error) error {
	status, err := c.GetJobStatus(ctx, job)
	if err != nil {
		c.logger.Warn("Failed to read job status, overwriting",
			zap.String("job", job),
			zap.Error(err),
		)
	}
	if status == nil {
		status = &models.JobStatus{Job: job}
	}
	status.LastRunAt = at

	if runErr != nil {
		status.LastError = runErr.Error()
	} else {
		success := at
		status.LastSuccessAt = &success
		status.LastError = ""
		if result != nil {
			raw, err := json.Marshal(result)
			if err != nil {
				return fmt.Errorf("failed to marshal job result: %w", err)
			}
			status.Result = raw
		}
	}
	return c.setJSON(ctx, c.jobKey(job), status)
}

// ============================================
// 最新报告
// ============================================

// GetLatestReport 不存在时返回 nil, nil
func (c *SnapshotCache) GetLatestReport(ctx context.Context, reportType models.ReportType) (*models.ReportSnapshot, error) {
	var report models.ReportSnapshot
	found, err := c.getJSON(ctx, c.latestReportKey(reportType), &report)
	if err != nil || !found {
		return nil, err
	}
	return &report, nil
}

// SetLatestReport 仅当比已缓存的更新时写入
func (c *SnapshotCache) SetLatestReport(ctx context.Context, report *models.ReportSnapshot) error {
	current, err := c.GetLatestReport(ctx, report.ReportType)
	if err == nil && current != nil && current.ID != report.ID && current.GeneratedAt.After(report.GeneratedAt) {
		return nil
	}
	return c.setJSON(ctx, c.latestReportKey(report.ReportType), report)
}

// InvalidateLatestReport 删除最新报告缓存
func (c *SnapshotCache) InvalidateLatestReport(ctx context.Context, reportType models.ReportType) error {
	return c.kv.Delete(ctx, c.latestReportKey(reportType))
}

// ============================================
// 工具
// ============================================

func (c *SnapshotCache) getJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	raw, err := c.kv.Get(ctx, key)
	if errors.Is(err, ErrCacheMiss) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get cache %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal cache %s: %w", key, err)
	}
	return true, nil
}

func (c *SnapshotCache) setJSON(ctx context.Context, key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache %s: %w", key, err)
	}
	if err := c.kv.Set(ctx, key, raw, c.ttl); err != nil {
		return fmt.Errorf("failed to set cache %s: %w", key, err)
	}
	c.logger.Debug("Updated cache", zap.String("key", key), zap.Int("bytes", len(raw)))
	return nil
}
