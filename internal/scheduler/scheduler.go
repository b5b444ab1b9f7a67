// Package scheduler 周期任务调度（每个任务独立轮询，同名任务互斥）
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"loan-monitor/internal/metrics"
	"loan-monitor/internal/models"
)

// ErrUnknownJob 任务不存在
var ErrUnknownJob = errors.New("unknown job")

// RunFunc 单次执行，返回结果摘要
type RunFunc func(ctx context.Context, now time.Time) (interface{}, error)

// Job 周期任务
type Job struct {
	Name     string
	Interval time.Duration
	Run      RunFunc
}

// StatusRecorder 任务状态记录
type StatusRecorder interface {
	RecordJobRun(ctx context.Context, job string, at time.Time, result interface{}, runErr error) error
}

// Scheduler 任务调度器
type Scheduler struct {
	jobs     []Job
	locker   Locker
	recorder StatusRecorder
	lockTTL  time.Duration
	clock    func() time.Time
	logger   *zap.Logger

	wg sync.WaitGroup
}

// NewScheduler 创建调度器；recorder 可为 nil
func NewScheduler(jobs []Job, locker Locker, recorder StatusRecorder, lockTTL time.Duration, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		jobs:     jobs,
		locker:   locker,
		recorder: recorder,
		lockTTL:  lockTTL,
		clock:    time.Now,
		logger:   logger,
	}
}

// Jobs 已注册任务
func (s *Scheduler) Jobs() []Job {
	return s.jobs
}

// Job 按名称查找
func (s *Scheduler) Job(name string) (Job, bool) {
	for _, j := range s.jobs {
		if j.Name == name {
			return j, true
		}
	}
	return Job{}, false
}

// Start 为每个任务启动轮询（启动时立即执行一次），ctx 取消后退出
func (s *Scheduler) Start(ctx context.Context) {
	for _, job := range s.jobs {
		if job.Interval <= 0 {
			s.logger.Info("Job disabled", zap.String("job", job.Name))
			continue
		}
		s.wg.Add(1)
		go func(job Job) {
			defer s.wg.Done()
			s.loop(ctx, job)
		}(job)
	}
}

// Wait 等待所有轮询退出
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	s.logger.Info("Job scheduled",
		zap.String("job", job.Name),
		zap.Duration("interval", job.Interval),
	)

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	// 立即执行一次
	if _, err := s.RunJob(ctx, job.Name); err != nil {
		s.logger.Error("Job run failed", zap.String("job", job.Name), zap.Error(err))
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Job stopped", zap.String("job", job.Name))
			return
		case <-ticker.C:
			if _, err := s.RunJob(ctx, job.Name); err != nil {
				s.logger.Error("Job run failed", zap.String("job", job.Name), zap.Error(err))
				// 等待下一周期重试
			}
		}
	}
}

// RunOnce 依次执行全部任务一次（外部调度模式），返回所有失败
func (s *Scheduler) RunOnce(ctx context.Context) error {
	var errs []error
	for _, job := range s.jobs {
		if _, err := s.RunJob(ctx, job.Name); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", job.Name, err))
		}
	}
	return errors.Join(errs...)
}

// RunJob 执行一次指定任务；同名任务已在运行时跳过（ran=false）
func (s *Scheduler) RunJob(ctx context.Context, name string) (ran bool, err error) {
	job, ok := s.Job(name)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}

	unlock, acquired, err := s.locker.TryLock(ctx, job.Name, s.lockTTL)
	if err != nil {
		metrics.JobRunsTotal.WithLabelValues(job.Name, "failed").Inc()
		return false, err
	}
	if !acquired {
		metrics.JobRunsTotal.WithLabelValues(job.Name, "skipped").Inc()
		s.logger.Info("Job already running elsewhere, skipped", zap.String("job", job.Name))
		return false, nil
	}
	defer unlock()

	startedAt := s.clock()
	result, runErr := job.Run(ctx, startedAt)
	elapsed := s.clock().Sub(startedAt)
	metrics.JobDuration.WithLabelValues(job.Name).Observe(elapsed.Seconds())
	if s.lockTTL > 0 && elapsed > s.lockTTL {
		s.logger.Warn("Job ran longer than lock TTL",
			zap.String("job", job.Name),
			zap.Duration("elapsed", elapsed),
			zap.Duration("lock_ttl", s.lockTTL),
		)
	}

	if scan, ok := result.(*models.ScanResult); ok && scan != nil && len(scan.Errors) > 0 {
		metrics.ScanRecordErrorsTotal.WithLabelValues(job.Name).Add(float64(len(scan.Errors)))
	}

	if runErr != nil {
		metrics.JobRunsTotal.WithLabelValues(job.Name, "failed").Inc()
	} else {
		metrics.JobRunsTotal.WithLabelValues(job.Name, "success").Inc()
		s.logger.Info("Job finished",
			zap.String("job", job.Name),
			zap.Duration("elapsed", elapsed),
		)
	}

	if s.recorder != nil {
		if err := s.recorder.RecordJobRun(ctx, job.Name, startedAt, result, runErr); err != nil {
			s.logger.Warn("Failed to record job status", zap.String("job", job.Name), zap.Error(err))
		}
	}
	return true, runErr
}
