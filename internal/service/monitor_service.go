package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"loan-monitor/common/database"
	redisclient "loan-monitor/common/redis"
	"loan-monitor/internal/cache"
	"loan-monitor/internal/config"
	"loan-monitor/internal/evaluator"
	"loan-monitor/internal/models"
	"loan-monitor/internal/repository"
	"loan-monitor/internal/scheduler"
)

// 报告与清理任务名
const (
	JobDailyReport   = "daily_report"
	JobWeeklyReport  = "weekly_report"
	JobReportCleanup = "report_cleanup"
)

// MonitorService 借用监控服务（整合各层）
type MonitorService struct {
	config      *config.Config
	db          *sql.DB
	redisClient *redis.Client
	logger      *zap.Logger

	// 各层组件
	store       *repository.Store
	snapshots   *cache.SnapshotCache
	alerts      *AlertService
	reports     *ReportService
	reliability *ReliabilityService
	overdue     *evaluator.OverdueDetector
	noShow      *evaluator.NoShowDetector
	repeat      *evaluator.RepeatOffenderDetector
	scheduler   *scheduler.Scheduler
}

// NewMonitorService 连接存储并组装各层
func NewMonitorService(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*MonitorService, error) {
	s := &MonitorService{config: cfg, logger: logger}

	// 1. 记录存储
	switch cfg.Store.Driver {
	case config.StoreDriverMemory:
		mem := repository.NewMemoryStore()
		if cfg.Store.SeedFile != "" {
			if err := mem.LoadSeedFile(cfg.Store.SeedFile); err != nil {
				return nil, fmt.Errorf("failed to load seed file: %w", err)
			}
			logger.Info("Loaded seed file", zap.String("path", cfg.Store.SeedFile))
		}
		s.store = mem.Store()
	default:
		db, err := database.NewPostgresDB(ctx, &cfg.Database)
		if err != nil {
			return nil, err
		}
		if cfg.Store.AutoMigrate {
			if err := repository.EnsureSchema(ctx, db); err != nil {
				db.Close()
				return nil, fmt.Errorf("failed to ensure schema: %w", err)
			}
		}
		s.db = db
		logger.Info("Connected to database", zap.String("database", cfg.Database.Redacted()))
		s.store = repository.NewPostgresStore(db, logger)
	}

	// 2. Redis（可选）：任务锁与快照缓存
	var kv cache.KVStore
	var locker scheduler.Locker
	if cfg.Redis.Enabled {
		client, err := redisclient.Connect(ctx, &cfg.Redis)
		if err != nil {
			s.closeDB()
			return nil, err
		}
		s.redisClient = client
		kv = cache.NewRedisKV(client)
		locker = scheduler.NewKVLocker(kv, cfg.Cache.KeyPrefix, logger)
	} else {
		logger.Info("Redis disabled, using in-process cache and job locks")
		kv = cache.NewMemoryKV()
		locker = scheduler.NewLocalLocker()
	}
	s.snapshots = cache.NewSnapshotCache(kv, cfg.Cache.KeyPrefix, cfg.Cache.SnapshotTTL, logger)

	// 3. 服务与探测器
	loc := cfg.Monitor.Location
	s.alerts = NewAlertService(s.store.Alerts, s.store.AuditLogs, loc, logger)
	s.overdue = evaluator.NewOverdueDetector(s.store.Loans, s.alerts, loc, logger)
	s.noShow = evaluator.NewNoShowDetector(s.store.Reservations, s.store.NoShows, s.alerts, logger)
	s.repeat = evaluator.NewRepeatOffenderDetector(s.store.NoShows, s.alerts, logger)
	s.reports = NewReportService(s.store, s.alerts, s.overdue, s.snapshots, loc, logger)
	s.reliability = NewReliabilityService(s.store, loc, logger)

	// 4. 调度
	s.scheduler = scheduler.NewScheduler(s.jobs(), locker, s.snapshots, cfg.Monitor.JobLockTTL, logger)
	return s, nil
}

func (s *MonitorService) jobs() []scheduler.Job {
	m := s.config.Monitor
	return []scheduler.Job{
		{Name: evaluator.JobOverdue, Interval: m.OverdueScanInterval, Run: scanJob(s.overdue)},
		{Name: evaluator.JobNoShow, Interval: m.NoShowScanInterval, Run: scanJob(s.noShow)},
		{Name: evaluator.JobRepeatOffender, Interval: m.RepeatScanInterval, Run: scanJob(s.repeat)},
		{Name: JobDailyReport, Interval: m.DailyReportInterval, Run: s.runDailyReport},
		{Name: JobWeeklyReport, Interval: m.WeeklyReportInterval, Run: s.runWeeklyReport},
		{Name: JobReportCleanup, Interval: m.CleanupInterval, Run: s.runReportCleanup},
	}
}

func scanJob(scanner evaluator.Scanner) scheduler.RunFunc {
	return func(ctx context.Context, now time.Time) (interface{}, error) {
		return scanner.Scan(ctx, now)
	}
}

// ReportJobResult 报告任务结果
type ReportJobResult struct {
	ReportID  string `json:"reportId"`
	Generated bool   `json:"generated"`
}

// runDailyReport 生成前一自然日的日报；已存在时跳过（避免重置查看记录）
func (s *MonitorService) runDailyReport(ctx context.Context, now time.Time) (interface{}, error) {
	day := now.In(s.config.Monitor.Location).AddDate(0, 0, -1)
	period := models.DayPeriod(day)
	return s.generateIfMissing(ctx, models.ReportTypeDailySummary, period, func() (*models.ReportSnapshot, error) {
		return s.reports.GenerateDailySummary(ctx, day)
	})
}

// runWeeklyReport 生成上一周（周一至周日）的周报；已存在时跳过
func (s *MonitorService) runWeeklyReport(ctx context.Context, now time.Time) (interface{}, error) {
	lastWeek := models.StartOfWeek(now.In(s.config.Monitor.Location)).AddDate(0, 0, -7)
	period := models.WeekPeriod(lastWeek)
	return s.generateIfMissing(ctx, models.ReportTypeWeeklyUtilization, period, func() (*models.ReportSnapshot, error) {
		return s.reports.GenerateWeeklyUtilization(ctx, lastWeek)
	})
}

func (s *MonitorService) generateIfMissing(ctx context.Context, reportType models.ReportType, period string, generate func() (*models.ReportSnapshot, error)) (*ReportJobResult, error) {
	existing, err := s.reports.GetReport(ctx, reportType, period)
	if err == nil {
		return &ReportJobResult{ReportID: existing.ID}, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}
	report, err := generate()
	if err != nil {
		return nil, err
	}
	return &ReportJobResult{ReportID: report.ID, Generated: true}, nil
}

func (s *MonitorService) runReportCleanup(ctx context.Context, now time.Time) (interface{}, error) {
	n, err := s.reports.CleanupOldReports(ctx, s.config.Monitor.ReportRetentionDays)
	if err != nil {
		return nil, err
	}
	return map[string]int{"deleted": n}, nil
}

// Start 启动所有周期任务；RunOnce 模式下执行一次后返回
func (s *MonitorService) Start(ctx context.Context) error {
	s.logger.Info("Starting loan monitor service",
		zap.String("store_driver", s.config.Store.Driver),
		zap.String("timezone", s.config.Monitor.Location.String()),
		zap.Bool("redis_enabled", s.config.Redis.Enabled),
		zap.Bool("run_once", s.config.Monitor.RunOnce),
	)

	if s.config.Monitor.RunOnce {
		return s.scheduler.RunOnce(ctx)
	}
	s.scheduler.Start(ctx)
	return nil
}

// Wait 等待周期任务退出
func (s *MonitorService) Wait() {
	s.scheduler.Wait()
}

// Stop 停止服务
func (s *MonitorService) Stop() error {
	s.logger.Info("Stopping loan monitor service")

	s.closeDB()
	if err := redisclient.Close(s.redisClient); err != nil {
		s.logger.Error("Failed to close redis",
			zap.Error(err),
		)
	}
	return nil
}

func (s *MonitorService) closeDB() {
	if err := database.Close(s.db); err != nil {
		s.logger.Error("Failed to close database",
			zap.Error(err),
		)
	}
	s.db = nil
}

func (s *MonitorService) Alerts() *AlertService            { return s.alerts }
func (s *MonitorService) Reports() *ReportService          { return s.reports }
func (s *MonitorService) Reliability() *ReliabilityService { return s.reliability }
func (s *MonitorService) Snapshots() *cache.SnapshotCache  { return s.snapshots }
func (s *MonitorService) Scheduler() *scheduler.Scheduler  { return s.scheduler }
