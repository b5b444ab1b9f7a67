package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"loan-monitor/internal/metrics"
	"loan-monitor/internal/models"
	"loan-monitor/internal/repository"
)

const (
	// DefaultReportRetentionDays 报告默认保留天数
	DefaultReportRetentionDays = 90
	// DefaultReportHistoryLimit 历史查询默认条数
	DefaultReportHistoryLimit = 30
	// MaxReportHistoryLimit 历史查询上限
	MaxReportHistoryLimit = 200
)

// AlertStatsSource 报警统计来源
type AlertStatsSource interface {
	Stats(ctx context.Context, now time.Time) (models.AlertStats, error)
}

// OverdueSummarySource 逾期汇总来源
type OverdueSummarySource interface {
	Summary(ctx context.Context, now time.Time) (models.OverdueSummary, error)
}

// ReportCache 最新报告缓存
type ReportCache interface {
	GetLatestReport(ctx context.Context, reportType models.ReportType) (*models.ReportSnapshot, error)
	SetLatestReport(ctx context.Context, report *models.ReportSnapshot) error
	InvalidateLatestReport(ctx context.Context, reportType models.ReportType) error
}

// ReportService 周期报告生成与访问
// 报告按 (reportType, period) 唯一，重新生成为整体覆盖
type ReportService struct {
	loans        repository.LoansRepository
	reservations repository.ReservationsRepository
	equipment    repository.EquipmentRepository
	noShows      repository.NoShowRepository
	reports      repository.ReportsRepository
	alertStats   AlertStatsSource
	overdue      OverdueSummarySource
	cache        ReportCache
	loc          *time.Location
	clock        func() time.Time
	logger       *zap.Logger
}

// NewReportService 创建报告服务；cache 可为 nil
func NewReportService(
	store *repository.Store,
	alertStats AlertStatsSource,
	overdue OverdueSummarySource,
	cache ReportCache,
	loc *time.Location,
	logger *zap.Logger,
) *ReportService {
	if loc == nil {
		loc = time.UTC
	}
	return &ReportService{
		loans:        store.Loans,
		reservations: store.Reservations,
		equipment:    store.Equipment,
		noShows:      store.NoShows,
		reports:      store.Reports,
		alertStats:   alertStats,
		overdue:      overdue,
		cache:        cache,
		loc:          loc,
		clock:        time.Now,
		logger:       logger,
	}
}

// warnings 并发收集子项降级信息
type warnings struct {
	reportType models.ReportType
	logger     *zap.Logger
	ch         chan string
}

func newWarnings(reportType models.ReportType, logger *zap.Logger, capacity int) *warnings {
	return &warnings{reportType: reportType, logger: logger, ch: make(chan string, capacity)}
}

func (w *warnings) add(section string, err error) {
	metrics.ReportWarningsTotal.WithLabelValues(string(w.reportType)).Inc()
	w.logger.Warn("Report section degraded to zero value",
		zap.String("report_type", string(w.reportType)),
		zap.String("section", section),
		zap.Error(err),
	)
	w.ch <- fmt.Sprintf("%s: %v", section, err)
}

func (w *warnings) list() []string {
	close(w.ch)
	var out []string
	for msg := range w.ch {
		out = append(out, msg)
	}
	return out
}

// ============================================
// 日报
// ============================================

// GenerateDailySummary 生成 date 所在自然日（配置时区）的日报
func (s *ReportService) GenerateDailySummary(ctx context.Context, date time.Time) (*models.ReportSnapshot, error) {
	local := date.In(s.loc)
	start, end := models.StartOfDay(local), models.EndOfDay(local)
	now := s.clock()

	data := models.DailySummaryData{
		Date:       models.DayPeriod(local),
		RangeStart: start,
		RangeEnd:   end,
		Alerts:     models.NewAlertStats(),
		Overdue:    models.NewOverdueSummary(),
	}
	warn := newWarnings(models.ReportTypeDailySummary, s.logger, 4)

	var g errgroup.Group
	g.Go(func() error {
		activity, err := s.loanActivity(ctx, start, end)
		if err != nil {
			warn.add("loans", err)
			return nil
		}
		data.Loans = activity
		return nil
	})
	g.Go(func() error {
		activity, err := s.reservationActivity(ctx, start, end)
		if err != nil {
			warn.add("reservations", err)
			return nil
		}
		data.Reservations = activity
		return nil
	})
	g.Go(func() error {
		stats, err := s.alertStats.Stats(ctx, now)
		if err != nil {
			warn.add("alerts", err)
			return nil
		}
		data.Alerts = stats
		return nil
	})
	g.Go(func() error {
		summary, err := s.overdue.Summary(ctx, now)
		if err != nil {
			warn.add("overdue", err)
			return nil
		}
		data.Overdue = summary
		return nil
	})
	_ = g.Wait()
	data.Warnings = warn.list()

	return s.saveReport(ctx, models.ReportTypeDailySummary, data.Date, data, now)
}

func (s *ReportService) loanActivity(ctx context.Context, start, end time.Time) (models.LoanActivity, error) {
	var activity models.LoanActivity
	counts := []struct {
		field models.LoanTimestampField
		dest  *int
	}{
		{models.LoanCreatedAt, &activity.New},
		{models.LoanApprovedAt, &activity.Approved},
		{models.LoanRejectedAt, &activity.Rejected},
		{models.LoanBorrowedAt, &activity.Borrowed},
		{models.LoanActualReturnDate, &activity.Returned},
	}
	for _, c := range counts {
		loans, err := s.loans.ListLoansInRange(ctx, c.field, start, end)
		if err != nil {
			return models.LoanActivity{}, err
		}
		*c.dest = len(loans)
	}

	// 当天转为逾期：预计归还日为前一天且当时未按时归还
	dueYesterday, err := s.loans.ListLoansInRange(ctx, models.LoanExpectedReturn, start.AddDate(0, 0, -1), end.AddDate(0, 0, -1))
	if err != nil {
		return models.LoanActivity{}, err
	}
	for _, loan := range dueYesterday {
		switch loan.Status {
		case models.LoanStatusBorrowed, models.LoanStatusOverdue, models.LoanStatusReturned:
		default:
			continue
		}
		deadline := models.EndOfDay(loan.ExpectedReturnDate.In(s.loc))
		if loan.ActualReturnDate == nil || loan.ActualReturnDate.After(deadline) {
			activity.Overdue++
		}
	}
	return activity, nil
}

func (s *ReportService) reservationActivity(ctx context.Context, start, end time.Time) (models.ReservationActivity, error) {
	var activity models.ReservationActivity
	counts := []struct {
		field models.ReservationTimestampField
		dest  *int
	}{
		{models.ReservationCreatedAt, &activity.New},
		{models.ReservationApprovedAt, &activity.Approved},
		{models.ReservationCancelledAt, &activity.Cancelled},
		{models.ReservationCompletedAt, &activity.Completed},
		{models.ReservationNoShowAt, &activity.NoShow},
	}
	for _, c := range counts {
		reservations, err := s.reservations.ListReservationsInRange(ctx, c.field, start, end)
		if err != nil {
			return models.ReservationActivity{}, err
		}
		*c.dest = len(reservations)
	}
	return activity, nil
}

// ============================================
// 周报
// ============================================

// GenerateWeeklyUtilization 生成 date 所在周（周一至周日）的周报，子项并发计算
func (s *ReportService) GenerateWeeklyUtilization(ctx context.Context, date time.Time) (*models.ReportSnapshot, error) {
	local := date.In(s.loc)
	start, end := models.WeekBounds(local)
	now := s.clock()
	asOf := end
	if now.Before(asOf) {
		asOf = now
	}

	data := models.WeeklyUtilizationData{
		Week:            models.WeekPeriod(start),
		RangeStart:      start,
		RangeEnd:        end,
		Equipment:       emptyEquipmentSummary(),
		Users:           emptyUserSummary(),
		TopBorrowers:    []models.UserRanking{},
		MostReliable:    []models.UserRanking{},
		LoanStats:       emptyWeeklyLoanStats(start),
		ReservationStat: emptyWeeklyReservationStats(start),
	}
	warn := newWarnings(models.ReportTypeWeeklyUtilization, s.logger, 4)

	var g errgroup.Group
	g.Go(func() error {
		summary, err := s.equipmentUtilization(ctx, start, end, asOf)
		if err != nil {
			warn.add("equipment", err)
			return nil
		}
		data.Equipment = summary
		return nil
	})
	g.Go(func() error {
		users, err := s.userReliability(ctx, start, end, asOf)
		if err != nil {
			warn.add("users", err)
			return nil
		}
		data.Users = users.summary
		data.TopBorrowers = users.topBorrowers
		data.MostReliable = users.mostReliable
		return nil
	})
	g.Go(func() error {
		stats, err := s.weeklyLoanStatistics(ctx, start, end)
		if err != nil {
			warn.add("loanStats", err)
			return nil
		}
		data.LoanStats = stats
		return nil
	})
	g.Go(func() error {
		stats, err := s.weeklyReservationStatistics(ctx, start, end)
		if err != nil {
			warn.add("reservationStats", err)
			return nil
		}
		data.ReservationStat = stats
		return nil
	})
	_ = g.Wait()
	data.Warnings = warn.list()

	return s.saveReport(ctx, models.ReportTypeWeeklyUtilization, data.Week, data, now)
}

// ============================================
// 存储
// ============================================

func (s *ReportService) saveReport(ctx context.Context, reportType models.ReportType, period string, data interface{}, now time.Time) (*models.ReportSnapshot, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal report data: %w", err)
	}
	report := &models.ReportSnapshot{
		ID:            models.ReportID(reportType, period),
		ReportType:    reportType,
		Period:        period,
		Data:          raw,
		GeneratedAt:   now,
		ViewedBy:      []string{},
		DownloadCount: 0,
	}
	if err := s.reports.SaveReport(ctx, report); err != nil {
		return nil, fmt.Errorf("failed to save report %s: %w", report.ID, err)
	}
	if s.cache != nil {
		if err := s.cache.SetLatestReport(ctx, report); err != nil {
			s.logger.Warn("Failed to cache latest report", zap.String("report_id", report.ID), zap.Error(err))
		}
	}

	s.logger.Info("Report generated",
		zap.String("report_id", report.ID),
		zap.String("report_type", string(reportType)),
		zap.String("period", period),
		zap.Int("bytes", len(raw)),
	)
	return report, nil
}

// ============================================
// 访问
// ============================================

// GetReport 按类型与周期读取
func (s *ReportService) GetReport(ctx context.Context, reportType models.ReportType, period string) (*models.ReportSnapshot, error) {
	if !reportType.Valid() {
		return nil, fmt.Errorf("%w: unknown report type %q", models.ErrValidation, reportType)
	}
	if strings.TrimSpace(period) == "" {
		return nil, fmt.Errorf("%w: period is required", models.ErrValidation)
	}
	return s.reports.GetReport(ctx, models.ReportID(reportType, period))
}

// GetReportByID 按复合键读取
func (s *ReportService) GetReportByID(ctx context.Context, reportID string) (*models.ReportSnapshot, error) {
	if reportID == "" {
		return nil, fmt.Errorf("%w: report id is required", models.ErrValidation)
	}
	return s.reports.GetReport(ctx, reportID)
}

// GetReportHistory 报告历史，按生成时间倒序
func (s *ReportService) GetReportHistory(ctx context.Context, filters models.ReportFilters, limit int) ([]*models.ReportSnapshot, error) {
	if filters.ReportType != nil && !filters.ReportType.Valid() {
		return nil, fmt.Errorf("%w: unknown report type %q", models.ErrValidation, *filters.ReportType)
	}
	if limit <= 0 {
		limit = DefaultReportHistoryLimit
	}
	if limit > MaxReportHistoryLimit {
		limit = MaxReportHistoryLimit
	}
	return s.reports.ListReports(ctx, filters, limit)
}

// GetLatestReport 最新报告，优先读缓存
func (s *ReportService) GetLatestReport(ctx context.Context, reportType models.ReportType) (*models.ReportSnapshot, error) {
	if !reportType.Valid() {
		return nil, fmt.Errorf("%w: unknown report type %q", models.ErrValidation, reportType)
	}
	if s.cache != nil {
		cached, err := s.cache.GetLatestReport(ctx, reportType)
		if err != nil {
			s.logger.Warn("Failed to read latest report cache", zap.String("report_type", string(reportType)), zap.Error(err))
		} else if cached != nil {
			return cached, nil
		}
	}

	reports, err := s.reports.ListReports(ctx, models.ReportFilters{ReportType: &reportType}, 1)
	if err != nil {
		return nil, err
	}
	if len(reports) == 0 {
		return nil, fmt.Errorf("latest %s report: %w", reportType, models.ErrNotFound)
	}
	if s.cache != nil {
		if err := s.cache.SetLatestReport(ctx, reports[0]); err != nil {
			s.logger.Warn("Failed to cache latest report", zap.String("report_id", reports[0].ID), zap.Error(err))
		}
	}
	return reports[0], nil
}

// MarkReportViewed 记录查看人（只修改 viewedBy）
func (s *ReportService) MarkReportViewed(ctx context.Context, reportID, adminID string) error {
	if reportID == "" || strings.TrimSpace(adminID) == "" {
		return fmt.Errorf("%w: report id and admin id are required", models.ErrValidation)
	}
	if err := s.reports.AddReportViewer(ctx, reportID, adminID); err != nil {
		return err
	}
	s.invalidateLatest(ctx, reportID)
	return nil
}

// IncrementDownloadCount 下载次数 +1（只修改 downloadCount）
func (s *ReportService) IncrementDownloadCount(ctx context.Context, reportID string) (int, error) {
	if reportID == "" {
		return 0, fmt.Errorf("%w: report id is required", models.ErrValidation)
	}
	n, err := s.reports.IncrementDownloadCount(ctx, reportID)
	if err != nil {
		return 0, err
	}
	s.invalidateLatest(ctx, reportID)
	return n, nil
}

// ExportReport 读取报告并记一次下载；计数失败不影响导出
func (s *ReportService) ExportReport(ctx context.Context, reportID string) (*models.ReportSnapshot, error) {
	report, err := s.GetReportByID(ctx, reportID)
	if err != nil {
		return nil, err
	}
	n, err := s.IncrementDownloadCount(ctx, reportID)
	if err != nil {
		s.logger.Warn("Failed to increment download count",
			zap.String("report_id", reportID),
			zap.Error(err),
		)
	} else {
		report.DownloadCount = n
	}
	return report, nil
}

// ExportReportToJSON 只导出 data 字段
func (s *ReportService) ExportReportToJSON(ctx context.Context, reportID string) ([]byte, error) {
	report, err := s.ExportReport(ctx, reportID)
	if err != nil {
		return nil, err
	}
	return report.Data, nil
}

// CleanupOldReports 删除 daysToKeep 天前生成的报告
func (s *ReportService) CleanupOldReports(ctx context.Context, daysToKeep int) (int, error) {
	if daysToKeep <= 0 {
		daysToKeep = DefaultReportRetentionDays
	}
	cutoff := s.clock().AddDate(0, 0, -daysToKeep)
	n, err := s.reports.DeleteReportsGeneratedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old reports: %w", err)
	}
	if n > 0 && s.cache != nil {
		for _, t := range []models.ReportType{models.ReportTypeDailySummary, models.ReportTypeWeeklyUtilization} {
			if err := s.cache.InvalidateLatestReport(ctx, t); err != nil {
				s.logger.Warn("Failed to invalidate latest report cache", zap.String("report_type", string(t)), zap.Error(err))
			}
		}
	}
	s.logger.Info("Old reports cleaned up",
		zap.Int("deleted", n),
		zap.Int("days_to_keep", daysToKeep),
		zap.Time("cutoff", cutoff),
	)
	return n, nil
}

func (s *ReportService) invalidateLatest(ctx context.Context, reportID string) {
	if s.cache == nil {
		return
	}
	for _, t := range []models.ReportType{models.ReportTypeDailySummary, models.ReportTypeWeeklyUtilization} {
		if !strings.HasPrefix(reportID, string(t)+"_") {
			continue
		}
		if err := s.cache.InvalidateLatestReport(ctx, t); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn("Failed to invalidate latest report cache", zap.String("report_id", reportID), zap.Error(err))
		}
	}
}
