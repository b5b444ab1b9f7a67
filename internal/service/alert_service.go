package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"loan-monitor/internal/metrics"
	"loan-monitor/internal/models"
	"loan-monitor/internal/repository"
)

// AlertService 报警生命周期服务
// 状态机：open → open（仅向 critical 方向升级）→ resolved（终态）
// 职责：
// 1. 去重创建（同一来源同一类型最多一条未处理报警）
// 2. 单调升级
// 3. 处理 + 审计日志（审计失败不回滚处理结果）
// 4. 查询与统计
type AlertService struct {
	alerts   repository.AlertsRepository
	auditLog repository.AuditLogRepository
	loc      *time.Location
	clock    func() time.Time
	logger   *zap.Logger
}

// NewAlertService 创建报警服务
func NewAlertService(
	alerts repository.AlertsRepository,
	auditLog repository.AuditLogRepository,
	loc *time.Location,
	logger *zap.Logger,
) *AlertService {
	if loc == nil {
		loc = time.UTC
	}
	return &AlertService{
		alerts:   alerts,
		auditLog: auditLog,
		loc:      loc,
		clock:    time.Now,
		logger:   logger,
	}
}

// ============================================
// 创建 / 升级
// ============================================

// Create 创建报警
// 已存在未处理报警时退化为升级尝试，不返回新ID
func (s *AlertService) Create(ctx context.Context, fact models.AlertFact) (*models.CreateOutcome, error) {
	if err := validateFact(fact); err != nil {
		return nil, err
	}

	existing, err := s.alerts.FindOpenAlert(ctx, fact.SourceID, fact.Type)
	if err != nil {
		return nil, fmt.Errorf("failed to find open alert: %w", err)
	}
	if existing != nil {
		return s.escalateExisting(ctx, existing, fact)
	}

	now := s.clock()
	alert := &models.Alert{
		Type:         fact.Type,
		Priority:     fact.Priority,
		Title:        fact.Title,
		Description:  fact.Description,
		SourceID:     fact.SourceID,
		SourceType:   fact.SourceType,
		SourceData:   fact.SourceData,
		QuickActions: fact.QuickActions,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if alert.SourceData == nil {
		alert.SourceData = map[string]interface{}{}
	}
	if alert.QuickActions == nil {
		alert.QuickActions = []models.QuickAction{}
	}

	err = s.alerts.CreateAlert(ctx, alert)
	if errors.Is(err, models.ErrDuplicateOpenAlert) {
		// 并发创建：另一方已写入，转为升级尝试
		existing, findErr := s.alerts.FindOpenAlert(ctx, fact.SourceID, fact.Type)
		if findErr != nil {
			return nil, fmt.Errorf("failed to find open alert: %w", findErr)
		}
		if existing == nil {
			return nil, err
		}
		return s.escalateExisting(ctx, existing, fact)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create alert: %w", err)
	}

	metrics.AlertsCreatedTotal.WithLabelValues(string(alert.Type), string(alert.Priority)).Inc()
	s.logger.Info("Alert created",
		zap.String("alert_id", alert.ID),
		zap.String("type", string(alert.Type)),
		zap.String("priority", string(alert.Priority)),
		zap.String("source_id", alert.SourceID),
	)
	return &models.CreateOutcome{Alert: alert, Created: true}, nil
}

func (s *AlertService) escalateExisting(ctx context.Context, existing *models.Alert, fact models.AlertFact) (*models.CreateOutcome, error) {
	if !fact.Priority.MoreSevereThan(existing.Priority) {
		return &models.CreateOutcome{Alert: existing}, nil
	}
	esc := models.AlertEscalation{
		Priority:    fact.Priority,
		Title:       fact.Title,
		Description: fact.Description,
		SourceData:  fact.SourceData,
	}
	applied, err := s.applyEscalation(ctx, existing, esc)
	if err != nil {
		return nil, err
	}
	return &models.CreateOutcome{Alert: existing, Escalated: applied}, nil
}

// Escalate 提升优先级，仅当新优先级严格更严重时生效；已处理报警不升级
func (s *AlertService) Escalate(ctx context.Context, alertID string, priority models.AlertPriority) (bool, error) {
	if !priority.Valid() {
		return false, fmt.Errorf("%w: unknown priority %q", models.ErrValidation, priority)
	}
	alert, err := s.alerts.GetAlert(ctx, alertID)
	if err != nil {
		return false, err
	}
	if alert.IsResolved || !priority.MoreSevereThan(alert.Priority) {
		return false, nil
	}
	return s.applyEscalation(ctx, alert, models.AlertEscalation{
		Priority:    priority,
		Title:       alert.Title,
		Description: alert.Description,
		SourceData:  alert.SourceData,
	})
}

// applyEscalation 条件更新成功时同步修改 alert
func (s *AlertService) applyEscalation(ctx context.Context, alert *models.Alert, esc models.AlertEscalation) (bool, error) {
	now := s.clock()
	applied, err := s.alerts.EscalateAlert(ctx, alert.ID, esc, now)
	if err != nil {
		return false, fmt.Errorf("failed to escalate alert: %w", err)
	}
	if !applied {
		return false, nil
	}

	s.logger.Info("Alert escalated",
		zap.String("alert_id", alert.ID),
		zap.String("type", string(alert.Type)),
		zap.String("from", string(alert.Priority)),
		zap.String("to", string(esc.Priority)),
	)
	metrics.AlertsEscalatedTotal.WithLabelValues(string(alert.Type), string(esc.Priority)).Inc()

	alert.Priority = esc.Priority
	alert.Title = esc.Title
	alert.Description = esc.Description
	alert.SourceData = esc.SourceData
	alert.UpdatedAt = now
	return true, nil
}

func validateFact(fact models.AlertFact) error {
	var missing []string
	if fact.Type == "" {
		missing = append(missing, "type")
	}
	if fact.SourceID == "" {
		missing = append(missing, "sourceId")
	}
	if strings.TrimSpace(fact.Title) == "" {
		missing = append(missing, "title")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", models.ErrValidation, strings.Join(missing, ", "))
	}
	if !fact.Priority.Valid() {
		return fmt.Errorf("%w: unknown priority %q", models.ErrValidation, fact.Priority)
	}
	if !fact.SourceType.Valid() {
		return fmt.Errorf("%w: unknown source type %q", models.ErrValidation, fact.SourceType)
	}
	return nil
}

// ============================================
// 处理
// ============================================

// Resolve 处理报警
// 第二次处理返回 ErrAlreadyResolved，首次处理信息保持不变
// 审计日志为尽力写入：失败时记录日志与指标，并通过 AuditErr 返回
func (s *AlertService) Resolve(ctx context.Context, alertID, resolvedBy, resolvedAction string) (*models.ResolveOutcome, error) {
	if alertID == "" {
		return nil, fmt.Errorf("%w: alert id is required", models.ErrValidation)
	}
	if strings.TrimSpace(resolvedBy) == "" {
		return nil, fmt.Errorf("%w: resolvedBy is required", models.ErrValidation)
	}
	if strings.TrimSpace(resolvedAction) == "" {
		return nil, fmt.Errorf("%w: resolvedAction is required", models.ErrValidation)
	}

	now := s.clock()
	alert, err := s.alerts.ResolveAlert(ctx, alertID, models.AlertResolution{
		ResolvedBy:     resolvedBy,
		ResolvedAction: resolvedAction,
		ResolvedAt:     now,
	})
	if err != nil {
		return nil, err
	}
	metrics.AlertsResolvedTotal.WithLabelValues(string(alert.Type)).Inc()

	outcome := &models.ResolveOutcome{Alert: alert}
	entry := &models.AlertAuditLogEntry{
		AlertID:        alert.ID,
		AlertType:      alert.Type,
		AlertPriority:  alert.Priority,
		AlertTitle:     alert.Title,
		SourceID:       alert.SourceID,
		SourceType:     alert.SourceType,
		ResolvedBy:     resolvedBy,
		ResolvedAction: resolvedAction,
		ResolvedAt:     now,
		CreatedAt:      now,
	}
	if err := s.auditLog.InsertAuditLog(ctx, entry); err != nil {
		metrics.AuditWriteFailuresTotal.Inc()
		s.logger.Error("Failed to write alert audit log",
			zap.String("alert_id", alert.ID),
			zap.String("resolved_by", resolvedBy),
			zap.Error(err),
		)
		outcome.AuditErr = err
	}

	s.logger.Info("Alert resolved",
		zap.String("alert_id", alert.ID),
		zap.String("resolved_by", resolvedBy),
		zap.String("resolved_action", resolvedAction),
	)
	return outcome, nil
}

// ============================================
// 查询
// ============================================

// GetAlertByID 获取单个报警
func (s *AlertService) GetAlertByID(ctx context.Context, alertID string) (*models.Alert, error) {
	if alertID == "" {
		return nil, fmt.Errorf("%w: alert id is required", models.ErrValidation)
	}
	return s.alerts.GetAlert(ctx, alertID)
}

// ListActive 未处理报警，按优先级排序（critical 在前），同优先级保持 createdAt 倒序
// Limit 作用于排序之后，较早的高优先级报警不会被较新的低优先级报警挤出
func (s *AlertService) ListActive(ctx context.Context, filters models.AlertFilters) ([]*models.Alert, error) {
	if filters.Type != nil && *filters.Type == "" {
		filters.Type = nil
	}
	if filters.Priority != nil && !filters.Priority.Valid() {
		return nil, fmt.Errorf("%w: unknown priority %q", models.ErrValidation, *filters.Priority)
	}
	resolved := false
	filters.Resolved = &resolved
	filters.ByPriority = true

	alerts, err := s.alerts.ListAlerts(ctx, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	sort.SliceStable(alerts, func(i, j int) bool {
		return alerts[i].Priority.Ordinal() < alerts[j].Priority.Ordinal()
	})
	return alerts, nil
}

// Stats 报警统计；今日/本周（周一起）边界按配置时区计算
func (s *AlertService) Stats(ctx context.Context, now time.Time) (models.AlertStats, error) {
	stats := models.NewAlertStats()

	alerts, err := s.alerts.ListAlerts(ctx, models.AlertFilters{})
	if err != nil {
		return stats, fmt.Errorf("failed to list alerts: %w", err)
	}

	local := now.In(s.loc)
	todayStart := models.StartOfDay(local)
	weekStart := models.StartOfWeek(local)

	for _, a := range alerts {
		stats.Total++
		stats.ByType[a.Type]++
		if !a.IsResolved {
			stats.Pending++
			stats.PendingByPriority[a.Priority]++
			continue
		}
		stats.Resolved++
		if a.ResolvedAt == nil {
			continue
		}
		if !a.ResolvedAt.Before(todayStart) {
			stats.ResolvedToday++
		}
		if !a.ResolvedAt.Before(weekStart) {
			stats.ResolvedThisWeek++
		}
	}
	return stats, nil
}
