package evaluator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"loan-monitor/internal/models"
	"loan-monitor/internal/repository"
)

// NoShowGracePeriod 预约开始后允许取件的时长
const NoShowGracePeriod = 2 * time.Hour

// IsNoShow 状态必须为 ready，且 now 严格晚于 startTime + 宽限期
func IsNoShow(r *models.Reservation, now time.Time) bool {
	if r.Status != models.ReservationStatusReady {
		return false
	}
	return now.After(r.StartTime.Add(NoShowGracePeriod))
}

// NoShowDetector 预约爽约检测
type NoShowDetector struct {
	reservations repository.ReservationsRepository
	noShows      repository.NoShowRepository
	alerts       AlertSink
	templates    AlertTemplates
	logger       *zap.Logger
}

// NewNoShowDetector 创建爽约检测器
func NewNoShowDetector(
	reservations repository.ReservationsRepository,
	noShows repository.NoShowRepository,
	alerts AlertSink,
	logger *zap.Logger,
) *NoShowDetector {
	return &NoShowDetector{
		reservations: reservations,
		noShows:      noShows,
		alerts:       alerts,
		templates:    DefaultTemplates,
		logger:       logger,
	}
}

// Scan 扫描待取件预约
// 首次检测：新建 no_show_reservation 报警并追加一条用户爽约记录
// 爽约记录以报警 ID 为键，报警仍未处理时每次扫描补写（已存在则不变），追加失败可在下次扫描恢复
func (d *NoShowDetector) Scan(ctx context.Context, now time.Time) (*models.ScanResult, error) {
	result := models.NewScanResult(JobNoShow, now)

	reservations, err := d.reservations.ListReservationsByStatus(ctx, models.ReservationStatusReady)
	if err != nil {
		return nil, fmt.Errorf("failed to list ready reservations: %w", err)
	}

	for _, r := range reservations {
		result.Scanned++
		if !IsNoShow(r, now) {
			continue
		}
		if err := d.processReservation(ctx, r, now, result); err != nil {
			d.logger.Error("Failed to process no-show reservation",
				zap.String("reservation_id", r.ID),
				zap.String("user_id", r.UserID),
				zap.Error(err),
			)
			result.AddError(r.ID, err)
		}
	}

	result.FinishedAt = time.Now()
	d.logger.Info("No-show scan completed",
		zap.Int("scanned", result.Scanned),
		zap.Int("new_alerts", result.NewAlerts),
		zap.Int("errors", len(result.Errors)),
	)
	return result, nil
}

func (d *NoShowDetector) processReservation(ctx context.Context, r *models.Reservation, now time.Time, result *models.ScanResult) error {
	outcome, err := d.alerts.Create(ctx, d.buildFact(r, now))
	if err != nil {
		return err
	}
	occurredAt := now
	if outcome.Created {
		result.NewAlerts++
	} else if !outcome.Alert.CreatedAt.IsZero() {
		occurredAt = outcome.Alert.CreatedAt
	}

	occurrence := &models.UserNoShowOccurrence{
		ID:            outcome.Alert.ID,
		UserID:        r.UserID,
		ReservationID: r.ID,
		OccurredAt:    occurredAt,
	}
	if err := d.noShows.AppendNoShowOccurrence(ctx, occurrence); err != nil {
		return fmt.Errorf("no-show occurrence not recorded for alert %s: %w", outcome.Alert.ID, err)
	}
	return nil
}

func (d *NoShowDetector) buildFact(r *models.Reservation, now time.Time) models.AlertFact {
	text := d.templates.NoShowReservation(NoShowPayload{Reservation: r, GracePeriod: NoShowGracePeriod})
	return models.AlertFact{
		Type:        models.AlertTypeNoShowReservation,
		Priority:    models.PriorityHigh,
		Title:       text.Title,
		Description: text.Description,
		SourceID:    r.ID,
		SourceType:  models.SourceTypeReservation,
		SourceData: map[string]interface{}{
			"reservationId":  r.ID,
			"userId":         r.UserID,
			"userName":       r.UserName,
			"equipmentId":    r.EquipmentID,
			"equipmentName":  r.EquipmentName,
			"startTime":      r.StartTime.Format(time.RFC3339),
			"endTime":        r.EndTime.Format(time.RFC3339),
			"minutesPastDue": int(now.Sub(r.StartTime.Add(NoShowGracePeriod)) / time.Minute),
		},
		QuickActions: noShowQuickActions(r),
	}
}
