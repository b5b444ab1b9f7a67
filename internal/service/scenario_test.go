package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"loan-monitor/internal/evaluator"
	"loan-monitor/internal/models"
	"loan-monitor/internal/repository"
)

func openAlertsOfType(t *testing.T, mem *repository.MemoryStore, alertType models.AlertType) []*models.Alert {
	t.Helper()
	resolved := false
	alerts, err := mem.ListAlerts(context.Background(), models.AlertFilters{Type: &alertType, Resolved: &resolved})
	require.NoError(t, err)
	return alerts
}

func TestScenario_OverdueLifecycle(t *testing.T) {
	mem := repository.NewMemoryStore()
	alerts := NewAlertService(mem, mem, time.UTC, zap.NewNop())
	detector := evaluator.NewOverdueDetector(mem, alerts, time.UTC, zap.NewNop())
	ctx := context.Background()

	mem.PutLoan(&models.Loan{
		ID: "L1", UserID: "U1", EquipmentID: "E1", EquipmentName: "Camera", Status: models.LoanStatusBorrowed,
		CreatedAt: at("2026-01-01T08:00:00Z"), BorrowedAt: ptr(at("2026-01-02T08:00:00Z")),
		ExpectedReturnDate: ptr(at("2026-01-10T00:00:00Z")),
	})

	// 到期当天
	res, err := detector.Scan(ctx, at("2026-01-10T09:00:00Z"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.NewAlerts)
	open := openAlertsOfType(t, mem, models.AlertTypeOverdueLoan)
	require.Len(t, open, 1)
	assert.Equal(t, models.PriorityMedium, open[0].Priority)
	id := open[0].ID

	// 逾期 1 天：升级为 high，仍是同一条
	res, err = detector.Scan(ctx, at("2026-01-11T09:00:00Z"))
	require.NoError(t, err)
	assert.Equal(t, 0, res.NewAlerts)
	assert.Equal(t, 1, res.EscalatedAlerts)

	// 同一天重复扫描不变
	res, err = detector.Scan(ctx, at("2026-01-11T18:00:00Z"))
	require.NoError(t, err)
	assert.Equal(t, 0, res.NewAlerts+res.EscalatedAlerts)

	// 逾期 3 天：critical
	_, err = detector.Scan(ctx, at("2026-01-13T09:00:00Z"))
	require.NoError(t, err)
	open = openAlertsOfType(t, mem, models.AlertTypeOverdueLoan)
	require.Len(t, open, 1)
	assert.Equal(t, id, open[0].ID)
	assert.Equal(t, models.PriorityCritical, open[0].Priority)
	assert.Contains(t, open[0].Title, "3 days")

	// 处理后再次扫描会重新报警
	_, err = alerts.Resolve(ctx, id, "admin-1", "send_reminder")
	require.NoError(t, err)
	res, err = detector.Scan(ctx, at("2026-01-14T09:00:00Z"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.NewAlerts)
	open = openAlertsOfType(t, mem, models.AlertTypeOverdueLoan)
	require.Len(t, open, 1)
	assert.NotEqual(t, id, open[0].ID)

	logs, err := mem.ListAuditLogs(ctx, id)
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

func TestScenario_NoShowToRepeatOffender(t *testing.T) {
	mem := repository.NewMemoryStore()
	alerts := NewAlertService(mem, mem, time.UTC, zap.NewNop())
	noShow := evaluator.NewNoShowDetector(mem, mem, alerts, zap.NewNop())
	repeat := evaluator.NewRepeatOffenderDetector(mem, alerts, zap.NewNop())
	profiles := NewReliabilityService(mem.Store(), time.UTC, zap.NewNop())
	ctx := context.Background()

	for i, start := range []string{"2026-01-05T09:00:00Z", "2026-01-08T09:00:00Z", "2026-01-12T09:00:00Z"} {
		mem.PutReservation(&models.Reservation{
			ID: "R" + string(rune('1'+i)), UserID: "U1", EquipmentID: "E1", EquipmentName: "Camera",
			Status: models.ReservationStatusReady, CreatedAt: at("2026-01-01T08:00:00Z"),
			StartTime: at(start), EndTime: at(start).Add(8 * time.Hour),
		})
	}

	now := at("2026-01-12T11:30:00Z")
	res, err := noShow.Scan(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 3, res.NewAlerts)

	// 重复扫描不追加爽约记录
	res, err = noShow.Scan(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, res.NewAlerts)
	count, err := mem.CountNoShowOccurrences(ctx, "U1", now.AddDate(0, 0, -30), now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	res, err = repeat.Scan(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, res.NewAlerts)
	open := openAlertsOfType(t, mem, models.AlertTypeRepeatNoShowUser)
	require.Len(t, open, 1)
	assert.Equal(t, "U1", open[0].SourceID)
	assert.Equal(t, models.PriorityHigh, open[0].Priority)

	profile, err := profiles.GetUserReliabilityProfile(ctx, "U1", now.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, profile.IsRepeatOffender)
	assert.Equal(t, 3, profile.RecentNoShows)
}
