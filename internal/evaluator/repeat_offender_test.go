package evaluator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"loan-monitor/internal/models"
	"loan-monitor/internal/repository"
)

func addOccurrences(t *testing.T, store *repository.MemoryStore, userID string, times ...time.Time) {
	t.Helper()
	for i, at := range times {
		require.NoError(t, store.AppendNoShowOccurrence(context.Background(), &models.UserNoShowOccurrence{
			UserID: userID, ReservationID: userID + "-R" + string(rune('0'+i)), OccurredAt: at,
		}))
	}
}

func TestRepeatOffenderScan_Threshold(t *testing.T) {
	store := repository.NewMemoryStore()
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	addOccurrences(t, store, "U2", now.AddDate(0, 0, -1), now.AddDate(0, 0, -10))
	addOccurrences(t, store, "U3", now.AddDate(0, 0, -1), now.AddDate(0, 0, -10), now.AddDate(0, 0, -29))

	d := NewRepeatOffenderDetector(store, &memorySink{store: store}, zap.NewNop())
	result, err := d.Scan(context.Background(), now)
	require.NoError(t, err)

	assert.Equal(t, 2, result.UsersChecked)
	assert.Equal(t, 1, result.NewAlerts)

	alerts := openAlerts(store, models.AlertTypeRepeatNoShowUser)
	require.Len(t, alerts, 1)
	assert.Equal(t, "U3", alerts[0].SourceID)
	assert.Equal(t, models.PriorityHigh, alerts[0].Priority)
	assert.Equal(t, models.SourceTypeUser, alerts[0].SourceType)
	assert.Equal(t, 3, alerts[0].SourceData["noShowCount"])
	assert.Equal(t, 30, alerts[0].SourceData["windowDays"])

	// 再次扫描不重复报警
	result, err = d.Scan(context.Background(), now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, result.NewAlerts)
	assert.Len(t, openAlerts(store, models.AlertTypeRepeatNoShowUser), 1)
}

func TestRepeatOffenderScan_IgnoresOldOccurrences(t *testing.T) {
	store := repository.NewMemoryStore()
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	addOccurrences(t, store, "U1", now.AddDate(0, 0, -1), now.AddDate(0, 0, -2), now.AddDate(0, 0, -31))

	d := NewRepeatOffenderDetector(store, &memorySink{store: store}, zap.NewNop())
	result, err := d.Scan(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 0, result.NewAlerts)

	offender, err := d.IsRepeatNoShowOffender(context.Background(), "U1", now)
	require.NoError(t, err)
	assert.False(t, offender)

	addOccurrences(t, store, "U1", now.AddDate(0, 0, -3))
	offender, err = d.IsRepeatNoShowOffender(context.Background(), "U1", now)
	require.NoError(t, err)
	assert.True(t, offender)
}

func TestRepeatOffender_FutureOccurrencesOutsideWindow(t *testing.T) {
	store := repository.NewMemoryStore()
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	addOccurrences(t, store, "U1", now.AddDate(0, 0, -1), now.AddDate(0, 0, -3), now.Add(2*time.Hour))

	d := NewRepeatOffenderDetector(store, &memorySink{store: store}, zap.NewNop())
	result, err := d.Scan(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 0, result.NewAlerts)

	offender, err := d.IsRepeatNoShowOffender(context.Background(), "U1", now)
	require.NoError(t, err)
	assert.False(t, offender)

	// 时间推进到第三次之后，两者一致判定
	later := now.Add(3 * time.Hour)
	offender, err = d.IsRepeatNoShowOffender(context.Background(), "U1", later)
	require.NoError(t, err)
	assert.True(t, offender)
	result, err = d.Scan(context.Background(), later)
	require.NoError(t, err)
	assert.Equal(t, 1, result.NewAlerts)
}
