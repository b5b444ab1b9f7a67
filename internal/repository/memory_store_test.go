package repository

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loan-monitor/internal/models"
)

func newOpenAlert(sourceID string, createdAt time.Time) *models.Alert {
	return &models.Alert{
		Type:       models.AlertTypeOverdueLoan,
		Priority:   models.PriorityMedium,
		Title:      "Overdue",
		SourceID:   sourceID,
		SourceType: models.SourceTypeLoan,
		SourceData: map[string]interface{}{"daysOverdue": 1},
		CreatedAt:  createdAt,
	}
}

func TestMemoryStore_CreateAlert_RejectsSecondOpenAlert(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	now := time.Date(2026, 1, 13, 9, 0, 0, 0, time.UTC)

	first := newOpenAlert("L1", now)
	require.NoError(t, m.CreateAlert(ctx, first))
	assert.NotEmpty(t, first.ID)

	err := m.CreateAlert(ctx, newOpenAlert("L1", now))
	assert.ErrorIs(t, err, models.ErrDuplicateOpenAlert)

	// 已处理后允许新建
	_, err = m.ResolveAlert(ctx, first.ID, models.AlertResolution{ResolvedBy: "admin", ResolvedAction: "contacted", ResolvedAt: now})
	require.NoError(t, err)
	require.NoError(t, m.CreateAlert(ctx, newOpenAlert("L1", now.Add(time.Hour))))
}

func TestMemoryStore_CreateAlert_Concurrent(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	now := time.Now()

	var wg sync.WaitGroup
	var mu sync.Mutex
	created := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.CreateAlert(ctx, newOpenAlert("L1", now)); err == nil {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, created)
}

func TestMemoryStore_EscalateAlert(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	now := time.Now()
	a := newOpenAlert("L1", now)
	require.NoError(t, m.CreateAlert(ctx, a))

	ok, err := m.EscalateAlert(ctx, a.ID, models.AlertEscalation{Priority: models.PriorityLow, Title: "x"}, now)
	require.NoError(t, err)
	assert.False(t, ok, "downgrade must not apply")

	ok, err = m.EscalateAlert(ctx, a.ID, models.AlertEscalation{Priority: models.PriorityMedium, Title: "x"}, now)
	require.NoError(t, err)
	assert.False(t, ok, "same priority must not apply")

	ok, err = m.EscalateAlert(ctx, a.ID, models.AlertEscalation{
		Priority: models.PriorityCritical, Title: "Critical", SourceData: map[string]interface{}{"daysOverdue": 3},
	}, now.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := m.GetAlert(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PriorityCritical, got.Priority)
	assert.Equal(t, "Critical", got.Title)
	assert.Equal(t, 3, got.SourceData["daysOverdue"])
	assert.Equal(t, now, got.CreatedAt)
}

func TestMemoryStore_ResolveAlert(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	now := time.Now()

	_, err := m.ResolveAlert(ctx, "missing", models.AlertResolution{ResolvedBy: "a"})
	assert.ErrorIs(t, err, models.ErrNotFound)

	a := newOpenAlert("L1", now)
	require.NoError(t, m.CreateAlert(ctx, a))
	res := models.AlertResolution{ResolvedBy: "admin-1", ResolvedAction: "contacted", ResolvedAt: now}
	got, err := m.ResolveAlert(ctx, a.ID, res)
	require.NoError(t, err)
	assert.True(t, got.IsResolved)
	require.NotNil(t, got.ResolvedBy)
	assert.Equal(t, "admin-1", *got.ResolvedBy)

	_, err = m.ResolveAlert(ctx, a.ID, res)
	assert.ErrorIs(t, err, models.ErrAlreadyResolved)

	// 已处理报警不可升级
	ok, err := m.EscalateAlert(ctx, a.ID, models.AlertEscalation{Priority: models.PriorityCritical}, now)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStore_ListAlerts_Filters(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"L1", "L2", "L3"} {
		require.NoError(t, m.CreateAlert(ctx, newOpenAlert(id, base.Add(time.Duration(i)*time.Hour))))
	}
	resolved := false
	out, err := m.ListAlerts(ctx, models.AlertFilters{Resolved: &resolved})
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, "L3", out[0].SourceID, "newest first")

	out, err = m.ListAlerts(ctx, models.AlertFilters{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, out, 2)

	typ := models.AlertTypeIdleEquipment
	out, err = m.ListAlerts(ctx, models.AlertFilters{Type: &typ})
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestMemoryStore_RangeQueries(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	day := time.Date(2026, 1, 12, 0, 0, 0, 0, time.UTC)
	approved := day.Add(10 * time.Hour)
	m.PutLoan(&models.Loan{ID: "L1", Status: models.LoanStatusApproved, CreatedAt: day.Add(-time.Hour), ApprovedAt: &approved})
	m.PutLoan(&models.Loan{ID: "L2", Status: models.LoanStatusPending, CreatedAt: day.Add(time.Hour)})
	m.PutLoan(&models.Loan{ID: "L3", Status: models.LoanStatusPending, CreatedAt: models.EndOfDay(day)})

	created, err := m.ListLoansInRange(ctx, models.LoanCreatedAt, day, models.EndOfDay(day))
	require.NoError(t, err)
	require.Len(t, created, 2)
	assert.Equal(t, "L2", created[0].ID)
	assert.Equal(t, "L3", created[1].ID)

	approvedLoans, err := m.ListLoansInRange(ctx, models.LoanApprovedAt, day, models.EndOfDay(day))
	require.NoError(t, err)
	require.Len(t, approvedLoans, 1)

	pending, err := m.ListLoansByStatus(ctx, models.LoanStatusPending)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestMemoryStore_Reports(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	now := time.Date(2026, 1, 13, 0, 5, 0, 0, time.UTC)
	id := models.ReportID(models.ReportTypeDailySummary, "2026-01-12")
	require.NoError(t, m.SaveReport(ctx, &models.ReportSnapshot{
		ID: id, ReportType: models.ReportTypeDailySummary, Period: "2026-01-12",
		Data: json.RawMessage(`{}`), GeneratedAt: now,
	}))

	require.NoError(t, m.AddReportViewer(ctx, id, "admin-1"))
	require.NoError(t, m.AddReportViewer(ctx, id, "admin-1"))
	n, err := m.IncrementDownloadCount(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := m.GetReport(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"admin-1"}, got.ViewedBy)
	assert.Equal(t, 1, got.DownloadCount)

	assert.ErrorIs(t, m.AddReportViewer(ctx, "missing", "a"), models.ErrNotFound)

	deleted, err := m.DeleteReportsGeneratedBefore(ctx, now.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
	_, err = m.GetReport(ctx, id)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestMemoryStore_NoShowOccurrences(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	for _, d := range []int{1, 5, 40, -2} {
		require.NoError(t, m.AppendNoShowOccurrence(ctx, &models.UserNoShowOccurrence{
			UserID: "U1", ReservationID: "R", OccurredAt: now.AddDate(0, 0, -d),
		}))
	}
	n, err := m.CountNoShowOccurrences(ctx, "U1", now.AddDate(0, 0, -30), now)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = m.CountNoShowOccurrences(ctx, "U1", now.AddDate(0, 0, -30), now.AddDate(0, 0, 2))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	occ, err := m.ListNoShowOccurrencesSince(ctx, now.AddDate(0, 0, -30))
	require.NoError(t, err)
	assert.Len(t, occ, 3)

	// 同 ID 重复追加不变
	dup := *occ[0]
	dup.OccurredAt = now
	require.NoError(t, m.AppendNoShowOccurrence(ctx, &dup))
	again, err := m.ListNoShowOccurrencesSince(ctx, now.AddDate(0, 0, -30))
	require.NoError(t, err)
	assert.Len(t, again, 3)
}

func TestMemoryStore_LoadSeedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "seed.json")
	seed := `{
		"loans": {
			"L1": {"userId": "U1", "status": "borrowed", "createdAt": "2026-01-01T08:00:00Z",
			       "expectedReturnDate": {"_seconds": 1768003200, "_nanoseconds": 0}}
		},
		"reservations": {
			"R1": {"userId": "U1", "status": "ready", "isNoShow": false, "startTime": 1768003200000,
			       "endTime": "2026-01-10T02:00:00Z", "createdAt": "2026-01-01T00:00:00Z"}
		},
		"equipment": {"E1": {"name": "Camera", "category": "av", "status": "available"}}
	}`
	require.NoError(t, os.WriteFile(path, []byte(seed), 0o600))

	m := NewMemoryStore()
	require.NoError(t, m.LoadSeedFile(path))

	ctx := context.Background()
	loans, err := m.ListAllLoans(ctx)
	require.NoError(t, err)
	require.Len(t, loans, 1)
	require.NotNil(t, loans[0].ExpectedReturnDate)
	assert.Equal(t, time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC), loans[0].ExpectedReturnDate.UTC())

	res, err := m.ListAllReservations(ctx)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC), res[0].StartTime.UTC())

	eq, err := m.ListEquipment(ctx)
	require.NoError(t, err)
	require.Len(t, eq, 1)
	assert.Equal(t, "Camera", eq[0].Name)
}
