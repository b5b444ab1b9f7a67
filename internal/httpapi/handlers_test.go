package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"loan-monitor/internal/cache"
	"loan-monitor/internal/evaluator"
	"loan-monitor/internal/models"
	"loan-monitor/internal/repository"
	"loan-monitor/internal/scheduler"
	"loan-monitor/internal/service"
)

var testNow = time.Date(2026, 1, 13, 9, 0, 0, 0, time.UTC)

type apiFixture struct {
	mem       *repository.MemoryStore
	alerts    *service.AlertService
	reports   *service.ReportService
	overdue   *evaluator.OverdueDetector
	snapshots *cache.SnapshotCache
	sched     *scheduler.Scheduler
	server    *httptest.Server
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	logger := zap.NewNop()
	mem := repository.NewMemoryStore()
	store := mem.Store()

	alerts := service.NewAlertService(store.Alerts, store.AuditLogs, time.UTC, logger)
	overdue := evaluator.NewOverdueDetector(store.Loans, alerts, time.UTC, logger)
	snapshots := cache.NewSnapshotCache(cache.NewMemoryKV(), "test:", 0, logger)
	reports := service.NewReportService(store, alerts, overdue, snapshots, time.UTC, logger)
	profiles := service.NewReliabilityService(store, time.UTC, logger)

	sched := scheduler.NewScheduler([]scheduler.Job{
		{Name: evaluator.JobOverdue, Interval: time.Hour, Run: func(ctx context.Context, now time.Time) (interface{}, error) {
			return overdue.Scan(ctx, testNow)
		}},
	}, scheduler.NewLocalLocker(), snapshots, time.Minute, logger)

	router := NewRouter(logger)
	alertHandler := NewAlertHandler(alerts, logger)
	alertHandler.clock = func() time.Time { return testNow }
	router.RegisterAlertRoutes(alertHandler)
	router.RegisterReportRoutes(NewReportHandler(reports, logger))
	reliabilityHandler := NewReliabilityHandler(profiles, logger)
	reliabilityHandler.clock = func() time.Time { return testNow }
	router.RegisterReliabilityRoutes(reliabilityHandler)
	jobHandler := NewJobHandler(snapshots, sched, logger)
	jobHandler.clock = func() time.Time { return testNow }
	router.RegisterJobRoutes(jobHandler)
	router.RegisterOpsRoutes()

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	mem.PutLoan(&models.Loan{
		ID: "L1", UserID: "U1", UserName: "Alice", EquipmentID: "E1", EquipmentName: "Camera",
		Status: models.LoanStatusBorrowed, CreatedAt: testNow.AddDate(0, 0, -10),
		BorrowedAt:         ptrTime(testNow.AddDate(0, 0, -9)),
		ExpectedReturnDate: ptrTime(time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)),
	})
	mem.PutLoan(&models.Loan{
		ID: "L2", UserID: "U2", EquipmentID: "E2", EquipmentName: "Tripod",
		Status: models.LoanStatusBorrowed, CreatedAt: testNow.AddDate(0, 0, -3),
		ExpectedReturnDate: ptrTime(time.Date(2026, 1, 13, 0, 0, 0, 0, time.UTC)),
	})

	return &apiFixture{
		mem: mem, alerts: alerts, reports: reports, overdue: overdue,
		snapshots: snapshots, sched: sched, server: server,
	}
}

func ptrTime(t time.Time) *time.Time { return &t }

func doRequest(t *testing.T, method, url string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func decodeResult[T any](t *testing.T, raw []byte) Result[T] {
	t.Helper()
	var result Result[T]
	require.NoError(t, json.Unmarshal(raw, &result), string(raw))
	return result
}

type listResult[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
}

func TestAlertRoutes(t *testing.T) {
	f := newAPIFixture(t)
	_, err := f.overdue.Scan(context.Background(), testNow)
	require.NoError(t, err)

	resp, raw := doRequest(t, http.MethodGet, f.server.URL+"/api/v1/alerts", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decodeResult[listResult[models.Alert]](t, raw)
	assert.Equal(t, ResultSuccess, list.Code)
	require.Equal(t, 2, list.Result.Total)
	// critical 在前
	assert.Equal(t, models.PriorityCritical, list.Result.Items[0].Priority)
	assert.Equal(t, "L1", list.Result.Items[0].SourceID)
	assert.Equal(t, models.PriorityMedium, list.Result.Items[1].Priority)
	criticalID := list.Result.Items[0].ID
	mediumID := list.Result.Items[1].ID

	resp, raw = doRequest(t, http.MethodGet, f.server.URL+"/api/v1/alerts?priority=medium", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list = decodeResult[listResult[models.Alert]](t, raw)
	assert.Equal(t, 1, list.Result.Total)

	resp, _ = doRequest(t, http.MethodGet, f.server.URL+"/api/v1/alerts?priority=urgent", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, raw = doRequest(t, http.MethodGet, f.server.URL+"/api/v1/alerts/"+criticalID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	one := decodeResult[models.Alert](t, raw)
	assert.Equal(t, criticalID, one.Result.ID)

	resp, _ = doRequest(t, http.MethodGet, f.server.URL+"/api/v1/alerts/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// 升级
	resp, raw = doRequest(t, http.MethodPost, f.server.URL+"/api/v1/alerts/"+mediumID+"/escalate", map[string]string{"priority": "high"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	esc := decodeResult[map[string]bool](t, raw)
	assert.True(t, esc.Result["escalated"])

	// 处理
	resp, raw = doRequest(t, http.MethodPost, f.server.URL+"/api/v1/alerts/"+criticalID+"/resolve",
		map[string]string{"resolvedBy": "admin-1", "resolvedAction": "send_reminder"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resolved := decodeResult[models.Alert](t, raw)
	assert.Equal(t, "success", resolved.Type)
	assert.True(t, resolved.Result.IsResolved)

	resp, _ = doRequest(t, http.MethodPost, f.server.URL+"/api/v1/alerts/"+criticalID+"/resolve",
		map[string]string{"resolvedBy": "admin-2", "resolvedAction": "dismiss"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = doRequest(t, http.MethodPost, f.server.URL+"/api/v1/alerts/"+mediumID+"/resolve",
		map[string]string{"resolvedAction": "dismiss"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doRequest(t, http.MethodDelete, f.server.URL+"/api/v1/alerts/"+mediumID, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, raw = doRequest(t, http.MethodGet, f.server.URL+"/api/v1/alerts/stats", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stats := decodeResult[models.AlertStats](t, raw)
	assert.Equal(t, 2, stats.Result.Total)
	assert.Equal(t, 1, stats.Result.Pending)
	assert.Equal(t, 1, stats.Result.PendingByPriority[models.PriorityHigh])
}

func TestReportRoutes(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()

	resp, _ := doRequest(t, http.MethodGet, f.server.URL+"/api/v1/reports/latest?type=daily_summary", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	report, err := f.reports.GenerateDailySummary(ctx, testNow)
	require.NoError(t, err)

	resp, raw := doRequest(t, http.MethodGet, f.server.URL+"/api/v1/reports?type=daily_summary", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decodeResult[listResult[models.ReportSnapshot]](t, raw)
	require.Equal(t, 1, list.Result.Total)
	assert.Equal(t, report.ID, list.Result.Items[0].ID)

	resp, _ = doRequest(t, http.MethodGet, f.server.URL+"/api/v1/reports?type=monthly", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, raw = doRequest(t, http.MethodPost, f.server.URL+"/api/v1/reports/"+report.ID+"/viewed", map[string]string{"adminId": "admin-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, raw = doRequest(t, http.MethodGet, f.server.URL+"/api/v1/reports/latest?type=daily_summary", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	latest := decodeResult[models.ReportSnapshot](t, raw)
	assert.Equal(t, []string{"admin-1"}, latest.Result.ViewedBy)

	resp, raw = doRequest(t, http.MethodGet, f.server.URL+"/api/v1/reports/"+report.ID+"/export", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), report.ID+".json")
	assert.JSONEq(t, string(report.Data), string(raw))

	resp, raw = doRequest(t, http.MethodGet, f.server.URL+"/api/v1/reports/"+report.ID+"/export?format=xlsx", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	wb, err := excelize.OpenReader(bytes.NewReader(raw))
	require.NoError(t, err)
	defer wb.Close()
	assert.Contains(t, wb.GetSheetList(), summarySheet)

	resp, _ = doRequest(t, http.MethodGet, f.server.URL+"/api/v1/reports/"+report.ID+"/export?format=pdf", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, raw = doRequest(t, http.MethodGet, f.server.URL+"/api/v1/reports/"+report.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decodeResult[models.ReportSnapshot](t, raw)
	assert.Equal(t, 2, got.Result.DownloadCount)

	resp, _ = doRequest(t, http.MethodGet, f.server.URL+"/api/v1/reports/daily_summary_1999-01-01/export", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestReliabilityRoute(t *testing.T) {
	f := newAPIFixture(t)

	resp, raw := doRequest(t, http.MethodGet, f.server.URL+"/api/v1/users/U1/reliability", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	profile := decodeResult[models.ReliabilityProfile](t, raw)
	assert.Equal(t, "U1", profile.Result.UserID)
	assert.Equal(t, 100, profile.Result.ReliabilityScore)

	resp, _ = doRequest(t, http.MethodGet, f.server.URL+"/api/v1/users/nobody/reliability", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = doRequest(t, http.MethodGet, f.server.URL+"/api/v1/users/U1", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestJobRoutes(t *testing.T) {
	f := newAPIFixture(t)

	// 从未运行：stale
	resp, raw := doRequest(t, http.MethodGet, f.server.URL+"/api/v1/jobs/overdue", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	status := decodeResult[models.JobStatus](t, raw)
	assert.True(t, status.Result.Stale)

	resp, raw = doRequest(t, http.MethodPost, f.server.URL+"/api/v1/jobs/overdue/run", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	run := decodeResult[map[string]any](t, raw)
	assert.Equal(t, true, run.Result["ran"])

	resp, raw = doRequest(t, http.MethodGet, f.server.URL+"/api/v1/jobs", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decodeResult[listResult[models.JobStatus]](t, raw)
	require.Len(t, list.Result.Items, 1)
	require.NotNil(t, list.Result.Items[0].LastSuccessAt)
	assert.Contains(t, string(list.Result.Items[0].Result), `"newAlerts":2`)

	resp, _ = doRequest(t, http.MethodGet, f.server.URL+"/api/v1/jobs/unknown", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = doRequest(t, http.MethodPost, f.server.URL+"/api/v1/jobs/unknown/run", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestIsStale(t *testing.T) {
	success := testNow.Add(-90 * time.Minute)
	status := &models.JobStatus{LastSuccessAt: &success}
	assert.False(t, isStale(status, time.Hour, testNow))
	assert.True(t, isStale(status, 30*time.Minute, testNow))
	assert.True(t, isStale(&models.JobStatus{}, time.Hour, testNow))
	assert.False(t, isStale(&models.JobStatus{}, 0, testNow))
}

func TestOpsRoutes(t *testing.T) {
	f := newAPIFixture(t)

	resp, raw := doRequest(t, http.MethodGet, f.server.URL+"/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(raw), "go_goroutines"))

	resp, _ = doRequest(t, http.MethodGet, f.server.URL+"/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
