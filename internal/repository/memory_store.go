package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"loan-monitor/internal/models"
)

// MemoryStore 内存记录存储（本地运行与测试）
// 报警的 "每个来源最多一条未处理报警" 由互斥锁内的检查-插入保证
type MemoryStore struct {
	mu sync.RWMutex

	loans        map[string]*models.Loan
	reservations map[string]*models.Reservation
	equipment    map[string]*models.Equipment
	alerts       map[string]*models.Alert
	auditLogs    []*models.AlertAuditLogEntry
	noShows      []*models.UserNoShowOccurrence
	reports      map[string]*models.ReportSnapshot
}

// NewMemoryStore 创建空存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		loans:        make(map[string]*models.Loan),
		reservations: make(map[string]*models.Reservation),
		equipment:    make(map[string]*models.Equipment),
		alerts:       make(map[string]*models.Alert),
		reports:      make(map[string]*models.ReportSnapshot),
	}
}

// Store 以组合形式暴露
func (m *MemoryStore) Store() *Store {
	return &Store{
		Loans:        m,
		Reservations: m,
		Equipment:    m,
		Alerts:       m,
		AuditLogs:    m,
		NoShows:      m,
		Reports:      m,
	}
}

// ============================================
// 写入（种子数据）
// ============================================

func (m *MemoryStore) PutLoan(l *models.Loan) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *l
	m.loans[l.ID] = &c
}

func (m *MemoryStore) PutReservation(r *models.Reservation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *r
	m.reservations[r.ID] = &c
}

func (m *MemoryStore) PutEquipment(e *models.Equipment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *e
	m.equipment[e.ID] = &c
}

// seedFile 文档存储导出格式：集合 → 文档ID → 文档
type seedFile struct {
	Loans        map[string]Document `json:"loans"`
	Reservations map[string]Document `json:"reservations"`
	Equipment    map[string]Document `json:"equipment"`
}

// LoadSeedFile 从 JSON 导出文件装载借用、预约、设备
func (m *MemoryStore) LoadSeedFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open seed file: %w", err)
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.UseNumber()
	var seed seedFile
	if err := dec.Decode(&seed); err != nil {
		return fmt.Errorf("decode seed file: %w", err)
	}
	return m.LoadDocuments(seed.Loans, seed.Reservations, seed.Equipment)
}

// LoadDocuments 装载原始文档
func (m *MemoryStore) LoadDocuments(loans, reservations, equipment map[string]Document) error {
	for id, d := range loans {
		l, err := LoanFromDocument(id, d)
		if err != nil {
			return err
		}
		m.PutLoan(l)
	}
	for id, d := range reservations {
		r, err := ReservationFromDocument(id, d)
		if err != nil {
			return err
		}
		m.PutReservation(r)
	}
	for id, d := range equipment {
		e, err := EquipmentFromDocument(id, d)
		if err != nil {
			return err
		}
		m.PutEquipment(e)
	}
	return nil
}

// ============================================
// LoansRepository
// ============================================

func (m *MemoryStore) ListLoansByStatus(ctx context.Context, statuses ...string) ([]*models.Loan, error) {
	set := toSet(statuses)
	return m.filterLoans(func(l *models.Loan) bool { return set[l.Status] }, byLoanID), nil
}

func (m *MemoryStore) ListLoansInRange(ctx context.Context, field models.LoanTimestampField, start, end time.Time) ([]*models.Loan, error) {
	out := m.filterLoans(func(l *models.Loan) bool {
		return inRange(l.Timestamp(field), start, end)
	}, nil)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp(field).Before(*out[j].Timestamp(field))
	})
	return out, nil
}

func (m *MemoryStore) ListLoansByUser(ctx context.Context, userID string) ([]*models.Loan, error) {
	return m.filterLoans(func(l *models.Loan) bool { return l.UserID == userID }, byLoanID), nil
}

func (m *MemoryStore) ListAllLoans(ctx context.Context) ([]*models.Loan, error) {
	return m.filterLoans(func(*models.Loan) bool { return true }, byLoanID), nil
}

func byLoanID(out []*models.Loan) {
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
}

func (m *MemoryStore) filterLoans(keep func(*models.Loan) bool, order func([]*models.Loan)) []*models.Loan {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Loan, 0)
	for _, l := range m.loans {
		if keep(l) {
			c := *l
			out = append(out, &c)
		}
	}
	if order != nil {
		order(out)
	}
	return out
}

// ============================================
// ReservationsRepository
// ============================================

func (m *MemoryStore) ListReservationsByStatus(ctx context.Context, statuses ...string) ([]*models.Reservation, error) {
	set := toSet(statuses)
	return m.filterReservations(func(r *models.Reservation) bool { return set[r.Status] }, byReservationID), nil
}

func (m *MemoryStore) ListReservationsInRange(ctx context.Context, field models.ReservationTimestampField, start, end time.Time) ([]*models.Reservation, error) {
	out := m.filterReservations(func(r *models.Reservation) bool {
		return inRange(r.Timestamp(field), start, end)
	}, nil)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp(field).Before(*out[j].Timestamp(field))
	})
	return out, nil
}

func (m *MemoryStore) ListReservationsByUser(ctx context.Context, userID string) ([]*models.Reservation, error) {
	return m.filterReservations(func(r *models.Reservation) bool { return r.UserID == userID }, byReservationID), nil
}

func (m *MemoryStore) ListAllReservations(ctx context.Context) ([]*models.Reservation, error) {
	return m.filterReservations(func(*models.Reservation) bool { return true }, byReservationID), nil
}

func byReservationID(out []*models.Reservation) {
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
}

func (m *MemoryStore) filterReservations(keep func(*models.Reservation) bool, order func([]*models.Reservation)) []*models.Reservation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Reservation, 0)
	for _, r := range m.reservations {
		if keep(r) {
			c := *r
			out = append(out, &c)
		}
	}
	if order != nil {
		order(out)
	}
	return out
}

// ============================================
// EquipmentRepository
// ============================================

func (m *MemoryStore) ListEquipment(ctx context.Context) ([]*models.Equipment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Equipment, 0, len(m.equipment))
	for _, e := range m.equipment {
		c := *e
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ============================================
// AlertsRepository
// ============================================

func (m *MemoryStore) GetAlert(ctx context.Context, alertID string) (*models.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.alerts[alertID]
	if !ok {
		return nil, fmt.Errorf("alert %s: %w", alertID, models.ErrNotFound)
	}
	return cloneAlert(a), nil
}

func (m *MemoryStore) FindOpenAlert(ctx context.Context, sourceID string, alertType models.AlertType) (*models.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if a := m.openAlertLocked(sourceID, alertType); a != nil {
		return cloneAlert(a), nil
	}
	return nil, nil
}

func (m *MemoryStore) openAlertLocked(sourceID string, alertType models.AlertType) *models.Alert {
	for _, a := range m.alerts {
		if !a.IsResolved && a.SourceID == sourceID && a.Type == alertType {
			return a
		}
	}
	return nil
}

func (m *MemoryStore) CreateAlert(ctx context.Context, alert *models.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !alert.IsResolved && m.openAlertLocked(alert.SourceID, alert.Type) != nil {
		return fmt.Errorf("alert %s/%s: %w", alert.Type, alert.SourceID, models.ErrDuplicateOpenAlert)
	}
	if alert.ID == "" {
		alert.ID = uuid.New().String()
	}
	if alert.UpdatedAt.IsZero() {
		alert.UpdatedAt = alert.CreatedAt
	}
	m.alerts[alert.ID] = cloneAlert(alert)
	return nil
}

func (m *MemoryStore) EscalateAlert(ctx context.Context, alertID string, esc models.AlertEscalation, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[alertID]
	if !ok || a.IsResolved || !esc.Priority.MoreSevereThan(a.Priority) {
		return false, nil
	}
	a.Priority = esc.Priority
	a.Title = esc.Title
	a.Description = esc.Description
	a.SourceData = copyMap(esc.SourceData)
	a.UpdatedAt = at
	return true, nil
}

func (m *MemoryStore) ResolveAlert(ctx context.Context, alertID string, res models.AlertResolution) (*models.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[alertID]
	if !ok {
		return nil, fmt.Errorf("alert %s: %w", alertID, models.ErrNotFound)
	}
	if a.IsResolved {
		return nil, fmt.Errorf("alert %s: %w", alertID, models.ErrAlreadyResolved)
	}
	resolvedAt := res.ResolvedAt
	by := res.ResolvedBy
	action := res.ResolvedAction
	a.IsResolved = true
	a.ResolvedAt = &resolvedAt
	a.ResolvedBy = &by
	a.ResolvedAction = &action
	a.UpdatedAt = resolvedAt
	return cloneAlert(a), nil
}

func (m *MemoryStore) ListAlerts(ctx context.Context, filters models.AlertFilters) ([]*models.Alert, error) {
	m.mu.RLock()
	out := make([]*models.Alert, 0)
	for _, a := range m.alerts {
		if filters.Type != nil && a.Type != *filters.Type {
			continue
		}
		if filters.Priority != nil && a.Priority != *filters.Priority {
			continue
		}
		if filters.Resolved != nil && a.IsResolved != *filters.Resolved {
			continue
		}
		out = append(out, cloneAlert(a))
	}
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if filters.ByPriority && out[i].Priority.Ordinal() != out[j].Priority.Ordinal() {
			return out[i].Priority.Ordinal() < out[j].Priority.Ordinal()
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if filters.Limit > 0 && len(out) > filters.Limit {
		out = out[:filters.Limit]
	}
	return out, nil
}

func cloneAlert(a *models.Alert) *models.Alert {
	c := *a
	c.SourceData = copyMap(a.SourceData)
	if a.QuickActions != nil {
		c.QuickActions = append([]models.QuickAction(nil), a.QuickActions...)
	}
	return &c
}

func copyMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	c := make(map[string]interface{}, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

// ============================================
// AuditLogRepository
// ============================================

func (m *MemoryStore) InsertAuditLog(ctx context.Context, entry *models.AlertAuditLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	c := *entry
	m.auditLogs = append(m.auditLogs, &c)
	return nil
}

func (m *MemoryStore) ListAuditLogs(ctx context.Context, alertID string) ([]*models.AlertAuditLogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.AlertAuditLogEntry, 0)
	for _, e := range m.auditLogs {
		if alertID == "" || e.AlertID == alertID {
			c := *e
			out = append(out, &c)
		}
	}
	return out, nil
}

// ============================================
// NoShowRepository
// ============================================

func (m *MemoryStore) AppendNoShowOccurrence(ctx context.Context, occurrence *models.UserNoShowOccurrence) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if occurrence.ID == "" {
		occurrence.ID = uuid.New().String()
	}
	for _, o := range m.noShows {
		if o.ID == occurrence.ID {
			return nil
		}
	}
	c := *occurrence
	m.noShows = append(m.noShows, &c)
	return nil
}

func (m *MemoryStore) ListNoShowOccurrencesSince(ctx context.Context, since time.Time) ([]*models.UserNoShowOccurrence, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.UserNoShowOccurrence, 0)
	for _, o := range m.noShows {
		if !o.OccurredAt.Before(since) {
			c := *o
			out = append(out, &c)
		}
	}
	return out, nil
}

func (m *MemoryStore) CountNoShowOccurrences(ctx context.Context, userID string, since, until time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, o := range m.noShows {
		if o.UserID == userID && !o.OccurredAt.Before(since) && !o.OccurredAt.After(until) {
			n++
		}
	}
	return n, nil
}

// ============================================
// ReportsRepository
// ============================================

func (m *MemoryStore) SaveReport(ctx context.Context, report *models.ReportSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports[report.ID] = cloneReport(report)
	return nil
}

func (m *MemoryStore) GetReport(ctx context.Context, reportID string) (*models.ReportSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.reports[reportID]
	if !ok {
		return nil, fmt.Errorf("report %s: %w", reportID, models.ErrNotFound)
	}
	return cloneReport(r), nil
}

func (m *MemoryStore) ListReports(ctx context.Context, filters models.ReportFilters, limit int) ([]*models.ReportSnapshot, error) {
	m.mu.RLock()
	out := make([]*models.ReportSnapshot, 0)
	for _, r := range m.reports {
		if filters.ReportType != nil && r.ReportType != *filters.ReportType {
			continue
		}
		if filters.GeneratedAfter != nil && r.GeneratedAt.Before(*filters.GeneratedAfter) {
			continue
		}
		out = append(out, cloneReport(r))
	}
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].GeneratedAt.Equal(out[j].GeneratedAt) {
			return out[i].GeneratedAt.After(out[j].GeneratedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) AddReportViewer(ctx context.Context, reportID, adminID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reports[reportID]
	if !ok {
		return fmt.Errorf("report %s: %w", reportID, models.ErrNotFound)
	}
	for _, v := range r.ViewedBy {
		if v == adminID {
			return nil
		}
	}
	r.ViewedBy = append(r.ViewedBy, adminID)
	return nil
}

func (m *MemoryStore) IncrementDownloadCount(ctx context.Context, reportID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reports[reportID]
	if !ok {
		return 0, fmt.Errorf("report %s: %w", reportID, models.ErrNotFound)
	}
	r.DownloadCount++
	return r.DownloadCount, nil
}

func (m *MemoryStore) DeleteReportsGeneratedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, r := range m.reports {
		if r.GeneratedAt.Before(cutoff) {
			delete(m.reports, id)
			n++
		}
	}
	return n, nil
}

func cloneReport(r *models.ReportSnapshot) *models.ReportSnapshot {
	c := *r
	c.Data = append([]byte(nil), r.Data...)
	c.ViewedBy = append([]string{}, r.ViewedBy...)
	return &c
}

// ============================================
// 工具
// ============================================

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}

func inRange(t *time.Time, start, end time.Time) bool {
	return t != nil && !t.IsZero() && !t.Before(start) && !t.After(end)
}
