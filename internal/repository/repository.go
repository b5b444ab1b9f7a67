package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"loan-monitor/internal/models"
)

// ============================================
// 记录存储接口（窄接口，按集合划分）
// ============================================

// LoansRepository 借用记录（只读）
type LoansRepository interface {
	// ListLoansByStatus 按状态查询
	ListLoansByStatus(ctx context.Context, statuses ...string) ([]*models.Loan, error)
	// ListLoansInRange 按时间字段区间查询 [start, end]，按该字段升序
	ListLoansInRange(ctx context.Context, field models.LoanTimestampField, start, end time.Time) ([]*models.Loan, error)
	// ListLoansByUser 查询用户全部借用记录
	ListLoansByUser(ctx context.Context, userID string) ([]*models.Loan, error)
	// ListAllLoans 全量查询（周报用户可靠性汇总）
	ListAllLoans(ctx context.Context) ([]*models.Loan, error)
}

// ReservationsRepository 预约记录（只读）
type ReservationsRepository interface {
	ListReservationsByStatus(ctx context.Context, statuses ...string) ([]*models.Reservation, error)
	ListReservationsInRange(ctx context.Context, field models.ReservationTimestampField, start, end time.Time) ([]*models.Reservation, error)
	ListReservationsByUser(ctx context.Context, userID string) ([]*models.Reservation, error)
	ListAllReservations(ctx context.Context) ([]*models.Reservation, error)
}

// EquipmentRepository 设备（只读）
type EquipmentRepository interface {
	ListEquipment(ctx context.Context) ([]*models.Equipment, error)
}

// AlertsRepository 报警
type AlertsRepository interface {
	// GetAlert 不存在时返回 models.ErrNotFound
	GetAlert(ctx context.Context, alertID string) (*models.Alert, error)
	// FindOpenAlert 查询 (source_id, type) 的未处理报警，不存在返回 nil, nil
	FindOpenAlert(ctx context.Context, sourceID string, alertType models.AlertType) (*models.Alert, error)
	// CreateAlert 插入报警，ID 为空时分配；已存在未处理报警时返回 models.ErrDuplicateOpenAlert
	CreateAlert(ctx context.Context, alert *models.Alert) error
	// EscalateAlert 仅当报警未处理且新优先级更严重时更新，返回是否生效
	EscalateAlert(ctx context.Context, alertID string, esc models.AlertEscalation, at time.Time) (bool, error)
	// ResolveAlert 条件更新为已处理；不存在返回 ErrNotFound，已处理返回 ErrAlreadyResolved
	ResolveAlert(ctx context.Context, alertID string, res models.AlertResolution) (*models.Alert, error)
	// ListAlerts 按 created_at 倒序
	ListAlerts(ctx context.Context, filters models.AlertFilters) ([]*models.Alert, error)
}

// AuditLogRepository 报警审计日志（只追加）
type AuditLogRepository interface {
	InsertAuditLog(ctx context.Context, entry *models.AlertAuditLogEntry) error
	ListAuditLogs(ctx context.Context, alertID string) ([]*models.AlertAuditLogEntry, error)
}

// NoShowRepository 用户爽约记录（只追加）
type NoShowRepository interface {
	// AppendNoShowOccurrence 同 ID 已存在时不做任何修改
	AppendNoShowOccurrence(ctx context.Context, occurrence *models.UserNoShowOccurrence) error
	ListNoShowOccurrencesSince(ctx context.Context, since time.Time) ([]*models.UserNoShowOccurrence, error)
	// CountNoShowOccurrences 统计 [since, until] 内的爽约次数
	CountNoShowOccurrences(ctx context.Context, userID string, since, until time.Time) (int, error)
}

// ReportsRepository 报告快照
type ReportsRepository interface {
	// SaveReport 按复合键整体覆盖写入
	SaveReport(ctx context.Context, report *models.ReportSnapshot) error
	// GetReport 不存在时返回 models.ErrNotFound
	GetReport(ctx context.Context, reportID string) (*models.ReportSnapshot, error)
	// ListReports 按 generated_at 倒序
	ListReports(ctx context.Context, filters models.ReportFilters, limit int) ([]*models.ReportSnapshot, error)
	// AddReportViewer 只修改 viewed_by（集合语义）
	AddReportViewer(ctx context.Context, reportID, adminID string) error
	// IncrementDownloadCount 只修改 download_count，返回新值
	IncrementDownloadCount(ctx context.Context, reportID string) (int, error)
	// DeleteReportsGeneratedBefore 删除过期报告，返回删除条数
	DeleteReportsGeneratedBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// Store 记录存储（各集合仓库的组合）
type Store struct {
	Loans        LoansRepository
	Reservations ReservationsRepository
	Equipment    EquipmentRepository
	Alerts       AlertsRepository
	AuditLogs    AuditLogRepository
	NoShows      NoShowRepository
	Reports      ReportsRepository
}

// ============================================
// 错误
// ============================================

// StoreError 存储读写失败（可重试）
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// IsTransient 是否为存储读写失败
func IsTransient(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}

func storeErr(op string, err error) error {
	return &StoreError{Op: op, Err: err}
}
