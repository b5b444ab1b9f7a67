package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"loan-monitor/internal/models"
)

// NewPostgresStore 基于 PostgreSQL 的记录存储
func NewPostgresStore(db *sql.DB, logger *zap.Logger) *Store {
	records := NewRecordsRepository(db, logger)
	return &Store{
		Loans:        records,
		Reservations: records,
		Equipment:    records,
		Alerts:       NewAlertsRepository(db, logger),
		AuditLogs:    NewAuditLogRepository(db, logger),
		NoShows:      NewNoShowRepository(db, logger),
		Reports:      NewReportsRepository(db, logger),
	}
}

// RecordsRepository 借用、预约、设备（只读）
type RecordsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewRecordsRepository 创建只读记录仓库
func NewRecordsRepository(db *sql.DB, logger *zap.Logger) *RecordsRepository {
	return &RecordsRepository{db: db, logger: logger}
}

const loanColumns = `id, user_id, user_name, equipment_id, equipment_name, status,
	created_at, approved_at, rejected_at, borrowed_at, expected_return_date, actual_return_date`

const reservationColumns = `id, user_id, user_name, equipment_id, equipment_name, status, is_no_show,
	start_time, end_time, created_at, approved_at, cancelled_at, completed_at, no_show_at`

// 区间查询字段白名单
var loanRangeColumns = map[models.LoanTimestampField]string{
	models.LoanCreatedAt:        "created_at",
	models.LoanApprovedAt:       "approved_at",
	models.LoanRejectedAt:       "rejected_at",
	models.LoanBorrowedAt:       "borrowed_at",
	models.LoanActualReturnDate: "actual_return_date",
	models.LoanExpectedReturn:   "expected_return_date",
}

var reservationRangeColumns = map[models.ReservationTimestampField]string{
	models.ReservationCreatedAt:   "created_at",
	models.ReservationApprovedAt:  "approved_at",
	models.ReservationCancelledAt: "cancelled_at",
	models.ReservationCompletedAt: "completed_at",
	models.ReservationNoShowAt:    "no_show_at",
	models.ReservationStartTime:   "start_time",
}

// ============================================
// 借用记录
// ============================================

func (r *RecordsRepository) ListLoansByStatus(ctx context.Context, statuses ...string) ([]*models.Loan, error) {
	query := `SELECT ` + loanColumns + ` FROM loans WHERE status = ANY($1) ORDER BY id`
	return r.queryLoans(ctx, "list loans by status", query, pq.Array(statuses))
}

func (r *RecordsRepository) ListLoansInRange(ctx context.Context, field models.LoanTimestampField, start, end time.Time) ([]*models.Loan, error) {
	col, ok := loanRangeColumns[field]
	if !ok {
		return nil, fmt.Errorf("%w: unknown loan timestamp field %q", models.ErrValidation, field)
	}
	query := fmt.Sprintf(`SELECT %s FROM loans WHERE %s >= $1 AND %s <= $2 ORDER BY %s`, loanColumns, col, col, col)
	return r.queryLoans(ctx, "list loans in range", query, start, end)
}

func (r *RecordsRepository) ListLoansByUser(ctx context.Context, userID string) ([]*models.Loan, error) {
	query := `SELECT ` + loanColumns + ` FROM loans WHERE user_id = $1 ORDER BY id`
	return r.queryLoans(ctx, "list loans by user", query, userID)
}

func (r *RecordsRepository) ListAllLoans(ctx context.Context) ([]*models.Loan, error) {
	query := `SELECT ` + loanColumns + ` FROM loans ORDER BY id`
	return r.queryLoans(ctx, "list all loans", query)
}

func (r *RecordsRepository) queryLoans(ctx context.Context, op, query string, args ...interface{}) ([]*models.Loan, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr(op, err)
	}
	defer rows.Close()

	loans := make([]*models.Loan, 0)
	for rows.Next() {
		var l models.Loan
		var approvedAt, rejectedAt, borrowedAt, expected, actual sql.NullTime
		if err := rows.Scan(
			&l.ID, &l.UserID, &l.UserName, &l.EquipmentID, &l.EquipmentName, &l.Status,
			&l.CreatedAt, &approvedAt, &rejectedAt, &borrowedAt, &expected, &actual,
		); err != nil {
			return nil, storeErr(op, err)
		}
		l.ApprovedAt = nullTimePtr(approvedAt)
		l.RejectedAt = nullTimePtr(rejectedAt)
		l.BorrowedAt = nullTimePtr(borrowedAt)
		l.ExpectedReturnDate = nullTimePtr(expected)
		l.ActualReturnDate = nullTimePtr(actual)
		loans = append(loans, &l)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(op, err)
	}
	return loans, nil
}

// ============================================
// 预约记录
// ============================================

func (r *RecordsRepository) ListReservationsByStatus(ctx context.Context, statuses ...string) ([]*models.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE status = ANY($1) ORDER BY id`
	return r.queryReservations(ctx, "list reservations by status", query, pq.Array(statuses))
}

func (r *RecordsRepository) ListReservationsInRange(ctx context.Context, field models.ReservationTimestampField, start, end time.Time) ([]*models.Reservation, error) {
	col, ok := reservationRangeColumns[field]
	if !ok {
		return nil, fmt.Errorf("%w: unknown reservation timestamp field %q", models.ErrValidation, field)
	}
	query := fmt.Sprintf(`SELECT %s FROM reservations WHERE %s >= $1 AND %s <= $2 ORDER BY %s`, reservationColumns, col, col, col)
	return r.queryReservations(ctx, "list reservations in range", query, start, end)
}

func (r *RecordsRepository) ListReservationsByUser(ctx context.Context, userID string) ([]*models.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE user_id = $1 ORDER BY id`
	return r.queryReservations(ctx, "list reservations by user", query, userID)
}

func (r *RecordsRepository) ListAllReservations(ctx context.Context) ([]*models.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations ORDER BY id`
	return r.queryReservations(ctx, "list all reservations", query)
}

func (r *RecordsRepository) queryReservations(ctx context.Context, op, query string, args ...interface{}) ([]*models.Reservation, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr(op, err)
	}
	defer rows.Close()

	out := make([]*models.Reservation, 0)
	for rows.Next() {
		var res models.Reservation
		var approvedAt, cancelledAt, completedAt, noShowAt sql.NullTime
		if err := rows.Scan(
			&res.ID, &res.UserID, &res.UserName, &res.EquipmentID, &res.EquipmentName, &res.Status, &res.IsNoShow,
			&res.StartTime, &res.EndTime, &res.CreatedAt, &approvedAt, &cancelledAt, &completedAt, &noShowAt,
		); err != nil {
			return nil, storeErr(op, err)
		}
		res.ApprovedAt = nullTimePtr(approvedAt)
		res.CancelledAt = nullTimePtr(cancelledAt)
		res.CompletedAt = nullTimePtr(completedAt)
		res.NoShowAt = nullTimePtr(noShowAt)
		out = append(out, &res)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(op, err)
	}
	return out, nil
}

// ============================================
// 设备
// ============================================

func (r *RecordsRepository) ListEquipment(ctx context.Context) ([]*models.Equipment, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, category, status FROM equipment ORDER BY id`)
	if err != nil {
		return nil, storeErr("list equipment", err)
	}
	defer rows.Close()

	out := make([]*models.Equipment, 0)
	for rows.Next() {
		var e models.Equipment
		if err := rows.Scan(&e.ID, &e.Name, &e.Category, &e.Status); err != nil {
			return nil, storeErr("list equipment", err)
		}
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list equipment", err)
	}
	return out, nil
}

func nullTimePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

func nullStringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
