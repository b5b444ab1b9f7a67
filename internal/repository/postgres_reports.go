package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"loan-monitor/internal/models"
)

// ============================================
// 爽约记录
// ============================================

// PostgresNoShowRepository 用户爽约记录仓库
type PostgresNoShowRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewNoShowRepository(db *sql.DB, logger *zap.Logger) *PostgresNoShowRepository {
	return &PostgresNoShowRepository{db: db, logger: logger}
}

func (r *PostgresNoShowRepository) AppendNoShowOccurrence(ctx context.Context, occurrence *models.UserNoShowOccurrence) error {
	if occurrence.ID == "" {
		occurrence.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO user_no_show_occurrences (id, user_id, reservation_id, occurred_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO NOTHING`,
		occurrence.ID, occurrence.UserID, occurrence.ReservationID, occurrence.OccurredAt,
	)
	if err != nil {
		return storeErr("append no-show occurrence", err)
	}
	return nil
}

func (r *PostgresNoShowRepository) ListNoShowOccurrencesSince(ctx context.Context, since time.Time) ([]*models.UserNoShowOccurrence, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, reservation_id, occurred_at FROM user_no_show_occurrences WHERE occurred_at >= $1 ORDER BY occurred_at`,
		since,
	)
	if err != nil {
		return nil, storeErr("list no-show occurrences", err)
	}
	defer rows.Close()

	out := make([]*models.UserNoShowOccurrence, 0)
	for rows.Next() {
		var o models.UserNoShowOccurrence
		if err := rows.Scan(&o.ID, &o.UserID, &o.ReservationID, &o.OccurredAt); err != nil {
			return nil, storeErr("list no-show occurrences", err)
		}
		out = append(out, &o)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list no-show occurrences", err)
	}
	return out, nil
}

func (r *PostgresNoShowRepository) CountNoShowOccurrences(ctx context.Context, userID string, since, until time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM user_no_show_occurrences WHERE user_id = $1 AND occurred_at >= $2 AND occurred_at <= $3`,
		userID, since, until,
	).Scan(&n)
	if err != nil {
		return 0, storeErr("count no-show occurrences", err)
	}
	return n, nil
}

// ============================================
// 报告快照
// ============================================

// PostgresReportsRepository 报告快照仓库
type PostgresReportsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewReportsRepository(db *sql.DB, logger *zap.Logger) *PostgresReportsRepository {
	return &PostgresReportsRepository{db: db, logger: logger}
}

const reportColumns = `id, report_type, period, data, generated_at, viewed_by, download_count`

func scanReport(row rowScanner) (*models.ReportSnapshot, error) {
	var rep models.ReportSnapshot
	var data []byte
	var viewedBy []string
	if err := row.Scan(&rep.ID, &rep.ReportType, &rep.Period, &data, &rep.GeneratedAt, pq.Array(&viewedBy), &rep.DownloadCount); err != nil {
		return nil, err
	}
	rep.Data = data
	if viewedBy == nil {
		viewedBy = []string{}
	}
	rep.ViewedBy = viewedBy
	return &rep, nil
}

// SaveReport 整体覆盖写入（含 viewed_by 与 download_count）
func (r *PostgresReportsRepository) SaveReport(ctx context.Context, report *models.ReportSnapshot) error {
	viewedBy := report.ViewedBy
	if viewedBy == nil {
		viewedBy = []string{}
	}
	query := `
		INSERT INTO report_snapshots (` + reportColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			report_type = EXCLUDED.report_type,
			period = EXCLUDED.period,
			data = EXCLUDED.data,
			generated_at = EXCLUDED.generated_at,
			viewed_by = EXCLUDED.viewed_by,
			download_count = EXCLUDED.download_count
	`
	_, err := r.db.ExecContext(ctx, query,
		report.ID, string(report.ReportType), report.Period, []byte(report.Data),
		report.GeneratedAt, pq.Array(viewedBy), report.DownloadCount,
	)
	if err != nil {
		return storeErr("save report", err)
	}
	return nil
}

func (r *PostgresReportsRepository) GetReport(ctx context.Context, reportID string) (*models.ReportSnapshot, error) {
	rep, err := scanReport(r.db.QueryRowContext(ctx, `SELECT `+reportColumns+` FROM report_snapshots WHERE id = $1`, reportID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("report %s: %w", reportID, models.ErrNotFound)
	}
	if err != nil {
		return nil, storeErr("get report", err)
	}
	return rep, nil
}

func (r *PostgresReportsRepository) ListReports(ctx context.Context, filters models.ReportFilters, limit int) ([]*models.ReportSnapshot, error) {
	query := `SELECT ` + reportColumns + ` FROM report_snapshots WHERE TRUE`
	var args []interface{}
	if filters.ReportType != nil {
		args = append(args, string(*filters.ReportType))
		query += fmt.Sprintf(" AND report_type = $%d", len(args))
	}
	if filters.GeneratedAfter != nil {
		args = append(args, *filters.GeneratedAfter)
		query += fmt.Sprintf(" AND generated_at >= $%d", len(args))
	}
	query += " ORDER BY generated_at DESC, id DESC"
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("list reports", err)
	}
	defer rows.Close()

	out := make([]*models.ReportSnapshot, 0)
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, storeErr("list reports", err)
		}
		out = append(out, rep)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list reports", err)
	}
	return out, nil
}

// AddReportViewer 集合语义追加
func (r *PostgresReportsRepository) AddReportViewer(ctx context.Context, reportID, adminID string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE report_snapshots SET viewed_by = array_append(viewed_by, $2)
		WHERE id = $1 AND NOT ($2 = ANY(viewed_by))
	`, reportID, adminID)
	if err != nil {
		return storeErr("add report viewer", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return storeErr("add report viewer", err)
	}
	if affected > 0 {
		return nil
	}
	return r.ensureReportExists(ctx, reportID)
}

func (r *PostgresReportsRepository) IncrementDownloadCount(ctx context.Context, reportID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`UPDATE report_snapshots SET download_count = download_count + 1 WHERE id = $1 RETURNING download_count`,
		reportID,
	).Scan(&n)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("report %s: %w", reportID, models.ErrNotFound)
	}
	if err != nil {
		return 0, storeErr("increment download count", err)
	}
	return n, nil
}

func (r *PostgresReportsRepository) DeleteReportsGeneratedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM report_snapshots WHERE generated_at < $1`, cutoff)
	if err != nil {
		return 0, storeErr("delete old reports", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, storeErr("delete old reports", err)
	}
	return int(affected), nil
}

func (r *PostgresReportsRepository) ensureReportExists(ctx context.Context, reportID string) error {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM report_snapshots WHERE id = $1)`, reportID).Scan(&exists)
	if err != nil {
		return storeErr("get report", err)
	}
	if !exists {
		return fmt.Errorf("report %s: %w", reportID, models.ErrNotFound)
	}
	return nil
}
