package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"loan-monitor/internal/models"
)

// PostgresAlertsRepository 报警仓库（PostgreSQL）
// 未处理报警唯一性由部分唯一索引 alerts_open_source_uniq 保证
type PostgresAlertsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAlertsRepository 创建报警仓库
func NewAlertsRepository(db *sql.DB, logger *zap.Logger) *PostgresAlertsRepository {
	return &PostgresAlertsRepository{db: db, logger: logger}
}

const alertColumns = `id, type, priority, title, description, source_id, source_type,
	source_data, quick_actions, is_resolved, resolved_at, resolved_by, resolved_action,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAlert(row rowScanner) (*models.Alert, error) {
	var a models.Alert
	var sourceData, quickActions []byte
	var resolvedAt sql.NullTime
	var resolvedBy, resolvedAction sql.NullString

	if err := row.Scan(
		&a.ID, &a.Type, &a.Priority, &a.Title, &a.Description, &a.SourceID, &a.SourceType,
		&sourceData, &quickActions, &a.IsResolved, &resolvedAt, &resolvedBy, &resolvedAction,
		&a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if len(sourceData) > 0 {
		if err := json.Unmarshal(sourceData, &a.SourceData); err != nil {
			return nil, fmt.Errorf("failed to unmarshal source_data: %w", err)
		}
	}
	if len(quickActions) > 0 {
		if err := json.Unmarshal(quickActions, &a.QuickActions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal quick_actions: %w", err)
		}
	}
	a.ResolvedAt = nullTimePtr(resolvedAt)
	a.ResolvedBy = nullStringPtr(resolvedBy)
	a.ResolvedAction = nullStringPtr(resolvedAction)
	return &a, nil
}

// GetAlert 根据 ID 获取报警
func (r *PostgresAlertsRepository) GetAlert(ctx context.Context, alertID string) (*models.Alert, error) {
	if alertID == "" {
		return nil, fmt.Errorf("%w: alert id is required", models.ErrValidation)
	}
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE id = $1`
	a, err := scanAlert(r.db.QueryRowContext(ctx, query, alertID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("alert %s: %w", alertID, models.ErrNotFound)
	}
	if err != nil {
		return nil, storeErr("get alert", err)
	}
	return a, nil
}

// FindOpenAlert 查询未处理报警
func (r *PostgresAlertsRepository) FindOpenAlert(ctx context.Context, sourceID string, alertType models.AlertType) (*models.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE source_id = $1 AND type = $2 AND NOT is_resolved LIMIT 1`
	a, err := scanAlert(r.db.QueryRowContext(ctx, query, sourceID, string(alertType)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("find open alert", err)
	}
	return a, nil
}

// CreateAlert 插入报警；冲突时不写入并返回 ErrDuplicateOpenAlert
func (r *PostgresAlertsRepository) CreateAlert(ctx context.Context, alert *models.Alert) error {
	if alert.ID == "" {
		alert.ID = uuid.New().String()
	}
	if alert.UpdatedAt.IsZero() {
		alert.UpdatedAt = alert.CreatedAt
	}
	sourceData, err := json.Marshal(nonNilMap(alert.SourceData))
	if err != nil {
		return fmt.Errorf("failed to marshal source_data: %w", err)
	}
	quickActions := alert.QuickActions
	if quickActions == nil {
		quickActions = []models.QuickAction{}
	}
	actionsJSON, err := json.Marshal(quickActions)
	if err != nil {
		return fmt.Errorf("failed to marshal quick_actions: %w", err)
	}

	query := `
		INSERT INTO alerts (
			id, type, priority, priority_rank, title, description, source_id, source_type,
			source_data, quick_actions, is_resolved, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (source_id, type) WHERE NOT is_resolved DO NOTHING
	`
	result, err := r.db.ExecContext(ctx, query,
		alert.ID, string(alert.Type), string(alert.Priority), alert.Priority.Ordinal(),
		alert.Title, alert.Description, alert.SourceID, string(alert.SourceType),
		sourceData, actionsJSON, alert.IsResolved, alert.CreatedAt, alert.UpdatedAt,
	)
	if err != nil {
		return storeErr("create alert", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return storeErr("create alert", err)
	}
	if affected == 0 {
		return fmt.Errorf("alert %s/%s: %w", alert.Type, alert.SourceID, models.ErrDuplicateOpenAlert)
	}
	return nil
}

// EscalateAlert 条件升级：未处理且新优先级严格更高
func (r *PostgresAlertsRepository) EscalateAlert(ctx context.Context, alertID string, esc models.AlertEscalation, at time.Time) (bool, error) {
	if !esc.Priority.Valid() {
		return false, fmt.Errorf("%w: unknown priority %q", models.ErrValidation, esc.Priority)
	}
	sourceData, err := json.Marshal(nonNilMap(esc.SourceData))
	if err != nil {
		return false, fmt.Errorf("failed to marshal source_data: %w", err)
	}
	query := `
		UPDATE alerts
		SET priority = $2, priority_rank = $3, title = $4, description = $5,
		    source_data = $6, updated_at = $7
		WHERE id = $1 AND NOT is_resolved AND priority_rank > $3
	`
	result, err := r.db.ExecContext(ctx, query,
		alertID, string(esc.Priority), esc.Priority.Ordinal(), esc.Title, esc.Description, sourceData, at,
	)
	if err != nil {
		return false, storeErr("escalate alert", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, storeErr("escalate alert", err)
	}
	return affected > 0, nil
}

// ResolveAlert 条件更新为已处理
func (r *PostgresAlertsRepository) ResolveAlert(ctx context.Context, alertID string, res models.AlertResolution) (*models.Alert, error) {
	query := `
		UPDATE alerts
		SET is_resolved = TRUE, resolved_at = $2, resolved_by = $3, resolved_action = $4, updated_at = $2
		WHERE id = $1 AND NOT is_resolved
		RETURNING ` + alertColumns

	a, err := scanAlert(r.db.QueryRowContext(ctx, query, alertID, res.ResolvedAt, res.ResolvedBy, res.ResolvedAction))
	if err == nil {
		return a, nil
	}
	if err != sql.ErrNoRows {
		return nil, storeErr("resolve alert", err)
	}

	// 未更新：区分不存在与已处理
	var resolved bool
	err = r.db.QueryRowContext(ctx, `SELECT is_resolved FROM alerts WHERE id = $1`, alertID).Scan(&resolved)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("alert %s: %w", alertID, models.ErrNotFound)
	}
	if err != nil {
		return nil, storeErr("resolve alert", err)
	}
	return nil, fmt.Errorf("alert %s: %w", alertID, models.ErrAlreadyResolved)
}

const priorityRankSQL = `CASE priority WHEN 'critical' THEN 0 WHEN 'high' THEN 1 WHEN 'medium' THEN 2 WHEN 'low' THEN 3 ELSE 4 END`

// ListAlerts 查询报警，按 created_at 倒序（ByPriority 时先按优先级）
func (r *PostgresAlertsRepository) ListAlerts(ctx context.Context, filters models.AlertFilters) ([]*models.Alert, error) {
	var conditions []string
	var args []interface{}
	argIndex := 1

	if filters.Type != nil {
		conditions = append(conditions, fmt.Sprintf("type = $%d", argIndex))
		args = append(args, string(*filters.Type))
		argIndex++
	}
	if filters.Priority != nil {
		conditions = append(conditions, fmt.Sprintf("priority = $%d", argIndex))
		args = append(args, string(*filters.Priority))
		argIndex++
	}
	if filters.Resolved != nil {
		conditions = append(conditions, fmt.Sprintf("is_resolved = $%d", argIndex))
		args = append(args, *filters.Resolved)
		argIndex++
	}

	query := `SELECT ` + alertColumns + ` FROM alerts`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	if filters.ByPriority {
		query += " ORDER BY " + priorityRankSQL + ", created_at DESC, id ASC"
	} else {
		query += " ORDER BY created_at DESC, id ASC"
	}
	if filters.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIndex)
		args = append(args, filters.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("list alerts", err)
	}
	defer rows.Close()

	alerts := make([]*models.Alert, 0)
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, storeErr("list alerts", err)
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list alerts", err)
	}
	return alerts, nil
}

func nonNilMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}

// ============================================
// 审计日志
// ============================================

// PostgresAuditLogRepository 报警审计日志仓库
type PostgresAuditLogRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewAuditLogRepository(db *sql.DB, logger *zap.Logger) *PostgresAuditLogRepository {
	return &PostgresAuditLogRepository{db: db, logger: logger}
}

func (r *PostgresAuditLogRepository) InsertAuditLog(ctx context.Context, entry *models.AlertAuditLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	query := `
		INSERT INTO alert_audit_logs (
			id, alert_id, alert_type, alert_priority, alert_title, source_id, source_type,
			resolved_by, resolved_action, resolved_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := r.db.ExecContext(ctx, query,
		entry.ID, entry.AlertID, string(entry.AlertType), string(entry.AlertPriority), entry.AlertTitle,
		entry.SourceID, string(entry.SourceType), entry.ResolvedBy, entry.ResolvedAction,
		entry.ResolvedAt, entry.CreatedAt,
	)
	if err != nil {
		return storeErr("insert audit log", err)
	}
	return nil
}

func (r *PostgresAuditLogRepository) ListAuditLogs(ctx context.Context, alertID string) ([]*models.AlertAuditLogEntry, error) {
	query := `
		SELECT id, alert_id, alert_type, alert_priority, alert_title, source_id, source_type,
		       resolved_by, resolved_action, resolved_at, created_at
		FROM alert_audit_logs
		WHERE ($1 = '' OR alert_id = $1)
		ORDER BY created_at
	`
	rows, err := r.db.QueryContext(ctx, query, alertID)
	if err != nil {
		return nil, storeErr("list audit logs", err)
	}
	defer rows.Close()

	out := make([]*models.AlertAuditLogEntry, 0)
	for rows.Next() {
		var e models.AlertAuditLogEntry
		if err := rows.Scan(
			&e.ID, &e.AlertID, &e.AlertType, &e.AlertPriority, &e.AlertTitle, &e.SourceID, &e.SourceType,
			&e.ResolvedBy, &e.ResolvedAction, &e.ResolvedAt, &e.CreatedAt,
		); err != nil {
			return nil, storeErr("list audit logs", err)
		}
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list audit logs", err)
	}
	return out, nil
}
