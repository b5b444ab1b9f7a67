package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// schemaStatements 建表语句（幂等）
// alerts_open_source_uniq 保证同一 (source_id, type) 最多一条未处理报警
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS loans (
		id                   TEXT PRIMARY KEY,
		user_id              TEXT NOT NULL,
		user_name            TEXT NOT NULL DEFAULT '',
		equipment_id         TEXT NOT NULL,
		equipment_name       TEXT NOT NULL DEFAULT '',
		status               TEXT NOT NULL,
		created_at           TIMESTAMPTZ NOT NULL,
		approved_at          TIMESTAMPTZ,
		rejected_at          TIMESTAMPTZ,
		borrowed_at          TIMESTAMPTZ,
		expected_return_date TIMESTAMPTZ,
		actual_return_date   TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS loans_status_idx ON loans (status)`,
	`CREATE INDEX IF NOT EXISTS loans_user_idx ON loans (user_id)`,
	`CREATE TABLE IF NOT EXISTS reservations (
		id             TEXT PRIMARY KEY,
		user_id        TEXT NOT NULL,
		user_name      TEXT NOT NULL DEFAULT '',
		equipment_id   TEXT NOT NULL,
		equipment_name TEXT NOT NULL DEFAULT '',
		status         TEXT NOT NULL,
		is_no_show     BOOLEAN NOT NULL DEFAULT FALSE,
		start_time     TIMESTAMPTZ NOT NULL,
		end_time       TIMESTAMPTZ NOT NULL,
		created_at     TIMESTAMPTZ NOT NULL,
		approved_at    TIMESTAMPTZ,
		cancelled_at   TIMESTAMPTZ,
		completed_at   TIMESTAMPTZ,
		no_show_at     TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS reservations_status_idx ON reservations (status)`,
	`CREATE INDEX IF NOT EXISTS reservations_user_idx ON reservations (user_id)`,
	`CREATE TABLE IF NOT EXISTS equipment (
		id       TEXT PRIMARY KEY,
		name     TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT '',
		status   TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS alerts (
		id              TEXT PRIMARY KEY,
		type            TEXT NOT NULL,
		priority        TEXT NOT NULL,
		priority_rank   SMALLINT NOT NULL,
		title           TEXT NOT NULL,
		description     TEXT NOT NULL,
		source_id       TEXT NOT NULL,
		source_type     TEXT NOT NULL,
		source_data     JSONB NOT NULL DEFAULT '{}'::jsonb,
		quick_actions   JSONB NOT NULL DEFAULT '[]'::jsonb,
		is_resolved     BOOLEAN NOT NULL DEFAULT FALSE,
		resolved_at     TIMESTAMPTZ,
		resolved_by     TEXT,
		resolved_action TEXT,
		created_at      TIMESTAMPTZ NOT NULL,
		updated_at      TIMESTAMPTZ NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS alerts_open_source_uniq ON alerts (source_id, type) WHERE NOT is_resolved`,
	`CREATE INDEX IF NOT EXISTS alerts_created_idx ON alerts (created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS alert_audit_logs (
		id              TEXT PRIMARY KEY,
		alert_id        TEXT NOT NULL,
		alert_type      TEXT NOT NULL,
		alert_priority  TEXT NOT NULL,
		alert_title     TEXT NOT NULL,
		source_id       TEXT NOT NULL,
		source_type     TEXT NOT NULL,
		resolved_by     TEXT NOT NULL,
		resolved_action TEXT NOT NULL,
		resolved_at     TIMESTAMPTZ NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS alert_audit_logs_alert_idx ON alert_audit_logs (alert_id)`,
	`CREATE TABLE IF NOT EXISTS user_no_show_occurrences (
		id             TEXT PRIMARY KEY,
		user_id        TEXT NOT NULL,
		reservation_id TEXT NOT NULL,
		occurred_at    TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS user_no_show_user_time_idx ON user_no_show_occurrences (user_id, occurred_at)`,
	`CREATE TABLE IF NOT EXISTS report_snapshots (
		id             TEXT PRIMARY KEY,
		report_type    TEXT NOT NULL,
		period         TEXT NOT NULL,
		data           JSONB NOT NULL,
		generated_at   TIMESTAMPTZ NOT NULL,
		viewed_by      TEXT[] NOT NULL DEFAULT '{}',
		download_count INTEGER NOT NULL DEFAULT 0,
		UNIQUE (report_type, period)
	)`,
	`CREATE INDEX IF NOT EXISTS report_snapshots_generated_idx ON report_snapshots (generated_at DESC)`,
}

// EnsureSchema 创建表与索引
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d: %w", i, err)
		}
	}
	return nil
}
