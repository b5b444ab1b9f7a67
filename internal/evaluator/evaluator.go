// Package evaluator 周期扫描：逾期借用、预约爽约、屡次爽约用户
package evaluator

import (
	"context"
	"time"

	"loan-monitor/internal/models"
)

// 任务名（调度与缓存共用）
const (
	JobOverdue        = "overdue"
	JobNoShow         = "no_show"
	JobRepeatOffender = "repeat_offender"
)

// AlertSink 报警写入口（由报警生命周期服务实现）
// 已存在未处理报警时 Create 退化为升级尝试
type AlertSink interface {
	Create(ctx context.Context, fact models.AlertFact) (*models.CreateOutcome, error)
}

// Scanner 单次扫描
type Scanner interface {
	Scan(ctx context.Context, now time.Time) (*models.ScanResult, error)
}

func locationOrUTC(loc *time.Location) *time.Location {
	if loc == nil {
		return time.UTC
	}
	return loc
}
