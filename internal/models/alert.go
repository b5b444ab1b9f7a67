package models

import (
	"time"
)

// AlertType 报警类型（开放集合）
type AlertType string

const (
	AlertTypeOverdueLoan         AlertType = "overdue_loan"
	AlertTypeNoShowReservation   AlertType = "no_show_reservation"
	AlertTypeRepeatNoShowUser    AlertType = "repeat_no_show_user"
	AlertTypeHighDemandEquipment AlertType = "high_demand_equipment"
	AlertTypeIdleEquipment       AlertType = "idle_equipment"
	AlertTypeLowReliabilityUser  AlertType = "low_reliability_user"
)

// AlertPriority 报警优先级，序号越小越严重
type AlertPriority string

const (
	PriorityCritical AlertPriority = "critical"
	PriorityHigh     AlertPriority = "high"
	PriorityMedium   AlertPriority = "medium"
	PriorityLow      AlertPriority = "low"
)

// Priorities 按严重程度排列（critical 在前）
var Priorities = []AlertPriority{PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow}

// Ordinal 优先级序号：critical=0 ... low=3；未知优先级排在最后
func (p AlertPriority) Ordinal() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	default:
		return len(Priorities)
	}
}

// Valid 是否为已知优先级
func (p AlertPriority) Valid() bool {
	return p.Ordinal() < len(Priorities)
}

// MoreSevereThan 严格比较：p 比 other 更严重
func (p AlertPriority) MoreSevereThan(other AlertPriority) bool {
	return p.Ordinal() < other.Ordinal()
}

// SourceType 报警来源实体类型
type SourceType string

const (
	SourceTypeLoan        SourceType = "loan"
	SourceTypeReservation SourceType = "reservation"
	SourceTypeEquipment   SourceType = "equipment"
	SourceTypeUser        SourceType = "user"
)

// Valid 是否为已知来源类型
func (s SourceType) Valid() bool {
	switch s {
	case SourceTypeLoan, SourceTypeReservation, SourceTypeEquipment, SourceTypeUser:
		return true
	}
	return false
}

// QuickAction 快捷处理动作
type QuickAction struct {
	ID     string                 `json:"id"`
	Label  string                 `json:"label"`
	Action string                 `json:"action"`
	Params map[string]interface{} `json:"params,omitempty"`
}

// Alert 报警（对应 alerts 表）
// 同一 (source_id, type) 最多存在一条未处理的报警
type Alert struct {
	ID             string                 `json:"id"`
	Type           AlertType              `json:"type"`
	Priority       AlertPriority          `json:"priority"`
	Title          string                 `json:"title"`
	Description    string                 `json:"description"`
	SourceID       string                 `json:"sourceId"`
	SourceType     SourceType             `json:"sourceType"`
	SourceData     map[string]interface{} `json:"sourceData"`
	QuickActions   []QuickAction          `json:"quickActions"`
	IsResolved     bool                   `json:"isResolved"`
	ResolvedAt     *time.Time             `json:"resolvedAt,omitempty"`
	ResolvedBy     *string                `json:"resolvedBy,omitempty"`
	ResolvedAction *string                `json:"resolvedAction,omitempty"`
	CreatedAt      time.Time              `json:"createdAt"`
	UpdatedAt      time.Time              `json:"updatedAt"`
}

// AlertFact 探测器产出的候选报警
type AlertFact struct {
	Type         AlertType
	Priority     AlertPriority
	Title        string
	Description  string
	SourceID     string
	SourceType   SourceType
	SourceData   map[string]interface{}
	QuickActions []QuickAction
}

// AlertFilters 活跃报警查询条件
type AlertFilters struct {
	Type     *AlertType
	Priority *AlertPriority
	// Resolved 为 nil 表示不过滤
	Resolved *bool
	// ByPriority 先按优先级（critical 在前）再按 createdAt 倒序；Limit 在排序后截取
	ByPriority bool
	Limit      int
}

// CreateOutcome 创建结果
// 已存在未处理报警时 Created 为 false，Escalated 表示本次是否提升了优先级
type CreateOutcome struct {
	Alert     *Alert
	Created   bool
	Escalated bool
}

// ResolveOutcome 处理结果；AuditErr 非空表示审计日志写入失败（处理本身已生效）
type ResolveOutcome struct {
	Alert    *Alert
	AuditErr error
}

// AlertEscalation 升级时写入的新快照
type AlertEscalation struct {
	Priority    AlertPriority
	Title       string
	Description string
	SourceData  map[string]interface{}
}

// AlertResolution 处理结果
type AlertResolution struct {
	ResolvedBy     string
	ResolvedAction string
	ResolvedAt     time.Time
}

// AlertAuditLogEntry 报警处理审计记录（只写一次，不更新不删除）
type AlertAuditLogEntry struct {
	ID             string        `json:"id"`
	AlertID        string        `json:"alertId"`
	AlertType      AlertType     `json:"alertType"`
	AlertPriority  AlertPriority `json:"alertPriority"`
	AlertTitle     string        `json:"alertTitle"`
	SourceID       string        `json:"sourceId"`
	SourceType     SourceType    `json:"sourceType"`
	ResolvedBy     string        `json:"resolvedBy"`
	ResolvedAction string        `json:"resolvedAction"`
	ResolvedAt     time.Time     `json:"resolvedAt"`
	CreatedAt      time.Time     `json:"createdAt"`
}

// AlertStats 报警统计
type AlertStats struct {
	Total             int                   `json:"total"`
	Resolved          int                   `json:"resolved"`
	Pending           int                   `json:"pending"`
	PendingByPriority map[AlertPriority]int `json:"pendingByPriority"`
	ByType            map[AlertType]int     `json:"byType"`
	ResolvedToday     int                   `json:"resolvedToday"`
	ResolvedThisWeek  int                   `json:"resolvedThisWeek"`
}

// NewAlertStats 返回各优先级计数为 0 的统计
func NewAlertStats() AlertStats {
	stats := AlertStats{
		PendingByPriority: make(map[AlertPriority]int, len(Priorities)),
		ByType:            make(map[AlertType]int),
	}
	for _, p := range Priorities {
		stats.PendingByPriority[p] = 0
	}
	return stats
}
