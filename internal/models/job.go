package models

import (
	"encoding/json"
	"time"
)

// JobStatus 任务最近一次执行情况（缓存，供界面显示数据新鲜度）
type JobStatus struct {
	Job           string          `json:"job"`
	LastRunAt     time.Time       `json:"lastRunAt"`
	LastSuccessAt *time.Time      `json:"lastSuccessAt,omitempty"`
	LastError     string          `json:"lastError,omitempty"`
	Result        json.RawMessage `json:"result,omitempty"`
	// Stale 读取时计算：距离上次成功超过两个周期
	Stale bool `json:"stale"`
}
