package models

import "time"

// ScanError 单条记录处理失败（携带来源ID以便人工重试）
type ScanError struct {
	SourceID string `json:"sourceId"`
	Error    string `json:"error"`
}

// ScanResult 一次扫描的汇总
type ScanResult struct {
	Job             string      `json:"job"`
	Scanned         int         `json:"scanned"`
	UsersChecked    int         `json:"usersChecked,omitempty"`
	NewAlerts       int         `json:"newAlerts"`
	EscalatedAlerts int         `json:"escalatedAlerts"`
	Errors          []ScanError `json:"errors"`
	StartedAt       time.Time   `json:"startedAt"`
	FinishedAt      time.Time   `json:"finishedAt"`
}

// NewScanResult 创建空结果
func NewScanResult(job string, startedAt time.Time) *ScanResult {
	return &ScanResult{
		Job:       job,
		Errors:    []ScanError{},
		StartedAt: startedAt,
	}
}

// AddError 记录单条失败
func (r *ScanResult) AddError(sourceID string, err error) {
	r.Errors = append(r.Errors, ScanError{SourceID: sourceID, Error: err.Error()})
}
