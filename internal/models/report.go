package models

import (
	"encoding/json"
	"time"
)

// ReportType 报告类型
type ReportType string

const (
	ReportTypeDailySummary      ReportType = "daily_summary"
	ReportTypeWeeklyUtilization ReportType = "weekly_utilization"
)

// Valid 是否为已知报告类型
func (t ReportType) Valid() bool {
	return t == ReportTypeDailySummary || t == ReportTypeWeeklyUtilization
}

// ReportSnapshot 周期报告快照，(report_type, period) 唯一
type ReportSnapshot struct {
	ID            string          `json:"id"`
	ReportType    ReportType      `json:"reportType"`
	Period        string          `json:"period"`
	Data          json.RawMessage `json:"data"`
	GeneratedAt   time.Time       `json:"generatedAt"`
	ViewedBy      []string        `json:"viewedBy"`
	DownloadCount int             `json:"downloadCount"`
}

// ReportID 报告复合键：reportType_period
func ReportID(reportType ReportType, period string) string {
	return string(reportType) + "_" + period
}

// ReportFilters 报告历史查询条件
type ReportFilters struct {
	ReportType *ReportType
	// GeneratedAfter 为 nil 表示不限
	GeneratedAfter *time.Time
}

// ============================================
// 日报数据
// ============================================

// LoanActivity 借用状态流转计数
type LoanActivity struct {
	New      int `json:"new"`
	Approved int `json:"approved"`
	Rejected int `json:"rejected"`
	Borrowed int `json:"borrowed"`
	Returned int `json:"returned"`
	Overdue  int `json:"overdue"`
}

// ReservationActivity 预约状态流转计数
type ReservationActivity struct {
	New       int `json:"new"`
	Approved  int `json:"approved"`
	Cancelled int `json:"cancelled"`
	Completed int `json:"completed"`
	NoShow    int `json:"noShow"`
}

// OverdueSummary 逾期汇总
type OverdueSummary struct {
	Count            int                   `json:"count"`
	ByPriority       map[AlertPriority]int `json:"byPriority"`
	TotalDaysOverdue int                   `json:"totalDaysOverdue"`
}

// NewOverdueSummary 返回零值汇总
func NewOverdueSummary() OverdueSummary {
	s := OverdueSummary{ByPriority: make(map[AlertPriority]int, 3)}
	for _, p := range []AlertPriority{PriorityCritical, PriorityHigh, PriorityMedium} {
		s.ByPriority[p] = 0
	}
	return s
}

// DailySummaryData 日报数据
type DailySummaryData struct {
	Date         string              `json:"date"`
	RangeStart   time.Time           `json:"rangeStart"`
	RangeEnd     time.Time           `json:"rangeEnd"`
	Loans        LoanActivity        `json:"loans"`
	Reservations ReservationActivity `json:"reservations"`
	Alerts       AlertStats          `json:"alerts"`
	Overdue      OverdueSummary      `json:"overdue"`
	Warnings     []string            `json:"warnings,omitempty"`
}

// ============================================
// 周报数据
// ============================================

// EquipmentUsage 单台设备的周使用情况
type EquipmentUsage struct {
	EquipmentID     string  `json:"equipmentId"`
	EquipmentName   string  `json:"equipmentName"`
	LoanCount       int     `json:"loanCount"`
	DaysInUse       int     `json:"daysInUse"`
	UtilizationRate float64 `json:"utilizationRate"`
}

// EquipmentUtilizationSummary 设备利用率汇总
type EquipmentUtilizationSummary struct {
	TotalEquipment     int              `json:"totalEquipment"`
	InUse              int              `json:"inUse"`
	AverageUtilization float64          `json:"averageUtilization"`
	MostUsed           []EquipmentUsage `json:"mostUsed"`
	Idle               []EquipmentUsage `json:"idle"`
}

// UserRanking 用户排行项
type UserRanking struct {
	UserID           string `json:"userId"`
	UserName         string `json:"userName,omitempty"`
	LoanCount        int    `json:"loanCount"`
	ReliabilityScore int    `json:"reliabilityScore"`
}

// UserReliabilitySummary 用户可靠性汇总
type UserReliabilitySummary struct {
	TotalUsers       int                    `json:"totalUsers"`
	AverageScore     float64                `json:"averageScore"`
	ByClassification map[Classification]int `json:"byClassification"`
	FlaggedUsers     int                    `json:"flaggedUsers"`
	RepeatOffenders  int                    `json:"repeatOffenders"`
}

// WeeklyLoanStatistics 周借用统计
type WeeklyLoanStatistics struct {
	Total                      int            `json:"total"`
	ByStatus                   map[string]int `json:"byStatus"`
	ByDay                      map[string]int `json:"byDay"`
	AverageProcessingTimeHours float64        `json:"averageProcessingTimeHours"`
}

// WeeklyReservationStatistics 周预约统计
type WeeklyReservationStatistics struct {
	Total      int            `json:"total"`
	ByStatus   map[string]int `json:"byStatus"`
	ByDay      map[string]int `json:"byDay"`
	NoShowRate float64        `json:"noShowRate"`
}

// WeeklyUtilizationData 周报数据
type WeeklyUtilizationData struct {
	Week            string                      `json:"week"`
	RangeStart      time.Time                   `json:"rangeStart"`
	RangeEnd        time.Time                   `json:"rangeEnd"`
	Equipment       EquipmentUtilizationSummary `json:"equipment"`
	Users           UserReliabilitySummary      `json:"users"`
	TopBorrowers    []UserRanking               `json:"topBorrowers"`
	MostReliable    []UserRanking               `json:"mostReliable"`
	LoanStats       WeeklyLoanStatistics        `json:"loanStats"`
	ReservationStat WeeklyReservationStatistics `json:"reservationStats"`
	Warnings        []string                    `json:"warnings,omitempty"`
}
