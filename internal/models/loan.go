package models

import (
	"time"
)

// 借用状态
const (
	LoanStatusPending   = "pending"
	LoanStatusApproved  = "approved"
	LoanStatusRejected  = "rejected"
	LoanStatusBorrowed  = "borrowed"
	LoanStatusReturned  = "returned"
	LoanStatusOverdue   = "overdue"
	LoanStatusCancelled = "cancelled"
)

// 预约状态
const (
	ReservationStatusPending   = "pending"
	ReservationStatusApproved  = "approved"
	ReservationStatusReady     = "ready"
	ReservationStatusCompleted = "completed"
	ReservationStatusCancelled = "cancelled"
	ReservationStatusNoShow    = "no_show"
	ReservationStatusRejected  = "rejected"
)

// Loan 设备借用记录
type Loan struct {
	ID                 string     `json:"id"`
	UserID             string     `json:"userId"`
	UserName           string     `json:"userName,omitempty"`
	EquipmentID        string     `json:"equipmentId"`
	EquipmentName      string     `json:"equipmentName,omitempty"`
	Status             string     `json:"status"`
	CreatedAt          time.Time  `json:"createdAt"`
	ApprovedAt         *time.Time `json:"approvedAt,omitempty"`
	RejectedAt         *time.Time `json:"rejectedAt,omitempty"`
	BorrowedAt         *time.Time `json:"borrowedAt,omitempty"`
	ExpectedReturnDate *time.Time `json:"expectedReturnDate,omitempty"`
	ActualReturnDate   *time.Time `json:"actualReturnDate,omitempty"`
}

// Reservation 设备预约记录
type Reservation struct {
	ID            string     `json:"id"`
	UserID        string     `json:"userId"`
	UserName      string     `json:"userName,omitempty"`
	EquipmentID   string     `json:"equipmentId"`
	EquipmentName string     `json:"equipmentName,omitempty"`
	Status        string     `json:"status"`
	IsNoShow      bool       `json:"isNoShow"`
	StartTime     time.Time  `json:"startTime"`
	EndTime       time.Time  `json:"endTime"`
	CreatedAt     time.Time  `json:"createdAt"`
	ApprovedAt    *time.Time `json:"approvedAt,omitempty"`
	CancelledAt   *time.Time `json:"cancelledAt,omitempty"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
	NoShowAt      *time.Time `json:"noShowAt,omitempty"`
}

// Equipment 设备
type Equipment struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category,omitempty"`
	Status   string `json:"status"`
}

// UserNoShowOccurrence 用户爽约记录（只追加）
// ID 与产生它的 no_show_reservation 报警 ID 相同，重复追加为幂等
type UserNoShowOccurrence struct {
	ID            string    `json:"id"`
	UserID        string    `json:"userId"`
	ReservationID string    `json:"reservationId,omitempty"`
	OccurredAt    time.Time `json:"occurredAt"`
}

// LoanTimestampField 借用记录上可做区间查询的时间字段
type LoanTimestampField string

const (
	LoanCreatedAt        LoanTimestampField = "created_at"
	LoanApprovedAt       LoanTimestampField = "approved_at"
	LoanRejectedAt       LoanTimestampField = "rejected_at"
	LoanBorrowedAt       LoanTimestampField = "borrowed_at"
	LoanActualReturnDate LoanTimestampField = "actual_return_date"
	LoanExpectedReturn   LoanTimestampField = "expected_return_date"
)

// Timestamp 读取对应字段
func (l *Loan) Timestamp(field LoanTimestampField) *time.Time {
	switch field {
	case LoanCreatedAt:
		t := l.CreatedAt
		return &t
	case LoanApprovedAt:
		return l.ApprovedAt
	case LoanRejectedAt:
		return l.RejectedAt
	case LoanBorrowedAt:
		return l.BorrowedAt
	case LoanActualReturnDate:
		return l.ActualReturnDate
	case LoanExpectedReturn:
		return l.ExpectedReturnDate
	}
	return nil
}

// ReservationTimestampField 预约记录上可做区间查询的时间字段
type ReservationTimestampField string

const (
	ReservationCreatedAt   ReservationTimestampField = "created_at"
	ReservationApprovedAt  ReservationTimestampField = "approved_at"
	ReservationCancelledAt ReservationTimestampField = "cancelled_at"
	ReservationCompletedAt ReservationTimestampField = "completed_at"
	ReservationNoShowAt    ReservationTimestampField = "no_show_at"
	ReservationStartTime   ReservationTimestampField = "start_time"
)

// Timestamp 读取对应字段
func (r *Reservation) Timestamp(field ReservationTimestampField) *time.Time {
	switch field {
	case ReservationCreatedAt:
		t := r.CreatedAt
		return &t
	case ReservationApprovedAt:
		return r.ApprovedAt
	case ReservationCancelledAt:
		return r.CancelledAt
	case ReservationCompletedAt:
		return r.CompletedAt
	case ReservationNoShowAt:
		return r.NoShowAt
	case ReservationStartTime:
		t := r.StartTime
		return &t
	}
	return nil
}
