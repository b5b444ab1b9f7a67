package repository

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"loan-monitor/internal/models"
)

// toTime 把文档存储中的多种时间编码统一转换为 time.Time
// 支持：time.Time / *time.Time、RFC3339 字符串、纪元秒或毫秒、{seconds, nanoseconds} 对象
func toTime(v interface{}) (time.Time, bool) {
	switch val := v.(type) {
	case nil:
		return time.Time{}, false
	case time.Time:
		return val, !val.IsZero()
	case *time.Time:
		if val == nil {
			return time.Time{}, false
		}
		return *val, !val.IsZero()
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return time.Time{}, false
		}
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", models.DayPeriodLayout} {
			if t, err := time.Parse(layout, s); err == nil {
				return t, true
			}
		}
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			return epochToTime(n)
		}
		return time.Time{}, false
	case float64:
		return epochToTime(val)
	case int64:
		return epochToTime(float64(val))
	case int:
		return epochToTime(float64(val))
	case json.Number:
		n, err := val.Float64()
		if err != nil {
			return time.Time{}, false
		}
		return epochToTime(n)
	case map[string]interface{}:
		secs, ok := firstNumber(val, "seconds", "_seconds")
		if !ok {
			return time.Time{}, false
		}
		nanos, _ := firstNumber(val, "nanoseconds", "_nanoseconds")
		return time.Unix(int64(secs), int64(nanos)).UTC(), true
	}
	return time.Time{}, false
}

// epochToTime 大于 1e12 视为毫秒
func epochToTime(n float64) (time.Time, bool) {
	if math.IsNaN(n) || math.IsInf(n, 0) || n <= 0 {
		return time.Time{}, false
	}
	if n > 1e12 {
		return time.UnixMilli(int64(n)).UTC(), true
	}
	sec, frac := math.Modf(n)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC(), true
}

func firstNumber(m map[string]interface{}, keys ...string) (float64, bool) {
	for _, k := range keys {
		switch v := m[k].(type) {
		case float64:
			return v, true
		case json.Number:
			if n, err := v.Float64(); err == nil {
				return n, true
			}
		case int64:
			return float64(v), true
		case int:
			return float64(v), true
		}
	}
	return 0, false
}

func timePtr(v interface{}) *time.Time {
	if t, ok := toTime(v); ok {
		return &t
	}
	return nil
}

func str(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return ""
	default:
		return fmt.Sprint(val)
	}
}

// Document 文档存储导出的原始文档
type Document map[string]interface{}

// LoanFromDocument 文档 → Loan
func LoanFromDocument(id string, d Document) (*models.Loan, error) {
	if id == "" {
		id = str(d["id"])
	}
	if id == "" {
		return nil, fmt.Errorf("%w: loan document without id", models.ErrValidation)
	}
	loan := &models.Loan{
		ID:                 id,
		UserID:             str(d["userId"]),
		UserName:           str(d["userName"]),
		EquipmentID:        str(d["equipmentId"]),
		EquipmentName:      str(d["equipmentName"]),
		Status:             str(d["status"]),
		ApprovedAt:         timePtr(d["approvedAt"]),
		RejectedAt:         timePtr(d["rejectedAt"]),
		BorrowedAt:         timePtr(firstPresent(d, "borrowedAt", "pickedUpAt")),
		ExpectedReturnDate: timePtr(d["expectedReturnDate"]),
		ActualReturnDate:   timePtr(d["actualReturnDate"]),
	}
	if t, ok := toTime(d["createdAt"]); ok {
		loan.CreatedAt = t
	}
	return loan, nil
}

// ReservationFromDocument 文档 → Reservation
func ReservationFromDocument(id string, d Document) (*models.Reservation, error) {
	if id == "" {
		id = str(d["id"])
	}
	if id == "" {
		return nil, fmt.Errorf("%w: reservation document without id", models.ErrValidation)
	}
	r := &models.Reservation{
		ID:            id,
		UserID:        str(d["userId"]),
		UserName:      str(d["userName"]),
		EquipmentID:   str(d["equipmentId"]),
		EquipmentName: str(d["equipmentName"]),
		Status:        str(d["status"]),
		ApprovedAt:    timePtr(d["approvedAt"]),
		CancelledAt:   timePtr(d["cancelledAt"]),
		CompletedAt:   timePtr(d["completedAt"]),
		NoShowAt:      timePtr(d["noShowAt"]),
	}
	if b, ok := d["isNoShow"].(bool); ok {
		r.IsNoShow = b
	}
	if t, ok := toTime(d["startTime"]); ok {
		r.StartTime = t
	}
	if t, ok := toTime(d["endTime"]); ok {
		r.EndTime = t
	}
	if t, ok := toTime(d["createdAt"]); ok {
		r.CreatedAt = t
	}
	return r, nil
}

// EquipmentFromDocument 文档 → Equipment
func EquipmentFromDocument(id string, d Document) (*models.Equipment, error) {
	if id == "" {
		id = str(d["id"])
	}
	if id == "" {
		return nil, fmt.Errorf("%w: equipment document without id", models.ErrValidation)
	}
	return &models.Equipment{
		ID:       id,
		Name:     str(d["name"]),
		Category: str(d["category"]),
		Status:   str(d["status"]),
	}, nil
}

func firstPresent(d Document, keys ...string) interface{} {
	for _, k := range keys {
		if v, ok := d[k]; ok && v != nil {
			return v
		}
	}
	return nil
}
