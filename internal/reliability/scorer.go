// Package reliability 用户可靠性评分（纯函数，无 I/O）
package reliability

import (
	"math"
	"time"

	"loan-monitor/internal/models"
)

const (
	// OnTimeWeight 按时归还率权重
	OnTimeWeight = 0.6
	// NoShowWeight 未爽约率权重
	NoShowWeight = 0.4

	// FlagThreshold 低于此分数标记为不可靠用户
	FlagThreshold = 50

	// RepeatOffenderThreshold 窗口期内爽约次数达到此值视为屡次爽约
	RepeatOffenderThreshold = 3
	// RepeatOffenderWindow 屡次爽约统计窗口
	RepeatOffenderWindow = 30 * 24 * time.Hour
)

// CalculateReliabilityScore 计算 0-100 的整数可靠性分数
// 非有限输入按 0 处理，输入截断到 [0,1]
func CalculateReliabilityScore(onTimeReturnRate, noShowRate float64) int {
	onTime := clamp01(sanitize(onTimeReturnRate))
	noShow := clamp01(sanitize(noShowRate))

	score := math.Round((onTime*OnTimeWeight + (1-noShow)*NoShowWeight) * 100)
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return int(score)
}

// ShouldFlagUser 分数严格小于 50 时标记；非有限值返回 false
func ShouldFlagUser(score float64) bool {
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return false
	}
	return score < FlagThreshold
}

// Classify 分数等级
func Classify(score int) models.Classification {
	switch {
	case score >= 90:
		return models.ClassificationExcellent
	case score >= 70:
		return models.ClassificationGood
	case score >= 50:
		return models.ClassificationFair
	default:
		return models.ClassificationPoor
	}
}

// CalculateLoanStatistics 借用归还统计
// 只统计 returned / overdue；returned 在预计归还日（loc 时区）当天结束前归还即为按时
// loc 为 nil 时按 UTC
func CalculateLoanStatistics(loans []*models.Loan, loc *time.Location) models.LoanStatistics {
	if loc == nil {
		loc = time.UTC
	}
	stats := models.LoanStatistics{}
	for _, loan := range loans {
		if loan == nil {
			continue
		}
		switch loan.Status {
		case models.LoanStatusReturned:
			stats.TotalLoans++
			if returnedOnTime(loan, loc) {
				stats.OnTimeReturns++
			} else {
				stats.LateReturns++
			}
		case models.LoanStatusOverdue:
			stats.TotalLoans++
			stats.LateReturns++
		}
	}

	if stats.TotalLoans == 0 {
		stats.OnTimeReturnRate = 1
	} else {
		stats.OnTimeReturnRate = float64(stats.OnTimeReturns) / float64(stats.TotalLoans)
	}
	return stats
}

// CalculateReservationStatistics 预约爽约统计
func CalculateReservationStatistics(reservations []*models.Reservation) models.ReservationStatistics {
	stats := models.ReservationStatistics{}
	for _, r := range reservations {
		if r == nil || !countedReservationStatus(r.Status) {
			continue
		}
		stats.TotalReservations++
		if r.Status == models.ReservationStatusNoShow || r.IsNoShow {
			stats.NoShows++
		}
	}

	if stats.TotalReservations > 0 {
		stats.NoShowRate = float64(stats.NoShows) / float64(stats.TotalReservations)
	}
	return stats
}

// BuildProfile 组装用户可靠性画像
func BuildProfile(userID string, loans []*models.Loan, reservations []*models.Reservation, recentNoShows int, loc *time.Location) models.ReliabilityProfile {
	loanStats := CalculateLoanStatistics(loans, loc)
	reservationStats := CalculateReservationStatistics(reservations)
	score := CalculateReliabilityScore(loanStats.OnTimeReturnRate, reservationStats.NoShowRate)

	return models.ReliabilityProfile{
		UserID:                userID,
		LoanStatistics:        loanStats,
		ReservationStatistics: reservationStats,
		ReliabilityScore:      score,
		Classification:        Classify(score),
		RecentNoShows:         recentNoShows,
		IsRepeatOffender:      recentNoShows >= RepeatOffenderThreshold,
		IsFlagged:             ShouldFlagUser(float64(score)),
	}
}

func returnedOnTime(loan *models.Loan, loc *time.Location) bool {
	if loan.ActualReturnDate == nil || loan.ExpectedReturnDate == nil {
		return true
	}
	deadline := models.EndOfDay(loan.ExpectedReturnDate.In(loc))
	return !loan.ActualReturnDate.After(deadline)
}

func countedReservationStatus(status string) bool {
	switch status {
	case models.ReservationStatusApproved,
		models.ReservationStatusReady,
		models.ReservationStatusCompleted,
		models.ReservationStatusCancelled,
		models.ReservationStatusNoShow:
		return true
	}
	return false
}

func sanitize(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
