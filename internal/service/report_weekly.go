package service

import (
	"context"
	"math"
	"sort"
	"time"

	"loan-monitor/internal/models"
	"loan-monitor/internal/reliability"
)

const (
	// topListSize 排行榜条数
	topListSize = 5
	daysPerWeek = 7
)

func emptyEquipmentSummary() models.EquipmentUtilizationSummary {
	return models.EquipmentUtilizationSummary{
		MostUsed: []models.EquipmentUsage{},
		Idle:     []models.EquipmentUsage{},
	}
}

func emptyUserSummary() models.UserReliabilitySummary {
	s := models.UserReliabilitySummary{
		ByClassification: make(map[models.Classification]int, len(models.Classifications)),
	}
	for _, c := range models.Classifications {
		s.ByClassification[c] = 0
	}
	return s
}

// weekDays 周一至周日的日期键
func weekDays(start time.Time) []string {
	days := make([]string, 0, daysPerWeek)
	for i := 0; i < daysPerWeek; i++ {
		days = append(days, models.DayPeriod(start.AddDate(0, 0, i)))
	}
	return days
}

func zeroDayHistogram(start time.Time) map[string]int {
	h := make(map[string]int, daysPerWeek)
	for _, d := range weekDays(start) {
		h[d] = 0
	}
	return h
}

func emptyWeeklyLoanStats(start time.Time) models.WeeklyLoanStatistics {
	return models.WeeklyLoanStatistics{ByStatus: map[string]int{}, ByDay: zeroDayHistogram(start)}
}

func emptyWeeklyReservationStats(start time.Time) models.WeeklyReservationStatistics {
	return models.WeeklyReservationStatistics{ByStatus: map[string]int{}, ByDay: zeroDayHistogram(start)}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// ============================================
// 设备利用率
// ============================================

// equipmentUtilization 按借出区间与本周相交的日历日计算使用天数
func (s *ReportService) equipmentUtilization(ctx context.Context, start, end, asOf time.Time) (models.EquipmentUtilizationSummary, error) {
	summary := emptyEquipmentSummary()

	equipment, err := s.equipment.ListEquipment(ctx)
	if err != nil {
		return summary, err
	}
	loans, err := s.loans.ListAllLoans(ctx)
	if err != nil {
		return summary, err
	}

	type usage struct {
		days  map[int]bool
		loans int
	}
	byEquipment := make(map[string]*usage, len(equipment))
	for _, e := range equipment {
		byEquipment[e.ID] = &usage{days: map[int]bool{}}
	}

	for _, loan := range loans {
		u, ok := byEquipment[loan.EquipmentID]
		if !ok || loan.BorrowedAt == nil {
			continue
		}
		from := *loan.BorrowedAt
		to := asOf
		if loan.ActualReturnDate != nil {
			to = *loan.ActualReturnDate
		}
		if to.Before(start) || from.After(end) || to.Before(from) {
			continue
		}
		if from.Before(start) {
			from = start
		}
		if to.After(end) {
			to = end
		}
		u.loans++
		first := models.CalendarDaysBetween(start, from.In(s.loc))
		last := models.CalendarDaysBetween(start, to.In(s.loc))
		for d := first; d <= last && d < daysPerWeek; d++ {
			if d >= 0 {
				u.days[d] = true
			}
		}
	}

	usages := make([]models.EquipmentUsage, 0, len(equipment))
	var totalRate float64
	for _, e := range equipment {
		u := byEquipment[e.ID]
		rate := round2(float64(len(u.days)) / daysPerWeek)
		item := models.EquipmentUsage{
			EquipmentID:     e.ID,
			EquipmentName:   e.Name,
			LoanCount:       u.loans,
			DaysInUse:       len(u.days),
			UtilizationRate: rate,
		}
		totalRate += rate
		if item.DaysInUse > 0 {
			summary.InUse++
			usages = append(usages, item)
		} else {
			summary.Idle = append(summary.Idle, item)
		}
	}

	summary.TotalEquipment = len(equipment)
	if len(equipment) > 0 {
		summary.AverageUtilization = round2(totalRate / float64(len(equipment)))
	}
	sort.SliceStable(usages, func(i, j int) bool {
		if usages[i].DaysInUse != usages[j].DaysInUse {
			return usages[i].DaysInUse > usages[j].DaysInUse
		}
		if usages[i].LoanCount != usages[j].LoanCount {
			return usages[i].LoanCount > usages[j].LoanCount
		}
		return usages[i].EquipmentID < usages[j].EquipmentID
	})
	if len(usages) > topListSize {
		usages = usages[:topListSize]
	}
	summary.MostUsed = usages
	return summary, nil
}

// ============================================
// 用户可靠性
// ============================================

type userReliabilityResult struct {
	summary      models.UserReliabilitySummary
	topBorrowers []models.UserRanking
	mostReliable []models.UserRanking
}

func (s *ReportService) userReliability(ctx context.Context, start, end, asOf time.Time) (userReliabilityResult, error) {
	result := userReliabilityResult{
		summary:      emptyUserSummary(),
		topBorrowers: []models.UserRanking{},
		mostReliable: []models.UserRanking{},
	}

	loans, err := s.loans.ListAllLoans(ctx)
	if err != nil {
		return result, err
	}
	reservations, err := s.reservations.ListAllReservations(ctx)
	if err != nil {
		return result, err
	}
	occurrences, err := s.noShows.ListNoShowOccurrencesSince(ctx, asOf.Add(-reliability.RepeatOffenderWindow))
	if err != nil {
		return result, err
	}

	type userRecords struct {
		name         string
		loans        []*models.Loan
		reservations []*models.Reservation
		weekLoans    int
		recent       int
	}
	users := make(map[string]*userRecords)
	get := func(userID, name string) *userRecords {
		u, ok := users[userID]
		if !ok {
			u = &userRecords{}
			users[userID] = u
		}
		if u.name == "" {
			u.name = name
		}
		return u
	}
	for _, l := range loans {
		u := get(l.UserID, l.UserName)
		u.loans = append(u.loans, l)
		if !l.CreatedAt.Before(start) && !l.CreatedAt.After(end) {
			u.weekLoans++
		}
	}
	for _, r := range reservations {
		u := get(r.UserID, r.UserName)
		u.reservations = append(u.reservations, r)
	}
	for _, o := range occurrences {
		if o.OccurredAt.After(asOf) {
			continue
		}
		get(o.UserID, "").recent++
	}

	rankings := make([]models.UserRanking, 0, len(users))
	var totalScore int
	for userID, u := range users {
		profile := reliability.BuildProfile(userID, u.loans, u.reservations, u.recent, s.loc)
		totalScore += profile.ReliabilityScore
		result.summary.ByClassification[profile.Classification]++
		if profile.IsFlagged {
			result.summary.FlaggedUsers++
		}
		if profile.IsRepeatOffender {
			result.summary.RepeatOffenders++
		}
		rankings = append(rankings, models.UserRanking{
			UserID:           userID,
			UserName:         u.name,
			LoanCount:        u.weekLoans,
			ReliabilityScore: profile.ReliabilityScore,
		})
	}
	result.summary.TotalUsers = len(users)
	if len(users) > 0 {
		result.summary.AverageScore = round2(float64(totalScore) / float64(len(users)))
	}

	borrowers := make([]models.UserRanking, 0, len(rankings))
	for _, r := range rankings {
		if r.LoanCount > 0 {
			borrowers = append(borrowers, r)
		}
	}
	sort.SliceStable(borrowers, func(i, j int) bool {
		if borrowers[i].LoanCount != borrowers[j].LoanCount {
			return borrowers[i].LoanCount > borrowers[j].LoanCount
		}
		return borrowers[i].UserID < borrowers[j].UserID
	})
	result.topBorrowers = topN(borrowers)

	reliable := append([]models.UserRanking(nil), rankings...)
	sort.SliceStable(reliable, func(i, j int) bool {
		if reliable[i].ReliabilityScore != reliable[j].ReliabilityScore {
			return reliable[i].ReliabilityScore > reliable[j].ReliabilityScore
		}
		if reliable[i].LoanCount != reliable[j].LoanCount {
			return reliable[i].LoanCount > reliable[j].LoanCount
		}
		return reliable[i].UserID < reliable[j].UserID
	})
	result.mostReliable = topN(reliable)
	return result, nil
}

func topN(in []models.UserRanking) []models.UserRanking {
	if len(in) > topListSize {
		in = in[:topListSize]
	}
	return append([]models.UserRanking{}, in...)
}

// ============================================
// 周借用 / 预约统计
// ============================================

// weeklyLoanStatistics 本周新建借用：状态分布、按日分布、平均审批耗时（小时）
func (s *ReportService) weeklyLoanStatistics(ctx context.Context, start, end time.Time) (models.WeeklyLoanStatistics, error) {
	stats := emptyWeeklyLoanStats(start)
	loans, err := s.loans.ListLoansInRange(ctx, models.LoanCreatedAt, start, end)
	if err != nil {
		return stats, err
	}

	var processed int
	var totalHours float64
	for _, l := range loans {
		stats.Total++
		stats.ByStatus[l.Status]++
		stats.ByDay[models.DayPeriod(l.CreatedAt.In(s.loc))]++

		decidedAt := l.ApprovedAt
		if decidedAt == nil {
			decidedAt = l.RejectedAt
		}
		if decidedAt != nil && !decidedAt.Before(l.CreatedAt) {
			processed++
			totalHours += decidedAt.Sub(l.CreatedAt).Hours()
		}
	}
	if processed > 0 {
		stats.AverageProcessingTimeHours = round2(totalHours / float64(processed))
	}
	return stats, nil
}

// weeklyReservationStatistics 本周开始的预约；爽约率 = 爽约 / (完成 + 爽约)
func (s *ReportService) weeklyReservationStatistics(ctx context.Context, start, end time.Time) (models.WeeklyReservationStatistics, error) {
	stats := emptyWeeklyReservationStats(start)
	reservations, err := s.reservations.ListReservationsInRange(ctx, models.ReservationStartTime, start, end)
	if err != nil {
		return stats, err
	}

	var completed, noShows int
	for _, r := range reservations {
		stats.Total++
		stats.ByStatus[r.Status]++
		stats.ByDay[models.DayPeriod(r.StartTime.In(s.loc))]++

		switch {
		case r.Status == models.ReservationStatusNoShow || r.IsNoShow:
			noShows++
		case r.Status == models.ReservationStatusCompleted:
			completed++
		}
	}
	if completed+noShows > 0 {
		stats.NoShowRate = round2(float64(noShows) / float64(completed+noShows))
	}
	return stats, nil
}
