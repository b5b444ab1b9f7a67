package models

// Classification 可靠性等级
type Classification string

const (
	ClassificationExcellent Classification = "excellent"
	ClassificationGood      Classification = "good"
	ClassificationFair      Classification = "fair"
	ClassificationPoor      Classification = "poor"
)

// Classifications 从高到低
var Classifications = []Classification{
	ClassificationExcellent,
	ClassificationGood,
	ClassificationFair,
	ClassificationPoor,
}

// LoanStatistics 借用归还统计
type LoanStatistics struct {
	TotalLoans       int     `json:"totalLoans"`
	OnTimeReturns    int     `json:"onTimeReturns"`
	LateReturns      int     `json:"lateReturns"`
	OnTimeReturnRate float64 `json:"onTimeReturnRate"`
}

// ReservationStatistics 预约爽约统计
type ReservationStatistics struct {
	TotalReservations int     `json:"totalReservations"`
	NoShows           int     `json:"noShows"`
	NoShowRate        float64 `json:"noShowRate"`
}

// ReliabilityProfile 用户可靠性画像（按需计算，不落库）
type ReliabilityProfile struct {
	UserID string `json:"userId"`
	LoanStatistics
	ReservationStatistics
	ReliabilityScore int            `json:"reliabilityScore"`
	Classification   Classification `json:"classification"`
	RecentNoShows    int            `json:"recentNoShows"`
	IsRepeatOffender bool           `json:"isRepeatOffender"`
	IsFlagged        bool           `json:"isFlagged"`
}
