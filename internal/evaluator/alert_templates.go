package evaluator

import (
	"fmt"
	"time"

	"loan-monitor/internal/models"
)

// AlertText 报警标题与描述
type AlertText struct {
	Title       string
	Description string
}

// OverduePayload 逾期报警模板参数
type OverduePayload struct {
	Loan        *models.Loan
	DaysOverdue int
	DueDate     time.Time
}

// NoShowPayload 爽约报警模板参数
type NoShowPayload struct {
	Reservation *models.Reservation
	GracePeriod time.Duration
}

// RepeatOffenderPayload 屡次爽约报警模板参数
type RepeatOffenderPayload struct {
	UserID     string
	Count      int
	WindowDays int
}

// AlertTemplates 按报警类型区分的文案模板，每种类型接收各自的参数类型
type AlertTemplates struct {
	OverdueLoan       func(OverduePayload) AlertText
	NoShowReservation func(NoShowPayload) AlertText
	RepeatNoShowUser  func(RepeatOffenderPayload) AlertText
}

// DefaultTemplates 默认文案
var DefaultTemplates = AlertTemplates{
	OverdueLoan:       overdueText,
	NoShowReservation: noShowText,
	RepeatNoShowUser:  repeatOffenderText,
}

func overdueText(p OverduePayload) AlertText {
	equipment := displayName(p.Loan.EquipmentName, p.Loan.EquipmentID)
	user := displayName(p.Loan.UserName, p.Loan.UserID)
	due := p.DueDate.Format(models.DayPeriodLayout)

	switch p.DaysOverdue {
	case 0:
		return AlertText{
			Title:       fmt.Sprintf("Loan due today: %s", equipment),
			Description: fmt.Sprintf("%s is expected to return %s today (%s).", user, equipment, due),
		}
	case 1:
		return AlertText{
			Title:       fmt.Sprintf("Loan overdue by 1 day: %s", equipment),
			Description: fmt.Sprintf("%s has not returned %s, due %s.", user, equipment, due),
		}
	default:
		return AlertText{
			Title:       fmt.Sprintf("Loan overdue by %d days: %s", p.DaysOverdue, equipment),
			Description: fmt.Sprintf("%s has not returned %s, due %s.", user, equipment, due),
		}
	}
}

func noShowText(p NoShowPayload) AlertText {
	r := p.Reservation
	equipment := displayName(r.EquipmentName, r.EquipmentID)
	user := displayName(r.UserName, r.UserID)
	return AlertText{
		Title: fmt.Sprintf("Missed pickup: %s", equipment),
		Description: fmt.Sprintf("%s did not collect %s within %s of the reservation start (%s).",
			user, equipment, formatGrace(p.GracePeriod), r.StartTime.Format(time.RFC3339)),
	}
}

func repeatOffenderText(p RepeatOffenderPayload) AlertText {
	return AlertText{
		Title:       fmt.Sprintf("Repeat no-show: %d missed pickups in %d days", p.Count, p.WindowDays),
		Description: fmt.Sprintf("User %s missed %d reservation pickups in the last %d days.", p.UserID, p.Count, p.WindowDays),
	}
}

func displayName(name, id string) string {
	if name != "" {
		return name
	}
	return id
}

func formatGrace(d time.Duration) string {
	if d%time.Hour == 0 {
		h := int(d / time.Hour)
		if h == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", h)
	}
	return d.String()
}

// ============================================
// 快捷操作
// ============================================

func overdueQuickActions(loan *models.Loan) []models.QuickAction {
	params := map[string]interface{}{"loanId": loan.ID, "userId": loan.UserID}
	return []models.QuickAction{
		{ID: "send_reminder", Label: "Send reminder", Action: "send_reminder", Params: params},
		{ID: "mark_contacted", Label: "Mark as contacted", Action: "mark_contacted", Params: params},
		{ID: "dismiss", Label: "Dismiss", Action: "dismiss"},
	}
}

func noShowQuickActions(r *models.Reservation) []models.QuickAction {
	params := map[string]interface{}{"reservationId": r.ID, "userId": r.UserID}
	return []models.QuickAction{
		{ID: "cancel_reservation", Label: "Cancel reservation", Action: "cancel_reservation", Params: params},
		{ID: "extend_pickup", Label: "Extend pickup window", Action: "extend_pickup", Params: params},
		{ID: "contact_user", Label: "Contact user", Action: "contact_user", Params: map[string]interface{}{"userId": r.UserID}},
		{ID: "dismiss", Label: "Dismiss", Action: "dismiss"},
	}
}

func repeatOffenderQuickActions(userID string) []models.QuickAction {
	params := map[string]interface{}{"userId": userID}
	return []models.QuickAction{
		{ID: "flag_user", Label: "Flag user", Action: "flag_user", Params: params},
		{ID: "contact_user", Label: "Contact user", Action: "contact_user", Params: params},
		{ID: "dismiss", Label: "Dismiss", Action: "dismiss"},
	}
}
