package evaluator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"loan-monitor/internal/models"
	"loan-monitor/internal/repository"
)

var errMissingDueDate = errors.New("loan has no expected return date")

// OverdueDetector 逾期借用检测
type OverdueDetector struct {
	loans     repository.LoansRepository
	alerts    AlertSink
	templates AlertTemplates
	loc       *time.Location
	logger    *zap.Logger
}

// NewOverdueDetector 创建逾期检测器；loc 为计算日历日所用时区
func NewOverdueDetector(loans repository.LoansRepository, alerts AlertSink, loc *time.Location, logger *zap.Logger) *OverdueDetector {
	return &OverdueDetector{
		loans:     loans,
		alerts:    alerts,
		templates: DefaultTemplates,
		loc:       locationOrUTC(loc),
		logger:    logger,
	}
}

// PriorityForDaysOverdue 逾期天数 → 优先级
//   - >= 3 天：critical
//   - 1~2 天：high
//   - 当天到期：medium
func PriorityForDaysOverdue(days int) models.AlertPriority {
	switch {
	case days >= 3:
		return models.PriorityCritical
	case days >= 1:
		return models.PriorityHigh
	default:
		return models.PriorityMedium
	}
}

// DaysOverdue 按日历日计算逾期天数（负数表示未到期）
func (d *OverdueDetector) DaysOverdue(loan *models.Loan, now time.Time) (int, error) {
	if loan.ExpectedReturnDate == nil || loan.ExpectedReturnDate.IsZero() {
		return 0, errMissingDueDate
	}
	return models.CalendarDaysBetween(loan.ExpectedReturnDate.In(d.loc), now.In(d.loc)), nil
}

// Scan 扫描借出中/已逾期的借用，新建或升级 overdue_loan 报警
func (d *OverdueDetector) Scan(ctx context.Context, now time.Time) (*models.ScanResult, error) {
	result := models.NewScanResult(JobOverdue, now)

	loans, err := d.loans.ListLoansByStatus(ctx, models.LoanStatusBorrowed, models.LoanStatusOverdue)
	if err != nil {
		return nil, fmt.Errorf("failed to list active loans: %w", err)
	}

	for _, loan := range loans {
		result.Scanned++
		if err := d.processLoan(ctx, loan, now, result); err != nil {
			d.logger.Error("Failed to process overdue loan",
				zap.String("loan_id", loan.ID),
				zap.Error(err),
			)
			result.AddError(loan.ID, err)
		}
	}

	result.FinishedAt = time.Now()
	d.logger.Info("Overdue scan completed",
		zap.Int("scanned", result.Scanned),
		zap.Int("new_alerts", result.NewAlerts),
		zap.Int("escalated_alerts", result.EscalatedAlerts),
		zap.Int("errors", len(result.Errors)),
	)
	return result, nil
}

func (d *OverdueDetector) processLoan(ctx context.Context, loan *models.Loan, now time.Time, result *models.ScanResult) error {
	days, err := d.DaysOverdue(loan, now)
	if err != nil {
		return err
	}
	if days < 0 {
		return nil
	}

	outcome, err := d.alerts.Create(ctx, d.buildFact(loan, days))
	if err != nil {
		return err
	}
	if outcome.Created {
		result.NewAlerts++
	}
	if outcome.Escalated {
		result.EscalatedAlerts++
	}
	return nil
}

func (d *OverdueDetector) buildFact(loan *models.Loan, days int) models.AlertFact {
	due := loan.ExpectedReturnDate.In(d.loc)
	text := d.templates.OverdueLoan(OverduePayload{Loan: loan, DaysOverdue: days, DueDate: due})
	return models.AlertFact{
		Type:        models.AlertTypeOverdueLoan,
		Priority:    PriorityForDaysOverdue(days),
		Title:       text.Title,
		Description: text.Description,
		SourceID:    loan.ID,
		SourceType:  models.SourceTypeLoan,
		SourceData: map[string]interface{}{
			"loanId":             loan.ID,
			"userId":             loan.UserID,
			"userName":           loan.UserName,
			"equipmentId":        loan.EquipmentID,
			"equipmentName":      loan.EquipmentName,
			"status":             loan.Status,
			"expectedReturnDate": due.Format(time.RFC3339),
			"daysOverdue":        days,
		},
		QuickActions: overdueQuickActions(loan),
	}
}

// Summary 当前逾期汇总（日报使用）
func (d *OverdueDetector) Summary(ctx context.Context, now time.Time) (models.OverdueSummary, error) {
	summary := models.NewOverdueSummary()

	loans, err := d.loans.ListLoansByStatus(ctx, models.LoanStatusBorrowed, models.LoanStatusOverdue)
	if err != nil {
		return summary, fmt.Errorf("failed to list active loans: %w", err)
	}
	for _, loan := range loans {
		days, err := d.DaysOverdue(loan, now)
		if err != nil || days < 0 {
			continue
		}
		summary.Count++
		summary.ByPriority[PriorityForDaysOverdue(days)]++
		summary.TotalDaysOverdue += days
	}
	return summary, nil
}
