package evaluator

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"loan-monitor/internal/models"
	"loan-monitor/internal/reliability"
	"loan-monitor/internal/repository"
)

// RepeatOffenderDetector 屡次爽约用户检测
type RepeatOffenderDetector struct {
	noShows   repository.NoShowRepository
	alerts    AlertSink
	templates AlertTemplates
	logger    *zap.Logger
}

// NewRepeatOffenderDetector 创建屡次爽约检测器
func NewRepeatOffenderDetector(noShows repository.NoShowRepository, alerts AlertSink, logger *zap.Logger) *RepeatOffenderDetector {
	return &RepeatOffenderDetector{
		noShows:   noShows,
		alerts:    alerts,
		templates: DefaultTemplates,
		logger:    logger,
	}
}

func windowStart(now time.Time) time.Time {
	return now.Add(-reliability.RepeatOffenderWindow)
}

func windowDays() int {
	return int(reliability.RepeatOffenderWindow / (24 * time.Hour))
}

// Scan 统计最近 30 天各用户爽约次数，>= 3 次且无未处理报警时新建 repeat_no_show_user 报警
func (d *RepeatOffenderDetector) Scan(ctx context.Context, now time.Time) (*models.ScanResult, error) {
	result := models.NewScanResult(JobRepeatOffender, now)
	since := windowStart(now)

	occurrences, err := d.noShows.ListNoShowOccurrencesSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list no-show occurrences: %w", err)
	}

	counts := make(map[string]int)
	for _, o := range occurrences {
		if o.OccurredAt.After(now) {
			continue
		}
		counts[o.UserID]++
	}
	userIDs := make([]string, 0, len(counts))
	for userID := range counts {
		userIDs = append(userIDs, userID)
	}
	sort.Strings(userIDs)

	result.UsersChecked = len(userIDs)
	result.Scanned = len(occurrences)

	for _, userID := range userIDs {
		count := counts[userID]
		if count < reliability.RepeatOffenderThreshold {
			continue
		}
		outcome, err := d.alerts.Create(ctx, d.buildFact(userID, count, since, now))
		if err != nil {
			d.logger.Error("Failed to create repeat offender alert",
				zap.String("user_id", userID),
				zap.Int("no_show_count", count),
				zap.Error(err),
			)
			result.AddError(userID, err)
			continue
		}
		if outcome.Created {
			result.NewAlerts++
		}
	}

	result.FinishedAt = time.Now()
	d.logger.Info("Repeat offender scan completed",
		zap.Int("users_checked", result.UsersChecked),
		zap.Int("new_alerts", result.NewAlerts),
		zap.Int("errors", len(result.Errors)),
	)
	return result, nil
}

// IsRepeatNoShowOffender 最近 30 天（不含 now 之后）爽约次数是否 >= 3，与 Scan 同一窗口
func (d *RepeatOffenderDetector) IsRepeatNoShowOffender(ctx context.Context, userID string, now time.Time) (bool, error) {
	count, err := d.noShows.CountNoShowOccurrences(ctx, userID, windowStart(now), now)
	if err != nil {
		return false, err
	}
	return count >= reliability.RepeatOffenderThreshold, nil
}

func (d *RepeatOffenderDetector) buildFact(userID string, count int, since, now time.Time) models.AlertFact {
	days := windowDays()
	text := d.templates.RepeatNoShowUser(RepeatOffenderPayload{UserID: userID, Count: count, WindowDays: days})
	return models.AlertFact{
		Type:        models.AlertTypeRepeatNoShowUser,
		Priority:    models.PriorityHigh,
		Title:       text.Title,
		Description: text.Description,
		SourceID:    userID,
		SourceType:  models.SourceTypeUser,
		SourceData: map[string]interface{}{
			"userId":      userID,
			"noShowCount": count,
			"windowDays":  days,
			"windowStart": since.Format(time.RFC3339),
			"windowEnd":   now.Format(time.RFC3339),
		},
		QuickActions: repeatOffenderQuickActions(userID),
	}
}
