package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"loan-monitor/internal/models"
	"loan-monitor/internal/reliability"
	"loan-monitor/internal/repository"
)

// ReliabilityService 用户可靠性画像（按需计算）
type ReliabilityService struct {
	loans        repository.LoansRepository
	reservations repository.ReservationsRepository
	noShows      repository.NoShowRepository
	loc          *time.Location
	logger       *zap.Logger
}

// NewReliabilityService 创建可靠性服务；loc 决定预计归还日的日界
func NewReliabilityService(store *repository.Store, loc *time.Location, logger *zap.Logger) *ReliabilityService {
	if loc == nil {
		loc = time.UTC
	}
	return &ReliabilityService{
		loans:        store.Loans,
		reservations: store.Reservations,
		noShows:      store.NoShows,
		loc:          loc,
		logger:       logger,
	}
}

// GetUserReliabilityProfile 计算用户画像；用户无任何借用、预约与爽约记录时返回 ErrNotFound
func (s *ReliabilityService) GetUserReliabilityProfile(ctx context.Context, userID string, now time.Time) (*models.ReliabilityProfile, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", models.ErrValidation)
	}

	loans, err := s.loans.ListLoansByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list user loans: %w", err)
	}
	reservations, err := s.reservations.ListReservationsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list user reservations: %w", err)
	}
	recent, err := s.noShows.CountNoShowOccurrences(ctx, userID, now.Add(-reliability.RepeatOffenderWindow), now)
	if err != nil {
		return nil, fmt.Errorf("failed to count no-show occurrences: %w", err)
	}
	if len(loans) == 0 && len(reservations) == 0 && recent == 0 {
		return nil, fmt.Errorf("user %s: %w", userID, models.ErrNotFound)
	}

	profile := reliability.BuildProfile(userID, loans, reservations, recent, s.loc)
	if profile.IsFlagged {
		s.logger.Debug("User below reliability threshold",
			zap.String("user_id", userID),
			zap.Int("score", profile.ReliabilityScore),
		)
	}
	return &profile, nil
}
