package evaluator

import (
	"context"

	"github.com/stretchr/testify/mock"

	"loan-monitor/internal/models"
	"loan-monitor/internal/repository"
)

// MockAlertSink 是 AlertSink 的 mock 实现
type MockAlertSink struct {
	mock.Mock
}

func (m *MockAlertSink) Create(ctx context.Context, fact models.AlertFact) (*models.CreateOutcome, error) {
	args := m.Called(ctx, fact)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.CreateOutcome), args.Error(1)
}

// memorySink 基于内存存储的去重写入（不含审计与指标）
type memorySink struct {
	store *repository.MemoryStore
}

func (s *memorySink) Create(ctx context.Context, fact models.AlertFact) (*models.CreateOutcome, error) {
	existing, err := s.store.FindOpenAlert(ctx, fact.SourceID, fact.Type)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		ok, err := s.store.EscalateAlert(ctx, existing.ID, models.AlertEscalation{
			Priority: fact.Priority, Title: fact.Title, Description: fact.Description, SourceData: fact.SourceData,
		}, existing.CreatedAt)
		if err != nil {
			return nil, err
		}
		return &models.CreateOutcome{Alert: existing, Escalated: ok}, nil
	}
	alert := &models.Alert{
		Type: fact.Type, Priority: fact.Priority, Title: fact.Title, Description: fact.Description,
		SourceID: fact.SourceID, SourceType: fact.SourceType, SourceData: fact.SourceData,
		QuickActions: fact.QuickActions,
	}
	if err := s.store.CreateAlert(ctx, alert); err != nil {
		return nil, err
	}
	return &models.CreateOutcome{Alert: alert, Created: true}, nil
}

func openAlerts(store *repository.MemoryStore, alertType models.AlertType) []*models.Alert {
	resolved := false
	out, _ := store.ListAlerts(context.Background(), models.AlertFilters{Type: &alertType, Resolved: &resolved})
	return out
}
