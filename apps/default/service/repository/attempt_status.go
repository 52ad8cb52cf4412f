package repository

import (
	"context"

	"github.com/antinvestor/service-checkout/apps/default/service/models"

	"github.com/pitabwire/frame"
)

type AttemptStatusRepository interface {
	ListByAttempt(ctx context.Context, attemptID string) ([]*models.AttemptStatus, error)
}

type attemptStatusRepository struct {
	abstractRepository
}

func NewAttemptStatusRepository(_ context.Context, service *frame.Service) AttemptStatusRepository {
	return &attemptStatusRepository{abstractRepository{service: service}}
}

func (repo *attemptStatusRepository) ListByAttempt(ctx context.Context, attemptID string) ([]*models.AttemptStatus, error) {
	var statuses []*models.AttemptStatus
	err := repo.readDB(ctx).
		Where("attempt_id = ?", attemptID).
		Order("created_at ASC").
		Find(&statuses).Error
	if err != nil {
		return nil, err
	}
	return statuses, nil
}

