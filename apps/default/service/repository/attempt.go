package repository

import (
	"context"

	"github.com/antinvestor/service-checkout/apps/default/service/models"

	"github.com/pitabwire/frame"
)

// AttemptRepository reads the attempt audit trail. Writes go through the
// attempt.save event.
type AttemptRepository interface {
	GetByID(ctx context.Context, id string) (*models.Attempt, error)
	ListBySession(ctx context.Context, sessionID string) ([]*models.Attempt, error)
}

type attemptRepository struct {
	abstractRepository
}

func NewAttemptRepository(_ context.Context, service *frame.Service) AttemptRepository {
	return &attemptRepository{abstractRepository{service: service}}
}

func (repo *attemptRepository) GetByID(ctx context.Context, id string) (*models.Attempt, error) {
	attempt := models.Attempt{}
	err := repo.readDB(ctx).First(&attempt, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &attempt, nil
}

// ListBySession returns the attempts of a checkout, oldest first.
func (repo *attemptRepository) ListBySession(ctx context.Context, sessionID string) ([]*models.Attempt, error) {
	var attempts []*models.Attempt
	err := repo.readDB(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC").
		Find(&attempts).Error
	if err != nil {
		return nil, err
	}
	return attempts, nil
}

