package events

import (
	"context"
	"errors"

	"github.com/antinvestor/service-checkout/apps/default/service/models"
	"gorm.io/gorm/clause"

	"github.com/pitabwire/frame"
)

type AttemptSave struct {
	Service *frame.Service
}

func (e *AttemptSave) Name() string {
	return "attempt.save"
}

func (e *AttemptSave) PayloadType() any {
	return &models.Attempt{}
}

func (e *AttemptSave) Validate(_ context.Context, payload any) error {
	attempt, ok := payload.(*models.Attempt)
	if !ok {
		return errors.New("payload is not of type models.Attempt")
	}
	if attempt.GetID() == "" {
		return errors.New("attempt Id should already have been set")
	}
	if attempt.SessionID == "" {
		return errors.New("attempt should belong to a checkout session")
	}
	return nil
}

func (e *AttemptSave) Execute(ctx context.Context, payload any) error {
	attempt, ok := payload.(*models.Attempt)
	if !ok {
		return errors.New("payload is not of type models.Attempt")
	}

	logger := e.Service.L(ctx).
		WithField("attempt", attempt.GetID()).
		WithField("state", attempt.State).
		WithField("type", e.Name())
	logger.Debug("handling event")

	result := e.Service.DB(ctx, false).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(attempt)

	err := result.Error
	if err != nil {
		logger.WithError(err).Warn("could not save attempt to db")
		return err
	}
	logger.WithField("rows affected", result.RowsAffected).Debug("successfully saved record to db")

	return nil
}
