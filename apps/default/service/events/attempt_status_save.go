package events

import (
	"context"
	"errors"

	"github.com/antinvestor/service-checkout/apps/default/service/models"
	"gorm.io/gorm/clause"

	"github.com/pitabwire/frame"
)

type AttemptStatusSave struct {
	Service *frame.Service
}

func (e *AttemptStatusSave) Name() string {
	return "attempt.status.save"
}

func (e *AttemptStatusSave) PayloadType() any {
	return &models.AttemptStatus{}
}

func (e *AttemptStatusSave) Validate(_ context.Context, payload any) error {
	status, ok := payload.(*models.AttemptStatus)
	if !ok {
		return errors.New("payload is not of type models.AttemptStatus")
	}
	if status.GetID() == "" {
		return errors.New("status Id should already have been set")
	}
	if status.AttemptID == "" {
		return errors.New("status should reference an attempt")
	}
	return nil
}

func (e *AttemptStatusSave) Execute(ctx context.Context, payload any) error {
	status, ok := payload.(*models.AttemptStatus)
	if !ok {
		return errors.New("payload is not of type models.AttemptStatus")
	}

	logger := e.Service.L(ctx).WithField("payload", status).WithField("type", e.Name())
	logger.Debug("handling event")

	result := e.Service.DB(ctx, false).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(status)

	err := result.Error
	if err != nil {
		logger.WithError(err).Warn("could not save attempt status to db")
		return err
	}
	logger.WithField("rows affected", result.RowsAffected).Debug("successfully saved record to db")

	return nil
}
