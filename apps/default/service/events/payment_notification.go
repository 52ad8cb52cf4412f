package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/antinvestor/service-checkout/apps/default/service/models"
	"github.com/pitabwire/frame"
)

// NotificationHandler acts on a payment notification. Returned errors
// cause the message to be redelivered.
type NotificationHandler interface {
	Notify(ctx context.Context, notification *models.Notification) error
}

// PaymentNotification listens on the payment channel the ERP pushes to
// whenever a payment lands.
type PaymentNotification struct {
	Service  *frame.Service
	Checkout NotificationHandler
}

// notificationEnvelope is the channel message; data holds the notification.
type notificationEnvelope struct {
	Channel string               `json:"channel"`
	Data    *models.Notification `json:"data"`
}

func (event *PaymentNotification) Name() string {
	return "payment.notification"
}

func (event *PaymentNotification) PayloadType() any {
	return &models.Notification{}
}

func (event *PaymentNotification) Validate(_ context.Context, payload any) error {
	notification, ok := payload.(*models.Notification)
	if !ok {
		return errors.New("payload is not of type models.Notification")
	}
	if notification.ByAmount() {
		if notification.Amount == nil {
			return fmt.Errorf("%s notification requires an amount", notification.Type)
		}
		return nil
	}
	if notification.TransactionID == "" {
		return errors.New("notification requires a transaction id")
	}
	return nil
}

// Handle implements the frame.SubscribeWorker interface
func (event *PaymentNotification) Handle(ctx context.Context, metadata map[string]string, message []byte) error {
	logger := event.Service.L(ctx).WithField("type", event.Name())

	notification, err := decodeNotification(message)
	if err != nil {
		logger.WithError(err).WithField("metadata", metadata).Warn("dropping undecodable payment notification")
		return nil
	}

	if err := event.Validate(ctx, notification); err != nil {
		logger.WithError(err).Warn("dropping invalid payment notification")
		return nil
	}

	return event.Execute(ctx, notification)
}

func (event *PaymentNotification) Execute(ctx context.Context, payload any) error {
	notification, ok := payload.(*models.Notification)
	if !ok {
		return errors.New("payload is not of type models.Notification")
	}

	logger := event.Service.L(ctx).
		WithField("type", event.Name()).
		WithField("notification", notification.Type).
		WithField("transaction", notification.TransactionID)
	logger.Debug("handling payment notification")

	if err := event.Checkout.Notify(ctx, notification); err != nil {
		logger.WithError(err).Warn("could not act on payment notification")
		return err
	}
	return nil
}

// decodeNotification accepts both the channel envelope and a bare
// notification.
func decodeNotification(message []byte) (*models.Notification, error) {
	var envelope notificationEnvelope
	if err := json.Unmarshal(message, &envelope); err != nil {
		return nil, fmt.Errorf("failed to unmarshal notification: %w", err)
	}
	if envelope.Data != nil {
		return envelope.Data, nil
	}

	var notification models.Notification
	if err := json.Unmarshal(message, &notification); err != nil {
		return nil, fmt.Errorf("failed to unmarshal notification: %w", err)
	}
	return &notification, nil
}
