package models

import (
	"time"

	"github.com/pitabwire/frame"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	AttemptStateAwaitingPin     = "awaiting_pin"
	AttemptStateAwaitingPayment = "awaiting_payment"
	AttemptStateInProgress      = "in_progress"
	AttemptStateSucceeded       = "succeeded"
	AttemptStateFailed          = "failed"
	AttemptStateCreatedUnpaid   = "created_unpaid"
	AttemptStateCancelled       = "cancelled"
	AttemptStateExpired         = "expired"
)

// Attempt Table holds one try at collecting a mobile money payment
type Attempt struct {
	frame.BaseModel

	SessionID     string              `gorm:"type:varchar(64);index" json:"session_id"`
	Kind          string              `gorm:"type:varchar(20)" json:"kind"`
	Phone         string              `gorm:"type:varchar(20)" json:"phone"`
	Amount        decimal.NullDecimal `gorm:"type:numeric" json:"amount"`
	CashierID     *int64              `json:"cashier_id,omitempty"`
	ConfigID      *int64              `json:"config_id,omitempty"`
	TransactionID string              `gorm:"type:varchar(100);index" json:"transaction_id"`
	State         string              `gorm:"type:varchar(20)" json:"state"`
	Outcome       datatypes.JSONMap   `json:"outcome,omitempty"`
	Extra         datatypes.JSONMap   `gorm:"index:,type:gin,option:jsonb_path_ops" json:"extra"`
}

func (model *Attempt) IsTerminal() bool {
	switch model.State {
	case AttemptStateSucceeded, AttemptStateFailed, AttemptStateCreatedUnpaid, AttemptStateCancelled, AttemptStateExpired:
		return true
	default:
		return false
	}
}

// AttemptStatus Table keeps the history of status reads for an attempt
type AttemptStatus struct {
	frame.BaseModel
	AttemptID string            `gorm:"type:varchar(50);index" json:"attempt_id"`
	State     string            `gorm:"type:varchar(20)" json:"state"`
	Code      string            `gorm:"type:varchar(20)" json:"code"`
	Message   string            `gorm:"type:text" json:"message"`
	Extra     datatypes.JSONMap `gorm:"index:,type:gin,option:jsonb_path_ops" json:"extra"`
}

// OutcomeMessage is published on the outcome topic once a dialog closes.
type OutcomeMessage struct {
	SessionID     string          `json:"session_id"`
	AttemptID     string          `json:"attempt_id,omitempty"`
	TransactionID string          `json:"transaction_id,omitempty"`
	Kind          string          `json:"kind"`
	Amount        decimal.Decimal `json:"amount"`
	Confirmed     bool            `json:"confirmed"`
	Payment       bool            `json:"payment"`
	Status        string          `json:"status,omitempty"`
	Type          string          `json:"type,omitempty"`
	DeliveredAt   time.Time       `json:"delivered_at"`
}

// Notification is what the ERP pushes on the payment channel when a
// payment lands.
type Notification struct {
	Type          string           `json:"type"`
	TransactionID string           `json:"transaction_id,omitempty"`
	Amount        *decimal.Decimal `json:"amount,omitempty"`
	Status        string           `json:"status,omitempty"`
}

const (
	NotificationTypeTill = "till"
	NotificationTypeBill = "bill"
)

// ByAmount reports whether the notification is correlated by amount.
func (n *Notification) ByAmount() bool {
	return n.Type == NotificationTypeTill || n.Type == NotificationTypeBill
}
