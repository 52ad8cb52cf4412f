package session

import (
	"time"

	"github.com/antinvestor/service-checkout/apps/default/service/utility"
	"github.com/shopspring/decimal"
)

// Kind is the payment method a checkout session was opened for.
type Kind string

const (
	KindMpesa    Kind = "mpesa"
	KindTill     Kind = "till"
	KindStandard Kind = "standard"
)

// MobileMoney reports whether the kind goes through the confirmation dialog.
func (k Kind) MobileMoney() bool {
	return k == KindMpesa || k == KindTill
}

// OutcomeType reports the outcome type a session of this kind produces.
func (k Kind) OutcomeType() OutcomeType {
	if k == KindTill {
		return OutcomeTypeTill
	}
	return OutcomeTypeSTK
}

// PaymentStatus is the flag the order screen reads to decide how to commit.
// The values match what the point of sale has always stored.
type PaymentStatus string

const (
	PaymentStatusNone          PaymentStatus = ""
	PaymentStatusCreatedUnpaid PaymentStatus = "0"
	PaymentStatusPaid          PaymentStatus = "1"
)

type OutcomeStatus string

const (
	OutcomeSuccess OutcomeStatus = "success"
	OutcomeCreated OutcomeStatus = "created"
	OutcomeFailed  OutcomeStatus = "failed"
)

type OutcomeType string

const (
	OutcomeTypeSTK  OutcomeType = "stk"
	OutcomeTypeTill OutcomeType = "till"
	OutcomeTypeBill OutcomeType = "bill"
)

// Outcome is produced once per payment attempt.
type Outcome struct {
	Payment bool          `json:"payment"`
	Status  OutcomeStatus `json:"status"`
	Type    OutcomeType   `json:"type,omitempty"`
}

// DialogResult is what the checkout screen receives when the payment
// dialog closes. A cancelled dialog carries a nil payload.
type DialogResult struct {
	Confirmed bool     `json:"confirmed"`
	Payload   *Outcome `json:"payload"`
}

// Cancelled is the result of closing the dialog without paying.
func Cancelled() DialogResult {
	return DialogResult{Confirmed: false, Payload: nil}
}

// State is everything the checkout flow remembers about one session.
type State struct {
	ID        string          `json:"id"`
	Kind      Kind            `json:"kind"`
	Amount    decimal.Decimal `json:"amount"`
	CashierID *int64          `json:"cashier_id,omitempty"`
	ConfigID  *int64          `json:"config_id,omitempty"`

	Phone         string    `json:"phone,omitempty"`
	AttemptID     string    `json:"attempt_id,omitempty"`
	TransactionID string    `json:"transaction_id,omitempty"`
	Initiating    bool      `json:"initiating,omitempty"`
	PendingSince  time.Time `json:"pending_since"`

	PaymentStatus PaymentStatus `json:"payment_status"`
	LastOutcome   *Outcome      `json:"last_outcome,omitempty"`
	Result        *DialogResult `json:"result,omitempty"`
	DialogOpen    bool          `json:"dialog_open"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Pending reports whether an attempt is outstanding or being started.
func (s *State) Pending() bool {
	return s.TransactionID != "" || s.Initiating
}

// Expired reports whether the outstanding attempt has been pending for
// longer than ttl.
func (s *State) Expired(now time.Time, ttl time.Duration) bool {
	if !s.Pending() || ttl <= 0 || !utility.IsValidTime(&s.PendingSince) {
		return false
	}
	return now.Sub(s.PendingSince) > ttl
}

// ClearAttempt forgets the outstanding transaction.
func (s *State) ClearAttempt() {
	s.TransactionID = ""
	s.Initiating = false
	s.PendingSince = time.Time{}
}

// Clone returns a deep copy so callers can mutate without sharing.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	c := *s
	if s.CashierID != nil {
		v := *s.CashierID
		c.CashierID = &v
	}
	if s.ConfigID != nil {
		v := *s.ConfigID
		c.ConfigID = &v
	}
	if s.LastOutcome != nil {
		v := *s.LastOutcome
		c.LastOutcome = &v
	}
	if s.Result != nil {
		v := *s.Result
		if s.Result.Payload != nil {
			p := *s.Result.Payload
			v.Payload = &p
		}
		c.Result = &v
	}
	return &c
}

// awaitingTill reports whether the session takes part in correlation by amount.
func (s *State) awaitingTill() bool {
	return s.Kind == KindTill && s.DialogOpen
}
