package backend

import (
	"context"

	"github.com/shopspring/decimal"
)

// Status codes returned by the ERP validation endpoints.
const (
	StatusInProgress = "TIP"
	StatusSuccess    = "TS"
)

// InitiateRequest is the payload sent to start an STK push.
type InitiateRequest struct {
	Phone     string
	Amount    decimal.Decimal
	CashierID *int64
	ConfigID  *int64
}

// InitiateResponse is returned by the ERP once it accepted an STK push.
// TransactionID is empty when the provider refused the request.
type InitiateResponse struct {
	TransactionID string `json:"transaction_id"`
	Message       string `json:"message,omitempty"`
}

// StatusResponse carries the tri-state code of a payment.
type StatusResponse struct {
	Status string `json:"status"`
}

// Client is the request/response contract of the payment backend.
//
//go:generate mockgen -source=interfaces.go -destination=mock_client.go -package=backend
type Client interface {
	Initiate(ctx context.Context, request InitiateRequest) (*InitiateResponse, error)
	ValidateByTransaction(ctx context.Context, transactionID string) (*StatusResponse, error)
	ValidateByAmount(ctx context.Context, amount decimal.Decimal) (*StatusResponse, error)
	CreateTemporaryOrder(ctx context.Context, cashierID int64, paymentRef string) error
}
