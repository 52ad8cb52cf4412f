package business

import (
	"errors"
	"fmt"

	"github.com/antinvestor/service-checkout/apps/default/service/backend"
	"github.com/antinvestor/service-checkout/apps/default/service/validation"
)

const (
	MessageEnterPin        = "Please Enter the PIN on your phone to Proceed"
	MessageSomethingWrong  = "Something Went Wrong, Try Again!"
	MessageFillRequired    = "Please Fill in all required fields!"
	MessageInProgress      = "STATUS: Transaction In Progress(TIP)"
	MessageFailed          = "STATUS: Transaction Failed(TF)"
	MessageConfirmCancel   = "The Transaction Will be Marked as Failed?"
	MessageAmbiguousAmount = "Several checkouts are waiting for this amount, check the payment manually"
)

var (
	ErrInitializationFail = errors.New("Internal configuration is invalid")

	ErrSessionNotFound = errors.New("Specified checkout session does not exist")

	ErrAttemptInFlight = errors.New("A payment is already in progress for this checkout")

	ErrNoPendingTransaction = errors.New("There is no pending transaction to check")

	ErrConfirmationRequired = errors.New(MessageConfirmCancel)

	ErrOutcomeDelivered = errors.New("Payment outcome has already been delivered")

	ErrDialogClosed = errors.New("Payment dialog has already been closed")

	ErrMethodMismatch = errors.New("Operation is not supported for this payment method")
)

// ValidationError is returned when the cashier's input is rejected and
// should be corrected before trying again.
type ValidationError struct {
	Field   string
	Message string
	Result  *validation.Result
}

func (e *ValidationError) Error() string {
	return e.Message
}

func phoneValidationError(result validation.Result) *ValidationError {
	return &ValidationError{Field: result.Field, Message: result.Message, Result: &result}
}

// InitiationError is returned when the backend did not start a payment.
// Retrying is allowed.
type InitiationError struct {
	Message string
	Cause   error
}

func (e *InitiationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *InitiationError) Unwrap() error {
	return e.Cause
}

// NetworkError is returned when the backend could not be reached in time.
type NetworkError struct {
	Op      string
	Timeout bool
	Err     error
}

func (e *NetworkError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("%s timed out: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// asNetworkError converts transport failures, leaving other errors alone.
func asNetworkError(op string, err error) (*NetworkError, bool) {
	var transportErr *backend.TransportError
	if errors.As(err, &transportErr) {
		return &NetworkError{Op: op, Timeout: transportErr.Timeout(), Err: err}, true
	}
	return nil, false
}

// backendError classifies an error from a status read or other backend
// call that is not an initiation.
func backendError(op string, err error) error {
	if netErr, ok := asNetworkError(op, err); ok {
		return netErr
	}
	return fmt.Errorf("%s: %w", op, err)
}
