package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/antinvestor/service-checkout/apps/default/service/backend"
	"github.com/antinvestor/service-checkout/apps/default/service/business"
	"github.com/antinvestor/service-checkout/apps/default/service/hub"
	"github.com/antinvestor/service-checkout/apps/default/service/repository"
	"github.com/go-playground/validator/v10"
	"github.com/pitabwire/frame"
)

const maxBodyBytes = 1_048_576

var validate = validator.New(validator.WithRequiredStructEnabled())

type CheckoutServer struct {
	Service  *frame.Service
	Checkout business.CheckoutBusiness
	Hub      *hub.Hub
	Attempts repository.AttemptRepository
	Statuses repository.AttemptStatusRepository

	// CountryCode turns validated local numbers into MSISDNs.
	CountryCode string
}

func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, status int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

type errorEnvelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Field   string `json:"field,omitempty"`
}

func writeJSONError(w http.ResponseWriter, status int, message, field string) error {
	return writeJSON(w, status, &errorEnvelope{
		Success: false,
		Message: message,
		Status:  status,
		Field:   field,
	})
}

// readJSON decodes the body into data and runs struct validation on it.
// An empty body leaves data untouched when optional is set.
func readJSON(w http.ResponseWriter, r *http.Request, data any, optional bool) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(data); err != nil {
		if !(optional && errors.Is(err, io.EOF)) {
			return &business.ValidationError{Field: "body", Message: "Invalid request body: " + err.Error()}
		}
	}

	if err := validate.Struct(data); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return &business.ValidationError{Field: fieldErrs[0].Field(), Message: fieldErrs[0].Error()}
		}
		return &business.ValidationError{Field: "body", Message: err.Error()}
	}
	return nil
}

// errorStatus maps checkout errors onto the HTTP status the screens expect.
func errorStatus(err error) int {
	var (
		validationErr *business.ValidationError
		initErr       *business.InitiationError
		netErr        *business.NetworkError
		remoteErr     *backend.RemoteError
		httpErr       *backend.HTTPError
	)

	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest
	case errors.Is(err, business.ErrSessionNotFound), errors.Is(err, errAttemptNotFound):
		return http.StatusNotFound
	case errors.Is(err, business.ErrAttemptInFlight),
		errors.Is(err, business.ErrConfirmationRequired),
		errors.Is(err, business.ErrOutcomeDelivered),
		errors.Is(err, business.ErrDialogClosed),
		errors.Is(err, business.ErrNoPendingTransaction),
		errors.Is(err, business.ErrMethodMismatch):
		return http.StatusConflict
	case errors.As(err, &netErr):
		if netErr.Timeout {
			return http.StatusGatewayTimeout
		}
		return http.StatusServiceUnavailable
	case errors.As(err, &initErr), errors.As(err, &remoteErr), errors.As(err, &httpErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (cs *CheckoutServer) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	logger := cs.Service.L(r.Context()).WithError(err).WithField("status", status).WithField("path", r.URL.Path)
	if status >= http.StatusInternalServerError {
		logger.Error("checkout request failed")
	} else {
		logger.Debug("checkout request rejected")
	}

	message := err.Error()
	var field string

	var (
		validationErr *business.ValidationError
		initErr       *business.InitiationError
	)
	switch {
	case errors.As(err, &validationErr):
		field = validationErr.Field
	case errors.As(err, &initErr):
		message = initErr.Message
	case status == http.StatusInternalServerError:
		message = business.MessageSomethingWrong
	}

	if encodeErr := writeJSONError(w, status, message, field); encodeErr != nil {
		logger.WithError(encodeErr).Error("failed to encode error response")
	}
}

func (cs *CheckoutServer) respond(w http.ResponseWriter, r *http.Request, status int, data any) {
	if err := writeJSON(w, status, data); err != nil {
		cs.Service.L(r.Context()).WithError(err).Error("failed to encode response")
	}
}
