package handlers

import (
	"errors"
	"net/http"

	"github.com/antinvestor/service-checkout/apps/default/service/business"
	"github.com/antinvestor/service-checkout/apps/default/service/models"
	"github.com/antinvestor/service-checkout/apps/default/service/validation"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var errAttemptNotFound = errors.New("attempt not found")

type attemptView struct {
	*models.Attempt
	Terminal bool `json:"terminal"`
}

type openSessionRequest struct {
	SessionID string                 `json:"session_id" validate:"omitempty,max=64"`
	CashierID *int64                 `json:"cashier_id"`
	ConfigID  *int64                 `json:"config_id"`
	Lines     []business.PaymentLine `json:"lines" validate:"required,min=1"`
}

type initiatePaymentRequest struct {
	Phone    string           `json:"phone"`
	Provider string           `json:"provider" validate:"omitempty,oneof=mpesa eagle_mpesa eagle_mtn eagle_airtel"`
	Amount   *decimal.Decimal `json:"amount"`
}

type cancelRequest struct {
	Confirmed bool `json:"confirmed"`
}

type temporaryOrderRequest struct {
	PaymentRef string `json:"payment_ref" validate:"required"`
}

func sessionID(r *http.Request) string {
	return mux.Vars(r)["id"]
}

func (cs *CheckoutServer) OpenSession(w http.ResponseWriter, r *http.Request) {
	var req openSessionRequest
	if err := readJSON(w, r, &req, false); err != nil {
		cs.writeError(w, r, err)
		return
	}

	state, err := cs.Checkout.Open(r.Context(), business.OpenRequest{
		SessionID: req.SessionID,
		CashierID: req.CashierID,
		ConfigID:  req.ConfigID,
		Lines:     req.Lines,
	})
	if err != nil {
		cs.writeError(w, r, err)
		return
	}
	cs.respond(w, r, http.StatusCreated, state)
}

func (cs *CheckoutServer) GetSession(w http.ResponseWriter, r *http.Request) {
	state, err := cs.Checkout.Get(r.Context(), sessionID(r))
	if err != nil {
		cs.writeError(w, r, err)
		return
	}
	cs.respond(w, r, http.StatusOK, state)
}

func (cs *CheckoutServer) InitiatePayment(w http.ResponseWriter, r *http.Request) {
	var req initiatePaymentRequest
	if err := readJSON(w, r, &req, false); err != nil {
		cs.writeError(w, r, err)
		return
	}

	result, err := cs.Checkout.Initiate(r.Context(), sessionID(r), business.PaymentRequest{
		Phone:    req.Phone,
		Provider: validation.Provider(req.Provider),
		Amount:   req.Amount,
	})
	if err != nil {
		cs.writeError(w, r, err)
		return
	}
	cs.respond(w, r, http.StatusOK, result)
}

func (cs *CheckoutServer) CheckPayment(w http.ResponseWriter, r *http.Request) {
	result, err := cs.Checkout.Recheck(r.Context(), sessionID(r))
	if err != nil {
		cs.writeError(w, r, err)
		return
	}
	cs.respond(w, r, http.StatusOK, result)
}

func (cs *CheckoutServer) RecordUnpaid(w http.ResponseWriter, r *http.Request) {
	result, err := cs.Checkout.RecordUnpaid(r.Context(), sessionID(r))
	if err != nil {
		cs.writeError(w, r, err)
		return
	}
	cs.respond(w, r, http.StatusOK, result)
}

func (cs *CheckoutServer) CancelPayment(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := readJSON(w, r, &req, true); err != nil {
		cs.writeError(w, r, err)
		return
	}

	result, err := cs.Checkout.Cancel(r.Context(), sessionID(r), req.Confirmed)
	if err != nil {
		cs.writeError(w, r, err)
		return
	}
	cs.respond(w, r, http.StatusOK, result)
}

func (cs *CheckoutServer) CommitSession(w http.ResponseWriter, r *http.Request) {
	result, err := cs.Checkout.Commit(r.Context(), sessionID(r))
	if err != nil {
		cs.writeError(w, r, err)
		return
	}
	cs.respond(w, r, http.StatusOK, result)
}

func (cs *CheckoutServer) CreateTemporaryOrder(w http.ResponseWriter, r *http.Request) {
	var req temporaryOrderRequest
	if err := readJSON(w, r, &req, false); err != nil {
		cs.writeError(w, r, err)
		return
	}

	if err := cs.Checkout.CreateTemporaryOrder(r.Context(), sessionID(r), req.PaymentRef); err != nil {
		cs.writeError(w, r, err)
		return
	}
	cs.respond(w, r, http.StatusOK, map[string]any{"success": true})
}

// ListAttempts returns the audit trail of a checkout's payment attempts.
func (cs *CheckoutServer) ListAttempts(w http.ResponseWriter, r *http.Request) {
	if cs.Attempts == nil {
		cs.respond(w, r, http.StatusServiceUnavailable, &errorEnvelope{
			Message: "attempt history is not available",
			Status:  http.StatusServiceUnavailable,
		})
		return
	}

	attempts, err := cs.Attempts.ListBySession(r.Context(), sessionID(r))
	if err != nil {
		cs.writeError(w, r, err)
		return
	}

	views := make([]attemptView, 0, len(attempts))
	for _, attempt := range attempts {
		views = append(views, attemptView{Attempt: attempt, Terminal: attempt.IsTerminal()})
	}
	cs.respond(w, r, http.StatusOK, views)
}

// ListAttemptStatuses returns the status trail of one attempt. The attempt
// must belong to the session in the path.
func (cs *CheckoutServer) ListAttemptStatuses(w http.ResponseWriter, r *http.Request) {
	if cs.Attempts == nil || cs.Statuses == nil {
		cs.respond(w, r, http.StatusServiceUnavailable, &errorEnvelope{
			Message: "attempt history is not available",
			Status:  http.StatusServiceUnavailable,
		})
		return
	}

	attempt, err := cs.Attempts.GetByID(r.Context(), mux.Vars(r)["attempt"])
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && attempt.SessionID != sessionID(r)) {
		cs.writeError(w, r, errAttemptNotFound)
		return
	}
	if err != nil {
		cs.writeError(w, r, err)
		return
	}

	statuses, err := cs.Statuses.ListByAttempt(r.Context(), attempt.GetID())
	if err != nil {
		cs.writeError(w, r, err)
		return
	}
	cs.respond(w, r, http.StatusOK, statuses)
}
