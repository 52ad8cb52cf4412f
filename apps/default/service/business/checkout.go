package business

import (
	"context"
	"errors"
	"time"

	"github.com/antinvestor/service-checkout/apps/default/service/backend"
	"github.com/antinvestor/service-checkout/apps/default/service/events"
	"github.com/antinvestor/service-checkout/apps/default/service/hub"
	"github.com/antinvestor/service-checkout/apps/default/service/models"
	"github.com/antinvestor/service-checkout/apps/default/service/session"
	"github.com/antinvestor/service-checkout/apps/default/service/utility"
	"github.com/antinvestor/service-checkout/apps/default/service/validation"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

const defaultBackendTimeout = 20 * time.Second

// Emitter queues internal events, satisfied by *frame.Service.
type Emitter interface {
	Emit(ctx context.Context, name string, payload any) error
}

// Publisher sends messages to a registered topic, satisfied by *frame.Service.
type Publisher interface {
	Publish(ctx context.Context, name string, payload any) error
}

// Notifier pushes events to the screens watching a session.
type Notifier interface {
	Publish(sessionID string, evt hub.Event)
}

type Options struct {
	BackendTimeout time.Duration
	PendingTTL     time.Duration
	OutcomeTopic   string

	Emitter   Emitter
	Publisher Publisher
	Notifier  Notifier
}

type OpenRequest struct {
	SessionID string
	CashierID *int64
	ConfigID  *int64
	Lines     []PaymentLine
}

type PaymentRequest struct {
	Phone    string
	Provider validation.Provider
	Amount   *decimal.Decimal
}

type InitiateResult struct {
	SessionID     string          `json:"session_id"`
	AttemptID     string          `json:"attempt_id"`
	TransactionID string          `json:"transaction_id"`
	Phone         string          `json:"phone"`
	Amount        decimal.Decimal `json:"amount"`
	Message       string          `json:"message"`
}

type CheckStatus string

const (
	CheckInProgress CheckStatus = "in_progress"
	CheckSucceeded  CheckStatus = "succeeded"
	CheckFailed     CheckStatus = "failed"
	CheckDelivered  CheckStatus = "delivered"
)

// Interpret maps a backend status code onto the check it stands for.
// Only TS is a success; every code other than TIP is a failure.
func Interpret(code string) CheckStatus {
	switch code {
	case backend.StatusInProgress:
		return CheckInProgress
	case backend.StatusSuccess:
		return CheckSucceeded
	default:
		return CheckFailed
	}
}

type CheckResult struct {
	SessionID        string                `json:"session_id"`
	Status           CheckStatus           `json:"status"`
	Code             string                `json:"code,omitempty"`
	Message          string                `json:"message,omitempty"`
	Terminal         bool                  `json:"terminal"`
	Outcome          *session.Outcome      `json:"outcome,omitempty"`
	Result           *session.DialogResult `json:"result,omitempty"`
	Ambiguous        bool                  `json:"ambiguous,omitempty"`
	AlreadyDelivered bool                  `json:"already_delivered,omitempty"`
}

type NotificationResult struct {
	Sessions  []string       `json:"sessions"`
	Checks    []*CheckResult `json:"checks,omitempty"`
	Ambiguous bool           `json:"ambiguous,omitempty"`
}

type CommitDecision string

const (
	CommitPaid     CommitDecision = "commit_paid"
	CommitUnpaid   CommitDecision = "commit_unpaid"
	CommitStandard CommitDecision = "commit_standard"
	CommitAbort    CommitDecision = "abort"
)

type CommitResult struct {
	SessionID string           `json:"session_id"`
	Decision  CommitDecision   `json:"decision"`
	Reason    string           `json:"reason,omitempty"`
	Outcome   *session.Outcome `json:"outcome,omitempty"`
}

type CheckoutBusiness interface {
	Open(ctx context.Context, req OpenRequest) (*session.State, error)
	Get(ctx context.Context, sessionID string) (*session.State, error)
	Initiate(ctx context.Context, sessionID string, req PaymentRequest) (*InitiateResult, error)
	Recheck(ctx context.Context, sessionID string) (*CheckResult, error)
	HandleNotification(ctx context.Context, notification *models.Notification) (*NotificationResult, error)
	Notify(ctx context.Context, notification *models.Notification) error
	RecordUnpaid(ctx context.Context, sessionID string) (*session.DialogResult, error)
	Cancel(ctx context.Context, sessionID string, confirmed bool) (*session.DialogResult, error)
	Commit(ctx context.Context, sessionID string) (*CommitResult, error)
	CreateTemporaryOrder(ctx context.Context, sessionID, paymentRef string) error
}

func NewCheckoutBusiness(_ context.Context, store session.Store, client backend.Client, opts Options) (CheckoutBusiness, error) {
	if store == nil || client == nil {
		return nil, ErrInitializationFail
	}
	if opts.BackendTimeout <= 0 {
		opts.BackendTimeout = defaultBackendTimeout
	}
	return &checkoutBusiness{
		store:  store,
		client: client,
		opts:   opts,
		now:    time.Now,
	}, nil
}

type checkoutBusiness struct {
	store  session.Store
	client backend.Client
	opts   Options
	now    func() time.Time
}

var errAttemptSuperseded = errors.New("attempt was superseded while checking")

func (cb *checkoutBusiness) Open(ctx context.Context, req OpenRequest) (*session.State, error) {
	if len(req.Lines) == 0 {
		return nil, &ValidationError{Field: "lines", Message: MessageFillRequired}
	}

	method := ResolveMethod(req.Lines)
	if method.Kind.MobileMoney() && !method.Total.IsPositive() {
		return nil, &ValidationError{Field: "amount", Message: MessageFillRequired}
	}

	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	logger := logrus.WithContext(ctx).WithField("session", req.SessionID).WithField("kind", method.Kind)

	if previous, err := cb.store.Get(ctx, req.SessionID); err == nil {
		// A paid or unpaid result stays until the order is committed.
		if previous.Result != nil && previous.PaymentStatus != session.PaymentStatusNone {
			logger.WithField("payment_status", previous.PaymentStatus).Info("checkout already settled, awaiting commit")
			return previous, nil
		}
		if previous.Pending() {
			logger.WithField("transaction", previous.TransactionID).Warn("reopening checkout discards the pending transaction")
			cb.saveAttempt(ctx, previous, models.AttemptStateCancelled, nil, datatypes.JSONMap{"reason": "checkout reopened"})
		}
	}

	state := &session.State{
		ID:         req.SessionID,
		Kind:       method.Kind,
		Amount:     method.Total,
		CashierID:  req.CashierID,
		ConfigID:   req.ConfigID,
		DialogOpen: method.Kind.MobileMoney(),
	}
	if method.Kind == session.KindTill {
		state.AttemptID = newAttemptID(ctx)
	}

	if err := cb.store.Save(ctx, state); err != nil {
		return nil, err
	}
	if state.AttemptID != "" {
		cb.saveAttempt(ctx, state, models.AttemptStateAwaitingPayment, nil, nil)
	}

	logger.WithField("amount", state.Amount.String()).Info("checkout opened")
	return cb.store.Get(ctx, state.ID)
}

func (cb *checkoutBusiness) Get(ctx context.Context, sessionID string) (*session.State, error) {
	return cb.load(ctx, sessionID)
}

func (cb *checkoutBusiness) Initiate(ctx context.Context, sessionID string, req PaymentRequest) (*InitiateResult, error) {
	state, err := cb.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if state.Kind != session.KindMpesa {
		return nil, ErrMethodMismatch
	}
	if err := openDialog(state); err != nil {
		return nil, err
	}

	provider := req.Provider
	if provider == "" {
		provider = validation.ProviderMpesa
	}
	phone := validation.ValidatePhone(req.Phone, provider)
	if !phone.Valid {
		return nil, phoneValidationError(phone)
	}

	amount := state.Amount
	if req.Amount != nil {
		amount = *req.Amount
	}
	if !amount.IsPositive() {
		return nil, &ValidationError{Field: "amount", Message: MessageFillRequired}
	}

	logger := logrus.WithContext(ctx).WithField("session", sessionID)
	attemptID := newAttemptID(ctx)
	now := cb.now()

	var expired *session.State
	reserved, err := cb.update(ctx, sessionID, func(current *session.State) error {
		expired = nil
		if err := openDialog(current); err != nil {
			return err
		}
		if current.Pending() {
			if !current.Expired(now, cb.opts.PendingTTL) {
				return ErrAttemptInFlight
			}
			expired = current.Clone()
		}
		current.ClearAttempt()
		current.AttemptID = attemptID
		current.Phone = phone.Normalized
		current.Initiating = true
		current.PendingSince = now
		current.LastOutcome = nil
		return nil
	})
	if err != nil {
		return nil, err
	}
	if expired != nil {
		logger.WithField("transaction", expired.TransactionID).Info("previous attempt expired, starting a new one")
		cb.saveAttempt(ctx, expired, models.AttemptStateExpired, nil, nil)
	}

	attempt := reserved.Clone()
	attempt.Amount = amount

	callCtx, cancel := context.WithTimeout(ctx, cb.opts.BackendTimeout)
	defer cancel()

	response, err := cb.client.Initiate(callCtx, backend.InitiateRequest{
		Phone:     phone.Normalized,
		Amount:    amount,
		CashierID: state.CashierID,
		ConfigID:  state.ConfigID,
	})
	if err == nil && response.TransactionID == "" {
		err = &InitiationError{Message: MessageSomethingWrong}
		if response.Message != "" {
			err = &InitiationError{Message: MessageSomethingWrong, Cause: errors.New(response.Message)}
		}
	}
	if err != nil {
		cb.release(ctx, sessionID, attemptID)

		var initErr *InitiationError
		if netErr, ok := asNetworkError("payment initiation", err); ok {
			err = netErr
		} else if !errors.As(err, &initErr) {
			err = &InitiationError{Message: MessageSomethingWrong, Cause: err}
		}

		logger.WithError(err).Warn("payment initiation failed")
		cb.saveAttempt(ctx, attempt, models.AttemptStateFailed, nil, datatypes.JSONMap{"error": err.Error()})
		return nil, err
	}

	updated, err := cb.update(ctx, sessionID, func(current *session.State) error {
		if current.AttemptID != attemptID || !current.Initiating || !current.DialogOpen || current.Result != nil {
			return errAttemptSuperseded
		}
		current.TransactionID = response.TransactionID
		current.Initiating = false
		return nil
	})
	if err != nil {
		attempt.TransactionID = response.TransactionID
		cb.saveAttempt(ctx, attempt, models.AttemptStateCancelled, nil, datatypes.JSONMap{"reason": "checkout closed during initiation"})
		if errors.Is(err, errAttemptSuperseded) {
			return nil, ErrDialogClosed
		}
		return nil, err
	}

	attempt.TransactionID = updated.TransactionID
	cb.saveAttempt(ctx, attempt, models.AttemptStateAwaitingPin, nil, nil)
	cb.notify(sessionID, hub.Event{Type: hub.EventPromptSent, Message: MessageEnterPin, TransactionID: updated.TransactionID})

	logger.WithField("transaction", updated.TransactionID).Info("payment prompt sent")
	return &InitiateResult{
		SessionID:     sessionID,
		AttemptID:     attemptID,
		TransactionID: updated.TransactionID,
		Phone:         phone.Normalized,
		Amount:        amount,
		Message:       MessageEnterPin,
	}, nil
}

func (cb *checkoutBusiness) Recheck(ctx context.Context, sessionID string) (*CheckResult, error) {
	state, err := cb.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return cb.recheck(ctx, state, state.Kind.OutcomeType())
}

func (cb *checkoutBusiness) HandleNotification(ctx context.Context, notification *models.Notification) (*NotificationResult, error) {
	if notification == nil {
		return nil, &ValidationError{Field: "notification", Message: "notification is empty"}
	}

	logger := logrus.WithContext(ctx).WithField("type", notification.Type)
	result := &NotificationResult{}

	var targets []*session.State
	outcomeType := session.OutcomeTypeSTK

	if notification.ByAmount() {
		if notification.Amount == nil {
			return nil, &ValidationError{Field: "amount", Message: "till notification has no amount"}
		}
		logger = logger.WithField("amount", notification.Amount.String())

		matches, err := cb.store.FindByAmount(ctx, *notification.Amount)
		if err != nil {
			return nil, err
		}
		for _, match := range matches {
			result.Sessions = append(result.Sessions, match.ID)
		}

		if len(matches) > 1 {
			result.Ambiguous = true
			logger.WithField("sessions", result.Sessions).Warn("several checkouts wait for the same amount, not resolving automatically")
			for _, match := range matches {
				cb.notify(match.ID, hub.Event{Type: hub.EventAmbiguous, Message: MessageAmbiguousAmount})
			}
			return result, nil
		}

		targets = matches
		outcomeType = session.OutcomeTypeTill
		if notification.Type == models.NotificationTypeBill {
			outcomeType = session.OutcomeTypeBill
		}
	} else {
		if notification.TransactionID == "" {
			return nil, &ValidationError{Field: "transaction_id", Message: "notification has no transaction id"}
		}
		logger = logger.WithField("transaction", notification.TransactionID)

		state, err := cb.store.FindByTransaction(ctx, notification.TransactionID)
		if errors.Is(err, session.ErrNotFound) {
			logger.Info("no open checkout for notified transaction")
			return result, nil
		}
		if err != nil {
			return nil, err
		}
		result.Sessions = append(result.Sessions, state.ID)
		targets = []*session.State{state}
		outcomeType = state.Kind.OutcomeType()
	}

	if len(targets) == 0 {
		logger.Info("no open checkout matches notification")
		return result, nil
	}

	for _, target := range targets {
		check, err := cb.recheck(ctx, target, outcomeType)
		if err != nil {
			return result, err
		}
		result.Checks = append(result.Checks, check)
	}
	return result, nil
}

// Notify handles a pushed notification and only reports errors worth
// redelivering the message for.
func (cb *checkoutBusiness) Notify(ctx context.Context, notification *models.Notification) error {
	logger := logrus.WithContext(ctx)

	result, err := cb.HandleNotification(ctx, notification)

	var validationErr *ValidationError
	switch {
	case errors.As(err, &validationErr):
		logger.WithError(err).Warn("dropping malformed payment notification")
		return nil
	case errors.Is(err, ErrDialogClosed), errors.Is(err, ErrNoPendingTransaction), errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrMethodMismatch):
		logger.WithError(err).Info("payment notification no longer applies")
		return nil
	case err != nil:
		return err
	}

	logger.WithField("sessions", result.Sessions).WithField("ambiguous", result.Ambiguous).Debug("payment notification handled")
	return nil
}

func (cb *checkoutBusiness) RecordUnpaid(ctx context.Context, sessionID string) (*session.DialogResult, error) {
	state, err := cb.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !state.Kind.MobileMoney() {
		return nil, ErrMethodMismatch
	}

	outcome := session.Outcome{Payment: false, Status: session.OutcomeCreated}
	dialog := session.DialogResult{Confirmed: true, Payload: &outcome}

	snapshot, err := cb.dispatch(ctx, sessionID, session.PaymentStatusCreatedUnpaid, dialog, nil)
	if err != nil {
		return nil, err
	}
	if attemptOpen(snapshot) {
		cb.saveAttempt(ctx, snapshot, models.AttemptStateCreatedUnpaid, &outcome, nil)
	}
	return &dialog, nil
}

func (cb *checkoutBusiness) Cancel(ctx context.Context, sessionID string, confirmed bool) (*session.DialogResult, error) {
	state, err := cb.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !state.Kind.MobileMoney() {
		return nil, ErrMethodMismatch
	}

	dialog := session.Cancelled()
	snapshot, err := cb.dispatch(ctx, sessionID, session.PaymentStatusNone, dialog, func(current *session.State) error {
		if current.Pending() && !confirmed {
			return ErrConfirmationRequired
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	switch {
	case snapshot.Pending():
		cb.saveAttempt(ctx, snapshot, models.AttemptStateFailed, nil, datatypes.JSONMap{"reason": "cancelled by cashier"})
	case attemptOpen(snapshot):
		cb.saveAttempt(ctx, snapshot, models.AttemptStateCancelled, nil, nil)
	}
	return &dialog, nil
}

func (cb *checkoutBusiness) Commit(ctx context.Context, sessionID string) (*CommitResult, error) {
	state, err := cb.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	result := &CommitResult{SessionID: sessionID}
	switch {
	case !state.Kind.MobileMoney():
		result.Decision = CommitStandard
	case state.PaymentStatus == session.PaymentStatusPaid:
		result.Decision = CommitPaid
		result.Outcome = state.LastOutcome
	case state.PaymentStatus == session.PaymentStatusCreatedUnpaid:
		result.Decision = CommitUnpaid
		result.Outcome = state.LastOutcome
	case state.DialogOpen:
		result.Decision = CommitAbort
		result.Reason = "payment dialog is still open"
		return result, nil
	default:
		result.Decision = CommitAbort
		result.Reason = "payment was cancelled"
	}

	if err := cb.store.Delete(ctx, sessionID); err != nil {
		return nil, err
	}

	logrus.WithContext(ctx).WithField("session", sessionID).WithField("decision", result.Decision).Info("checkout committed")
	return result, nil
}

func (cb *checkoutBusiness) CreateTemporaryOrder(ctx context.Context, sessionID, paymentRef string) error {
	state, err := cb.load(ctx, sessionID)
	if err != nil {
		return err
	}
	if state.CashierID == nil {
		return &ValidationError{Field: "cashier_id", Message: "checkout has no cashier"}
	}
	if paymentRef == "" {
		return &ValidationError{Field: "payment_ref", Message: MessageFillRequired}
	}

	callCtx, cancel := context.WithTimeout(ctx, cb.opts.BackendTimeout)
	defer cancel()

	if err := cb.client.CreateTemporaryOrder(callCtx, *state.CashierID, paymentRef); err != nil {
		return backendError("temporary order", err)
	}
	return nil
}

// recheck reads the payment status for state and acts on it. Manual checks
// and push notifications both end up here.
func (cb *checkoutBusiness) recheck(ctx context.Context, state *session.State, outcomeType session.OutcomeType) (*CheckResult, error) {
	if state.Result != nil {
		return deliveredCheck(state), nil
	}
	if !state.DialogOpen {
		return nil, ErrDialogClosed
	}

	logger := logrus.WithContext(ctx).WithField("session", state.ID)
	result := &CheckResult{SessionID: state.ID}

	callCtx, cancel := context.WithTimeout(ctx, cb.opts.BackendTimeout)
	defer cancel()

	var (
		status *backend.StatusResponse
		err    error
	)
	switch state.Kind {
	case session.KindMpesa:
		if state.TransactionID == "" {
			return nil, ErrNoPendingTransaction
		}
		status, err = cb.client.ValidateByTransaction(callCtx, state.TransactionID)
	case session.KindTill:
		matches, findErr := cb.store.FindByAmount(ctx, state.Amount)
		if findErr == nil && len(matches) > 1 {
			result.Ambiguous = true
			logger.WithField("matches", len(matches)).Warn("till payment amount is shared by several checkouts")
		}
		status, err = cb.client.ValidateByAmount(callCtx, state.Amount)
	default:
		return nil, ErrMethodMismatch
	}
	if err != nil {
		return nil, backendError("payment status check", err)
	}

	result.Code = status.Status
	logger = logger.WithField("code", status.Status)

	switch Interpret(status.Status) {
	case CheckInProgress:
		if state.Expired(cb.now(), cb.opts.PendingTTL) {
			logger.Info("pending attempt expired")
			return cb.fail(ctx, state, outcomeType, result, models.AttemptStateExpired)
		}
		return cb.inProgress(ctx, state, result)
	case CheckSucceeded:
		return cb.succeed(ctx, state, outcomeType, result)
	default:
		logger.Info("payment failed")
		return cb.fail(ctx, state, outcomeType, result, models.AttemptStateFailed)
	}
}

func (cb *checkoutBusiness) inProgress(ctx context.Context, state *session.State, result *CheckResult) (*CheckResult, error) {
	result.Status = CheckInProgress
	result.Message = MessageInProgress

	cb.saveStatus(ctx, state, models.AttemptStateInProgress, result.Code, result.Message)
	cb.notify(state.ID, hub.Event{Type: hub.EventInProgress, Message: result.Message, TransactionID: state.TransactionID})
	return result, nil
}

func (cb *checkoutBusiness) succeed(ctx context.Context, state *session.State, outcomeType session.OutcomeType, result *CheckResult) (*CheckResult, error) {
	outcome := session.Outcome{Payment: true, Status: session.OutcomeSuccess, Type: outcomeType}
	dialog := session.DialogResult{Confirmed: true, Payload: &outcome}

	snapshot, err := cb.dispatch(ctx, state.ID, session.PaymentStatusPaid, dialog, sameAttempt(state))
	if errors.Is(err, ErrOutcomeDelivered) {
		current, loadErr := cb.load(ctx, state.ID)
		if loadErr != nil {
			return nil, loadErr
		}
		return deliveredCheck(current), nil
	}
	if errors.Is(err, errAttemptSuperseded) {
		return nil, ErrNoPendingTransaction
	}
	if err != nil {
		return nil, err
	}

	cb.saveStatus(ctx, snapshot, models.AttemptStateSucceeded, result.Code, "")
	cb.saveAttempt(ctx, snapshot, models.AttemptStateSucceeded, &outcome, nil)

	result.Status = CheckSucceeded
	result.Terminal = true
	result.Outcome = &outcome
	result.Result = &dialog
	return result, nil
}

func (cb *checkoutBusiness) fail(ctx context.Context, state *session.State, outcomeType session.OutcomeType, result *CheckResult, attemptState string) (*CheckResult, error) {
	outcome := session.Outcome{Payment: false, Status: session.OutcomeFailed, Type: outcomeType}

	var nextAttempt string
	if state.Kind == session.KindTill {
		nextAttempt = newAttemptID(ctx)
	}

	var snapshot *session.State
	_, err := cb.update(ctx, state.ID, func(current *session.State) error {
		snapshot = nil
		if current.Result != nil {
			return ErrOutcomeDelivered
		}
		if err := sameAttempt(state)(current); err != nil {
			return err
		}
		snapshot = current.Clone()
		current.ClearAttempt()
		current.LastOutcome = &outcome
		if nextAttempt != "" {
			current.AttemptID = nextAttempt
		}
		return nil
	})
	if errors.Is(err, ErrOutcomeDelivered) {
		current, loadErr := cb.load(ctx, state.ID)
		if loadErr != nil {
			return nil, loadErr
		}
		return deliveredCheck(current), nil
	}
	if errors.Is(err, errAttemptSuperseded) {
		return nil, ErrNoPendingTransaction
	}
	if err != nil {
		return nil, err
	}

	cb.saveStatus(ctx, snapshot, attemptState, result.Code, MessageFailed)
	cb.saveAttempt(ctx, snapshot, attemptState, &outcome, nil)
	cb.notify(state.ID, hub.Event{Type: hub.EventFailed, Message: MessageFailed, TransactionID: snapshot.TransactionID, Outcome: &outcome})

	result.Status = CheckFailed
	result.Message = MessageFailed
	result.Terminal = true
	result.Outcome = &outcome
	return result, nil
}

// dispatch stores the dialog result of a session exactly once, then tells
// the watching screens and the outcome topic. It returns the session as it
// was just before closing.
func (cb *checkoutBusiness) dispatch(
	ctx context.Context,
	sessionID string,
	status session.PaymentStatus,
	dialog session.DialogResult,
	guard session.UpdateFunc,
) (*session.State, error) {
	var snapshot *session.State
	_, err := cb.update(ctx, sessionID, func(current *session.State) error {
		snapshot = nil
		if current.Result != nil {
			return ErrOutcomeDelivered
		}
		if !current.DialogOpen {
			return ErrDialogClosed
		}
		if guard != nil {
			if err := guard(current); err != nil {
				return err
			}
		}
		snapshot = current.Clone()

		stored := dialog
		if dialog.Payload != nil {
			payload := *dialog.Payload
			stored.Payload = &payload
			current.LastOutcome = &payload
		}
		current.PaymentStatus = status
		current.Result = &stored
		current.DialogOpen = false
		current.ClearAttempt()
		return nil
	})
	if err != nil {
		return nil, err
	}

	evt := hub.Event{Type: hub.EventOutcome, Outcome: dialog.Payload, Result: &dialog, TransactionID: snapshot.TransactionID}
	if !dialog.Confirmed {
		evt.Type = hub.EventClosed
	}
	cb.notify(sessionID, evt)
	cb.publishOutcome(ctx, snapshot, dialog)

	logrus.WithContext(ctx).WithField("session", sessionID).WithField("confirmed", dialog.Confirmed).Info("payment outcome delivered")
	return snapshot, nil
}

func (cb *checkoutBusiness) release(ctx context.Context, sessionID, attemptID string) {
	_, err := cb.update(context.WithoutCancel(ctx), sessionID, func(current *session.State) error {
		if current.AttemptID != attemptID || current.TransactionID != "" {
			return errAttemptSuperseded
		}
		current.ClearAttempt()
		return nil
	})
	if err != nil && !errors.Is(err, errAttemptSuperseded) {
		logrus.WithContext(ctx).WithError(err).WithField("session", sessionID).Warn("could not release payment reservation")
	}
}

func (cb *checkoutBusiness) load(ctx context.Context, sessionID string) (*session.State, error) {
	state, err := cb.store.Get(ctx, sessionID)
	if errors.Is(err, session.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	return state, err
}

func (cb *checkoutBusiness) update(ctx context.Context, sessionID string, fn session.UpdateFunc) (*session.State, error) {
	state, err := cb.store.Update(ctx, sessionID, fn)
	if errors.Is(err, session.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	return state, err
}

func (cb *checkoutBusiness) notify(sessionID string, evt hub.Event) {
	if cb.opts.Notifier == nil {
		return
	}
	cb.opts.Notifier.Publish(sessionID, evt)
}

func (cb *checkoutBusiness) publishOutcome(ctx context.Context, snapshot *session.State, dialog session.DialogResult) {
	if cb.opts.Publisher == nil || cb.opts.OutcomeTopic == "" {
		return
	}

	message := &models.OutcomeMessage{
		SessionID:     snapshot.ID,
		AttemptID:     snapshot.AttemptID,
		TransactionID: snapshot.TransactionID,
		Kind:          string(snapshot.Kind),
		Amount:        snapshot.Amount,
		Confirmed:     dialog.Confirmed,
		DeliveredAt:   cb.now().UTC(),
	}
	if dialog.Payload != nil {
		message.Payment = dialog.Payload.Payment
		message.Status = string(dialog.Payload.Status)
		message.Type = string(dialog.Payload.Type)
	}

	if err := cb.opts.Publisher.Publish(ctx, cb.opts.OutcomeTopic, message); err != nil {
		logrus.WithContext(ctx).WithError(err).WithField("session", snapshot.ID).Warn("could not publish payment outcome")
	}
}

// saveAttempt records the attempt of state. Audit records never block the
// checkout, failures are only logged.
func (cb *checkoutBusiness) saveAttempt(ctx context.Context, state *session.State, attemptState string, outcome *session.Outcome, extra datatypes.JSONMap) {
	if cb.opts.Emitter == nil || state.AttemptID == "" {
		return
	}

	attempt := &models.Attempt{
		SessionID:     state.ID,
		Kind:          string(state.Kind),
		Phone:         state.Phone,
		Amount:        decimal.NullDecimal{Decimal: utility.CleanDecimal(state.Amount), Valid: true},
		CashierID:     state.CashierID,
		ConfigID:      state.ConfigID,
		TransactionID: state.TransactionID,
		State:         attemptState,
		Extra:         extra,
	}
	attempt.ID = state.AttemptID
	if outcome != nil {
		attempt.Outcome = datatypes.JSONMap{
			"payment": outcome.Payment,
			"status":  string(outcome.Status),
			"type":    string(outcome.Type),
		}
	}

	event := events.AttemptSave{}
	if err := cb.opts.Emitter.Emit(ctx, event.Name(), attempt); err != nil {
		logrus.WithContext(ctx).WithError(err).WithField("attempt", attempt.ID).Warn("could not emit attempt event")
	}
}

func (cb *checkoutBusiness) saveStatus(ctx context.Context, state *session.State, attemptState, code, message string) {
	if cb.opts.Emitter == nil || state.AttemptID == "" {
		return
	}

	status := &models.AttemptStatus{
		AttemptID: state.AttemptID,
		State:     attemptState,
		Code:      code,
		Message:   message,
		Extra: datatypes.JSONMap{
			"session_id":     state.ID,
			"transaction_id": state.TransactionID,
		},
	}
	status.GenID(ctx)

	event := events.AttemptStatusSave{}
	if err := cb.opts.Emitter.Emit(ctx, event.Name(), status); err != nil {
		logrus.WithContext(ctx).WithError(err).WithField("attempt", state.AttemptID).Warn("could not emit attempt status event")
	}
}

func openDialog(state *session.State) error {
	if state.Result != nil {
		return ErrOutcomeDelivered
	}
	if !state.DialogOpen {
		return ErrDialogClosed
	}
	return nil
}

// sameAttempt guards against acting on a status read for an attempt that
// has since been replaced or cancelled.
func sameAttempt(checked *session.State) session.UpdateFunc {
	return func(current *session.State) error {
		if current.AttemptID != checked.AttemptID || current.TransactionID != checked.TransactionID {
			return errAttemptSuperseded
		}
		return nil
	}
}

func deliveredCheck(state *session.State) *CheckResult {
	return &CheckResult{
		SessionID:        state.ID,
		Status:           CheckDelivered,
		Terminal:         true,
		Outcome:          state.LastOutcome,
		Result:           state.Result,
		AlreadyDelivered: true,
	}
}

func newAttemptID(ctx context.Context) string {
	attempt := models.Attempt{}
	attempt.GenID(ctx)
	return attempt.GetID()
}

// attemptOpen reports whether the attempt recorded on snapshot has not
// reached a terminal state yet.
func attemptOpen(snapshot *session.State) bool {
	return snapshot.AttemptID != "" && (snapshot.Pending() || snapshot.Kind == session.KindTill)
}
