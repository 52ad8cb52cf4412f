package business

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/antinvestor/service-checkout/apps/default/service/backend"
	"github.com/antinvestor/service-checkout/apps/default/service/hub"
	"github.com/antinvestor/service-checkout/apps/default/service/models"
	"github.com/antinvestor/service-checkout/apps/default/service/session"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const outcomeTopic = "checkout.outcomes"

type fakeEmitter struct {
	mu       sync.Mutex
	names    []string
	payloads []any
}

func (f *fakeEmitter) Emit(_ context.Context, name string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.names = append(f.names, name)
	f.payloads = append(f.payloads, payload)
	return nil
}

func (f *fakeEmitter) attemptStates() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var states []string
	for _, payload := range f.payloads {
		if attempt, ok := payload.(*models.Attempt); ok {
			states = append(states, attempt.State)
		}
	}
	return states
}

type fakePublisher struct {
	mu       sync.Mutex
	topics   []string
	messages []*models.OutcomeMessage
}

func (f *fakePublisher) Publish(_ context.Context, name string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topics = append(f.topics, name)
	f.messages = append(f.messages, payload.(*models.OutcomeMessage))
	return nil
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

type fakeNotifier struct {
	mu     sync.Mutex
	events map[string][]hub.EventType
}

func (f *fakeNotifier) Publish(sessionID string, evt hub.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.events == nil {
		f.events = make(map[string][]hub.EventType)
	}
	f.events[sessionID] = append(f.events[sessionID], evt.Type)
}

func (f *fakeNotifier) types(sessionID string) []hub.EventType {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]hub.EventType(nil), f.events[sessionID]...)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testCheckout struct {
	cb        *checkoutBusiness
	client    *backend.MockClient
	store     *session.MemoryStore
	emitter   *fakeEmitter
	publisher *fakePublisher
	notifier  *fakeNotifier
	clock     *clock
}

func newTestCheckout(t *testing.T) *testCheckout {
	t.Helper()

	ctrl := gomock.NewController(t)
	tc := &testCheckout{
		client:    backend.NewMockClient(ctrl),
		store:     session.NewMemoryStore(time.Hour),
		emitter:   &fakeEmitter{},
		publisher: &fakePublisher{},
		notifier:  &fakeNotifier{},
		clock:     &clock{now: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)},
	}

	checkout, err := NewCheckoutBusiness(context.Background(), tc.store, tc.client, Options{
		BackendTimeout: time.Second,
		PendingTTL:     15 * time.Minute,
		OutcomeTopic:   outcomeTopic,
		Emitter:        tc.emitter,
		Publisher:      tc.publisher,
		Notifier:       tc.notifier,
	})
	require.NoError(t, err)

	tc.cb = checkout.(*checkoutBusiness)
	tc.cb.now = tc.clock.Now
	return tc
}

func (tc *testCheckout) openMpesa(t *testing.T, sessionID string, amount int64) *session.State {
	t.Helper()
	state, err := tc.cb.Open(context.Background(), OpenRequest{
		SessionID: sessionID,
		Lines:     []PaymentLine{line(amount, true, false)},
	})
	require.NoError(t, err)
	return state
}

func (tc *testCheckout) openTill(t *testing.T, sessionID string, amount int64) *session.State {
	t.Helper()
	state, err := tc.cb.Open(context.Background(), OpenRequest{
		SessionID: sessionID,
		Lines:     []PaymentLine{line(amount, false, true)},
	})
	require.NoError(t, err)
	return state
}

func (tc *testCheckout) initiate(t *testing.T, sessionID, transactionID string) *InitiateResult {
	t.Helper()
	tc.client.EXPECT().
		Initiate(gomock.Any(), gomock.Any()).
		Return(&backend.InitiateResponse{TransactionID: transactionID}, nil)

	result, err := tc.cb.Initiate(context.Background(), sessionID, PaymentRequest{Phone: "0712345678"})
	require.NoError(t, err)
	return result
}

func statusOf(code string) *backend.StatusResponse {
	return &backend.StatusResponse{Status: code}
}

func TestNewCheckoutBusinessRequiresDependencies(t *testing.T) {
	ctrl := gomock.NewController(t)

	_, err := NewCheckoutBusiness(context.Background(), nil, backend.NewMockClient(ctrl), Options{})
	assert.ErrorIs(t, err, ErrInitializationFail)

	_, err = NewCheckoutBusiness(context.Background(), session.NewMemoryStore(time.Minute), nil, Options{})
	assert.ErrorIs(t, err, ErrInitializationFail)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	tc := newTestCheckout(t)

	t.Run("requires lines", func(t *testing.T) {
		_, err := tc.cb.Open(ctx, OpenRequest{SessionID: "empty"})
		var validationErr *ValidationError
		require.ErrorAs(t, err, &validationErr)
		assert.Equal(t, "lines", validationErr.Field)
	})

	t.Run("mobile money needs a positive amount", func(t *testing.T) {
		_, err := tc.cb.Open(ctx, OpenRequest{SessionID: "zero", Lines: []PaymentLine{line(0, true, false)}})
		var validationErr *ValidationError
		require.ErrorAs(t, err, &validationErr)
		assert.Equal(t, "amount", validationErr.Field)
	})

	t.Run("mixed methods open in till mode", func(t *testing.T) {
		state, err := tc.cb.Open(ctx, OpenRequest{
			SessionID: "mixed",
			Lines:     []PaymentLine{line(100, true, false), line(100, false, true)},
		})
		require.NoError(t, err)
		assert.Equal(t, session.KindTill, state.Kind)
		assert.Equal(t, "200", state.Amount.String())
		assert.NotEmpty(t, state.AttemptID)
	})

	t.Run("mpesa opens the dialog", func(t *testing.T) {
		state := tc.openMpesa(t, "mpesa", 100)
		assert.Equal(t, session.KindMpesa, state.Kind)
		assert.True(t, state.DialogOpen)
		assert.Empty(t, state.AttemptID)
		assert.Equal(t, "100", state.Amount.String())
	})

	t.Run("till starts an attempt straight away", func(t *testing.T) {
		state := tc.openTill(t, "till", 500)
		assert.Equal(t, session.KindTill, state.Kind)
		assert.True(t, state.DialogOpen)
		assert.NotEmpty(t, state.AttemptID)
		assert.Contains(t, tc.emitter.attemptStates(), models.AttemptStateAwaitingPayment)
	})

	t.Run("standard has no dialog", func(t *testing.T) {
		state, err := tc.cb.Open(ctx, OpenRequest{Lines: []PaymentLine{line(100, false, false)}})
		require.NoError(t, err)
		assert.NotEmpty(t, state.ID)
		assert.False(t, state.DialogOpen)
	})
}

func TestStkPaymentDeliveredOnce(t *testing.T) {
	ctx := context.Background()
	tc := newTestCheckout(t)
	tc.openMpesa(t, "s1", 100)

	tc.client.EXPECT().
		Initiate(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, request backend.InitiateRequest) (*backend.InitiateResponse, error) {
			assert.Equal(t, "0712345678", request.Phone)
			assert.True(t, request.Amount.Equal(decimal.NewFromInt(100)))
			return &backend.InitiateResponse{TransactionID: "T1"}, nil
		})

	initiated, err := tc.cb.Initiate(ctx, "s1", PaymentRequest{Phone: "712 345 678"})
	require.NoError(t, err)
	assert.Equal(t, "T1", initiated.TransactionID)
	assert.Equal(t, MessageEnterPin, initiated.Message)
	assert.NotEmpty(t, initiated.AttemptID)

	tc.client.EXPECT().ValidateByTransaction(gomock.Any(), "T1").Return(statusOf(backend.StatusInProgress), nil)
	tc.client.EXPECT().ValidateByTransaction(gomock.Any(), "T1").Return(statusOf(backend.StatusSuccess), nil)

	check, err := tc.cb.Recheck(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, CheckInProgress, check.Status)
	assert.Equal(t, MessageInProgress, check.Message)
	assert.False(t, check.Terminal)

	check, err = tc.cb.Recheck(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, CheckSucceeded, check.Status)
	assert.True(t, check.Terminal)
	require.NotNil(t, check.Outcome)
	assert.Equal(t, session.Outcome{Payment: true, Status: session.OutcomeSuccess, Type: session.OutcomeTypeSTK}, *check.Outcome)
	require.NotNil(t, check.Result)
	assert.True(t, check.Result.Confirmed)

	again, err := tc.cb.Recheck(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, again.AlreadyDelivered)
	assert.Equal(t, CheckDelivered, again.Status)

	state, err := tc.cb.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, session.PaymentStatusPaid, state.PaymentStatus)
	assert.False(t, state.DialogOpen)
	assert.False(t, state.Pending())

	require.Equal(t, 1, tc.publisher.count())
	message := tc.publisher.messages[0]
	assert.Equal(t, outcomeTopic, tc.publisher.topics[0])
	assert.Equal(t, "T1", message.TransactionID)
	assert.True(t, message.Payment)
	assert.Equal(t, "stk", message.Type)

	assert.Equal(t, []hub.EventType{hub.EventPromptSent, hub.EventInProgress, hub.EventOutcome}, tc.notifier.types("s1"))
	assert.Equal(t,
		[]string{models.AttemptStateAwaitingPin, models.AttemptStateSucceeded},
		tc.emitter.attemptStates())

	committed, err := tc.cb.Commit(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, CommitPaid, committed.Decision)
	assert.True(t, committed.Outcome.Payment)

	_, err = tc.cb.Get(ctx, "s1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestInitiateRejections(t *testing.T) {
	ctx := context.Background()
	tc := newTestCheckout(t)
	tc.openMpesa(t, "s1", 100)
	tc.openTill(t, "till", 100)

	t.Run("invalid phone never reaches the backend", func(t *testing.T) {
		_, err := tc.cb.Initiate(ctx, "s1", PaymentRequest{Phone: "07123"})
		var validationErr *ValidationError
		require.ErrorAs(t, err, &validationErr)
		assert.Equal(t, "invalidMpesaNum", validationErr.Field)
		assert.Equal(t, "Invalid Phone Number!", validationErr.Message)
	})

	t.Run("provider prefix rules apply", func(t *testing.T) {
		_, err := tc.cb.Initiate(ctx, "s1", PaymentRequest{Phone: "0712345678", Provider: "eagle_mtn"})
		var validationErr *ValidationError
		require.ErrorAs(t, err, &validationErr)
		assert.Equal(t, "invalidMtnNum", validationErr.Field)
	})

	t.Run("amount must be positive", func(t *testing.T) {
		zero := decimal.Zero
		_, err := tc.cb.Initiate(ctx, "s1", PaymentRequest{Phone: "0712345678", Amount: &zero})
		var validationErr *ValidationError
		require.ErrorAs(t, err, &validationErr)
		assert.Equal(t, "amount", validationErr.Field)
	})

	t.Run("till sessions do not initiate", func(t *testing.T) {
		_, err := tc.cb.Initiate(ctx, "till", PaymentRequest{Phone: "0712345678"})
		assert.ErrorIs(t, err, ErrMethodMismatch)
	})

	t.Run("unknown session", func(t *testing.T) {
		_, err := tc.cb.Initiate(ctx, "missing", PaymentRequest{Phone: "0712345678"})
		assert.ErrorIs(t, err, ErrSessionNotFound)
	})

	state, err := tc.cb.Get(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, state.Pending())
}

func TestInitiateSingleAttemptInFlight(t *testing.T) {
	ctx := context.Background()
	tc := newTestCheckout(t)
	tc.openMpesa(t, "s1", 100)
	tc.initiate(t, "s1", "T1")

	_, err := tc.cb.Initiate(ctx, "s1", PaymentRequest{Phone: "0712345678"})
	assert.ErrorIs(t, err, ErrAttemptInFlight)

	tc.clock.Advance(16 * time.Minute)
	replaced := tc.initiate(t, "s1", "T2")
	assert.Equal(t, "T2", replaced.TransactionID)

	state, err := tc.cb.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "T2", state.TransactionID)
	assert.Contains(t, tc.emitter.attemptStates(), models.AttemptStateExpired)
}

func TestInitiateBackendFailures(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		response *backend.InitiateResponse
		err      error
		check    func(t *testing.T, err error)
	}{
		{
			name: "timeout",
			err:  &backend.TransportError{Op: "post", Err: context.DeadlineExceeded},
			check: func(t *testing.T, err error) {
				var netErr *NetworkError
				require.ErrorAs(t, err, &netErr)
				assert.True(t, netErr.Timeout)
			},
		},
		{
			name:     "no transaction id",
			response: &backend.InitiateResponse{Message: "till not configured"},
			check: func(t *testing.T, err error) {
				var initErr *InitiationError
				require.ErrorAs(t, err, &initErr)
				assert.Equal(t, MessageSomethingWrong, initErr.Message)
				assert.Contains(t, err.Error(), "till not configured")
			},
		},
		{
			name: "remote error",
			err:  &backend.RemoteError{Code: 200, Message: "Odoo Server Error"},
			check: func(t *testing.T, err error) {
				var initErr *InitiationError
				require.ErrorAs(t, err, &initErr)
				var remoteErr *backend.RemoteError
				assert.ErrorAs(t, err, &remoteErr)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tc := newTestCheckout(t)
			tc.openMpesa(t, "s1", 100)

			tc.client.EXPECT().Initiate(gomock.Any(), gomock.Any()).Return(tt.response, tt.err)

			_, err := tc.cb.Initiate(ctx, "s1", PaymentRequest{Phone: "0712345678"})
			require.Error(t, err)
			tt.check(t, err)

			state, err := tc.cb.Get(ctx, "s1")
			require.NoError(t, err)
			assert.False(t, state.Pending(), "a failed initiation must not hold the session")
			assert.True(t, state.DialogOpen)
			assert.Equal(t, []string{models.AttemptStateFailed}, tc.emitter.attemptStates())

			tc.initiate(t, "s1", "T9")
		})
	}
}

func TestRecheckFailureKeepsDialogOpen(t *testing.T) {
	ctx := context.Background()
	tc := newTestCheckout(t)
	tc.openMpesa(t, "s1", 100)
	tc.initiate(t, "s1", "T1")

	tc.client.EXPECT().ValidateByTransaction(gomock.Any(), "T1").Return(statusOf("TF"), nil)

	check, err := tc.cb.Recheck(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, CheckFailed, check.Status)
	assert.Equal(t, MessageFailed, check.Message)
	assert.Equal(t, session.OutcomeFailed, check.Outcome.Status)
	assert.Nil(t, check.Result)

	state, err := tc.cb.Get(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, state.DialogOpen)
	assert.False(t, state.Pending())
	assert.Nil(t, state.Result)
	assert.Zero(t, tc.publisher.count())

	_, err = tc.cb.Recheck(ctx, "s1")
	assert.ErrorIs(t, err, ErrNoPendingTransaction)

	tc.initiate(t, "s1", "T2")
}

func TestRecheckExpiresStalePending(t *testing.T) {
	ctx := context.Background()
	tc := newTestCheckout(t)
	tc.openMpesa(t, "s1", 100)
	tc.initiate(t, "s1", "T1")

	tc.clock.Advance(20 * time.Minute)
	tc.client.EXPECT().ValidateByTransaction(gomock.Any(), "T1").Return(statusOf(backend.StatusInProgress), nil)

	check, err := tc.cb.Recheck(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, CheckFailed, check.Status)
	assert.Contains(t, tc.emitter.attemptStates(), models.AttemptStateExpired)

	state, err := tc.cb.Get(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, state.Pending())
	assert.True(t, state.DialogOpen)
}

func TestRecheckBackendError(t *testing.T) {
	ctx := context.Background()
	tc := newTestCheckout(t)
	tc.openMpesa(t, "s1", 100)
	tc.initiate(t, "s1", "T1")

	tc.client.EXPECT().
		ValidateByTransaction(gomock.Any(), "T1").
		Return(nil, &backend.TransportError{Op: "post", Err: errors.New("connection refused")})

	_, err := tc.cb.Recheck(ctx, "s1")
	var netErr *NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.False(t, netErr.Timeout)

	state, err := tc.cb.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "T1", state.TransactionID)
}

func TestCancel(t *testing.T) {
	ctx := context.Background()

	t.Run("pending transaction needs confirmation", func(t *testing.T) {
		tc := newTestCheckout(t)
		tc.openMpesa(t, "s1", 100)
		tc.initiate(t, "s1", "T1")

		_, err := tc.cb.Cancel(ctx, "s1", false)
		assert.ErrorIs(t, err, ErrConfirmationRequired)
		assert.Equal(t, MessageConfirmCancel, err.Error())

		state, err := tc.cb.Get(ctx, "s1")
		require.NoError(t, err)
		assert.True(t, state.DialogOpen)

		result, err := tc.cb.Cancel(ctx, "s1", true)
		require.NoError(t, err)
		assert.False(t, result.Confirmed)
		assert.Nil(t, result.Payload)

		assert.Equal(t, models.AttemptStateFailed, tc.emitter.attemptStates()[1])
		assert.Equal(t, hub.EventClosed, tc.notifier.types("s1")[1])
		require.Equal(t, 1, tc.publisher.count())
		assert.False(t, tc.publisher.messages[0].Confirmed)

		committed, err := tc.cb.Commit(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, CommitAbort, committed.Decision)
		assert.Equal(t, "payment was cancelled", committed.Reason)

		_, err = tc.cb.Get(ctx, "s1")
		assert.ErrorIs(t, err, ErrSessionNotFound)
	})

	t.Run("nothing pending closes straight away", func(t *testing.T) {
		tc := newTestCheckout(t)
		tc.openMpesa(t, "s1", 100)

		result, err := tc.cb.Cancel(ctx, "s1", false)
		require.NoError(t, err)
		assert.False(t, result.Confirmed)

		_, err = tc.cb.Cancel(ctx, "s1", false)
		assert.ErrorIs(t, err, ErrOutcomeDelivered)
	})

	t.Run("standard checkout has no dialog", func(t *testing.T) {
		tc := newTestCheckout(t)
		_, err := tc.cb.Open(ctx, OpenRequest{SessionID: "cash", Lines: []PaymentLine{line(100, false, false)}})
		require.NoError(t, err)

		_, err = tc.cb.Cancel(ctx, "cash", true)
		assert.ErrorIs(t, err, ErrMethodMismatch)
	})
}

func TestRecordUnpaid(t *testing.T) {
	ctx := context.Background()
	tc := newTestCheckout(t)
	tc.openTill(t, "s1", 300)

	result, err := tc.cb.RecordUnpaid(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, result.Confirmed)
	assert.Equal(t, session.Outcome{Payment: false, Status: session.OutcomeCreated}, *result.Payload)
	assert.Contains(t, tc.emitter.attemptStates(), models.AttemptStateCreatedUnpaid)

	_, err = tc.cb.Cancel(ctx, "s1", true)
	assert.ErrorIs(t, err, ErrOutcomeDelivered)

	committed, err := tc.cb.Commit(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, CommitUnpaid, committed.Decision)
	assert.Equal(t, session.OutcomeCreated, committed.Outcome.Status)
}

func TestCommit(t *testing.T) {
	ctx := context.Background()
	tc := newTestCheckout(t)

	tc.openMpesa(t, "open", 100)
	committed, err := tc.cb.Commit(ctx, "open")
	require.NoError(t, err)
	assert.Equal(t, CommitAbort, committed.Decision)
	assert.Equal(t, "payment dialog is still open", committed.Reason)

	_, err = tc.cb.Get(ctx, "open")
	assert.NoError(t, err, "an open dialog keeps the session")

	_, err = tc.cb.Open(ctx, OpenRequest{SessionID: "cash", Lines: []PaymentLine{line(100, false, false)}})
	require.NoError(t, err)
	committed, err = tc.cb.Commit(ctx, "cash")
	require.NoError(t, err)
	assert.Equal(t, CommitStandard, committed.Decision)

	_, err = tc.cb.Commit(ctx, "cash")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestReopenCancelsPendingAttempt(t *testing.T) {
	tc := newTestCheckout(t)
	tc.openMpesa(t, "s1", 100)
	tc.initiate(t, "s1", "T1")

	state := tc.openMpesa(t, "s1", 250)
	assert.False(t, state.Pending())
	assert.Equal(t, "250", state.Amount.String())
	assert.Equal(t,
		[]string{models.AttemptStateAwaitingPin, models.AttemptStateCancelled},
		tc.emitter.attemptStates())
}

func TestReopenKeepsSettledResult(t *testing.T) {
	ctx := context.Background()
	tc := newTestCheckout(t)
	tc.openMpesa(t, "s1", 100)
	tc.initiate(t, "s1", "T1")

	tc.client.EXPECT().ValidateByTransaction(gomock.Any(), "T1").Return(statusOf(backend.StatusSuccess), nil)
	_, err := tc.cb.Recheck(ctx, "s1")
	require.NoError(t, err)

	state := tc.openMpesa(t, "s1", 100)
	assert.Equal(t, session.PaymentStatusPaid, state.PaymentStatus)
	assert.False(t, state.DialogOpen)

	_, err = tc.cb.Cancel(ctx, "s1", true)
	assert.ErrorIs(t, err, ErrOutcomeDelivered)

	committed, err := tc.cb.Commit(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, CommitPaid, committed.Decision)

	state = tc.openMpesa(t, "s1", 100)
	assert.True(t, state.DialogOpen, "a committed checkout opens afresh")
	assert.Equal(t, session.PaymentStatusNone, state.PaymentStatus)
}

func TestReopenAfterCancelStartsAfresh(t *testing.T) {
	ctx := context.Background()
	tc := newTestCheckout(t)
	tc.openMpesa(t, "s1", 100)

	_, err := tc.cb.Cancel(ctx, "s1", false)
	require.NoError(t, err)

	state := tc.openMpesa(t, "s1", 100)
	assert.True(t, state.DialogOpen)
	assert.Nil(t, state.Result)
}

func TestCloseDuringInitiation(t *testing.T) {
	tests := []struct {
		name  string
		close func(ctx context.Context, cb *checkoutBusiness) error
	}{
		{"cancel", func(ctx context.Context, cb *checkoutBusiness) error {
			_, err := cb.Cancel(ctx, "s1", true)
			return err
		}},
		{"record unpaid", func(ctx context.Context, cb *checkoutBusiness) error {
			_, err := cb.RecordUnpaid(ctx, "s1")
			return err
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			tc := newTestCheckout(t)
			tc.openMpesa(t, "s1", 100)

			tc.client.EXPECT().
				Initiate(gomock.Any(), gomock.Any()).
				DoAndReturn(func(_ context.Context, _ backend.InitiateRequest) (*backend.InitiateResponse, error) {
					require.NoError(t, tt.close(ctx, tc.cb))
					return &backend.InitiateResponse{TransactionID: "T9"}, nil
				})

			result, err := tc.cb.Initiate(ctx, "s1", PaymentRequest{Phone: "0712345678"})
			assert.ErrorIs(t, err, ErrDialogClosed)
			assert.Nil(t, result)

			state, err := tc.cb.Get(ctx, "s1")
			require.NoError(t, err)
			assert.Empty(t, state.TransactionID)
			assert.False(t, state.Pending())
			assert.False(t, state.DialogOpen)
			require.NotNil(t, state.Result)

			states := tc.emitter.attemptStates()
			require.NotEmpty(t, states)
			assert.Equal(t, models.AttemptStateCancelled, states[len(states)-1])
			assert.NotContains(t, states, models.AttemptStateAwaitingPin)
			assert.NotContains(t, tc.notifier.types("s1"), hub.EventPromptSent)
		})
	}
}

func TestTillNotification(t *testing.T) {
	ctx := context.Background()

	for _, kind := range []string{models.NotificationTypeTill, models.NotificationTypeBill} {
		t.Run(kind, func(t *testing.T) {
			tc := newTestCheckout(t)
			tc.openTill(t, "s1", 500)

			tc.client.EXPECT().
				ValidateByAmount(gomock.Any(), gomock.Any()).
				DoAndReturn(func(_ context.Context, amount decimal.Decimal) (*backend.StatusResponse, error) {
					assert.True(t, amount.Equal(decimal.NewFromInt(500)))
					return statusOf(backend.StatusSuccess), nil
				})

			amount := decimal.RequireFromString("500.00")
			result, err := tc.cb.HandleNotification(ctx, &models.Notification{Type: kind, Amount: &amount})
			require.NoError(t, err)
			assert.Equal(t, []string{"s1"}, result.Sessions)
			require.Len(t, result.Checks, 1)
			assert.Equal(t, CheckSucceeded, result.Checks[0].Status)
			assert.Equal(t, session.OutcomeType(kind), result.Checks[0].Outcome.Type)
		})
	}
}

func TestTillNotificationAmbiguousAmount(t *testing.T) {
	ctx := context.Background()
	tc := newTestCheckout(t)
	tc.openTill(t, "s1", 500)
	tc.openTill(t, "s2", 500)
	tc.openTill(t, "s3", 700)

	amount := decimal.NewFromInt(500)
	result, err := tc.cb.HandleNotification(ctx, &models.Notification{Type: models.NotificationTypeTill, Amount: &amount})
	require.NoError(t, err)
	assert.True(t, result.Ambiguous)
	assert.ElementsMatch(t, []string{"s1", "s2"}, result.Sessions)
	assert.Empty(t, result.Checks)

	assert.Equal(t, []hub.EventType{hub.EventAmbiguous}, tc.notifier.types("s1"))
	assert.Equal(t, []hub.EventType{hub.EventAmbiguous}, tc.notifier.types("s2"))
	assert.Empty(t, tc.notifier.types("s3"))

	tc.client.EXPECT().ValidateByAmount(gomock.Any(), gomock.Any()).Return(statusOf(backend.StatusSuccess), nil)

	check, err := tc.cb.Recheck(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, check.Ambiguous)
	assert.Equal(t, CheckSucceeded, check.Status)
	assert.Equal(t, session.OutcomeTypeTill, check.Outcome.Type)
}

func TestTillFailureStartsNewAttempt(t *testing.T) {
	ctx := context.Background()
	tc := newTestCheckout(t)
	opened := tc.openTill(t, "s1", 500)

	tc.client.EXPECT().ValidateByAmount(gomock.Any(), gomock.Any()).Return(statusOf("TF"), nil)

	check, err := tc.cb.Recheck(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, CheckFailed, check.Status)

	state, err := tc.cb.Get(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, state.DialogOpen)
	assert.NotEmpty(t, state.AttemptID)
	assert.NotEqual(t, opened.AttemptID, state.AttemptID)
}

func TestNotify(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown transaction is dropped", func(t *testing.T) {
		tc := newTestCheckout(t)
		assert.NoError(t, tc.cb.Notify(ctx, &models.Notification{Type: "stk", TransactionID: "unknown"}))
	})

	t.Run("malformed notification is dropped", func(t *testing.T) {
		tc := newTestCheckout(t)
		assert.NoError(t, tc.cb.Notify(ctx, nil))
		assert.NoError(t, tc.cb.Notify(ctx, &models.Notification{Type: models.NotificationTypeTill}))
	})

	t.Run("backend failures are returned for redelivery", func(t *testing.T) {
		tc := newTestCheckout(t)
		tc.openMpesa(t, "s1", 100)
		tc.initiate(t, "s1", "T1")

		tc.client.EXPECT().ValidateByTransaction(gomock.Any(), "T1").Return(nil, errors.New("odoo down"))
		assert.Error(t, tc.cb.Notify(ctx, &models.Notification{Type: "stk", TransactionID: "T1"}))
	})

	t.Run("success closes the dialog", func(t *testing.T) {
		tc := newTestCheckout(t)
		tc.openMpesa(t, "s1", 100)
		tc.initiate(t, "s1", "T1")

		tc.client.EXPECT().ValidateByTransaction(gomock.Any(), "T1").Return(statusOf(backend.StatusSuccess), nil)
		require.NoError(t, tc.cb.Notify(ctx, &models.Notification{Type: "stk", TransactionID: "T1", Status: "TS"}))

		state, err := tc.cb.Get(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, session.PaymentStatusPaid, state.PaymentStatus)
	})
}

func TestConcurrentChecksDeliverOnce(t *testing.T) {
	ctx := context.Background()
	tc := newTestCheckout(t)
	tc.openMpesa(t, "s1", 100)
	tc.initiate(t, "s1", "T1")

	tc.client.EXPECT().
		ValidateByTransaction(gomock.Any(), "T1").
		Return(statusOf(backend.StatusSuccess), nil).
		AnyTimes()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_, err := tc.cb.Recheck(ctx, "s1")
				assert.NoError(t, err)
				return
			}
			assert.NoError(t, tc.cb.Notify(ctx, &models.Notification{Type: "stk", TransactionID: "T1"}))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, tc.publisher.count())
	assert.Equal(t, []hub.EventType{hub.EventPromptSent, hub.EventOutcome}, tc.notifier.types("s1"))
}

func TestCreateTemporaryOrder(t *testing.T) {
	ctx := context.Background()
	tc := newTestCheckout(t)

	cashier := int64(7)
	_, err := tc.cb.Open(ctx, OpenRequest{SessionID: "s1", CashierID: &cashier, Lines: []PaymentLine{line(100, true, false)}})
	require.NoError(t, err)
	tc.openMpesa(t, "anonymous", 100)

	tc.client.EXPECT().CreateTemporaryOrder(gomock.Any(), int64(7), "REF-1").Return(nil)
	require.NoError(t, tc.cb.CreateTemporaryOrder(ctx, "s1", "REF-1"))

	var validationErr *ValidationError
	assert.ErrorAs(t, tc.cb.CreateTemporaryOrder(ctx, "s1", ""), &validationErr)
	assert.ErrorAs(t, tc.cb.CreateTemporaryOrder(ctx, "anonymous", "REF-1"), &validationErr)

	tc.client.EXPECT().CreateTemporaryOrder(gomock.Any(), int64(7), "REF-2").Return(errors.New("rejected"))
	err = tc.cb.CreateTemporaryOrder(ctx, "s1", "REF-2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "temporary order")
}
