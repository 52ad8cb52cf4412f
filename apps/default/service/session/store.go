package session

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when a session does not exist or has expired.
	ErrNotFound = errors.New("checkout session not found")

	// ErrConflict is returned when an update kept losing to concurrent writers.
	ErrConflict = errors.New("checkout session was modified concurrently")
)

// UpdateFunc mutates a session in place. Returning an error aborts the
// update and leaves the stored session untouched.
type UpdateFunc func(state *State) error

// Store keeps checkout sessions for a bounded time.
//
// Update is the only way to change an existing session and is serialized
// per session, so decisions taken inside fn see the latest state.
type Store interface {
	Get(ctx context.Context, id string) (*State, error)
	Save(ctx context.Context, state *State) error
	Update(ctx context.Context, id string, fn UpdateFunc) (*State, error)
	Delete(ctx context.Context, id string) error

	FindByTransaction(ctx context.Context, transactionID string) (*State, error)
	FindByAmount(ctx context.Context, amount decimal.Decimal) ([]*State, error)
}
