package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStoreSuite exercises the behaviour every Store must share.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("save and get", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		cashier := int64(3)

		require.NoError(t, store.Save(ctx, &State{ID: "s1", Kind: KindMpesa, Amount: decimal.NewFromInt(100), CashierID: &cashier, DialogOpen: true}))

		state, err := store.Get(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, KindMpesa, state.Kind)
		assert.True(t, state.Amount.Equal(decimal.NewFromInt(100)))
		require.NotNil(t, state.CashierID)
		assert.Equal(t, int64(3), *state.CashierID)
		assert.False(t, state.CreatedAt.IsZero())

		_, err = store.Get(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("update applies and aborts", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		require.NoError(t, store.Save(ctx, &State{ID: "s1", Kind: KindMpesa, Amount: decimal.NewFromInt(100), DialogOpen: true}))

		updated, err := store.Update(ctx, "s1", func(state *State) error {
			state.TransactionID = "T1"
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, "T1", updated.TransactionID)

		boom := errors.New("boom")
		_, err = store.Update(ctx, "s1", func(state *State) error {
			state.TransactionID = "T2"
			return boom
		})
		assert.ErrorIs(t, err, boom)

		state, err := store.Get(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, "T1", state.TransactionID)

		_, err = store.Update(ctx, "missing", func(*State) error { return nil })
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("returned state is a copy", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		require.NoError(t, store.Save(ctx, &State{ID: "s1", Kind: KindMpesa, Amount: decimal.NewFromInt(1)}))

		state, err := store.Get(ctx, "s1")
		require.NoError(t, err)
		state.TransactionID = "local"

		again, err := store.Get(ctx, "s1")
		require.NoError(t, err)
		assert.Empty(t, again.TransactionID)
	})

	t.Run("find by transaction follows the session", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		require.NoError(t, store.Save(ctx, &State{ID: "s1", Kind: KindMpesa, Amount: decimal.NewFromInt(100), DialogOpen: true}))

		_, err := store.Update(ctx, "s1", func(state *State) error {
			state.TransactionID = "T1"
			return nil
		})
		require.NoError(t, err)

		found, err := store.FindByTransaction(ctx, "T1")
		require.NoError(t, err)
		assert.Equal(t, "s1", found.ID)

		_, err = store.Update(ctx, "s1", func(state *State) error {
			state.ClearAttempt()
			return nil
		})
		require.NoError(t, err)

		_, err = store.FindByTransaction(ctx, "T1")
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = store.FindByTransaction(ctx, "")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("find by amount only returns open till sessions", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		require.NoError(t, store.Save(ctx, &State{ID: "till-a", Kind: KindTill, Amount: decimal.RequireFromString("250"), DialogOpen: true}))
		require.NoError(t, store.Save(ctx, &State{ID: "till-b", Kind: KindTill, Amount: decimal.RequireFromString("250.00"), DialogOpen: true}))
		require.NoError(t, store.Save(ctx, &State{ID: "till-closed", Kind: KindTill, Amount: decimal.RequireFromString("250"), DialogOpen: false}))
		require.NoError(t, store.Save(ctx, &State{ID: "stk", Kind: KindMpesa, Amount: decimal.RequireFromString("250"), DialogOpen: true}))
		require.NoError(t, store.Save(ctx, &State{ID: "till-other", Kind: KindTill, Amount: decimal.RequireFromString("300"), DialogOpen: true}))

		matches, err := store.FindByAmount(ctx, decimal.NewFromInt(250))
		require.NoError(t, err)

		var ids []string
		for _, m := range matches {
			ids = append(ids, m.ID)
		}
		assert.ElementsMatch(t, []string{"till-a", "till-b"}, ids)

		_, err = store.Update(ctx, "till-a", func(state *State) error {
			state.DialogOpen = false
			return nil
		})
		require.NoError(t, err)

		matches, err = store.FindByAmount(ctx, decimal.NewFromInt(250))
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, "till-b", matches[0].ID)
	})

	t.Run("delete removes session and indexes", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		require.NoError(t, store.Save(ctx, &State{ID: "s1", Kind: KindTill, Amount: decimal.NewFromInt(10), DialogOpen: true, TransactionID: "T9"}))

		require.NoError(t, store.Delete(ctx, "s1"))

		_, err := store.Get(ctx, "s1")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = store.FindByTransaction(ctx, "T9")
		assert.ErrorIs(t, err, ErrNotFound)
		matches, err := store.FindByAmount(ctx, decimal.NewFromInt(10))
		require.NoError(t, err)
		assert.Empty(t, matches)

		assert.NoError(t, store.Delete(ctx, "never-existed"))
	})

	t.Run("concurrent updates are serialized", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		require.NoError(t, store.Save(ctx, &State{ID: "s1", Kind: KindMpesa, Amount: decimal.NewFromInt(1), DialogOpen: true}))

		const writers = 8
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			winners int
		)
		for i := range writers {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := store.Update(ctx, "s1", func(state *State) error {
					if state.Initiating {
						return errors.New("already initiating")
					}
					state.Initiating = true
					state.Phone = fmt.Sprintf("07000000%02d", i)
					return nil
				})
				if err == nil {
					mu.Lock()
					winners++
					mu.Unlock()
				}
			}(i)
		}
		wg.Wait()

		assert.Equal(t, 1, winners)
	})
}
