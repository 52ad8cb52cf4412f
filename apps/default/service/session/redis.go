package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/antinvestor/service-checkout/apps/default/service/utility"
	"github.com/go-redis/redis"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	sessionKeyPrefix     = "checkout:session:"
	transactionKeyPrefix = "checkout:txn:"
	tillKeyPrefix        = "checkout:till:"

	maxUpdateRetries = 10
)

// RedisStore keeps sessions in Redis so several replicas can serve the same
// checkout. Changes go through WATCH/MULTI so concurrent updates to one
// session are applied one after the other.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl, now: time.Now}
}

func sessionKey(id string) string {
	return sessionKeyPrefix + id
}

func transactionKey(transactionID string) string {
	return transactionKeyPrefix + transactionID
}

func tillKey(amount decimal.Decimal) string {
	return tillKeyPrefix + utility.AmountKey(amount)
}

func (r *RedisStore) Get(ctx context.Context, id string) (*State, error) {
	return r.read(r.client.WithContext(ctx), id)
}

func (r *RedisStore) Save(ctx context.Context, state *State) error {
	_, err := r.mutate(ctx, state.ID, func(old *State) (*State, error) {
		next := state.Clone()
		if old != nil && next.CreatedAt.IsZero() {
			next.CreatedAt = old.CreatedAt
		}
		if next.CreatedAt.IsZero() {
			next.CreatedAt = r.now()
		}
		return next, nil
	})
	return err
}

func (r *RedisStore) Update(ctx context.Context, id string, fn UpdateFunc) (*State, error) {
	return r.mutate(ctx, id, func(old *State) (*State, error) {
		if old == nil {
			return nil, ErrNotFound
		}
		next := old.Clone()
		if err := fn(next); err != nil {
			return nil, err
		}
		return next, nil
	})
}

func (r *RedisStore) Delete(ctx context.Context, id string) error {
	_, err := r.mutate(ctx, id, func(_ *State) (*State, error) {
		return nil, nil
	})
	return err
}

func (r *RedisStore) FindByTransaction(ctx context.Context, transactionID string) (*State, error) {
	if transactionID == "" {
		return nil, ErrNotFound
	}

	client := r.client.WithContext(ctx)
	id, err := client.Get(transactionKey(transactionID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	state, err := r.read(client, id)
	if err != nil {
		return nil, err
	}
	if state.TransactionID != transactionID {
		return nil, ErrNotFound
	}
	return state, nil
}

func (r *RedisStore) FindByAmount(ctx context.Context, amount decimal.Decimal) ([]*State, error) {
	client := r.client.WithContext(ctx)
	key := tillKey(amount)

	ids, err := client.SMembers(key).Result()
	if err != nil {
		return nil, err
	}

	var matches []*State
	for _, id := range ids {
		state, err := r.read(client, id)
		if errors.Is(err, ErrNotFound) {
			if remErr := client.SRem(key, id).Err(); remErr != nil {
				logrus.WithError(remErr).WithField("session", id).Warn("could not drop expired session from till index")
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		if state.awaitingTill() && utility.AmountKey(state.Amount) == utility.AmountKey(amount) {
			matches = append(matches, state)
		}
	}
	return matches, nil
}

func (r *RedisStore) read(client *redis.Client, id string) (*State, error) {
	raw, err := client.Get(sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeState(raw)
}

// mutate applies fn to the stored session inside an optimistic transaction.
// fn receives nil when the session does not exist; returning a nil state
// deletes it.
func (r *RedisStore) mutate(ctx context.Context, id string, fn func(old *State) (*State, error)) (*State, error) {
	client := r.client.WithContext(ctx)
	key := sessionKey(id)

	for attempt := 0; attempt < maxUpdateRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var written *State
		err := client.Watch(func(tx *redis.Tx) error {
			var old *State
			raw, err := tx.Get(key).Bytes()
			switch {
			case errors.Is(err, redis.Nil):
			case err != nil:
				return err
			default:
				if old, err = decodeState(raw); err != nil {
					return err
				}
			}

			next, err := fn(old)
			if err != nil {
				return err
			}

			var payload []byte
			if next != nil {
				next.ID = id
				next.UpdatedAt = r.now()
				if payload, err = json.Marshal(next); err != nil {
					return err
				}
			}

			_, err = tx.Pipelined(func(pipe redis.Pipeliner) error {
				if next == nil {
					pipe.Del(key)
				} else {
					pipe.Set(key, payload, r.ttl)
				}
				r.writeIndexes(pipe, id, old, next)
				return nil
			})
			if err == nil {
				written = next
			}
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			logrus.WithField("session", id).WithField("attempt", attempt+1).Debug("session changed while updating, retrying")
			continue
		}
		if err != nil {
			return nil, err
		}
		return written.Clone(), nil
	}

	return nil, fmt.Errorf("session %s: %w", id, ErrConflict)
}

// writeIndexes keeps the transaction and till lookups in step with the
// session they point at.
func (r *RedisStore) writeIndexes(pipe redis.Pipeliner, id string, old, next *State) {
	var oldTxn, nextTxn string
	if old != nil {
		oldTxn = old.TransactionID
	}
	if next != nil {
		nextTxn = next.TransactionID
	}
	if oldTxn != "" && oldTxn != nextTxn {
		pipe.Del(transactionKey(oldTxn))
	}
	if nextTxn != "" {
		pipe.Set(transactionKey(nextTxn), id, r.ttl)
	}

	oldTill := old != nil && old.awaitingTill()
	nextTill := next != nil && next.awaitingTill()
	if oldTill && (!nextTill || !old.Amount.Equal(next.Amount)) {
		pipe.SRem(tillKey(old.Amount), id)
	}
	if nextTill {
		pipe.SAdd(tillKey(next.Amount), id)
		if r.ttl > 0 {
			pipe.Expire(tillKey(next.Amount), r.ttl)
		}
	}
}

func decodeState(raw []byte) (*State, error) {
	var state State
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("could not decode session: %w", err)
	}
	return &state, nil
}
