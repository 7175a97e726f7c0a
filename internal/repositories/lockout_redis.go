package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/BradenHooton/parlourguard/internal/models"
)

const (
	lockoutKeyPrefix = "lockout:"

	// lockoutRetention keeps a failure counter alive this long after the last failure
	lockoutRetention = 24 * time.Hour

	lockoutMaxTxRetries = 8
)

// ErrLockoutContention is returned when optimistic updates keep losing to concurrent writers
var ErrLockoutContention = errors.New("lockout update contention")

// RedisLockoutRepository keeps lockout rows as JSON values in redis.
// Updates use WATCH/MULTI so concurrent failures from several instances are never lost.
type RedisLockoutRepository struct {
	redis *redis.Client
}

func NewRedisLockoutRepository(client *redis.Client) *RedisLockoutRepository {
	return &RedisLockoutRepository{redis: client}
}

func (r *RedisLockoutRepository) key(email string) string {
	return lockoutKeyPrefix + email
}

func (r *RedisLockoutRepository) read(ctx context.Context, getter redis.Cmdable, email string) (*models.AccountLockout, error) {
	raw, err := getter.Get(ctx, r.key(email)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", models.ErrDependencyUnavailable, err)
	}

	var row models.AccountLockout
	if err := json.Unmarshal(raw, &row); err != nil {
		return nil, fmt.Errorf("failed to decode lockout: %w", err)
	}
	return &row, nil
}

func (r *RedisLockoutRepository) ttl(row *models.AccountLockout, now time.Time) time.Duration {
	ttl := lockoutRetention
	if row.LockedUntil != nil {
		if untilLock := row.LockedUntil.Sub(now) + time.Minute; untilLock > ttl {
			ttl = untilLock
		}
	}
	return ttl
}

func (r *RedisLockoutRepository) RecordFailure(ctx context.Context, email string, now time.Time, policy models.LockoutPolicy) (*models.AccountLockout, bool, error) {
	key := r.key(email)

	var (
		row     *models.AccountLockout
		engaged bool
	)

	txf := func(tx *redis.Tx) error {
		current, err := r.read(ctx, tx, email)
		switch {
		case errors.Is(err, models.ErrNotFound):
			current = &models.AccountLockout{Email: email}
		case err != nil:
			return err
		}

		engaged = current.ApplyFailure(now, policy)

		payload, err := json.Marshal(current)
		if err != nil {
			return fmt.Errorf("failed to encode lockout: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, r.ttl(current, now))
			return nil
		})
		if err == nil {
			row = current
		}
		return err
	}

	for i := 0; i < lockoutMaxTxRetries; i++ {
		err := r.redis.Watch(ctx, txf, key)
		if err == nil {
			return row, engaged, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return nil, false, fmt.Errorf("failed to record failed login: %w", err)
	}

	return nil, false, ErrLockoutContention
}

func (r *RedisLockoutRepository) Get(ctx context.Context, email string) (*models.AccountLockout, error) {
	return r.read(ctx, r.redis, email)
}

func (r *RedisLockoutRepository) Reset(ctx context.Context, email string) error {
	if err := r.redis.Del(ctx, r.key(email)).Err(); err != nil {
		return fmt.Errorf("%w: %v", models.ErrDependencyUnavailable, err)
	}
	return nil
}

// ClearExpired scans lockout keys and drops locks whose deadline has passed.
// Rows that were concurrently modified are skipped and picked up by the next sweep.
func (r *RedisLockoutRepository) ClearExpired(ctx context.Context, now time.Time) (int64, error) {
	var cleared int64

	iter := r.redis.Scan(ctx, 0, lockoutKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		email := key[len(lockoutKeyPrefix):]

		err := r.redis.Watch(ctx, func(tx *redis.Tx) error {
			row, err := r.read(ctx, tx, email)
			if err != nil {
				return err
			}
			if !row.IsLocked || row.ActiveAt(now) {
				return nil
			}

			row.Reset()
			payload, err := json.Marshal(row)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, payload, r.ttl(row, now))
				return nil
			})
			if err == nil {
				cleared++
			}
			return err
		}, key)
		if err != nil && !errors.Is(err, redis.TxFailedErr) && !errors.Is(err, models.ErrNotFound) {
			return cleared, fmt.Errorf("failed to clear expired lockouts: %w", err)
		}
	}
	if err := iter.Err(); err != nil {
		return cleared, fmt.Errorf("%w: %v", models.ErrDependencyUnavailable, err)
	}

	return cleared, nil
}
