package models

import (
	"math"
	"time"
)

// AccountLockout tracks failed primary-factor logins for one identity
type AccountLockout struct {
	Email             string     `db:"email"`
	FailedAttempts    int        `db:"failed_attempts"`
	IsLocked          bool       `db:"is_locked"`
	LockedUntil       *time.Time `db:"locked_until"`
	LastFailedAttempt *time.Time `db:"last_failed_attempt"`
}

// LockoutPolicy is the threshold and lock length applied when a failure is recorded
type LockoutPolicy struct {
	MaxAttempts int
	Duration    time.Duration
}

// ActiveAt reports whether the lock is in force; a lock past lockedUntil counts as cleared
func (l *AccountLockout) ActiveAt(now time.Time) bool {
	if l == nil || !l.IsLocked || l.LockedUntil == nil {
		return false
	}
	return now.Before(*l.LockedUntil)
}

// ApplyFailure mutates the row for one more failed attempt at now.
// A lock that has lapsed lazily starts a fresh count.
// Returns true when this failure engaged the lock.
func (l *AccountLockout) ApplyFailure(now time.Time, policy LockoutPolicy) bool {
	if l.IsLocked && !l.ActiveAt(now) {
		l.FailedAttempts = 0
		l.IsLocked = false
		l.LockedUntil = nil
	}

	wasLocked := l.IsLocked
	l.FailedAttempts++
	failedAt := now
	l.LastFailedAttempt = &failedAt

	if !wasLocked && l.FailedAttempts >= policy.MaxAttempts {
		until := now.Add(policy.Duration)
		l.IsLocked = true
		l.LockedUntil = &until
		return true
	}
	return false
}

// Reset clears the row after a successful login
func (l *AccountLockout) Reset() {
	l.FailedAttempts = 0
	l.IsLocked = false
	l.LockedUntil = nil
}

// RemainingMinutes rounds the remaining lock time up to whole minutes
func (l *AccountLockout) RemainingMinutes(now time.Time) int {
	if !l.ActiveAt(now) {
		return 0
	}
	return int(math.Ceil(l.LockedUntil.Sub(now).Minutes()))
}

// LockedError builds the caller-facing error for an active lock
func (l *AccountLockout) LockedError(now time.Time) *AccountLockedError {
	return &AccountLockedError{
		Email:            l.Email,
		RemainingMinutes: l.RemainingMinutes(now),
		FailedAttempts:   l.FailedAttempts,
	}
}
