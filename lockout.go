package auth

import (
	"sync"
	"time"
)

// MaxLoginAttempts is the maximum number of consecutive invalid credential
// failures before an identifier is locked out
const MaxLoginAttempts = 5

// LockoutDuration is how long a locked identifier stays locked
const LockoutDuration = 15 * time.Minute

type loginAttempt struct {
	failures    int
	lastFailure time.Time
	lockedUntil time.Time
}

// LoginLimiter tracks consecutive invalid credential failures per
// identifier. It is safe for concurrent use.
type LoginLimiter struct {
	mu          sync.Mutex
	maxAttempts int
	lockout     time.Duration
	now         func() time.Time
	attempts    map[string]*loginAttempt
}

// LoginLimiterOption customizes limiter construction.
type LoginLimiterOption func(*LoginLimiter)

// WithLoginLimiterClock injects a custom clock (useful for tests).
func WithLoginLimiterClock(clock func() time.Time) LoginLimiterOption {
	return func(l *LoginLimiter) {
		if clock != nil {
			l.now = clock
		}
	}
}

// NewLoginLimiter creates a limiter. Non positive values use
// MaxLoginAttempts and LockoutDuration.
func NewLoginLimiter(maxAttempts int, lockout time.Duration, opts ...LoginLimiterOption) *LoginLimiter {
	if maxAttempts <= 0 {
		maxAttempts = MaxLoginAttempts
	}
	if lockout <= 0 {
		lockout = LockoutDuration
	}
	l := &LoginLimiter{
		maxAttempts: maxAttempts,
		lockout:     lockout,
		now:         time.Now,
		attempts:    map[string]*loginAttempt{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

// Locked reports whether identifier is locked and until when.
func (l *LoginLimiter) Locked(identifier string) (bool, time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := normalizeEmail(identifier)
	a, ok := l.attempts[key]
	if !ok {
		return false, time.Time{}
	}

	now := l.now()
	if !a.lockedUntil.IsZero() {
		if now.Before(a.lockedUntil) {
			return true, a.lockedUntil
		}
		// lockout elapsed, start over
		delete(l.attempts, key)
	}
	return false, time.Time{}
}

// RecordFailure counts an invalid credential failure and returns true when
// the identifier became locked.
func (l *LoginLimiter) RecordFailure(identifier string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := normalizeEmail(identifier)
	now := l.now()

	a, ok := l.attempts[key]
	if !ok || !isWithinPeriod(a.lastFailure, now, l.lockout) {
		a = &loginAttempt{}
		l.attempts[key] = a
	}

	a.failures++
	a.lastFailure = now
	if a.failures >= l.maxAttempts {
		a.lockedUntil = now.Add(l.lockout)
		return true
	}
	return false
}

// RecordSuccess resets the counter for identifier.
func (l *LoginLimiter) RecordSuccess(identifier string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.attempts, normalizeEmail(identifier))
}

// Failures returns the current consecutive failure count.
func (l *LoginLimiter) Failures(identifier string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if a, ok := l.attempts[normalizeEmail(identifier)]; ok {
		return a.failures
	}
	return 0
}

// isWithinPeriod checks if t is after now minus period
func isWithinPeriod(t, now time.Time, period time.Duration) bool {
	return t.After(now.Add(-period))
}
