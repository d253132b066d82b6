package auth

import (
	"context"
	"errors"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventInitAuthenticated   ActivityEventType = "auth.init.authenticated"
	ActivityEventInitUnauthenticated ActivityEventType = "auth.init.unauthenticated"
	ActivityEventInitTimeout         ActivityEventType = "auth.init.timeout"
	ActivityEventLoginSuccess        ActivityEventType = "auth.login.success"
	ActivityEventLoginFailure        ActivityEventType = "auth.login.failure"
	ActivityEventLoginFallback       ActivityEventType = "auth.login.fallback"
	ActivityEventLoginLocked         ActivityEventType = "auth.login.locked"
	ActivityEventRegisterSuccess     ActivityEventType = "auth.register.success"
	ActivityEventRegisterPending     ActivityEventType = "auth.register.confirmation_required"
	ActivityEventRegisterFailure     ActivityEventType = "auth.register.failure"
	ActivityEventLogout              ActivityEventType = "auth.logout"
	ActivityEventSessionResolved     ActivityEventType = "auth.session.resolved"
	ActivityEventSessionSignedOut    ActivityEventType = "auth.session.signed_out"
	ActivityEventSessionStale        ActivityEventType = "auth.session.stale"
	ActivityEventProfileCreated      ActivityEventType = "auth.session.profile_created"
	ActivityEventRefreshSuccess      ActivityEventType = "auth.refresh.success"
	ActivityEventRefreshFailure      ActivityEventType = "auth.refresh.failure"
)

// Identity source names used in ActivityEvent.Source.
const (
	SourceRemote = "remote"
	SourceLocal  = "local"
)

// ActivityEvent captures audit-friendly information about an action.
type ActivityEvent struct {
	EventType  ActivityEventType
	UserID     string
	Email      string
	Source     string
	FromPhase  Phase
	ToPhase    Phase
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}

// MultiActivitySink fans an event out to every sink. All sinks are called;
// their errors are joined.
type MultiActivitySink []ActivitySink

// Record implements ActivitySink.
func (m MultiActivitySink) Record(ctx context.Context, event ActivityEvent) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Record(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
