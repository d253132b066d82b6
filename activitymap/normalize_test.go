package activitymap_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	auth "github.com/tradepulse/go-auth"
	"github.com/tradepulse/go-auth/activitymap"
)

func TestNormalizeDefaults(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 1, 10, 9, 30, 0, 0, time.UTC)
	event := auth.ActivityEvent{
		EventType: auth.ActivityEventLoginSuccess,
		UserID:    "user-100",
		Email:     "buyer@example.com",
		Source:    auth.SourceRemote,
		FromPhase: auth.PhaseUnauthenticated,
		ToPhase:   auth.PhaseAuthenticated,
		Metadata: map[string]any{
			"attempt": 2,
		},
		OccurredAt: ts,
	}

	out := activitymap.Normalize(event)

	if out.ActorID != "user-100" {
		t.Fatalf("expected actor_id user-100, got %q", out.ActorID)
	}
	if out.Verb != string(auth.ActivityEventLoginSuccess) {
		t.Fatalf("expected verb %q, got %q", auth.ActivityEventLoginSuccess, out.Verb)
	}
	if out.ObjectType != "session" {
		t.Fatalf("expected object_type session, got %q", out.ObjectType)
	}
	if out.ObjectID != auth.SourceRemote {
		t.Fatalf("expected object_id remote, got %q", out.ObjectID)
	}
	if out.Channel != "auth" {
		t.Fatalf("expected channel auth, got %q", out.Channel)
	}
	if !out.OccurredAt.Equal(ts) {
		t.Fatalf("expected occurred_at %v, got %v", ts, out.OccurredAt)
	}

	if out.Metadata["attempt"] != 2 {
		t.Fatalf("expected metadata attempt 2, got %#v", out.Metadata["attempt"])
	}
	if out.Metadata[activitymap.MetadataKeyEmail] != "buyer@example.com" {
		t.Fatalf("expected metadata email, got %#v", out.Metadata[activitymap.MetadataKeyEmail])
	}
	if out.Metadata[activitymap.MetadataKeyFromPhase] != string(auth.PhaseUnauthenticated) {
		t.Fatalf("expected from_phase unauthenticated, got %#v", out.Metadata[activitymap.MetadataKeyFromPhase])
	}
	if out.Metadata[activitymap.MetadataKeyToPhase] != string(auth.PhaseAuthenticated) {
		t.Fatalf("expected to_phase authenticated, got %#v", out.Metadata[activitymap.MetadataKeyToPhase])
	}
}

func TestNormalizeActorFallbacks(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	byEmail := activitymap.Normalize(auth.ActivityEvent{
		EventType: auth.ActivityEventLoginFailure,
		Email:     "someone@example.com",
	})
	if byEmail.ActorID != "someone@example.com" {
		t.Fatalf("expected email actor, got %q", byEmail.ActorID)
	}

	anon := activitymap.Normalize(auth.ActivityEvent{EventType: auth.ActivityEventInitTimeout},
		activitymap.WithActorFallback("boot"),
		activitymap.WithChannel("startup"),
		activitymap.WithClock(func() time.Time { return now }),
	)
	if anon.ActorID != "boot" {
		t.Fatalf("expected fallback actor boot, got %q", anon.ActorID)
	}
	if anon.Channel != "startup" {
		t.Fatalf("expected channel startup, got %q", anon.Channel)
	}
	if !anon.OccurredAt.Equal(now) {
		t.Fatalf("expected clock time %v, got %v", now, anon.OccurredAt)
	}
	if anon.Metadata != nil {
		t.Fatalf("expected nil metadata, got %#v", anon.Metadata)
	}
}

func TestNormalizeKeepsCallerMetadata(t *testing.T) {
	t.Parallel()

	out := activitymap.Normalize(auth.ActivityEvent{
		EventType: auth.ActivityEventLoginFallback,
		Source:    auth.SourceLocal,
		Metadata:  map[string]any{activitymap.MetadataKeySource: "demo"},
	})
	if out.Metadata[activitymap.MetadataKeySource] != "demo" {
		t.Fatalf("expected caller source to win, got %#v", out.Metadata[activitymap.MetadataKeySource])
	}
}

type captureLogger struct {
	messages []string
	args     [][]any
}

func (l *captureLogger) Debug(string, ...any) {}
func (l *captureLogger) Warn(string, ...any)  {}
func (l *captureLogger) Error(string, ...any) {}
func (l *captureLogger) Info(msg string, args ...any) {
	l.messages = append(l.messages, msg)
	l.args = append(l.args, args)
}

func TestLogSinkRecords(t *testing.T) {
	t.Parallel()

	logger := &captureLogger{}
	sink := activitymap.NewLogSink(logger)

	err := sink.Record(context.Background(), auth.ActivityEvent{
		EventType: auth.ActivityEventLogout,
		UserID:    "user-7",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(logger.messages) != 1 {
		t.Fatalf("expected one log entry, got %d", len(logger.messages))
	}
	got := fmt.Sprint(logger.args[0])
	for _, want := range []string{"auth.logout", "user-7"} {
		if !strings.Contains(got, want) {
			t.Fatalf("expected %q in log args %s", want, got)
		}
	}
}
