// Package activitymap converts auth activity events into a flat record for
// audit logs and downstream event consumers.
package activitymap

import (
	"context"
	"strings"
	"time"

	auth "github.com/tradepulse/go-auth"
)

const (
	MetadataKeySource    = "source"
	MetadataKeyEmail     = "email"
	MetadataKeyFromPhase = "from_phase"
	MetadataKeyToPhase   = "to_phase"
)

const (
	defaultChannel    = "auth"
	defaultObjectType = "session"
	anonymousActorID  = "anonymous"
)

// Normalized is a transport agnostic activity record.
type Normalized struct {
	ActorID    string         `json:"actor_id"`
	Verb       string         `json:"verb"`
	ObjectType string         `json:"object_type,omitempty"`
	ObjectID   string         `json:"object_id,omitempty"`
	Channel    string         `json:"channel,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

type Option func(*normalizeOptions)

type normalizeOptions struct {
	channel       string
	objectType    string
	actorFallback string
	now           func() time.Time
}

// Normalize flattens event. The actor is the user id, then the email, then
// the anonymous fallback; the object is the identity source.
func Normalize(event auth.ActivityEvent, opts ...Option) Normalized {
	options := normalizeOptions{
		channel:       defaultChannel,
		objectType:    defaultObjectType,
		actorFallback: anonymousActorID,
		now:           time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = options.now().UTC()
	}

	return Normalized{
		ActorID: firstNonEmpty(
			strings.TrimSpace(event.UserID),
			strings.TrimSpace(event.Email),
			options.actorFallback,
		),
		Verb:       string(event.EventType),
		ObjectType: options.objectType,
		ObjectID:   strings.TrimSpace(event.Source),
		Channel:    options.channel,
		Metadata:   normalizeMetadata(event),
		OccurredAt: occurredAt,
	}
}

func WithChannel(channel string) Option {
	return func(opts *normalizeOptions) {
		opts.channel = strings.TrimSpace(channel)
	}
}

func WithObjectType(objectType string) Option {
	return func(opts *normalizeOptions) {
		opts.objectType = strings.TrimSpace(objectType)
	}
}

// WithActorFallback sets the actor id used when the event has no user.
func WithActorFallback(actorID string) Option {
	return func(opts *normalizeOptions) {
		if id := strings.TrimSpace(actorID); id != "" {
			opts.actorFallback = id
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(opts *normalizeOptions) {
		if now != nil {
			opts.now = now
		}
	}
}

func normalizeMetadata(event auth.ActivityEvent) map[string]any {
	metadata := make(map[string]any, len(event.Metadata)+4)
	for key, value := range event.Metadata {
		metadata[key] = value
	}

	setIfEmpty := func(key, value string) {
		if value == "" {
			return
		}
		if _, exists := metadata[key]; !exists {
			metadata[key] = value
		}
	}
	setIfEmpty(MetadataKeySource, event.Source)
	setIfEmpty(MetadataKeyEmail, event.Email)

	if event.FromPhase != "" {
		metadata[MetadataKeyFromPhase] = string(event.FromPhase)
	}
	if event.ToPhase != "" {
		metadata[MetadataKeyToPhase] = string(event.ToPhase)
	}

	if len(metadata) == 0 {
		return nil
	}
	return metadata
}

// LogSink writes normalized events to logger at info level.
type LogSink struct {
	logger auth.Logger
	opts   []Option
}

func NewLogSink(logger auth.Logger, opts ...Option) *LogSink {
	return &LogSink{logger: logger, opts: opts}
}

// Record implements auth.ActivitySink.
func (s *LogSink) Record(_ context.Context, event auth.ActivityEvent) error {
	if s == nil || s.logger == nil {
		return nil
	}
	n := Normalize(event, s.opts...)
	s.logger.Info("auth activity",
		"verb", n.Verb,
		"actor_id", n.ActorID,
		"object_type", n.ObjectType,
		"object_id", n.ObjectID,
		"channel", n.Channel,
		"metadata", n.Metadata,
		"occurred_at", n.OccurredAt,
	)
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
