package auth

import (
	"context"
	"time"
)

// Logger is the structured logger used across the package. Messages are
// constant strings, args are key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// KeyValueStore is the persistent local storage used by the credential store
// and by remote clients that cache their session.
type KeyValueStore interface {
	// Get returns the stored value and whether the key exists.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

// SessionEventType tags session-change notifications pushed by the remote
// identity provider.
type SessionEventType string

const (
	SessionSignedIn       SessionEventType = "signed_in"
	SessionTokenRefreshed SessionEventType = "token_refreshed"
	SessionSignedOut      SessionEventType = "signed_out"
	SessionUserUpdated    SessionEventType = "user_updated"
)

// SessionEvent is delivered to OnSessionChange listeners.
type SessionEvent struct {
	Type    SessionEventType
	Session *RemoteSession
}

// SessionListener receives session-change events.
type SessionListener func(ctx context.Context, event SessionEvent)

// RemoteSession is the session descriptor handed out by the remote identity
// provider. It is not an AuthUser; it must be resolved against the profile
// store first.
type RemoteSession struct {
	UserID       string         `json:"user_id"`
	Email        string         `json:"email,omitempty"`
	AccessToken  string         `json:"access_token"`
	RefreshToken string         `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time      `json:"expires_at"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Raw          map[string]any `json:"raw,omitempty"`
}

// Key identifies the session for staleness checks. A refreshed session gets
// a new key.
func (s *RemoteSession) Key() string {
	if s == nil {
		return ""
	}
	if s.AccessToken != "" {
		return "remote:" + s.AccessToken
	}
	return "remote:" + s.UserID + ":" + s.ExpiresAt.UTC().Format(time.RFC3339)
}

// Expired reports whether the session expiry is before now.
func (s *RemoteSession) Expired(now time.Time) bool {
	if s == nil {
		return true
	}
	if s.ExpiresAt.IsZero() {
		return false
	}
	return s.ExpiresAt.Before(now)
}

// SignUpResult is returned by RemoteSessionClient.SignUp. Session is nil when
// the provider requires email confirmation before issuing one.
type SignUpResult struct {
	UserID   string
	Email    string
	Metadata map[string]any
	Session  *RemoteSession
}

// RemoteSessionClient is the contract the coordinator needs from the external
// identity provider.
type RemoteSessionClient interface {
	// GetSession returns the current session or nil when there is none.
	GetSession(ctx context.Context) (*RemoteSession, error)
	RefreshSession(ctx context.Context) (*RemoteSession, error)
	SignInWithPassword(ctx context.Context, email, password string) (*RemoteSession, error)
	SignUp(ctx context.Context, email, password string, metadata map[string]any) (*SignUpResult, error)
	SignOut(ctx context.Context) error
	// OnSessionChange registers a listener and returns its unsubscribe func.
	OnSessionChange(listener SessionListener) (unsubscribe func())
}

// ProfileStore is the row store holding user profiles.
type ProfileStore interface {
	// GetByID returns nil, nil when the row does not exist.
	GetByID(ctx context.Context, id string) (*ProfileRow, error)
	// Insert fails with ErrProfileExists on a uniqueness violation.
	Insert(ctx context.Context, row *ProfileRow) (*ProfileRow, error)
	Update(ctx context.Context, id string, patch ProfilePatch) error
}
