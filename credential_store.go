package auth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"strings"
	"sync"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// Fixed storage keys used by the credential store.
const (
	KeyRegisteredUsers = "auth:registered_users"
	KeyCurrentToken    = "auth:token"
	KeyCurrentUser     = "auth:user"
)

// MinPasswordLength is the shortest password accepted on registration.
const MinPasswordLength = 8

// Credentials is the outcome of a local register, login or refresh.
type Credentials struct {
	User  AuthUser `json:"user"`
	Token string   `json:"token"`
}

// DemoIdentity is a built-in account accepted by the local store.
type DemoIdentity struct {
	Password string
	User     AuthUser
}

// DefaultDemoIdentities returns the built-in admin, user and demo accounts.
func DefaultDemoIdentities() []DemoIdentity {
	return []DemoIdentity{
		{
			Password: "admin123",
			User: AuthUser{
				ID:       "00000000-0000-4000-8000-000000000001",
				Name:     "Admin User",
				Email:    "admin@example.com",
				Company:  "TradePulse",
				Industry: IndustryConstruction,
				Country:  "United States",
				Role:     RoleAdmin,
			},
		},
		{
			Password: "user123",
			User: AuthUser{
				ID:       "00000000-0000-4000-8000-000000000002",
				Name:     "Regular User",
				Email:    "user@example.com",
				Company:  "BuildRight Supply",
				Industry: IndustryConstruction,
				Country:  "Canada",
				Role:     RoleUser,
			},
		},
		{
			Password: "demo123",
			User: AuthUser{
				ID:       "00000000-0000-4000-8000-000000000003",
				Name:     "Demo User",
				Email:    "demo@example.com",
				Company:  "Harvest Traders",
				Industry: IndustryAgriculture,
				Country:  "Brazil",
				Role:     RoleUser,
			},
		},
	}
}

type registeredUser struct {
	PasswordHash string   `json:"password_hash"`
	User         AuthUser `json:"user"`
}

// CredentialStore is the local fallback identity store. Registered users,
// the current token and the current user live in a KeyValueStore under
// fixed keys.
type CredentialStore struct {
	mu     sync.Mutex
	kv     KeyValueStore
	codec  *TokenCodec
	cost   int
	demo   map[string]DemoIdentity
	newID  func() string
	logger Logger
}

// CredentialStoreOption customizes store construction.
type CredentialStoreOption func(*CredentialStore)

// WithPasswordCost sets the bcrypt cost for registered passwords.
func WithPasswordCost(cost int) CredentialStoreOption {
	return func(s *CredentialStore) {
		s.cost = cost
	}
}

// WithDemoIdentities replaces the built-in demo accounts. Pass none to
// disable them.
func WithDemoIdentities(ids ...DemoIdentity) CredentialStoreOption {
	return func(s *CredentialStore) {
		s.demo = indexDemoIdentities(ids)
	}
}

// WithCredentialStoreLogger overrides the store logger.
func WithCredentialStoreLogger(logger Logger) CredentialStoreOption {
	return func(s *CredentialStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithCredentialStoreIDGenerator overrides how user ids are generated.
func WithCredentialStoreIDGenerator(fn func() string) CredentialStoreOption {
	return func(s *CredentialStore) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// NewCredentialStore creates a local store persisting into kv and minting
// tokens with codec.
func NewCredentialStore(kv KeyValueStore, codec *TokenCodec, opts ...CredentialStoreOption) *CredentialStore {
	s := &CredentialStore{
		kv:     kv,
		codec:  codec,
		demo:   indexDemoIdentities(DefaultDemoIdentities()),
		newID:  uuid.NewString,
		logger: defaultLogger,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Codec returns the token codec used by the store.
func (s *CredentialStore) Codec() *TokenCodec {
	return s.codec
}

// Register creates a local account and caches its session.
func (s *CredentialStore) Register(ctx context.Context, in RegisterInput) (*Credentials, error) {
	if err := ValidateRegisterInput(in); err != nil {
		return nil, err
	}
	email := normalizeEmail(in.Email)

	s.mu.Lock()
	defer s.mu.Unlock()

	registry, err := s.loadRegistry(ctx)
	if err != nil {
		return nil, err
	}
	if _, ok := registry[email]; ok {
		return nil, ErrUserExists
	}
	if _, ok := s.demo[email]; ok {
		return nil, ErrUserExists
	}

	hash, err := HashPassword(in.Password, s.cost)
	if err != nil {
		return nil, err
	}

	user := AuthUser{
		ID:       s.newID(),
		Name:     strings.TrimSpace(in.Name),
		Email:    email,
		Company:  strings.TrimSpace(in.Company),
		Industry: NormalizeIndustry(in.Industry),
		Country:  strings.TrimSpace(in.Country),
		Role:     RoleUser,
	}

	registry[email] = registeredUser{PasswordHash: hash, User: user}
	if err := s.saveRegistry(ctx, registry); err != nil {
		return nil, err
	}

	return s.issue(ctx, user)
}

// Login checks the registered users first and then the demo identities.
func (s *CredentialStore) Login(ctx context.Context, email, password string) (*Credentials, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	registry, err := s.loadRegistry(ctx)
	if err != nil {
		return nil, err
	}

	if entry, ok := registry[email]; ok {
		if err := ComparePasswordAndHash(password, entry.PasswordHash); err != nil {
			return nil, err
		}
		return s.issue(ctx, entry.User)
	}

	if demo, ok := s.demo[email]; ok {
		if subtle.ConstantTimeCompare([]byte(password), []byte(demo.Password)) != 1 {
			return nil, ErrInvalidCredentials
		}
		return s.issue(ctx, demo.User)
	}

	return nil, ErrInvalidCredentials
}

// Logout clears the cached session. Registered users are kept.
func (s *CredentialStore) Logout(ctx context.Context) error {
	return s.ClearCachedUser(ctx)
}

// Refresh re-mints a token for an already known user.
func (s *CredentialStore) Refresh(ctx context.Context, current *AuthUser) (*Credentials, error) {
	if current == nil {
		return nil, ErrNoUser
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.issue(ctx, *current)
}

// UpdateUser replaces the stored copy of user, in the registry when the
// account is registered, and re-mints the cached session.
func (s *CredentialStore) UpdateUser(ctx context.Context, user AuthUser) (*Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	registry, err := s.loadRegistry(ctx)
	if err != nil {
		return nil, err
	}
	email := normalizeEmail(user.Email)
	if entry, ok := registry[email]; ok && entry.User.ID == user.ID {
		entry.User = user
		registry[email] = entry
		if err := s.saveRegistry(ctx, registry); err != nil {
			return nil, err
		}
	}

	return s.issue(ctx, user)
}

// CachedUser returns the cached session user, or nil when there is none or
// its token no longer verifies.
func (s *CredentialStore) CachedUser(ctx context.Context) (*AuthUser, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok, err := s.kv.Get(ctx, KeyCurrentToken)
	if err != nil {
		return nil, "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read cached token")
	}
	if !ok || token == "" {
		return nil, "", nil
	}

	claims, err := s.codec.Verify(token)
	if err != nil {
		s.logger.Info("discarding cached session", "error", err)
		if err := s.clear(ctx); err != nil {
			s.logger.Warn("failed to clear cached session", "error", err)
		}
		return nil, "", nil
	}

	user := claims.User()
	raw, ok, err := s.kv.Get(ctx, KeyCurrentUser)
	if err != nil {
		return nil, "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read cached user")
	}
	if ok && raw != "" {
		var cached AuthUser
		if err := json.Unmarshal([]byte(raw), &cached); err == nil && cached.ID == claims.Sub {
			user = cached
		}
	}

	return &user, token, nil
}

// CacheSession stores user and token as the current session.
func (s *CredentialStore) CacheSession(ctx context.Context, user AuthUser, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.cache(ctx, user, token)
}

// ClearCachedUser removes the current token and user.
func (s *CredentialStore) ClearCachedUser(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.clear(ctx)
}

func (s *CredentialStore) issue(ctx context.Context, user AuthUser) (*Credentials, error) {
	token, err := s.codec.Mint(user)
	if err != nil {
		return nil, err
	}
	if err := s.cache(ctx, user, token); err != nil {
		return nil, err
	}
	return &Credentials{User: user, Token: token}, nil
}

func (s *CredentialStore) cache(ctx context.Context, user AuthUser, token string) error {
	raw, err := json.Marshal(user)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode cached user")
	}
	if err := s.kv.Set(ctx, KeyCurrentToken, token); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to cache token")
	}
	if err := s.kv.Set(ctx, KeyCurrentUser, string(raw)); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to cache user")
	}
	return nil
}

func (s *CredentialStore) clear(ctx context.Context) error {
	if err := s.kv.Remove(ctx, KeyCurrentToken); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to remove cached token")
	}
	if err := s.kv.Remove(ctx, KeyCurrentUser); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to remove cached user")
	}
	return nil
}

func (s *CredentialStore) loadRegistry(ctx context.Context) (map[string]registeredUser, error) {
	registry := map[string]registeredUser{}
	raw, ok, err := s.kv.Get(ctx, KeyRegisteredUsers)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read registered users")
	}
	if !ok || raw == "" {
		return registry, nil
	}
	if err := json.Unmarshal([]byte(raw), &registry); err != nil {
		s.logger.Warn("registered users payload is corrupt, starting empty", "error", err)
		return map[string]registeredUser{}, nil
	}
	return registry, nil
}

func (s *CredentialStore) saveRegistry(ctx context.Context, registry map[string]registeredUser) error {
	raw, err := json.Marshal(registry)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode registered users")
	}
	if err := s.kv.Set(ctx, KeyRegisteredUsers, string(raw)); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to persist registered users")
	}
	return nil
}

// ValidateRegisterInput checks the email format and password length.
func ValidateRegisterInput(in RegisterInput) error {
	if err := validation.Validate(normalizeEmail(in.Email), validation.Required, is.Email); err != nil {
		return withSource(ErrInvalidEmail, err)
	}
	if len(in.Password) < MinPasswordLength {
		return ErrWeakPassword
	}
	return nil
}

func indexDemoIdentities(ids []DemoIdentity) map[string]DemoIdentity {
	out := make(map[string]DemoIdentity, len(ids))
	for _, id := range ids {
		out[normalizeEmail(id.User.Email)] = id
	}
	return out
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
