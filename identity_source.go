package auth

import (
	"context"
	"errors"
)

// SourceResult is what an identity source hands back to the coordinator.
// Remote results carry a Session that still needs profile resolution; local
// results carry a ready User and Token.
type SourceResult struct {
	Source  string
	Session *RemoteSession
	User    *AuthUser
	Token   string
	// ConfirmationRequired is set by SignUp when the provider created the
	// identity but withheld a session until the email is confirmed.
	ConfirmationRequired bool
	Pending              *SignUpResult
}

// IdentitySource is one backend able to authenticate a user.
type IdentitySource interface {
	Name() string
	SignIn(ctx context.Context, email, password string) (*SourceResult, error)
	SignUp(ctx context.Context, in RegisterInput) (*SourceResult, error)
	Refresh(ctx context.Context, current *AuthUser) (*SourceResult, error)
	SignOut(ctx context.Context) error
}

// NewRemoteIdentitySource adapts a RemoteSessionClient. Provider errors are
// classified before they are returned.
func NewRemoteIdentitySource(client RemoteSessionClient) IdentitySource {
	return &remoteSource{client: client}
}

type remoteSource struct {
	client RemoteSessionClient
}

func (r *remoteSource) Name() string { return SourceRemote }

func (r *remoteSource) SignIn(ctx context.Context, email, password string) (*SourceResult, error) {
	sess, err := r.client.SignInWithPassword(ctx, normalizeEmail(email), password)
	if err != nil {
		return nil, ClassifiedError(err)
	}
	if sess == nil {
		return nil, ErrAuthenticationFailed
	}
	return &SourceResult{Source: SourceRemote, Session: sess}, nil
}

func (r *remoteSource) SignUp(ctx context.Context, in RegisterInput) (*SourceResult, error) {
	res, err := r.client.SignUp(ctx, normalizeEmail(in.Email), in.Password, in.Metadata())
	if err != nil {
		return nil, ClassifiedError(err)
	}
	if res == nil {
		return nil, ErrAuthenticationFailed
	}
	if res.Session == nil {
		if res.Metadata == nil {
			res.Metadata = in.Metadata()
		}
		if res.Email == "" {
			res.Email = normalizeEmail(in.Email)
		}
		return &SourceResult{Source: SourceRemote, ConfirmationRequired: true, Pending: res}, nil
	}
	return &SourceResult{Source: SourceRemote, Session: res.Session}, nil
}

func (r *remoteSource) Refresh(ctx context.Context, _ *AuthUser) (*SourceResult, error) {
	sess, err := r.client.RefreshSession(ctx)
	if err != nil {
		return nil, ClassifiedError(err)
	}
	if sess == nil {
		return nil, ErrNoUser
	}
	return &SourceResult{Source: SourceRemote, Session: sess}, nil
}

func (r *remoteSource) SignOut(ctx context.Context) error {
	return r.client.SignOut(ctx)
}

// NewLocalIdentitySource adapts a CredentialStore.
func NewLocalIdentitySource(store *CredentialStore) IdentitySource {
	return &localSource{store: store}
}

type localSource struct {
	store *CredentialStore
}

func (l *localSource) Name() string { return SourceLocal }

func (l *localSource) SignIn(ctx context.Context, email, password string) (*SourceResult, error) {
	creds, err := l.store.Login(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return localResult(creds), nil
}

func (l *localSource) SignUp(ctx context.Context, in RegisterInput) (*SourceResult, error) {
	creds, err := l.store.Register(ctx, in)
	if err != nil {
		return nil, err
	}
	return localResult(creds), nil
}

func (l *localSource) Refresh(ctx context.Context, current *AuthUser) (*SourceResult, error) {
	creds, err := l.store.Refresh(ctx, current)
	if err != nil {
		return nil, err
	}
	return localResult(creds), nil
}

func (l *localSource) SignOut(ctx context.Context) error {
	return l.store.Logout(ctx)
}

func localResult(creds *Credentials) *SourceResult {
	user := creds.User
	return &SourceResult{Source: SourceLocal, User: &user, Token: creds.Token}
}

// FallbackStrategy tries the primary source and falls back to the secondary
// one only where the failure class allows it:
//   - SignIn falls back on invalid credentials only. When the fallback also
//     fails the primary error is returned.
//   - SignUp never falls back.
//   - Refresh falls back on any error.
//   - SignOut always calls both, primary first.
type FallbackStrategy struct {
	primary  IdentitySource
	fallback IdentitySource
	logger   Logger
}

// NewFallbackStrategy combines two sources. A nil fallback makes the
// strategy a pass-through to primary.
func NewFallbackStrategy(primary, fallback IdentitySource, logger Logger) *FallbackStrategy {
	return &FallbackStrategy{
		primary:  primary,
		fallback: fallback,
		logger:   normalizeLogger(logger),
	}
}

func (f *FallbackStrategy) Name() string {
	if f.fallback == nil {
		return f.primary.Name()
	}
	return f.primary.Name() + "+" + f.fallback.Name()
}

func (f *FallbackStrategy) SignIn(ctx context.Context, email, password string) (*SourceResult, error) {
	res, err := f.primary.SignIn(ctx, email, password)
	if err == nil || f.fallback == nil {
		return res, err
	}

	if ClassifyProviderError(err) != ProviderErrorInvalidCredentials {
		return nil, err
	}

	f.logger.Debug("primary sign in rejected credentials, trying fallback",
		"primary", f.primary.Name(), "fallback", f.fallback.Name())

	res, ferr := f.fallback.SignIn(ctx, email, password)
	if ferr != nil {
		if ClassifyProviderError(ferr) != ProviderErrorInvalidCredentials {
			f.logger.Warn("fallback sign in failed", "fallback", f.fallback.Name(), "error", ferr)
		}
		return nil, err
	}
	return res, nil
}

func (f *FallbackStrategy) SignUp(ctx context.Context, in RegisterInput) (*SourceResult, error) {
	return f.primary.SignUp(ctx, in)
}

func (f *FallbackStrategy) Refresh(ctx context.Context, current *AuthUser) (*SourceResult, error) {
	res, err := f.primary.Refresh(ctx, current)
	if err == nil || f.fallback == nil {
		return res, err
	}

	f.logger.Debug("primary refresh failed, trying fallback", "error", err)
	res, ferr := f.fallback.Refresh(ctx, current)
	if ferr != nil {
		return nil, errors.Join(err, ferr)
	}
	return res, nil
}

func (f *FallbackStrategy) SignOut(ctx context.Context) error {
	err := f.primary.SignOut(ctx)
	if f.fallback == nil {
		return err
	}
	return errors.Join(err, f.fallback.SignOut(ctx))
}
