package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// DefaultSessionTimeout bounds the startup session fetch.
const DefaultSessionTimeout = 10 * time.Second

// MessageConfirmEmail is kept in AuthState.Error after a sign up that needs
// email confirmation.
const MessageConfirmEmail = "Registration successful. Please check your email to confirm your account before signing in."

// RegisterResult is returned by Coordinator.Register.
type RegisterResult struct {
	User                 *AuthUser
	UserID               string
	Email                string
	ConfirmationRequired bool
	Message              string
}

// resolutionTag identifies the session a resolution started from. A
// resolution may publish only while its tag is current.
type resolutionTag struct {
	gen    uint64
	key    string
	source string
}

// Coordinator owns the single AuthState of the process. It reconciles the
// remote identity provider with the local credential store and publishes
// whole-state replacements only.
type Coordinator struct {
	remote    RemoteSessionClient
	profiles  ProfileStore
	local     *CredentialStore
	source    IdentitySource
	resolver  *profileResolver
	limiter   *LoginLimiter
	scheduler *refreshScheduler

	sessionTimeout  time.Duration
	refreshInterval time.Duration
	now             func() time.Time
	logger          Logger
	activitySink    ActivitySink

	mu               sync.Mutex
	state            AuthState
	phase            Phase
	industrySelected bool
	activeGen        uint64
	activeKey        string
	publishedKey     string
	origin           string
	closed           bool
	unsubscribe      func()

	// notifyMu orders watcher notifications by publication
	notifyMu    sync.Mutex
	watchMu     sync.RWMutex
	watchers    map[uint64]func(AuthState)
	nextWatcher uint64

	baseCtx    context.Context
	cancelBase context.CancelFunc
	wg         sync.WaitGroup
}

// CoordinatorOption customizes coordinator construction.
type CoordinatorOption func(*Coordinator)

// WithCoordinatorLogger overrides the coordinator logger.
func WithCoordinatorLogger(logger Logger) CoordinatorOption {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithCoordinatorActivitySink sets the ActivitySink used to publish auth events.
func WithCoordinatorActivitySink(sink ActivitySink) CoordinatorOption {
	return func(c *Coordinator) {
		c.activitySink = normalizeActivitySink(sink)
	}
}

// WithCoordinatorClock injects a custom clock (useful for tests).
func WithCoordinatorClock(clock func() time.Time) CoordinatorOption {
	return func(c *Coordinator) {
		if clock != nil {
			c.now = clock
		}
	}
}

// WithSessionTimeout sets the deadline raced against the startup session fetch.
func WithSessionTimeout(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		if d > 0 {
			c.sessionTimeout = d
		}
	}
}

// WithRefreshInterval sets the background refresh period.
func WithRefreshInterval(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		if d > 0 {
			c.refreshInterval = d
		}
	}
}

// WithLoginLimiter replaces the default limiter.
func WithLoginLimiter(l *LoginLimiter) CoordinatorOption {
	return func(c *Coordinator) {
		if l != nil {
			c.limiter = l
		}
	}
}

// WithIdentitySource replaces the default remote-then-local strategy.
func WithIdentitySource(src IdentitySource) CoordinatorOption {
	return func(c *Coordinator) {
		if src != nil {
			c.source = src
		}
	}
}

// NewCoordinator wires the coordinator. remote may be nil, in which case the
// local store is the only identity source. profiles is required when remote
// is set.
func NewCoordinator(remote RemoteSessionClient, profiles ProfileStore, local *CredentialStore, opts ...CoordinatorOption) (*Coordinator, error) {
	if local == nil {
		return nil, goerrors.New("credential store is required", goerrors.CategoryBadInput).
			WithCode(goerrors.CodeBadRequest)
	}
	if remote != nil && profiles == nil {
		return nil, goerrors.New("profile store is required with a remote session client", goerrors.CategoryBadInput).
			WithCode(goerrors.CodeBadRequest)
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		remote:          remote,
		profiles:        profiles,
		local:           local,
		sessionTimeout:  DefaultSessionTimeout,
		refreshInterval: DefaultRefreshInterval,
		now:             time.Now,
		logger:          defaultLogger,
		activitySink:    noopActivitySink{},
		phase:           PhaseUninitialized,
		watchers:        map[uint64]func(AuthState){},
		baseCtx:         baseCtx,
		cancelBase:      cancel,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	if c.limiter == nil {
		c.limiter = NewLoginLimiter(MaxLoginAttempts, LockoutDuration, WithLoginLimiterClock(c.now))
	}
	if c.source == nil {
		localSrc := NewLocalIdentitySource(local)
		if remote != nil {
			c.source = NewFallbackStrategy(NewRemoteIdentitySource(remote), localSrc, c.logger)
		} else {
			c.source = NewFallbackStrategy(localSrc, nil, c.logger)
		}
	}
	if profiles != nil {
		c.resolver = &profileResolver{profiles: profiles, now: c.now, logger: c.logger}
	}
	c.scheduler = newRefreshScheduler(c.refreshInterval, c.backgroundRefresh, c.logger)

	return c, nil
}

// Initialize restores the current identity. Provider failures never surface
// here: the coordinator falls back to the locally cached user or finishes
// unauthenticated.
func (c *Coordinator) Initialize(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrCoordinatorClosed
	}
	if c.phase != PhaseUninitialized {
		c.mu.Unlock()
		return nil
	}
	c.phase = PhaseInitializing
	tag := c.beginLocked(fmt.Sprintf("init:%d", c.activeGen+1), "")
	c.swapLocked(AuthState{Loading: true})

	if c.remote == nil {
		c.restoreCachedUser(ctx, tag)
		return nil
	}

	c.subscribe()

	sess, err := raceDeadline(ctx, c.sessionTimeout, c.remote.GetSession)
	if err != nil {
		if IsCode(err, TextCodeSessionTimeout) {
			c.logger.Warn("session fetch timed out, using cached user", "timeout", c.sessionTimeout.String())
			c.record(ctx, ActivityEvent{EventType: ActivityEventInitTimeout, Source: SourceRemote})
			c.restoreCachedUser(ctx, tag)
			return nil
		}

		switch class := ClassifyProviderError(err); class {
		case ProviderErrorUnavailable, ProviderErrorUnknown:
			c.logger.Warn("session fetch failed, using cached user", "class", string(class), "error", err)
			c.restoreCachedUser(ctx, tag)
		default:
			c.logger.Info("session rejected by provider", "class", string(class), "error", err)
			c.finishUnauthenticated(ctx, tag)
		}
		return nil
	}

	if sess == nil {
		c.restoreCachedUser(ctx, tag)
		return nil
	}

	if sess.Expired(c.now()) {
		refreshed, err := c.remote.RefreshSession(ctx)
		if err != nil || refreshed == nil {
			c.logger.Info("expired session could not be refreshed", "error", err)
			c.finishUnauthenticated(ctx, tag)
			return nil
		}
		sess = refreshed
	}

	tag, ok := c.rebind(tag, sess.Key(), SourceRemote)
	if !ok {
		c.logger.Debug("startup session superseded by a session event")
		return nil
	}

	published, err := c.resolveAndPublish(ctx, tag, sess)
	if err != nil {
		c.logger.Error("startup session resolution failed", "user_id", sess.UserID, "error", err)
		c.finishUnauthenticated(ctx, tag)
		return nil
	}
	if published {
		c.record(ctx, ActivityEvent{
			EventType: ActivityEventInitAuthenticated,
			UserID:    sess.UserID,
			Email:     sess.Email,
			Source:    SourceRemote,
			FromPhase: PhaseInitializing,
			ToPhase:   PhaseAuthenticated,
		})
	}
	return nil
}

// Login authenticates against the remote provider first and falls back to
// the local store on invalid credentials only. The published state is settled
// before Login returns.
func (c *Coordinator) Login(ctx context.Context, email, password string) error {
	if err := c.ready(); err != nil {
		return err
	}

	if locked, until := c.limiter.Locked(email); locked {
		err := ErrTooManyLoginAttempts.Clone()
		err.WithMetadata(map[string]any{"locked_until": until})
		c.setError(err)
		c.record(ctx, ActivityEvent{
			EventType: ActivityEventLoginLocked,
			Email:     normalizeEmail(email),
			Metadata:  map[string]any{"locked_until": until},
		})
		return err
	}

	c.setLoading()

	res, err := c.source.SignIn(ctx, email, password)
	if err != nil {
		class := ClassifyProviderError(err)
		if class == ProviderErrorInvalidCredentials && c.limiter.RecordFailure(email) {
			c.logger.Warn("login locked after repeated failures", "email", normalizeEmail(email))
			c.record(ctx, ActivityEvent{EventType: ActivityEventLoginLocked, Email: normalizeEmail(email)})
		}
		c.setError(err)
		c.record(ctx, ActivityEvent{
			EventType: ActivityEventLoginFailure,
			Email:     normalizeEmail(email),
			Metadata:  map[string]any{"class": string(class)},
		})
		return err
	}

	c.limiter.RecordSuccess(email)

	if err := c.settle(ctx, res); err != nil {
		c.setError(err)
		c.record(ctx, ActivityEvent{
			EventType: ActivityEventLoginFailure,
			Email:     normalizeEmail(email),
			Source:    res.Source,
			Metadata:  map[string]any{"stage": "resolve"},
		})
		return err
	}

	if res.Source == SourceLocal && c.remote != nil {
		c.record(ctx, ActivityEvent{EventType: ActivityEventLoginFallback, Email: normalizeEmail(email), Source: SourceLocal})
	}
	c.record(ctx, ActivityEvent{
		EventType: ActivityEventLoginSuccess,
		UserID:    c.currentUserID(),
		Email:     normalizeEmail(email),
		Source:    res.Source,
	})
	return nil
}

// Register signs a new identity up. A sign up that needs email confirmation
// still provisions the profile row and is not an error: the confirmation
// message is kept in AuthState.Error.
func (c *Coordinator) Register(ctx context.Context, in RegisterInput) (*RegisterResult, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	if err := ValidateRegisterInput(in); err != nil {
		c.setError(err)
		return nil, err
	}

	c.setLoading()

	res, err := c.source.SignUp(ctx, in)
	if err != nil {
		c.setError(err)
		c.record(ctx, ActivityEvent{
			EventType: ActivityEventRegisterFailure,
			Email:     normalizeEmail(in.Email),
			Metadata:  map[string]any{"class": string(ClassifyProviderError(err))},
		})
		return nil, err
	}

	if res.ConfirmationRequired {
		out := &RegisterResult{ConfirmationRequired: true, Message: MessageConfirmEmail, Email: normalizeEmail(in.Email)}
		if res.Pending != nil {
			out.UserID = res.Pending.UserID
			c.provisionPending(ctx, res.Pending)
		}
		c.update(func(s *AuthState) {
			s.Loading = false
			s.Error = MessageConfirmEmail
		})
		c.record(ctx, ActivityEvent{
			EventType: ActivityEventRegisterPending,
			UserID:    out.UserID,
			Email:     out.Email,
			Source:    res.Source,
		})
		return out, nil
	}

	if err := c.settle(ctx, res); err != nil {
		c.setError(err)
		return nil, err
	}

	c.mu.Lock()
	if c.state.User != nil {
		c.industrySelected = true
	}
	c.mu.Unlock()

	st := c.State()
	c.record(ctx, ActivityEvent{
		EventType: ActivityEventRegisterSuccess,
		UserID:    c.currentUserID(),
		Email:     normalizeEmail(in.Email),
		Source:    res.Source,
	})
	return &RegisterResult{User: st.User, UserID: c.currentUserID(), Email: normalizeEmail(in.Email)}, nil
}

// Logout signs out of every source and always clears the published user,
// even when the remote sign out fails.
func (c *Coordinator) Logout(ctx context.Context) error {
	if err := c.ready(); err != nil {
		return err
	}

	userID := c.currentUserID()
	c.scheduler.Stop()
	// publish first so a resolution still caching its user sees the sign out
	c.signOutState("")

	if err := c.source.SignOut(ctx); err != nil {
		c.logger.Warn("sign out failed, local state already cleared", "error", err)
	}

	c.record(ctx, ActivityEvent{EventType: ActivityEventLogout, UserID: userID, ToPhase: PhaseUnauthenticated})
	return nil
}

// RefreshToken refreshes the current session on demand. When every source
// fails the user is signed out.
func (c *Coordinator) RefreshToken(ctx context.Context) error {
	if err := c.ready(); err != nil {
		return err
	}

	user := c.beginRefresh(false)
	if user == nil {
		return ErrNoUser
	}
	defer c.endRefresh()

	res, err := c.source.Refresh(ctx, user)
	if err != nil {
		c.logger.Warn("token refresh failed, signing out", "user_id", user.ID, "error", err)
		c.scheduler.Stop()
		c.signOutState(UserMessage(err))
		if cerr := c.local.ClearCachedUser(ctx); cerr != nil {
			c.logger.Warn("failed to clear cached user", "error", cerr)
		}
		c.record(ctx, ActivityEvent{EventType: ActivityEventRefreshFailure, UserID: user.ID})
		return err
	}

	if err := c.settleRefresh(ctx, user, res); err != nil {
		c.logger.Warn("refreshed session resolution failed", "user_id", user.ID, "error", err)
		return err
	}

	c.record(ctx, ActivityEvent{EventType: ActivityEventRefreshSuccess, UserID: user.ID, Source: res.Source})
	return nil
}

// backgroundRefresh runs on every scheduler tick. Failures are logged and
// the user is kept until the next tick or user action.
func (c *Coordinator) backgroundRefresh() {
	ctx := c.baseCtx
	user := c.beginRefresh(true)
	if user == nil {
		return
	}
	defer c.endRefresh()

	res, err := c.source.Refresh(ctx, user)
	if err != nil {
		c.logger.Warn("background refresh failed, keeping session", "user_id", user.ID, "error", err)
		c.record(ctx, ActivityEvent{
			EventType: ActivityEventRefreshFailure,
			UserID:    user.ID,
			Metadata:  map[string]any{"background": true},
		})
		return
	}

	if err := c.settleRefresh(ctx, user, res); err != nil {
		c.logger.Warn("background refresh resolution failed", "user_id", user.ID, "error", err)
		return
	}
	c.record(ctx, ActivityEvent{
		EventType: ActivityEventRefreshSuccess,
		UserID:    user.ID,
		Source:    res.Source,
		Metadata:  map[string]any{"background": true},
	})
}

// SetIndustry records the user's industry choice on the profile row for
// remote users, or on the cached local user, and republishes the user.
func (c *Coordinator) SetIndustry(ctx context.Context, industry string) error {
	if err := c.ready(); err != nil {
		return err
	}
	if !IsValidIndustry(industry) {
		return ErrInvalidIndustry
	}
	ind := NormalizeIndustry(industry)

	c.mu.Lock()
	if c.state.User == nil {
		c.mu.Unlock()
		return ErrNoUser
	}
	updated := *c.state.User
	origin := c.origin
	c.mu.Unlock()

	updated.Industry = ind

	hasRow, err := c.hasProfileRow(ctx, updated.ID, origin)
	if err != nil {
		return err
	}
	if hasRow {
		if err := c.profiles.Update(ctx, updated.ID, ProfilePatch{Industry: &ind}); err != nil {
			return err
		}
		if _, err := c.local.Refresh(ctx, &updated); err != nil {
			c.logger.Warn("failed to update cached user", "user_id", updated.ID, "error", err)
		}
	} else if _, err := c.local.UpdateUser(ctx, updated); err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed || c.state.User == nil || c.state.User.ID != updated.ID {
		c.mu.Unlock()
		return nil
	}
	next := c.state.clone()
	u := *next.User
	u.Industry = ind
	next.User = &u
	c.industrySelected = true
	c.swapLocked(next)
	return nil
}

// hasProfileRow reports whether userID is backed by a ProfileRow, which then
// owns the industry. A lookup failure only matters for remote users.
func (c *Coordinator) hasProfileRow(ctx context.Context, userID, origin string) (bool, error) {
	if c.profiles == nil {
		return false, nil
	}
	row, err := c.profiles.GetByID(ctx, userID)
	if err != nil {
		if origin == SourceRemote {
			return false, err
		}
		c.logger.Warn("profile lookup failed, updating local user only", "user_id", userID, "error", err)
		return false, nil
	}
	return row != nil, nil
}

// ClearError drops the retained error message.
func (c *Coordinator) ClearError() {
	c.update(func(s *AuthState) {
		s.Error = ""
	})
}

// State returns a copy of the current AuthState.
func (c *Coordinator) State() AuthState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.clone()
}

// Phase returns the current lifecycle phase.
func (c *Coordinator) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// IndustrySelected reports whether the current user picked an industry.
// It is independent of authorization.
func (c *Coordinator) IndustrySelected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.industrySelected
}

func (c *Coordinator) IsAuthenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.User != nil
}

func (c *Coordinator) IsAdmin() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.User != nil && IsAdmin(c.state.User.Role)
}

// HasPermission checks the current user's role against the permission table.
func (c *Coordinator) HasPermission(permission Permission) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.User != nil && CheckPermission(c.state.User.Role, permission)
}

// Codec returns the codec that signs local tokens.
func (c *Coordinator) Codec() *TokenCodec {
	return c.local.Codec()
}

// Watch registers fn for every published state. Watchers run in publication
// order and must not call back into the coordinator. The returned func
// unregisters fn.
func (c *Coordinator) Watch(fn func(AuthState)) (cancel func()) {
	if fn == nil {
		return func() {}
	}

	c.watchMu.Lock()
	id := c.nextWatcher
	c.nextWatcher++
	c.watchers[id] = fn
	c.watchMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.watchMu.Lock()
			delete(c.watchers, id)
			c.watchMu.Unlock()
		})
	}
}

// Close tears down the session subscription, stops the refresh scheduler and
// waits for in-flight session event handlers. It is safe to call twice.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.phase = PhaseClosed
	c.activeGen++
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	c.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	c.scheduler.Stop()
	c.cancelBase()
	c.wg.Wait()
	return nil
}

func (c *Coordinator) subscribe() {
	unsubscribe := c.remote.OnSessionChange(c.onSessionChange)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		if unsubscribe != nil {
			unsubscribe()
		}
		return
	}
	c.unsubscribe = unsubscribe
	c.mu.Unlock()
}

// onSessionChange tags the event synchronously, in delivery order, and
// resolves it in the background.
func (c *Coordinator) onSessionChange(_ context.Context, ev SessionEvent) {
	if ev.Type == SessionSignedOut {
		c.handleSignedOut()
		return
	}

	switch ev.Type {
	case SessionSignedIn, SessionTokenRefreshed, SessionUserUpdated:
	default:
		c.logger.Debug("ignoring session event", "event", string(ev.Type))
		return
	}
	if ev.Session == nil || c.resolver == nil {
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	key := ev.Session.Key()
	if ev.Type != SessionUserUpdated && key == c.publishedKey && c.state.User != nil {
		c.mu.Unlock()
		return
	}
	tag := c.beginLocked(key, SourceRemote)
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		ctx := c.baseCtx
		published, err := c.resolveAndPublish(ctx, tag, ev.Session)
		if err != nil {
			c.logger.Error("session event resolution failed", "event", string(ev.Type), "user_id", ev.Session.UserID, "error", err)
			c.finishStartupFallback(ctx, tag)
			return
		}
		if published {
			c.record(ctx, ActivityEvent{
				EventType: ActivityEventSessionResolved,
				UserID:    ev.Session.UserID,
				Email:     ev.Session.Email,
				Source:    SourceRemote,
				Metadata:  map[string]any{"event": string(ev.Type)},
			})
		}
	}()
}

func (c *Coordinator) handleSignedOut() {
	ctx := c.baseCtx
	userID := c.currentUserID()
	c.scheduler.Stop()
	if !c.signOutState("") {
		return
	}
	if err := c.local.ClearCachedUser(ctx); err != nil {
		c.logger.Warn("failed to clear cached user", "error", err)
	}
	c.record(ctx, ActivityEvent{EventType: ActivityEventSessionSignedOut, UserID: userID, Source: SourceRemote})
}

// settle publishes the outcome of a successful source call.
func (c *Coordinator) settle(ctx context.Context, res *SourceResult) error {
	switch {
	case res == nil:
		return ErrNoUser
	case res.Session != nil:
		if c.resolver == nil {
			return ErrNoUser
		}
		tag := c.begin(res.Session.Key(), SourceRemote)
		_, err := c.resolveAndPublish(ctx, tag, res.Session)
		return err
	case res.User != nil:
		tag := c.begin(localKey(res.Token), SourceLocal)
		if c.publish(tag, AuthState{User: res.User}, PhaseAuthenticated) {
			c.scheduler.Start()
		}
		return nil
	default:
		return ErrNoUser
	}
}

// settleRefresh publishes a refresh outcome. A local re-mint for a user
// published from the remote provider only renews the cached copy: the user
// keeps its remote session key and origin.
func (c *Coordinator) settleRefresh(ctx context.Context, user *AuthUser, res *SourceResult) error {
	if res != nil && res.Session == nil && res.User != nil {
		c.mu.Lock()
		keep := c.origin == SourceRemote && c.state.User != nil && c.state.User.ID == res.User.ID
		c.mu.Unlock()
		if keep {
			c.logger.Info("remote refresh failed, kept remote session with a renewed local copy", "user_id", user.ID)
			return nil
		}
	}
	return c.settle(ctx, res)
}

// resolveAndPublish reports whether the resolved user was published. A stale
// resolution is dropped without error.
func (c *Coordinator) resolveAndPublish(ctx context.Context, tag resolutionTag, sess *RemoteSession) (bool, error) {
	user, created, err := c.resolver.resolve(ctx, sess)
	if err != nil {
		return false, err
	}
	if created {
		c.record(ctx, ActivityEvent{EventType: ActivityEventProfileCreated, UserID: user.ID, Email: user.Email, Source: SourceRemote})
	}

	if !c.publish(tag, AuthState{User: &user}, PhaseAuthenticated) {
		c.logger.Debug("discarding stale session resolution", "user_id", user.ID)
		c.record(ctx, ActivityEvent{EventType: ActivityEventSessionStale, UserID: user.ID, Source: SourceRemote})
		return false, nil
	}

	c.scheduler.Start()
	c.cacheForFallback(ctx, tag, user)
	return true, nil
}

// cacheForFallback keeps a locally verifiable copy of a remote user so a
// later startup without the provider can restore it.
func (c *Coordinator) cacheForFallback(ctx context.Context, tag resolutionTag, user AuthUser) {
	if _, err := c.local.Refresh(ctx, &user); err != nil {
		c.logger.Warn("failed to cache user for fallback", "user_id", user.ID, "error", err)
		return
	}

	c.mu.Lock()
	current := c.isCurrentLocked(tag)
	signedOut := c.state.User == nil
	c.mu.Unlock()

	if !current && signedOut {
		if err := c.local.ClearCachedUser(ctx); err != nil {
			c.logger.Warn("failed to clear cached user", "error", err)
		}
	}
}

func (c *Coordinator) restoreCachedUser(ctx context.Context, tag resolutionTag) {
	user, token, err := c.local.CachedUser(ctx)
	if err != nil {
		c.logger.Warn("failed to read cached user", "error", err)
	}
	if user == nil {
		c.finishUnauthenticated(ctx, tag)
		return
	}

	tag, ok := c.rebind(tag, localKey(token), SourceLocal)
	if !ok {
		return
	}
	if c.publish(tag, AuthState{User: user}, PhaseAuthenticated) {
		c.scheduler.Start()
		c.record(ctx, ActivityEvent{
			EventType: ActivityEventInitAuthenticated,
			UserID:    user.ID,
			Email:     user.Email,
			Source:    SourceLocal,
			FromPhase: PhaseInitializing,
			ToPhase:   PhaseAuthenticated,
		})
	}
}

// finishStartupFallback settles startup after a failed event resolution
// took over the startup tag. Outside startup the failure changes nothing.
func (c *Coordinator) finishStartupFallback(ctx context.Context, tag resolutionTag) {
	c.mu.Lock()
	starting := c.phase == PhaseInitializing && c.isCurrentLocked(tag)
	c.mu.Unlock()
	if !starting {
		return
	}
	c.logger.Warn("startup session could not be resolved, using cached user")
	c.restoreCachedUser(ctx, tag)
}

func (c *Coordinator) finishUnauthenticated(ctx context.Context, tag resolutionTag) {
	if c.publish(tag, AuthState{}, PhaseUnauthenticated) {
		c.record(ctx, ActivityEvent{
			EventType: ActivityEventInitUnauthenticated,
			FromPhase: PhaseInitializing,
			ToPhase:   PhaseUnauthenticated,
		})
	}
}

func (c *Coordinator) provisionPending(ctx context.Context, pending *SignUpResult) {
	if pending.UserID == "" || c.resolver == nil {
		return
	}
	sess := &RemoteSession{UserID: pending.UserID, Email: pending.Email, Metadata: pending.Metadata}
	if _, _, err := c.resolver.resolve(ctx, sess); err != nil {
		c.logger.Warn("failed to provision profile for unconfirmed sign up", "user_id", pending.UserID, "error", err)
	}
}

func (c *Coordinator) ready() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrCoordinatorClosed
	}
	if c.phase == PhaseUninitialized {
		return ErrNotInitialized
	}
	return nil
}

// beginRefresh moves Authenticated to Refreshing and returns the user to
// refresh. Background ticks skip while another refresh runs.
func (c *Coordinator) beginRefresh(background bool) *AuthUser {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.state.User == nil {
		return nil
	}
	switch c.phase {
	case PhaseRefreshing:
		if background {
			return nil
		}
	case PhaseAuthenticated:
		c.phase = PhaseRefreshing
	}
	u := *c.state.User
	return &u
}

func (c *Coordinator) endRefresh() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase != PhaseRefreshing {
		return
	}
	if c.state.User != nil {
		c.phase = PhaseAuthenticated
	} else {
		c.phase = PhaseUnauthenticated
	}
}

func (c *Coordinator) begin(key, source string) resolutionTag {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.beginLocked(key, source)
}

func (c *Coordinator) beginLocked(key, source string) resolutionTag {
	c.activeGen++
	c.activeKey = key
	return resolutionTag{gen: c.activeGen, key: key, source: source}
}

func (c *Coordinator) sentinelKeyLocked() string {
	return fmt.Sprintf("signed_out:%d", c.activeGen+1)
}

// rebind points a still current tag at the session it turned out to be for.
func (c *Coordinator) rebind(tag resolutionTag, key, source string) (resolutionTag, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return tag, false
	}
	// an event for the same session may have taken over while we fetched it
	if !c.isCurrentLocked(tag) && (key == "" || key != c.activeKey) {
		return tag, false
	}
	c.activeKey = key
	tag.key = key
	tag.source = source
	return tag, true
}

func (c *Coordinator) isCurrentLocked(tag resolutionTag) bool {
	if c.closed {
		return false
	}
	return tag.gen == c.activeGen || (tag.key != "" && tag.key == c.activeKey)
}

// publish is a compare-and-swap on the active session: it applies next only
// while tag is current and the phase move is allowed.
func (c *Coordinator) publish(tag resolutionTag, next AuthState, phase Phase) bool {
	c.mu.Lock()
	if !c.isCurrentLocked(tag) {
		c.mu.Unlock()
		return false
	}
	if !canTransition(c.phase, phase) {
		c.logger.Warn("rejected auth phase transition", "from", string(c.phase), "to", string(phase))
		c.mu.Unlock()
		return false
	}

	c.phase = phase
	if next.User != nil {
		if c.state.User == nil || c.state.User.ID != next.User.ID {
			c.industrySelected = false
		}
		c.publishedKey = tag.key
		c.origin = tag.source
	} else {
		c.publishedKey, c.origin, c.industrySelected = "", "", false
	}
	c.swapLocked(next)
	return true
}

// signOutState invalidates in-flight resolutions and publishes a signed out
// state in one step.
func (c *Coordinator) signOutState(errMsg string) bool {
	c.mu.Lock()
	if c.closed || !canTransition(c.phase, PhaseUnauthenticated) {
		c.mu.Unlock()
		return false
	}
	c.beginLocked(c.sentinelKeyLocked(), "")
	c.phase = PhaseUnauthenticated
	c.publishedKey, c.origin, c.industrySelected = "", "", false
	c.swapLocked(AuthState{Error: errMsg})
	return true
}

func (c *Coordinator) setLoading() {
	c.update(func(s *AuthState) {
		if s.User == nil {
			s.Loading = true
		}
		s.Error = ""
	})
}

func (c *Coordinator) setError(err error) {
	c.update(func(s *AuthState) {
		s.Loading = false
		s.Error = UserMessage(err)
	})
}

// update replaces the state with a modified copy. The identity is untouched.
func (c *Coordinator) update(fn func(*AuthState)) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	next := c.state.clone()
	fn(&next)
	c.swapLocked(next)
}

// swapLocked stores next and notifies watchers. It must be called with mu
// held and releases it; notifyMu keeps watchers in publication order.
func (c *Coordinator) swapLocked(next AuthState) {
	if next.User != nil {
		next.Loading = false
	}
	c.state = next.clone()
	snapshot := c.state.clone()

	c.notifyMu.Lock()
	c.mu.Unlock()
	defer c.notifyMu.Unlock()

	c.watchMu.RLock()
	fns := make([]func(AuthState), 0, len(c.watchers))
	for _, fn := range c.watchers {
		fns = append(fns, fn)
	}
	c.watchMu.RUnlock()

	for _, fn := range fns {
		fn(snapshot.clone())
	}
}

func (c *Coordinator) currentUserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.User == nil {
		return ""
	}
	return c.state.User.ID
}

func (c *Coordinator) record(ctx context.Context, event ActivityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = c.now()
	}
	sink := normalizeActivitySink(c.activitySink)
	if err := sink.Record(ctx, event); err != nil {
		c.logger.Warn("coordinator activity sink error", "event", string(event.EventType), "error", err)
	}
}

func localKey(token string) string {
	return "local:" + token
}
