package auth_test

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	auth "github.com/tradepulse/go-auth"
	"github.com/tradepulse/go-auth/kvstore"
)

const testSigningKey = "test-signing-key-0123456789"

// fakeRemote is a scriptable RemoteSessionClient. Like the real provider it
// notifies listeners synchronously on sign in, refresh and sign out.
type fakeRemote struct {
	mu          sync.Mutex
	getSession  func(ctx context.Context) (*auth.RemoteSession, error)
	refresh     func(ctx context.Context) (*auth.RemoteSession, error)
	signIn      func(ctx context.Context, email, password string) (*auth.RemoteSession, error)
	signUp      func(ctx context.Context, email, password string, metadata map[string]any) (*auth.SignUpResult, error)
	signOutErr  error
	signInCalls int
	signOuts    int
	listeners   map[int]auth.SessionListener
	nextID      int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{listeners: map[int]auth.SessionListener{}}
}

func (f *fakeRemote) GetSession(ctx context.Context) (*auth.RemoteSession, error) {
	if f.getSession == nil {
		return nil, nil
	}
	return f.getSession(ctx)
}

func (f *fakeRemote) RefreshSession(ctx context.Context) (*auth.RemoteSession, error) {
	if f.refresh == nil {
		return nil, &auth.ProviderError{Provider: "fake", Operation: "refresh", Code: "session_not_found"}
	}
	sess, err := f.refresh(ctx)
	if err == nil && sess != nil {
		f.emit(auth.SessionEvent{Type: auth.SessionTokenRefreshed, Session: sess})
	}
	return sess, err
}

func (f *fakeRemote) SignInWithPassword(ctx context.Context, email, password string) (*auth.RemoteSession, error) {
	f.mu.Lock()
	f.signInCalls++
	f.mu.Unlock()

	if f.signIn == nil {
		return nil, invalidLoginCredentials()
	}
	sess, err := f.signIn(ctx, email, password)
	if err == nil && sess != nil {
		f.emit(auth.SessionEvent{Type: auth.SessionSignedIn, Session: sess})
	}
	return sess, err
}

func (f *fakeRemote) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*auth.SignUpResult, error) {
	if f.signUp == nil {
		return nil, &auth.ProviderError{Provider: "fake", Operation: "sign_up", Status: 503}
	}
	return f.signUp(ctx, email, password, metadata)
}

func (f *fakeRemote) SignOut(context.Context) error {
	f.mu.Lock()
	f.signOuts++
	err := f.signOutErr
	f.mu.Unlock()

	f.emit(auth.SessionEvent{Type: auth.SessionSignedOut})
	return err
}

func (f *fakeRemote) OnSessionChange(listener auth.SessionListener) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.listeners[id] = listener
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.listeners, id)
	}
}

func (f *fakeRemote) emit(ev auth.SessionEvent) {
	f.mu.Lock()
	ids := make([]int, 0, len(f.listeners))
	for id := range f.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]auth.SessionListener, 0, len(ids))
	for _, id := range ids {
		fns = append(fns, f.listeners[id])
	}
	f.mu.Unlock()

	for _, fn := range fns {
		fn(context.Background(), ev)
	}
}

func (f *fakeRemote) listenerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners)
}

func (f *fakeRemote) signInCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signInCalls
}

func invalidLoginCredentials() error {
	return &auth.ProviderError{
		Provider:    "fake",
		Operation:   "sign_in",
		Status:      400,
		Code:        "invalid_grant",
		Description: "Invalid login credentials",
	}
}

func remoteSession(userID, email, access string, metadata map[string]any) *auth.RemoteSession {
	return &auth.RemoteSession{
		UserID:       userID,
		Email:        email,
		AccessToken:  access,
		RefreshToken: "refresh-" + access,
		ExpiresAt:    time.Now().Add(time.Hour),
		Metadata:     metadata,
	}
}

// fakeProfiles is an in-memory ProfileStore with hooks for race scenarios.
type fakeProfiles struct {
	mu      sync.Mutex
	rows    map[string]*auth.ProfileRow
	updates []auth.ProfilePatch
	inserts int

	// beforeGet runs outside the lock before every lookup
	beforeGet func(id string)
	// getErr fails every lookup
	getErr error
	// raceWinner, when set, is stored by a concurrent writer just before our
	// insert, which then fails with ErrProfileExists
	raceWinner *auth.ProfileRow
}

func newFakeProfiles(rows ...*auth.ProfileRow) *fakeProfiles {
	p := &fakeProfiles{rows: map[string]*auth.ProfileRow{}}
	for _, row := range rows {
		p.rows[row.ID] = row
	}
	return p
}

func (p *fakeProfiles) GetByID(_ context.Context, id string) (*auth.ProfileRow, error) {
	if p.beforeGet != nil {
		p.beforeGet(id)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.getErr != nil {
		return nil, p.getErr
	}
	row, ok := p.rows[id]
	if !ok {
		return nil, nil
	}
	cp := *row
	return &cp, nil
}

func (p *fakeProfiles) Insert(_ context.Context, row *auth.ProfileRow) (*auth.ProfileRow, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inserts++
	if p.raceWinner != nil {
		p.rows[p.raceWinner.ID] = p.raceWinner
		p.raceWinner = nil
	}
	if _, exists := p.rows[row.ID]; exists {
		return nil, auth.ErrProfileExists.Clone()
	}
	cp := *row
	p.rows[row.ID] = &cp
	return row, nil
}

func (p *fakeProfiles) Update(_ context.Context, id string, patch auth.ProfilePatch) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	row, ok := p.rows[id]
	if !ok {
		return auth.ErrProfileNotFound
	}
	if patch.Industry != nil {
		row.Industry = *patch.Industry
	}
	p.updates = append(p.updates, patch)
	return nil
}

func (p *fakeProfiles) row(id string) *auth.ProfileRow {
	p.mu.Lock()
	defer p.mu.Unlock()
	if row, ok := p.rows[id]; ok {
		cp := *row
		return &cp
	}
	return nil
}

// MockIdentitySource implements auth.IdentitySource
type MockIdentitySource struct {
	mock.Mock
}

func (m *MockIdentitySource) Name() string {
	return "mock"
}

func (m *MockIdentitySource) SignIn(ctx context.Context, email, password string) (*auth.SourceResult, error) {
	args := m.Called(ctx, email, password)
	res, _ := args.Get(0).(*auth.SourceResult)
	return res, args.Error(1)
}

func (m *MockIdentitySource) SignUp(ctx context.Context, in auth.RegisterInput) (*auth.SourceResult, error) {
	args := m.Called(ctx, in)
	res, _ := args.Get(0).(*auth.SourceResult)
	return res, args.Error(1)
}

func (m *MockIdentitySource) Refresh(ctx context.Context, current *auth.AuthUser) (*auth.SourceResult, error) {
	args := m.Called(ctx, current)
	res, _ := args.Get(0).(*auth.SourceResult)
	return res, args.Error(1)
}

func (m *MockIdentitySource) SignOut(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// recordingSink captures activity events.
type recordingSink struct {
	mu     sync.Mutex
	events []auth.ActivityEvent
}

func (r *recordingSink) Record(_ context.Context, event auth.ActivityEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingSink) has(eventType auth.ActivityEventType) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev.EventType == eventType {
			return true
		}
	}
	return false
}

func (r *recordingSink) find(eventType auth.ActivityEventType) (auth.ActivityEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev.EventType == eventType {
			return ev, true
		}
	}
	return auth.ActivityEvent{}, false
}

type quietLogger struct{}

func (quietLogger) Debug(string, ...any) {}
func (quietLogger) Info(string, ...any)  {}
func (quietLogger) Warn(string, ...any)  {}
func (quietLogger) Error(string, ...any) {}

func newTestStore(t *testing.T) (*auth.CredentialStore, *kvstore.Memory) {
	t.Helper()
	kv := kvstore.NewMemory()
	codec := auth.NewTokenCodec([]byte(testSigningKey), time.Hour)
	store := auth.NewCredentialStore(kv, codec,
		auth.WithPasswordCost(4),
		auth.WithCredentialStoreLogger(quietLogger{}))
	return store, kv
}

type harness struct {
	coord    *auth.Coordinator
	store    *auth.CredentialStore
	kv       *kvstore.Memory
	sink     *recordingSink
	remote   *fakeRemote
	profiles *fakeProfiles
}

// newHarness builds a coordinator. A nil remote gives a local only setup.
func newHarness(t *testing.T, remote *fakeRemote, profiles *fakeProfiles, opts ...auth.CoordinatorOption) *harness {
	t.Helper()

	store, kv := newTestStore(t)
	sink := &recordingSink{}
	base := []auth.CoordinatorOption{
		auth.WithCoordinatorLogger(quietLogger{}),
		auth.WithCoordinatorActivitySink(sink),
		auth.WithSessionTimeout(200 * time.Millisecond),
		auth.WithRefreshInterval(time.Hour),
	}

	var (
		coord *auth.Coordinator
		err   error
	)
	if remote != nil {
		coord, err = auth.NewCoordinator(remote, profiles, store, append(base, opts...)...)
	} else {
		coord, err = auth.NewCoordinator(nil, nil, store, append(base, opts...)...)
	}
	require.NoError(t, err)
	t.Cleanup(func() { _ = coord.Close() })

	return &harness{coord: coord, store: store, kv: kv, sink: sink, remote: remote, profiles: profiles}
}
