package gotrue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	auth "github.com/tradepulse/go-auth"
)

const (
	providerName      = "gotrue"
	defaultStorageKey = "gotrue:session"
)

// Config configures a GoTrue client.
type Config struct {
	// URL is the project base URL, the client appends /auth/v1.
	URL        string
	AnonKey    string
	HTTPClient *http.Client
	// Storage persists the current session between process restarts.
	// Sessions are kept in memory only when nil.
	Storage    auth.KeyValueStore
	StorageKey string
	Logger     auth.Logger
	Now        func() time.Time
}

// Client implements auth.RemoteSessionClient against the GoTrue REST API.
type Client struct {
	baseURL    string
	anonKey    string
	httpClient *http.Client
	storage    auth.KeyValueStore
	storageKey string
	logger     auth.Logger
	now        func() time.Time

	mu      sync.Mutex
	session *auth.RemoteSession
	loaded  bool

	listenersMu sync.Mutex
	listeners   []listenerEntry
	nextID      uint64
}

type listenerEntry struct {
	id uint64
	fn auth.SessionListener
}

var _ auth.RemoteSessionClient = (*Client)(nil)

func New(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	storageKey := cfg.StorageKey
	if storageKey == "" {
		storageKey = defaultStorageKey
	}
	logger := cfg.Logger
	if logger == nil {
		logger = auth.NewLogger(auth.LoggerOptions{Name: providerName, Output: io.Discard})
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.URL, "/") + "/auth/v1",
		anonKey:    cfg.AnonKey,
		httpClient: httpClient,
		storage:    cfg.Storage,
		storageKey: storageKey,
		logger:     logger,
		now:        now,
	}
}

// GetSession returns the persisted session. A session that has not expired
// is checked against the user endpoint; a rejected token clears it.
func (c *Client) GetSession(ctx context.Context) (*auth.RemoteSession, error) {
	sess, err := c.current(ctx)
	if err != nil || sess == nil {
		return nil, err
	}
	if sess.Expired(c.now()) {
		return sess, nil
	}

	user, err := c.fetchUser(ctx, sess.AccessToken)
	if err != nil {
		var perr *auth.ProviderError
		if errors.As(err, &perr) && (perr.Status == http.StatusUnauthorized || perr.Status == http.StatusForbidden) {
			c.logger.Info("stored gotrue session rejected, clearing", "user_id", sess.UserID)
			if clearErr := c.store(ctx, nil); clearErr != nil {
				return nil, clearErr
			}
			return nil, nil
		}
		return nil, err
	}

	sess.Email = user.Email
	sess.Metadata = user.metadata()
	if err := c.store(ctx, sess); err != nil {
		return nil, err
	}
	return copySession(sess), nil
}

// RefreshSession exchanges the stored refresh token for a new session.
func (c *Client) RefreshSession(ctx context.Context) (*auth.RemoteSession, error) {
	sess, err := c.current(ctx)
	if err != nil {
		return nil, err
	}
	if sess == nil || sess.RefreshToken == "" {
		return nil, providerError("refresh", 0, "session_not_found", "no session to refresh", nil)
	}

	resp, err := c.tokenGrant(ctx, "refresh", "refresh_token", map[string]any{
		"refresh_token": sess.RefreshToken,
	})
	if err != nil {
		return nil, err
	}

	next := resp.session(c.now())
	if err := c.store(ctx, next); err != nil {
		return nil, err
	}
	c.emit(ctx, auth.SessionTokenRefreshed, next)
	return copySession(next), nil
}

func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*auth.RemoteSession, error) {
	resp, err := c.tokenGrant(ctx, "sign_in", "password", map[string]any{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return nil, err
	}

	sess := resp.session(c.now())
	if err := c.store(ctx, sess); err != nil {
		return nil, err
	}
	c.emit(ctx, auth.SessionSignedIn, sess)
	return copySession(sess), nil
}

// SignUp creates the account. When the project requires email confirmation
// the result carries no session.
func (c *Client) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*auth.SignUpResult, error) {
	payload := map[string]any{
		"email":    email,
		"password": password,
	}
	if len(metadata) > 0 {
		payload["data"] = metadata
	}

	body, status, err := c.do(ctx, http.MethodPost, c.baseURL+"/signup", "", payload)
	if err != nil {
		return nil, providerError("sign_up", 0, "", "", err)
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return nil, apiError("sign_up", status, body)
	}

	var resp signUpResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, providerError("sign_up", status, "invalid_response", "failed to decode sign up response", err)
	}

	result := &auth.SignUpResult{}
	if resp.AccessToken != "" {
		sess := resp.tokenResponse.session(c.now())
		if err := c.store(ctx, sess); err != nil {
			return nil, err
		}
		c.emit(ctx, auth.SessionSignedIn, sess)
		result.Session = copySession(sess)
		result.UserID = sess.UserID
		result.Email = sess.Email
		result.Metadata = sess.Metadata
		return result, nil
	}

	// confirmation pending, the body is the bare user object
	result.UserID = resp.ID
	result.Email = resp.Email
	result.Metadata = resp.UserMetadata
	if result.Email == "" {
		result.Email = email
	}
	return result, nil
}

// SignOut revokes the session remotely and always clears it locally. The
// remote error, if any, is returned after listeners saw signed_out.
func (c *Client) SignOut(ctx context.Context) error {
	sess, err := c.current(ctx)
	if err != nil {
		return err
	}

	var remoteErr error
	if sess != nil && sess.AccessToken != "" {
		body, status, err := c.do(ctx, http.MethodPost, c.baseURL+"/logout", sess.AccessToken, nil)
		switch {
		case err != nil:
			remoteErr = providerError("sign_out", 0, "", "", err)
		case status >= http.StatusBadRequest && status != http.StatusUnauthorized:
			remoteErr = apiError("sign_out", status, body)
		}
	}

	if err := c.store(ctx, nil); err != nil {
		return err
	}
	c.emit(ctx, auth.SessionSignedOut, nil)
	return remoteErr
}

// OnSessionChange registers listener. Listeners run synchronously in
// registration order, after the session was persisted.
func (c *Client) OnSessionChange(listener auth.SessionListener) func() {
	c.listenersMu.Lock()
	c.nextID++
	id := c.nextID
	c.listeners = append(c.listeners, listenerEntry{id: id, fn: listener})
	c.listenersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.listenersMu.Lock()
			defer c.listenersMu.Unlock()
			for i, entry := range c.listeners {
				if entry.id == id {
					c.listeners = append(c.listeners[:i:i], c.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

func (c *Client) emit(ctx context.Context, typ auth.SessionEventType, sess *auth.RemoteSession) {
	c.listenersMu.Lock()
	snapshot := make([]listenerEntry, len(c.listeners))
	copy(snapshot, c.listeners)
	c.listenersMu.Unlock()

	for _, entry := range snapshot {
		entry.fn(ctx, auth.SessionEvent{Type: typ, Session: copySession(sess)})
	}
}

func (c *Client) current(ctx context.Context) (*auth.RemoteSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.loaded && c.storage != nil {
		raw, ok, err := c.storage.Get(ctx, c.storageKey)
		if err != nil {
			return nil, providerError("load_session", 0, "storage", "failed to read stored session", err)
		}
		if ok && raw != "" {
			var sess auth.RemoteSession
			if err := json.Unmarshal([]byte(raw), &sess); err != nil {
				c.logger.Warn("discarding unreadable gotrue session", "error", err)
			} else {
				c.session = &sess
			}
		}
	}
	c.loaded = true
	return copySession(c.session), nil
}

func (c *Client) store(ctx context.Context, sess *auth.RemoteSession) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.session = copySession(sess)
	c.loaded = true
	if c.storage == nil {
		return nil
	}

	if sess == nil {
		if err := c.storage.Remove(ctx, c.storageKey); err != nil {
			return providerError("store_session", 0, "storage", "failed to clear stored session", err)
		}
		return nil
	}

	raw, err := json.Marshal(sess)
	if err != nil {
		return providerError("store_session", 0, "storage", "failed to encode session", err)
	}
	if err := c.storage.Set(ctx, c.storageKey, string(raw)); err != nil {
		return providerError("store_session", 0, "storage", "failed to persist session", err)
	}
	return nil
}

func (c *Client) tokenGrant(ctx context.Context, op, grantType string, payload map[string]any) (*tokenResponse, error) {
	endpoint := c.baseURL + "/token?grant_type=" + url.QueryEscape(grantType)
	body, status, err := c.do(ctx, http.MethodPost, endpoint, "", payload)
	if err != nil {
		return nil, providerError(op, 0, "", "", err)
	}
	if status != http.StatusOK {
		return nil, apiError(op, status, body)
	}

	var resp tokenResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, providerError(op, status, "invalid_response", "failed to decode token response", err)
	}
	if resp.AccessToken == "" || resp.User == nil || resp.User.ID == "" {
		return nil, providerError(op, status, "invalid_response", "token response missing session", nil)
	}
	resp.raw = rawMap(body)
	return &resp, nil
}

func (c *Client) fetchUser(ctx context.Context, accessToken string) (*userResponse, error) {
	body, status, err := c.do(ctx, http.MethodGet, c.baseURL+"/user", accessToken, nil)
	if err != nil {
		return nil, providerError("get_user", 0, "", "", err)
	}
	if status != http.StatusOK {
		return nil, apiError("get_user", status, body)
	}

	var user userResponse
	if err := json.Unmarshal(body, &user); err != nil {
		return nil, providerError("get_user", status, "invalid_response", "failed to decode user response", err)
	}
	return &user, nil
}

func (c *Client) do(ctx context.Context, method, endpoint, bearer string, payload any) ([]byte, int, error) {
	var reader io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, 0, err
	}
	if bearer == "" {
		bearer = c.anonKey
	}
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

func copySession(sess *auth.RemoteSession) *auth.RemoteSession {
	if sess == nil {
		return nil
	}
	out := *sess
	return &out
}
