package gotrue

import (
	"encoding/json"
	"strings"
	"time"

	auth "github.com/tradepulse/go-auth"
)

type userResponse struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata"`
	AppMetadata  map[string]any `json:"app_metadata"`
}

// metadata merges app metadata over user metadata. App metadata carries
// the provider assigned fields such as role, which users cannot edit.
func (u *userResponse) metadata() map[string]any {
	if u == nil || (len(u.UserMetadata) == 0 && len(u.AppMetadata) == 0) {
		return nil
	}
	out := make(map[string]any, len(u.UserMetadata)+len(u.AppMetadata))
	for k, v := range u.UserMetadata {
		out[k] = v
	}
	for k, v := range u.AppMetadata {
		out[k] = v
	}
	return out
}

type tokenResponse struct {
	AccessToken  string        `json:"access_token"`
	TokenType    string        `json:"token_type"`
	ExpiresIn    int64         `json:"expires_in"`
	ExpiresAt    int64         `json:"expires_at"`
	RefreshToken string        `json:"refresh_token"`
	User         *userResponse `json:"user"`

	raw map[string]any
}

func (r *tokenResponse) session(now time.Time) *auth.RemoteSession {
	var expires time.Time
	switch {
	case r.ExpiresAt > 0:
		expires = time.Unix(r.ExpiresAt, 0).UTC()
	case r.ExpiresIn > 0:
		expires = now.Add(time.Duration(r.ExpiresIn) * time.Second).UTC()
	}

	sess := &auth.RemoteSession{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		ExpiresAt:    expires,
		Raw:          r.raw,
	}
	if r.User != nil {
		sess.UserID = r.User.ID
		sess.Email = r.User.Email
		sess.Metadata = r.User.metadata()
	}
	return sess
}

// signUpResponse is either a token response or, while confirmation is
// pending, the bare user object.
type signUpResponse struct {
	tokenResponse
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata"`
}

// apiErrorBody covers both the legacy OAuth style and the newer error_code
// payloads.
type apiErrorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	ErrorCode        string `json:"error_code"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
}

func apiError(operation string, status int, body []byte) *auth.ProviderError {
	var payload apiErrorBody
	_ = json.Unmarshal(body, &payload)

	code := payload.ErrorCode
	if code == "" {
		code = payload.Error
	}

	desc := payload.ErrorDescription
	if desc == "" {
		desc = payload.Msg
	}
	if desc == "" {
		desc = payload.Message
	}
	if desc == "" {
		desc = strings.TrimSpace(string(body))
	}
	if desc == "" {
		desc = "gotrue request failed"
	}

	return providerError(operation, status, code, desc, nil)
}

func providerError(operation string, status int, code, description string, err error) *auth.ProviderError {
	return &auth.ProviderError{
		Provider:    providerName,
		Operation:   operation,
		Status:      status,
		Code:        code,
		Description: description,
		Err:         err,
	}
}

func rawMap(body []byte) map[string]any {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil
	}
	// tokens live on the session fields, keep them out of the raw copy
	delete(raw, "access_token")
	delete(raw, "refresh_token")
	return raw
}
