package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// profileResolver turns a remote session into an AuthUser backed by a
// ProfileRow, creating the row on first sight.
type profileResolver struct {
	profiles ProfileStore
	now      func() time.Time
	logger   Logger
}

// resolve returns the user for sess and whether this call created its row.
func (r *profileResolver) resolve(ctx context.Context, sess *RemoteSession) (AuthUser, bool, error) {
	if sess == nil || sess.UserID == "" {
		return AuthUser{}, false, ErrNoUser
	}

	row, err := r.profiles.GetByID(ctx, sess.UserID)
	if err != nil {
		return AuthUser{}, false, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load profile")
	}
	if row != nil {
		return userFromProfile(row), false, nil
	}

	created, err := r.profiles.Insert(ctx, r.synthesize(sess))
	if err == nil && created != nil {
		return userFromProfile(created), true, nil
	}
	if err != nil && !IsUniqueViolation(err) {
		return AuthUser{}, false, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create profile")
	}

	// another writer created the row first, the stored row wins
	r.logger.Debug("profile insert lost a race, re-reading", "user_id", sess.UserID)
	row, err = r.profiles.GetByID(ctx, sess.UserID)
	if err != nil {
		return AuthUser{}, false, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to reload profile")
	}
	if row == nil {
		return AuthUser{}, false, goerrors.Wrap(
			fmt.Errorf("profile %s missing after uniqueness violation", sess.UserID),
			goerrors.CategoryInternal, "failed to reload profile")
	}
	return userFromProfile(row), false, nil
}

// synthesize builds a first ProfileRow from session metadata. The role is a
// bootstrap default only.
func (r *profileResolver) synthesize(sess *RemoteSession) *ProfileRow {
	meta := sess.Metadata
	email := sess.Email
	if email == "" {
		email = metaString(meta, "email")
	}

	role := metaString(meta, "role")
	if role == "" && sess.AccessToken != "" {
		if claims, err := DecodeClaims(sess.AccessToken); err == nil {
			role = claims.Role
		}
	}

	name := metaString(meta, "name")
	if name == "" {
		name = metaString(meta, "full_name")
	}
	if name == "" {
		name, _, _ = strings.Cut(email, "@")
	}

	now := r.now().UTC()
	return &ProfileRow{
		ID:        sess.UserID,
		Email:     normalizeEmail(email),
		Name:      name,
		Company:   metaString(meta, "company"),
		Industry:  NormalizeIndustry(metaString(meta, "industry")),
		Country:   metaString(meta, "country"),
		Role:      NormalizeRole(role),
		Metadata:  cloneMetadata(meta),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func metaString(meta map[string]any, key string) string {
	if meta == nil {
		return ""
	}
	v, ok := meta[key].(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(v)
}

func cloneMetadata(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
