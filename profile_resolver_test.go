package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSynthesizeProfile(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("CLT", -3*3600))
	r := &profileResolver{now: func() time.Time { return now }, logger: defaultLogger}

	tests := []struct {
		name     string
		sess     *RemoteSession
		expected ProfileRow
	}{
		{
			name: "metadata fields",
			sess: &RemoteSession{
				UserID: "u1",
				Email:  "Buyer@Example.com",
				Metadata: map[string]any{
					"name":     " Ana ",
					"company":  "Acme",
					"industry": "Agriculture",
					"country":  "Chile",
					"role":     "supplier",
				},
			},
			expected: ProfileRow{ID: "u1", Email: "buyer@example.com", Name: "Ana", Company: "Acme", Industry: IndustryAgriculture, Country: "Chile", Role: RoleSupplier},
		},
		{
			name:     "full name and email fallback",
			sess:     &RemoteSession{UserID: "u2", Metadata: map[string]any{"full_name": "Bo Lee", "email": "bo@example.com"}},
			expected: ProfileRow{ID: "u2", Email: "bo@example.com", Name: "Bo Lee", Industry: IndustryConstruction, Role: RoleUser},
		},
		{
			name:     "name from email local part",
			sess:     &RemoteSession{UserID: "u3", Email: "carla@example.com"},
			expected: ProfileRow{ID: "u3", Email: "carla@example.com", Name: "carla", Industry: IndustryConstruction, Role: RoleUser},
		},
		{
			name:     "unknown role is downgraded",
			sess:     &RemoteSession{UserID: "u4", Email: "d@example.com", Metadata: map[string]any{"role": "owner", "industry": 42}},
			expected: ProfileRow{ID: "u4", Email: "d@example.com", Name: "d", Industry: IndustryConstruction, Role: RoleUser},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row := r.synthesize(tt.sess)
			require.NotNil(t, row)
			assert.Equal(t, tt.expected.ID, row.ID)
			assert.Equal(t, tt.expected.Email, row.Email)
			assert.Equal(t, tt.expected.Name, row.Name)
			assert.Equal(t, tt.expected.Company, row.Company)
			assert.Equal(t, tt.expected.Industry, row.Industry)
			assert.Equal(t, tt.expected.Country, row.Country)
			assert.Equal(t, tt.expected.Role, row.Role)
			assert.Equal(t, now.UTC(), row.CreatedAt)
			assert.Equal(t, time.UTC, row.CreatedAt.Location())
		})
	}
}

func TestSynthesizeRoleFromAccessTokenClaims(t *testing.T) {
	codec := NewTokenCodec([]byte("resolver-signing-key-0123456789"), time.Hour)
	token, err := codec.Mint(AuthUser{ID: "u5", Email: "e@example.com", Role: RoleAdmin})
	require.NoError(t, err)

	r := &profileResolver{now: time.Now, logger: defaultLogger}
	row := r.synthesize(&RemoteSession{UserID: "u5", Email: "e@example.com", AccessToken: token})
	assert.Equal(t, RoleAdmin, row.Role)
}

func TestSynthesizeCopiesMetadata(t *testing.T) {
	meta := map[string]any{"company": "Acme"}
	r := &profileResolver{now: time.Now, logger: defaultLogger}

	row := r.synthesize(&RemoteSession{UserID: "u6", Email: "f@example.com", Metadata: meta})
	row.Metadata["company"] = "Changed"
	assert.Equal(t, "Acme", meta["company"])
}
