package auth_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tradepulse/go-auth"
)

func testUser() auth.AuthUser {
	return auth.AuthUser{
		ID:       "user-1",
		Name:     "Test Buyer",
		Email:    "buyer@example.com",
		Company:  "Acme",
		Industry: auth.IndustryAgriculture,
		Country:  "Chile",
		Role:     auth.RoleUser,
	}
}

func TestTokenCodecRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	codec := auth.NewTokenCodec([]byte(testSigningKey), time.Hour,
		auth.WithTokenCodecClock(func() time.Time { return now }))

	token, err := codec.Mint(testUser())
	require.NoError(t, err)
	assert.Len(t, strings.Split(token, "."), 3)

	claims, err := codec.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, testUser(), claims.User())
	assert.Equal(t, now.Unix(), claims.Iat)
	assert.Equal(t, now.Add(time.Hour).Unix(), claims.Exp)
	assert.False(t, codec.IsExpired(token))

	decoded, err := auth.DecodeClaims(token)
	require.NoError(t, err)
	assert.Equal(t, claims, decoded)
}

func TestTokenCodecEncodeIsDeterministic(t *testing.T) {
	codec := auth.NewTokenCodec([]byte(testSigningKey), time.Hour)
	claims := auth.ClaimsFromUser(testUser(), time.Unix(1_700_000_000, 0), time.Hour)

	a, err := codec.Encode(claims)
	require.NoError(t, err)
	b, err := codec.Encode(claims)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestTokenCodecExpiry(t *testing.T) {
	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := issued
	codec := auth.NewTokenCodec([]byte(testSigningKey), time.Minute,
		auth.WithTokenCodecClock(func() time.Time { return clock }))

	token, err := codec.Mint(testUser())
	require.NoError(t, err)

	clock = issued.Add(2 * time.Minute)
	assert.True(t, codec.IsExpired(token))

	_, err = codec.Verify(token)
	require.Error(t, err)
	assert.True(t, auth.IsTokenExpiredError(err))
	assert.True(t, auth.IsCode(err, auth.TextCodeTokenExpired))

	// decoding does not look at exp
	claims, err := codec.Decode(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Sub)
}

func TestTokenCodecRejectsForeignSignature(t *testing.T) {
	codec := auth.NewTokenCodec([]byte(testSigningKey), time.Hour)
	other := auth.NewTokenCodec([]byte("another-signing-key-9876543210"), time.Hour)

	token, err := other.Mint(testUser())
	require.NoError(t, err)

	_, err = codec.Verify(token)
	require.Error(t, err)
	assert.True(t, auth.IsCode(err, auth.TextCodeInvalidToken))
}

func TestDecodeClaimsMalformed(t *testing.T) {
	tests := []string{"", "not-a-token", "a.b", "a.!!!.c"}
	for _, token := range tests {
		t.Run(token, func(t *testing.T) {
			_, err := auth.DecodeClaims(token)
			require.Error(t, err)
			assert.True(t, auth.IsMalformedError(err))
		})
	}
}

func TestClaimsUserNormalizesIndustry(t *testing.T) {
	claims := auth.ClaimsToken{Sub: "u", Industry: "mining"}
	assert.Equal(t, auth.IndustryConstruction, claims.User().Industry)
}
