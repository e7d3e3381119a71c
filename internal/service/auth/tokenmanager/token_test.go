package tokenmanager

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/fiscalos/internal/apperrors"
	"github.com/nkiryanov/fiscalos/internal/models"
)

func mustParseTime(value string) time.Time {
	dt, err := time.Parse("2006-01-02 15:04:05Z07:00", value)
	if err != nil {
		panic(err)
	}
	return dt
}

// Clock that may be moved by tests
type clock struct {
	now time.Time
}

func (c *clock) Now() time.Time { return c.now }

func Test_TokenManager(t *testing.T) {
	t.Parallel()

	testUser := models.User{
		ID:             uuid.New(),
		CreatedAt:      mustParseTime("2024-01-01 19:00:01Z"),
		Username:       "testuser",
		HashedPassword: "hashed_password",
	}

	newManager := func(t *testing.T, c *clock) *TokenManager {
		m, err := New(Config{
			SecretKey: "test-secret-key",
			Issuer:    "fiscalos",
			Audience:  "fiscalos-api",
			Now:       c.Now,
		})
		require.NoError(t, err, "token manager should be created without errors")
		return m
	}

	t.Run("new defaults", func(t *testing.T) {
		m, err := New(Config{SecretKey: "secret"})
		require.NoError(t, err, "token manager should be created without errors")

		require.Equal(t, []byte("secret"), m.key, "secret key should be set")
		require.Equal(t, 5*time.Minute, m.accessTTL, "default access token TTL should be set")
		require.Equal(t, 12*time.Hour, m.refreshTTL, "default refresh token TTL")
		require.Equal(t, defaultSigningMethod, m.alg.Alg(), "default signing method should be set")
	})

	t.Run("new without secret", func(t *testing.T) {
		_, err := New(Config{})

		require.ErrorIs(t, err, apperrors.ErrConfiguration)
	})

	t.Run("new with not hmac alg", func(t *testing.T) {
		_, err := New(Config{SecretKey: "secret", Alg: "RS256"})

		require.ErrorIs(t, err, apperrors.ErrConfiguration)
	})

	t.Run("access token claims", func(t *testing.T) {
		c := &clock{now: mustParseTime("2025-03-01 10:00:00Z")}
		m := newManager(t, c)

		token, err := m.GenerateAccessToken(testUser)
		require.NoError(t, err)
		require.WithinDuration(t, mustParseTime("2025-03-01 10:05:00Z"), token.ExpiresAt, 0)

		claims := &AccessTokenClaims{}
		_, _, err = jwt.NewParser().ParseUnverified(token.Value, claims)
		require.NoError(t, err)

		assert.Equal(t, testUser.ID.String(), claims.Subject)
		assert.Equal(t, "fiscalos", claims.Issuer)
		assert.Equal(t, jwt.ClaimStrings{"fiscalos-api"}, claims.Audience)
		assert.WithinDuration(t, c.now, claims.IssuedAt.Time, 0)
		assert.WithinDuration(t, token.ExpiresAt, claims.ExpiresAt.Time, 0)
		_, err = uuid.Parse(claims.ID)
		assert.NoError(t, err, "jti should be uuid")
	})

	t.Run("access token ids are unique", func(t *testing.T) {
		c := &clock{now: mustParseTime("2025-03-01 10:00:00Z")}
		m := newManager(t, c)

		first, err := m.GenerateAccessToken(testUser)
		require.NoError(t, err)
		second, err := m.GenerateAccessToken(testUser)
		require.NoError(t, err)

		require.NotEqual(t, first.Value, second.Value, "tokens issued in the same second must differ by jti")
	})

	t.Run("refresh token", func(t *testing.T) {
		c := &clock{now: mustParseTime("2025-03-01 10:00:00Z")}
		m := newManager(t, c)

		token, err := m.GenerateRefreshToken(testUser)
		require.NoError(t, err)

		assert.Equal(t, testUser.ID, token.UserID)
		assert.NotEqual(t, uuid.Nil, token.ID)
		assert.False(t, token.Revoked)
		assert.WithinDuration(t, c.now, token.CreatedAt, 0)
		assert.WithinDuration(t, mustParseTime("2025-03-01 22:00:00Z"), token.ExpiresAt, 0)

		raw, err := base64.RawURLEncoding.DecodeString(token.Token)
		require.NoError(t, err, "refresh token must be base64")
		assert.Len(t, raw, 32, "refresh token must carry 256 bits")

		other, err := m.GenerateRefreshToken(testUser)
		require.NoError(t, err)
		assert.NotEqual(t, token.Token, other.Token)
	})

	t.Run("parse access", func(t *testing.T) {
		c := &clock{now: mustParseTime("2025-03-01 10:00:00Z")}
		m := newManager(t, c)
		token, err := m.GenerateAccessToken(testUser)
		require.NoError(t, err)

		userID, err := m.ParseAccess(token.Value)

		require.NoError(t, err)
		require.Equal(t, testUser.ID, userID)
	})

	t.Run("parse expired access", func(t *testing.T) {
		c := &clock{now: mustParseTime("2025-03-01 10:00:00Z")}
		m := newManager(t, c)
		token, err := m.GenerateAccessToken(testUser)
		require.NoError(t, err)

		c.now = c.now.Add(time.Hour)

		_, err = m.ParseAccess(token.Value)
		require.ErrorIs(t, err, apperrors.ErrAccessTokenInvalid, "strict mode must reject expired token")
		require.ErrorIs(t, err, jwt.ErrTokenExpired)

		userID, err := m.ParseExpiredAccess(token.Value)
		require.NoError(t, err, "lenient mode must accept expired token")
		require.Equal(t, testUser.ID, userID)
	})

	t.Run("reject foreign tokens", func(t *testing.T) {
		c := &clock{now: mustParseTime("2025-03-01 10:00:00Z")}
		m := newManager(t, c)

		sign := func(t *testing.T, key string, alg jwt.SigningMethod, claims jwt.RegisteredClaims) string {
			t.Helper()
			s, err := jwt.NewWithClaims(alg, claims).SignedString([]byte(key))
			require.NoError(t, err)
			return s
		}
		valid := jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   testUser.ID.String(),
			Issuer:    "fiscalos",
			Audience:  jwt.ClaimStrings{"fiscalos-api"},
			IssuedAt:  jwt.NewNumericDate(c.now),
			ExpiresAt: jwt.NewNumericDate(c.now.Add(time.Minute)),
		}
		with := func(fn func(*jwt.RegisteredClaims)) jwt.RegisteredClaims {
			claims := valid
			fn(&claims)
			return claims
		}

		tests := []struct {
			name  string
			token string
		}{
			{"garbage", "not-a-jwt"},
			{"other secret", sign(t, "other-secret", jwt.SigningMethodHS256, valid)},
			{"other alg", sign(t, "test-secret-key", jwt.SigningMethodHS512, valid)},
			{"other issuer", sign(t, "test-secret-key", jwt.SigningMethodHS256, with(func(c *jwt.RegisteredClaims) { c.Issuer = "evil" }))},
			{"other audience", sign(t, "test-secret-key", jwt.SigningMethodHS256, with(func(c *jwt.RegisteredClaims) { c.Audience = jwt.ClaimStrings{"evil"} }))},
			{"subject not uuid", sign(t, "test-secret-key", jwt.SigningMethodHS256, with(func(c *jwt.RegisteredClaims) { c.Subject = "root" }))},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := m.ParseAccess(tt.token)
				require.ErrorIs(t, err, apperrors.ErrAccessTokenInvalid, "strict mode")

				_, err = m.ParseExpiredAccess(tt.token)
				require.ErrorIs(t, err, apperrors.ErrAccessTokenInvalid, "lenient mode")
			})
		}
	})
}
