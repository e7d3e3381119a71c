package tokenmanager

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/nkiryanov/fiscalos/internal/apperrors"
	"github.com/nkiryanov/fiscalos/internal/models"
)

const (
	defaultAccessTokenTTL  = 5 * time.Minute
	defaultSigningMethod   = "HS256"
	defaultRefreshTokenTTL = 12 * time.Hour

	// 256 bits of entropy
	refreshTokenSize = 32
)

// Access token claims: jti, sub (user id), iss, aud, iat, exp
type AccessTokenClaims struct {
	jwt.RegisteredClaims
}

// Token manager with sensible default
type Config struct {
	// Secret key to sign access token
	// Required to be set
	SecretKey string

	// Issuer and audience put in and required from access tokens
	Issuer   string
	Audience string

	// JWT MAC (Message Authentication Code) algorithm
	// If not set than default is used
	Alg string

	// Access and refresh token lifetimes
	// If not set than default is used
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	// Clock, time.Now if not set
	Now func() time.Time
}

// TokenManager mints tokens. It never stores them: persisting refresh tokens is on caller
type TokenManager struct {
	key      []byte
	issuer   string
	audience string
	alg      jwt.SigningMethod

	accessTTL  time.Duration
	refreshTTL time.Duration

	now func() time.Time
}

func New(cfg Config) (*TokenManager, error) {
	if cfg.SecretKey == "" {
		return nil, fmt.Errorf("%w: token signing secret must not be empty", apperrors.ErrConfiguration)
	}

	if cfg.Alg == "" {
		cfg.Alg = defaultSigningMethod
	}
	alg := jwt.GetSigningMethod(cfg.Alg)
	if _, ok := alg.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("%w: signing method %q is not HMAC", apperrors.ErrConfiguration, cfg.Alg)
	}

	setDefaultDuration := func(field *time.Duration, def time.Duration) {
		if *field == 0 {
			*field = def
		}
	}
	setDefaultDuration(&cfg.AccessTTL, defaultAccessTokenTTL)
	setDefaultDuration(&cfg.RefreshTTL, defaultRefreshTokenTTL)

	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &TokenManager{
		key:        []byte(cfg.SecretKey),
		issuer:     cfg.Issuer,
		audience:   cfg.Audience,
		alg:        alg,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		now:        cfg.Now,
	}, nil
}

// Current time by manager clock
func (m *TokenManager) Now() time.Time {
	return m.now()
}

// GenerateAccessToken returns signed JWT for user
func (m *TokenManager) GenerateAccessToken(user models.User) (models.IssuedToken, error) {
	now := m.now().Truncate(time.Second)
	expiresAt := now.Add(m.accessTTL)

	claims := AccessTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   user.ID.String(),
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	if m.audience != "" {
		claims.Audience = jwt.ClaimStrings{m.audience}
	}

	access, err := jwt.NewWithClaims(m.alg, claims).SignedString(m.key)
	if err != nil {
		return models.IssuedToken{}, fmt.Errorf("error while signing access token. Err: %w", err)
	}

	return models.IssuedToken{Value: access, ExpiresAt: expiresAt}, nil
}

// GenerateRefreshToken returns random opaque token bound to user. It is not saved
func (m *TokenManager) GenerateRefreshToken(user models.User) (models.RefreshToken, error) {
	now := m.now().Truncate(time.Second)

	b := make([]byte, refreshTokenSize)
	if _, err := rand.Read(b); err != nil {
		return models.RefreshToken{}, fmt.Errorf("error while generate refresh token. Err: %w", err)
	}

	return models.RefreshToken{
		ID:        uuid.New(),
		UserID:    user.ID,
		Token:     base64.RawURLEncoding.EncodeToString(b),
		CreatedAt: now,
		ExpiresAt: now.Add(m.refreshTTL),
		Revoked:   false,
	}, nil
}

// ParseAccess validates access token fully and returns user id
func (m *TokenManager) ParseAccess(access string) (uuid.UUID, error) {
	opts := []jwt.ParserOption{
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(m.now),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	if m.audience != "" {
		opts = append(opts, jwt.WithAudience(m.audience))
	}

	return m.parse(access, opts...)
}

// ParseExpiredAccess accepts expired access tokens. Signature, issuer and audience are still checked.
// Refresh endpoint only: caller whose token just expired must be able to refresh it.
func (m *TokenManager) ParseExpiredAccess(access string) (uuid.UUID, error) {
	claims := &AccessTokenClaims{}
	userID, err := m.parseClaims(access, claims, jwt.WithoutClaimsValidation())
	if err != nil {
		return uuid.Nil, err
	}

	if m.issuer != "" && claims.Issuer != m.issuer {
		return uuid.Nil, fmt.Errorf("%w: unexpected issuer", apperrors.ErrAccessTokenInvalid)
	}
	if m.audience != "" && !slices.Contains(claims.Audience, m.audience) {
		return uuid.Nil, fmt.Errorf("%w: unexpected audience", apperrors.ErrAccessTokenInvalid)
	}

	return userID, nil
}

func (m *TokenManager) parse(access string, opts ...jwt.ParserOption) (uuid.UUID, error) {
	return m.parseClaims(access, &AccessTokenClaims{}, opts...)
}

func (m *TokenManager) parseClaims(access string, claims *AccessTokenClaims, opts ...jwt.ParserOption) (uuid.UUID, error) {
	opts = append(opts, jwt.WithValidMethods([]string{m.alg.Alg()}))

	_, err := jwt.ParseWithClaims(
		access,
		claims,
		func(t *jwt.Token) (any, error) {
			return m.key, nil
		},
		opts...,
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %w", apperrors.ErrAccessTokenInvalid, err)
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: subject is not user id", apperrors.ErrAccessTokenInvalid)
	}

	return userID, nil
}
