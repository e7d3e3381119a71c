package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/nkiryanov/fiscalos/internal/apperrors"
	"github.com/nkiryanov/fiscalos/internal/logger"
	"github.com/nkiryanov/fiscalos/internal/models"
	"github.com/nkiryanov/fiscalos/internal/repository"
	"github.com/nkiryanov/fiscalos/internal/service/auth/tokenmanager"
)

const (
	defaultAccessHeaderName  = "Authorization"
	defaultAccessAuthScheme  = "Bearer"
	defaultRefreshCookieName = "fiscalos_refresh_cookie"
)

// Interface to create or compare user password hashes
type PasswordHasher interface {
	// Generate Hash from password
	Hash(password string) (string, error)

	// Compare known hashedPassword and user provided password
	// Must be protected against timing attacks
	Compare(hashedPassword string, password string) error
}

type userService interface {
	// Create user with hashed password and provisioned data key
	CreateUser(ctx context.Context, username string, password string) (models.User, error)
}

type Config struct {
	// Hasher to use during login. Has to be the one users were created with
	Hasher PasswordHasher

	// Header to put access token in, and its auth scheme
	AccessHeaderName string
	AccessAuthScheme string

	// Cookie to put refresh token in
	RefreshCookieName string

	// Set cookie Secure flag. Disable only for plain HTTP development setups
	InsecureCookie bool
}

// Auth service
type AuthService struct {
	// Manager to mint token pairs (access and refresh)
	tokens *tokenmanager.TokenManager

	// hasher to hash or compare user passwords
	hasher PasswordHasher

	users   userService
	storage repository.Storage
	logger  logger.Logger

	accessHeaderName  string
	accessAuthScheme  string
	refreshCookieName string
	secureCookie      bool

	// Hash compared when user not found so login time doesn't reveal existing usernames
	dummyHash func() (string, error)
}

func NewService(cfg Config, tokens *tokenmanager.TokenManager, users userService, storage repository.Storage, l logger.Logger) (*AuthService, error) {
	setDefault := func(field *string, def string) {
		if *field == "" {
			*field = def
		}
	}
	setDefault(&cfg.AccessHeaderName, defaultAccessHeaderName)
	setDefault(&cfg.AccessAuthScheme, defaultAccessAuthScheme)
	setDefault(&cfg.RefreshCookieName, defaultRefreshCookieName)

	// Set default bcrypt hasher if not provided by user
	hasher := cfg.Hasher
	if hasher == nil {
		hasher = BcryptHasher{}
	}

	if l == nil {
		l = logger.NewNoOpLogger()
	}

	return &AuthService{
		tokens:            tokens,
		hasher:            hasher,
		users:             users,
		storage:           storage,
		logger:            l,
		accessHeaderName:  cfg.AccessHeaderName,
		accessAuthScheme:  cfg.AccessAuthScheme,
		refreshCookieName: cfg.RefreshCookieName,
		secureCookie:      !cfg.InsecureCookie,
		dummyHash: sync.OnceValues(func() (string, error) {
			return hasher.Hash("fiscalos-dummy-password")
		}),
	}, nil
}

// Register creates user and logs it in
func (s *AuthService) Register(ctx context.Context, username string, password string) (models.TokenPair, error) {
	user, err := s.users.CreateUser(ctx, username, password)
	if err != nil {
		return models.TokenPair{}, err
	}

	return s.issuePair(ctx, s.storage, user)
}

// Login returns apperrors.ErrInvalidCredentials both for unknown user and wrong password
func (s *AuthService) Login(ctx context.Context, username string, password string) (models.TokenPair, error) {
	user, err := s.storage.User().GetUserByUsername(ctx, username)
	switch {
	case errors.Is(err, apperrors.ErrUserNotFound):
		if hash, err := s.dummyHash(); err == nil {
			_ = s.hasher.Compare(hash, password)
		}
		return models.TokenPair{}, apperrors.ErrInvalidCredentials
	case err != nil:
		return models.TokenPair{}, err
	}

	if err := s.hasher.Compare(user.HashedPassword, password); err != nil {
		return models.TokenPair{}, apperrors.ErrInvalidCredentials
	}

	return s.issuePair(ctx, s.storage, user)
}

// RefreshPair rotates refresh token presented by the user claimed in (possibly expired) access token.
//
// Token of other user means it was stolen: every token of its owner is revoked and
// apperrors.ErrRefreshTokenReused returned; if the revocation fails the store error is returned instead.
// Unknown, revoked and expired tokens are rejected.
// Otherwise presented token is revoked and new pair issued in one transaction;
// only one of concurrent rotations of the same token succeeds.
func (s *AuthService) RefreshPair(ctx context.Context, claimedUserID uuid.UUID, refresh string) (models.TokenPair, error) {
	now := s.tokens.Now()

	token, err := s.storage.Refresh().Get(ctx, refresh)
	if err != nil {
		return models.TokenPair{}, err
	}

	if token.UserID != claimedUserID {
		return models.TokenPair{}, s.handleReuse(ctx, token, claimedUserID)
	}

	if !token.IsActive(now) {
		if token.Revoked {
			return models.TokenPair{}, apperrors.ErrRefreshTokenRevoked
		}
		return models.TokenPair{}, apperrors.ErrRefreshTokenExpired
	}

	var pair models.TokenPair
	err = s.storage.InTx(ctx, func(storage repository.Storage) error {
		if _, err := storage.Refresh().Revoke(ctx, refresh, now); err != nil {
			return err
		}

		pair, err = s.issuePair(ctx, storage, models.User{ID: token.UserID})
		return err
	})
	if err != nil {
		return models.TokenPair{}, err
	}

	return pair, nil
}

func (s *AuthService) handleReuse(ctx context.Context, token models.RefreshToken, claimedUserID uuid.UUID) error {
	// Revocation must finish even if caller goes away
	revoked, err := s.storage.Refresh().RevokeAllForUser(context.WithoutCancel(ctx), token.UserID)
	if err != nil {
		// Owner sessions may still be live: not a handled theft, caller must see a server error
		return fmt.Errorf("error while revoking tokens of user %s after refresh token reuse. Err: %w", token.UserID, err)
	}

	s.logger.Warn("refresh token presented by other user, owner sessions revoked",
		"event", "refresh_token_reuse",
		"token_id", token.ID,
		"owner_id", token.UserID,
		"claimed_user_id", claimedUserID,
		"revoked", revoked,
	)
	return apperrors.ErrRefreshTokenReused
}

// Number of not revoked and not expired refresh tokens of the user
func (s *AuthService) ActiveSessions(ctx context.Context, userID uuid.UUID) (int, error) {
	return s.storage.Refresh().CountActive(ctx, userID, s.tokens.Now())
}

// Revoke every refresh token of the user
func (s *AuthService) RevokeSessions(ctx context.Context, userID uuid.UUID) (int64, error) {
	return s.storage.Refresh().RevokeAllForUser(ctx, userID)
}

func (s *AuthService) issuePair(ctx context.Context, storage repository.Storage, user models.User) (models.TokenPair, error) {
	access, err := s.tokens.GenerateAccessToken(user)
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("token could not generated, sorry. %w", err)
	}

	refresh, err := s.tokens.GenerateRefreshToken(user)
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("token could not generated, sorry. %w", err)
	}

	refresh, err = storage.Refresh().Save(ctx, refresh)
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("error while saving refresh token. Err: %w", err)
	}

	return models.TokenPair{
		Access:  access,
		Refresh: models.IssuedToken{Value: refresh.Token, ExpiresAt: refresh.ExpiresAt},
	}, nil
}

// Write access token to header and refresh token to cookie
func (s *AuthService) SetTokenPairToResponse(w http.ResponseWriter, pair models.TokenPair) {
	w.Header().Set(s.accessHeaderName, s.accessAuthScheme+" "+pair.Access.Value)

	http.SetCookie(w, &http.Cookie{
		Name:     s.refreshCookieName,
		Value:    pair.Refresh.Value,
		Path:     "/",
		Expires:  pair.Refresh.ExpiresAt,
		MaxAge:   int(pair.Refresh.ExpiresAt.Sub(s.tokens.Now()).Seconds()),
		HttpOnly: true,
		Secure:   s.secureCookie,
		SameSite: http.SameSiteStrictMode,
	})
}

func (s *AuthService) GetRefreshString(r *http.Request) (string, error) {
	cookie, err := r.Cookie(s.refreshCookieName)
	if err != nil || cookie.Value == "" {
		return "", apperrors.ErrRefreshTokenNotFound
	}
	return cookie.Value, nil
}

// User the request is authenticated as. Access token has to be valid and not expired
func (s *AuthService) GetUserFromRequest(ctx context.Context, r *http.Request) (models.User, error) {
	access, err := s.accessFromRequest(r)
	if err != nil {
		return models.User{}, err
	}

	userID, err := s.tokens.ParseAccess(access)
	if err != nil {
		return models.User{}, err
	}

	user, err := s.storage.User().GetUserByID(ctx, userID)
	if errors.Is(err, apperrors.ErrUserNotFound) {
		return user, fmt.Errorf("%w: user not found", apperrors.ErrAccessTokenInvalid)
	}
	return user, err
}

// User id claimed by access token. Expired tokens are accepted; refresh endpoint only
func (s *AuthService) GetClaimedUserID(r *http.Request) (uuid.UUID, error) {
	access, err := s.accessFromRequest(r)
	if err != nil {
		return uuid.Nil, err
	}

	return s.tokens.ParseExpiredAccess(access)
}

func (s *AuthService) accessFromRequest(r *http.Request) (string, error) {
	header := r.Header.Get(s.accessHeaderName)
	scheme, access, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, s.accessAuthScheme) || access == "" {
		return "", fmt.Errorf("%w: no %s token in %s header", apperrors.ErrAccessTokenInvalid, s.accessAuthScheme, s.accessHeaderName)
	}
	return strings.TrimSpace(access), nil
}
