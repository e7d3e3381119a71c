package apperrors

import (
	"errors"
	"fmt"
)

// Error categories. Specific errors below wrap one of them, so callers may match either.
var (
	// Caller failed to authenticate: bad credentials, unknown or dead refresh token.
	// Must be rendered without details.
	ErrAuthentication = errors.New("authentication failed")

	// Refresh token presented on behalf of another user
	ErrTheftDetected = errors.New("refresh token theft detected")

	// Key not found, malformed ciphertext, wrong key size
	ErrCrypto = errors.New("crypto error")

	// Missing or invalid settings: signing secret, primary key id, key storage
	ErrConfiguration = errors.New("configuration error")
)

var (
	ErrUserAlreadyExists  = errors.New("user already exists")
	ErrUserNotFound       = errors.New("user not found")
	ErrDataKeyChanged     = errors.New("user data key changed concurrently")
	ErrInvalidCredentials = fmt.Errorf("invalid username or password: %w", ErrAuthentication)

	ErrRefreshTokenNotFound = fmt.Errorf("refresh token not found: %w", ErrAuthentication)
	ErrRefreshTokenRevoked  = fmt.Errorf("refresh token is revoked: %w", ErrAuthentication)
	ErrRefreshTokenExpired  = fmt.Errorf("refresh token is expired: %w", ErrAuthentication)
	ErrRefreshTokenReused   = fmt.Errorf("refresh token presented by another user: %w", ErrTheftDetected)
	ErrAccessTokenInvalid   = fmt.Errorf("access token is invalid: %w", ErrAuthentication)

	ErrKeyNotFound = fmt.Errorf("key not found: %w", ErrCrypto)

	ErrInstitutionAlreadyLinked = errors.New("institution already linked")
	ErrInstitutionNotFound      = errors.New("institution not found")
	ErrUnknownProvider          = errors.New("unknown provider")
)
