package postgres

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/fiscalos/internal/apperrors"
	"github.com/nkiryanov/fiscalos/internal/repository"
	"github.com/nkiryanov/fiscalos/internal/testutil"
)

func Test_RefreshTokenRepo(t *testing.T) {
	t.Parallel() // It's ok to run in parallel with other tests, but not with subtests

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	now := mustParseTime("2025-01-01 12:00:00Z")
	future := mustParseTime("2200-01-01 03:00:02Z")

	t.Run("save token ok", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			user := mustCreateUser(t, tx, "owner")
			repo := RefreshTokenRepo{DB: tx}
			token := newRefreshToken(user.ID, "secret-token", future)

			got, err := repo.Save(t.Context(), token)

			require.NoError(t, err)
			require.Equal(t, token.ID, got.ID)
			require.Equal(t, token.UserID, got.UserID)
			require.Equal(t, token.Token, got.Token)
			require.WithinDuration(t, token.CreatedAt, got.CreatedAt, time.Microsecond)
			require.WithinDuration(t, token.ExpiresAt, got.ExpiresAt, time.Microsecond)
			require.False(t, got.Revoked, "new token must not be revoked")
		})
	})

	t.Run("save duplicate token fails", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			user := mustCreateUser(t, tx, "owner")
			repo := RefreshTokenRepo{DB: tx}
			_, err := repo.Save(t.Context(), newRefreshToken(user.ID, "secret-token", future))
			require.NoError(t, err)

			_, err = repo.Save(t.Context(), newRefreshToken(user.ID, "secret-token", future))

			require.Error(t, err, "token strings are unique")
		})
	})

	t.Run("get token ok", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			user := mustCreateUser(t, tx, "owner")
			repo := RefreshTokenRepo{DB: tx}
			token := newRefreshToken(user.ID, "secret-token", future)
			_, err := repo.Save(t.Context(), token)
			require.NoError(t, err)

			got, err := repo.Get(t.Context(), token.Token)

			require.NoError(t, err)
			require.Equal(t, token.ID, got.ID)
			require.Equal(t, token.UserID, got.UserID)
			require.WithinDuration(t, token.ExpiresAt, got.ExpiresAt, 0)
			require.False(t, got.Revoked)
		})
	})

	t.Run("get not existing token", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			repo := RefreshTokenRepo{DB: tx}

			_, err := repo.Get(t.Context(), "nope")

			require.ErrorIs(t, err, apperrors.ErrRefreshTokenNotFound)
			require.ErrorIs(t, err, apperrors.ErrAuthentication)
		})
	})

	t.Run("revoke token", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			user := mustCreateUser(t, tx, "owner")
			repo := RefreshTokenRepo{DB: tx}
			token := newRefreshToken(user.ID, "secret-token", future)
			_, err := repo.Save(t.Context(), token)
			require.NoError(t, err)

			revoked, err := repo.Revoke(t.Context(), token.Token, now)
			require.NoError(t, err)
			require.True(t, revoked.Revoked)
			require.Equal(t, token.ID, revoked.ID)

			got, err := repo.Get(t.Context(), token.Token)
			require.NoError(t, err, "revoked token is kept")
			require.True(t, got.Revoked)

			_, err = repo.Revoke(t.Context(), token.Token, now)
			require.ErrorIs(t, err, apperrors.ErrRefreshTokenRevoked, "token may be revoked only once")
		})
	})

	t.Run("revoke expired or missing token", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			user := mustCreateUser(t, tx, "owner")
			repo := RefreshTokenRepo{DB: tx}
			expired := newRefreshToken(user.ID, "expired-token", now.Add(-time.Second))
			_, err := repo.Save(t.Context(), expired)
			require.NoError(t, err)

			_, err = repo.Revoke(t.Context(), expired.Token, now)
			require.ErrorIs(t, err, apperrors.ErrRefreshTokenRevoked)

			_, err = repo.Revoke(t.Context(), "missing", now)
			require.ErrorIs(t, err, apperrors.ErrRefreshTokenRevoked)
		})
	})

	t.Run("revoke all for user", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			victim := mustCreateUser(t, tx, "victim")
			other := mustCreateUser(t, tx, "other")
			repo := RefreshTokenRepo{DB: tx}
			for _, token := range []string{"v1", "v2", "v3"} {
				_, err := repo.Save(t.Context(), newRefreshToken(victim.ID, token, future))
				require.NoError(t, err)
			}
			_, err := repo.Revoke(t.Context(), "v3", now)
			require.NoError(t, err)
			_, err = repo.Save(t.Context(), newRefreshToken(other.ID, "o1", future))
			require.NoError(t, err)

			n, err := repo.RevokeAllForUser(t.Context(), victim.ID)

			require.NoError(t, err)
			assert.EqualValues(t, 2, n, "only not revoked tokens are counted")

			active, err := repo.CountActive(t.Context(), victim.ID, now)
			require.NoError(t, err)
			assert.Equal(t, 0, active)

			active, err = repo.CountActive(t.Context(), other.ID, now)
			require.NoError(t, err)
			assert.Equal(t, 1, active, "other users are not affected")
		})
	})

	t.Run("count active skips expired", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			user := mustCreateUser(t, tx, "owner")
			repo := RefreshTokenRepo{DB: tx}
			_, err := repo.Save(t.Context(), newRefreshToken(user.ID, "alive", future))
			require.NoError(t, err)
			_, err = repo.Save(t.Context(), newRefreshToken(user.ID, "dead", now.Add(-time.Minute)))
			require.NoError(t, err)

			active, err := repo.CountActive(t.Context(), user.ID, now)

			require.NoError(t, err)
			assert.Equal(t, 1, active)
		})
	})

	t.Run("concurrent revoke succeeds once", func(t *testing.T) {
		// Committed data is needed here: run on pool
		user := mustCreateUser(t, pg.Pool, "concurrent-revoke")
		storage := NewStorage(pg.Pool)
		_, err := storage.Refresh().Save(t.Context(), newRefreshToken(user.ID, "contested", future))
		require.NoError(t, err)

		const callers = 8
		results := make([]error, callers)
		start := make(chan struct{})
		var wg sync.WaitGroup

		for i := range callers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				results[i] = storage.InTx(context.Background(), func(s repository.Storage) error {
					_, err := s.Refresh().Revoke(context.Background(), "contested", now)
					return err
				})
			}()
		}
		close(start)
		wg.Wait()

		succeeded := 0
		for _, err := range results {
			if err == nil {
				succeeded++
				continue
			}
			assert.ErrorIs(t, err, apperrors.ErrRefreshTokenRevoked)
		}
		assert.Equal(t, 1, succeeded, "exactly one caller must revoke the token")
	})
}
