package main

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/fiscalos/internal/logger"
	"github.com/nkiryanov/fiscalos/internal/models"
	"github.com/nkiryanov/fiscalos/internal/repository/postgres"
	"github.com/nkiryanov/fiscalos/internal/security/envelope"
	"github.com/nkiryanov/fiscalos/internal/security/keyring"
	"github.com/nkiryanov/fiscalos/internal/service/institution"
	"github.com/nkiryanov/fiscalos/internal/testutil"
)

func Test_UsersAndInstitutions(t *testing.T) {
	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	path := emptyKeyRing(t)
	_, err := execute(t, newTestApp(""), "keys", "generate", "--promote", "-k", path)
	require.NoError(t, err)

	run := func(stdin string, args ...string) (string, error) {
		return execute(t, newTestApp(stdin), append(args, "-k", path, "-d", pg.DSN)...)
	}

	t.Run("migrate", func(t *testing.T) {
		out, err := run("", "migrate")

		require.NoError(t, err)
		require.Contains(t, out, "Schema version: ")
	})

	t.Run("create user", func(t *testing.T) {
		out, err := run("very-secret\nvery-secret\n", "users", "create", "-u", "alice")
		require.NoError(t, err)
		require.Contains(t, out, "User created: alice")

		u, err := postgres.NewStorage(pg.Pool).User().GetUserByUsername(context.Background(), "alice")
		require.NoError(t, err)
		require.NotEmpty(t, u.HashedPassword)
		require.NotEqual(t, "very-secret", u.HashedPassword)
	})

	t.Run("create user without username", func(t *testing.T) {
		_, err := run("very-secret\nvery-secret\n", "users", "create")

		require.ErrorContains(t, err, "username")
	})

	t.Run("create user passwords mismatch", func(t *testing.T) {
		_, err := run("very-secret\nother\n", "users", "create", "-u", "bob")
		require.ErrorContains(t, err, "don't match")

		_, err = postgres.NewStorage(pg.Pool).User().GetUserByUsername(context.Background(), "bob")
		require.Error(t, err, "user must not be created")
	})

	t.Run("rotate keys and verify institutions", func(t *testing.T) {
		ctx := context.Background()
		storage := postgres.NewStorage(pg.Pool)

		// Link institution under the first key
		opts, err := keyring.LoadOptions(path)
		require.NoError(t, err)
		oldKeyID := opts.PrimaryKeyID
		ring, err := keyring.New(ctx, opts, logger.NewNoOpLogger())
		require.NoError(t, err)
		s, err := institution.NewService(envelope.New(ring), storage)
		require.NoError(t, err)
		alice, err := storage.User().GetUserByUsername(ctx, "alice")
		require.NoError(t, err)
		_, err = s.Link(ctx, alice, institution.LinkRequest{
			Provider:      models.ProviderPlaid,
			Name:          "First Platypus Bank",
			ItemID:        "item-1",
			InstitutionID: "ins_109508",
			AccessToken:   "access-sandbox-1",
		})
		require.NoError(t, err)

		out, err := run("", "keys", "generate", "--promote")
		require.NoError(t, err)
		newKeyID := strings.Split(strings.TrimSpace(out), "\n")[0]

		out, err = run("", "users", "rotate-keys")
		require.NoError(t, err)
		require.Contains(t, out, "Rewrapped: 1, unchanged: 0, skipped: 0")

		out, err = run("", "users", "list")
		require.NoError(t, err)
		require.Contains(t, out, newKeyID)
		require.NotContains(t, out, oldKeyID)

		out, err = run("", "institutions", "verify", "-u", "alice")
		require.NoError(t, err)
		require.Contains(t, out, "First Platypus Bank")
		require.Contains(t, out, "ok")

		out, err = run("", "users", "rotate-keys")
		require.NoError(t, err)
		require.Contains(t, out, "Rewrapped: 0, unchanged: 1, skipped: 0")
	})

	t.Run("revoke sessions", func(t *testing.T) {
		ctx := context.Background()
		storage := postgres.NewStorage(pg.Pool)
		alice, err := storage.User().GetUserByUsername(ctx, "alice")
		require.NoError(t, err)
		future := time.Now().Add(time.Hour)
		for _, token := range []string{"alice-session-1", "alice-session-2"} {
			_, err := storage.Refresh().Save(ctx, models.RefreshToken{
				ID:        uuid.New(),
				UserID:    alice.ID,
				Token:     token,
				CreatedAt: time.Now(),
				ExpiresAt: future,
			})
			require.NoError(t, err)
		}

		out, err := run("", "users", "revoke-sessions", "-u", "alice")
		require.NoError(t, err)
		require.Contains(t, out, "Revoked sessions of alice: 2")

		active, err := storage.Refresh().CountActive(ctx, alice.ID, time.Now())
		require.NoError(t, err)
		require.Zero(t, active)

		out, err = run("", "users", "revoke-sessions", "-u", "alice")
		require.NoError(t, err)
		require.Contains(t, out, "Revoked sessions of alice: 0")
	})

	t.Run("revoke sessions of unknown user", func(t *testing.T) {
		_, err := run("", "users", "revoke-sessions", "-u", "nobody")

		require.ErrorContains(t, err, "nobody")
	})

	t.Run("verify unknown user", func(t *testing.T) {
		_, err := run("", "institutions", "verify", "-u", "nobody")

		require.Error(t, err)
	})

	t.Run("no database", func(t *testing.T) {
		_, err := execute(t, newTestApp(""), "users", "list", "-k", path)

		require.ErrorContains(t, err, "database is not set")
	})
}
