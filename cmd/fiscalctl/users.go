package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nkiryanov/fiscalos/internal/security/envelope"
	"github.com/nkiryanov/fiscalos/internal/service/auth"
	"github.com/nkiryanov/fiscalos/internal/service/user"
)

func newUsersCmd(app *cliApp) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage users and their data keys",
	}

	cmd.AddCommand(
		newUsersCreateCmd(app),
		newUsersListCmd(app),
		newUsersRotateKeysCmd(app),
		newUsersRevokeSessionsCmd(app),
	)

	return cmd
}

// User service over fresh key ring and database pool. Caller calls close
func (a *cliApp) userService(cmd *cobra.Command) (*user.UserService, func(), error) {
	ring, err := a.ring(cmd.Context())
	if err != nil {
		return nil, nil, err
	}

	storage, closeFn, err := a.storage(cmd.Context())
	if err != nil {
		return nil, nil, err
	}

	s, err := user.NewService(auth.BcryptHasher{}, envelope.New(ring), storage, a.logger)
	if err != nil {
		closeFn()
		return nil, nil, err
	}

	return s, closeFn, nil
}

func newUsersCreateCmd(app *cliApp) *cobra.Command {
	var username string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create user; password is read from terminal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, closeFn, err := app.userService(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			password, err := app.promptNewPassword(cmd.OutOrStdout())
			if err != nil {
				return err
			}

			u, err := s.CreateUser(cmd.Context(), username, password)
			if err != nil {
				return err
			}

			cmd.Printf("User created: %s (%s)\n", u.Username, u.ID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "Username")
	_ = cmd.MarkFlagRequired("username")

	return cmd
}

func newUsersListCmd(app *cliApp) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List users and root keys wrapping their data keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, closeFn, err := app.userService(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			users, err := s.ListUsers(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tUSERNAME\tCREATED\tKEY ID")
			for _, u := range users {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", u.ID, u.Username, u.CreatedAt.Format(time.RFC3339), u.DataKey.KeyIDUsed)
			}
			return w.Flush()
		},
	}
}

func newUsersRotateKeysCmd(app *cliApp) *cobra.Command {
	return &cobra.Command{
		Use:   "rotate-keys",
		Short: "Rewrap all user data keys with the primary key",
		Long: `Rewrap every user data key with the current primary key.
Run it after 'keys promote'. Old root key may be removed only after
the command finished without errors.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, closeFn, err := app.userService(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			res, err := s.RotateDataKeys(cmd.Context())
			cmd.Printf("Rewrapped: %d, unchanged: %d, skipped: %d\n", res.Rewrapped, res.Unchanged, res.Skipped)
			if err != nil {
				return err
			}
			if res.Skipped > 0 {
				return fmt.Errorf("%d data keys changed while rotating, run the command again", res.Skipped)
			}
			return nil
		},
	}
}

func newUsersRevokeSessionsCmd(app *cliApp) *cobra.Command {
	var username string

	cmd := &cobra.Command{
		Use:   "revoke-sessions",
		Short: "Revoke every refresh token of the user",
		Long: `Revoke every refresh token of the user, e.g. after credentials leaked.
Access tokens already issued stay valid until they expire.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			storage, closeFn, err := app.storage(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			u, err := storage.User().GetUserByUsername(cmd.Context(), username)
			if err != nil {
				return fmt.Errorf("can't get user %q. Err: %w", username, err)
			}

			// Tokens are neither minted nor parsed here
			s, err := auth.NewService(auth.Config{}, nil, nil, storage, app.logger)
			if err != nil {
				return err
			}

			revoked, err := s.RevokeSessions(cmd.Context(), u.ID)
			if err != nil {
				return err
			}

			cmd.Printf("Revoked sessions of %s: %d\n", u.Username, revoked)
			return nil
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "Username")
	_ = cmd.MarkFlagRequired("username")

	return cmd
}
