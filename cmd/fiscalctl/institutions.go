package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nkiryanov/fiscalos/internal/security/envelope"
	"github.com/nkiryanov/fiscalos/internal/service/institution"
)

func newInstitutionsCmd(app *cliApp) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "institutions",
		Short: "Inspect linked institutions",
	}

	cmd.AddCommand(newInstitutionsVerifyCmd(app))

	return cmd
}

func newInstitutionsVerifyCmd(app *cliApp) *cobra.Command {
	var username string

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check that access tokens of user institutions decrypt",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ring, err := app.ring(cmd.Context())
			if err != nil {
				return err
			}

			storage, closeFn, err := app.storage(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			u, err := storage.User().GetUserByUsername(cmd.Context(), username)
			if err != nil {
				return fmt.Errorf("can't get user %q. Err: %w", username, err)
			}

			s, err := institution.NewService(envelope.New(ring), storage)
			if err != nil {
				return err
			}

			results, err := s.Verify(cmd.Context(), u)
			if err != nil {
				return err
			}

			failed := 0
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tPROVIDER\tNAME\tSTATUS")
			for _, r := range results {
				status := "ok"
				if r.Err != nil {
					status = r.Err.Error()
					failed++
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Institution.ID, r.Institution.Provider(), r.Institution.Name, status)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d access tokens can't be decrypted", failed, len(results))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "Username")
	_ = cmd.MarkFlagRequired("username")

	return cmd
}
