package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmcleod/ironpass/session"
	"github.com/jmcleod/ironpass/vault"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Revalidate the stored session and check the offline vault",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()

		secrets, err := openSecrets()
		if err != nil {
			return err
		}
		validator, err := newValidator()
		if err != nil {
			return err
		}
		ctrl := session.NewController(secrets, newClient(validator), session.WithControllerLogger(logger))

		s, err := ctrl.Restore(cmd.Context())
		switch {
		case errors.Is(err, session.ErrNoSession):
			warn(out, "not logged in")
		case err != nil && s == nil:
			return err
		case err != nil:
			reason, _ := s.Reason()
			failure(out, "session for %s at %s is not usable: %s", s.User(), s.Server(), reason)
			fmt.Fprintln(out, "  "+session.Message(reason))
			if reason == session.NoConnection {
				explainUntrusted(out, validator)
			}
		default:
			success(out, "logged in to %s as %s", s.Server(), s.User())
		}

		repo, err := openVaultForRead()
		if errors.Is(err, errNoVault) {
			warn(out, "offline vault not initialised")
			return nil
		}
		if err != nil {
			return err
		}
		defer repo.Close()

		records, err := vault.NewOpener(secrets, repo, logger).Records(cmd.Context())
		switch {
		case errors.Is(err, vault.ErrAuthRequired):
			warn(out, "offline vault is locked")
		case errors.Is(err, vault.ErrDecryptFailed):
			failure(out, "offline vault could not be decrypted")
		case err != nil:
			return err
		default:
			success(out, "offline vault holds %d records", len(records))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
