package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmcleod/ironpass/provider"
)

var otpCmd = &cobra.Command{
	Use:   "otp <id>",
	Short: "Print the current one-time code of a record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, _, closeVault, err := openProvider()
		if err != nil {
			return err
		}
		defer closeVault()

		cred, err := p.Provide(cmd.Context(), provider.OneTimeCodeRequest{RecordID: args[0]})
		if err != nil {
			failure(cmd.ErrOrStderr(), "%s", provider.CodeOf(err))
			return err
		}
		code := cred.(provider.OneTimeCodeCredential)
		fmt.Fprintln(cmd.OutOrStdout(), code.Code)
		if code.Remaining > 0 {
			dimColor.Fprintf(cmd.ErrOrStderr(), "valid for %s\n", code.Remaining)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(otpCmd)
}
