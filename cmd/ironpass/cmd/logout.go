package cmd

import (
	"github.com/spf13/cobra"

	"github.com/jmcleod/ironpass/session"
)

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove the stored session and offline vault keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		secrets, err := openSecrets()
		if err != nil {
			return err
		}
		ctrl := session.NewController(secrets, nil, session.WithControllerLogger(logger))
		if err := ctrl.Logout(); err != nil {
			return err
		}
		success(cmd.OutOrStdout(), "logged out")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(logoutCmd)
}
