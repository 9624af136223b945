package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmcleod/ironpass/internal/util"
	"github.com/jmcleod/ironpass/secretstore"
	"github.com/jmcleod/ironpass/vault"
)

var (
	kdfProfile string
	forceInit  bool
)

var offlineInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the offline keychain and vault key",
	Long: `Generates a keychain, locks it with a challenge password and stores it with
a fresh vault key in the OS keyring. Existing offline keys are kept unless
--force is given; replacing them makes existing records unreadable.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		params, err := util.Argon2idProfile(kdfProfile)
		if err != nil {
			return err
		}
		secrets, err := openSecrets()
		if err != nil {
			return err
		}
		if _, err := secrets.Load(secretstore.KeyKeychain); err == nil && !forceInit {
			return errors.New("offline vault already initialised; use --force to replace it")
		} else if err != nil && !errors.Is(err, secretstore.ErrNotAvailable) {
			return err
		}

		password, err := readSecret(cmd, "Challenge password: ")
		if err != nil {
			return err
		}
		if password == "" {
			return errors.New("challenge password must not be empty")
		}

		material, key, err := vault.Provision(secrets, password, params)
		if err != nil {
			return fmt.Errorf("provisioning offline vault: %w", err)
		}
		material.Destroy()
		key.Destroy()

		repo, err := openVaultForWrite()
		if err != nil {
			return err
		}
		if err := repo.Close(); err != nil {
			return err
		}
		success(cmd.OutOrStdout(), "offline vault initialised at %s", cfg.VaultPath())
		return nil
	},
}

func init() {
	offlineCmd.AddCommand(offlineInitCmd)
	offlineInitCmd.Flags().StringVar(&kdfProfile, "kdf-profile", util.KDFProfileModerate, "Argon2id cost profile (interactive, moderate, sensitive)")
	offlineInitCmd.Flags().BoolVar(&forceInit, "force", false, "Replace existing offline keys")
}
