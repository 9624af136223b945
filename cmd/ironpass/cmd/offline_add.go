package cmd

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jmcleod/ironpass/otp"
	"github.com/jmcleod/ironpass/vault"
)

var addRecord struct {
	id, username, password, url, label, otpURI string
}

var offlineAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Seal a password record into the offline vault",
	RunE: func(cmd *cobra.Command, args []string) error {
		rec := vault.PasswordRecord{
			ID:       addRecord.id,
			Username: addRecord.username,
			Password: addRecord.password,
			URL:      addRecord.url,
			Label:    addRecord.label,
		}
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		if addRecord.otpURI != "" {
			d, err := otp.ParseURI(addRecord.otpURI)
			if err != nil {
				return err
			}
			rec.OTP = &d
		}
		if rec.Password == "" {
			pw, err := readSecret(cmd, "Password: ")
			if err != nil {
				return err
			}
			rec.Password = pw
		}

		secrets, err := openSecrets()
		if err != nil {
			return err
		}
		repo, err := openVaultForWrite()
		if err != nil {
			return err
		}
		defer repo.Close()

		material, key, err := vault.NewOpener(secrets, repo, logger).Unlock(cmd.Context())
		if err != nil {
			return fmt.Errorf("unlocking offline vault: %w", err)
		}
		defer material.Destroy()
		defer key.Destroy()

		c, err := vault.Seal(material.Public(), key, rec)
		if err != nil {
			return err
		}
		if err := vault.Put(repo, c); err != nil {
			return err
		}
		success(cmd.OutOrStdout(), "stored record %s", rec.ID)
		return nil
	},
}

func init() {
	offlineCmd.AddCommand(offlineAddCmd)
	f := offlineAddCmd.Flags()
	f.StringVar(&addRecord.id, "id", "", "Record ID (default: a new UUID)")
	f.StringVar(&addRecord.username, "username", "", "Account username")
	f.StringVar(&addRecord.password, "password", "", "Account password (prompted when empty)")
	f.StringVar(&addRecord.url, "url", "", "Site address")
	f.StringVar(&addRecord.label, "label", "", "Display label")
	f.StringVar(&addRecord.otpURI, "otp", "", "otpauth:// URI for one-time codes")
}
