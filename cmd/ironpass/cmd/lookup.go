package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jmcleod/ironpass/provider"
	"github.com/jmcleod/ironpass/vault"
)

var (
	lookupID       string
	lookupServices []string
	showPassword   bool
)

// openProvider builds the credential provider over the read-only vault. The
// returned function closes the database.
func openProvider() (*provider.Provider, *provider.Bridge, func() error, error) {
	secrets, err := openSecrets()
	if err != nil {
		return nil, nil, nil, err
	}
	repo, err := openVaultForRead()
	if err != nil {
		return nil, nil, nil, err
	}
	bridge := provider.NewBridge(vault.NewOpener(secrets, repo, logger), logger)
	return provider.New(bridge, provider.WithLogger(logger)), bridge, repo.Close, nil
}

func serviceIdentifier(s string) provider.ServiceIdentifier {
	if strings.Contains(s, "://") {
		return provider.ServiceIdentifier{Kind: provider.KindURL, Value: s}
	}
	return provider.ServiceIdentifier{Kind: provider.KindDomain, Value: s}
}

var lookupCmd = &cobra.Command{
	Use:   "lookup",
	Short: "Look up credentials in the offline vault",
	Long: `Looks up one record by --id, or every record matching the --service
domains or URLs. Nothing is sent over the network.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if (lookupID == "") == (len(lookupServices) == 0) {
			return fmt.Errorf("exactly one of --id or --service is required")
		}
		p, bridge, closeVault, err := openProvider()
		if err != nil {
			return err
		}
		defer closeVault()
		out := cmd.OutOrStdout()

		if lookupID != "" {
			cred, err := p.Provide(cmd.Context(), provider.PasswordRequest{RecordID: lookupID})
			if err != nil {
				failure(cmd.ErrOrStderr(), "%s", provider.CodeOf(err))
				return err
			}
			pc := cred.(provider.PasswordCredential)
			fmt.Fprintf(out, "username: %s\n", pc.Username)
			fmt.Fprintf(out, "password: %s\n", pc.Password)
			return nil
		}

		services := make([]provider.ServiceIdentifier, 0, len(lookupServices))
		for _, s := range lookupServices {
			services = append(services, serviceIdentifier(s))
		}
		records, err := bridge.Match(cmd.Context(), services)
		if err != nil {
			failure(cmd.ErrOrStderr(), "%s", provider.CodeOf(err))
			return err
		}
		if len(records) == 0 {
			warn(out, "no matching records")
			return nil
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tUSERNAME\tURL\tPASSWORD")
		for _, r := range records {
			pw := "********"
			if showPassword {
				pw = r.Password
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.ID, r.Username, r.URL, pw)
		}
		return tw.Flush()
	},
}

func init() {
	rootCmd.AddCommand(lookupCmd)
	lookupCmd.Flags().StringVar(&lookupID, "id", "", "Record ID")
	lookupCmd.Flags().StringSliceVar(&lookupServices, "service", nil, "Domain or URL to match (repeatable)")
	lookupCmd.Flags().BoolVar(&showPassword, "show", false, "Print passwords of matched records")
}
