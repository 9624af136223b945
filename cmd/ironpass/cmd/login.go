package cmd

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/jmcleod/ironpass/login"
	"github.com/jmcleod/ironpass/session"
	"github.com/jmcleod/ironpass/state"
	"github.com/jmcleod/ironpass/surface"
	"github.com/jmcleod/ironpass/trust"
)

var headless bool

var loginCmd = &cobra.Command{
	Use:   "login <server>",
	Short: "Log in to a Nextcloud server",
	Long: `Runs the Nextcloud login v2 flow against server. By default the login page
opens in the system browser and the grant is polled for; --headless follows
the flow over HTTP without a browser, which only completes on servers that
approve without user input.`,
	Args: cobra.ExactArgs(1),
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
		client := newClient(validator)
		ctrl := session.NewController(secrets, client, session.WithControllerLogger(logger))

		var surf surface.Surface
		if headless {
			surf = surface.NewHeadless(validator.Transport(), surface.WithHeadlessLogger(logger))
		} else {
			surf = surface.NewBrowser(surface.WithBrowserLogger(logger))
		}

		flow := login.NewFlow(client, surf, login.WithPolicy(cfg.Policy()), login.WithLogger(logger))
		stop := flow.State().Observe(func(r state.Result[login.State]) {
			switch r.Value {
			case login.Presenting:
				fmt.Fprintln(out, "Opening the login page...")
			case login.SessionIDCaptured:
				fmt.Fprintln(out, "Login approved, fetching credentials...")
			case login.Polling:
				fmt.Fprintln(out, "Waiting for the login to be approved...")
			}
		})
		defer stop()

		ticket := ctrl.BeginFlow(cmd.Context())
		defer ticket.Cancel()

		creds, err := flow.Run(ticket.Context(), args[0], ticket)
		if err != nil {
			reportLoginError(cmd, validator, err)
			return err
		}

		success(out, "Logged in to %s as %s", creds.Server, creds.LoginName)
		if u, err := url.Parse(creds.Server); err == nil {
			if v, ok := validator.Last(u.Hostname()); ok {
				printVerdict(out, v)
			}
		}
		return nil
	},
}

func reportLoginError(cmd *cobra.Command, validator *trust.Validator, err error) {
	w := cmd.ErrOrStderr()
	switch {
	case errors.Is(err, login.ErrCancelled):
		warn(w, "login cancelled")
	case errors.Is(err, login.ErrDenied):
		failure(w, "login was denied by the server")
	case errors.Is(err, login.ErrTimedOut):
		failure(w, "login was not approved in time")
	case errors.Is(err, login.ErrInvalidURL):
		failure(w, "not a valid server address")
	case errors.Is(err, login.ErrNetwork):
		failure(w, "could not reach the server")
		explainUntrusted(w, validator)
	default:
		failure(w, "login failed")
	}
}

func init() {
	rootCmd.AddCommand(loginCmd)
	loginCmd.Flags().BoolVar(&headless, "headless", false, "Follow the login page over HTTP instead of opening a browser")
}
