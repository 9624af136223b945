package cmd

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/jmcleod/ironpass/internal/loginstub"
	"github.com/jmcleod/ironpass/trust"
)

var (
	stubAddr    string
	stubAccount string
)

var stubServerCmd = &cobra.Command{
	Use:   "stub-server",
	Short: "Serve a local login v2 endpoint for development",
	Long: `Starts an HTTPS server that emulates the Nextcloud login v2 endpoints and
approves every login. It uses a self-signed certificate whose fingerprint is
printed so it can be pinned with IRONPASS_PINNED_CERTS.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		host, _, err := net.SplitHostPort(stubAddr)
		if err != nil {
			return fmt.Errorf("invalid address %q: %w", stubAddr, err)
		}
		hosts := []string{"localhost", "127.0.0.1"}
		if host != "" {
			hosts = append(hosts, host)
		}
		cert, err := loginstub.SelfSignedCert(hosts...)
		if err != nil {
			return fmt.Errorf("failed to generate self-signed certificate: %w", err)
		}

		r := chi.NewRouter()
		r.Use(middleware.Logger)
		r.Use(middleware.Recoverer)
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("OK"))
		})
		r.Mount("/", loginstub.New(loginstub.WithAccount(stubAccount), loginstub.WithLogger(logger)))

		server := &http.Server{
			Addr:              stubAddr,
			Handler:           r,
			TLSConfig:         &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12},
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		done := make(chan error, 1)
		go func() {
			if err := server.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		out := cmd.OutOrStdout()
		printBanner(out, "Login v2 development server")
		fmt.Fprintf(out, "Listening on %s as account %q\n", stubAddr, stubAccount)
		fmt.Fprintf(out, "Certificate sha256 %s\n", trust.Fingerprint(cert.Leaf))

		select {
		case <-cmd.Context().Done():
			fmt.Fprintln(out, "\nShutting down...")
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		case err := <-done:
			return err
		}
	},
}

func init() {
	rootCmd.AddCommand(stubServerCmd)
	stubServerCmd.Flags().StringVar(&stubAddr, "addr", "127.0.0.1:8443", "Address to listen on")
	stubServerCmd.Flags().StringVar(&stubAccount, "account", "alice", "Login name handed out by the stub")
}
