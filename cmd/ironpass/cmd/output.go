package cmd

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/jmcleod/ironpass/trust"
)

var (
	okColor   = color.New(color.FgGreen, color.Bold)
	warnColor = color.New(color.FgYellow)
	errColor  = color.New(color.FgRed, color.Bold)
	dimColor  = color.New(color.Faint)
)

func success(w io.Writer, format string, args ...any) {
	okColor.Fprint(w, "✓ ")
	fmt.Fprintf(w, format+"\n", args...)
}

func warn(w io.Writer, format string, args ...any) {
	warnColor.Fprintf(w, "! "+format+"\n", args...)
}

func failure(w io.Writer, format string, args ...any) {
	errColor.Fprint(w, "✗ ")
	fmt.Fprintf(w, format+"\n", args...)
}

func printVerdict(w io.Writer, v trust.Verdict) {
	state := okColor.Sprint("trusted")
	if !v.Accepted {
		state = errColor.Sprint("rejected")
	}
	fmt.Fprintf(w, "  certificate %s for %s (%s)\n", state, v.Host, v.Reason)
	if v.Fingerprint != "" {
		dimColor.Fprintf(w, "  sha256 %s\n", v.Fingerprint)
	}
}

// explainUntrusted prints the fingerprint to pin when a handshake was
// rejected.
func explainUntrusted(w io.Writer, validator *trust.Validator) {
	rejected := false
	for _, v := range validator.Verdicts() {
		if !v.Accepted {
			printVerdict(w, v)
			rejected = true
		}
	}
	if rejected {
		warn(w, "set IRONPASS_PINNED_CERTS to the fingerprint above to trust this server")
	}
}
