package cmd

import (
	"io"

	"github.com/fatih/color"
)

const banner = `
  ___                ____               
 |_ _|_ __ ___  _ __ |  _ \ __ _ ___ ___ 
  | || '__/ _ \| '_ \| |_) / _` + "`" + ` / __/ __|
  | || | | (_) | | | |  __/ (_| \__ \__ \
 |___|_|  \___/|_| |_|_|   \__,_|___/___/
`

func printBanner(w io.Writer, subtitle string) {
	color.New(color.FgBlue).Fprint(w, banner)
	color.New(color.FgGreen).Fprintf(w, "  %s - Version %s\n\n", subtitle, Version)
}
