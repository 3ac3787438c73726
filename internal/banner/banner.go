// Package banner prints the one-shot colored startup banner (spec §6's
// "ASCII banner" external collaborator), grounded on the pack's
// getBanner/consts.Banner() pattern: a raw ASCII art constant rendered
// through fatih/color, skipped entirely when output isn't a color-capable
// terminal.
package banner

import (
	"fmt"
	"io"

	"github.com/fatih/color"
)

const art = `
   ____ _
  / ___| |__  _ __ ___  _ __ ___   ___  _ __
 | |   | '_ \| '__/ _ \| '_ \ _ \ / _ \| '_ \
 | |___| | | | | | (_) | | | | | | (_) | | | |
  \____|_| |_|_|  \___/|_| |_| |_|\___/|_| |_|
`

// Print writes the banner to w, colorized unless noColor is set.
func Print(w io.Writer, version string, noColor bool) {
	c := color.New(color.FgCyan)
	if noColor {
		c.DisableColor()
	}
	fmt.Fprint(w, c.Sprint(art))
	fmt.Fprintf(w, "  chromon %s — CDP browser-audit collector\n\n", version)
}
