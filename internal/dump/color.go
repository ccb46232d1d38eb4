package dump

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"golang.org/x/term"
)

// Color modes accepted by ColorEnabled.
const (
	ColorAuto   = "auto"
	ColorAlways = "always"
	ColorNever  = "never"
)

// ColorEnabled resolves a color mode for output going to f. In auto mode colors
// are used only when f is a terminal and NO_COLOR is unset.
func ColorEnabled(mode string, f *os.File) (bool, error) {
	switch mode {
	case ColorAlways:
		return true, nil
	case ColorNever:
		return false, nil
	case ColorAuto, "":
		if _, set := os.LookupEnv("NO_COLOR"); set || f == nil {
			return false, nil
		}
		return term.IsTerminal(int(f.Fd())), nil
	default:
		return false, fmt.Errorf("unknown color mode %q", mode)
	}
}

type palette struct {
	subscribed *color.Color
	denied     *color.Color
	failed     *color.Color
	notify     *color.Color
}

func newPalette(enabled bool) palette {
	mk := func(attrs ...color.Attribute) *color.Color {
		c := color.New(attrs...)
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
		return c
	}
	return palette{
		subscribed: mk(color.FgGreen),
		denied:     mk(color.FgYellow),
		failed:     mk(color.FgRed),
		notify:     mk(color.FgCyan, color.Bold),
	}
}
