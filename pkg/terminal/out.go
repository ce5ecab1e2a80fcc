package terminal

import (
	"io"
	"os"
	"strings"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// dumbTerminal returns true if stdout can not display colors.
func dumbTerminal() bool {
	return strings.ToLower(os.Getenv("TERM")) == "dumb" || !isatty.IsTerminal(os.Stdout.Fd())
}

// getColorableWriter returns a writer that understands ANSI escape codes
// on every platform.
func getColorableWriter() io.Writer {
	return colorable.NewColorableStdout()
}
