//go:build !windows

package cmd

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// minTUIWidth is the narrowest terminal the picker renders in.
const minTUIWidth = 20

// openTTY opens /dev/tty for the picker and checks it is usable. The
// caller closes the returned file.
func openTTY() (*os.File, error) {
	if os.Getenv("TERM") == "dumb" {
		return nil, fmt.Errorf("TERM=dumb is not supported")
	}

	tty, err := os.OpenFile("/dev/tty", os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("no TTY available: %w", err)
	}

	ws, err := unix.IoctlGetWinsize(int(tty.Fd()), unix.TIOCGWINSZ)
	if err != nil {
		tty.Close()
		return nil, fmt.Errorf("cannot get terminal size: %w", err)
	}
	if ws.Col < minTUIWidth {
		tty.Close()
		return nil, fmt.Errorf("terminal too narrow (%d columns, need at least %d)", ws.Col, minTUIWidth)
	}

	return tty, nil
}
