//go:build windows

package cmd

import (
	"errors"
	"os"
)

// openTTY is unsupported on Windows; use the watch command instead.
func openTTY() (*os.File, error) {
	return nil, errors.New("the tui command needs a Unix terminal; use watch instead")
}
