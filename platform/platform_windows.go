//go:build windows

// Package platform prepares the console for coloured output and the
// progress bar.
package platform

import (
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/windows"
)

// EnableVirtualTerminal turns on ANSI escape processing for stdout so colours
// and bar redraws render in cmd.exe and PowerShell.
func EnableVirtualTerminal() error {
	var mode uint32
	h := windows.Handle(os.Stdout.Fd())

	if err := windows.GetConsoleMode(h, &mode); err != nil {
		// not a console, e.g. redirected to a file
		return nil
	}
	if err := windows.SetConsoleMode(h, mode|windows.ENABLE_VIRTUAL_TERMINAL_PROCESSING); err != nil {
		return errors.Wrap(err, "enabling virtual terminal processing")
	}
	return nil
}
