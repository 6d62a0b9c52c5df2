//go:build !windows

// Package platform prepares the console for coloured output and the
// progress bar.
package platform

// EnableVirtualTerminal is a no-op, terminals already understand ANSI escapes.
func EnableVirtualTerminal() error {
	return nil
}
