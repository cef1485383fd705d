//go:build windows

package rld

import "os"

const (
	// A colon at index 1 is the drive separator, not an archive:object
	// split.
	driveSeparator = 1

	// Go file handles are always binary on Windows; no O_BINARY needed.
	openFlags  = 0
	createMode = os.FileMode(0600)
)
