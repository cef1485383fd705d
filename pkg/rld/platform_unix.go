//go:build !windows

package rld

import "os"

const (
	// Index a name colon must lie past to be an archive:object split.
	// POSIX paths have no drive prefix.
	driveSeparator = 0

	openFlags  = 0
	createMode = os.FileMode(0664)
)
