// Package rld is the core of the RTEMS RTL host linker. It catalogs
// relocatable objects and ar archives, reads their ELF section and symbol
// tables, and packs them into a compressed RTEMS application (RAP) image.
package rld

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the cache, archive and RAP layers. Callers match
// with errors.Is; the wrapped text carries the path or offset context.
var (
	// ErrNotFound is returned when an input path is neither a valid
	// archive nor an existing object file, or a library cannot be found
	// on the search paths.
	ErrNotFound = errors.New("not found or a regular file")

	// ErrInvalidArchiveHeader is returned when an ar member header does
	// not carry the 0x60 0x0a magic bytes.
	ErrInvalidArchiveHeader = errors.New("invalid header magic numbers")

	// ErrMissingExtendedNames is returned when a member references the
	// GNU extended file name table and the archive has none.
	ErrMissingExtendedNames = errors.New("no GNU extended file name section found")

	// ErrInputTooShort is returned by copyFile when the input image hits
	// EOF before the requested byte count is copied.
	ErrInputTooShort = errors.New("input too short")

	// ErrOutputTruncated is returned by copyFile on a short write.
	ErrOutputTruncated = errors.New("output truncated")

	// ErrAlignmentMismatch is returned when two sections contributing to
	// one RAP section group disagree on alignment.
	ErrAlignmentMismatch = errors.New("alignment mismatch")

	// ErrInvalidAlignment is returned when a RAP section group
	// accumulates size with a zero alignment.
	ErrInvalidAlignment = errors.New("invalid alignment")

	// ErrSectionIndexNotFound is returned when a symbol references an
	// ELF section that belongs to none of the six RAP groups.
	ErrSectionIndexNotFound = errors.New("section index not found")

	// ErrNameInvalid is returned when an archive or object is built from
	// an empty or wrong-typed file descriptor.
	ErrNameInvalid = errors.New("name is empty or not valid")

	// ErrNoName is returned when an image is opened without a path.
	ErrNoName = errors.New("no file name")

	// ErrElfSession is returned on ELF begin/end misuse or when the file
	// is not an ELF relocatable object or executable.
	ErrElfSession = errors.New("elf session error")
)

// errorAt wraps an error kind with a "where" tag, mirroring the original
// error reporting of <what>: <where>.
func errorAt(err error, where string) error {
	return fmt.Errorf("%w: %s", err, where)
}
