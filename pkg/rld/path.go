package rld

import (
	"fmt"
	"os"
	"strings"
)

// Basename returns the portion of name after the last path separator, or
// the whole string when there is none.
func Basename(name string) string {
	if b := strings.LastIndexByte(name, os.PathSeparator); b >= 0 {
		return name[b+1:]
	}
	return name
}

// CheckFile reports whether path names an existing regular file.
func CheckFile(path string) bool {
	sb, err := os.Stat(path)
	return err == nil && sb.Mode().IsRegular()
}

// CheckDirectory reports whether path names an existing directory.
func CheckDirectory(path string) bool {
	sb, err := os.Stat(path)
	return err == nil && sb.IsDir()
}

// PathSplit splits a search-path list on the platform list separator and
// keeps only the entries that are existing directories.
func PathSplit(path string) []string {
	var paths []string
	for _, p := range strings.Split(path, string(os.PathListSeparator)) {
		if p != "" && CheckDirectory(p) {
			paths = append(paths, p)
		}
	}
	return paths
}

// PathJoin joins a directory and a file name with exactly one separator
// between them.
func PathJoin(path, file string) string {
	sep := byte(os.PathSeparator)
	switch {
	case path[len(path)-1] != sep && file[0] != sep:
		return path + string(sep) + file
	case path[len(path)-1] == sep && file[0] == sep:
		return path + file[1:]
	default:
		return path + file
	}
}

// FindFile searches the paths in order for name and returns the first
// joined path that is a regular file, or the empty string.
func FindFile(name string, searchPaths []string) string {
	for _, p := range searchPaths {
		path := PathJoin(p, name)
		if CheckFile(path) {
			return path
		}
	}
	return ""
}

// FindLibraries resolves each library name l to "lib<l>.a" on the library
// search paths. Every library must be found.
func FindLibraries(ctx *Context, libs, libpaths []string) ([]string, error) {
	ctx.Infof("Finding libraries:\n")
	libraries := make([]string, 0, len(libs))
	for _, l := range libs {
		lib := "lib" + l + ".a"
		ctx.Detailsf("searching: %s\n", lib)
		found := ""
		for _, p := range libpaths {
			plib := PathJoin(p, lib)
			ctx.Detailsf("checking: %s\n", plib)
			if CheckFile(plib) {
				ctx.Infof("found: %s\n", plib)
				found = plib
				break
			}
		}
		if found == "" {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, lib)
		}
		libraries = append(libraries, found)
	}
	return libraries, nil
}
