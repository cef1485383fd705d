package rld

import (
	"os"
	"strconv"
	"strings"
)

// File names a physical input: an archive, a standalone object, or an
// object held inside an archive at a byte offset. It is a plain value;
// the Image type owns the descriptor opened for it.
type File struct {
	aname  string
	oname  string
	offset int64
	size   int64
}

// NewFile builds a File from explicit fields. Offset and size locate an
// object within its archive; a standalone file uses offset 0.
func NewFile(aname, oname string, offset, size int64) File {
	return File{aname: aname, oname: oname, offset: offset, size: size}
}

// NewFilePath builds a File from a path string. With isObject set a
// trailing ":name" past the drive separator splits the path into archive
// and member; otherwise the whole path names an archive. Standalone files
// are stat'd for their size.
func NewFilePath(path string, isObject bool) File {
	var f File
	f.Set(path, isObject)
	return f
}

// Set parses path into the file's names, replacing any previous state.
func (f *File) Set(path string, isObject bool) {
	if path == "" {
		return
	}
	getSize := false
	if isObject {
		colon := strings.LastIndexByte(path, ':')
		if colon >= 0 && colon > driveSeparator {
			f.aname = path[:colon]
			f.oname = path[colon+1:]
		} else {
			f.oname = path
			getSize = true
		}
	} else {
		f.aname = path
		getSize = true
	}
	if getSize {
		if sb, err := os.Stat(path); err == nil {
			f.size = sb.Size()
		}
	}
}

// IsArchive reports whether the file names an archive and nothing inside
// it.
func (f File) IsArchive() bool {
	return f.aname != "" && f.oname == ""
}

// IsObject reports whether the file names an object, standalone or
// within an archive.
func (f File) IsObject() bool {
	return f.oname != ""
}

// IsValid reports whether the file names anything at all.
func (f File) IsValid() bool {
	return f.aname != "" || f.oname != ""
}

// Exists reports whether the file's path is an existing regular file.
func (f File) Exists() bool {
	p := f.Path()
	return p != "" && CheckFile(p)
}

// Path is the file to open: the archive when there is one, else the
// object.
func (f File) Path() string {
	if f.aname != "" {
		return f.aname
	}
	return f.oname
}

// Full is the textual form: "<archive>:<object>@<offset>", "<archive>"
// or "<object>".
func (f File) Full() string {
	var s string
	if f.aname != "" {
		s = f.aname
		if f.oname != "" {
			s += ":"
		}
	}
	if f.oname != "" {
		s += f.oname
	}
	if f.aname != "" && f.oname != "" {
		s += "@" + strconv.FormatInt(f.offset, 10)
	}
	return s
}

// Basename is the basename of the full textual form.
func (f File) Basename() string {
	return Basename(f.Full())
}

func (f File) Aname() string { return f.aname }
func (f File) Oname() string { return f.oname }
func (f File) Offset() int64 { return f.offset }
func (f File) Size() int64   { return f.size }
