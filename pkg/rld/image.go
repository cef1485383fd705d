package rld

import (
	"fmt"
	"io"
	"os"
)

// Image is a reference-counted open handle over a File. The descriptor is
// opened on the 0→1 reference edge and closed on the 1→0 edge, so any
// number of logical users can share one OS file. Seeks are biased by the
// file's archive offset, giving an object-within-archive a virtual
// zero-based stream.
type Image struct {
	name File
	fd   *os.File
	refs int

	elf        *Session
	symbolRefs int
}

// NewImage wraps a File in a closed image.
func NewImage(name File) *Image {
	return &Image{name: name}
}

// NewImagePath wraps a path in a closed image.
func NewImagePath(path string, isObject bool) *Image {
	return &Image{name: NewFilePath(path, isObject)}
}

// Open opens the image read-only, or takes another reference when it is
// already open.
func (i *Image) Open() error {
	return i.open(false)
}

// OpenWritable opens the image read-write, creating and truncating the
// underlying file.
func (i *Image) OpenWritable() error {
	return i.open(true)
}

func (i *Image) open(writable bool) error {
	path := i.name.Path()
	if path == "" {
		return errorAt(ErrNoName, "open")
	}

	if i.fd == nil {
		var fd *os.File
		var err error
		if writable {
			fd, err = os.OpenFile(path, openFlags|os.O_RDWR|os.O_CREATE|os.O_TRUNC, createMode)
		} else {
			fd, err = os.OpenFile(path, openFlags|os.O_RDONLY, 0)
		}
		if err != nil {
			return fmt.Errorf("open: %s: %w", path, err)
		}
		i.fd = fd
	}

	i.refs++
	return nil
}

// Close drops one reference and closes the descriptor when the last one
// goes. Closing a closed image is a no-op.
func (i *Image) Close() {
	if i.refs > 0 {
		i.refs--
		if i.refs == 0 {
			i.fd.Close()
			i.fd = nil
		}
	}
}

// Destroy asserts the image is unreferenced and releases a leaked
// descriptor. A destroy with live references is a programming error.
func (i *Image) Destroy() {
	if i.refs != 0 {
		panic("rld: references when destructing image: " + i.name.Full())
	}
	if i.fd != nil {
		i.fd.Close()
		i.fd = nil
	}
}

// Read reads from the current position.
func (i *Image) Read(buffer []byte) (int, error) {
	n, err := i.fd.Read(buffer)
	if err != nil && err != io.EOF {
		return n, fmt.Errorf("read: %s: %w", i.name.Path(), err)
	}
	return n, nil
}

// Write writes at the current position.
func (i *Image) Write(buffer []byte) (int, error) {
	n, err := i.fd.Write(buffer)
	if err != nil {
		return n, fmt.Errorf("write: %s: %w", i.name.Path(), err)
	}
	return n, nil
}

// Seek positions the stream at offset, biased by the file's archive
// offset.
func (i *Image) Seek(offset int64) error {
	if _, err := i.fd.Seek(i.name.Offset()+offset, io.SeekStart); err != nil {
		return fmt.Errorf("lseek: %s: %w", i.name.Path(), err)
	}
	return nil
}

// SeekRead seeks then reads, reporting whether the full count was read.
func (i *Image) SeekRead(offset int64, buffer []byte) (bool, error) {
	if err := i.Seek(offset); err != nil {
		return false, err
	}
	n, err := i.Read(buffer)
	if err != nil {
		return false, err
	}
	return n == len(buffer), nil
}

// SeekWrite seeks then writes, reporting whether the full count was
// written.
func (i *Image) SeekWrite(offset int64, buffer []byte) (bool, error) {
	if err := i.Seek(offset); err != nil {
		return false, err
	}
	n, err := i.Write(buffer)
	if err != nil {
		return false, err
	}
	return n == len(buffer), nil
}

// Name is the file this image opens.
func (i *Image) Name() File { return i.name }

// References is the current reference count.
func (i *Image) References() int { return i.refs }

// Size is the file's size in bytes.
func (i *Image) Size() int64 { return i.name.Size() }

// IsOpen reports whether a descriptor is held.
func (i *Image) IsOpen() bool { return i.fd != nil }

// Fd is the underlying descriptor, nil when closed.
func (i *Image) Fd() *os.File { return i.fd }

// Elf is the ELF session attached to this image, nil outside
// begin/end.
func (i *Image) Elf() *Session { return i.elf }

// SetElf attaches or detaches the ELF session.
func (i *Image) SetElf(session *Session) { i.elf = session }

// SymbolReferenced counts a symbol reference against this image.
func (i *Image) SymbolReferenced() { i.symbolRefs++ }

// SymbolReferences is the number of symbol references counted.
func (i *Image) SymbolReferences() int { return i.symbolRefs }

const copyFileBufferSize = 8 * 1024

// imageReader and imageWriter are the ends of a copy. An object's reads
// may go through its archive's descriptor, so the copy works on the
// behavior, not the concrete image.
type imageReader interface {
	Read(buffer []byte) (int, error)
	Name() File
}

type imageWriter interface {
	Write(buffer []byte) (int, error)
	Name() File
}

// copyFile streams size bytes from the current position of in to the
// current position of out through a fixed buffer. EOF before size bytes
// is an error, as is a short write.
func copyFile(in imageReader, out imageWriter, size int64) error {
	buffer := make([]byte, copyFileBufferSize)
	for size > 0 {
		l := size
		if l > copyFileBufferSize {
			l = copyFileBufferSize
		}
		r, err := in.Read(buffer[:l])
		if err != nil {
			return fmt.Errorf("reading: %s: %w", in.Name().Full(), err)
		}
		if r == 0 {
			return fmt.Errorf("reading: %s (%d): %w", in.Name().Full(), size, ErrInputTooShort)
		}
		w, err := out.Write(buffer[:r])
		if err != nil {
			return fmt.Errorf("writing: %s: %w", out.Name().Full(), err)
		}
		if w != r {
			return fmt.Errorf("writing: %s: %w", out.Name().Full(), ErrOutputTruncated)
		}
		size -= int64(r)
	}
	return nil
}
