package rld

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/MrVan/gsoc2013-rtl-host/pkg/utils"
)

// ar format layout. All numeric fields are ASCII text, space padded.
const (
	arIdent = "!<arch>\n"

	arIdentSize = len(arIdent)

	arFname     = 0
	arFnameSize = 16
	arMtime     = 16
	arMtimeSize = 12
	arUID       = 28
	arUIDSize   = 6
	arGID       = 34
	arGIDSize   = 6
	arMode      = 40
	arModeSize  = 8
	arSize      = 48
	arSizeSize  = 10
	arMagic     = 58
	arMagicSize = 2
	arFhdrSize  = 60

	arMaxFileSize = 1024
)

// Archive is an ar format image. Member objects share its descriptor
// through the image reference count.
type Archive struct {
	Image
	ctx *Context
}

// NewArchive wraps path as an archive image. The name must parse as an
// archive.
func NewArchive(ctx *Context, path string) (*Archive, error) {
	a := &Archive{Image: *NewImagePath(path, false), ctx: ctx}
	if !a.Name().IsValid() {
		return nil, errorAt(ErrNameInvalid, "archive: "+path)
	}
	if !a.Name().IsArchive() {
		return nil, errorAt(ErrNameInvalid, "archive: not an archive: "+a.Name().Oname())
	}
	return a, nil
}

// Is reports whether this archive opens the given path.
func (a *Archive) Is(path string) bool {
	return a.Name().Path() == path
}

// IsValid probes the global identifier. The file is briefly opened; a
// file that cannot be opened or is too short is simply not an archive.
func (a *Archive) IsValid() bool {
	if err := a.Open(); err != nil {
		return false
	}
	defer a.Close()
	header := make([]byte, arIdentSize)
	ok, err := a.SeekRead(0, header)
	if err != nil || !ok {
		return false
	}
	return bytes.Equal(header, []byte(arIdent))
}

// readHeader reads a member header at offset. A short read cleanly ends
// member enumeration; bad magic bytes are an error.
func (a *Archive) readHeader(offset int64, header []byte) (bool, error) {
	ok, err := a.SeekRead(offset, header)
	if err != nil || !ok {
		return false, err
	}
	if header[arMagic] != 0x60 || header[arMagic+1] != 0x0a {
		return false, fmt.Errorf("read-header: %s: %w at %d",
			a.Name().Path(), ErrInvalidArchiveHeader, offset)
	}
	return true, nil
}

// LoadObjects enumerates the archive members and registers each object
// in objs keyed by its full name. The archive must be open.
func (a *Archive) LoadObjects(objs map[string]*Object) error {
	var extendedNames int64
	offset := int64(arIdentSize)
	header := make([]byte, arFhdrSize)

	for {
		ok, err := a.readHeader(offset, header)
		if err != nil {
			return err
		}
		if !ok {
			break
		}

		rawSize := int64(utils.ScanDecimal[uint64](header[arSize : arSize+arSizeSize]))

		// Member data is padded to an even length.
		size := int64(utils.AlignTo(uint64(rawSize), 2))

		if header[0] == '/' {
			switch {
			case header[1] == ' ':
				// Archive symbol table. Ignore.
			case header[1] == '/':
				extendedNames = offset + arFhdrSize
			case header[1] >= '0' && header[1] <= '9':
				extendedOff := int64(utils.ScanDecimal[uint64](header[1 : 1+arFnameSize]))

				if extendedNames == 0 {
					// No table seen yet; scan forward for the '//'
					// member.
					off := offset
					for {
						esize := int64(utils.AlignTo(utils.ScanDecimal[uint64](header[arSize:arSize+arSizeSize]), 2))
						off += esize + arFhdrSize
						ok, err := a.readHeader(off, header)
						if err != nil {
							return err
						}
						if !ok {
							return fmt.Errorf("get-names: %s: %w",
								a.Name().Path(), ErrMissingExtendedNames)
						}
						if header[0] == '/' && header[1] == '/' {
							extendedNames = off + arFhdrSize
							break
						}
					}
				}

				name := make([]byte, arMaxFileSize)
				if err := a.Seek(extendedNames + extendedOff); err != nil {
					return err
				}
				if _, err := a.Read(name); err != nil {
					return err
				}
				a.addObject(objs, name, offset+arFhdrSize, rawSize)
			default:
				// Unknown special member. Ignore.
			}
		} else {
			a.addObject(objs, header[arFname:arFname+arFnameSize],
				offset+arFhdrSize, rawSize)
		}

		offset += size + arFhdrSize
	}

	return nil
}

// addObject registers one member. The stored name runs to the first '/'
// or NUL; anything after is ignored.
func (a *Archive) addObject(objs map[string]*Object, name []byte, offset, size int64) {
	end := 0
	for end < len(name) && name[end] != 0 && name[end] != '/' {
		end++
	}
	str := string(name[:end])

	a.ctx.Debugf("archive::add-object: %s\n", str)

	n := NewFile(a.Name().Path(), str, offset, size)
	objs[n.Full()] = NewObjectInArchive(a, n)
}

// setNumber left-aligns a numeric field, leaving the space padding.
func setNumber(value uint64, field []byte, octal bool) {
	var s string
	if octal {
		s = strconv.FormatUint(value, 8)
	} else {
		s = strconv.FormatUint(value, 10)
	}
	if len(s) > len(field) {
		s = s[:len(field)]
	}
	copy(field, s)
}

// writeHeader emits one 60-byte member header at the current position.
// Short names are stored '/'-terminated; special names ("//", "/N")
// pass through untouched.
func (a *Archive) writeHeader(name string, mtime, uid, gid, mode uint64, size int64) error {
	header := bytes.Repeat([]byte{' '}, arFhdrSize)

	n := name
	if !strings.HasPrefix(n, "/") {
		n += "/"
	}
	if len(n) > arFnameSize {
		n = n[:arFnameSize]
	}
	copy(header[arFname:], n)

	setNumber(mtime, header[arMtime:arMtime+arMtimeSize], false)
	setNumber(uid, header[arUID:arUID+arUIDSize], false)
	setNumber(gid, header[arGID:arGID+arGIDSize], false)
	setNumber(mode, header[arMode:arMode+arModeSize], true)
	setNumber(uint64(size), header[arSize:arSize+arSizeSize], false)

	header[arMagic] = 0x60
	header[arMagic+1] = 0x0a

	_, err := a.Write(header)
	return err
}

// Create writes the archive from the given objects, in order. Member
// names too long for the header field go through the GNU extended name
// table.
func (a *Archive) Create(objects []*Object) error {
	if err := a.OpenWritable(); err != nil {
		return err
	}

	if err := a.create(objects); err != nil {
		a.Close()
		return err
	}

	a.Close()
	return nil
}

func (a *Archive) create(objects []*Object) error {
	if _, err := a.SeekWrite(0, []byte(arIdent)); err != nil {
		return err
	}

	// Overlong names are stored "name/\n" in the table so the member
	// name parser finds its '/' terminator there too.
	var extendedNames strings.Builder
	for _, obj := range objects {
		oname := Basename(obj.Name().Oname())
		if len(oname) > arFnameSize {
			extendedNames.WriteString(oname)
			extendedNames.WriteString("/\n")
		}
	}
	if extendedNames.Len()%2 != 0 {
		// Keep the table member even-length so the next header lands
		// where the parser expects it.
		extendedNames.WriteByte('\n')
	}

	if extendedNames.Len() > 0 {
		if err := a.writeHeader("//", 0, 0, 0, 0, int64(extendedNames.Len())); err != nil {
			return err
		}
		if _, err := a.Write([]byte(extendedNames.String())); err != nil {
			return err
		}
	}

	for _, obj := range objects {
		if err := obj.Open(); err != nil {
			return err
		}
		if err := a.createMember(obj, extendedNames.String()); err != nil {
			obj.Close()
			return err
		}
		obj.Close()
	}

	return nil
}

func (a *Archive) createMember(obj *Object, extendedNames string) error {
	oname := Basename(obj.Name().Oname())

	if len(oname) > arFnameSize {
		pos := strings.Index(extendedNames, oname+"/\n")
		if pos < 0 {
			return errorAt(ErrNameInvalid, "extended file name not found: "+oname)
		}
		oname = "/" + strconv.Itoa(pos)
	}

	if err := a.writeHeader(oname, 0, 0, 0, 0o666, obj.Name().Size()); err != nil {
		return err
	}
	if err := obj.Seek(0); err != nil {
		return err
	}
	if err := copyFile(obj, a, obj.Name().Size()); err != nil {
		return err
	}

	// Keep member data even-length aligned for the next header.
	if obj.Name().Size()&1 != 0 {
		if _, err := a.Write([]byte{'\n'}); err != nil {
			return err
		}
	}
	return nil
}
