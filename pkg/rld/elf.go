package rld

import (
	"bytes"
	"debug/elf"
	"fmt"
	"io"
)

// Section is one ELF section of an object, with its header fields and
// the file offset within the object's virtual stream.
type Section struct {
	Index     int
	Name      string
	Type      elf.SectionType
	Flags     uint64
	Size      uint64
	Offset    int64
	Alignment uint32
	Link      uint32
	Info      uint32
	EntSize   uint64
}

// Sections is an ordered list of sections.
type Sections []Section

// SumSizes totals the section sizes.
func (secs Sections) SumSizes() uint64 {
	var size uint64
	for _, sec := range secs {
		size += sec.Size
	}
	return size
}

// Find returns the section with the given index, or nil.
func (secs Sections) Find(index uint32) *Section {
	for i := range secs {
		if secs[i].Index == int(index) {
			return &secs[i]
		}
	}
	return nil
}

// Session is an open ELF decoding session over an object image. Begin
// and End pair strictly; sessions do not nest.
type Session struct {
	ctx  *Context
	obj  *Object
	file *elf.File
}

// beginSession opens the ELF session for an object. The object's
// descriptor must be open; the reader window covers the object's virtual
// stream so archive members decode in place.
func beginSession(ctx *Context, obj *Object) (*Session, error) {
	name := obj.Name()

	holder := obj.fdHolder()
	if holder.Fd() == nil {
		return nil, errorAt(ErrElfSession, "begin: not open: "+name.Full())
	}

	size := name.Size()
	if size == 0 && name.Offset() == 0 {
		if sb, err := holder.Fd().Stat(); err == nil {
			size = sb.Size()
		}
	}

	sr := io.NewSectionReader(holder.Fd(), name.Offset(), size)
	file, err := elf.NewFile(sr)
	if err != nil {
		return nil, fmt.Errorf("%w: begin: %s: %v", ErrElfSession, name.Full(), err)
	}

	if file.Type != elf.ET_EXEC && file.Type != elf.ET_REL {
		file.Close()
		return nil, fmt.Errorf("%w: get-header: %s: only ET_EXEC/ET_REL supported",
			ErrElfSession, name.Full())
	}

	// The first object records the class, data encoding and machine;
	// every later object must match. Mixed inputs cannot be packed.
	if ctx.ObjectClass == elf.ELFCLASSNONE {
		ctx.ObjectClass = file.Class
	} else if ctx.ObjectClass != file.Class {
		file.Close()
		return nil, fmt.Errorf("%w: begin: %s: mixed classes not allowed (32bit/64bit)",
			ErrElfSession, name.Full())
	}
	if ctx.ObjectData == elf.ELFDATANONE {
		ctx.ObjectData = file.Data
	} else if ctx.ObjectData != file.Data {
		file.Close()
		return nil, fmt.Errorf("%w: begin: %s: mixed data types not allowed (LSB/MSB)",
			ErrElfSession, name.Full())
	}
	if ctx.ObjectMachine == elf.EM_NONE {
		ctx.ObjectMachine = file.Machine
	} else if ctx.ObjectMachine != file.Machine {
		file.Close()
		return nil, fmt.Errorf("%w: get-header: %s: mixed machine types not supported (%d/%d)",
			ErrElfSession, name.Full(), ctx.ObjectMachine, file.Machine)
	}

	return &Session{ctx: ctx, obj: obj, file: file}, nil
}

func (s *Session) end() {
	if s.file != nil {
		s.file.Close()
		s.file = nil
	}
}

// SectionCount is the number of section headers.
func (s *Session) SectionCount() int {
	return len(s.file.Sections)
}

// section converts one debug/elf section header.
func (s *Session) section(index int) Section {
	sec := s.file.Sections[index]
	return Section{
		Index:     index,
		Name:      sec.Name,
		Type:      sec.Type,
		Flags:     uint64(sec.Flags),
		Size:      sec.Size,
		Offset:    int64(sec.Offset),
		Alignment: uint32(sec.Addralign),
		Link:      sec.Link,
		Info:      sec.Info,
		EntSize:   sec.Entsize,
	}
}

// SectionsByFlags selects the sections of the given type whose flags
// include all of required and none of excluded, in header order.
func (s *Session) SectionsByFlags(typ elf.SectionType, required, excluded uint64) Sections {
	var secs Sections
	for sn := range s.file.Sections {
		sec := s.section(sn)
		if sec.Type != typ {
			continue
		}
		if sec.Flags&required != required {
			continue
		}
		if sec.Flags&excluded != 0 {
			continue
		}
		secs = append(secs, sec)
	}
	return secs
}

// SectionsByType selects the sections of the given type, in header
// order.
func (s *Session) SectionsByType(typ elf.SectionType) Sections {
	var secs Sections
	for sn := range s.file.Sections {
		if sec := s.section(sn); sec.Type == typ {
			secs = append(secs, sec)
		}
	}
	return secs
}

// SectionsByName selects the sections with exactly the given name, in
// header order.
func (s *Session) SectionsByName(name string) Sections {
	var secs Sections
	for sn := range s.file.Sections {
		if sec := s.section(sn); sec.Name == name {
			secs = append(secs, sec)
		}
	}
	return secs
}

// loadSymbols walks the symbol table. Unresolved symbols (untyped and
// undefined) land in the object's unresolved table. Defined symbols of
// interest go to the exported table and the object's external list:
// weak and global always, locals only when asked for.
func (s *Session) loadSymbols(exported SymbolTable, local bool) error {
	syms, err := s.file.Symbols()
	if err != nil {
		if err == elf.ErrNoSymbols {
			return nil
		}
		return fmt.Errorf("%w: symbols: %s: %v", ErrElfSession, s.obj.Name().Full(), err)
	}

	for _, esym := range syms {
		if esym.Name == "" {
			continue
		}

		stype := elf.ST_TYPE(esym.Info)
		sbind := elf.ST_BIND(esym.Info)

		sym := NewSymbol(esym.Name, s.obj, esym.Info,
			uint32(esym.Section), esym.Value, esym.Size)

		if s.ctx.Verbose >= VerboseTrace {
			fmt.Printf("elf::symbol: %s\n", sym)
		}

		if stype == elf.STT_NOTYPE && esym.Section == elf.SHN_UNDEF {
			s.obj.UnresolvedSymbols()[esym.Name] = sym
			continue
		}

		if stype != elf.STT_NOTYPE && stype != elf.STT_OBJECT && stype != elf.STT_FUNC {
			continue
		}
		if (local && sbind == elf.STB_LOCAL) ||
			sbind == elf.STB_WEAK || sbind == elf.STB_GLOBAL {
			exported[esym.Name] = sym
			s.obj.appendExternal(sym)
		}
	}

	return nil
}

// getString reads the NUL-terminated string at offset in the given
// string section.
func (s *Session) getString(section int, offset int) (string, error) {
	if section < 0 || section >= len(s.file.Sections) {
		return "", errorAt(ErrElfSession, "strptr: bad section")
	}
	data, err := s.file.Sections[section].Data()
	if err != nil {
		return "", fmt.Errorf("%w: strptr: %v", ErrElfSession, err)
	}
	if offset < 0 || offset >= len(data) {
		return "", errorAt(ErrElfSession, "strptr: bad offset")
	}
	if end := bytes.IndexByte(data[offset:], 0); end >= 0 {
		return string(data[offset : offset+end]), nil
	}
	return string(data[offset:]), nil
}
