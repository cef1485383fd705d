package rld

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// Synthetic little-endian ELF32 relocatable objects for the tests. The
// layout is header, section bodies, symbol and string tables, then the
// section header table.

type fixtureSection struct {
	name    string
	typ     elf.SectionType
	flags   uint32
	data    []byte
	size    uint32 // for SHT_NOBITS
	align   uint32
	entsize uint32
}

type fixtureSymbol struct {
	name  string
	typ   elf.SymType
	bind  elf.SymBind
	shndx uint16 // 1-based index into the fixture sections
	value uint32
	size  uint32
}

const (
	elfEhdrSize = 52
	elfShdrSize = 40
	elfSymSize  = 16
)

type strtabBuilder struct {
	blob bytes.Buffer
}

func newStrtabBuilder() *strtabBuilder {
	b := &strtabBuilder{}
	b.blob.WriteByte(0)
	return b
}

func (b *strtabBuilder) add(name string) uint32 {
	if name == "" {
		return 0
	}
	off := uint32(b.blob.Len())
	b.blob.WriteString(name)
	b.blob.WriteByte(0)
	return off
}

type rawShdr struct {
	name, typ, flags, addr, offset, size uint32
	link, info, align, entsize           uint32
}

func buildObject(t *testing.T, sections []fixtureSection, symbols []fixtureSymbol) []byte {
	t.Helper()

	// Section order: null, user sections, .symtab, .strtab, .shstrtab.
	symtabIndex := uint32(1 + len(sections))
	strtabIndex := symtabIndex + 1
	shstrtabIndex := strtabIndex + 1
	sectionCount := shstrtabIndex + 1

	shstrtab := newStrtabBuilder()
	symstrtab := newStrtabBuilder()

	shdrs := make([]rawShdr, 1, sectionCount)

	var bodies bytes.Buffer
	cursor := uint32(elfEhdrSize)

	for _, sec := range sections {
		hdr := rawShdr{
			name:    shstrtab.add(sec.name),
			typ:     uint32(sec.typ),
			flags:   sec.flags,
			offset:  cursor,
			align:   sec.align,
			entsize: sec.entsize,
		}
		if sec.typ == elf.SHT_NOBITS {
			hdr.size = sec.size
		} else {
			hdr.size = uint32(len(sec.data))
			bodies.Write(sec.data)
			cursor += uint32(len(sec.data))
		}
		shdrs = append(shdrs, hdr)
	}

	// Symbol table: a null entry then the given symbols, locals first is
	// not enforced; sh_info points past the last local.
	var symtab bytes.Buffer
	writeSym := func(name uint32, value, size uint32, info uint8, shndx uint16) {
		binary.Write(&symtab, binary.LittleEndian, name)
		binary.Write(&symtab, binary.LittleEndian, value)
		binary.Write(&symtab, binary.LittleEndian, size)
		symtab.WriteByte(info)
		symtab.WriteByte(0)
		binary.Write(&symtab, binary.LittleEndian, shndx)
	}
	writeSym(0, 0, 0, 0, 0)
	firstGlobal := uint32(1)
	for _, sym := range symbols {
		info := uint8(sym.bind)<<4 | uint8(sym.typ)&0xf
		writeSym(symstrtab.add(sym.name), sym.value, sym.size, info, sym.shndx)
		if sym.bind == elf.STB_LOCAL {
			firstGlobal++
		}
	}

	shdrs = append(shdrs, rawShdr{
		name:    shstrtab.add(".symtab"),
		typ:     uint32(elf.SHT_SYMTAB),
		offset:  cursor,
		size:    uint32(symtab.Len()),
		link:    strtabIndex,
		info:    firstGlobal,
		align:   4,
		entsize: elfSymSize,
	})
	bodies.Write(symtab.Bytes())
	cursor += uint32(symtab.Len())

	shdrs = append(shdrs, rawShdr{
		name:   shstrtab.add(".strtab"),
		typ:    uint32(elf.SHT_STRTAB),
		offset: cursor,
		size:   uint32(symstrtab.blob.Len()),
		align:  1,
	})
	bodies.Write(symstrtab.blob.Bytes())
	cursor += uint32(symstrtab.blob.Len())

	shstrtabName := shstrtab.add(".shstrtab")
	shdrs = append(shdrs, rawShdr{
		name:   shstrtabName,
		typ:    uint32(elf.SHT_STRTAB),
		offset: cursor,
		size:   uint32(shstrtab.blob.Len()),
		align:  1,
	})
	bodies.Write(shstrtab.blob.Bytes())
	cursor += uint32(shstrtab.blob.Len())

	shoff := cursor

	var out bytes.Buffer

	ident := [16]byte{0x7f, 'E', 'L', 'F',
		byte(elf.ELFCLASS32), byte(elf.ELFDATA2LSB), 1}
	out.Write(ident[:])
	binary.Write(&out, binary.LittleEndian, uint16(elf.ET_REL))
	binary.Write(&out, binary.LittleEndian, uint16(elf.EM_386))
	binary.Write(&out, binary.LittleEndian, uint32(1))
	binary.Write(&out, binary.LittleEndian, uint32(0)) // entry
	binary.Write(&out, binary.LittleEndian, uint32(0)) // phoff
	binary.Write(&out, binary.LittleEndian, shoff)
	binary.Write(&out, binary.LittleEndian, uint32(0)) // flags
	binary.Write(&out, binary.LittleEndian, uint16(elfEhdrSize))
	binary.Write(&out, binary.LittleEndian, uint16(0)) // phentsize
	binary.Write(&out, binary.LittleEndian, uint16(0)) // phnum
	binary.Write(&out, binary.LittleEndian, uint16(elfShdrSize))
	binary.Write(&out, binary.LittleEndian, uint16(sectionCount))
	binary.Write(&out, binary.LittleEndian, uint16(shstrtabIndex))

	require.Equal(t, elfEhdrSize, out.Len())

	out.Write(bodies.Bytes())

	for _, hdr := range shdrs {
		binary.Write(&out, binary.LittleEndian, hdr.name)
		binary.Write(&out, binary.LittleEndian, hdr.typ)
		binary.Write(&out, binary.LittleEndian, hdr.flags)
		binary.Write(&out, binary.LittleEndian, hdr.addr)
		binary.Write(&out, binary.LittleEndian, hdr.offset)
		binary.Write(&out, binary.LittleEndian, hdr.size)
		binary.Write(&out, binary.LittleEndian, hdr.link)
		binary.Write(&out, binary.LittleEndian, hdr.info)
		binary.Write(&out, binary.LittleEndian, hdr.align)
		binary.Write(&out, binary.LittleEndian, hdr.entsize)
	}

	// Sanity: debug/elf must accept what the tests feed the linker.
	_, err := elf.NewFile(bytes.NewReader(out.Bytes()))
	require.NoError(t, err)

	return out.Bytes()
}

// writeFixture drops the bytes into dir under name and returns the
// path.
func writeFixture(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

// simpleTextObject is a .text-only object with one global function
// symbol.
func simpleTextObject(t *testing.T, text []byte, align uint32, symbol string) []byte {
	t.Helper()
	return buildObject(t,
		[]fixtureSection{
			{name: ".text", typ: elf.SHT_PROGBITS,
				flags: uint32(elf.SHF_ALLOC | elf.SHF_EXECINSTR),
				data:  text, align: align},
		},
		[]fixtureSymbol{
			{name: symbol, typ: elf.STT_FUNC, bind: elf.STB_GLOBAL, shndx: 1},
		})
}
