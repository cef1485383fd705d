package rld

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrVan/gsoc2013-rtl-host/pkg/compress"
)

func TestGroupAddFoldsMatchingAlignments(t *testing.T) {
	g := Group{Name: ".text"}

	require.NoError(t, g.add(Group{Size: 4, Align: 2}))
	assert.Equal(t, uint32(4), g.Size)
	assert.Equal(t, uint32(2), g.Align)
	assert.Equal(t, uint32(4), g.Offset)

	require.NoError(t, g.add(Group{Size: 6, Align: 2}))
	assert.Equal(t, uint32(10), g.Size)
	// offset = 0 + 6, rounded on the 2^(align-1) mask: 6&1 == 0.
	assert.Equal(t, uint32(6), g.Offset)
}

func TestGroupAddRoundsOffset(t *testing.T) {
	g := Group{Name: ".data"}

	// size 6, align 3: offset 6 rounds via mask (1<<2)-1 to
	// (6 &^ 3) + (1 << 3) = 12.
	require.NoError(t, g.add(Group{Size: 6, Align: 3}))
	assert.Equal(t, uint32(12), g.Offset)
}

func TestGroupAddAlignmentMismatch(t *testing.T) {
	g := Group{Name: ".text"}
	require.NoError(t, g.add(Group{Size: 4, Align: 2}))
	err := g.add(Group{Size: 4, Align: 4})
	require.ErrorIs(t, err, ErrAlignmentMismatch)
	assert.Contains(t, err.Error(), ".text")
}

func TestGroupAddInvalidAlignment(t *testing.T) {
	g := Group{Name: ".bss"}
	require.NoError(t, g.add(Group{Size: 4, Align: 0}))
	err := g.add(Group{Size: 4, Align: 0})
	require.ErrorIs(t, err, ErrInvalidAlignment)
}

func TestGroupAddSkipsEmpty(t *testing.T) {
	g := Group{Name: ".ctor"}
	require.NoError(t, g.add(Group{Size: 0, Align: 4}))
	assert.Equal(t, uint32(0), g.Size)
	assert.Equal(t, uint32(0), g.Align)
}

// rapStream lays out and writes the image uncompressed, returning the
// raw stream bytes.
func rapStream(t *testing.T, ctx *Context, rap *RapImage, objects []*Object) []byte {
	t.Helper()
	var sink bytes.Buffer
	comp, err := compress.New(&sink, rapStreamBufferSize, false)
	require.NoError(t, err)
	require.NoError(t, rap.Layout(objects))
	require.NoError(t, rap.Write(comp))
	require.NoError(t, comp.Flush())
	return sink.Bytes()
}

func u32(t *testing.T, stream []byte, index int) uint32 {
	t.Helper()
	require.GreaterOrEqual(t, len(stream), (index+1)*4)
	return binary.BigEndian.Uint32(stream[index*4:])
}

func TestRapSingleArchiveMember(t *testing.T) {
	ctx := NewContext()
	dir := t.TempDir()

	arPath := makeArchive(t, ctx, dir, "libx.a", map[string][]byte{
		"a.o": simpleTextObject(t, []byte{0x90, 0x90, 0x90, 0x90}, 2, "foo"),
	})

	cache := NewCache(ctx)
	require.NoError(t, cache.Add(arPath))
	require.NoError(t, cache.Open())
	defer cache.Close()

	symbols := make(SymbolTable)
	require.NoError(t, cache.LoadSymbols(symbols, false))

	var objects []*Object
	for _, obj := range cache.Objects() {
		objects = append(objects, obj)
	}
	require.Len(t, objects, 1)

	rap := NewRapImage(ctx, "init", "fini")
	stream := rapStream(t, ctx, rap, objects)

	// Header: machine, encoding, class, init and fini offsets, symbol
	// and string table sizes, reserved zero.
	assert.Equal(t, uint32(elf.EM_386), u32(t, stream, 0))
	assert.Equal(t, uint32(elf.ELFDATA2LSB), u32(t, stream, 1))
	assert.Equal(t, uint32(elf.ELFCLASS32), u32(t, stream, 2))
	assert.Equal(t, uint32(0), u32(t, stream, 3))
	assert.Equal(t, uint32(5), u32(t, stream, 4))
	assert.Equal(t, uint32(12), u32(t, stream, 5))
	assert.Equal(t, uint32(14), u32(t, stream, 6))
	assert.Equal(t, uint32(0), u32(t, stream, 7))

	// Text group record.
	groups := rap.Groups()
	assert.Equal(t, uint32(4), groups[RapText].Size)
	assert.Equal(t, uint32(2), groups[RapText].Align)
	assert.Equal(t, uint32(4), u32(t, stream, 8))
	assert.Equal(t, uint32(2), u32(t, stream, 9))

	// The body: four text bytes after the 32 byte header and the six
	// twelve-byte group records.
	body := 32 + 6*12
	assert.Equal(t, []byte{0x90, 0x90, 0x90, 0x90}, stream[body:body+4])

	// The string table begins init, fini, then the symbol names.
	strtab := stream[body+4 : body+4+14]
	assert.Equal(t, []byte("init\x00fini\x00foo\x00"), strtab)

	// One external: text group, global function, value zero, name
	// behind the entry point names.
	externs := rap.Externals()
	require.Len(t, externs, 1)
	assert.Equal(t, RapText, externs[0].Sec)
	assert.Equal(t, uint32(0), externs[0].Value)
	assert.Equal(t, uint32(len("init")+1+len("fini")+1), externs[0].Name)

	extBase := body + 4 + 14
	info := uint32(elf.STB_GLOBAL)<<4 | uint32(elf.STT_FUNC)
	assert.Equal(t, uint32(RapText)<<16|info, binary.BigEndian.Uint32(stream[extBase:]))
	assert.Equal(t, uint32(10), binary.BigEndian.Uint32(stream[extBase+4:]))
	assert.Equal(t, uint32(0), binary.BigEndian.Uint32(stream[extBase+8:]))

	// Stream length: header + group records + text bytes + strtab +
	// symtab. BSS contributes no body bytes.
	assert.Equal(t, 32+6*12+4+14+12, len(stream))
}

func TestRapTwoObjectCtors(t *testing.T) {
	ctx := NewContext()
	dir := t.TempDir()

	ctorObject := func(sym string) []byte {
		return buildObject(t,
			[]fixtureSection{
				{name: ".ctors", typ: elf.SHT_PROGBITS,
					flags: uint32(elf.SHF_ALLOC),
					data:  make([]byte, 8), align: 2},
			},
			[]fixtureSymbol{
				{name: sym, typ: elf.STT_OBJECT, bind: elf.STB_GLOBAL, shndx: 1},
			})
	}

	pathA := writeFixture(t, dir, "a.o", ctorObject("ctor_a"))
	pathB := writeFixture(t, dir, "b.o", ctorObject("ctor_b"))

	cache := NewCache(ctx)
	require.NoError(t, cache.AddPaths([]string{pathA, pathB}))
	require.NoError(t, cache.Open())
	defer cache.Close()

	symbols := make(SymbolTable)
	require.NoError(t, cache.LoadSymbols(symbols, false))

	objects, err := cache.GetObjects()
	require.NoError(t, err)

	rap := NewRapImage(ctx, "init", "fini")
	rapStream(t, ctx, rap, objects)

	groups := rap.Groups()
	assert.Equal(t, uint32(16), groups[RapCtor].Size)
	assert.Equal(t, uint32(2), groups[RapCtor].Align)
	// Offset per the fold: second object's record lands at 0+8, even on
	// the 2^(align-1) mask.
	assert.Equal(t, uint32(8), groups[RapCtor].Offset)
}

func TestRapLocalSymbolsExcluded(t *testing.T) {
	ctx := NewContext()
	dir := t.TempDir()

	obj := buildObject(t,
		[]fixtureSection{
			{name: ".text", typ: elf.SHT_PROGBITS,
				flags: uint32(elf.SHF_ALLOC | elf.SHF_EXECINSTR),
				data:  []byte{0xc3, 0xc3}, align: 1},
		},
		[]fixtureSymbol{
			{name: "local_helper", typ: elf.STT_FUNC, bind: elf.STB_LOCAL, shndx: 1},
			{name: "weak_fn", typ: elf.STT_FUNC, bind: elf.STB_WEAK, shndx: 1, value: 1},
		})
	path := writeFixture(t, dir, "mixed.o", obj)

	cache := NewCache(ctx)
	require.NoError(t, cache.Add(path))
	require.NoError(t, cache.Open())
	defer cache.Close()

	symbols := make(SymbolTable)
	require.NoError(t, cache.LoadSymbols(symbols, false))

	objects, err := cache.GetObjects()
	require.NoError(t, err)

	rap := NewRapImage(ctx, "i", "f")
	rapStream(t, ctx, rap, objects)

	externs := rap.Externals()
	require.Len(t, externs, 1)
	assert.Equal(t, uint32(1), externs[0].Value)
	assert.Equal(t, []byte("i\x00f\x00weak_fn\x00"), rap.StringTable())
}

func TestRapMultipleGroups(t *testing.T) {
	ctx := NewContext()
	dir := t.TempDir()

	obj := buildObject(t,
		[]fixtureSection{
			{name: ".text", typ: elf.SHT_PROGBITS,
				flags: uint32(elf.SHF_ALLOC | elf.SHF_EXECINSTR),
				data:  []byte{1, 2, 3, 4}, align: 2},
			{name: ".data", typ: elf.SHT_PROGBITS,
				flags: uint32(elf.SHF_ALLOC | elf.SHF_WRITE),
				data:  []byte{5, 6}, align: 2},
			{name: ".bss", typ: elf.SHT_NOBITS,
				flags: uint32(elf.SHF_ALLOC | elf.SHF_WRITE),
				size:  32, align: 2},
			{name: ".rodata.str1.1", typ: elf.SHT_PROGBITS,
				flags: uint32(elf.SHF_ALLOC | elf.SHF_MERGE | elf.SHF_STRINGS),
				data:  []byte("hi\x00"), align: 1, entsize: 1},
		},
		[]fixtureSymbol{
			{name: "var", typ: elf.STT_OBJECT, bind: elf.STB_GLOBAL, shndx: 2},
			{name: "zeroed", typ: elf.STT_OBJECT, bind: elf.STB_GLOBAL, shndx: 3},
		})
	path := writeFixture(t, dir, "groups.o", obj)

	cache := NewCache(ctx)
	require.NoError(t, cache.Add(path))
	require.NoError(t, cache.Open())
	defer cache.Close()

	symbols := make(SymbolTable)
	require.NoError(t, cache.LoadSymbols(symbols, false))

	objects, err := cache.GetObjects()
	require.NoError(t, err)

	rap := NewRapImage(ctx, "init", "fini")
	stream := rapStream(t, ctx, rap, objects)

	groups := rap.Groups()
	assert.Equal(t, uint32(4), groups[RapText].Size)
	assert.Equal(t, uint32(3), groups[RapConst].Size)
	assert.Equal(t, uint32(2), groups[RapData].Size)
	assert.Equal(t, uint32(32), groups[RapBss].Size)

	// Symbols resolve to their groups.
	externs := rap.Externals()
	require.Len(t, externs, 2)
	assert.Equal(t, RapData, externs[0].Sec)
	assert.Equal(t, RapBss, externs[1].Sec)

	// BSS is sized in the records but contributes no body: total is
	// header + records + text + const + data + strtab + symtab.
	strtabLen := len("init") + 1 + len("fini") + 1 +
		len("var") + 1 + len("zeroed") + 1
	assert.Equal(t, 32+6*12+4+3+2+strtabLen+2*12, len(stream))

	// Body order is text then const then data.
	body := 32 + 6*12
	assert.Equal(t, []byte{1, 2, 3, 4}, stream[body:body+4])
	assert.Equal(t, []byte("hi\x00"), stream[body+4:body+7])
	assert.Equal(t, []byte{5, 6}, stream[body+7:body+9])
}

func TestRapSectionIndexNotFound(t *testing.T) {
	ctx := NewContext()
	dir := t.TempDir()

	// The symbol points at a debug section outside the six groups.
	obj := buildObject(t,
		[]fixtureSection{
			{name: ".text", typ: elf.SHT_PROGBITS,
				flags: uint32(elf.SHF_ALLOC | elf.SHF_EXECINSTR),
				data:  []byte{0xc3}, align: 1},
			{name: ".debug_info", typ: elf.SHT_PROGBITS,
				data: []byte{9, 9}, align: 1},
		},
		[]fixtureSymbol{
			{name: "dbg", typ: elf.STT_OBJECT, bind: elf.STB_GLOBAL, shndx: 2},
		})
	path := writeFixture(t, dir, "dbg.o", obj)

	cache := NewCache(ctx)
	require.NoError(t, cache.Add(path))
	require.NoError(t, cache.Open())
	defer cache.Close()

	symbols := make(SymbolTable)
	require.NoError(t, cache.LoadSymbols(symbols, false))

	objects, err := cache.GetObjects()
	require.NoError(t, err)

	rap := NewRapImage(ctx, "i", "f")
	err = rap.Layout(objects)
	require.ErrorIs(t, err, ErrSectionIndexNotFound)
}

func TestRapRelocationSizing(t *testing.T) {
	ctx := NewContext()
	dir := t.TempDir()

	obj := buildObject(t,
		[]fixtureSection{
			{name: ".text", typ: elf.SHT_PROGBITS,
				flags: uint32(elf.SHF_ALLOC | elf.SHF_EXECINSTR),
				data:  make([]byte, 8), align: 2},
			{name: ".rel.text", typ: elf.SHT_REL,
				data: make([]byte, 16), align: 4, entsize: 8},
		},
		[]fixtureSymbol{
			{name: "f", typ: elf.STT_FUNC, bind: elf.STB_GLOBAL, shndx: 1},
		})
	path := writeFixture(t, dir, "rel.o", obj)

	cache := NewCache(ctx)
	require.NoError(t, cache.Add(path))
	require.NoError(t, cache.Open())
	defer cache.Close()

	symbols := make(SymbolTable)
	require.NoError(t, cache.LoadSymbols(symbols, false))

	objects, err := cache.GetObjects()
	require.NoError(t, err)

	ro, err := newRapObject(objects[0])
	require.NoError(t, err)
	assert.Equal(t, uint32(16), ro.relocsSize)
	require.Len(t, ro.relocs, 1)
	assert.Equal(t, ".rel.text", ro.relocs[0].Name)

	// Relocations are sized, not emitted: the stream carries only the
	// text body plus tables.
	rap := NewRapImage(ctx, "i", "f")
	stream := rapStream(t, ctx, rap, objects)
	strtabLen := 1 + 1 + 1 + 1 + len("f") + 1
	assert.Equal(t, 32+6*12+8+strtabLen+12, len(stream))
}

func TestRapCompressedRoundTrip(t *testing.T) {
	ctx := NewContext()
	dir := t.TempDir()

	path := writeFixture(t, dir, "a.o",
		simpleTextObject(t, bytes.Repeat([]byte{0x90}, 256), 2, "foo"))

	cache := NewCache(ctx)
	require.NoError(t, cache.Add(path))
	require.NoError(t, cache.Open())
	defer cache.Close()

	symbols := make(SymbolTable)
	require.NoError(t, cache.LoadSymbols(symbols, false))

	objects, err := cache.GetObjects()
	require.NoError(t, err)

	// The raw stream.
	rap := NewRapImage(ctx, "init", "fini")
	raw := rapStream(t, ctx, rap, objects)

	// The compressed stream inflates back to it.
	var packed bytes.Buffer
	comp, err := compress.New(&packed, rapStreamBufferSize, true)
	require.NoError(t, err)
	rap2 := NewRapImage(ctx, "init", "fini")
	require.NoError(t, rap2.Layout(objects))
	require.NoError(t, rap2.Write(comp))
	require.NoError(t, comp.Flush())
	assert.Equal(t, int64(len(raw)), comp.Transferred())

	var unpacked bytes.Buffer
	n, err := compress.Expand(newMemSource(packed.Bytes()), &unpacked,
		0, int64(packed.Len()))
	require.NoError(t, err)
	assert.Equal(t, int64(len(raw)), n)
	assert.Equal(t, raw, unpacked.Bytes())
}

// memSource serves a byte slice through the compress.Source interface.
type memSource struct {
	data []byte
	pos  int64
}

func newMemSource(data []byte) *memSource { return &memSource{data: data} }

func (m *memSource) Seek(offset int64) error {
	m.pos = offset
	return nil
}

func (m *memSource) Read(p []byte) (int, error) {
	if m.pos >= int64(len(m.data)) {
		return 0, nil
	}
	n := copy(p, m.data[m.pos:])
	m.pos += int64(n)
	return n, nil
}
