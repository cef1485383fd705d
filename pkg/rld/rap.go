package rld

import (
	"debug/elf"
	"fmt"

	"github.com/MrVan/gsoc2013-rtl-host/pkg/compress"
)

// The six RAP section groups, in serialization order.
type GroupIndex int

const (
	RapText GroupIndex = iota
	RapConst
	RapCtor
	RapDtor
	RapData
	RapBss

	rapSecs
)

// groupNames are the group names in index order.
var groupNames = [rapSecs]string{
	".text",
	".const",
	".ctor",
	".dtor",
	".data",
	".bss",
}

func (g GroupIndex) String() string {
	if g < 0 || g >= rapSecs {
		return "?"
	}
	return groupNames[g]
}

// Group is one RAP section group record: the accumulated size, the
// running offset and the alignment shared by its members.
type Group struct {
	Name   string
	Size   uint32
	Offset uint32
	Align  uint32
}

// add folds a per-object group record into this one. Contributing
// records must agree on alignment. The offset advances past the added
// record and is rounded up treating the alignment as a power-of-two
// exponent, which is how the target loader reads it.
func (g *Group) add(s Group) error {
	if s.Size == 0 {
		return nil
	}

	if g.Align == 0 {
		g.Align = s.Align
	} else if g.Align != s.Align {
		return fmt.Errorf("%w: '%s'", ErrAlignmentMismatch, g.Name)
	}

	if g.Size != 0 && g.Align == 0 {
		return fmt.Errorf("%w: '%s'", ErrInvalidAlignment, g.Name)
	}

	g.Size += s.Size
	g.Offset = s.Offset + s.Size

	if g.Align > 0 {
		mask := uint32(1)<<(g.Align-1) - 1
		if g.Offset&mask != 0 {
			g.Offset = (g.Offset &^ mask) + uint32(1)<<g.Align
		}
	}

	return nil
}

// update primes the group from the contributing sections: the size is
// their total, the alignment comes from the first member.
func (g *Group) update(secs Sections) {
	if len(secs) != 0 {
		g.Align = secs[0].Alignment
		g.Size = uint32(secs.SumSizes())
	}
}

// External is one externally visible symbol in the RAP symbol table.
// The serialized record is three 32-bit words.
type External struct {
	Name  uint32
	Sec   GroupIndex
	Value uint32
	Data  uint32
}

// externalRapSize is the serialized size of an external.
const externalRapSize = 12

// RapObject carries one input object's contribution: the matching ELF
// sections per group, the per-group records, and the relocation, symbol
// and string table sub-sizes.
type RapObject struct {
	obj *Object

	text   Sections
	const_ Sections
	ctor   Sections
	dtor   Sections
	data   Sections
	bss    Sections
	symtab Sections
	strtab Sections
	relocs Sections

	secs [rapSecs]Group

	relocsSize uint32
	symtabSize uint32
	strtabSize uint32
}

// newRapObject classifies the object's sections into the six groups and
// collects the relocation sections attached to its text.
func newRapObject(obj *Object) (*RapObject, error) {
	ro := &RapObject{obj: obj}
	for s := range ro.secs {
		ro.secs[s].Name = groupNames[s]
	}

	if err := obj.Open(); err != nil {
		return nil, err
	}
	if err := obj.Begin(); err != nil {
		obj.Close()
		return nil, err
	}

	session := obj.Elf()

	ro.text = session.SectionsByFlags(elf.SHT_PROGBITS,
		uint64(elf.SHF_ALLOC|elf.SHF_EXECINSTR), 0)
	ro.const_ = session.SectionsByFlags(elf.SHT_PROGBITS,
		uint64(elf.SHF_ALLOC|elf.SHF_MERGE),
		uint64(elf.SHF_WRITE|elf.SHF_EXECINSTR))
	ro.ctor = session.SectionsByName(".ctors")
	ro.dtor = session.SectionsByName(".dtors")
	ro.data = session.SectionsByFlags(elf.SHT_PROGBITS,
		uint64(elf.SHF_ALLOC|elf.SHF_WRITE), 0)
	ro.bss = session.SectionsByFlags(elf.SHT_NOBITS,
		uint64(elf.SHF_ALLOC|elf.SHF_WRITE), 0)
	ro.symtab = session.SectionsByType(elf.SHT_SYMTAB)
	ro.strtab = session.SectionsByName(".strtab")

	for _, sec := range ro.text {
		ro.relocs = append(ro.relocs, session.SectionsByName(".rel"+sec.Name)...)
		ro.relocs = append(ro.relocs, session.SectionsByName(".rela"+sec.Name)...)
	}

	obj.End()
	obj.Close()

	ro.secs[RapText].update(ro.text)
	ro.secs[RapConst].update(ro.const_)
	ro.secs[RapCtor].update(ro.ctor)
	ro.secs[RapDtor].update(ro.dtor)
	ro.secs[RapData].update(ro.data)
	ro.secs[RapBss].update(ro.bss)

	ro.relocsSize = uint32(ro.relocs.SumSizes())
	ro.symtabSize = uint32(ro.symtab.SumSizes())
	ro.strtabSize = uint32(ro.strtab.SumSizes())

	return ro, nil
}

// find maps an ELF section index to its group.
func (ro *RapObject) find(index uint32) (GroupIndex, error) {
	groups := []struct {
		secs Sections
		sec  GroupIndex
	}{
		{ro.text, RapText},
		{ro.const_, RapConst},
		{ro.ctor, RapCtor},
		{ro.dtor, RapDtor},
		{ro.data, RapData},
		{ro.bss, RapBss},
	}
	for _, g := range groups {
		if g.secs.Find(index) != nil {
			return g.sec, nil
		}
	}
	return 0, fmt.Errorf("%w: '%d': %s", ErrSectionIndexNotFound,
		index, ro.obj.Name().Full())
}

// RapImage aggregates the per-object metrics into the global groups and
// serializes the application through a compressor.
type RapImage struct {
	ctx  *Context
	init string
	fini string

	objs       []*RapObject
	secs       [rapSecs]Group
	externs    []External
	strtab     []byte
	initOff    uint32
	finiOff    uint32
	symtabSize uint32
	relocsSize uint32
}

// NewRapImage builds an empty image. The init and fini entry point
// names seed the string table so every symbol name lands behind them.
func NewRapImage(ctx *Context, init, fini string) *RapImage {
	r := &RapImage{ctx: ctx, init: init, fini: fini}
	r.clear()
	return r
}

func (r *RapImage) clear() {
	for s := range r.secs {
		r.secs[s] = Group{Name: groupNames[s]}
	}
	r.objs = nil
	r.externs = nil
	r.symtabSize = 0
	r.relocsSize = 0

	r.strtab = r.strtab[:0]
	r.initOff = uint32(len(r.strtab))
	r.strtab = append(r.strtab, r.init...)
	r.strtab = append(r.strtab, 0)
	r.finiOff = uint32(len(r.strtab))
	r.strtab = append(r.strtab, r.fini...)
	r.strtab = append(r.strtab, 0)
}

// Layout builds the per-object metrics for the application objects in
// their given order, folds them into the global groups and collects the
// external symbols.
func (r *RapImage) Layout(appObjects []*Object) error {
	r.clear()

	for _, appObj := range appObjects {
		if !appObj.Valid() {
			return errorAt(ErrNameInvalid, "rap::layout: not valid: "+appObj.Name().Full())
		}
		ro, err := newRapObject(appObj)
		if err != nil {
			return err
		}
		r.objs = append(r.objs, ro)
	}

	for _, ro := range r.objs {
		for s := range ro.secs {
			if err := r.secs[s].add(ro.secs[s]); err != nil {
				return err
			}
		}

		if err := r.collectSymbols(ro); err != nil {
			return err
		}

		r.relocsSize += ro.relocsSize
	}

	r.ctx.Infof("rap::layout: text:%d const:%d ctor:%d dtor:%d data:%d bss:%d"+
		" symbols:%d (%d) strings:%d relocs:%d\n",
		r.secs[RapText].Size, r.secs[RapConst].Size, r.secs[RapCtor].Size,
		r.secs[RapDtor].Size, r.secs[RapData].Size, r.secs[RapBss].Size,
		r.symtabSize, len(r.externs), len(r.strtab), r.relocsSize)

	return nil
}

// collectSymbols takes the object's externally visible data and
// function symbols with global or weak binding into the image symbol
// table.
func (r *RapImage) collectSymbols(ro *RapObject) error {
	for _, sym := range ro.obj.ExternalSymbols() {
		if sym.Type() != elf.STT_OBJECT && sym.Type() != elf.STT_FUNC {
			continue
		}
		if sym.Binding() != elf.STB_GLOBAL && sym.Binding() != elf.STB_WEAK {
			continue
		}

		sec, err := ro.find(sym.SectionIndex())
		if err != nil {
			return err
		}

		r.externs = append(r.externs, External{
			Name:  uint32(len(r.strtab)),
			Sec:   sec,
			Value: uint32(sym.Value()),
			Data:  uint32(sym.Info()),
		})

		r.symtabSize += externalRapSize
		r.strtab = append(r.strtab, sym.Name()...)
		r.strtab = append(r.strtab, 0)
	}
	return nil
}

// Write serializes the image: the machine triplet, the entry point name
// offsets, the table sizes, the six group records, the group bodies in
// object order (bss carries no bytes), the string table and the
// external symbol records.
func (r *RapImage) Write(comp *compress.Compressor) error {
	for _, v := range []uint32{
		uint32(r.ctx.ObjectMachine),
		uint32(r.ctx.ObjectData),
		uint32(r.ctx.ObjectClass),
		r.initOff,
		r.finiOff,
		r.symtabSize,
		uint32(len(r.strtab)),
		0,
	} {
		if err := comp.WriteUint32(v); err != nil {
			return err
		}
	}

	for s := GroupIndex(0); s < rapSecs; s++ {
		sec := &r.secs[s]
		for _, v := range []uint32{sec.Size, sec.Align, sec.Offset} {
			if err := comp.WriteUint32(v); err != nil {
				return err
			}
		}
	}

	for s := RapText; s <= RapData; s++ {
		for _, ro := range r.objs {
			if err := r.writeSections(comp, ro.obj, ro.groupSections(s)); err != nil {
				return err
			}
		}
	}

	if err := comp.Write(r.strtab); err != nil {
		return err
	}

	return r.writeExternals(comp)
}

func (ro *RapObject) groupSections(s GroupIndex) Sections {
	switch s {
	case RapText:
		return ro.text
	case RapConst:
		return ro.const_
	case RapCtor:
		return ro.ctor
	case RapDtor:
		return ro.dtor
	case RapData:
		return ro.data
	case RapBss:
		return ro.bss
	}
	return nil
}

// writeSections streams one object's sections of one group straight
// from the object file into the compressor.
func (r *RapImage) writeSections(comp *compress.Compressor, obj *Object, secs Sections) error {
	if err := obj.Open(); err != nil {
		return err
	}
	if err := obj.Begin(); err != nil {
		obj.Close()
		return err
	}

	r.ctx.Debugf("rap:write sections: %s\n", obj.Name().Full())

	for _, sec := range secs {
		if err := comp.WriteSource(obj, sec.Offset, int64(sec.Size)); err != nil {
			obj.End()
			obj.Close()
			return err
		}
	}

	obj.End()
	obj.Close()
	return nil
}

func (r *RapImage) writeExternals(comp *compress.Compressor) error {
	for _, ext := range r.externs {
		if ext.Data&0xffff0000 != 0 {
			return errorAt(ErrNameInvalid,
				"rap::write-externs: data value has data in bits higher than 15")
		}
		for _, v := range []uint32{
			uint32(ext.Sec)<<16 | ext.Data,
			ext.Name,
			ext.Value,
		} {
			if err := comp.WriteUint32(v); err != nil {
				return err
			}
		}
	}
	return nil
}

// Groups exposes the global group records, for reporting.
func (r *RapImage) Groups() [rapSecs]Group { return r.secs }

// Externals exposes the collected symbol records, in insertion order.
func (r *RapImage) Externals() []External { return r.externs }

// StringTable exposes the image string table blob.
func (r *RapImage) StringTable() []byte { return r.strtab }

// rapStreamBufferSize is the compressor block size used for
// applications.
const rapStreamBufferSize = 2 * 1024

// WriteRap lays out the application objects and writes the compressed
// image. The symbol table argument is unused until incremental linking
// lands, matching the original interface.
func WriteRap(ctx *Context, app *Image, init, fini string,
	appObjects []*Object, _ SymbolTable) error {

	comp, err := compress.New(app, rapStreamBufferSize, true)
	if err != nil {
		return err
	}

	rap := NewRapImage(ctx, init, fini)
	if err := rap.Layout(appObjects); err != nil {
		return err
	}
	if err := rap.Write(comp); err != nil {
		return err
	}
	if err := comp.Flush(); err != nil {
		return err
	}

	if ctx.Verbose >= VerboseInfo && comp.Transferred() > 0 {
		pcent := comp.Compressed() * 100 / comp.Transferred()
		premand := ((comp.Compressed()*1000 + 500) / comp.Transferred()) % 10
		ctx.Infof("rap: objects: %d, size: %d, compression: %d.%d%%\n",
			len(appObjects), comp.Compressed(), pcent, premand)
	}

	return nil
}
