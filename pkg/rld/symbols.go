package rld

import (
	"debug/elf"
	"fmt"
	"io"
	"sort"
)

// Symbol is an ELF symbol bound to the object that defines or references
// it.
type Symbol struct {
	name   string
	object *Object
	info   uint8
	shndx  uint32
	value  uint64
	size   uint64
	refs   int
}

// NewSymbol builds a symbol from its ELF fields.
func NewSymbol(name string, object *Object, info uint8, shndx uint32, value, size uint64) *Symbol {
	return &Symbol{
		name:   name,
		object: object,
		info:   info,
		shndx:  shndx,
		value:  value,
		size:   size,
	}
}

func (s *Symbol) Name() string    { return s.name }
func (s *Symbol) Object() *Object { return s.object }

// Info is the raw st_info byte.
func (s *Symbol) Info() uint8 { return s.info }

// Type is the symbol type from st_info.
func (s *Symbol) Type() elf.SymType { return elf.ST_TYPE(s.info) }

// Binding is the symbol binding from st_info.
func (s *Symbol) Binding() elf.SymBind { return elf.ST_BIND(s.info) }

// SectionIndex is the defining section's index.
func (s *Symbol) SectionIndex() uint32 { return s.shndx }

func (s *Symbol) Value() uint64 { return s.value }
func (s *Symbol) Size() uint64  { return s.size }

// Referenced counts a reference against the symbol and its object's
// image.
func (s *Symbol) Referenced() {
	s.refs++
	if s.object != nil {
		s.object.SymbolReferenced()
	}
}

// References is the number of references counted.
func (s *Symbol) References() int { return s.refs }

func (s *Symbol) String() string {
	return fmt.Sprintf("%-40s %6d %08x %s/%s", s.name, s.size, s.value,
		s.Type(), s.Binding())
}

// SymbolTable maps symbol names to symbols.
type SymbolTable map[string]*Symbol

// SymbolList is an ordered collection of symbol pointers.
type SymbolList []*Symbol

// Output writes the table sorted by name.
func (t SymbolTable) Output(w io.Writer) {
	names := make([]string, 0, len(t))
	for name := range t {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, " %s\n", t[name])
	}
}

// Referenced counts the symbols in the list with at least one reference.
func (l SymbolList) Referenced() int {
	n := 0
	for _, s := range l {
		if s.References() > 0 {
			n++
		}
	}
	return n
}
