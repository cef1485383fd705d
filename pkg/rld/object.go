package rld

import "fmt"

// Object is an ELF-bearing image: a standalone object file, or an
// archive member sharing the archive's descriptor. A member object keeps
// no descriptor of its own; open, close, read and seek all go through
// the owning archive, so sibling members of one archive share a single
// fd with a single reference count.
type Object struct {
	Image
	ctx     *Context
	archive *Archive

	// Cached from the ELF header between Begin and End.
	sections       int
	sectionStrings int

	unresolved SymbolTable
	externals  SymbolList
}

// NewObject wraps a standalone object path.
func NewObject(ctx *Context, path string) (*Object, error) {
	o := &Object{Image: *NewImagePath(path, true), ctx: ctx}
	if !o.Name().IsValid() {
		return nil, errorAt(ErrNameInvalid, "object: "+path)
	}
	return o, nil
}

// NewObjectInArchive wraps one archive member. The member name comes
// from the archive enumeration and is always valid.
func NewObjectInArchive(archive *Archive, name File) *Object {
	return &Object{Image: *NewImage(name), ctx: archive.ctx, archive: archive}
}

// fdHolder is the image whose descriptor backs this object.
func (o *Object) fdHolder() *Image {
	if o.archive != nil {
		return &o.archive.Image
	}
	return &o.Image
}

// Open opens the object, or takes a reference on the owning archive.
func (o *Object) Open() error {
	o.ctx.Tracef("object::open: %s\n", o.Name().Full())
	return o.fdHolder().Open()
}

// Close drops the reference taken by Open.
func (o *Object) Close() {
	o.ctx.Tracef("object::close: %s\n", o.Name().Full())
	o.fdHolder().Close()
}

// Read reads from the object's stream.
func (o *Object) Read(buffer []byte) (int, error) {
	return o.fdHolder().Read(buffer)
}

// Seek positions the object's stream; archive members are biased by the
// member offset.
func (o *Object) Seek(offset int64) error {
	if o.archive != nil {
		return o.archive.Seek(o.Name().Offset() + offset)
	}
	return o.Image.Seek(offset)
}

// References is the descriptor's reference count.
func (o *Object) References() int {
	return o.fdHolder().References()
}

// Begin opens an ELF session over the object and caches the header
// counts. Sessions do not nest.
func (o *Object) Begin() error {
	if o.Elf() != nil {
		return errorAt(ErrElfSession, "begin: already done: "+o.Name().Full())
	}
	session, err := beginSession(o.ctx, o)
	if err != nil {
		return err
	}
	o.SetElf(session)
	o.sections = session.SectionCount()
	o.sectionStrings = sectionStringsIndex(session)
	return nil
}

// End closes the ELF session. Ending without a session is a no-op.
func (o *Object) End() {
	if session := o.Elf(); session != nil {
		session.end()
		o.SetElf(nil)
	}
}

func sectionStringsIndex(s *Session) int {
	for sn := range s.file.Sections {
		if s.file.Sections[sn].Name == ".shstrtab" {
			return sn
		}
	}
	return 0
}

// Valid reports whether the object names a real object file.
func (o *Object) Valid() bool {
	return o.Name().IsValid() && o.Name().IsObject()
}

// Sections is the section header count from the cached ELF header.
func (o *Object) Sections() int { return o.sections }

// SectionStrings is the section name string table index.
func (o *Object) SectionStrings() int { return o.sectionStrings }

// LoadSymbols reads the object's symbol tables into the given table and
// the object's own unresolved and external collections. Requires an
// open ELF session.
func (o *Object) LoadSymbols(symbols SymbolTable, local bool) error {
	o.ctx.Detailsf("object:load-sym: %s\n", o.Name().Full())
	session := o.Elf()
	if session == nil {
		return errorAt(ErrElfSession, "load-symbols: no session: "+o.Name().Full())
	}
	return session.loadSymbols(symbols, local)
}

// GetString reads a NUL-terminated string from a string section.
// Requires an open ELF session.
func (o *Object) GetString(section, offset int) (string, error) {
	session := o.Elf()
	if session == nil {
		return "", errorAt(ErrElfSession, "get-string: no session: "+o.Name().Full())
	}
	return session.getString(section, offset)
}

// GetArchive is the owning archive, nil for a standalone object.
func (o *Object) GetArchive() *Archive { return o.archive }

// UnresolvedSymbols is the object's unresolved symbol table.
func (o *Object) UnresolvedSymbols() SymbolTable {
	if o.unresolved == nil {
		o.unresolved = make(SymbolTable)
	}
	return o.unresolved
}

// ExternalSymbols is the object's externally visible symbol list, in
// symbol table order.
func (o *Object) ExternalSymbols() SymbolList { return o.externals }

func (o *Object) appendExternal(sym *Symbol) {
	o.externals = append(o.externals, sym)
}

// SymbolReferenced counts a symbol reference against the object and its
// archive.
func (o *Object) SymbolReferenced() {
	o.Image.SymbolReferenced()
	if o.archive != nil {
		o.archive.SymbolReferenced()
	}
}

// roundTrip validates the object can be opened and decoded as ELF.
func (o *Object) roundTrip() error {
	if err := o.Open(); err != nil {
		return err
	}
	if err := o.Begin(); err != nil {
		o.Close()
		return err
	}
	o.End()
	o.Close()
	return nil
}

func (o *Object) String() string {
	return fmt.Sprintf("object: %s", o.Name().Full())
}
