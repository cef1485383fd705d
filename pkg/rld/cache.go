package rld

import (
	"fmt"
	"io"
	"sort"
)

// Cache is the catalog of every archive and object named by the input
// paths. It owns the images it creates: objects are torn down before
// archives, since member objects borrow their archive's descriptor.
type Cache struct {
	ctx      *Context
	paths    []string
	archives map[string]*Archive
	objects  map[string]*Object
	opened   bool
}

// NewCache builds an empty catalog.
func NewCache(ctx *Context) *Cache {
	return &Cache{
		ctx:      ctx,
		archives: make(map[string]*Archive),
		objects:  make(map[string]*Object),
	}
}

// Open classifies every added path and holds the archives open for the
// life of the cache.
func (c *Cache) Open() error {
	if c.opened {
		return nil
	}
	for _, path := range c.paths {
		if err := c.collectObjectFiles(path); err != nil {
			return err
		}
	}
	if err := c.ArchivesBegin(); err != nil {
		return err
	}
	c.opened = true
	return nil
}

// Close tears the catalog down: objects first, then archives.
func (c *Cache) Close() {
	if !c.opened {
		return
	}
	for _, name := range c.objectNames() {
		obj := c.objects[name]
		obj.End()
		obj.Close()
		obj.Image.Destroy()
	}
	for _, path := range c.archiveNames() {
		ar := c.archives[path]
		c.ArchiveEnd(path)
		ar.Destroy()
	}
	c.objects = make(map[string]*Object)
	c.archives = make(map[string]*Archive)
	c.opened = false
}

// Add appends one input path; an already-open cache classifies it at
// once.
func (c *Cache) Add(path string) error {
	c.paths = append(c.paths, path)
	return c.input(path)
}

// AddPaths appends several input paths.
func (c *Cache) AddPaths(paths []string) error {
	for _, path := range paths {
		if err := c.Add(path); err != nil {
			return err
		}
	}
	return nil
}

// AddLibraries classifies library paths without adding them to the
// ordered input list.
func (c *Cache) AddLibraries(paths []string) error {
	for _, path := range paths {
		if err := c.input(path); err != nil {
			return err
		}
	}
	return nil
}

func (c *Cache) input(path string) error {
	if !c.opened {
		return nil
	}
	if err := c.collectObjectFiles(path); err != nil {
		return err
	}
	return c.ArchiveBegin(path)
}

// collectObjectFiles classifies one path. A path with the ar identifier
// is an archive and its members are registered; anything else must be an
// existing ELF object, validated by an open/begin/end/close round trip.
func (c *Cache) collectObjectFiles(path string) error {
	ar, err := NewArchive(c.ctx, path)
	if err != nil {
		return err
	}

	if ar.IsValid() {
		c.archives[path] = ar
		if err := c.loadArchiveObjects(ar); err != nil {
			delete(c.archives, path)
			return err
		}
		return nil
	}

	obj, err := NewObject(c.ctx, path)
	if err != nil {
		return err
	}
	if !obj.Name().Exists() {
		return fmt.Errorf("file-check: '%s': %w", path, ErrNotFound)
	}
	if err := obj.roundTrip(); err != nil {
		return err
	}
	c.objects[path] = obj
	return nil
}

func (c *Cache) loadArchiveObjects(ar *Archive) error {
	if err := ar.Open(); err != nil {
		return err
	}
	if err := ar.LoadObjects(c.objects); err != nil {
		ar.Close()
		return err
	}
	ar.Close()
	return nil
}

// ArchiveBegin opens a cataloged archive so member accesses share its
// descriptor.
func (c *Cache) ArchiveBegin(path string) error {
	ar, ok := c.archives[path]
	if !ok || ar.IsOpen() {
		return nil
	}
	c.ctx.Tracef("cache:archive-begin: %s\n", path)
	return ar.Open()
}

// ArchiveEnd releases the reference held by ArchiveBegin.
func (c *Cache) ArchiveEnd(path string) {
	ar, ok := c.archives[path]
	if !ok || !ar.IsOpen() {
		return
	}
	c.ctx.Tracef("cache:archive-end: %s\n", path)
	ar.Close()
}

// ArchivesBegin opens every cataloged archive.
func (c *Cache) ArchivesBegin() error {
	for _, path := range c.archiveNames() {
		if err := c.ArchiveBegin(path); err != nil {
			return err
		}
	}
	return nil
}

// ArchivesEnd closes every cataloged archive.
func (c *Cache) ArchivesEnd() {
	for _, path := range c.archiveNames() {
		c.ArchiveEnd(path)
	}
}

// LoadSymbols loads every object's symbols into the table, round
// tripping each object's descriptor and ELF session.
func (c *Cache) LoadSymbols(symbols SymbolTable, local bool) error {
	for _, name := range c.objectNames() {
		obj := c.objects[name]
		if err := obj.Open(); err != nil {
			return err
		}
		if err := obj.Begin(); err != nil {
			obj.Close()
			return err
		}
		err := obj.LoadSymbols(symbols, local)
		obj.End()
		obj.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// GetObjects returns the objects for the input paths, in input order.
// Every path must be cataloged as an object.
func (c *Cache) GetObjects() ([]*Object, error) {
	list := make([]*Object, 0, len(c.paths))
	for _, path := range c.paths {
		obj, ok := c.objects[path]
		if !ok {
			return nil, fmt.Errorf("path not found in objects: %s: %w", path, ErrNotFound)
		}
		list = append(list, obj)
	}
	return list, nil
}

// Paths is the ordered input list, duplicates included.
func (c *Cache) Paths() []string { return c.paths }

// Archives is the archive catalog keyed by path.
func (c *Cache) Archives() map[string]*Archive { return c.archives }

// Objects is the object catalog keyed by full name.
func (c *Cache) Objects() map[string]*Object { return c.objects }

func (c *Cache) ArchiveCount() int { return len(c.archives) }
func (c *Cache) ObjectCount() int  { return len(c.objects) }
func (c *Cache) PathCount() int    { return len(c.paths) }

// GetArchiveFiles lists the archive full names.
func (c *Cache) GetArchiveFiles() []string {
	names := make([]string, 0, len(c.archives))
	for _, path := range c.archiveNames() {
		names = append(names, c.archives[path].Name().Full())
	}
	return names
}

// GetObjectFiles lists the object files.
func (c *Cache) GetObjectFiles() []File {
	files := make([]File, 0, len(c.objects))
	for _, name := range c.objectNames() {
		files = append(files, c.objects[name].Name())
	}
	return files
}

// OutputArchiveFiles writes the archive list.
func (c *Cache) OutputArchiveFiles(w io.Writer) {
	for _, path := range c.archiveNames() {
		fmt.Fprintf(w, " %s\n", c.archives[path].Name().Full())
	}
}

// OutputObjectFiles writes the object list.
func (c *Cache) OutputObjectFiles(w io.Writer) {
	for _, name := range c.objectNames() {
		fmt.Fprintf(w, " %s\n", c.objects[name].Name().Full())
	}
}

// OutputUnresolvedSymbols writes each object's unresolved symbols.
func (c *Cache) OutputUnresolvedSymbols(w io.Writer) {
	for _, name := range c.objectNames() {
		obj := c.objects[name]
		fmt.Fprintf(w, "%s:\n", obj.Name().Full())
		obj.UnresolvedSymbols().Output(w)
	}
}

// archiveNames is the sorted archive key list, for deterministic
// iteration.
func (c *Cache) archiveNames() []string {
	names := make([]string, 0, len(c.archives))
	for path := range c.archives {
		names = append(names, path)
	}
	sort.Strings(names)
	return names
}

// objectNames is the sorted object key list.
func (c *Cache) objectNames() []string {
	names := make([]string, 0, len(c.objects))
	for name := range c.objects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
