package rld

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/MrVan/gsoc2013-rtl-host/pkg/compress"
)

// mergeObjects combines the cache objects with the dependents, keeping
// input order and dropping duplicates.
func mergeObjects(dependents []*Object, cache *Cache) ([]*Object, error) {
	objects, err := cache.GetObjects()
	if err != nil {
		return nil, err
	}
	seen := make(map[*Object]bool, len(objects)+len(dependents))
	merged := make([]*Object, 0, len(objects)+len(dependents))
	for _, obj := range append(objects, dependents...) {
		if seen[obj] {
			continue
		}
		seen[obj] = true
		merged = append(merged, obj)
	}
	return merged, nil
}

// ScriptText renders the object list with each object's unresolved
// symbols as the linker script listing.
func ScriptText(ctx *Context, dependents []*Object, cache *Cache) (string, error) {
	objects, err := mergeObjects(dependents, cache)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	for _, obj := range objects {
		ctx.Infof(" o: %s\n", obj.Name().Full())
		fmt.Fprintf(&out, "o:%s\n", obj.Name().Basename())

		unresolved := obj.UnresolvedSymbols()
		names := make([]string, 0, len(unresolved))
		for name := range unresolved {
			names = append(names, name)
		}
		sort.Strings(names)

		for count, name := range names {
			ctx.Infof(" u: %d:%s\n", count+1, name)
			fmt.Fprintf(&out, " u:%d:%s\n", count+1, name)
		}
	}

	return out.String(), nil
}

// Script writes the script listing to a file with the shell tag line.
func Script(ctx *Context, name string, dependents []*Object, cache *Cache) error {
	ctx.Infof("outputter:script: %s\n", name)

	text, err := ScriptText(ctx, dependents, cache)
	if err != nil {
		return err
	}

	out := NewImagePath(name, true)
	if err := out.OpenWritable(); err != nil {
		return err
	}
	if _, err := out.Write([]byte("!# rls\n" + text)); err != nil {
		out.Close()
		return err
	}
	out.Close()
	return nil
}

// ArchiveOutput packs the cache objects and the dependents into a plain
// ar archive.
func ArchiveOutput(ctx *Context, name string, dependents []*Object, cache *Cache) error {
	ctx.Infof("outputter:archive: %s\n", name)

	objects, err := mergeObjects(dependents, cache)
	if err != nil {
		return err
	}

	arch, err := NewArchive(ctx, name)
	if err != nil {
		return err
	}
	return arch.Create(objects)
}

// RAP file header line: "RAP,<length>,<version>,<compression>,<checksum>\n".
// The length field is the header line's own length.
const (
	rapFileVersion     = 1
	rapFileCompression = "LZ77"
)

func rapFileHeader() string {
	header := ""
	for {
		next := fmt.Sprintf("RAP,%d,%d,%s,%08x\n",
			len(header), rapFileVersion, rapFileCompression, 0)
		if next == header {
			return header
		}
		header = next
	}
}

// Application writes the compressed RAP application: the file header
// line followed by the compressed stream.
func Application(ctx *Context, name string, dependents []*Object,
	cache *Cache, symbols SymbolTable) error {

	ctx.Infof("outputter:application: %s\n", name)

	objects, err := mergeObjects(dependents, cache)
	if err != nil {
		return err
	}

	app := NewImagePath(name, true)
	if err := app.OpenWritable(); err != nil {
		return err
	}

	err = func() error {
		if _, err := app.Write([]byte(rapFileHeader())); err != nil {
			return err
		}
		return WriteRap(ctx, app, ctx.Arg.Init, ctx.Arg.Fini, objects, symbols)
	}()

	app.Close()
	return err
}

// parseRapHeader picks the header line apart, returning its length and
// the compression name.
func parseRapHeader(header []byte) (int, string, error) {
	const bad = "invalid RAP file header"

	text := string(header)
	if !strings.HasPrefix(text, "RAP,") {
		return 0, "", errorAt(ErrNameInvalid, bad)
	}
	end := strings.IndexByte(text, '\n')
	if end < 0 {
		return 0, "", errorAt(ErrNameInvalid, bad)
	}

	fields := strings.Split(text[4:end], ",")
	if len(fields) != 4 {
		return 0, "", errorAt(ErrNameInvalid, bad)
	}
	if _, err := strconv.Atoi(fields[0]); err != nil {
		return 0, "", errorAt(ErrNameInvalid, bad)
	}
	if _, err := strconv.Atoi(fields[1]); err != nil {
		return 0, "", errorAt(ErrNameInvalid, bad)
	}
	compression := fields[2]
	if compression != "NONE" && compression != rapFileCompression {
		return 0, "", errorAt(ErrNameInvalid, bad)
	}
	if _, err := strconv.ParseUint(fields[3], 16, 32); err != nil {
		return 0, "", errorAt(ErrNameInvalid, bad)
	}

	return end + 1, compression, nil
}

// extension is the file name extension including the dot, or empty.
func extension(name string) string {
	base := Basename(name)
	if dot := strings.LastIndexByte(base, '.'); dot >= 0 {
		return base[dot:]
	}
	return ""
}

// Expand unpacks a RAP application into a raw "<name>.xrap" image
// holding the uncompressed stream.
func Expand(ctx *Context, path string) error {
	in := NewImagePath(path, true)
	if err := in.Open(); err != nil {
		return err
	}
	defer in.Close()

	header := make([]byte, 64)
	if _, err := in.SeekRead(0, header); err != nil {
		return err
	}
	headerLen, compression, err := parseRapHeader(header)
	if err != nil {
		return fmt.Errorf("open: %s: %w", path, err)
	}

	full := in.Name().Full()
	name := full[:len(full)-len(extension(full))] + ".xrap"

	out := NewImagePath(name, true)
	if err := out.OpenWritable(); err != nil {
		return err
	}
	defer out.Close()

	length := in.Size() - int64(headerLen)
	if compression == "NONE" {
		if err := in.Seek(int64(headerLen)); err != nil {
			return err
		}
		return copyFile(in, out, length)
	}

	_, err = compress.Expand(in, out, int64(headerLen), length)
	return err
}
