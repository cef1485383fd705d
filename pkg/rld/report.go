package rld

import (
	"fmt"
	"io"
)

// Map writes the catalog and symbol report.
func Map(w io.Writer, cache *Cache, symbols SymbolTable) {
	fmt.Fprintf(w, "Archive files    : %d\n", cache.ArchiveCount())
	fmt.Fprintf(w, "Object files     : %d\n", cache.ObjectCount())
	fmt.Fprintf(w, "Exported symbols : %d\n", len(symbols))

	fmt.Fprintf(w, "Archives:\n")
	cache.OutputArchiveFiles(w)
	fmt.Fprintf(w, "Objects:\n")
	cache.OutputObjectFiles(w)

	fmt.Fprintf(w, "Exported symbols:\n")
	symbols.Output(w)
	fmt.Fprintf(w, "Unresolved symbols:\n")
	cache.OutputUnresolvedSymbols(w)
}

// WarnUnusedExternals lists the external symbols no reference was
// counted against.
func WarnUnusedExternals(w io.Writer, objects []*Object) {
	first := true
	for _, object := range objects {
		externals := object.ExternalSymbols()
		if externals.Referenced() == len(externals) {
			continue
		}

		if first {
			fmt.Fprintf(w, "Unreferenced externals in object files:\n")
			first = false
		}

		fmt.Fprintf(w, " %s\n", object.Name().Basename())
		for _, sym := range externals {
			if sym.References() == 0 {
				fmt.Fprintf(w, "  %s\n", sym.Name())
			}
		}
	}
}
