package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/MrVan/gsoc2013-rtl-host/pkg/rld"
)

var version = "1.0.0"

func main() {
	ctx := rld.NewContext()
	remaining := parseNonpositionalArgs(ctx)

	if len(remaining) == 0 && len(ctx.Arg.Libraries) == 0 {
		fatal("no input files")
	}

	if err := link(ctx, remaining); err != nil {
		fatal(err)
	}
}

func link(ctx *rld.Context, inputs []string) error {
	cache := rld.NewCache(ctx)
	defer cache.Close()

	if err := cache.AddPaths(inputs); err != nil {
		return err
	}
	if err := cache.Open(); err != nil {
		return err
	}

	if len(ctx.Arg.Libraries) != 0 {
		libraries, err := rld.FindLibraries(ctx, ctx.Arg.Libraries, ctx.Arg.LibraryPaths)
		if err != nil {
			return err
		}
		if err := cache.AddLibraries(libraries); err != nil {
			return err
		}
	}

	symbols := make(rld.SymbolTable)
	if err := cache.LoadSymbols(symbols, false); err != nil {
		return err
	}

	if showMap {
		rld.Map(os.Stdout, cache, symbols)
	}

	// Until incremental linking lands there is no resolver pass pulling
	// extra members out of the libraries; the dependent list is empty.
	var dependents []*rld.Object

	switch ctx.Arg.Format {
	case rld.FormatScriptText:
		text, err := rld.ScriptText(ctx, dependents, cache)
		if err != nil {
			return err
		}
		fmt.Print(text)
		return nil
	case rld.FormatScript:
		return rld.Script(ctx, ctx.Arg.Output, dependents, cache)
	case rld.FormatArchive:
		return rld.ArchiveOutput(ctx, ctx.Arg.Output, dependents, cache)
	case rld.FormatApplication:
		return rld.Application(ctx, ctx.Arg.Output, dependents, cache, symbols)
	}
	return fmt.Errorf("unknown output format")
}

var showMap bool

func fatal(v any) {
	fmt.Fprintf(os.Stderr, "rtems-ld: error: %v\n", v)
	os.Exit(10)
}

func parseNonpositionalArgs(ctx *rld.Context) []string {
	dashes := func(name string) []string {
		if len(name) == 1 {
			return []string{"-" + name}
		}
		return []string{"-" + name, "--" + name}
	}

	args := os.Args[1:]
	remaining := make([]string, 0)
	var arg string

	readArg := func(name string) bool {
		for _, opt := range dashes(name) {
			if args[0] == opt {
				if len(args) == 1 {
					fatal(fmt.Sprintf("option %s: argument missing", opt))
				}
				arg = args[1]
				args = args[2:]
				return true
			}

			prefix := opt
			if len(name) > 1 {
				prefix += "="
			}

			if strings.HasPrefix(args[0], prefix) {
				arg = args[0][len(prefix):]
				args = args[1:]
				return true
			}
		}
		return false
	}

	readFlag := func(name string) bool {
		for _, opt := range dashes(name) {
			if args[0] == opt {
				args = args[1:]
				return true
			}
		}
		return false
	}

	for len(args) > 0 {
		if readFlag("help") || readFlag("h") {
			fmt.Printf("Usage: %s [options] file...\n", os.Args[0])
			fmt.Printf(" -o name      : output name (also --output)\n")
			fmt.Printf(" -O format    : output format: script-text, script, archive,\n")
			fmt.Printf("                application (also --out-format)\n")
			fmt.Printf(" -L path      : library search path (also --library-path)\n")
			fmt.Printf(" -l lib       : link library lib\n")
			fmt.Printf(" -i label     : initialisation entry point (also --init)\n")
			fmt.Printf(" -f label     : finish entry point (also --fini)\n")
			fmt.Printf(" -M           : generate map output (also --map)\n")
			fmt.Printf(" -v           : verbose, repeat to increase\n")
			fmt.Printf(" -V           : version (also --version)\n")
			os.Exit(0)
		}

		if readArg("o") || readArg("output") {
			ctx.Arg.Output = arg
		} else if readArg("O") || readArg("out-format") {
			switch arg {
			case "script-text":
				ctx.Arg.Format = rld.FormatScriptText
			case "script":
				ctx.Arg.Format = rld.FormatScript
			case "archive":
				ctx.Arg.Format = rld.FormatArchive
			case "application", "rap":
				ctx.Arg.Format = rld.FormatApplication
			default:
				fatal(fmt.Sprintf("unknown output format: %s", arg))
			}
		} else if readFlag("v") {
			ctx.Verbose++
		} else if readFlag("V") || readFlag("version") {
			fmt.Printf("rtems-ld %s\n", version)
			os.Exit(0)
		} else if readFlag("M") || readFlag("map") {
			showMap = true
		} else if readArg("L") || readArg("library-path") {
			ctx.Arg.LibraryPaths = append(ctx.Arg.LibraryPaths, arg)
		} else if readArg("l") {
			ctx.Arg.Libraries = append(ctx.Arg.Libraries, arg)
		} else if readArg("i") || readArg("init") {
			ctx.Arg.Init = arg
		} else if readArg("f") || readArg("fini") {
			ctx.Arg.Fini = arg
		} else if readArg("e") || readArg("entry") {
			ctx.Arg.Entry = arg
		} else {
			if args[0][0] == '-' {
				fatal(fmt.Sprintf("unknown command line option: %s", args[0]))
			}
			remaining = append(remaining, args[0])
			args = args[1:]
		}
	}

	for i, path := range ctx.Arg.LibraryPaths {
		ctx.Arg.LibraryPaths[i] = filepath.Clean(path)
	}

	return remaining
}
