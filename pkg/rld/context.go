package rld

import (
	"debug/elf"
	"fmt"
)

// Verbosity levels. Each level includes the ones below it.
const (
	VerboseInfo = iota + 1
	VerboseDetails
	VerboseTrace
	VerboseFullDebug
)

// OutputFormat selects what the outputter emits.
type OutputFormat int

const (
	FormatScriptText OutputFormat = iota
	FormatScript
	FormatArchive
	FormatApplication
)

// ContextArg holds the user-supplied settings for a link run.
type ContextArg struct {
	Output       string
	Format       OutputFormat
	Entry        string
	Init         string
	Fini         string
	LibraryPaths []string
	Libraries    []string
}

// Context carries the run settings and the object-file registry. It
// replaces the globals of the original tool so concurrent runs in one
// process do not interfere.
type Context struct {
	Arg     ContextArg
	Verbose int

	// First-object ELF settings. All inputs must match; mixing classes,
	// data encodings or machines is an error.
	ObjectClass   elf.Class
	ObjectData    elf.Data
	ObjectMachine elf.Machine
}

// NewContext returns a context with the original's defaults.
func NewContext() *Context {
	return &Context{
		Arg: ContextArg{
			Output: "a.out",
			Format: FormatApplication,
			Init:   "rtems",
			Fini:   "rtems",
		},
		ObjectClass:   elf.ELFCLASSNONE,
		ObjectData:    elf.ELFDATANONE,
		ObjectMachine: elf.EM_NONE,
	}
}

func (ctx *Context) Infof(format string, args ...any) {
	if ctx.Verbose >= VerboseInfo {
		fmt.Printf(format, args...)
	}
}

func (ctx *Context) Detailsf(format string, args ...any) {
	if ctx.Verbose >= VerboseDetails {
		fmt.Printf(format, args...)
	}
}

func (ctx *Context) Tracef(format string, args ...any) {
	if ctx.Verbose >= VerboseTrace {
		fmt.Printf(format, args...)
	}
}

func (ctx *Context) Debugf(format string, args ...any) {
	if ctx.Verbose >= VerboseFullDebug {
		fmt.Printf(format, args...)
	}
}
