package rld

import (
	"debug/elf"
	"fmt"
)

// machineNames maps ELF machine types to RTEMS target names.
var machineNames = map[elf.Machine]string{
	elf.EM_ARM:      "arm",
	elf.EM_AVR:      "avr",
	elf.EM_BLACKFIN: "bfin",
	elf.EM_H8_300:   "h8300",
	elf.EM_386:      "i386",
	elf.EM_M32R:     "m32r",
	elf.EM_68K:      "m68k",
	elf.EM_COLDFIRE: "m68k",
	elf.EM_MIPS:     "mips",
	elf.EM_PPC:      "powerpc",
	elf.EM_SH:       "sh",
	elf.EM_SPARC:    "sparc",
}

// MachineName is the RTEMS target name for the recorded object machine
// type.
func (ctx *Context) MachineName() (string, error) {
	if name, ok := machineNames[ctx.ObjectMachine]; ok {
		return name, nil
	}
	return "", fmt.Errorf("machine-type: unknown machine type: %d", ctx.ObjectMachine)
}
