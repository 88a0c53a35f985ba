//go:build linux && (amd64 || arm64)

package asm

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
	"golang.org/x/sys/unix"
)

const maxCallArguments = 8

// Func is a Program copied into its own executable mapping.
type Func struct {
	mu    sync.Mutex
	mem   []byte
	entry uintptr
	prog  Program
}

var _ NativeFunc = (*Func)(nil)

// Load copies the program into a fresh RW mapping and flips it to RX. The
// program must already be linked: nothing is patched after the copy.
func Load(p Program) (*Func, error) {
	size := p.Len()
	if size == 0 {
		return nil, fmt.Errorf("empty code")
	}

	pageSize := unix.Getpagesize()
	allocSize := ((size + pageSize - 1) / pageSize) * pageSize

	mem, err := unix.Mmap(-1, 0, allocSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("mmap code region: %w", err)
	}

	copy(mem, p.code)

	// On arm64 the kernel performs the icache maintenance when the pages
	// become executable.
	if err := unix.Mprotect(mem, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		_ = unix.Munmap(mem)
		return nil, fmt.Errorf("mprotect code region: %w", err)
	}

	return &Func{
		mem:   mem,
		entry: uintptr(unsafe.Pointer(&mem[0])),
		prog:  p.Clone(),
	}, nil
}

// Call executes the mapped code.
func (fn *Func) Call(args ...uintptr) uintptr {
	fn.mu.Lock()
	entry := fn.entry
	fn.mu.Unlock()
	if entry == 0 {
		panic("asm.Func: call on released or zero value")
	}
	if len(args) > maxCallArguments {
		panic(fmt.Sprintf("asm.Func: at most %d arguments, got %d", maxCallArguments, len(args)))
	}
	r1, _, _ := purego.SyscallN(entry, args...)
	return r1
}

// Entry returns the entrypoint address of the mapped code.
func (fn *Func) Entry() uintptr {
	fn.mu.Lock()
	defer fn.mu.Unlock()
	return fn.entry
}

// Program returns a deep copy of the Program backing the mapping.
func (fn *Func) Program() Program {
	return fn.prog.Clone()
}

// Release unmaps the code region.
func (fn *Func) Release() error {
	fn.mu.Lock()
	defer fn.mu.Unlock()
	if fn.mem == nil {
		return nil
	}
	err := unix.Munmap(fn.mem)
	fn.mem = nil
	fn.entry = 0
	if err != nil {
		return fmt.Errorf("munmap code region: %w", err)
	}
	return nil
}

// NativeSupported reports whether Load can map code on this host.
func NativeSupported() bool { return true }
