package asm

// NativeFunc represents a linked program mapped into executable memory.
type NativeFunc interface {
	// Call executes the code with integer or pointer arguments passed in the
	// host calling convention (System V AMD64 ABI for x86-64, AAPCS64 for
	// ARM64) and returns the value left in the first return register.
	Call(args ...uintptr) uintptr

	// Entry returns the entrypoint address of the mapped code.
	Entry() uintptr

	// Program returns a deep copy of the Program backing the mapping.
	Program() Program

	// Release unmaps the code. The function must not be called afterwards.
	Release() error
}
