//go:build !(linux && (amd64 || arm64))

package asm

import (
	"fmt"
	"runtime"
)

// Func is unavailable on this host.
type Func struct{}

var _ NativeFunc = (*Func)(nil)

// Load reports that native execution is not supported on this host.
func Load(p Program) (*Func, error) {
	return nil, fmt.Errorf("native execution not supported on %s/%s", runtime.GOOS, runtime.GOARCH)
}

func (fn *Func) Call(args ...uintptr) uintptr { panic("asm.Func: native execution not supported") }
func (fn *Func) Entry() uintptr               { return 0 }
func (fn *Func) Program() Program             { return Program{} }
func (fn *Func) Release() error               { return nil }

// NativeSupported reports whether Load can map code on this host.
func NativeSupported() bool { return false }
