//go:build linux && (amd64 || arm64)

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/tinyrange/jit/internal/ir"
	"github.com/tinyrange/jit/internal/isel"
	"github.com/tinyrange/jit/internal/runtime/host"
	"github.com/tinyrange/jit/internal/value"
)

func TestRunExamples(t *testing.T) {
	rt, table, err := host.Default()
	if err != nil {
		t.Fatalf("host.Default: %v", err)
	}
	var printed bytes.Buffer
	rt.SetOutput(&printed)
	defer rt.SetOutput(os.Stdout)

	tests := []struct {
		file   string
		policy value.Policy
		want   string
	}{
		// 6*7 overflows into a double after adding MaxInt32; scale brings
		// it back and flips the low bit.
		{"arith.yaml", value.FitsInRegister, "43\nmain() = 43\n"},
		{"arith.yaml", value.ViaDouble, "43\nmain() = 43\n"},
		{"loop.yaml", value.FitsInRegister, "45\nmain() = 45\n"},
		{"loop.yaml", value.ViaDouble, "45\nmain() = 45\n"},
	}
	for _, tt := range tests {
		t.Run(tt.file+"/"+tt.policy.String(), func(t *testing.T) {
			printed.Reset()
			mod, err := ir.LoadModule(filepath.Join("..", "..", "examples", tt.file))
			if err != nil {
				t.Fatalf("LoadModule: %v", err)
			}
			compiled, err := isel.CompileModule(mod, isel.Options{
				Arch:    isel.ArchitectureNative,
				Policy:  tt.policy,
				Runtime: table,
				Engine:  rt.Heap(),
				Load:    true,
			})
			if err != nil {
				t.Fatalf("CompileModule: %v", err)
			}
			defer compiled.Release()

			if err := runFunction(&printed, rt, mod, compiled, "main"); err != nil {
				t.Fatalf("runFunction: %v\noutput: %q", err, printed.String())
			}
			if printed.String() != tt.want {
				t.Fatalf("output = %q, want %q", printed.String(), tt.want)
			}
		})
	}
}

func TestRunUnknownFunction(t *testing.T) {
	mod := &ir.Module{}
	if err := runFunction(&bytes.Buffer{}, nil, mod, nil, "missing"); err == nil {
		t.Fatal("running a missing function succeeded")
	}
}
