package testutil

import (
	"bytes"
	"debug/elf"
	"testing"
)

const llvmListing = `
/tmp/code.o:	file format elf64-littleaarch64

Disassembly of section .text:

0000000000000000 <.text>:
       0:      	str	x30, [sp, #-16]!
       4:      	mov	x0, #0x7788
       8:      	ldr	x4, [x20, #4096]
`

func TestParseNormalizesImmediates(t *testing.T) {
	lines := parse([]byte(llvmListing))
	if len(lines) != 3 {
		t.Fatalf("lines = %+v", lines)
	}
	Expect(t, lines, []Expectation{
		{Name: "push", Mnemonic: "str", Contains: []string{"x30", "[sp, #-0x10]!"}},
		{Name: "mov", Mnemonic: "mov", Contains: []string{"#0x7788"}},
		{Name: "load", Mnemonic: "ldr", Contains: []string{"[x20, #0x1000]"}},
	})
	if !lines[0].Contains("[sp, #-16]!") || !lines[1].Contains("#30600") || !lines[2].Contains("[x20, #0x1000]") {
		t.Fatalf("normalized = %q, %q, %q", lines[0].Normalized, lines[1].Normalized, lines[2].Normalized)
	}
	if lines[1].Mnemonic != "mov" {
		t.Fatalf("mnemonic = %q", lines[1].Mnemonic)
	}
}

func TestNormalizeLeavesShiftsAndATT(t *testing.T) {
	for in, want := range map[string]string{
		"movk x0, #0x5566, lsl #16": "movk x0, #21862, lsl #16",
		"mov $0x10,%eax":            "mov $0x10,%eax",
		"sub x1, x29, #0x40":        "sub x1, x29, #64",
	} {
		if got := normalizeImmediates(in); got != want {
			t.Errorf("normalizeImmediates(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestWrapELF(t *testing.T) {
	code := []byte{0xc0, 0x03, 0x5f, 0xd6}
	obj := wrapELF(code, elf.EM_AARCH64)

	f, err := elf.NewFile(bytes.NewReader(obj))
	if err != nil {
		t.Fatalf("elf.NewFile: %v", err)
	}
	defer f.Close()
	if f.Machine != elf.EM_AARCH64 || f.Type != elf.ET_REL {
		t.Fatalf("machine %v type %v", f.Machine, f.Type)
	}
	text := f.Section(".text")
	if text == nil {
		t.Fatal("no .text section")
	}
	data, err := text.Data()
	if err != nil {
		t.Fatalf("Data: %v", err)
	}
	if string(data) != string(code) {
		t.Fatalf(".text = %x, want %x", data, code)
	}
}
