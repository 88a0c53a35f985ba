// Package testutil checks encoder output against an external disassembler.
// Programs are wrapped in a relocatable ELF object with a single .text
// section so GNU objdump and llvm-objdump both accept them.
package testutil

import (
	"bufio"
	"bytes"
	"debug/elf"
	"encoding/binary"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"testing"

	"github.com/tinyrange/jit/internal/asm"
)

// Line is one decoded instruction.
type Line struct {
	Text     string
	Mnemonic string
	// Normalized is Text with whitespace collapsed to single spaces and
	// "#" immediates in decimal.
	Normalized string
}

// Contains matches substr against Normalized. Hex immediates in substr are
// rewritten the same way as the listing.
func (l Line) Contains(substr string) bool {
	return strings.Contains(l.Normalized, normalizeImmediates(substr))
}

var hexImmediate = regexp.MustCompile(`#(-?)0x([0-9a-fA-F]+)`)

// normalizeImmediates prints "#imm" operands in decimal. Disassembler
// versions disagree on the radix of AArch64 offsets.
func normalizeImmediates(s string) string {
	return hexImmediate.ReplaceAllStringFunc(s, func(m string) string {
		sub := hexImmediate.FindStringSubmatch(m)
		n, err := strconv.ParseUint(sub[2], 16, 64)
		if err != nil {
			return m
		}
		return "#" + sub[1] + strconv.FormatUint(n, 10)
	})
}

// Tool names a disassembler and the flags it needs for one architecture.
type Tool struct {
	Name    string
	Machine elf.Machine
	Args    []string
}

// GNUObjdump uses AT&T syntax for x86-64.
func GNUObjdump(machine elf.Machine) Tool {
	args := []string{"-d", "--no-show-raw-insn"}
	if machine == elf.EM_X86_64 {
		args = append(args, "-M", "att")
	}
	return Tool{Name: "objdump", Machine: machine, Args: args}
}

func LLVMObjdump(machine elf.Machine) Tool {
	return Tool{Name: "llvm-objdump", Machine: machine, Args: []string{"-d", "--no-show-raw-insn"}}
}

// Disassemble runs tool over prog. The test is skipped when the tool is
// not installed.
func Disassemble(t *testing.T, tool Tool, prog asm.Program) []Line {
	t.Helper()

	path, err := exec.LookPath(tool.Name)
	if err != nil {
		t.Skipf("%s not found: %v", tool.Name, err)
	}

	object := filepath.Join(t.TempDir(), "code.o")
	if err := os.WriteFile(object, wrapELF(prog.Bytes(), tool.Machine), 0o644); err != nil {
		t.Fatalf("write object: %v", err)
	}

	out, err := exec.Command(path, append(tool.Args, object)...).CombinedOutput()
	if err != nil {
		t.Fatalf("%s: %v\n\n%s", tool.Name, err, out)
	}

	lines := parse(out)
	if len(lines) == 0 {
		t.Fatalf("%s decoded no instructions:\n%s", tool.Name, out)
	}
	return lines
}

const (
	ehdrSize  = 64
	shdrSize  = 64
	textAlign = 16
)

// wrapELF builds a relocatable object holding code: the null section,
// .text and .shstrtab, with section headers after the data.
func wrapELF(code []byte, machine elf.Machine) []byte {
	names := []byte("\x00.text\x00.shstrtab\x00")
	textOff := uint64(ehdrSize)
	namesOff := alignUp(textOff+uint64(len(code)), 8)
	shOff := alignUp(namesOff+uint64(len(names)), 8)

	var buf bytes.Buffer
	hdr := elf.Header64{
		Type:      uint16(elf.ET_REL),
		Machine:   uint16(machine),
		Version:   uint32(elf.EV_CURRENT),
		Shoff:     shOff,
		Ehsize:    ehdrSize,
		Shentsize: shdrSize,
		Shnum:     3,
		Shstrndx:  2,
	}
	copy(hdr.Ident[:], elf.ELFMAG)
	hdr.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	hdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	binary.Write(&buf, binary.LittleEndian, &hdr)

	buf.Write(code)
	pad(&buf, namesOff)
	buf.Write(names)
	pad(&buf, shOff)

	sections := []elf.Section64{
		{},
		{
			Name:      1,
			Type:      uint32(elf.SHT_PROGBITS),
			Flags:     uint64(elf.SHF_ALLOC | elf.SHF_EXECINSTR),
			Off:       textOff,
			Size:      uint64(len(code)),
			Addralign: textAlign,
		},
		{
			Name:      uint32(len("\x00.text\x00")),
			Type:      uint32(elf.SHT_STRTAB),
			Off:       namesOff,
			Size:      uint64(len(names)),
			Addralign: 1,
		},
	}
	binary.Write(&buf, binary.LittleEndian, sections)
	return buf.Bytes()
}

func pad(buf *bytes.Buffer, off uint64) {
	for uint64(buf.Len()) < off {
		buf.WriteByte(0)
	}
}

func alignUp(n, alignment uint64) uint64 {
	return (n + alignment - 1) &^ (alignment - 1)
}

// parse keeps lines of the form "  offset:\tmnemonic operands".
func parse(out []byte) []Line {
	var lines []Line
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		addr, text, ok := strings.Cut(sc.Text(), ":")
		if !ok || !isHex(strings.TrimSpace(addr)) {
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" || strings.HasPrefix(text, "<") || strings.HasPrefix(text, ".") || strings.HasPrefix(text, "file format") {
			continue
		}
		fields := strings.Fields(text)
		lines = append(lines, Line{
			Text:       text,
			Mnemonic:   strings.ToLower(fields[0]),
			Normalized: normalizeImmediates(strings.Join(fields, " ")),
		})
	}
	return lines
}

func isHex(s string) bool {
	for _, r := range s {
		if !strings.ContainsRune("0123456789abcdefABCDEF", r) {
			return false
		}
	}
	return s != ""
}
