// Package disasm renders generated code for diagnostics. Call sequences
// are annotated with the runtime entry they reach.
package disasm

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/x/ansi"
	"golang.org/x/arch/arm64/arm64asm"
	"golang.org/x/arch/x86/x86asm"

	"github.com/tinyrange/jit/internal/asm"
)

type Syntax string

const (
	SyntaxGNU   Syntax = "gnu"
	SyntaxIntel Syntax = "intel"
)

// ParseSyntax accepts "gnu" and "intel". The empty string means GNU.
func ParseSyntax(s string) (Syntax, error) {
	switch Syntax(s) {
	case "", SyntaxGNU:
		return SyntaxGNU, nil
	case SyntaxIntel:
		return SyntaxIntel, nil
	default:
		return "", fmt.Errorf("disasm: unknown syntax %q (want gnu or intel)", s)
	}
}

type Options struct {
	// Syntax selects the x86-64 operand order. AArch64 always uses GNU.
	Syntax Syntax
	// Symbols names call targets by address.
	Symbols map[uintptr]string
	// Color highlights offsets and call annotations.
	Color bool
	// Width truncates lines to this many cells when positive.
	Width int
}

// Line is one decoded instruction.
type Line struct {
	Offset int
	Bytes  []byte
	Text   string
	// Call names the runtime entry when the instruction belongs to a call
	// sequence.
	Call string
}

var (
	offsetStyle = ansi.Style{}.Faint()
	callStyle   = ansi.Style{}.ForegroundColor(ansi.Cyan)
	badStyle    = ansi.Style{}.ForegroundColor(ansi.Red)
)

// Decode splits prog into instructions. Bytes that do not decode become a
// single "(bad)" line of one byte on x86-64 or four bytes on AArch64.
func Decode(arch string, prog asm.Program, opts Options) ([]Line, error) {
	code := prog.Bytes()
	sites := prog.CallSites()
	sort.Slice(sites, func(i, j int) bool { return sites[i].Start < sites[j].Start })

	callAt := func(off int) string {
		for _, site := range sites {
			if site.Contains(off) {
				if name, ok := opts.Symbols[site.Addr]; ok {
					return name
				}
				return site.Name
			}
		}
		return ""
	}

	var lines []Line
	switch arch {
	case "x86_64", "amd64":
		for off := 0; off < len(code); {
			inst, err := x86asm.Decode(code[off:], 64)
			n := inst.Len
			text := ""
			if err != nil || n == 0 {
				n, text = 1, "(bad)"
			} else if opts.Syntax == SyntaxIntel {
				text = strings.TrimSpace(x86asm.IntelSyntax(inst, uint64(off), nil))
			} else {
				text = strings.TrimSpace(x86asm.GNUSyntax(inst, uint64(off), nil))
			}
			lines = append(lines, Line{Offset: off, Bytes: code[off : off+n], Text: text, Call: callAt(off)})
			off += n
		}
	case "arm64", "aarch64":
		if len(code)%4 != 0 {
			return nil, fmt.Errorf("disasm: arm64 code length %d is not a multiple of 4", len(code))
		}
		for off := 0; off < len(code); off += 4 {
			text := "(bad)"
			if inst, err := arm64asm.Decode(code[off : off+4]); err == nil {
				// GNUSyntax pads some mnemonics with spaces.
				text = strings.TrimSpace(arm64asm.GNUSyntax(inst))
			}
			lines = append(lines, Line{Offset: off, Bytes: code[off : off+4], Text: text, Call: callAt(off)})
		}
	default:
		return nil, fmt.Errorf("disasm: unsupported architecture %q", arch)
	}
	return lines, nil
}

// Format renders lines as offset, raw bytes and instruction text.
func Format(lines []Line, opts Options) string {
	var b strings.Builder
	for _, l := range lines {
		offset := fmt.Sprintf("%6x", l.Offset)
		text := l.Text
		note := ""
		if l.Call != "" {
			note = "; " + l.Call
		}
		if opts.Color {
			offset = offsetStyle.Styled(offset)
			if text == "(bad)" {
				text = badStyle.Styled(text)
			}
			if note != "" {
				note = callStyle.Styled(note)
			}
		}
		line := fmt.Sprintf("%s  %-24s %-32s %s", offset, hex.EncodeToString(l.Bytes), text, note)
		line = strings.TrimRight(line, " ")
		if opts.Width > 0 && ansi.StringWidth(line) > opts.Width {
			line = ansi.Truncate(line, opts.Width, "…")
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}

// Text decodes and formats prog in one step.
func Text(arch string, prog asm.Program, opts Options) (string, error) {
	lines, err := Decode(arch, prog, opts)
	if err != nil {
		return "", err
	}
	return Format(lines, opts), nil
}

// Plain removes any escape sequences from rendered output.
func Plain(s string) string { return ansi.Strip(s) }
