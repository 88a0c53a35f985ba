package disasm

import (
	"strings"
	"testing"

	"github.com/charmbracelet/x/ansi"

	"github.com/tinyrange/jit/internal/asm"
)

func TestDecodeX86(t *testing.T) {
	// push rbp; mov rbp, rsp; ret
	prog := asm.NewProgram([]byte{0x55, 0x48, 0x89, 0xe5, 0xc3}, nil)
	lines, err := Decode("x86_64", prog, Options{Syntax: SyntaxIntel})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	want := []struct {
		offset int
		text   string
	}{
		{0, "push rbp"},
		{1, "mov rbp, rsp"},
		{4, "ret"},
	}
	if len(lines) != len(want) {
		t.Fatalf("decoded %d lines, want %d", len(lines), len(want))
	}
	for i, w := range want {
		if lines[i].Offset != w.offset || lines[i].Text != w.text {
			t.Errorf("line %d = %d %q, want %d %q", i, lines[i].Offset, lines[i].Text, w.offset, w.text)
		}
	}

	gnu, err := Decode("amd64", prog, Options{})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !strings.Contains(gnu[0].Text, "%rbp") {
		t.Fatalf("GNU syntax line = %q", gnu[0].Text)
	}
}

func TestDecodeARM64(t *testing.T) {
	// nop; ret
	prog := asm.NewProgram([]byte{0x1f, 0x20, 0x03, 0xd5, 0xc0, 0x03, 0x5f, 0xd6}, nil)
	lines, err := Decode("arm64", prog, Options{})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(lines) != 2 || lines[0].Text != "nop" || lines[1].Text != "ret" || lines[1].Offset != 4 {
		t.Fatalf("lines = %+v", lines)
	}

	if _, err := Decode("arm64", asm.NewProgram([]byte{1, 2, 3}, nil), Options{}); err == nil {
		t.Fatal("truncated arm64 code accepted")
	}
	if _, err := Decode("riscv64", prog, Options{}); err == nil {
		t.Fatal("unknown architecture accepted")
	}
}

func TestCallAnnotation(t *testing.T) {
	// nop; mov rax, imm64; call rax; ret
	code := []byte{
		0x90,
		0x48, 0xb8, 0, 0x10, 0, 0, 0, 0, 0, 0,
		0xff, 0xd0,
		0xc3,
	}
	site := asm.CallSite{Name: "add", Addr: 0x1000, Start: 1, Pos: 3, End: 13}
	prog := asm.NewProgram(code, []asm.CallSite{site})

	lines, err := Decode("x86_64", prog, Options{})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	calls := make([]string, len(lines))
	for i, l := range lines {
		calls[i] = l.Call
	}
	if strings.Join(calls, ",") != ",add,add," {
		t.Fatalf("call annotations = %q", calls)
	}

	lines, _ = Decode("x86_64", prog, Options{Symbols: map[uintptr]string{0x1000: "runtime_add"}})
	if lines[1].Call != "runtime_add" {
		t.Fatalf("symbol not used: %q", lines[1].Call)
	}
}

func TestDecodedTextIsTrimmed(t *testing.T) {
	tests := []struct {
		arch   string
		syntax Syntax
		code   []byte
	}{
		// nop; ret; movz x0, #1; b.ne +8
		{"arm64", SyntaxGNU, []byte{0x1f, 0x20, 0x03, 0xd5, 0xc0, 0x03, 0x5f, 0xd6, 0x20, 0x00, 0x80, 0xd2, 0x41, 0x00, 0x00, 0x54}},
		// push rbp; nop; ret
		{"x86_64", SyntaxGNU, []byte{0x55, 0x90, 0xc3}},
		{"x86_64", SyntaxIntel, []byte{0x55, 0x90, 0xc3}},
	}
	for _, tt := range tests {
		lines, err := Decode(tt.arch, asm.NewProgram(tt.code, nil), Options{Syntax: tt.syntax})
		if err != nil {
			t.Fatalf("%s: Decode: %v", tt.arch, err)
		}
		for _, l := range lines {
			if l.Text == "" || l.Text != strings.TrimSpace(l.Text) {
				t.Errorf("%s/%s: untrimmed text %q at %#x", tt.arch, tt.syntax, l.Text, l.Offset)
			}
		}
	}
}

func TestFormat(t *testing.T) {
	lines := []Line{
		{Offset: 0, Bytes: []byte{0x55}, Text: "push rbp"},
		{Offset: 0x10, Bytes: []byte{0xff, 0xd0}, Text: "call rax", Call: "add"},
	}
	out := Format(lines, Options{})
	want := "     0  55                       push rbp\n" +
		"    10  ffd0                     call rax                         ; add\n"
	if out != want {
		t.Fatalf("Format =\n%s\nwant\n%s", out, want)
	}

	colored := Format(lines, Options{Color: true})
	if colored == out || Plain(colored) != out {
		t.Fatalf("colored output does not strip back to plain:\n%q", colored)
	}
	if !strings.Contains(colored, ansi.Style{}.ForegroundColor(ansi.Cyan).Styled("; add")) {
		t.Fatalf("call annotation not highlighted:\n%q", colored)
	}

	narrow := Format(lines, Options{Width: 20})
	for _, l := range strings.Split(strings.TrimSuffix(narrow, "\n"), "\n") {
		if n := len([]rune(l)); n > 20 {
			t.Fatalf("line %q is %d cells wide", l, n)
		}
	}
}

func TestText(t *testing.T) {
	out, err := Text("x86_64", asm.NewProgram([]byte{0xc3}, nil), Options{Syntax: SyntaxIntel})
	if err != nil {
		t.Fatalf("Text: %v", err)
	}
	if !strings.HasSuffix(strings.TrimSpace(out), "ret") {
		t.Fatalf("Text = %q", out)
	}
}

func TestParseSyntax(t *testing.T) {
	for in, want := range map[string]Syntax{"": SyntaxGNU, "gnu": SyntaxGNU, "intel": SyntaxIntel} {
		got, err := ParseSyntax(in)
		if err != nil || got != want {
			t.Errorf("ParseSyntax(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	for _, bad := range []string{"att", "Intel", "masm"} {
		if _, err := ParseSyntax(bad); err == nil {
			t.Errorf("ParseSyntax(%q) succeeded", bad)
		}
	}
}
