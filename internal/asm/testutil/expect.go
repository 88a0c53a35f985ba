package testutil

import (
	"fmt"
	"testing"
)

// Expectation describes the instruction at one position of the listing.
type Expectation struct {
	Name     string
	Mnemonic string
	Contains []string
}

func (e Expectation) check(l Line) error {
	if e.Mnemonic != "" && l.Mnemonic != e.Mnemonic {
		return fmt.Errorf("mnemonic %s, want %s", l.Mnemonic, e.Mnemonic)
	}
	for _, s := range e.Contains {
		if !l.Contains(s) {
			return fmt.Errorf("%q not in %q", s, l.Normalized)
		}
	}
	return nil
}

// Expect checks lines against expect in order. Trailing lines are ignored.
func Expect(t *testing.T, lines []Line, expect []Expectation) {
	t.Helper()
	if len(lines) < len(expect) {
		t.Fatalf("got %d instructions, want at least %d", len(lines), len(expect))
	}
	for i, e := range expect {
		if err := e.check(lines[i]); err != nil {
			t.Fatalf("instruction %d (%s): %v\n%s", i, e.Name, err, lines[i].Text)
		}
	}
}
