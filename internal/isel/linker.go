package isel

import (
	"sort"

	"github.com/tinyrange/jit/internal/asm"
)

type deferredCall struct {
	site asm.CallSite
	addr uintptr
}

// linker owns the label, patch and deferred call tables of one
// compilation.
type linker struct {
	labels  map[int]int
	patches map[int][]asm.Jump
	calls   []deferredCall
	linked  bool
	jumps   int
}

func newLinker() *linker {
	return &linker{
		labels:  make(map[int]int),
		patches: make(map[int][]asm.Jump),
	}
}

// registerBlock marks the start of block index at the current position.
func (s *selector) registerBlock(index int) {
	s.link.labels[index] = s.a.Len()
}

// jumpToBlock branches to target unless it is the next block in emission
// order.
func (s *selector) jumpToBlock(target int) {
	if target == s.block.Index+1 {
		return
	}
	s.addPatch(target, s.a.Jump())
}

func (s *selector) addPatch(target int, j asm.Jump) {
	s.link.patches[target] = append(s.link.patches[target], j)
}

func (s *selector) deferCall(site asm.CallSite, addr uintptr) {
	s.link.calls = append(s.link.calls, deferredCall{site: site, addr: addr})
}

// linkProgram drains the patch table, resolves every deferred call and
// returns the finished program.
func (s *selector) linkProgram() asm.Program {
	l := s.link
	if l.linked {
		Fatalf("%s: linked twice", s.fn.Name)
	}
	l.linked = true

	targets := make([]int, 0, len(l.patches))
	for target := range l.patches {
		targets = append(targets, target)
	}
	sort.Ints(targets)

	jumps := 0
	for _, target := range targets {
		pos, ok := l.labels[target]
		if !ok {
			Fatalf("%s: branch to block %d whose label was never set", s.fn.Name, target)
		}
		for _, j := range l.patches[target] {
			s.a.LinkJump(j, pos)
			jumps++
		}
	}
	for _, c := range l.calls {
		s.a.PatchCall(c.site, c.addr)
	}

	l.jumps = jumps
	prog := s.a.Finalize()
	s.logger.Debug("jumps linked", "function", s.fn.Name, "jumps", jumps, "calls", len(l.calls))
	return prog
}
