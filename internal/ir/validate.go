package ir

import (
	"errors"
	"fmt"
)

// WalkExpr calls visit for e and every expression nested inside it, parents
// first.
func WalkExpr(e Expr, visit func(Expr)) {
	if e == nil {
		return
	}
	visit(e)
	switch e := e.(type) {
	case *Unop:
		WalkExpr(e.Expr, visit)
	case *Binop:
		WalkExpr(e.Left, visit)
		WalkExpr(e.Right, visit)
	case *Call:
		WalkExpr(e.Base, visit)
		for _, arg := range e.Args {
			WalkExpr(arg, visit)
		}
	case *New:
		WalkExpr(e.Base, visit)
		for _, arg := range e.Args {
			WalkExpr(arg, visit)
		}
	case *Member:
		WalkExpr(e.Base, visit)
	case *Subscript:
		WalkExpr(e.Base, visit)
		WalkExpr(e.Index, visit)
	}
}

// StmtExprs returns the top level expressions of s.
func StmtExprs(s Stmt) []Expr {
	switch s := s.(type) {
	case *Exp:
		return []Expr{s.Expr}
	case *Move:
		return []Expr{s.Target, s.Source}
	case *CJump:
		return []Expr{s.Cond}
	case *Ret:
		return []Expr{s.Expr}
	}
	return nil
}

func (f *Function) walk(visit func(Expr)) {
	for _, b := range f.Blocks {
		for _, s := range b.Statements {
			for _, e := range StmtExprs(s) {
				WalkExpr(e, visit)
			}
		}
	}
}

// CallArguments returns the longest argument list used by a call or
// constructor expression in f.
func (f *Function) CallArguments() int {
	n := 0
	f.walk(func(e Expr) {
		switch e := e.(type) {
		case *Call:
			n = max(n, len(e.Args))
		case *New:
			n = max(n, len(e.Args))
		}
	})
	return n
}

// HighestTemp returns one past the largest non-negative temp index in f.
func (f *Function) HighestTemp() int {
	n := 0
	f.walk(func(e Expr) {
		if t, ok := e.(*Temp); ok && t.Index >= n {
			n = t.Index + 1
		}
	})
	return n
}

var (
	ErrNoBlocks      = errors.New("function has no blocks")
	ErrNoTerminator  = errors.New("block does not end in jump, cjump or ret")
	ErrEarlyTerminal = errors.New("terminator before end of block")
)

// Validate checks the structural invariants the selector relies on: dense
// block indices, one terminator per block in last position, branch targets
// inside the function, temps inside the declared range and call argument
// lists that fit the reserved outgoing area.
func Validate(f *Function) error {
	if f == nil {
		return fmt.Errorf("ir: function must be non-nil")
	}
	if len(f.Blocks) == 0 {
		return fmt.Errorf("ir: function %q: %w", f.Name, ErrNoBlocks)
	}
	if f.TempCount < len(f.Locals) {
		return fmt.Errorf("ir: function %q: temp count %d below local count %d", f.Name, f.TempCount, len(f.Locals))
	}

	for i, b := range f.Blocks {
		if b == nil {
			return fmt.Errorf("ir: function %q: block %d is nil", f.Name, i)
		}
		if b.Index != i {
			return fmt.Errorf("ir: function %q: block at position %d has index %d", f.Name, i, b.Index)
		}
		if b.Terminator() == nil {
			return fmt.Errorf("ir: function %q block %d: %w", f.Name, i, ErrNoTerminator)
		}
		for j, s := range b.Statements {
			if err := f.validateStmt(s, j == len(b.Statements)-1); err != nil {
				return fmt.Errorf("ir: function %q block %d statement %d: %w", f.Name, i, j, err)
			}
		}
	}

	return nil
}

func (f *Function) validateStmt(s Stmt, last bool) error {
	switch s := s.(type) {
	case nil:
		return fmt.Errorf("nil statement")
	case *Jump:
		if !last {
			return ErrEarlyTerminal
		}
		return f.validateTarget(s.Target)
	case *CJump:
		if !last {
			return ErrEarlyTerminal
		}
		if err := f.validateTarget(s.IfTrue); err != nil {
			return err
		}
		if err := f.validateTarget(s.IfFalse); err != nil {
			return err
		}
	case *Ret:
		if !last {
			return ErrEarlyTerminal
		}
	case *Move:
		if s.Target == nil || s.Source == nil {
			return fmt.Errorf("move requires target and source")
		}
	case *Exp:
	default:
		return fmt.Errorf("unknown statement %T", s)
	}

	var err error
	for _, e := range StmtExprs(s) {
		if e == nil {
			return fmt.Errorf("%T with nil expression", s)
		}
		WalkExpr(e, func(e Expr) {
			if err != nil {
				return
			}
			err = f.validateExpr(e)
		})
	}
	return err
}

func (f *Function) validateTarget(target int) error {
	if target < 0 || target >= len(f.Blocks) {
		return fmt.Errorf("branch to block %d outside 0..%d", target, len(f.Blocks)-1)
	}
	return nil
}

func (f *Function) validateExpr(e Expr) error {
	switch e := e.(type) {
	case *Temp:
		if e.Index >= f.TempCount {
			return fmt.Errorf("temp %d outside declared count %d", e.Index, f.TempCount)
		}
	case *Call:
		if len(e.Args) > f.MaxNumberOfArguments {
			return fmt.Errorf("call with %d arguments exceeds declared maximum %d", len(e.Args), f.MaxNumberOfArguments)
		}
	case *New:
		if len(e.Args) > f.MaxNumberOfArguments {
			return fmt.Errorf("constructor with %d arguments exceeds declared maximum %d", len(e.Args), f.MaxNumberOfArguments)
		}
	case *Closure:
		if e.Function == nil {
			return fmt.Errorf("closure without function")
		}
	}
	return nil
}
