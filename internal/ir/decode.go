package ir

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// The YAML form writes every expression and statement as a mapping with a
// single key naming the variant:
//
//	functions:
//	  - name: add
//	    formals: [a, b]
//	    temps: 1
//	    blocks:
//	      - - move: {target: {temp: 0}, source: {binop: {op: add, left: {arg: 0}, right: {arg: 1}}}}
//	        - ret: {temp: 0}
//
// temps and max_args default to what the body uses.

type moduleDoc struct {
	Functions []functionDoc `yaml:"functions"`
}

type functionDoc struct {
	Name    string       `yaml:"name"`
	Formals []string     `yaml:"formals"`
	Locals  []string     `yaml:"locals"`
	Temps   int          `yaml:"temps"`
	MaxArgs int          `yaml:"max_args"`
	Blocks  [][]stmtNode `yaml:"blocks"`
}

type stmtNode struct{ Stmt }

type exprNode struct{ Expr }

// LoadModule reads and decodes a YAML module file.
func LoadModule(path string) (*Module, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading module: %w", err)
	}
	mod, err := DecodeModule(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return mod, nil
}

// DecodeModule decodes a YAML module, resolves closures by function name and
// validates every function.
func DecodeModule(data []byte) (*Module, error) {
	var doc moduleDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing module: %w", err)
	}
	if len(doc.Functions) == 0 {
		return nil, fmt.Errorf("module has no functions")
	}

	mod := &Module{}
	for _, fd := range doc.Functions {
		if fd.Name == "" {
			return nil, fmt.Errorf("function without name")
		}
		if mod.Function(fd.Name) != nil {
			return nil, fmt.Errorf("duplicate function %q", fd.Name)
		}
		fn := &Function{
			Name:    fd.Name,
			Formals: fd.Formals,
			Locals:  fd.Locals,
		}
		for i, stmts := range fd.Blocks {
			b := &BasicBlock{Index: i}
			for _, s := range stmts {
				b.Statements = append(b.Statements, s.Stmt)
			}
			fn.Blocks = append(fn.Blocks, b)
		}
		fn.TempCount = fd.Temps
		if fn.TempCount == 0 {
			fn.TempCount = max(len(fn.Locals), fn.HighestTemp())
		}
		fn.MaxNumberOfArguments = fd.MaxArgs
		if fn.MaxNumberOfArguments == 0 {
			fn.MaxNumberOfArguments = fn.CallArguments()
		}
		mod.Functions = append(mod.Functions, fn)
	}

	for _, fn := range mod.Functions {
		var err error
		fn.walk(func(e Expr) {
			c, ok := e.(*Closure)
			if !ok || err != nil {
				return
			}
			name := c.Function.Name
			target := mod.Function(name)
			if target == nil {
				err = fmt.Errorf("function %q: closure of unknown function %q", fn.Name, name)
				return
			}
			c.Function = target
			fn.addNested(target)
		})
		if err != nil {
			return nil, err
		}
	}

	for _, fn := range mod.Functions {
		if err := Validate(fn); err != nil {
			return nil, err
		}
	}
	return mod, nil
}

func (f *Function) addNested(nested *Function) {
	for _, n := range f.Nested {
		if n == nested {
			return
		}
	}
	f.Nested = append(f.Nested, nested)
}

func singleKey(n *yaml.Node, what string) (string, *yaml.Node, error) {
	if n.Kind != yaml.MappingNode || len(n.Content) != 2 {
		return "", nil, fmt.Errorf("line %d: %s must be a mapping with one key", n.Line, what)
	}
	return n.Content[0].Value, n.Content[1], nil
}

func (s *stmtNode) UnmarshalYAML(n *yaml.Node) error {
	key, body, err := singleKey(n, "statement")
	if err != nil {
		return err
	}
	switch key {
	case "exp":
		var e exprNode
		if err := body.Decode(&e); err != nil {
			return err
		}
		s.Stmt = &Exp{Expr: e.Expr}
	case "move":
		var doc struct {
			Target exprNode `yaml:"target"`
			Source exprNode `yaml:"source"`
			Op     string   `yaml:"op"`
		}
		if err := body.Decode(&doc); err != nil {
			return err
		}
		if doc.Target.Expr == nil || doc.Source.Expr == nil {
			return fmt.Errorf("line %d: move requires target and source", n.Line)
		}
		op := OpInvalid
		if doc.Op != "" {
			if op, err = ParseAluOp(doc.Op); err != nil {
				return fmt.Errorf("line %d: %w", n.Line, err)
			}
		}
		s.Stmt = &Move{Target: doc.Target.Expr, Source: doc.Source.Expr, Op: op}
	case "jump":
		var target int
		if err := body.Decode(&target); err != nil {
			return err
		}
		s.Stmt = &Jump{Target: target}
	case "cjump":
		var doc struct {
			Cond    exprNode `yaml:"cond"`
			IfTrue  *int     `yaml:"iftrue"`
			IfFalse *int     `yaml:"iffalse"`
		}
		if err := body.Decode(&doc); err != nil {
			return err
		}
		if doc.Cond.Expr == nil || doc.IfTrue == nil || doc.IfFalse == nil {
			return fmt.Errorf("line %d: cjump requires cond, iftrue and iffalse", n.Line)
		}
		s.Stmt = &CJump{Cond: doc.Cond.Expr, IfTrue: *doc.IfTrue, IfFalse: *doc.IfFalse}
	case "ret":
		var e exprNode
		if err := body.Decode(&e); err != nil {
			return err
		}
		s.Stmt = &Ret{Expr: e.Expr}
	default:
		return fmt.Errorf("line %d: unknown statement %q", n.Line, key)
	}
	return nil
}

func (e *exprNode) UnmarshalYAML(n *yaml.Node) error {
	key, body, err := singleKey(n, "expression")
	if err != nil {
		return err
	}
	switch key {
	case "temp":
		var index int
		if err := body.Decode(&index); err != nil {
			return err
		}
		e.Expr = &Temp{Index: index}
	case "arg":
		var index int
		if err := body.Decode(&index); err != nil {
			return err
		}
		if index < 0 {
			return fmt.Errorf("line %d: negative argument index %d", n.Line, index)
		}
		e.Expr = Arg(index)
	case "number":
		var v float64
		if err := body.Decode(&v); err != nil {
			return err
		}
		e.Expr = Number(v)
	case "bool":
		var b bool
		if err := body.Decode(&b); err != nil {
			return err
		}
		e.Expr = Bool(b)
	case "null":
		e.Expr = Null()
	case "undefined":
		e.Expr = Undefined()
	case "string":
		var s string
		if err := body.Decode(&s); err != nil {
			return err
		}
		e.Expr = &String{Value: s}
	case "regexp":
		var doc struct {
			Pattern string `yaml:"pattern"`
			Flags   string `yaml:"flags"`
		}
		if err := body.Decode(&doc); err != nil {
			return err
		}
		flags, err := parseRegExpFlags(doc.Flags)
		if err != nil {
			return fmt.Errorf("line %d: %w", n.Line, err)
		}
		e.Expr = &RegExp{Pattern: doc.Pattern, Flags: flags}
	case "name":
		var id string
		if err := body.Decode(&id); err != nil {
			return err
		}
		e.Expr = Ident(id)
	case "builtin":
		var id string
		if err := body.Decode(&id); err != nil {
			return err
		}
		b, err := ParseBuiltin(id)
		if err != nil {
			return fmt.Errorf("line %d: %w", n.Line, err)
		}
		e.Expr = BuiltinName(b)
	case "closure":
		var name string
		if err := body.Decode(&name); err != nil {
			return err
		}
		// Resolved against the module once every function is decoded.
		e.Expr = &Closure{Function: &Function{Name: name}}
	case "unop":
		var doc struct {
			Op   string   `yaml:"op"`
			Expr exprNode `yaml:"expr"`
		}
		if err := body.Decode(&doc); err != nil {
			return err
		}
		op, err := ParseAluOp(doc.Op)
		if err != nil {
			return fmt.Errorf("line %d: %w", n.Line, err)
		}
		if doc.Expr.Expr == nil {
			return fmt.Errorf("line %d: unop requires expr", n.Line)
		}
		e.Expr = &Unop{Op: op, Expr: doc.Expr.Expr}
	case "binop":
		var doc struct {
			Op    string   `yaml:"op"`
			Left  exprNode `yaml:"left"`
			Right exprNode `yaml:"right"`
		}
		if err := body.Decode(&doc); err != nil {
			return err
		}
		op, err := ParseAluOp(doc.Op)
		if err != nil {
			return fmt.Errorf("line %d: %w", n.Line, err)
		}
		if doc.Left.Expr == nil || doc.Right.Expr == nil {
			return fmt.Errorf("line %d: binop requires left and right", n.Line)
		}
		e.Expr = &Binop{Op: op, Left: doc.Left.Expr, Right: doc.Right.Expr}
	case "call", "new":
		var doc struct {
			Base exprNode   `yaml:"base"`
			Args []exprNode `yaml:"args"`
		}
		if err := body.Decode(&doc); err != nil {
			return err
		}
		if doc.Base.Expr == nil {
			return fmt.Errorf("line %d: %s requires base", n.Line, key)
		}
		args := make([]Expr, len(doc.Args))
		for i, a := range doc.Args {
			args[i] = a.Expr
		}
		if key == "call" {
			e.Expr = &Call{Base: doc.Base.Expr, Args: args}
		} else {
			e.Expr = &New{Base: doc.Base.Expr, Args: args}
		}
	case "member":
		var doc struct {
			Base exprNode `yaml:"base"`
			Name string   `yaml:"name"`
		}
		if err := body.Decode(&doc); err != nil {
			return err
		}
		if doc.Base.Expr == nil || doc.Name == "" {
			return fmt.Errorf("line %d: member requires base and name", n.Line)
		}
		e.Expr = &Member{Base: doc.Base.Expr, Name: doc.Name}
	case "subscript":
		var doc struct {
			Base  exprNode `yaml:"base"`
			Index exprNode `yaml:"index"`
		}
		if err := body.Decode(&doc); err != nil {
			return err
		}
		if doc.Base.Expr == nil || doc.Index.Expr == nil {
			return fmt.Errorf("line %d: subscript requires base and index", n.Line)
		}
		e.Expr = &Subscript{Base: doc.Base.Expr, Index: doc.Index.Expr}
	default:
		return fmt.Errorf("line %d: unknown expression %q", n.Line, key)
	}
	return nil
}

func parseRegExpFlags(s string) (RegExpFlags, error) {
	var flags RegExpFlags
	for _, r := range s {
		switch r {
		case 'g':
			flags |= RegExpGlobal
		case 'i':
			flags |= RegExpIgnoreCase
		case 'm':
			flags |= RegExpMultiline
		default:
			return 0, fmt.Errorf("unknown regexp flag %q", r)
		}
	}
	return flags, nil
}
