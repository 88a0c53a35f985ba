// Package ir holds the basic block form that the instruction selector
// consumes. Statements and expressions are closed sets: every variant is
// declared here and carries an unexported marker method.
package ir

// Module groups the functions decoded from one source.
type Module struct {
	Functions []*Function
}

// Function returns the function called name, or nil.
func (m *Module) Function(name string) *Function {
	for _, fn := range m.Functions {
		if fn.Name == name {
			return fn
		}
	}
	return nil
}

type Function struct {
	Name string

	// Locals names the temps 0..len(Locals)-1 that live in the execution
	// context. Formals are reached through negative temp indices.
	Locals  []string
	Formals []string

	// TempCount counts every temp index in use, locals included.
	TempCount int

	// MaxNumberOfArguments is the largest argument list of any call in the
	// body. The frame reserves that many outgoing argument slots.
	MaxNumberOfArguments int

	Blocks []*BasicBlock

	// Nested lists functions instantiated by Closure expressions.
	Nested []*Function
}

type BasicBlock struct {
	Index      int
	Statements []Stmt
}

// Terminator returns the block's last statement when it ends control flow.
func (b *BasicBlock) Terminator() Stmt {
	if len(b.Statements) == 0 {
		return nil
	}
	switch s := b.Statements[len(b.Statements)-1].(type) {
	case *Jump, *CJump, *Ret:
		return s
	}
	return nil
}

type Stmt interface {
	stmt()
}

type Expr interface {
	expr()
}

// Exp evaluates an expression for its side effects.
type Exp struct {
	Expr Expr
}

// Move stores Source into Target. A non-invalid Op turns it into a
// compound assignment: Target = Target Op Source.
type Move struct {
	Target Expr
	Source Expr
	Op     AluOp
}

type Jump struct {
	Target int
}

type CJump struct {
	Cond    Expr
	IfTrue  int
	IfFalse int
}

type Ret struct {
	Expr Expr
}

func (*Exp) stmt()   {}
func (*Move) stmt()  {}
func (*Jump) stmt()  {}
func (*CJump) stmt() {}
func (*Ret) stmt()   {}

// ConstType is the static type of a constant.
type ConstType uint8

const (
	UndefinedType ConstType = iota
	NullType
	BoolType
	NumberType
)

func (t ConstType) String() string {
	switch t {
	case UndefinedType:
		return "undefined"
	case NullType:
		return "null"
	case BoolType:
		return "bool"
	case NumberType:
		return "number"
	default:
		return "invalid"
	}
}

// Const is a primitive literal. Booleans use 0 and 1.
type Const struct {
	Type  ConstType
	Value float64
}

type String struct {
	Value string
}

// RegExpFlags mirror the literal's trailing flag letters.
type RegExpFlags uint8

const (
	RegExpGlobal RegExpFlags = 1 << iota
	RegExpIgnoreCase
	RegExpMultiline
)

func (f RegExpFlags) String() string {
	var out []byte
	if f&RegExpGlobal != 0 {
		out = append(out, 'g')
	}
	if f&RegExpIgnoreCase != 0 {
		out = append(out, 'i')
	}
	if f&RegExpMultiline != 0 {
		out = append(out, 'm')
	}
	return string(out)
}

type RegExp struct {
	Pattern string
	Flags   RegExpFlags
}

// Name is an identifier resolved through the scope chain, or one of the
// reserved builtin names when Builtin is set.
type Name struct {
	ID      string
	Builtin Builtin
}

// Temp is a value slot. Negative indices are formals (-1 is the first),
// indices below the function's local count are locals, and the rest live
// on the native stack.
type Temp struct {
	Index int
}

type Closure struct {
	Function *Function
}

type Unop struct {
	Op   AluOp
	Expr Expr
}

type Binop struct {
	Op    AluOp
	Left  Expr
	Right Expr
}

type Call struct {
	Base Expr
	Args []Expr
}

type New struct {
	Base Expr
	Args []Expr
}

type Member struct {
	Base Expr
	Name string
}

type Subscript struct {
	Base  Expr
	Index Expr
}

func (*Const) expr()     {}
func (*String) expr()    {}
func (*RegExp) expr()    {}
func (*Name) expr()      {}
func (*Temp) expr()      {}
func (*Closure) expr()   {}
func (*Unop) expr()      {}
func (*Binop) expr()     {}
func (*Call) expr()      {}
func (*New) expr()       {}
func (*Member) expr()    {}
func (*Subscript) expr() {}

// Constructors used by builders and tests.

func Number(v float64) *Const { return &Const{Type: NumberType, Value: v} }

func Bool(b bool) *Const {
	if b {
		return &Const{Type: BoolType, Value: 1}
	}
	return &Const{Type: BoolType, Value: 0}
}

func Undefined() *Const { return &Const{Type: UndefinedType} }
func Null() *Const      { return &Const{Type: NullType} }

func T(index int) *Temp { return &Temp{Index: index} }

// Arg returns the temp for formal i.
func Arg(i int) *Temp { return &Temp{Index: -i - 1} }

func Ident(id string) *Name { return &Name{ID: id} }

func BuiltinName(b Builtin) *Name { return &Name{ID: b.String(), Builtin: b} }
