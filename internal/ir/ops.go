package ir

import "fmt"

// AluOp enumerates unary, binary and compound assignment operators.
type AluOp uint8

const (
	OpInvalid AluOp = iota

	OpIfTrue
	OpNot
	OpUMinus
	OpUPlus
	OpCompl
	OpIncrement
	OpDecrement

	OpBitAnd
	OpBitOr
	OpBitXor

	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod

	OpLShift
	OpRShift
	OpURShift

	OpGt
	OpLt
	OpGe
	OpLe
	OpEqual
	OpNotEqual
	OpStrictEqual
	OpStrictNotEqual

	OpInstanceof
	OpIn

	OpAnd
	OpOr

	LastAluOp = OpOr
)

var aluOpNames = [LastAluOp + 1]string{
	OpInvalid:        "invalid",
	OpIfTrue:         "iftrue",
	OpNot:            "not",
	OpUMinus:         "uminus",
	OpUPlus:          "uplus",
	OpCompl:          "compl",
	OpIncrement:      "increment",
	OpDecrement:      "decrement",
	OpBitAnd:         "bitand",
	OpBitOr:          "bitor",
	OpBitXor:         "bitxor",
	OpAdd:            "add",
	OpSub:            "sub",
	OpMul:            "mul",
	OpDiv:            "div",
	OpMod:            "mod",
	OpLShift:         "lshift",
	OpRShift:         "rshift",
	OpURShift:        "urshift",
	OpGt:             "gt",
	OpLt:             "lt",
	OpGe:             "ge",
	OpLe:             "le",
	OpEqual:          "eq",
	OpNotEqual:       "ne",
	OpStrictEqual:    "seq",
	OpStrictNotEqual: "sne",
	OpInstanceof:     "instanceof",
	OpIn:             "in",
	OpAnd:            "and",
	OpOr:             "or",
}

var aluOpSymbols = [LastAluOp + 1]string{
	OpIfTrue:         "(bool)",
	OpNot:            "!",
	OpUMinus:         "-",
	OpUPlus:          "+",
	OpCompl:          "~",
	OpIncrement:      "++",
	OpDecrement:      "--",
	OpBitAnd:         "&",
	OpBitOr:          "|",
	OpBitXor:         "^",
	OpAdd:            "+",
	OpSub:            "-",
	OpMul:            "*",
	OpDiv:            "/",
	OpMod:            "%",
	OpLShift:         "<<",
	OpRShift:         ">>",
	OpURShift:        ">>>",
	OpGt:             ">",
	OpLt:             "<",
	OpGe:             ">=",
	OpLe:             "<=",
	OpEqual:          "==",
	OpNotEqual:       "!=",
	OpStrictEqual:    "===",
	OpStrictNotEqual: "!==",
	OpInstanceof:     "instanceof",
	OpIn:             "in",
	OpAnd:            "&&",
	OpOr:             "||",
}

func (op AluOp) String() string {
	if op <= LastAluOp {
		return aluOpNames[op]
	}
	return fmt.Sprintf("AluOp(%d)", uint8(op))
}

// Symbol returns the source level spelling of op.
func (op AluOp) Symbol() string {
	if op <= LastAluOp && aluOpSymbols[op] != "" {
		return aluOpSymbols[op]
	}
	return op.String()
}

// IsUnary reports whether op takes a single operand.
func (op AluOp) IsUnary() bool { return op >= OpIfTrue && op <= OpDecrement }

// IsRelational reports whether op produces a boolean from two operands.
func (op AluOp) IsRelational() bool { return op >= OpGt && op <= OpIn }

func ParseAluOp(s string) (AluOp, error) {
	for op, name := range aluOpNames {
		if name == s {
			return AluOp(op), nil
		}
	}
	return OpInvalid, fmt.Errorf("ir: unknown operator %q", s)
}

// Builtin identifies a runtime operation reached through a call to a
// reserved name.
type Builtin uint8

const (
	BuiltinInvalid Builtin = iota
	BuiltinTypeof
	BuiltinDelete
	BuiltinThrow
	BuiltinCreateExceptionHandler
	BuiltinDeleteExceptionHandler
	BuiltinGetException
	BuiltinForeachIteratorObject
	BuiltinForeachNextPropertyName
	BuiltinPushWith
	BuiltinPopWith
	BuiltinDeclareVars
	BuiltinDefineGetterSetter
	BuiltinDefineProperty

	lastBuiltin = BuiltinDefineProperty
)

var builtinNames = [lastBuiltin + 1]string{
	BuiltinInvalid:                 "invalid",
	BuiltinTypeof:                  "typeof",
	BuiltinDelete:                  "delete",
	BuiltinThrow:                   "throw",
	BuiltinCreateExceptionHandler:  "create_exception_handler",
	BuiltinDeleteExceptionHandler:  "delete_exception_handler",
	BuiltinGetException:            "get_exception",
	BuiltinForeachIteratorObject:   "foreach_iterator_object",
	BuiltinForeachNextPropertyName: "foreach_next_property_name",
	BuiltinPushWith:                "push_with",
	BuiltinPopWith:                 "pop_with",
	BuiltinDeclareVars:             "declare_vars",
	BuiltinDefineGetterSetter:      "define_getter_setter",
	BuiltinDefineProperty:          "define_property",
}

func (b Builtin) String() string {
	if b <= lastBuiltin {
		return builtinNames[b]
	}
	return fmt.Sprintf("Builtin(%d)", uint8(b))
}

func ParseBuiltin(s string) (Builtin, error) {
	for b, name := range builtinNames {
		if name == s {
			return Builtin(b), nil
		}
	}
	return BuiltinInvalid, fmt.Errorf("ir: unknown builtin %q", s)
}
