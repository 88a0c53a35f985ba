// Package runtime describes the support library that generated code calls
// into: the catalogue of entry points with their fixed signatures, the
// table binding entry names to native addresses, and the execution context
// layout shared with generated code.
package runtime

import (
	"fmt"
	"sort"
	"strings"
)

// Kind is one parameter of an entry point.
type Kind byte

const (
	KindContext    Kind = 'c' // *ExecutionContext
	KindValue      Kind = 'v' // value.Value, by value
	KindIdentifier Kind = 's' // interned *Identifier
	KindPointer    Kind = 'p' // opaque pointer, for example a function handle
	KindInt32      Kind = 'i'
	KindArgs       Kind = 'a' // pointer to the outgoing call argument area
)

// Result is what an entry point leaves in the return register.
type Result byte

const (
	ResultValue Result = 'v'
	ResultBool  Result = 'b'
	ResultVoid  Result = '-'
)

// Signature spells the parameter kinds followed by '>' and the result,
// for example "vvc>v".
type Signature string

func (s Signature) split() (string, string) {
	params, result, _ := strings.Cut(string(s), ">")
	return params, result
}

func (s Signature) Params() []Kind {
	params, _ := s.split()
	out := make([]Kind, len(params))
	for i := range params {
		out[i] = Kind(params[i])
	}
	return out
}

func (s Signature) Result() Result {
	_, result := s.split()
	if len(result) != 1 {
		return 0
	}
	return Result(result[0])
}

func (s Signature) validate() error {
	params, result, ok := strings.Cut(string(s), ">")
	if !ok || len(result) != 1 {
		return fmt.Errorf("signature %q: want params>result", s)
	}
	for _, k := range params {
		switch Kind(k) {
		case KindContext, KindValue, KindIdentifier, KindPointer, KindInt32, KindArgs:
		default:
			return fmt.Errorf("signature %q: unknown parameter kind %q", s, k)
		}
	}
	switch Result(result[0]) {
	case ResultValue, ResultBool, ResultVoid:
	default:
		return fmt.Errorf("signature %q: unknown result %q", s, result)
	}
	return nil
}

// NewSignature builds a signature from its parts.
func NewSignature(result Result, params ...Kind) Signature {
	var b strings.Builder
	for _, k := range params {
		b.WriteByte(byte(k))
	}
	b.WriteByte('>')
	b.WriteByte(byte(result))
	return Signature(b.String())
}

type Entry struct {
	Name string
	Sig  Signature
}

const (
	sigBinary        Signature = "vvc>v"
	sigCompare       Signature = "vvc>b"
	sigUnary         Signature = "vc>v"
	sigInplaceName   Signature = "vsc>-"
	sigInplaceElem   Signature = "vvvc>-"
	sigInplaceMember Signature = "vvsc>-"
)

// InplaceOps are the operator stems of the compound assignment entries.
var InplaceOps = []string{
	"bit_and", "bit_or", "bit_xor",
	"add", "sub", "mul", "div", "mod",
	"shl", "shr", "ushr",
}

var catalogue = buildCatalogue()

func buildCatalogue() map[string]Entry {
	entries := map[string]Signature{
		"to_boolean": "vc>b",

		"get_this_object":         "c>v",
		"get_property":            "cvs>v",
		"set_property":            "cvsv>-",
		"get_element":             "cvv>v",
		"set_element":             "cvvv>-",
		"get_activation_property": "cs>v",
		"set_activation_property": "csv>-",

		"init_closure":                  "pc>v",
		"call_value":                    "cvvai>v",
		"call_property":                 "cvsai>v",
		"construct_property":            "cvsai>v",
		"call_activation_property":      "csai>v",
		"construct_activation_property": "csai>v",
		"construct_value":               "cvai>v",

		"typeof_member":  "vsc>v",
		"typeof_element": "vvc>v",
		"typeof_name":    "sc>v",
		"typeof":         "vc>v",

		"delete_member":    "cvs>v",
		"delete_subscript": "cvv>v",
		"delete_name":      "cs>v",

		"throw":                    "vc>-",
		"create_exception_handler": "c>b",
		"delete_exception_handler": "c>-",
		"get_exception":            "c>v",

		"foreach_iterator_object":    "vc>v",
		"foreach_next_property_name": "v>v",

		"push_with": "vc>-",
		"pop_with":  "c>-",

		"declare_var":          "cis>-",
		"define_getter_setter": "vsvvc>-",
		"define_property":      "vsvc>-",
	}
	for _, name := range []string{
		"bit_and", "bit_or", "bit_xor", "add", "sub", "mul", "div", "mod",
		"shl", "shr", "ushr", "gt", "lt", "ge", "le", "eq", "ne", "se", "sne",
		"instanceof", "in",
	} {
		entries[name] = sigBinary
	}
	for _, name := range []string{"gt", "lt", "ge", "le", "eq", "ne", "se", "sne", "instanceof", "in"} {
		entries["cmp_"+name] = sigCompare
	}
	for _, name := range []string{"not", "uminus", "uplus", "compl", "increment", "decrement"} {
		entries[name] = sigUnary
	}
	for _, op := range InplaceOps {
		entries["inplace_"+op+"_name"] = sigInplaceName
		entries["inplace_"+op+"_element"] = sigInplaceElem
		entries["inplace_"+op+"_member"] = sigInplaceMember
	}

	out := make(map[string]Entry, len(entries))
	for name, sig := range entries {
		if err := sig.validate(); err != nil {
			panic(fmt.Sprintf("runtime: entry %s: %v", name, err))
		}
		out[name] = Entry{Name: name, Sig: sig}
	}
	return out
}

// LookupEntry returns the catalogue entry called name.
func LookupEntry(name string) (Entry, bool) {
	e, ok := catalogue[name]
	return e, ok
}

// Catalogue returns every entry point sorted by name.
func Catalogue() []Entry {
	out := make([]Entry, 0, len(catalogue))
	for _, e := range catalogue {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
