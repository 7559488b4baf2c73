package script

import (
	"fmt"
	"strconv"

	"github.com/ib-77/sarascript/pkg/wip"
)

type Opcode uint8

const (
	// Fetch replaces the directive's source text with a remote resource.
	Fetch Opcode = iota + 1
	// RemoveMarker deletes a script block's opening or closing tag.
	RemoveMarker
)

func (o Opcode) String() string {
	switch o {
	case Fetch:
		return "fetch"
	case RemoveMarker:
		return "remove-marker"
	default:
		return "opcode(" + strconv.Itoa(int(o)) + ")"
	}
}

type ArgKind uint8

const (
	String ArgKind = iota + 1
	Number
	Symbol
)

func (k ArgKind) String() string {
	switch k {
	case String:
		return "string"
	case Number:
		return "number"
	case Symbol:
		return "symbol"
	default:
		return "arg(" + strconv.Itoa(int(k)) + ")"
	}
}

// Arg is one directive argument. Str holds String and Symbol values, Num
// holds Number values.
type Arg struct {
	Kind ArgKind
	Str  string
	Num  int64
}

func (a Arg) String() string {
	switch a.Kind {
	case String:
		return strconv.Quote(a.Str)
	case Number:
		return strconv.FormatInt(a.Num, 10)
	default:
		return a.Str
	}
}

// Text returns the argument as text; numbers are formatted in base 10.
func (a Arg) Text() string {
	if a.Kind == Number {
		return strconv.FormatInt(a.Num, 10)
	}
	return a.Str
}

// Operation is one unit of work extracted from a document. Span is in the
// coordinates of the original document and is never recomputed.
type Operation struct {
	Opcode Opcode
	Span   wip.Range
	Args   []Arg
}

func (o Operation) String() string {
	return fmt.Sprintf("%s%s%v", o.Opcode, o.Span, o.Args)
}
