// Package codec encodes compiled code as CBOR listings for inspection by
// tools. A listing is a flat, self-contained description of a top-level
// unit and every Code nested in it.
package codec

import (
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"

	"github.com/lilis-lang/lilis/vm"
)

// Version is the listing format version.
const Version = 1

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("codec: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Listing describes a compiled top-level unit.
type Listing struct {
	Version int    `cbor:"1,keyasint"`
	Path    string `cbor:"2,keyasint,omitempty"` // source file of the unit
	Units   []Unit `cbor:"3,keyasint"`           // Units[0] is the top level
}

// Unit is one Code. Nested Codes are referenced by index from the literal
// table of the unit that creates them.
type Unit struct {
	Outer        int           `cbor:"1,keyasint"` // index of the enclosing unit, -1 at top level
	Arguments    int           `cbor:"2,keyasint"`
	Rest         bool          `cbor:"3,keyasint"`
	Locals       []string      `cbor:"4,keyasint,omitempty"`
	Stack        int           `cbor:"5,keyasint"`
	Instructions []Instruction `cbor:"6,keyasint"`
	Literals     []Literal     `cbor:"7,keyasint,omitempty"`
	Locations    []Location    `cbor:"8,keyasint,omitempty"`
}

// Instruction is one decoded instruction.
type Instruction struct {
	Offset   int    `cbor:"1,keyasint"`
	Op       string `cbor:"2,keyasint"`
	Operands []int  `cbor:"3,keyasint,omitempty"`
}

// Literal is a printed literal. Code literals carry the index of their unit
// instead.
type Literal struct {
	Text string `cbor:"1,keyasint"`
	Unit int    `cbor:"2,keyasint,omitempty"` // 1-based unit index for Code literals
}

// Location maps an instruction offset to a source position.
type Location struct {
	IP     int    `cbor:"1,keyasint"`
	Path   string `cbor:"2,keyasint,omitempty"`
	Line   int    `cbor:"3,keyasint"`
	Column int    `cbor:"4,keyasint"`
}

// Build describes the Code behind code and every Code reachable through its
// literals. It does not allocate on the engine's heap.
func Build(e *vm.Engine, code vm.Value) (*Listing, error) {
	top, ok := e.CodeOf(code)
	if !ok {
		return nil, fmt.Errorf("codec: not a code object: %s", e.Format(code))
	}
	l := &Listing{Version: Version}
	if len(top.Locations) > 0 {
		l.Path = top.Locations[0].At.Path
	}

	index := map[*vm.Code]int{top: 0}
	queue := []*vm.Code{top}
	outers := []int{-1}
	for i := 0; i < len(queue); i++ {
		c := queue[i]
		u := Unit{
			Outer:     outers[i],
			Arguments: c.Arguments,
			Rest:      c.Rest,
			Stack:     c.Stack,
		}
		for _, sym := range c.Locals {
			name, _ := e.SymbolName(sym)
			u.Locals = append(u.Locals, name)
		}
		for _, in := range c.Decode() {
			u.Instructions = append(u.Instructions, Instruction{
				Offset:   in.Offset,
				Op:       in.Op.String(),
				Operands: append([]int(nil), in.Operands...),
			})
		}
		for _, lit := range c.Literals {
			nested, ok := e.CodeOf(lit)
			if !ok {
				u.Literals = append(u.Literals, Literal{Text: e.Format(lit)})
				continue
			}
			j, seen := index[nested]
			if !seen {
				j = len(queue)
				index[nested] = j
				queue = append(queue, nested)
				outers = append(outers, i)
			}
			u.Literals = append(u.Literals, Literal{Text: e.Format(lit), Unit: j + 1})
		}
		for _, loc := range c.Locations {
			u.Locations = append(u.Locations, Location{
				IP:     loc.IP,
				Path:   loc.At.Path,
				Line:   loc.At.Line,
				Column: loc.At.Column,
			})
		}
		l.Units = append(l.Units, u)
	}
	return l, nil
}

// EncodeCode builds the listing of code and serializes it to canonical CBOR.
func EncodeCode(e *vm.Engine, code vm.Value) ([]byte, error) {
	l, err := Build(e, code)
	if err != nil {
		return nil, err
	}
	return Marshal(l)
}

// Marshal serializes a Listing to canonical CBOR bytes.
func Marshal(l *Listing) ([]byte, error) {
	return cborEncMode.Marshal(l)
}

// Decode deserializes a Listing from CBOR bytes.
func Decode(data []byte) (*Listing, error) {
	var l Listing
	if err := cbor.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("codec: unmarshal listing: %w", err)
	}
	if l.Version != Version {
		return nil, fmt.Errorf("codec: unsupported listing version %d", l.Version)
	}
	return &l, nil
}

// Write prints a human-readable form of the listing.
func (l *Listing) Write(w io.Writer) {
	for i, u := range l.Units {
		fmt.Fprintf(w, "unit %d", i)
		if u.Outer >= 0 {
			fmt.Fprintf(w, " (in unit %d)", u.Outer)
		}
		fmt.Fprintf(w, ": arguments %d, rest %v, stack %d\n", u.Arguments, u.Rest, u.Stack)
		if len(u.Locals) > 0 {
			fmt.Fprintf(w, "  locals: %v\n", u.Locals)
		}
		for _, in := range u.Instructions {
			fmt.Fprintf(w, "  %04d  %-24s", in.Offset, in.Op)
			for _, operand := range in.Operands {
				fmt.Fprintf(w, " %d", operand)
			}
			if (in.Op == vm.OpPush.String() || isLambda(in.Op)) && len(in.Operands) == 1 && in.Operands[0] < len(u.Literals) {
				lit := u.Literals[in.Operands[0]]
				if lit.Unit > 0 {
					fmt.Fprintf(w, "  ; unit %d", lit.Unit-1)
				} else {
					fmt.Fprintf(w, "  ; %s", lit.Text)
				}
			}
			fmt.Fprintln(w)
		}
	}
}

func isLambda(op string) bool {
	return op == vm.OpLambda.String() || op == vm.OpLambdaWithRest.String()
}
