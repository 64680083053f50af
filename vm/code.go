package vm

// Location maps an instruction offset to the source position it came from.
type Location struct {
	IP int
	At Position
}

// Code is a compiled unit: a lambda body, a macro body, or a top-level
// sequence of forms. Instruction and location storage live off-heap in Go
// slices; the accounting size is fixed.
type Code struct {
	// Outer is the lexically enclosing Code, or Nil for a top-level unit.
	Outer Value
	// Module is the owning Module of a top-level unit, Nil for nested ones.
	Module  Value
	Imports []Value
	// Locals holds the symbol naming each scope slot.
	Locals    []Value
	Bindings  map[Value]Value
	Arguments int
	Rest      bool

	Instructions []int
	Literals     []Value
	Locations    []Location
	// Stack is the operand stack reservation, counted from the frame base.
	Stack int

	self Value
}

const codeSize = 8 * wordSize

func newCode(outer, module Value) *Code {
	return &Code{
		Outer:    outer,
		Module:   module,
		Bindings: make(map[Value]Value),
	}
}

func (c *Code) Size() int { return codeSize }

func (c *Code) Scan(col *Collector) {
	if self := col.Self(); self != Nil {
		c.self = self
	}
	c.Outer = col.Forward(c.Outer)
	c.Module = col.Forward(c.Module)
	col.ForwardAll(c.Imports)
	col.ForwardAll(c.Locals)
	col.ForwardAll(c.Literals)
	bindings := make(map[Value]Value, len(c.Bindings))
	for k, v := range c.Bindings {
		bindings[col.Forward(k)] = col.Forward(v)
	}
	c.Bindings = bindings
}

// Self returns the Code's current handle.
func (c *Code) Self() Value {
	return c.self
}

// locationBefore returns the position of the last located instruction that
// starts before ip. Saved frame IPs point past the call instruction, so this
// finds the call site.
func (c *Code) locationBefore(ip int) (Position, bool) {
	for i := len(c.Locations) - 1; i >= 0; i-- {
		if c.Locations[i].IP < ip {
			return c.Locations[i].At, true
		}
	}
	return Position{}, false
}

// allocCode places a new Code on the heap and records its handle.
func (e *Engine) allocCode(outer, module Value) (*Code, Value) {
	c := newCode(outer, module)
	v := e.heap.New(c)
	c.self = v
	return c, v
}

// CodeOf returns the Code behind a handle.
func (e *Engine) CodeOf(v Value) (*Code, bool) {
	c, ok := e.object(v).(*Code)
	return c, ok
}
