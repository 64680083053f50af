package vm

// ---------------------------------------------------------------------------
// Data objects
// ---------------------------------------------------------------------------

// Pair is a cons cell. Pairs built by the reader carry the source position
// of their head element.
type Pair struct {
	Head Value
	Tail Value
	At   *Position
}

func (p *Pair) Size() int {
	if p.At != nil {
		return 4 * wordSize
	}
	return 3 * wordSize
}

func (p *Pair) Scan(c *Collector) {
	p.Head = c.Forward(p.Head)
	p.Tail = c.Forward(p.Tail)
}

// String is an immutable string literal.
type String struct {
	Text string
}

func (s *String) Size() int { return 2*wordSize + len(s.Text) }

func (s *String) Scan(c *Collector) {}

// QuoteKind distinguishes the four reader prefixes.
type QuoteKind int

const (
	KindQuote           QuoteKind = iota // 'x
	KindQuasiquote                       // `x
	KindUnquote                          // ,x
	KindUnquoteSplicing                  // ,@x
)

var quotePrefix = [...]string{"'", "`", ",", ",@"}

// Quote wraps the expression following a quote-like prefix.
type Quote struct {
	Kind  QuoteKind
	Value Value
}

func (q *Quote) Size() int { return 2 * wordSize }

func (q *Quote) Scan(c *Collector) {
	q.Value = c.Forward(q.Value)
}

// ---------------------------------------------------------------------------
// Runtime objects
// ---------------------------------------------------------------------------

// Scope is an activation record: one slot per declared local of a Code,
// linked to the scope the closure was created in.
type Scope struct {
	Outer Value
	Slots []Value
}

func (s *Scope) Size() int { return (2 + len(s.Slots)) * wordSize }

func (s *Scope) Scan(c *Collector) {
	s.Outer = c.Forward(s.Outer)
	c.ForwardAll(s.Slots)
}

// Closure pairs a Code with the Scope it was created in.
type Closure struct {
	Code  Value
	Scope Value
	Rest  bool
}

func (cl *Closure) Size() int { return 3 * wordSize }

func (cl *Closure) Scan(c *Collector) {
	cl.Code = c.Forward(cl.Code)
	cl.Scope = c.Forward(cl.Scope)
}

// Variable is a boxed module cell. Calling it with no argument reads it,
// with one argument writes it.
type Variable struct {
	Value Value
}

func (v *Variable) Size() int { return 2 * wordSize }

func (v *Variable) Scan(c *Collector) {
	v.Value = c.Forward(v.Value)
}

// Local is the compile-time binding of a declared local: the Code that
// declares it and its slot index.
type Local struct {
	Code  Value
	Index int
}

func (l *Local) Size() int { return 3 * wordSize }

func (l *Local) Scan(c *Collector) {
	l.Code = c.Forward(l.Code)
}

// Macro is the compile-time binding created by define-macro.
type Macro struct {
	Code Value
}

func (m *Macro) Size() int { return 2 * wordSize }

func (m *Macro) Scan(c *Collector) {
	m.Code = c.Forward(m.Code)
}

// ErrorValue is the payload delivered to a catch handler.
type ErrorValue struct {
	Message   string
	Irritants Value
	Backtrace []Position
}

func (ev *ErrorValue) Size() int { return 4*wordSize + len(ev.Message) }

func (ev *ErrorValue) Scan(c *Collector) {
	ev.Irritants = c.Forward(ev.Irritants)
}
