package vm

// ---------------------------------------------------------------------------
// Compiler: render expressions to nodes, emit nodes to Code
// ---------------------------------------------------------------------------

// Compiler turns expression trees into Code. Rendering may allocate (new
// Locals and Codes, macro expansion runs the VM), so every node is tracked
// in a registry that the collector scans; nodes can hold handles safely.
// Emission does not allocate.
type Compiler struct {
	e     *Engine
	nodes []Node
	depth int
}

func newCompiler(e *Engine) *Compiler {
	return &Compiler{e: e}
}

func (c *Compiler) scan(col *Collector) {
	for _, n := range c.nodes {
		n.scan(col)
	}
}

func track[T Node](c *Compiler, n T) T {
	c.nodes = append(c.nodes, n)
	return n
}

func (c *Compiler) enter() { c.depth++ }

func (c *Compiler) leave() {
	c.depth--
	if c.depth == 0 {
		clear(c.nodes)
		c.nodes = c.nodes[:0]
	}
}

func positionOr(p, fallback *Position) *Position {
	if p != nil {
		return p
	}
	return fallback
}

// compileUnit compiles body, a list of forms, into the top-level Code code.
func (c *Compiler) compileUnit(code *Code, body Value) error {
	c.enter()
	defer c.leave()
	return c.compileBody(code, body, nil)
}

// compileLambda compiles source, (params . body), into code. The parameter
// list may be improper or a single symbol to declare a rest parameter.
func (c *Compiler) compileLambda(code *Code, source Value, at *Position) error {
	p, ok := c.e.PairOf(source)
	if !ok {
		return ErrorAt(at, "malformed lambda")
	}
	params := p.Head
	for params != Nil {
		pp, ok := c.e.PairOf(params)
		if !ok {
			if !c.isSymbol(params) {
				return ErrorAt(at, "must be a symbol: %s", c.e.Format(params))
			}
			c.declare(code, params)
			code.Rest = true
			break
		}
		if !c.isSymbol(pp.Head) {
			return ErrorAt(positionOr(pp.At, at), "must be a symbol: %s", c.e.Format(pp.Head))
		}
		c.declare(code, pp.Head)
		code.Arguments++
		params = pp.Tail
	}
	return c.compileBody(code, p.Tail, at)
}

// compileBody renders and emits each form in turn. The last form is in
// tail position; an empty body evaluates to Nil.
func (c *Compiler) compileBody(code *Code, body Value, at *Position) error {
	em := newEmitter(c.e, code)
	if body == Nil {
		em.emit(OpPush, 2, em.literal(Nil))
	}
	for body != Nil {
		p, ok := c.e.PairOf(body)
		if !ok {
			return ErrorAt(at, "must be a list")
		}
		n, err := c.render(code, p.Head, positionOr(p.At, at))
		if err != nil {
			return err
		}
		last := p.Tail == Nil
		n.emit(em, 1, last)
		if !last {
			em.emit(OpPop, 1)
		}
		body = p.Tail
	}
	em.emit(OpReturn, 1)
	return em.finish()
}

// declare adds a local named sym to code and binds it.
func (c *Compiler) declare(code *Code, sym Value) Value {
	l := &Local{Code: code.self, Index: len(code.Locals)}
	code.Locals = append(code.Locals, sym)
	lv := c.e.heap.New(l)
	code.Bindings[code.Locals[l.Index]] = lv
	return lv
}

func (c *Compiler) isSymbol(v Value) bool {
	_, ok := c.e.object(v).(*Symbol)
	return ok
}

// ---------------------------------------------------------------------------
// Render
// ---------------------------------------------------------------------------

// render turns an expression into a node. A symbol renders as its binding;
// a pair renders its head and lets that node apply itself to the unrendered
// arguments, which is how special forms and macros take over.
func (c *Compiler) render(cx *Code, expr Value, at *Position) (Node, error) {
	switch o := c.e.object(expr).(type) {
	case *Symbol:
		b, ok := c.resolve(cx, expr)
		if !ok {
			return nil, ErrorAt(at, "not found: %s", o.Name)
		}
		return c.bindingNode(b, at), nil
	case *Pair:
		head, err := c.render(cx, o.Head, positionOr(o.At, at))
		if err != nil {
			return nil, traceAt(err, at)
		}
		n, err := c.apply(cx, head, o.Tail, at)
		if err != nil {
			return nil, traceAt(err, at)
		}
		return n, nil
	case *Quote:
		switch o.Kind {
		case KindQuote:
			return c.literal(o.Value), nil
		case KindQuasiquote:
			return c.quasi(cx, o.Value, at)
		default:
			return nil, ErrorAt(at, "unquote outside quasiquote")
		}
	}
	return c.literal(expr), nil
}

func (c *Compiler) apply(cx *Code, head Node, args Value, at *Position) (Node, error) {
	if a, ok := head.(applier); ok {
		return a.apply(c, cx, args, at)
	}
	return c.call(cx, head, args, at)
}

// call renders a call of callee. A non-nil improper tail is evaluated and
// spread as trailing arguments.
func (c *Compiler) call(cx *Code, callee Node, args Value, at *Position) (Node, error) {
	n := track(c, &callNode{callee: callee, at: at})
	for args != Nil {
		p, ok := c.e.PairOf(args)
		if !ok {
			arg, err := c.render(cx, args, at)
			if err != nil {
				return nil, err
			}
			n.args = append(n.args, arg)
			n.expand = true
			break
		}
		arg, err := c.render(cx, p.Head, positionOr(p.At, at))
		if err != nil {
			return nil, err
		}
		n.args = append(n.args, arg)
		args = p.Tail
	}
	return n, nil
}

// resolve looks sym up in cx's bindings, then cx's imports from the most
// recent, then outward through the enclosing Codes.
func (c *Compiler) resolve(cx *Code, sym Value) (Value, bool) {
	for code := cx; ; {
		if b, ok := code.Bindings[sym]; ok {
			return b, true
		}
		for i := len(code.Imports) - 1; i >= 0; i-- {
			if m, ok := c.e.ModuleOf(code.Imports[i]); ok {
				if b, ok := m.Bindings[sym]; ok {
					return b, true
				}
			}
		}
		outer, ok := c.e.CodeOf(code.Outer)
		if !ok {
			return Nil, false
		}
		code = outer
	}
}

// moduleCode returns the top-level Code enclosing cx.
func (c *Compiler) moduleCode(cx *Code) (*Code, *Module) {
	for code := cx; code != nil; {
		if m, ok := c.e.ModuleOf(code.Module); ok {
			return code, m
		}
		code, _ = c.e.CodeOf(code.Outer)
	}
	return nil, nil
}

// bindingNode wraps a resolved binding.
func (c *Compiler) bindingNode(b Value, at *Position) Node {
	switch o := c.e.object(b).(type) {
	case *Local:
		return track(c, &localNode{local: b, at: at})
	case *Variable:
		return track(c, &variableNode{variable: b, at: at})
	case *Macro:
		return track(c, &macroNode{macro: b})
	case *form:
		return o
	}
	return c.literal(b)
}

func (c *Compiler) literal(v Value) Node {
	return track(c, &literalNode{value: v})
}

// ---------------------------------------------------------------------------
// Quasiquote
// ---------------------------------------------------------------------------

// quasi expands a quasiquoted template into cons/append calls. Subtrees
// without unquotes stay literal.
func (c *Compiler) quasi(cx *Code, v Value, at *Position) (Node, error) {
	if c.constant(v, 0) {
		return c.literal(v), nil
	}
	switch o := c.e.object(v).(type) {
	case *Pair:
		n := track(c, &callNode{at: at})
		if q, ok := c.e.object(o.Head).(*Quote); ok && q.Kind == KindUnquoteSplicing {
			n.callee = c.literal(c.e.appendFn)
			head, err := c.render(cx, q.Value, positionOr(o.At, at))
			if err != nil {
				return nil, err
			}
			n.args = append(n.args, head)
		} else {
			n.callee = c.literal(c.e.consFn)
			head, err := c.quasi(cx, o.Head, positionOr(o.At, at))
			if err != nil {
				return nil, err
			}
			n.args = append(n.args, head)
		}
		tail, err := c.quasi(cx, o.Tail, at)
		if err != nil {
			return nil, err
		}
		n.args = append(n.args, tail)
		return n, nil
	case *Quote:
		switch o.Kind {
		case KindUnquote:
			return c.render(cx, o.Value, at)
		case KindUnquoteSplicing:
			return nil, ErrorAt(at, "unquote-splicing outside a list")
		}
		n := track(c, &callNode{at: at, callee: c.literal(c.e.quoteFn)})
		inner, err := c.quasi(cx, o.Value, at)
		if err != nil {
			return nil, err
		}
		n.args = append(n.args, inner)
		return n, nil
	}
	return c.literal(v), nil
}

// constant reports whether a template contains no unquote.
func (c *Compiler) constant(v Value, depth int) bool {
	if depth > maxPrintDepth {
		return false
	}
	switch o := c.e.object(v).(type) {
	case *Pair:
		return c.constant(o.Head, depth+1) && c.constant(o.Tail, depth+1)
	case *Quote:
		if o.Kind == KindUnquote || o.Kind == KindUnquoteSplicing {
			return false
		}
		return c.constant(o.Value, depth+1)
	}
	return true
}
