package vm

import (
	"path/filepath"
)

// ---------------------------------------------------------------------------
// Special forms
// ---------------------------------------------------------------------------

type formFunc func(c *Compiler, cx *Code, args Value, at *Position) (Node, error)

// form is a static special form. As an expression it evaluates to itself;
// as the head of a call it compiles the call.
type form struct {
	name string
	fn   formFunc
	self Value
}

func (f *form) emit(em *emitter, stack int, tail bool) {
	em.emit(OpPush, stack+1, em.literal(f.self))
}

func (f *form) scan(c *Collector) {}

func (f *form) apply(c *Compiler, cx *Code, args Value, at *Position) (Node, error) {
	return f.fn(c, cx, args, at)
}

func (e *Engine) newForm(name string, fn formFunc) *form {
	f := &form{name: name, fn: fn}
	f.self = e.addStatic(f)
	return f
}

func (e *Engine) registerForms() {
	for _, f := range []*form{
		e.newForm("lambda", formLambda),
		e.newForm("define", formDefine),
		e.newForm("set!", formSet),
		e.newForm("define-macro", formDefineMacro),
		e.newForm("if", formIf),
		e.newForm("begin", formBegin),
		e.newForm("quote", formQuote),
		e.newForm("export", formExport),
		e.newForm("import", formImport),
	} {
		e.Register(e.global, f.name, f.self)
		if f.name == "lambda" {
			e.lambda = f.self
		}
	}
}

// cells returns the cells of the proper list args, checking the count is
// within [min, max] (max < 0 for no limit).
func (c *Compiler) cells(name string, args Value, min, max int, at *Position) ([]*Pair, error) {
	var out []*Pair
	for args != Nil {
		p, ok := c.e.PairOf(args)
		if !ok {
			return nil, ErrorAt(at, "%s: must be a list", name)
		}
		out = append(out, p)
		args = p.Tail
	}
	if len(out) < min {
		return nil, ErrorAt(at, "%s: too few operands", name)
	}
	if max >= 0 && len(out) > max {
		return nil, ErrorAt(at, "%s: must be nil", name)
	}
	return out, nil
}

func (c *Compiler) symbolOperand(name string, p *Pair, at *Position) error {
	if !c.isSymbol(p.Head) {
		return ErrorAt(positionOr(p.At, at), "%s: must be a symbol: %s", name, c.e.Format(p.Head))
	}
	return nil
}

// (lambda params body...)
func formLambda(c *Compiler, cx *Code, args Value, at *Position) (Node, error) {
	r := c.e.Pin(args)
	defer r.Release()
	code, cv := c.e.allocCode(cx.self, Nil)
	n := track(c, &lambdaNode{code: cv})
	if err := c.compileLambda(code, r.Get(), at); err != nil {
		return nil, err
	}
	n.rest = code.Rest
	return n, nil
}

// (define name expression)
func formDefine(c *Compiler, cx *Code, args Value, at *Position) (Node, error) {
	cells, err := c.cells("define", args, 2, 2, at)
	if err != nil {
		return nil, err
	}
	if err := c.symbolOperand("define", cells[0], at); err != nil {
		return nil, err
	}
	target := c.bindingNode(c.declare(cx, cells[0].Head), at).(mutable)
	value, err := c.render(cx, cells[1].Head, positionOr(cells[1].At, at))
	if err != nil {
		return nil, err
	}
	return target.assign(c, value), nil
}

// (set! name expression)
func formSet(c *Compiler, cx *Code, args Value, at *Position) (Node, error) {
	cells, err := c.cells("set!", args, 2, 2, at)
	if err != nil {
		return nil, err
	}
	bound, err := c.render(cx, cells[0].Head, positionOr(cells[0].At, at))
	if err != nil {
		return nil, err
	}
	target, ok := bound.(mutable)
	if !ok {
		return nil, ErrorAt(positionOr(cells[0].At, at), "not mutable")
	}
	value, err := c.render(cx, cells[1].Head, positionOr(cells[1].At, at))
	if err != nil {
		return nil, err
	}
	return target.assign(c, value), nil
}

// (define-macro name params body...) or (define-macro name (lambda params body...))
func formDefineMacro(c *Compiler, cx *Code, args Value, at *Position) (Node, error) {
	cells, err := c.cells("define-macro", args, 2, -1, at)
	if err != nil {
		return nil, err
	}
	if err := c.symbolOperand("define-macro", cells[0], at); err != nil {
		return nil, err
	}
	source := cells[0]
	if len(cells) == 2 {
		if lp, ok := c.e.PairOf(cells[1].Head); ok && c.isLambda(cx, lp.Head) {
			source = lp
		}
	}
	code, cv := c.e.allocCode(cx.self, Nil)
	holder := track(c, &lambdaNode{code: cv})
	if err := c.compileLambda(code, source.Tail, positionOr(cells[1].At, at)); err != nil {
		return nil, err
	}
	mv := c.e.heap.New(&Macro{Code: holder.code})
	cx.Bindings[cells[0].Head] = mv
	return c.bindingNode(mv, at), nil
}

func (c *Compiler) isLambda(cx *Code, head Value) bool {
	if !c.isSymbol(head) {
		return false
	}
	b, ok := c.resolve(cx, head)
	return ok && b == c.e.lambda
}

// (if condition then [else])
func formIf(c *Compiler, cx *Code, args Value, at *Position) (Node, error) {
	cells, err := c.cells("if", args, 2, 3, at)
	if err != nil {
		return nil, err
	}
	n := track(c, &ifNode{})
	parts := []*Node{&n.cond, &n.then, &n.otherwise}
	for i, cell := range cells {
		if *parts[i], err = c.render(cx, cell.Head, positionOr(cell.At, at)); err != nil {
			return nil, err
		}
	}
	return n, nil
}

// (begin expression...)
func formBegin(c *Compiler, cx *Code, args Value, at *Position) (Node, error) {
	cells, err := c.cells("begin", args, 0, -1, at)
	if err != nil {
		return nil, err
	}
	n := track(c, &beginNode{})
	for _, cell := range cells {
		b, err := c.render(cx, cell.Head, positionOr(cell.At, at))
		if err != nil {
			return nil, err
		}
		n.body = append(n.body, b)
	}
	return n, nil
}

// (quote datum)
func formQuote(c *Compiler, cx *Code, args Value, at *Position) (Node, error) {
	cells, err := c.cells("quote", args, 1, 1, at)
	if err != nil {
		return nil, err
	}
	return c.literal(cells[0].Head), nil
}

// (export name) publishes a binding in the enclosing module. Mutable
// bindings are boxed in a fresh Variable initialized with their value.
func formExport(c *Compiler, cx *Code, args Value, at *Position) (Node, error) {
	cells, err := c.cells("export", args, 1, 1, at)
	if err != nil {
		return nil, err
	}
	if err := c.symbolOperand("export", cells[0], at); err != nil {
		return nil, err
	}
	return c.export(cx, cells[0], nil, at)
}

// export binds the symbol in cell's head in the module enclosing cx. value
// is the node producing the binding's value, or nil to read the binding.
func (c *Compiler) export(cx *Code, cell *Pair, value Node, at *Position) (Node, error) {
	_, m := c.moduleCode(cx)
	if m == nil {
		return nil, ErrorAt(at, "export: no enclosing module")
	}
	bound, ok := c.resolve(cx, cell.Head)
	if !ok {
		return nil, ErrorAt(positionOr(cell.At, at), "not found: %s", c.e.Format(cell.Head))
	}
	switch c.e.object(bound).(type) {
	case *Local, *Variable:
		if value == nil {
			value = c.bindingNode(bound, at)
		}
		vv := c.e.heap.New(&Variable{})
		m.Bindings[cell.Head] = vv
		return track(c, &variableSetNode{variable: vv, expr: value}), nil
	}
	m.Bindings[cell.Head] = bound
	if value == nil {
		value = c.literal(Nil)
	}
	return value, nil
}

// (import name) loads name.lisp next to the enclosing module and adds it to
// the imports of the current Code.
func formImport(c *Compiler, cx *Code, args Value, at *Position) (Node, error) {
	cells, err := c.cells("import", args, 1, 1, at)
	if err != nil {
		return nil, err
	}
	name, ok := c.e.SymbolName(cells[0].Head)
	if !ok {
		if name, ok = c.e.StringOf(cells[0].Head); !ok {
			return nil, ErrorAt(positionOr(cells[0].At, at), "import: must be a symbol: %s", c.e.Format(cells[0].Head))
		}
	}
	dir := "."
	if _, m := c.moduleCode(cx); m != nil && m.Path != "" {
		dir = filepath.Dir(m.Path)
	}
	mv, err := c.e.LoadModule(dir, name)
	if err != nil {
		return nil, traceAt(err, positionOr(cells[0].At, at))
	}
	cx.Imports = append(cx.Imports, mv)
	return c.literal(Nil), nil
}

// ---------------------------------------------------------------------------
// Interactive modules
// ---------------------------------------------------------------------------

// exporting wraps define, set! and define-macro for interactive modules:
// at top level the named binding is also exported, so later inputs see it.
// With locals set, only bindings local to the unit are exported; set! of a
// name from an earlier input already goes through its Variable.
func (e *Engine) exporting(inner *form, locals bool) *form {
	return e.newForm(inner.name, func(c *Compiler, cx *Code, args Value, at *Position) (Node, error) {
		r := c.e.Pin(args)
		defer r.Release()
		n, err := inner.apply(c, cx, args, at)
		if err != nil || cx.Outer != Nil {
			return n, err
		}
		p, ok := c.e.PairOf(r.Get())
		if !ok {
			return n, nil
		}
		if locals {
			b, found := c.resolve(cx, p.Head)
			if _, local := c.e.object(b).(*Local); !found || !local {
				return n, nil
			}
		}
		return c.export(cx, p, n, at)
	})
}

// NewInteractiveModule creates a module for a REPL: top-level units
// compiled into it import it, and its define, set! and define-macro export.
func (e *Engine) NewInteractiveModule(name string) Value {
	mv := e.NewModule(name, "")
	r := e.heap.Pin(mv)
	defer r.Release()
	e.heap.Get(mv).(*Module).Interactive = true
	for _, name := range []string{"define", "set!", "define-macro"} {
		b, _ := e.Lookup(e.global, name)
		if f, ok := e.object(b).(*form); ok {
			e.Register(r.Get(), name, e.exporting(f, name == "set!").self)
		}
	}
	return r.Get()
}
