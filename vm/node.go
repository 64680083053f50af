package vm

// ---------------------------------------------------------------------------
// Nodes
// ---------------------------------------------------------------------------

// Node is a rendered expression. emit writes it to em; stack is the operand
// stack height before the node and tail marks tail position. scan forwards
// the handles the node holds.
type Node interface {
	emit(em *emitter, stack int, tail bool)
	scan(c *Collector)
}

// applier is implemented by nodes that take over compilation of a call
// whose head they are: special forms and macros.
type applier interface {
	apply(c *Compiler, cx *Code, args Value, at *Position) (Node, error)
}

// mutable is implemented by nodes that set! can assign.
type mutable interface {
	assign(c *Compiler, expr Node) Node
}

type literalNode struct {
	value Value
}

func (n *literalNode) emit(em *emitter, stack int, tail bool) {
	em.emit(OpPush, stack+1, em.literal(n.value))
}

func (n *literalNode) scan(c *Collector) {
	n.value = c.Forward(n.value)
}

// localAddress computes the (depth, slot) address of a local from the Code
// being emitted.
func (em *emitter) localAddress(local Value, at *Position) (int, int, bool) {
	l := em.e.heap.Get(local).(*Local)
	target := em.e.heap.Get(l.Code).(*Code)
	depth := 0
	for code := em.code; code != target; depth++ {
		outer, ok := em.e.CodeOf(code.Outer)
		if !ok {
			em.fail(ErrorAt(at, "out of scope"))
			return 0, 0, false
		}
		code = outer
	}
	return depth, l.Index, true
}

type localNode struct {
	local Value
	at    *Position
}

func (n *localNode) emit(em *emitter, stack int, tail bool) {
	if depth, index, ok := em.localAddress(n.local, n.at); ok {
		em.emit(OpGet, stack+1, depth, index)
	}
}

func (n *localNode) scan(c *Collector) {
	n.local = c.Forward(n.local)
}

func (n *localNode) assign(c *Compiler, expr Node) Node {
	return track(c, &localSetNode{local: n.local, expr: expr, at: n.at})
}

type localSetNode struct {
	local Value
	expr  Node
	at    *Position
}

func (n *localSetNode) emit(em *emitter, stack int, tail bool) {
	n.expr.emit(em, stack, false)
	if depth, index, ok := em.localAddress(n.local, n.at); ok {
		em.emit(OpSet, stack+1, depth, index)
	}
}

func (n *localSetNode) scan(c *Collector) {
	n.local = c.Forward(n.local)
}

// variableNode reads a module Variable by calling it with no argument.
type variableNode struct {
	variable Value
	at       *Position
}

func (n *variableNode) emit(em *emitter, stack int, tail bool) {
	em.emit(OpPush, stack+1, em.literal(n.variable))
	em.emit(callOp(tail, false), stack+1, 0)
}

func (n *variableNode) scan(c *Collector) {
	n.variable = c.Forward(n.variable)
}

func (n *variableNode) assign(c *Compiler, expr Node) Node {
	return track(c, &variableSetNode{variable: n.variable, expr: expr})
}

type variableSetNode struct {
	variable Value
	expr     Node
}

func (n *variableSetNode) emit(em *emitter, stack int, tail bool) {
	em.emit(OpPush, stack+1, em.literal(n.variable))
	n.expr.emit(em, stack+1, false)
	em.emit(callOp(tail, false), stack+2, 1)
}

func (n *variableSetNode) scan(c *Collector) {
	n.variable = c.Forward(n.variable)
}

func callOp(tail, expand bool) Opcode {
	switch {
	case tail && expand:
		return OpCallTailWithExpansion
	case tail:
		return OpCallTail
	case expand:
		return OpCallWithExpansion
	}
	return OpCall
}

type callNode struct {
	callee Node
	args   []Node
	expand bool
	at     *Position
}

func (n *callNode) emit(em *emitter, stack int, tail bool) {
	n.callee.emit(em, stack, false)
	for i, a := range n.args {
		a.emit(em, stack+1+i, false)
	}
	em.locate(n.at)
	em.emit(callOp(tail, n.expand), stack+1, len(n.args))
}

func (n *callNode) scan(c *Collector) {}

type ifNode struct {
	cond, then, otherwise Node
}

func (n *ifNode) emit(em *emitter, stack int, tail bool) {
	n.cond.emit(em, stack, false)
	otherwise := em.newLabel()
	end := em.newLabel()
	em.jump(OpBranch, stack, otherwise)
	n.then.emit(em, stack, tail)
	em.jump(OpJump, stack+1, end)
	em.mark(otherwise)
	if n.otherwise != nil {
		n.otherwise.emit(em, stack, tail)
	} else {
		em.emit(OpPush, stack+1, em.literal(Nil))
	}
	em.mark(end)
}

func (n *ifNode) scan(c *Collector) {}

type beginNode struct {
	body []Node
}

func (n *beginNode) emit(em *emitter, stack int, tail bool) {
	if len(n.body) == 0 {
		em.emit(OpPush, stack+1, em.literal(Nil))
		return
	}
	for i, b := range n.body {
		last := i == len(n.body)-1
		b.emit(em, stack, tail && last)
		if !last {
			em.emit(OpPop, stack)
		}
	}
}

func (n *beginNode) scan(c *Collector) {}

type lambdaNode struct {
	code Value
	rest bool
}

func (n *lambdaNode) emit(em *emitter, stack int, tail bool) {
	op := OpLambda
	if n.rest {
		op = OpLambdaWithRest
	}
	em.emit(op, stack+1, em.literal(n.code))
}

func (n *lambdaNode) scan(c *Collector) {
	n.code = c.Forward(n.code)
}

// macroNode is a reference to a macro binding. Applying it expands the
// call at compile time: the macro's Code runs on the unevaluated
// arguments and the result is rendered in place of the call.
type macroNode struct {
	macro Value
}

func (n *macroNode) emit(em *emitter, stack int, tail bool) {
	em.emit(OpPush, stack+1, em.literal(n.macro))
}

func (n *macroNode) scan(c *Collector) {
	n.macro = c.Forward(n.macro)
}

func (n *macroNode) apply(c *Compiler, cx *Code, args Value, at *Position) (Node, error) {
	m := c.e.heap.Get(n.macro).(*Macro)
	result, err := c.e.Run(m.Code, args)
	if err != nil {
		return nil, traceAt(err, at)
	}
	r := c.e.Pin(result)
	defer r.Release()
	return c.render(cx, r.Get(), at)
}
