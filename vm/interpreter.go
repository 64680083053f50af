package vm

import (
	"errors"
)

// ---------------------------------------------------------------------------
// Frames
// ---------------------------------------------------------------------------

type frameKind uint8

const (
	frameCall   frameKind = iota // closure activation
	frameTop                     // bottom of a run; executes END
	framePrompt                  // call-with-prompt or catch marker; executes RETURN
)

// Frame is an activation record in the engine's fixed frame array. Base is
// the operand stack index of the callee slot, which receives the result.
type Frame struct {
	Code  Value
	code  *Code
	IP    int
	Scope Value
	Base  int
	kind  frameKind

	// Prompt frames only.
	Tag     Value
	Handler Value
	catch   bool
}

// Callable is implemented by every value that can be called. When Call
// runs, the callee sits at stack[sp-argc-1] followed by its arguments; Call
// must leave exactly the result in the callee slot, or push a frame whose
// base is the callee slot.
type Callable interface {
	Call(e *Engine, argc int) error
}

// call invokes the callee sitting below the top argc values.
func (e *Engine) call(argc int) error {
	callee := e.stack[e.sp-argc-1]
	if callee == Nil {
		return Errorf("calling nil")
	}
	c, ok := e.object(callee).(Callable)
	if !ok {
		return Errorf("not callable: %s", e.Format(callee))
	}
	return c.Call(e, argc)
}

// Call enters the closure: it checks the arity, builds the scope and the
// rest list, and pushes a frame.
func (cl *Closure) Call(e *Engine, argc int) error {
	code := e.heap.Get(cl.Code).(*Code)
	if cl.Rest {
		if argc < code.Arguments {
			return Errorf("too few arguments: want at least %d, got %d", code.Arguments, argc)
		}
	} else if argc != code.Arguments {
		return Errorf("wrong number of arguments: want %d, got %d", code.Arguments, argc)
	}
	if e.fp+1 >= len(e.frames) {
		return Errorf("stack overflow: more than %d frames", len(e.frames))
	}
	callee := e.sp - argc - 1
	if callee+code.Stack > len(e.stack) {
		return Errorf("stack overflow: more than %d stack slots", len(e.stack))
	}
	first := callee + 1

	rest := Nil
	if cl.Rest {
		for i := e.sp - 1; i >= first+code.Arguments; i-- {
			rest = e.heap.New(&Pair{Head: e.stack[i], Tail: rest})
		}
	}
	slots := make([]Value, len(code.Locals))
	copy(slots, e.stack[first:first+code.Arguments])
	if cl.Rest {
		slots[code.Arguments] = rest
	}
	scope := e.heap.New(&Scope{Outer: cl.Scope, Slots: slots})

	e.fp++
	e.frames[e.fp] = Frame{Code: cl.Code, code: code, Scope: scope, Base: callee, kind: frameCall}
	e.sp = first
	return nil
}

// Call reads (no arguments) or writes (one argument) the variable.
func (v *Variable) Call(e *Engine, argc int) error {
	switch argc {
	case 0:
		e.stack[e.sp-1] = v.Value
	case 1:
		v.Value = e.stack[e.sp-1]
		e.sp--
		e.stack[e.sp-1] = v.Value
	default:
		return Errorf("variable: wrong number of arguments: want 0 or 1, got %d", argc)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Run
// ---------------------------------------------------------------------------

// Run calls the Code behind code with the elements of the list args and
// returns the result. Runs nest: macros and imports run while an outer run
// is suspended. On error the stack and frames are restored to their state at
// entry.
func (e *Engine) Run(code Value, args Value) (result Value, err error) {
	fp, sp, base := e.fp, e.sp, e.runBase
	defer func() {
		e.runBase = base
		if err != nil {
			e.log.Debugf("run unwound to frame %d: %s", fp, err)
			e.fp, e.sp = fp, sp
		}
	}()
	obj, ok := e.CodeOf(code)
	if !ok {
		return Nil, Errorf("not a code object")
	}
	if e.fp+1 >= len(e.frames) {
		return Nil, Errorf("stack overflow: more than %d frames", len(e.frames))
	}
	if e.sp >= len(e.stack) {
		return Nil, Errorf("stack overflow: more than %d stack slots", len(e.stack))
	}
	e.fp++
	e.frames[e.fp] = Frame{code: e.endCode, Base: e.sp, kind: frameTop}
	e.runBase = e.fp

	callee := e.sp
	e.stack[e.sp] = Nil
	e.sp++
	argc := 0
	for args != Nil {
		if e.sp >= len(e.stack) {
			return Nil, Errorf("stack overflow: more than %d stack slots", len(e.stack))
		}
		p, ok := e.PairOf(args)
		if !ok {
			return Nil, Errorf("must be a list")
		}
		e.stack[e.sp] = p.Head
		e.sp++
		argc++
		args = p.Tail
	}
	e.stack[callee] = e.heap.New(&Closure{Code: code, Rest: obj.Rest})
	if err := e.call(argc); err != nil {
		return Nil, asError(err)
	}
	return e.execute()
}

// execute runs instructions until the innermost run's END.
func (e *Engine) execute() (Value, error) {
	for {
		site := e.fp
		f := &e.frames[site]
		code := f.code
		ip := f.IP
		words := code.Instructions

		var err error
		switch op := Opcode(words[ip]); op {
		case OpPop:
			f.IP = ip + 1
			e.sp--

		case OpPush:
			f.IP = ip + 2
			e.stack[e.sp] = code.Literals[words[ip+1]]
			e.sp++

		case OpGet:
			f.IP = ip + 3
			var scope *Scope
			if scope, err = e.scopeAt(f.Scope, words[ip+1]); err == nil {
				e.stack[e.sp] = scope.Slots[words[ip+2]]
				e.sp++
			}

		case OpSet:
			f.IP = ip + 3
			var scope *Scope
			if scope, err = e.scopeAt(f.Scope, words[ip+1]); err == nil {
				scope.Slots[words[ip+2]] = e.stack[e.sp-1]
			}

		case OpCall, OpCallWithExpansion:
			argc := words[ip+1]
			f.IP = ip + 2
			if op == OpCallWithExpansion {
				argc, err = e.expand(argc)
			}
			if err == nil {
				err = e.call(argc)
			}

		case OpCallTail, OpCallTailWithExpansion:
			argc := words[ip+1]
			f.IP = ip + 2
			if op == OpCallTailWithExpansion {
				argc, err = e.expand(argc)
			}
			if err == nil {
				base := f.Base
				copy(e.stack[base:], e.stack[e.sp-argc-1:e.sp])
				e.sp = base + argc + 1
				e.fp--
				err = e.call(argc)
			}

		case OpReturn:
			e.stack[f.Base] = e.stack[e.sp-1]
			e.sp = f.Base + 1
			e.fp--

		case OpLambda, OpLambdaWithRest:
			f.IP = ip + 2
			v := e.heap.New(&Closure{
				Code:  code.Literals[words[ip+1]],
				Scope: f.Scope,
				Rest:  op == OpLambdaWithRest,
			})
			e.stack[e.sp] = v
			e.sp++

		case OpJump:
			f.IP = words[ip+1]

		case OpBranch:
			e.sp--
			if e.stack[e.sp] == Nil {
				f.IP = words[ip+1]
			} else {
				f.IP = ip + 2
			}

		case OpEnd:
			e.sp--
			v := e.stack[e.sp]
			e.fp--
			return v, nil

		default:
			return Nil, Errorf("invalid opcode %d", int(op))
		}

		if err != nil {
			if err = e.unwind(err, code, ip, site); err != nil {
				return Nil, err
			}
		}
	}
}

// scopeAt walks depth links outward from scope.
func (e *Engine) scopeAt(scope Value, depth int) (*Scope, error) {
	for ; depth > 0; depth-- {
		s, ok := e.object(scope).(*Scope)
		if !ok {
			return nil, Errorf("out of scope")
		}
		scope = s.Outer
	}
	s, ok := e.object(scope).(*Scope)
	if !ok {
		return nil, Errorf("out of scope")
	}
	return s, nil
}

// expand spreads the last of argc arguments, which must be a list, onto the
// stack and returns the new argument count.
func (e *Engine) expand(argc int) (int, error) {
	e.sp--
	argc--
	list := e.stack[e.sp]
	for list != Nil {
		p, ok := e.PairOf(list)
		if !ok {
			return 0, Errorf("must be a list")
		}
		if e.sp >= len(e.stack) {
			return 0, Errorf("stack overflow: more than %d stack slots", len(e.stack))
		}
		e.stack[e.sp] = p.Head
		e.sp++
		argc++
		list = p.Tail
	}
	return argc, nil
}

// ---------------------------------------------------------------------------
// Error unwinding
// ---------------------------------------------------------------------------

// thrown carries a raised error value (from error or rethrow) to the
// interpreter loop.
type thrown struct {
	value Value
}

func (t *thrown) Error() string { return "uncaught error" }

// unwind handles err raised by the instruction at ip of code, executed by
// the frame at index site. If a catch prompt is active in the current run,
// its handler is called with the error value and unwind returns nil;
// otherwise it returns the error with a backtrace.
func (e *Engine) unwind(err error, code *Code, ip, site int) error {
	for {
		trace := e.backtrace(code, ip, site)
		var payload Value
		var t *thrown
		if errors.As(err, &t) {
			payload = t.value
		} else {
			le := asError(err)
			le.Backtrace = append(le.Backtrace, trace...)
			err = le
		}
		pi := e.findCatch()
		if pi < 0 {
			if t != nil {
				return e.uncaught(t.value, trace)
			}
			return err
		}
		if t == nil {
			le := err.(*Error)
			payload = e.heap.New(&ErrorValue{Message: le.Message, Backtrace: le.Backtrace})
		}
		err = e.raiseTo(pi, payload)
		if err == nil {
			return nil
		}
		// The handler could not be entered; its frame is gone, so keep
		// looking further out.
		code, ip, site = nil, 0, e.fp+1
	}
}

// uncaught turns a raised value that reached the top of a run into an Error.
func (e *Engine) uncaught(v Value, trace []Position) *Error {
	if ev, ok := e.ErrorOf(v); ok {
		bt := ev.Backtrace
		if len(bt) == 0 {
			bt = trace
		}
		return &Error{Message: ev.Message, Backtrace: append([]Position(nil), bt...)}
	}
	return &Error{Message: "uncaught: " + e.Format(v), Backtrace: trace}
}

// backtrace lists the location of the failing instruction followed by the
// call sites of the frames below site in the current run, innermost first.
// Frames above site were pushed by the failing call and have no call site
// yet; a tail call has already popped the site frame itself.
func (e *Engine) backtrace(code *Code, ip, site int) []Position {
	var trace []Position
	if code != nil {
		if p, ok := code.locationBefore(ip + 1); ok {
			trace = append(trace, p)
		}
	}
	for j := min(e.fp, site-1); j > e.runBase; j-- {
		f := &e.frames[j]
		if f.kind != frameCall {
			continue
		}
		if p, ok := f.code.locationBefore(f.IP); ok {
			trace = append(trace, p)
		}
	}
	return trace
}

// findCatch returns the index of the innermost catch prompt in the current
// run, or -1.
func (e *Engine) findCatch() int {
	for j := e.fp; j > e.runBase; j-- {
		if f := &e.frames[j]; f.kind == framePrompt && f.catch {
			return j
		}
	}
	return -1
}

// raiseTo discards everything above the catch prompt at index pi and calls
// its handler with payload.
func (e *Engine) raiseTo(pi int, payload Value) error {
	head := e.frames[pi].Base
	e.stack[head] = e.frames[pi].Handler
	e.stack[head+1] = payload
	e.sp = head + 2
	e.fp = pi - 1
	return e.call(1)
}
