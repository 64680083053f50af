package vm

import "slices"

// ---------------------------------------------------------------------------
// Delimited continuations
// ---------------------------------------------------------------------------

// Continuation is an immutable copy of the frames and operand stack between
// a prompt (inclusive) and the point of abort-to-prompt. Frame bases are
// stored relative to the start of Stack. A continuation can be resumed any
// number of times; resumptions share the captured Scopes, so a set! made
// after one resumption is visible to the next.
type Continuation struct {
	Stack  []Value
	Frames []Frame
}

func (k *Continuation) Size() int {
	return (3 + len(k.Stack) + 6*len(k.Frames)) * wordSize
}

func (k *Continuation) Scan(c *Collector) {
	c.ForwardAll(k.Stack)
	for i := range k.Frames {
		f := &k.Frames[i]
		f.Code = c.Forward(f.Code)
		f.Scope = c.Forward(f.Scope)
		f.Tag = c.Forward(f.Tag)
		f.Handler = c.Forward(f.Handler)
	}
}

// Call splices the captured segment back on top of the stack, relocating
// frame bases, and delivers the argument as the result of the
// abort-to-prompt that captured it.
func (k *Continuation) Call(e *Engine, argc int) error {
	if argc != 1 {
		return Errorf("continuation: wrong number of arguments: want 1, got %d", argc)
	}
	at := e.sp - 2
	value := e.stack[e.sp-1]
	if at+len(k.Stack)+1 > len(e.stack) {
		return Errorf("stack overflow: more than %d stack slots", len(e.stack))
	}
	if e.fp+len(k.Frames) >= len(e.frames) {
		return Errorf("stack overflow: more than %d frames", len(e.frames))
	}
	for _, f := range k.Frames {
		if f.kind == frameCall && at+f.Base+f.code.Stack > len(e.stack) {
			return Errorf("stack overflow: more than %d stack slots", len(e.stack))
		}
	}
	copy(e.stack[at:], k.Stack)
	for i, f := range k.Frames {
		f.Base += at
		e.frames[e.fp+1+i] = f
	}
	e.fp += len(k.Frames)
	e.sp = at + len(k.Stack)
	e.stack[e.sp] = value
	e.sp++
	return nil
}

// callWithPrompt implements (call-with-prompt tag handler thunk).
type callWithPrompt struct{}

func (callWithPrompt) Call(e *Engine, argc int) error {
	if argc != 3 {
		return Errorf("call-with-prompt: wrong number of arguments: want 3, got %d", argc)
	}
	if e.fp+1 >= len(e.frames) {
		return Errorf("stack overflow: more than %d frames", len(e.frames))
	}
	base := e.sp - 4
	e.fp++
	e.frames[e.fp] = Frame{
		code:    e.promptCode,
		Base:    base,
		kind:    framePrompt,
		Tag:     e.stack[base+1],
		Handler: e.stack[base+2],
	}
	return e.call(0)
}

// abortToPrompt implements (abort-to-prompt tag value...).
type abortToPrompt struct{}

func (abortToPrompt) Call(e *Engine, argc int) error {
	if argc < 1 {
		return Errorf("abort-to-prompt: wrong number of arguments: want at least 1, got %d", argc)
	}
	tail := e.sp - argc - 1
	tag := e.stack[tail+1]
	pi := -1
	for j := e.fp; j > e.runBase; j-- {
		if f := &e.frames[j]; f.kind == framePrompt && !f.catch && f.Tag == tag {
			pi = j
			break
		}
	}
	if pi < 0 {
		return Errorf("no matching prompt found")
	}
	head := e.frames[pi].Base
	k := &Continuation{
		Stack:  slices.Clone(e.stack[head:tail]),
		Frames: slices.Clone(e.frames[pi : e.fp+1]),
	}
	for i := range k.Frames {
		k.Frames[i].Base -= head
	}
	kv := e.heap.New(k)

	n := argc - 1
	copy(e.stack[head+2:], e.stack[tail+2:e.sp])
	e.stack[head] = e.frames[pi].Handler
	e.stack[head+1] = kv
	e.sp = head + 2 + n
	e.fp = pi - 1
	return e.call(n + 1)
}

// catchCall implements (catch thunk handler): thunk runs under an error
// prompt, and handler receives the error value if one is raised.
type catchCall struct{}

func (catchCall) Call(e *Engine, argc int) error {
	if argc != 2 {
		return Errorf("catch: wrong number of arguments: want 2, got %d", argc)
	}
	if e.fp+1 >= len(e.frames) {
		return Errorf("stack overflow: more than %d frames", len(e.frames))
	}
	base := e.sp - 3
	e.fp++
	e.frames[e.fp] = Frame{
		code:    e.promptCode,
		Base:    base,
		kind:    framePrompt,
		Tag:     e.errorTag,
		Handler: e.stack[base+2],
		catch:   true,
	}
	e.stack[base+2] = e.stack[base+1]
	return e.call(0)
}

// applyCall implements (apply f arg... list).
type applyCall struct{}

func (applyCall) Call(e *Engine, argc int) error {
	if argc < 1 {
		return Errorf("apply: wrong number of arguments: want at least 1, got %d", argc)
	}
	callee := e.sp - argc - 1
	copy(e.stack[callee:], e.stack[callee+1:e.sp])
	e.sp--
	argc--
	if argc > 0 {
		var err error
		if argc, err = e.expand(argc); err != nil {
			return err
		}
	}
	return e.call(argc)
}
