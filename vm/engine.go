package vm

import (
	"io"
	"os"

	"github.com/tliron/commonlog"
)

// Default capacities.
const (
	DefaultHeapSize   = 1024 // bytes per half-heap; grows by doubling
	DefaultStackSize  = 1024 // operand stack slots; fixed
	DefaultFrameCount = 256  // frame array capacity; fixed
)

// ReaderFunc parses source text into a proper list of top-level forms.
type ReaderFunc func(e *Engine, path, src string) (Value, error)

// Options configures a new Engine.
type Options struct {
	HeapSize    int
	StackSize   int
	FrameCount  int
	Debug       bool // collect before every allocation
	Verbose     bool // log every collection
	ModulePaths []string
	Stdout      io.Writer
	Reader      ReaderFunc
}

// DefaultOptions returns the default engine configuration.
func DefaultOptions() Options {
	return Options{
		HeapSize:   DefaultHeapSize,
		StackSize:  DefaultStackSize,
		FrameCount: DefaultFrameCount,
		Stdout:     os.Stdout,
	}
}

// Engine owns one heap, one operand stack and one frame array. It is not
// safe for concurrent use; independent engines share no state.
type Engine struct {
	heap    *Heap
	symbols *SymbolTable
	statics []any

	stack   []Value
	sp      int
	frames  []Frame
	fp      int // index of the top frame, -1 when idle
	runBase int // index of the innermost run's top frame

	global      Value
	modules     map[string]Value // weak memo by absolute path
	modulePaths []string
	compiler    *Compiler
	reader      ReaderFunc
	stdout      io.Writer

	endCode    *Code
	promptCode *Code

	errorTag Value
	consFn   Value
	appendFn Value
	quoteFn  Value
	lambda   Value

	log    commonlog.Logger
	modlog commonlog.Logger
}

// NewEngine creates an engine with the builtins registered in its global
// module.
func NewEngine(opts Options) *Engine {
	if opts.HeapSize <= 0 {
		opts.HeapSize = DefaultHeapSize
	}
	if opts.StackSize <= 0 {
		opts.StackSize = DefaultStackSize
	}
	if opts.FrameCount <= 0 {
		opts.FrameCount = DefaultFrameCount
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	e := &Engine{
		symbols:     NewSymbolTable(),
		statics:     []any{nil}, // slot 0 is True
		stack:       make([]Value, opts.StackSize),
		frames:      make([]Frame, opts.FrameCount),
		fp:          -1,
		runBase:     -1,
		modules:     make(map[string]Value),
		modulePaths: opts.ModulePaths,
		reader:      opts.Reader,
		stdout:      opts.Stdout,
		endCode:     &Code{Instructions: []int{int(OpEnd)}},
		promptCode:  &Code{Instructions: []int{int(OpReturn)}},
		log:         commonlog.GetLogger("lilis.engine"),
		modlog:      commonlog.GetLogger("lilis.module"),
	}
	e.heap = NewHeap(opts.HeapSize, e.scanRoots)
	e.compiler = newCompiler(e)
	e.errorTag = e.addStatic(&errorTag{})
	e.global = e.NewModule("global", "")
	e.RegisterBuiltins()
	// Debug mode only from here on, so construction stays cheap.
	e.heap.Debug = opts.Debug
	e.heap.Verbose = opts.Verbose
	return e
}

// Global returns the module holding the builtins.
func (e *Engine) Global() Value {
	return e.global
}

// Heap exposes the engine's heap.
func (e *Engine) Heap() *Heap {
	return e.heap
}

// Stdout is where print writes.
func (e *Engine) Stdout() io.Writer {
	return e.stdout
}

// Pin keeps v reachable until the returned guard is released.
func (e *Engine) Pin(v Value) *Root {
	return e.heap.Pin(v)
}

// Collect forces a garbage collection.
func (e *Engine) Collect() {
	e.heap.Collect()
}

// SetDebug toggles collect-before-every-allocation mode.
func (e *Engine) SetDebug(on bool) {
	e.heap.Debug = on
}

// scanRoots forwards the engine's explicit roots: the live operand stack,
// every active frame, the global module and the compiler's live nodes.
// Module memo entries are weak and refreshed by the modules themselves.
func (e *Engine) scanRoots(c *Collector) {
	c.ForwardAll(e.stack[:e.sp])
	for i := 0; i <= e.fp; i++ {
		f := &e.frames[i]
		f.Code = c.Forward(f.Code)
		f.Scope = c.Forward(f.Scope)
		f.Tag = c.Forward(f.Tag)
		f.Handler = c.Forward(f.Handler)
	}
	e.global = c.Forward(e.global)
	e.compiler.scan(c)
}

// ---------------------------------------------------------------------------
// Statics: objects that never move
// ---------------------------------------------------------------------------

func (e *Engine) addStatic(obj any) Value {
	e.statics = append(e.statics, obj)
	return makeStatic(len(e.statics) - 1)
}

// object returns the heap or static object behind v, or nil for immediates.
func (e *Engine) object(v Value) any {
	switch {
	case v.IsRef():
		return e.heap.Get(v)
	case v.IsStatic() && v != True:
		return e.statics[v.staticIndex()]
	}
	return nil
}

// errorTag is the prompt tag used by catch.
type errorTag struct{}

// ---------------------------------------------------------------------------
// Allocation helpers
// ---------------------------------------------------------------------------

// Cons allocates a pair.
func (e *Engine) Cons(head, tail Value) Value {
	return e.heap.New(&Pair{Head: head, Tail: tail})
}

// NewPair allocates a pair carrying a source position.
func (e *Engine) NewPair(head, tail Value, at *Position) Value {
	return e.heap.New(&Pair{Head: head, Tail: tail, At: at})
}

// NewString allocates a string.
func (e *Engine) NewString(s string) Value {
	return e.heap.New(&String{Text: s})
}

// NewQuote allocates a quote-like wrapper.
func (e *Engine) NewQuote(kind QuoteKind, v Value) Value {
	return e.heap.New(&Quote{Kind: kind, Value: v})
}

// List allocates a proper list of vs. The elements of vs are forwarded in
// place if a collection happens, so vs may live on the Go heap.
func (e *Engine) List(vs ...Value) Value {
	g := e.heap.Guard(func(c *Collector) { c.ForwardAll(vs) })
	defer g.Release()
	list := Nil
	for i := len(vs) - 1; i >= 0; i-- {
		list = e.Cons(vs[i], list)
	}
	return list
}

// PairOf returns the pair behind v.
func (e *Engine) PairOf(v Value) (*Pair, bool) {
	p, ok := e.object(v).(*Pair)
	return p, ok
}

// StringOf returns the text of a string value.
func (e *Engine) StringOf(v Value) (string, bool) {
	if s, ok := e.object(v).(*String); ok {
		return s.Text, true
	}
	return "", false
}

// ErrorOf returns the error value behind v.
func (e *Engine) ErrorOf(v Value) (*ErrorValue, bool) {
	ev, ok := e.object(v).(*ErrorValue)
	return ev, ok
}

// Slice collects the elements of a proper list.
func (e *Engine) Slice(list Value) ([]Value, error) {
	var out []Value
	for list != Nil {
		p, ok := e.PairOf(list)
		if !ok {
			return nil, Errorf("must be a list")
		}
		out = append(out, p.Head)
		list = p.Tail
	}
	return out, nil
}
