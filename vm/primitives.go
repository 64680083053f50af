package vm

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Primitive: a native callable over an argument slice
// ---------------------------------------------------------------------------

// PrimitiveFunc implements a primitive. args aliases the live operand
// stack, so its elements stay current across allocations made by the
// primitive.
type PrimitiveFunc func(e *Engine, args []Value) (Value, error)

// Primitive is a static native callable. Arity -1 accepts any count.
type Primitive struct {
	Name  string
	Arity int
	Fn    PrimitiveFunc
}

func (p *Primitive) Call(e *Engine, argc int) error {
	if p.Arity >= 0 && argc != p.Arity {
		return Errorf("%s: wrong number of arguments: want %d, got %d", p.Name, p.Arity, argc)
	}
	v, err := p.Fn(e, e.stack[e.sp-argc:e.sp])
	if err != nil {
		return err
	}
	e.sp -= argc
	e.stack[e.sp-1] = v
	return nil
}

// NewPrimitive creates a static primitive value.
func (e *Engine) NewPrimitive(name string, arity int, fn PrimitiveFunc) Value {
	return e.addStatic(&Primitive{Name: name, Arity: arity, Fn: fn})
}

// NewCallable creates a static value for a native callable that manages
// the stack itself.
func (e *Engine) NewCallable(c Callable) Value {
	return e.addStatic(c)
}

// RegisterPrimitive binds a new primitive in the global module.
func (e *Engine) RegisterPrimitive(name string, arity int, fn PrimitiveFunc) {
	e.Register(e.global, name, e.NewPrimitive(name, arity, fn))
}

// ---------------------------------------------------------------------------
// Builtins
// ---------------------------------------------------------------------------

// RegisterBuiltins installs the special forms and the primitive library in
// the global module.
func (e *Engine) RegisterBuiltins() {
	e.registerForms()

	e.Register(e.global, "call-with-prompt", e.NewCallable(callWithPrompt{}))
	e.Register(e.global, "abort-to-prompt", e.NewCallable(abortToPrompt{}))
	e.Register(e.global, "catch", e.NewCallable(catchCall{}))
	e.Register(e.global, "apply", e.NewCallable(applyCall{}))

	e.consFn = e.NewPrimitive("cons", 2, primCons)
	e.appendFn = e.NewPrimitive("append", -1, primAppend)
	e.quoteFn = e.NewPrimitive("quote-wrap", 1, primQuoteWrap)
	e.Register(e.global, "cons", e.consFn)
	e.Register(e.global, "append", e.appendFn)

	e.RegisterPrimitive("eq?", 2, func(e *Engine, args []Value) (Value, error) {
		return FromBool(args[0] == args[1]), nil
	})
	e.RegisterPrimitive("not", 1, func(e *Engine, args []Value) (Value, error) {
		return FromBool(args[0] == Nil), nil
	})
	e.RegisterPrimitive("car", 1, func(e *Engine, args []Value) (Value, error) {
		p, err := e.castPair("car", args[0])
		if err != nil {
			return Nil, err
		}
		return p.Head, nil
	})
	e.RegisterPrimitive("cdr", 1, func(e *Engine, args []Value) (Value, error) {
		p, err := e.castPair("cdr", args[0])
		if err != nil {
			return Nil, err
		}
		return p.Tail, nil
	})
	e.RegisterPrimitive("list", -1, func(e *Engine, args []Value) (Value, error) {
		return e.List(args...), nil
	})
	e.RegisterPrimitive("gensym", 0, func(e *Engine, args []Value) (Value, error) {
		return e.heap.New(&Symbol{Name: "g-" + uuid.New().String()}), nil
	})
	e.RegisterPrimitive("print", -1, func(e *Engine, args []Value) (Value, error) {
		parts := make([]string, len(args))
		for i, a := range args {
			parts[i] = e.Display(a)
		}
		fmt.Fprintln(e.stdout, strings.Join(parts, " "))
		return Nil, nil
	})

	e.registerPredicates()
	e.registerArithmetic()
	e.registerErrors()
}

func (e *Engine) castPair(name string, v Value) (*Pair, error) {
	p, ok := e.PairOf(v)
	if !ok {
		return nil, Errorf("%s: must be a pair: %s", name, e.Format(v))
	}
	return p, nil
}

func primCons(e *Engine, args []Value) (Value, error) {
	return e.Cons(args[0], args[1]), nil
}

// primAppend copies every list argument but the last, which is shared.
func primAppend(e *Engine, args []Value) (Value, error) {
	if len(args) == 0 {
		return Nil, nil
	}
	var items []Value
	g := e.heap.Guard(func(c *Collector) { c.ForwardAll(items) })
	defer g.Release()
	for _, list := range args[:len(args)-1] {
		elems, err := e.Slice(list)
		if err != nil {
			return Nil, Errorf("append: must be a list: %s", e.Format(list))
		}
		items = append(items, elems...)
	}
	result := args[len(args)-1]
	for i := len(items) - 1; i >= 0; i-- {
		result = e.Cons(items[i], result)
	}
	return result, nil
}

func primQuoteWrap(e *Engine, args []Value) (Value, error) {
	return e.NewQuote(KindQuote, args[0]), nil
}

func (e *Engine) registerPredicates() {
	is := func(name string, test func(e *Engine, v Value) bool) {
		e.RegisterPrimitive(name, 1, func(e *Engine, args []Value) (Value, error) {
			return FromBool(test(e, args[0])), nil
		})
	}
	is("pair?", func(e *Engine, v Value) bool { _, ok := e.PairOf(v); return ok })
	is("null?", func(e *Engine, v Value) bool { return v == Nil })
	is("integer?", func(e *Engine, v Value) bool { return v.IsInt() })
	is("string?", func(e *Engine, v Value) bool { _, ok := e.StringOf(v); return ok })
	is("symbol?", func(e *Engine, v Value) bool { _, ok := e.SymbolName(v); return ok })
	is("error?", func(e *Engine, v Value) bool { _, ok := e.ErrorOf(v); return ok })
}

func (e *Engine) registerArithmetic() {
	ints := func(name string, args []Value) ([]int64, error) {
		ns := make([]int64, len(args))
		for i, a := range args {
			if !a.IsInt() {
				return nil, Errorf("%s: must be an integer: %s", name, e.Format(a))
			}
			ns[i] = a.Int()
		}
		return ns, nil
	}
	e.RegisterPrimitive("+", -1, func(e *Engine, args []Value) (Value, error) {
		ns, err := ints("+", args)
		if err != nil {
			return Nil, err
		}
		var sum int64
		for _, n := range ns {
			if sum += n; !inRange(sum) {
				return Nil, Errorf("+: integer out of range")
			}
		}
		return FromInt(sum), nil
	})
	e.RegisterPrimitive("*", -1, func(e *Engine, args []Value) (Value, error) {
		ns, err := ints("*", args)
		if err != nil {
			return Nil, err
		}
		product := int64(1)
		for _, n := range ns {
			var ok bool
			if product, ok = mulInt(product, n); !ok {
				return Nil, Errorf("*: integer out of range")
			}
		}
		return FromInt(product), nil
	})
	e.RegisterPrimitive("-", -1, func(e *Engine, args []Value) (Value, error) {
		ns, err := ints("-", args)
		if err != nil {
			return Nil, err
		}
		switch len(ns) {
		case 0:
			return Nil, Errorf("-: wrong number of arguments: want at least 1, got 0")
		case 1:
			if !inRange(-ns[0]) {
				return Nil, Errorf("-: integer out of range")
			}
			return FromInt(-ns[0]), nil
		}
		d := ns[0]
		for _, n := range ns[1:] {
			if d -= n; !inRange(d) {
				return Nil, Errorf("-: integer out of range")
			}
		}
		return FromInt(d), nil
	})
	e.RegisterPrimitive("<", 2, func(e *Engine, args []Value) (Value, error) {
		ns, err := ints("<", args)
		if err != nil {
			return Nil, err
		}
		return FromBool(ns[0] < ns[1]), nil
	})
	e.RegisterPrimitive("=", 2, func(e *Engine, args []Value) (Value, error) {
		ns, err := ints("=", args)
		if err != nil {
			return Nil, err
		}
		return FromBool(ns[0] == ns[1]), nil
	})
}

// Operands are fixnums, so a single sum or difference cannot overflow int64;
// only the fixnum range needs checking.
func inRange(n int64) bool { return n >= MinInt && n <= MaxInt }

func mulInt(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	r := a * b
	if r/b != a {
		return 0, false
	}
	return r, inRange(r)
}

func (e *Engine) registerErrors() {
	e.RegisterPrimitive("error", -1, func(e *Engine, args []Value) (Value, error) {
		if len(args) == 0 {
			return Nil, Errorf("error: wrong number of arguments: want at least 1, got 0")
		}
		message := e.Display(args[0])
		irritants := e.List(args[1:]...)
		if len(args) > 1 {
			parts := make([]string, 0, len(args)-1)
			for _, a := range args[1:] {
				parts = append(parts, e.Format(a))
			}
			message += ": " + strings.Join(parts, " ")
		}
		v := e.heap.New(&ErrorValue{Message: message, Irritants: irritants})
		return Nil, &thrown{value: v}
	})
	e.RegisterPrimitive("rethrow", 1, func(e *Engine, args []Value) (Value, error) {
		return Nil, &thrown{value: args[0]}
	})
	e.RegisterPrimitive("error-message", 1, func(e *Engine, args []Value) (Value, error) {
		ev, ok := e.ErrorOf(args[0])
		if !ok {
			return Nil, Errorf("error-message: must be an error: %s", e.Format(args[0]))
		}
		return e.NewString(ev.Message), nil
	})
}
