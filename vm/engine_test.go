package vm_test

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lilis-lang/lilis/reader"
	"github.com/lilis-lang/lilis/vm"
)

func newEngine(t *testing.T, debug bool) *vm.Engine {
	t.Helper()
	opts := vm.DefaultOptions()
	opts.Debug = debug
	opts.Reader = reader.Read
	opts.Stdout = io.Discard
	return vm.NewEngine(opts)
}

// eval runs src as a fresh module located at path.
func eval(e *vm.Engine, path, src string) (vm.Value, error) {
	forms, err := reader.Read(e, path, src)
	if err != nil {
		return vm.Nil, err
	}
	r := e.Pin(forms)
	defer r.Release()
	m := e.NewModule("test", path)
	return e.RunModule(m, r.Get())
}

// modes runs fn once normally and once collecting before every allocation;
// results must not depend on when collections happen.
func modes(t *testing.T, fn func(t *testing.T, debug bool)) {
	for _, debug := range []bool{false, true} {
		debug := debug
		name := "normal"
		if debug {
			name = "debug"
		}
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			fn(t, debug)
		})
	}
}

// ---------------------------------------------------------------------------
// Evaluation
// ---------------------------------------------------------------------------

var evalTests = []struct {
	name string
	src  string
	want string
}{
	{"integer", "42", "42"},
	{"empty", "", "()"},
	{"quote", "'(a b . c)", "(a b . c)"},
	{"string", `"hi"`, `"hi"`},
	{"arithmetic", "(+ 1 (* 2 3) (- 10 4))", "13"},
	{"negate", "(- 5)", "-5"},
	{"if true", "(if (< 1 2) 'yes 'no)", "yes"},
	{"if false", "(if (< 2 1) 'yes 'no)", "no"},
	{"if no else", "(if () 'yes)", "()"},
	{"zero is true", "(if 0 'yes 'no)", "yes"},
	{"begin", "(begin 1 2 3)", "3"},
	{"empty begin", "(begin)", "()"},
	{"define", "(define a 5) (+ a a)", "10"},
	{"lambda", "((lambda (x y) (cons x y)) 1 2)", "(1 . 2)"},
	{"empty body", "((lambda ()))", "()"},
	{"rest list", "((lambda (a . r) r) 1 2 3)", "(2 3)"},
	{"rest symbol", "((lambda args args))", "()"},
	{"rest empty", "((lambda (a . r) (cons a r)) 1)", "(1)"},
	{"nested closure", "(define add (lambda (a) (lambda (b) (+ a b)))) ((add 3) 4)", "7"},
	{"shadowing builtin", "(define car (lambda (x) 'mine)) (car '(1))", "mine"},
	{"predicates", "(list (pair? '(1)) (null? ()) (integer? 1) (string? \"s\") (symbol? 'a) (eq? 'a 'a) (not ()))", "(#t #t #t #t #t #t #t)"},
	{"eq distinct", "(eq? 'a 'b)", "()"},
	{"car cdr", "(list (car '(1 2)) (cdr '(1 2)))", "(1 (2))"},
	{"append", "(append '(1 2) '(3) '(4 5))", "(1 2 3 4 5)"},
	{"apply", "(apply + 1 2 (list 3 4))", "10"},
	{"apply list only", "(apply list '(a b))", "(a b)"},
	{"call with expansion", "(define rest (list 2 3)) (+ 1 . rest)", "6"},
	{"tail call with expansion", "(define f (lambda (r) (list . r))) (f '(1 2))", "(1 2)"},
	{"quasiquote", "(define b 2) (define c (list 3 4)) `(a ,b ,@c 5)", "(a 2 3 4 5)"},
	{"quasiquote constant", "`(a (b c))", "(a (b c))"},
	{"quasiquote nested quote", "(define x 1) `(a '(,x))", "(a '(1))"},
	{"quasiquote splice tail", "(define c (list 1 2)) `(,@c)", "(1 2)"},
	{"macro", "(define-macro swap (a b) (list b a)) (swap 1 -)", "-1"},
	{"macro lambda syntax", "(define-macro m (lambda (a) (list 'quote a))) (m foo)", "foo"},
	{"macro quasiquote", "(define-macro unless (c . body) `(if ,c () (begin ,@body))) (unless () 1 2)", "2"},
	{"gensym distinct", "(eq? (gensym) (gensym))", "()"},
	{"gensym is symbol", "(symbol? (gensym))", "#t"},
	{"set! local", "(define n 1) (set! n 5) n", "5"},
	{"set! value", "(define n 1) (set! n 7)", "7"},
	{
		"closures share a variable",
		`(define make (lambda ()
		   (define n 0)
		   (list (lambda () (set! n (+ n 1)) n) (lambda () n))))
		 (define p (make))
		 ((car p))
		 ((car p))
		 ((car (cdr p)))`,
		"2",
	},
	{
		"counter scenario",
		"(define x 1) (define f (lambda () (set! x (+ x 1)) x)) (define a (f)) (define b (f)) (list a b)",
		"(2 3)",
	},
	{
		"mutual recursion",
		`(define odd ())
		 (define even (lambda (n) (if (= n 0) #t (odd (- n 1)))))
		 (set! odd (lambda (n) (if (= n 0) () (even (- n 1)))))
		 (list (even 10) (odd 7))`,
		"(#t #t)",
	},
}

func TestEval(t *testing.T) {
	for _, tc := range evalTests {
		t.Run(tc.name, func(t *testing.T) {
			modes(t, func(t *testing.T, debug bool) {
				e := newEngine(t, debug)
				v, err := eval(e, "eval.lisp", tc.src)
				if err != nil {
					t.Fatalf("eval: %v", err)
				}
				if got := e.Format(v); got != tc.want {
					t.Errorf("eval(%q) = %s, want %s", tc.src, got, tc.want)
				}
			})
		})
	}
}

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

var errorTests = []struct {
	name    string
	src     string
	message string
}{
	{"unbound", "undefined-thing", "not found: undefined-thing"},
	{"calling nil", "(())", "calling nil"},
	{"not callable", "(1 2)", "not callable: 1"},
	{"arity", "((lambda (x) x))", "wrong number of arguments: want 1, got 0"},
	{"too few with rest", "((lambda (a b . r) r) 1)", "too few arguments: want at least 2, got 1"},
	{"cast", "(car 1)", "car: must be a pair: 1"},
	{"integer cast", "(+ 1 'a)", "+: must be an integer: a"},
	{"primitive arity", "(cons 1)", "cons: wrong number of arguments: want 2, got 1"},
	{"error", `(error "bad thing" 'x 2)`, "bad thing: x 2"},
	{"rethrow non-error", "(rethrow 'oops)", "uncaught: oops"},
	{"no prompt", "(abort-to-prompt 'nowhere 1)", "no matching prompt found"},
	{"expansion not a list", "(+ 1 . 2)", "must be a list"},
	{"malformed lambda", "(lambda)", "malformed lambda"},
	{"lambda parameter", "(lambda (1) 1)", "must be a symbol: 1"},
	{"if arity", "(if 1 2 3 4)", "if: must be nil"},
	{"define target", "(define 1 2)", "define: must be a symbol: 1"},
	{"set! immutable", "(set! car 1)", "not mutable"},
	{"unquote outside", ",x", "unquote outside quasiquote"},
	{"splice outside list", "`,@x", "unquote-splicing outside a list"},
	{"macro error", "(define-macro m () (car 1)) (m)", "car: must be a pair: 1"},
	{"import missing", "(import no-such-module)", "module not found: no-such-module"},
	{"export missing", "(export nothing-here)", "not found: nothing-here"},
	{"sum overflow", "(+ 2305843009213693951 1)", "+: integer out of range"},
	{"difference overflow", "(- -2305843009213693952 1)", "-: integer out of range"},
	{"negation overflow", "(- -2305843009213693952)", "-: integer out of range"},
	{"product overflow", "(* 2305843009213693951 2)", "*: integer out of range"},
	{"product int64 overflow", "(* 2305843009213693951 2305843009213693951)", "*: integer out of range"},
	{"macro reads call-time local", "(define f (lambda (x) (define-macro m () x) (m))) (f 1)", "out of scope"},
}

func TestErrors(t *testing.T) {
	for _, tc := range errorTests {
		t.Run(tc.name, func(t *testing.T) {
			modes(t, func(t *testing.T, debug bool) {
				e := newEngine(t, debug)
				_, err := eval(e, filepath.Join(t.TempDir(), "err.lisp"), tc.src)
				if err == nil {
					t.Fatalf("eval(%q): expected error %q", tc.src, tc.message)
				}
				var le *vm.Error
				if !errors.As(err, &le) {
					t.Fatalf("error type = %T, want *vm.Error", err)
				}
				if le.Message != tc.message {
					t.Errorf("message = %q, want %q", le.Message, tc.message)
				}
			})
		})
	}
}

func TestEngineUsableAfterError(t *testing.T) {
	t.Parallel()
	e := newEngine(t, false)
	if _, err := eval(e, "a.lisp", "(define f (lambda () (car 1))) (list 1 (f))"); err == nil {
		t.Fatal("expected an error")
	}
	v, err := eval(e, "b.lisp", "(+ 1 2)")
	if err != nil {
		t.Fatalf("eval after error: %v", err)
	}
	if got := e.Format(v); got != "3" {
		t.Errorf("eval after error = %s, want 3", got)
	}
}

func TestArityErrorBacktrace(t *testing.T) {
	t.Parallel()
	e := newEngine(t, false)
	src := "(define f (lambda () 1))\n(define g (lambda () (f 1)))\n(g)\n'unreached\n"
	_, err := eval(e, "arity.lisp", src)
	var le *vm.Error
	if !errors.As(err, &le) {
		t.Fatalf("expected *vm.Error, got %v", err)
	}
	if le.Message != "wrong number of arguments: want 0, got 1" {
		t.Errorf("message = %q", le.Message)
	}
	if len(le.Backtrace) == 0 {
		t.Fatal("empty backtrace")
	}
	// Innermost entry is the call (f 1), inside g; g's call comes next.
	inner := le.Backtrace[0]
	if inner.Path != "arity.lisp" || inner.Line != 2 || inner.Column != 22 {
		t.Errorf("innermost entry = %v, want arity.lisp:2:22", inner)
	}
	if len(le.Backtrace) != 2 || le.Backtrace[1].Line != 3 {
		t.Errorf("backtrace = %v, want the call (g) on line 3 second", le.Backtrace)
	}
}

func TestCompileErrorBacktrace(t *testing.T) {
	t.Parallel()
	e := newEngine(t, false)
	_, err := eval(e, "compile.lisp", "(define f\n  (lambda (x)\n    (+ x y)))")
	var le *vm.Error
	if !errors.As(err, &le) {
		t.Fatalf("expected *vm.Error, got %v", err)
	}
	if le.Message != "not found: y" {
		t.Errorf("message = %q, want not found: y", le.Message)
	}
	if got := le.Backtrace[0]; got.Line != 3 || got.Column != 10 {
		t.Errorf("innermost entry = %v, want line 3 column 10", got)
	}
	if last := le.Backtrace[len(le.Backtrace)-1]; last.Line != 1 {
		t.Errorf("outermost entry = %v, want line 1", last)
	}
}

// ---------------------------------------------------------------------------
// Catch
// ---------------------------------------------------------------------------

var catchTests = []struct {
	name string
	src  string
	want string
}{
	{"error value", `(catch (lambda () (error "boom" 1 2)) (lambda (e) (error-message e)))`, `"boom: 1 2"`},
	{"no error", `(catch (lambda () 'fine) (lambda (e) 'handled))`, "fine"},
	{"runtime error", `(catch (lambda () (car 1)) (lambda (e) (error-message e)))`, `"car: must be a pair: 1"`},
	{"arity error", `(catch (lambda () ((lambda () 1) 2)) (lambda (e) (error? e)))`, "#t"},
	{
		"rethrow",
		`(catch (lambda ()
		          (catch (lambda () (error "inner"))
		                 (lambda (e) (rethrow e))))
		        (lambda (e) (list 'outer (error-message e))))`,
		`(outer "inner")`,
	},
	{"rethrow any value", `(catch (lambda () (rethrow 'v)) (lambda (e) e))`, "v"},
	{"deep unwind", `(define f (lambda (n) (if (= n 0) (error "bottom") (cons n (f (- n 1))))))
	                 (catch (lambda () (f 50)) (lambda (e) (error-message e)))`, `"bottom"`},
	{"handler error caught outside", `(catch (lambda () (catch (lambda () (car 1)) (lambda (e) (cdr 2)))) (lambda (e) (error-message e)))`, `"cdr: must be a pair: 2"`},
	{"catch result in expression", `(+ 1 (catch (lambda () (error "x")) (lambda (e) 41)))`, "42"},
}

func TestCatch(t *testing.T) {
	for _, tc := range catchTests {
		t.Run(tc.name, func(t *testing.T) {
			modes(t, func(t *testing.T, debug bool) {
				e := newEngine(t, debug)
				v, err := eval(e, "catch.lisp", tc.src)
				if err != nil {
					t.Fatalf("eval: %v", err)
				}
				if got := e.Format(v); got != tc.want {
					t.Errorf("eval = %s, want %s", got, tc.want)
				}
			})
		})
	}
}

// ---------------------------------------------------------------------------
// Continuations
// ---------------------------------------------------------------------------

var continuationTests = []struct {
	name string
	src  string
	want string
}{
	{
		"handler receives continuation and value",
		`(call-with-prompt 'tag
		   (lambda (k v) (list (pair? k) v))
		   (lambda () (abort-to-prompt 'tag 5)))`,
		"(() 5)",
	},
	{
		"thunk returns normally",
		`(call-with-prompt 'tag (lambda (k v) 'aborted) (lambda () 'normal))`,
		"normal",
	},
	{
		"resume delivers the value",
		`(define k ())
		 (define first (call-with-prompt 'tag
		   (lambda (c v) (set! k c) v)
		   (lambda () (abort-to-prompt 'tag 5))))
		 (list first (k 'w))`,
		"(5 w)",
	},
	{
		"multi-shot",
		`(define k ())
		 (call-with-prompt 'tag
		   (lambda (c v) (set! k c) v)
		   (lambda () (+ 10 (abort-to-prompt 'tag 0))))
		 (list (k 1) (k 2) (k 3))`,
		"(11 12 13)",
	},
	{
		"resumptions share scopes",
		`(define k ())
		 (call-with-prompt 'tag
		   (lambda (c v) (set! k c) v)
		   (lambda ()
		     (define n 0)
		     (abort-to-prompt 'tag 0)
		     (set! n (+ n 1))
		     n))
		 (list (k ()) (k ()))`,
		"(1 2)",
	},
	{
		"several payload values",
		`(call-with-prompt 'tag (lambda (k a b c) (list a b c)) (lambda () (abort-to-prompt 'tag 1 2 3)))`,
		"(1 2 3)",
	},
	{
		"no payload",
		`(call-with-prompt 'tag (lambda (k) 'empty) (lambda () (abort-to-prompt 'tag)))`,
		"empty",
	},
	{
		"nearest matching tag",
		`(call-with-prompt 'outer
		   (lambda (k v) (list 'outer v))
		   (lambda ()
		     (call-with-prompt 'inner
		       (lambda (k v) (list 'inner v))
		       (lambda () (abort-to-prompt 'outer 1)))))`,
		"(outer 1)",
	},
	{
		"generator",
		`(define yield (lambda (v) (abort-to-prompt 'gen v)))
		 (call-with-prompt 'gen
		   (lambda (k v) (cons v (k ())))
		   (lambda () (yield 1) (yield 2) (yield 3) ()))`,
		"(1 2 3)",
	},
	{
		// The resumed segment carries its own prompt, so the second yield
		// is caught inside the resumption and the outer collect sees one.
		"resumption reinstates its prompt",
		`(define yield (lambda (v) (abort-to-prompt 'gen v)))
		 (define collect (lambda (thunk)
		   (call-with-prompt 'gen
		     (lambda (k v) (cons v (collect (lambda () (k ())))))
		     (lambda () (thunk) ()))))
		 (collect (lambda () (yield 1) (yield 2) (yield 3)))`,
		"(1)",
	},
	{
		"catch inside prompt",
		`(call-with-prompt 'tag
		   (lambda (k v) v)
		   (lambda () (catch (lambda () (abort-to-prompt 'tag 'through)) (lambda (e) 'caught))))`,
		"through",
	},
}

func TestContinuations(t *testing.T) {
	for _, tc := range continuationTests {
		t.Run(tc.name, func(t *testing.T) {
			modes(t, func(t *testing.T, debug bool) {
				e := newEngine(t, debug)
				v, err := eval(e, "k.lisp", tc.src)
				if err != nil {
					t.Fatalf("eval: %v", err)
				}
				if got := e.Format(v); got != tc.want {
					t.Errorf("eval = %s, want %s", got, tc.want)
				}
			})
		})
	}
}

// ---------------------------------------------------------------------------
// Macros
// ---------------------------------------------------------------------------

func TestMacroExpandsToLiteralSymbol(t *testing.T) {
	t.Parallel()
	e := newEngine(t, false)
	src := "(define-macro m (lambda (a) (list 'quote a))) (m foo)"
	forms, err := reader.Read(e, "macro.lisp", src)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	fr := e.Pin(forms)
	defer fr.Release()
	code, err := e.CompileModule(e.NewModule("macro", ""), fr.Get())
	if err != nil {
		t.Fatalf("CompileModule: %v", err)
	}
	cr := e.Pin(code)
	defer cr.Release()

	// foo is unbound, so compiling it as a reference would have failed;
	// the expansion must have made it a literal.
	c, _ := e.CodeOf(cr.Get())
	found := false
	for _, lit := range c.Literals {
		if name, ok := e.SymbolName(lit); ok && name == "foo" {
			found = true
		}
	}
	if !found {
		t.Errorf("literal foo missing from:\n%s", e.Disassemble(c))
	}
	v, err := e.Run(cr.Get(), vm.Nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := e.Format(v); got != "foo" {
		t.Errorf("(m foo) = %s, want foo", got)
	}
}

// ---------------------------------------------------------------------------
// Tail calls and overflow
// ---------------------------------------------------------------------------

const loopSource = `
(define loop (lambda (n acc)
  (if (= n 0) acc (loop (- n 1) (+ acc 1)))))
(loop %s 0)`

func runLoop(t *testing.T, n string) (*vm.Engine, string) {
	t.Helper()
	e := newEngine(t, false)
	v, err := eval(e, "loop.lisp", strings.Replace(loopSource, "%s", n, 1))
	if err != nil {
		t.Fatalf("loop %s: %v", n, err)
	}
	return e, e.Format(v)
}

func TestTailCallsRunInBoundedSpace(t *testing.T) {
	t.Parallel()
	small, got := runLoop(t, "10")
	if got != "10" {
		t.Errorf("loop 10 = %s, want 10", got)
	}
	large, got := runLoop(t, "100000")
	if got != "100000" {
		t.Errorf("loop 100000 = %s, want 100000", got)
	}
	if s, l := small.Heap().Stats().Capacity, large.Heap().Stats().Capacity; l > 2*s {
		t.Errorf("heap grew from %d to %d bytes with the iteration count", s, l)
	}
}

func TestTailCallThroughIfAndBegin(t *testing.T) {
	t.Parallel()
	e := newEngine(t, false)
	src := `(define loop (lambda (n) (begin 'x (if (= n 0) 'done (begin (loop (- n 1)))))))
	        (loop 50000)`
	v, err := eval(e, "loop.lisp", src)
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	if got := e.Format(v); got != "done" {
		t.Errorf("loop = %s, want done", got)
	}
}

func TestTailCallsThroughApplyAndExpansion(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"apply", `(define loop (lambda (n) (if (= n 0) 'done (apply loop (list (- n 1))))))
		           (loop 100000)`},
		{"expansion", `(define loop (lambda (n) (if (= n 0) 'done ((lambda (xs) (loop . xs)) (list (- n 1))))))
		               (loop 100000)`},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			// Far fewer frames and slots than iterations: any per-iteration
			// growth overflows.
			opts := vm.DefaultOptions()
			opts.FrameCount = 32
			opts.StackSize = 128
			opts.Reader = reader.Read
			opts.Stdout = io.Discard
			e := vm.NewEngine(opts)
			v, err := eval(e, "loop.lisp", tc.src)
			if err != nil {
				t.Fatalf("eval: %v", err)
			}
			if got := e.Format(v); got != "done" {
				t.Errorf("loop = %s, want done", got)
			}
		})
	}
}

func TestDeepRecursionOverflows(t *testing.T) {
	t.Parallel()
	e := newEngine(t, false)
	_, err := eval(e, "deep.lisp", "(define f (lambda (n) (+ 1 (f (- n 1))))) (f 1)")
	if err == nil {
		t.Fatal("unbounded recursion did not overflow")
	}
	if !strings.HasPrefix(err.(*vm.Error).Message, "stack overflow") {
		t.Errorf("message = %q, want a stack overflow", err.(*vm.Error).Message)
	}
}

func TestOverflowIsCatchable(t *testing.T) {
	t.Parallel()
	e := newEngine(t, false)
	src := `(define f (lambda (n) (+ 1 (f (- n 1)))))
	        (catch (lambda () (f 1)) (lambda (e) 'recovered))`
	v, err := eval(e, "deep.lisp", src)
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	if got := e.Format(v); got != "recovered" {
		t.Errorf("eval = %s, want recovered", got)
	}
}

// ---------------------------------------------------------------------------
// Modules
// ---------------------------------------------------------------------------

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const libSource = `
(define counter 0)
(define bump (lambda () (set! counter (+ counter 1)) counter))
(define-macro twice (x) (list 'begin x x))
(define secret 1)
(export counter)
(export bump)
(export twice)
`

func TestImportExport(t *testing.T) {
	modes(t, func(t *testing.T, debug bool) {
		dir := t.TempDir()
		writeFile(t, dir, "lib.lisp", libSource)
		e := newEngine(t, debug)

		main := filepath.Join(dir, "main.lisp")
		src := `(import lib)
		        (twice (bump))
		        (define a (list (bump) counter))
		        (import lib)
		        (list a (bump))`
		v, err := eval(e, main, src)
		if err != nil {
			t.Fatalf("eval: %v", err)
		}
		// Exported variables are boxed at export time, and the second
		// import is served from the memo while the module is reachable.
		if got := e.Format(v); got != "((3 0) 4)" {
			t.Errorf("eval = %s, want ((3 0) 4)", got)
		}

		_, err = eval(e, main, "(import lib) secret")
		if err == nil || err.(*vm.Error).Message != "not found: secret" {
			t.Errorf("unexported binding: err = %v, want not found: secret", err)
		}
	})
}

func TestImportSharesVariables(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, dir, "cfg.lisp", "(define level 1) (export level)")
	writeFile(t, dir, "other.lisp", "(import cfg) (define get-level (lambda () level)) (export get-level)")
	e := newEngine(t, false)
	main := filepath.Join(dir, "main.lisp")
	v, err := eval(e, main, `(import "cfg") (import other) (set! level (+ level 4)) (get-level)`)
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	if got := e.Format(v); got != "5" {
		t.Errorf("level seen by another importer = %s, want 5", got)
	}
}

func TestImportSearchPath(t *testing.T) {
	t.Parallel()
	lib := t.TempDir()
	writeFile(t, lib, "util.lisp", "(define id (lambda (x) x)) (export id)")
	opts := vm.DefaultOptions()
	opts.Reader = reader.Read
	opts.ModulePaths = []string{lib}
	e := vm.NewEngine(opts)
	v, err := eval(e, filepath.Join(t.TempDir(), "main.lisp"), "(import util) (id 'found)")
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	if got := e.Format(v); got != "found" {
		t.Errorf("eval = %s, want found", got)
	}
}

func TestImportFailureNotMemoized(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, dir, "broken.lisp", "(car 1)")
	e := newEngine(t, false)
	main := filepath.Join(dir, "main.lisp")
	for i := 0; i < 2; i++ {
		_, err := eval(e, main, "(import broken)")
		if err == nil || err.(*vm.Error).Message != "car: must be a pair: 1" {
			t.Errorf("attempt %d: err = %v, want car: must be a pair: 1", i, err)
		}
	}
}

func TestRegisterHostFunction(t *testing.T) {
	t.Parallel()
	e := newEngine(t, false)
	var seen []string
	e.RegisterPrimitive("host-note", 1, func(e *vm.Engine, args []vm.Value) (vm.Value, error) {
		seen = append(seen, e.Display(args[0]))
		return vm.FromInt(int64(len(seen))), nil
	})
	v, err := eval(e, "host.lisp", `(host-note 'a) (host-note "b")`)
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	if got := e.Format(v); got != "2" {
		t.Errorf("eval = %s, want 2", got)
	}
	if strings.Join(seen, ",") != "a,b" {
		t.Errorf("seen = %v, want [a b]", seen)
	}
}

func TestPrint(t *testing.T) {
	t.Parallel()
	var out strings.Builder
	opts := vm.DefaultOptions()
	opts.Stdout = &out
	e := vm.NewEngine(opts)
	if _, err := eval(e, "print.lisp", `(print "x =" 1 '(a "b"))`); err != nil {
		t.Fatalf("eval: %v", err)
	}
	if got, want := out.String(), "x = 1 (a b)\n"; got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestIndependentEngines(t *testing.T) {
	t.Parallel()
	for i := 0; i < 4; i++ {
		i := i
		t.Run("engine", func(t *testing.T) {
			t.Parallel()
			e := newEngine(t, i%2 == 0)
			v, err := eval(e, "par.lisp", strings.Replace(loopSource, "%s", "2000", 1))
			if err != nil {
				t.Fatalf("eval: %v", err)
			}
			if got := e.Format(v); got != "2000" {
				t.Errorf("loop = %s, want 2000", got)
			}
		})
	}
}
