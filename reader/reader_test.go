package reader

import (
	"errors"
	"testing"

	"github.com/lilis-lang/lilis/vm"
)

func newEngine(t *testing.T) *vm.Engine {
	t.Helper()
	return vm.NewEngine(vm.DefaultOptions())
}

func TestReadForms(t *testing.T) {
	t.Parallel()
	tests := []struct {
		input string
		want  string
	}{
		{"", "()"},
		{"42", "(42)"},
		{"foo bar", "(foo bar)"},
		{"(f x y)", "((f x y))"},
		{"()", "(())"},
		{"(a . b)", "((a . b))"},
		{"(a b . c)", "((a b . c))"},
		{"'x", "('x)"},
		{"`(a ,b ,@c)", "(`(a ,b ,@c))"},
		{"; comment\n(a) ; trailing\n", "((a))"},
		{"#t", "(#t)"},
		{"-7 +3 0x1F 017", "(-7 3 31 15)"},
		{"- -x", "(- -x)"},
		{`"a\tb\"c"`, `("a\tb\"c")`},
		{"(a(b)c)", "((a (b) c))"},
		{"x\"s\"", `(x "s")`},
	}
	for _, tc := range tests {
		e := newEngine(t)
		v, err := Read(e, "test.lisp", tc.input)
		if err != nil {
			t.Errorf("Read(%q): unexpected error: %v", tc.input, err)
			continue
		}
		if got := e.Format(v); got != tc.want {
			t.Errorf("Read(%q) = %s, want %s", tc.input, got, tc.want)
		}
	}
}

func TestReadErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		input      string
		message    string
		incomplete bool
	}{
		{"(a b", msgEOF, true},
		{"(a . b", msgEOF, true},
		{`"abc`, msgEOF, true},
		{"'", msgEOF, true},
		{")", msgUnexpected, false},
		{"(a . b c)", msgCloseParen, false},
		{"( . b)", msgLexical, false},
		{`"\q"`, msgLexical, false},
		{"1.5", msgFloat, false},
		{"1.5e3", msgFloat, false},
		{"08", msgLexical, false},
		{"12abc", msgLexical, false},
		{"0x", msgLexical, false},
		{"99999999999999999999", msgRange, false},
		{"2305843009213693952", msgRange, false},
	}
	for _, tc := range tests {
		e := newEngine(t)
		_, err := Read(e, "test.lisp", tc.input)
		if err == nil {
			t.Errorf("Read(%q): expected error %q", tc.input, tc.message)
			continue
		}
		var le *vm.Error
		if !errors.As(err, &le) {
			t.Errorf("Read(%q): error type = %T, want *vm.Error", tc.input, err)
			continue
		}
		if le.Message != tc.message {
			t.Errorf("Read(%q): message = %q, want %q", tc.input, le.Message, tc.message)
		}
		if got := Incomplete(err); got != tc.incomplete {
			t.Errorf("Incomplete(Read(%q)) = %v, want %v", tc.input, got, tc.incomplete)
		}
	}
}

func TestReadIntegerBounds(t *testing.T) {
	t.Parallel()
	e := newEngine(t)
	v, err := Read(e, "test.lisp", "2305843009213693951 -2305843009213693952")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	forms, err := e.Slice(v)
	if err != nil {
		t.Fatalf("Slice: %v", err)
	}
	if got := forms[0].Int(); got != vm.MaxInt {
		t.Errorf("forms[0] = %d, want %d", got, vm.MaxInt)
	}
	if got := forms[1].Int(); got != vm.MinInt {
		t.Errorf("forms[1] = %d, want %d", got, vm.MinInt)
	}
}

func TestReadPositions(t *testing.T) {
	t.Parallel()
	e := newEngine(t)
	src := "(a)\n  (f\tx)\n"
	v, err := Read(e, "pos.lisp", src)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	top, _ := e.PairOf(v)
	if top.At == nil || top.At.Line != 1 || top.At.Column != 1 {
		t.Errorf("first form at %v, want 1:1", top.At)
	}
	second, _ := e.PairOf(top.Tail)
	want := vm.Position{Path: "pos.lisp", Line: 2, Column: 3, LineOffset: 4}
	if second.At == nil || *second.At != want {
		t.Errorf("second form at %+v, want %+v", second.At, want)
	}

	// Inside the list, each cell is located at its element.
	call, _ := e.PairOf(second.Head)
	if call.At == nil || call.At.Column != 4 {
		t.Errorf("head f at %v, want column 4", call.At)
	}
	arg, _ := e.PairOf(call.Tail)
	if arg.At == nil || arg.At.Column != 6 {
		t.Errorf("argument x at %v, want column 6", arg.At)
	}
}

func TestReadErrorPosition(t *testing.T) {
	t.Parallel()
	e := newEngine(t)
	_, err := Read(e, "err.lisp", "(a\n  b) )")
	var le *vm.Error
	if !errors.As(err, &le) {
		t.Fatalf("expected *vm.Error, got %v", err)
	}
	if len(le.Backtrace) != 1 {
		t.Fatalf("backtrace length = %d, want 1", len(le.Backtrace))
	}
	got := le.Backtrace[0]
	if got.Line != 2 || got.Column != 6 || got.LineOffset != 3 {
		t.Errorf("error at %+v, want line 2 column 6 offset 3", got)
	}
}

func TestReadSymbolsInterned(t *testing.T) {
	t.Parallel()
	e := newEngine(t)
	v, err := Read(e, "test.lisp", "foo foo bar")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	forms, _ := e.Slice(v)
	if forms[0] != forms[1] {
		t.Errorf("foo read twice gave %v and %v, want identical", forms[0], forms[1])
	}
	if forms[0] == forms[2] {
		t.Errorf("foo and bar are identical")
	}
}

func TestReadUnderCollection(t *testing.T) {
	t.Parallel()
	opts := vm.DefaultOptions()
	opts.Debug = true
	e := vm.NewEngine(opts)
	src := `(define (f x) (if x '(1 2 . 3) "str")) ,@y`
	v, err := Read(e, "gc.lisp", src)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	want := `((define (f x) (if x '(1 2 . 3) "str")) ,@y)`
	if got := e.Format(v); got != want {
		t.Errorf("Read = %s, want %s", got, want)
	}
}

func TestFormattedStringsReadBack(t *testing.T) {
	t.Parallel()
	e := newEngine(t)
	texts := []string{
		"plain",
		"nul\x00byte",
		"bell\a back\b feed\f",
		"line\nreturn\rtab\tvtab\v",
		`quote" slash\`,
		"unicode λ ok",
	}
	for _, text := range texts {
		printed := e.Format(e.NewString(text))
		v, err := Read(e, "echo.lisp", printed)
		if err != nil {
			t.Errorf("Read(%q): %v", printed, err)
			continue
		}
		forms, _ := e.Slice(v)
		got, ok := e.StringOf(forms[0])
		if !ok || got != text {
			t.Errorf("Format(%q) = %s read back as %q", text, printed, got)
		}
	}
	if got := e.Format(e.NewString("a\x00b")); got != `"a\0b"` {
		t.Errorf("Format NUL = %s, want %s", got, `"a\0b"`)
	}
}
