package reader

import (
	"errors"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/lilis-lang/lilis/vm"
)

// ---------------------------------------------------------------------------
// Reader: S-expression source to engine values
// ---------------------------------------------------------------------------

const eof rune = -1

// Error messages. msgEOF marks input that is incomplete rather than wrong.
const (
	msgEOF        = "unexpected end of file"
	msgLexical    = "lexical error"
	msgCloseParen = "must be ')'"
	msgUnexpected = "unexpected ')'"
	msgFloat      = "floating point literals are not supported"
	msgRange      = "integer out of range"
)

// Reader reads the forms of one source text into heap values owned by an
// engine. Every pair it builds carries the position of its head element.
type Reader struct {
	e     *vm.Engine
	path  string
	input string

	pos       int  // offset of ch
	readPos   int  // offset after ch
	ch        rune // current character, eof at the end
	line      int  // line of ch (1-based)
	col       int  // column of ch (1-based)
	lineStart int  // offset of the start of ch's line

	at vm.Position // start of the current token
}

// New creates a reader for input. path is recorded in positions.
func New(e *vm.Engine, path, input string) *Reader {
	r := &Reader{
		e:     e,
		path:  path,
		input: input,
		line:  1,
		col:   1,
	}
	r.decode()
	r.skip()
	return r
}

// Read parses src into a proper list of its top-level forms. Its signature
// matches vm.ReaderFunc.
func Read(e *vm.Engine, path, src string) (vm.Value, error) {
	return New(e, path, src).ReadAll()
}

// Incomplete reports whether err means the input ended inside a form, so
// that more input could complete it.
func Incomplete(err error) bool {
	var le *vm.Error
	return errors.As(err, &le) && le.Message == msgEOF
}

// ReadAll reads every remaining form.
func (r *Reader) ReadAll() (vm.Value, error) {
	b := r.newBuilder()
	defer b.release()
	for r.ch != eof {
		at := r.position()
		v, err := r.expression()
		if err != nil {
			return vm.Nil, err
		}
		b.add(v, at)
	}
	return b.build(r.e), nil
}

// ---------------------------------------------------------------------------
// Characters
// ---------------------------------------------------------------------------

func (r *Reader) decode() {
	if r.readPos >= len(r.input) {
		r.ch = eof
		r.pos = len(r.input)
		return
	}
	ch, size := utf8.DecodeRuneInString(r.input[r.readPos:])
	r.ch = ch
	r.pos = r.readPos
	r.readPos += size
}

// advance moves past ch.
func (r *Reader) advance() {
	if r.ch == eof {
		return
	}
	if r.ch == '\n' {
		r.line++
		r.col = 1
		r.lineStart = r.readPos
	} else {
		r.col++
	}
	r.decode()
}

func (r *Reader) peek() rune {
	if r.readPos >= len(r.input) {
		return eof
	}
	ch, _ := utf8.DecodeRuneInString(r.input[r.readPos:])
	return ch
}

// skip passes whitespace and comments, then marks the start of the next
// token.
func (r *Reader) skip() {
	for {
		for r.ch != eof && unicode.IsSpace(r.ch) {
			r.advance()
		}
		if r.ch != ';' {
			break
		}
		for r.ch != eof && r.ch != '\n' {
			r.advance()
		}
	}
	r.mark()
}

func (r *Reader) mark() {
	r.at = vm.Position{Path: r.path, Line: r.line, Column: r.col, LineOffset: r.lineStart}
}

// next moves past ch and the whitespace after it.
func (r *Reader) next() {
	r.advance()
	r.skip()
}

func (r *Reader) position() *vm.Position {
	p := r.at
	return &p
}

// fail reports an error at the current character.
func (r *Reader) fail(message string) error {
	r.mark()
	return vm.ErrorAt(r.position(), "%s", message)
}

func delimiter(ch rune) bool {
	switch ch {
	case eof, '(', ')', ';', '"':
		return true
	}
	return unicode.IsSpace(ch)
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

func (r *Reader) expression() (vm.Value, error) {
	switch ch := r.ch; {
	case ch == eof:
		return vm.Nil, r.fail(msgEOF)
	case ch == ')':
		return vm.Nil, r.fail(msgUnexpected)
	case ch == '(':
		return r.list()
	case ch == '"':
		return r.string()
	case ch == '\'':
		r.next()
		return r.quoted(vm.KindQuote)
	case ch == '`':
		r.next()
		return r.quoted(vm.KindQuasiquote)
	case ch == ',':
		r.advance()
		if r.ch == '@' {
			r.next()
			return r.quoted(vm.KindUnquoteSplicing)
		}
		r.skip()
		return r.quoted(vm.KindUnquote)
	case isDigit(ch), (ch == '-' || ch == '+') && isDigit(r.peek()):
		return r.number()
	}
	return r.symbol()
}

func (r *Reader) quoted(kind vm.QuoteKind) (vm.Value, error) {
	v, err := r.expression()
	if err != nil {
		return vm.Nil, err
	}
	return r.e.NewQuote(kind, v), nil
}

// list reads a parenthesized list, possibly dotted.
func (r *Reader) list() (vm.Value, error) {
	r.next()
	b := r.newBuilder()
	defer b.release()
	for {
		switch {
		case r.ch == eof:
			return vm.Nil, r.fail(msgEOF)
		case r.ch == ')':
			r.next()
			return b.build(r.e), nil
		case r.ch == '.' && delimiter(r.peek()):
			if len(b.items) == 0 {
				return vm.Nil, r.fail(msgLexical)
			}
			r.next()
			tail, err := r.expression()
			if err != nil {
				return vm.Nil, err
			}
			b.tail = tail
			switch r.ch {
			case ')':
				r.next()
				return b.build(r.e), nil
			case eof:
				return vm.Nil, r.fail(msgEOF)
			}
			return vm.Nil, r.fail(msgCloseParen)
		}
		at := r.position()
		v, err := r.expression()
		if err != nil {
			return vm.Nil, err
		}
		b.add(v, at)
	}
}

var escapes = map[rune]rune{
	'"':  '"',
	'0':  0,
	'\\': '\\',
	'a':  '\a',
	'b':  '\b',
	'f':  '\f',
	'n':  '\n',
	'r':  '\r',
	't':  '\t',
	'v':  '\v',
}

func (r *Reader) string() (vm.Value, error) {
	r.advance()
	var sb strings.Builder
	for {
		switch r.ch {
		case eof:
			return vm.Nil, r.fail(msgEOF)
		case '"':
			r.next()
			return r.e.NewString(sb.String()), nil
		case '\\':
			r.advance()
			c, ok := escapes[r.ch]
			if !ok {
				if r.ch == eof {
					return vm.Nil, r.fail(msgEOF)
				}
				return vm.Nil, r.fail(msgLexical)
			}
			sb.WriteRune(c)
		default:
			sb.WriteRune(r.ch)
		}
		r.advance()
	}
}

// token consumes characters up to the next delimiter.
func (r *Reader) token() string {
	start := r.pos
	for !delimiter(r.ch) {
		r.advance()
	}
	return r.input[start:r.pos]
}

func (r *Reader) symbol() (vm.Value, error) {
	at := r.position()
	text := r.token()
	r.skip()
	switch text {
	case "":
		return vm.Nil, vm.ErrorAt(at, "%s", msgLexical)
	case "#t":
		return vm.True, nil
	}
	return r.e.Intern(text), nil
}

func isDigit(ch rune) bool { return ch >= '0' && ch <= '9' }

// number reads a decimal, 0x hexadecimal or leading-zero octal integer.
func (r *Reader) number() (vm.Value, error) {
	at := r.position()
	text := r.token()
	r.skip()
	n, err := parseInteger(text)
	if err != nil {
		return vm.Nil, vm.ErrorAt(at, "%s", err.Error())
	}
	return vm.FromInt(n), nil
}

func parseInteger(text string) (int64, error) {
	digits, negative := text, false
	switch digits[0] {
	case '-':
		digits, negative = digits[1:], true
	case '+':
		digits = digits[1:]
	}
	base := 10
	switch {
	case len(digits) > 2 && (digits[:2] == "0x" || digits[:2] == "0X"):
		digits, base = digits[2:], 16
	case len(digits) > 1 && digits[0] == '0' && isDigit(rune(digits[1])):
		digits, base = digits[1:], 8
	}
	for _, c := range digits {
		if !validDigit(c, base) {
			if _, err := strconv.ParseFloat(text, 64); err == nil && base == 10 && strings.ContainsAny(digits, ".eE") {
				return 0, errors.New(msgFloat)
			}
			return 0, errors.New(msgLexical)
		}
	}
	u, err := strconv.ParseUint(digits, base, 64)
	if err != nil {
		return 0, errors.New(msgRange)
	}
	if negative {
		if u > uint64(-vm.MinInt) {
			return 0, errors.New(msgRange)
		}
		return -int64(u), nil
	}
	if u > uint64(vm.MaxInt) {
		return 0, errors.New(msgRange)
	}
	return int64(u), nil
}

func validDigit(c rune, base int) bool {
	switch base {
	case 8:
		return c >= '0' && c <= '7'
	case 16:
		return isDigit(c) || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
	}
	return isDigit(c)
}

// ---------------------------------------------------------------------------
// List building
// ---------------------------------------------------------------------------

// builder accumulates list elements on the Go side. Its guard forwards them
// across the collections that reading nested elements may trigger.
type builder struct {
	items []vm.Value
	ats   []*vm.Position
	tail  vm.Value
	guard *vm.Root
}

func (r *Reader) newBuilder() *builder {
	b := &builder{tail: vm.Nil}
	b.guard = r.e.Heap().Guard(func(c *vm.Collector) {
		c.ForwardAll(b.items)
		b.tail = c.Forward(b.tail)
	})
	return b
}

func (b *builder) add(v vm.Value, at *vm.Position) {
	b.items = append(b.items, v)
	b.ats = append(b.ats, at)
}

func (b *builder) build(e *vm.Engine) vm.Value {
	list := b.tail
	for i := len(b.items) - 1; i >= 0; i-- {
		list = e.NewPair(b.items[i], list, b.ats[i])
	}
	return list
}

func (b *builder) release() {
	b.guard.Release()
}
