package vm

import (
	"errors"
	"fmt"
	"io"
	"strings"
)

// ---------------------------------------------------------------------------
// Source positions
// ---------------------------------------------------------------------------

// Position is a location in a source file. Line and Column are 1-based;
// LineOffset is the byte offset of the start of the line.
type Position struct {
	Path       string
	Line       int
	Column     int
	LineOffset int
}

func (p Position) String() string {
	return fmt.Sprintf("%s:%d:%d", p.Path, p.Line, p.Column)
}

// ---------------------------------------------------------------------------
// Error: the single error type of the runtime
// ---------------------------------------------------------------------------

// Error is a lexical, compile or runtime error. Backtrace lists source
// locations innermost first; enclosing contexts append as the error unwinds.
type Error struct {
	Message   string
	Backtrace []Position
}

func (e *Error) Error() string {
	if len(e.Backtrace) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Backtrace[0], e.Message)
}

// Errorf creates an Error with no location.
func Errorf(format string, args ...any) *Error {
	return &Error{Message: fmt.Sprintf(format, args...)}
}

// ErrorAt creates an Error located at p (which may be nil).
func ErrorAt(p *Position, format string, args ...any) *Error {
	e := Errorf(format, args...)
	if p != nil {
		e.Backtrace = append(e.Backtrace, *p)
	}
	return e
}

// asError converts any error into an *Error, keeping an existing one.
func asError(err error) *Error {
	var le *Error
	if errors.As(err, &le) {
		return le
	}
	return &Error{Message: err.Error()}
}

// traceAt appends p to the backtrace of err and returns it.
func traceAt(err error, p *Position) error {
	le := asError(err)
	if p != nil {
		if n := len(le.Backtrace); n == 0 || le.Backtrace[n-1] != *p {
			le.Backtrace = append(le.Backtrace, *p)
		}
	}
	return le
}

// SourceFunc returns the text of a source file by path, or false.
type SourceFunc func(path string) (string, bool)

// Dump prints the message followed by each backtrace entry with its source
// line and a caret under the column. Whitespace before the column is echoed
// so tabs line up.
func (e *Error) Dump(w io.Writer, source SourceFunc) {
	fmt.Fprintln(w, e.Message)
	for _, p := range e.Backtrace {
		fmt.Fprintf(w, "at %s\n", p)
		if source == nil {
			continue
		}
		text, ok := source(p.Path)
		if !ok || p.LineOffset > len(text) {
			continue
		}
		line := text[p.LineOffset:]
		if i := strings.IndexByte(line, '\n'); i >= 0 {
			line = line[:i]
		}
		fmt.Fprintln(w, line)
		var caret strings.Builder
		col := 1
		for _, r := range line {
			if col >= p.Column {
				break
			}
			if r == '\t' || r == ' ' {
				caret.WriteRune(r)
			} else {
				caret.WriteByte(' ')
			}
			col++
		}
		caret.WriteByte('^')
		fmt.Fprintln(w, caret.String())
	}
}
