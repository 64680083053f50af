package vm

import (
	"fmt"
	"strconv"
	"strings"
)

// Format renders v the way the REPL echoes it: strings are quoted.
func (e *Engine) Format(v Value) string {
	var sb strings.Builder
	e.write(&sb, v, true, 0)
	return sb.String()
}

// Display renders v the way print writes it: strings are raw.
func (e *Engine) Display(v Value) string {
	var sb strings.Builder
	e.write(&sb, v, false, 0)
	return sb.String()
}

// maxPrintDepth bounds printing of cyclic structure built with set!.
const maxPrintDepth = 256

func (e *Engine) write(sb *strings.Builder, v Value, quoted bool, depth int) {
	if depth > maxPrintDepth {
		sb.WriteString("...")
		return
	}
	switch {
	case v == Nil:
		sb.WriteString("()")
		return
	case v == True:
		sb.WriteString("#t")
		return
	case v.IsInt():
		sb.WriteString(strconv.FormatInt(v.Int(), 10))
		return
	}
	switch o := e.object(v).(type) {
	case *Pair:
		sb.WriteByte('(')
		e.write(sb, o.Head, quoted, depth+1)
		tail := o.Tail
		for n := 0; tail != Nil; n++ {
			p, ok := e.PairOf(tail)
			if !ok {
				sb.WriteString(" . ")
				e.write(sb, tail, quoted, depth+1)
				break
			}
			if n > maxPrintDepth {
				sb.WriteString(" ...")
				break
			}
			sb.WriteByte(' ')
			e.write(sb, p.Head, quoted, depth+1)
			tail = p.Tail
		}
		sb.WriteByte(')')
	case *Symbol:
		sb.WriteString(o.Name)
	case *String:
		if quoted {
			writeQuoted(sb, o.Text)
		} else {
			sb.WriteString(o.Text)
		}
	case *Quote:
		sb.WriteString(quotePrefix[o.Kind])
		e.write(sb, o.Value, quoted, depth+1)
	case *Closure:
		sb.WriteString("#<lambda>")
	case *Continuation:
		sb.WriteString("#<continuation>")
	case *Code:
		sb.WriteString("#<code>")
	case *Scope:
		sb.WriteString("#<scope>")
	case *Module:
		fmt.Fprintf(sb, "#<module %s>", o.Name)
	case *Variable:
		sb.WriteString("#<variable>")
	case *Local:
		sb.WriteString("#<local>")
	case *Macro:
		sb.WriteString("#<macro>")
	case *ErrorValue:
		sb.WriteString("#<error ")
		writeQuoted(sb, o.Message)
		sb.WriteByte('>')
	case *Primitive:
		fmt.Fprintf(sb, "#<primitive %s>", o.Name)
	case *form:
		fmt.Fprintf(sb, "#<form %s>", o.name)
	case Callable:
		sb.WriteString("#<native>")
	case nil:
		sb.WriteString(v.String())
	default:
		fmt.Fprintf(sb, "#<%T>", o)
	}
}

// stringEscapes are the escapes the reader accepts inside string literals.
var stringEscapes = map[rune]string{
	'"':  `\"`,
	'\\': `\\`,
	0:    `\0`,
	'\a': `\a`,
	'\b': `\b`,
	'\f': `\f`,
	'\n': `\n`,
	'\r': `\r`,
	'\t': `\t`,
	'\v': `\v`,
}

// writeQuoted writes text as a string literal the reader reads back.
func writeQuoted(sb *strings.Builder, text string) {
	sb.WriteByte('"')
	for _, r := range text {
		if esc, ok := stringEscapes[r]; ok {
			sb.WriteString(esc)
		} else {
			sb.WriteRune(r)
		}
	}
	sb.WriteByte('"')
}
