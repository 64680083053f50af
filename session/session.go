// Package session drives an engine for the command line: it runs script
// files, evaluates REPL input against one persistent module, and keeps the
// source text needed to print errors with a caret.
package session

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tliron/commonlog"

	"github.com/lilis-lang/lilis/config"
	"github.com/lilis-lang/lilis/reader"
	"github.com/lilis-lang/lilis/vm"
)

// Session owns one engine. It is not safe for concurrent use.
type Session struct {
	engine  *vm.Engine
	sources map[string]string
	repl    *vm.Root // interactive module, created on first Eval
	inputs  int
	log     commonlog.Logger
}

// New creates a session whose engine is configured by cfg and prints to
// stdout. A nil cfg means the defaults.
func New(cfg *config.Config, stdout io.Writer) *Session {
	if cfg == nil {
		cfg = config.Default()
	}
	opts := cfg.Options(stdout)
	opts.Reader = reader.Read
	return &Session{
		engine:  vm.NewEngine(opts),
		sources: make(map[string]string),
		log:     commonlog.GetLogger("lilis.driver"),
	}
}

// Engine returns the session's engine.
func (s *Session) Engine() *vm.Engine {
	return s.engine
}

// Close releases the interactive module.
func (s *Session) Close() {
	if s.repl != nil {
		s.repl.Release()
		s.repl = nil
	}
}

// Source returns the text of a file the session has seen. Imported modules
// are read from disk on demand. Its signature matches vm.SourceFunc.
func (s *Session) Source(path string) (string, bool) {
	if src, ok := s.sources[path]; ok {
		return src, true
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	s.sources[path] = string(data)
	return string(data), true
}

// ---------------------------------------------------------------------------
// Scripts
// ---------------------------------------------------------------------------

// RunFile runs the file at path as the main module.
func (s *Session) RunFile(path string) (vm.Value, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return vm.Nil, fmt.Errorf("cannot resolve path %s: %w", path, err)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return vm.Nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	return s.RunString(abs, string(data))
}

// RunString runs src as the main module loaded from path.
func (s *Session) RunString(path, src string) (vm.Value, error) {
	code, err := s.Compile(path, src)
	if err != nil {
		return vm.Nil, err
	}
	defer code.Release()
	s.log.Debugf("running %s", path)
	return s.engine.Run(code.Get(), vm.Nil)
}

// Compile compiles src as the top-level unit of a fresh module loaded from
// path. The caller releases the returned root.
func (s *Session) Compile(path, src string) (*vm.Root, error) {
	s.sources[path] = src
	e := s.engine
	forms, err := reader.Read(e, path, src)
	if err != nil {
		return nil, err
	}
	fr := e.Pin(forms)
	defer fr.Release()
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	mr := e.Pin(e.NewModule(name, path))
	defer mr.Release()
	code, err := e.CompileModule(mr.Get(), fr.Get())
	if err != nil {
		return nil, err
	}
	return e.Pin(code), nil
}

// ---------------------------------------------------------------------------
// Interactive evaluation
// ---------------------------------------------------------------------------

// Complete reports whether src holds only whole forms. Input that fails to
// read for any other reason than ending early counts as complete, so that
// evaluating it reports the error.
func (s *Session) Complete(src string) bool {
	_, err := reader.Read(s.engine, "<input>", src)
	return !reader.Incomplete(err)
}

// Eval reads and runs one REPL input. Top-level define, set! and
// define-macro in it are exported, so later inputs see them.
func (s *Session) Eval(src string) (vm.Value, error) {
	e := s.engine
	if s.repl == nil {
		s.repl = e.Pin(e.NewInteractiveModule("repl"))
	}
	s.inputs++
	path := fmt.Sprintf("<repl:%d>", s.inputs)
	s.sources[path] = src

	forms, err := reader.Read(e, path, src)
	if err != nil {
		return vm.Nil, err
	}
	return e.RunModule(s.repl.Get(), forms)
}

// ---------------------------------------------------------------------------
// Reporting
// ---------------------------------------------------------------------------

// Report prints err to w. Engine errors are dumped with each backtrace
// entry's source line and a caret under its column.
func (s *Session) Report(w io.Writer, err error) {
	var le *vm.Error
	if errors.As(err, &le) {
		le.Dump(w, s.Source)
		return
	}
	fmt.Fprintln(w, err)
}
