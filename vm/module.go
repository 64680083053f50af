package vm

import (
	"fmt"
	"os"
	"path/filepath"
)

// ---------------------------------------------------------------------------
// Modules
// ---------------------------------------------------------------------------

// Module is a namespace of exported bindings: symbol -> value, or
// symbol -> *Variable for exported mutable bindings.
type Module struct {
	Name     string
	Path     string
	Bindings map[Value]Value
	// Interactive modules are imported by their own top-level units.
	Interactive bool

	memo map[string]Value // weak memo entry owner, nil if not memoized
	self Value
}

func (m *Module) Size() int { return 6 * wordSize }

func (m *Module) Scan(c *Collector) {
	if self := c.Self(); self != Nil {
		m.self = self
		if m.memo != nil {
			m.memo[m.Path] = self
		}
	}
	bindings := make(map[Value]Value, len(m.Bindings))
	for k, v := range m.Bindings {
		bindings[c.Forward(k)] = c.Forward(v)
	}
	m.Bindings = bindings
}

func (m *Module) Destruct() {
	if m.memo != nil {
		delete(m.memo, m.Path)
	}
}

// NewModule allocates an empty module. path is the file the module was
// loaded from; imports resolve relative to its directory.
func (e *Engine) NewModule(name, path string) Value {
	m := &Module{Name: name, Path: path, Bindings: make(map[Value]Value)}
	v := e.heap.New(m)
	m.self = v
	return v
}

// ModuleOf returns the Module behind a handle.
func (e *Engine) ModuleOf(v Value) (*Module, bool) {
	m, ok := e.object(v).(*Module)
	return m, ok
}

// Register binds name to v in module.
func (e *Engine) Register(module Value, name string, v Value) {
	r := e.heap.Pin(module)
	defer r.Release()
	vr := e.heap.Pin(v)
	defer vr.Release()
	sym := e.Intern(name)
	m := e.heap.Get(r.Get()).(*Module)
	m.Bindings[sym] = vr.Get()
}

// Lookup returns the binding of name in module.
func (e *Engine) Lookup(module Value, name string) (Value, bool) {
	m, ok := e.ModuleOf(module)
	if !ok {
		return Nil, false
	}
	sym, ok := e.symbols.Lookup(name)
	if !ok {
		return Nil, false
	}
	v, ok := m.Bindings[sym]
	return v, ok
}

// ---------------------------------------------------------------------------
// Import
// ---------------------------------------------------------------------------

// findModule locates name.lisp in dir, then in each configured module path.
func (e *Engine) findModule(dir, name string) (string, error) {
	candidates := []string{filepath.Join(dir, name+".lisp")}
	for _, p := range e.modulePaths {
		candidates = append(candidates, filepath.Join(p, name+".lisp"))
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			abs, err := filepath.Abs(path)
			if err != nil {
				return "", fmt.Errorf("cannot resolve path %s: %w", path, err)
			}
			return abs, nil
		}
	}
	return "", Errorf("module not found: %s", name)
}

// LoadModule returns the module for (import name) issued from a module
// located in dir. Modules are memoized by absolute path for as long as they
// stay reachable.
func (e *Engine) LoadModule(dir, name string) (Value, error) {
	path, err := e.findModule(dir, name)
	if err != nil {
		return Nil, err
	}
	if v, ok := e.modules[path]; ok {
		e.modlog.Debugf("module %s: memo hit", path)
		return v, nil
	}
	if e.reader == nil {
		return Nil, Errorf("no reader installed")
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return Nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	e.modlog.Infof("loading module %s from %s", name, path)

	forms, err := e.reader(e, path, string(src))
	if err != nil {
		return Nil, err
	}
	fr := e.heap.Pin(forms)
	defer fr.Release()

	mv := e.NewModule(name, path)
	m := e.heap.Get(mv).(*Module)
	m.memo = e.modules
	e.modules[path] = mv
	mr := e.heap.Pin(mv)
	defer mr.Release()

	if _, err := e.RunModule(mv, fr.Get()); err != nil {
		delete(e.modules, path)
		e.heap.Get(mr.Get()).(*Module).memo = nil
		e.modlog.Errorf("module %s failed: %s", name, err)
		return Nil, err
	}
	return mr.Get(), nil
}

// RunModule compiles forms as a top-level unit of module and runs it.
func (e *Engine) RunModule(module, forms Value) (Value, error) {
	code, err := e.CompileModule(module, forms)
	if err != nil {
		return Nil, err
	}
	return e.Run(code, Nil)
}

// CompileModule compiles forms as a top-level unit of module. The unit
// imports the global module first, so builtins resolve unless shadowed.
func (e *Engine) CompileModule(module, forms Value) (Value, error) {
	fr := e.heap.Pin(forms)
	defer fr.Release()
	code, cv := e.allocCode(Nil, module)
	cr := e.heap.Pin(cv)
	defer cr.Release()
	code.Imports = append(code.Imports, e.global)
	if m, ok := e.ModuleOf(code.Module); ok && m.Interactive {
		code.Imports = append(code.Imports, code.Module)
	}
	if err := e.compiler.compileUnit(code, fr.Get()); err != nil {
		return Nil, err
	}
	return cr.Get(), nil
}
