package vm

// ---------------------------------------------------------------------------
// SymbolTable: weakly interned symbols
// ---------------------------------------------------------------------------

// SymbolTable interns symbol names to unique heap symbols.
//
// The table does not keep its symbols alive. A symbol that survives a
// collection rewrites its own entry with its new handle while it is
// scanned; a symbol that is not reached is destructed and drops its entry.
type SymbolTable struct {
	byName map[string]Value
}

// NewSymbolTable creates a new empty symbol table.
func NewSymbolTable() *SymbolTable {
	return &SymbolTable{byName: make(map[string]Value)}
}

// Lookup returns the symbol for name, or Nil and false if it is not interned.
func (st *SymbolTable) Lookup(name string) (Value, bool) {
	v, ok := st.byName[name]
	return v, ok
}

// Len returns the number of interned symbols.
func (st *SymbolTable) Len() int {
	return len(st.byName)
}

// Symbol is an identifier. Interned symbols are unique per name; symbols
// made by gensym have no table and are unique per allocation.
type Symbol struct {
	Name  string
	table *SymbolTable
}

func (s *Symbol) Size() int { return 2*wordSize + len(s.Name) }

func (s *Symbol) Scan(c *Collector) {
	if s.table != nil && c.Self() != Nil {
		s.table.byName[s.Name] = c.Self()
	}
}

func (s *Symbol) Destruct() {
	if s.table != nil {
		delete(s.table.byName, s.Name)
	}
}

// Intern returns the unique symbol named name, creating it if needed.
func (e *Engine) Intern(name string) Value {
	if v, ok := e.symbols.byName[name]; ok {
		return v
	}
	v := e.heap.New(&Symbol{Name: name, table: e.symbols})
	e.symbols.byName[name] = v
	return v
}

// SymbolName returns the name of a symbol value.
func (e *Engine) SymbolName(v Value) (string, bool) {
	if s, ok := e.heap.Get(v).(*Symbol); ok {
		return s.Name, true
	}
	return "", false
}
