package vm

// ---------------------------------------------------------------------------
// Root guards
// ---------------------------------------------------------------------------

// Root keeps a value reachable while Go code holds it across allocations.
// Roots form an intrusive doubly linked list owned by the heap; Release
// unlinks in constant time, so guards are meant to be scoped with defer:
//
//	r := e.Pin(v)
//	defer r.Release()
type Root struct {
	value   Value
	scanner func(c *Collector)
	prev    *Root
	next    *Root
}

// Pin registers v as a root and returns its guard.
func (h *Heap) Pin(v Value) *Root {
	r := &Root{value: v}
	h.link(r)
	return r
}

// Guard registers a scan callback as a root. The callback forwards whatever
// Go-side state it owns.
func (h *Heap) Guard(scan func(c *Collector)) *Root {
	r := &Root{scanner: scan}
	h.link(r)
	return r
}

func (h *Heap) link(r *Root) {
	r.prev = h.roots.prev
	r.next = &h.roots
	h.roots.prev.next = r
	h.roots.prev = r
}

// Get returns the current handle of the guarded value.
func (r *Root) Get() Value {
	return r.value
}

// Set replaces the guarded value.
func (r *Root) Set(v Value) {
	r.value = v
}

// Release unlinks the guard. Releasing twice is a no-op.
func (r *Root) Release() {
	if r.next == nil {
		return
	}
	r.prev.next = r.next
	r.next.prev = r.prev
	r.prev = nil
	r.next = nil
}
