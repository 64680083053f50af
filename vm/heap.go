package vm

import (
	"fmt"

	"github.com/tliron/commonlog"
)

// ---------------------------------------------------------------------------
// Objects
// ---------------------------------------------------------------------------

// Object is anything that lives on the collected heap.
//
// Size reports the object's accounting size in bytes. Scan must replace
// every Value field with c.Forward(field) so that the object's children are
// copied into to-space. Objects may also implement Destructor.
type Object interface {
	Size() int
	Scan(c *Collector)
}

// Destructor is implemented by objects that need to release external state
// when they become unreachable. It runs at most once per object.
type Destructor interface {
	Destruct()
}

const (
	wordSize = 8

	// minObjectSize is the size of a forwarding stub, so every object can
	// be replaced by one in place.
	minObjectSize = 2 * wordSize
)

// ---------------------------------------------------------------------------
// Heap: two-space copying collector
// ---------------------------------------------------------------------------

// slot is one cell of a half-heap. A slot whose obj is nil is a forwarding
// stub: moved holds the object's handle in to-space.
type slot struct {
	obj   Object
	moved Value
	size  int
}

// HeapStats describes the heap after the most recent collection.
type HeapStats struct {
	Capacity    int // bytes per half-heap
	Used        int // bytes allocated in the active half-heap
	Objects     int // objects in the active half-heap
	Collections int
	Expansions  int
	Destructed  int // destructors run so far
}

// Heap is a semispace arena of slots addressed by epoch-stamped handles.
//
// A Go pointer obtained from a handle stays valid across a collection for an
// object that is reachable, because slots hold pointers and the object is
// carried over unchanged. A handle does not stay valid: after a collection it
// must be re-read from a scanned location (root guard, stack, object field).
type Heap struct {
	active   []slot
	spare    []slot
	epoch    uint32
	capacity int
	used     int

	// Debug collects before every allocation.
	Debug bool
	// Verbose logs every collection at Info level.
	Verbose bool

	roots Root // sentinel of the root guard list
	scan  func(c *Collector)
	stats HeapStats
	log   commonlog.Logger
}

// NewHeap creates a heap whose half-heaps start at capacity bytes. The scan
// callback forwards the owner's explicit roots.
func NewHeap(capacity int, scan func(c *Collector)) *Heap {
	if capacity < minObjectSize {
		capacity = minObjectSize
	}
	h := &Heap{
		active:   make([]slot, 0, 64),
		epoch:    1,
		capacity: capacity,
		scan:     scan,
		log:      commonlog.GetLogger("lilis.gc"),
	}
	h.roots.next = &h.roots
	h.roots.prev = &h.roots
	return h
}

// New places obj on the heap and returns its handle. It may collect first,
// in which case obj itself is treated as a root: its fields are forwarded
// before it is stored, so obj may refer to handles obtained just before the
// call.
func (h *Heap) New(obj Object) Value {
	n := obj.Size()
	if n < minObjectSize {
		n = minObjectSize
	}
	if h.Debug || h.used+n > h.capacity {
		h.collect(obj)
		for h.used+n > h.capacity {
			h.capacity *= 2
			h.stats.Expansions++
			h.trace("gc expanding...")
			h.collect(obj)
		}
	}
	index := len(h.active)
	h.active = append(h.active, slot{obj: obj, size: n})
	h.used += n
	return makeRef(h.epoch, index)
}

// Get dereferences a handle. A handle from an earlier epoch or past the end
// of the active half-heap is a bug in the caller and panics.
func (h *Heap) Get(v Value) Object {
	if !v.IsRef() {
		return nil
	}
	if v.epoch() != h.epoch&uint32(epochMask) {
		panic(fmt.Sprintf("vm: stale handle %v (epoch %d)", v, h.epoch))
	}
	i := v.index()
	if i >= len(h.active) || h.active[i].obj == nil {
		panic(fmt.Sprintf("vm: invalid handle %v", v))
	}
	return h.active[i].obj
}

// Collect forces a collection.
func (h *Heap) Collect() {
	h.collect(nil)
}

// Stats returns the current heap statistics.
func (h *Heap) Stats() HeapStats {
	s := h.stats
	s.Capacity = h.capacity
	s.Used = h.used
	s.Objects = len(h.active)
	return s
}

func (h *Heap) collect(pending Object) {
	h.trace("gc collecting...")
	c := &Collector{
		from:      h.active,
		to:        h.spare[:0],
		fromEpoch: h.epoch & uint32(epochMask),
		toEpoch:   (h.epoch + 1) & uint32(epochMask),
		self:      Nil,
	}
	if c.toEpoch == 0 {
		c.toEpoch = 1
	}

	for r := h.roots.next; r != &h.roots; r = r.next {
		if r.scanner != nil {
			r.scanner(c)
		} else {
			r.value = c.Forward(r.value)
		}
	}
	if h.scan != nil {
		h.scan(c)
	}
	if pending != nil {
		pending.Scan(c)
	}
	for i := 0; i < len(c.to); i++ {
		c.self = makeRef(c.toEpoch, i)
		c.to[i].obj.Scan(c)
	}
	c.self = Nil

	// Everything left in from-space was not reached.
	for i := range c.from {
		if obj := c.from[i].obj; obj != nil {
			if d, ok := obj.(Destructor); ok {
				d.Destruct()
				h.stats.Destructed++
			}
		}
	}
	clear(c.from)
	h.spare = c.from[:0]
	h.active = c.to
	h.used = c.used
	h.epoch = c.toEpoch
	h.stats.Collections++
	h.trace(fmt.Sprintf("gc done: %d bytes free", h.capacity-h.used))
}

func (h *Heap) trace(message string) {
	if h.Verbose {
		h.log.Info(message)
	} else {
		h.log.Debug(message)
	}
}

// ---------------------------------------------------------------------------
// Collector
// ---------------------------------------------------------------------------

// Collector is handed to Object.Scan during a collection.
type Collector struct {
	from      []slot
	to        []slot
	fromEpoch uint32
	toEpoch   uint32
	used      int
	self      Value
}

// Forward copies the object behind v into to-space (once) and returns its
// new handle. Non-handles are returned unchanged, and so are handles that
// already point into to-space.
func (c *Collector) Forward(v Value) Value {
	if !v.IsRef() {
		return v
	}
	switch v.epoch() {
	case c.toEpoch:
		return v
	case c.fromEpoch:
	default:
		panic(fmt.Sprintf("vm: stale handle %v reached the collector", v))
	}
	s := &c.from[v.index()]
	if s.obj == nil {
		return s.moved
	}
	moved := makeRef(c.toEpoch, len(c.to))
	c.to = append(c.to, slot{obj: s.obj, size: s.size})
	c.used += s.size
	s.obj = nil
	s.moved = moved
	return moved
}

// ForwardAll forwards every element of vs in place.
func (c *Collector) ForwardAll(vs []Value) {
	for i, v := range vs {
		vs[i] = c.Forward(v)
	}
}

// Self is the to-space handle of the object being scanned, or Nil while
// roots are being forwarded.
func (c *Collector) Self() Value {
	return c.self
}
