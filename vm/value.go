package vm

import "fmt"

// Value is a tagged 64-bit word. It is either the empty value Nil, a fixnum
// integer, a handle to a heap object, or a static (non-moving) object such
// as a native callable or a special form.
//
// Encoding scheme (two tag bits at the top of the word):
//   - 00: Nil (the whole word is zero)
//   - 01: fixnum, 62-bit signed payload
//   - 10: heap handle, 30-bit collection epoch + 32-bit slot index
//   - 11: static, index into the engine's static table
type Value uint64

const (
	tagShift uint64 = 62
	tagMask  uint64 = 3 << tagShift

	tagNil    uint64 = 0 << tagShift
	tagInt    uint64 = 1 << tagShift
	tagRef    uint64 = 2 << tagShift
	tagStatic uint64 = 3 << tagShift

	payloadMask uint64 = 1<<tagShift - 1

	epochShift uint64 = 32
	epochMask  uint64 = 1<<30 - 1
	indexMask  uint64 = 1<<32 - 1
)

// Nil is the empty value: the empty list, false, and the value of a slot
// that was never assigned.
const Nil Value = 0

// True is the canonical true value returned by predicates.
const True Value = Value(tagStatic | 0)

// Fixnum range (62-bit signed).
const (
	MaxInt int64 = 1<<61 - 1
	MinInt int64 = -(1 << 61)
)

// ---------------------------------------------------------------------------
// Type checking
// ---------------------------------------------------------------------------

// IsNil returns true for the empty value.
func (v Value) IsNil() bool { return v == Nil }

// IsInt returns true if v is a fixnum.
func (v Value) IsInt() bool { return uint64(v)&tagMask == tagInt }

// IsRef returns true if v is a handle to a heap object.
func (v Value) IsRef() bool { return uint64(v)&tagMask == tagRef }

// IsStatic returns true if v names a static object.
func (v Value) IsStatic() bool { return uint64(v)&tagMask == tagStatic }

// Truthy returns false only for Nil.
func (v Value) Truthy() bool { return v != Nil }

// ---------------------------------------------------------------------------
// Constructors and accessors
// ---------------------------------------------------------------------------

// FromInt creates a fixnum value. The payload is truncated to 62 bits.
func FromInt(n int64) Value {
	return Value(tagInt | uint64(n)&payloadMask)
}

// FromBool returns True or Nil.
func FromBool(b bool) Value {
	if b {
		return True
	}
	return Nil
}

// Int extracts the fixnum payload. Panics if v is not a fixnum.
func (v Value) Int() int64 {
	if !v.IsInt() {
		panic("vm: value is not an integer")
	}
	return int64(uint64(v)<<2) >> 2
}

func makeRef(epoch uint32, index int) Value {
	return Value(tagRef | (uint64(epoch)&epochMask)<<epochShift | uint64(index)&indexMask)
}

func (v Value) epoch() uint32 { return uint32(uint64(v) >> epochShift & epochMask) }

func (v Value) index() int { return int(uint64(v) & indexMask) }

func makeStatic(index int) Value { return Value(tagStatic | uint64(index)&payloadMask) }

func (v Value) staticIndex() int { return int(uint64(v) & payloadMask) }

// String renders the raw encoding; use (*Engine).Format for the printed form.
func (v Value) String() string {
	switch {
	case v == Nil:
		return "()"
	case v == True:
		return "#t"
	case v.IsInt():
		return fmt.Sprintf("%d", v.Int())
	case v.IsRef():
		return fmt.Sprintf("#<ref %d@%d>", v.index(), v.epoch())
	default:
		return fmt.Sprintf("#<static %d>", v.staticIndex())
	}
}
