package vm

import (
	"math"
	"strconv"
	"unsafe"
)

// Value represents a Briar value using NaN-boxing.
//
// All values are represented as 64-bit IEEE 754 doubles. Non-number values
// are encoded in the NaN (Not-a-Number) space using the quiet NaN prefix
// and tag bits to distinguish types.
//
// Encoding scheme:
//   - Number: Native IEEE 754 double (if not a tagged NaN, it's a number)
//   - Object: Quiet NaN + tagObject + 48-bit pointer into the heap
//   - Special: Quiet NaN + tagSpecial + special value ID (nil/true/false)
type Value uint64

// NaN-boxing constants
const (
	// Quiet NaN prefix: exponent all 1s, quiet bit set, sign bit 0
	// 0x7FF8_0000_0000_0000
	nanBits uint64 = 0x7FF8000000000000

	// Tag mask: 3 bits within the NaN mantissa space
	tagMask uint64 = 0x0007000000000000

	// Payload mask: 48 bits for pointer/id
	payloadMask uint64 = 0x0000FFFFFFFFFFFF

	// Tag values (shifted into position)
	tagObject  uint64 = 0x0001000000000000 // heap object pointer
	tagSpecial uint64 = 0x0003000000000000 // nil, true, false
)

// Special value payloads
const (
	specialNil   uint64 = 0
	specialTrue  uint64 = 1
	specialFalse uint64 = 2
)

// Pre-defined special values
const (
	Nil   Value = Value(nanBits | tagSpecial | specialNil)
	True  Value = Value(nanBits | tagSpecial | specialTrue)
	False Value = Value(nanBits | tagSpecial | specialFalse)
)

// ---------------------------------------------------------------------------
// Type checking
// ---------------------------------------------------------------------------

// IsNumber returns true if v represents a float64 number.
// A value is a number if it's not one of our tagged NaN values.
// This includes regular numbers, infinities, and "real" NaN values.
func (v Value) IsNumber() bool {
	bits := uint64(v)

	// Exponent not all 1s: a regular float.
	if (bits & 0x7FF0000000000000) != 0x7FF0000000000000 {
		return true
	}

	// Exponent all 1s with zero mantissa: +Inf or -Inf.
	if (bits & 0x000FFFFFFFFFFFFF) == 0 {
		return true
	}

	// A NaN. Signaling NaNs and untagged quiet NaNs are still numbers.
	if (bits & nanBits) != nanBits {
		return true
	}
	if (bits & tagMask) == 0 {
		return true
	}

	// One of our tagged non-number values.
	return false
}

// IsObject returns true if v represents a heap object pointer.
func (v Value) IsObject() bool {
	return (uint64(v) & (nanBits | tagMask)) == (nanBits | tagObject)
}

// IsNil returns true if v is the nil value.
func (v Value) IsNil() bool {
	return v == Nil
}

// IsBool returns true if v is true or false.
func (v Value) IsBool() bool {
	return v == True || v == False
}

// ---------------------------------------------------------------------------
// Number operations
// ---------------------------------------------------------------------------

// Number returns v as a float64.
// Panics if v is not a number.
func (v Value) Number() float64 {
	if !v.IsNumber() {
		panic("Value.Number: not a number")
	}
	return math.Float64frombits(uint64(v))
}

// FromNumber creates a Value from a float64.
func FromNumber(f float64) Value {
	return Value(math.Float64bits(f))
}

// ---------------------------------------------------------------------------
// Boolean operations
// ---------------------------------------------------------------------------

// Bool returns v as a bool.
// Panics if v is not true or false.
func (v Value) Bool() bool {
	switch v {
	case True:
		return true
	case False:
		return false
	default:
		panic("Value.Bool: not a boolean")
	}
}

// FromBool creates a Value from a bool.
func FromBool(b bool) Value {
	if b {
		return True
	}
	return False
}

// ---------------------------------------------------------------------------
// Object pointer operations
// ---------------------------------------------------------------------------

// object returns the header of the heap object encoded in v.
// Panics if v is not an object.
func (v Value) object() *header {
	if !v.IsObject() {
		panic("Value.object: not an object")
	}
	ptr := uintptr(uint64(v) & payloadMask)
	return (*header)(unsafe.Pointer(ptr))
}

// fromObject creates a Value from a heap object header.
// The pointer must fit in 48 bits (true for all current architectures).
func fromObject(h *header) Value {
	return Value(nanBits | tagObject | uint64(uintptr(unsafe.Pointer(h))))
}

// Kind returns the object kind encoded in v, or KindNone for non-objects.
func (v Value) Kind() Kind {
	if !v.IsObject() {
		return KindNone
	}
	return v.object().kind
}

// ---------------------------------------------------------------------------
// Truthiness and equality
// ---------------------------------------------------------------------------

// IsTruthy returns true if v is considered "truthy" in conditionals.
// Only nil and false are falsy; everything else is truthy, including
// 0 and the empty string.
func (v Value) IsTruthy() bool {
	return v != False && v != Nil
}

// Equal reports value equality between a and b.
//
// Numbers compare numerically (so 0 and -0 are equal and NaN is unequal to
// itself). Everything else compares by bit pattern: nil/true/false are
// singletons, and object values compare by pointer identity, which is
// sufficient for strings because they are interned, and deliberate for all
// other object kinds.
func Equal(a, b Value) bool {
	if a.IsNumber() && b.IsNumber() {
		return a.Number() == b.Number()
	}
	return a == b
}

// ---------------------------------------------------------------------------
// Rendering
// ---------------------------------------------------------------------------

// Render returns the canonical user-visible rendering of v, as produced by
// the PRINT instruction. Strings render as their bytes without quotes.
func (v Value) Render() string {
	switch {
	case v == Nil:
		return "nil"
	case v == True:
		return "true"
	case v == False:
		return "false"
	case v.IsNumber():
		return strconv.FormatFloat(v.Number(), 'g', -1, 64)
	}

	h := v.object()
	switch h.kind {
	case KindString:
		return asString(h).S
	case KindFunction:
		return "<fn " + asFunction(h).Name + ">"
	case KindClosure:
		return "<fn " + asClosure(h).Function.Name + ">"
	case KindUpvalue:
		return "<upvalue>"
	case KindNative:
		return "<native fn " + asNative(h).Name + ">"
	case KindClass:
		return "<class " + asClass(h).Name.S + ">"
	case KindInstance:
		return "<instance of <class " + asInstance(h).Class.Name.S + ">>"
	case KindBoundMethod:
		bm := asBoundMethod(h)
		return "<bound method <fn " + bm.Method.Function.Name + "> of " +
			bm.Receiver.ToValue().Render() + ">"
	default:
		panic("Value.Render: unknown object kind")
	}
}

// String implements the Stringer interface.
func (v Value) String() string {
	return v.Render()
}
