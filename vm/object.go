package vm

import (
	"unsafe"
)

// ---------------------------------------------------------------------------
// Heap objects
// ---------------------------------------------------------------------------

// Kind identifies the concrete type of a heap object.
type Kind byte

const (
	KindNone Kind = iota
	KindString
	KindFunction
	KindClosure
	KindUpvalue
	KindNative
	KindClass
	KindInstance
	KindBoundMethod
)

var kindNames = [...]string{
	KindNone:        "none",
	KindString:      "string",
	KindFunction:    "function",
	KindClosure:     "closure",
	KindUpvalue:     "upvalue",
	KindNative:      "native",
	KindClass:       "class",
	KindInstance:    "instance",
	KindBoundMethod: "bound method",
}

// String implements the Stringer interface.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// header is the common prefix of every heap object. It must be the first
// field of every object struct so that a *header and a pointer to the
// containing object share the same address.
//
// The next pointer threads all objects on the heap's intrusive list; the
// list is the only strong reference the collector holds. An object whose
// header is unlinked during the sweep becomes unreachable and is reclaimed
// by the Go runtime.
type header struct {
	kind   Kind
	marked bool
	size   int // accounted bytes, set at allocation
	next   *header
}

// headerOf returns the embedded header of an object struct.
func headerOf[T any](obj *T) *header {
	return (*header)(unsafe.Pointer(obj))
}

// StringObject is an immutable interned string.
type StringObject struct {
	header
	S string
}

// UpvalueDesc describes one captured variable of a function, produced by
// the compiler and serialized inline after the CLOSURE opcode.
type UpvalueDesc struct {
	// Index into the enclosing function's locals (IsLocal) or into the
	// enclosing closure's upvalues (!IsLocal).
	Index byte
	// IsLocal indicates the variable is a local of the immediately
	// enclosing function rather than one captured further up.
	IsLocal bool
}

// FunctionObject is a compiled function: its name, arity, upvalue
// descriptors, and the chunk holding its bytecode.
type FunctionObject struct {
	header
	Name     string
	Arity    int
	Upvalues []UpvalueDesc
	Chunk    Chunk
}

// UpvalueObject is the indirection cell for a variable captured by one or
// more closures. While open it addresses a live slot on the VM's value
// stack; when the slot leaves the stack the upvalue closes over the value
// and owns it.
type UpvalueObject struct {
	header
	// Slot is the absolute value-stack index of the captured variable, or
	// -1 once the upvalue has been closed.
	Slot int
	// Closed holds the value after closing.
	Closed Value
}

// IsOpen returns true while the upvalue still addresses the value stack.
func (u *UpvalueObject) IsOpen() bool {
	return u.Slot >= 0
}

// ClosureObject pairs a function with the upvalues it captured. The
// upvalue list is positional: entry i corresponds to descriptor i of the
// function.
type ClosureObject struct {
	header
	Function *FunctionObject
	Upvalues []*UpvalueObject
}

// NativeFn is the calling convention for host-registered functions. args
// aliases the VM's value stack: it may be read during the call but must
// not be retained past return. A non-nil error aborts the VM with a
// runtime error carrying the error's message.
type NativeFn func(args []Value) (Value, error)

// NativeObject is a host-provided built-in function.
type NativeObject struct {
	header
	Name  string
	Arity int
	Fn    NativeFn
}

// ClassObject is a class: its name and method table. Methods are keyed by
// name content; the values are the method closures installed by
// DEFINE_METHOD.
type ClassObject struct {
	header
	Name    *StringObject
	Methods map[string]*ClosureObject
}

// InstanceObject is an instance of a class with its field table. Fields
// are created on first assignment.
type InstanceObject struct {
	header
	Class  *ClassObject
	Fields map[string]Value
}

// BoundMethodObject pairs a receiver instance with a method closure,
// materialized when a property get resolves to a method.
type BoundMethodObject struct {
	header
	Receiver *InstanceObject
	Method   *ClosureObject
}

// ---------------------------------------------------------------------------
// Value conversions
// ---------------------------------------------------------------------------

// ToValue converts a string object to a NaN-boxed Value.
func (o *StringObject) ToValue() Value { return fromObject(headerOf(o)) }

// ToValue converts a function object to a NaN-boxed Value.
func (o *FunctionObject) ToValue() Value { return fromObject(headerOf(o)) }

// ToValue converts an upvalue object to a NaN-boxed Value.
func (o *UpvalueObject) ToValue() Value { return fromObject(headerOf(o)) }

// ToValue converts a closure object to a NaN-boxed Value.
func (o *ClosureObject) ToValue() Value { return fromObject(headerOf(o)) }

// ToValue converts a native object to a NaN-boxed Value.
func (o *NativeObject) ToValue() Value { return fromObject(headerOf(o)) }

// ToValue converts a class object to a NaN-boxed Value.
func (o *ClassObject) ToValue() Value { return fromObject(headerOf(o)) }

// ToValue converts an instance object to a NaN-boxed Value.
func (o *InstanceObject) ToValue() Value { return fromObject(headerOf(o)) }

// ToValue converts a bound method object to a NaN-boxed Value.
func (o *BoundMethodObject) ToValue() Value { return fromObject(headerOf(o)) }

// Unchecked downcasts from a header. Callers must have checked the kind.
func asString(h *header) *StringObject { return (*StringObject)(unsafe.Pointer(h)) }

func asFunction(h *header) *FunctionObject { return (*FunctionObject)(unsafe.Pointer(h)) }

func asUpvalue(h *header) *UpvalueObject { return (*UpvalueObject)(unsafe.Pointer(h)) }

func asClosure(h *header) *ClosureObject { return (*ClosureObject)(unsafe.Pointer(h)) }

func asNative(h *header) *NativeObject { return (*NativeObject)(unsafe.Pointer(h)) }

func asClass(h *header) *ClassObject { return (*ClassObject)(unsafe.Pointer(h)) }

func asInstance(h *header) *InstanceObject { return (*InstanceObject)(unsafe.Pointer(h)) }

func asBoundMethod(h *header) *BoundMethodObject { return (*BoundMethodObject)(unsafe.Pointer(h)) }

// AsString extracts a string object from a Value.
// Returns nil and false if the value is not a string.
func AsString(v Value) (*StringObject, bool) {
	if v.Kind() != KindString {
		return nil, false
	}
	return asString(v.object()), true
}

// AsFunction extracts a function object from a Value.
// Returns nil and false if the value is not a function.
func AsFunction(v Value) (*FunctionObject, bool) {
	if v.Kind() != KindFunction {
		return nil, false
	}
	return asFunction(v.object()), true
}

// AsClosure extracts a closure object from a Value.
// Returns nil and false if the value is not a closure.
func AsClosure(v Value) (*ClosureObject, bool) {
	if v.Kind() != KindClosure {
		return nil, false
	}
	return asClosure(v.object()), true
}

// AsNative extracts a native object from a Value.
// Returns nil and false if the value is not a native function.
func AsNative(v Value) (*NativeObject, bool) {
	if v.Kind() != KindNative {
		return nil, false
	}
	return asNative(v.object()), true
}

// AsClass extracts a class object from a Value.
// Returns nil and false if the value is not a class.
func AsClass(v Value) (*ClassObject, bool) {
	if v.Kind() != KindClass {
		return nil, false
	}
	return asClass(v.object()), true
}

// AsInstance extracts an instance object from a Value.
// Returns nil and false if the value is not an instance.
func AsInstance(v Value) (*InstanceObject, bool) {
	if v.Kind() != KindInstance {
		return nil, false
	}
	return asInstance(v.object()), true
}

// AsBoundMethod extracts a bound method object from a Value.
// Returns nil and false if the value is not a bound method.
func AsBoundMethod(v Value) (*BoundMethodObject, bool) {
	if v.Kind() != KindBoundMethod {
		return nil, false
	}
	return asBoundMethod(v.object()), true
}
